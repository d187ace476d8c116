package server

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/tomz197/pong/internal/pong"
	"github.com/tomz197/pong/internal/rating"
)

var (
	errShuttingDown      = eris.New(MsgShuttingDown)
	errUnknownConnection = eris.New(MsgUnknownConnection)
	errNameRequired      = eris.New("Player name is required")
	errMalformedSession  = eris.New("session is missing player data")
)

type endReason string

const (
	reasonScore    endReason = "score"
	reasonForfeit  endReason = "forfeit"
	reasonShutdown endReason = "shutdown"
)

// end marks the session as finished and returns its final state, plus the
// winner already decided on points if any. After end returns neither the
// scheduler nor a paddle move changes the state again.
func (s *Session) end() (pong.State, pong.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return s.state, s.winner
}

// terminate removes session id, stops its loop and settles it in the
// background. Only the first call for a given id has any effect.
func (e *Engine) terminate(id string, winner pong.Slot, reason endReason) bool {
	e.mu.Lock()
	sess := e.sessions.Remove(id)
	e.mu.Unlock()
	if sess == nil {
		return false
	}

	sess.stop()
	final, decided := sess.end()
	if decided != pong.NoSlot && (decided != winner || reason != reasonScore) {
		// A tick already decided the game on points.
		e.logger.Debug("result already decided on points", "session", id, "requested", winner, "winner", decided)
		winner, reason = decided, reasonScore
	}
	e.logger.Info("session ended",
		"session", id,
		"reason", reason,
		"score", final.Score,
		"winner", winner)

	e.settling.Add(1)
	go func() {
		defer e.settling.Done()
		e.sink.Deliver(e.settle(final, winner, reason))
	}()
	return true
}

// settle applies the Elo update for a finished session and builds the events
// that announce it. A store failure still ends the game, with the ratings the
// players entered with.
func (e *Engine) settle(final pong.State, winner pong.Slot, reason endReason) []Notification {
	if err := validateFinal(&final, winner); err != nil {
		e.logger.Error("cannot settle session", "session", final.ID, "err", err)
		return abortedNotes(&final, "session could not be settled")
	}

	w := final.Players[winner]
	l := final.Players[winner.Other()]

	over := GameOver{
		SessionID: final.ID,
		Winner:    w.ConnectionID,
		Ratings: map[pong.ConnectionID]int{
			w.ConnectionID: w.Rating,
			l.ConnectionID: l.Rating,
		},
		Stats: MatchStats{
			Duration: e.now().Sub(final.StartTime).Milliseconds(),
			MaxSpeed: final.PeakSpeed,
			Hits:     final.Hits,
			Score:    final.Score,
		},
		FinalScore: final.Score,
		Forfeit:    reason == reasonForfeit,
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.storeTimeout)
	defer cancel()

	newW, newL, err := e.applyElo(ctx, w.Name, l.Name)
	if err != nil {
		e.logger.Warn("rating update failed, keeping previous ratings",
			"session", final.ID,
			"err", err)
		return toPlayers(&final, EventGameOver, over)
	}

	over.Ratings[w.ConnectionID] = newW
	over.Ratings[l.ConnectionID] = newL
	e.logger.Info("ratings settled",
		"session", final.ID,
		"winner", w.Name, "winnerRating", newW,
		"loser", l.Name, "loserRating", newL)

	notes := toPlayers(&final, EventGameOver, over)
	if top, err := e.store.Top(ctx, e.topLimit); err == nil {
		notes = append(notes, rankingsNote(top))
	} else {
		e.logger.Warn("leaderboard unavailable", "err", err)
	}
	return notes
}

// applyElo reads both stored ratings, computes the update and writes it back.
func (e *Engine) applyElo(ctx context.Context, winner, loser string) (int, int, error) {
	var wr, lr int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		wr, err = e.store.GetRating(gctx, winner)
		return err
	})
	g.Go(func() (err error) {
		lr, err = e.store.GetRating(gctx, loser)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, 0, eris.Wrap(err, "read ratings")
	}

	newW, newL := rating.Settle(wr, lr)

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error { return e.store.SetRating(gctx, winner, newW, rating.Win) })
	g.Go(func() error { return e.store.SetRating(gctx, loser, newL, rating.Loss) })
	if err := g.Wait(); err != nil {
		return 0, 0, eris.Wrap(err, "write ratings")
	}
	return newW, newL, nil
}

func validateFinal(st *pong.State, winner pong.Slot) error {
	if winner != pong.SlotLeft && winner != pong.SlotRight {
		return eris.Wrapf(errMalformedSession, "winner slot %d", winner)
	}
	for i, p := range st.Players {
		if strings.TrimSpace(p.Name) == "" || p.ConnectionID == "" {
			return eris.Wrapf(errMalformedSession, "slot %d", i)
		}
	}
	return nil
}

// abortedNotes tells whichever players are addressable that the session
// ended without a result. Empty ids are skipped so nothing turns into a
// broadcast.
func abortedNotes(st *pong.State, reason string) []Notification {
	payload := GameAborted{SessionID: st.ID, Reason: reason}
	var notes []Notification
	for _, p := range st.Players {
		if p.ConnectionID != "" {
			notes = append(notes, notify(p.ConnectionID, EventGameAborted, payload))
		}
	}
	return notes
}
