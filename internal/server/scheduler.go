package server

import (
	"context"
	"time"

	"github.com/tomz197/pong/internal/pong"
)

// Ticker is the part of time.Ticker the scheduler uses. Tests substitute a
// manually driven implementation.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the production TickerFunc.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// startScheduler launches the fixed-rate loop of sess. Exactly one loop runs
// per session; it exits when the session is stopped or ends.
func (e *Engine) startScheduler(sess *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	ticker := e.newTicker(e.settings.TickTime())

	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		defer close(sess.done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if !e.tick(sess) {
					return
				}
			}
		}
	}()
}

// tick advances sess by one step and broadcasts the result. It returns false
// once the session is no longer live, which stops the loop.
func (e *Engine) tick(sess *Session) bool {
	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return false
	}
	res := pong.Step(&sess.state, e.settings, sess.rng)
	if res.Finished() {
		sess.winner = res.Winner
	}
	snap := sess.state
	sess.mu.Unlock()

	if res.Scored() {
		e.logger.Debug("point scored",
			"session", snap.ID,
			"scorer", snap.Players[res.Scorer].Name,
			"score", snap.Score)
	}
	if res.Finished() {
		e.terminate(snap.ID, res.Winner, reasonScore)
		return false
	}

	e.sink.Deliver(toPlayers(&snap, EventGameUpdate, snap))
	return true
}
