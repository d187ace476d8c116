package server

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomz197/pong/internal/pong"
	"github.com/tomz197/pong/internal/rating"
)

func conn(name string) pong.ConnectionID {
	return pong.ConnectionID("conn-" + name)
}

type recordingSink struct {
	mu    sync.Mutex
	notes []Notification
}

func (s *recordingSink) Deliver(notes []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, notes...)
}

func (s *recordingSink) ofType(typ EventType) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.notes {
		if n.Event.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type manualTicker struct {
	ch chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

type tickers struct {
	mu  sync.Mutex
	all []*manualTicker
}

func (ts *tickers) new(time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	ts.all = append(ts.all, t)
	return t
}

func (ts *tickers) last() *manualTicker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.all[len(ts.all)-1]
}

type harness struct {
	engine  *Engine
	store   *rating.MemoryStore
	sink    *recordingSink
	tickers *tickers
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:   rating.NewMemoryStore(rating.DefaultRating),
		sink:    &recordingSink{},
		tickers: &tickers{},
	}
	ids := 0
	base := []Option{
		WithTicker(h.tickers.new),
		WithIDSource(func() string {
			ids++
			return "session-" + string(rune('0'+ids))
		}),
		WithRandSource(func() *rand.Rand { return rand.New(rand.NewPCG(7, 11)) }),
	}
	h.engine = NewEngine(h.store, h.sink, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
	})
	return h
}

func (h *harness) join(names ...string) {
	for _, n := range names {
		h.engine.Connect(conn(n), n)
	}
}

func types(notes []Notification) []EventType {
	out := make([]EventType, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Event.Type)
	}
	return out
}

func addressedTo(notes []Notification, to pong.ConnectionID, typ EventType) []Notification {
	var out []Notification
	for _, n := range notes {
		if n.To == to && n.Event.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// startMatch pairs a and b through the open queue; b ends up in slot 0.
func (h *harness) startMatch(t *testing.T, a, b string) pong.State {
	t.Helper()
	h.join(a, b)
	ctx := context.Background()

	notes := h.engine.FindMatch(ctx, conn(a), FindRequest{Name: a})
	require.Len(t, addressedTo(notes, conn(a), EventWaiting), 1)

	notes = h.engine.FindMatch(ctx, conn(b), FindRequest{Name: b})
	require.Len(t, addressedTo(notes, conn(a), EventGameStart), 1)
	require.Len(t, addressedTo(notes, conn(b), EventGameStart), 1)

	st, ok := h.engine.SessionFor(conn(a))
	require.True(t, ok)
	return st
}

func TestFindMatchQueuesThenPairs(t *testing.T) {
	h := newHarness(t)
	h.join("alice", "bob")
	ctx := context.Background()

	notes := h.engine.FindMatch(ctx, conn("alice"), FindRequest{Name: "alice"})
	assert.Contains(t, types(notes), EventWaiting)
	assert.Contains(t, types(notes), EventRankingsUpdate)
	assert.Equal(t, 1, h.engine.Stats().Queued)

	notes = h.engine.FindMatch(ctx, conn("bob"), FindRequest{Name: "bob"})
	starts := addressedTo(notes, conn("bob"), EventGameStart)
	require.Len(t, starts, 1)

	st := starts[0].Event.Data.(pong.State)
	assert.Equal(t, "bob", st.Players[0].Name, "caller takes the left slot")
	assert.Equal(t, "alice", st.Players[1].Name)
	assert.Equal(t, rating.DefaultRating, st.Players[0].Rating)

	stats := h.engine.Stats()
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 1, stats.Sessions)
}

func TestFindMatchUsesStoredRating(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SetRating(context.Background(), "alice", 1234, rating.Win))
	h.join("alice", "bob")

	h.engine.FindMatch(context.Background(), conn("alice"), FindRequest{Name: "alice", Rating: 1})
	notes := h.engine.FindMatch(context.Background(), conn("bob"), FindRequest{Name: "bob"})

	st := addressedTo(notes, conn("bob"), EventGameStart)[0].Event.Data.(pong.State)
	assert.Equal(t, 1234, st.Players[1].Rating)
}

func TestFindMatchIgnoredWhileInSession(t *testing.T) {
	h := newHarness(t)
	h.startMatch(t, "alice", "bob")

	notes := h.engine.FindMatch(context.Background(), conn("alice"), FindRequest{Name: "alice"})
	assert.Empty(t, notes)
	assert.Equal(t, 0, h.engine.Stats().Queued)
}

func TestUnknownConnection(t *testing.T) {
	h := newHarness(t)

	notes := h.engine.FindMatch(context.Background(), conn("ghost"), FindRequest{Name: "ghost"})
	require.Len(t, notes, 1)
	assert.Equal(t, EventError, notes[0].Event.Type)
	assert.Equal(t, ErrorMessage{Message: MsgUnknownConnection}, notes[0].Event.Data)
}

func TestAnonymousConnectionAdoptsName(t *testing.T) {
	h := newHarness(t)
	h.engine.Connect(conn("anon"), "")

	notes := h.engine.FindMatch(context.Background(), conn("anon"), FindRequest{})
	require.Len(t, notes, 1)
	assert.Equal(t, EventError, notes[0].Event.Type)

	notes = h.engine.FindMatch(context.Background(), conn("anon"), FindRequest{Name: " carol "})
	assert.Contains(t, types(notes), EventWaiting)

	rec, err := h.store.Record("carol")
	require.NoError(t, err)
	assert.Equal(t, rating.DefaultRating, rec.Rating)
}

func TestInviteRoundTrip(t *testing.T) {
	h := newHarness(t, WithCodeSource(func() string { return "ABC234" }))
	h.join("alice", "bob")
	ctx := context.Background()

	notes := h.engine.CreateInvite(ctx, conn("alice"), FindRequest{Name: "alice"})
	require.Equal(t, []EventType{EventInviteCreated, EventWaiting}, types(notes))
	assert.Equal(t, InviteCreated{Code: "ABC234"}, notes[0].Event.Data)

	// Open matchmaking never picks an invited player.
	notes = h.engine.FindMatch(ctx, conn("bob"), FindRequest{Name: "bob"})
	assert.Contains(t, types(notes), EventWaiting)

	notes = h.engine.JoinInvite(ctx, conn("bob"), JoinRequest{InviteCode: " abc234 ", Player: FindRequest{Name: "bob"}})
	starts := addressedTo(notes, conn("alice"), EventGameStart)
	require.Len(t, starts, 1)
	st := starts[0].Event.Data.(pong.State)
	assert.Equal(t, "bob", st.Players[0].Name)
	assert.Equal(t, "alice", st.Players[1].Name)
	assert.Equal(t, 0, h.engine.Stats().Queued)
}

func TestJoinInviteErrors(t *testing.T) {
	h := newHarness(t, WithCodeSource(func() string { return "XYZ789" }))
	h.join("alice", "bob")
	ctx := context.Background()

	notes := h.engine.JoinInvite(ctx, conn("bob"), JoinRequest{InviteCode: "NOPE00", Player: FindRequest{Name: "bob"}})
	require.Len(t, notes, 1)
	assert.Equal(t, ErrorMessage{Message: MsgInvalidInvite}, notes[0].Event.Data)

	h.engine.CreateInvite(ctx, conn("alice"), FindRequest{Name: "alice"})
	notes = h.engine.JoinInvite(ctx, conn("alice"), JoinRequest{InviteCode: "XYZ789", Player: FindRequest{Name: "alice"}})
	require.Len(t, notes, 1)
	assert.Equal(t, ErrorMessage{Message: MsgOwnInvite}, notes[0].Event.Data)

	// The code survives a self-join attempt.
	notes = h.engine.JoinInvite(ctx, conn("bob"), JoinRequest{InviteCode: "XYZ789", Player: FindRequest{Name: "bob"}})
	assert.Len(t, addressedTo(notes, conn("bob"), EventGameStart), 1)
}

func TestJoinInviteAfterHostLeft(t *testing.T) {
	h := newHarness(t, WithCodeSource(func() string { return "HOST22" }))
	h.join("alice", "bob")
	ctx := context.Background()

	h.engine.CreateInvite(ctx, conn("alice"), FindRequest{Name: "alice"})
	h.engine.Disconnect(conn("alice"))

	notes := h.engine.JoinInvite(ctx, conn("bob"), JoinRequest{InviteCode: "HOST22", Player: FindRequest{Name: "bob"}})
	require.Len(t, notes, 1)
	assert.Equal(t, ErrorMessage{Message: MsgInvalidInvite}, notes[0].Event.Data)
}

func TestInviteCodesAreUnique(t *testing.T) {
	codes := []string{"SAME11", "SAME11", "OTHER2"}
	h := newHarness(t, WithCodeSource(func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}))
	h.join("alice", "bob")
	ctx := context.Background()

	first := h.engine.CreateInvite(ctx, conn("alice"), FindRequest{Name: "alice"})
	second := h.engine.CreateInvite(ctx, conn("bob"), FindRequest{Name: "bob"})
	assert.Equal(t, InviteCreated{Code: "SAME11"}, first[0].Event.Data)
	assert.Equal(t, InviteCreated{Code: "OTHER2"}, second[0].Event.Data)
}

func TestRandomInviteCode(t *testing.T) {
	for range 50 {
		code := randomInviteCode()
		require.Len(t, code, inviteCodeLength)
		for _, r := range code {
			assert.Contains(t, inviteCodeAlphabet, string(r))
		}
	}
}

func TestMovePaddle(t *testing.T) {
	h := newHarness(t)
	h.startMatch(t, "alice", "bob")

	notes := h.engine.MovePaddle(conn("bob"), 0.5)
	require.Len(t, notes, 2)
	st := notes[0].Event.Data.(pong.State)
	assert.Equal(t, EventGameUpdate, notes[0].Event.Type)
	assert.InDelta(t, 0.5, st.Paddles.Left.Y, 1e-9)
	assert.InDelta(t, 0.0, st.Paddles.Right.Y, 1e-9)

	notes = h.engine.MovePaddle(conn("alice"), -7)
	st = notes[0].Event.Data.(pong.State)
	assert.InDelta(t, -h.engine.Settings().PaddleLimit, st.Paddles.Right.Y, 1e-9)

	notes = h.engine.MovePaddle(conn("alice"), math.NaN())
	st = notes[0].Event.Data.(pong.State)
	assert.InDelta(t, -h.engine.Settings().PaddleLimit, st.Paddles.Right.Y, 1e-9)

	assert.Nil(t, h.engine.MovePaddle(conn("nobody"), 0.1))
}

func TestDisconnectForfeits(t *testing.T) {
	h := newHarness(t)
	st := h.startMatch(t, "alice", "bob")

	assert.True(t, h.engine.Disconnect(conn("alice")))
	h.engine.Wait()

	_, ok := h.engine.Session(st.ID)
	assert.False(t, ok)

	overs := h.sink.ofType(EventGameOver)
	require.Len(t, overs, 2)
	over := overs[0].Event.Data.(GameOver)
	assert.Equal(t, st.ID, over.SessionID)
	assert.Equal(t, conn("bob"), over.Winner)
	assert.True(t, over.Forfeit)
	assert.Equal(t, 1016, over.Ratings[conn("bob")])
	assert.Equal(t, 984, over.Ratings[conn("alice")])

	rec, err := h.store.Record("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Wins)
	assert.Len(t, h.sink.ofType(EventRankingsUpdate), 1)
}

func TestTerminateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	st := h.startMatch(t, "alice", "bob")

	assert.True(t, h.engine.Disconnect(conn("alice")))
	assert.True(t, h.engine.Disconnect(conn("bob")))
	assert.False(t, h.engine.Disconnect(conn("bob")))
	assert.False(t, h.engine.Terminate(st.ID, pong.SlotLeft))
	h.engine.Wait()

	assert.Len(t, h.sink.ofType(EventGameOver), 2, "one gameOver per player")
	rec, err := h.store.Record("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.GamesPlayed)
}

func TestConnectReplacesStaleConnection(t *testing.T) {
	h := newHarness(t)
	st := h.startMatch(t, "alice", "bob")

	evicted := h.engine.Connect("conn-alice-2", "alice")
	assert.Equal(t, []pong.ConnectionID{conn("alice")}, evicted)
	h.engine.Wait()

	_, ok := h.engine.Session(st.ID)
	assert.False(t, ok)
	overs := h.sink.ofType(EventGameOver)
	require.NotEmpty(t, overs)
	assert.Equal(t, conn("bob"), overs[0].Event.Data.(GameOver).Winner)
	assert.Equal(t, 2, h.engine.Stats().Connections)
}

func TestAnonymousConnectionsCannotShareAName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.engine.Connect("anon-1", "")
	h.engine.Connect("anon-2", "")

	notes := h.engine.FindMatch(ctx, "anon-1", FindRequest{Name: "alice"})
	assert.Contains(t, types(notes), EventWaiting)

	evicted, err := h.engine.Identify("anon-2", "alice")
	require.NoError(t, err)
	assert.Equal(t, []pong.ConnectionID{"anon-1"}, evicted)

	notes = h.engine.FindMatch(ctx, "anon-2", FindRequest{Name: "alice"})
	assert.Contains(t, types(notes), EventWaiting)
	assert.Empty(t, addressedTo(notes, "anon-2", EventGameStart), "a player is never paired with themselves")

	stats := h.engine.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 0, stats.Sessions)

	notes = h.engine.FindMatch(ctx, "anon-1", FindRequest{Name: "alice"})
	require.Len(t, notes, 1)
	assert.Equal(t, ErrorMessage{Message: MsgUnknownConnection}, notes[0].Event.Data)
}

func TestIdentifySweepsDuringIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join("bob")
	h.engine.Connect("anon-1", "")
	h.engine.Connect("anon-2", "")

	h.engine.FindMatch(ctx, "anon-1", FindRequest{Name: "alice"})
	notes := h.engine.FindMatch(ctx, "anon-2", FindRequest{Name: "alice"})
	assert.Empty(t, addressedTo(notes, "anon-2", EventGameStart))

	notes = h.engine.FindMatch(ctx, conn("bob"), FindRequest{Name: "bob"})
	starts := addressedTo(notes, "anon-2", EventGameStart)
	require.Len(t, starts, 1)
	st := starts[0].Event.Data.(pong.State)
	assert.Equal(t, "bob", st.Players[0].Name)
	assert.Equal(t, "alice", st.Players[1].Name)

	h.engine.Disconnect(conn("bob"))
	h.engine.Wait()
	rec, err := h.store.Record("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.GamesPlayed)
	assert.Equal(t, 1, rec.Wins)
	assert.Equal(t, 0, rec.Losses)
}

func TestDisconnectAfterDecidingPointKeepsWinner(t *testing.T) {
	h := newHarness(t)
	st := h.startMatch(t, "alice", "bob")

	// The scoring tick has decided the game but not yet terminated it.
	h.engine.mu.Lock()
	sess, ok := h.engine.sessions.Get(st.ID)
	h.engine.mu.Unlock()
	require.True(t, ok)
	sess.mu.Lock()
	sess.state.Score = [2]int{h.engine.Settings().WinScore, 3}
	sess.winner = pong.SlotLeft
	sess.mu.Unlock()

	require.True(t, h.engine.Disconnect(conn("bob")))
	h.engine.Wait()

	overs := h.sink.ofType(EventGameOver)
	require.Len(t, overs, 2)
	over := overs[0].Event.Data.(GameOver)
	assert.Equal(t, conn("bob"), over.Winner, "points decide the game, not the disconnect")
	assert.False(t, over.Forfeit)

	rec, err := h.store.Record("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Wins)
}

func TestTicksPlayToCompletion(t *testing.T) {
	cfg := pong.DefaultSettings()
	cfg.WinScore = 1
	cfg.MaxServeAngle = 0
	cfg.StepScale = 0.05
	h := newHarness(t, WithSettings(cfg))
	st := h.startMatch(t, "alice", "bob")

	// Both paddles out of the ball's flat path.
	h.engine.MovePaddle(conn("alice"), 0.9)
	h.engine.MovePaddle(conn("bob"), 0.9)

	ticker := h.tickers.last()
	for range 100 {
		if _, live := h.engine.Session(st.ID); !live {
			break
		}
		select {
		case ticker.ch <- time.Now():
		case <-time.After(50 * time.Millisecond):
		}
	}
	h.engine.Wait()

	_, live := h.engine.Session(st.ID)
	require.False(t, live)
	assert.NotEmpty(t, h.sink.ofType(EventGameUpdate))

	overs := h.sink.ofType(EventGameOver)
	require.Len(t, overs, 2)
	over := overs[0].Event.Data.(GameOver)
	assert.False(t, over.Forfeit)
	assert.Equal(t, 1, over.FinalScore[0]+over.FinalScore[1])
	assert.Equal(t, over.FinalScore, over.Stats.Score)
	assert.InDelta(t, cfg.BaseBallSpeed, over.Stats.MaxSpeed, 1e-9)
}

func TestShutdownAbortsSessions(t *testing.T) {
	h := newHarness(t)
	st := h.startMatch(t, "alice", "bob")
	h.join("carol")
	h.engine.FindMatch(context.Background(), conn("carol"), FindRequest{Name: "carol"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.engine.Shutdown(ctx))

	aborted := h.sink.ofType(EventGameAborted)
	require.Len(t, aborted, 2)
	assert.Equal(t, st.ID, aborted[0].Event.Data.(GameAborted).SessionID)

	shutdown := h.sink.ofType(EventShutdown)
	require.Len(t, shutdown, 1)
	assert.Equal(t, Broadcast, shutdown[0].To)
	assert.Empty(t, h.sink.ofType(EventGameOver), "shutdown does not settle")

	notes := h.engine.FindMatch(context.Background(), conn("carol"), FindRequest{Name: "carol"})
	require.Len(t, notes, 1)
	assert.Equal(t, ErrorMessage{Message: MsgShuttingDown}, notes[0].Event.Data)
}
