// Package server implements the authoritative game engine: matchmaking,
// session lifecycle, per-session tick loops and rating settlement.
//
// The Engine owns every piece of shared state (queue, sessions, connection
// table). Intent handlers return the notifications they produce; events that
// originate inside the engine (ticks, settlement, shutdown) go to the Sink.
package server

import (
	"context"
	"crypto/rand"
	mrand "math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/tomz197/pong/internal/logging"
	"github.com/tomz197/pong/internal/pong"
	"github.com/tomz197/pong/internal/rating"
)

const (
	inviteCodeLength    = 6
	inviteCodeAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // 32 symbols, no 0/O/1/I
	defaultStoreTimeout = 3 * time.Second
)

// MsgShuttingDown is sent to intents arriving after Shutdown.
const MsgShuttingDown = "Server is shutting down"

// FindRequest is the payload of findGame and createInvite.
type FindRequest struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

// JoinRequest is the payload of joinInvite.
type JoinRequest struct {
	InviteCode string      `json:"inviteCode"`
	Player     FindRequest `json:"player"`
}

// Engine coordinates matchmaking and live sessions.
type Engine struct {
	settings     pong.Settings
	store        rating.Store
	sink         Sink
	logger       *log.Logger
	newID        func() string
	newCode      func() string
	newRand      func() *mrand.Rand
	newTicker    TickerFunc
	now          func() time.Time
	storeTimeout time.Duration
	topLimit     int

	mu       sync.Mutex
	conns    map[pong.ConnectionID]string // live connection -> player name
	queue    *Queue
	sessions *Registry
	closed   bool

	loops    sync.WaitGroup // scheduler goroutines
	settling sync.WaitGroup // settlement goroutines
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettings overrides the simulation settings.
func WithSettings(s pong.Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDSource replaces the session id generator.
func WithIDSource(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// WithCodeSource replaces the invite code generator.
func WithCodeSource(f func() string) Option {
	return func(e *Engine) { e.newCode = f }
}

// WithRandSource replaces the per-session random source factory.
func WithRandSource(f func() *mrand.Rand) Option {
	return func(e *Engine) { e.newRand = f }
}

// WithTicker replaces the scheduler clock.
func WithTicker(f TickerFunc) Option {
	return func(e *Engine) { e.newTicker = f }
}

// WithClock replaces the wall clock used for start times and durations.
func WithClock(f func() time.Time) Option {
	return func(e *Engine) { e.now = f }
}

// WithStoreTimeout bounds every rating store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// WithTopLimit sets the size of broadcast leaderboards.
func WithTopLimit(n int) Option {
	return func(e *Engine) { e.topLimit = n }
}

// NewEngine creates an engine backed by store that publishes asynchronous
// events to sink.
func NewEngine(store rating.Store, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		settings:     pong.DefaultSettings(),
		store:        store,
		sink:         sink,
		logger:       logging.Discard(),
		newID:        uuid.NewString,
		newCode:      randomInviteCode,
		newRand:      func() *mrand.Rand { return mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64())) },
		newTicker:    NewTimeTicker,
		now:          time.Now,
		storeTimeout: defaultStoreTimeout,
		topLimit:     rating.DefaultTopLimit,
		conns:        make(map[pong.ConnectionID]string),
		queue:        NewQueue(),
		sessions:     NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = SinkFunc(func([]Notification) {})
	}
	return e
}

// Settings returns the simulation settings in use.
func (e *Engine) Settings() pong.Settings {
	return e.settings
}

// Connect registers a live connection for name. Any other live connection
// using the same name is disconnected first (its session forfeited); their
// ids are returned so the transport can close them.
func (e *Engine) Connect(conn pong.ConnectionID, name string) []pong.ConnectionID {
	e.mu.Lock()
	e.conns[conn] = name
	stale := e.othersNamedLocked(conn, name)
	e.mu.Unlock()

	e.evict(conn, name, stale)
	return stale
}

// Identify binds name to conn if conn was registered without one. Other live
// connections already using that name are disconnected as on Connect and
// returned. Connections that already have a name keep it.
func (e *Engine) Identify(conn pong.ConnectionID, name string) ([]pong.ConnectionID, error) {
	_, stale, err := e.identify(conn, name)
	return stale, err
}

// Disconnect removes conn from the queue and forfeits its session. It reports
// whether the call had any effect; repeated calls are no-ops.
func (e *Engine) Disconnect(conn pong.ConnectionID) bool {
	e.mu.Lock()
	_, known := e.conns[conn]
	delete(e.conns, conn)
	queued := e.queue.Contains(conn)
	e.queue.RemoveByConnection(conn)
	sess, inSession := e.sessions.FindByConnection(conn)
	e.mu.Unlock()

	if inSession {
		slot := sess.state.SlotOf(conn)
		e.logger.Info("player left mid-game", "session", sess.ID(), "conn", conn)
		e.terminate(sess.ID(), slot.Other(), reasonForfeit)
	}
	return known || queued || inSession
}

// FindMatch pairs conn with any open opponent, or queues it.
func (e *Engine) FindMatch(ctx context.Context, conn pong.ConnectionID, req FindRequest) []Notification {
	name, _, err := e.identify(conn, req.Name)
	if err != nil {
		return []Notification{errorNote(conn, err.Error())}
	}
	if e.inSession(conn) {
		return nil
	}

	// Store I/O happens before taking the engine lock, under one deadline.
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	me := Player{Name: name, ConnectionID: conn, Rating: e.ensureRating(sctx, name, req.Rating)}
	notes := e.rankingsNotes(sctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.acceptingLocked(conn) {
		return nil
	}

	for {
		opp, ok := e.queue.FindOpenOpponent(conn)
		if !ok {
			e.queue.EnqueueOpen(me)
			e.logger.Debug("player queued", "player", name, "conn", conn, "waiting", e.queue.Len())
			return append(notes, notify(conn, EventWaiting, nil))
		}
		if _, live := e.conns[opp.ConnectionID]; !live {
			e.logger.Warn("dropping stale queue entry", "player", opp.Name, "conn", opp.ConnectionID)
			continue
		}

		e.queue.RemoveByConnection(conn)
		started, err := e.startSessionLocked(me, opp.Player)
		if err != nil {
			e.queue.EnqueueOpen(opp.Player)
			e.logger.Error("could not start session", "err", err)
			return append(notes, errorNote(conn, err.Error()))
		}
		return append(notes, started...)
	}
}

// CreateInvite queues conn under a fresh invite code.
func (e *Engine) CreateInvite(ctx context.Context, conn pong.ConnectionID, req FindRequest) []Notification {
	name, _, err := e.identify(conn, req.Name)
	if err != nil {
		return []Notification{errorNote(conn, err.Error())}
	}
	if e.inSession(conn) {
		return nil
	}

	me := Player{Name: name, ConnectionID: conn, Rating: e.ensureRating(ctx, name, req.Rating)}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.acceptingLocked(conn) {
		return nil
	}

	code := e.uniqueCodeLocked()
	e.queue.EnqueueInvited(me, code)
	e.logger.Info("invite created", "player", name, "code", code)
	return []Notification{
		notify(conn, EventInviteCreated, InviteCreated{Code: code}),
		notify(conn, EventWaiting, nil),
	}
}

// JoinInvite starts a session with the player waiting on req.InviteCode.
func (e *Engine) JoinInvite(ctx context.Context, conn pong.ConnectionID, req JoinRequest) []Notification {
	name, _, err := e.identify(conn, req.Player.Name)
	if err != nil {
		return []Notification{errorNote(conn, err.Error())}
	}
	if e.inSession(conn) {
		return nil
	}

	me := Player{Name: name, ConnectionID: conn, Rating: e.ensureRating(ctx, name, req.Player.Rating)}
	code := normalizeCode(req.InviteCode)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.acceptingLocked(conn) {
		return nil
	}

	host, ok := e.queue.FindByCode(code)
	switch {
	case !ok:
		return []Notification{errorNote(conn, MsgInvalidInvite)}
	case host.ConnectionID == conn:
		e.queue.EnqueueInvited(host.Player, code)
		return []Notification{errorNote(conn, MsgOwnInvite)}
	}
	if _, live := e.conns[host.ConnectionID]; !live {
		return []Notification{errorNote(conn, MsgOpponentDisconnected)}
	}

	e.queue.RemoveByConnection(conn)
	started, err := e.startSessionLocked(me, host.Player)
	if err != nil {
		e.queue.EnqueueInvited(host.Player, code)
		e.logger.Error("could not start invite session", "err", err)
		return []Notification{errorNote(conn, err.Error())}
	}
	return started
}

// MovePaddle moves the paddle owned by conn and returns the resulting update
// for both players. Connections without a session are ignored.
func (e *Engine) MovePaddle(conn pong.ConnectionID, position float64) []Notification {
	e.mu.Lock()
	sess, ok := e.sessions.FindByConnection(conn)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	slot := sess.state.SlotOf(conn)
	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return nil
	}
	pong.MovePaddle(&sess.state, e.settings, slot, position)
	snap := sess.state
	sess.mu.Unlock()

	return toPlayers(&snap, EventGameUpdate, snap)
}

// Terminate ends session id with winner and settles ratings. It reports
// whether the session was live; a second call is a no-op.
func (e *Engine) Terminate(id string, winner pong.Slot) bool {
	return e.terminate(id, winner, reasonScore)
}

// Session returns a snapshot of the live session id.
func (e *Engine) Session(id string) (pong.State, bool) {
	e.mu.Lock()
	sess, ok := e.sessions.Get(id)
	e.mu.Unlock()
	if !ok {
		return pong.State{}, false
	}
	return sess.Snapshot(), true
}

// SessionFor returns a snapshot of the live session holding conn.
func (e *Engine) SessionFor(conn pong.ConnectionID) (pong.State, bool) {
	e.mu.Lock()
	sess, ok := e.sessions.FindByConnection(conn)
	e.mu.Unlock()
	if !ok {
		return pong.State{}, false
	}
	return sess.Snapshot(), true
}

// Rankings returns the current leaderboard.
func (e *Engine) Rankings(ctx context.Context, limit int) ([]rating.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.Top(ctx, limit)
}

// Stats reports engine occupancy.
type Stats struct {
	Connections int `json:"connections"`
	Queued      int `json:"queued"`
	Sessions    int `json:"sessions"`
}

// Stats returns current occupancy counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Connections: len(e.conns),
		Queued:      e.queue.Len(),
		Sessions:    e.sessions.Len(),
	}
}

// Shutdown stops every session without settling it, tells all connections,
// and waits for running loops and settlements until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	live := e.sessions.All()
	for _, sess := range live {
		e.sessions.Remove(sess.ID())
	}
	e.mu.Unlock()

	var notes []Notification
	for _, sess := range live {
		sess.stop()
		final, _ := sess.end()
		e.logger.Info("session ended", "session", final.ID, "reason", reasonShutdown, "score", final.Score)
		notes = append(notes, abortedNotes(&final, "server shutting down")...)
	}
	notes = append(notes, notify(Broadcast, EventShutdown, nil))
	e.sink.Deliver(notes)

	done := make(chan struct{})
	go func() {
		e.loops.Wait()
		e.settling.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("engine stopped", "sessions", len(live))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all pending settlements have been delivered.
func (e *Engine) Wait() {
	e.settling.Wait()
}

// identify resolves the player name of conn. Connections registered without
// a name adopt the first name they send, replacing any other holder of it.
func (e *Engine) identify(conn pong.ConnectionID, requested string) (string, []pong.ConnectionID, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", nil, errShuttingDown
	}
	name, ok := e.conns[conn]
	if !ok {
		e.mu.Unlock()
		return "", nil, errUnknownConnection
	}
	if name != "" {
		e.mu.Unlock()
		return name, nil, nil
	}

	name = strings.TrimSpace(requested)
	if name == "" {
		e.mu.Unlock()
		return "", nil, errNameRequired
	}
	e.conns[conn] = name
	stale := e.othersNamedLocked(conn, name)
	e.mu.Unlock()

	e.evict(conn, name, stale)
	return name, stale, nil
}

// othersNamedLocked lists the live connections other than conn registered
// under name.
func (e *Engine) othersNamedLocked(conn pong.ConnectionID, name string) []pong.ConnectionID {
	if name == "" {
		return nil
	}
	var stale []pong.ConnectionID
	for id, n := range e.conns {
		if n == name && id != conn {
			stale = append(stale, id)
		}
	}
	return stale
}

func (e *Engine) evict(conn pong.ConnectionID, name string, stale []pong.ConnectionID) {
	for _, id := range stale {
		e.logger.Info("replacing stale connection", "player", name, "old", id, "new", conn)
		e.Disconnect(id)
	}
}

func (e *Engine) inSession(conn pong.ConnectionID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions.FindByConnection(conn)
	return ok
}

// acceptingLocked re-checks, after store I/O, that conn may still be matched.
func (e *Engine) acceptingLocked(conn pong.ConnectionID) bool {
	if e.closed {
		return false
	}
	if _, live := e.conns[conn]; !live {
		return false
	}
	_, busy := e.sessions.FindByConnection(conn)
	return !busy
}

// startSessionLocked creates a session with p1 in slot 0 and starts its loop.
func (e *Engine) startSessionLocked(p1, p2 Player) ([]Notification, error) {
	sess, err := e.sessions.Create(e.newID(), p1, p2, e.settings, e.newRand(), e.now())
	if err != nil {
		return nil, err
	}
	e.startScheduler(sess)

	snap := sess.Snapshot()
	e.logger.Info("session started",
		"session", snap.ID,
		"left", p1.Name,
		"right", p2.Name)
	return toPlayers(&snap, EventGameStart, snap), nil
}

// ensureRating makes sure the store has a record for name and returns the
// stored rating. On store failure the client supplied snapshot is used.
func (e *Engine) ensureRating(ctx context.Context, name string, fallback int) int {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	r, err := e.store.GetRating(ctx, name)
	if err != nil {
		e.logger.Warn("rating lookup failed", "player", name, "err", err)
		if fallback > 0 {
			return fallback
		}
		return rating.DefaultRating
	}
	return r
}

// rankingsNotes fetches the leaderboard for a process-wide broadcast.
func (e *Engine) rankingsNotes(ctx context.Context) []Notification {
	top, err := e.Rankings(ctx, e.topLimit)
	if err != nil {
		e.logger.Warn("leaderboard unavailable", "err", err)
		return nil
	}
	return []Notification{rankingsNote(top)}
}

func (e *Engine) uniqueCodeLocked() string {
	code := e.newCode()
	for e.queue.HasCode(code) {
		code = e.newCode()
	}
	return code
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// randomInviteCode returns a short code from crypto/rand. The alphabet has
// 32 symbols, so the modulo is unbiased.
func randomInviteCode() string {
	buf := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf)
}
