package gateway

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomz197/pong/internal/logging"
	"github.com/tomz197/pong/internal/pong"
	"github.com/tomz197/pong/internal/server"
)

// Inbound intent types.
const (
	IntentFindGame     = "findGame"
	IntentCreateInvite = "createInvite"
	IntentJoinInvite   = "joinInvite"
	IntentPaddleMove   = "paddleMove"
)

// Error messages for envelopes the router cannot dispatch.
const (
	MsgUnknownIntent    = "Unknown intent"
	MsgMalformedPayload = "Malformed payload"
	MsgReplaced         = "Signed in from another connection"
)

// Envelope is the wire shape of every inbound and outbound message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PaddleMove is the payload of paddleMove.
type PaddleMove struct {
	Position float64 `json:"position"`
}

type handlerFunc func(ctx context.Context, conn pong.ConnectionID, data json.RawMessage) ([]server.Notification, error)

// Router dispatches intents from any transport to the engine and delivers
// the resulting notifications through the Hub.
type Router struct {
	engine   *server.Engine
	hub      *Hub
	logger   *log.Logger
	handlers map[string]handlerFunc
}

// NewRouter creates a Router. A nil logger discards output.
func NewRouter(engine *server.Engine, hub *Hub, logger *log.Logger) *Router {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Router{engine: engine, hub: hub, logger: logger}
	r.handlers = map[string]handlerFunc{
		IntentFindGame:     r.findGame,
		IntentCreateInvite: r.createInvite,
		IntentJoinInvite:   r.joinInvite,
		IntentPaddleMove:   r.paddleMove,
	}
	return r
}

// NewConnectionID returns a fresh connection id.
func NewConnectionID() pong.ConnectionID {
	return pong.ConnectionID(uuid.NewString())
}

// Connect registers c under name. Older connections with the same name are
// told why and closed.
func (r *Router) Connect(c Client, name string) {
	r.hub.Add(c)
	r.evict(r.engine.Connect(c.ID(), name))
	r.logger.Info("client connected", "conn", c.ID(), "player", name)
}

// identify lets an anonymous connection claim name before its first intent.
// Errors are left for the engine intent to report.
func (r *Router) identify(conn pong.ConnectionID, name string) {
	evicted, err := r.engine.Identify(conn, name)
	if err != nil {
		return
	}
	r.evict(evicted)
}

// evict tells replaced connections why and closes them.
func (r *Router) evict(ids []pong.ConnectionID) {
	for _, id := range ids {
		r.reply(id, MsgReplaced)
		r.hub.Close(id)
	}
}

// Disconnect unregisters c and forfeits whatever it was doing.
func (r *Router) Disconnect(c Client) {
	r.hub.Remove(c)
	if r.engine.Disconnect(c.ID()) {
		r.logger.Info("client disconnected", "conn", c.ID())
	}
}

// Handle decodes one raw envelope from conn and dispatches it.
func (r *Router) Handle(ctx context.Context, conn pong.ConnectionID, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Debug("undecodable envelope", "conn", conn, "err", err)
		r.reply(conn, MsgMalformedPayload)
		return
	}
	r.Dispatch(ctx, conn, env)
}

// Dispatch runs the handler registered for env.Type.
func (r *Router) Dispatch(ctx context.Context, conn pong.ConnectionID, env Envelope) {
	h, ok := r.handlers[env.Type]
	if !ok {
		r.logger.Debug("unknown intent", "conn", conn, "type", env.Type)
		r.reply(conn, MsgUnknownIntent)
		return
	}
	notes, err := h(ctx, conn, env.Data)
	if err != nil {
		r.logger.Debug("bad payload", "conn", conn, "type", env.Type, "err", err)
		r.reply(conn, MsgMalformedPayload)
		return
	}
	r.hub.Deliver(notes)
}

func (r *Router) reply(conn pong.ConnectionID, msg string) {
	r.hub.Deliver([]server.Notification{{
		To:    conn,
		Event: server.Event{Type: server.EventError, Data: server.ErrorMessage{Message: msg}},
	}})
}

func (r *Router) findGame(ctx context.Context, conn pong.ConnectionID, data json.RawMessage) ([]server.Notification, error) {
	var req server.FindRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	r.identify(conn, req.Name)
	return r.engine.FindMatch(ctx, conn, req), nil
}

func (r *Router) createInvite(ctx context.Context, conn pong.ConnectionID, data json.RawMessage) ([]server.Notification, error) {
	var req server.FindRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	r.identify(conn, req.Name)
	return r.engine.CreateInvite(ctx, conn, req), nil
}

func (r *Router) joinInvite(ctx context.Context, conn pong.ConnectionID, data json.RawMessage) ([]server.Notification, error) {
	var req server.JoinRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	r.identify(conn, req.Player.Name)
	return r.engine.JoinInvite(ctx, conn, req), nil
}

func (r *Router) paddleMove(_ context.Context, conn pong.ConnectionID, data json.RawMessage) ([]server.Notification, error) {
	var req PaddleMove
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return r.engine.MovePaddle(conn, req.Position), nil
}

// decode treats a missing payload as an empty object.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
