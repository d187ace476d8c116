package gateway

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/tomz197/pong/internal/logging"
	"github.com/tomz197/pong/internal/rating"
	"github.com/tomz197/pong/internal/server"
)

// NewHTTPHandler serves the WebSocket endpoint plus the leaderboard and
// health side endpoints.
func NewHTTPHandler(engine *server.Engine, ws http.Handler, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws)
	mux.HandleFunc("GET /rankings", rankingsHandler(engine, logger))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
			server.Stats
		}{Status: "ok", Stats: engine.Stats()})
	})
	return mux
}

func rankingsHandler(engine *server.Engine, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, server.ErrorMessage{Message: "limit must be a positive integer"})
				return
			}
			limit = n
		}

		top, err := engine.Rankings(r.Context(), limit)
		if err != nil {
			logger.Warn("rankings request failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, server.ErrorMessage{Message: "rankings unavailable"})
			return
		}
		if top == nil {
			top = []rating.Entry{}
		}
		writeJSON(w, http.StatusOK, top)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
