// Package relay exposes the HTTP surface: the WebSocket upgrade endpoint,
// the health check, and the static stamp assets.
package relay

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler bundles the relay's HTTP endpoints around one Relay instance.
type Handler struct {
	relay     *Relay
	upgrader  websocket.Upgrader
	stampsDir string
}

// NewHandler creates the HTTP surface for the given relay. Allowed origins
// are taken from the configuration; "*" admits any origin.
func NewHandler(r *Relay, cfg *Config) *Handler {
	checker := newOriginChecker(cfg.AllowedOrigins)
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checker.check,
		},
		stampsDir: cfg.StampsDir,
	}
}

// WebSocket upgrades the HTTP connection and hands the new session to the
// relay, which launches the read/write pumps.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.relay.Register(NewSession(conn, h.relay, r.RemoteAddr))
}

// Health provides a simple health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "stampchat relay is running!")
}

// Routes configures and returns an HTTP ServeMux with all application routes.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.Health)
	mux.HandleFunc("/ws", h.WebSocket)
	mux.Handle("/stamps/", http.StripPrefix("/stamps/", http.FileServer(http.Dir(h.stampsDir))))
	return mux
}
