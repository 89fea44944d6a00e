package http

import (
	"net/http"
	"slices"

	"github.com/Wyydra/meet/internal/adapter/driven/gateway/ws"
	"github.com/rs/zerolog/log"
)

// originChecker admits requests whose Origin is listed. Requests without an
// Origin header come from non-browser clients and are admitted.
func originChecker(allowed []string) func(r *http.Request) bool {
	wildcard := slices.Contains(allowed, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}
		log.Warn().Str("origin", origin).Msg("Rejected websocket origin")
		return false
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := ws.NewClient(h.Hub, conn, h.limits)
	l := log.With().Str("conn_id", client.ID().String()).Str("remote_addr", r.RemoteAddr).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)
	go client.WritePump()
	client.ReadPump()

	l.Info().Msg("Client disconnected")
}
