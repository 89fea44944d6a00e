package http

import (
	"encoding/json"
	"net/http"

	"github.com/Wyydra/meet/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/meet/internal/config"
	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/Wyydra/meet/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	RoomService *service.RoomService
	Hub         *ws.Hub

	upgrader  websocket.Upgrader
	limits    ws.Limits
	staticDir string
}

func NewHandler(roomService *service.RoomService, hub *ws.Hub, cfg config.Config) *Handler {
	return &Handler{
		RoomService: roomService,
		Hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
		},
		limits: ws.Limits{
			WriteWait:      cfg.WebSocket.WriteWait.Duration,
			PongWait:       cfg.WebSocket.PongWait.Duration,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			SendBuffer:     cfg.WebSocket.SendBuffer,
		},
		staticDir: cfg.Server.StaticDir,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", h.Hello)
	r.Get("/health", h.Health)
	r.Get("/ws", h.ServeWS)
	r.Get("/rooms/{room}", h.RoomMembers)

	if h.staticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(h.staticDir)))
		r.Handle("/static/*", fs)
	}

	return r
}

func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Hello, meet"))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

type roomView struct {
	Room         domain.RoomName      `json:"room"`
	Participants []domain.Participant `json:"participants"`
}

func (h *Handler) RoomMembers(w http.ResponseWriter, r *http.Request) {
	room := domain.RoomName(chi.URLParam(r, "room"))
	view := roomView{
		Room:         room,
		Participants: h.RoomService.Members(r.Context(), room),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		log.Error().Err(err).Str("room", room.String()).Msg("Failed to encode room view")
	}
}
