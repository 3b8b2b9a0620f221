package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codekids/codekids-hub/internal/application/command"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/interface/http/handlers"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config configures the websocket endpoint.
type Config struct {
	// HeartbeatInterval is the ping period. A peer silent for two periods is
	// dropped, and presence is refreshed on every tick.
	HeartbeatInterval time.Duration

	// MaxMessageBytes caps a single client frame.
	MaxMessageBytes int64

	// SendBuffer is the number of frames queued per connection before a slow
	// reader is disconnected.
	SendBuffer int

	AllowedOrigins []string
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		MaxMessageBytes:   128 << 10,
		SendBuffer:        64,
		AllowedOrigins:    []string{"*"},
	}
}

const writeWait = 10 * time.Second

// CodeSaver auto-saves a draft. Satisfied by *command.SaveCodeHandler.
type CodeSaver interface {
	Handle(ctx context.Context, cmd command.SaveCodeCommand) (*progress.Progress, error)
}

// ConnectionMetrics counts open connections.
type ConnectionMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Option configures a Handler.
type Option func(*Handler)

// WithPresence lists participants from a presence store. Without it
// room-participants only carries the connection count.
func WithPresence(p Presence) Option {
	return func(h *Handler) { h.presence = p }
}

// WithMetrics records connection gauges.
func WithMetrics(m ConnectionMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// Handler upgrades GET /ws/lessons/{lessonId} and runs one session per
// connection.
type Handler struct {
	cfg      Config
	rooms    Rooms
	saver    CodeSaver
	presence Presence
	metrics  ConnectionMetrics
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket handler.
func NewHandler(cfg Config, rooms Rooms, saver CodeSaver, opts ...Option) *Handler {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	h := &Handler{cfg: cfg, rooms: rooms, saver: saver}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.Nop()
	}
	h.log = h.log.With(logger.Component("realtime"))
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lessonID := chi.URLParam(r, "lessonId")
	if lessonID == "" {
		http.Error(w, "lesson id is required", http.StatusBadRequest)
		return
	}
	user, ok := identify(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		h.log.Debug("websocket upgrade failed", logger.Err(err))
		return
	}
	user.ConnectionID = uuid.NewString()

	// The session outlives the request once the connection is hijacked.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	if h.metrics != nil {
		h.metrics.ConnectionOpened()
		defer h.metrics.ConnectionClosed()
	}
	newSession(h, conn, lessonID, user).run(ctx)
}

// identify reads the gateway headers, falling back to query parameters
// because browsers cannot set headers on websocket requests.
func identify(r *http.Request) (UserRef, bool) {
	displayName := strings.TrimSpace(r.URL.Query().Get("displayName"))
	if id, ok := handlers.ResolveIdentity(r); ok {
		return UserRef{UserID: id.UserID, DisplayName: displayName}, true
	}
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		return UserRef{}, false
	}
	return UserRef{UserID: userID, DisplayName: displayName}, true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
