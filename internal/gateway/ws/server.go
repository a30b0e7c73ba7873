// Package ws streams orchestration events to WebSocket clients.
//
// Clients connect to the stream endpoint, optionally filter by event type
// and ask for a replay of recent history, then receive every new event as a
// JSON text message. Slow clients lose events rather than stalling the
// publisher.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bosco-os/bosco/internal/events"
)

// Subprotocol is the WebSocket subprotocol offered by the server.
const Subprotocol = "bosco-events-v1"

const (
	defaultHeartbeat = 30 * time.Second
	defaultBuffer    = 64
	maxReplay        = 500
	writeTimeout     = 10 * time.Second
)

// Config configures the event stream.
type Config struct {
	APIKeys           []string      // Empty disables authentication.
	HeartbeatInterval time.Duration // Default: 30s.
	Buffer            int           // Per-client queue. Default: 64.
}

func (c Config) heartbeat() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return defaultHeartbeat
}

func (c Config) buffer() int {
	if c.Buffer > 0 {
		return c.Buffer
	}
	return defaultBuffer
}

// Server upgrades HTTP requests and forwards bus events to each connection.
type Server struct {
	bus         *events.Bus
	cfg         Config
	subscribers prometheus.Gauge // May be nil.
	logger      *slog.Logger
	dropped     atomic.Int64
}

// NewServer creates an event stream over bus. subscribers tracks open
// connections and may be nil.
func NewServer(bus *events.Bus, cfg Config, subscribers prometheus.Gauge, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		bus:         bus,
		cfg:         cfg,
		subscribers: subscribers,
		logger:      logger,
	}
}

// Dropped returns the number of events discarded because a client queue was
// full.
func (s *Server) Dropped() int64 { return s.dropped.Load() }

// ServeHTTP handles GET /v1/events?type=<event type>&replay=<n>.
// The API key is read from the Authorization header or the token query
// parameter, since browsers cannot set headers on WebSocket requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	eventType := q.Get("type")
	if eventType == "" {
		eventType = events.All
	}
	replay, _ := strconv.Atoi(q.Get("replay"))
	replay = min(max(replay, 0), maxReplay)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	s.handleConnection(r.Context(), conn, eventType, replay)
}

func (s *Server) authorized(r *http.Request) bool {
	if len(s.cfg.APIKeys) == 0 {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return false
	}
	ok := false
	for _, key := range s.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, eventType string, replay int) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	// The stream is write-only; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx = conn.CloseRead(ctx)

	queue := make(chan events.Event, s.cfg.buffer())
	unsubscribe := s.bus.Subscribe(eventType, func(e events.Event) {
		select {
		case queue <- e:
		default:
			s.dropped.Add(1)
		}
	})
	defer unsubscribe()

	if s.subscribers != nil {
		s.subscribers.Inc()
		defer s.subscribers.Dec()
	}
	s.logger.Info("event stream connected",
		slog.String("event_type", eventType),
		slog.Int("replay", replay),
	)

	if replay > 0 {
		for _, e := range s.bus.History(eventType, replay) {
			if err := s.writeEvent(ctx, conn, e); err != nil {
				return
			}
		}
	}

	ticker := time.NewTicker(s.cfg.heartbeat())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event stream disconnected", slog.String("event_type", eventType))
			return
		case e := <-queue:
			if err := s.writeEvent(ctx, conn, e); err != nil {
				s.logger.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.logger.Debug("event stream ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
