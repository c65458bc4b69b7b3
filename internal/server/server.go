// Package server hosts a runner over HTTP: JSON control endpoints and a
// WebSocket stream of observation events.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustyeddy/spottrader/engine"
)

const (
	writeWait       = 10 * time.Second
	subscriberQueue = 64
	shutdownTimeout = 5 * time.Second
)

// Engine is the part of *engine.Runner the server drives.
type Engine interface {
	Start() error
	Stop()
	RequestExit()
	Status() engine.Status
	Events() <-chan engine.Event
}

type Server struct {
	eng      Engine
	log      *slog.Logger
	token    string
	metrics  prometheus.Gatherer
	hub      *hub[engine.Event]
	upgrader websocket.Upgrader

	quitOnce sync.Once
	quit     chan struct{}
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithToken requires "Authorization: Bearer <token>" on every request.
// Browsers cannot set headers on a WebSocket dial, so ?token= is accepted
// as well.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithGatherer serves g at GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.metrics = g }
}

func New(eng Engine, opts ...Option) *Server {
	s := &Server{
		eng:      eng,
		log:      slog.Default(),
		hub:      newHub[engine.Event](),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		quit:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type outboundMessage struct {
	Type string       `json:"type"`
	Data engine.Event `json:"data"`
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)
	r.Use(s.withAuth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/exit", s.handleExit)
		r.Get("/events", s.handleEvents)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
	return r
}

// Pump forwards runner events to stream subscribers until ctx is done.
// The server must be the only consumer of the runner's event channel.
func (s *Server) Pump(ctx context.Context) {
	events := s.eng.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.hub.Broadcast(ev)
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// and closes open event streams.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.Pump(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ends all open event streams.
func (s *Server) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Start(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, engine.ErrConfiguration) || errors.Is(err, engine.ErrStopping) {
			code = http.StatusConflict
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.eng.Stop()
	writeJSON(w, http.StatusAccepted, s.eng.Status())
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	st := s.eng.Status()
	if !st.Running {
		writeError(w, http.StatusConflict, errors.New("engine is not running"))
		return
	}
	s.eng.RequestExit()
	writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(subscriberQueue)
	defer s.hub.Unsubscribe(sub)

	// reads only detect the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(outboundMessage{Type: "event", Data: ev}); err != nil {
				return
			}
		}
	}
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		var token string
		if h := r.Header.Get("Authorization"); h != "" {
			scheme, rest, ok := strings.Cut(h, " ")
			if ok && strings.EqualFold(scheme, "Bearer") {
				token = strings.TrimSpace(rest)
			}
		} else {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"dur", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
