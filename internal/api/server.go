// Package api provides the HTTP and WebSocket server around the
// backtest orchestrator.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/config"
	"github.com/meridianquant/backtester/internal/orchestrator"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host          string
	Port          int
	WebSocketPath string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultServerConfig returns the conventional local setup.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:          "localhost",
		Port:          8080,
		WebSocketPath: "/ws",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*client
	orch       *orchestrator.Orchestrator
	backtests  map[string]*backtestState
	metrics    *Metrics
	registry   *prometheus.Registry
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

type backtestState struct {
	ID       string                  `json:"id"`
	Status   string                  `json:"status"`
	Started  time.Time               `json:"started"`
	Finished time.Time               `json:"finished,omitempty"`
	Report   *orchestrator.RunReport `json:"report,omitempty"`
	Error    string                  `json:"error,omitempty"`

	cancel context.CancelFunc
}

// event is a WebSocket broadcast message.
type event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Method    string `json:"method"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewServer creates an API server around an orchestrator.
func NewServer(logger *zap.Logger, cfg *ServerConfig, orch *orchestrator.Orchestrator) *Server {
	registry := prometheus.NewRegistry()
	s := &Server{
		logger:    logger,
		config:    cfg,
		router:    mux.NewRouter(),
		clients:   make(map[string]*client),
		orch:      orch,
		backtests: make(map[string]*backtestState),
		metrics:   NewMetrics(registry),
		registry:  registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.setupRoutes()
	return s
}

// Router exposes the mux for additional handler registration.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/cancel", s.handleCancelBacktest).Methods("POST")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server until it fails or is stopped.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleRunBacktest accepts a request document, starts the run in the
// background and returns its id immediately.
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.Wrap(apperr.CodeParsingFailed, "cannot read body", err))
		return
	}
	req, err := config.ParseRequest(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	config.ApplyDefaults(req.Config)
	if err := config.Validate(req.Config); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	state := &backtestState{
		ID:      uuid.New().String(),
		Status:  "running",
		Started: time.Now(),
		cancel:  cancel,
	}
	s.mu.Lock()
	s.backtests[state.ID] = state
	s.mu.Unlock()
	s.metrics.BacktestsStarted.Inc()

	go func() {
		report, err := s.orch.Run(runCtx, req.Config)
		finished := time.Now()

		s.mu.Lock()
		state.Finished = finished
		if err != nil {
			if runCtx.Err() != nil {
				state.Status = "cancelled"
			} else {
				state.Status = "failed"
			}
			state.Error = err.Error()
			s.logger.Error("backtest failed", zap.String("id", state.ID), zap.Error(err))
		} else {
			state.Status = "completed"
			state.Report = report
		}
		status := state.Status
		s.mu.Unlock()

		s.metrics.BacktestsByStatus.WithLabelValues(status).Inc()
		s.metrics.BacktestDuration.Observe(finished.Sub(state.Started).Seconds())

		s.broadcast(&event{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "backtest:complete",
			Payload:   map[string]any{"id": state.ID, "status": status},
			Timestamp: finished.UnixMilli(),
		})
	}()

	// state.Status may already have moved on; the accepted answer is
	// always the starting state.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     state.ID,
		"status": "running",
	})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	// Copy under the lock; the background runner mutates the stored
	// state when the backtest finishes.
	s.mu.RLock()
	state, ok := s.backtests[id]
	var snapshot backtestState
	if ok {
		snapshot = *state
	}
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, apperr.Newf(apperr.CodeConfigInvalid, "unknown backtest %s", id))
		return
	}
	writeJSON(w, http.StatusOK, &snapshot)
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	state, ok := s.backtests[id]
	if ok && state.Status == "running" {
		state.cancel()
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, apperr.Newf(apperr.CodeConfigInvalid, "unknown backtest %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelling": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    string(apperr.CodeOf(err)),
			"message": err.Error(),
		},
	})
}
