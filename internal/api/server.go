// Package api provides the HTTP and WebSocket API-tier server: the
// submission boundary from SPEC_FULL.md §6 (submit_job, cancel_job,
// get_job) plus a progress-streaming websocket. Grounded on the donor
// internal/api/server.go's mux/cors/websocket-upgrade shape; the
// backtest-centric handlers are replaced with the job-lifecycle ones this
// core actually exposes. The API tier never runs a trial itself
// (SPEC_FULL.md §5): every handler here only reads/writes the job store
// and queue.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/pkg/errs"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// JobStore is the subset of internal/store.JobStore the API tier needs,
// kept as an interface so handlers are testable without a live database.
type JobStore interface {
	Insert(ctx context.Context, req types.SubmitJobRequest) (string, error)
	Get(ctx context.Context, jobID string) (types.TrainingJob, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
}

// Enqueuer is the subset of internal/queue.Queue the API tier needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
	CancelToken(ctx context.Context, jobID string) error
}

// Config parameterizes the HTTP server itself (host/port/timeouts,
// websocket path), distinct from pkg/config.Config which also covers the
// worker tier.
type Config struct {
	Host          string
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	WebSocketPath string
}

func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          8080,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		WebSocketPath: "/ws",
	}
}

// Server is the job-submission HTTP/WebSocket API.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	jobs  JobStore
	queue Enqueuer
	hub   *Hub
}

func NewServer(logger *zap.Logger, cfg Config, jobs JobStore, queue Enqueuer) *Server {
	hub := NewHub(logger)
	s := &Server{
		logger: logger,
		config: cfg,
		router: mux.NewRouter(),
		jobs:   jobs,
		queue:  queue,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Router exposes the mux.Router for tests. /metrics is not on this router;
// cmd/apiserver/main.go serves it on a separate listener.
func (s *Server) Router() *mux.Router { return s.router }

// Hub exposes the websocket hub so a progress poller can push job updates.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/jobs", s.handleSubmitJob).Methods("POST")
	s.router.HandleFunc("/api/v1/jobs/{id}", s.handleGetJob).Methods("GET")
	s.router.HandleFunc("/api/v1/jobs/{id}/cancel", s.handleCancelJob).Methods("POST")
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server and the hub's broadcast loop until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()

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

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleSubmitJob is the submit_job boundary from SPEC_FULL.md §6: validate,
// write PENDING, enqueue. Unknown strategy names are rejected here, never
// enqueued (InvalidRequest's fixed propagation policy).
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.ApplyDefaults()

	if err := validateSubmission(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.jobs.Insert(r.Context(), req)
	if err != nil {
		s.logger.Error("job insert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := s.queue.Enqueue(r.Context(), jobID); err != nil {
		s.logger.Error("enqueue failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// validateSubmission checks the strategy name, symbol, exchange, timeframe,
// optimizer kind and n_iterations at the submission boundary, rejecting
// before any job row is created. The regime is not checked.
func validateSubmission(req types.SubmitJobRequest) error {
	validStrategy := false
	for _, n := range types.RegisteredStrategyNames {
		if req.StrategyName == n {
			validStrategy = true
			break
		}
	}
	if !validStrategy {
		return &errs.InvalidRequestError{
			Field:  "strategy_name",
			Reason: fmt.Sprintf("unknown strategy %q: valid names are %v", req.StrategyName, types.RegisteredStrategyNames),
		}
	}
	if req.Symbol == "" {
		return &errs.InvalidRequestError{Field: "symbol", Reason: "required"}
	}
	if req.Exchange == "" {
		return &errs.InvalidRequestError{Field: "exchange", Reason: "required"}
	}
	if !req.Timeframe.Valid() {
		return &errs.InvalidRequestError{Field: "timeframe", Reason: fmt.Sprintf("unsupported timeframe %q", req.Timeframe)}
	}
	switch req.OptimizerKind {
	case types.OptimizerGrid, types.OptimizerRandom, types.OptimizerBayesian:
	default:
		return &errs.InvalidRequestError{Field: "optimizer_kind", Reason: fmt.Sprintf("unknown optimizer %q", req.OptimizerKind)}
	}
	if req.NIterations <= 0 {
		return &errs.InvalidRequestError{Field: "n_iterations", Reason: "must be positive"}
	}
	return nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob marks the job CANCELLED and best-effort cancels its
// queue token (step 1-2 of the cancellation path; steps 3-5 are the
// worker-tier kill path in internal/runtime).
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := s.jobs.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "job already terminal or not found")
		return
	}
	if err := s.queue.CancelToken(r.Context(), id); err != nil {
		s.logger.Warn("queue token cancel failed", zap.String("job_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
