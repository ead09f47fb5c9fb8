package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/solrunner/walletrank/internal/config"
	"github.com/solrunner/walletrank/internal/pipeline"
	"github.com/solrunner/walletrank/internal/taskgraph"
	"github.com/solrunner/walletrank/internal/watchlist"
)

// Pinger reports backend connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats exposes the API key pool state.
type PoolStats interface {
	Counts() (active, cooling, failed int)
	Size() int
}

// ResultReader fetches job results for the results endpoint.
type ResultReader interface {
	GetJobResult(ctx context.Context, jobID string, out interface{}) error
}

// Deps wires the server's backends. Watchlist may be nil when postgres
// is disabled.
type Deps struct {
	Cfg       *config.Config
	Redis     Pinger
	Pool      PoolStats
	Results   ResultReader
	Queue     pipeline.Enqueuer
	Watchlist watchlist.Repo
}

// Server is the read-mostly HTTP surface: submit an analysis, poll its
// result, inspect health, manage watchlists.
type Server struct {
	router *mux.Router
	server *http.Server
	deps   Deps
}

// NewServer builds the server and its routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()

	addr := fmt.Sprintf(":%d", deps.Cfg.HTTP.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  deps.Cfg.HTTP.ReadTimeout,
		WriteTimeout: deps.Cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	api.HandleFunc("/results/{id}", s.handleResult).Methods("GET")

	api.HandleFunc("/watchlist/{user}", s.handleWatchlistList).Methods("GET")
	api.HandleFunc("/watchlist/{user}", s.handleWatchlistUpsert).Methods("POST")
	api.HandleFunc("/watchlist/{user}/{wallet}", s.handleWatchlistRemove).Methods("DELETE")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.NotFoundHandler = http.HandlerFunc(notFound)
}

// Start blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// handleAnalyze validates the request body and enqueues a request-level
// analysis job. The response carries the job ID to poll on /results.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := taskgraph.NewJob(taskgraph.QueueCompute, pipeline.FuncAnalyzeRequest, struct {
		Request pipeline.AnalysisRequest `json:"request"`
	}{Request: req})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build job")
		return
	}
	if err := s.deps.Queue.Push(r.Context(), job); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]interface{}{
		"job_id": job.ID,
		"tokens": len(req.Tokens),
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var result json.RawMessage
	if err := s.deps.Results.GetJobResult(r.Context(), id, &result); err != nil {
		writeError(w, http.StatusNotFound, "result not ready or expired")
		return
	}
	writeJSON(w, map[string]interface{}{"job_id": id, "result": result})
}

func (s *Server) handleWatchlistList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watchlist == nil {
		writeError(w, http.StatusNotImplemented, "watchlist store disabled")
		return
	}
	entries, err := s.deps.Watchlist.List(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "watchlist read failed")
		return
	}
	writeJSON(w, map[string]interface{}{"entries": entries, "count": len(entries)})
}

func (s *Server) handleWatchlistUpsert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watchlist == nil {
		writeError(w, http.StatusNotImplemented, "watchlist store disabled")
		return
	}
	var e watchlist.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	e.UserID = mux.Vars(r)["user"]
	if e.Wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}
	if err := s.deps.Watchlist.Upsert(r.Context(), &e); err != nil {
		writeError(w, http.StatusInternalServerError, "watchlist write failed")
		return
	}
	writeJSON(w, e)
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watchlist == nil {
		writeError(w, http.StatusNotImplemented, "watchlist store disabled")
		return
	}
	vars := mux.Vars(r)
	err := s.deps.Watchlist.Remove(r.Context(), vars["user"], vars["wallet"])
	if err == watchlist.ErrNotFound {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "watchlist delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": msg})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "unknown route")
}
