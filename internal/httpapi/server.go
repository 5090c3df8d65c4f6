// Package httpapi exposes the scheduling service over HTTP: job CRUD,
// workbench uploads, manual runs, run history, the log viewer, and the
// static UI.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"fmesched/internal/engine"
	"fmesched/internal/job"
	"fmesched/internal/storage"
	logx "fmesched/pkg/logx"
)

type Config struct {
	Addr       string
	PublicDir  string
	LogsDir    string
	ScriptsDir string

	// RunRatePerMin throttles POST /api/run-script.
	RunRatePerMin int
	// MaxUploadMB caps one workbench upload.
	MaxUploadMB int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	cfg Config
	log logx.Logger
	eng *engine.Engine

	store *job.Store
	runs  storage.Store // nil when history is disabled

	runLimiter *rate.Limiter
	srv        *http.Server
}

func New(cfg Config, eng *engine.Engine, store *job.Store, runs storage.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RunRatePerMin <= 0 {
		cfg.RunRatePerMin = 10
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 50
	}
	s := &Server{
		cfg:   cfg,
		log:   log,
		eng:   eng,
		store: store,
		runs:  runs,
		// Burst equals the per-minute budget so short bursts don't starve the UI.
		runLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RunRatePerMin)/60.0), cfg.RunRatePerMin),
	}
	return s
}

// Handler builds the full route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/scripts", s.handleListScripts)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/schedule", s.handleSchedule)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDeleteJob)
	mux.HandleFunc("POST /api/run-script", s.handleRunScript)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/logs/list", s.handleListLogs)
	mux.HandleFunc("GET /api/logs/{filename}", s.handleReadLog)

	if s.cfg.PublicDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.PublicDir)))
	}
	return s.logRequests(mux)
}

// Start serves in the background; startup failures surface via errCh.
func (s *Server) Start(errCh chan<- error) {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		err := s.srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			if errCh != nil {
				errCh <- err
			}
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if r.URL.Path == "/" || len(r.URL.Path) < 5 || r.URL.Path[:5] != "/api/" {
			return
		}
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", sw.status),
			logx.Duration("took", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
