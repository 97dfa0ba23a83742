package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appaudits "github.com/Bevor-Protocol/certaik-api/internal/application/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/ai"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/middleware"
)

// AuditService is the part of the audit service the HTTP surface uses
type AuditService interface {
	Submit(ctx context.Context, cmd appaudits.SubmitCommand) (*audits.Job, error)
	Run(ctx context.Context, id audits.JobID) (*appaudits.RunResult, error)
	Get(ctx context.Context, id audits.JobID) (*audits.Job, error)
	List(ctx context.Context, status audits.Status, limit int) ([]*audits.Job, error)
	Checkpoints(ctx context.Context, id audits.JobID) ([]*audits.Checkpoint, error)
	Findings(ctx context.Context, id audits.JobID) ([]*audits.Finding, error)
	Markdown(ctx context.Context, id audits.JobID) (string, error)
	SubmitFeedback(ctx context.Context, cmd appaudits.FeedbackCommand) error
}

type Options struct {
	CorsOrigins []string
	Checkers    map[string]middleware.Checker
}

// Router serves the audit API. Runs it starts in the background are tracked
// until Drain.
type Router struct {
	svc AuditService
	log *zap.Logger
	mux http.Handler
	// runAsync starts a run detached from the request
	runAsync func(id audits.JobID)

	runs   sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc
}

func NewRouter(svc AuditService, log *zap.Logger, opts Options) *Router {
	r := &Router{svc: svc, log: log}
	r.base, r.cancel = context.WithCancel(context.Background())
	r.runAsync = r.runInBackground

	origins := opts.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(log))
	mux.Use(middleware.Metrics)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.ReadyHandler(opts.Checkers))
	mux.Get("/health/live", middleware.LiveHandler)
	mux.Method(http.MethodGet, "/metrics", middleware.MetricsHandler())

	mux.Route("/v1/audits", func(rt chi.Router) {
		rt.Post("/", r.wrap(r.handleSubmit))
		rt.Get("/", r.wrap(r.handleList))
		rt.Get("/{id}", r.wrap(r.handleGet))
		rt.Get("/{id}/steps", r.wrap(r.handleSteps))
		rt.Get("/{id}/findings", r.wrap(r.handleFindings))
		rt.Post("/{id}/run", r.wrap(r.handleRun))
	})
	mux.Post("/v1/findings/{id}/feedback", r.wrap(r.handleFeedback))

	r.mux = mux
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Drain waits for background runs to return. When ctx ends first the runs
// are cancelled and ctx.Err() is returned.
func (r *Router) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, audits.ErrJobNotFound), errors.Is(err, audits.ErrFindingNotFound), errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, appaudits.ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, appaudits.ErrJobRunning):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, ai.ErrQuotaExceeded):
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
			default:
				r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func jobID(req *http.Request) (audits.JobID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateJobID(id); err != nil {
		return "", fmt.Errorf("%w: %v", appaudits.ErrInvalidInput, err)
	}
	return audits.JobID(id), nil
}

// POST /v1/audits
// Body: {"audit_type": "security", "code": "<contract source>"}
// The job is stored as waiting and run in the background.
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	var cmd appaudits.SubmitCommand
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		return fmt.Errorf("%w: %v", appaudits.ErrInvalidInput, err)
	}
	job, err := r.svc.Submit(req.Context(), cmd)
	if err != nil {
		return err
	}
	r.runAsync(job.ID)
	return writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID, "status": job.Status})
}

// GET /v1/audits?status=&limit=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	status := audits.Status(req.URL.Query().Get("status"))
	if status == "" {
		status = audits.StatusWaiting
	}
	jobs, err := r.svc.List(req.Context(), status, middleware.ValidateLimit(req.URL.Query().Get("limit")))
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []*audits.Job{}
	}
	return writeJSON(w, http.StatusOK, jobs)
}

type jobView struct {
	*audits.Job
	Markdown string `json:"markdown,omitempty"`
}

// GET /v1/audits/{id}
// The rendered markdown report is included once the job has a parsed report.
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := jobID(req)
	if err != nil {
		return err
	}
	job, err := r.svc.Get(req.Context(), id)
	if err != nil {
		return err
	}
	view := jobView{Job: job}
	if job.Status.Terminal() {
		md, err := r.svc.Markdown(req.Context(), id)
		switch {
		case err == nil:
			view.Markdown = md
		case !errors.Is(err, appaudits.ErrReportUnavailable):
			return err
		}
	}
	return writeJSON(w, http.StatusOK, view)
}

// GET /v1/audits/{id}/steps
func (r *Router) handleSteps(w http.ResponseWriter, req *http.Request) error {
	id, err := jobID(req)
	if err != nil {
		return err
	}
	steps, err := r.svc.Checkpoints(req.Context(), id)
	if err != nil {
		return err
	}
	if steps == nil {
		steps = []*audits.Checkpoint{}
	}
	return writeJSON(w, http.StatusOK, steps)
}

// GET /v1/audits/{id}/findings
func (r *Router) handleFindings(w http.ResponseWriter, req *http.Request) error {
	id, err := jobID(req)
	if err != nil {
		return err
	}
	findings, err := r.svc.Findings(req.Context(), id)
	if err != nil {
		return err
	}
	if findings == nil {
		findings = []*audits.Finding{}
	}
	return writeJSON(w, http.StatusOK, findings)
}

// POST /v1/audits/{id}/run re-runs an existing job in the background
func (r *Router) handleRun(w http.ResponseWriter, req *http.Request) error {
	id, err := jobID(req)
	if err != nil {
		return err
	}
	job, err := r.svc.Get(req.Context(), id)
	if err != nil {
		return err
	}
	if job.Status == audits.StatusProcessing {
		return fmt.Errorf("%w: %s", appaudits.ErrJobRunning, id)
	}
	r.runAsync(id)
	return writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": audits.StatusProcessing})
}

// POST /v1/findings/{id}/feedback
// Body: {"verified": true, "feedback": "optional note"}
func (r *Router) handleFeedback(w http.ResponseWriter, req *http.Request) error {
	var cmd appaudits.FeedbackCommand
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		return fmt.Errorf("%w: %v", appaudits.ErrInvalidInput, err)
	}
	cmd.FindingID = chi.URLParam(req, "id")
	if err := r.svc.SubmitFeedback(req.Context(), cmd); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// runInBackground runs on the router's own context so the run outlives the request
func (r *Router) runInBackground(id audits.JobID) {
	r.runs.Add(1)
	go func() {
		defer r.runs.Done()
		if _, err := r.svc.Run(r.base, id); err != nil {
			r.log.Warn("background audit failed", zap.String("job_id", string(id)), zap.Error(err))
		}
	}()
}
