// Package server exposes the selection API over HTTP: submitting
// workflows, reading run status, and the poll endpoint that reconciles a
// run's health before answering.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sortitionfoundation/opendlp/async"
	"github.com/sortitionfoundation/opendlp/errors"
	"github.com/sortitionfoundation/opendlp/selection"
)

// actorHeader carries the requesting user's id. Authentication itself is
// handled upstream; the API trusts the header.
const actorHeader = "X-User-ID"

// QueueInspector exposes the substrate's observable state for the stats
// endpoint. *async.Queue satisfies it.
type QueueInspector interface {
	GetStats() (*async.QueueStats, error)
	ListActiveJobs(limit int) ([]*async.Job, error)
}

// activeJobsLimit bounds the active-job listing in the stats response
const activeJobsLimit = 100

// Server is the HTTP API server
type Server struct {
	dispatcher *selection.Dispatcher
	status     *selection.StatusService
	health     *selection.HealthMonitor
	queue      QueueInspector
	logger     *zap.SugaredLogger
	httpServer *http.Server
}

// NewServer creates the API server listening on the given port
func NewServer(port int, dispatcher *selection.Dispatcher, status *selection.StatusService, health *selection.HealthMonitor, queue QueueInspector, logger *zap.SugaredLogger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		status:     status,
		health:     health,
		queue:      queue,
		logger:     logger,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/assemblies/", s.handleAssemblies)
	mux.HandleFunc("/api/selection/runs/", s.handleRuns)
	mux.HandleFunc("/api/selection/stats", s.handleStats)
	return mux
}

// Start runs the HTTP server until Shutdown is called
func (s *Server) Start() error {
	s.logger.Infow("Starting API server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// submitRequest is the optional body of a submit call. Select workflows
// require a positive target count.
type submitRequest struct {
	TargetCount int `json:"target_count"`
}

// handleAssemblies routes POST /api/assemblies/{id}/selection/{workflow}
func (s *Server) handleAssemblies(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	parts := extractPathParts(r.URL.Path, "/api/assemblies/")
	if len(parts) != 3 || parts[0] == "" || parts[1] != "selection" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	assemblyID, workflow := parts[0], parts[2]

	if !selection.IsValidTaskType(workflow) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown workflow %q", workflow))
		return
	}

	actorID := r.Header.Get(actorHeader)
	if actorID == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+actorHeader+" header")
		return
	}

	var req submitRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			return
		}
	}

	taskID, err := s.dispatcher.Submit(r.Context(), actorID, assemblyID, selection.TaskType(workflow), req.TargetCount)
	if err != nil {
		s.logger.Warnw("Submit rejected",
			"assembly_id", assemblyID,
			"workflow", workflow,
			"user_id", actorID,
			"error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// handleRuns routes GET /api/selection/runs/{task_id} and
// GET /api/selection/runs/{task_id}/poll
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	parts := extractPathParts(r.URL.Path, "/api/selection/runs/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.serveStatus(w, parts[0])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "poll":
		s.servePoll(w, parts[0])
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// activeJobView is the trimmed job summary in the stats response; the
// full payload stays internal to the substrate
type activeJobView struct {
	ID      string          `json:"id"`
	Handler string          `json:"handler"`
	Status  async.JobStatus `json:"status"`
	Source  string          `json:"source"`
}

type statsResponse struct {
	Stats      async.QueueStats `json:"stats"`
	ActiveJobs []activeJobView  `json:"active_jobs"`
}

// handleStats serves GET /api/selection/stats: queue counters plus a
// summary of the jobs currently queued or running
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.queue.GetStats()
	if err != nil {
		s.logger.Errorw("Stats lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}

	active, err := s.queue.ListActiveJobs(activeJobsLimit)
	if err != nil {
		s.logger.Errorw("Active jobs lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list active jobs")
		return
	}

	views := make([]activeJobView, 0, len(active))
	for _, job := range active {
		views = append(views, activeJobView{
			ID:      job.ID,
			Handler: job.HandlerName,
			Status:  job.Status,
			Source:  job.Source,
		})
	}

	writeJSON(w, http.StatusOK, statsResponse{Stats: *stats, ActiveJobs: views})
}

func (s *Server) serveStatus(w http.ResponseWriter, taskID string) {
	view, err := s.status.GetStatus(taskID)
	if err != nil {
		s.logger.Errorw("Status lookup failed", "task_id", taskID, "error", err)
		writeDomainError(w, err)
		return
	}
	if !view.Known {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown run %s", taskID))
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// servePoll reconciles the run against the substrate before answering, so
// a client polling an orphaned run sees it fail instead of hanging forever
func (s *Server) servePoll(w http.ResponseWriter, taskID string) {
	forceFailed, err := s.health.Check(taskID)
	if err != nil && !errors.IsNotFoundError(err) {
		s.logger.Errorw("Health check failed", "task_id", taskID, "error", err)
		writeDomainError(w, err)
		return
	}
	if forceFailed {
		s.logger.Warnw("Poll force-failed orphaned run", "task_id", taskID)
	}

	s.serveStatus(w, taskID)
}
