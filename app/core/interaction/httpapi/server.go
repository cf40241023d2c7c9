// Package httpapi is the REST surface: task submission (sync and async),
// task status and listing, direct handler execution, the business continue
// endpoint, and operational status.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"peeragent/app/core/classify"
	"peeragent/app/core/hub"
	"peeragent/app/core/orchestrator"
	"peeragent/app/core/queue"
	"peeragent/app/core/sweep"
	"peeragent/app/core/taskstore"
	"peeragent/app/core/worker"
	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

// Server hosts the REST API plus any extra handlers mounted on it (the
// websocket channel registers through Mount).
type Server struct {
	port            int
	server          *http.Server
	shutdownTimeout time.Duration
	startedUnix     atomic.Int64

	runner     *worker.Runner
	orch       *orchestrator.Orchestrator
	classifier *classify.Classifier
	store      taskstore.Store
	queue      *queue.Queue
	hub        *hub.Hub
	sweeper    *sweep.Sweeper

	extra map[string]http.Handler
}

func NewServer(port int, runner *worker.Runner, orch *orchestrator.Orchestrator, classifier *classify.Classifier, store taskstore.Store, q *queue.Queue, h *hub.Hub, sweeper *sweep.Sweeper) *Server {
	return &Server{
		port:            port,
		shutdownTimeout: 5 * time.Second,
		runner:          runner,
		orch:            orch,
		classifier:      classifier,
		store:           store,
		queue:           q,
		hub:             h,
		sweeper:         sweeper,
		extra:           make(map[string]http.Handler),
	}
}

// Mount attaches an extra handler at the given path prefix before Start.
func (s *Server) Mount(prefix string, handler http.Handler) {
	s.extra[prefix] = handler
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.startedUnix.Store(time.Now().Unix())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error: %v", err)
		}
	}()

	logger.Info("HTTP listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/execute", s.handleExecute)
	mux.HandleFunc("/api/direct/", s.handleDirect)
	mux.HandleFunc("/api/business/continue", s.handleBusinessContinue)
	mux.HandleFunc("/api/classify", s.handleClassify)
	mux.HandleFunc("/api/tasks", s.handleTaskList)
	mux.HandleFunc("/api/tasks/", s.handleTask)
	mux.HandleFunc("/api/sessions/", s.handleSessionTasks)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	for prefix, handler := range s.extra {
		mux.Handle(prefix, handler)
	}
	return mux
}

type executeRequest struct {
	Task      string                 `json:"task"`
	SessionID string                 `json:"session_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Async     bool                   `json:"async,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Async {
		id, err := s.runner.Submit(r.Context(), req.Task, req.SessionID, req.Context)
		if err != nil {
			writeSubmitError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"task_id": id,
			"status":  string(types.StatusPending),
		})
		return
	}

	id, result, err := s.runner.ExecuteSync(r.Context(), req.Task, req.SessionID, req.Context)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeResult(w, id, result)
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/direct/")
	category, ok := types.ParseCategory(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", raw))
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := s.orch.ExecuteDirect(r.Context(), category, req.Task, req.SessionID, "", req.Context)
	if errors.Is(result.Err, types.ErrEmptyTask) {
		writeError(w, http.StatusBadRequest, result.Err.Error())
		return
	}
	writeResult(w, "", result)
}

type continueRequest struct {
	Task      string            `json:"task"`
	SessionID string            `json:"session_id,omitempty"`
	Rounds    int               `json:"rounds"`
	Answers   map[string]string `json:"answers,omitempty"`
}

// handleBusinessContinue advances a clarification dialogue over plain HTTP
// for clients that do not hold a websocket open.
func (s *Server) handleBusinessContinue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req continueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	answers := make(map[string]interface{}, len(req.Answers))
	for q, a := range req.Answers {
		answers[q] = a
	}

	result := s.orch.ExecuteDirect(r.Context(), types.CategoryBusiness, req.Task, req.SessionID, "", map[string]interface{}{
		"rounds":  req.Rounds,
		"answers": answers,
	})
	if errors.Is(result.Err, types.ErrEmptyTask) {
		writeError(w, http.StatusBadRequest, result.Err.Error())
		return
	}
	writeResult(w, "", result)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, types.ErrEmptyTask.Error())
		return
	}

	category := s.classifier.Classify(r.Context(), req.Task)
	writeJSON(w, http.StatusOK, map[string]interface{}{"category": string(category)})
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	opts := taskstore.ListOptions{}
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		opts.Limit, _ = strconv.Atoi(raw)
	}
	if raw := query.Get("offset"); raw != "" {
		opts.Offset, _ = strconv.Atoi(raw)
	}
	if raw := query.Get("status"); raw != "" {
		status := types.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", raw))
			return
		}
		opts.Status = status
	}

	records, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": recordsOrEmpty(records),
		"count": len(records),
	})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "task id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		record, err := s.store.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)

	case http.MethodDelete:
		existed, err := s.store.Delete(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if !existed {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSessionTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID, tail, found := strings.Cut(rest, "/")
	if sessionID == "" || !found || tail != "tasks" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	records, err := s.store.ListSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"tasks":      recordsOrEmpty(records),
		"count":      len(records),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := map[string]interface{}{
		"uptime_seconds": time.Now().Unix() - s.startedUnix.Load(),
		"connections":    s.hub.Count(),
		"queue":          s.queue.Stats(),
	}
	if stats, err := s.store.Stats(r.Context()); err == nil {
		status["tasks"] = stats
	}
	if s.sweeper != nil {
		status["maintenance"] = s.sweeper.Status()
	}
	writeJSON(w, http.StatusOK, status)
}

func writeResult(w http.ResponseWriter, taskID string, result orchestrator.Result) {
	payload := map[string]interface{}{
		"category": string(result.Category),
	}
	if taskID != "" {
		payload["task_id"] = taskID
	}
	if result.Failed() {
		payload["error"] = result.Err.Error()
		writeJSON(w, http.StatusBadGateway, payload)
		return
	}
	payload["result"] = result.Output
	writeJSON(w, http.StatusOK, payload)
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrEmptyTask):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "queue is full, retry later")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, taskstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, taskstore.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "task store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]interface{}{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

func recordsOrEmpty(records []*taskstore.Record) []*taskstore.Record {
	if records == nil {
		return []*taskstore.Record{}
	}
	return records
}
