package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aretw0/callpath"
	"github.com/aretw0/callpath/internal/logging"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/go-chi/chi/v5"
)

// Engine defines the callpath operations exposed over HTTP.
type Engine interface {
	Start(ctx context.Context, pipeline string, in callpath.Input, opts ...callpath.RunOption) (string, error)
	StartAsync(ctx context.Context, pipeline string, in callpath.Input, opts ...callpath.RunOption) (string, ports.Handle, error)
	Resume(ctx context.Context, itemID int64, point domain.RestartPoint, opts ...callpath.RunOption) (string, error)
	ResumeAsync(ctx context.Context, itemID int64, point domain.RestartPoint, opts ...callpath.RunOption) (string, ports.Handle, error)
	Restart(ctx context.Context, runID string, opts ...callpath.RunOption) (string, error)
	RestartAsync(ctx context.Context, runID string, opts ...callpath.RunOption) (string, ports.Handle, error)

	CreateItem(ctx context.Context, payload map[string]any) (*domain.Item, error)
	Item(ctx context.Context, id int64) (*domain.Item, error)
	Items(ctx context.Context, filter ports.ItemFilter) ([]*domain.Item, error)
	DeleteItem(ctx context.Context, id int64, hard bool) error
	Run(ctx context.Context, id string) (*domain.Run, error)
	Runs(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error)
	DeleteRun(ctx context.Context, id string) error
	Pipelines() []string
	CurrentTask(ctx context.Context, item *domain.Item) (domain.TaskInfo, error)
}

// Server serves the callpath REST API.
type Server struct {
	Engine  Engine
	Streams *StreamManager
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStreams shares a StreamManager, typically one whose Hooks are
// installed on the engine.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{Engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(WithStreamLogger(s.logger))
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/pipelines", s.ListPipelines)
	r.Post("/pipelines/{name}/runs", s.StartRun)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.ListRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.GetRun)
			r.Delete("/", s.DeleteRun)
			r.Get("/items", s.ListRunItems)
			r.Post("/restart", s.RestartRun)
			r.Get("/events", s.SubscribeEvents)
		})
	})

	r.Route("/items", func(r chi.Router) {
		r.Get("/", s.ListItems)
		r.Post("/", s.CreateItem)
		r.Route("/{itemID}", func(r chi.Router) {
			r.Get("/", s.GetItem)
			r.Delete("/", s.DeleteItem)
			r.Post("/resume", s.ResumeItem)
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartRequest is the body of POST /pipelines/{name}/runs.
type StartRequest struct {
	Data       []map[string]any `json:"data,omitempty"`
	ItemIDs    []int64          `json:"item_ids,omitempty"`
	StopOnHalt bool             `json:"stop_on_halt,omitempty"`
	Async      bool             `json:"async,omitempty"`
}

// ResumeRequest is the body of POST /items/{itemID}/resume.
type ResumeRequest struct {
	Point      string `json:"point,omitempty"`
	StopOnHalt bool   `json:"stop_on_halt,omitempty"`
	Async      bool   `json:"async,omitempty"`
}

// RestartRequest is the optional body of POST /runs/{runID}/restart.
type RestartRequest struct {
	StopOnHalt bool `json:"stop_on_halt,omitempty"`
	Async      bool `json:"async,omitempty"`
}

// RunResponse reports the outcome of start, resume and restart. Error holds
// step failures and interrupts: the run itself was processed and persisted.
type RunResponse struct {
	RunID  string       `json:"run_id"`
	JobID  string       `json:"job_id,omitempty"`
	Status string       `json:"status,omitempty"`
	Run    *domain.Run  `json:"run,omitempty"`
	Error  string       `json:"error,omitempty"`
	Items  []*ItemState `json:"items,omitempty"`
}

// ItemState is an item together with the task it is positioned at.
type ItemState struct {
	*domain.Item
	Task *domain.TaskInfo `json:"task,omitempty"`
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "callpath-http",
		"version": strings.TrimSpace(callpath.Version),
	})
}

// ListPipelines handles GET /pipelines.
func (s *Server) ListPipelines(w http.ResponseWriter, r *http.Request) {
	names := s.Engine.Pipelines()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// StartRun handles POST /pipelines/{name}/runs.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "StartRun", err)
		return
	}
	name := chi.URLParam(r, "name")
	in := callpath.Input{Data: body.Data, ItemIDs: body.ItemIDs}
	opt := callpath.StopOnHalt(body.StopOnHalt)

	if body.Async {
		runID, h, err := s.Engine.StartAsync(r.Context(), name, in, opt)
		s.accepted(w, r, "StartRun", runID, h, err)
		return
	}
	runID, err := s.Engine.Start(r.Context(), name, in, opt)
	s.finished(w, r, "StartRun", runID, err)
}

// ResumeItem handles POST /items/{itemID}/resume.
func (s *Server) ResumeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var body ResumeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.badRequest(w, "ResumeItem", err)
			return
		}
	}
	point := domain.ContinueNext
	if body.Point != "" {
		p, err := domain.ParseRestartPoint(body.Point)
		if err != nil {
			s.badRequest(w, "ResumeItem", err)
			return
		}
		point = p
	}
	opt := callpath.StopOnHalt(body.StopOnHalt)

	if body.Async {
		runID, h, err := s.Engine.ResumeAsync(r.Context(), id, point, opt)
		s.accepted(w, r, "ResumeItem", runID, h, err)
		return
	}
	runID, err := s.Engine.Resume(r.Context(), id, point, opt)
	s.finished(w, r, "ResumeItem", runID, err)
}

// RestartRun handles POST /runs/{runID}/restart.
func (s *Server) RestartRun(w http.ResponseWriter, r *http.Request) {
	var body RestartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.badRequest(w, "RestartRun", err)
			return
		}
	}
	runID := chi.URLParam(r, "runID")
	opt := callpath.StopOnHalt(body.StopOnHalt)

	if body.Async {
		_, h, err := s.Engine.RestartAsync(r.Context(), runID, opt)
		s.accepted(w, r, "RestartRun", runID, h, err)
		return
	}
	_, err := s.Engine.Restart(r.Context(), runID, opt)
	s.finished(w, r, "RestartRun", runID, err)
}

// ListRuns handles GET /runs?pipeline=&status=.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ports.RunFilter{Pipeline: q.Get("pipeline")}
	for _, st := range splitList(q.Get("status")) {
		filter.Status = append(filter.Status, domain.RunStatus(strings.ToUpper(st)))
	}
	runs, err := s.Engine.Runs(r.Context(), filter)
	if err != nil {
		s.fail(w, "ListRuns", err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /runs/{runID}.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Engine.Run(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, "GetRun", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// DeleteRun handles DELETE /runs/{runID}.
func (s *Server) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.DeleteRun(r.Context(), chi.URLParam(r, "runID")); err != nil {
		s.fail(w, "DeleteRun", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRunItems handles GET /runs/{runID}/items.
func (s *Server) ListRunItems(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.Engine.Run(r.Context(), runID); err != nil {
		s.fail(w, "ListRunItems", err)
		return
	}
	filter, err := itemFilter(r)
	if err != nil {
		s.badRequest(w, "ListRunItems", err)
		return
	}
	filter.RunID = runID
	s.writeItems(w, r, filter)
}

// ListItems handles GET /items?run_id=&status=&parent_id=&top_level=&deleted=.
func (s *Server) ListItems(w http.ResponseWriter, r *http.Request) {
	filter, err := itemFilter(r)
	if err != nil {
		s.badRequest(w, "ListItems", err)
		return
	}
	s.writeItems(w, r, filter)
}

// CreateItem handles POST /items with the payload as body.
func (s *Server) CreateItem(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.badRequest(w, "CreateItem", err)
		return
	}
	item, err := s.Engine.CreateItem(r.Context(), payload)
	if err != nil {
		s.fail(w, "CreateItem", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// GetItem handles GET /items/{itemID}.
func (s *Server) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	item, err := s.Engine.Item(r.Context(), id)
	if err != nil {
		s.fail(w, "GetItem", err)
		return
	}
	writeJSON(w, http.StatusOK, s.describe(r.Context(), item))
}

// DeleteItem handles DELETE /items/{itemID}?hard=true.
func (s *Server) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))
	if err := s.Engine.DeleteItem(r.Context(), id, hard); err != nil {
		s.fail(w, "DeleteItem", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -- Helpers --

func (s *Server) writeItems(w http.ResponseWriter, r *http.Request, filter ports.ItemFilter) {
	items, err := s.Engine.Items(r.Context(), filter)
	if err != nil {
		s.fail(w, "ListItems", err)
		return
	}
	out := make([]*ItemState, 0, len(items))
	for _, item := range items {
		out = append(out, s.describe(r.Context(), item))
	}
	writeJSON(w, http.StatusOK, out)
}

// describe attaches the current task when the item sits on one.
func (s *Server) describe(ctx context.Context, item *domain.Item) *ItemState {
	state := &ItemState{Item: item}
	if item.RunID == "" || item.Position.IsZero() || item.Status == domain.ItemCompleted {
		return state
	}
	if task, err := s.Engine.CurrentTask(ctx, item); err == nil {
		state.Task = &task
	} else {
		s.logger.Debug("current task unavailable", "item_id", item.ID, "err", err)
	}
	return state
}

// finished reports a synchronous invocation. Step failures and interrupts are
// part of the response: the run exists and has been persisted.
func (s *Server) finished(w http.ResponseWriter, r *http.Request, op, runID string, err error) {
	resp := RunResponse{RunID: runID}
	if err != nil {
		if runID == "" || !isRunOutcome(err) {
			s.fail(w, op, err)
			return
		}
		resp.Error = err.Error()
	}
	run, loadErr := s.Engine.Run(r.Context(), runID)
	if loadErr != nil {
		s.fail(w, op, loadErr)
		return
	}
	resp.Run = run
	resp.Status = string(run.Status)

	items, loadErr := s.Engine.Items(r.Context(), ports.ItemFilter{RunID: runID})
	if loadErr != nil {
		s.fail(w, op, loadErr)
		return
	}
	for _, item := range items {
		resp.Items = append(resp.Items, s.describe(r.Context(), item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) accepted(w http.ResponseWriter, _ *http.Request, op, runID string, h ports.Handle, err error) {
	if err != nil {
		s.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, RunResponse{RunID: runID, JobID: h.ID()})
}

func isRunOutcome(err error) bool {
	var stepErr *domain.StepError
	var interrupt *domain.InterruptError
	var panicErr *domain.PanicError
	return errors.As(err, &stepErr) || errors.As(err, &interrupt) || errors.As(err, &panicErr)
}

func (s *Server) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		s.badRequest(w, "ItemID", fmt.Errorf("invalid item id: %w", err))
		return 0, false
	}
	return id, true
}

func itemFilter(r *http.Request) (ports.ItemFilter, error) {
	q := r.URL.Query()
	filter := ports.ItemFilter{RunID: q.Get("run_id"), DataType: q.Get("data_type")}
	for _, st := range splitList(q.Get("status")) {
		filter.Status = append(filter.Status, domain.ItemStatus(strings.ToUpper(st)))
	}
	if v := q.Get("parent_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid parent_id: %w", err)
		}
		filter.ParentID = &id
	}
	filter.TopLevel, _ = strconv.ParseBool(q.Get("top_level"))
	filter.IncludeDeleted, _ = strconv.ParseBool(q.Get("deleted"))
	return filter, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) badRequest(w http.ResponseWriter, op string, err error) {
	s.logger.Warn(op+": invalid request", "error", err)
	writeError(w, http.StatusBadRequest, err)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	} else {
		s.logger.Warn(op+" rejected", "error", err)
	}
	writeError(w, code, err)
}

func statusFor(err error) int {
	switch {
	case callpath.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMissingData):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrItemCompleted), errors.Is(err, domain.ErrNoRun):
		return http.StatusConflict
	case errors.Is(err, callpath.ErrNoDispatcher):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}
