package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"toolbridge/internal/database"
	"toolbridge/internal/marshal"
	"toolbridge/internal/messaging"
	"toolbridge/internal/registry"
	"toolbridge/internal/runner"
	"toolbridge/internal/schema"
	"toolbridge/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	registry  *registry.Registry
}

func NewBackendService(db *gorm.DB, pub messaging.Publisher, reg *registry.Registry) *BackendService {
	return &BackendService{db: db, publisher: pub, registry: reg}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/processors", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListProcessors))
		r.Get("/{tool}/fields", RestHandler(s.GetProcessorFields))
	})
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitRun))
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
		r.Post("/{run_id}/cancel", RestHandler(s.CancelRun))
	})
}

func (s *BackendService) ListProcessors(r *http.Request) (any, error) {
	ctx := r.Context()

	adapters := s.registry.List()
	processors := make([]models.Processor, 0, len(adapters))
	for _, a := range adapters {
		p := models.Processor{
			Tool:     a.Tool,
			Title:    a.Title,
			Category: a.Category,
			Remote:   a.IsRemote(),
		}
		if err := s.registry.Preflight(ctx, a); err != nil {
			p.Warning = err.Error()
		}
		processors = append(processors, p)
	}

	return processors, nil
}

func (s *BackendService) GetProcessorFields(r *http.Request) (any, error) {
	tool := chi.URLParam(r, "tool")

	adapter, ok := s.registry.Get(tool)
	if !ok {
		return nil, CodedErrorf(http.StatusNotFound, "unknown processor %s", tool)
	}

	desc, err := s.registry.Describe(r.Context(), tool)
	if err != nil {
		if errors.Is(err, schema.ErrDescription) {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "processor %s: %v", tool, err)
		}
		slog.Error("error describing processor", "tool", tool, "error", err)
		return nil, CodedErrorf(http.StatusBadGateway, "could not obtain description for processor %s", tool)
	}

	fields := marshal.Form(desc, adapter.FormOverrides)
	out := make([]models.FormField, 0, len(fields))
	for _, f := range fields {
		mf := models.FormField{
			Argument:    f.Argument,
			Kind:        f.Kind.String(),
			Description: f.Description,
			Default:     f.Default,
		}
		for _, opt := range f.Options {
			mf.Options = append(mf.Options, models.FormOption{Value: opt.Value, Selected: opt.Selected})
		}
		out = append(out, mf)
	}

	return out, nil
}

func (s *BackendService) SubmitRun(r *http.Request) (any, error) {
	req, err := ParseRequest[models.SubmitRunRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Tool == "" || req.Workspace == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "tool and workspace are required")
	}
	if len(req.Ancestry) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "workspace ancestry is required")
	}

	ctx := r.Context()

	adapter, ok := s.registry.Get(req.Tool)
	if !ok {
		return nil, CodedErrorf(http.StatusNotFound, "unknown processor %s", req.Tool)
	}

	// Marshal once up front so a bad submission fails the request, not a
	// queued run. The resulting payload is discarded, the worker builds a
	// fresh one per run.
	desc, err := s.registry.Describe(ctx, req.Tool)
	if err != nil {
		slog.Error("error describing processor", "tool", req.Tool, "error", err)
		return nil, CodedErrorf(http.StatusBadGateway, "could not obtain description for processor %s", req.Tool)
	}
	values := make(map[string]marshal.Value, len(req.Parameters))
	for name, pv := range req.Parameters {
		value, err := runner.ParameterValue(pv)
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "argument %q: %v", name, err)
		}
		values[name] = value
	}
	if _, err := marshal.Payload(desc, values, adapter.SubmitOverrides); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "%v", err)
	}

	params, err := json.Marshal(req.Parameters)
	if err != nil {
		slog.Error("error marshalling submitted parameters", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store submitted parameters")
	}

	run := &database.Run{
		Id:            uuid.New(),
		Tool:          req.Tool,
		WorkspacePath: req.Workspace,
		Ancestry:      strings.Join(req.Ancestry, ","),
		State:         string(runner.StatePending),
		Payload:       params,
		CreationTime:  time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		slog.Error("error creating run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create run entry")
	}

	if err := s.publisher.PublishRunTask(ctx, messaging.RunTaskPayload{RunId: run.Id}); err != nil {
		slog.Error("error publishing run task", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue run")
	}

	return models.SubmitRunResponse{RunId: run.Id}, nil
}

func (s *BackendService) ListRuns(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[models.ListRunsQuery](r)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(r.Context()).Model(&database.Run{}).Order("creation_time DESC")
	if query.Tool != "" {
		q = q.Where("tool = ?", query.Tool)
	}
	if query.State != "" {
		q = q.Where("state = ?", query.State)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	var runs []database.Run
	if err := q.Find(&runs).Error; err != nil {
		slog.Error("error listing runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to list runs")
	}

	out := make([]models.Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, runToModel(run))
	}
	return out, nil
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	runId, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid run id")
	}

	var run database.Run
	if err := s.db.WithContext(r.Context()).First(&run, "id = ?", runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "run %s not found", runId)
		}
		slog.Error("error fetching run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to fetch run")
	}

	return runToModel(run), nil
}

func (s *BackendService) CancelRun(r *http.Request) (any, error) {
	runId, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid run id")
	}

	ctx := r.Context()

	var run database.Run
	if err := s.db.WithContext(ctx).First(&run, "id = ?", runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "run %s not found", runId)
		}
		slog.Error("error fetching run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to fetch run")
	}

	if runner.RunState(run.State).Terminal() {
		return nil, CodedErrorf(http.StatusConflict, "run %s already ended as %s", runId, run.State)
	}

	if err := database.RequestRunCancel(ctx, s.db, runId); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to request cancellation")
	}

	// A run that never left the queue is canceled right here; a running
	// one is picked up by the worker's cancellation poll.
	if run.State == string(runner.StatePending) {
		if err := database.UpdateRunState(ctx, s.db, runId, string(runner.StateCanceled), nil); err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to cancel run")
		}
	}

	return nil, nil
}

func runToModel(run database.Run) models.Run {
	m := models.Run{
		Id:           run.Id,
		Tool:         run.Tool,
		Workspace:    run.WorkspacePath,
		InputGroup:   run.InputGroup,
		OutputGroup:  run.OutputGroup,
		State:        run.State,
		Progress:     run.Progress,
		CreationTime: run.CreationTime,
	}
	if run.Error.Valid {
		m.Error = run.Error.String
	}
	if run.CompletionTime.Valid {
		t := run.CompletionTime.Time
		m.CompletionTime = &t
	}
	return m
}
