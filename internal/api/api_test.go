package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/repo"
)

// --- fakes ---

type memPipelines struct {
	pipelines map[uuid.UUID]*domain.Pipeline
	versions  map[uuid.UUID][]domain.PipelineVersion
}

func (m *memPipelines) Create(_ context.Context, p *domain.Pipeline) error {
	m.pipelines[p.ID] = p
	return nil
}

func (m *memPipelines) GetByID(_ context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	p, ok := m.pipelines[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return p, nil
}

func (m *memPipelines) List(context.Context, *uuid.UUID) ([]domain.Pipeline, error) {
	var out []domain.Pipeline
	for _, p := range m.pipelines {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memPipelines) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	p, ok := m.pipelines[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.IsActive = active
	return nil
}

func (m *memPipelines) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.pipelines[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.pipelines, id)
	return nil
}

func (m *memPipelines) CreateVersion(_ context.Context, v *domain.PipelineVersion) error {
	if _, ok := m.pipelines[v.PipelineID]; !ok {
		return repo.ErrNotFound
	}
	v.Version = len(m.versions[v.PipelineID]) + 1
	m.versions[v.PipelineID] = append(m.versions[v.PipelineID], *v)
	return nil
}

func (m *memPipelines) GetVersion(_ context.Context, id uuid.UUID, version int) (*domain.PipelineVersion, error) {
	vs := m.versions[id]
	if version < 1 || version > len(vs) {
		return nil, repo.ErrNotFound
	}
	return &vs[version-1], nil
}

func (m *memPipelines) GetLatestVersion(_ context.Context, id uuid.UUID) (*domain.PipelineVersion, error) {
	vs := m.versions[id]
	if len(vs) == 0 {
		return nil, repo.ErrNotFound
	}
	return &vs[len(vs)-1], nil
}

func (m *memPipelines) ListVersions(_ context.Context, id uuid.UUID) ([]domain.PipelineVersion, error) {
	return m.versions[id], nil
}

type memRuns struct {
	runs []*domain.Run
}

func (m *memRuns) Create(_ context.Context, run *domain.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memRuns) GetByIdempotencyKey(_ context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error) {
	for _, r := range m.runs {
		if r.PipelineID == pipelineID && r.IdempotencyKey == key {
			return r, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memRuns) List(context.Context, repo.RunFilter) ([]domain.Run, error) {
	out := make([]domain.Run, len(m.runs))
	for i, r := range m.runs {
		out[i] = *r
	}
	return out, nil
}

type memSteps map[uuid.UUID][]domain.StepRecord

func (m memSteps) ListByRunID(_ context.Context, runID uuid.UUID) ([]domain.StepRecord, error) {
	return m[runID], nil
}

type memSchedules struct {
	created []*domain.Schedule
}

func (m *memSchedules) Create(_ context.Context, s *domain.Schedule) error {
	m.created = append(m.created, s)
	return nil
}

func (m *memSchedules) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	for _, s := range m.created {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memSchedules) List(context.Context, repo.ScheduleFilter) ([]domain.Schedule, error) {
	return nil, nil
}

func (m *memSchedules) Update(context.Context, *domain.Schedule) error { return nil }

func (m *memSchedules) Delete(context.Context, uuid.UUID) error { return repo.ErrNotFound }

func (m *memSchedules) SetEnabled(context.Context, uuid.UUID, bool) error { return nil }

type recordingPublisher struct {
	ids []uuid.UUID
}

func (p *recordingPublisher) PublishRunQueued(_ context.Context, id uuid.UUID) error {
	p.ids = append(p.ids, id)
	return nil
}

// --- helpers ---

type testEnv struct {
	mux       *http.ServeMux
	pipelines *memPipelines
	runs      *memRuns
	steps     memSteps
	schedules *memSchedules
	publisher *recordingPublisher
	pipeline  *domain.Pipeline
}

func newTestEnv() *testEnv {
	p := &domain.Pipeline{ID: uuid.New(), OrganizationID: uuid.New(), Name: "wyckoff-smc", IsActive: true}
	env := &testEnv{
		mux: http.NewServeMux(),
		pipelines: &memPipelines{
			pipelines: map[uuid.UUID]*domain.Pipeline{p.ID: p},
			versions:  make(map[uuid.UUID][]domain.PipelineVersion),
		},
		runs:      &memRuns{},
		steps:     memSteps{},
		schedules: &memSchedules{},
		publisher: &recordingPublisher{},
		pipeline:  p,
	}

	h := NewHandler(Config{
		Pipelines: env.pipelines,
		Runs:      env.runs,
		Steps:     env.steps,
		Schedules: env.schedules,
		Publisher: env.publisher,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.RegisterRoutes(env.mux)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func validConfig() domain.PipelineConfig {
	return domain.PipelineConfig{Steps: []domain.StepSpec{
		{StepName: "wyckoff", Order: 1, Model: "openai/gpt-4o", UserPromptTemplate: "Analyze {instrument}"},
		{StepName: "merge", Order: 2, Model: "openai/gpt-4o", UserPromptTemplate: "Summarize {wyckoff_output}"},
	}}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

// --- tests ---

func TestCreatePipelineVersion_Valid(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/"+env.pipeline.ID.String()+"/versions",
		CreatePipelineVersionRequest{Config: validConfig()})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := len(env.pipelines.versions[env.pipeline.ID]); got != 1 {
		t.Errorf("versions = %d, want 1", got)
	}
}

func TestCreatePipelineVersion_ForwardReferenceRejected(t *testing.T) {
	env := newTestEnv()

	cfg := validConfig()
	cfg.Steps[0].UserPromptTemplate = "Use {merge_output}"

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/"+env.pipeline.ID.String()+"/versions",
		CreatePipelineVersionRequest{Config: cfg})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	detail := decodeError(t, rec)
	if detail.Code != ErrCodeInvalidConfig {
		t.Errorf("code = %s", detail.Code)
	}
	if detail.Step != "wyckoff" {
		t.Errorf("step = %q, want wyckoff", detail.Step)
	}
	if len(env.pipelines.versions[env.pipeline.ID]) != 0 {
		t.Error("invalid version must not be stored")
	}
}

func TestValidatePipelineConfig(t *testing.T) {
	env := newTestEnv()

	cfg := validConfig()
	cfg.Steps[1].Order = 1

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/validate", cfg)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/pipelines/validate", validConfig())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateRun(t *testing.T) {
	env := newTestEnv()
	env.pipelines.versions[env.pipeline.ID] = []domain.PipelineVersion{
		{PipelineID: env.pipeline.ID, Version: 1, Config: validConfig()},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/"+env.pipeline.ID.String()+"/runs",
		CreateRunRequest{Instrument: "BTCUSDT", Timeframe: "4h"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		Data RunResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Status != string(domain.RunStatusQueued) {
		t.Errorf("status = %s, want QUEUED", resp.Data.Status)
	}
	if resp.Data.OrganizationID != env.pipeline.OrganizationID {
		t.Error("run should inherit pipeline organization")
	}
	if len(env.publisher.ids) != 1 || env.publisher.ids[0] != resp.Data.ID {
		t.Errorf("published = %v", env.publisher.ids)
	}
}

func TestCreateRun_InvalidStoredVersion(t *testing.T) {
	env := newTestEnv()
	cfg := validConfig()
	cfg.Steps[1].Order = 1
	env.pipelines.versions[env.pipeline.ID] = []domain.PipelineVersion{
		{PipelineID: env.pipeline.ID, Version: 1, Config: cfg},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/"+env.pipeline.ID.String()+"/runs",
		CreateRunRequest{Instrument: "BTCUSDT", Timeframe: "4h"})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if len(env.runs.runs) != 0 {
		t.Error("run must not be created")
	}
}

func TestCreateRun_Idempotent(t *testing.T) {
	env := newTestEnv()
	env.pipelines.versions[env.pipeline.ID] = []domain.PipelineVersion{
		{PipelineID: env.pipeline.ID, Version: 1, Config: validConfig()},
	}
	path := "/api/v1/pipelines/" + env.pipeline.ID.String() + "/runs"
	req := CreateRunRequest{Instrument: "BTCUSDT", Timeframe: "4h", IdempotencyKey: "manual-1"}

	if rec := env.do(t, http.MethodPost, path, req); rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, path, req); rec.Code != http.StatusOK {
		t.Fatalf("second status = %d, want 200", rec.Code)
	}
	if len(env.runs.runs) != 1 {
		t.Errorf("runs = %d, want 1", len(env.runs.runs))
	}
}

func TestCreateRun_BadRequests(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"bad id", "/api/v1/pipelines/xyz/runs", CreateRunRequest{Instrument: "X", Timeframe: "1h"}, http.StatusBadRequest},
		{"no instrument", "/api/v1/pipelines/" + env.pipeline.ID.String() + "/runs", CreateRunRequest{Timeframe: "1h"}, http.StatusBadRequest},
		{"unknown pipeline", "/api/v1/pipelines/" + uuid.NewString() + "/runs", CreateRunRequest{Instrument: "X", Timeframe: "1h"}, http.StatusNotFound},
		{"no versions", "/api/v1/pipelines/" + env.pipeline.ID.String() + "/runs", CreateRunRequest{Instrument: "X", Timeframe: "1h"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestListRunSteps(t *testing.T) {
	env := newTestEnv()
	run := &domain.Run{ID: uuid.New(), PipelineID: env.pipeline.ID, Status: domain.RunStatusModelFailure}
	env.runs.runs = append(env.runs.runs, run)
	env.steps[run.ID] = []domain.StepRecord{
		{RunID: run.ID, StepName: "wyckoff", StepOrder: 1, Status: domain.StepStatusFailed, ErrorKind: domain.ErrorKindModel},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/steps", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Data  []StepResponse `json:"data"`
		Total int            `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Data[0].ErrorKind != string(domain.ErrorKindModel) {
		t.Errorf("response = %+v", resp)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString()+"/steps", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", rec.Code)
	}
}

func TestCreateSchedule(t *testing.T) {
	env := newTestEnv()
	path := "/api/v1/pipelines/" + env.pipeline.ID.String() + "/schedules"

	rec := env.do(t, http.MethodPost, path, CreateScheduleRequest{
		Name: "daily", Instrument: "BTCUSDT", Timeframe: "1d", CronExpr: "0 9 * * *", Enabled: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if len(env.schedules.created) != 1 || env.schedules.created[0].NextDueAt == nil {
		t.Fatal("schedule should be stored with next_due_at")
	}
	if env.schedules.created[0].Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", env.schedules.created[0].Timezone)
	}

	rec = env.do(t, http.MethodPost, path, CreateScheduleRequest{
		Name: "broken", Instrument: "BTCUSDT", Timeframe: "1d", CronExpr: "every day",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad cron status = %d, want 400", rec.Code)
	}
}

func TestCreateSchedule_DefaultName(t *testing.T) {
	env := newTestEnv()
	path := "/api/v1/pipelines/" + env.pipeline.ID.String() + "/schedules"

	rec := env.do(t, http.MethodPost, path, CreateScheduleRequest{
		Instrument: "ETHUSDT", Timeframe: "4h", IntervalSec: 4 * 3600,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := env.schedules.created[0].Name; got != "ETHUSDT 4h" {
		t.Errorf("name = %q, want %q", got, "ETHUSDT 4h")
	}
}

func TestSetScheduleEnabled_SkipsMissedFires(t *testing.T) {
	env := newTestEnv()
	stale := time.Now().Add(-48 * time.Hour)
	sched := &domain.Schedule{
		ID:          uuid.New(),
		PipelineID:  env.pipeline.ID,
		Name:        "btc hourly",
		Instrument:  "BTCUSDT",
		Timeframe:   "1h",
		IntervalSec: 3600,
		Timezone:    "UTC",
		NextDueAt:   &stale,
	}
	env.schedules.created = append(env.schedules.created, sched)

	rec := env.do(t, http.MethodPut, "/api/v1/schedules/"+sched.ID.String()+"/enabled", SetEnabledRequest{Enabled: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if !sched.Enabled {
		t.Error("schedule should be enabled")
	}
	if sched.NextDueAt == nil || !sched.NextDueAt.After(time.Now()) {
		t.Errorf("next_due_at = %v, want a future time", sched.NextDueAt)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/schedules/"+sched.ID.String()+"/enabled", SetEnabledRequest{Enabled: false})
	if rec.Code != http.StatusOK || sched.Enabled {
		t.Errorf("disable: status = %d, enabled = %v", rec.Code, sched.Enabled)
	}
}

func TestDeleteSchedule_NotFound(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodDelete, "/api/v1/schedules/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
