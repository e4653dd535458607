package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/engine"
	"github.com/shaiso/Analytica/internal/executor"
	"github.com/shaiso/Analytica/internal/llm"
	"github.com/shaiso/Analytica/internal/mq"
	"github.com/shaiso/Analytica/internal/repo"
	"github.com/shaiso/Analytica/internal/tools"
)

// --- in-memory stores ---

type memRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func newMemRuns(runs ...*domain.Run) *memRuns {
	m := &memRuns{runs: make(map[uuid.UUID]domain.Run)}
	for _, r := range runs {
		m.runs[r.ID] = *r
	}
	return m
}

func (m *memRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &r, nil
}

func (m *memRuns) ListByStatus(_ context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Run
	for _, r := range m.runs {
		if r.Status == status && len(result) < limit {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *memRuns) MarkRunning(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[run.ID].Status != domain.RunStatusQueued {
		return repo.ErrInvalidState
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) Finish(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[run.ID].Status.IsTerminal() {
		return repo.ErrInvalidState
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) get(id uuid.UUID) domain.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

type memSteps struct {
	mu      sync.Mutex
	records []domain.StepRecord

	// failAfter — после стольких вставок CreateStep начинает падать. 0 — никогда.
	failAfter int
}

func (m *memSteps) CreateStep(_ context.Context, rec *domain.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAfter > 0 && len(m.records) >= m.failAfter {
		return errors.New("connection refused")
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *memSteps) ListByRunID(_ context.Context, runID uuid.UUID) ([]domain.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.StepRecord
	for _, r := range m.records {
		if r.RunID == runID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *memSteps) all() []domain.StepRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StepRecord(nil), m.records...)
}

type memVersions map[uuid.UUID]*domain.PipelineVersion

func (m memVersions) GetVersion(_ context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error) {
	v, ok := m[pipelineID]
	if !ok || v.Version != version {
		return nil, repo.ErrNotFound
	}
	return v, nil
}

type memPricing []domain.ModelPricing

func (m memPricing) ListPricing(context.Context) ([]domain.ModelPricing, error) {
	return m, nil
}

type capturePublisher struct {
	mu       sync.Mutex
	payloads []mq.RunFinishedPayload
}

func (p *capturePublisher) PublishRunFinished(_ context.Context, payload mq.RunFinishedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

// scriptedLLM отвечает по system prompt, который в тестах равен имени шага.
type scriptedLLM struct {
	mu      sync.Mutex
	replies map[string]*llm.Response
	errs    map[string]error
	prompts map[string]string
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		replies: make(map[string]*llm.Response),
		errs:    make(map[string]error),
		prompts: make(map[string]string),
	}
}

func (s *scriptedLLM) reply(step, content string, in, out int) {
	s.replies[step] = &llm.Response{Content: content, InputTokens: in, OutputTokens: out}
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[req.SystemPrompt] = req.UserPrompt
	if err, ok := s.errs[req.SystemPrompt]; ok {
		return nil, err
	}
	if resp, ok := s.replies[req.SystemPrompt]; ok {
		return resp, nil
	}
	return &llm.Response{Content: "ok"}, nil
}

func (s *scriptedLLM) prompt(step string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[step]
}

// --- fixture ---

type fixture struct {
	runs      *memRuns
	steps     *memSteps
	model     *scriptedLLM
	publisher *capturePublisher
	runner    *Runner
	run       *domain.Run
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func spec(name string, order int, template string) domain.StepSpec {
	return domain.StepSpec{
		StepName:           name,
		Order:              order,
		Model:              "openai/gpt-4o",
		SystemPrompt:       name,
		UserPromptTemplate: template,
	}
}

func newFixture(t *testing.T, cfg domain.PipelineConfig, fetcher executor.DataFetcher) *fixture {
	t.Helper()

	run := &domain.Run{
		ID:             uuid.New(),
		PipelineID:     uuid.New(),
		Version:        1,
		OrganizationID: uuid.New(),
		Instrument:     "BTCUSDT",
		Timeframe:      "4h",
		Status:         domain.RunStatusQueued,
		CreatedAt:      time.Now(),
	}

	f := &fixture{
		runs:      newMemRuns(run),
		steps:     &memSteps{},
		model:     newScriptedLLM(),
		publisher: &capturePublisher{},
		run:       run,
	}

	exec := executor.New(executor.Config{
		Fetcher: fetcher,
		LLM:     f.model,
		Steps:   f.steps,
		Logger:  quietLogger(),
	})

	f.runner = NewRunner(RunnerConfig{
		Runs:     f.runs,
		Versions: memVersions{run.PipelineID: {PipelineID: run.PipelineID, Version: 1, Config: cfg}},
		Pricing: memPricing{
			{Model: "openai/gpt-4o", CostPer1KInput: 0.005, CostPer1KOutput: 0.015},
		},
		Executor:  exec,
		Publisher: f.publisher,
		Logger:    quietLogger(),
	})

	return f
}

func (f *fixture) execute(t *testing.T) domain.Run {
	t.Helper()
	run, err := f.runs.GetByID(context.Background(), f.run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if err := f.runner.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	return f.runs.get(f.run.ID)
}

// assertTerminal проверяет общие свойства финального run.
func assertTerminal(t *testing.T, run domain.Run, records []domain.StepRecord) {
	t.Helper()

	if !run.Status.IsTerminal() {
		t.Fatalf("status = %s, want terminal", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at should be set")
	}

	var sum float64
	lastOrder := 0
	for _, rec := range records {
		sum += rec.CostEst
		if rec.StepOrder <= lastOrder {
			t.Errorf("step records not in increasing order: %d after %d", rec.StepOrder, lastOrder)
		}
		lastOrder = rec.StepOrder
	}
	if math.Abs(run.CostEstTotal-sum) > 1e-9 {
		t.Errorf("cost_est_total = %v, sum of steps = %v", run.CostEstTotal, sum)
	}
}

// --- scenarios ---

func TestRunner_AllStepsSucceed(t *testing.T) {
	merge := spec("merge", 3, "Merge the analyses for {instrument}.")
	merge.IncludeContext = &domain.IncludeContext{
		Steps:  []string{"wyckoff", "smc"},
		Format: domain.ContextFormatFull,
	}
	merge.PublishToTelegram = true

	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{
		spec("wyckoff", 1, "Wyckoff analysis of {instrument} {timeframe}"),
		spec("smc", 2, "SMC analysis of {instrument}"),
		merge,
	}}

	f := newFixture(t, cfg, nil)
	wyckoffOut := strings.Repeat("Phase C spring confirmed. ", 100)
	smcOut := "Bullish order block at 41200."
	f.model.reply("wyckoff", wyckoffOut, 1000, 2000)
	f.model.reply("smc", smcOut, 500, 300)
	f.model.reply("merge", "Long bias.", 3000, 400)

	run := f.execute(t)
	records := f.steps.all()

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED (error: %s)", run.Status, run.Error)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	assertTerminal(t, run, records)

	mergePrompt := f.model.prompt("merge")
	if !strings.Contains(mergePrompt, wyckoffOut) {
		t.Error("merge prompt should contain wyckoff output verbatim")
	}
	if !strings.Contains(mergePrompt, smcOut) {
		t.Error("merge prompt should contain smc output verbatim")
	}
	if !strings.HasPrefix(mergePrompt, "### Context: wyckoff\n") {
		t.Errorf("context should be placed before the body, got %q", mergePrompt)
	}

	// 1000*0.005/1000 + 2000*0.015/1000 = 0.035
	if math.Abs(records[0].CostEst-0.035) > 1e-9 {
		t.Errorf("wyckoff cost = %v, want 0.035", records[0].CostEst)
	}

	if len(f.publisher.payloads) != 1 {
		t.Fatalf("published = %d, want 1", len(f.publisher.payloads))
	}
	payload := f.publisher.payloads[0]
	if payload.Status != string(domain.RunStatusSucceeded) {
		t.Errorf("payload status = %s", payload.Status)
	}
	if len(payload.Outputs) != 1 || payload.Outputs[0].StepName != "merge" || payload.Outputs[0].Output != "Long bias." {
		t.Errorf("payload outputs = %+v, want merge only", payload.Outputs)
	}
}

func TestRunner_RateLimitOnFirstStep(t *testing.T) {
	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{
		spec("step1", 1, "Analyze {instrument}"),
		spec("step2", 2, "Refine: {step1_output}"),
	}}

	f := newFixture(t, cfg, nil)
	f.model.errs["step1"] = &llm.Error{Kind: llm.KindRateLimit, StatusCode: 429}

	run := f.execute(t)
	records := f.steps.all()

	if run.Status != domain.RunStatusModelFailure {
		t.Fatalf("status = %s, want MODEL_FAILURE", run.Status)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	assertTerminal(t, run, records)

	rec := records[0]
	if rec.Status != domain.StepStatusFailed || rec.Error == "" {
		t.Errorf("step1 record = %s %q, want FAILED with error", rec.Status, rec.Error)
	}
	if rec.InputTokens != 0 || rec.OutputTokens != 0 || rec.CostEst != 0 {
		t.Errorf("failed step should have zero tokens and cost, got %d/%d/%v", rec.InputTokens, rec.OutputTokens, rec.CostEst)
	}
	if run.CostEstTotal != 0 {
		t.Errorf("cost_est_total = %v, want 0", run.CostEstTotal)
	}
	if !strings.Contains(run.Error, "step step2 skipped: depends on step1") {
		t.Errorf("run error should explain skipped step, got %q", run.Error)
	}
	if f.model.prompt("step2") != "" {
		t.Error("step2 must not call the model")
	}
}

type hangingTool struct{}

func (hangingTool) Execute(ctx context.Context, _ uuid.UUID, _ domain.ToolReference) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRunner_OptionalToolTimeout(t *testing.T) {
	step := spec("news", 1, "Headlines: [{headlines}] for {instrument}")
	step.ToolReferences = []domain.ToolReference{{ToolID: uuid.New(), VariableName: "headlines"}}

	fetcher := tools.NewFetcher(tools.FetcherConfig{
		Tools:   hangingTool{},
		Timeout: 20 * time.Millisecond,
		Logger:  quietLogger(),
	})

	f := newFixture(t, domain.PipelineConfig{Steps: []domain.StepSpec{step}}, fetcher)

	run := f.execute(t)
	records := f.steps.all()

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED (error: %s)", run.Status, run.Error)
	}
	assertTerminal(t, run, records)

	if got := f.model.prompt("news"); got != "Headlines: [] for BTCUSDT" {
		t.Errorf("prompt = %q", got)
	}
	if len(records) != 1 || len(records[0].Annotations) != 1 {
		t.Fatalf("want one record with one annotation, got %+v", records)
	}
	if !strings.Contains(records[0].Annotations[0], "headlines") {
		t.Errorf("annotation = %q", records[0].Annotations[0])
	}
}

func TestRunner_DuplicateOrderRejected(t *testing.T) {
	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{
		spec("wyckoff", 1, "a"),
		spec("smc", 1, "b"),
	}}

	err := engine.Validate(&cfg)
	var vErr *engine.ValidationError
	if !errors.As(err, &vErr) || !errors.Is(err, engine.ErrDuplicateOrder) {
		t.Fatalf("Validate() error = %v, want duplicate order ValidationError", err)
	}

	// Версия, сохранённая в обход валидации, не стартует
	f := newFixture(t, cfg, nil)
	run := f.execute(t)

	if run.Status != domain.RunStatusFailed {
		t.Errorf("status = %s, want FAILED", run.Status)
	}
	if run.StartedAt != nil {
		t.Error("run must never enter RUNNING")
	}
	if len(f.steps.all()) != 0 {
		t.Error("no steps should be recorded")
	}
}

// --- continuation policy ---

func TestRunner_IndependentStepContinues(t *testing.T) {
	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{
		spec("a", 1, "first"),
		spec("b", 2, "independent of a"),
		spec("c", 3, "uses {a_output}"),
		spec("d", 4, "uses {b_output}"),
	}}

	f := newFixture(t, cfg, nil)
	f.model.errs["a"] = &llm.Error{Kind: llm.KindContentPolicy, StatusCode: 400}
	f.model.reply("b", "B", 100, 100)

	run := f.execute(t)
	records := f.steps.all()

	if run.Status != domain.RunStatusModelFailure {
		t.Fatalf("status = %s, want MODEL_FAILURE", run.Status)
	}
	assertTerminal(t, run, records)

	var names []string
	for _, r := range records {
		names = append(names, r.StepName)
	}
	if strings.Join(names, ",") != "a,b,d" {
		t.Errorf("recorded steps = %v, want [a b d]", names)
	}
	if f.model.prompt("d") != "uses B" {
		t.Errorf("d prompt = %q", f.model.prompt("d"))
	}
}

func TestRunner_SkipPropagates(t *testing.T) {
	ctxStep := spec("c", 3, "summary")
	ctxStep.IncludeContext = &domain.IncludeContext{Steps: []string{"b"}}

	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{
		spec("a", 1, "first"),
		spec("b", 2, "{a_output}"),
		ctxStep,
	}}

	f := newFixture(t, cfg, nil)
	f.model.errs["a"] = &llm.Error{Kind: llm.KindAuth, StatusCode: 401}

	run := f.execute(t)

	if len(f.steps.all()) != 1 {
		t.Errorf("records = %d, want 1", len(f.steps.all()))
	}
	if !strings.Contains(run.Error, "step c skipped: depends on b") {
		t.Errorf("run error = %q", run.Error)
	}
}

func TestRunner_InfrastructureFailureAborts(t *testing.T) {
	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{
		spec("a", 1, "first"),
		spec("b", 2, "second"),
		spec("c", 3, "third"),
	}}

	f := newFixture(t, cfg, nil)
	f.steps.failAfter = 1
	f.model.reply("a", "A", 1000, 1000)

	run := f.execute(t)
	records := f.steps.all()

	if run.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", run.Status)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	assertTerminal(t, run, records)

	if f.model.prompt("c") != "" {
		t.Error("step c must not run after abort")
	}
}

type panickingExecutor struct{}

func (panickingExecutor) Execute(context.Context, executor.Request) (*domain.StepRecord, error) {
	panic("boom")
}

func TestRunner_PanicStillFinalizes(t *testing.T) {
	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{spec("a", 1, "x")}}
	f := newFixture(t, cfg, nil)
	f.runner.executor = panickingExecutor{}

	run := f.execute(t)

	if run.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at should be set after panic")
	}
	if !strings.Contains(run.Error, "panic: boom") {
		t.Errorf("run error = %q", run.Error)
	}
}

func TestRunner_NotQueued(t *testing.T) {
	f := newFixture(t, domain.PipelineConfig{Steps: []domain.StepSpec{spec("a", 1, "x")}}, nil)
	run := *f.run
	run.Status = domain.RunStatusSucceeded

	if err := f.runner.Execute(context.Background(), &run); !errors.Is(err, ErrRunNotQueued) {
		t.Errorf("Execute() error = %v, want ErrRunNotQueued", err)
	}
}

func TestRunner_MissingVersion(t *testing.T) {
	f := newFixture(t, domain.PipelineConfig{Steps: []domain.StepSpec{spec("a", 1, "x")}}, nil)
	f.runner.versions = memVersions{}

	run := f.execute(t)
	if run.Status != domain.RunStatusFailed || !strings.Contains(run.Error, "pipeline version not found") {
		t.Errorf("run = %s %q", run.Status, run.Error)
	}
}

// --- orchestrator ---

func TestOrchestrator_RecoverInterrupted(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	run := &domain.Run{ID: uuid.New(), Status: domain.RunStatusRunning, StartedAt: &started}
	runs := newMemRuns(run)
	steps := &memSteps{records: []domain.StepRecord{
		{RunID: run.ID, StepName: "a", StepOrder: 1, CostEst: 0.01},
		{RunID: run.ID, StepName: "b", StepOrder: 2, CostEst: 0.02},
		{RunID: uuid.New(), StepName: "other", StepOrder: 1, CostEst: 5},
	}}

	o := New(Config{Runs: runs, Steps: steps, Logger: quietLogger()})
	if err := o.recoverInterrupted(context.Background()); err != nil {
		t.Fatalf("recoverInterrupted() error = %v", err)
	}

	got := runs.get(run.ID)
	if got.Status != domain.RunStatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got.Error != errRestarted {
		t.Errorf("error = %q", got.Error)
	}
	if math.Abs(got.CostEstTotal-0.03) > 1e-9 {
		t.Errorf("cost_est_total = %v, want 0.03", got.CostEstTotal)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at should be set")
	}
}

type blockingExecutor struct {
	release chan struct{}
}

func (b *blockingExecutor) Execute(_ context.Context, req executor.Request) (*domain.StepRecord, error) {
	<-b.release
	rec := domain.NewStepRecord(req.Run.ID, req.Step)
	rec.MarkSucceeded("ok", 0, 0, 0)
	return rec, nil
}

func TestOrchestrator_Dispatch(t *testing.T) {
	f := newFixture(t, domain.PipelineConfig{Steps: []domain.StepSpec{spec("a", 1, "x")}}, nil)
	block := &blockingExecutor{release: make(chan struct{})}
	f.runner.executor = block

	o := New(Config{Runs: f.runs, Steps: f.steps, Runner: f.runner, MaxConcurrentRuns: 2, Logger: quietLogger()})

	if err := o.dispatch(context.Background(), f.run.ID); err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if err := o.dispatch(context.Background(), f.run.ID); !errors.Is(err, ErrRunAlreadyActive) {
		t.Errorf("second dispatch error = %v, want ErrRunAlreadyActive", err)
	}
	if o.ActiveRunsCount() != 1 {
		t.Errorf("active runs = %d, want 1", o.ActiveRunsCount())
	}

	close(block.release)
	o.Wait()

	if got := f.runs.get(f.run.ID); got.Status != domain.RunStatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", got.Status)
	}
	if o.ActiveRunsCount() != 0 {
		t.Errorf("active runs = %d, want 0", o.ActiveRunsCount())
	}
}

func TestOrchestrator_PollSkipsFinishedRuns(t *testing.T) {
	f := newFixture(t, domain.PipelineConfig{Steps: []domain.StepSpec{spec("a", 1, "x")}}, nil)
	o := New(Config{Runs: f.runs, Steps: f.steps, Runner: f.runner, Logger: quietLogger()})

	o.poll(context.Background())
	o.Wait()

	if got := f.runs.get(f.run.ID); got.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", got.Status)
	}

	// Второй poll ничего не находит
	o.poll(context.Background())
	o.Wait()

	if len(f.steps.all()) != 1 {
		t.Errorf("records = %d, want 1", len(f.steps.all()))
	}
}

// --- RunState ---

func TestRunState_Outcome(t *testing.T) {
	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{
		spec("a", 1, "x"),
		spec("b", 2, "{a_output}"),
	}}
	graph, err := engine.BuildGraph(&cfg)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}

	tests := []struct {
		name   string
		setup  func(s *RunState)
		status domain.RunStatus
	}{
		{
			name:   "nothing failed",
			setup:  func(s *RunState) {},
			status: domain.RunStatusSucceeded,
		},
		{
			name: "step failed",
			setup: func(s *RunState) {
				rec := &domain.StepRecord{StepName: "a"}
				rec.MarkFailed(domain.ErrorKindModel, "rate limit")
				s.Record(rec)
			},
			status: domain.RunStatusModelFailure,
		},
		{
			name: "aborted wins",
			setup: func(s *RunState) {
				rec := &domain.StepRecord{StepName: "a"}
				rec.MarkFailed(domain.ErrorKindModel, "rate limit")
				s.Record(rec)
				s.Abort(errors.New("db down"))
			},
			status: domain.RunStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRunState(&domain.Run{ID: uuid.New()}, graph)
			tt.setup(s)
			if got, _ := s.Outcome(); got != tt.status {
				t.Errorf("Outcome() = %s, want %s", got, tt.status)
			}
		})
	}
}

func TestRunState_OutcomeListsBlockedSteps(t *testing.T) {
	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{
		spec("a", 1, "x"),
		spec("b", 2, "{a_output}"),
		spec("c", 3, "{b_output}"),
		spec("d", 4, "y"),
	}}
	graph, err := engine.BuildGraph(&cfg)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}

	s := NewRunState(&domain.Run{ID: uuid.New()}, graph)
	rec := &domain.StepRecord{StepName: "a"}
	rec.MarkFailed(domain.ErrorKindModel, "rate limit")
	s.Record(rec)
	s.Skip("b", "a")
	s.Skip("c", "b")
	ok := &domain.StepRecord{StepName: "d"}
	ok.MarkSucceeded("fine", 1, 1, 0)
	s.Record(ok)

	status, msg := s.Outcome()
	if status != domain.RunStatusModelFailure {
		t.Fatalf("Outcome() status = %s", status)
	}
	if !strings.Contains(msg, "step a failed (model: rate limit), blocked b, c") {
		t.Errorf("Outcome() message = %q", msg)
	}
	if strings.Contains(msg, "blocked b, c, d") {
		t.Errorf("independent step listed as blocked: %q", msg)
	}
}

func TestRunState_Stats(t *testing.T) {
	cfg := domain.PipelineConfig{Steps: []domain.StepSpec{
		spec("a", 1, "x"),
		spec("b", 2, "{a_output}"),
		spec("c", 3, "y"),
	}}
	graph, _ := engine.BuildGraph(&cfg)
	s := NewRunState(&domain.Run{ID: uuid.New()}, graph)

	failed := &domain.StepRecord{StepName: "a", CostEst: 0}
	failed.MarkFailed(domain.ErrorKindTimeout, "deadline")
	s.Record(failed)
	s.Skip("b", "a")

	stats := s.Stats()
	if stats.FailedSteps != 1 || stats.SkippedSteps != 1 || stats.PendingSteps != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if !s.Unavailable()["b"] {
		t.Error("skipped step should be unavailable")
	}
}
