package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/llm"
	"github.com/shaiso/Analytica/internal/pricing"
	"github.com/shaiso/Analytica/internal/tools"
)

type fakeLLM struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(ctx context.Context, req llm.Request) (*llm.Response, error)
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(ctx, req)
}

type memSteps struct {
	records []*domain.StepRecord
	err     error
}

func (m *memSteps) CreateStep(_ context.Context, rec *domain.StepRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

type fetcherFunc func(ctx context.Context, req tools.FetchRequest) (*tools.FetchResult, error)

func (f fetcherFunc) Fetch(ctx context.Context, req tools.FetchRequest) (*tools.FetchResult, error) {
	return f(ctx, req)
}

type staticPricing map[string]domain.ModelPricing

func (s staticPricing) GetModelPricing(_ context.Context, model, _ string) (domain.ModelPricing, error) {
	if p, ok := s[model]; ok {
		return p, nil
	}
	return domain.ModelPricing{}, pricing.ErrNotFound
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRun() *domain.Run {
	return &domain.Run{
		ID:             uuid.New(),
		PipelineID:     uuid.New(),
		OrganizationID: uuid.New(),
		Instrument:     "BTCUSDT",
		Timeframe:      "4h",
		Status:         domain.RunStatusRunning,
	}
}

func answer(content string, in, out int) func(context.Context, llm.Request) (*llm.Response, error) {
	return func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: content, InputTokens: in, OutputTokens: out}, nil
	}
}

func TestExecute_Success(t *testing.T) {
	model := &fakeLLM{respond: answer("accumulation phase", 1000, 500)}
	store := &memSteps{}
	exec := New(Config{LLM: model, Steps: store, Logger: quietLogger()})

	step := &domain.StepSpec{
		StepName:           "smc",
		Order:              2,
		Model:              "openai/gpt-4o",
		SystemPrompt:       "You are an analyst",
		UserPromptTemplate: "Analyze {instrument} {timeframe}. Prior: {wyckoff_output}",
		Temperature:        0.3,
		MaxTokens:          800,
	}
	calc := pricing.NewCalculator(staticPricing{
		"openai/gpt-4o": {Model: "openai/gpt-4o", CostPer1KInput: 0.005, CostPer1KOutput: 0.015},
	}, 0)

	rec, err := exec.Execute(context.Background(), Request{
		Run:     testRun(),
		Step:    step,
		Outputs: map[string]string{"wyckoff": "spring detected"},
		Pricing: calc,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StepStatusSucceeded, rec.Status)
	assert.Equal(t, "Analyze BTCUSDT 4h. Prior: spring detected", rec.InputBlob)
	assert.Equal(t, "accumulation phase", rec.OutputBlob)
	assert.Equal(t, 1000, rec.InputTokens)
	assert.Equal(t, 500, rec.OutputTokens)
	assert.InDelta(t, 0.005+0.0075, rec.CostEst, 1e-9)
	assert.Equal(t, 2, rec.StepOrder)
	assert.False(t, rec.FinishedAt.IsZero())

	require.Len(t, store.records, 1)
	assert.Same(t, rec, store.records[0])

	require.Len(t, model.requests, 1)
	got := model.requests[0]
	assert.Equal(t, "You are an analyst", got.SystemPrompt)
	assert.Equal(t, 0.3, got.Temperature)
	assert.Equal(t, 800, got.MaxTokens)
}

func TestExecute_FallbackCost(t *testing.T) {
	model := &fakeLLM{respond: answer("ok", 1500, 500)}
	exec := New(Config{LLM: model, Steps: &memSteps{}, Logger: quietLogger()})

	rec, err := exec.Execute(context.Background(), Request{
		Run:  testRun(),
		Step: &domain.StepSpec{StepName: "s", Order: 1, Model: "unknown/model", UserPromptTemplate: "hi"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.02, rec.CostEst, 1e-9)
}

func TestExecute_RateLimit(t *testing.T) {
	model := &fakeLLM{respond: func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, &llm.Error{Kind: llm.KindRateLimit, StatusCode: 429, Message: "slow down"}
	}}
	store := &memSteps{}
	exec := New(Config{LLM: model, Steps: store, Logger: quietLogger()})

	rec, err := exec.Execute(context.Background(), Request{
		Run:  testRun(),
		Step: &domain.StepSpec{StepName: "wyckoff", Order: 1, Model: "m", UserPromptTemplate: "go"},
	})
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, domain.ErrorKindModel, stepErr.Kind)
	assert.True(t, llm.IsKind(err, llm.KindRateLimit))
	assert.False(t, IsFatal(err))

	require.Len(t, store.records, 1)
	assert.Equal(t, domain.StepStatusFailed, rec.Status)
	assert.Equal(t, domain.ErrorKindModel, rec.ErrorKind)
	assert.Contains(t, rec.Error, "rate_limit")
	assert.Zero(t, rec.InputTokens)
	assert.Zero(t, rec.OutputTokens)
	assert.Zero(t, rec.CostEst)
}

func TestExecute_Timeout(t *testing.T) {
	model := &fakeLLM{respond: func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	exec := New(Config{LLM: model, Steps: &memSteps{}, StepTimeout: 20 * time.Millisecond, Logger: quietLogger()})

	rec, err := exec.Execute(context.Background(), Request{
		Run:  testRun(),
		Step: &domain.StepSpec{StepName: "slow", Order: 1, Model: "m", UserPromptTemplate: "go"},
	})
	assert.Equal(t, domain.ErrorKindTimeout, KindOf(err))
	assert.Equal(t, domain.ErrorKindTimeout, rec.ErrorKind)
}

func TestExecute_RequiredToolFailure(t *testing.T) {
	model := &fakeLLM{respond: answer("never", 1, 1)}
	store := &memSteps{}
	fetcher := fetcherFunc(func(context.Context, tools.FetchRequest) (*tools.FetchResult, error) {
		return nil, &tools.FetchError{Variable: "funding", Source: "tool x", Err: errors.New("502")}
	})
	exec := New(Config{Fetcher: fetcher, LLM: model, Steps: store, Logger: quietLogger()})

	step := &domain.StepSpec{
		StepName:           "s",
		Order:              1,
		Model:              "m",
		UserPromptTemplate: "{funding}",
		ToolReferences:     []domain.ToolReference{{ToolID: uuid.New(), VariableName: "funding", Required: true}},
	}

	rec, err := exec.Execute(context.Background(), Request{Run: testRun(), Step: step})
	assert.Equal(t, domain.ErrorKindTool, KindOf(err))
	assert.Equal(t, domain.StepStatusFailed, rec.Status)
	assert.Empty(t, model.requests, "model must not be called")
	require.Len(t, store.records, 1)
}

func TestExecute_OptionalToolAnnotated(t *testing.T) {
	model := &fakeLLM{respond: answer("done", 10, 10)}
	fetcher := fetcherFunc(func(_ context.Context, req tools.FetchRequest) (*tools.FetchResult, error) {
		assert.Equal(t, "BTCUSDT", req.Instrument)
		return &tools.FetchResult{
			Vars:        map[string]string{"news": ""},
			Annotations: []string{"tool x (news): timed out"},
		}, nil
	})
	exec := New(Config{Fetcher: fetcher, LLM: model, Steps: &memSteps{}, Logger: quietLogger()})

	step := &domain.StepSpec{
		StepName:           "s",
		Order:              1,
		Model:              "m",
		UserPromptTemplate: "News: [{news}]",
		ToolReferences:     []domain.ToolReference{{ToolID: uuid.New(), VariableName: "news"}},
	}

	rec, err := exec.Execute(context.Background(), Request{Run: testRun(), Step: step})
	require.NoError(t, err)
	assert.Equal(t, "News: []", rec.InputBlob)
	assert.Equal(t, []string{"tool x (news): timed out"}, rec.Annotations)
}

func TestExecute_PersistFailureIsFatal(t *testing.T) {
	model := &fakeLLM{respond: answer("ok", 1, 1)}
	exec := New(Config{LLM: model, Steps: &memSteps{err: errors.New("connection reset")}, Logger: quietLogger()})

	_, err := exec.Execute(context.Background(), Request{
		Run:  testRun(),
		Step: &domain.StepSpec{StepName: "s", Order: 1, Model: "m", UserPromptTemplate: "go"},
	})
	assert.True(t, IsFatal(err))
}

func TestExecute_MissingStepOutputAnnotated(t *testing.T) {
	model := &fakeLLM{respond: answer("ok", 1, 1)}
	exec := New(Config{LLM: model, Steps: &memSteps{}, Logger: quietLogger()})

	rec, err := exec.Execute(context.Background(), Request{
		Run:  testRun(),
		Step: &domain.StepSpec{StepName: "merge", Order: 2, Model: "m", UserPromptTemplate: "A: {a_output}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "A: ", rec.InputBlob)
	require.Len(t, rec.Annotations, 1)
	assert.Contains(t, rec.Annotations[0], `"a"`)
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, domain.ErrorKindInfrastructure, KindOf(errors.New("boom")))
	assert.False(t, IsFatal(nil))
}
