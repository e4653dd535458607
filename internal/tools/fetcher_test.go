package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/marketdata"
)

type fakeMarket struct {
	candles []marketdata.Candle
	err     error
	calls   []string
}

func (m *fakeMarket) FetchCandles(ctx context.Context, instrument, timeframe string, n int) ([]marketdata.Candle, error) {
	m.calls = append(m.calls, instrument+"/"+timeframe)
	if m.err != nil {
		return nil, m.err
	}
	return m.candles[:min(n, len(m.candles))], nil
}

type executorFunc func(ctx context.Context, orgID uuid.UUID, ref domain.ToolReference) (string, error)

func (f executorFunc) Execute(ctx context.Context, orgID uuid.UUID, ref domain.ToolReference) (string, error) {
	return f(ctx, orgID, ref)
}

// blockingTool ждёт отмены контекста, имитируя зависший tool.
var blockingTool = executorFunc(func(ctx context.Context, _ uuid.UUID, _ domain.ToolReference) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
})

func newTestFetcher(market marketdata.Provider, tools Executor) *Fetcher {
	return NewFetcher(FetcherConfig{
		Market:  market,
		Tools:   tools,
		Timeout: 50 * time.Millisecond,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func fetchRequest(step *domain.StepSpec) FetchRequest {
	return FetchRequest{
		OrganizationID: uuid.New(),
		Instrument:     "BTCUSDT",
		Timeframe:      "1h",
		Step:           step,
	}
}

func TestFetcher_NoSources(t *testing.T) {
	f := newTestFetcher(nil, nil)

	res, err := f.Fetch(context.Background(), fetchRequest(&domain.StepSpec{StepName: "s"}))
	require.NoError(t, err)
	assert.Empty(t, res.Vars)
	assert.Empty(t, res.Annotations)
}

func TestFetcher_MarketAndTool(t *testing.T) {
	market := &fakeMarket{candles: []marketdata.Candle{
		{OpenTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 1, Close: 2, Volume: 5},
	}}
	toolID := uuid.New()
	tools := executorFunc(func(ctx context.Context, orgID uuid.UUID, ref domain.ToolReference) (string, error) {
		assert.Equal(t, toolID, ref.ToolID)
		return "funding 0.01%", nil
	})

	step := &domain.StepSpec{
		StepName:       "wyckoff",
		DataSources:    []domain.DataSource{{Name: "market_data", Type: "market_data", NumCandles: 100, Timeframe: "4h"}},
		ToolReferences: []domain.ToolReference{{ToolID: toolID, VariableName: "funding"}},
	}

	res, err := newTestFetcher(market, tools).Fetch(context.Background(), fetchRequest(step))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT/4h"}, market.calls)
	assert.Contains(t, res.Vars["market_data"], "2024-01-01 00:00,1,2,1,2,5")
	assert.Equal(t, "funding 0.01%", res.Vars["funding"])
	assert.Empty(t, res.Annotations)
}

func TestFetcher_OptionalToolTimeout(t *testing.T) {
	step := &domain.StepSpec{
		StepName:       "smc",
		ToolReferences: []domain.ToolReference{{ToolID: uuid.New(), VariableName: "news"}},
	}

	res, err := newTestFetcher(nil, blockingTool).Fetch(context.Background(), fetchRequest(step))
	require.NoError(t, err)

	v, ok := res.Vars["news"]
	assert.True(t, ok, "failed optional variable should be present")
	assert.Equal(t, "", v)
	require.Len(t, res.Annotations, 1)
	assert.Contains(t, res.Annotations[0], "news")
	assert.Contains(t, res.Annotations[0], "timed out")
}

func TestFetcher_RequiredFailure(t *testing.T) {
	market := &fakeMarket{err: marketdata.ErrDataUnavailable}
	step := &domain.StepSpec{
		StepName:    "wyckoff",
		DataSources: []domain.DataSource{{Name: "market_data", Type: "market_data", NumCandles: 10, Required: true}},
	}

	_, err := newTestFetcher(market, nil).Fetch(context.Background(), fetchRequest(step))
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "market_data", fetchErr.Variable)
	assert.ErrorIs(t, err, marketdata.ErrDataUnavailable)
}

func TestFetcher_RequiredToolTimeout(t *testing.T) {
	step := &domain.StepSpec{
		StepName:       "smc",
		ToolReferences: []domain.ToolReference{{ToolID: uuid.New(), VariableName: "orderbook", Required: true}},
	}

	_, err := newTestFetcher(nil, blockingTool).Fetch(context.Background(), fetchRequest(step))

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, strings.HasPrefix(fetchErr.Source, "tool "))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcher_AnnotationsKeepDeclarationOrder(t *testing.T) {
	boom := errors.New("boom")
	tools := executorFunc(func(ctx context.Context, _ uuid.UUID, ref domain.ToolReference) (string, error) {
		return "", boom
	})
	step := &domain.StepSpec{
		StepName: "s",
		ToolReferences: []domain.ToolReference{
			{ToolID: uuid.New(), VariableName: "first"},
			{ToolID: uuid.New(), VariableName: "second"},
			{ToolID: uuid.New(), VariableName: "third"},
		},
	}

	res, err := newTestFetcher(nil, tools).Fetch(context.Background(), fetchRequest(step))
	require.NoError(t, err)
	require.Len(t, res.Annotations, 3)
	assert.Contains(t, res.Annotations[0], "(first)")
	assert.Contains(t, res.Annotations[1], "(second)")
	assert.Contains(t, res.Annotations[2], "(third)")
}
