package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL — публичный API свечей, совместимый с Binance klines.
	DefaultBaseURL = "https://api.binance.com"

	// maxCandlesPerRequest — лимит свечей за один запрос.
	maxCandlesPerRequest = 1000

	maxResponseBody = 10 * 1024 * 1024 // 10 MB
)

// HTTPConfig — конфигурация HTTPProvider.
type HTTPConfig struct {
	BaseURL string

	// RequestsPerSecond — лимит запросов ко всему провайдеру. 0 — 10 rps.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPProvider загружает свечи через GET /api/v3/klines.
//
// Лимитер общий для всех run, запросы сверх лимита ждут в Wait.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPProvider создаёт HTTPProvider.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  cfg.Logger,
	}
}

// FetchCandles загружает последние n свечей по возрастанию времени.
func (p *HTTPProvider) FetchCandles(ctx context.Context, instrument, timeframe string, n int) ([]Candle, error) {
	if n <= 0 || n > maxCandlesPerRequest {
		return nil, fmt.Errorf("%w: candle count %d out of range 1..%d", ErrDataUnavailable, n, maxCandlesPerRequest)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(instrument))
	q.Set("interval", timeframe)
	q.Set("limit", strconv.Itoa(n))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrDataUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrDataUnavailable, resp.StatusCode, truncate(string(body), 200))
	}

	candles, err := parseKlines(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s %s", ErrDataUnavailable, instrument, timeframe)
	}

	p.logger.Debug("candles fetched", "instrument", instrument, "timeframe", timeframe, "count", len(candles))
	return candles, nil
}

// parseKlines разбирает ответ [[openTime, "open", "high", "low", "close", "volume", ...], ...].
func parseKlines(body []byte) ([]Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d: expected at least 6 fields, got %d", i, len(row))
		}

		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d: open time: %w", i, err)
		}

		values := make([]float64, 5)
		for j := range values {
			v, err := parseNumber(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("kline %d: field %d: %w", i, j+1, err)
			}
			values[j] = v
		}

		candles = append(candles, Candle{
			OpenTime: time.UnixMilli(openMs).UTC(),
			Open:     values[0],
			High:     values[1],
			Low:      values[2],
			Close:    values[3],
			Volume:   values[4],
		})
	}

	return candles, nil
}

// parseNumber принимает число как JSON строку или JSON число.
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
