package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Analytica/internal/domain"
)

const (
	defaultAPITimeout = 30 * time.Second
	maxResponseBody   = 10 * 1024 * 1024 // 10 MB
)

// APIRunner — tool типа api.
//
// Выполняет HTTP запрос и возвращает тело ответа как текст.
//
// Конфигурация tool:
//
//	{
//	    "url": "https://api.example.com/funding",
//	    "method": "GET",
//	    "headers": {"X-Api-Key": "..."}
//	}
//
// Параметры ссылки (extraction_config.params) уходят в query string для GET
// и в JSON тело для остальных методов.
type APIRunner struct {
	client *http.Client
}

// NewAPIRunner создаёт APIRunner.
func NewAPIRunner(client *http.Client) *APIRunner {
	if client == nil {
		client = &http.Client{Timeout: defaultAPITimeout}
	}
	return &APIRunner{client: client}
}

// Kind возвращает тип tool.
func (r *APIRunner) Kind() domain.ToolKind {
	return domain.ToolKindAPI
}

// Run выполняет HTTP запрос.
func (r *APIRunner) Run(ctx context.Context, tool *domain.Tool, params map[string]string) (string, error) {
	req, err := r.buildRequest(ctx, &tool.Config, params)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	return string(body), nil
}

// buildRequest создаёт HTTP запрос.
func (r *APIRunner) buildRequest(ctx context.Context, cfg *domain.ToolConfig, params map[string]string) (*http.Request, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: api: url is required", ErrInvalidConfig)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: api: %v", ErrInvalidConfig, err)
	}

	var bodyReader io.Reader
	if method == http.MethodGet {
		q := target.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	} else if len(params) > 0 {
		bodyBytes, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// HTTPError — ответ tool с не-2xx статусом.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
