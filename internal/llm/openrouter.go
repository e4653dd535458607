package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL — адрес OpenRouter API.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// costHeader — заголовок, в котором OpenRouter сообщает стоимость вызова.
const costHeader = "x-openrouter-cost"

// OpenRouterConfig — конфигурация OpenRouterClient.
type OpenRouterConfig struct {
	// BaseURL — адрес API без /chat/completions.
	BaseURL string

	APIKey string

	// Provider — имя провайдера в ответах. По умолчанию "openrouter".
	Provider string

	// RequestsPerSecond — лимит запросов. 0 — без лимита.
	RequestsPerSecond float64

	// HTTPClient — HTTP клиент. Таймаут вызова задаёт контекст шага.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// OpenRouterClient вызывает OpenAI-совместимый /chat/completions.
type OpenRouterClient struct {
	baseURL  string
	apiKey   string
	provider string
	limiter  *rate.Limiter
	client   *http.Client
	logger   *slog.Logger
}

// NewOpenRouterClient создаёт клиент.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Provider == "" {
		cfg.Provider = "openrouter"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenRouterClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		provider: cfg.Provider,
		limiter:  limiter,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Usage       *usageOption  `json:"usage,omitempty"`
}

type usageOption struct {
	Include bool `json:"include"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		Cost             float64 `json:"cost"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete выполняет один вызов модели.
func (c *OpenRouterClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport(err)
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Usage:       &usageOption{Include: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		message := string(respBody)
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return nil, &Error{
			Kind:       classifyStatus(resp.StatusCode, message),
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &Error{Kind: KindProvider, Message: "parse response", Err: err}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &Error{Kind: KindProvider, Err: ErrEmptyResponse}
	}

	choice := chatResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, &Error{Kind: KindContentPolicy, Message: "response blocked by content filter"}
	}

	// Стоимость: заголовок > usage.cost > 0 (пересчитает исполнитель по таблице цен)
	cost := chatResp.Usage.Cost
	if v, err := strconv.ParseFloat(resp.Header.Get(costHeader), 64); err == nil && v > 0 {
		cost = v
	}

	c.logger.Debug("llm call completed",
		"model", req.Model,
		"input_tokens", chatResp.Usage.PromptTokens,
		"output_tokens", chatResp.Usage.CompletionTokens,
		"duration", time.Since(start),
	)

	return &Response{
		Content:      choice.Message.Content,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
		CostEst:      cost,
		Provider:     c.provider,
	}, nil
}
