// Package llm содержит клиент LLM провайдера.
//
// Client — контракт, который использует исполнитель шагов.
// OpenRouterClient — реализация для OpenAI-совместимого /chat/completions.
package llm

import "context"

// Request — параметры одного вызова модели.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64

	// MaxTokens — лимит токенов ответа. 0 — значение провайдера.
	MaxTokens int
}

// Response — ответ модели.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int

	// CostEst — стоимость, сообщённая провайдером (USD). 0 — неизвестна.
	CostEst float64

	Provider string
}

// Client вызывает модель. Ошибки провайдера возвращаются как *Error.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
