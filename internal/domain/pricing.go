package domain

import "time"

// ModelPricing — цена модели за 1000 токенов (USD).
type ModelPricing struct {
	Model           string    `json:"model"`
	Provider        string    `json:"provider"`
	CostPer1KInput  float64   `json:"cost_per_1k_input"`
	CostPer1KOutput float64   `json:"cost_per_1k_output"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Cost считает стоимость по количеству токенов.
func (p ModelPricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.CostPer1KInput + float64(outputTokens)/1000*p.CostPer1KOutput
}
