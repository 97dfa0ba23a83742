package pipeline

import "sync"

// Usage holds token totals for a job
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UsageTracker accumulates token usage across concurrent model calls
type UsageTracker struct {
	mu    sync.Mutex
	total Usage
}

func (t *UsageTracker) Add(promptTokens, completionTokens int) {
	t.mu.Lock()
	t.total.InputTokens += promptTokens
	t.total.OutputTokens += completionTokens
	t.mu.Unlock()
	tokensTotal.WithLabelValues(directionInput).Add(float64(promptTokens))
	tokensTotal.WithLabelValues(directionOutput).Add(float64(completionTokens))
}

func (t *UsageTracker) Totals() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
