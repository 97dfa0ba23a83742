package ai

import (
	"context"
	"encoding/json"
)

// Role of a prompt turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged prompt turn
type Message struct {
	Role    Role
	Content string
}

// Schema asks the provider for output that validates against Definition
type Schema struct {
	Name       string
	Definition json.RawMessage
}

// Request for a single completion
type Request struct {
	Model           string
	Messages        []Message
	Temperature     float32
	MaxOutputTokens int
	Schema          *Schema
}

// Usage reported by the provider for one call
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response of a single completion
type Response struct {
	Text  string
	Usage Usage
}

// Client talks to a model provider
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
