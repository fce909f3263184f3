// Package llm defines the single language-model capability used by extraction,
// matching and the assistant, plus its OpenAI-backed implementation.
package llm

import (
	"context"
	"errors"
)

// Roles accepted in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNoChoices is returned when the provider answers without any choice.
	ErrNoChoices = errors.New("llm: no choices in response")
	// ErrMalformedJSON is returned when JSON content cannot be decoded.
	ErrMalformedJSON = errors.New("llm: malformed json content")
	// ErrNotConfigured is returned by a nil or keyless completer.
	ErrNotConfigured = errors.New("llm: client not configured")
)

// Completer sends one chat completion request and returns the top choice.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Image is an inline image passed to vision-capable models.
type Image struct {
	MIMEType string
	Data     []byte
}

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
	Images  []Image
}

// Tool describes a callable function offered to the model. Parameters holds a
// JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a provider-neutral completion request.
type Request struct {
	System    string
	Messages  []Message
	JSON      bool
	Tools     []Tool
	Vision    bool
	MaxTokens int
}

// ToolCall is the first function call chosen by the model.
type ToolCall struct {
	Name      string
	Arguments string
}

// Response carries the content and optional tool call of the top choice.
type Response struct {
	Content  string
	ToolCall *ToolCall
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (Response, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
