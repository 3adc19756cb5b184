// Package completion is the boundary to the text-generation backend. The
// routing core only sees the Client interface; OpenAIClient talks to any
// OpenAI-compatible chat completions endpoint and BreakerClient wraps a
// Client with a circuit breaker.
package completion

import (
	"context"
	"unicode/utf8"
)

// Message roles accepted by the backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of conversation context.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion call: a system prompt, prior turns oldest
// first, and the new user message. UserMessage may be empty when the system
// prompt alone carries the question (scope and classification prompts).
type Request struct {
	SystemPrompt string
	History      []Message
	UserMessage  string

	// Temperature overrides the client default when non-nil.
	Temperature *float64
	// Op labels the call in logs, metrics and errors ("generate", "classify", "scope").
	Op string
}

// Client generates text from a Request. Implementations must honour ctx
// cancellation and return errors classified as apperr.UpstreamUnavailable
// for backend failures and timeouts.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GenerateJSON runs req and decodes the reply into v with DecodeJSON.
// Backend errors are returned unchanged; undecodable replies return an
// apperr.MalformedUpstreamResponse error together with the raw text.
func GenerateJSON(ctx context.Context, c Client, req Request, v any) (string, error) {
	raw, err := c.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if err := DecodeJSON(raw, v); err != nil {
		return raw, err
	}
	return raw, nil
}

// Messages flattens req into the wire order: system, history, user.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, len(r.History)+2)
	if r.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	msgs = append(msgs, r.History...)
	if r.UserMessage != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: r.UserMessage})
	}
	return msgs
}

// Float returns a pointer to f, for Request.Temperature.
func Float(f float64) *float64 { return &f }

// Truncate cuts s to at most maxLen bytes for log fields, backing off to a
// rune boundary, and appends "..." when anything was cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
