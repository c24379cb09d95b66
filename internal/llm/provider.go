package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"toolchat/internal/message"
)

const (
	// DeliberationHeadroom is reserved out of max_tokens for the visible answer.
	DeliberationHeadroom = 100
	// DeliberationTemperature is required by the API whenever thinking is on.
	// It is a protocol constraint and overrides the configured temperature.
	DeliberationTemperature = 1.0
)

type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type Request struct {
	Model              string
	System             string
	Turns              []message.Turn
	Temperature        float64
	MaxTokens          int
	Deliberation       bool
	DeliberationBudget int
	ExtendedOutput     bool
	Tools              []ToolSpec
}

// Provider sends one request and returns the reply as either plain text or
// structured blocks. Implementations do not retry.
type Provider interface {
	Send(ctx context.Context, req Request) (message.Response, error)
}

var (
	ErrTransport         = errors.New("transport error")
	ErrTimeout           = fmt.Errorf("%w: request timed out", ErrTransport)
	ErrConnectivity      = fmt.Errorf("%w: connection failed", ErrTransport)
	ErrMalformedResponse = errors.New("malformed response")
)

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Status  int
	Type    string
	Message string
	Body    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		if e.Type != "" {
			return fmt.Sprintf("API request HTTP %d (%s): %s", e.Status, e.Type, e.Message)
		}
		return fmt.Sprintf("API request HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API request HTTP %d: %s", e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrTransport
}

// DeliberationBudget caps the thinking budget so that at least
// DeliberationHeadroom tokens remain for the answer. A non-positive result
// means there is no room for deliberation at all.
func DeliberationBudget(configured, maxTokens int) int {
	limit := maxTokens - DeliberationHeadroom
	if configured < limit {
		return configured
	}
	return limit
}
