package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"toolchat/internal/llm"
)

// Outcome is the JSON-compatible result of one capability call. A failed
// call is reported as {"error": "..."}.
type Outcome = map[string]any

func ErrorOutcome(msg string) Outcome {
	return Outcome{"error": msg}
}

// Capability is a named external action with a fixed input schema.
type Capability interface {
	Name() string
	Description() string
	Schema() []byte
	// Mutating capabilities perform remote writes and are never cached.
	Mutating() bool
	Invoke(ctx context.Context, args json.RawMessage) (Outcome, error)
}

type Hook interface {
	BeforeRun(ctx context.Context, toolName string, args json.RawMessage) error
	AfterRun(ctx context.Context, toolName string, args json.RawMessage, outcome map[string]any, runErr error) error
}

var ErrNotFound = errors.New("tool not found")

// Registry is the catalog of capabilities. It is filled once at start up and
// only read afterwards.
type Registry struct {
	order []string
	caps  map[string]Capability
	hooks []Hook
}

func NewRegistry() *Registry {
	return &Registry{caps: map[string]Capability{}}
}

func (r *Registry) Register(c Capability) error {
	if c == nil {
		return errors.New("capability is nil")
	}
	name := strings.ToLower(strings.TrimSpace(c.Name()))
	if name == "" {
		return errors.New("capability name is empty")
	}
	if _, ok := r.caps[name]; ok {
		return fmt.Errorf("capability %q already registered", name)
	}
	if !json.Valid(c.Schema()) {
		return fmt.Errorf("capability %q has an invalid schema", name)
	}
	r.caps[name] = c
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (Capability, error) {
	c, ok := r.caps[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// List returns capabilities in declaration order.
func (r *Registry) List() []Capability {
	out := make([]Capability, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caps[name])
	}
	return out
}

func (r *Registry) RegisterHook(h Hook) error {
	if h == nil {
		return errors.New("hook is nil")
	}
	r.hooks = append(r.hooks, h)
	return nil
}

// Specs returns the declarations attached to a transport request.
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, c := range r.List() {
		out = append(out, llm.ToolSpec{
			Name:        c.Name(),
			Description: c.Description(),
			InputSchema: json.RawMessage(c.Schema()),
		})
	}
	return out
}

// Run invokes a capability through the registered hooks. A failing
// BeforeRun hook stops the call.
func (r *Registry) Run(ctx context.Context, name string, args json.RawMessage) (Outcome, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	for _, h := range r.hooks {
		if err := h.BeforeRun(ctx, c.Name(), args); err != nil {
			return nil, err
		}
	}
	out, runErr := c.Invoke(ctx, args)
	for _, h := range r.hooks {
		if err := h.AfterRun(ctx, c.Name(), args, out, runErr); err != nil {
			if runErr == nil {
				runErr = err
			}
		}
	}
	return out, runErr
}
