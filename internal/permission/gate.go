package permission

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Approver is asked to confirm a capability call when the policy says ask.
type Approver interface {
	Approve(ctx context.Context, toolName string, args json.RawMessage) (bool, error)
}

type ApproverFunc func(ctx context.Context, toolName string, args json.RawMessage) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, toolName string, args json.RawMessage) (bool, error) {
	return f(ctx, toolName, args)
}

type NotApprovedError struct {
	Tool     string
	Decision Decision
}

func (e *NotApprovedError) Error() string {
	if e.Decision == DecisionDeny {
		return fmt.Sprintf("Tool %s is denied by policy", e.Tool)
	}
	return fmt.Sprintf("Tool %s was not approved", e.Tool)
}

type approvedKey struct{}

// WithUserApproval marks ctx as carrying a call the user already asked for
// directly, such as a shell command. Ask rules pass without prompting; deny
// rules still refuse.
func WithUserApproval(ctx context.Context) context.Context {
	return context.WithValue(ctx, approvedKey{}, true)
}

func userApproved(ctx context.Context) bool {
	ok, _ := ctx.Value(approvedKey{}).(bool)
	return ok
}

// Gate is a capability hook that enforces the engine's decisions. Without an
// approver every "ask" decision is treated as a refusal.
type Gate struct {
	engine   *Engine
	approver Approver
	log      *zap.Logger
}

func NewGate(engine *Engine, approver Approver, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{engine: engine, approver: approver, log: log}
}

func (g *Gate) BeforeRun(ctx context.Context, toolName string, args json.RawMessage) error {
	decision, matched := g.engine.Decide(toolName)
	switch decision {
	case DecisionAllow:
		return nil
	case DecisionAsk:
		if userApproved(ctx) {
			g.log.Info("tool approved by direct command", zap.String("tool", toolName))
			return nil
		}
		if g.approver == nil {
			g.log.Info("tool refused, no approver", zap.String("tool", toolName), zap.String("rule", matched))
			return &NotApprovedError{Tool: toolName, Decision: decision}
		}
		ok, err := g.approver.Approve(ctx, toolName, args)
		if err != nil {
			return fmt.Errorf("approval for %s: %w", toolName, err)
		}
		g.log.Info("tool approval", zap.String("tool", toolName), zap.Bool("approved", ok))
		if !ok {
			return &NotApprovedError{Tool: toolName, Decision: decision}
		}
		return nil
	default:
		g.log.Info("tool denied", zap.String("tool", toolName), zap.String("rule", matched))
		return &NotApprovedError{Tool: toolName, Decision: DecisionDeny}
	}
}

func (g *Gate) AfterRun(context.Context, string, json.RawMessage, map[string]any, error) error {
	return nil
}
