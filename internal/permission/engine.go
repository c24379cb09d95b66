package permission

import (
	"path"
	"sort"
	"strings"
)

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// DefaultRules ask before any capability that writes to a remote service.
func DefaultRules() map[string]string {
	return map[string]string{
		"create_*": string(DecisionAsk),
		"*":        string(DecisionAllow),
	}
}

type Engine struct {
	defaultDecision Decision
	rules           map[string]Decision
	patterns        []string
}

func NewEngine(defaultDecision Decision, rules map[string]string) *Engine {
	if defaultDecision == "" {
		defaultDecision = DecisionAsk
	}
	e := &Engine{defaultDecision: defaultDecision, rules: map[string]Decision{}}
	for pattern, v := range rules {
		p := strings.ToLower(strings.TrimSpace(pattern))
		if p == "" {
			continue
		}
		e.rules[p] = normalizeDecision(v, defaultDecision)
		if p != "*" && strings.ContainsAny(p, "*?[") {
			e.patterns = append(e.patterns, p)
		}
	}
	// longer patterns are more specific and win over shorter ones
	sort.Slice(e.patterns, func(i, j int) bool {
		if len(e.patterns[i]) != len(e.patterns[j]) {
			return len(e.patterns[i]) > len(e.patterns[j])
		}
		return e.patterns[i] < e.patterns[j]
	})
	return e
}

// Decide applies priority: exact > wildcard > "*" > default.
func (e *Engine) Decide(toolName string) (decision Decision, matched string) {
	toolName = strings.ToLower(strings.TrimSpace(toolName))
	if toolName == "" {
		return DecisionDeny, ""
	}
	if d, ok := e.rules[toolName]; ok {
		return d, toolName
	}
	for _, p := range e.patterns {
		if ok, _ := path.Match(p, toolName); ok {
			return e.rules[p], p
		}
	}
	if d, ok := e.rules["*"]; ok {
		return d, "*"
	}
	return e.defaultDecision, "default"
}

func normalizeDecision(v string, fallback Decision) Decision {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "allow":
		return DecisionAllow
	case "deny":
		return DecisionDeny
	case "ask":
		return DecisionAsk
	default:
		return fallback
	}
}
