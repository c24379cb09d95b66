package app

import (
	"fmt"
	"sync/atomic"
)

type runtimeMetrics struct {
	turnsTotal      atomic.Int64
	sends           atomic.Int64
	transportErrors atomic.Int64
	toolCalls       atomic.Int64
	toolErrors      atomic.Int64
	emptyAnswers    atomic.Int64
}

type MetricsSnapshot struct {
	Turns           int64   `json:"turns"`
	Sends           int64   `json:"sends"`
	TransportErrors int64   `json:"transport_errors"`
	ToolCalls       int64   `json:"tool_calls"`
	ToolErrors      int64   `json:"tool_errors"`
	ToolErrorRate   float64 `json:"tool_error_rate"`
	EmptyAnswers    int64   `json:"empty_answers"`
	CacheHits       int64   `json:"cache_hits"`
}

func newRuntimeMetrics() *runtimeMetrics {
	return &runtimeMetrics{}
}

func (m *runtimeMetrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	toolCalls := m.toolCalls.Load()
	toolErrors := m.toolErrors.Load()
	return MetricsSnapshot{
		Turns:           m.turnsTotal.Load(),
		Sends:           m.sends.Load(),
		TransportErrors: m.transportErrors.Load(),
		ToolCalls:       toolCalls,
		ToolErrors:      toolErrors,
		ToolErrorRate:   safeRate(toolErrors, toolCalls),
		EmptyAnswers:    m.emptyAnswers.Load(),
	}
}

func (m MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"metrics: turns=%d sends=%d transport_errors=%d tool_calls=%d tool_errors=%.1f%% empty_answers=%d cache_hits=%d",
		m.Turns,
		m.Sends,
		m.TransportErrors,
		m.ToolCalls,
		m.ToolErrorRate*100,
		m.EmptyAnswers,
		m.CacheHits,
	)
}

func safeRate(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}
