package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"toolchat/internal/cache"
	"toolchat/internal/message"
)

type ResultCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Executor runs capability calls and turns every failure into an error
// outcome. It never returns a Go error to its caller.
type Executor struct {
	registry    *Registry
	cache       ResultCache
	parallelism int
	log         *zap.Logger
	cacheHits   atomic.Int64
}

func NewExecutor(registry *Registry, resultCache ResultCache, parallelism int, log *zap.Logger) *Executor {
	if parallelism <= 0 {
		parallelism = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{registry: registry, cache: resultCache, parallelism: parallelism, log: log}
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

func (e *Executor) CacheHits() int64 {
	return e.cacheHits.Load()
}

// Execute runs one capability by name.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (out Outcome) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = ErrorOutcome(fmt.Sprintf("Error executing tool: %v", r))
		}
		_, failed := out["error"]
		e.log.Info("tool executed",
			zap.String("tool", name),
			zap.Bool("ok", !failed),
			zap.Duration("elapsed", time.Since(started)),
		)
	}()

	c, err := e.registry.Get(name)
	if err != nil {
		return ErrorOutcome("Unknown tool: " + name)
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ErrorOutcome(fmt.Sprintf("Error executing tool: %v", err))
	}

	var key string
	if e.cache != nil && !c.Mutating() {
		key = cache.Key(c.Name(), args)
		var cached Outcome
		if hit, err := e.cache.Get(ctx, key, &cached); err == nil && hit {
			e.cacheHits.Add(1)
			return cached
		}
	}

	out, err = e.registry.Run(ctx, c.Name(), raw)
	if err != nil {
		return ErrorOutcome(err.Error())
	}
	if out == nil {
		out = Outcome{}
	}
	if key != "" {
		if err := e.cache.Set(ctx, key, out); err != nil {
			e.log.Warn("cache write failed", zap.String("tool", name), zap.Error(err))
		}
	}
	return out
}

// ExecuteAll runs a batch of calls and returns exactly one result per call,
// in call order. Read-only calls run concurrently; mutating calls run one at
// a time afterwards so approval prompts never overlap.
func (e *Executor) ExecuteAll(ctx context.Context, calls []message.ToolCall) []message.ToolResult {
	results := make([]message.ToolResult, len(calls))
	run := func(i int) {
		results[i] = message.ToolResult{
			CallID:  calls[i].ID,
			Outcome: e.Execute(ctx, calls[i].Name, calls[i].Arguments),
		}
	}

	var sequential []int
	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup
	for i, call := range calls {
		if c, err := e.registry.Get(call.Name); err == nil && c.Mutating() {
			sequential = append(sequential, i)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			run(i)
		}(i)
	}
	wg.Wait()
	for _, i := range sequential {
		run(i)
	}
	return results
}
