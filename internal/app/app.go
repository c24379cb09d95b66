package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolchat/internal/llm"
	"toolchat/internal/message"
	"toolchat/internal/models"
	"toolchat/internal/prompt"
	"toolchat/internal/session"
	"toolchat/internal/settings"
	"toolchat/internal/tool"
)

var (
	ErrEmptyInput  = errors.New("input is empty")
	ErrNoConnector = errors.New("service connector is not configured")
)

// Connector builds the external collaborators from scratch. The map reports
// which of them are usable, keyed by display name.
type Connector func(ctx context.Context) (tool.Services, map[string]bool)

type TurnResult struct {
	ID        string   `json:"id"`
	Answer    string   `json:"answer"`
	Thinking  []string `json:"thinking,omitempty"`
	ToolCalls int      `json:"tool_calls"`
}

type LoadResult struct {
	Name          string `json:"name"`
	Model         string `json:"model"`
	Turns         int    `json:"turns"`
	ModelSwitched bool   `json:"model_switched"`
}

type Status struct {
	Settings      settings.Settings `json:"settings"`
	APIKey        bool              `json:"api_key"`
	Collaborators map[string]bool   `json:"collaborators"`
	Turns         int               `json:"conversation_turns"`
	Metrics       MetricsSnapshot   `json:"metrics"`
}

type Options struct {
	Settings     *settings.Store
	Catalog      *models.Catalog
	Conversation *session.Conversation
	Executor     *tool.Executor
	Provider     llm.Provider
	Prompt       *prompt.Builder
	Snapshots    *session.Snapshots
	History      *session.History
	Services     *tool.ServiceSet
	Connect      Connector
	Logger       *zap.Logger
}

// Session holds everything one chat needs. Turns and conversation-level
// mutations are serialized.
type Session struct {
	settings  *settings.Store
	catalog   *models.Catalog
	conv      *session.Conversation
	executor  *tool.Executor
	provider  llm.Provider
	prompt    *prompt.Builder
	snapshots *session.Snapshots
	history   *session.History
	services  *tool.ServiceSet
	connect   Connector
	metrics   *runtimeMetrics
	log       *zap.Logger

	mu sync.Mutex

	svcMu         sync.RWMutex
	collaborators map[string]bool
}

func New(opts Options) (*Session, error) {
	switch {
	case opts.Settings == nil:
		return nil, errors.New("settings store is required")
	case opts.Executor == nil:
		return nil, errors.New("executor is required")
	case opts.Provider == nil:
		return nil, errors.New("provider is required")
	}
	if opts.Catalog == nil {
		opts.Catalog = models.NewCatalog(nil)
	}
	if opts.Conversation == nil {
		opts.Conversation = session.NewConversation()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		settings:  opts.Settings,
		catalog:   opts.Catalog,
		conv:      opts.Conversation,
		executor:  opts.Executor,
		provider:  opts.Provider,
		prompt:    opts.Prompt,
		snapshots: opts.Snapshots,
		history:   opts.History,
		services:  opts.Services,
		connect:   opts.Connect,
		metrics:   newRuntimeMetrics(),
		log:       opts.Logger,
	}, nil
}

// Send runs one user turn. The user turn is always kept; tool results and
// the assistant turn are added only once the exchange they belong to has
// completed, so a transport error leaves the history at the user turn.
func (s *Session) Send(ctx context.Context, input string) (TurnResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return TurnResult{}, ErrEmptyInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.settings.Get()
	res := TurnResult{ID: uuid.NewString()}
	log := s.log.With(zap.String("turn_id", res.ID), zap.String("model", cfg.Model))
	s.metrics.turnsTotal.Add(1)
	started := time.Now()

	s.conv.Append(message.UserTurn(input))

	r1, err := s.send(ctx, cfg, s.conv.All())
	if err != nil {
		log.Warn("turn failed", zap.String("stage", "first_send"), zap.Error(err))
		return TurnResult{}, err
	}

	if !r1.IsStructured() {
		res.Answer = r1.Plain()
		s.conv.Append(message.AssistantText(res.Answer))
		s.finish(ctx, log, cfg, input, &res, started)
		return res, nil
	}

	blocks := r1.Blocks()
	var pending []message.ToolCall
	for _, b := range blocks {
		switch b.Kind {
		case message.KindThinking:
			s.surfaceThinking(ctx, cfg, &res, b.Body)
		case message.KindText:
			res.Answer = b.Body
		case message.KindToolRequest:
			pending = append(pending, b.Calls...)
		}
	}
	if len(pending) == 0 {
		s.conv.Append(message.AssistantBlocks(blocks))
		s.finish(ctx, log, cfg, input, &res, started)
		return res, nil
	}

	res.ToolCalls = len(pending)
	toolTurns := s.runTools(ctx, pending)
	augmented := append(s.conv.All(), toolTurns...)

	r2, err := s.send(ctx, cfg, augmented)
	if err != nil {
		log.Warn("turn failed", zap.String("stage", "followup_send"), zap.Int("tool_calls", len(pending)), zap.Error(err))
		return TurnResult{}, err
	}

	res.Answer = ""
	var final message.Turn
	if r2.IsStructured() {
		followup := r2.Blocks()
		for _, b := range followup {
			switch b.Kind {
			case message.KindThinking:
				s.surfaceThinking(ctx, cfg, &res, b.Body)
			case message.KindText:
				if res.Answer == "" {
					res.Answer = b.Body
				}
			}
		}
		final = message.AssistantBlocks(followup)
	} else {
		res.Answer = r2.Plain()
		final = message.AssistantText(res.Answer)
	}
	s.conv.Append(append(toolTurns, final)...)
	s.finish(ctx, log, cfg, input, &res, started)
	return res, nil
}

func (s *Session) send(ctx context.Context, cfg settings.Settings, turns []message.Turn) (message.Response, error) {
	resp, err := s.provider.Send(ctx, s.request(cfg, turns))
	if err != nil {
		s.metrics.transportErrors.Add(1)
		return message.Response{}, err
	}
	s.metrics.sends.Add(1)
	return resp, nil
}

func (s *Session) request(cfg settings.Settings, turns []message.Turn) llm.Request {
	req := llm.Request{
		Model:              cfg.Model,
		Turns:              turns,
		Temperature:        cfg.Temperature,
		MaxTokens:          cfg.MaxOutputTokens,
		Deliberation:       cfg.DeliberationEnabled,
		DeliberationBudget: cfg.DeliberationBudget,
		ExtendedOutput:     cfg.ExtendedOutput && s.catalog.SupportsExtendedOutput(cfg.Model),
	}
	var names []string
	if cfg.ToolsEnabled {
		req.Tools = s.executor.Registry().Specs()
		for _, spec := range req.Tools {
			names = append(names, spec.Name)
		}
	}
	if s.prompt != nil {
		req.System = s.prompt.Build(names)
	}
	return req
}

// runTools executes the batch and returns one tool-result turn per call, in
// call order.
func (s *Session) runTools(ctx context.Context, calls []message.ToolCall) []message.Turn {
	for _, call := range calls {
		args, _ := json.Marshal(call.Arguments)
		emitEvent(ctx, Event{Type: EventToolCall, Tool: call.Name, Text: string(args)})
	}
	results := s.executor.ExecuteAll(ctx, calls)
	turns := make([]message.Turn, 0, len(results))
	for i, r := range results {
		s.metrics.toolCalls.Add(1)
		text := "ok"
		if r.Failed() {
			s.metrics.toolErrors.Add(1)
			text = fmt.Sprint(r.Outcome["error"])
		}
		emitEvent(ctx, Event{Type: EventToolResult, Tool: calls[i].Name, Text: text})
		turns = append(turns, message.ToolResultTurn(r))
	}
	return turns
}

func (s *Session) surfaceThinking(ctx context.Context, cfg settings.Settings, res *TurnResult, body string) {
	if !cfg.ShowDeliberation || strings.TrimSpace(body) == "" {
		return
	}
	res.Thinking = append(res.Thinking, body)
	emitEvent(ctx, Event{Type: EventThinking, Text: body})
}

func (s *Session) finish(ctx context.Context, log *zap.Logger, cfg settings.Settings, input string, res *TurnResult, started time.Time) {
	if strings.TrimSpace(res.Answer) == "" {
		s.metrics.emptyAnswers.Add(1)
	}
	if s.history != nil {
		if err := s.history.Record(ctx, input, res.Answer, cfg.Model); err != nil {
			log.Warn("history write failed", zap.Error(err))
		}
	}
	log.Info("turn complete",
		zap.Int("tool_calls", res.ToolCalls),
		zap.Int("answer_chars", len(res.Answer)),
		zap.Duration("elapsed", time.Since(started)),
	)
}

func (s *Session) Settings() settings.Settings {
	return s.settings.Get()
}

// Configure sets one option by name and persists it.
func (s *Session) Configure(key, value string) (settings.Settings, error) {
	return s.settings.Set(key, value)
}

func (s *Session) Catalog() *models.Catalog {
	return s.catalog
}

// SelectModel switches to a model given by identifier or 1-based catalog
// index.
func (s *Session) SelectModel(name string) (settings.Settings, error) {
	def, err := s.catalog.Resolve(name)
	if err != nil {
		return s.settings.Get(), err
	}
	return s.settings.Set("model", def.ID)
}

func (s *Session) Tools() []tool.Capability {
	return s.executor.Registry().List()
}

// RunTool invokes one capability directly, outside any chat turn.
func (s *Session) RunTool(ctx context.Context, name string, args map[string]any) tool.Outcome {
	return s.executor.Execute(ctx, name, args)
}

func (s *Session) Turns() []message.Turn {
	return s.conv.All()
}

func (s *Session) ClearConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Clear()
	s.log.Info("conversation cleared")
}

// Reset drops the conversation, typically after a tool exchange was left
// half finished. Settings are untouched.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.conv.Len()
	s.conv.Clear()
	s.log.Info("conversation reset", zap.Int("dropped_turns", n))
}

// ResetSettings restores and persists the default settings.
func (s *Session) ResetSettings() (settings.Settings, error) {
	return s.settings.Reset()
}

// Services returns the collaborators the capabilities currently use.
func (s *Session) Services() tool.Services {
	if s.services == nil {
		return tool.Services{}
	}
	return s.services.Load()
}

// Reconnect rebuilds the collaborators through the configured Connector and
// stores them into the shared ServiceSet, so every later tool call sees them.
// It returns the new availability map.
func (s *Session) Reconnect(ctx context.Context) (map[string]bool, error) {
	if s.connect == nil || s.services == nil {
		return nil, ErrNoConnector
	}
	svc, status := s.connect(ctx)
	s.services.Store(svc)

	out := make(map[string]bool, len(status))
	s.svcMu.Lock()
	s.collaborators = make(map[string]bool, len(status))
	for name, ok := range status {
		s.collaborators[name] = ok
		out[name] = ok
	}
	s.svcMu.Unlock()

	fields := make([]zap.Field, 0, len(status))
	for name, ok := range status {
		fields = append(fields, zap.Bool(name, ok))
	}
	s.log.Info("services connected", fields...)
	return out, nil
}

func (s *Session) SaveConversation(name string) (string, error) {
	if s.snapshots == nil {
		return "", errors.New("conversation snapshots are not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots.Save(name, s.settings.Get().Model, s.conv.All())
}

// LoadConversation replaces the history with a saved one. The saved model
// becomes active only when the catalog knows it.
func (s *Session) LoadConversation(name string) (LoadResult, error) {
	if s.snapshots == nil {
		return LoadResult{}, errors.New("conversation snapshots are not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.snapshots.Load(name)
	if err != nil {
		return LoadResult{}, err
	}
	s.conv.Replace(snap.Turns)
	out := LoadResult{Name: strings.TrimSuffix(strings.TrimSpace(name), ".json"), Turns: len(snap.Turns)}
	current := s.settings.Get().Model
	out.Model = current
	if snap.Model != "" && snap.Model != current && s.catalog.IsKnown(snap.Model) {
		if _, err := s.settings.Update(func(next *settings.Settings) error {
			next.Model = snap.Model
			return nil
		}); err != nil {
			return out, fmt.Errorf("switch model: %w", err)
		}
		out.Model = snap.Model
		out.ModelSwitched = true
	} else if snap.Model != "" && !s.catalog.IsKnown(snap.Model) {
		s.log.Info("saved model not recognized, keeping current", zap.String("saved", snap.Model), zap.String("current", current))
	}
	return out, nil
}

func (s *Session) ListConversations() ([]session.SnapshotInfo, error) {
	if s.snapshots == nil {
		return nil, nil
	}
	return s.snapshots.List()
}

func (s *Session) History(ctx context.Context, limit int) ([]session.HistoryEntry, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, limit)
}

func (s *Session) ClearHistory(ctx context.Context) error {
	if s.history == nil {
		return nil
	}
	return s.history.Clear(ctx)
}

func (s *Session) Status() Status {
	st := Status{
		Settings:      s.settings.Get(),
		Collaborators: map[string]bool{},
		Turns:         s.conv.Len(),
		Metrics:       s.metrics.snapshot(),
	}
	st.Metrics.CacheHits = s.executor.CacheHits()
	if k, ok := s.provider.(interface{ HasAPIKey() bool }); ok {
		st.APIKey = k.HasAPIKey()
	}
	s.svcMu.RLock()
	for name, ok := range s.collaborators {
		st.Collaborators[name] = ok
	}
	s.svcMu.RUnlock()
	return st
}
