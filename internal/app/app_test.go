package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolchat/internal/google"
	"toolchat/internal/llm"
	"toolchat/internal/message"
	"toolchat/internal/models"
	"toolchat/internal/prompt"
	"toolchat/internal/session"
	"toolchat/internal/settings"
	"toolchat/internal/storage"
	"toolchat/internal/tool"
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []message.Response
	errs      []error
	requests  []llm.Request
}

func (p *scriptedProvider) Send(_ context.Context, req llm.Request) (message.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	if idx < len(p.errs) && p.errs[idx] != nil {
		return message.Response{}, p.errs[idx]
	}
	if idx >= len(p.responses) {
		return message.PlainResponse("unscripted"), nil
	}
	return p.responses[idx], nil
}

func (p *scriptedProvider) HasAPIKey() bool { return true }

type fakeMailbox struct {
	emails []google.Email
}

func (f *fakeMailbox) Search(context.Context, string, int) ([]google.Email, error) {
	return f.emails, nil
}

func (f *fakeMailbox) CreateDraft(context.Context, google.Draft) (string, error) {
	return "draft-1", nil
}

type fixture struct {
	session  *Session
	provider *scriptedProvider
	settings *settings.Store
	services *tool.ServiceSet
	dir      string
}

func newFixture(t *testing.T, svc tool.Services, responses ...message.Response) *fixture {
	t.Helper()
	dir := t.TempDir()
	catalog := models.NewCatalog(nil)
	store, err := settings.Open(filepath.Join(dir, "config.json"), catalog, nil)
	require.NoError(t, err)
	services := tool.NewServiceSet(svc)
	reg, err := tool.NewServiceRegistry(services)
	require.NoError(t, err)
	db, err := storage.NewBoltStore(filepath.Join(dir, "toolchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	provider := &scriptedProvider{responses: responses}
	s, err := New(Options{
		Settings:  store,
		Catalog:   catalog,
		Executor:  tool.NewExecutor(reg, nil, 4, nil),
		Provider:  provider,
		Prompt:    prompt.NewBuilder(""),
		Snapshots: session.NewSnapshots(filepath.Join(dir, "conversations"), nil),
		History:   session.NewHistory(db),
		Services:  services,
	})
	require.NoError(t, err)
	return &fixture{session: s, provider: provider, settings: store, services: services, dir: dir}
}

func (f *fixture) set(t *testing.T, kv ...string) {
	t.Helper()
	for i := 0; i+1 < len(kv); i += 2 {
		_, err := f.settings.Set(kv[i], kv[i+1])
		require.NoError(t, err)
	}
}

func roles(turns []message.Turn) []message.Role {
	out := make([]message.Role, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Role)
	}
	return out
}

func TestSendPlainAnswerWithToolsDisabled(t *testing.T) {
	f := newFixture(t, tool.Services{}, message.PlainResponse("Hi there"))
	f.set(t, "tools_enabled", "off", "deliberation_enabled", "off")

	res, err := f.session.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Answer)
	assert.NotEmpty(t, res.ID)

	turns := f.session.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, message.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Text)
	assert.Equal(t, message.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Hi there", turns[1].Text)

	require.Len(t, f.provider.requests, 1)
	req := f.provider.requests[0]
	assert.Empty(t, req.Tools)
	assert.False(t, req.Deliberation)
	assert.Empty(t, req.System)
}

func TestSendToolRoundTrip(t *testing.T) {
	mail := &fakeMailbox{emails: []google.Email{{ID: "1"}, {ID: "2"}, {ID: "3"}}}
	f := newFixture(t, tool.Services{Mail: mail},
		message.StructuredResponse([]message.Block{
			message.Text("Let me look."),
			message.ToolRequest(message.ToolCall{ID: "toolu_1", Name: tool.NameSearchEmails, Arguments: map[string]any{"query": "invoices"}}),
		}),
		message.StructuredResponse([]message.Block{message.Text("I found 3 emails")}),
	)

	res, err := f.session.Send(context.Background(), "find emails about invoices")
	require.NoError(t, err)
	assert.Equal(t, "I found 3 emails", res.Answer)
	assert.Equal(t, 1, res.ToolCalls)

	turns := f.session.Turns()
	assert.Equal(t, []message.Role{message.RoleUser, message.RoleToolResult, message.RoleAssistant}, roles(turns))
	require.NotNil(t, turns[1].Result)
	assert.Equal(t, "toolu_1", turns[1].Result.CallID)
	assert.Len(t, turns[1].Result.Outcome["emails"], 3)
	assert.Equal(t, "I found 3 emails", turns[2].PlainText())

	require.Len(t, f.provider.requests, 2)
	assert.NotEmpty(t, f.provider.requests[0].Tools)
	assert.NotEmpty(t, f.provider.requests[1].Tools)
	assert.Contains(t, f.provider.requests[0].System, tool.NameSearchEmails)
	followup := f.provider.requests[1].Turns
	assert.Equal(t, []message.Role{message.RoleUser, message.RoleToolResult}, roles(followup))
}

func TestSendUnavailableServiceStillFollowsUp(t *testing.T) {
	f := newFixture(t, tool.Services{},
		message.StructuredResponse([]message.Block{
			message.ToolRequest(message.ToolCall{ID: "toolu_1", Name: tool.NameSearchEmails, Arguments: map[string]any{"query": "invoices"}}),
		}),
		message.StructuredResponse([]message.Block{message.Text("Gmail is not set up yet.")}),
	)

	res, err := f.session.Send(context.Background(), "find emails about invoices")
	require.NoError(t, err)
	assert.Equal(t, "Gmail is not set up yet.", res.Answer)

	require.Len(t, f.provider.requests, 2)
	sent := f.provider.requests[1].Turns[1]
	require.NotNil(t, sent.Result)
	assert.Equal(t, map[string]any{"error": "Gmail service not initialized. Run setup first."}, sent.Result.Outcome)
	assert.Equal(t, int64(1), f.session.Status().Metrics.ToolErrors)
}

func TestSendResultsFollowCallOrder(t *testing.T) {
	mail := &fakeMailbox{}
	calls := []message.ToolCall{
		{ID: "c1", Name: tool.NameSearchEmails, Arguments: map[string]any{"query": "a"}},
		{ID: "c2", Name: "no_such_tool"},
		{ID: "c3", Name: tool.NameCreateDraftEmail, Arguments: map[string]any{"to": "x@example.com", "subject": "s", "body": "b"}},
		{ID: "c4", Name: tool.NameSearchWeb, Arguments: map[string]any{"query": "b"}},
	}
	f := newFixture(t, tool.Services{Mail: mail},
		message.StructuredResponse([]message.Block{message.ToolRequest(calls[:2]...), message.ToolRequest(calls[2:]...)}),
		message.StructuredResponse([]message.Block{message.Text("done")}),
	)

	_, err := f.session.Send(context.Background(), "do several things")
	require.NoError(t, err)

	require.Len(t, f.provider.requests, 2)
	sent := f.provider.requests[1].Turns[1:]
	require.Len(t, sent, len(calls))
	for i, turn := range sent {
		require.Equal(t, message.RoleToolResult, turn.Role)
		assert.Equal(t, calls[i].ID, turn.Result.CallID)
	}
	assert.Equal(t, "Unknown tool: no_such_tool", sent[1].Result.Outcome["error"])
	assert.Equal(t, "draft-1", sent[2].Result.Outcome["draft_id"])
	assert.True(t, sent[3].Result.Failed())
	assert.Len(t, f.session.Turns(), 1+len(calls)+1)
}

func TestSendTimeoutKeepsOnlyUserTurn(t *testing.T) {
	f := newFixture(t, tool.Services{})
	f.provider.errs = []error{fmt.Errorf("%w: deadline", llm.ErrTimeout)}

	_, err := f.session.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrTimeout))
	assert.True(t, errors.Is(err, llm.ErrTransport))

	turns := f.session.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, message.RoleUser, turns[0].Role)
	assert.Equal(t, int64(1), f.session.Status().Metrics.TransportErrors)
}

func TestSendFollowupFailureDropsToolResults(t *testing.T) {
	f := newFixture(t, tool.Services{Mail: &fakeMailbox{}},
		message.StructuredResponse([]message.Block{
			message.ToolRequest(message.ToolCall{ID: "toolu_1", Name: tool.NameSearchEmails, Arguments: map[string]any{"query": "x"}}),
		}),
	)
	f.provider.errs = []error{nil, &llm.StatusError{Status: 529, Message: "overloaded"}}

	_, err := f.session.Send(context.Background(), "search")
	var statusErr *llm.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 529, statusErr.Status)
	assert.Equal(t, []message.Role{message.RoleUser}, roles(f.session.Turns()))
}

func TestSendEmptyResponseIsEmptyAnswer(t *testing.T) {
	f := newFixture(t, tool.Services{},
		message.StructuredResponse([]message.Block{message.Thinking("hmm", "sig")}),
	)
	var events []Event
	ctx := WithEventHandler(context.Background(), func(ev Event) { events = append(events, ev) })

	res, err := f.session.Send(ctx, "say nothing")
	require.NoError(t, err)
	assert.Empty(t, res.Answer)
	assert.Equal(t, []string{"hmm"}, res.Thinking)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Type: EventThinking, Text: "hmm"}, events[0])
	assert.Len(t, f.session.Turns(), 2)
	assert.Equal(t, int64(1), f.session.Status().Metrics.EmptyAnswers)
}

func TestSendUsesLastTextBlockAndHidesThinking(t *testing.T) {
	f := newFixture(t, tool.Services{},
		message.StructuredResponse([]message.Block{
			message.Thinking("private", "sig"),
			message.Text("draft"),
			message.Text("final"),
		}),
	)
	f.set(t, "show_deliberation", "off")
	var events []Event
	ctx := WithEventHandler(context.Background(), func(ev Event) { events = append(events, ev) })

	res, err := f.session.Send(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "final", res.Answer)
	assert.Empty(t, res.Thinking)
	assert.Empty(t, events)

	turns := f.session.Turns()
	require.Len(t, turns, 2)
	assert.Len(t, turns[1].Blocks, 3)
}

func TestSendEmitsToolEvents(t *testing.T) {
	f := newFixture(t, tool.Services{},
		message.StructuredResponse([]message.Block{
			message.Thinking("need files", "sig"),
			message.ToolRequest(message.ToolCall{ID: "t1", Name: tool.NameSearchFiles, Arguments: map[string]any{"query": "plan"}}),
		}),
		message.PlainResponse("no drive access"),
	)
	var events []Event
	ctx := WithEventHandler(context.Background(), func(ev Event) { events = append(events, ev) })

	res, err := f.session.Send(ctx, "find my plan")
	require.NoError(t, err)
	assert.Equal(t, "no drive access", res.Answer)
	require.Len(t, events, 3)
	assert.Equal(t, EventThinking, events[0].Type)
	assert.Equal(t, Event{Type: EventToolCall, Tool: tool.NameSearchFiles, Text: `{"query":"plan"}`}, events[1])
	assert.Equal(t, Event{Type: EventToolResult, Tool: tool.NameSearchFiles, Text: "Drive service not initialized. Run setup first."}, events[2])

	turns := f.session.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "no drive access", turns[2].Text)
}

func TestSendPassesConfiguration(t *testing.T) {
	f := newFixture(t, tool.Services{}, message.PlainResponse("ok"))
	f.set(t, "temperature", "0.3", "max_tokens", "4000", "thinking_budget", "20000", "extended_output", "on")

	_, err := f.session.Send(context.Background(), "hi")
	require.NoError(t, err)
	req := f.provider.requests[0]
	assert.Equal(t, models.DefaultModel, req.Model)
	assert.InDelta(t, 0.3, req.Temperature, 1e-9)
	assert.Equal(t, 4000, req.MaxTokens)
	assert.True(t, req.Deliberation)
	assert.Equal(t, 20000, req.DeliberationBudget)
	assert.Equal(t, 3900, llm.DeliberationBudget(req.DeliberationBudget, req.MaxTokens))
	assert.True(t, req.ExtendedOutput)
}

func TestSendRejectsEmptyInput(t *testing.T) {
	f := newFixture(t, tool.Services{})
	_, err := f.session.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, f.session.Turns())
	assert.Empty(t, f.provider.requests)
}

func TestSendRecordsHistory(t *testing.T) {
	f := newFixture(t, tool.Services{}, message.PlainResponse("Hi there"))
	_, err := f.session.Send(context.Background(), "hello")
	require.NoError(t, err)

	entries, err := f.session.History(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].User)
	assert.Equal(t, "Hi there", entries[0].Assistant)
	assert.Equal(t, models.DefaultModel, entries[0].Model)

	require.NoError(t, f.session.ClearHistory(context.Background()))
	entries, err = f.session.History(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveAndLoadConversationRoundTrip(t *testing.T) {
	f := newFixture(t, tool.Services{}, message.PlainResponse("one"), message.PlainResponse("two"))
	_, err := f.session.SelectModel("claude-3-haiku-20240307")
	require.NoError(t, err)
	_, err = f.session.Send(context.Background(), "first")
	require.NoError(t, err)
	_, err = f.session.Send(context.Background(), "second")
	require.NoError(t, err)
	before := f.session.Turns()

	file, err := f.session.SaveConversation("chat")
	require.NoError(t, err)
	assert.Equal(t, "chat.json", file)

	f.session.ClearConversation()
	_, err = f.session.SelectModel(models.DefaultModel)
	require.NoError(t, err)

	loaded, err := f.session.LoadConversation("chat")
	require.NoError(t, err)
	assert.True(t, loaded.ModelSwitched)
	assert.Equal(t, "claude-3-haiku-20240307", f.session.Settings().Model)

	after := f.session.Turns()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Role, after[i].Role)
		assert.Equal(t, before[i].Text, after[i].Text)
	}

	list, err := f.session.ListConversations()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "chat", list[0].Name)
}

func TestLoadConversationUnknownModelKeepsCurrent(t *testing.T) {
	f := newFixture(t, tool.Services{})
	snaps := session.NewSnapshots(filepath.Join(f.dir, "conversations"), nil)
	_, err := snaps.Save("legacy", "gpt-imaginary", []message.Turn{message.UserTurn("old"), message.AssistantText("reply")})
	require.NoError(t, err)

	f.session.conv.Append(message.UserTurn("current"))
	loaded, err := f.session.LoadConversation("legacy")
	require.NoError(t, err)
	assert.False(t, loaded.ModelSwitched)
	assert.Equal(t, models.DefaultModel, f.session.Settings().Model)

	turns := f.session.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "old", turns[0].Text)
}

func TestClearAndReset(t *testing.T) {
	f := newFixture(t, tool.Services{}, message.PlainResponse("ok"))
	f.set(t, "temperature", "1.5")
	_, err := f.session.Send(context.Background(), "hi")
	require.NoError(t, err)

	f.session.ClearConversation()
	assert.Empty(t, f.session.Turns())
	f.session.ClearConversation()
	assert.Empty(t, f.session.Turns())

	f.set(t, "use_tools", "off")
	_, err = f.session.Send(context.Background(), "again")
	require.NoError(t, err)
	f.session.Reset()
	assert.Empty(t, f.session.Turns())
	kept := f.session.Settings()
	assert.Equal(t, 1.5, kept.Temperature)
	assert.False(t, kept.ToolsEnabled)

	cfg, err := f.session.ResetSettings()
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults(), cfg)
	assert.Equal(t, settings.Defaults(), f.session.Settings())
}

func TestReconnectSwapsServices(t *testing.T) {
	f := newFixture(t, tool.Services{})
	_, err := f.session.Reconnect(context.Background())
	require.ErrorIs(t, err, ErrNoConnector)

	calls := 0
	f.session.connect = func(context.Context) (tool.Services, map[string]bool) {
		calls++
		return tool.Services{Mail: &fakeMailbox{emails: []google.Email{{ID: "m1"}}}},
			map[string]bool{"Gmail": true, "Google Drive": false}
	}
	out := f.session.RunTool(context.Background(), "search_emails", map[string]any{"query": "x"})
	assert.Contains(t, out, "error")

	status, err := f.session.Reconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]bool{"Gmail": true, "Google Drive": false}, status)
	assert.Equal(t, status, f.session.Status().Collaborators)
	assert.NotNil(t, f.session.Services().Mail)

	out = f.session.RunTool(context.Background(), "search_emails", map[string]any{"query": "x"})
	assert.NotContains(t, out, "error")
}

func TestStatusReportsCollaborators(t *testing.T) {
	f := newFixture(t, tool.Services{})
	f.session.collaborators = map[string]bool{"brave": true, "gmail": false}
	st := f.session.Status()
	assert.True(t, st.APIKey)
	assert.Equal(t, map[string]bool{"brave": true, "gmail": false}, st.Collaborators)
	assert.Equal(t, settings.Defaults(), st.Settings)
}
