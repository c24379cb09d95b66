package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"toolchat/internal/llm"
	"toolchat/internal/settings"
	"toolchat/internal/tool"
)

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, arg string) bool
}

func (sh *Shell) register() {
	sh.commands = map[string]command{}
	add := func(name, usage, help string, run func(context.Context, string) bool) {
		sh.commands[name] = command{usage: usage, help: help, run: run}
		sh.order = append(sh.order, name)
	}
	add("help", "help", "Show this help", sh.cmdHelp)
	add("chat", "chat <message>", "Send a message (plain lines are sent too)", sh.cmdChat)
	add("thinking", "thinking [on|off|show|hide|budget <n>]", "Configure extended thinking", sh.cmdThinking)
	add("tools", "tools [on|off|list]", "Enable, disable or list tools", sh.cmdTools)
	add("model", "model [name|number]", "Show or select the model", sh.cmdModel)
	add("extended_output", "extended_output [on|off]", "Toggle 128k output (claude-3-7 only)", sh.cmdExtendedOutput)
	add("config", "config [key [value]|reset]", "Show or change a setting, or restore defaults", sh.cmdConfig)
	add("status", "status", "Show model, services and runtime metrics", sh.cmdStatus)
	add("clear", "clear", "Clear the current conversation", sh.cmdClear)
	add("reset", "reset", "Clear a conversation left broken by a failed tool exchange", sh.cmdReset)
	add("save_conversation", "save_conversation [name]", "Save the conversation", sh.cmdSave)
	add("load_conversation", "load_conversation <name>", "Replace the conversation with a saved one", sh.cmdLoad)
	add("list_conversations", "list_conversations", "List saved conversations", sh.cmdList)
	add("history", "history [n|clear]", "Show or clear recent exchanges", sh.cmdHistory)
	add("web_search", "web_search <query> [count]", "Search the web directly", sh.cmdWebSearch)
	add("email_list", "email_list [query]", "List recent emails (default: inbox)", sh.cmdEmailList)
	add("email_compose", "email_compose", "Compose and save a Gmail draft", sh.cmdEmailCompose)
	add("email_drafts", "email_drafts", "List Gmail drafts", sh.cmdEmailDrafts)
	add("drive_list", "drive_list [query]", "List Google Drive files", sh.cmdDriveList)
	add("drive_create", "drive_create document <title>", "Create a Google Doc", sh.cmdDriveCreate)
	add("setup", "setup", "Authorize Gmail and Drive access", sh.cmdSetup)
	add("refresh", "refresh [all|gmail|drive|brave|anthropic] [--reset]", "Reconnect services, optionally reauthorizing", sh.cmdRefresh)
	add("exit", "exit", "Exit", func(context.Context, string) bool { return true })
	sh.commands["quit"] = sh.commands["exit"]
}

func (sh *Shell) cmdHelp(context.Context, string) bool {
	fmt.Fprintln(sh.out, "Commands:")
	for _, name := range sh.order {
		c := sh.commands[name]
		fmt.Fprintf(sh.out, "  %-40s %s\n", c.usage, c.help)
	}
	fmt.Fprintln(sh.out, "\nAny other line is sent to the model. Commands may be prefixed with '/'.")
	return false
}

func (sh *Shell) cmdChat(ctx context.Context, arg string) bool {
	if arg == "" {
		fmt.Fprintln(sh.out, "Usage: chat <message>")
		return false
	}
	sh.chat(ctx, arg)
	return false
}

func (sh *Shell) cmdThinking(_ context.Context, arg string) bool {
	args := strings.Fields(arg)
	if len(args) == 0 {
		cfg := sh.session.Settings()
		fmt.Fprintln(sh.out, "Extended thinking:")
		fmt.Fprintf(sh.out, "  Status:  %s\n", enabled(cfg.DeliberationEnabled))
		fmt.Fprintf(sh.out, "  Budget:  %d tokens\n", cfg.DeliberationBudget)
		fmt.Fprintf(sh.out, "  Display: %s\n", map[bool]string{true: "Show", false: "Hide"}[cfg.ShowDeliberation])
		return false
	}
	switch strings.ToLower(args[0]) {
	case "on":
		sh.set("deliberation_enabled", "true", "Extended thinking enabled")
	case "off":
		sh.set("deliberation_enabled", "false", "Extended thinking disabled")
	case "show":
		sh.set("show_deliberation", "true", "Thinking will be shown")
	case "hide":
		sh.set("show_deliberation", "false", "Thinking will be hidden")
	case "budget":
		if len(args) < 2 {
			fmt.Fprintln(sh.out, "Usage: thinking budget <number>")
			return false
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintln(sh.out, "Budget must be a number")
			return false
		}
		if n < settings.MinDeliberationBudget {
			fmt.Fprintf(sh.out, "Minimum budget is %d tokens. Setting to %d.\n", settings.MinDeliberationBudget, settings.MinDeliberationBudget)
		}
		if cfg, ok := sh.set("deliberation_budget", args[1], ""); ok {
			fmt.Fprintf(sh.out, "Thinking budget set to %d tokens\n", cfg.DeliberationBudget)
		}
	default:
		fmt.Fprintln(sh.out, "Usage: thinking [on|off|show|hide|budget <number>]")
	}
	return false
}

func (sh *Shell) cmdTools(_ context.Context, arg string) bool {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "":
		fmt.Fprintln(sh.out, "Tool use:")
		fmt.Fprintf(sh.out, "  Status:          %s\n", enabled(sh.session.Settings().ToolsEnabled))
		fmt.Fprintf(sh.out, "  Available tools: %d\n", len(sh.session.Tools()))
	case "on":
		sh.set("tools_enabled", "true", "Tool use enabled")
	case "off":
		sh.set("tools_enabled", "false", "Tool use disabled")
	case "list":
		fmt.Fprintln(sh.out, "Available tools:")
		for _, c := range sh.session.Tools() {
			var schema struct {
				Required []string `json:"required"`
			}
			_ = json.Unmarshal(c.Schema(), &schema)
			fmt.Fprintf(sh.out, "  %s: %s\n", c.Name(), c.Description())
			fmt.Fprintf(sh.out, "    required: %s\n", strings.Join(schema.Required, ", "))
		}
	default:
		fmt.Fprintln(sh.out, "Usage: tools [on|off|list]")
	}
	return false
}

func (sh *Shell) cmdModel(_ context.Context, arg string) bool {
	if arg == "" {
		current := sh.session.Settings().Model
		fmt.Fprintf(sh.out, "Current model: %s\n\nAvailable models:\n", current)
		for i, d := range sh.session.Catalog().List() {
			marker := " "
			if d.ID == current {
				marker = "*"
			}
			fmt.Fprintf(sh.out, "  %s %d. %s\n", marker, i+1, d.ID)
		}
		return false
	}
	cfg, err := sh.session.SelectModel(arg)
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return false
	}
	fmt.Fprintf(sh.out, "Model set to %s\n", cfg.Model)
	return false
}

func (sh *Shell) cmdExtendedOutput(_ context.Context, arg string) bool {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "":
		fmt.Fprintf(sh.out, "Extended output: %s\n", enabled(sh.session.Settings().ExtendedOutput))
	case "on":
		sh.set("extended_output", "true", "Extended output (128k tokens) enabled")
	case "off":
		sh.set("extended_output", "false", "Extended output disabled")
	default:
		fmt.Fprintln(sh.out, "Usage: extended_output [on|off]")
	}
	return false
}

func (sh *Shell) cmdConfig(_ context.Context, arg string) bool {
	args := strings.Fields(arg)
	values := sh.session.Settings().Map()
	switch len(args) {
	case 0:
		fmt.Fprintln(sh.out, "Current configuration:")
		for _, k := range settings.Keys() {
			fmt.Fprintf(sh.out, "  %s: %v\n", k, values[k])
		}
	case 1:
		if strings.EqualFold(args[0], "reset") {
			if _, err := sh.session.ResetSettings(); err != nil {
				fmt.Fprintf(sh.out, "Error: %v\n", err)
				return false
			}
			fmt.Fprintln(sh.out, "Settings restored to defaults.")
			return false
		}
		key := settings.CanonicalKey(args[0])
		v, ok := values[key]
		if !ok {
			fmt.Fprintf(sh.out, "Unknown setting: %s\n", args[0])
			return false
		}
		fmt.Fprintf(sh.out, "%s: %v\n", key, v)
	default:
		key := settings.CanonicalKey(args[0])
		if cfg, ok := sh.set(key, strings.Join(args[1:], " "), ""); ok {
			fmt.Fprintf(sh.out, "Set %s to %v\n", key, cfg.Map()[key])
		}
	}
	return false
}

func (sh *Shell) cmdStatus(context.Context, string) bool {
	st := sh.session.Status()
	fmt.Fprintln(sh.out, "Status:")
	fmt.Fprintf(sh.out, "  Anthropic API key:  %s\n", present(st.APIKey))
	fmt.Fprintf(sh.out, "  Model:              %s\n", st.Settings.Model)
	fmt.Fprintf(sh.out, "  Temperature:        %v\n", st.Settings.Temperature)
	fmt.Fprintf(sh.out, "  Max output tokens:  %d\n", st.Settings.MaxOutputTokens)
	fmt.Fprintf(sh.out, "  Extended thinking:  %s", enabled(st.Settings.DeliberationEnabled))
	if st.Settings.DeliberationEnabled {
		fmt.Fprintf(sh.out, " (budget %d tokens)", st.Settings.DeliberationBudget)
	}
	fmt.Fprintln(sh.out)
	fmt.Fprintf(sh.out, "  Tool use:           %s\n", enabled(st.Settings.ToolsEnabled))
	fmt.Fprintf(sh.out, "  Extended output:    %s\n", enabled(st.Settings.ExtendedOutput))
	names := make([]string, 0, len(st.Collaborators))
	for name := range st.Collaborators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "Not connected"
		if st.Collaborators[name] {
			state = "Connected"
		}
		fmt.Fprintf(sh.out, "  %-19s %s\n", name+":", state)
	}
	fmt.Fprintf(sh.out, "  Conversation turns: %d\n", st.Turns)
	fmt.Fprintf(sh.out, "  %s\n", st.Metrics)
	return false
}

func (sh *Shell) cmdClear(context.Context, string) bool {
	sh.session.ClearConversation()
	fmt.Fprintln(sh.out, "Conversation cleared.")
	return false
}

func (sh *Shell) cmdReset(context.Context, string) bool {
	sh.session.Reset()
	fmt.Fprintln(sh.out, "State reset. Any broken conversation state has been cleared; settings are unchanged.")
	return false
}

func (sh *Shell) cmdSave(_ context.Context, arg string) bool {
	file, err := sh.session.SaveConversation(arg)
	if err != nil {
		fmt.Fprintf(sh.out, "Error saving conversation: %v\n", err)
		return false
	}
	fmt.Fprintf(sh.out, "Conversation saved as %s\n", file)
	return false
}

func (sh *Shell) cmdLoad(_ context.Context, arg string) bool {
	if arg == "" {
		fmt.Fprintln(sh.out, "Usage: load_conversation <name>")
		return false
	}
	res, err := sh.session.LoadConversation(arg)
	if err != nil {
		fmt.Fprintf(sh.out, "Error loading conversation: %v\n", err)
		return false
	}
	fmt.Fprintf(sh.out, "Loaded %s (%d turns)\n", res.Name, res.Turns)
	if res.ModelSwitched {
		fmt.Fprintf(sh.out, "Model switched to %s\n", res.Model)
	}
	return false
}

func (sh *Shell) cmdList(context.Context, string) bool {
	items, err := sh.session.ListConversations()
	if err != nil {
		fmt.Fprintf(sh.out, "Error listing conversations: %v\n", err)
		return false
	}
	if len(items) == 0 {
		fmt.Fprintln(sh.out, "No saved conversations.")
		return false
	}
	fmt.Fprintln(sh.out, "Saved conversations:")
	for i, it := range items {
		fmt.Fprintf(sh.out, "  %d. %s  [%s]  %s  %d turns\n", i+1, it.Name, it.Timestamp, it.Model, it.TurnCount)
	}
	return false
}

func (sh *Shell) cmdHistory(ctx context.Context, arg string) bool {
	if strings.EqualFold(arg, "clear") {
		if err := sh.session.ClearHistory(ctx); err != nil {
			fmt.Fprintf(sh.out, "Error clearing history: %v\n", err)
			return false
		}
		fmt.Fprintln(sh.out, "History cleared.")
		return false
	}
	limit := 10
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			fmt.Fprintln(sh.out, "Usage: history [n|clear]")
			return false
		}
		limit = n
	}
	entries, err := sh.session.History(ctx, limit)
	if err != nil {
		fmt.Fprintf(sh.out, "Error reading history: %v\n", err)
		return false
	}
	if len(entries) == 0 {
		fmt.Fprintln(sh.out, "No history yet.")
		return false
	}
	for _, e := range entries {
		fmt.Fprintf(sh.out, "[%s] %s\n  you: %s\n  assistant: %s\n", e.Timestamp, e.Model, clip(e.User, 200), clip(e.Assistant, 300))
	}
	return false
}

func (sh *Shell) cmdWebSearch(ctx context.Context, arg string) bool {
	args := strings.Fields(arg)
	if len(args) == 0 {
		fmt.Fprintln(sh.out, "Please provide a search query")
		return false
	}
	count := 10
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[len(args)-1]); err == nil {
			count = n
			args = args[:len(args)-1]
		}
	}
	query := strings.Join(args, " ")
	fmt.Fprintf(sh.out, "Searching for '%s'...\n", query)
	out := sh.session.RunTool(ctx, tool.NameSearchWeb, map[string]any{"query": query, "count": count})
	if msg, ok := out["error"]; ok {
		fmt.Fprintf(sh.out, "Error: %v\n", msg)
		return false
	}
	raw, _ := json.Marshal(out["results"])
	var results []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
	}
	_ = json.Unmarshal(raw, &results)
	if len(results) == 0 {
		fmt.Fprintln(sh.out, "No results.")
		return false
	}
	for i, r := range results {
		fmt.Fprintf(sh.out, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(sh.out, "   %s\n", clip(r.Description, 300))
		}
	}
	return false
}

func (sh *Shell) set(key, value, confirm string) (settings.Settings, bool) {
	cfg, err := sh.session.Configure(key, value)
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return cfg, false
	}
	if confirm != "" {
		fmt.Fprintln(sh.out, confirm)
	}
	return cfg, true
}

func describeError(err error) string {
	var statusErr *llm.StatusError
	switch {
	case errors.As(err, &statusErr) && (statusErr.Status == 401 || statusErr.Status == 403):
		return err.Error() + ". Check ANTHROPIC_API_KEY."
	case errors.Is(err, llm.ErrTimeout):
		return "the request timed out, try again"
	case errors.Is(err, llm.ErrConnectivity):
		return "could not reach the API, check your connection"
	default:
		return err.Error()
	}
}

func enabled(v bool) string {
	if v {
		return "Enabled"
	}
	return "Disabled"
}

func present(v bool) string {
	if v {
		return "Set"
	}
	return "Missing"
}
