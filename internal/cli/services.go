package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"toolchat/internal/google"
	"toolchat/internal/permission"
	"toolchat/internal/tool"
)

var refreshTargets = map[string][]string{
	"all":       {"Brave Search", "Gmail", "Google Drive"},
	"gmail":     {"Gmail"},
	"drive":     {"Google Drive"},
	"brave":     {"Brave Search"},
	"anthropic": nil,
}

type draftLister interface {
	ListDrafts(ctx context.Context, maxResults int) ([]google.DraftSummary, error)
}

func (sh *Shell) cmdSetup(ctx context.Context, _ string) bool {
	if sh.setup == nil {
		fmt.Fprintln(sh.out, "Google setup is not available: set google.credentials_file in the config.")
		return false
	}
	if err := sh.setup(ctx, sh.in, sh.out); err != nil {
		fmt.Fprintf(sh.out, "Setup failed: %v\n", err)
		return false
	}
	fmt.Fprintln(sh.out, "Google authorization stored.")
	sh.reconnect(ctx, nil)
	return false
}

func (sh *Shell) cmdRefresh(ctx context.Context, arg string) bool {
	service, reset := "all", false
	for _, a := range strings.Fields(arg) {
		if a == "--reset" {
			reset = true
			continue
		}
		service = strings.ToLower(a)
	}
	targets, ok := refreshTargets[service]
	if !ok {
		fmt.Fprintf(sh.out, "Unknown service: %s. Use all, gmail, drive, brave or anthropic.\n", service)
		return false
	}
	if service == "all" || service == "anthropic" {
		fmt.Fprintf(sh.out, "  %-19s %s\n", "Anthropic API key:", present(sh.session.Status().APIKey))
		if service == "anthropic" {
			return false
		}
	}
	if reset && service != "brave" {
		if sh.setup == nil || sh.resetAuth == nil {
			fmt.Fprintln(sh.out, "Google setup is not available: set google.credentials_file in the config.")
			return false
		}
		if err := sh.resetAuth(); err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
			return false
		}
		if err := sh.setup(ctx, sh.in, sh.out); err != nil {
			fmt.Fprintf(sh.out, "Setup failed: %v\n", err)
			return false
		}
		fmt.Fprintln(sh.out, "Google authorization stored.")
	}
	sh.reconnect(ctx, targets)
	return false
}

// reconnect rebuilds every collaborator and reports the ones named in only,
// or all of them when only is empty.
func (sh *Shell) reconnect(ctx context.Context, only []string) {
	status, err := sh.session.Reconnect(ctx)
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	names := only
	if len(names) == 0 {
		for name := range status {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		state := "Not connected"
		if status[name] {
			state = "Connected"
		}
		fmt.Fprintf(sh.out, "  %-19s %s\n", name+":", state)
	}
}

func (sh *Shell) cmdEmailList(ctx context.Context, arg string) bool {
	query := arg
	if query == "" {
		query = "in:inbox"
	}
	out := sh.session.RunTool(ctx, tool.NameSearchEmails, map[string]any{"query": query, "max_results": 10})
	var emails []google.Email
	if !sh.decodeOutcome(out, "emails", &emails) {
		return false
	}
	if len(emails) == 0 {
		fmt.Fprintln(sh.out, "No emails found.")
		return false
	}
	for i, e := range emails {
		fmt.Fprintf(sh.out, "%d. %s\n   From: %s\n   Date: %s\n", i+1, e.Subject, e.From, e.Date)
		if e.Snippet != "" {
			fmt.Fprintf(sh.out, "   %s\n", clip(e.Snippet, 200))
		}
	}
	return false
}

func (sh *Shell) cmdEmailCompose(ctx context.Context, _ string) bool {
	to := sh.prompt("To: ")
	if to == "" {
		fmt.Fprintln(sh.out, "A recipient is required.")
		return false
	}
	cc := sh.prompt("CC (optional): ")
	bcc := sh.prompt("BCC (optional): ")
	subject := sh.prompt("Subject: ")
	fmt.Fprintln(sh.out, "Body (end with a line containing only '.'):")
	body := sh.readBlock()

	out := sh.session.RunTool(permission.WithUserApproval(ctx), tool.NameCreateDraftEmail, map[string]any{
		"to":      to,
		"cc":      cc,
		"bcc":     bcc,
		"subject": subject,
		"body":    body,
	})
	if msg, ok := out["error"]; ok {
		fmt.Fprintf(sh.out, "Error: %v\n", msg)
		return false
	}
	fmt.Fprintf(sh.out, "Draft saved (id %v)\n", out["draft_id"])
	return false
}

func (sh *Shell) cmdEmailDrafts(ctx context.Context, _ string) bool {
	lister, ok := sh.session.Services().Mail.(draftLister)
	if !ok {
		fmt.Fprintf(sh.out, "Error: %v\n", &tool.UnavailableError{Service: "Gmail"})
		return false
	}
	drafts, err := lister.ListDrafts(ctx, 10)
	if err != nil {
		fmt.Fprintf(sh.out, "Error listing drafts: %v\n", err)
		return false
	}
	if len(drafts) == 0 {
		fmt.Fprintln(sh.out, "No drafts.")
		return false
	}
	for i, d := range drafts {
		subject := d.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		fmt.Fprintf(sh.out, "%d. %s\n   To: %s\n   ID: %s\n", i+1, subject, d.To, d.ID)
	}
	return false
}

func (sh *Shell) cmdDriveList(ctx context.Context, arg string) bool {
	query := arg
	if query == "" {
		query = "trashed = false"
	}
	out := sh.session.RunTool(ctx, tool.NameSearchFiles, map[string]any{"query": query, "max_results": 20})
	var files []google.File
	if !sh.decodeOutcome(out, "files", &files) {
		return false
	}
	if len(files) == 0 {
		fmt.Fprintln(sh.out, "No files found.")
		return false
	}
	for i, f := range files {
		fmt.Fprintf(sh.out, "%d. %s (%s)\n", i+1, f.Name, f.MimeType)
		if f.WebViewLink != "" {
			fmt.Fprintf(sh.out, "   %s\n", f.WebViewLink)
		}
	}
	return false
}

func (sh *Shell) cmdDriveCreate(ctx context.Context, arg string) bool {
	kind, title, _ := strings.Cut(arg, " ")
	title = strings.TrimSpace(title)
	switch {
	case kind == "":
		fmt.Fprintln(sh.out, "Usage: drive_create document <title>")
		return false
	case !strings.EqualFold(kind, "document"):
		fmt.Fprintf(sh.out, "Cannot create %s: only 'document' is supported.\n", kind)
		return false
	case title == "":
		fmt.Fprintln(sh.out, "Usage: drive_create document <title>")
		return false
	}
	fmt.Fprintln(sh.out, "Content (markdown, end with a line containing only '.'):")
	content := sh.readBlock()

	out := sh.session.RunTool(permission.WithUserApproval(ctx), tool.NameCreateDocument, map[string]any{
		"title":   title,
		"content": content,
	})
	if msg, ok := out["error"]; ok {
		fmt.Fprintf(sh.out, "Error: %v\n", msg)
		return false
	}
	fmt.Fprintf(sh.out, "Created document %v\n", out["title"])
	if link, ok := out["link"].(string); ok && link != "" {
		fmt.Fprintf(sh.out, "   %s\n", link)
	}
	return false
}

// decodeOutcome prints a capability error, or decodes out[key] into dst.
func (sh *Shell) decodeOutcome(out tool.Outcome, key string, dst any) bool {
	if msg, ok := out["error"]; ok {
		fmt.Fprintf(sh.out, "Error: %v\n", msg)
		return false
	}
	raw, err := json.Marshal(out[key])
	if err == nil {
		err = json.Unmarshal(raw, dst)
	}
	if err != nil {
		fmt.Fprintf(sh.out, "Error: unexpected %s result: %v\n", key, err)
		return false
	}
	return true
}

func (sh *Shell) prompt(label string) string {
	fmt.Fprint(sh.out, label)
	line, _ := sh.in.ReadString('\n')
	return strings.TrimSpace(line)
}

// readBlock reads lines up to a lone "." or EOF.
func (sh *Shell) readBlock() string {
	var lines []string
	for {
		line, err := sh.in.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "." {
			break
		}
		if line != "" || err == nil {
			lines = append(lines, line)
		}
		if err != nil {
			break
		}
	}
	return strings.Join(lines, "\n")
}
