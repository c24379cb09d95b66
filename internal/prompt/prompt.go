package prompt

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Load returns the trimmed contents of path, or "" when the path is unset or
// unreadable.
func Load(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// Builder composes the system prompt attached to every request.
type Builder struct {
	path string
	now  func() time.Time
}

func NewBuilder(path string) *Builder {
	return &Builder{path: path, now: time.Now}
}

// Build returns the custom prompt followed by a short note on the attached
// tools. It returns "" when there is nothing to say.
func (b *Builder) Build(toolNames []string) string {
	var parts []string
	if custom := Load(b.path); custom != "" {
		parts = append(parts, custom)
	}
	if len(toolNames) > 0 {
		parts = append(parts, fmt.Sprintf(
			"Today is %s. You can call these tools when they help answer the user: %s. Tools that create drafts or documents may be declined by the user; explain the outcome either way.",
			b.now().Format("2006-01-02"),
			strings.Join(toolNames, ", "),
		))
	}
	return strings.Join(parts, "\n\n")
}
