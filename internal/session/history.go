package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"toolchat/internal/storage"
)

type HistoryEntry struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
	Model     string `json:"model"`
	Timestamp string `json:"timestamp"`
}

// History is the append-only log of completed exchanges.
type History struct {
	store storage.Store
	now   func() time.Time
}

func NewHistory(store storage.Store) *History {
	return &History{store: store, now: time.Now}
}

func (h *History) Record(ctx context.Context, user, assistant, model string) error {
	raw, err := json.Marshal(HistoryEntry{
		User:      user,
		Assistant: assistant,
		Model:     model,
		Timestamp: h.now().Format(TimestampLayout),
	})
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	if _, err := h.store.AppendHistory(ctx, raw); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// List returns at most limit entries, newest first. The store picks a
// default page size when limit <= 0.
func (h *History) List(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := h.store.ListHistory(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(rows))
	for _, raw := range rows {
		var e HistoryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (h *History) Clear(ctx context.Context) error {
	return h.store.ClearHistory(ctx)
}
