package session

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolchat/internal/message"
)

func sampleTurns() []message.Turn {
	return []message.Turn{
		message.UserTurn("find emails about invoices"),
		message.ToolResultTurn(message.ToolResult{CallID: "toolu_1", Outcome: map[string]any{"emails": []any{}}}),
		message.AssistantBlocks([]message.Block{
			message.Thinking("look at the inbox", "sig"),
			message.Text("I found 3 emails"),
		}),
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	snaps := NewSnapshots(t.TempDir(), nil)
	turns := sampleTurns()

	file, err := snaps.Save("invoices", "claude-3-5-haiku-20241022", turns)
	require.NoError(t, err)
	assert.Equal(t, "invoices.json", file)

	got, err := snaps.Load("invoices")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-20241022", got.Model)
	require.Len(t, got.Turns, len(turns))
	for i := range turns {
		assert.Equal(t, turns[i].Role, got.Turns[i].Role)
		assert.Equal(t, turns[i].PlainText(), got.Turns[i].PlainText())
		assert.Equal(t, turns[i].Blocks, got.Turns[i].Blocks)
		assert.True(t, turns[i].CreatedAt.Equal(got.Turns[i].CreatedAt))
	}
	assert.Equal(t, "toolu_1", got.Turns[1].Result.CallID)
}

func TestSnapshotDefaultName(t *testing.T) {
	snaps := NewSnapshots(t.TempDir(), nil)
	snaps.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	file, err := snaps.Save("", "m", nil)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^conversation_1700000000_[0-9a-f]{8}\.json$`), file)

	got, err := snaps.Load(file)
	require.NoError(t, err)
	assert.Empty(t, got.Turns)
	assert.Equal(t, "2023-11-14", got.Timestamp[:10])

	second, err := snaps.Save("", "m", sampleTurns())
	require.NoError(t, err)
	assert.NotEqual(t, file, second)
	items, err := snaps.List()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSnapshotLoadMissing(t *testing.T) {
	snaps := NewSnapshots(t.TempDir(), nil)
	_, err := snaps.Load("nope")
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))
}

func TestSnapshotRejectsPathNames(t *testing.T) {
	snaps := NewSnapshots(t.TempDir(), nil)
	_, err := snaps.Save("../escape", "m", nil)
	assert.Error(t, err)
	_, err = snaps.Load("a/b")
	assert.Error(t, err)
}

func TestSnapshotLoadRejectsInvalidTurns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"model":"m","turns":[{"role":"robot"}]}`), 0o644))
	_, err := NewSnapshots(dir, nil).Load("bad")
	assert.ErrorContains(t, err, "unknown role")
}

func TestSnapshotListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	snaps := NewSnapshots(dir, nil)
	_, err := snaps.Save("older", "model-a", sampleTurns()[:1])
	require.NoError(t, err)
	_, err = snaps.Save("newer", "model-b", sampleTurns())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	base := time.Now()
	require.NoError(t, os.Chtimes(filepath.Join(dir, "older.json"), base.Add(-2*time.Hour), base.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "broken.json"), base.Add(-time.Hour), base.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "newer.json"), base, base))

	list, err := snaps.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "newer", list[0].Name)
	assert.Equal(t, "model-b", list[0].Model)
	assert.Equal(t, 3, list[0].TurnCount)
	assert.Equal(t, "broken", list[1].Name)
	assert.Equal(t, "Unknown", list[1].Model)
	assert.Equal(t, "older", list[2].Name)
}

func TestSnapshotListMissingDir(t *testing.T) {
	list, err := NewSnapshots(filepath.Join(t.TempDir(), "absent"), nil).List()
	require.NoError(t, err)
	assert.Empty(t, list)
}
