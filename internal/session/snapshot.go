package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolchat/internal/message"
)

const TimestampLayout = "2006-01-02 15:04:05"

var ErrSnapshotNotFound = errors.New("conversation file not found")

type Snapshot struct {
	Model     string         `json:"model"`
	Timestamp string         `json:"timestamp"`
	Turns     []message.Turn `json:"turns"`
}

type SnapshotInfo struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Timestamp string    `json:"timestamp"`
	TurnCount int       `json:"turn_count"`
	Modified  time.Time `json:"modified"`
}

// Snapshots stores named conversation files under one directory.
type Snapshots struct {
	dir string
	now func() time.Time
	log *zap.Logger
}

func NewSnapshots(dir string, log *zap.Logger) *Snapshots {
	if log == nil {
		log = zap.NewNop()
	}
	return &Snapshots{dir: dir, now: time.Now, log: log}
}

// Save writes turns under name and returns the file name used. An empty name
// becomes conversation_<unix seconds>_<8 hex chars> so two saves in the same
// second do not overwrite each other.
func (s *Snapshots) Save(name, model string, turns []message.Turn) (string, error) {
	now := s.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("conversation_%d_%s", now.Unix(), uuid.NewString()[:8])
	}
	file, err := fileName(name)
	if err != nil {
		return "", err
	}
	if turns == nil {
		turns = []message.Turn{}
	}
	raw, err := json.MarshalIndent(Snapshot{
		Model:     model,
		Timestamp: now.Format(TimestampLayout),
		Turns:     turns,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode conversation: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create conversations dir: %w", err)
	}
	path := filepath.Join(s.dir, file)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", fmt.Errorf("write conversation: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write conversation: %w", err)
	}
	s.log.Info("conversation saved", zap.String("file", file), zap.Int("turns", len(turns)), zap.String("model", model))
	return file, nil
}

func (s *Snapshots) Load(name string) (Snapshot, error) {
	file, err := fileName(name)
	if err != nil {
		return Snapshot{}, err
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, file))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, file)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read conversation: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode conversation %s: %w", file, err)
	}
	for i, t := range snap.Turns {
		if err := t.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("conversation %s turn %d: %w", file, i, err)
		}
	}
	s.log.Info("conversation loaded", zap.String("file", file), zap.Int("turns", len(snap.Turns)))
	return snap, nil
}

// List returns saved conversations, most recently modified first. Files that
// cannot be decoded are still listed with an unknown model.
func (s *Snapshots) List() ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var out []SnapshotInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info := SnapshotInfo{Name: strings.TrimSuffix(e.Name(), ".json"), Model: "Unknown"}
		if fi, err := e.Info(); err == nil {
			info.Modified = fi.ModTime()
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		var snap Snapshot
		if err == nil && json.Unmarshal(raw, &snap) == nil {
			if snap.Model != "" {
				info.Model = snap.Model
			}
			info.Timestamp = snap.Timestamp
			info.TurnCount = len(snap.Turns)
		} else {
			s.log.Warn("unreadable conversation file", zap.String("file", e.Name()))
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b SnapshotInfo) int {
		if c := b.Modified.Compare(a.Modified); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})
	return out, nil
}

func fileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("conversation name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid conversation name %q", name)
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return name, nil
}
