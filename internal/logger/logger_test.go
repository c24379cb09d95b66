package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "console only", mutate: func(c *Config) { c.Output = "console"; c.File.Filename = "" }},
		{name: "bad level", mutate: func(c *Config) { c.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: true},
		{name: "bad output", mutate: func(c *Config) { c.Output = "syslog" }, wantErr: true},
		{name: "file without name", mutate: func(c *Config) { c.File.Filename = "" }, wantErr: true},
		{name: "file without size", mutate: func(c *Config) { c.File.MaxSize = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewWritesToFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File.Filename = filepath.Join(t.TempDir(), "nested", "app.log")

	log, err := New(cfg)
	require.NoError(t, err)
	log.Info("hello from test")
	_ = log.Sync()

	raw, err := os.ReadFile(cfg.File.Filename)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hello from test")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
