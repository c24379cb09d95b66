package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsUnderDataDir(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("TOOLCHAT_DATA_DIR", dataDir)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SettingsFile != filepath.Join(dataDir, "config.json") {
		t.Fatalf("unexpected settings file %q", cfg.SettingsFile)
	}
	if cfg.StoragePath != filepath.Join(dataDir, "toolchat.db") {
		t.Fatalf("unexpected storage path %q", cfg.StoragePath)
	}
	if cfg.ConversationsDir != filepath.Join(dataDir, "conversations") {
		t.Fatalf("unexpected conversations dir %q", cfg.ConversationsDir)
	}
	if cfg.Log.File.Filename != filepath.Join(dataDir, "logs", "toolchat.log") {
		t.Fatalf("unexpected log file %q", cfg.Log.File.Filename)
	}
	if cfg.CacheTTL != time.Hour {
		t.Fatalf("expected default cache ttl 1h, got %s", cfg.CacheTTL)
	}
	if cfg.Permissions["create_*"] != "ask" {
		t.Fatalf("expected create_* to ask by default, got %v", cfg.Permissions)
	}
}

func TestLoadFromYAML(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TOOLCHAT_DATA_DIR", "")
	yamlPath := filepath.Join(root, "toolchat.yaml")
	content := "data_dir: " + root + "\n" +
		"anthropic:\n  timeout: 90s\n  version: \"2024-01-01\"\n" +
		"brave:\n  base_url: http://brave.local\n" +
		"cache:\n  ttl: 10m\n" +
		"tool_parallelism: 2\n" +
		"log:\n  level: debug\n" +
		"permissions:\n  create_document: deny\n"
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Anthropic.Timeout != 90*time.Second || cfg.Anthropic.Version != "2024-01-01" {
		t.Fatalf("unexpected anthropic config: %+v", cfg.Anthropic)
	}
	if cfg.Brave.BaseURL != "http://brave.local" {
		t.Fatalf("unexpected brave base url %q", cfg.Brave.BaseURL)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Fatalf("expected cache ttl 10m, got %s", cfg.CacheTTL)
	}
	if cfg.ToolParallelism != 2 {
		t.Fatalf("expected tool_parallelism=2, got %d", cfg.ToolParallelism)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log section should merge with defaults, got %+v", cfg.Log)
	}
	if cfg.Permissions["create_document"] != "deny" {
		t.Fatalf("unexpected permissions %v", cfg.Permissions)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TOOLCHAT_DATA_DIR", root)
	yamlPath := filepath.Join(root, "toolchat.yaml")
	if err := os.WriteFile(yamlPath, []byte("cache:\n  ttl: soon\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if _, err := Load(yamlPath); err == nil {
		t.Fatal("expected invalid duration error")
	}
}

func TestLoadRejectsUnknownPermission(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TOOLCHAT_DATA_DIR", root)
	yamlPath := filepath.Join(root, "toolchat.yaml")
	if err := os.WriteFile(yamlPath, []byte("permissions:\n  search_web: maybe\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if _, err := Load(yamlPath); err == nil {
		t.Fatal("expected unknown decision error")
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TOOLCHAT_DATA_DIR", root)
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("BRAVE_API_KEY", "brave-key")
	t.Setenv("TOOLCHAT_LOG_LEVEL", "WARN")
	t.Setenv("TOOLCHAT_HTTP_ADDR", ":9999")
	yamlPath := filepath.Join(root, "toolchat.yaml")
	if err := os.WriteFile(yamlPath, []byte("anthropic:\n  api_key: yaml-key\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Anthropic.APIKey != "env-key" {
		t.Fatalf("env should win over yaml, got %q", cfg.Anthropic.APIKey)
	}
	if cfg.Brave.APIKey != "brave-key" || cfg.Log.Level != "warn" || cfg.HTTPAddr != ":9999" {
		t.Fatalf("unexpected overrides: brave=%q level=%q addr=%q", cfg.Brave.APIKey, cfg.Log.Level, cfg.HTTPAddr)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nexport TOOLCHAT_TEST_A=\"quoted value\"\nTOOLCHAT_TEST_B='single'\nTOOLCHAT_TEST_C=keep\nnot a pair\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("TOOLCHAT_TEST_A", "")
	t.Setenv("TOOLCHAT_TEST_B", "")
	t.Setenv("TOOLCHAT_TEST_C", "already set")
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("TOOLCHAT_TEST_A"); got != "quoted value" {
		t.Fatalf("unexpected A=%q", got)
	}
	if got := os.Getenv("TOOLCHAT_TEST_B"); got != "single" {
		t.Fatalf("unexpected B=%q", got)
	}
	if got := os.Getenv("TOOLCHAT_TEST_C"); got != "already set" {
		t.Fatalf("existing env must not be overridden, got %q", got)
	}
}
