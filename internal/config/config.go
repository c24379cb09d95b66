package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"toolchat/internal/brave"
	"toolchat/internal/google"
	"toolchat/internal/llm"
	"toolchat/internal/logger"
	"toolchat/internal/permission"
)

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Version string
	Timeout time.Duration
}

type BraveConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type GoogleConfig struct {
	CredentialsFile string
	TokenFile       string
	BaseURL         string
	Timeout         time.Duration
}

type anthropicFile struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Version string `yaml:"version"`
	Timeout string `yaml:"timeout"`
}

type braveFile struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

type googleFile struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	BaseURL         string `yaml:"base_url"`
	Timeout         string `yaml:"timeout"`
}

type cacheFile struct {
	TTL string `yaml:"ttl"`
}

type fileConfig struct {
	DataDir          string            `yaml:"data_dir"`
	SettingsFile     string            `yaml:"settings_file"`
	StoragePath      string            `yaml:"storage_path"`
	ConversationsDir string            `yaml:"conversations_dir"`
	SystemPromptFile string            `yaml:"system_prompt_file"`
	Anthropic        anthropicFile     `yaml:"anthropic"`
	Brave            braveFile         `yaml:"brave"`
	Google           googleFile        `yaml:"google"`
	Cache            cacheFile         `yaml:"cache"`
	ToolParallelism  int               `yaml:"tool_parallelism"`
	Log              logger.Config     `yaml:"log"`
	HTTPAddr         string            `yaml:"http_addr"`
	Permissions      map[string]string `yaml:"permissions"`
}

type Config struct {
	DataDir          string
	SettingsFile     string
	StoragePath      string
	ConversationsDir string
	SystemPromptFile string
	Anthropic        AnthropicConfig
	Brave            BraveConfig
	Google           GoogleConfig
	CacheTTL         time.Duration
	ToolParallelism  int
	Log              logger.Config
	HTTPAddr         string
	Permissions      map[string]string
}

func Load(configPath string) (Config, error) {
	_ = loadDotEnv(".env")
	cfg := defaultConfig()
	if strings.TrimSpace(configPath) != "" {
		if err := applyYAMLConfig(&cfg, configPath); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)
	if err := normalizeAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home, _ = os.Getwd()
	}
	return Config{
		DataDir: filepath.Join(home, ".toolchat"),
		Anthropic: AnthropicConfig{
			BaseURL: llm.DefaultBaseURL,
			Version: llm.DefaultAPIVersion,
			Timeout: 60 * time.Second,
		},
		Brave: BraveConfig{
			BaseURL: brave.DefaultBaseURL,
			Timeout: 15 * time.Second,
		},
		Google: GoogleConfig{
			BaseURL: google.DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		CacheTTL:        time.Hour,
		ToolParallelism: 4,
		Log:             logger.DefaultConfig(),
		HTTPAddr:        "127.0.0.1:8090",
		Permissions:     permission.DefaultRules(),
	}
}

func applyYAMLConfig(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{Log: cfg.Log}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse yaml config: %w", err)
	}
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.SettingsFile, fc.SettingsFile)
	setString(&cfg.StoragePath, fc.StoragePath)
	setString(&cfg.ConversationsDir, fc.ConversationsDir)
	setString(&cfg.SystemPromptFile, fc.SystemPromptFile)

	setString(&cfg.Anthropic.BaseURL, fc.Anthropic.BaseURL)
	setString(&cfg.Anthropic.APIKey, fc.Anthropic.APIKey)
	setString(&cfg.Anthropic.Version, fc.Anthropic.Version)
	if err := setDuration(&cfg.Anthropic.Timeout, fc.Anthropic.Timeout, "anthropic.timeout"); err != nil {
		return err
	}
	setString(&cfg.Brave.BaseURL, fc.Brave.BaseURL)
	setString(&cfg.Brave.APIKey, fc.Brave.APIKey)
	if err := setDuration(&cfg.Brave.Timeout, fc.Brave.Timeout, "brave.timeout"); err != nil {
		return err
	}
	setString(&cfg.Google.CredentialsFile, fc.Google.CredentialsFile)
	setString(&cfg.Google.TokenFile, fc.Google.TokenFile)
	setString(&cfg.Google.BaseURL, fc.Google.BaseURL)
	if err := setDuration(&cfg.Google.Timeout, fc.Google.Timeout, "google.timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.CacheTTL, fc.Cache.TTL, "cache.ttl"); err != nil {
		return err
	}
	if fc.ToolParallelism > 0 {
		cfg.ToolParallelism = fc.ToolParallelism
	}
	cfg.Log = fc.Log
	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	if len(fc.Permissions) > 0 {
		cfg.Permissions = fc.Permissions
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, key string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s in yaml: %w", key, err)
	}
	*dst = d
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TOOLCHAT_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")); v != "" {
		cfg.Anthropic.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BRAVE_API_KEY")); v != "" {
		cfg.Brave.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_CREDENTIALS_FILE")); v != "" {
		cfg.Google.CredentialsFile = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_TOKEN_FILE")); v != "" {
		cfg.Google.TokenFile = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLCHAT_LOG_LEVEL")); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("TOOLCHAT_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLCHAT_TOOL_PARALLELISM")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ToolParallelism = n
		}
	}
}

func normalizeAndValidate(cfg *Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	absDir, err := filepath.Abs(expandHome(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("resolve data_dir: %w", err)
	}
	cfg.DataDir = absDir
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}

	cfg.SettingsFile = underDataDir(cfg.DataDir, cfg.SettingsFile, "config.json")
	cfg.StoragePath = underDataDir(cfg.DataDir, cfg.StoragePath, "toolchat.db")
	cfg.ConversationsDir = underDataDir(cfg.DataDir, cfg.ConversationsDir, "conversations")
	if strings.TrimSpace(cfg.SystemPromptFile) != "" {
		cfg.SystemPromptFile = underDataDir(cfg.DataDir, cfg.SystemPromptFile, "")
	}
	if strings.TrimSpace(cfg.Google.CredentialsFile) != "" {
		cfg.Google.CredentialsFile = underDataDir(cfg.DataDir, cfg.Google.CredentialsFile, "")
	}
	cfg.Google.TokenFile = underDataDir(cfg.DataDir, cfg.Google.TokenFile, "token.json")
	if cfg.Log.Output != "console" {
		cfg.Log.File.Filename = underDataDir(cfg.DataDir, cfg.Log.File.Filename, filepath.Join("logs", "toolchat.log"))
	}
	if err := cfg.Log.Validate(); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Anthropic.BaseURL) == "" {
		return errors.New("anthropic.base_url is required")
	}
	if cfg.Anthropic.Timeout <= 0 {
		cfg.Anthropic.Timeout = 60 * time.Second
	}
	if cfg.Brave.Timeout <= 0 {
		cfg.Brave.Timeout = 15 * time.Second
	}
	if cfg.Google.Timeout <= 0 {
		cfg.Google.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.ToolParallelism <= 0 {
		cfg.ToolParallelism = 1
	}
	if cfg.ToolParallelism > 16 {
		cfg.ToolParallelism = 16
	}
	for pattern, decision := range cfg.Permissions {
		switch permission.Decision(strings.ToLower(strings.TrimSpace(decision))) {
		case permission.DecisionAllow, permission.DecisionAsk, permission.DecisionDeny:
		default:
			return fmt.Errorf("permission %q: unknown decision %q", pattern, decision)
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func underDataDir(dataDir, path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = fallback
	}
	path = expandHome(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}

func loadDotEnv(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:idx])
		v := strings.TrimSpace(line[idx+1:])
		if (strings.HasPrefix(v, "\"") && strings.HasSuffix(v, "\"")) || (strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'")) {
			v = strings.Trim(v, "\"'")
		}
		if os.Getenv(k) == "" {
			_ = os.Setenv(k, v)
		}
	}
	return nil
}
