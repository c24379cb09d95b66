package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"toolchat/internal/models"
)

const MinDeliberationBudget = 1024

// Settings is the user-adjustable chat configuration.
type Settings struct {
	Model               string  `mapstructure:"model"`
	Temperature         float64 `mapstructure:"temperature"`
	MaxOutputTokens     int     `mapstructure:"max_output_tokens"`
	DeliberationEnabled bool    `mapstructure:"deliberation_enabled"`
	DeliberationBudget  int     `mapstructure:"deliberation_budget"`
	ShowDeliberation    bool    `mapstructure:"show_deliberation"`
	ToolsEnabled        bool    `mapstructure:"tools_enabled"`
	ExtendedOutput      bool    `mapstructure:"extended_output"`
}

func Defaults() Settings {
	return Settings{
		Model:               models.DefaultModel,
		Temperature:         0.7,
		MaxOutputTokens:     4000,
		DeliberationEnabled: true,
		DeliberationBudget:  16000,
		ShowDeliberation:    true,
		ToolsEnabled:        true,
		ExtendedOutput:      false,
	}
}

func (s Settings) Map() map[string]any {
	return map[string]any{
		"model":                s.Model,
		"temperature":          s.Temperature,
		"max_output_tokens":    s.MaxOutputTokens,
		"deliberation_enabled": s.DeliberationEnabled,
		"deliberation_budget":  s.DeliberationBudget,
		"show_deliberation":    s.ShowDeliberation,
		"tools_enabled":        s.ToolsEnabled,
		"extended_output":      s.ExtendedOutput,
	}
}

// Keys returns the recognized option names in display order.
func Keys() []string {
	keys := make([]string, 0, 8)
	for k := range Defaults().Map() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// legacyKeys maps option names used by older config files to current names.
var legacyKeys = map[string]string{
	"max_tokens":       "max_output_tokens",
	"thinking_enabled": "deliberation_enabled",
	"thinking_budget":  "deliberation_budget",
	"show_thinking":    "show_deliberation",
	"use_tools":        "tools_enabled",
}

func CanonicalKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if current, ok := legacyKeys[key]; ok {
		return current
	}
	return key
}

type ValidationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Key, e.Value, e.Reason)
}

var ErrUnknownKey = errors.New("unknown configuration key")

type ModelCatalog interface {
	IsKnown(id string) bool
	SupportsExtendedOutput(id string) bool
}

// Store holds the active Settings and writes them back to a JSON file after
// every successful mutation.
type Store struct {
	mu      sync.Mutex
	path    string
	current Settings
	catalog ModelCatalog
	log     *zap.Logger
}

// Open loads settings from path, filling missing keys with defaults. A
// missing file is created with the defaults.
func Open(path string, catalog ModelCatalog, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{path: path, catalog: catalog, log: log}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	for k, val := range Defaults().Map() {
		v.SetDefault(k, val)
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
		for legacy, current := range legacyKeys {
			if v.InConfig(legacy) && !v.InConfig(current) {
				v.Set(current, v.Get(legacy))
			}
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("stat settings %s: %w", path, statErr)
	}

	var loaded Settings
	if err := v.Unmarshal(&loaded); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if replaced := s.repair(&loaded); len(replaced) > 0 {
		log.Warn("invalid settings replaced with defaults", zap.String("path", path), zap.Strings("keys", replaced))
	}
	s.normalize(&loaded)
	if err := s.validate(loaded); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	s.current = loaded
	if !exists {
		if err := s.persist(loaded); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies fn to a copy of the current settings, validates the result
// and persists it. On any error the active settings are left unchanged.
func (s *Store) Update(fn func(*Settings) error) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	if err := fn(&next); err != nil {
		return s.current, err
	}
	s.normalize(&next)
	if err := s.validate(next); err != nil {
		return s.current, err
	}
	if err := s.persist(next); err != nil {
		return s.current, err
	}
	s.current = next
	s.log.Info("settings updated", zap.Any("settings", next.Map()))
	return next, nil
}

// Set parses raw for key and applies it. Keys from older config files are
// accepted. A deliberation budget below the minimum is raised to it.
func (s *Store) Set(key, raw string) (Settings, error) {
	key = CanonicalKey(key)
	raw = strings.TrimSpace(raw)
	return s.Update(func(next *Settings) error {
		switch key {
		case "model":
			if s.catalog != nil && !s.catalog.IsKnown(raw) {
				return &ValidationError{Key: key, Value: raw, Reason: "unknown model"}
			}
			next.Model = raw
		case "temperature":
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return &ValidationError{Key: key, Value: raw, Reason: "expected a number"}
			}
			next.Temperature = f
		case "max_output_tokens":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return &ValidationError{Key: key, Value: raw, Reason: "expected an integer"}
			}
			next.MaxOutputTokens = n
		case "deliberation_budget":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return &ValidationError{Key: key, Value: raw, Reason: "expected an integer"}
			}
			next.DeliberationBudget = n
		case "deliberation_enabled", "show_deliberation", "tools_enabled", "extended_output":
			b, err := ParseBool(raw)
			if err != nil {
				return &ValidationError{Key: key, Value: raw, Reason: err.Error()}
			}
			switch key {
			case "deliberation_enabled":
				next.DeliberationEnabled = b
			case "show_deliberation":
				next.ShowDeliberation = b
			case "tools_enabled":
				next.ToolsEnabled = b
			case "extended_output":
				if b && s.catalog != nil && !s.catalog.SupportsExtendedOutput(next.Model) {
					return &ValidationError{Key: key, Value: raw, Reason: "extended output is only available with claude-3-7 models"}
				}
				next.ExtendedOutput = b
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		return nil
	})
}

// Reset restores and persists the defaults.
func (s *Store) Reset() (Settings, error) {
	return s.Update(func(next *Settings) error {
		*next = Defaults()
		return nil
	})
}

// repair resets each field that would fail validation to its default and
// returns the keys it touched. Valid fields are kept.
func (s *Store) repair(next *Settings) []string {
	def := Defaults()
	var replaced []string
	next.Model = strings.TrimSpace(next.Model)
	if next.Model == "" || (s.catalog != nil && !s.catalog.IsKnown(next.Model)) {
		next.Model = def.Model
		replaced = append(replaced, "model")
	}
	if next.Temperature < 0 || next.Temperature > 2 {
		next.Temperature = def.Temperature
		replaced = append(replaced, "temperature")
	}
	if next.MaxOutputTokens <= 0 {
		next.MaxOutputTokens = def.MaxOutputTokens
		replaced = append(replaced, "max_output_tokens")
	}
	return replaced
}

func (s *Store) normalize(next *Settings) {
	next.Model = strings.TrimSpace(next.Model)
	if next.DeliberationBudget < MinDeliberationBudget {
		next.DeliberationBudget = MinDeliberationBudget
	}
	if next.ExtendedOutput && s.catalog != nil && !s.catalog.SupportsExtendedOutput(next.Model) {
		next.ExtendedOutput = false
	}
}

func (s *Store) validate(next Settings) error {
	if next.Model == "" {
		return &ValidationError{Key: "model", Reason: "must not be empty"}
	}
	if s.catalog != nil && !s.catalog.IsKnown(next.Model) {
		return &ValidationError{Key: "model", Value: next.Model, Reason: "unknown model"}
	}
	if next.Temperature < 0 || next.Temperature > 2 {
		return &ValidationError{Key: "temperature", Value: strconv.FormatFloat(next.Temperature, 'f', -1, 64), Reason: "must be between 0 and 2"}
	}
	if next.MaxOutputTokens <= 0 {
		return &ValidationError{Key: "max_output_tokens", Value: strconv.Itoa(next.MaxOutputTokens), Reason: "must be greater than 0"}
	}
	return nil
}

func (s *Store) persist(next Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure settings dir: %w", err)
	}
	w := viper.New()
	w.SetConfigType("json")
	for k, val := range next.Map() {
		w.Set(k, val)
	}
	if err := w.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}

// ParseBool accepts true/yes/on/1 and false/no/off/0.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	default:
		return false, errors.New("expected on/off, yes/no, true/false or 1/0")
	}
}
