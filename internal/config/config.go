// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/deepchat/internal/logging"
	"github.com/jeranaias/deepchat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	DefaultEndpoint      = "https://api.deepseek.com"
	DefaultChatModel     = "deepseek-chat"
	DefaultReasonerModel = "deepseek-reasoner"

	DriverSQLite = "sqlite"
	DriverJSON   = "json"

	dirName = ".deepchat"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete deepchat configuration.
type Config struct {
	API      APIConfig      `toml:"api" json:"api"`
	Sampling SamplingConfig `toml:"sampling" json:"sampling"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Log      LogConfig      `toml:"log" json:"log"`
}

// APIConfig holds the chat-completion endpoint settings.
type APIConfig struct {
	Endpoint      string `toml:"endpoint" json:"endpoint"`
	Key           string `toml:"key" json:"key"`
	ChatModel     string `toml:"chat_model" json:"chat_model"`
	ReasonerModel string `toml:"reasoner_model" json:"reasoner_model"`
	// TimeoutSecs bounds connection setup and response headers, not the stream.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// IdleTimeoutSecs fails a stream that receives nothing for this long.
	IdleTimeoutSecs int `toml:"idle_timeout_secs" json:"idle_timeout_secs"`
}

// SamplingConfig holds the request sampling parameters.
type SamplingConfig struct {
	Temperature      float64 `toml:"temperature" json:"temperature"`
	MaxTokens        int     `toml:"max_tokens" json:"max_tokens"`
	TopP             float64 `toml:"top_p" json:"top_p"`
	FrequencyPenalty float64 `toml:"frequency_penalty" json:"frequency_penalty"`
	PresencePenalty  float64 `toml:"presence_penalty" json:"presence_penalty"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "sqlite" or "json".
	Driver string `toml:"driver" json:"driver"`
	// Path is the database file (sqlite) or directory (json). Empty means
	// the default location under the config directory.
	Path string `toml:"path" json:"path"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	Output string `toml:"output" json:"output"`
	File   string `toml:"file" json:"file"`
}

// Options converts the section into logging options. An empty file path
// resolves to deepchat.log under the config directory.
func (l LogConfig) Options() logging.Options {
	opts := logging.Options{
		Level:    l.Level,
		Format:   l.Format,
		Output:   l.Output,
		FilePath: l.File,
	}
	if opts.Output == "file" && opts.FilePath == "" {
		if dir, err := ConfigDir(); err == nil {
			opts.FilePath = filepath.Join(dir, "deepchat.log")
		}
	}
	return opts
}

// Timeout returns the API timeout as a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// IdleTimeout returns the stream idle timeout as a duration.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.IdleTimeoutSecs) * time.Second
}

// =============================================================================
// SETTINGS SNAPSHOT
// =============================================================================

// Settings is the read-once view of the four values a chat request needs.
type Settings struct {
	APIEndpoint   string
	APIKey        string
	ChatModel     string
	ReasonerModel string
}

// Validate reports every empty field. A zero Settings is invalid.
func (s Settings) Validate() error {
	var errs ValidateErrors
	if strings.TrimSpace(s.APIEndpoint) == "" {
		errs = append(errs, ValidationError{Field: "api.endpoint", Message: "must not be empty"})
	}
	if strings.TrimSpace(s.APIKey) == "" {
		errs = append(errs, ValidationError{Field: "api.key", Message: "must not be empty"})
	}
	if strings.TrimSpace(s.ChatModel) == "" {
		errs = append(errs, ValidationError{Field: "api.chat_model", Message: "must not be empty"})
	}
	if strings.TrimSpace(s.ReasonerModel) == "" {
		errs = append(errs, ValidationError{Field: "api.reasoner_model", Message: "must not be empty"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Settings extracts the request settings from the configuration.
func (c *Config) Settings() Settings {
	return Settings{
		APIEndpoint:   c.API.Endpoint,
		APIKey:        c.API.Key,
		ChatModel:     c.API.ChatModel,
		ReasonerModel: c.API.ReasonerModel,
	}
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with built-in defaults. The API key is
// empty, so the resulting settings are not yet valid.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Endpoint:        DefaultEndpoint,
			ChatModel:       DefaultChatModel,
			ReasonerModel:   DefaultReasonerModel,
			TimeoutSecs:     30,
			IdleTimeoutSecs: 120,
		},
		Sampling: SamplingConfig{
			Temperature: 0.7,
			MaxTokens:   2000,
			TopP:        1.0,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			Output: "file",
		},
	}
}

// SetDefaults fills zero values that have a meaningful default. Endpoint,
// key and model names are left alone: clearing them is how a user
// deconfigures the client.
func (c *Config) SetDefaults() {
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = 30
	}
	if c.API.IdleTimeoutSecs == 0 {
		c.API.IdleTimeoutSecs = 120
	}
	if c.Sampling.MaxTokens == 0 {
		c.Sampling.MaxTokens = 2000
	}
	if c.Sampling.TopP == 0 {
		c.Sampling.TopP = 1.0
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "file"
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.deepchat.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// ConfigPathTOML returns the default TOML config path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the fallback JSON config path.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// StoragePath resolves the storage location, applying the per-driver default.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if c.Storage.Driver == DriverJSON {
		return filepath.Join(dir, "chats"), nil
	}
	return filepath.Join(dir, "deepchat.db"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// DefaultPath returns ~/.deepchat/config.toml, or config.json when only the
// JSON file exists.
func DefaultPath() (string, error) {
	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	jsonPath, err := ConfigPathJSON()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, nil
	}
	return tomlPath, nil
}

// LoadFileFromPath loads only what the file holds, over defaults. ".json"
// selects JSON, anything else TOML. A missing file yields defaults so a
// fresh install can start with --config. No environment override is
// applied, so the result is safe to save back; Resolve gives the effective
// configuration.
func LoadFileFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if strings.HasSuffix(path, ".json") {
			if err := LoadJSON(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
			}
		} else if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg.SetDefaults()
	return cfg, nil
}

// Resolve returns the effective configuration for a file configuration:
// a copy with environment overrides applied, validated.
func Resolve(file *Config) (*Config, error) {
	cfg := file.Clone()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// SaveTOML writes cfg as TOML with 0600 permissions via an atomic replace.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# deepchat configuration file\n")
	buf.WriteString("# Generated by deepchat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveToPath picks the encoder from the file extension.
func SaveToPath(cfg *Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return SaveJSON(cfg, path)
	}
	return SaveTOML(cfg, path)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidateErrors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, err := range e {
		out = append(out, err.Field)
	}
	return out
}

// Validate checks value ranges. It does not require the API settings to be
// complete; that is checked per request through Settings.Validate.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.API.Endpoint != "" {
		u, err := url.Parse(c.API.Endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{Field: "api.endpoint", Message: "must be an http(s) URL"})
		}
	}
	if c.API.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "api.timeout_secs", Message: "must not be negative"})
	}
	if c.API.IdleTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "api.idle_timeout_secs", Message: "must not be negative"})
	}

	if c.Sampling.Temperature < 0 || c.Sampling.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "sampling.temperature", Message: "must be between 0 and 2"})
	}
	if c.Sampling.MaxTokens < 0 {
		errs = append(errs, ValidationError{Field: "sampling.max_tokens", Message: "must not be negative"})
	}
	if c.Sampling.TopP < 0 || c.Sampling.TopP > 1 {
		errs = append(errs, ValidationError{Field: "sampling.top_p", Message: "must be between 0 and 1"})
	}
	if c.Sampling.FrequencyPenalty < -2 || c.Sampling.FrequencyPenalty > 2 {
		errs = append(errs, ValidationError{Field: "sampling.frequency_penalty", Message: "must be between -2 and 2"})
	}
	if c.Sampling.PresencePenalty < -2 || c.Sampling.PresencePenalty > 2 {
		errs = append(errs, ValidationError{Field: "sampling.presence_penalty", Message: "must be between -2 and 2"})
	}

	switch c.Storage.Driver {
	case "", DriverSQLite, DriverJSON:
	default:
		errs = append(errs, ValidationError{Field: "storage.driver", Message: "must be 'sqlite' or 'json'"})
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, ValidationError{Field: "log.level", Message: err.Error()})
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{Field: "log.format", Message: "must be 'text' or 'json'"})
	}
	switch c.Log.Output {
	case "", "stderr", "stdout", "file":
	default:
		errs = append(errs, ValidationError{Field: "log.output", Message: "must be 'stderr', 'stdout' or 'file'"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// envVars maps dotted keys to the variables that override them.
var envVars = map[string]string{
	"api.endpoint":       "DEEPCHAT_API_ENDPOINT",
	"api.key":            "DEEPCHAT_API_KEY",
	"api.chat_model":     "DEEPCHAT_CHAT_MODEL",
	"api.reasoner_model": "DEEPCHAT_REASONER_MODEL",
	"storage.path":       "DEEPCHAT_STORAGE_PATH",
	"log.level":          "DEEPCHAT_LOG_LEVEL",
}

// EnvOverride reports the environment variable currently overriding key.
func EnvOverride(key string) (string, bool) {
	name, ok := envVars[strings.ToLower(key)]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// ApplyEnvOverrides applies DEEPCHAT_* environment variables. Overrides only
// ever apply to the live configuration; the file copy never carries them.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DEEPCHAT_API_ENDPOINT"); v != "" {
		c.API.Endpoint = v
	}
	if v := os.Getenv("DEEPCHAT_API_KEY"); v != "" {
		c.API.Key = v
	}
	if v := os.Getenv("DEEPCHAT_CHAT_MODEL"); v != "" {
		c.API.ChatModel = v
	}
	if v := os.Getenv("DEEPCHAT_REASONER_MODEL"); v != "" {
		c.API.ReasonerModel = v
	}
	if v := os.Getenv("DEEPCHAT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("DEEPCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "api.chat_model").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("'%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns every settable key in dot notation, sorted.
func GetAllKeys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// MISC
// =============================================================================

// Clone returns a copy of the configuration. All fields are values.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// MaskedKey returns the API key with all but the last four characters hidden.
func (c *Config) MaskedKey() string {
	return MaskKey(c.API.Key)
}

// MaskKey hides all but the last four characters of a secret.
func MaskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// String renders the configuration as TOML with the key masked.
func (c *Config) String() string {
	masked := c.Clone()
	masked.API.Key = c.MaskedKey()
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(masked); err != nil {
		return fmt.Sprintf("config encode error: %v", err)
	}
	return buf.String()
}
