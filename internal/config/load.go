package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddress                 = "127.0.0.1:3000"
	DefaultRequestTimeout          = "30s"
	DefaultGracefulShutdownTimeout = "10s"
	DefaultCacheMaxAge             = 3600
)

// DefaultRestrictedPatterns are forbidden anywhere in a request path unless
// the configuration supplies its own list.
var DefaultRestrictedPatterns = []string{".env", ".git", "go.mod", "go.sum"}

// LoadConfig reads, decodes, defaults and validates the configuration file at path.
// The format is picked from the extension (.json, .toml, .yaml, .yml); other
// extensions are auto-detected by trying JSON, TOML and YAML in that order.
// Relative paths inside the file are resolved against the file's directory.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Message: "configuration file path cannot be empty"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to read configuration file", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{FilePath: path, Message: "configuration file is empty"}
	}

	cfg, err := decode(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to parse configuration file", Err: err}
	}

	baseDir := filepath.Dir(path)
	if cfg.Files != nil {
		if cfg.Files.BasePath != "" && !filepath.IsAbs(cfg.Files.BasePath) {
			cfg.Files.BasePath = filepath.Join(baseDir, cfg.Files.BasePath)
		}
		if p := cfg.Files.MimeTypesPath; p != nil && *p != "" && !filepath.IsAbs(*p) {
			abs := filepath.Join(baseDir, *p)
			cfg.Files.MimeTypesPath = &abs
		}
	}

	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.FilePath == "" {
			ce.FilePath = path
		}
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		return &cfg, nil
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
		return &cfg, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		return &cfg, nil
	}

	jsonErr := json.Unmarshal(data, &cfg)
	if jsonErr == nil {
		return &cfg, nil
	}
	cfg = Config{}
	_, tomlErr := toml.Decode(string(data), &cfg)
	if tomlErr == nil {
		return &cfg, nil
	}
	cfg = Config{}
	yamlErr := yaml.Unmarshal(data, &cfg)
	if yamlErr == nil {
		return &cfg, nil
	}
	return nil, fmt.Errorf("could not auto-detect format (json: %v; toml: %v; yaml: %v)", jsonErr, tomlErr, yamlErr)
}

// ApplyDefaults fills unset fields in place. BasePath is made absolute.
func ApplyDefaults(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Message: "configuration cannot be nil"}
	}
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Address == nil || *cfg.Server.Address == "" {
		cfg.Server.Address = strPtr(DefaultAddress)
	}
	if cfg.Server.RequestTimeout == nil {
		cfg.Server.RequestTimeout = strPtr(DefaultRequestTimeout)
	}
	if cfg.Server.GracefulShutdownTimeout == nil {
		cfg.Server.GracefulShutdownTimeout = strPtr(DefaultGracefulShutdownTimeout)
	}

	if cfg.Files == nil {
		cfg.Files = &FilesConfig{}
	}
	if cfg.Files.BasePath == "" {
		cfg.Files.BasePath = "."
	}
	abs, err := filepath.Abs(cfg.Files.BasePath)
	if err != nil {
		return &ConfigError{Field: "files.base_path", Message: "cannot make path absolute", Err: err}
	}
	cfg.Files.BasePath = abs
	if cfg.Files.RestrictedPatterns == nil {
		cfg.Files.RestrictedPatterns = append([]string(nil), DefaultRestrictedPatterns...)
	}
	if cfg.Files.RenderMode == "" {
		cfg.Files.RenderMode = RenderModePlain
	} else if mode, err := ParseRenderMode(string(cfg.Files.RenderMode)); err == nil {
		cfg.Files.RenderMode = mode
	}
	if cfg.Files.CacheMaxAge == nil {
		maxAge := DefaultCacheMaxAge
		cfg.Files.CacheMaxAge = &maxAge
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevel = LogLevelInfo
	}
	cfg.Logging.LogLevel = LogLevel(strings.ToUpper(string(cfg.Logging.LogLevel)))
	if cfg.Logging.ErrorLog == nil {
		cfg.Logging.ErrorLog = &ErrorLogConfig{}
	}
	if cfg.Logging.ErrorLog.Target == nil || *cfg.Logging.ErrorLog.Target == "" {
		cfg.Logging.ErrorLog.Target = strPtr("stderr")
	}
	if cfg.Logging.AccessLog == nil {
		cfg.Logging.AccessLog = &AccessLogConfig{}
	}
	if cfg.Logging.AccessLog.Enabled == nil {
		enabled := true
		cfg.Logging.AccessLog.Enabled = &enabled
	}
	if cfg.Logging.AccessLog.Target == nil || *cfg.Logging.AccessLog.Target == "" {
		cfg.Logging.AccessLog.Target = strPtr("stdout")
	}
	if cfg.Logging.AccessLog.Format == "" {
		cfg.Logging.AccessLog.Format = "json"
	}
	return nil
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg == nil || cfg.Server == nil || cfg.Files == nil || cfg.Logging == nil {
		return &ConfigError{Message: "configuration is incomplete; call ApplyDefaults first"}
	}

	for _, f := range []struct {
		name  string
		value *string
	}{
		{"server.request_timeout", cfg.Server.RequestTimeout},
		{"server.graceful_shutdown_timeout", cfg.Server.GracefulShutdownTimeout},
	} {
		if f.value == nil {
			continue
		}
		if _, err := ParseDuration(*f.value); err != nil {
			return &ConfigError{Field: f.name, Message: "invalid duration", Err: err}
		}
	}

	if !filepath.IsAbs(cfg.Files.BasePath) {
		return &ConfigError{Field: "files.base_path", Message: fmt.Sprintf("must be absolute, got %q", cfg.Files.BasePath)}
	}
	if _, err := ParseRenderMode(string(cfg.Files.RenderMode)); err != nil {
		return &ConfigError{Field: "files.render_mode", Message: err.Error()}
	}
	for i, p := range cfg.Files.RestrictedPatterns {
		if p == "" {
			return &ConfigError{Field: fmt.Sprintf("files.restricted_patterns[%d]", i), Message: "pattern cannot be empty"}
		}
	}
	if cfg.Files.CacheMaxAge != nil && *cfg.Files.CacheMaxAge < 0 {
		return &ConfigError{Field: "files.cache_max_age", Message: "cannot be negative"}
	}
	for ext, mt := range cfg.Files.MimeTypes {
		if !strings.HasPrefix(ext, ".") {
			return &ConfigError{Field: "files.mime_types", Message: fmt.Sprintf("extension %q must start with '.'", ext)}
		}
		if mt == "" {
			return &ConfigError{Field: "files.mime_types", Message: fmt.Sprintf("empty MIME type for extension %q", ext)}
		}
	}

	switch cfg.Logging.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return &ConfigError{Field: "logging.log_level", Message: fmt.Sprintf("unknown level %q", cfg.Logging.LogLevel)}
	}
	if al := cfg.Logging.AccessLog; al != nil {
		if al.Format != "json" && al.Format != "text" {
			return &ConfigError{Field: "logging.access_log.format", Message: fmt.Sprintf("must be \"json\" or \"text\", got %q", al.Format)}
		}
		if al.Target != nil && IsFilePath(*al.Target) && !filepath.IsAbs(*al.Target) {
			return &ConfigError{Field: "logging.access_log.target", Message: "file target must be an absolute path"}
		}
	}
	if el := cfg.Logging.ErrorLog; el != nil && el.Target != nil && IsFilePath(*el.Target) && !filepath.IsAbs(*el.Target) {
		return &ConfigError{Field: "logging.error_log.target", Message: "file target must be an absolute path"}
	}
	return nil
}

// ParseRenderMode accepts "plain" or "styled", case-insensitively.
func ParseRenderMode(s string) (RenderMode, error) {
	switch RenderMode(strings.ToLower(strings.TrimSpace(s))) {
	case RenderModePlain:
		return RenderModePlain, nil
	case RenderModeStyled:
		return RenderModeStyled, nil
	}
	return "", fmt.Errorf("unknown render mode %q (want %q or %q)", s, RenderModePlain, RenderModeStyled)
}

// ParseRestrictedPatterns splits a comma-separated list, dropping blanks.
// An empty input yields an empty, non-nil slice.
func ParseRestrictedPatterns(csv string) []string {
	patterns := []string{}
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// ParseDuration parses a duration string. An empty string means zero (disabled).
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q cannot be negative", s)
	}
	return d, nil
}

// RequestTimeoutDuration returns the parsed per-request deadline, 0 when disabled.
func (c *ServerConfig) RequestTimeoutDuration() time.Duration {
	if c == nil || c.RequestTimeout == nil {
		return 0
	}
	d, _ := ParseDuration(*c.RequestTimeout)
	return d
}

// ShutdownTimeout returns the parsed graceful shutdown timeout.
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	if c == nil || c.GracefulShutdownTimeout == nil {
		return 0
	}
	d, _ := ParseDuration(*c.GracefulShutdownTimeout)
	return d
}

// MaxAge returns the Cache-Control max-age in seconds.
func (c *FilesConfig) MaxAge() int {
	if c == nil || c.CacheMaxAge == nil {
		return DefaultCacheMaxAge
	}
	return *c.CacheMaxAge
}

func strPtr(s string) *string { return &s }
