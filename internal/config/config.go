package config

import (
	"fmt"
)

// RenderMode selects how directory listings are rendered.
type RenderMode string

const (
	// RenderModePlain renders an nginx-style fixed-width <pre> listing.
	RenderModePlain RenderMode = "plain"
	// RenderModeStyled renders an HTML table with shaded rows.
	RenderModeStyled RenderMode = "styled"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server  *ServerConfig  `json:"server,omitempty" toml:"server,omitempty" yaml:"server,omitempty"`
	Files   *FilesConfig   `json:"files,omitempty" toml:"files,omitempty" yaml:"files,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty" yaml:"logging,omitempty"`
}

// ServerConfig holds listener and lifecycle settings.
type ServerConfig struct {
	Address                 *string `json:"address,omitempty" toml:"address,omitempty" yaml:"address,omitempty"`
	RequestTimeout          *string `json:"request_timeout,omitempty" toml:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`                            // e.g., "30s"
	GracefulShutdownTimeout *string `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty" yaml:"graceful_shutdown_timeout,omitempty"` // e.g., "10s"
	MetricsAddress          *string `json:"metrics_address,omitempty" toml:"metrics_address,omitempty" yaml:"metrics_address,omitempty"`
}

// FilesConfig describes what is served and how. It is immutable once the
// server has started and is shared read-only by every request.
type FilesConfig struct {
	BasePath           string            `json:"base_path" toml:"base_path" yaml:"base_path"`
	RestrictedPatterns []string          `json:"restricted_patterns,omitempty" toml:"restricted_patterns,omitempty" yaml:"restricted_patterns,omitempty"`
	RenderMode         RenderMode        `json:"render_mode,omitempty" toml:"render_mode,omitempty" yaml:"render_mode,omitempty"`
	CacheMaxAge        *int              `json:"cache_max_age,omitempty" toml:"cache_max_age,omitempty" yaml:"cache_max_age,omitempty"`
	LastModifiedUTC    bool              `json:"last_modified_utc,omitempty" toml:"last_modified_utc,omitempty" yaml:"last_modified_utc,omitempty"`
	MimeTypes          map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty" yaml:"mime_types,omitempty"`
	MimeTypesPath      *string           `json:"mime_types_path,omitempty" toml:"mime_types_path,omitempty" yaml:"mime_types_path,omitempty"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty" yaml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty" yaml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Target         *string  `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	Format         string   `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"` // "json" or "text"
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
	RealIPHeader   *string  `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty" yaml:"real_ip_header,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target *string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
}

// ConfigError reports a problem with a configuration file or value.
type ConfigError struct {
	FilePath string
	Field    string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.FilePath != "" {
		msg = fmt.Sprintf("%s: %s", e.FilePath, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsFilePath reports whether a log target names a file rather than a standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}
