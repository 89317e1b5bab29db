package logger

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/dirserve/internal/config"
)

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]interface{}

// trustedProxies holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type trustedProxies struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// reopenableFile is a file-backed log target that can be reopened in place,
// e.g. after an external log rotation.
type reopenableFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openReopenableFile(path string) (*reopenableFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &reopenableFile{path: path, f: f}, nil
}

func (r *reopenableFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Write(p)
}

func (r *reopenableFile) reopen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	nf, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	old := r.f
	r.f = nf
	return old.Close()
}

func (r *reopenableFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// AccessLogger writes one entry per completed request.
type AccessLogger struct {
	logger       zerolog.Logger
	realIPHeader string
	proxies      trustedProxies
}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	errorLog  zerolog.Logger
	accessLog *AccessLogger
	files     []*reopenableFile
}

// NewLogger creates a Logger writing to the targets named in cfg.
// Targets are "stdout", "stderr" or an absolute file path.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	var files []*reopenableFile
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	open := func(target *string, fallback io.Writer) (io.Writer, error) {
		if target == nil || *target == "" {
			return fallback, nil
		}
		switch *target {
		case "stdout":
			return os.Stdout, nil
		case "stderr":
			return os.Stderr, nil
		}
		f, err := openReopenableFile(*target)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", *target, err)
		}
		files = append(files, f)
		return f, nil
	}

	var errTarget *string
	if cfg.ErrorLog != nil {
		errTarget = cfg.ErrorLog.Target
	}
	errorOut, err := open(errTarget, os.Stderr)
	if err != nil {
		return nil, err
	}

	var accessOut io.Writer
	if accessEnabled(cfg.AccessLog) {
		accessOut, err = open(cfg.AccessLog.Target, os.Stdout)
		if err != nil {
			closeAll()
			return nil, err
		}
	}

	l, err := NewLoggerWithWriters(cfg, errorOut, accessOut)
	if err != nil {
		closeAll()
		return nil, err
	}
	l.files = files
	return l, nil
}

// NewLoggerWithWriters builds a Logger on explicit writers. A nil accessOut
// disables access logging regardless of cfg.
func NewLoggerWithWriters(cfg *config.LoggingConfig, errorOut, accessOut io.Writer) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}
	if errorOut == nil {
		errorOut = io.Discard
	}

	l := &Logger{
		errorLog: zerolog.New(errorOut).Level(toZerologLevel(cfg.LogLevel)).With().Timestamp().Logger(),
	}

	if accessOut != nil && accessEnabled(cfg.AccessLog) {
		proxies, err := parseTrustedProxies(cfg.AccessLog.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", err)
		}
		if cfg.AccessLog.Format == "text" {
			accessOut = zerolog.ConsoleWriter{Out: accessOut, NoColor: true, TimeFormat: time.RFC3339}
		}
		al := &AccessLogger{
			logger:  zerolog.New(accessOut).With().Timestamp().Logger(),
			proxies: proxies,
		}
		if cfg.AccessLog.RealIPHeader != nil {
			al.realIPHeader = *cfg.AccessLog.RealIPHeader
		}
		l.accessLog = al
	}
	return l, nil
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{errorLog: zerolog.Nop()}
}

func accessEnabled(cfg *config.AccessLogConfig) bool {
	return cfg != nil && (cfg.Enabled == nil || *cfg.Enabled)
}

func toZerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// parseTrustedProxies converts string IPs and CIDRs into their parsed forms.
func parseTrustedProxies(proxyStrings []string) (trustedProxies, error) {
	var tp trustedProxies
	for _, p := range proxyStrings {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			_, ipNet, err := net.ParseCIDR(p)
			if err != nil {
				return trustedProxies{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", p, err)
			}
			tp.cidrs = append(tp.cidrs, ipNet)
			continue
		}
		ip := net.ParseIP(p)
		if ip == nil {
			return trustedProxies{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", p)
		}
		tp.ips = append(tp.ips, ip)
	}
	return tp, nil
}

func (tp trustedProxies) contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, cidr := range tp.cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	for _, t := range tp.ips {
		if t.Equal(ip) {
			return true
		}
	}
	return false
}

// realClientIP determines the client address. When headerName is set, the
// header is walked right to left and the first address not belonging to a
// trusted proxy wins. A malformed entry falls back to the direct peer.
func realClientIP(remoteAddr string, headers http.Header, headerName string, tp trustedProxies) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		peer = ip.String()
	}

	if headerName == "" {
		return peer
	}
	value := headers.Get(headerName)
	if value == "" {
		return peer
	}

	hops := strings.Split(value, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		ip := net.ParseIP(hop)
		if ip == nil {
			return peer
		}
		if !tp.contains(ip) {
			return hop
		}
	}
	return peer
}

// LogAccess writes an access log entry for a completed request.
func (al *AccessLogger) LogAccess(req *http.Request, requestID string, status int, responseBytes int64, duration time.Duration) {
	if al == nil {
		return
	}
	_, port, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		port = "0"
	}

	ev := al.logger.Log().
		Str("request_id", requestID).
		Str("remote_addr", realClientIP(req.RemoteAddr, req.Header, al.realIPHeader, al.proxies)).
		Str("remote_port", port).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", status).
		Int64("resp_bytes", responseBytes).
		Int64("duration_ms", duration.Milliseconds())
	if ua := req.UserAgent(); ua != "" {
		ev = ev.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		ev = ev.Str("referer", ref)
	}
	ev.Send()
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields []LogFields) {
	for _, f := range fields {
		if f != nil {
			ev = ev.Fields(map[string]interface{}(f))
		}
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...LogFields) { l.log(l.errorLog.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...LogFields) { l.log(l.errorLog.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...LogFields) { l.log(l.errorLog.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...LogFields) { l.log(l.errorLog.Error(), msg, fields) }

// Access records a completed request in the access log, if enabled.
func (l *Logger) Access(req *http.Request, requestID string, status int, responseBytes int64, duration time.Duration) {
	l.accessLog.LogAccess(req, requestID, status, responseBytes, duration)
}

// AccessEnabled reports whether access logging is active.
func (l *Logger) AccessEnabled() bool { return l.accessLog != nil }

// ReopenLogFiles closes and reopens every file-backed target. Called on SIGHUP.
func (l *Logger) ReopenLogFiles() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.reopen(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to reopen log file %s: %w", f.path, err)
		}
	}
	return firstErr
}

// CloseLogFiles closes any open log files.
func (l *Logger) CloseLogFiles() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close log file %s: %w", f.path, err)
		}
	}
	return firstErr
}
