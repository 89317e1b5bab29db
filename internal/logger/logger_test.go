package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/dirserve/internal/config"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// newTestLoggerConfig creates a simple config.LoggingConfig for testing purposes.
func newTestLoggerConfig(level config.LogLevel, accessFormat string, trustedProxies []string, realIPHeader *string) *config.LoggingConfig {
	if level == "" {
		level = config.LogLevelInfo
	}
	if accessFormat == "" {
		accessFormat = "json"
	}
	return &config.LoggingConfig{
		LogLevel: level,
		AccessLog: &config.AccessLogConfig{
			Enabled:        boolPtr(true),
			Format:         accessFormat,
			TrustedProxies: trustedProxies,
			RealIPHeader:   realIPHeader,
		},
		ErrorLog: &config.ErrorLogConfig{},
	}
}

// decodeLines parses each line written to buf as a JSON object.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("Log line is not valid JSON: %q: %v", line, err)
		}
		entries = append(entries, m)
	}
	return entries
}

func TestErrorLog_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     config.LogLevel
		wantCount int
	}{
		{config.LogLevelDebug, 4},
		{config.LogLevelInfo, 3},
		{config.LogLevelWarning, 2},
		{config.LogLevelError, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			lg, err := NewLoggerWithWriters(newTestLoggerConfig(tt.level, "", nil, nil), &buf, nil)
			if err != nil {
				t.Fatalf("NewLoggerWithWriters failed: %v", err)
			}
			lg.Debug("debug message", nil)
			lg.Info("info message", nil)
			lg.Warn("warn message", nil)
			lg.Error("error message", nil)

			if got := len(decodeLines(t, &buf)); got != tt.wantCount {
				t.Errorf("Expected %d entries at level %s, got %d:\n%s", tt.wantCount, tt.level, got, buf.String())
			}
		})
	}
}

func TestErrorLog_Fields(t *testing.T) {
	var buf bytes.Buffer
	lg, err := NewLoggerWithWriters(newTestLoggerConfig(config.LogLevelDebug, "", nil, nil), &buf, nil)
	if err != nil {
		t.Fatalf("NewLoggerWithWriters failed: %v", err)
	}
	lg.Error("Failed to read directory", LogFields{"path": "/srv/a", "error": errors.New("boom"), "size": 12})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e["message"] != "Failed to read directory" {
		t.Errorf("Unexpected message: %v", e["message"])
	}
	if e["level"] != "error" {
		t.Errorf("Unexpected level: %v", e["level"])
	}
	if e["path"] != "/srv/a" || e["error"] != "boom" || e["size"] != float64(12) {
		t.Errorf("Fields not carried through: %v", e)
	}
	if _, ok := e["time"]; !ok {
		t.Error("Expected a timestamp field")
	}
}

func TestAccessLog_JSON(t *testing.T) {
	var errBuf, accessBuf bytes.Buffer
	lg, err := NewLoggerWithWriters(newTestLoggerConfig("", "json", nil, nil), &errBuf, &accessBuf)
	if err != nil {
		t.Fatalf("NewLoggerWithWriters failed: %v", err)
	}
	if !lg.AccessEnabled() {
		t.Fatal("Expected access log to be enabled")
	}

	req := httptest.NewRequest(http.MethodGet, "/docs/readme.txt", nil)
	req.RemoteAddr = "192.0.2.10:54321"
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Referer", "http://example.test/")
	lg.Access(req, "req-1", http.StatusOK, 42, 1500*time.Millisecond)

	entries := decodeLines(t, &accessBuf)
	if len(entries) != 1 {
		t.Fatalf("Expected one access entry, got %d", len(entries))
	}
	e := entries[0]
	checks := map[string]interface{}{
		"request_id":  "req-1",
		"remote_addr": "192.0.2.10",
		"remote_port": "54321",
		"method":      "GET",
		"uri":         "/docs/readme.txt",
		"status":      float64(200),
		"resp_bytes":  float64(42),
		"duration_ms": float64(1500),
		"user_agent":  "test-agent",
		"referer":     "http://example.test/",
		"protocol":    "HTTP/1.1",
	}
	for k, want := range checks {
		if e[k] != want {
			t.Errorf("access field %q = %v, want %v", k, e[k], want)
		}
	}
	if errBuf.Len() != 0 {
		t.Errorf("Access entries must not go to the error log, got %q", errBuf.String())
	}
}

func TestAccessLog_TextFormat(t *testing.T) {
	var accessBuf bytes.Buffer
	lg, err := NewLoggerWithWriters(newTestLoggerConfig("", "text", nil, nil), nil, &accessBuf)
	if err != nil {
		t.Fatalf("NewLoggerWithWriters failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	lg.Access(req, "abc", http.StatusNotFound, 0, time.Millisecond)

	out := accessBuf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("Expected console output, got JSON: %q", out)
	}
	for _, want := range []string{"request_id=abc", "status=404", "uri=/x"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in text access log, got %q", want, out)
		}
	}
}

func TestAccessLog_Disabled(t *testing.T) {
	cfg := newTestLoggerConfig("", "", nil, nil)
	cfg.AccessLog.Enabled = boolPtr(false)
	var accessBuf bytes.Buffer
	lg, err := NewLoggerWithWriters(cfg, nil, &accessBuf)
	if err != nil {
		t.Fatalf("NewLoggerWithWriters failed: %v", err)
	}
	if lg.AccessEnabled() {
		t.Error("Expected access log to be disabled")
	}
	lg.Access(httptest.NewRequest(http.MethodGet, "/", nil), "id", 200, 1, time.Second)
	if accessBuf.Len() != 0 {
		t.Errorf("Disabled access log wrote %q", accessBuf.String())
	}
}

func TestNewLoggerWithWriters_InvalidProxy(t *testing.T) {
	_, err := NewLoggerWithWriters(newTestLoggerConfig("", "", []string{"10.0.0.0/99"}, nil), nil, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "trusted proxies") {
		t.Fatalf("Expected trusted proxies error, got %v", err)
	}
}

func TestNewLogger_NilConfig(t *testing.T) {
	if _, err := NewLogger(nil); err == nil {
		t.Fatal("Expected error for nil config")
	}
}

func TestRealClientIP(t *testing.T) {
	tp, err := parseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1", " "})
	if err != nil {
		t.Fatalf("parseTrustedProxies failed: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		header     string
		headerName string
		want       string
	}{
		{"no header name", "203.0.113.5:1234", "198.51.100.1", "", "203.0.113.5"},
		{"header absent", "203.0.113.5:1234", "", "X-Forwarded-For", "203.0.113.5"},
		{"single untrusted hop", "10.0.0.1:80", "198.51.100.1", "X-Forwarded-For", "198.51.100.1"},
		{"skip trusted hops", "10.0.0.1:80", "198.51.100.1, 10.1.2.3, 192.168.1.1", "X-Forwarded-For", "198.51.100.1"},
		{"rightmost untrusted wins", "10.0.0.1:80", "198.51.100.1, 198.51.100.2, 10.1.2.3", "X-Forwarded-For", "198.51.100.2"},
		{"all trusted", "10.0.0.1:80", "10.1.1.1, 192.168.1.1", "X-Forwarded-For", "10.0.0.1"},
		{"malformed hop", "10.0.0.1:80", "198.51.100.1, garbage", "X-Forwarded-For", "10.0.0.1"},
		{"empty hops skipped", "10.0.0.1:80", "198.51.100.1,,", "X-Forwarded-For", "198.51.100.1"},
		{"bare ip remote", "::1", "", "", "::1"},
		{"unparseable remote", "@unix", "", "", "@unix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("X-Forwarded-For", tt.header)
			}
			if got := realClientIP(tt.remoteAddr, h, tt.headerName, tp); got != tt.want {
				t.Errorf("realClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAccessLog_RealIPHeader(t *testing.T) {
	var accessBuf bytes.Buffer
	cfg := newTestLoggerConfig("", "json", []string{"127.0.0.1"}, strPtr("X-Real-IP"))
	lg, err := NewLoggerWithWriters(cfg, nil, &accessBuf)
	if err != nil {
		t.Fatalf("NewLoggerWithWriters failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Real-IP", "198.51.100.7")
	lg.Access(req, "id", 200, 0, 0)

	entries := decodeLines(t, &accessBuf)
	if len(entries) != 1 || entries[0]["remote_addr"] != "198.51.100.7" {
		t.Fatalf("Expected real IP from header, got %v", entries)
	}
}

func TestNewLogger_FileTargetsAndReopen(t *testing.T) {
	dir := t.TempDir()
	errPath := filepath.Join(dir, "error.log")
	accessPath := filepath.Join(dir, "access.log")

	cfg := newTestLoggerConfig(config.LogLevelInfo, "json", nil, nil)
	cfg.ErrorLog.Target = strPtr(errPath)
	cfg.AccessLog.Target = strPtr(accessPath)

	lg, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	lg.Info("before rotation", nil)

	rotated := errPath + ".1"
	if err := os.Rename(errPath, rotated); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if err := lg.ReopenLogFiles(); err != nil {
		t.Fatalf("ReopenLogFiles failed: %v", err)
	}
	lg.Info("after rotation", nil)
	lg.Access(httptest.NewRequest(http.MethodGet, "/", nil), "id", 200, 0, 0)

	if err := lg.CloseLogFiles(); err != nil {
		t.Fatalf("CloseLogFiles failed: %v", err)
	}

	old, _ := os.ReadFile(rotated)
	cur, _ := os.ReadFile(errPath)
	if !strings.Contains(string(old), "before rotation") || strings.Contains(string(old), "after rotation") {
		t.Errorf("Rotated file has unexpected content: %q", old)
	}
	if !strings.Contains(string(cur), "after rotation") {
		t.Errorf("Reopened file missing new entry: %q", cur)
	}
	access, _ := os.ReadFile(accessPath)
	if !strings.Contains(string(access), `"request_id":"id"`) {
		t.Errorf("Access log file missing entry: %q", access)
	}
}

func TestNewLogger_UnopenableFile(t *testing.T) {
	cfg := newTestLoggerConfig("", "", nil, nil)
	cfg.ErrorLog.Target = strPtr(filepath.Join(t.TempDir(), "missing-dir", "error.log"))
	if _, err := NewLogger(cfg); err == nil {
		t.Fatal("Expected error opening log file in a missing directory")
	}
}

func TestNewDiscardLogger(t *testing.T) {
	lg := NewDiscardLogger()
	lg.Error("dropped", LogFields{"k": "v"})
	lg.Access(httptest.NewRequest(http.MethodGet, "/", nil), "id", 200, 0, 0)
	if lg.AccessEnabled() {
		t.Error("Discard logger must not report access logging")
	}
	if err := lg.CloseLogFiles(); err != nil {
		t.Errorf("CloseLogFiles on discard logger: %v", err)
	}
}
