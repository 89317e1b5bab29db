package staticfileserver_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/dirserve/internal/config"
	staticfileserver "example.com/dirserve/internal/handlers/staticfileserver"
)

func writeMimeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "mime.json")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write mime file: %v", err)
	}
	return p
}

func TestNewMimeTypeResolver(t *testing.T) {
	p := writeMimeFile(t, `{".foo": "application/x-foo-file", ".BAR": "application/x-bar"}`)
	cfg := &config.FilesConfig{
		MimeTypes: map[string]string{
			".foo": "application/x-foo-inline",
			".Baz": "application/x-baz",
		},
		MimeTypesPath: &p,
	}
	r, err := staticfileserver.NewMimeTypeResolver(cfg)
	if err != nil {
		t.Fatalf("NewMimeTypeResolver() error = %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"a.foo", "application/x-foo-file"},
		{"dir/A.BAR", "application/x-bar"},
		{"x.baz", "application/x-baz"},
		{"index.html", "text/html; charset=utf-8"},
		{"no-extension", "application/octet-stream"},
		{"unknown.zzqx", "application/octet-stream"},
	}
	for _, tc := range tests {
		if got := r.GetMimeType(tc.path); got != tc.want {
			t.Errorf("GetMimeType(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestNewMimeTypeResolverNilConfig(t *testing.T) {
	r, err := staticfileserver.NewMimeTypeResolver(nil)
	if err != nil {
		t.Fatalf("NewMimeTypeResolver(nil) error = %v", err)
	}
	if got := r.GetMimeType("a.png"); got != "image/png" {
		t.Errorf("GetMimeType(a.png) = %q, want image/png", got)
	}
}

func TestNewMimeTypeResolverBadFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	_, err := staticfileserver.NewMimeTypeResolver(&config.FilesConfig{MimeTypesPath: &missing})
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.ConfigError, got %T (%v)", err, err)
	}
	if cfgErr.Field != "files.mime_types_path" {
		t.Errorf("Field = %q, want files.mime_types_path", cfgErr.Field)
	}
}

func TestLoadCustomMimeTypesFromFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
		want    map[string]string
	}{
		{name: "valid", content: `{".MD": "text/markdown"}`, want: map[string]string{".md": "text/markdown"}},
		{name: "empty object", content: `{}`, want: map[string]string{}},
		{name: "missing dot", content: `{"md": "text/markdown"}`, wantErr: "must start with a '.'"},
		{name: "empty type", content: `{".md": ""}`, wantErr: "empty MIME type"},
		{name: "invalid json", content: `{".md": `, wantErr: "failed to parse JSON"},
		{name: "empty file", content: ``, wantErr: "failed to parse JSON"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := staticfileserver.LoadCustomMimeTypesFromFile(writeMimeFile(t, tc.content))
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("got[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}

	if _, err := staticfileserver.LoadCustomMimeTypesFromFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
