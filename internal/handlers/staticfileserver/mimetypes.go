package staticfileserver

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"example.com/dirserve/internal/config"
)

// builtinMimeTypes covers extensions the platform mime database is often
// missing. mime.TypeByExtension is consulted first.
var builtinMimeTypes = map[string]string{
	".apng":  "image/apng",
	".avif":  "image/avif",
	".bz2":   "application/x-bzip2",
	".csv":   "text/csv; charset=utf-8",
	".epub":  "application/epub+zip",
	".gz":    "application/gzip",
	".ico":   "image/vnd.microsoft.icon",
	".ics":   "text/calendar; charset=utf-8",
	".md":    "text/markdown; charset=utf-8",
	".mjs":   "text/javascript; charset=utf-8",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".ogg":   "audio/ogg",
	".opus":  "audio/opus",
	".otf":   "font/otf",
	".rar":   "application/vnd.rar",
	".tar":   "application/x-tar",
	".toml":  "application/toml",
	".ttf":   "font/ttf",
	".wasm":  "application/wasm",
	".weba":  "audio/webm",
	".webm":  "video/webm",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".yaml":  "application/yaml",
	".yml":   "application/yaml",
	".zip":   "application/zip",
	".7z":    "application/x-7z-compressed",
}

const defaultOctetStreamMimeType = "application/octet-stream"

// MimeTypeResolver maps file paths onto Content-Type values.
type MimeTypeResolver struct {
	custom map[string]string
}

// NewMimeTypeResolver merges the inline mime_types map with the mime_types_path
// file; entries from the file win. A nil cfg yields a resolver with no custom types.
func NewMimeTypeResolver(cfg *config.FilesConfig) (*MimeTypeResolver, error) {
	r := &MimeTypeResolver{custom: make(map[string]string)}
	if cfg == nil {
		return r, nil
	}

	for ext, mt := range cfg.MimeTypes {
		r.custom[strings.ToLower(ext)] = mt
	}

	if cfg.MimeTypesPath != nil && *cfg.MimeTypesPath != "" {
		fromFile, err := LoadCustomMimeTypesFromFile(*cfg.MimeTypesPath)
		if err != nil {
			return nil, &config.ConfigError{
				FilePath: *cfg.MimeTypesPath,
				Field:    "files.mime_types_path",
				Message:  "failed to load custom MIME types",
				Err:      err,
			}
		}
		for ext, mt := range fromFile {
			r.custom[ext] = mt
		}
	}
	return r, nil
}

// GetMimeType returns the content type for filePath, falling back to
// application/octet-stream.
func (r *MimeTypeResolver) GetMimeType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return defaultOctetStreamMimeType
	}
	if r != nil {
		if mt, ok := r.custom[ext]; ok {
			return mt
		}
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	if mt, ok := builtinMimeTypes[ext]; ok {
		return mt
	}
	return defaultOctetStreamMimeType
}

// LoadCustomMimeTypesFromFile reads a JSON object of extension -> type.
// Extensions must start with '.', types must be non-empty. Keys are lowercased.
func LoadCustomMimeTypesFromFile(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIME types file %q: %w", filePath, err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from MIME types file %q: %w", filePath, err)
	}

	out := make(map[string]string, len(parsed))
	for ext, mt := range parsed {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension %q in MIME types file %q: must start with a '.'", ext, filePath)
		}
		if mt == "" {
			return nil, fmt.Errorf("empty MIME type for extension %q in MIME types file %q", ext, filePath)
		}
		out[strings.ToLower(ext)] = mt
	}
	return out, nil
}
