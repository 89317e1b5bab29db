package staticfileserver

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"syscall"
)

// PathResolver maps untrusted request paths onto filesystem paths confined
// to a base directory.
type PathResolver struct {
	basePath      string
	canonicalBase string
	restricted    []string
}

// NewPathResolver canonicalizes basePath once; the base must exist.
func NewPathResolver(basePath string, restrictedPatterns []string) (*PathResolver, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("staticfileserver: cannot make base path absolute: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("staticfileserver: cannot canonicalize base path %s: %w", abs, err)
	}
	return &PathResolver{
		basePath:      abs,
		canonicalBase: canonical,
		restricted:    append([]string(nil), restrictedPatterns...),
	}, nil
}

// BasePath returns the configured (non-canonical) base directory.
func (r *PathResolver) BasePath() string { return r.basePath }

// Resolve validates requestPath and returns the base joined with it.
//
// Restricted patterns are checked before the filesystem is touched so that
// forbidden names never leak existence information. Containment is checked
// on the canonical form, which defeats ".." and symlink escapes; the returned
// path is the plain join so listings keep showing the requested segments.
func (r *PathResolver) Resolve(requestPath string) (string, error) {
	if r.IsRestricted(requestPath) {
		return "", &Error{Kind: KindUnsafePath, Op: "resolve", Path: requestPath, Err: errRestrictedPattern}
	}

	candidate := r.join(requestPath)
	canonical, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return "", &Error{Kind: KindNotFound, Op: "resolve", Path: candidate, Err: err}
		}
		return "", &Error{Kind: KindFilesystem, Op: "resolve", Path: candidate, Err: err}
	}

	if !within(r.canonicalBase, canonical) {
		return "", &Error{Kind: KindUnsafePath, Op: "resolve", Path: requestPath, Err: errOutsideBase}
	}
	return candidate, nil
}

// IsRestricted reports whether requestPath contains any restricted pattern.
func (r *PathResolver) IsRestricted(requestPath string) bool {
	for _, p := range r.restricted {
		if strings.Contains(requestPath, p) {
			return true
		}
	}
	return false
}

// join appends the request segments to the base without lexical cleaning;
// ".." segments are left for canonicalization to interpret.
func (r *PathResolver) join(requestPath string) string {
	rel := strings.TrimLeft(requestPath, "/")
	if rel == "" {
		return r.basePath
	}
	sep := string(filepath.Separator)
	return strings.TrimSuffix(r.basePath, sep) + sep + filepath.FromSlash(rel)
}

// within reports whether p is base or a descendant of it. Both must be clean.
func within(base, p string) bool {
	if p == base {
		return true
	}
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
