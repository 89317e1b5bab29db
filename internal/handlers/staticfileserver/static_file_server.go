// Package staticfileserver serves files and directory listings confined to
// a base directory.
package staticfileserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/logger"
	"example.com/dirserve/internal/server"
)

// ResultKind is the variant of a dispatch outcome.
type ResultKind int

const (
	ResultListing ResultKind = iota
	ResultFile
	ResultNotModified
	ResultRedirect
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultListing:
		return "listing"
	case ResultFile:
		return "file"
	case ResultNotModified:
		return "not_modified"
	case ResultRedirect:
		return "redirect"
	case ResultError:
		return "error"
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// Result is what Dispatch produced for one request. For ResultError, Err
// holds the cause and Body is empty; the HTTP layer renders the page.
type Result struct {
	Kind   ResultKind
	Status int
	Header http.Header
	Body   []byte
	Err    error
}

// ResultObserver is notified of every dispatch outcome.
type ResultObserver interface {
	ObserveResult(outcome string, status int, bodyBytes int)
}

// Dispatcher routes a request path to a listing, a file or an error.
type Dispatcher struct {
	resolver  *PathResolver
	responder *FileResponder
	mode      config.RenderMode
	log       *logger.Logger
	observer  ResultObserver
}

// New builds a Dispatcher from cfg, which must have had defaults applied.
// obs may be nil.
func New(cfg *config.FilesConfig, lg *logger.Logger, obs ResultObserver) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("staticfileserver: files configuration cannot be nil")
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}

	resolver, err := NewPathResolver(cfg.BasePath, cfg.RestrictedPatterns)
	if err != nil {
		return nil, err
	}
	mimeResolver, err := NewMimeTypeResolver(cfg)
	if err != nil {
		return nil, fmt.Errorf("staticfileserver: %w", err)
	}

	lg.Info("Static file server configured", logger.LogFields{
		"base_path":           resolver.BasePath(),
		"render_mode":         string(cfg.RenderMode),
		"restricted_patterns": cfg.RestrictedPatterns,
	})

	return &Dispatcher{
		resolver:  resolver,
		responder: NewFileResponder(mimeResolver, cfg.MaxAge(), cfg.LastModifiedUTC, lg),
		mode:      cfg.RenderMode,
		log:       lg,
		observer:  obs,
	}, nil
}

// Dispatch resolves rawPath and builds the response for it. A directory
// requested without a trailing slash is redirected to the slash form. header
// supplies If-Modified-Since; it may be nil.
func (d *Dispatcher) Dispatch(ctx context.Context, rawPath string, header http.Header) *Result {
	resolved, err := d.resolver.Resolve(rawPath)
	if err != nil {
		return d.errorResult(rawPath, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		kind := KindFilesystem
		if os.IsNotExist(err) {
			kind = KindNotFound
		}
		return d.errorResult(rawPath, &Error{Kind: kind, Op: "stat", Path: resolved, Err: err})
	}

	switch {
	case info.IsDir():
		if rawPath != "" && !strings.HasSuffix(rawPath, "/") {
			// Relative links such as "../" need the slash form.
			h := make(http.Header, 1)
			h.Set("Location", hrefBase(rawPath))
			return &Result{Kind: ResultRedirect, Status: http.StatusMovedPermanently, Header: h}
		}
		entries, err := ReadDir(resolved)
		if err != nil {
			return d.errorResult(rawPath, err)
		}
		body := []byte(Render(rawPath, d.visible(rawPath, entries), d.mode))
		h := make(http.Header, 1)
		h.Set("Content-Type", "text/html; charset=utf-8")
		return &Result{Kind: ResultListing, Status: http.StatusOK, Header: h, Body: body}

	case info.Mode().IsRegular():
		var ims *string
		if vs := header.Values("If-Modified-Since"); len(vs) > 0 {
			ims = &vs[0]
		}
		fr, err := d.responder.Respond(ctx, resolved, ims)
		if err != nil {
			return d.errorResult(rawPath, err)
		}
		if fr.NotModified {
			return &Result{Kind: ResultNotModified, Status: http.StatusNotModified, Header: fr.Header()}
		}
		return &Result{Kind: ResultFile, Status: http.StatusOK, Header: fr.Header(), Body: fr.Body}

	default:
		return d.errorResult(rawPath, &Error{Kind: KindNotFound, Op: "stat", Path: resolved, Err: errNotServable})
	}
}

// visible drops entries whose request path would be rejected as unsafe,
// either restricted or a symlink leaving the base, so a listing never links
// to a page that answers 403 or shows metadata from outside the base.
func (d *Dispatcher) visible(rawPath string, entries []DirEntry) []DirEntry {
	prefix := strings.Trim(rawPath, "/")
	if prefix != "" {
		prefix += "/"
	}
	out := entries[:0]
	for _, e := range entries {
		if _, err := d.resolver.Resolve(prefix + e.Name); KindOf(err) == KindUnsafePath {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (d *Dispatcher) errorResult(rawPath string, err error) *Result {
	kind := KindOf(err)
	fields := logger.LogFields{"path": rawPath, "kind": kind.String(), "error": err.Error()}
	switch kind {
	case KindNotFound:
		d.log.Debug("Path not found", fields)
	case KindUnsafePath:
		d.log.Warn("Rejected unsafe path", fields)
	default:
		d.log.Error("Failed to serve path", fields)
	}
	return &Result{Kind: ResultError, Status: kind.StatusCode(), Err: err}
}

// ServeHTTP serves r.URL.Path relative to the base directory.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := d.Dispatch(r.Context(), strings.TrimPrefix(r.URL.Path, "/"), r.Header)
	if d.observer != nil {
		d.observer.ObserveResult(res.Kind.String(), res.Status, len(res.Body))
	}

	if res.Kind == ResultError {
		// Only a rejected path is echoed; filesystem detail stays in the log.
		detail := ""
		if res.Status == http.StatusForbidden {
			detail = "Rejected path: " + r.URL.Path
		}
		server.WriteErrorResponse(w, r, res.Status, detail, d.log)
		return
	}

	if res.Kind == ResultRedirect {
		loc := res.Header.Get("Location")
		if r.URL.RawQuery != "" {
			loc += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, loc, res.Status)
		return
	}

	h := w.Header()
	for k, v := range res.Header {
		h[k] = v
	}
	if res.Kind != ResultNotModified {
		h.Set("Content-Length", strconv.Itoa(len(res.Body)))
	}
	w.WriteHeader(res.Status)
	if r.Method == http.MethodHead || len(res.Body) == 0 {
		return
	}
	if _, err := w.Write(res.Body); err != nil {
		d.log.Debug("Failed to write response body", logger.LogFields{"path": r.URL.Path, "error": err.Error()})
	}
}
