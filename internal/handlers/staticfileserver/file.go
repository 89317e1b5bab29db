package staticfileserver

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"example.com/dirserve/internal/logger"
)

// LastModifiedFormat is the layout of the Last-Modified header. The zone label
// is literal; the time is rendered in local time unless UTC is requested.
const LastModifiedFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// CacheValidator pairs a modification time with the header value derived from it.
type CacheValidator struct {
	ModTime time.Time
	Header  string
}

// NewCacheValidator formats modTime for Last-Modified.
func NewCacheValidator(modTime time.Time, utc bool) CacheValidator {
	t := modTime.Local()
	if utc {
		t = modTime.UTC()
	}
	return CacheValidator{ModTime: modTime, Header: t.Format(LastModifiedFormat)}
}

// Matches reports whether the client's If-Modified-Since is byte-for-byte
// the value we would send. No date parsing is done.
func (v CacheValidator) Matches(ifModifiedSince string) bool {
	return ifModifiedSince == v.Header
}

// FileResponse is the outcome of serving one regular file. Body is nil when
// NotModified is set.
type FileResponse struct {
	NotModified  bool
	Body         []byte
	ContentType  string
	LastModified string
	CacheControl string
}

// Header returns the response headers for r.
func (r *FileResponse) Header() http.Header {
	h := make(http.Header, 3)
	h.Set("Last-Modified", r.LastModified)
	h.Set("Cache-Control", r.CacheControl)
	if !r.NotModified {
		h.Set("Content-Type", r.ContentType)
	}
	return h
}

// FileResponder reads regular files and applies conditional caching.
type FileResponder struct {
	mime         *MimeTypeResolver
	cacheControl string
	utc          bool
	log          *logger.Logger
}

// NewFileResponder builds a responder. maxAge is the Cache-Control max-age in seconds.
func NewFileResponder(mimeResolver *MimeTypeResolver, maxAge int, utc bool, lg *logger.Logger) *FileResponder {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	return &FileResponder{
		mime:         mimeResolver,
		cacheControl: "public, max-age=" + strconv.Itoa(maxAge),
		utc:          utc,
		log:          lg,
	}
}

type readResult struct {
	data []byte
	err  error
}

// Respond serves path, which must already have been resolved. When
// ifModifiedSince matches the file's Last-Modified the body is not read.
// The read is abandoned when ctx is done.
func (fr *FileResponder) Respond(ctx context.Context, path string, ifModifiedSince *string) (*FileResponse, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Kind: KindFilesystem, Op: "stat", Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &Error{Kind: KindNotFound, Op: "stat", Path: path, Err: errNotServable}
	}

	validator := NewCacheValidator(info.ModTime(), fr.utc)
	resp := &FileResponse{
		LastModified: validator.Header,
		CacheControl: fr.cacheControl,
	}

	if ifModifiedSince != nil && validator.Matches(*ifModifiedSince) {
		resp.NotModified = true
		fr.log.Debug("File not modified", logger.LogFields{"path": path, "last_modified": validator.Header})
		return resp, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindFilesystem, Op: "read", Path: path, Err: err}
	}
	ch := make(chan readResult, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- readResult{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &Error{Kind: KindFilesystem, Op: "read", Path: path, Err: ctx.Err()}
	case res := <-ch:
		if res.err != nil {
			return nil, &Error{Kind: KindFilesystem, Op: "read", Path: path, Err: res.err}
		}
		resp.Body = res.data
	}
	resp.ContentType = fr.mime.GetMimeType(path)

	fr.log.Debug("Read file", logger.LogFields{
		"path":         path,
		"size":         humanize.Bytes(uint64(len(resp.Body))),
		"content_type": resp.ContentType,
	})
	return resp, nil
}
