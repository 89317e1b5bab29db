package staticfileserver

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a request could not be served.
type Kind int

const (
	// KindFilesystem is an I/O failure not caused by the request itself.
	KindFilesystem Kind = iota + 1
	// KindUnsafePath is a request that escapes the base directory or names a restricted pattern.
	KindUnsafePath
	// KindNotFound means the target does not exist.
	KindNotFound
	// KindServer is an internal failure unrelated to the filesystem.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindFilesystem:
		return "filesystem"
	case KindUnsafePath:
		return "unsafe_path"
	case KindNotFound:
		return "not_found"
	case KindServer:
		return "server"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// StatusCode maps a Kind onto the HTTP status sent to the client.
func (k Kind) StatusCode() int {
	switch k {
	case KindUnsafePath:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Error is the failure type returned by every stage of the pipeline.
type Error struct {
	Kind Kind
	Op   string // "resolve", "stat", "readdir", "read"
	Path string // request path for unsafe paths, filesystem path otherwise
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status for the error.
func (e *Error) StatusCode() int { return e.Kind.StatusCode() }

// KindOf extracts the Kind from err, defaulting to KindServer for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

var (
	errRestrictedPattern = errors.New("path matches a restricted pattern")
	errOutsideBase       = errors.New("path resolves outside the base directory")
	errNotServable       = errors.New("neither a regular file nor a directory")
)
