package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/dirserve/internal/logger"
)

// jsonMarshalFunc allows swapping out json.Marshal for testing.
var jsonMarshalFunc = json.Marshal

// ErrorDetail represents the inner structure of a JSON error response.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON represents the full JSON error response body.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

type htmlMessage struct {
	Title   string
	Heading string
	Message string
}

// defaultHTMLMessages maps HTTP status codes to their default HTML messages.
var defaultHTMLMessages = map[int]htmlMessage{
	http.StatusNotFound: {
		Title:   "404 Not Found",
		Heading: "Not Found",
		Message: "The requested resource was not found on this server.",
	},
	http.StatusInternalServerError: {
		Title:   "500 Internal Server Error",
		Heading: "Internal Server Error",
		Message: "The server encountered an internal error and was unable to complete your request.",
	},
	http.StatusForbidden: {
		Title:   "403 Forbidden",
		Heading: "Forbidden",
		Message: "You do not have permission to access this resource.",
	},
	http.StatusMethodNotAllowed: {
		Title:   "405 Method Not Allowed",
		Heading: "Method Not Allowed",
		Message: "The method specified in the request is not allowed for this resource.",
	},
	http.StatusServiceUnavailable: {
		Title:   "503 Service Unavailable",
		Heading: "Service Unavailable",
		Message: "The server took too long to handle the request.",
	},
}

// PrefersJSON reports whether the most preferred media type in an Accept
// header is application/json. Ties on q-value go to the more specific type,
// then to the earlier entry. An empty header prefers HTML.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool
		order     int
	}
	var offers []offer

	for i, part := range strings.Split(acceptHeaderValue, ",") {
		part = strings.TrimSpace(part)
		mediaType := part
		q := 1.0

		if idx := strings.Index(part, ";"); idx != -1 {
			mediaType = strings.TrimSpace(part[:idx])
			for _, param := range strings.Split(part[idx+1:], ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(param, "q=") {
					continue
				}
				v, err := strconv.ParseFloat(param[2:], 64)
				if err != nil || v < 0 || v > 1 {
					v = 0
				}
				q = v
				break
			}
		}

		// RFC 7231 5.3.2: q=0 means "not acceptable".
		if q > 0 && mediaType != "" {
			offers = append(offers, offer{
				mediaType: strings.ToLower(mediaType),
				q:         q,
				specific:  !strings.HasSuffix(mediaType, "/*"),
				order:     i,
			})
		}
	}
	if len(offers) == 0 {
		return false
	}

	sort.Slice(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})
	return offers[0].mediaType == "application/json"
}

// WriteErrorResponse sends a default error page for statusCode, as JSON when
// the request's Accept header prefers it and HTML otherwise. detail is
// appended to the message and must be safe to show to clients.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, detail string, log *logger.Logger) error {
	statusText := http.StatusText(statusCode)
	if statusText == "" {
		statusText = "Error"
	}

	accept := ""
	if r != nil {
		accept = r.Header.Get("Accept")
	}

	var body []byte
	var contentType string
	jsonFailed := false
	sendJSON := PrefersJSON(accept)

	if sendJSON {
		contentType = "application/json; charset=utf-8"
		var err error
		body, err = jsonMarshalFunc(ErrorResponseJSON{
			Error: ErrorDetail{StatusCode: statusCode, Message: statusText, Detail: detail},
		})
		if err != nil {
			if log != nil {
				log.Error("Failed to marshal JSON error response, falling back to HTML.", logger.LogFields{"error": err.Error(), "status_code": statusCode})
			}
			jsonFailed = true
		}
	}

	if !sendJSON || jsonFailed {
		contentType = "text/html; charset=utf-8"
		msg, known := defaultHTMLMessages[statusCode]
		if !known {
			msg = htmlMessage{
				Title:   fmt.Sprintf("%d %s", statusCode, statusText),
				Heading: statusText,
				Message: "The server encountered an error processing your request.",
			}
		}
		message := msg.Message
		if detail != "" {
			if known {
				message += " " + html.EscapeString(detail)
			} else {
				message = html.EscapeString(detail)
			}
		}
		body = GenerateHTMLResponseBody(msg.Title, msg.Heading, message)
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(statusCode)

	if r != nil && r.Method == http.MethodHead {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		if log != nil {
			log.Error("Failed to send error response body.", logger.LogFields{"error": err.Error(), "status_code": statusCode})
		}
		return fmt.Errorf("failed to send error response body (status %d): %w", statusCode, err)
	}
	return nil
}

// GenerateHTMLResponseBody creates a simple HTML error page. message is
// inserted verbatim and must already be escaped.
func GenerateHTMLResponseBody(title, heading, message string) []byte {
	return []byte(fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`,
		html.EscapeString(title), html.EscapeString(heading), message))
}

// TestingOnlySetJSONMarshal is used by tests to mock json.Marshal behavior.
func TestingOnlySetJSONMarshal(fn func(v interface{}) ([]byte, error)) func(v interface{}) ([]byte, error) {
	original := jsonMarshalFunc
	jsonMarshalFunc = fn
	return original
}
