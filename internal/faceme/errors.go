package faceme

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrFileAccess reports that a file part could not be opened. It is
	// raised before anything is sent.
	ErrFileAccess = errors.New("faceme: file access failure")

	// ErrServiceUnhealthy reports a health check body other than HealthyBody.
	ErrServiceUnhealthy = errors.New("faceme: service unavailable")

	// ErrDecode reports a response body that is not the expected JSON.
	ErrDecode = errors.New("faceme: decode failure")
)

// TransportError is returned when the exchange fails: either the service
// answered with a non-2xx status or no response was received at all.
type TransportError struct {
	Method string
	URL    string

	// StatusCode is 0 when the request failed before receiving a response.
	StatusCode int

	// Body is a copy of the error response body, possibly truncated.
	Body []byte

	// Cause is the network or context error when StatusCode is 0.
	Cause error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("faceme: ")
	if e.Method != "" {
		b.WriteString(e.Method)
		b.WriteString(" ")
	}
	if e.URL != "" {
		b.WriteString(e.URL)
		b.WriteString(": ")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "http %d", e.StatusCode)
		if t := http.StatusText(e.StatusCode); t != "" {
			b.WriteString(" ")
			b.WriteString(t)
		}
	} else {
		b.WriteString("request failed")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Cause }

// AsTransportError extracts a *TransportError from err.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsHTTPStatus reports whether err carries the given HTTP status code.
func IsHTTPStatus(err error, code int) bool {
	te, ok := AsTransportError(err)
	return ok && te.StatusCode == code
}

// ErrorKind names the class of a bridge error for logs and audit records.
// It returns "" for nil and "unknown" for errors the bridge did not classify.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrFileAccess):
		return "file_access"
	case errors.Is(err, ErrServiceUnhealthy):
		return "service_unhealthy"
	case errors.Is(err, ErrDecode):
		return "decode"
	}
	if _, ok := AsTransportError(err); ok {
		return "transport"
	}
	return "unknown"
}

func fileAccessError(path string, err error) error {
	return fmt.Errorf("%w: open %q: %v", ErrFileAccess, path, err)
}

func decodeError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDecode, what, err)
}
