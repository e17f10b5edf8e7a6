package faceme

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Response is what a Transport hands back: the status, the headers and the
// fully read body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs a single exchange with the service.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport sends requests with net/http.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport whose client gives up after timeout.
// Zero means no client-side limit.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

// Send encodes req, performs the call and reads the response body. File
// parts are streamed to the server as they are read.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	body, contentType, wait := encodeBody(req)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		_ = wait(errAbandoned)
		return nil, &TransportError{Method: req.Method, URL: req.URL, Cause: err}
	}
	httpReq.Header = req.Header.Clone()
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	hc := t.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		if encErr := wait(errAbandoned); errors.Is(encErr, ErrFileAccess) {
			return nil, encErr
		}
		return nil, &TransportError{Method: req.Method, URL: req.URL, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	encErr := wait(errAbandoned)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL, StatusCode: resp.StatusCode, Cause: err}
	}
	if errors.Is(encErr, ErrFileAccess) {
		return nil, encErr
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// errAbandoned stops a multipart writer whose reader is gone.
var errAbandoned = errors.New("faceme: request body abandoned")

// encodeBody returns the request body and its content type. wait stops any
// background encoder, failing its pending writes with cause, and returns the
// encoder's own error.
func encodeBody(req *Request) (body io.Reader, contentType string, wait func(cause error) error) {
	switch {
	case len(req.Parts) > 0:
		return encodeMultipart(req.Parts)
	case req.JSONBody != nil:
		return bytes.NewReader(req.JSONBody), "", noWait
	default:
		return http.NoBody, "", noWait
	}
}

func noWait(error) error { return nil }

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart writes parts in order into a pipe from a goroutine, so
// file content is never buffered whole.
func encodeMultipart(parts []Part) (io.Reader, string, func(error) error) {
	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	done := make(chan error, 1)

	go func() {
		err := writeParts(w, parts)
		if err == nil {
			err = w.Close()
		}
		pw.CloseWithError(err)
		done <- err
	}()

	wait := func(cause error) error {
		_ = pr.CloseWithError(cause)
		err := <-done
		if errors.Is(err, cause) || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return err
	}
	return pr, w.FormDataContentType(), wait
}

func writeParts(w *multipart.Writer, parts []Part) error {
	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		disposition := fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(p.FieldName))
		if p.Kind == FilePart {
			disposition += fmt.Sprintf(`; filename="%s"`, quoteEscaper.Replace(p.FileName))
		}
		header.Set("Content-Disposition", disposition)
		if p.ContentType != "" {
			header.Set("Content-Type", p.ContentType)
		}

		pw, err := w.CreatePart(header)
		if err != nil {
			return fmt.Errorf("faceme: create part %s: %w", p.FieldName, err)
		}
		switch p.Kind {
		case FilePart:
			if p.Content == nil {
				return fmt.Errorf("%w: part %s has no content", ErrFileAccess, p.FieldName)
			}
			if err := copyFile(pw, p); err != nil {
				return err
			}
		case JSONPart:
			if _, err := pw.Write(p.Data); err != nil {
				return fmt.Errorf("faceme: write part %s: %w", p.FieldName, err)
			}
		}
	}
	return nil
}

// copyFile streams a file part and tells read failures apart from a
// reader that went away.
func copyFile(dst io.Writer, p Part) error {
	buf := make([]byte, 32<<10)
	for {
		n, rerr := p.Content.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("%w: read %q: %v", ErrFileAccess, p.FileName, rerr)
		}
	}
}
