package faceme

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

// HealthyBody is the exact body of a healthy /health reply.
const HealthyBody = "FACEME IS OK"

// ErrNoResult is returned by Result.Decode when the service sent nothing.
var ErrNoResult = errors.New("faceme: no result")

// Result is a decoded JSON reply. An empty Result (see Empty) means the
// service answered successfully without any part to decode.
type Result struct {
	// Raw is the JSON text as received.
	Raw json.RawMessage
	// Value is Raw decoded into maps, slices and scalars.
	Value any
}

// Empty reports whether the service returned no result at all.
func (r *Result) Empty() bool {
	return r == nil || len(r.Raw) == 0
}

// Decode unmarshals the raw JSON into v.
func (r *Result) Decode(v any) error {
	if r.Empty() {
		return ErrNoResult
	}
	return json.Unmarshal(r.Raw, v)
}

// Map returns Value as a JSON object, or nil when it is not one.
func (r *Result) Map() map[string]any {
	if r.Empty() {
		return nil
	}
	m, _ := r.Value.(map[string]any)
	return m
}

func (r *Result) String() string {
	if r.Empty() {
		return "<no result>"
	}
	return string(r.Raw)
}

func parseResult(data []byte) (*Result, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &Result{Raw: json.RawMessage(bytes.Clone(data)), Value: v}, nil
}

type decodeMode int

const (
	decodeHealth decodeMode = iota
	decodeJSON
	decodeMultipart
)

func decodeResponse(mode decodeMode, resp *Response) (*Result, error) {
	switch mode {
	case decodeHealth:
		if body := string(resp.Body); body != HealthyBody {
			return nil, fmt.Errorf("%w: health check returned %q", ErrServiceUnhealthy, body)
		}
		return nil, nil
	case decodeJSON:
		res, err := parseResult(resp.Body)
		if err != nil {
			return nil, decodeError("json body", err)
		}
		return res, nil
	case decodeMultipart:
		return decodeFirstPart(resp)
	default:
		return nil, fmt.Errorf("faceme: unknown decode mode %d", mode)
	}
}

// decodeFirstPart parses the first part of a multipart reply as JSON text.
// Remaining parts are ignored.
func decodeFirstPart(resp *Response) (*Result, error) {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, decodeError("multipart content type", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, decodeError("multipart content type", fmt.Errorf("got %q", mediaType))
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, decodeError("multipart content type", errors.New("missing boundary"))
	}

	mr := multipart.NewReader(bytes.NewReader(resp.Body), boundary)
	part, err := mr.NextPart()
	if errors.Is(err, io.EOF) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, decodeError("multipart body", err)
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		return nil, decodeError("multipart part", err)
	}
	res, err := parseResult(data)
	if err != nil {
		return nil, decodeError("multipart part", err)
	}
	return res, nil
}
