package faceme

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	contentTypeJPEG        = "image/jpeg"
	contentTypeOctetStream = "application/octet-stream"
	contentTypeJSON        = "application/json"
)

// PartKind tells file parts from inline JSON parts.
type PartKind int

const (
	FilePart PartKind = iota + 1
	JSONPart
)

func (k PartKind) String() string {
	switch k {
	case FilePart:
		return "file"
	case JSONPart:
		return "json"
	default:
		return fmt.Sprintf("PartKind(%d)", int(k))
	}
}

// Part is one named segment of a multipart request body.
type Part struct {
	Kind      PartKind
	FieldName string

	// FileName and Content are set for file parts. Content is an open handle
	// owned by the Request.
	FileName string
	Content  io.Reader

	// Data holds the encoded value of a JSON part.
	Data json.RawMessage

	ContentType string
}

// Request describes one outbound call. Parts keep the order in which they
// were added; the service depends on it.
type Request struct {
	Operation string
	Method    string
	URL       string
	Header    http.Header
	Parts     []Part

	// JSONBody, when set, is sent as the whole body instead of parts.
	JSONBody []byte

	closers []io.Closer
}

// FieldNames lists the part names in wire order.
func (r *Request) FieldNames() []string {
	names := make([]string, 0, len(r.Parts))
	for _, p := range r.Parts {
		names = append(names, p.FieldName)
	}
	return names
}

// Close releases every file handle opened for the request. It is safe to
// call more than once.
func (r *Request) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Request) addFile(fs afero.Fs, field, path, contentType string) error {
	f, err := fs.Open(path)
	if err != nil {
		return fileAccessError(path, err)
	}
	r.closers = append(r.closers, f)
	r.Parts = append(r.Parts, Part{
		Kind:        FilePart,
		FieldName:   field,
		FileName:    filepath.Base(path),
		Content:     f,
		ContentType: contentType,
	})
	return nil
}

func (r *Request) addJSON(field string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("faceme: encode %s: %w", field, err)
	}
	r.Parts = append(r.Parts, Part{
		Kind:        JSONPart,
		FieldName:   field,
		Data:        data,
		ContentType: contentTypeJSON,
	})
	return nil
}

func (r *Request) setJSONBody(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("faceme: encode body: %w", err)
	}
	r.JSONBody = data
	r.Header.Set("Content-Type", contentTypeJSON)
	return nil
}
