package faceme

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/example/faceme-bridge/internal/logging"
)

const testCredential = "dGVzdDp0b2tlbg=="

type sentPart struct {
	Kind        PartKind
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

type sentRequest struct {
	Method   string
	URL      string
	Header   http.Header
	Parts    []sentPart
	JSONBody []byte
}

func (s sentRequest) fieldNames() []string {
	names := make([]string, 0, len(s.Parts))
	for _, p := range s.Parts {
		names = append(names, p.FieldName)
	}
	return names
}

func (s sentRequest) part(t *testing.T, field string) sentPart {
	t.Helper()
	for _, p := range s.Parts {
		if p.FieldName == field {
			return p
		}
	}
	t.Fatalf("part %q not found in %v", field, s.fieldNames())
	return sentPart{}
}

type stubTransport struct {
	resp *Response
	err  error
	sent []sentRequest
}

func (s *stubTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	sent := sentRequest{
		Method:   req.Method,
		URL:      req.URL,
		Header:   req.Header.Clone(),
		JSONBody: req.JSONBody,
	}
	for _, p := range req.Parts {
		sp := sentPart{Kind: p.Kind, FieldName: p.FieldName, FileName: p.FileName, ContentType: p.ContentType}
		if p.Kind == FilePart {
			data, err := io.ReadAll(p.Content)
			if err != nil {
				return nil, err
			}
			sp.Data = data
		} else {
			sp.Data = p.Data
		}
		sent.Parts = append(sent.Parts, sp)
	}
	s.sent = append(s.sent, sent)
	return s.resp, s.err
}

func (s *stubTransport) last(t *testing.T) sentRequest {
	t.Helper()
	if len(s.sent) == 0 {
		t.Fatal("expected a request to be sent")
	}
	return s.sent[len(s.sent)-1]
}

type trackedFile struct {
	afero.File
	closed bool
}

func (f *trackedFile) Close() error {
	f.closed = true
	return f.File.Close()
}

type trackingFs struct {
	afero.Fs
	mu    sync.Mutex
	files []*trackedFile
}

func (fs *trackingFs) Open(name string) (afero.File, error) {
	f, err := fs.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	tf := &trackedFile{File: f}
	fs.mu.Lock()
	fs.files = append(fs.files, tf)
	fs.mu.Unlock()
	return tf, nil
}

func (fs *trackingFs) allClosed() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, f := range fs.files {
		if !f.closed {
			return false
		}
	}
	return true
}

func newTestFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/data/test1.jpg": "jpeg-one",
		"/data/test2.jpg": "jpeg-two",
		"/data/test1.ft":  "template-one",
		"/data/test2.ft":  "template-two",
	}
	for name, content := range files {
		if err := afero.WriteFile(fs, name, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return fs
}

func newTestClient(tr Transport, fs afero.Fs) *Client {
	return New(
		WithBaseURL("http://faceme.test/mp/api/v1.0"),
		WithCredential(testCredential),
		WithTransport(tr),
		WithFs(fs),
		WithLogger(zap.NewNop()),
	)
}

func jsonResponse(body string) *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
	}
}

func multipartResponse(t *testing.T, parts ...string) *Response {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for i, body := range parts {
		header := make(textproto.MIMEHeader)
		if i == 0 {
			header.Set("Content-Type", "application/json")
		} else {
			header.Set("Content-Type", "image/jpeg")
		}
		pw, err := w.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		if _, err := pw.Write([]byte(body)); err != nil {
			t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return &Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"multipart/mixed; boundary=" + w.Boundary()}},
		Body:       buf.Bytes(),
	}
}

func decodeJSONValue(t *testing.T, data []byte) any {
	t.Helper()
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("failed to decode %q: %v", data, err)
	}
	return v
}

func asJSONValue(t *testing.T, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to encode %v: %v", v, err)
	}
	return decodeJSONValue(t, data)
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New()
	cfg := c.Config()
	if cfg.BaseURL != DefaultBaseURL || cfg.Credential != DefaultCredential || cfg.Identity != DefaultIdentity {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Timeout != 0 {
		t.Fatalf("expected no default timeout, got %s", cfg.Timeout)
	}

	c = New(WithBaseURL("  "), WithCredential(""), WithIdentity("operator"))
	cfg = c.Config()
	if cfg.BaseURL != DefaultBaseURL || cfg.Credential != DefaultCredential {
		t.Fatalf("blank options must keep defaults: %+v", cfg)
	}
	if cfg.Identity != "operator" {
		t.Fatalf("unexpected identity: %s", cfg.Identity)
	}
}

func TestResolveConcatenatesPath(t *testing.T) {
	c := New(WithBaseURL("http://host:9000/api/"))
	if got := c.resolve("/health"); got != "http://host:9000/api//health" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestEveryOperationSendsAuthorizationOnce(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		resp func(t *testing.T) *Response
		call func(c *Client) error
		path string
	}{
		{"health", func(*testing.T) *Response { return jsonResponse(HealthyBody) }, func(c *Client) error { return c.HealthCheck(ctx) }, "/health"},
		{"status", func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error { _, err := c.EngineStatus(ctx); return err }, "/service/faceme/status"},
		{"enroll", func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.Enroll(ctx, "abc", "/data/test1.jpg", nil)
			return err
		}, "/records"},
		{"delete", func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error { _, err := c.DeleteEnrollment(ctx, "abc"); return err }, "/withdraw"},
		{"compare", func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.CompareImages(ctx, "/data/test1.jpg", "/data/test2.jpg", nil)
			return err
		}, "/comparison"},
		{"templates", func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.CompareTemplates(ctx, "/data/test1.ft", "/data/test2.ft", FacesInfo{})
			return err
		}, "/face/compare11"},
		{"search", func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.SearchFaces(ctx, "/data/test1.jpg", Features{}, SearchCriteria{ReturnCount: 3})
			return err
		}, "/comparison"},
		{"compare by id", func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.CompareByID(ctx, "/data/test1.jpg", SearchCriteria{ImageID: "abc"}, Features{})
			return err
		}, "/comparison"},
		{"spoofing", func(t *testing.T) *Response { return multipartResponse(t, `{}`) }, func(c *Client) error {
			_, err := c.CheckSpoofing(ctx, []string{"/data/test1.jpg"}, SpoofingDetail{})
			return err
		}, "/spoofingcheck"},
		{"spoofing v2", func(t *testing.T) *Response { return multipartResponse(t, `{}`) }, func(c *Client) error {
			_, err := c.CheckSpoofingSecondStage(ctx, []string{"/data/test1.jpg"}, SpoofingDetail{})
			return err
		}, "/spoofingcheckV2"},
		{"quality", func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.CheckQuality(ctx, "/data/test1.jpg", Features{"qualityCheck": true})
			return err
		}, "/faceimagequalitycheck"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &stubTransport{resp: tc.resp(t)}
			c := newTestClient(tr, newTestFs(t))
			if err := tc.call(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			sent := tr.last(t)
			values := sent.Header.Values("Authorization")
			if len(values) != 1 || values[0] != "Basic "+testCredential {
				t.Fatalf("unexpected authorization header: %v", values)
			}
			if want := "http://faceme.test/mp/api/v1.0" + tc.path; sent.URL != want {
				t.Fatalf("unexpected url: %s want %s", sent.URL, want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	tr := &stubTransport{resp: &Response{StatusCode: http.StatusOK, Body: []byte(HealthyBody)}}
	c := newTestClient(tr, newTestFs(t))
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy service, got %v", err)
	}
	if sent := tr.last(t); sent.Method != http.MethodGet || len(sent.Parts) != 0 || sent.JSONBody != nil {
		t.Fatalf("unexpected health request: %+v", sent)
	}

	tr.resp = &Response{StatusCode: http.StatusOK, Body: []byte("DOWN")}
	err := c.HealthCheck(context.Background())
	if !errors.Is(err, ErrServiceUnhealthy) {
		t.Fatalf("expected ErrServiceUnhealthy, got %v", err)
	}
	if op, _ := logging.OperationOf(err); op != "faceme."+OpHealthCheck {
		t.Fatalf("unexpected operation: %s", op)
	}
}

func TestNonSuccessStatusIsTransportError(t *testing.T) {
	tr := &stubTransport{resp: &Response{StatusCode: http.StatusInternalServerError, Body: []byte("not json at all")}}
	c := newTestClient(tr, newTestFs(t))

	calls := map[string]func() error{
		"status": func() error { _, err := c.EngineStatus(context.Background()); return err },
		"health": func() error { return c.HealthCheck(context.Background()) },
		"spoofing": func() error {
			_, err := c.CheckSpoofing(context.Background(), []string{"/data/test1.jpg"}, SpoofingDetail{})
			return err
		},
	}
	for name, call := range calls {
		err := call()
		te, ok := AsTransportError(err)
		if !ok {
			t.Fatalf("%s: expected TransportError, got %v", name, err)
		}
		if te.StatusCode != http.StatusInternalServerError || string(te.Body) != "not json at all" {
			t.Fatalf("%s: unexpected transport error: %+v", name, te)
		}
		if errors.Is(err, ErrDecode) || errors.Is(err, ErrServiceUnhealthy) {
			t.Fatalf("%s: body must not be decoded on failure: %v", name, err)
		}
		if !IsHTTPStatus(err, http.StatusInternalServerError) {
			t.Fatalf("%s: IsHTTPStatus mismatch", name)
		}
		if ErrorKind(err) != "transport" {
			t.Fatalf("%s: unexpected kind %s", name, ErrorKind(err))
		}
	}
}

func TestTransportFailureIsClassified(t *testing.T) {
	tr := &stubTransport{err: errors.New("connection refused")}
	c := newTestClient(tr, newTestFs(t))

	_, err := c.EngineStatus(context.Background())
	te, ok := AsTransportError(err)
	if !ok {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != 0 || te.Cause == nil {
		t.Fatalf("unexpected transport error: %+v", te)
	}
}

func TestEnrollBuildsThreeParts(t *testing.T) {
	tr := &stubTransport{resp: jsonResponse(`{"imageMetadata":{"imageID":"abc"}}`)}
	c := newTestClient(tr, newTestFs(t))

	res, err := c.Enroll(context.Background(), "abc", "/data/test1.jpg", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.last(t)
	if got := sent.fieldNames(); !reflect.DeepEqual(got, []string{"image", "imageMetadata", "features"}) {
		t.Fatalf("unexpected parts: %v", got)
	}

	image := sent.part(t, "image")
	if image.Kind != FilePart || image.FileName != "test1.jpg" || image.ContentType != "image/jpeg" || string(image.Data) != "jpeg-one" {
		t.Fatalf("unexpected image part: %+v", image)
	}
	meta := sent.part(t, "imageMetadata")
	if meta.Kind != JSONPart || meta.ContentType != "application/json" {
		t.Fatalf("unexpected metadata part: %+v", meta)
	}
	if got := decodeJSONValue(t, meta.Data); !reflect.DeepEqual(got, map[string]any{"imageID": "abc"}) {
		t.Fatalf("unexpected metadata: %v", got)
	}
	if got := decodeJSONValue(t, sent.part(t, "features").Data); !reflect.DeepEqual(got, map[string]any{"showDetail": true}) {
		t.Fatalf("unexpected default features: %v", got)
	}

	var out struct {
		ImageMetadata ImageMetadata `json:"imageMetadata"`
	}
	if err := res.Decode(&out); err != nil || out.ImageMetadata.ImageID != "abc" {
		t.Fatalf("unexpected result %v: %v", out, err)
	}
}

func TestDefaultFeaturesAreFreshPerCall(t *testing.T) {
	f := DefaultEnrollmentFeatures()
	f["showDetail"] = false
	f["extra"] = 1
	if got := DefaultEnrollmentFeatures(); !reflect.DeepEqual(got, Features{"showDetail": true}) {
		t.Fatalf("default enrollment features were aliased: %v", got)
	}

	g := DefaultComparisonFeatures()
	delete(g, "qualityCheck")
	if got := DefaultComparisonFeatures(); !reflect.DeepEqual(got, Features{"qualityCheck": false, "showDetail": true}) {
		t.Fatalf("default comparison features were aliased: %v", got)
	}
}

func TestDeleteEnrollmentSendsJSONBody(t *testing.T) {
	tr := &stubTransport{resp: jsonResponse(`{"status":0}`)}
	c := newTestClient(tr, newTestFs(t))

	if _, err := c.DeleteEnrollment(context.Background(), "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.last(t)
	if sent.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type: %s", sent.Header.Get("Content-Type"))
	}
	if sent.Header.Get("Authorization") != "Basic "+testCredential {
		t.Fatalf("auth header must be merged with content type")
	}
	if len(sent.Parts) != 0 {
		t.Fatalf("delete must not send parts")
	}
	if got := decodeJSONValue(t, sent.JSONBody); !reflect.DeepEqual(got, map[string]any{"imageID": "abc"}) {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestCompareByIDPlacesJSONBeforeImage(t *testing.T) {
	tr := &stubTransport{resp: jsonResponse(`{}`)}
	c := newTestClient(tr, newTestFs(t))

	_, err := c.CompareByID(context.Background(), "/data/test1.jpg", SearchCriteria{ImageID: "abc"}, Features{"qualityCheck": true, "showDetail": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tr.last(t).fieldNames(); !reflect.DeepEqual(got, []string{"features", "searchCriteria", "image1"}) {
		t.Fatalf("unexpected part order: %v", got)
	}
}

func TestSearchAndQualityPartOrder(t *testing.T) {
	tr := &stubTransport{resp: jsonResponse(`{}`)}
	c := newTestClient(tr, newTestFs(t))

	if _, err := c.SearchFaces(context.Background(), "/data/test1.jpg", Features{}, SearchCriteria{ReturnCount: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tr.last(t).fieldNames(); !reflect.DeepEqual(got, []string{"image1", "features", "searchCriteria"}) {
		t.Fatalf("unexpected search parts: %v", got)
	}

	if _, err := c.CheckQuality(context.Background(), "/data/test2.jpg", Features{"qualityCheck": true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tr.last(t).fieldNames(); !reflect.DeepEqual(got, []string{"image", "features"}) {
		t.Fatalf("unexpected quality parts: %v", got)
	}

	if _, err := c.CompareImages(context.Background(), "/data/test1.jpg", "/data/test2.jpg", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.last(t)
	if got := sent.fieldNames(); !reflect.DeepEqual(got, []string{"image1", "image2", "features"}) {
		t.Fatalf("unexpected comparison parts: %v", got)
	}
	if got := decodeJSONValue(t, sent.part(t, "features").Data); !reflect.DeepEqual(got, map[string]any{"qualityCheck": false, "showDetail": true}) {
		t.Fatalf("unexpected default comparison features: %v", got)
	}
}

func TestCompareTemplatesUsesOctetStream(t *testing.T) {
	tr := &stubTransport{resp: jsonResponse(`{"similarity":0.91}`)}
	c := newTestClient(tr, newTestFs(t))

	_, err := c.CompareTemplates(context.Background(), "/data/test1.ft", "/data/test2.ft", FacesInfo{Face1FeatureType: 3, Face2FeatureType: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.last(t)
	if got := sent.fieldNames(); !reflect.DeepEqual(got, []string{"face1Template", "face2Template", "facesInfo"}) {
		t.Fatalf("unexpected parts: %v", got)
	}
	for _, field := range []string{"face1Template", "face2Template"} {
		if p := sent.part(t, field); p.ContentType != "application/octet-stream" {
			t.Fatalf("%s: unexpected content type %s", field, p.ContentType)
		}
	}
	if string(sent.part(t, "face2Template").Data) != "template-two" {
		t.Fatalf("unexpected template content")
	}
}

func TestSpoofingPartsFollowInputOrder(t *testing.T) {
	tr := &stubTransport{resp: multipartResponse(t, `{"result":"ok"}`)}
	c := newTestClient(tr, newTestFs(t))

	res, err := c.CheckSpoofing(context.Background(), []string{"/data/test2.jpg", "/data/test1.jpg"}, SpoofingDetail{PrecisionLevel: "standard"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.last(t)
	if got := sent.fieldNames(); !reflect.DeepEqual(got, []string{"detail", "image1", "image2"}) {
		t.Fatalf("unexpected parts: %v", got)
	}
	if string(sent.part(t, "image1").Data) != "jpeg-two" || string(sent.part(t, "image2").Data) != "jpeg-one" {
		t.Fatalf("images must follow input order")
	}
	if !reflect.DeepEqual(res.Map(), map[string]any{"result": "ok"}) {
		t.Fatalf("unexpected result: %v", res.Value)
	}
}

func TestMultipartDecoding(t *testing.T) {
	ctx := context.Background()

	t.Run("first part only", func(t *testing.T) {
		tr := &stubTransport{resp: multipartResponse(t, `{"result":"ok"}`, "\xff\xd8binary")}
		c := newTestClient(tr, newTestFs(t))
		res, err := c.CheckSpoofingSecondStage(ctx, []string{"/data/test1.jpg"}, SpoofingDetail{Dir: "left"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Empty() || !reflect.DeepEqual(res.Map(), map[string]any{"result": "ok"}) {
			t.Fatalf("unexpected result: %v", res)
		}
	})

	t.Run("zero parts", func(t *testing.T) {
		tr := &stubTransport{resp: multipartResponse(t)}
		c := newTestClient(tr, newTestFs(t))
		res, err := c.CheckSpoofing(ctx, []string{"/data/test1.jpg"}, SpoofingDetail{})
		if err != nil {
			t.Fatalf("expected empty result, got error: %v", err)
		}
		if !res.Empty() {
			t.Fatalf("expected empty result, got %v", res)
		}
		if err := res.Decode(&map[string]any{}); !errors.Is(err, ErrNoResult) {
			t.Fatalf("expected ErrNoResult, got %v", err)
		}
	})

	t.Run("unparsable first part", func(t *testing.T) {
		tr := &stubTransport{resp: multipartResponse(t, "not json")}
		c := newTestClient(tr, newTestFs(t))
		_, err := c.CheckSpoofing(ctx, []string{"/data/test1.jpg"}, SpoofingDetail{})
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("expected ErrDecode, got %v", err)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		tr := &stubTransport{resp: jsonResponse(`{"result":"ok"}`)}
		c := newTestClient(tr, newTestFs(t))
		_, err := c.CheckSpoofing(ctx, []string{"/data/test1.jpg"}, SpoofingDetail{})
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("expected ErrDecode, got %v", err)
		}
	})
}

func TestPlainJSONDecodeFailure(t *testing.T) {
	tr := &stubTransport{resp: jsonResponse(`{"broken":`)}
	c := newTestClient(tr, newTestFs(t))

	res, err := c.EngineStatus(context.Background())
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected no partial result, got %v", res)
	}
	if ErrorKind(err) != "decode" {
		t.Fatalf("unexpected kind: %s", ErrorKind(err))
	}
}

func TestJSONPartsRoundTrip(t *testing.T) {
	ctx := context.Background()
	still := 6
	disabled := false
	features := Features{"qualityCheck": true, "showDetail": true, "nested": map[string]any{"k": []any{1.0, "two"}}}
	criteria := SearchCriteria{ImageID: "img-7", ReturnCount: 3}
	facesInfo := FacesInfo{Face1FeatureType: 3, Face1ByteOrder: "big", Face2FeatureType: 3, Face2ByteOrder: "big"}
	detail := SpoofingDetail{
		PrecisionLevel: "standard",
		CameraInfo:     "Vimicro USB2.0 PC Camera (0ac8:3410)",
		Status:         []float64{0.648, 0.593, 0.552},
		Still:          &still,
		Enable2Stage:   &disabled,
	}

	cases := []struct {
		name  string
		field string
		want  any
		resp  func(t *testing.T) *Response
		call  func(c *Client) error
	}{
		{"features", "features", features, func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.CheckQuality(ctx, "/data/test1.jpg", features)
			return err
		}},
		{"imageMetadata", "imageMetadata", map[string]any{"imageID": "round-trip"}, func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.Enroll(ctx, "round-trip", "/data/test1.jpg", features)
			return err
		}},
		{"searchCriteria", "searchCriteria", criteria, func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.SearchFaces(ctx, "/data/test1.jpg", features, criteria)
			return err
		}},
		{"facesInfo", "facesInfo", facesInfo, func(*testing.T) *Response { return jsonResponse(`{}`) }, func(c *Client) error {
			_, err := c.CompareTemplates(ctx, "/data/test1.ft", "/data/test2.ft", facesInfo)
			return err
		}},
		{"detail", "detail", detail, func(t *testing.T) *Response { return multipartResponse(t, `{}`) }, func(c *Client) error {
			_, err := c.CheckSpoofing(ctx, []string{"/data/test1.jpg"}, detail)
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &stubTransport{resp: tc.resp(t)}
			c := newTestClient(tr, newTestFs(t))
			if err := tc.call(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := decodeJSONValue(t, tr.last(t).part(t, tc.field).Data)
			if want := asJSONValue(t, tc.want); !reflect.DeepEqual(got, want) {
				t.Fatalf("round trip mismatch: got %v want %v", got, want)
			}
		})
	}

	var back SpoofingDetail
	tr := &stubTransport{resp: multipartResponse(t, `{}`)}
	if _, err := newTestClient(tr, newTestFs(t)).CheckSpoofing(ctx, nil, detail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := json.Unmarshal(tr.last(t).part(t, "detail").Data, &back); err != nil {
		t.Fatalf("failed to decode detail: %v", err)
	}
	if !reflect.DeepEqual(back, detail) {
		t.Fatalf("typed round trip mismatch: %+v vs %+v", back, detail)
	}
}

func TestMissingFileFailsBeforeTransport(t *testing.T) {
	tr := &stubTransport{resp: jsonResponse(`{}`)}
	fs := &trackingFs{Fs: newTestFs(t)}
	c := newTestClient(tr, fs)

	_, err := c.CompareImages(context.Background(), "/data/test1.jpg", "/data/missing.jpg", nil)
	if !errors.Is(err, ErrFileAccess) {
		t.Fatalf("expected ErrFileAccess, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing.jpg") {
		t.Fatalf("error should name the path: %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("transport must not be called, got %d requests", len(tr.sent))
	}
	if len(fs.files) != 1 || !fs.allClosed() {
		t.Fatalf("already opened files must be released")
	}
	if ErrorKind(err) != "file_access" {
		t.Fatalf("unexpected kind: %s", ErrorKind(err))
	}
}

func TestFilesReleasedOnEveryPath(t *testing.T) {
	responses := map[string]*Response{
		"success": jsonResponse(`{}`),
		"failure": {StatusCode: http.StatusBadGateway},
		"decode":  jsonResponse(`nope`),
	}
	for name, resp := range responses {
		tr := &stubTransport{resp: resp}
		fs := &trackingFs{Fs: newTestFs(t)}
		c := newTestClient(tr, fs)

		_, _ = c.CompareImages(context.Background(), "/data/test1.jpg", "/data/test2.jpg", nil)
		if len(fs.files) != 2 || !fs.allClosed() {
			t.Fatalf("%s: files left open", name)
		}
	}
}

func TestRequestIDFromContextIsReported(t *testing.T) {
	tr := &stubTransport{resp: &Response{StatusCode: http.StatusUnauthorized}}
	c := newTestClient(tr, newTestFs(t))

	ctx := ContextWithRequestID(context.Background(), "req-42")
	_, err := c.EngineStatus(ctx)
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.RequestID != "req-42" || opErr.Operation != "faceme."+OpEngineStatus {
		t.Fatalf("unexpected operation error: %+v", opErr)
	}
}

func TestWithFsSharesTransport(t *testing.T) {
	tr := &stubTransport{resp: jsonResponse(`{}`)}
	base := newTestClient(tr, afero.NewMemMapFs())

	uploads := afero.NewMemMapFs()
	if err := afero.WriteFile(uploads, "/upload/face.jpg", []byte("upload"), 0o644); err != nil {
		t.Fatalf("failed to write upload: %v", err)
	}
	scoped := base.WithFs(uploads)

	if _, err := scoped.CheckQuality(context.Background(), "/upload/face.jpg", Features{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(tr.last(t).part(t, "image").Data) != "upload" {
		t.Fatalf("scoped client must read from its own fs")
	}
	if _, err := base.CheckQuality(context.Background(), "/upload/face.jpg", Features{}); !errors.Is(err, ErrFileAccess) {
		t.Fatalf("base client must keep its fs, got %v", err)
	}
}
