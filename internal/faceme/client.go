package faceme

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/example/faceme-bridge/internal/logging"
)

// maxErrorBody caps how much of an error response is kept on TransportError.
const maxErrorBody = 64 << 10

// Client is the bridge to one FaceMe service. It holds no mutable state and
// is safe for concurrent use when its Transport and Fs are.
type Client struct {
	cfg       Config
	transport Transport
	fs        afero.Fs
	logger    *zap.Logger
}

// New builds a Client from DefaultConfig plus opts.
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, o := range opts {
		if o != nil {
			o.apply(&cfg)
		}
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.Timeout)
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:       cfg,
		transport: transport,
		fs:        fs,
		logger:    logger.Named("faceme"),
	}
}

// Config returns the resolved configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// WithFs returns a copy of c that reads file parts from fs.
func (c *Client) WithFs(fs afero.Fs) *Client {
	clone := *c
	clone.fs = fs
	clone.cfg.Fs = fs
	return &clone
}

func (c *Client) resolve(path string) string {
	return c.cfg.BaseURL + path
}

func (c *Client) authHeader() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Basic "+c.cfg.Credential)
	return h
}

type operation struct {
	name   string
	method string
	path   string
	decode decodeMode
}

func (c *Client) newRequest(op operation) *Request {
	return &Request{
		Operation: op.name,
		Method:    op.method,
		URL:       c.resolve(op.path),
		Header:    c.authHeader(),
	}
}

// call builds, sends and decodes one operation. File handles opened by build
// are released before call returns.
func (c *Client) call(ctx context.Context, op operation, build func(*Request) error) (res *Result, err error) {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	opName := "faceme." + op.name
	opLogger := logging.WithOperation(c.logger, opName, requestID)

	req := c.newRequest(op)
	defer func() {
		if cerr := req.Close(); cerr != nil {
			opLogger.Warn("failed to release request files", zap.Error(cerr))
		}
	}()

	if build != nil {
		if err := build(req); err != nil {
			opLogger.Error("failed to build request", zap.Error(err))
			return nil, logging.NewOperationError(opName, requestID, err)
		}
	}

	opLogger.Debug("sending request",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.String("identity", c.cfg.Identity),
		zap.Strings("parts", req.FieldNames()),
	)

	start := time.Now()
	resp, err := c.exchange(ctx, req)
	if err != nil {
		opLogger.Error("faceme request failed", zap.Error(err), zap.Duration("latency", time.Since(start)))
		return nil, logging.NewOperationError(opName, requestID, err)
	}

	res, err = decodeResponse(op.decode, resp)
	if err != nil {
		opLogger.Error("failed to decode faceme response", zap.Error(err), zap.Int("status", resp.StatusCode))
		return nil, logging.NewOperationError(opName, requestID, err)
	}

	opLogger.Debug("request completed",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.Bool("empty", op.decode == decodeMultipart && res.Empty()),
	)
	return res, nil
}

// exchange sends req and turns every non-2xx reply into a *TransportError
// without looking at the body further.
func (c *Client) exchange(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		if _, ok := AsTransportError(err); ok || errors.Is(err, ErrFileAccess) {
			return nil, err
		}
		return nil, &TransportError{Method: req.Method, URL: req.URL, Cause: err}
	}
	if resp == nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL, Cause: errors.New("no response")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := resp.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &TransportError{
			Method:     req.Method,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Body:       append([]byte(nil), body...),
		}
	}
	return resp, nil
}
