package faceme

import (
	"net/http"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL points at a local developer instance of the service.
	DefaultBaseURL = "http://localhost:8080/mp/api/v1.0"
	// DefaultCredential is the access code shipped with the developer instance.
	DefaultCredential = "Y3liZXJsaW5rOjM3NzMzOWFhMTA3YWU1OGFiZThlM2M3ZmQzMDIxOGI2"
	// DefaultIdentity is the account the default credential belongs to.
	DefaultIdentity = "cyberlink"
)

// Config is the resolved, read-only configuration of a Client.
type Config struct {
	// BaseURL is prefixed verbatim to every operation path.
	BaseURL string

	// Credential is sent as "Authorization: Basic <Credential>". It is an
	// opaque pre-encoded token and is never parsed.
	Credential string

	// Identity names the account the credential belongs to. It is only used
	// to annotate logs.
	Identity string

	// Timeout bounds a whole exchange. Zero leaves it to the transport.
	Timeout time.Duration

	// Transport sends requests. If nil, an HTTPTransport is built from Timeout.
	Transport Transport

	// Fs is where file parts are read from. If nil, the OS filesystem is used.
	Fs afero.Fs

	// Logger receives per-call diagnostics. If nil, logging is disabled.
	Logger *zap.Logger
}

// DefaultConfig returns the configuration used when no option is given.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Credential: DefaultCredential,
		Identity:   DefaultIdentity,
	}
}

// Option customizes a Config.
type Option interface{ apply(*Config) }

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// WithBaseURL overrides the service address. Blank values keep the default.
func WithBaseURL(baseURL string) Option {
	return optionFunc(func(c *Config) {
		if v := strings.TrimSpace(baseURL); v != "" {
			c.BaseURL = v
		}
	})
}

// WithCredential overrides the access token. Blank values keep the default.
func WithCredential(credential string) Option {
	return optionFunc(func(c *Config) {
		if v := strings.TrimSpace(credential); v != "" {
			c.Credential = v
		}
	})
}

// WithIdentity overrides the account name. Blank values keep the default.
func WithIdentity(identity string) Option {
	return optionFunc(func(c *Config) {
		if v := strings.TrimSpace(identity); v != "" {
			c.Identity = v
		}
	})
}

// WithTimeout bounds each exchange of the default HTTP transport. Zero leaves it unbounded.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.Timeout = d })
}

// WithTransport replaces the HTTP transport, typically with a test double.
func WithTransport(t Transport) Option {
	return optionFunc(func(c *Config) { c.Transport = t })
}

// WithHTTPClient sends requests through hc instead of a client built by the bridge.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Config) { c.Transport = &HTTPTransport{Client: hc} })
}

// WithFs sets the filesystem that image and template paths are opened from.
func WithFs(fs afero.Fs) Option {
	return optionFunc(func(c *Config) { c.Fs = fs })
}

// WithLogger sets the logger; the client logs under the "faceme" name.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(c *Config) { c.Logger = logger })
}
