// Package rawhttp provides a low-level HTTP/1.x client engine built on raw
// sockets: incremental framing (pkg/parser), a header/request/response model
// (pkg/headers, pkg/message), transfer-decoding (pkg/decoder), and
// connection orchestration with proxying, TLS, and redirects (pkg/rawclient,
// pkg/agent).
package rawhttp

import (
	"context"

	"github.com/kitsuhttp/rawhttp/pkg/agent"
	"github.com/kitsuhttp/rawhttp/pkg/buffer"
	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/headers"
	"github.com/kitsuhttp/rawhttp/pkg/message"
	"github.com/kitsuhttp/rawhttp/pkg/timing"
)

// Version is the current version of this module.
const Version = "1.0.0"

// Re-export the types callers need for everyday use, so a program can
// depend on just the root package for the common path and reach into
// pkg/* only for advanced configuration.
type (
	// Options controls an Agent's proxying, TLS, keep-alive, and limits.
	Options = agent.Options

	// RequestOptions controls a single MakeRequest call.
	RequestOptions = agent.RequestOptions

	// ProxyConfig names an upstream proxy an Agent routes through.
	ProxyConfig = agent.ProxyConfig

	// Response is a parsed HTTP response, including the redirect chain
	// and per-phase timing metrics.
	Response = message.Response

	// ConnectionInfo describes the socket a Response was read over: peer
	// address, negotiated TLS version, and whether it was reused.
	ConnectionInfo = message.ConnectionInfo

	// Headers is the ordered, case-insensitive header multimap.
	Headers = headers.Headers

	// Buffer provides memory-then-disk body storage.
	Buffer = buffer.Buffer

	// Metrics captures DNS/TCP/TLS/TTFB/total timing for a request.
	Metrics = timing.Metrics

	// Error is a structured error carrying an ErrorType and dial context.
	Error = errors.Error
)

// Re-export error type constants for callers that want to branch on
// failure category without importing pkg/errors directly.
const (
	ErrorTypeDNS        = errors.ErrorTypeDNS
	ErrorTypeConnection = errors.ErrorTypeConnection
	ErrorTypeTLS        = errors.ErrorTypeTLS
	ErrorTypeTimeout    = errors.ErrorTypeTimeout
	ErrorTypeData       = errors.ErrorTypeData
	ErrorTypeLimit      = errors.ErrorTypeLimit
	ErrorTypeProxy      = errors.ErrorTypeProxy
	ErrorTypeProtocol   = errors.ErrorTypeProtocol
	ErrorTypeIO         = errors.ErrorTypeIO
	ErrorTypeValidation = errors.ErrorTypeValidation
)

// ParseProxyURL parses "scheme://[user:pass@]host[:port]" into a
// ProxyConfig; scheme must be http, https, socks4, or socks5.
func ParseProxyURL(proxyURL string) (*ProxyConfig, error) {
	return agent.ParseProxyURL(proxyURL)
}

// Sender is the module's entry point: an Agent that caches one connection
// per destination, follows redirects, and negotiates proxying and TLS
// per call.
type Sender struct {
	agent *agent.Agent
}

// NewSender returns a Sender configured per opts.
func NewSender(opts Options) *Sender {
	return &Sender{agent: agent.New(opts)}
}

// Do issues opts.Method against rawURL, following redirects up to the
// Sender's Options.RedirectLimit, and returns the final parsed Response.
func (s *Sender) Do(ctx context.Context, rawURL string, opts RequestOptions) (*Response, error) {
	return s.agent.MakeRequest(ctx, rawURL, opts)
}

// Get is a convenience wrapper for Do with method GET.
func (s *Sender) Get(ctx context.Context, rawURL string) (*Response, error) {
	return s.Do(ctx, rawURL, RequestOptions{Method: "GET"})
}

// Close releases the Sender's cached connection, if any.
func (s *Sender) Close() error {
	return s.agent.Close()
}

// NewConnector returns a Connector sharing the same proxy-decision and
// tunnel-then-upgrade dial path as Sender, but returning the raw connected
// socket instead of driving a request over it.
func NewConnector(opts Options) *agent.Connector {
	return agent.NewConnector(opts)
}
