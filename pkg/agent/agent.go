// Package agent implements the connection-cache, proxy/tunnel decision, and
// redirect-following logic on top of pkg/rawclient's single-socket Client
// and ProxyClient: Agent drives whole request/response exchanges including
// redirects, while Connector exposes the same proxy/tunnel/TLS machinery as
// a raw connected socket for callers that want to drive their own protocol
// over it.
package agent

import (
	"context"
	"encoding/base64"
	"net"
	"strings"
	"time"

	"github.com/kitsuhttp/rawhttp/pkg/constants"
	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/headers"
	"github.com/kitsuhttp/rawhttp/pkg/message"
	"github.com/kitsuhttp/rawhttp/pkg/rawclient"
	"github.com/kitsuhttp/rawhttp/pkg/timing"
	"github.com/kitsuhttp/rawhttp/pkg/tlsconfig"
	"github.com/kitsuhttp/rawhttp/pkg/transport"
	"github.com/kitsuhttp/rawhttp/pkg/urlsplit"
)

// routeKind names which of the four connection shapes a given
// (scheme, proxy) pair resolves to.
type routeKind int

const (
	routeDirect routeKind = iota // ((scheme, netloc),)
	routeProxy                   // ((proxytype, proxynetloc),) - forwarded, no tunnel
	routeTunnel                  // ((proxytype, proxynetloc), (scheme, netloc)) - CONNECT tunnel
	routeSOCKS                   // SOCKS4/5: tunnels at the TCP layer, keyed like a direct connection through the proxy
)

// connKey is the Agent's connection-cache key: comparable by value so two
// requests routing identically reuse the same cached Client.
type connKey struct {
	kind                   routeKind
	proxyType, proxyNetloc string
	scheme, netloc         string
}

// route decides, for one request's target scheme/netloc, which connKey
// applies and whether establishing it requires an HTTP CONNECT tunnel.
// Tunneling is required iff either endpoint is HTTPS: the target itself, or
// an "https"-type proxy (reached over TLS), which has no non-tunnel
// forwarding mode here.
func (a *Agent) route(scheme, netloc string) (connKey, bool) {
	p := a.opts.Proxy
	if p == nil {
		return connKey{kind: routeDirect, scheme: scheme, netloc: netloc}, false
	}
	if p.Type == "socks4" || p.Type == "socks5" {
		return connKey{kind: routeSOCKS, proxyType: p.Type, proxyNetloc: p.netloc(), scheme: scheme, netloc: netloc}, false
	}
	if scheme == "https" || p.Type == "https" {
		return connKey{kind: routeTunnel, proxyType: p.Type, proxyNetloc: p.netloc(), scheme: scheme, netloc: netloc}, true
	}
	return connKey{kind: routeProxy, proxyType: p.Type, proxyNetloc: p.netloc()}, false
}

// Options configures an Agent (or Connector, which embeds the same fields
// it needs).
type Options struct {
	// Proxy, if set, routes every request/connection through it.
	Proxy *ProxyConfig

	// Headers are agent-default headers merged under any per-call headers.
	Headers *headers.Headers

	// Timeout bounds each request's connection setup + exchange. Defaults
	// to constants.DefaultTimeout.
	Timeout time.Duration

	// Keepalive, if non-nil, forces the agent's keep-alive policy: true
	// always attempts reuse per HTTP version rules, false always closes
	// after one request. Defaults to true (version-driven).
	Keepalive *bool

	// SizeLimit and BodyLimit are forwarded to each rawclient.Client.
	SizeLimit int64
	BodyLimit int64

	// RedirectLimit bounds redirect hops MakeRequest will follow. Defaults
	// to constants.DefaultRedirectLimit.
	RedirectLimit int

	// InsecureTLS skips certificate verification for direct-HTTPS,
	// tunnel-TLS-upgrade, and HTTPS-proxy connections.
	InsecureTLS bool

	// PacketSize overrides the per-read/write chunk size used by the
	// underlying rawclient.Client; 0 uses its default.
	PacketSize int
}

// Agent tracks a single cached connection to a (scheme, netloc) pair (or
// its proxy/tunnel equivalent), reusing it across sequential requests when
// keep-alive allows, and follows redirects. It is single-threaded like the
// Client it drives — concurrent requests need separate Agent instances.
type Agent struct {
	opts   Options
	dialer *transport.Dialer

	currentKey    connKey
	currentClient *rawclient.Client
	tunneling     bool
}

// New returns an Agent configured per opts.
func New(opts Options) *Agent {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultTimeout
	}
	if opts.RedirectLimit <= 0 {
		opts.RedirectLimit = constants.DefaultRedirectLimit
	}
	return &Agent{opts: opts, dialer: transport.NewDialer()}
}

func (a *Agent) keepaliveEnabled() bool {
	if a.opts.Keepalive == nil {
		return true
	}
	return *a.opts.Keepalive
}

// Close tears down any cached connection.
func (a *Agent) Close() error {
	return a.closeCached()
}

func (a *Agent) closeCached() error {
	if a.currentClient == nil {
		return nil
	}
	err := a.currentClient.Close()
	a.currentClient = nil
	a.currentKey = connKey{}
	a.tunneling = false
	return err
}

// RequestOptions carries the per-call request parameters: method, version,
// extra headers, body, referer, and client-certificate material for mTLS.
type RequestOptions struct {
	Method   string
	Version  message.Version
	Headers  *headers.Headers
	Body     message.BodySource
	Referer  string
	KeyFile  string
	CertFile string
	KeyPEM   []byte
	CertPEM  []byte
}

// isRedirectCode reports whether code is one of the statuses MakeRequest
// follows when paired with a non-empty Location header.
func isRedirectCode(code int) bool {
	switch code {
	case 301, 302, 303, 307:
		return true
	default:
		return false
	}
}

// redirectStripHeaders names the hop-specific and entity headers dropped
// from the forwarded request on every redirect hop, plus all "If-*"
// conditional headers (checked by prefix, not listed here).
var redirectStripHeaders = map[string]bool{
	"transfer-encoding": true,
	"content-length":    true,
	"content-range":     true,
	"content-type":      true,
	"authorization":     true,
	"referer":           true,
	"expect":            true,
	"range":             true,
	"host":              true,
}

func stripRedirectHeaders(h *headers.Headers) *headers.Headers {
	out := headers.New()
	if h == nil {
		return out
	}
	h.Each(func(name, value string) {
		lower := strings.ToLower(name)
		if redirectStripHeaders[lower] || strings.HasPrefix(lower, "if-") {
			return
		}
		out.Add(name, value)
	})
	return out
}

// MakeRequest drives url to completion, following 301/302/303/307
// redirects (coercing method to GET and dropping the body on each hop) up
// to RedirectLimit hops. The returned Response carries URL (the final URL)
// and URLChain (every URL visited, oldest first).
func (a *Agent) MakeRequest(ctx context.Context, rawURL string, opts RequestOptions) (*message.Response, error) {
	method := opts.Method
	if method == "" {
		method = "GET"
	}
	version := opts.Version
	if version == (message.Version{}) {
		version = message.HTTP11
	}

	certSrc := tlsconfig.ClientCertSource{
		CertPEM:  opts.CertPEM,
		KeyPEM:   opts.KeyPEM,
		CertFile: opts.CertFile,
		KeyFile:  opts.KeyFile,
	}

	currentURL := rawURL
	referer := opts.Referer
	extraHeaders := opts.Headers
	body := opts.Body

	var visited []string
	redirectsLeft := a.opts.RedirectLimit

	for {
		resp, err := a.doRequestOnce(ctx, currentURL, method, version, extraHeaders, body, referer, certSrc)
		if err != nil {
			return nil, err
		}
		visited = append(visited, currentURL)

		location := resp.Headers.Get("Location")
		if !isRedirectCode(resp.Code) || location == "" {
			resp.URL = currentURL
			resp.URLChain = append([]string(nil), visited...)
			return resp, nil
		}

		if redirectsLeft <= 0 {
			return nil, errors.NewProtocolError("redirect limit exceeded", nil)
		}
		redirectsLeft--

		base, err := urlsplit.Parse(currentURL)
		if err != nil {
			return nil, err
		}
		next, err := urlsplit.Resolve(base, location)
		if err != nil {
			return nil, err
		}

		extraHeaders = stripRedirectHeaders(extraHeaders)
		referer = base.String()
		method = "GET"
		body = message.BodySource{}
		currentURL = next.String()
	}
}

// doRequestOnce drives exactly one request/response exchange: parse the
// URL, decide routing, reuse or establish the cached connection, build and
// send the request, and evaluate keep-alive on the response.
func (a *Agent) doRequestOnce(ctx context.Context, rawURL, method string, version message.Version, extraHeaders *headers.Headers, body message.BodySource, referer string, certSrc tlsconfig.ClientCertSource) (*message.Response, error) {
	u, err := urlsplit.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	key, tunnel := a.route(u.Scheme, u.Netloc)
	keepAliveWanted := a.keepaliveEnabled()

	req := a.buildRequest(method, version, u, key, extraHeaders, body, referer, keepAliveWanted)

	timer := timing.NewTimer()
	client, reused, err := a.ensureConnection(ctx, key, tunnel, u, timer, certSrc)
	if err != nil {
		return nil, err
	}

	resp, err := client.MakeRequest(req, timer)
	if err != nil {
		a.closeCached()
		return nil, err
	}
	resp.Metrics = timer.GetMetrics()
	resp.Connection = message.ConnectionInfo{
		PeerAddr:   client.RemoteAddr(),
		TLSVersion: client.TLSVersion(),
		Reused:     reused,
	}

	a.evaluateKeepAlive(resp)
	return resp, nil
}

// buildRequest assembles the Request: agent-default headers merged under
// per-call headers, Authorization from URL auth, Host from netloc, Referer
// if passed, Connection per keep-alive policy, and an absolute-form target
// when forwarding through a non-tunneling HTTP proxy.
func (a *Agent) buildRequest(method string, version message.Version, u urlsplit.Split, key connKey, extraHeaders *headers.Headers, body message.BodySource, referer string, keepAliveWanted bool) *message.Request {
	target := u.Path
	if key.kind == routeProxy {
		target = u.Scheme + "://" + u.Netloc + u.Path
	}

	req := message.NewRequest(method, target)
	req.Version = version
	if a.opts.Headers != nil {
		req.Headers.Update(a.opts.Headers, false)
	}
	if extraHeaders != nil {
		req.Headers.Update(extraHeaders, false)
	}

	if key.kind == routeProxy {
		// Forwarded (non-tunnel) requests carry the proxy credentials and
		// extras on the request itself; tunneled requests send them on the
		// CONNECT handshake instead.
		req.Headers.Update(proxyRequestHeaders(a.opts.Proxy), false)
	}

	if u.Auth != "" {
		req.Headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(u.Auth)))
	}
	req.Headers.Set("Host", u.Netloc)
	if referer != "" {
		req.Headers.Set("Referer", referer)
	}
	if keepAliveWanted {
		req.Headers.Set("Connection", "keep-alive")
	} else {
		req.Headers.Set("Connection", "close")
	}
	req.Body = body
	return req
}

// evaluateKeepAlive decides whether the cached connection survives this
// response: default keep-alive is version >= 1.1; Connection: close forces
// close; Connection: keep-alive forces keep; Keepalive=false on the Agent
// always closes regardless.
func (a *Agent) evaluateKeepAlive(resp *message.Response) {
	if !a.keepaliveEnabled() {
		a.closeCached()
		return
	}
	conn := strings.ToLower(resp.Headers.Get("Connection"))
	keep := resp.Version.AtLeast(message.HTTP11)
	switch {
	case strings.Contains(conn, "close"):
		keep = false
	case strings.Contains(conn, "keep-alive"):
		keep = true
	}
	if !keep {
		a.closeCached()
	}
}

// ensureConnection reuses the cached Client if key matches what's already
// connected; otherwise it closes any stale cached connection and dials
// fresh. The returned bool reports whether the cached connection was reused
// rather than freshly dialed.
func (a *Agent) ensureConnection(ctx context.Context, key connKey, tunnel bool, u urlsplit.Split, timer *timing.Timer, certSrc tlsconfig.ClientCertSource) (*rawclient.Client, bool, error) {
	if a.currentClient != nil && a.currentKey == key {
		return a.currentClient, true, nil
	}
	a.closeCached()

	conn, err := a.dial(ctx, key, u, timer, certSrc)
	if err != nil {
		return nil, false, err
	}

	client := rawclient.New(conn, rawclient.Options{
		SizeLimit:  a.opts.SizeLimit,
		BodyLimit:  a.opts.BodyLimit,
		PacketSize: a.opts.PacketSize,
		Timeout:    a.opts.Timeout,
	})
	a.currentClient = client
	a.currentKey = key
	a.tunneling = tunnel
	return client, false, nil
}

// dial establishes the connected (possibly tunneled, possibly TLS-wrapped)
// socket for key, shared by Agent.ensureConnection and Connector.Connect.
func (a *Agent) dial(ctx context.Context, key connKey, u urlsplit.Split, timer *timing.Timer, certSrc tlsconfig.ClientCertSource) (net.Conn, error) {
	switch key.kind {
	case routeDirect:
		conn, err := a.dialer.DialDirect(ctx, u.Host, u.Port, a.opts.Timeout, timer)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "https" {
			return a.upgradeTLS(ctx, conn, u.Host, u.Port, certSrc, timer)
		}
		return conn, nil

	case routeProxy:
		p := a.opts.Proxy
		return a.dialer.DialProxy(ctx, p.asTransportConfig(), a.opts.Timeout, a.opts.InsecureTLS, timer)

	case routeTunnel:
		p := a.opts.Proxy
		conn, err := a.dialer.DialProxy(ctx, p.asTransportConfig(), a.opts.Timeout, a.opts.InsecureTLS, timer)
		if err != nil {
			return nil, err
		}
		pc := rawclient.NewProxyClient(conn)
		if err := pc.Connect(u.Host, u.Port, proxyRequestHeaders(p)); err != nil {
			conn.Close()
			return nil, err
		}
		if u.Scheme == "https" {
			return a.upgradeTLS(ctx, pc, u.Host, u.Port, certSrc, timer)
		}
		return pc, nil

	case routeSOCKS:
		p := a.opts.Proxy
		var conn net.Conn
		var err error
		if p.Type == "socks4" {
			conn, err = a.dialer.DialSOCKS4(ctx, p.asTransportConfig(), u.Host, u.Port, a.opts.Timeout)
		} else {
			conn, err = a.dialer.DialSOCKS5(ctx, p.asTransportConfig(), u.Host, u.Port, a.opts.Timeout)
		}
		if err != nil {
			return nil, err
		}
		if u.Scheme == "https" {
			return a.upgradeTLS(ctx, conn, u.Host, u.Port, certSrc, timer)
		}
		return conn, nil

	default:
		return nil, errors.NewProtocolError("unsupported route kind", nil)
	}
}

// upgradeTLS wraps conn (possibly a *rawclient.ProxyClient mid-tunnel) in a
// TLS client connection using the same underlying file descriptor, per the
// design note that no bytes may be buffered past the CONNECT response
// before the handshake starts.
func (a *Agent) upgradeTLS(ctx context.Context, conn net.Conn, host string, port int, certSrc tlsconfig.ClientCertSource, timer *timing.Timer) (net.Conn, error) {
	cfg, err := tlsconfig.BuildConfig(tlsconfig.Params{
		Host:               host,
		InsecureSkipVerify: a.opts.InsecureTLS,
		ClientCert:         certSrc,
		NextProtos:         []string{"http/1.1"},
	})
	if err != nil {
		return nil, errors.NewTLSError(host, port, err)
	}
	return a.dialer.UpgradeTLS(ctx, conn, host, port, cfg, a.opts.Timeout, timer)
}

// proxyRequestHeaders builds the headers sent to the proxy (on the CONNECT
// handshake for tunneled routes, on the request itself for forwarded ones):
// any caller-supplied proxy headers plus a Proxy-Authorization derived from
// the proxy's credentials, if set.
func proxyRequestHeaders(p *ProxyConfig) *headers.Headers {
	h := headers.New()
	for k, v := range p.Headers {
		h.Add(k, v)
	}
	if p.Username != "" {
		auth := p.Username + ":" + p.Password
		h.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}
	return h
}
