package agent

import (
	"context"
	"net"
	"strconv"

	"github.com/kitsuhttp/rawhttp/pkg/timing"
	"github.com/kitsuhttp/rawhttp/pkg/tlsconfig"
	"github.com/kitsuhttp/rawhttp/pkg/urlsplit"
)

// Connector shares Agent's proxy-decision and tunnel-then-upgrade dial path
// but returns the raw connected socket instead of driving a request over
// it. It holds no cached connection of its own: each Connect call dials
// fresh, since the caller takes ownership of the returned socket.
type Connector struct {
	agent *Agent
}

// NewConnector returns a Connector configured per opts. Only Proxy,
// Timeout, and InsecureTLS are meaningful; Headers/Keepalive/limits don't
// apply since Connector never drives a request itself.
func NewConnector(opts Options) *Connector {
	return &Connector{agent: New(opts)}
}

// Connect dials host:port, routing through the configured proxy (HTTP
// CONNECT tunnel, SOCKS4/5, or direct) and, if ssl is true, upgrading the
// result in place to TLS. keyPEM/certPEM (or keyFile/certFile, via
// certSrc) configure a client certificate for mTLS when ssl is true.
func (c *Connector) Connect(ctx context.Context, host string, port int, ssl bool, certSrc tlsconfig.ClientCertSource) (net.Conn, error) {
	scheme := "http"
	if ssl {
		scheme = "https"
	}
	netloc := net.JoinHostPort(host, strconv.Itoa(port))
	u := urlsplit.Split{Scheme: scheme, Netloc: netloc, Host: host, Port: port, Path: "/"}

	key, _ := c.agent.route(scheme, netloc)
	timer := timing.NewTimer()
	return c.agent.dial(ctx, key, u, timer, certSrc)
}
