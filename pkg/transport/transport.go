// Package transport dials the underlying byte-stream connection an Agent
// drives a Client over: direct TCP, TLS upgrade, and SOCKS4/SOCKS5 proxy
// dialing. HTTP/HTTPS CONNECT tunneling is deliberately not here — it is
// driven through the same Request/Response wire encoding as any other
// request, by rawclient.ProxyClient, rather than by ad-hoc buffered reads
// at the transport layer.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	netproxy "golang.org/x/net/proxy"

	"github.com/kitsuhttp/rawhttp/pkg/constants"
	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/timing"
	"github.com/kitsuhttp/rawhttp/pkg/tlsconfig"
)

// ProxyConfig names an upstream proxy: its kind and address, with optional
// credentials. Type is one of "http", "https" (both HTTP CONNECT-capable
// proxies, differing only in how the client reaches the proxy itself),
// "socks4", or "socks5".
type ProxyConfig struct {
	Type     string
	Host     string
	Port     int
	Username string
	Password string
}

func (p *ProxyConfig) addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// DefaultProxyPort returns the conventional default port for a proxy type.
func DefaultProxyPort(proxyType string) int {
	switch proxyType {
	case "http":
		return 8080
	case "https":
		return 443
	case "socks4", "socks5":
		return 1080
	default:
		return 0
	}
}

// Dialer resolves and dials raw TCP connections and performs TLS upgrades;
// it carries no connection pool or cache — the Agent owns exactly one
// cached connection at a time.
type Dialer struct {
	Resolver *net.Resolver
}

// NewDialer returns a Dialer using the system resolver.
func NewDialer() *Dialer {
	return &Dialer{Resolver: net.DefaultResolver}
}

// DialDirect resolves host and dials it directly over TCP.
func (d *Dialer) DialDirect(ctx context.Context, host string, port int, timeout time.Duration, timer *timing.Timer) (net.Conn, error) {
	timer.StartDNS()
	addrs, err := d.resolver().LookupIPAddr(ctx, host)
	timer.EndDNS()
	if err != nil {
		return nil, errors.NewDNSError(host, err)
	}
	if len(addrs) == 0 {
		return nil, errors.NewDNSError(host, fmt.Errorf("no addresses found"))
	}

	dialAddr := net.JoinHostPort(addrs[0].IP.String(), strconv.Itoa(port))
	timer.StartTCP()
	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", dialAddr)
	timer.EndTCP()
	if err != nil {
		return nil, errors.NewConnectionError(host, port, err)
	}
	return conn, nil
}

func (d *Dialer) resolver() *net.Resolver {
	if d.Resolver != nil {
		return d.Resolver
	}
	return net.DefaultResolver
}

// DialProxy connects to proxy itself: a plain TCP dial for "http"/"socks4"/
// "socks5" proxies, or a TLS dial for an "https" proxy (the proxy endpoint
// being reached over TLS; the tunnel it establishes is a separate matter).
func (d *Dialer) DialProxy(ctx context.Context, proxy *ProxyConfig, timeout time.Duration, insecureTLS bool, timer *timing.Timer) (net.Conn, error) {
	conn, err := d.DialDirect(ctx, proxy.Host, proxy.Port, timeout, timer)
	if err != nil {
		return nil, err
	}
	if proxy.Type != "https" {
		return conn, nil
	}
	cfg, err := tlsconfig.BuildConfig(tlsconfig.Params{
		Host:               proxy.Host,
		InsecureSkipVerify: insecureTLS,
		NextProtos:         []string{"http/1.1"},
	})
	if err != nil {
		return nil, errors.NewTLSError(proxy.Host, proxy.Port, err)
	}
	return d.UpgradeTLS(ctx, conn, proxy.Host, proxy.Port, cfg, timeout, timer)
}

// UpgradeTLS wraps conn in a TLS client connection and performs the
// handshake in-place, using the same file descriptor — required for a
// post-CONNECT tunnel upgrade, where no bytes may be buffered past the
// CONNECT response before TLS starts.
func (d *Dialer) UpgradeTLS(ctx context.Context, conn net.Conn, host string, port int, cfg *tls.Config, timeout time.Duration, timer *timing.Timer) (net.Conn, error) {
	if timeout <= 0 {
		timeout = constants.DefaultConnTimeout
	}
	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer.StartTLS()
	defer timer.EndTLS()

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		conn.Close()
		return nil, errors.NewTLSError(host, port, err)
	}
	return tlsConn, nil
}

// DialSOCKS4 connects to targetHost:targetPort through a SOCKS4 proxy.
// SOCKS4 is IPv4-only and resolves the target hostname locally before
// sending the request, per RFC 1928's predecessor.
func (d *Dialer) DialSOCKS4(ctx context.Context, proxy *ProxyConfig, targetHost string, targetPort int, timeout time.Duration) (net.Conn, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", targetHost)
	if err != nil || len(ips) == 0 {
		return nil, errors.NewProxyError("socks4", proxy.addr(), "resolve", err)
	}
	targetIP := ips[0].To4()
	if targetIP == nil {
		return nil, errors.NewProxyError("socks4", proxy.addr(), "resolve", fmt.Errorf("no IPv4 address for %s", targetHost))
	}

	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", proxy.addr())
	if err != nil {
		return nil, errors.NewProxyError("socks4", proxy.addr(), "dial", err)
	}

	req := []byte{0x04, 0x01, byte(targetPort >> 8), byte(targetPort & 0xFF)}
	req = append(req, targetIP...)
	if proxy.Username != "" {
		req = append(req, []byte(proxy.Username)...)
	}
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, errors.NewProxyError("socks4", proxy.addr(), "request", err)
	}

	resp := make([]byte, 8)
	if _, err := readFull(conn, resp); err != nil {
		conn.Close()
		return nil, errors.NewProxyError("socks4", proxy.addr(), "response", err)
	}
	if resp[1] != 0x5A {
		conn.Close()
		return nil, errors.NewProxyError("socks4", proxy.addr(), "connect", fmt.Errorf("request rejected, status 0x%02X", resp[1]))
	}
	return conn, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DialSOCKS5 connects to targetHost:targetPort through a SOCKS5 proxy using
// golang.org/x/net/proxy, which handles the full RFC 1928 handshake
// (auth negotiation, IPv4/IPv6/domain addressing) rather than a hand-rolled
// reimplementation.
func (d *Dialer) DialSOCKS5(ctx context.Context, proxy *ProxyConfig, targetHost string, targetPort int, timeout time.Duration) (net.Conn, error) {
	var auth *netproxy.Auth
	if proxy.Username != "" {
		auth = &netproxy.Auth{User: proxy.Username, Password: proxy.Password}
	}
	dialer, err := netproxy.SOCKS5("tcp", proxy.addr(), auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, errors.NewProxyError("socks5", proxy.addr(), "init", err)
	}

	targetAddr := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))
	type contextDialer interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	}
	if cd, ok := dialer.(contextDialer); ok {
		conn, err := cd.DialContext(ctx, "tcp", targetAddr)
		if err != nil {
			return nil, errors.NewProxyError("socks5", proxy.addr(), "connect", err)
		}
		return conn, nil
	}
	conn, err := dialer.Dial("tcp", targetAddr)
	if err != nil {
		return nil, errors.NewProxyError("socks5", proxy.addr(), "connect", err)
	}
	return conn, nil
}
