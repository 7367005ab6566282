package agent

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/transport"
)

// ProxyConfig names the upstream proxy an Agent or Connector routes
// through: its kind ("http", "https", "socks4", "socks5"), address, and
// optional credentials, plus any headers to attach to the forwarded
// request or CONNECT handshake (typically Proxy-Authorization, but callers
// may add arbitrary extras).
type ProxyConfig struct {
	Type     string
	Host     string
	Port     int
	Username string
	Password string
	Headers  map[string]string
}

func (p *ProxyConfig) netloc() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p *ProxyConfig) asTransportConfig() *transport.ProxyConfig {
	if p == nil {
		return nil
	}
	return &transport.ProxyConfig{
		Type:     p.Type,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
	}
}

// ParseProxyURL parses a proxy URL of the form
// "scheme://[user:pass@]host[:port]" into a ProxyConfig. scheme must be one
// of "http", "https", "socks4", "socks5"; a missing scheme defaults to
// "http". A missing port defaults per transport.DefaultProxyPort.
func ParseProxyURL(proxyURL string) (*ProxyConfig, error) {
	if proxyURL == "" {
		return nil, errors.NewValidationError("proxy URL cannot be empty")
	}
	if !strings.Contains(proxyURL, "://") {
		proxyURL = "http://" + proxyURL
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, errors.NewValidationError("invalid proxy URL: " + err.Error())
	}

	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return nil, errors.NewValidationError("unsupported proxy scheme: " + u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, errors.NewValidationError("proxy URL must include a host")
	}

	port := transport.DefaultProxyPort(u.Scheme)
	if p := u.Port(); p != "" {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 1 || n > 65535 {
			return nil, errors.NewValidationError("invalid proxy port: " + p)
		}
		port = n
	}

	var username, password string
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	return &ProxyConfig{
		Type:     u.Scheme,
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
	}, nil
}
