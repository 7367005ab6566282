package rawclient

import (
	"fmt"
	"net"

	"github.com/kitsuhttp/rawhttp/pkg/constants"
	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/headers"
	"github.com/kitsuhttp/rawhttp/pkg/message"
	"github.com/kitsuhttp/rawhttp/pkg/parser"
)

// ProxyClient wraps an already-open transport to an HTTP proxy and performs
// the CONNECT handshake that establishes a tunnel. Once Connect succeeds,
// ProxyClient is transparently the underlying socket for subsequent
// reads/writes — embedding net.Conn gives every method not overridden here
// (Read/Write/Close/SetDeadline/...) for free, delegated straight through.
type ProxyClient struct {
	net.Conn
	peername string
}

// NewProxyClient wraps conn, already connected to the proxy itself.
func NewProxyClient(conn net.Conn) *ProxyClient {
	return &ProxyClient{Conn: conn}
}

// Connect issues "CONNECT host:port HTTP/1.1" with a Host header of
// host:port plus any forwarded proxy headers (typically
// Proxy-Authorization), and waits for the proxy's response. The response is
// read one byte at a time to avoid over-reading into the tunnel body,
// bounded by constants.TunnelPeekLimit. Any status other than 200 is a
// refused-connection ProxyError carrying the proxy's code and phrase.
func (p *ProxyClient) Connect(host string, port int, proxyHeaders *headers.Headers) error {
	target := fmt.Sprintf("%s:%d", host, port)

	req := message.NewRequest("CONNECT", target)
	req.Headers.Add("Host", target)
	if proxyHeaders != nil {
		req.Headers.Update(proxyHeaders, true)
	}
	if err := req.WriteHead(p.Conn); err != nil {
		return err
	}

	resp, err := p.readTunnelResponse()
	if err != nil {
		return err
	}
	if resp.Code != 200 {
		return errors.NewProxyError("http", target, "connect",
			fmt.Errorf("refused: %d %s", resp.Code, resp.Phrase))
	}
	p.peername = target
	return nil
}

// readTunnelResponse reads the CONNECT response one byte at a time so no
// bytes belonging to the tunneled stream are ever buffered past the
// response's terminating blank line.
func (p *ProxyClient) readTunnelResponse() (*message.Response, error) {
	feed := message.NewResponseFeed()
	lp := parser.NewLineParser(feed)

	var resp *message.Response
	var read int

	one := make([]byte, 1)
	for resp == nil {
		if read >= constants.TunnelPeekLimit {
			return nil, errors.NewLimitError("connect-tunnel", "CONNECT response exceeded peek limit")
		}
		n, err := p.Conn.Read(one)
		if n == 1 {
			read++
			items, perr := lp.Parse(one)
			if perr != nil {
				return nil, perr
			}
			for _, it := range items {
				resp = it.(*message.Response)
			}
		}
		if resp != nil {
			break
		}
		if err != nil {
			return nil, errors.NewDataError("connect-tunnel", "connection closed while reading CONNECT response", err)
		}
	}
	return resp, nil
}

// Peername reports the tunneled endpoint's "host:port", valid once Connect
// has succeeded.
func (p *ProxyClient) Peername() string { return p.peername }
