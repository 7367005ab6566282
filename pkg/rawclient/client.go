// Package rawclient drives one request/response exchange at a time over an
// already-connected byte-stream transport (Client), and performs the HTTP
// CONNECT handshake used to establish a tunnel through a proxy (ProxyClient).
package rawclient

import (
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/kitsuhttp/rawhttp/pkg/buffer"
	"github.com/kitsuhttp/rawhttp/pkg/constants"
	"github.com/kitsuhttp/rawhttp/pkg/decoder"
	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/message"
	"github.com/kitsuhttp/rawhttp/pkg/parser"
	"github.com/kitsuhttp/rawhttp/pkg/timing"
	"github.com/kitsuhttp/rawhttp/pkg/tlsconfig"
)

// Options configures a Client's limits and I/O chunk size.
type Options struct {
	// SizeLimit bounds total response bytes (headers + body) this Client
	// will accept per request; 0 means unbounded.
	SizeLimit int64
	// BodyLimit bounds decoded body bytes; 0 means unbounded.
	BodyLimit int64
	// PacketSize is the chunk size used both for streaming a request body
	// and for reads off the transport; defaults to constants.DefaultPacketSize.
	PacketSize int
	// Timeout bounds the whole request/response exchange.
	Timeout time.Duration
}

func (o Options) packetSize() int {
	if o.PacketSize > 0 {
		return o.PacketSize
	}
	return constants.DefaultPacketSize
}

// Client drives any number of sequential requests over one connected
// transport, as long as the peer leaves the connection open. It is
// single-threaded: only one makeRequest may be in flight at a time, and it
// carries no internal lock (see the concurrency model this mirrors in
// agent.Agent).
type Client struct {
	conn     net.Conn
	opts     Options
	leftover []byte // bytes read past the previous response, for the next one
}

// New wraps conn for sequential request/response exchanges.
func New(conn net.Conn, opts Options) *Client {
	return &Client{conn: conn, opts: opts}
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address of the underlying transport.
func (c *Client) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// TLSVersion returns the negotiated TLS version name, or "" if the
// underlying transport isn't a TLS connection.
func (c *Client) TLSVersion() string {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return ""
	}
	return tlsconfig.GetVersionName(tc.ConnectionState().Version)
}

// MakeRequest serialises req, sends it, and reads back a complete Response
// (headers fully parsed, body fully decoded into resp.Body). On any error
// the socket is left in an undefined state; the caller (normally an Agent)
// is expected to close it.
func (c *Client) MakeRequest(req *message.Request, timer *timing.Timer) (*message.Response, error) {
	if c.opts.Timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.opts.Timeout))
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := c.sendRequest(req); err != nil {
		return nil, err
	}

	timer.StartTTFB()
	resp, rawCount, err := c.readResponseHead(timer)
	if err != nil {
		return nil, err
	}

	chain, err := decoder.FromResponse(req.Method, resp)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		resp.Body = nil
		if c.opts.SizeLimit > 0 && rawCount > c.opts.SizeLimit {
			return nil, errors.NewLimitError("makeRequest", "response size exceeds sizelimit")
		}
		return resp, nil
	}

	body, bodyRaw, err := c.readBody(chain, resp)
	if err != nil {
		return nil, err
	}
	rawCount += bodyRaw

	effective := rawCount - int64(len(c.leftover))
	if c.opts.SizeLimit > 0 && effective > c.opts.SizeLimit {
		return nil, errors.NewLimitError("makeRequest", "response size exceeds sizelimit")
	}

	resp.Body = body
	return resp, nil
}

func (c *Client) sendRequest(req *message.Request) error {
	if err := req.WriteHead(c.conn); err != nil {
		return err
	}
	if req.Body.Empty() {
		return nil
	}
	if req.Body.Bytes != nil {
		if _, err := c.conn.Write(req.Body.Bytes); err != nil {
			return errors.NewIOError("writing request body", err)
		}
		return nil
	}
	buf := make([]byte, c.opts.packetSize())
	for {
		n, rerr := req.Body.Reader.Read(buf)
		if n > 0 {
			if _, werr := c.conn.Write(buf[:n]); werr != nil {
				return errors.NewIOError("writing request body", werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return errors.NewIOError("reading request body source", rerr)
		}
	}
}

// readResponseHead feeds socket reads (starting with any leftover from the
// previous request) into a Response parser until one response is produced,
// returning it plus the raw bytes consumed by the header block itself. Bytes
// read past the header block move to c.leftover and are not counted here —
// readBody re-counts them when it consumes them, so each raw byte is charged
// against SizeLimit exactly once.
func (c *Client) readResponseHead(timer *timing.Timer) (*message.Response, int64, error) {
	feed := message.NewResponseFeed()
	lp := parser.NewLineParser(feed)

	var rawCount int64
	var resp *message.Response

	feedChunk := func(data []byte) error {
		items, err := lp.Parse(data)
		if err != nil {
			return err
		}
		for _, it := range items {
			resp = it.(*message.Response)
		}
		return nil
	}

	if len(c.leftover) > 0 {
		// carried-over bytes arrived before this request was even sent
		timer.EndTTFB()
		data := c.leftover
		c.leftover = nil
		rawCount += int64(len(data))
		if err := feedChunk(data); err != nil {
			return nil, 0, err
		}
	}

	buf := make([]byte, c.opts.packetSize())
	for resp == nil {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if rawCount == 0 {
				timer.EndTTFB()
			}
			rawCount += int64(n)
			if ferr := feedChunk(buf[:n]); ferr != nil {
				return nil, 0, ferr
			}
		}
		if resp == nil && rawCount > constants.MaxHeaderBytes {
			return nil, 0, errors.NewDataError("read-response-head", "header block exceeds maximum size", nil)
		}
		if resp != nil {
			break
		}
		if err != nil {
			if errTimeout(err) {
				return nil, 0, errors.NewTimeoutError("read-response-head", c.opts.Timeout)
			}
			return nil, 0, errors.NewDataError("read-response-head", "connection closed while reading response headers", err)
		}
	}

	headLeftover := lp.Clear()
	c.leftover = headLeftover
	rawCount -= int64(len(headLeftover))
	return resp, rawCount, nil
}

// readBody drains the transport through chain until it completes or the
// transport reaches EOF, merging any trailer headers into resp.Headers and
// enforcing BodyLimit as the body grows. Returns the decoded body and the
// raw bytes consumed (including the leftover bytes handed in from the
// header read, which belong to this body).
func (c *Client) readBody(chain *decoder.CompoundDecoder, resp *message.Response) ([]byte, int64, error) {
	buf := buffer.NewCapped(constants.DefaultBodyMemLimit, c.opts.BodyLimit)

	var rawCount int64

	feedChunk := func(data []byte) error {
		decoded, trailer, err := chain.Feed(data)
		if err != nil {
			return err
		}
		if trailer != nil {
			resp.Headers.Update(trailer, true)
		}
		if len(decoded) > 0 {
			if _, werr := buf.Write(decoded); werr != nil {
				return werr
			}
		}
		return nil
	}

	if len(c.leftover) > 0 {
		data := c.leftover
		c.leftover = nil
		rawCount += int64(len(data))
		if err := feedChunk(data); err != nil {
			return nil, 0, err
		}
	}

	readBuf := make([]byte, c.opts.packetSize())
	for !chain.Done() {
		n, err := c.conn.Read(readBuf)
		if n > 0 {
			rawCount += int64(n)
			if ferr := feedChunk(readBuf[:n]); ferr != nil {
				return nil, 0, ferr
			}
		}
		if chain.Done() {
			break
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			if errTimeout(err) {
				return nil, 0, errors.NewTimeoutError("read-response-body", c.opts.Timeout)
			}
			return nil, 0, errors.NewIOError("reading response body", err)
		}
	}

	// Finish cascades down the chain whether the base completed on its own
	// or the transport hit EOF: it validates framing (an incomplete frame
	// other than until-close identity is a DataError) and flushes any
	// residual transform output.
	flushed, ferr := chain.Finish()
	if ferr != nil {
		return nil, 0, ferr
	}
	if len(flushed) > 0 {
		if _, werr := buf.Write(flushed); werr != nil {
			return nil, 0, werr
		}
	}

	c.leftover = chain.Leftover()

	r, err := buf.Reader()
	if err != nil {
		return nil, 0, err
	}
	data, err := io.ReadAll(r)
	r.Close()
	buf.Close()
	if err != nil {
		return nil, 0, errors.NewIOError("reading decoded body", err)
	}
	return data, rawCount, nil
}

func errTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
