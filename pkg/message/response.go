package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/headers"
	"github.com/kitsuhttp/rawhttp/pkg/timing"
)

// ConnectionInfo describes the socket a Response was read over: its peer
// address, the negotiated TLS version (empty for a plaintext connection),
// and whether the Agent's cached connection was reused for this request
// rather than freshly dialed.
type ConnectionInfo struct {
	PeerAddr   string
	TLSVersion string
	Reused     bool
}

// Response is version/code/phrase/headers/body, populated by the Agent with
// the final URL and visited-URL chain once redirects (if any) are resolved.
type Response struct {
	Version Version
	Code    int
	Phrase  string
	Headers *headers.Headers
	Body    []byte

	URL        string
	URLChain   []string
	Metrics    timing.Metrics
	Connection ConnectionInfo
}

type responseParserState int

const (
	respStateStart responseParserState = iota
	respStateHeaders
	respStateDone
)

// ResponseParser incrementally parses a status line plus headers into a
// single Response. Identical to RequestParser except for the start line
// grammar: "HTTP/M.N CODE [phrase]", phrase may be empty.
type ResponseParser struct {
	state  responseParserState
	resp   *Response
	feeder *headers.Feeder
	done   bool
}

// NewResponseParser returns a fresh ResponseParser.
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

// Done reports whether a complete Response has been parsed.
func (p *ResponseParser) Done() bool { return p.done }

// ParseLine feeds one line (CRLF/LF already stripped) into the parser.
// Returns the parsed Response once the terminating blank line after headers
// is seen; returns nil otherwise.
func (p *ResponseParser) ParseLine(line string) (*Response, error) {
	switch p.state {
	case respStateStart:
		if line == "" {
			return nil, nil
		}
		resp, err := parseStatusLine(line)
		if err != nil {
			return nil, err
		}
		p.resp = resp
		p.feeder = headers.NewFeeder()
		p.state = respStateHeaders
		return nil, nil
	case respStateHeaders:
		if err := p.feeder.FeedLine(line); err != nil {
			return nil, err
		}
		if p.feeder.Done() {
			p.resp.Headers = p.feeder.Headers()
			p.state = respStateDone
			p.done = true
			return p.resp, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func parseStatusLine(line string) (*Response, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, errors.NewDataError("parse-status-line", fmt.Sprintf("malformed status line %q", line), nil)
	}
	version, err := parseVersion(parts[0])
	if err != nil {
		return nil, err
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errors.NewDataError("parse-status-line", fmt.Sprintf("non-integer status code in %q", line), err)
	}
	phrase := ""
	if len(parts) == 3 {
		phrase = parts[2]
	}
	return &Response{Version: version, Code: code, Phrase: phrase}, nil
}
