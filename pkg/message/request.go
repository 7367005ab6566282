// Package message implements the Request and Response value types and their
// incremental parsers, built from pkg/parser's LineParser and pkg/headers's
// Feeder per the COMMAND|STATUS -> HEADERS -> DONE state machine.
package message

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/headers"
)

// Version is an HTTP major.minor version pair.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string { return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor) }

// AtLeast reports whether v >= other.
func (v Version) AtLeast(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

// HTTP11 and HTTP10 are the two versions this engine speaks.
var (
	HTTP11 = Version{1, 1}
	HTTP10 = Version{1, 0}
)

// BodySource is what a Request carries as its outgoing body: either the
// whole payload already in memory, or a readable byte source (e.g. an open
// file) to be streamed in packetsize chunks. At most one of Bytes/Reader is
// set; both nil means no body.
type BodySource struct {
	Bytes  []byte
	Reader io.Reader
}

// Empty reports whether the source carries no body at all.
func (b BodySource) Empty() bool { return b.Bytes == nil && b.Reader == nil }

// Request is method/target/version/headers/body, as sent on the wire.
type Request struct {
	Method  string
	Target  string // origin-form path, absolute-URI, or "host:port" for CONNECT
	Version Version
	Headers *headers.Headers
	Body    BodySource
}

// NewRequest returns a Request with an empty Headers multimap, defaulting
// to HTTP/1.1.
func NewRequest(method, target string) *Request {
	return &Request{Method: method, Target: target, Version: HTTP11, Headers: headers.New()}
}

// wireTarget replaces whitespace in Target with '+', per the wire encoding
// rule; Target is otherwise assumed already percent/UTF-8 encoded by the
// caller.
func (r *Request) wireTarget() string {
	return strings.Map(func(c rune) rune {
		if unicode.IsSpace(c) {
			return '+'
		}
		return c
	}, r.Target)
}

// WriteHead serialises the request line and headers (including the
// terminating blank line) to w.
func (r *Request) WriteHead(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte(' ')
	sb.WriteString(r.wireTarget())
	sb.WriteByte(' ')
	sb.WriteString(r.Version.String())
	sb.WriteString("\r\n")
	r.Headers.WriteTo(&sb)
	_, err := w.Write([]byte(sb.String()))
	if err != nil {
		return errors.NewIOError("writing request head", err)
	}
	return nil
}

type requestParserState int

const (
	reqStateStart requestParserState = iota
	reqStateHeaders
	reqStateDone
)

// RequestParser incrementally parses a request line plus headers into a
// single Request, tolerating leading blank lines before the request line
// per RFC 2616 §4.1.
type RequestParser struct {
	state  requestParserState
	req    *Request
	feeder *headers.Feeder
	done   bool
}

// NewRequestParser returns a fresh RequestParser.
func NewRequestParser() *RequestParser {
	return &RequestParser{}
}

// Done reports whether a complete Request has been parsed.
func (p *RequestParser) Done() bool { return p.done }

// ParseLine feeds one line (CRLF/LF already stripped) into the parser.
// Returns the parsed Request once the terminating blank line after headers
// is seen; returns nil otherwise.
func (p *RequestParser) ParseLine(line string) (*Request, error) {
	switch p.state {
	case reqStateStart:
		if line == "" {
			return nil, nil // swallow leading blank lines
		}
		req, err := parseRequestLine(line)
		if err != nil {
			return nil, err
		}
		p.req = req
		p.feeder = headers.NewFeeder()
		p.state = reqStateHeaders
		return nil, nil
	case reqStateHeaders:
		if err := p.feeder.FeedLine(line); err != nil {
			return nil, err
		}
		if p.feeder.Done() {
			p.req.Headers = p.feeder.Headers()
			p.state = reqStateDone
			p.done = true
			return p.req, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func parseRequestLine(line string) (*Request, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, errors.NewDataError("parse-request-line", fmt.Sprintf("malformed request line %q", line), nil)
	}
	version, err := parseVersion(parts[2])
	if err != nil {
		return nil, err
	}
	return &Request{Method: parts[0], Target: parts[1], Version: version}, nil
}

func parseVersion(tok string) (Version, error) {
	if !strings.HasPrefix(tok, "HTTP/") {
		return Version{}, errors.NewDataError("parse-version", fmt.Sprintf("malformed HTTP version %q", tok), nil)
	}
	rest := strings.TrimPrefix(tok, "HTTP/")
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return Version{}, errors.NewDataError("parse-version", fmt.Sprintf("malformed HTTP version %q", tok), nil)
	}
	major, err := strconv.Atoi(rest[:dot])
	if err != nil {
		return Version{}, errors.NewDataError("parse-version", fmt.Sprintf("non-integer major version in %q", tok), err)
	}
	minor, err := strconv.Atoi(rest[dot+1:])
	if err != nil {
		return Version{}, errors.NewDataError("parse-version", fmt.Sprintf("non-integer minor version in %q", tok), err)
	}
	return Version{major, minor}, nil
}
