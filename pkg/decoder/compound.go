package decoder

import (
	"strconv"
	"strings"

	"github.com/kitsuhttp/rawhttp/pkg/constants"
	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/headers"
	"github.com/kitsuhttp/rawhttp/pkg/message"
)

// CompoundDecoder chains a BaseDecoder (the framing decoder that directly
// consumes socket bytes: identity or chunked) with zero or more payload
// Transforms (currently just deflate). The compound is Done when its base
// is Done; Finish cascades down the chain to flush transforms.
type CompoundDecoder struct {
	base       BaseDecoder
	transforms []Transform
}

// NewCompoundDecoder builds a chain from an already-selected base and
// transform list, in application order (transforms[0] runs closest to the
// base decoder's output).
func NewCompoundDecoder(base BaseDecoder, transforms ...Transform) *CompoundDecoder {
	return &CompoundDecoder{base: base, transforms: transforms}
}

// Feed pushes raw socket bytes through the base decoder, then each
// transform in order. A non-nil trailer surfaces unchanged (it bypasses the
// transforms — trailer headers are never part of the compressed payload).
func (c *CompoundDecoder) Feed(raw []byte) ([]byte, *headers.Headers, error) {
	body, trailer, err := c.base.Feed(raw)
	if err != nil {
		return nil, nil, err
	}
	for _, tr := range c.transforms {
		body, err = tr.Feed(body)
		if err != nil {
			return nil, nil, err
		}
	}
	return body, trailer, nil
}

// Done reports whether the base framing decoder has completed.
func (c *CompoundDecoder) Done() bool { return c.base.Done() }

// Finish signals end of transport: the base decoder validates its framing
// completed (or, for until-close identity, treats this as success), then
// each transform flushes any residual output.
func (c *CompoundDecoder) Finish() ([]byte, error) {
	if err := c.base.Finish(); err != nil {
		return nil, err
	}
	var out []byte
	for _, tr := range c.transforms {
		flushed, err := tr.Finish()
		if err != nil {
			return out, err
		}
		out = append(out, flushed...)
	}
	return out, nil
}

// Leftover returns bytes that followed the decoded message: the base
// decoder's own trailing bytes, plus any transform's unused_data — bytes a
// Transform (e.g. DeflateDecoder) was fed but never consumed because its
// own stream format terminated first, so they aren't lost.
func (c *CompoundDecoder) Leftover() []byte {
	out := c.base.Leftover()
	for _, tr := range c.transforms {
		if extra := tr.UnusedData(); len(extra) > 0 {
			out = append(append([]byte(nil), out...), extra...)
		}
	}
	return out
}

// FromResponse builds the decoder chain for a response to a request made
// with method, per the framing rules:
//
//   - method HEAD/CONNECT, or code 204/304, or Content-Length: 0 -> no body
//     (chain is nil).
//   - Transfer-Encoding containing "chunked" (must be the last coding) ->
//     ChunkedDecoder base.
//   - otherwise (including an explicit "identity" coding) ->
//     IdentityDecoder(Content-Length or until-close) base.
//   - a "deflate" coding adds a DeflateDecoder transform; anything else
//     unrecognised (gzip or unknown) is a DataError.
//
// Content-Encoding is not consulted: an end-to-end coding is the
// application's concern and its payload passes through untouched.
func FromResponse(method string, resp *message.Response) (*CompoundDecoder, error) {
	method = strings.ToUpper(method)
	if method == "HEAD" || method == "CONNECT" || resp.Code == 204 || resp.Code == 304 {
		return nil, nil
	}

	contentLength, hasLength, err := parseContentLength(resp.Headers)
	if err != nil {
		return nil, err
	}
	if hasLength && contentLength == 0 {
		return nil, nil
	}

	transferCodings := splitCodings(resp.Headers.Get("Transfer-Encoding"))

	chunked := false
	var transforms []Transform
	for i, tok := range transferCodings {
		switch tok {
		case "chunked":
			if i != len(transferCodings)-1 {
				return nil, errors.NewDataError("compound-decoder", "chunked coding must be last in Transfer-Encoding", nil)
			}
			chunked = true
		case "identity":
			// the ordinary non-chunked case, stated explicitly
		case "deflate":
			transforms = append(transforms, NewDeflateDecoder())
		default:
			return nil, errors.NewDataError("compound-decoder", "unsupported Transfer-Encoding coding: "+tok, nil)
		}
	}

	var base BaseDecoder
	if chunked {
		base = NewChunkedDecoder()
	} else if hasLength {
		base = NewIdentityDecoder(contentLength)
	} else {
		base = NewIdentityDecoder(-1)
	}

	return NewCompoundDecoder(base, transforms...), nil
}

// parseContentLength takes the last value of Content-Length's value list
// per the specification's resolved ambiguity (the alternative taking the
// first value was rejected). An empty value means unknown length.
func parseContentLength(h *headers.Headers) (length int64, known bool, err error) {
	vals := h.GetList("Content-Length")
	if len(vals) == 0 {
		return 0, false, nil
	}
	last := strings.TrimSpace(vals[len(vals)-1])
	if last == "" {
		return 0, false, nil
	}
	n, convErr := strconv.ParseInt(last, 10, 64)
	if convErr != nil || n < 0 {
		return 0, false, errors.NewDataError("compound-decoder", "non-integer Content-Length: "+last, convErr)
	}
	if n > constants.MaxContentLength {
		return 0, false, errors.NewLimitError("compound-decoder", "Content-Length exceeds maximum: "+last)
	}
	return n, true, nil
}

func splitCodings(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
