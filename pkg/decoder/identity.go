// Package decoder implements the body transfer-decoding pipeline: identity
// (known-length or until-close), chunked (with trailer headers), deflate,
// and the CompoundDecoder that chains them per a response's framing headers.
package decoder

import (
	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/headers"
)

// BaseDecoder is a framing decoder that directly consumes raw socket bytes:
// IdentityDecoder or ChunkedDecoder. It is the first stage of a
// CompoundDecoder's chain.
type BaseDecoder interface {
	// Feed decodes as much of raw as the current frame accepts, returning
	// decoded body bytes and, for ChunkedDecoder, a non-nil trailer once
	// the terminating 0-chunk's headers finish.
	Feed(raw []byte) (body []byte, trailer *headers.Headers, err error)
	// Done reports whether the frame is complete.
	Done() bool
	// Finish signals the transport ended; returns a DataError if the frame
	// was left incomplete (anything except a completed until-close
	// IdentityDecoder).
	Finish() error
	// Leftover returns bytes that followed the frame, valid once Done.
	Leftover() []byte
}

// Transform is a payload-transform stage layered on top of a BaseDecoder's
// output, e.g. DeflateDecoder.
type Transform interface {
	Feed(body []byte) ([]byte, error)
	// Finish flushes any residual output; UnusedData (if any) must be
	// retrieved via UnusedData afterward.
	Finish() ([]byte, error)
	UnusedData() []byte
}

// IdentityDecoder forwards bytes verbatim. With a known length it forwards
// up to that many bytes and completes at zero remaining; with length < 0 it
// forwards everything and only completes when the transport closes (Finish
// is then a success, not a DataError).
type IdentityDecoder struct {
	remaining int64 // -1 means unknown (until-close)
	done      bool
	leftover  []byte
}

// NewIdentityDecoder returns an IdentityDecoder. length < 0 means
// until-close (no Content-Length known).
func NewIdentityDecoder(length int64) *IdentityDecoder {
	d := &IdentityDecoder{remaining: length}
	if length == 0 {
		d.done = true
	}
	return d
}

func (d *IdentityDecoder) Feed(raw []byte) ([]byte, *headers.Headers, error) {
	if d.done {
		d.leftover = append(d.leftover, raw...)
		return nil, nil, nil
	}
	if d.remaining < 0 {
		return raw, nil, nil
	}
	if int64(len(raw)) <= d.remaining {
		d.remaining -= int64(len(raw))
		if d.remaining == 0 {
			d.done = true
		}
		return raw, nil, nil
	}
	take := raw[:d.remaining]
	d.leftover = raw[d.remaining:]
	d.remaining = 0
	d.done = true
	return take, nil, nil
}

func (d *IdentityDecoder) Done() bool { return d.done }

func (d *IdentityDecoder) Finish() error {
	if d.remaining < 0 {
		// until-close: connection loss while in this state is success.
		d.done = true
		return nil
	}
	if !d.done || d.remaining != 0 {
		return errors.NewDataError("identity-decoder", "connection closed with incomplete body", nil)
	}
	return nil
}

func (d *IdentityDecoder) Leftover() []byte { return d.leftover }
