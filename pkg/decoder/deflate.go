package decoder

import (
	stderrors "errors"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/kitsuhttp/rawhttp/pkg/errors"
)

// errNoInput is returned by pushReader.Read when its queue is empty; it is
// never surfaced to callers of DeflateDecoder, only used internally to tell
// "no more output without more compressed input yet" apart from a genuine
// end of stream.
var errNoInput = stderrors.New("decoder: no buffered compressed input")

// pushReader is a reader fed by repeated Feed calls instead of a single
// blocking source, letting zlib.Reader be driven incrementally. It
// implements ReadByte as well as Read so it satisfies flate.Reader: without
// that, the inflater wraps the source in its own bufio.Reader, which would
// drain the whole buffer (compressed stream plus any trailing bytes) into a
// hidden internal buffer on the first Read, leaving UnusedData unable to
// surface bytes that follow the zlib stream.
type pushReader struct {
	buf []byte
}

func (r *pushReader) push(data []byte) {
	r.buf = append(r.buf, data...)
}

func (r *pushReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		return 0, errNoInput
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *pushReader) ReadByte() (byte, error) {
	if len(r.buf) == 0 {
		return 0, errNoInput
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

// DeflateDecoder is a Transform that inflates a "deflate"-coded body. A
// `Transfer-Encoding: deflate` body is, by the near-universal convention
// this package follows, zlib-wrapped (RFC 1950: a 2-byte header plus an
// Adler-32 trailer around the raw deflate stream), not a bare RFC 1951
// deflate stream — so this uses github.com/klauspost/compress/zlib rather
// than its .../flate sibling.
type DeflateDecoder struct {
	src *pushReader
	zr  io.ReadCloser
}

// NewDeflateDecoder returns a DeflateDecoder ready to accept pushed bytes.
// The zlib reader itself isn't constructed until enough bytes to parse its
// header have arrived, since zlib.NewReader reads that header eagerly and
// this decoder must tolerate the header splitting across Feed calls.
func NewDeflateDecoder() *DeflateDecoder {
	return &DeflateDecoder{src: &pushReader{}}
}

func (d *DeflateDecoder) Feed(body []byte) ([]byte, error) {
	d.src.push(body)
	return d.drain(false)
}

// ensureReader attempts to construct the zlib reader once enough header
// bytes are buffered. zlib.NewReader consumes from d.src as it goes; if it
// stalls partway through the header (errNoInput, or EOF/ErrUnexpectedEOF
// once the stream closes early), the bytes it already read are restored so
// the next attempt sees the header from the start again.
func (d *DeflateDecoder) ensureReader() (ready bool, err error) {
	if d.zr != nil {
		return true, nil
	}
	saved := append([]byte(nil), d.src.buf...)
	zr, zerr := zlib.NewReader(d.src)
	if zerr != nil {
		d.src.buf = saved
		if stderrors.Is(zerr, errNoInput) || stderrors.Is(zerr, io.EOF) || stderrors.Is(zerr, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, errors.NewDataError("deflate-decoder", "malformed zlib header", zerr)
	}
	d.zr = zr
	return true, nil
}

func (d *DeflateDecoder) drain(final bool) ([]byte, error) {
	ready, err := d.ensureReader()
	if err != nil {
		return nil, err
	}
	if !ready {
		if final {
			return nil, errors.NewDataError("deflate-decoder", "zlib stream ended before header was complete", nil)
		}
		return nil, nil
	}
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := d.zr.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		switch {
		case err == nil:
			continue
		case err == errNoInput:
			if final {
				return out, errors.NewDataError("deflate-decoder", "deflate stream ended mid-block", nil)
			}
			return out, nil
		case err == io.EOF:
			return out, nil
		default:
			return out, errors.NewDataError("deflate-decoder", "malformed deflate stream", err)
		}
	}
}

// Finish flushes any residual decompressed output; an incomplete stream
// (one that never reached its end-of-block marker) is a DataError.
func (d *DeflateDecoder) Finish() ([]byte, error) {
	return d.drain(true)
}

// UnusedData returns compressed bytes pushed but never consumed by the
// zlib stream — trailing bytes that followed it and belong back in the
// caller's cache.
func (d *DeflateDecoder) UnusedData() []byte {
	return d.src.buf
}
