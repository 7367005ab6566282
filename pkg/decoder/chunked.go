package decoder

import (
	"strconv"
	"strings"

	"github.com/kitsuhttp/rawhttp/pkg/errors"
	"github.com/kitsuhttp/rawhttp/pkg/headers"
	"github.com/kitsuhttp/rawhttp/pkg/parser"
)

type chunkedState int

const (
	chunkedSizeLine chunkedState = iota
	chunkedData
	chunkedAfterCRLF
	chunkedTrailer
	chunkedDone
)

// chunkBytes is the Item variant carrying decoded chunk payload.
type chunkBytes []byte

// trailerReady is the Item variant carrying the parsed trailer headers,
// emitted once as a typed sentinel after the terminating 0-size chunk.
type trailerReady struct {
	h *headers.Headers
}

// ChunkedDecoder implements Transfer-Encoding: chunked framing:
// SIZE_LINE -> CHUNK_DATA -> AFTER_CHUNK_CRLF -> SIZE_LINE ... -> 0 ->
// TRAILER_HEADERS -> DONE.
type ChunkedDecoder struct {
	lp       *parser.LineParser
	state    chunkedState
	want     int64
	feeder   *headers.Feeder
	done     bool
	leftover []byte
}

// NewChunkedDecoder returns a ChunkedDecoder starting in the size-line state.
func NewChunkedDecoder() *ChunkedDecoder {
	d := &ChunkedDecoder{state: chunkedSizeLine}
	d.lp = parser.NewLineParser(d)
	return d
}

func (d *ChunkedDecoder) ParseLine(line []byte) ([]parser.Item, error) {
	switch d.state {
	case chunkedSizeLine:
		sizeTok := string(line)
		if idx := strings.IndexByte(sizeTok, ';'); idx >= 0 {
			sizeTok = sizeTok[:idx]
		}
		sizeTok = strings.TrimSpace(sizeTok)
		size, err := strconv.ParseInt(sizeTok, 16, 64)
		if err != nil || size < 0 {
			return nil, errors.NewDataError("chunked-decoder", "malformed chunk size line", err)
		}
		if size == 0 {
			d.state = chunkedTrailer
			d.feeder = headers.NewFeeder()
			return nil, nil
		}
		d.want = size
		d.state = chunkedData
		d.lp.SetDataMode(nil)
		return nil, nil
	case chunkedAfterCRLF:
		// the blank line terminating a chunk's data; line content is ignored
		d.state = chunkedSizeLine
		return nil, nil
	case chunkedTrailer:
		if err := d.feeder.FeedLine(string(line)); err != nil {
			return nil, err
		}
		if d.feeder.Done() {
			d.state = chunkedDone
			d.done = true
			return []parser.Item{trailerReady{h: d.feeder.Headers()}}, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func (d *ChunkedDecoder) ParseData(data []byte) ([]parser.Item, int, error) {
	if int64(len(data)) < d.want {
		return nil, 0, parser.ErrNeedMore
	}
	chunk := data[:d.want]
	consumed := int(d.want)
	d.want = 0
	d.state = chunkedAfterCRLF
	d.lp.SetLineMode(nil)
	return []parser.Item{chunkBytes(chunk)}, consumed, nil
}

// Feed pushes raw socket bytes through the chunk state machine, returning
// any decoded body bytes and, once produced, the trailer headers.
func (d *ChunkedDecoder) Feed(raw []byte) ([]byte, *headers.Headers, error) {
	items, err := d.lp.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	var body []byte
	var trailer *headers.Headers
	for _, it := range items {
		switch v := it.(type) {
		case chunkBytes:
			body = append(body, v...)
		case trailerReady:
			trailer = v.h
		}
	}
	if d.done {
		d.leftover = d.lp.Clear()
	}
	return body, trailer, nil
}

func (d *ChunkedDecoder) Done() bool { return d.done }

func (d *ChunkedDecoder) Finish() error {
	if !d.done {
		return errors.NewDataError("chunked-decoder", "connection closed mid-chunk", nil)
	}
	return nil
}

func (d *ChunkedDecoder) Leftover() []byte { return d.leftover }
