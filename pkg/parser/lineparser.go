package parser

import "bytes"

// Mode is a LineParser's current scanning mode.
type Mode int

const (
	// LineMode scans the cache for LF-terminated lines.
	LineMode Mode = iota
	// DataMode hands the raw cache to the handler's ParseData.
	DataMode
)

// Handler implements the two line/data callbacks a LineParser drives.
// Both mirror Step's contract: return ErrNeedMore to stall until more bytes
// arrive, leaving the cache untouched.
type Handler interface {
	// ParseLine is called once per line in LineMode, with the trailing CRLF
	// (or bare LF) already stripped.
	ParseLine(line []byte) ([]Item, error)
	// ParseData is called with the full cache in DataMode; it reports how
	// many bytes it consumed, same as Step.
	ParseData(data []byte) (items []Item, consumed int, err error)
}

// doneHandler is an optional Handler extension: a Handler that knows the
// instant its own logical message is complete. A LineParser checks this
// after every ParseLine/ParseData call and, once true, marks itself Done —
// otherwise, if the same Parse call's cache holds further bytes belonging to
// whatever comes next on the stream (a response body, a pipelined message),
// the LineParser would misread them as more lines/data of the handler that
// just finished, instead of preserving them as leftover via Clear().
type doneHandler interface {
	Done() bool
}

// LineParser alternates between LineMode (scan for LF, optionally strip a
// preceding CR, hand the line to ParseLine) and DataMode (hand the raw
// cache to ParseData), as chunked transfer encoding's
// size-line/data/size-line/... grammar requires.
type LineParser struct {
	Parser
	mode Mode
	h    Handler
}

// NewLineParser returns a LineParser starting in LineMode, driven by h.
func NewLineParser(h Handler) *LineParser {
	return &LineParser{mode: LineMode, h: h}
}

// Mode reports the current scanning mode.
func (lp *LineParser) Mode() Mode { return lp.mode }

// SetLineMode switches to LineMode, prepending any unconsumed bytes the
// caller is handing back for re-scanning as lines.
func (lp *LineParser) SetLineMode(extra []byte) {
	lp.mode = LineMode
	if len(extra) > 0 {
		lp.Prepend(extra)
	}
}

// SetDataMode switches to DataMode, prepending any bytes the caller wants
// re-delivered to ParseData.
func (lp *LineParser) SetDataMode(extra []byte) {
	lp.mode = DataMode
	if len(extra) > 0 {
		lp.Prepend(extra)
	}
}

func (lp *LineParser) step(cache []byte) ([]Item, int, error) {
	var items []Item
	var consumed int
	var err error
	switch lp.mode {
	case LineMode:
		idx := bytes.IndexByte(cache, '\n')
		if idx < 0 {
			return nil, 0, ErrNeedMore
		}
		line := cache[:idx]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		items, err = lp.h.ParseLine(line)
		consumed = idx + 1
	case DataMode:
		items, consumed, err = lp.h.ParseData(cache)
	default:
		return nil, 0, ErrNeedMore
	}
	if err == nil {
		if dh, ok := lp.h.(doneHandler); ok && dh.Done() {
			lp.SetDone()
		}
	}
	return items, consumed, err
}

// Parse feeds data through the cache, dispatching to ParseLine/ParseData
// per the current mode until the cache stalls or the parser is Done.
func (lp *LineParser) Parse(data []byte) ([]Item, error) {
	return lp.Parser.Parse(data, lp.step)
}
