// Package parser implements the restartable, feed-driven base parser that
// every message and decoder state machine is built from: a growable byte
// cache fed by Parse, drained by a subclass-supplied step function that
// reports either Consumed, NeedMore, or Error for each attempt.
package parser

import "errors"

// ErrNeedMore is returned by a Step function to mean "not enough data in
// this attempt; restore it to the cache and wait for the next Parse call".
// It is never returned to a Parser's caller — Parse translates it into
// simply stopping for now.
var ErrNeedMore = errors.New("parser: need more data")

// Item is one parsed output unit threaded up through Parse/Finish. Concrete
// parsers (message, decoder) define their own item types and type-assert
// on it; Item exists only so Parser's plumbing stays generic.
type Item any

// Step drains as much of cache as it can, returning items produced and the
// number of bytes it consumed from the front of cache. A Step that cannot
// make progress without more bytes returns (nil, 0, ErrNeedMore); cache is
// left untouched in that case. Any other error aborts parsing.
type Step func(cache []byte) (items []Item, consumed int, err error)

// Parser holds the byte cache shared by every incremental parser in this
// engine and runs a Step repeatedly until it stalls or the parser is Done.
//
// A Parser is created per-message (or per-decoder-instance), fed data until
// Done, then discarded; its leftover cache is handed to the next consumer
// via Clear.
type Parser struct {
	cache []byte
	done  bool
}

// Done reports whether the parser has finished producing its one (or,
// for streaming decoders, many) logical output.
func (p *Parser) Done() bool { return p.done }

// SetDone marks the parser finished; subclasses call this once their Step
// has produced a terminal item.
func (p *Parser) SetDone() { p.done = true }

// Prepend restores data to the front of the cache, for bytes a higher layer
// read too eagerly and needs a lower layer to see again.
func (p *Parser) Prepend(data []byte) {
	p.cache = append(append([]byte(nil), data...), p.cache...)
}

// Append adds data to the end of the cache without attempting to drain it.
func (p *Parser) Append(data []byte) {
	p.cache = append(p.cache, data...)
}

// Clear returns the remaining cache and empties it. Call once Done is true
// to retrieve the bytes that followed the parsed message, for handoff to
// the next parser sharing this transport.
func (p *Parser) Clear() []byte {
	rest := p.cache
	p.cache = nil
	return rest
}

// Parse appends data to the cache, then repeatedly invokes step against the
// cache until either the cache is exhausted, step reports ErrNeedMore (the
// cache is left as-is, ready for more bytes on the next call), the parser
// becomes Done, or step reports a different error.
func (p *Parser) Parse(data []byte, step Step) ([]Item, error) {
	p.cache = append(p.cache, data...)
	var out []Item
	for len(p.cache) > 0 && !p.done {
		items, consumed, err := step(p.cache)
		if err == ErrNeedMore {
			break
		}
		if err != nil {
			return out, err
		}
		p.cache = p.cache[consumed:]
		out = append(out, items...)
	}
	return out, nil
}

// Finish marks the transport as ended. Subclasses override behaviour by
// calling this and then checking their own state for an incomplete frame;
// Parser itself has no opinion on what "incomplete" means.
func (p *Parser) Finish() {
	p.done = true
}
