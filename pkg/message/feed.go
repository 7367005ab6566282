package message

import "github.com/kitsuhttp/rawhttp/pkg/parser"

// ResponseFeed adapts ResponseParser to parser.Handler so it can drive a
// parser.LineParser directly. ParseData is never reached: a status
// line/headers parser has no data-mode phase.
type ResponseFeed struct {
	p *ResponseParser
}

// NewResponseFeed returns a ResponseFeed ready to hand to parser.NewLineParser.
func NewResponseFeed() *ResponseFeed {
	return &ResponseFeed{p: NewResponseParser()}
}

func (f *ResponseFeed) ParseLine(line []byte) ([]parser.Item, error) {
	resp, err := f.p.ParseLine(string(line))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return []parser.Item{resp}, nil
}

func (f *ResponseFeed) ParseData(data []byte) ([]parser.Item, int, error) {
	return nil, 0, parser.ErrNeedMore
}

// Done reports whether the terminating blank line has been seen.
func (f *ResponseFeed) Done() bool { return f.p.Done() }

// RequestFeed is the Request-side counterpart of ResponseFeed.
type RequestFeed struct {
	p *RequestParser
}

// NewRequestFeed returns a RequestFeed ready to hand to parser.NewLineParser.
func NewRequestFeed() *RequestFeed {
	return &RequestFeed{p: NewRequestParser()}
}

func (f *RequestFeed) ParseLine(line []byte) ([]parser.Item, error) {
	req, err := f.p.ParseLine(string(line))
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, nil
	}
	return []parser.Item{req}, nil
}

func (f *RequestFeed) ParseData(data []byte) ([]parser.Item, int, error) {
	return nil, 0, parser.ErrNeedMore
}

// Done reports whether the terminating blank line has been seen.
func (f *RequestFeed) Done() bool { return f.p.Done() }
