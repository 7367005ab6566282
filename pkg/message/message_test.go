package message

import (
	"bytes"
	"testing"

	"github.com/kitsuhttp/rawhttp/pkg/parser"
)

func parseResponseAllAtOnce(t *testing.T, raw string) *Response {
	t.Helper()
	feed := NewResponseFeed()
	lp := parser.NewLineParser(feed)
	items, err := lp.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly one item, got %d", len(items))
	}
	return items[0].(*Response)
}

func TestResponseParserBasic(t *testing.T) {
	resp := parseResponseAllAtOnce(t, "HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\n")
	if resp.Code != 200 || resp.Phrase != "OK" {
		t.Fatalf("got code=%d phrase=%q", resp.Code, resp.Phrase)
	}
	if resp.Version != HTTP11 {
		t.Fatalf("got version %v", resp.Version)
	}
	if resp.Headers.Get("Content-Length") != "11" {
		t.Fatalf("got content-length %q", resp.Headers.Get("Content-Length"))
	}
}

func TestResponseParserEmptyPhrase(t *testing.T) {
	resp := parseResponseAllAtOnce(t, "HTTP/1.0 204\r\n\r\n")
	if resp.Code != 204 || resp.Phrase != "" {
		t.Fatalf("got code=%d phrase=%q", resp.Code, resp.Phrase)
	}
}

func TestResponseParserPartitionInvariance(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nX-A: 1\r\nX-B: 2\r\n\r\nleftover"
	// whole
	whole := partitionedParse(t, raw, []int{len(raw)})
	// byte by byte
	byteByByte := partitionedParse(t, raw, allOnes(len(raw)))
	if whole.resp.Code != byteByByte.resp.Code || whole.resp.Phrase != byteByByte.resp.Phrase {
		t.Fatalf("mismatch between partitions")
	}
	if whole.leftover != byteByByte.leftover {
		t.Fatalf("leftover mismatch: %q vs %q", whole.leftover, byteByByte.leftover)
	}
	if whole.leftover != "leftover" {
		t.Fatalf("got leftover %q", whole.leftover)
	}
}

// TestResponseParserStopsAtBlankLineEvenWithEmbeddedNewlines guards against a
// LineParser that keeps scanning for more "lines" in the same Parse call
// after the response is complete: a body delivered in the same read as the
// headers (the common case over a real socket) that itself contains LF
// bytes must survive untouched as leftover, not be misread as further
// header lines and discarded.
func TestResponseParserStopsAtBlankLineEvenWithEmbeddedNewlines(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 9\r\n\r\nline1\nline2"
	feed := NewResponseFeed()
	lp := parser.NewLineParser(feed)
	items, err := lp.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly one item, got %d", len(items))
	}
	if got := string(lp.Clear()); got != "line1\nline2" {
		t.Fatalf("expected body bytes preserved as leftover, got %q", got)
	}
}

type parseResult struct {
	resp     *Response
	leftover string
}

func partitionedParse(t *testing.T, raw string, splitPoints []int) parseResult {
	t.Helper()
	feed := NewResponseFeed()
	lp := parser.NewLineParser(feed)
	offset := 0
	var resp *Response
	for _, end := range splitPoints {
		if end > len(raw) {
			end = len(raw)
		}
		items, err := lp.Parse([]byte(raw[offset:end]))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, it := range items {
			resp = it.(*Response)
		}
		offset = end
	}
	return parseResult{resp: resp, leftover: string(lp.Clear())}
}

func allOnes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestRequestParserSwallowsLeadingBlankLines(t *testing.T) {
	feed := NewRequestFeed()
	lp := parser.NewLineParser(feed)
	items, err := lp.Parse([]byte("\r\n\r\nGET /path HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	req := items[0].(*Request)
	if req.Method != "GET" || req.Target != "/path" {
		t.Fatalf("got method=%q target=%q", req.Method, req.Target)
	}
}

func TestRequestWriteHeadWireTarget(t *testing.T) {
	req := NewRequest("GET", "/a b")
	req.Headers.Add("Host", "example.com")
	var buf bytes.Buffer
	if err := req.WriteHead(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := buf.String()
	want := "GET /a+b HTTP/1.1\r\nHost: example.com\r\n\r\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
