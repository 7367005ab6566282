package parser

import (
	"bytes"
	"testing"
)

// splitStep treats cache as a stream of LF-delimited records and emits each
// line (without the LF) as an Item, to exercise the generic Parser loop
// without pulling in LineParser.
func splitStep(cache []byte) ([]Item, int, error) {
	idx := bytes.IndexByte(cache, '\n')
	if idx < 0 {
		return nil, 0, ErrNeedMore
	}
	return []Item{string(cache[:idx])}, idx + 1, nil
}

func TestParserConsumesAcrossCalls(t *testing.T) {
	var p Parser
	items, err := p.Parse([]byte("abc"), splitStep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items yet, got %v", items)
	}

	items, err = p.Parse([]byte("\ndef\n"), splitStep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Item{"abc", "def"}
	if len(items) != len(want) || items[0] != want[0] || items[1] != want[1] {
		t.Fatalf("got %v, want %v", items, want)
	}
}

func TestParserClearAfterDoneReturnsLeftover(t *testing.T) {
	var p Parser
	step := func(cache []byte) ([]Item, int, error) {
		idx := bytes.IndexByte(cache, '\n')
		if idx < 0 {
			return nil, 0, ErrNeedMore
		}
		p.SetDone()
		return []Item{string(cache[:idx])}, idx + 1, nil
	}
	_, err := p.Parse([]byte("line\nleftover"), step)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Done() {
		t.Fatal("expected parser to be done")
	}
	rest := p.Clear()
	if string(rest) != "leftover" {
		t.Fatalf("got leftover %q, want %q", rest, "leftover")
	}
}

func TestParserPartitionInvariance(t *testing.T) {
	stream := []byte("one\ntwo\nthree\n")
	partitions := [][]int{
		{len(stream)},
		makeRange(len(stream)),
		{3, 4, 7, len(stream)},
	}
	for _, splits := range partitions {
		var p Parser
		var got []Item
		offset := 0
		for _, end := range splits {
			if end > len(stream) {
				end = len(stream)
			}
			items, err := p.Parse(stream[offset:end], splitStep)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got = append(got, items...)
			offset = end
		}
		if len(got) != 3 || got[0] != "one" || got[1] != "two" || got[2] != "three" {
			t.Fatalf("partition %v produced %v", splits, got)
		}
	}
}

func makeRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

type recordingHandler struct {
	lines []string
	data  []byte
	want  int
}

func (r *recordingHandler) ParseLine(line []byte) ([]Item, error) {
	r.lines = append(r.lines, string(line))
	if string(line) == "DATA" {
		return nil, nil
	}
	return nil, nil
}

func (r *recordingHandler) ParseData(data []byte) ([]Item, int, error) {
	if len(data) < r.want {
		return nil, 0, ErrNeedMore
	}
	r.data = append(r.data, data[:r.want]...)
	return nil, r.want, nil
}

func TestLineParserModeSwitch(t *testing.T) {
	h := &recordingHandler{want: 5}
	lp := NewLineParser(h)
	_, err := lp.Parse([]byte("header\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lp.SetDataMode(nil)
	_, err = lp.Parse([]byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(h.data) != "hello" {
		t.Fatalf("got data %q", h.data)
	}
	lp.SetLineMode(nil)
	_, err = lp.Parse([]byte("trailer\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.lines) != 2 || h.lines[0] != "header" || h.lines[1] != "trailer" {
		t.Fatalf("got lines %v", h.lines)
	}
}
