// Package headers implements the insertion-ordered, case-insensitive header
// multimap shared by Request and Response, plus the line-by-line parser that
// feeds it from a continuation-aware header block.
package headers

import (
	"strings"

	"github.com/kitsuhttp/rawhttp/pkg/errors"
)

type entry struct {
	name  string
	value string
}

// Headers is an ordered sequence of (name, value) entries plus an index from
// lower-cased name to the entries sharing that name, so global insertion
// order and per-name insertion order are both preserved. The zero value is
// an empty, ready-to-use Headers.
type Headers struct {
	entries []entry
	index   map[string][]int
}

// New returns an empty Headers.
func New() *Headers {
	return &Headers{index: make(map[string][]int)}
}

func (h *Headers) ensure() {
	if h.index == nil {
		h.index = make(map[string][]int)
	}
}

// Add appends an entry, preserving any previous entries for name.
func (h *Headers) Add(name, value string) {
	h.ensure()
	key := strings.ToLower(name)
	h.index[key] = append(h.index[key], len(h.entries))
	h.entries = append(h.entries, entry{name: name, value: value})
}

// Set removes all existing entries for name and appends value as the sole
// entry, at the end of the sequence.
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every entry for name. Reports whether anything was removed.
func (h *Headers) Del(name string) bool {
	h.ensure()
	key := strings.ToLower(name)
	idxs, ok := h.index[key]
	if !ok || len(idxs) == 0 {
		return false
	}
	remove := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		remove[i] = true
	}
	newEntries := make([]entry, 0, len(h.entries)-len(idxs))
	for i, e := range h.entries {
		if !remove[i] {
			newEntries = append(newEntries, e)
		}
	}
	h.entries = newEntries
	delete(h.index, key)
	h.reindex()
	return true
}

func (h *Headers) reindex() {
	h.index = make(map[string][]int, len(h.entries))
	for i, e := range h.entries {
		key := strings.ToLower(e.name)
		h.index[key] = append(h.index[key], i)
	}
}

// Contains reports whether any entry exists for name (case-insensitive).
func (h *Headers) Contains(name string) bool {
	h.ensure()
	return len(h.index[strings.ToLower(name)]) > 0
}

// GetList returns the values for name in per-name insertion order. Returns
// nil if name is absent.
func (h *Headers) GetList(name string) []string {
	h.ensure()
	idxs := h.index[strings.ToLower(name)]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = h.entries[idx].value
	}
	return out
}

// Get returns the values for name joined by ", ", or "" if absent.
func (h *Headers) Get(name string) string {
	vals := h.GetList(name)
	if vals == nil {
		return ""
	}
	return strings.Join(vals, ", ")
}

// Pop removes and returns the joined value for name, and whether it existed.
func (h *Headers) Pop(name string) (string, bool) {
	if !h.Contains(name) {
		return "", false
	}
	v := h.Get(name)
	h.Del(name)
	return v, true
}

// Update merges other into h. With merge=false, the first entry per name in
// other replaces all of h's existing entries for that name (subsequent
// same-name entries in other are appended normally); with merge=true, every
// entry in other is appended without touching h's existing entries.
func (h *Headers) Update(other *Headers, merge bool) {
	if other == nil {
		return
	}
	replaced := make(map[string]bool)
	for _, e := range other.entries {
		key := strings.ToLower(e.name)
		if !merge && !replaced[key] {
			h.Del(e.name)
			replaced[key] = true
		}
		h.Add(e.name, e.value)
	}
}

// Len returns the number of entries.
func (h *Headers) Len() int { return len(h.entries) }

// Each calls fn for every entry in global insertion order, with the
// original casing of each entry preserved.
func (h *Headers) Each(fn func(name, value string)) {
	for _, e := range h.entries {
		fn(e.name, e.value)
	}
}

// Clone returns a deep copy of h.
func (h *Headers) Clone() *Headers {
	c := New()
	c.entries = append([]entry(nil), h.entries...)
	c.reindex()
	return c
}

// canonicalCase renders name per the wire convention: split on '-',
// capitalise each part, with the part "www" rendered "WWW".
func canonicalCase(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if strings.EqualFold(p, "www") {
			parts[i] = "WWW"
			continue
		}
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

// ToLines renders each entry as "Canonical-Name: value" in insertion order,
// without a trailing CRLF on the last line.
func (h *Headers) ToLines() []string {
	lines := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		lines = append(lines, canonicalCase(e.name)+": "+e.value)
	}
	return lines
}

// WriteTo serialises h as CRLF-terminated lines (including the header
// block's own trailing blank line) into sb.
func (h *Headers) WriteTo(sb *strings.Builder) {
	for _, line := range h.ToLines() {
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
}

// Feeder incrementally parses a header block (a sequence of lines, each
// already stripped of its trailing CRLF) into a Headers, handling
// continuation lines per RFC 2616 §4.2: a line starting with SP or HTAB
// extends the value of the header still being accumulated (not yet flushed).
type Feeder struct {
	h       *Headers
	pending string // unflushed raw "name: value" of the in-progress header
	have    bool
	done    bool
}

// NewFeeder returns a Feeder that accumulates into a fresh Headers.
func NewFeeder() *Feeder {
	return &Feeder{h: New()}
}

// FeedLine processes one header-block line. An empty line signals
// end-of-headers: it flushes any pending header and marks the feeder done.
// Returns a DataError for a malformed header (no colon, or empty name) once
// that header is flushed.
func (f *Feeder) FeedLine(line string) error {
	if f.done {
		return nil
	}
	if line == "" {
		if err := f.flush(); err != nil {
			return err
		}
		f.done = true
		return nil
	}
	if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		if !f.have {
			// continuation with no header to extend; ignore per lenient parsing
			return nil
		}
		f.pending += " " + strings.TrimSpace(line)
		return nil
	}
	if err := f.flush(); err != nil {
		return err
	}
	f.pending = line
	f.have = true
	return nil
}

func (f *Feeder) flush() error {
	if !f.have {
		return nil
	}
	f.have = false
	idx := strings.IndexByte(f.pending, ':')
	if idx < 0 {
		return errors.NewDataError("parse-headers", "malformed header line: no colon", nil)
	}
	name := strings.TrimRight(f.pending[:idx], " \t")
	value := strings.TrimSpace(f.pending[idx+1:])
	if name == "" {
		return errors.NewDataError("parse-headers", "malformed header line: empty name", nil)
	}
	f.h.Add(name, value)
	return nil
}

// Done reports whether the terminating blank line has been seen.
func (f *Feeder) Done() bool { return f.done }

// Headers returns the accumulated Headers. Valid once Done() is true, or to
// inspect partial progress.
func (f *Feeder) Headers() *Headers { return f.h }
