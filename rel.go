package gomiramon

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Rel is a REL metadata document: an ordered list of [SECTION] blocks of
// key=value pairs. Section names and keys compare case-insensitively.
// REL files are stored as ISO-8859-1; a Rel always holds UTF-8 text.
type Rel struct {
	sections []*relSection
	index    map[string]*relSection
}

type relSection struct {
	name    string
	entries []relEntry
	index   map[string]int
}

type relEntry struct {
	key   string
	value string
}

// NewRel returns an empty REL document
func NewRel() *Rel {
	return &Rel{index: make(map[string]*relSection)}
}

// ParseRel reads a REL document
func ParseRel(r io.Reader) (*Rel, error) {
	rel := NewRel()
	scanner := bufio.NewScanner(charmap.ISO8859_1.NewDecoder().Reader(r))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var current *relSection
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == ';' {
			continue
		}
		if line[0] == '[' {
			end := strings.IndexByte(line, ']')
			if end < 0 {
				return nil, fmt.Errorf("malformed section header %q", line)
			}
			current = rel.section(strings.TrimSpace(line[1:end]), true)
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 || current == nil {
			// Free text outside key=value pairs carries no metadata
			continue
		}
		current.set(strings.TrimSpace(line[:eq]), trimValue(line[eq+1:]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read REL: %w", err)
	}
	return rel, nil
}

func trimValue(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}
	return v
}

func (r *Rel) section(name string, create bool) *relSection {
	key := strings.ToLower(name)
	if s, ok := r.index[key]; ok {
		return s
	}
	if !create {
		return nil
	}
	s := &relSection{name: name, index: make(map[string]int)}
	r.sections = append(r.sections, s)
	r.index[key] = s
	return s
}

func (s *relSection) set(key, value string) {
	lk := strings.ToLower(key)
	if i, ok := s.index[lk]; ok {
		s.entries[i].value = value
		return
	}
	s.index[lk] = len(s.entries)
	s.entries = append(s.entries, relEntry{key: key, value: value})
}

// Value returns the value of key in section
func (r *Rel) Value(section, key string) (string, bool) {
	s := r.section(section, false)
	if s == nil {
		return "", false
	}
	i, ok := s.index[strings.ToLower(key)]
	if !ok {
		return "", false
	}
	return s.entries[i].value, true
}

// Lookup resolves key in [main:sub] first and then in [main].
// An empty sub looks in [main] only.
func (r *Rel) Lookup(main, sub, key string) (string, bool) {
	if sub != "" {
		if v, ok := r.Value(main+":"+sub, key); ok {
			return v, true
		}
	}
	return r.Value(main, key)
}

// HasSection reports whether the document contains section
func (r *Rel) HasSection(section string) bool {
	return r.section(section, false) != nil
}

// Set stores key=value in section, creating the section if needed.
// Existing keys keep their position.
func (r *Rel) Set(section, key, value string) {
	r.section(section, true).set(key, value)
}

// Sections returns the section names in document order
func (r *Rel) Sections() []string {
	names := make([]string, len(r.sections))
	for i, s := range r.sections {
		names[i] = s.name
	}
	return names
}

// Keys returns the keys of section in document order
func (r *Rel) Keys(section string) []string {
	s := r.section(section, false)
	if s == nil {
		return nil
	}
	keys := make([]string, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.key
	}
	return keys
}

// WriteTo writes the document as ISO-8859-1 text. Characters outside
// Latin-1 are replaced.
func (r *Rel) WriteTo(w io.Writer) (int64, error) {
	buf := GetBytesBuffer()
	defer PutBytesBuffer(buf)
	for i, s := range r.sections {
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(buf, "[%s]\n", s.name)
		for _, e := range s.entries {
			fmt.Fprintf(buf, "%s=%s\n", e.key, e.value)
		}
	}

	enc := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())
	out, err := enc.Bytes(buf.Bytes())
	if err != nil {
		return 0, fmt.Errorf("failed to encode REL: %w", err)
	}
	n, err := w.Write(out)
	return int64(n), err
}

// Bytes returns the encoded document
func (r *Rel) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = r.WriteTo(&buf)
	return buf.Bytes()
}
