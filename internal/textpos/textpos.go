// Package textpos converts between absolute byte offsets in source text and
// 0-based line/character positions. Characters are counted in UTF-16 code
// units, the unit editors use on the wire.
package textpos

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Position is a 0-based line/character pair.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Compare returns -1, 0 or +1 as p sorts before, equal to, or after o.
func (p Position) Compare(o Position) int {
	switch {
	case p.Line < o.Line:
		return -1
	case p.Line > o.Line:
		return 1
	case p.Character < o.Character:
		return -1
	case p.Character > o.Character:
		return 1
	}
	return 0
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool { return p.Compare(o) < 0 }

func (p Position) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Character) }

// Range is a half-open span of positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Contains reports whether p lies inside r. The end position is inclusive so
// a cursor placed right after an identifier still hits it.
func (r Range) Contains(p Position) bool {
	return r.Start.Compare(p) <= 0 && p.Compare(r.End) <= 0
}

// Encloses reports whether o lies entirely within r.
func (r Range) Encloses(o Range) bool {
	return r.Start.Compare(o.Start) <= 0 && o.End.Compare(r.End) <= 0
}

// Lines returns the number of lines the range spans.
func (r Range) Lines() int { return r.End.Line - r.Start.Line + 1 }

func (r Range) String() string { return r.Start.String() + "-" + r.End.String() }

// LineIndex caches line start offsets for repeated conversions over the same
// text. Line breaks are "\n", "\r\n" and a lone "\r".
type LineIndex struct {
	text   string
	starts []int
}

// NewLineIndex scans text once and records where every line begins.
func NewLineIndex(text string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			starts = append(starts, i+1)
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{text: text, starts: starts}
}

// LineCount returns the number of lines in the text.
func (ix *LineIndex) LineCount() int { return len(ix.starts) }

// PositionOf converts a byte offset to a Position. Offsets outside the text
// are clamped to its bounds.
func (ix *LineIndex) PositionOf(offset int) Position {
	offset = clamp(offset, 0, len(ix.text))
	line := sort.Search(len(ix.starts), func(i int) bool { return ix.starts[i] > offset }) - 1
	start := ix.starts[line]
	return Position{Line: line, Character: utf16Len(ix.text[start:offset])}
}

// OffsetOf converts a Position back to a byte offset. A character past the
// end of its line maps to the end of that line; a line past the end of the
// text maps to len(text).
func (ix *LineIndex) OffsetOf(p Position) int {
	if p.Line < 0 {
		return 0
	}
	if p.Line >= len(ix.starts) {
		return len(ix.text)
	}
	start := ix.starts[p.Line]
	end := ix.lineEnd(p.Line)
	units := 0
	for off := start; off < end; {
		if units >= p.Character {
			return off
		}
		r, size := utf8.DecodeRuneInString(ix.text[off:])
		units += runeUTF16(r)
		off += size
	}
	return end
}

// RangeOf converts a [start, end) byte span to a Range.
func (ix *LineIndex) RangeOf(start, end int) Range {
	return Range{Start: ix.PositionOf(start), End: ix.PositionOf(end)}
}

// lineEnd returns the offset of the first line-break byte of line, or
// len(text) for the last line.
func (ix *LineIndex) lineEnd(line int) int {
	if line+1 >= len(ix.starts) {
		return len(ix.text)
	}
	end := ix.starts[line+1] - 1
	if end > ix.starts[line] && ix.text[end] == '\n' && ix.text[end-1] == '\r' {
		end--
	}
	return end
}

// PositionAt is a one-shot PositionOf without caching.
func PositionAt(text string, offset int) Position {
	return NewLineIndex(text).PositionOf(offset)
}

// OffsetAt is a one-shot OffsetOf without caching.
func OffsetAt(text string, p Position) int {
	return NewLineIndex(text).OffsetOf(p)
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUTF16(r)
	}
	return n
}

func runeUTF16(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
