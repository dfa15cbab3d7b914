// Package rangeparse implements the HTTP Range parsing and chunk-plan
// arithmetic described in spec.md §4.1 (C1). It wraps
// github.com/quantumsheep/range-parser (already used by the donor's
// /direct route) for header tokenizing, then independently computes the
// chunk plan the Stream Engine consumes — the third-party parser is
// never trusted to clamp E to N-1; an out-of-bounds E is rejected.
package rangeparse

import (
	"errors"
	"strings"

	range_parser "github.com/quantumsheep/range-parser"
)

// CHUNK is the upstream protocol's fixed transfer unit. This exact
// value is a wire constant; passing raw byte offsets where a chunk
// index is expected corrupts every request (spec.md §6).
const CHUNK int64 = 1048576

// ErrRangeNotSatisfiable is returned for any request the HTTP layer
// must answer with 416.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// Range is a validated, satisfiable byte range plus its chunk plan.
type Range struct {
	Start int64
	End   int64
	Full  bool // true when no Range header was present

	ChunkOffset int64 // S div CHUNK
	HeadSkip    int64 // S mod CHUNK
	Want        int64 // E - S + 1
}

// Parse validates header against a file of the given size and computes
// the chunk plan. header is the raw value of the HTTP Range header
// (empty string means none was sent).
func Parse(header string, size int64) (Range, error) {
	if size < 0 {
		return Range{}, ErrRangeNotSatisfiable
	}
	if header == "" {
		if size == 0 {
			return plan(0, -1, true), nil
		}
		return plan(0, size-1, true), nil
	}

	// Multi-range requests are not supported; reject before handing the
	// header to the third-party parser, which would otherwise just
	// return the first range and silently ignore the rest.
	if strings.Contains(header, ",") {
		return Range{}, ErrRangeNotSatisfiable
	}

	ranges, err := range_parser.Parse(size, header)
	if err != nil || len(ranges) != 1 {
		return Range{}, ErrRangeNotSatisfiable
	}

	start, end := ranges[0].Start, ranges[0].End
	if start < 0 || end < start || end >= size {
		return Range{}, ErrRangeNotSatisfiable
	}

	return plan(start, end, false), nil
}

func plan(start, end int64, full bool) Range {
	want := end - start + 1
	if want < 0 {
		want = 0
	}
	return Range{
		Start:       start,
		End:         end,
		Full:        full,
		ChunkOffset: start / CHUNK,
		HeadSkip:    start % CHUNK,
		Want:        want,
	}
}
