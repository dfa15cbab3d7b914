package rangeparse

import "testing"

func TestParseNoHeader(t *testing.T) {
	r, err := Parse("", 1500000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Full || r.Start != 0 || r.End != 1499999 || r.Want != 1500000 {
		t.Fatalf("unexpected range: %+v", r)
	}
}

func TestParseScenarios(t *testing.T) {
	const size = 1500000

	cases := []struct {
		name                       string
		header                     string
		wantStart, wantEnd, wantW  int64
		wantChunkOffset, wantSkip  int64
	}{
		{"S2", "bytes=500000-1000000", 500000, 1000000, 500001, 0, 500000},
		{"S3", "bytes=1048576-1499999", 1048576, 1499999, 451424, 1, 0},
		{"S4", "bytes=1400000-1499999", 1400000, 1499999, 100000, 1, 351424},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Parse(tc.header, size)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Start != tc.wantStart || r.End != tc.wantEnd || r.Want != tc.wantW {
				t.Fatalf("got start=%d end=%d want=%d", r.Start, r.End, r.Want)
			}
			if r.ChunkOffset != tc.wantChunkOffset || r.HeadSkip != tc.wantSkip {
				t.Fatalf("got chunkOffset=%d headSkip=%d, want %d/%d", r.ChunkOffset, r.HeadSkip, tc.wantChunkOffset, tc.wantSkip)
			}
		})
	}
}

func TestParseUnsatisfiable(t *testing.T) {
	const size = 1500000
	cases := []string{
		"bytes=5-2",
		"bytes=1600000-1700000",
		"bytes=0-1,5-6",
		"not a range",
	}
	for _, header := range cases {
		if _, err := Parse(header, size); err != ErrRangeNotSatisfiable {
			t.Fatalf("header %q: expected ErrRangeNotSatisfiable, got %v", header, err)
		}
	}
}

func TestParseStartAtOrPastSize(t *testing.T) {
	if _, err := Parse("bytes=1500000-", 1500000); err != ErrRangeNotSatisfiable {
		t.Fatalf("expected ErrRangeNotSatisfiable, got %v", err)
	}
}

func TestParseChunkPlanProperty(t *testing.T) {
	const size = 10*CHUNK + 7
	for s := int64(0); s <= 10*CHUNK; s += 12345 {
		r, err := Parse("bytes="+itoa(s)+"-", size)
		if err != nil {
			t.Fatalf("s=%d: unexpected error: %v", s, err)
		}
		if r.ChunkOffset != s/CHUNK {
			t.Fatalf("s=%d: chunkOffset=%d want %d", s, r.ChunkOffset, s/CHUNK)
		}
		if r.HeadSkip != s%CHUNK {
			t.Fatalf("s=%d: headSkip=%d want %d", s, r.HeadSkip, s%CHUNK)
		}
		if r.Want != size-s {
			t.Fatalf("s=%d: want=%d expected %d", s, r.Want, size-s)
		}
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
