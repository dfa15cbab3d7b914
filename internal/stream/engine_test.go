package stream

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"go.uber.org/zap"

	"tgarchive/internal/rangeparse"
	"tgarchive/internal/types"
)

// fakeResolver always resolves to the same file; it counts calls so
// tests can assert the self-heal loop re-resolves exactly once per
// ReferenceExpired.
type fakeResolver struct {
	msg   types.Message
	calls int
}

func (f *fakeResolver) GetMessage(ctx context.Context, channelID, msgID int64) (types.Message, error) {
	f.calls++
	return f.msg, nil
}

func (f *fakeResolver) GetMessageFresh(ctx context.Context, channelID, msgID int64) (types.Message, error) {
	f.calls++
	return f.msg, nil
}

// fakeIterator slices a fixed in-memory file into CHUNK blobs starting
// at a given chunk, optionally raising ErrReferenceExpired once the
// cumulative number of bytes read across the whole fake (not just this
// iterator instance) reaches failAtByte.
type fakeIterator struct {
	data     []byte
	offset   int64
	state    *fakeStreamState
	exhausted bool
}

type fakeStreamState struct {
	failAtByte int64 // -1 disables
	totalRead  int64
	failed     bool
}

func (it *fakeIterator) Next(ctx context.Context) ([]byte, error) {
	if it.exhausted {
		return nil, io.EOF
	}
	if it.offset >= int64(len(it.data)) {
		it.exhausted = true
		return nil, io.EOF
	}

	end := it.offset + rangeparse.CHUNK
	if end > int64(len(it.data)) {
		end = int64(len(it.data))
	}
	blob := it.data[it.offset:end]

	if it.state.failAtByte >= 0 && !it.state.failed && it.state.totalRead+int64(len(blob)) > it.state.failAtByte {
		it.state.failed = true
		it.exhausted = true
		return nil, ErrReferenceExpired
	}

	it.offset = end
	it.state.totalRead += int64(len(blob))
	if it.offset >= int64(len(it.data)) {
		it.exhausted = true
	}
	return blob, nil
}

func (it *fakeIterator) Close() {}

type fakeStreamer struct {
	data  []byte
	state *fakeStreamState
	calls []int64 // chunkOffsets StreamFrom was called with
}

func (f *fakeStreamer) StreamFrom(ctx context.Context, locator types.FileLocator, startChunk int64) (types.BlobIterator, error) {
	f.calls = append(f.calls, startChunk)
	return &fakeIterator{data: f.data, offset: startChunk * rangeparse.CHUNK, state: f.state}, nil
}

func testFile(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func newEngine(data []byte) (*Engine, *fakeResolver, *fakeStreamer) {
	res := &fakeResolver{msg: types.Message{SizeBytes: int64(len(data)), Kind: types.KindDocument}}
	str := &fakeStreamer{data: data, state: &fakeStreamState{failAtByte: -1}}
	return New(res, str, 0, zap.NewNop()), res, str
}

func streamRange(t *testing.T, data []byte, header string) ([]byte, types.Message, error) {
	t.Helper()
	eng, _, _ := newEngine(data)
	rng, err := rangeparse.Parse(header, int64(len(data)))
	if err != nil {
		return nil, types.Message{}, err
	}
	var buf bytes.Buffer
	msg, err := eng.Stream(context.Background(), 1, 2, rng, &buf)
	return buf.Bytes(), msg, err
}

func TestByteExactnessAcrossSizes(t *testing.T) {
	sizes := []int{1, int(rangeparse.CHUNK) - 1, int(rangeparse.CHUNK), int(rangeparse.CHUNK) + 1, 3*int(rangeparse.CHUNK) + 123}
	for _, n := range sizes {
		data := testFile(n)
		got, _, err := streamRange(t, data, "")
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("n=%d: full read mismatch", n)
		}

		if n > 10 {
			s, e := n/3, n/3+7
			header := "bytes=" + itoa(int64(s)) + "-" + itoa(int64(e))
			got, _, err = streamRange(t, data, header)
			if err != nil {
				t.Fatalf("n=%d range: unexpected error: %v", n, err)
			}
			if !bytes.Equal(got, data[s:e+1]) {
				t.Fatalf("n=%d range: byte mismatch", n)
			}
		}
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestS1FullReadNoRange(t *testing.T) {
	const n = 1500000
	data := testFile(n)
	got, msg, err := streamRange(t, data, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != n {
		t.Fatalf("got %d bytes, want %d", len(got), n)
	}
	if msg.SizeBytes != n {
		t.Fatalf("msg.SizeBytes = %d, want %d", msg.SizeBytes, n)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("byte mismatch")
	}
}

func TestS2S3S4RangeScenarios(t *testing.T) {
	const n = 1500000
	data := testFile(n)

	cases := []struct {
		name   string
		header string
		s, e   int
	}{
		{"S2", "bytes=500000-1000000", 500000, 1000000},
		{"S3", "bytes=1048576-1499999", 1048576, 1499999},
		{"S4", "bytes=1400000-1499999", 1400000, 1499999},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := streamRange(t, data, tc.header)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := data[tc.s : tc.e+1]
			if !bytes.Equal(got, want) {
				t.Fatalf("byte mismatch: got %d bytes, want %d", len(got), len(want))
			}
		})
	}
}

func TestS5RangeNotSatisfiable(t *testing.T) {
	const n = 1500000
	_, err := rangeparse.Parse("bytes=1600000-1700000", n)
	if err != rangeparse.ErrRangeNotSatisfiable {
		t.Fatalf("expected ErrRangeNotSatisfiable, got %v", err)
	}
}

func TestS6SelfHealAcrossExpiredReference(t *testing.T) {
	const n = 3 * 1048576
	data := testFile(n)

	res := &fakeResolver{msg: types.Message{SizeBytes: n, Kind: types.KindDocument}}
	str := &fakeStreamer{data: data, state: &fakeStreamState{failAtByte: 1500000}}
	eng := New(res, str, 0, zap.NewNop())

	rng, err := rangeparse.Parse("bytes=0-3145727", n)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var buf bytes.Buffer
	_, err = eng.Stream(context.Background(), 1, 2, rng, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Fatal("byte mismatch after self-heal")
	}
	if res.calls != 2 {
		t.Fatalf("resolver calls = %d, want 2 (initial + one re-resolve)", res.calls)
	}
	// Second StreamFrom call should resume at chunk_offset=1 (B=1500000 div CHUNK = 1).
	if len(str.calls) != 2 || str.calls[1] != 1 {
		t.Fatalf("resume chunk offsets = %v, want second call at chunk 1", str.calls)
	}
}

func TestPrematureEOF(t *testing.T) {
	const n = 1000
	data := testFile(n)
	res := &fakeResolver{msg: types.Message{SizeBytes: n, Kind: types.KindDocument}}
	str := &shortStreamer{data: data[:n/2]} // upstream ends early, below `want`
	eng := New(res, str, 0, zap.NewNop())

	rng, _ := rangeparse.Parse("", n)
	var buf bytes.Buffer
	_, err := eng.Stream(context.Background(), 1, 2, rng, &buf)
	if err != ErrPrematureEOF {
		t.Fatalf("expected ErrPrematureEOF, got %v", err)
	}
}

// shortStreamer always returns an iterator over a truncated payload and
// never errors — it simulates upstream silently running out of blobs
// before `want` bytes were delivered, with no retryable error to
// trigger self-heal (retries would not help since the data is just
// gone).
type shortStreamer struct{ data []byte }

func (s *shortStreamer) StreamFrom(ctx context.Context, locator types.FileLocator, startChunk int64) (types.BlobIterator, error) {
	return &fakeIterator{data: s.data, offset: startChunk * rangeparse.CHUNK, state: &fakeStreamState{failAtByte: -1}}, nil
}

func TestUnknownFileReturnsNotFoundWithoutUpstreamCall(t *testing.T) {
	str := &fakeStreamer{data: nil, state: &fakeStreamState{failAtByte: -1}}
	res := &notFoundResolver{}
	eng := New(res, str, 0, zap.NewNop())

	rng, _ := rangeparse.Parse("", 10)
	var buf bytes.Buffer
	_, err := eng.Stream(context.Background(), 1, 2, rng, &buf)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(str.calls) != 0 {
		t.Fatalf("expected no upstream StreamFrom calls, got %d", len(str.calls))
	}
}

// cancelingIterator simulates a client disconnecting mid-transfer: every
// Next call fails with context.Canceled, never a retryable error.
type cancelingIterator struct{}

func (it *cancelingIterator) Next(ctx context.Context) ([]byte, error) {
	return nil, context.Canceled
}

func (it *cancelingIterator) Close() {}

type cancelingStreamer struct{}

func (s *cancelingStreamer) StreamFrom(ctx context.Context, locator types.FileLocator, startChunk int64) (types.BlobIterator, error) {
	return &cancelingIterator{}, nil
}

func TestClientDisconnectReturnsCanceledNotStreamBroken(t *testing.T) {
	const n = 1000
	res := &fakeResolver{msg: types.Message{SizeBytes: n, Kind: types.KindDocument}}
	eng := New(res, &cancelingStreamer{}, 0, zap.NewNop())

	rng, _ := rangeparse.Parse("", n)
	var buf bytes.Buffer
	_, err := eng.Stream(context.Background(), 1, 2, rng, &buf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled to propagate, got %v", err)
	}
	if errors.Is(err, ErrStreamBroken) {
		t.Fatalf("client disconnect must not be reported as ErrStreamBroken")
	}
}

type notFoundResolver struct{}

func (n *notFoundResolver) GetMessage(ctx context.Context, channelID, msgID int64) (types.Message, error) {
	return types.Message{}, ErrNotFound
}

func (n *notFoundResolver) GetMessageFresh(ctx context.Context, channelID, msgID int64) (types.Message, error) {
	return types.Message{}, ErrNotFound
}
