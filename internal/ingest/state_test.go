package ingest

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStateUploadRoundTrip(t *testing.T) {
	s := NewState(zap.NewNop())
	defer s.Close()

	s.PutUpload(42, UploadState{SrcMsgID: 100, DisplayName: "movie.mkv"})

	if _, ok := s.TakeURL(42); ok {
		t.Fatalf("TakeURL should not find an upload entry")
	}

	got, ok := s.TakeUpload(42)
	if !ok {
		t.Fatalf("expected pending upload for user 42")
	}
	if got.SrcMsgID != 100 || got.DisplayName != "movie.mkv" {
		t.Fatalf("unexpected state: %+v", got)
	}

	if _, ok := s.TakeUpload(42); ok {
		t.Fatalf("entry should be consumed after Take")
	}
}

func TestStateURLRoundTrip(t *testing.T) {
	s := NewState(zap.NewNop())
	defer s.Close()

	cands := []Candidate{{Label: "720p", SizeBytes: 1024}}
	s.PutURL(7, URLState{RawURL: "https://example.com/f.mp4", Candidates: cands})

	got, ok := s.TakeURL(7)
	if !ok {
		t.Fatalf("expected pending URL state for user 7")
	}
	if got.RawURL != "https://example.com/f.mp4" || len(got.Candidates) != 1 {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestStateClear(t *testing.T) {
	s := NewState(zap.NewNop())
	defer s.Close()

	s.PutUpload(1, UploadState{SrcMsgID: 1})
	s.Clear(1)

	if _, ok := s.TakeUpload(1); ok {
		t.Fatalf("entry should be gone after Clear")
	}
}

func TestStateExpiry(t *testing.T) {
	s := &State{
		log:     zap.NewNop(),
		ttl:     time.Millisecond,
		entries: make(map[int64]pendingEntry),
		stopCh:  make(chan struct{}),
	}
	defer close(s.stopCh)

	s.PutUpload(9, UploadState{SrcMsgID: 9})
	time.Sleep(5 * time.Millisecond)

	if _, ok := s.TakeUpload(9); ok {
		t.Fatalf("expired entry should not be returned")
	}
}

func TestStateCleanupExpired(t *testing.T) {
	s := &State{
		log:     zap.NewNop(),
		ttl:     time.Millisecond,
		entries: make(map[int64]pendingEntry),
		stopCh:  make(chan struct{}),
	}
	defer close(s.stopCh)

	s.PutUpload(1, UploadState{SrcMsgID: 1})
	s.PutUpload(2, UploadState{SrcMsgID: 2})
	time.Sleep(5 * time.Millisecond)

	s.cleanupExpired()

	s.mu.RLock()
	remaining := len(s.entries)
	s.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("expected all entries reclaimed, got %d remaining", remaining)
	}
}
