// Package ingest implements the Ingest / Indexer component (C7): it
// turns a source message or an external URL into an archived, indexed
// file by forwarding it into the archive channel and recording the
// result through the Metadata Store.
package ingest

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultStateTTL is how long a pending conversational entry survives
// without activity before the cleanup loop reclaims it.
const defaultStateTTL = 10 * time.Minute

// UploadState holds the context of a direct file upload awaiting a
// display name (or other follow-up) from the user.
type UploadState struct {
	SrcMsgID    int64
	DisplayName string
}

// URLState holds the context of an external-URL ingest awaiting a
// quality selection from the user.
type URLState struct {
	RawURL     string
	Candidates []Candidate
}

// pendingEntry is the variant union of UploadState | URLState, tagged so
// State can refuse to type-assert the wrong one.
type pendingEntry struct {
	upload    *UploadState
	url       *URLState
	expiresAt time.Time
}

// State is the process-wide user_id -> UploadState|URLState map
// described in spec.md §3/§9, modeled directly on the donor's
// streamauth.sessionStore: a mutex-guarded map with a ticker-driven
// cleanup goroutine, generalized from session tokens to pending-ingest
// context.
type State struct {
	log *zap.Logger
	ttl time.Duration

	mu      sync.RWMutex
	entries map[int64]pendingEntry
	stopCh  chan struct{}
}

// NewState starts the TTL map and its cleanup loop. Callers must call
// Close on shutdown to stop the loop.
func NewState(log *zap.Logger) *State {
	s := &State{
		log:     log.Named("IngestState"),
		ttl:     defaultStateTTL,
		entries: make(map[int64]pendingEntry),
		stopCh:  make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *State) Close() {
	close(s.stopCh)
}

func (s *State) PutUpload(userID int64, st UploadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = pendingEntry{upload: &st, expiresAt: time.Now().Add(s.ttl)}
}

func (s *State) PutURL(userID int64, st URLState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = pendingEntry{url: &st, expiresAt: time.Now().Add(s.ttl)}
}

// TakeUpload removes and returns the pending UploadState for userID, if
// any is present and not expired.
func (s *State) TakeUpload(userID int64) (UploadState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok || e.upload == nil || time.Now().After(e.expiresAt) {
		return UploadState{}, false
	}
	delete(s.entries, userID)
	return *e.upload, true
}

// TakeURL removes and returns the pending URLState for userID, if any
// is present and not expired.
func (s *State) TakeURL(userID int64) (URLState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok || e.url == nil || time.Now().After(e.expiresAt) {
		return URLState{}, false
	}
	delete(s.entries, userID)
	return *e.url, true
}

func (s *State) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
}

func (s *State) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *State) cleanupExpired() {
	now := time.Now()
	removed := 0
	s.mu.Lock()
	for userID, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, userID)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()
	if removed > 0 {
		s.log.Debug("expired pending ingest entries removed",
			zap.Int("removed", removed), zap.Int("remaining", remaining))
	}
}
