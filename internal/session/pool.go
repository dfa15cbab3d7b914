// Package session implements the Session Pool (C4): a map from upstream
// datacenter id to a pre-authenticated sub-session, shared by all
// concurrent stream requests so they never pay Telegram's ~10-15s
// re-authentication cost per request. Modeled on the donor's
// bot.BotWorkers (a process-wide, mutex-guarded slice of long-lived
// clients) but keyed by datacenter instead of by bot token.
//
// The donor's multi-token worker fleet (bot.GetNextWorker, per-worker
// request accounting) is wired in here rather than in internal/upstream:
// C4 already sits between the engine and the upstream handle on every
// stream request, so it is the natural place to pick which worker's
// session actually serves a given download and to bracket that
// worker's StartRequest/EndRequest around the iterator's real lifetime.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"tgarchive/internal/bot"
	"tgarchive/internal/types"
)

// Streamer is the subset of the Upstream Client Handle a pool entry
// delegates to once it holds the entry lock and has picked a worker.
type Streamer interface {
	StreamFile(ctx context.Context, worker *bot.Worker, locator types.FileLocator, startChunk int64) (types.BlobIterator, error)
}

// entry is a SessionPoolEntry: one pre-authenticated sub-session per
// datacenter, plus the mutex serializing access to it where the
// underlying protocol is single-request-per-connection.
type entry struct {
	mu sync.Mutex
}

// Pool multiplexes concurrent stream requests over per-datacenter
// entries. The pool-level mutex is only ever held for a map lookup/
// insert; the long-held lock is the per-entry one, released between
// independent streams rather than across them.
type Pool struct {
	upstream Streamer
	log      *zap.Logger

	mu      sync.Mutex
	entries map[int]*entry
}

func New(upstream Streamer, log *zap.Logger) *Pool {
	return &Pool{
		upstream: upstream,
		log:      log.Named("SessionPool"),
		entries:  make(map[int]*entry),
	}
}

func (p *Pool) entryFor(dc int) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[dc]
	if !ok {
		e = &entry{}
		p.entries[dc] = e
		p.log.Debug("created session pool entry", zap.Int("datacenter", dc))
	}
	return e
}

// StreamFrom resolves the datacenter from locator, acquires that
// datacenter's entry (waiting on its lock if another stream is mid-open
// on the same datacenter), picks the least-loaded worker via
// bot.GetNextWorker, and opens an iterator against that worker's
// session. The entry lock is held only for the duration of opening the
// iterator — the iterator itself is handed back unlocked, because
// Telegram permits many concurrent in-flight UploadGetFile calls per
// authorization; only establishing a new sub-session per datacenter
// needs serializing.
func (p *Pool) StreamFrom(ctx context.Context, locator types.FileLocator, startChunk int64) (types.BlobIterator, error) {
	e := p.entryFor(locator.DatacenterID)
	e.mu.Lock()
	defer e.mu.Unlock()

	worker := bot.GetNextWorker()
	if worker == nil {
		return nil, errors.New("session: no workers available to stream from")
	}

	it, err := p.open(ctx, worker, locator, startChunk)
	if err == nil {
		return it, nil
	}

	// The selected worker failed to even open a session (distinct from a
	// mid-stream failure, which internal/stream.Engine already
	// self-heals by calling StreamFrom again). Give the fleet one more
	// chance on a different identity before giving up.
	p.log.Warn("worker failed to open stream, trying a different one",
		zap.Int("workerID", worker.ID), zap.Error(err))
	alt := bot.GetNextWorkerExcluding([]int{worker.ID})
	if alt == nil {
		return nil, err
	}
	return p.open(ctx, alt, locator, startChunk)
}

// open brackets worker's active-request accounting around the
// iterator's real lifetime: StartRequest fires here, and EndRequest
// fires when the returned iterator is closed — whenever that happens,
// whether the stream finished, errored, or the client disconnected.
func (p *Pool) open(ctx context.Context, worker *bot.Worker, locator types.FileLocator, startChunk int64) (types.BlobIterator, error) {
	start := time.Now()
	worker.StartRequest()
	it, err := p.upstream.StreamFile(ctx, worker, locator, startChunk)
	if err != nil {
		worker.EndRequest(start, true)
		return nil, err
	}
	return &accountedIterator{inner: it, worker: worker, start: start}, nil
}

// accountedIterator wraps a types.BlobIterator so that closing it always
// records the worker's EndRequest, with failed set whenever the last
// Next call returned anything other than io.EOF.
type accountedIterator struct {
	inner  types.BlobIterator
	worker *bot.Worker
	start  time.Time
	failed bool
	closed bool
}

func (a *accountedIterator) Next(ctx context.Context) ([]byte, error) {
	b, err := a.inner.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		a.failed = true
	}
	return b, err
}

func (a *accountedIterator) Close() {
	if !a.closed {
		a.closed = true
		a.worker.EndRequest(a.start, a.failed)
	}
	a.inner.Close()
}

// Size reports the number of live entries, exposed for /status.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close tears down every entry on process shutdown. Entries hold no
// network resources of their own beyond the shared upstream client, so
// closing is just releasing the map; kept as an explicit step so
// shutdown ordering stays deterministic (spec §9: stop HTTP, cancel
// in-flight streams, close the handle — the pool closes last).
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[int]*entry)
}
