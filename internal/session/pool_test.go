package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"go.uber.org/zap"

	"tgarchive/internal/bot"
	"tgarchive/internal/types"
)

type fakeIterator struct {
	closed bool
}

func (f *fakeIterator) Next(ctx context.Context) ([]byte, error) { return nil, io.EOF }
func (f *fakeIterator) Close()                                   { f.closed = true }

type fakeStreamer struct {
	mu      sync.Mutex
	calls   []int
	workers []int
	failFor int // worker ID that should fail to open once; 0 disables
}

func (f *fakeStreamer) StreamFile(ctx context.Context, worker *bot.Worker, locator types.FileLocator, startChunk int64) (types.BlobIterator, error) {
	f.mu.Lock()
	f.calls = append(f.calls, locator.DatacenterID)
	f.workers = append(f.workers, worker.ID)
	fail := f.failFor != 0 && worker.ID == f.failFor
	f.mu.Unlock()
	if fail {
		return nil, errors.New("simulated open failure")
	}
	return &fakeIterator{}, nil
}

// setWorkers replaces the global worker fleet for the duration of a
// test; bot.GetNextWorker/GetNextWorkerExcluding read this singleton.
func setWorkers(t *testing.T, ids ...int) {
	t.Helper()
	bot.Workers.Init(zap.NewNop())
	workers := make([]*bot.Worker, 0, len(ids))
	for _, id := range ids {
		workers = append(workers, &bot.Worker{ID: id})
	}
	bot.Workers.Bots = workers
	t.Cleanup(func() { bot.Workers.Bots = nil })
}

func TestPoolCreatesOneEntryPerDatacenter(t *testing.T) {
	setWorkers(t, 1)
	streamer := &fakeStreamer{}
	p := New(streamer, zap.NewNop())

	if p.Size() != 0 {
		t.Fatalf("expected empty pool, got size %d", p.Size())
	}

	if _, err := p.StreamFrom(context.Background(), types.FileLocator{DatacenterID: 2}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size() != 1 {
		t.Fatalf("expected 1 entry after first stream, got %d", p.Size())
	}

	if _, err := p.StreamFrom(context.Background(), types.FileLocator{DatacenterID: 2}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size() != 1 {
		t.Fatalf("expected entry reuse for the same datacenter, got size %d", p.Size())
	}

	if _, err := p.StreamFrom(context.Background(), types.FileLocator{DatacenterID: 5}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size() != 2 {
		t.Fatalf("expected a second entry for a different datacenter, got size %d", p.Size())
	}
}

func TestPoolClose(t *testing.T) {
	setWorkers(t, 1)
	streamer := &fakeStreamer{}
	p := New(streamer, zap.NewNop())

	_, _ = p.StreamFrom(context.Background(), types.FileLocator{DatacenterID: 1}, 0)
	if p.Size() != 1 {
		t.Fatalf("expected 1 entry, got %d", p.Size())
	}

	p.Close()
	if p.Size() != 0 {
		t.Fatalf("expected pool empty after Close, got %d", p.Size())
	}
}

func TestPoolSerializesConcurrentStreamsOnSameDatacenter(t *testing.T) {
	setWorkers(t, 1)
	streamer := &fakeStreamer{}
	p := New(streamer, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.StreamFrom(context.Background(), types.FileLocator{DatacenterID: 3}, 0)
		}()
	}
	wg.Wait()

	if p.Size() != 1 {
		t.Fatalf("expected a single shared entry for one datacenter, got %d", p.Size())
	}
	if len(streamer.calls) != 20 {
		t.Fatalf("expected all 20 calls to reach the upstream, got %d", len(streamer.calls))
	}
}

func TestPoolNoWorkersAvailable(t *testing.T) {
	setWorkers(t)
	streamer := &fakeStreamer{}
	p := New(streamer, zap.NewNop())

	_, err := p.StreamFrom(context.Background(), types.FileLocator{DatacenterID: 1}, 0)
	if err == nil {
		t.Fatalf("expected an error when no workers are registered")
	}
}

func TestPoolAccountsActiveRequestsAcrossIteratorLifetime(t *testing.T) {
	setWorkers(t, 1)
	streamer := &fakeStreamer{}
	p := New(streamer, zap.NewNop())

	it, err := p.StreamFrom(context.Background(), types.FileLocator{DatacenterID: 1}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	worker := bot.Workers.Bots[0]
	if worker.GetActiveRequests() != 1 {
		t.Fatalf("expected the worker to show 1 active request while the iterator is open, got %d", worker.GetActiveRequests())
	}

	it.Close()
	if worker.GetActiveRequests() != 0 {
		t.Fatalf("expected active requests back to 0 after Close, got %d", worker.GetActiveRequests())
	}
	if worker.GetMetrics().TotalRequests != 1 {
		t.Fatalf("expected 1 total request recorded, got %d", worker.GetMetrics().TotalRequests)
	}
}

func TestPoolRetriesOnAnotherWorkerWhenOpenFails(t *testing.T) {
	setWorkers(t, 1, 2)
	streamer := &fakeStreamer{failFor: 1}
	p := New(streamer, zap.NewNop())

	// GetNextWorker's scoring always prefers the lowest-ID, least-loaded
	// worker first, so worker 1 is picked, fails to open, and the pool
	// must fall back to worker 2 rather than surfacing the error.
	it, err := p.StreamFrom(context.Background(), types.FileLocator{DatacenterID: 1}, 0)
	if err != nil {
		t.Fatalf("expected the pool to fall back to the other worker, got error: %v", err)
	}
	it.Close()

	streamer.mu.Lock()
	defer streamer.mu.Unlock()
	if len(streamer.workers) != 2 || streamer.workers[0] != 1 || streamer.workers[1] != 2 {
		t.Fatalf("expected an attempt on worker 1 then worker 2, got %v", streamer.workers)
	}
}
