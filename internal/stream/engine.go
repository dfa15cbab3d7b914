package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"tgarchive/internal/rangeparse"
	"tgarchive/internal/types"
)

// MaxRetries bounds the self-heal loop (spec: "recommended: 3").
const MaxRetries = 3

// Resolver is the subset of the Upstream Client Handle (C3) the engine
// needs: resolving a message to its current FileLocator.
type Resolver interface {
	GetMessage(ctx context.Context, channelID, msgID int64) (types.Message, error)
	// GetMessageFresh re-resolves (channelID, msgID) bypassing any cache,
	// invalidating whatever was previously cached. The self-heal path
	// calls this, never GetMessage, so a retry can never be handed back
	// the same stale locator that just failed with ErrReferenceExpired.
	GetMessageFresh(ctx context.Context, channelID, msgID int64) (types.Message, error)
}

// ChunkStreamer is the subset of the Session Pool (C4) the engine needs:
// opening a chunk iterator against a locator starting at a given chunk.
type ChunkStreamer interface {
	StreamFrom(ctx context.Context, locator types.FileLocator, startChunk int64) (types.BlobIterator, error)
}

// Engine implements C5: it turns a validated byte range into an exact
// sequence of bytes written to w, self-healing across expired file
// references and transient upstream failures.
type Engine struct {
	Resolver    Resolver
	Streamer    ChunkStreamer
	BlobTimeout time.Duration
	log         *zap.Logger
}

func New(resolver Resolver, streamer ChunkStreamer, blobTimeout time.Duration, log *zap.Logger) *Engine {
	return &Engine{Resolver: resolver, Streamer: streamer, BlobTimeout: blobTimeout, log: log.Named("StreamEngine")}
}

// Stream resolves (channelID, msgID), validates the Message's kind, and
// writes exactly rng.Want bytes of the file's [rng.Start, rng.End] slice
// to w. It returns the resolved types.Message so the HTTP surface can
// fill in headers (size, mime type, display name) before bytes start
// flowing — callers MUST call Stream only after they are ready to write
// a response body, since errors returned after the first successful
// write cannot change the response status.
func (e *Engine) Stream(ctx context.Context, channelID, msgID int64, rng rangeparse.Range, w io.Writer) (types.Message, error) {
	msg, err := e.Resolver.GetMessage(ctx, channelID, msgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.Message{}, ErrNotFound
		}
		return types.Message{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if rng.Want == 0 {
		// Zero-length file with a "full" (no-Range) request: a valid,
		// empty stream with nothing to fetch.
		return msg, nil
	}

	locator := msg.Locator
	delivered := int64(0)
	chunkOffset := rng.ChunkOffset
	headSkip := rng.HeadSkip
	want := rng.Want

	for attempt := 0; ; attempt++ {
		n, streamErr := e.drain(ctx, &locator, chunkOffset, headSkip, want-delivered, w)
		delivered += n

		if streamErr == nil {
			if delivered != want {
				e.log.Error("premature end of stream",
					zap.Int64("channelID", channelID), zap.Int64("msgID", msgID),
					zap.Int64("delivered", delivered), zap.Int64("want", want))
				return msg, ErrPrematureEOF
			}
			return msg, nil
		}

		if !retryable(streamErr) || attempt >= MaxRetries {
			if errors.Is(streamErr, context.Canceled) {
				// Client disconnect, not a broken stream: not logged as
				// an error, matching the HTTP layer's own demotion of
				// context.Canceled to Debug. Return streamErr itself
				// (rather than ErrStreamBroken) so that demotion can
				// actually see it.
				return msg, streamErr
			}
			e.log.Error("stream broken after retries",
				zap.Int64("channelID", channelID), zap.Int64("msgID", msgID),
				zap.Int("attempt", attempt), zap.Error(streamErr))
			if errors.Is(streamErr, ErrNotFound) || errors.Is(streamErr, ErrRangeNotSatisfiable) || errors.Is(streamErr, ErrUnauthorized) {
				return msg, streamErr
			}
			return msg, ErrStreamBroken
		}

		// B = S + delivered: the absolute byte position already written.
		b := rng.Start + delivered
		if errors.Is(streamErr, ErrReferenceExpired) {
			fresh, reErr := e.Resolver.GetMessageFresh(ctx, channelID, msgID)
			if reErr != nil {
				return msg, ErrStreamBroken
			}
			locator = fresh.Locator
		}
		chunkOffset = b / rangeparse.CHUNK
		headSkip = b % rangeparse.CHUNK

		e.log.Warn("self-healing stream",
			zap.Int64("channelID", channelID), zap.Int64("msgID", msgID),
			zap.Int("attempt", attempt+1), zap.Error(streamErr),
			zap.Int64("resumeChunkOffset", chunkOffset), zap.Int64("resumeHeadSkip", headSkip))

		sleepBackoff(ctx, attempt)
	}
}

// drain opens a fresh iterator at chunkOffset and copies bytes to w
// until want bytes have been delivered or the iterator ends/fails. It
// never mutates an iterator across retries — each call to drain, and
// thus each retry attempt, constructs its own iterator via StreamFrom.
func (e *Engine) drain(ctx context.Context, locator *types.FileLocator, chunkOffset, headSkip, want int64, w io.Writer) (int64, error) {
	if want <= 0 {
		return 0, nil
	}

	it, err := e.Streamer.StreamFrom(ctx, *locator, chunkOffset)
	if err != nil {
		return 0, classify(err)
	}
	defer it.Close()

	var delivered int64
	first := true
	for {
		blobCtx := ctx
		cancel := func() {}
		if e.BlobTimeout > 0 {
			blobCtx, cancel = context.WithTimeout(ctx, e.BlobTimeout)
		}
		blob, nextErr := it.Next(blobCtx)
		cancel()

		if nextErr != nil {
			if errors.Is(nextErr, io.EOF) {
				return delivered, nil
			}
			if blobCtx.Err() == context.DeadlineExceeded {
				return delivered, ErrBlobTimeout
			}
			return delivered, classify(nextErr)
		}

		if first {
			if headSkip > int64(len(blob)) {
				headSkip = int64(len(blob))
			}
			blob = blob[headSkip:]
			first = false
		}

		if delivered+int64(len(blob)) >= want {
			take := want - delivered
			if _, werr := w.Write(blob[:take]); werr != nil {
				return delivered, classify(werr)
			}
			return delivered + take, nil
		}

		if _, werr := w.Write(blob); werr != nil {
			return delivered, classify(werr)
		}
		delivered += int64(len(blob))
	}
}

// classify maps an arbitrary error from the upstream/session layer onto
// the stream error taxonomy. Callers below this package are expected to
// already return one of the sentinels directly; classify exists so a
// raw context/network error surfacing unexpectedly still lands in a
// retryable bucket rather than aborting the self-heal loop outright.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrReferenceExpired),
		errors.Is(err, ErrBlobTimeout),
		errors.Is(err, ErrNetworkTransient),
		errors.Is(err, ErrFloodLimited),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrPrematureEOF):
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
}

// sleepBackoff waits the schedule's delay for the given zero-based
// attempt index (100ms, 400ms, 1.6s, ...), or returns early if ctx is
// done.
func sleepBackoff(ctx context.Context, attempt int) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 4
	b.RandomizationFactor = 0
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
