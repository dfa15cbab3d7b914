package types

import (
	"context"

	"github.com/gotd/td/tg"
)

// FileLocator is the transient, per-request handle returned when a
// message is resolved to its backing file. Required to call
// stream_file; expires minutes after issuance and is never persisted
// to the metadata store.
type FileLocator struct {
	Location     tg.InputFileLocationClass
	DatacenterID int
}

// Message is the metadata the Stream Engine receives from the Upstream
// Client Handle when it resolves (channel_id, msg_id).
type Message struct {
	ChannelID    int64
	MsgID        int64
	Locator      FileLocator
	SizeBytes    int64
	Kind         Kind
	MimeType     string
	DisplayName  string
	FileUniqueID string
}

// BlobIterator yields successive ≤1 MiB chunks in strictly increasing
// offset order. Next returns io.EOF (wrapped) once the upstream sequence
// is exhausted. Close must be safe to call more than once and must not
// block on in-flight network activity longer than is necessary to
// cancel it.
type BlobIterator interface {
	Next(ctx context.Context) ([]byte, error)
	Close()
}
