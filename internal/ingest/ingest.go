package ingest

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"tgarchive/internal/metadata"
	"tgarchive/internal/types"
	"tgarchive/internal/upstream"
)

// Indexer implements C7: it forwards/uploads content into the archive
// channel and upserts the resulting ArchivedFile through the Metadata
// Store, grounded on the donor's forwarding utility
// (utils.ForwardMessages) generalized to an injected upstream.Client.
type Indexer struct {
	client        upstream.Client
	store         *metadata.Store
	archiveChanID int64
	publicBaseURL string
	scratchDir    string
	maxFileSizeMB int
	maxDurHours   int
	log           *zap.Logger

	bootstrapped sync.Map // int64 channelID -> bool

	editMu     sync.Mutex
	lastEditAt time.Time
}

// Options bundles the configuration New needs, lifted directly from
// config.ValueOf's ingest-relevant fields by the caller.
type Options struct {
	ArchiveChannelID int64
	PublicBaseURL    string
	ScratchDir       string
	MaxFileSizeMiB   int
	MaxDurationHours int
}

func New(client upstream.Client, store *metadata.Store, opts Options, log *zap.Logger) *Indexer {
	return &Indexer{
		client:        client,
		store:         store,
		archiveChanID: opts.ArchiveChannelID,
		publicBaseURL: opts.PublicBaseURL,
		scratchDir:    opts.ScratchDir,
		maxFileSizeMB: opts.MaxFileSizeMiB,
		maxDurHours:   opts.MaxDurationHours,
		log:           log.Named("Ingest"),
	}
}

// markBootstrapped records that the bot identity has successfully acted
// against channelID at least once.
func (ix *Indexer) markBootstrapped(channelID int64) {
	ix.bootstrapped.Store(channelID, true)
}

// IsBootstrapped reports whether ForwardToChannel/UploadFile/GetMessage
// has ever succeeded against channelID for this process. Callers
// fronting ingest with a user-facing command can use this to surface a
// clear "not verified yet" message instead of letting a first, possibly
// misconfigured, attempt fail with a raw upstream RPC error.
func (ix *Indexer) IsBootstrapped(channelID int64) bool {
	_, ok := ix.bootstrapped.Load(channelID)
	return ok
}

// HandleUpload implements spec.md §6's direct-upload flow: forward the
// source message to the archive channel, read back its new message id,
// resolve the forwarded message's media metadata, upsert an
// ArchivedFile, and return the stream URL.
func (ix *Indexer) HandleUpload(ctx context.Context, userID, srcChannelID, srcMsgID int64, displayName string) (*types.ArchivedFile, string, error) {
	newMsgID, err := ix.client.ForwardToChannel(ctx, srcChannelID, srcMsgID, ix.archiveChanID)
	if err != nil {
		return nil, "", fmt.Errorf("forward to archive channel: %w", err)
	}
	ix.markBootstrapped(ix.archiveChanID)

	msg, err := ix.client.GetMessageFresh(ctx, ix.archiveChanID, newMsgID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve forwarded message: %w", err)
	}

	name := displayName
	if name == "" {
		name = msg.DisplayName
	}

	af := types.ArchivedFile{
		MsgID:        newMsgID,
		ChannelID:    ix.archiveChanID,
		FileUniqueID: msg.FileUniqueID,
		DisplayName:  name,
		SizeBytes:    msg.SizeBytes,
		MimeType:     msg.MimeType,
		Kind:         msg.Kind,
		Source:       types.SourceDirectUpload,
		UploadedBy:   userID,
		CreatedAt:    time.Now(),
		IsActive:     true,
	}
	if err := ix.store.PutFile(ctx, af); err != nil {
		return nil, "", fmt.Errorf("index archived file: %w", err)
	}
	ix.log.Info("indexed direct upload",
		zap.Int64("userID", userID), zap.Int64("archiveMsgID", newMsgID), zap.Int64("sizeBytes", af.SizeBytes))
	return &af, af.StreamURL(ix.publicBaseURL), nil
}

// HandleExternalURL implements spec.md §6's external-URL flow: probe
// fetcher for candidates, let pick choose one, download it into a
// scratch file capped by size/duration, upload it to the archive
// channel, delete the scratch file unconditionally, and index the
// result.
func (ix *Indexer) HandleExternalURL(ctx context.Context, userID int64, fetcher ExternalFetcher, rawURL string, pick func([]Candidate) Candidate) (*types.ArchivedFile, string, error) {
	candidates, err := fetcher.Probe(ctx, rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("probe external url: %w", err)
	}
	if len(candidates) == 0 {
		return nil, "", fmt.Errorf("no candidates available for %s", rawURL)
	}
	chosen := pick(candidates)

	path, cleanup, err := scratchDownload(ctx, fetcher, ix.scratchDir, rawURL, chosen, ix.maxFileSizeMB, ix.maxDurHours)
	if err != nil {
		return nil, "", err
	}
	defer cleanup()

	displayName := filepath.Base(path) + filepath.Ext(rawURL)
	mimeType := mime.TypeByExtension(filepath.Ext(rawURL))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	newMsgID, err := ix.client.UploadFile(ctx, path, displayName, mimeType, ix.archiveChanID)
	if err != nil {
		return nil, "", fmt.Errorf("upload to archive channel: %w", err)
	}
	ix.markBootstrapped(ix.archiveChanID)

	msg, err := ix.client.GetMessageFresh(ctx, ix.archiveChanID, newMsgID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve uploaded message: %w", err)
	}

	af := types.ArchivedFile{
		MsgID:           newMsgID,
		ChannelID:       ix.archiveChanID,
		FileUniqueID:    msg.FileUniqueID,
		DisplayName:     displayName,
		SizeBytes:       msg.SizeBytes,
		MimeType:        msg.MimeType,
		Kind:            msg.Kind,
		DurationSeconds: chosen.DurationSeconds,
		QualityLabel:    chosen.Label,
		Source:          types.SourceExternalURL,
		ExternalURL:     rawURL,
		UploadedBy:      userID,
		CreatedAt:       time.Now(),
		IsActive:        true,
	}
	if err := ix.store.PutFile(ctx, af); err != nil {
		return nil, "", fmt.Errorf("index archived file: %w", err)
	}
	ix.log.Info("indexed external url",
		zap.Int64("userID", userID), zap.String("quality", chosen.Label), zap.Int64("sizeBytes", af.SizeBytes))
	return &af, af.StreamURL(ix.publicBaseURL), nil
}

// ShouldEditProgress rate-limits progress-message edits to at most
// once per second, per spec.md §4.7. Grounded on the same
// "timestamp + mutex" granularity the donor's flood-wait middleware
// uses for its own request pacing.
func (ix *Indexer) ShouldEditProgress() bool {
	ix.editMu.Lock()
	defer ix.editMu.Unlock()
	now := time.Now()
	if now.Sub(ix.lastEditAt) < time.Second {
		return false
	}
	ix.lastEditAt = now
	return true
}
