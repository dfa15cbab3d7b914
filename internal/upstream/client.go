// Package upstream implements the Upstream Client Handle (C3): an
// explicit, injected handle around the authenticated chat-platform
// session, replacing the donor's implicit package-level client. It
// resolves messages to FileLocators and opens chunked download
// iterators; it never multiplexes across datacenters itself — that is
// the Session Pool's (C4) job.
package upstream

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/ext"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"tgarchive/internal/bot"
	"tgarchive/internal/cache"
	"tgarchive/internal/stream"
	"tgarchive/internal/types"
	"tgarchive/internal/utils"
)

// messageCacheTTLSeconds bounds how long a resolved Message (and its
// FileLocator) is trusted without re-asking Telegram. Short relative to
// the locator's multi-minute expiry window so a cache hit never
// meaningfully increases the odds of handing out an expired reference.
const messageCacheTTLSeconds = 240

func init() {
	// types.Message embeds a FileLocator whose Location field is an
	// interface (tg.InputFileLocationClass); gob requires every concrete
	// type that can occupy it to be registered before the first Encode.
	gob.Register(tg.InputDocumentFileLocation{})
	gob.Register(tg.InputPhotoFileLocation{})
}

// Client is the capability set the core depends on (spec §4.3). The
// concrete implementation is bound to one bot.Worker — the default
// worker, the only identity guaranteed admin rights on the archive
// channel — for resolving/forwarding/uploading. StreamFile is the one
// capability callers can direct at an arbitrary worker: it takes the
// worker explicitly so internal/session.Pool (C4) can spread download
// RPCs across the whole MULTI_TOKEN fleet instead of pinning every
// request to the bound default.
type Client interface {
	Start(ctx context.Context) error
	GetMessage(ctx context.Context, channelID, msgID int64) (types.Message, error)
	GetMessageFresh(ctx context.Context, channelID, msgID int64) (types.Message, error)
	ForwardToChannel(ctx context.Context, srcChannelID int64, srcMsgID int64, dstChannelID int64) (int64, error)
	// UploadFile pushes a local file into dstChannelID as a new document
	// message (the external-URL ingest path, which has no existing
	// Telegram message to forward) and returns the new message id.
	UploadFile(ctx context.Context, localPath, displayName, mimeType string, dstChannelID int64) (int64, error)
	// StreamFile opens a chunk iterator against worker's own session
	// rather than the Client's bound default, so the caller controls
	// which bot identity's connection serves the download.
	StreamFile(ctx context.Context, worker *bot.Worker, locator types.FileLocator, startChunk int64) (types.BlobIterator, error)
	Idle(ctx context.Context) error
}

type telegramClient struct {
	worker *bot.Worker
	log    *zap.Logger
}

// New wraps an already-started worker as an Upstream Client Handle.
func New(worker *bot.Worker, log *zap.Logger) Client {
	return &telegramClient{worker: worker, log: log.Named("Upstream")}
}

// Start is idempotent: the gotgproto.Client backing the worker is
// already connected and authenticated by the time a worker exists
// (bot.StartWorkers/bot.StartClient), so there is nothing left to do.
func (c *telegramClient) Start(ctx context.Context) error {
	return nil
}

func (c *telegramClient) Idle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.worker.Client.Idle()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// messageCacheKey scopes a cached Message by channel, message, and the
// worker identity that resolved it — a locator resolved by one bot
// session is not guaranteed meaningful to another.
func (c *telegramClient) messageCacheKey(channelID, msgID int64) string {
	return fmt.Sprintf("msg:%d:%d:%d", channelID, msgID, c.worker.Self.ID)
}

// GetMessage resolves (channelID, msgID) to its current Message,
// consulting the short-TTL cache first. Grounded on the donor's
// FileFromMessageAndChannel, generalized from types.File to
// types.Message and from a hardcoded cache struct to the generic one.
func (c *telegramClient) GetMessage(ctx context.Context, channelID, msgID int64) (types.Message, error) {
	key := c.messageCacheKey(channelID, msgID)
	if ch := cache.GetCache(); ch != nil {
		var cached types.Message
		if err := ch.Get(key, &cached); err == nil {
			return cached, nil
		}
	}
	return c.resolveMessage(ctx, channelID, msgID, key)
}

// GetMessageFresh bypasses and refreshes the cache entry for
// (channelID, msgID). The Stream Engine calls this — never GetMessage —
// when self-healing after ErrReferenceExpired, so a retry can never
// hand back the same stale locator that just failed. Grounded on the
// donor's RefetchFileFromMessageAndChannel "invalidate then refetch"
// pattern.
func (c *telegramClient) GetMessageFresh(ctx context.Context, channelID, msgID int64) (types.Message, error) {
	key := c.messageCacheKey(channelID, msgID)
	if ch := cache.GetCache(); ch != nil {
		_ = ch.Delete(key)
	}
	return c.resolveMessage(ctx, channelID, msgID, key)
}

func (c *telegramClient) resolveMessage(ctx context.Context, channelID, msgID int64, cacheKey string) (types.Message, error) {
	channel, err := utils.GetChannelPeer(ctx, c.worker.Client.API(), c.worker.Client.PeerStorage, channelID)
	if err != nil {
		return types.Message{}, fmt.Errorf("%w: %v", stream.ErrNotFound, err)
	}

	res, err := c.worker.Client.API().ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: channel,
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: int(msgID)}},
	})
	if err != nil {
		return types.Message{}, classifyRPC(err)
	}

	msgs, ok := res.(*tg.MessagesChannelMessages)
	if !ok || len(msgs.Messages) == 0 {
		return types.Message{}, stream.ErrNotFound
	}
	tgMsg, ok := msgs.Messages[0].(*tg.Message)
	if !ok || tgMsg.Media == nil {
		return types.Message{}, stream.ErrNotFound
	}

	msg, err := messageFromMedia(channelID, msgID, tgMsg.Media)
	if err != nil {
		return types.Message{}, err
	}

	if ch := cache.GetCache(); ch != nil {
		if cacheErr := ch.Set(cacheKey, msg, messageCacheTTLSeconds); cacheErr != nil {
			c.log.Warn("failed to cache resolved message (continuing without cache)", zap.Error(cacheErr))
		}
	}
	return msg, nil
}

func (c *telegramClient) ForwardToChannel(ctx context.Context, srcChannelID, srcMsgID, dstChannelID int64) (int64, error) {
	egoCtx := &ext.Context{Context: ctx, Raw: c.worker.Client.API(), PeerStorage: c.worker.Client.PeerStorage}
	fromPeer := egoCtx.PeerStorage.GetInputPeerById(srcChannelID)
	if fromPeer.Zero() {
		return 0, fmt.Errorf("%w: source channel %d is not a known peer", stream.ErrNotFound, srcChannelID)
	}
	toChannel, err := utils.GetChannelPeer(ctx, egoCtx.Raw, egoCtx.PeerStorage, dstChannelID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve archive channel: %w", err)
	}

	updates, err := egoCtx.Raw.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		RandomID: []int64{rand.Int63()},
		FromPeer: fromPeer,
		ID:       []int{int(srcMsgID)},
		ToPeer:   &tg.InputPeerChannel{ChannelID: toChannel.ChannelID, AccessHash: toChannel.AccessHash},
	})
	if err != nil {
		return 0, classifyRPC(err)
	}
	upd, ok := updates.(*tg.Updates)
	if !ok {
		return 0, errors.New("unexpected forward response type")
	}
	for _, u := range upd.Updates {
		if nm, ok := u.(*tg.UpdateNewChannelMessage); ok {
			if m, ok := nm.Message.(*tg.Message); ok {
				return int64(m.ID), nil
			}
		}
	}
	return 0, errors.New("forwarded message id not found in response")
}

// UploadFile streams localPath's bytes to Telegram via the gotd/td
// uploader helper and sends the result as a document message to
// dstChannelID, returning the new message id. Grounded on
// ForwardToChannel's peer-resolution and response-parsing shape; the
// upload step itself is the one piece of the flow with no donor
// precedent, since the donor never originates uploads of its own.
func (c *telegramClient) UploadFile(ctx context.Context, localPath, displayName, mimeType string, dstChannelID int64) (int64, error) {
	toChannel, err := utils.GetChannelPeer(ctx, c.worker.Client.API(), c.worker.Client.PeerStorage, dstChannelID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve archive channel: %w", err)
	}

	up := uploader.NewUploader(c.worker.Client.API())
	inputFile, err := up.FromPath(ctx, localPath)
	if err != nil {
		return 0, fmt.Errorf("upload %s: %w", localPath, classifyRPC(err))
	}

	media := &tg.InputMediaUploadedDocument{
		File:     inputFile,
		MimeType: mimeType,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: displayName},
		},
	}

	updates, err := c.worker.Client.API().MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     &tg.InputPeerChannel{ChannelID: toChannel.ChannelID, AccessHash: toChannel.AccessHash},
		Media:    media,
		RandomID: rand.Int63(),
	})
	if err != nil {
		return 0, classifyRPC(err)
	}
	upd, ok := updates.(*tg.Updates)
	if !ok {
		return 0, errors.New("unexpected send-media response type")
	}
	for _, u := range upd.Updates {
		if nm, ok := u.(*tg.UpdateNewChannelMessage); ok {
			if m, ok := nm.Message.(*tg.Message); ok {
				return int64(m.ID), nil
			}
		}
	}
	return 0, errors.New("uploaded message id not found in response")
}

// StreamFile opens a chunk iterator starting at startChunk against
// worker's own API client rather than c.worker — internal/session.Pool
// calls this after acquiring the right datacenter's entry lock and
// picking a worker via bot.GetNextWorker, so download RPCs spread
// across the fleet instead of always hitting the bound default.
func (c *telegramClient) StreamFile(ctx context.Context, worker *bot.Worker, locator types.FileLocator, startChunk int64) (types.BlobIterator, error) {
	return newChunkIterator(worker.Client.API(), locator, startChunk), nil
}

func messageFromMedia(channelID, msgID int64, media tg.MessageMediaClass) (types.Message, error) {
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.AsNotEmpty()
		if !ok {
			return types.Message{}, stream.ErrNotFound
		}
		var name string
		for _, attr := range doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				name = fn.FileName
			}
		}
		kind := types.KindDocument
		for _, attr := range doc.Attributes {
			switch attr.(type) {
			case *tg.DocumentAttributeVideo:
				kind = types.KindVideo
			case *tg.DocumentAttributeAudio:
				kind = types.KindAudio
			}
		}
		uniqueID := (&types.HashableFileStruct{
			FileName: name,
			FileSize: doc.Size,
			MimeType: doc.MimeType,
			FileID:   doc.ID,
		}).Pack()
		return types.Message{
			ChannelID:    channelID,
			MsgID:        msgID,
			SizeBytes:    doc.Size,
			MimeType:     doc.MimeType,
			Kind:         kind,
			DisplayName:  name,
			FileUniqueID: uniqueID,
			Locator: types.FileLocator{
				Location:     doc.AsInputDocumentFileLocation(),
				DatacenterID: doc.DCID,
			},
		}, nil
	default:
		return types.Message{}, fmt.Errorf("%w: unsupported media type %T", stream.ErrNotFound, media)
	}
}

// classifyRPC maps a raw gotd/td RPC error onto the stream package's
// error taxonomy. This is the single point where string/code matching
// against upstream error text happens; everything above this layer
// deals only in sentinel errors.
func classifyRPC(err error) error {
	if err == nil {
		return nil
	}
	if tgerr.Is(err, "FILE_REFERENCE_EXPIRED") {
		return stream.ErrReferenceExpired
	}
	if tgerr.Is(err, "CHANNEL_INVALID", "CHANNEL_PRIVATE", "MESSAGE_ID_INVALID") {
		return fmt.Errorf("%w: %v", stream.ErrNotFound, err)
	}
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "USER_DEACTIVATED", "SESSION_REVOKED") {
		return fmt.Errorf("%w: %v", stream.ErrUnauthorized, err)
	}
	if tgerr.Is(err, "FLOOD_WAIT") {
		return fmt.Errorf("%w: %v", stream.ErrFloodLimited, err)
	}
	return fmt.Errorf("%w: %v", stream.ErrNetworkTransient, err)
}
