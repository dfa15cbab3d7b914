package upstream

import (
	"errors"
	"testing"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgarchive/internal/bot"
	"tgarchive/internal/stream"
	"tgarchive/internal/types"
)

func TestMessageFromMediaDocument(t *testing.T) {
	doc := &tg.Document{
		ID:       42,
		Size:     123456,
		MimeType: "video/mp4",
		DCID:     2,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: "clip.mp4"},
			&tg.DocumentAttributeVideo{},
		},
	}
	media := &tg.MessageMediaDocument{Document: doc}

	msg, err := messageFromMedia(100, 200, media)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ChannelID != 100 || msg.MsgID != 200 {
		t.Fatalf("unexpected ids: %+v", msg)
	}
	if msg.DisplayName != "clip.mp4" {
		t.Fatalf("expected filename attribute to populate DisplayName, got %q", msg.DisplayName)
	}
	if msg.Kind != types.KindVideo {
		t.Fatalf("expected video kind, got %q", msg.Kind)
	}
	if msg.SizeBytes != 123456 || msg.MimeType != "video/mp4" {
		t.Fatalf("unexpected size/mime: %+v", msg)
	}
	if msg.Locator.DatacenterID != 2 {
		t.Fatalf("expected locator datacenter 2, got %d", msg.Locator.DatacenterID)
	}
	if msg.FileUniqueID == "" {
		t.Fatalf("expected a non-empty dedupe key")
	}
}

func TestMessageFromMediaAudioAttribute(t *testing.T) {
	doc := &tg.Document{
		ID:       1,
		Size:     10,
		MimeType: "audio/mpeg",
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeAudio{},
		},
	}
	media := &tg.MessageMediaDocument{Document: doc}

	msg, err := messageFromMedia(1, 1, media)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != types.KindAudio {
		t.Fatalf("expected audio kind, got %q", msg.Kind)
	}
}

func TestMessageFromMediaDefaultsToDocumentKind(t *testing.T) {
	doc := &tg.Document{ID: 1, Size: 10, MimeType: "application/pdf"}
	media := &tg.MessageMediaDocument{Document: doc}

	msg, err := messageFromMedia(1, 1, media)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != types.KindDocument {
		t.Fatalf("expected document kind by default, got %q", msg.Kind)
	}
}

func TestMessageFromMediaUnsupportedType(t *testing.T) {
	_, err := messageFromMedia(1, 1, &tg.MessageMediaGeo{})
	if !errors.Is(err, stream.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unsupported media, got %v", err)
	}
}

func TestClassifyRPCNil(t *testing.T) {
	if classifyRPC(nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestClassifyRPCMapsKnownCodes(t *testing.T) {
	cases := []struct {
		message string
		want    error
	}{
		{"FILE_REFERENCE_EXPIRED", stream.ErrReferenceExpired},
		{"CHANNEL_INVALID", stream.ErrNotFound},
		{"MESSAGE_ID_INVALID", stream.ErrNotFound},
		{"AUTH_KEY_UNREGISTERED", stream.ErrUnauthorized},
		{"FLOOD_WAIT_10", stream.ErrFloodLimited},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			rpcErr := &tg.Error{Code: 400, Message: tc.message, Type: tc.message}
			got := classifyRPC(rpcErr)
			if !errors.Is(got, tc.want) {
				t.Fatalf("classifyRPC(%q) = %v, want wrapping %v", tc.message, got, tc.want)
			}
		})
	}
}

func TestClassifyRPCFallsBackToTransient(t *testing.T) {
	got := classifyRPC(errors.New("connection reset by peer"))
	if !errors.Is(got, stream.ErrNetworkTransient) {
		t.Fatalf("expected ErrNetworkTransient fallback, got %v", got)
	}
}

func TestMessageCacheKeyIsStableAndDistinct(t *testing.T) {
	c := &telegramClient{log: zap.NewNop(), worker: &bot.Worker{Self: &tg.User{ID: 7}}}
	a := c.messageCacheKey(1, 2)
	b := c.messageCacheKey(1, 2)
	if a != b {
		t.Fatalf("cache key should be deterministic: %q vs %q", a, b)
	}
	if c.messageCacheKey(1, 3) == a {
		t.Fatalf("different msgID should yield a different cache key")
	}
	if c.messageCacheKey(9, 2) == a {
		t.Fatalf("different channelID should yield a different cache key")
	}
}
