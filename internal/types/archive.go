package types

import (
	"strconv"
	"time"
)

// Kind tags what sort of media an ArchivedFile holds.
type Kind string

const (
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// Source tags how an ArchivedFile entered the archive channel.
type Source string

const (
	SourceDirectUpload Source = "direct_upload"
	SourceExternalURL  Source = "external_url"
)

// ArchivedFile is the central indexed record described in spec.md §3.
// msg_id is unique per ChannelID; PutFile upserts on (ChannelID, MsgID)
// so re-ingest never duplicates a record.
type ArchivedFile struct {
	MsgID           int64     `bson:"msg_id" json:"msg_id"`
	ChannelID       int64     `bson:"channel_id" json:"channel_id"`
	FileUniqueID    string    `bson:"file_unique_id" json:"file_unique_id"`
	DisplayName     string    `bson:"display_name" json:"display_name"`
	SizeBytes       int64     `bson:"size_bytes" json:"size_bytes"`
	MimeType        string    `bson:"mime_type" json:"mime_type"`
	Kind            Kind      `bson:"kind" json:"kind"`
	DurationSeconds int64     `bson:"duration_seconds,omitempty" json:"duration_seconds,omitempty"`
	QualityLabel    string    `bson:"quality_label,omitempty" json:"quality_label,omitempty"`
	Source          Source    `bson:"source" json:"source"`
	ExternalURL     string    `bson:"external_url,omitempty" json:"external_url,omitempty"`
	UploadedBy      int64     `bson:"uploaded_by" json:"uploaded_by"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	IsActive        bool      `bson:"is_active" json:"is_active"`
}

// StreamURL builds the public, unauthenticated stream URL for this
// record, matching the format in spec.md §6: https://<host>/stream/{channel_id}/{msg_id}.
func (a *ArchivedFile) StreamURL(baseURL string) string {
	return baseURL + "/stream/" + strconv.FormatInt(a.ChannelID, 10) + "/" + strconv.FormatInt(a.MsgID, 10)
}
