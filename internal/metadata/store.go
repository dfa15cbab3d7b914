// Package metadata implements the Metadata Store (C2): a thin wrapper
// over a document database indexing ArchivedFile records by
// (channel_id, msg_id). Grounded on the donor's internal/cache package
// for the "thin wrapper, log and continue on soft failures" shape, using
// go.mongodb.org/mongo-driver since no example in the retrieval pack
// carries a document-database dependency (named, not grounded, per the
// ecosystem-dependency allowance).
package metadata

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"tgarchive/internal/logging"
	"tgarchive/internal/types"
)

// ErrNotFound mirrors the C2 operation table's NotFound result.
var ErrNotFound = errors.New("metadata: record not found")

const filesCollection = "files"

// Store is the process-wide, thread-safe (by the driver) metadata
// handle injected into the HTTP surface and the ingest component.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

// Connect dials uri and pings the server. uri is masked before it ever
// reaches a log line (spec §4.2: "credentials embedded in the
// connection string must never appear in logs").
func Connect(ctx context.Context, uri, dbName string, log *zap.Logger) (*Store, error) {
	log = log.Named("MetadataStore")
	log.Info("connecting to metadata store", zap.String("uri", logging.Mask(uri)), zap.String("db", dbName))

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, err
	}
	return &Store{client: client, db: client.Database(dbName), log: log}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes verifies the startup invariant from spec §4.2: a unique
// index on msg_id (scoped by channel_id), plus uploaded_by, created_at
// desc, and a text index on display_name. Missing indexes are created;
// failure to do so logs a warning and does not abort startup.
func (s *Store) EnsureIndexes(ctx context.Context) {
	coll := s.db.Collection(filesCollection)
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}, {Key: "msg_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("channel_msg_unique"),
		},
		{Keys: bson.D{{Key: "uploaded_by", Value: 1}}, Options: options.Index().SetName("uploaded_by")},
		{Keys: bson.D{{Key: "created_at", Value: -1}}, Options: options.Index().SetName("created_at_desc")},
		{Keys: bson.D{{Key: "display_name", Value: "text"}}, Options: options.Index().SetName("display_name_text")},
	}
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		s.log.Warn("failed to ensure metadata indexes; continuing without them", zap.Error(err))
	}
}

// PutFile upserts by (channel_id, msg_id) so re-ingest never duplicates
// a record.
func (s *Store) PutFile(ctx context.Context, f types.ArchivedFile) error {
	coll := s.db.Collection(filesCollection)
	filter := bson.M{"channel_id": f.ChannelID, "msg_id": f.MsgID}
	_, err := coll.ReplaceOne(ctx, filter, f, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) GetByMsgID(ctx context.Context, channelID, msgID int64) (types.ArchivedFile, error) {
	coll := s.db.Collection(filesCollection)
	var f types.ArchivedFile
	err := coll.FindOne(ctx, bson.M{"channel_id": channelID, "msg_id": msgID}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.ArchivedFile{}, ErrNotFound
	}
	if err != nil {
		return types.ArchivedFile{}, err
	}
	return f, nil
}

// ListByUser returns one page of active records ordered by created_at
// desc.
func (s *Store) ListByUser(ctx context.Context, userID int64, page, perPage int) ([]types.ArchivedFile, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}
	if page < 1 {
		page = 1
	}
	coll := s.db.Collection(filesCollection)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * perPage)).
		SetLimit(int64(perPage))
	cur, err := coll.Find(ctx, bson.M{"uploaded_by": userID, "is_active": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []types.ArchivedFile
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search performs a text search over display_name for a given user's
// active records.
func (s *Store) Search(ctx context.Context, userID int64, query string) ([]types.ArchivedFile, error) {
	coll := s.db.Collection(filesCollection)
	filter := bson.M{
		"uploaded_by": userID,
		"is_active":   true,
		"$text":       bson.M{"$search": query},
	}
	cur, err := coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []types.ArchivedFile
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDelete sets is_active=false without touching msg_id/file_unique_id.
func (s *Store) SoftDelete(ctx context.Context, channelID, msgID int64) error {
	coll := s.db.Collection(filesCollection)
	res, err := coll.UpdateOne(ctx,
		bson.M{"channel_id": channelID, "msg_id": msgID},
		bson.M{"$set": bson.M{"is_active": false}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCatalog returns one page of active records across all users,
// ordered by created_at desc, for the public /api/catalog endpoint.
func (s *Store) ListCatalog(ctx context.Context, page, perPage int) ([]types.ArchivedFile, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}
	if page < 1 {
		page = 1
	}
	coll := s.db.Collection(filesCollection)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * perPage)).
		SetLimit(int64(perPage))
	cur, err := coll.Find(ctx, bson.M{"is_active": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []types.ArchivedFile
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
