// Package store persists video sponsorship records in MongoDB. Records are
// write-once per video id: the first writer wins and later writes are no-ops,
// which keeps re-scrapes of the same channel idempotent.
package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
)

const (
	DefaultDatabase   = "sponsorlens"
	DefaultCollection = "videos"

	connectTimeout = 10 * time.Second
)

// VideoStore is the MongoDB-backed record store.
type VideoStore struct {
	coll *mongo.Collection
}

// Connect dials MongoDB and returns a VideoStore over the given database and
// collection. Empty names fall back to the defaults.
func Connect(ctx context.Context, uri, database, collection string) (*VideoStore, *mongo.Client, error) {
	if database == "" {
		database = DefaultDatabase
	}
	if collection == "" {
		collection = DefaultCollection
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &VideoStore{coll: client.Database(database).Collection(collection)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return s, client, nil
}

// NewWithCollection wraps an existing collection, for tests and tooling.
func NewWithCollection(coll *mongo.Collection) *VideoStore {
	return &VideoStore{coll: coll}
}

func (s *VideoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "video_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "channel_name", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("store: ensure indexes: %w", err)
	}
	return nil
}

// UpsertIfAbsent inserts the record unless one with the same video id already
// exists. It reports whether a new document was written. Existing documents
// are left untouched, including their embeddings.
func (s *VideoStore) UpsertIfAbsent(ctx context.Context, rec domain.VideoRecord) (bool, error) {
	if err := domain.ValidateVideoRecord(rec); err != nil {
		return false, err
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"video_id": rec.VideoID},
		bson.M{"$setOnInsert": rec},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		// A concurrent first writer can still race the upsert into the
		// unique index. That writer won; this call is a no-op.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: upsert %s: %w", rec.VideoID, err)
	}
	return res.UpsertedCount > 0, nil
}

// Get returns the record for a video id, or mongo.ErrNoDocuments.
func (s *VideoStore) Get(ctx context.Context, videoID string) (domain.VideoRecord, error) {
	var rec domain.VideoRecord
	err := s.coll.FindOne(ctx, bson.M{"video_id": videoID}).Decode(&rec)
	if err != nil {
		return domain.VideoRecord{}, fmt.Errorf("store: get %s: %w", videoID, err)
	}
	return rec, nil
}

// Has reports whether a record exists for the video id, without decoding it.
func (s *VideoStore) Has(ctx context.Context, videoID string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"video_id": videoID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("store: has %s: %w", videoID, err)
	}
	return n > 0, nil
}

// ScanAll returns up to limit records, newest first. It backs the exhaustive
// retrieval path, so the limit caps how much the ranker has to score.
func (s *VideoStore) ScanAll(ctx context.Context, limit int) ([]domain.VideoRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "published_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: scan: %w", err)
	}
	defer cur.Close(ctx)

	var recs []domain.VideoRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("store: scan decode: %w", err)
	}
	return recs, nil
}

// FindByChannel returns a channel's records, matched case-insensitively on
// the stored channel name.
func (s *VideoStore) FindByChannel(ctx context.Context, channel string, limit int) ([]domain.VideoRecord, error) {
	return s.find(ctx, bson.M{
		"channel_name": caseInsensitiveExact(channel),
	}, limit)
}

// FindByBrand returns records whose sponsor list contains the brand,
// matched as a case-insensitive substring so "nord" finds "NordVPN".
func (s *VideoStore) FindByBrand(ctx context.Context, brand string, limit int) ([]domain.VideoRecord, error) {
	return s.find(ctx, bson.M{
		"sponsors": bson.M{"$regex": regexp.QuoteMeta(brand), "$options": "i"},
	}, limit)
}

// MissingEmbeddings returns records whose embedding was never written, for
// backfill repair.
func (s *VideoStore) MissingEmbeddings(ctx context.Context, limit int) ([]domain.VideoRecord, error) {
	return s.find(ctx, bson.M{
		"$or": bson.A{
			bson.M{"embedding": nil},
			bson.M{"embedding": bson.M{"$exists": false}},
			bson.M{"embedding": bson.M{"$size": 0}},
		},
	}, limit)
}

// SetEmbedding writes the embedding of an existing record. This is the one
// sanctioned mutation of a stored record, used by backfill.
func (s *VideoStore) SetEmbedding(ctx context.Context, videoID string, embedding []float32) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"video_id": videoID},
		bson.M{"$set": bson.M{"embedding": embedding}},
	)
	if err != nil {
		return fmt.Errorf("store: set embedding %s: %w", videoID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("store: set embedding %s: %w", videoID, mongo.ErrNoDocuments)
	}
	return nil
}

// ChannelExists reports whether any record for the channel is stored.
func (s *VideoStore) ChannelExists(ctx context.Context, channel string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx,
		bson.M{"channel_name": caseInsensitiveExact(channel)},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("store: channel exists: %w", err)
	}
	return n > 0, nil
}

func (s *VideoStore) find(ctx context.Context, filter bson.M, limit int) ([]domain.VideoRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := s.coll.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "published_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("store: find: %w", err)
	}
	defer cur.Close(ctx)

	var recs []domain.VideoRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("store: find decode: %w", err)
	}
	return recs, nil
}

func caseInsensitiveExact(s string) bson.M {
	return bson.M{"$regex": "^" + regexp.QuoteMeta(s) + "$", "$options": "i"}
}
