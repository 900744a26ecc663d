//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
)

func mongoURI() string {
	if v := os.Getenv("MONGO_URI"); v != "" {
		return v
	}
	return "mongodb://localhost:27017"
}

func testStore(t *testing.T) *VideoStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	coll := fmt.Sprintf("videos_test_%d", time.Now().UnixNano())
	s, client, err := Connect(ctx, mongoURI(), "sponsorlens_test", coll)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = client.Database("sponsorlens_test").Collection(coll).Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return s
}

func record(videoID string) domain.VideoRecord {
	return domain.VideoRecord{
		VideoID:     videoID,
		ChannelName: "ItzNandez",
		Title:       "Mi setup de 2025",
		Sponsors:    []string{"Flexispot"},
		PublishedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Embedding:   []float32{0.1, 0.2},
	}
}

func TestUpsertIfAbsent_FirstWriterWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inserted, err := s.UpsertIfAbsent(ctx, record("vid1"))
	if err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}

	// Second write with different sponsors must not touch the document.
	second := record("vid1")
	second.Sponsors = []string{"SAILY"}
	inserted, err = s.UpsertIfAbsent(ctx, second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted {
		t.Error("second upsert reported an insert")
	}

	got, err := s.Get(ctx, "vid1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Sponsors) != 1 || got.Sponsors[0] != "Flexispot" {
		t.Errorf("stored sponsors mutated: %v", got.Sponsors)
	}
}

func TestUpsertIfAbsent_RejectsInvalid(t *testing.T) {
	s := testStore(t)
	if _, err := s.UpsertIfAbsent(context.Background(), domain.VideoRecord{}); err == nil {
		t.Fatal("expected validation error for empty record")
	}
}

func TestScanAll_NewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, day := range []int{1, 3, 2} {
		rec := record(fmt.Sprintf("scan%d", i))
		rec.PublishedAt = time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC)
		if _, err := s.UpsertIfAbsent(ctx, rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	recs, err := s.ScanAll(ctx, 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records", len(recs))
	}
	if !recs[0].PublishedAt.After(recs[1].PublishedAt) || !recs[1].PublishedAt.After(recs[2].PublishedAt) {
		t.Errorf("not sorted newest first: %v %v %v",
			recs[0].PublishedAt, recs[1].PublishedAt, recs[2].PublishedAt)
	}
}

func TestFindByChannelAndBrand_CaseInsensitive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := record("find1")
	rec.Sponsors = []string{"NordVPN", "Chapka Direct"}
	if _, err := s.UpsertIfAbsent(ctx, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	byChan, err := s.FindByChannel(ctx, "itznandez", 10)
	if err != nil || len(byChan) != 1 {
		t.Errorf("FindByChannel: %d records, err=%v", len(byChan), err)
	}

	byBrand, err := s.FindByBrand(ctx, "nord", 10)
	if err != nil || len(byBrand) != 1 {
		t.Errorf("FindByBrand substring: %d records, err=%v", len(byBrand), err)
	}

	ok, err := s.ChannelExists(ctx, "ITZNANDEZ")
	if err != nil || !ok {
		t.Errorf("ChannelExists: %v, err=%v", ok, err)
	}
}

func TestMissingEmbeddings_AndSetEmbedding(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	bare := record("noemb")
	bare.Embedding = nil
	if _, err := s.UpsertIfAbsent(ctx, bare); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.UpsertIfAbsent(ctx, record("hasemb")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	missing, err := s.MissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	if len(missing) != 1 || missing[0].VideoID != "noemb" {
		t.Fatalf("missing = %+v", missing)
	}

	if err := s.SetEmbedding(ctx, "noemb", []float32{0.5, 0.5}); err != nil {
		t.Fatalf("set embedding: %v", err)
	}
	missing, err = s.MissingEmbeddings(ctx, 10)
	if err != nil || len(missing) != 0 {
		t.Errorf("after repair: %d missing, err=%v", len(missing), err)
	}

	err = s.SetEmbedding(ctx, "ghost", []float32{1})
	if !errors.Is(err, mongo.ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments for unknown id, got %v", err)
	}
}
