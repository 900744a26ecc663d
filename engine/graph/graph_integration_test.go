//go:build integration

package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
)

func testGraph(t *testing.T) *SponsorGraph {
	t.Helper()
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		uri = "neo4j://localhost:7687"
	}
	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(os.Getenv("NEO4J_USER"), os.Getenv("NEO4J_PASSWORD"), ""))
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		_, _ = sess.Run(ctx, `MATCH (n) WHERE n.name STARTS WITH 'itest-' DETACH DELETE n`, nil)
		_ = sess.Close(ctx)
		_ = driver.Close(ctx)
	})
	return New(driver)
}

func TestRecordSponsorships_Idempotent(t *testing.T) {
	g := testGraph(t)
	ctx := context.Background()

	rec := domain.VideoRecord{
		VideoID:     "itest-vid1",
		ChannelName: "itest-channel",
		Title:       "Review",
		Sponsors:    []string{"itest-NordVPN", "itest-SAILY"},
		PublishedAt: time.Now().UTC(),
	}

	for i := 0; i < 2; i++ {
		if err := g.RecordSponsorships(ctx, rec); err != nil {
			t.Fatalf("record (pass %d): %v", i, err)
		}
	}

	brands, err := g.BrandsForChannel(ctx, "ITEST-CHANNEL")
	if err != nil {
		t.Fatalf("brands: %v", err)
	}
	if len(brands) != 2 {
		t.Fatalf("expected 2 distinct brands after double ingest, got %v", brands)
	}

	channels, err := g.ChannelsForBrand(ctx, "itest-nordvpn")
	if err != nil || len(channels) != 1 || channels[0] != "itest-channel" {
		t.Errorf("channels = %v, err = %v", channels, err)
	}

	edges, err := g.Sponsorships(ctx, "itest-channel")
	if err != nil || len(edges) != 2 {
		t.Errorf("sponsorships = %v, err = %v", edges, err)
	}
}

func TestRecordSponsorships_NoSponsorsNoOp(t *testing.T) {
	g := testGraph(t)
	rec := domain.VideoRecord{VideoID: "itest-empty", ChannelName: "itest-quiet", PublishedAt: time.Now()}
	if err := g.RecordSponsorships(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	brands, err := g.BrandsForChannel(context.Background(), "itest-quiet")
	if err != nil || len(brands) != 0 {
		t.Errorf("brands = %v, err = %v", brands, err)
	}
}
