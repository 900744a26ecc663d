// Package graph mirrors sponsorship relationships into Neo4j. Every stored
// video contributes (channel)-[:SPONSORED_BY]->(brand) edges, which lets
// answers pull a channel's full sponsor history even when only a few videos
// survive retrieval.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/repo"
)

// SponsorGraph provides graph operations over channels and brands.
type SponsorGraph struct {
	driver neo4j.DriverWithContext
	brands *repo.Neo4jRepo[Brand, string]
}

// New creates a SponsorGraph over the given driver.
func New(driver neo4j.DriverWithContext) *SponsorGraph {
	return &SponsorGraph{
		driver: driver,
		brands: newBrandRepo(driver),
	}
}

// GetBrand returns a brand node by name.
func (g *SponsorGraph) GetBrand(ctx context.Context, name string) (Brand, error) {
	return g.brands.Get(ctx, name)
}

// ListBrands pages through all known brand nodes.
func (g *SponsorGraph) ListBrands(ctx context.Context, opts repo.ListOpts) ([]Brand, error) {
	return g.brands.List(ctx, opts)
}

// SaveChannel creates or updates a channel node.
func (g *SponsorGraph) SaveChannel(ctx context.Context, ch domain.Channel) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MERGE (c:Channel {name: $name}) SET c.channel_id = $id`,
		map[string]any{"name": ch.Name, "id": ch.ID})
	if err != nil {
		return fmt.Errorf("graph: save channel %s: %w", ch.Name, err)
	}
	return nil
}

// RecordSponsorships merges one video's sponsor edges into the graph. MERGE
// keeps the operation idempotent across re-ingestion of the same video.
func (g *SponsorGraph) RecordSponsorships(ctx context.Context, rec domain.VideoRecord) error {
	if len(rec.Sponsors) == 0 {
		return nil
	}

	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, brand := range rec.Sponsors {
			_, err := tx.Run(ctx,
				`MERGE (c:Channel {name: $channel})
				 MERGE (b:Brand {name: $brand})
				 MERGE (c)-[r:SPONSORED_BY {video_id: $video_id}]->(b)
				 SET r.title = $title, r.published_at = $published_at`,
				map[string]any{
					"channel":      rec.ChannelName,
					"brand":        brand,
					"video_id":     rec.VideoID,
					"title":        rec.Title,
					"published_at": rec.PublishedAt,
				})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: record sponsorships %s: %w", rec.VideoID, err)
	}
	return nil
}

// BrandsForChannel returns the distinct brands that ever sponsored a channel.
func (g *SponsorGraph) BrandsForChannel(ctx context.Context, channel string) ([]string, error) {
	return g.collectNames(ctx,
		`MATCH (c:Channel)-[:SPONSORED_BY]->(b:Brand)
		 WHERE toLower(c.name) = toLower($name)
		 RETURN DISTINCT b.name AS name ORDER BY name`,
		channel)
}

// ChannelsForBrand returns the distinct channels a brand has sponsored.
func (g *SponsorGraph) ChannelsForBrand(ctx context.Context, brand string) ([]string, error) {
	return g.collectNames(ctx,
		`MATCH (c:Channel)-[:SPONSORED_BY]->(b:Brand)
		 WHERE toLower(b.name) = toLower($name)
		 RETURN DISTINCT c.name AS name ORDER BY name`,
		brand)
}

// Sponsorships returns a channel's sponsorship edges, newest first.
func (g *SponsorGraph) Sponsorships(ctx context.Context, channel string) ([]Sponsorship, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (c:Channel)-[r:SPONSORED_BY]->(b:Brand)
		 WHERE toLower(c.name) = toLower($name)
		 RETURN c.name AS channel, b.name AS brand, r.video_id AS video_id,
		        r.title AS title, toString(r.published_at) AS published_at
		 ORDER BY r.published_at DESC`,
		map[string]any{"name": channel})
	if err != nil {
		return nil, fmt.Errorf("graph: sponsorships: %w", err)
	}

	var edges []Sponsorship
	for result.Next(ctx) {
		rec := result.Record()
		edges = append(edges, Sponsorship{
			Channel:     recString(rec, "channel"),
			Brand:       recString(rec, "brand"),
			VideoID:     recString(rec, "video_id"),
			Title:       recString(rec, "title"),
			PublishedAt: recString(rec, "published_at"),
		})
	}
	return edges, nil
}

func recString(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (g *SponsorGraph) collectNames(ctx context.Context, cypher, name string) ([]string, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("graph: query: %w", err)
	}

	var names []string
	for result.Next(ctx) {
		if v, ok := result.Record().Get("name"); ok {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}
	return names, nil
}
