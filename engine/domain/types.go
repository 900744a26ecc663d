// Package domain defines core domain types, constants, and validation for the
// SponsorLens engine. It acts as the validation gate at pipeline entry points.
package domain

import (
	"strings"
	"time"
)

// VideoRecord is a stored video with its detected sponsorships. Records are
// write-once: after the first successful ingestion a video_id is never
// overwritten (the store enforces this with a unique index).
type VideoRecord struct {
	VideoID     string    `json:"video_id" bson:"video_id"`
	Title       string    `json:"title" bson:"title"`
	ChannelName string    `json:"channel_name" bson:"channel_name"`
	ChannelID   string    `json:"channel_id" bson:"channel_id"`
	PublishedAt time.Time `json:"published_at" bson:"published_at"`
	Description string    `json:"description" bson:"description"`
	// Sponsors preserves extraction order; per-record duplicates are kept.
	Sponsors []string `json:"sponsors" bson:"sponsors"`
	// Embedding is computed once at ingestion time from the composed summary
	// (channel + title + sponsor list), not from the raw description. Nil when
	// the embedding call failed and ingestion degraded.
	Embedding []float32 `json:"embedding,omitempty" bson:"embedding,omitempty"`
}

// HasEmbedding reports whether the record carries a usable embedding.
func (v VideoRecord) HasEmbedding() bool { return len(v.Embedding) > 0 }

// Summary composes the text that gets embedded for a record.
func (v VideoRecord) Summary() string {
	sponsors := "None"
	if len(v.Sponsors) > 0 {
		sponsors = strings.Join(v.Sponsors, ", ")
	}
	return "Channel: " + v.ChannelName + "\nTitle: " + v.Title + "\nSponsors: " + sponsors
}

// Query is a transient user question; it is never persisted.
type Query struct {
	Text string `json:"text"`
}

// Channel identifies a YouTube channel resolved from a handle.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
