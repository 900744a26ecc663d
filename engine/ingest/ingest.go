// Package ingest turns a channel handle into stored sponsorship records. For
// each recent video it fetches the description, extracts sponsoring brands,
// embeds the composed summary, and writes the record once. Brand extraction
// and embedding degrade instead of failing the video: a record with no brands
// or no embedding is still worth keeping, and backfill can repair embeddings
// later.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
	"github.com/SponsorLens/sponsorlens-mvp/engine/scraper"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/fn"
)

const (
	// DefaultMaxVideos is how many recent videos a channel request covers.
	DefaultMaxVideos = 10
	// videoWorkers bounds concurrent per-video pipelines; extraction and
	// embedding both hit the same rate-limited upstream.
	videoWorkers = 3
)

// Catalog is the video platform surface the pipeline reads from.
type Catalog interface {
	ChannelByHandle(ctx context.Context, handle string) (domain.Channel, error)
	LatestVideos(ctx context.Context, channelID string, max int) ([]scraper.VideoMeta, error)
	VideoDescription(ctx context.Context, videoID string) (string, error)
}

// BrandExtractor detects sponsoring brands in a description.
type BrandExtractor interface {
	Brands(ctx context.Context, description string) ([]string, error)
}

// Embedder produces the summary embedding for a record.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Records is the slice of the record store the pipeline writes to.
type Records interface {
	UpsertIfAbsent(ctx context.Context, rec domain.VideoRecord) (bool, error)
	Has(ctx context.Context, videoID string) (bool, error)
}

// Indexer mirrors stored records into the ANN index. Optional.
type Indexer interface {
	Index(ctx context.Context, rec domain.VideoRecord) error
}

// Grapher mirrors sponsorships into the graph. Optional.
type Grapher interface {
	SaveChannel(ctx context.Context, ch domain.Channel) error
	RecordSponsorships(ctx context.Context, rec domain.VideoRecord) error
}

// Deps holds the external dependencies of the pipeline.
type Deps struct {
	Catalog   Catalog
	Extractor BrandExtractor
	Embedder  Embedder
	Records   Records
	Index     Indexer // may be nil
	Graph     Grapher // may be nil
	Logger    *slog.Logger
}

// Job is one video moving through the pipeline.
type Job struct {
	Channel domain.Channel
	Meta    scraper.VideoMeta

	Description string
	Record      domain.VideoRecord
}

// Status values of an Outcome.
const (
	StatusInserted = "inserted"
	StatusSkipped  = "skipped"
)

// Outcome reports what happened to one video.
type Outcome struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

// Summary aggregates a whole channel run.
type Summary struct {
	Channel  string    `json:"channel"`
	Inserted int       `json:"inserted"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Outcomes []Outcome `json:"outcomes"`
}

// --- Pipeline stages ---

// NewFetchDescription loads the video description into the job.
func NewFetchDescription(catalog Catalog) fn.Stage[Job, Job] {
	return func(ctx context.Context, job Job) fn.Result[Job] {
		desc, err := catalog.VideoDescription(ctx, job.Meta.VideoID)
		if err != nil {
			return fn.Err[Job](fmt.Errorf("ingest: description %s: %w", job.Meta.VideoID, err))
		}
		job.Description = desc
		return fn.Ok(job)
	}
}

// NewExtract detects sponsors. An upstream failure degrades to an empty
// sponsor list so the video is still recorded.
func NewExtract(extractor BrandExtractor, log *slog.Logger) fn.Stage[Job, Job] {
	return func(ctx context.Context, job Job) fn.Result[Job] {
		brands, err := extractor.Brands(ctx, job.Description)
		if err != nil {
			log.Warn("ingest: brand extraction degraded",
				"video_id", job.Meta.VideoID, "error", err)
			brands = []string{}
		}
		job.Record = domain.VideoRecord{
			VideoID:     job.Meta.VideoID,
			ChannelName: job.Channel.Name,
			ChannelID:   job.Channel.ID,
			Title:       job.Meta.Title,
			Description: job.Description,
			Sponsors:    brands,
			PublishedAt: job.Meta.PublishedAt,
		}
		return fn.Ok(job)
	}
}

// NewEmbed embeds the composed summary, with one retry. Persistent failure
// degrades to a nil embedding; backfill repairs those records.
func NewEmbed(embedder Embedder, log *slog.Logger) fn.Stage[Job, Job] {
	retry := fn.RetryOpts{MaxAttempts: 2, InitialWait: 500 * time.Millisecond, MaxWait: 2 * time.Second}
	return func(ctx context.Context, job Job) fn.Result[Job] {
		res := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[[]float32] {
			vec, err := embedder.Embed(ctx, job.Record.Summary())
			if err != nil {
				return fn.Err[[]float32](err)
			}
			return fn.Ok(vec)
		})
		if res.IsErr() {
			_, err := res.Unwrap()
			log.Warn("ingest: embedding degraded",
				"video_id", job.Meta.VideoID, "error", err)
			return fn.Ok(job)
		}
		vec, _ := res.Unwrap()
		job.Record.Embedding = vec
		return fn.Ok(job)
	}
}

// NewStore writes the record once and mirrors it into the optional index and
// graph. Mirror failures are logged, not fatal: the record store is the
// source of truth.
func NewStore(deps Deps, log *slog.Logger) fn.Stage[Job, Outcome] {
	return func(ctx context.Context, job Job) fn.Result[Outcome] {
		inserted, err := deps.Records.UpsertIfAbsent(ctx, job.Record)
		if err != nil {
			return fn.Err[Outcome](fmt.Errorf("ingest: store %s: %w", job.Meta.VideoID, err))
		}
		if !inserted {
			return fn.Ok(Outcome{VideoID: job.Meta.VideoID, Status: StatusSkipped})
		}

		if deps.Index != nil {
			if err := deps.Index.Index(ctx, job.Record); err != nil {
				log.Warn("ingest: ANN index mirror failed",
					"video_id", job.Meta.VideoID, "error", err)
			}
		}
		if deps.Graph != nil {
			if err := deps.Graph.RecordSponsorships(ctx, job.Record); err != nil {
				log.Warn("ingest: graph mirror failed",
					"video_id", job.Meta.VideoID, "error", err)
			}
		}
		return fn.Ok(Outcome{VideoID: job.Meta.VideoID, Status: StatusInserted})
	}
}

// NewPipeline composes the per-video stages with tracing.
func NewPipeline(deps Deps) fn.Stage[Job, Outcome] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	described := fn.TracedStage("ingest.describe", NewFetchDescription(deps.Catalog))
	extracted := fn.Then(described, fn.TracedStage("ingest.extract", NewExtract(deps.Extractor, log)))
	embedded := fn.Then(extracted, fn.TracedStage("ingest.embed", NewEmbed(deps.Embedder, log)))
	return fn.Then(embedded, fn.TracedStage("ingest.store", NewStore(deps, log)))
}

// Runner drives whole-channel ingestion.
type Runner struct {
	deps     Deps
	pipeline fn.Stage[Job, Outcome]
	log      *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(deps Deps) *Runner {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{deps: deps, pipeline: NewPipeline(deps), log: log}
}

// ProcessChannel resolves a handle, lists its recent videos, and runs each
// unseen video through the pipeline with bounded concurrency. Videos already
// stored are skipped before any upstream call is spent on them.
func (r *Runner) ProcessChannel(ctx context.Context, handle string, max int) (Summary, error) {
	if max <= 0 {
		max = DefaultMaxVideos
	}

	channel, err := r.deps.Catalog.ChannelByHandle(ctx, handle)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: resolve %s: %w", handle, err)
	}
	if r.deps.Graph != nil {
		if err := r.deps.Graph.SaveChannel(ctx, channel); err != nil {
			r.log.Warn("ingest: graph channel save failed", "channel", channel.Name, "error", err)
		}
	}

	videos, err := r.deps.Catalog.LatestVideos(ctx, channel.ID, max)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: list videos %s: %w", channel.ID, err)
	}

	summary := Summary{Channel: channel.Name}

	var fresh []Job
	for _, meta := range videos {
		seen, err := r.deps.Records.Has(ctx, meta.VideoID)
		if err != nil {
			r.log.Warn("ingest: dedup check failed", "video_id", meta.VideoID, "error", err)
		}
		if seen {
			summary.Skipped++
			summary.Outcomes = append(summary.Outcomes, Outcome{VideoID: meta.VideoID, Status: StatusSkipped})
			continue
		}
		fresh = append(fresh, Job{Channel: channel, Meta: meta})
	}

	results := fn.ParMapResult(fresh, videoWorkers, func(job Job) fn.Result[Outcome] {
		return r.pipeline(ctx, job)
	})
	for i, res := range results {
		if res.IsErr() {
			_, err := res.Unwrap()
			r.log.Error("ingest: video failed", "video_id", fresh[i].Meta.VideoID, "error", err)
			summary.Failed++
			continue
		}
		out, _ := res.Unwrap()
		summary.Outcomes = append(summary.Outcomes, out)
		if out.Status == StatusInserted {
			summary.Inserted++
		} else {
			summary.Skipped++
		}
	}

	r.log.Info("ingest: channel processed",
		"channel", channel.Name,
		"inserted", summary.Inserted,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
	return summary, nil
}
