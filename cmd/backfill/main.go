// Command backfill repairs records that were stored without an embedding
// (usually because the embedding service was down during ingestion) and
// re-mirrors them into the ANN index.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
	"github.com/SponsorLens/sponsorlens-mvp/engine/semantic"
	"github.com/SponsorLens/sponsorlens-mvp/engine/store"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/fn"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/openai"
)

func main() {
	var (
		mongoURI   = flag.String("mongo", "mongodb://localhost:27017", "MongoDB URI")
		mongoDB    = flag.String("db", store.DefaultDatabase, "MongoDB database")
		mongoColl  = flag.String("collection", store.DefaultCollection, "MongoDB collection")
		qdrantAddr = flag.String("qdrant", "", "Qdrant gRPC address (empty skips re-indexing)")
		qdrantColl = flag.String("qdrant-collection", semantic.DefaultCollection, "Qdrant collection")
		batch      = flag.Int("batch", 200, "max records to repair in one run")
		workers    = flag.Int("workers", 3, "concurrent embedding calls")
		dryRun     = flag.Bool("dry-run", false, "report what would be repaired without writing")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ai := openai.New(os.Getenv("OPENAI_API_KEY"))

	videos, mongoClient, err := store.Connect(ctx, *mongoURI, *mongoDB, *mongoColl)
	if err != nil {
		logger.Error("mongo connect failed", "err", err)
		os.Exit(1)
	}
	defer mongoClient.Disconnect(context.Background())

	var index *semantic.VideoIndex
	if *qdrantAddr != "" {
		index, err = semantic.New(*qdrantAddr, *qdrantColl)
		if err != nil {
			logger.Error("qdrant connect failed", "err", err)
			os.Exit(1)
		}
		defer index.Close()
		if err := index.EnsureCollection(ctx, openai.EmbedDims); err != nil {
			logger.Error("qdrant collection", "err", err)
			os.Exit(1)
		}
	}

	missing, err := videos.MissingEmbeddings(ctx, *batch)
	if err != nil {
		logger.Error("scan failed", "err", err)
		os.Exit(1)
	}
	logger.Info("found records without embeddings", "count", len(missing))
	if *dryRun || len(missing) == 0 {
		for _, rec := range missing {
			logger.Info("would repair", "video_id", rec.VideoID, "title", rec.Title)
		}
		return
	}

	results := fn.ParMapResult(missing, *workers, func(rec domain.VideoRecord) fn.Result[string] {
		vec, err := ai.Embed(ctx, rec.Summary())
		if err != nil {
			return fn.Err[string](err)
		}
		if err := videos.SetEmbedding(ctx, rec.VideoID, vec); err != nil {
			return fn.Err[string](err)
		}
		if index != nil {
			rec.Embedding = vec
			if err := index.Index(ctx, rec); err != nil {
				logger.Warn("re-index failed", "video_id", rec.VideoID, "err", err)
			}
		}
		return fn.Ok(rec.VideoID)
	})

	repaired, failed := 0, 0
	for i, res := range results {
		if res.IsErr() {
			_, err := res.Unwrap()
			logger.Error("repair failed", "video_id", missing[i].VideoID, "err", err)
			failed++
			continue
		}
		repaired++
	}
	logger.Info("backfill done", "repaired", repaired, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}
