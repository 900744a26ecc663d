// Command ingest is the queue worker: it consumes channel ingestion requests
// from NATS and writes sponsorship records to MongoDB, mirroring them into
// the optional ANN index and sponsorship graph.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/SponsorLens/sponsorlens-mvp/engine/extract"
	"github.com/SponsorLens/sponsorlens-mvp/engine/graph"
	"github.com/SponsorLens/sponsorlens-mvp/engine/ingest"
	"github.com/SponsorLens/sponsorlens-mvp/engine/scraper"
	"github.com/SponsorLens/sponsorlens-mvp/engine/semantic"
	"github.com/SponsorLens/sponsorlens-mvp/engine/store"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/metrics"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/openai"
)

type config struct {
	natsURL     string
	mongoURI    string
	mongoDB     string
	mongoColl   string
	neo4jURL    string
	neo4jUser   string
	neo4jPass   string
	qdrantAddr  string
	qdrantColl  string
	metricsPort int
}

func main() {
	var cfg config
	flag.StringVar(&cfg.natsURL, "nats", nats.DefaultURL, "NATS server URL")
	flag.StringVar(&cfg.mongoURI, "mongo", "mongodb://localhost:27017", "MongoDB URI")
	flag.StringVar(&cfg.mongoDB, "db", store.DefaultDatabase, "MongoDB database")
	flag.StringVar(&cfg.mongoColl, "collection", store.DefaultCollection, "MongoDB collection")
	flag.StringVar(&cfg.neo4jURL, "neo4j", "", "Neo4j bolt URL (empty disables the graph)")
	flag.StringVar(&cfg.neo4jUser, "neo4j-user", "neo4j", "Neo4j username")
	flag.StringVar(&cfg.neo4jPass, "neo4j-pass", "password", "Neo4j password")
	flag.StringVar(&cfg.qdrantAddr, "qdrant", "", "Qdrant gRPC address (empty disables the ANN index)")
	flag.StringVar(&cfg.qdrantColl, "qdrant-collection", semantic.DefaultCollection, "Qdrant collection")
	flag.IntVar(&cfg.metricsPort, "metrics-port", 9091, "metrics HTTP port")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ai := openai.New(os.Getenv("OPENAI_API_KEY"))

	videos, mongoClient, err := store.Connect(ctx, cfg.mongoURI, cfg.mongoDB, cfg.mongoColl)
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.Background())

	deps := ingest.Deps{
		Catalog:   scraper.NewClient(os.Getenv("YOUTUBE_API_KEY")),
		Extractor: extract.New(ai, logger),
		Embedder:  ai,
		Records:   videos,
		Logger:    logger,
	}

	if cfg.qdrantAddr != "" {
		index, err := semantic.New(cfg.qdrantAddr, cfg.qdrantColl)
		if err != nil {
			return err
		}
		defer index.Close()
		if err := index.EnsureCollection(ctx, openai.EmbedDims); err != nil {
			return err
		}
		deps.Index = index
	}

	if cfg.neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.neo4jURL,
			neo4j.BasicAuth(cfg.neo4jUser, cfg.neo4jPass, ""))
		if err != nil {
			return err
		}
		defer driver.Close(ctx)
		deps.Graph = graph.New(driver)
	}

	met := metrics.New()
	met.ServeAsync(cfg.metricsPort)

	nc, err := nats.Connect(cfg.natsURL, nats.Name("sponsorlens-ingest"))
	if err != nil {
		return err
	}
	defer nc.Close()

	runner := ingest.NewRunner(deps)
	sub, err := ingest.StartConsumer(nc, runner, logger)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	logger.Info("ingest worker running",
		"subject", ingest.ChannelSubject, "dlq", ingest.DLQSubject)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
