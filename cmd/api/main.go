// Package main implements the SponsorLens API server: question answering over
// stored video sponsorships plus on-demand channel ingestion.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
	"github.com/SponsorLens/sponsorlens-mvp/engine/extract"
	"github.com/SponsorLens/sponsorlens-mvp/engine/graph"
	"github.com/SponsorLens/sponsorlens-mvp/engine/ingest"
	"github.com/SponsorLens/sponsorlens-mvp/engine/rag"
	"github.com/SponsorLens/sponsorlens-mvp/engine/rank"
	"github.com/SponsorLens/sponsorlens-mvp/engine/scraper"
	"github.com/SponsorLens/sponsorlens-mvp/engine/semantic"
	"github.com/SponsorLens/sponsorlens-mvp/engine/store"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/metrics"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/mid"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/openai"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/repo"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	MetricsPort int

	MongoURI   string
	MongoDB    string
	MongoColl  string
	OpenAIKey  string
	YouTubeKey string

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	QdrantURL  string // empty disables the ANN index
	Collection string

	CORSOrigin string
	MaxVideos  int
}

func loadConfig() Config {
	metricsPort, _ := strconv.Atoi(envOr("METRICS_PORT", "9090"))
	maxVideos, _ := strconv.Atoi(envOr("MAX_VIDEOS", "10"))
	return Config{
		Port:        envOr("PORT", "8080"),
		MetricsPort: metricsPort,
		MongoURI:    envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     envOr("MONGO_DB", store.DefaultDatabase),
		MongoColl:   envOr("MONGO_COLLECTION", store.DefaultCollection),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		YouTubeKey:  os.Getenv("YOUTUBE_API_KEY"),
		Neo4jURL:    os.Getenv("NEO4J_URL"), // empty disables the graph
		Neo4jUser:   envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:   envOr("NEO4J_PASS", "password"),
		QdrantURL:   os.Getenv("QDRANT_URL"),
		Collection:  envOr("QDRANT_COLLECTION", semantic.DefaultCollection),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
		MaxVideos:   maxVideos,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ai := openai.New(cfg.OpenAIKey)

	// --- Record store (source of truth) ---
	videos, mongoClient, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoColl)
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.Background())

	// --- Optional ANN index ---
	var searcher rag.Searcher
	var indexer ingest.Indexer
	if cfg.QdrantURL != "" {
		index, err := semantic.New(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return err
		}
		defer index.Close()
		if err := index.EnsureCollection(ctx, openai.EmbedDims); err != nil {
			return err
		}
		searcher = &searchAdapter{index: index, videos: videos}
		indexer = index
	}

	// --- Optional sponsorship graph ---
	var sponsorGraph *graph.SponsorGraph
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		sponsorGraph = graph.New(driver)
	}

	// --- Topic gate ---
	classifier := buildClassifier(ctx, ai, logger)

	// --- RAG service ---
	ragDeps := rag.Deps{
		Embed:      ai,
		Generate:   ai,
		Videos:     videos,
		Searcher:   searcher,
		Classifier: classifier,
	}
	if sponsorGraph != nil {
		ragDeps.Graph = sponsorGraph
	}
	ragSvc := rag.New(ragDeps, rag.DefaultOptions(), logger)

	// --- Ingestion runner for on-demand processing ---
	ingestDeps := ingest.Deps{
		Catalog:   scraper.NewClient(cfg.YouTubeKey),
		Extractor: extract.New(ai, logger),
		Embedder:  ai,
		Records:   videos,
		Index:     indexer,
		Logger:    logger,
	}
	if sponsorGraph != nil {
		ingestDeps.Graph = sponsorGraph
	}
	runner := ingest.NewRunner(ingestDeps)

	// --- Metrics ---
	reg := metrics.New()
	queriesTotal := reg.Counter("sponsorlens_queries_total", "Questions answered")
	fallbacksTotal := reg.Counter("sponsorlens_fallbacks_total", "Answers served from a fixed fallback")
	ingestedTotal := reg.Counter("sponsorlens_videos_ingested_total", "Video records inserted")
	queryDuration := reg.Histogram("sponsorlens_query_seconds", "Query latency", metrics.DefaultBuckets)
	reg.ServeAsync(cfg.MetricsPort)

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/chat", handleChat(ragSvc, queriesTotal, fallbacksTotal, queryDuration, logger))
	mux.HandleFunc("POST /api/process/{handle}", handleProcess(runner, cfg.MaxVideos, ingestedTotal, logger))
	mux.HandleFunc("GET /api/videos/{channel}", handleVideosByChannel(videos))
	mux.HandleFunc("GET /api/brands/{brand}", handleVideosByBrand(videos))
	if sponsorGraph != nil {
		mux.HandleFunc("GET /api/sponsorships/{channel}", handleSponsorships(sponsorGraph, logger))
		mux.HandleFunc("GET /api/graph/brands", handleBrands(sponsorGraph, logger))
		mux.HandleFunc("GET /api/graph/brands/{brand}", handleBrandProfile(sponsorGraph, logger))
	}

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("sponsorlens-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// buildClassifier embeds the topic phrases once at startup. Failure degrades
// to a nil classifier, which admits every query.
func buildClassifier(ctx context.Context, ai *openai.Client, logger *slog.Logger) *rank.TopicClassifier {
	topics := make([][]float32, 0, len(rank.TopicPhrases))
	for _, phrase := range rank.TopicPhrases {
		vec, err := ai.Embed(ctx, phrase)
		if err != nil {
			logger.Warn("topic gate disabled, could not embed topic phrases", "err", err)
			return nil
		}
		topics = append(topics, vec)
	}
	return rank.NewTopicClassifier(topics, rank.DefaultTopicThreshold)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Question string `json:"question"`
}

func handleChat(svc *rag.Service, queries, fallbacks *metrics.Counter, dur *metrics.Histogram, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		start := time.Now()
		answer, err := svc.Query(r.Context(), req.Question)
		dur.Since(start)
		if err != nil {
			var vErr *domain.ValidationError
			if errors.As(err, &vErr) || errors.Is(err, domain.ErrInvalidQuery) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Error("query failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		queries.Inc()
		if answer.Fallback {
			fallbacks.Inc()
		}
		writeJSON(w, http.StatusOK, answer)
	}
}

func handleProcess(runner *ingest.Runner, maxVideos int, ingested *metrics.Counter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := domain.NormalizeHandle(r.PathValue("handle"))
		summary, err := runner.ProcessChannel(r.Context(), handle, maxVideos)
		if err != nil {
			switch {
			case errors.Is(err, scraper.ErrChannelNotFound):
				writeError(w, http.StatusNotFound, "channel not found")
			case errors.Is(err, domain.ErrInvalidHandle):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				logger.Error("channel processing failed", "handle", handle, "err", err)
				writeError(w, http.StatusBadGateway, "channel processing failed")
			}
			return
		}
		ingested.Add(int64(summary.Inserted))
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleVideosByChannel(videos *store.VideoStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := videos.FindByChannel(r.Context(), r.PathValue("channel"), 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, publicRecords(recs))
	}
}

func handleVideosByBrand(videos *store.VideoStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := videos.FindByBrand(r.Context(), r.PathValue("brand"), 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, publicRecords(recs))
	}
}

// brandDirectory is the graph surface the brand endpoints read from.
type brandDirectory interface {
	GetBrand(ctx context.Context, name string) (graph.Brand, error)
	ListBrands(ctx context.Context, opts repo.ListOpts) ([]graph.Brand, error)
	ChannelsForBrand(ctx context.Context, brand string) ([]string, error)
}

func handleBrands(dir brandDirectory, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 200 {
			limit = 100
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		brands, err := dir.ListBrands(r.Context(), repo.ListOpts{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("brand list failed", "err", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if brands == nil {
			brands = []graph.Brand{}
		}
		writeJSON(w, http.StatusOK, brands)
	}
}

// BrandProfile pairs a brand node with every channel it has sponsored.
type BrandProfile struct {
	graph.Brand
	Channels []string `json:"channels"`
}

func handleBrandProfile(dir brandDirectory, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("brand")
		brand, err := dir.GetBrand(r.Context(), name)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				writeError(w, http.StatusNotFound, "brand not found")
				return
			}
			logger.Error("brand lookup failed", "brand", name, "err", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		channels, err := dir.ChannelsForBrand(r.Context(), brand.Name)
		if err != nil {
			logger.Error("brand channels lookup failed", "brand", name, "err", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, BrandProfile{Brand: brand, Channels: channels})
	}
}

func handleSponsorships(g *graph.SponsorGraph, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		edges, err := g.Sponsorships(r.Context(), r.PathValue("channel"))
		if err != nil {
			logger.Error("sponsorship lookup failed", "err", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, edges)
	}
}

// PublicRecord is a VideoRecord without its embedding.
type PublicRecord struct {
	VideoID     string    `json:"video_id"`
	ChannelName string    `json:"channel_name"`
	Title       string    `json:"title"`
	Sponsors    []string  `json:"sponsors"`
	PublishedAt time.Time `json:"published_at"`
}

func publicRecords(recs []domain.VideoRecord) []PublicRecord {
	out := make([]PublicRecord, len(recs))
	for i, r := range recs {
		out[i] = PublicRecord{
			VideoID:     r.VideoID,
			ChannelName: r.ChannelName,
			Title:       r.Title,
			Sponsors:    r.Sponsors,
			PublishedAt: r.PublishedAt,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// --- Adapters ---

// searchAdapter turns ANN hits into ranked candidates by rehydrating the full
// records from the store. Hits whose record has vanished are dropped.
type searchAdapter struct {
	index  *semantic.VideoIndex
	videos *store.VideoStore
}

func (a *searchAdapter) Search(ctx context.Context, embedding []float32, topK int) ([]rank.Candidate, error) {
	hits, err := a.index.Search(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}
	candidates := make([]rank.Candidate, 0, len(hits))
	for _, h := range hits {
		rec, err := a.videos.Get(ctx, h.VideoID)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				continue
			}
			return nil, err
		}
		candidates = append(candidates, rank.Candidate{Video: rec, Score: h.Score})
	}
	return candidates, nil
}
