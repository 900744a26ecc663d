// Package main implements the WhatsApp webhook relay. Incoming text messages
// are answered through the question pipeline and the reply is sent back over
// the Graph API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/SponsorLens/sponsorlens-mvp/engine/graph"
	"github.com/SponsorLens/sponsorlens-mvp/engine/rag"
	"github.com/SponsorLens/sponsorlens-mvp/engine/rank"
	"github.com/SponsorLens/sponsorlens-mvp/engine/store"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/mid"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/openai"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/whatsapp"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	VerifyToken string

	WhatsAppToken string
	PhoneNumberID string

	MongoURI  string
	MongoDB   string
	MongoColl string
	OpenAIKey string

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string
}

func loadConfig() Config {
	return Config{
		Port:          envOr("PORT", "8081"),
		VerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		WhatsAppToken: os.Getenv("WHATSAPP_TOKEN"),
		PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		MongoURI:      envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:       envOr("MONGO_DB", store.DefaultDatabase),
		MongoColl:     envOr("MONGO_COLLECTION", store.DefaultCollection),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		Neo4jURL:      os.Getenv("NEO4J_URL"), // empty disables the graph
		Neo4jUser:     envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:     envOr("NEO4J_PASS", "password"),
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
		logger.Error("webhook exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ai := openai.New(cfg.OpenAIKey)

	videos, mongoClient, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoColl)
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.Background())

	ragDeps := rag.Deps{
		Embed:      ai,
		Generate:   ai,
		Videos:     videos,
		Classifier: buildClassifier(ctx, ai, logger),
	}
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return err
		}
		defer driver.Close(ctx)
		ragDeps.Graph = graph.New(driver)
	}
	ragSvc := rag.New(ragDeps, rag.DefaultOptions(), logger)

	sender := whatsapp.New(cfg.WhatsAppToken, cfg.PhoneNumberID)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", handleVerify(cfg.VerifyToken))
	mux.HandleFunc("POST /webhook", handleMessage(ragSvc, sender, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook starting", "port", cfg.Port)
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

// handleVerify implements the Graph API subscription handshake: echo
// hub.challenge when the verify token matches.
func handleVerify(verifyToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == verifyToken {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(q.Get("hub.challenge")))
			return
		}
		http.Error(w, "verification failed", http.StatusForbidden)
	}
}

// webhookPayload is the slice of the Graph API notification we care about.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// handleMessage answers each inbound text message. The webhook always
// acknowledges with 200 so Meta does not retry; failures surface to the user
// as the unavailability message instead.
func handleMessage(svc *rag.Service, sender *whatsapp.Client, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			logger.Warn("webhook: bad payload", "err", err)
			w.WriteHeader(http.StatusOK)
			return
		}

		for _, entry := range payload.Entry {
			for _, change := range entry.Changes {
				for _, msg := range change.Value.Messages {
					if msg.Type != "text" || msg.Text.Body == "" {
						continue
					}
					reply := answerFor(r.Context(), svc, msg.Text.Body, logger)
					if err := sender.SendText(r.Context(), msg.From, reply); err != nil {
						logger.Error("webhook: send failed", "to", msg.From, "err", err)
					}
				}
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func answerFor(ctx context.Context, svc *rag.Service, question string, logger *slog.Logger) string {
	answer, err := svc.Query(ctx, question)
	if err != nil {
		logger.Warn("webhook: query rejected", "err", err)
		return rag.FallbackNoMatch
	}
	return answer.Text
}
