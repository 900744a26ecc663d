// Package rag orchestrates the retrieval and response pipeline. It accepts a
// user question, embeds it, gates it on-topic, ranks stored video records by
// similarity, applies the relevance threshold, and composes the final answer
// from the retrieved sponsorship context via the generation collaborator.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
	"github.com/SponsorLens/sponsorlens-mvp/engine/rank"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/fn"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a natural-language response for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VideoSource provides the candidate set for the linear similarity scan.
type VideoSource interface {
	ScanAll(ctx context.Context, limit int) ([]domain.VideoRecord, error)
}

// Searcher is an optional ANN substitute for the linear scan. Implementations
// return candidates already scored and ordered, highest first.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]rank.Candidate, error)
}

// GraphEnricher optionally enriches the answer context with sponsorship
// graph lookups.
type GraphEnricher interface {
	BrandsForChannel(ctx context.Context, channel string) ([]string, error)
}

// Fixed user-facing messages. These are literal by design: when there is no
// grounding data the system must never hand the wording to the model.
const (
	FallbackNoMatch     = "I could not find relevant information for your question. Could you rephrase it?"
	FallbackUnavailable = "I'm having trouble answering right now. Please try again in a moment."
)

const answerPrompt = `You have access to information about YouTube video sponsorships.
A user asks: %s

Use ONLY the following stored information to answer:

%s

Answer naturally and concisely. If the information above does not fully cover
the question, say what you do know and be honest about the rest.`

const genericPrompt = `You are SponsorLens, an assistant that tracks brand sponsorships in
YouTube videos. The user's message is general conversation rather than a
sponsorship question. Reply briefly and helpfully, and mention that you can
answer questions about which brands sponsored which videos or channels.

User message: %s`

// Options configures the retrieval pipeline behaviour.
type Options struct {
	Threshold      float32
	TopN           int
	TopicThreshold float32
	ScanLimit      int
	SearchTimeout  time.Duration
	UseGraph       bool
}

// DefaultOptions returns the tuning the system ships with.
func DefaultOptions() Options {
	return Options{
		Threshold:      rank.DefaultThreshold,
		TopN:           rank.DefaultTopN,
		TopicThreshold: rank.DefaultTopicThreshold,
		ScanLimit:      100,
		SearchTimeout:  5 * time.Second,
		UseGraph:       true,
	}
}

// Deps holds the collaborators. Embed, Generate, and Videos are required;
// Searcher, Classifier, and Graph are optional.
type Deps struct {
	Embed      Embedder
	Generate   Generator
	Videos     VideoSource
	Searcher   Searcher
	Classifier *rank.TopicClassifier
	Graph      GraphEnricher
}

// Service runs queries end to end.
type Service struct {
	deps   Deps
	gate   rank.Gate
	opts   Options
	logger *slog.Logger
}

// New creates a Service.
func New(deps Deps, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = DefaultOptions().ScanLimit
	}
	return &Service{
		deps:   deps,
		gate:   rank.Gate{Threshold: opts.Threshold, TopN: opts.TopN},
		opts:   opts,
		logger: logger,
	}
}

// Answer is the structured response from the pipeline.
type Answer struct {
	Text     string   `json:"text"`
	Sources  []Source `json:"sources,omitempty"`
	Fallback bool     `json:"fallback"`
	OffTopic bool     `json:"off_topic,omitempty"`
}

// Source is a stored video backing the answer.
type Source struct {
	VideoID  string   `json:"video_id"`
	Title    string   `json:"title"`
	Channel  string   `json:"channel"`
	Sponsors []string `json:"sponsors"`
	Score    float32  `json:"score"`
}

// Query runs the full pipeline for a user question. The query path is
// read-only: cancellation at any suspension point leaves no partial writes.
// Collaborator failures are absorbed into fixed fallback answers; only
// validation and store errors propagate.
func (s *Service) Query(ctx context.Context, question string) (*Answer, error) {
	if err := domain.ValidateQuery(domain.Query{Text: question}); err != nil {
		return nil, err
	}
	s.logger.Info("query start", "question_len", len(question))

	// Embed the query, retrying once: cheap single-item call.
	embResult := fn.Retry(ctx, fn.RetryOpts{MaxAttempts: 2, InitialWait: 300 * time.Millisecond, MaxWait: time.Second},
		func(ctx context.Context) fn.Result[[]float32] {
			return fn.FromPair(s.deps.Embed.Embed(ctx, question))
		})
	queryEmb, err := embResult.Unwrap()
	if err != nil {
		s.logger.Error("query embed failed", "err", err)
		return &Answer{Text: FallbackUnavailable, Fallback: true}, nil
	}

	// Topic gate: off-topic questions skip the store entirely.
	if s.deps.Classifier != nil && !s.deps.Classifier.OnTopic(queryEmb) {
		s.logger.Info("query off-topic, generic path")
		return s.genericChat(ctx, question), nil
	}

	ranked, err := s.retrieve(ctx, queryEmb)
	if err != nil {
		return nil, fmt.Errorf("rag: retrieve: %w", err)
	}
	if len(ranked) > 0 {
		s.logger.Info("ranked candidates", "count", len(ranked), "top_score", ranked[0].Score)
	}

	selected, ok := s.gate.Select(ranked)
	if !ok {
		s.logger.Info("no candidate above threshold", "threshold", s.gate.Threshold)
		return &Answer{Text: FallbackNoMatch, Fallback: true}, nil
	}

	contextText := s.buildContext(ctx, selected)
	reply, err := s.deps.Generate.Generate(ctx, fmt.Sprintf(answerPrompt, question, contextText))
	if err != nil {
		s.logger.Error("generation failed", "err", err)
		return &Answer{Text: FallbackUnavailable, Fallback: true, Sources: sources(ranked, len(selected))}, nil
	}

	return &Answer{Text: reply, Sources: sources(ranked, len(selected))}, nil
}

// retrieve produces the ranked candidate set, via the ANN searcher when one
// is wired, otherwise by scanning the store and ranking locally.
func (s *Service) retrieve(ctx context.Context, queryEmb []float32) ([]rank.Candidate, error) {
	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	if s.deps.Searcher != nil {
		topK := s.gate.TopN
		if topK <= 0 {
			topK = rank.DefaultTopN
		}
		return s.deps.Searcher.Search(searchCtx, queryEmb, topK)
	}

	videos, err := s.deps.Videos.ScanAll(searchCtx, s.opts.ScanLimit)
	if err != nil {
		return nil, err
	}
	return rank.Rank(queryEmb, videos), nil
}

// buildContext enumerates the selected videos into the grounding block the
// generator sees: title, channel, and comma-joined sponsors per video.
func (s *Service) buildContext(ctx context.Context, selected []domain.VideoRecord) string {
	var b strings.Builder
	channels := make(map[string]bool)
	for _, v := range selected {
		sponsors := "none"
		if len(v.Sponsors) > 0 {
			sponsors = strings.Join(v.Sponsors, ", ")
		}
		fmt.Fprintf(&b, "- %q (channel: %s, published: %s) was sponsored by: %s\n",
			v.Title, v.ChannelName, v.PublishedAt.Format("2006-01-02"), sponsors)
		channels[v.ChannelName] = true
	}

	if s.opts.UseGraph && s.deps.Graph != nil {
		for ch := range channels {
			brands, err := s.deps.Graph.BrandsForChannel(ctx, ch)
			if err != nil {
				s.logger.Warn("graph enrichment failed, continuing without", "err", err)
				continue
			}
			if len(brands) > 0 {
				fmt.Fprintf(&b, "Across all stored videos, %s has been sponsored by: %s\n",
					ch, strings.Join(brands, ", "))
			}
		}
	}
	return b.String()
}

// genericChat handles off-topic messages without store context.
func (s *Service) genericChat(ctx context.Context, question string) *Answer {
	reply, err := s.deps.Generate.Generate(ctx, fmt.Sprintf(genericPrompt, question))
	if err != nil {
		s.logger.Error("generic chat generation failed", "err", err)
		return &Answer{Text: FallbackUnavailable, Fallback: true, OffTopic: true}
	}
	return &Answer{Text: reply, OffTopic: true}
}

func sources(ranked []rank.Candidate, n int) []Source {
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]Source, n)
	for i := 0; i < n; i++ {
		c := ranked[i]
		out[i] = Source{
			VideoID:  c.Video.VideoID,
			Title:    c.Video.Title,
			Channel:  c.Video.ChannelName,
			Sponsors: c.Video.Sponsors,
			Score:    c.Score,
		}
	}
	return out
}
