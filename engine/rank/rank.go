// Package rank implements the similarity ranker and relevance gate at the
// heart of the retrieval pipeline: cosine scoring of stored video embeddings
// against a query embedding, stable descending ranking, and the threshold
// decision between answering from the store and falling back.
package rank

import (
	"math"
	"sort"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
)

// Candidate pairs a video with its similarity score for one query.
// Request-scoped; discarded once a response is produced.
type Candidate struct {
	Video domain.VideoRecord
	Score float32
}

// Cosine returns the cosine similarity of two equal-length vectors in
// [-1, 1]. A zero-norm vector or a length mismatch yields 0 rather than an
// undefined division.
func Cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Rank scores every candidate video against the query embedding and returns
// them ordered by similarity, highest first. Videos without an embedding, or
// with an embedding of a different dimension, are skipped silently. The sort
// is stable: ties keep the input order.
//
// The scan is O(n·d); for hundreds of videos that is fine. Callers needing an
// ANN index swap in a Searcher at the rag layer instead of changing this.
func Rank(query []float32, videos []domain.VideoRecord) []Candidate {
	ranked := make([]Candidate, 0, len(videos))
	for _, v := range videos {
		if !v.HasEmbedding() || len(v.Embedding) != len(query) {
			continue
		}
		ranked = append(ranked, Candidate{Video: v, Score: Cosine(query, v.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Gate decides whether a ranked candidate set is trustworthy grounding.
// A wrong answer built on unrelated videos is worse than an honest
// "no data found", so anything below Threshold is rejected wholesale.
type Gate struct {
	// Threshold is the minimum top score required to answer from the store.
	Threshold float32
	// TopN is how many candidates Select returns when the gate passes.
	TopN int
}

// Defaults carried over from the source system's tuning.
const (
	DefaultThreshold      float32 = 0.35
	DefaultTopN                   = 3
	DefaultTopicThreshold float32 = 0.40
)

// DefaultGate returns the data-relevance gate with default tuning.
func DefaultGate() Gate {
	return Gate{Threshold: DefaultThreshold, TopN: DefaultTopN}
}

// Pass reports whether a single top score clears the threshold.
func (g Gate) Pass(top float32) bool { return top >= g.Threshold }

// Relevant reports whether the ranked set is usable: non-empty and with a
// top score at or above the threshold.
func (g Gate) Relevant(ranked []Candidate) bool {
	return len(ranked) > 0 && g.Pass(ranked[0].Score)
}

// Select returns the top-N videos when the gate passes, or (nil, false) when
// the caller must take the fallback path.
func (g Gate) Select(ranked []Candidate) ([]domain.VideoRecord, bool) {
	if !g.Relevant(ranked) {
		return nil, false
	}
	n := g.TopN
	if n <= 0 {
		n = DefaultTopN
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]domain.VideoRecord, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Video
	}
	return out, true
}

// TopicClassifier gates queries on-topic vs off-topic before the store is
// searched at all. Structurally it is the same embed→compare→threshold
// mechanism as the data-relevance gate, run against a fixed set of topic
// phrase embeddings instead of stored videos.
type TopicClassifier struct {
	topics [][]float32
	gate   Gate
}

// NewTopicClassifier builds a classifier from pre-embedded topic phrases.
func NewTopicClassifier(topics [][]float32, threshold float32) *TopicClassifier {
	if threshold == 0 {
		threshold = DefaultTopicThreshold
	}
	return &TopicClassifier{topics: topics, gate: Gate{Threshold: threshold}}
}

// OnTopic reports whether the query embedding is close enough to any topic
// phrase. An empty topic set admits everything: classification is an
// optimization, not a correctness requirement.
func (c *TopicClassifier) OnTopic(query []float32) bool {
	if len(c.topics) == 0 {
		return true
	}
	var best float32 = -1
	for _, t := range c.topics {
		if s := Cosine(query, t); s > best {
			best = s
		}
	}
	return c.gate.Pass(best)
}

// TopicPhrases is the default topic set embedded at startup for the
// on-topic gate.
var TopicPhrases = []string{
	"sponsorships and brand deals in YouTube videos",
	"which brands sponsored a channel",
	"discount codes and affiliate partnerships from creators",
	"advertising and product placements in videos",
}
