// Package extract detects sponsoring brands in video descriptions via a
// prompt-templated generation call. The model is a black box here: the
// package owns only the decision logic around it — the empty-input shortcut,
// the JSON-array output contract, and the malformed-output fallback.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SponsorLens/sponsorlens-mvp/pkg/resilience"
)

// Chatter is the narrow slice of the generation client the extractor needs.
type Chatter interface {
	Chat(ctx context.Context, prompt string, temperature float32) (string, error)
}

const extractTemperature = 0.3

const brandPrompt = `Extract and return a list of brand names, product names, company mentions,
and sponsorship-related entities from the following YouTube description.
Ensure the output is always a valid JSON array (e.g., ["Nike", "Apple"]).

Exclusions:
- DO NOT include personal names, content creators, or geographic locations (e.g., Spain, Dubai).
- DO NOT include social media platforms (e.g., Instagram, Twitter, Discord, Twitch, YouTube).

Inclusions:
- Include all brands associated with discount codes, affiliate links, or sponsorship mentions.
- Recognize brands even if they are indirectly referenced.

### Example 1:
Description: "Consigue un descuento exclusivo en tu seguro de viaje con Chapka Direct usando este enlace: https://www.chapkadirect.es"
Expected Output: ["Chapka Direct"]

### Example 2:
Description: "Patrocinado por Flexispot, la mejor marca de escritorios ergonómicos. Usa mi código 'Nandez' en https://bit.ly/3UQ6cwD"
Expected Output: ["Flexispot"]

### Example 3:
Description: "Gracias a Tesla por prestarme el coche para grabar este vídeo."
Expected Output: ["Tesla"]

### Example 4 (Avoid Locations):
Description: "Hoy visitamos el Dubai Atlantis Aquadventure, un parque acuático en Dubai. La pasamos genial en España."
Expected Output: []

### Example 5 (Ensure Discount Codes are Recognized):
Description: "Descuento en tu ESIM con SAILY: https://saily.com/nandez Código 'Nandez'"
Expected Output: ["SAILY"]

---
Description: %s`

// Extractor detects brands behind a circuit breaker.
type Extractor struct {
	chat    Chatter
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// New creates an Extractor.
func New(chat Chatter, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		chat:    chat,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger:  logger,
	}
}

// Brands returns the brand names detected in a description, in model output
// order. Empty input returns an empty slice without any network call.
// Malformed model output (anything that is not a JSON string array) yields an
// empty slice and a nil error: it is logged, never propagated. Only transport
// and quota failures return an error, so ingestion can degrade and count them.
func (e *Extractor) Brands(ctx context.Context, description string) ([]string, error) {
	if strings.TrimSpace(description) == "" {
		return []string{}, nil
	}

	var raw string
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		var chatErr error
		raw, chatErr = e.chat.Chat(ctx, fmt.Sprintf(brandPrompt, description), extractTemperature)
		return chatErr
	})
	if err != nil {
		return []string{}, fmt.Errorf("extract: brand detection: %w", err)
	}

	brands, ok := parseBrandArray(raw)
	if !ok {
		e.logger.Warn("extractor returned non-JSON-array output, treating as no brands",
			"output_len", len(raw))
		return []string{}, nil
	}
	return brands, nil
}

// parseBrandArray parses the model output as a JSON string array. Fenced
// code blocks around the array are tolerated; anything else is rejected.
func parseBrandArray(raw string) ([]string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var brands []string
	if err := json.Unmarshal([]byte(s), &brands); err != nil {
		return nil, false
	}
	if brands == nil {
		brands = []string{}
	}
	return brands, true
}
