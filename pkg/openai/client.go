// Package openai provides a minimal OpenAI HTTP API client covering the two
// calls the engine needs: text embeddings and chat completions.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SponsorLens/sponsorlens-mvp/pkg/resilience"
)

// DefaultEmbedModel produces 1536-dimension vectors.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultEmbedModel = "text-embedding-ada-002"
	DefaultChatModel  = "gpt-3.5-turbo"
	EmbedDims         = 1536
)

// ErrUnavailable marks quota or transport failures (429/5xx). Callers treat
// this as non-fatal for a single item.
var ErrUnavailable = errors.New("openai: service unavailable")

// Client calls the OpenAI API. All requests share a token bucket sized for
// the account's rate tier.
type Client struct {
	baseURL    string
	apiKey     string
	embedModel string
	chatModel  string
	httpClient *http.Client
	limiter    *resilience.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (for tests and proxies).
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithEmbedModel overrides the embedding model.
func WithEmbedModel(m string) Option { return func(c *Client) { c.embedModel = m } }

// WithChatModel overrides the chat model.
func WithChatModel(m string) Option { return func(c *Client) { c.chatModel = m } }

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// WithRateLimit overrides the requests-per-second budget.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: perSecond, Burst: burst})
	}
}

// New creates a Client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		embedModel: DefaultEmbedModel,
		chatModel:  DefaultChatModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    resilience.NewLimiter(resilience.LimiterOpts{Rate: 5, Burst: 10}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for a text string.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	if err := c.post(ctx, "/embeddings", embedRequest{Model: c.embedModel, Input: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return out.Data[0].Embedding, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Chat sends a single-message chat completion and returns the reply text.
func (c *Client) Chat(ctx context.Context, prompt string, temperature float32) (string, error) {
	req := chatRequest{
		Model:       c.chatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	}
	var out chatResponse
	if err := c.post(ctx, "/chat/completions", req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty response")
	}
	return out.Choices[0].Message.Content, nil
}

// Generate implements the engine's Generator contract with the default
// answer temperature.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, prompt, 0.5)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("openai: %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai: %s: decode: %w", path, err)
	}
	return nil
}
