// Package scraper implements the YouTube Data API v3 catalog client: channel
// resolution by handle, recent-video listing with Shorts filtering, and
// per-video description fetch.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
	"golang.org/x/time/rate"
)

const apiBase = "https://www.googleapis.com/youtube/v3"

// minVideoSeconds is the duration cutoff below which a video is treated as a
// Short and skipped during listing.
const minVideoSeconds = 180

// maxSearchResults is the largest maxResults the search endpoint accepts.
const maxSearchResults = 50

var (
	// ErrQuotaExhausted is returned when the API key is over quota.
	ErrQuotaExhausted = errors.New("youtube API quota exhausted")
	// ErrChannelNotFound is returned when a handle resolves to nothing.
	ErrChannelNotFound = errors.New("channel not found")
)

// Client calls the YouTube Data API.
type Client struct {
	apiKey      string
	baseURL     string
	rateLimiter *rate.Limiter
	httpClient  *http.Client
}

// NewClient creates a catalog client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:      apiKey,
		baseURL:     apiBase,
		rateLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API base URL, for tests.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// VideoMeta holds listing metadata for one video.
type VideoMeta struct {
	VideoID     string    `json:"video_id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
}

type channelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

// ChannelByHandle resolves a channel handle (e.g. "@ItzNandez") to its
// channel id and display name.
func (c *Client) ChannelByHandle(ctx context.Context, handle string) (domain.Channel, error) {
	handle = domain.NormalizeHandle(handle)
	if err := domain.ValidateHandle(handle); err != nil {
		return domain.Channel{}, err
	}

	var out channelsResponse
	err := c.get(ctx, "/channels", url.Values{
		"part":      {"id,snippet"},
		"forHandle": {handle},
	}, &out)
	if err != nil {
		return domain.Channel{}, err
	}
	if len(out.Items) == 0 {
		return domain.Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, handle)
	}
	return domain.Channel{ID: out.Items[0].ID, Name: out.Items[0].Snippet.Title}, nil
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

// LatestVideos lists a channel's most recent videos, newest first, excluding
// Shorts. It over-fetches by 3x because the search endpoint cannot filter by
// duration, then trims after the per-video duration check. The search API
// rejects maxResults above 50, so the over-fetch is capped there.
func (c *Client) LatestVideos(ctx context.Context, channelID string, max int) ([]VideoMeta, error) {
	if max <= 0 {
		max = 10
	}
	fetch := max * 3
	if fetch > maxSearchResults {
		fetch = maxSearchResults
	}

	var out searchResponse
	err := c.get(ctx, "/search", url.Values{
		"part":       {"snippet,id"},
		"channelId":  {channelID},
		"order":      {"date"},
		"type":       {"video"},
		"maxResults": {strconv.Itoa(fetch)},
	}, &out)
	if err != nil {
		return nil, err
	}

	var videos []VideoMeta
	for _, item := range out.Items {
		if item.ID.VideoID == "" {
			continue
		}
		short, err := c.isProbableShort(ctx, item.ID.VideoID)
		if err != nil {
			// Duration lookup failure only skips this one video.
			continue
		}
		if short {
			continue
		}
		pub, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		videos = append(videos, VideoMeta{
			VideoID:     item.ID.VideoID,
			Title:       item.Snippet.Title,
			PublishedAt: pub,
		})
		if len(videos) >= max {
			break
		}
	}
	return videos, nil
}

type videosResponse struct {
	Items []struct {
		Snippet struct {
			Description string `json:"description"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// VideoDescription fetches the full description of a video. A missing video
// yields an empty string, not an error.
func (c *Client) VideoDescription(ctx context.Context, videoID string) (string, error) {
	var out videosResponse
	err := c.get(ctx, "/videos", url.Values{
		"id":   {videoID},
		"part": {"snippet"},
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Items) == 0 {
		return "", nil
	}
	return out.Items[0].Snippet.Description, nil
}

// isProbableShort checks the video duration against the Shorts cutoff.
func (c *Client) isProbableShort(ctx context.Context, videoID string) (bool, error) {
	var out videosResponse
	err := c.get(ctx, "/videos", url.Values{
		"id":   {videoID},
		"part": {"contentDetails"},
	}, &out)
	if err != nil {
		return false, err
	}
	if len(out.Items) == 0 {
		return false, nil
	}
	secs, err := parseISODurationSeconds(out.Items[0].ContentDetails.Duration)
	if err != nil {
		return false, err
	}
	return secs < minVideoSeconds, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("scraper: request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scraper: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrQuotaExhausted
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("scraper: %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("scraper: %s: decode: %w", path, err)
	}
	return nil
}
