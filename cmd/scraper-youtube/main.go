// Command scraper-youtube lists a channel's recent videos and either prints
// them as JSON or enqueues the channel for ingestion over NATS.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/SponsorLens/sponsorlens-mvp/engine/ingest"
	"github.com/SponsorLens/sponsorlens-mvp/engine/scraper"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/natsutil"
)

func main() {
	var (
		apiKey  = flag.String("api-key", os.Getenv("YOUTUBE_API_KEY"), "YouTube Data API v3 key")
		handle  = flag.String("handle", "", "channel handle, e.g. @ItzNandez")
		max     = flag.Int("max", 10, "max videos to list")
		natsURL = flag.String("nats", "", "publish an ingestion request to this NATS server instead of printing")
	)
	flag.Parse()

	if *handle == "" {
		fmt.Fprintln(os.Stderr, "error: -handle is required")
		os.Exit(1)
	}
	if *apiKey == "" && *natsURL == "" {
		fmt.Fprintln(os.Stderr, "error: YouTube API key required (set YOUTUBE_API_KEY or use -api-key)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Queue mode: hand the whole channel to the ingest worker.
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("sponsorlens-scraper"))
		if err != nil {
			log.Fatalf("nats connect: %v", err)
		}
		defer nc.Close()

		req := ingest.ChannelRequest{Handle: *handle, MaxVideos: *max}
		if err := natsutil.Publish(ctx, nc, ingest.ChannelSubject, req); err != nil {
			log.Fatalf("publish: %v", err)
		}
		log.Printf("enqueued %s (max %d videos)", *handle, *max)
		return
	}

	// Listing mode: resolve and print.
	client := scraper.NewClient(*apiKey)
	channel, err := client.ChannelByHandle(ctx, *handle)
	if err != nil {
		log.Fatalf("resolve channel: %v", err)
	}

	videos, err := client.LatestVideos(ctx, channel.ID, *max)
	if err != nil {
		log.Fatalf("list videos: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, v := range videos {
		if err := enc.Encode(v); err != nil {
			log.Printf("encode error: %v", err)
		}
	}
	log.Printf("listed %d videos for %s", len(videos), channel.Name)
}
