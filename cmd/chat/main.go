// Command chat is an interactive terminal client for asking sponsorship
// questions against the local record store.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/SponsorLens/sponsorlens-mvp/engine/domain"
	"github.com/SponsorLens/sponsorlens-mvp/engine/rag"
	"github.com/SponsorLens/sponsorlens-mvp/engine/store"
	"github.com/SponsorLens/sponsorlens-mvp/pkg/openai"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ai := openai.New(os.Getenv("OPENAI_API_KEY"))

	videos, mongoClient, err := store.Connect(ctx,
		envOr("MONGO_URI", "mongodb://localhost:27017"),
		envOr("MONGO_DB", store.DefaultDatabase),
		envOr("MONGO_COLLECTION", store.DefaultCollection))
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer mongoClient.Disconnect(context.Background())

	svc := rag.New(rag.Deps{
		Embed:    ai,
		Generate: ai,
		Videos:   videos,
	}, rag.DefaultOptions(), logger)

	fmt.Println("SponsorLens chat. Ask about video sponsorships; Ctrl-D to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}

		answer, err := svc.Query(ctx, question)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidQuery) {
				fmt.Println("That question was rejected:", err)
				continue
			}
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintln(os.Stderr, "query:", err)
			continue
		}

		fmt.Println()
		fmt.Println(answer.Text)
		for _, src := range answer.Sources {
			fmt.Printf("  - %s (%s, score %.2f)\n", src.Title, src.Channel, src.Score)
		}
		fmt.Println()
	}
}
