package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const (
	// ChannelSubject carries channel ingestion requests.
	ChannelSubject = "sponsorlens.ingest.channel"
	// DLQSubject receives requests that exhausted their retries.
	DLQSubject = "sponsorlens.ingest.dlq"
	// MaxRetries before a request lands in the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// ChannelRequest asks the worker to ingest a channel's recent videos.
type ChannelRequest struct {
	Handle    string `json:"handle"`
	MaxVideos int    `json:"max_videos,omitempty"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Request ChannelRequest `json:"request"`
	Error   string         `json:"error"`
	Retries int            `json:"retries"`
}

// StartConsumer subscribes the runner to channel ingestion requests, with
// retry and DLQ handling. Transient failures re-publish the request with an
// incremented retry header; the DLQ gets whatever keeps failing.
func StartConsumer(nc *nats.Conn, runner *Runner, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(ChannelSubject, func(msg *nats.Msg) {
		var req ChannelRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Error("ingest: bad channel request", "error", err)
			return
		}

		ctx := context.Background()
		summary, err := runner.ProcessChannel(ctx, req.Handle, req.MaxVideos)
		if err == nil {
			log.Info("ingest: request done",
				"handle", req.Handle, "inserted", summary.Inserted, "skipped", summary.Skipped)
			if msg.Reply != "" {
				_ = msg.Ack()
			}
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}
		retries++
		log.Error("ingest: request failed", "handle", req.Handle, "retry", retries, "error", err)

		if retries >= MaxRetries {
			data, _ := json.Marshal(dlqMessage{Request: req, Error: err.Error(), Retries: retries})
			if err := nc.Publish(DLQSubject, data); err != nil {
				log.Error("ingest: DLQ publish failed", "error", err)
			}
		} else {
			retry := nats.NewMsg(ChannelSubject)
			retry.Data = msg.Data
			retry.Header = nats.Header{}
			retry.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
			if err := nc.PublishMsg(retry); err != nil {
				log.Error("ingest: retry publish failed", "error", err)
			}
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
