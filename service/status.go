package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/monkebot/monkebot/database/db"
	log "github.com/sirupsen/logrus"
)

// StatsProvider supplies the current counters snapshot for the read-only
// status endpoint.
type StatsProvider interface {
	Stats(ctx context.Context) (db.BotMetrics, error)
}

type StatusServer struct {
	Server http.Server
}

func NewStatusServer(port int, stats StatsProvider) StatusServer {
	mux := http.NewServeMux()
	mux.Handle("/healthz", handleHealthcheck())
	mux.Handle("/api/stats", handleStats(stats))
	return StatusServer{
		Server: http.Server{
			Addr:    fmt.Sprintf("0.0.0.0:%d", port),
			Handler: mux,
		},
	}
}

func handleHealthcheck() http.Handler {
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			log.Debug("received healthcheck request")
			// This will have a status of 200
			fmt.Fprintf(w, "all good in the hood")
		},
	)
}

type statsResponse struct {
	PostCount          int `json:"post_count"`
	ReplyCount         int `json:"reply_count"`
	MentionCount       int `json:"mention_count"`
	ImageResponseCount int `json:"image_response_count"`
	TextResponseCount  int `json:"text_response_count"`
}

// handleStats serves the metrics snapshot. A storage error degrades to
// zero counters rather than a 500; the dashboard is a best-effort view.
func handleStats(stats StatsProvider) http.Handler {
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			metrics, err := stats.Stats(r.Context())
			if err != nil {
				log.Errorf("error retrieving stats: %v", err)
				metrics = db.BotMetrics{}
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(statsResponse{
				PostCount:          metrics.PostCount,
				ReplyCount:         metrics.ReplyCount,
				MentionCount:       metrics.MentionCount,
				ImageResponseCount: metrics.ImageResponseCount,
				TextResponseCount:  metrics.TextResponseCount,
			}); err != nil {
				log.Errorf("error writing stats response: %v", err)
			}
		},
	)
}
