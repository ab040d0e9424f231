// Package main starts the LINE → Instagram relay server.
//
// The service exposes two surfaces:
//   - POST /webhook — LINE Messaging API webhook deliveries
//   - GET /uploads/ — read-only static serving of fetched media, so the
//     URLs handed to Instagram and Gemini are publicly reachable
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/line-instagram-relay/internal/caption"
	"github.com/fpang/line-instagram-relay/internal/config"
	"github.com/fpang/line-instagram-relay/internal/instagram"
	"github.com/fpang/line-instagram-relay/internal/instructions"
	"github.com/fpang/line-instagram-relay/internal/line"
	"github.com/fpang/line-instagram-relay/internal/logging"
	"github.com/fpang/line-instagram-relay/internal/mediastore"
	"github.com/fpang/line-instagram-relay/internal/publisher"
	"github.com/fpang/line-instagram-relay/internal/tasks"
	"github.com/fpang/line-instagram-relay/internal/webhook"
)

// publishGrace is the fixed wait between container creation and publish
// commit when status polling is disabled (RELAY_PUBLISH_WAIT=fixed).
const publishGrace = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "relay-server",
	Short: "Relay LINE photo messages to Instagram with AI captions",
	Long: `Relay Server receives LINE webhook events, stores per-user caption
instructions, downloads submitted photos, generates captions with Gemini,
and publishes the photos to Instagram via the Graph API.

Configuration is environment-based; see internal/config for the variables.`,
	Run: runMain,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	store, err := mediastore.New(cfg.MediaDir, cfg.PublicBaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.MediaDir).Msg("Failed to initialize media store")
	}

	lineClient := line.NewClient(cfg.LINEChannelToken)
	fetcher := mediastore.NewFetcher(lineClient, store)

	captions, err := caption.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create caption generator")
	}

	igClient := instagram.NewClient(cfg.IGAccessToken, cfg.IGBusinessID)

	var wait publisher.WaitFunc
	if cfg.PublishWait == config.WaitFixed {
		wait = publisher.FixedWait(publishGrace)
	} else {
		wait = func(ctx context.Context, containerID string) error {
			return igClient.WaitForContainer(ctx, containerID, 0)
		}
	}

	pub := publisher.New(store, captions, igClient, wait)
	registry := tasks.NewRegistry()
	dispatcher := webhook.NewDispatcher(instructions.NewMemoryStore(), fetcher, lineClient, pub, registry)

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook.NewHandler(cfg.LINEChannelSecret, dispatcher))
	mux.Handle(mediastore.PublicPrefix, store.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Int64("inFlightTasks", registry.InFlight()).Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logging.NewStartupLogger("relay-server").
		Config("publicBaseUrl", cfg.PublicBaseURL).
		Config("mediaDir", cfg.MediaDir).
		Config("publishWait", cfg.PublishWait).
		Feature("gemini", cfg.GeminiAPIKey != "").
		Feature("signatureVerification", cfg.LINEChannelSecret != "").
		InitDuration(time.Since(initStart)).
		Log()

	log.Info().Int("port", cfg.Port).Msg("Starting relay server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}

	// In-flight publish jobs run to completion; give them a chance to
	// settle before the process exits.
	registry.Wait()
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if !strings.HasPrefix(r.URL.Path, mediastore.PublicPrefix) {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		}
	})
}
