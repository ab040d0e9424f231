// Package config loads service configuration from environment variables.
//
// All credentials are consumed as opaque values; validation is limited to
// presence checks. Required variables cause Load to fail so the service
// refuses to start half-configured.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fpang/line-instagram-relay/internal/logging"
)

// Publish wait strategies. See internal/publisher.
const (
	// WaitPoll polls the Instagram container processing status before the
	// publish commit.
	WaitPoll = "poll"

	// WaitFixed sleeps a fixed grace interval instead of polling. Kept for
	// deployments where the container status field is unavailable.
	WaitFixed = "fixed"
)

// Config holds all runtime configuration for the relay service.
type Config struct {
	// Port is the HTTP listen port (PORT, default 8080).
	Port int

	// PublicBaseURL is the externally reachable base URL of this service,
	// used to build the media URLs handed to Instagram and Gemini
	// (PUBLIC_BASE_URL, falling back to RENDER_EXTERNAL_URL).
	PublicBaseURL string

	// MediaDir is the local directory where fetched media is stored
	// (MEDIA_DIR, default "uploads").
	MediaDir string

	// LINEChannelToken authenticates against the LINE Messaging API
	// (LINE_CHANNEL_ACCESS_TOKEN).
	LINEChannelToken string

	// LINEChannelSecret verifies X-Line-Signature on inbound webhooks
	// (LINE_CHANNEL_SECRET). Empty disables signature verification.
	LINEChannelSecret string

	// IGAccessToken and IGBusinessID authenticate against the Instagram
	// Graph API (IG_ACCESS_TOKEN, IG_BUSINESS_ID).
	IGAccessToken string
	IGBusinessID  string

	// GeminiAPIKey enables AI caption generation (GEMINI_API_KEY). Empty
	// disables Gemini; captions fall back to the fixed template.
	GeminiAPIKey string

	// PublishWait selects the wait strategy between container creation and
	// publish commit (RELAY_PUBLISH_WAIT: "poll" or "fixed", default "poll").
	PublishWait string
}

// Load reads configuration from the environment. It returns an error if a
// required variable is missing or malformed.
func Load() (*Config, error) {
	cfg := &Config{
		MediaDir:          logging.EnvOrDefault("MEDIA_DIR", "uploads"),
		LINEChannelToken:  os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"),
		LINEChannelSecret: os.Getenv("LINE_CHANNEL_SECRET"),
		IGAccessToken:     os.Getenv("IG_ACCESS_TOKEN"),
		IGBusinessID:      os.Getenv("IG_BUSINESS_ID"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		PublishWait:       logging.EnvOrDefault("RELAY_PUBLISH_WAIT", WaitPoll),
	}

	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = os.Getenv("RENDER_EXTERNAL_URL")
	}

	port, err := strconv.Atoi(logging.EnvOrDefault("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	cfg.Port = port

	for _, required := range []struct{ name, value string }{
		{"LINE_CHANNEL_ACCESS_TOKEN", cfg.LINEChannelToken},
		{"IG_ACCESS_TOKEN", cfg.IGAccessToken},
		{"IG_BUSINESS_ID", cfg.IGBusinessID},
		{"PUBLIC_BASE_URL (or RENDER_EXTERNAL_URL)", cfg.PublicBaseURL},
	} {
		if required.value == "" {
			return nil, fmt.Errorf("%s is required", required.name)
		}
	}

	if cfg.PublishWait != WaitPoll && cfg.PublishWait != WaitFixed {
		return nil, fmt.Errorf("invalid RELAY_PUBLISH_WAIT %q: want %q or %q",
			cfg.PublishWait, WaitPoll, WaitFixed)
	}

	return cfg, nil
}
