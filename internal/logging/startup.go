package logging

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects service identity, configuration, and feature flags,
// then emits a single structured zerolog event summarising the startup state.
// This makes it easy to understand exactly how the service was configured
// when troubleshooting from logs.
type StartupLogger struct {
	name         string
	initDuration time.Duration

	config   map[string]string
	features map[string]bool
}

// NewStartupLogger creates a StartupLogger for the given service name.
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:     name,
		config:   make(map[string]string),
		features: make(map[string]bool),
	}
}

// Config registers an arbitrary configuration value. Never pass secrets;
// log their presence with Feature instead.
func (s *StartupLogger) Config(label, value string) *StartupLogger {
	s.config[label] = value
	return s
}

// Feature registers a feature flag (e.g. whether a client is configured).
func (s *StartupLogger) Feature(label string, enabled bool) *StartupLogger {
	s.features[label] = enabled
	return s
}

// InitDuration sets how long startup initialization took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// Log emits the collected startup state as a single structured event.
func (s *StartupLogger) Log() {
	ev := log.Info().
		Str("service", s.name).
		Str("goVersion", runtime.Version()).
		Dur("initDuration", s.initDuration)

	if len(s.config) > 0 {
		cfg := zerolog.Dict()
		for k, v := range s.config {
			cfg.Str(k, v)
		}
		ev = ev.Dict("config", cfg)
	}
	if len(s.features) > 0 {
		feats := zerolog.Dict()
		for k, v := range s.features {
			feats.Bool(k, v)
		}
		ev = ev.Dict("features", feats)
	}

	ev.Msg("Service started")
}
