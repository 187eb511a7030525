package core

// scheduler.go runs background maintenance.
//
// The janitor sweeps chunk directories for uploads that were never
// finalized. It logs failures and keeps running; a failed sweep is retried
// on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// JanitorConfig controls the upload sweeper.
type JanitorConfig struct {
	MaxUploadAge  time.Duration // Unfinalized uploads idle longer than this are removed (default: 24h)
	CheckInterval time.Duration // How often to sweep (default: 1h)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.MaxUploadAge <= 0 {
		c.MaxUploadAge = 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// StartJanitor sweeps abandoned uploads immediately and then every
// CheckInterval until ctx is cancelled. It blocks; run it in a goroutine.
func (s *Service) StartJanitor(ctx context.Context, cfg JanitorConfig) {
	cfg = cfg.withDefaults()
	slog.Info("upload janitor started",
		"max_upload_age", cfg.MaxUploadAge,
		"check_interval", cfg.CheckInterval,
	)

	s.SweepUploads(cfg.MaxUploadAge)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("upload janitor stopped")
			return
		case <-ticker.C:
			s.SweepUploads(cfg.MaxUploadAge)
		}
	}
}

// SweepUploads runs one sweep and returns the number of uploads removed.
func (s *Service) SweepUploads(maxAge time.Duration) int {
	start := time.Now()
	removed, err := s.chunks.Sweep(maxAge)
	if err != nil {
		slog.Error("upload sweep failed", "removed", removed, "error", err)
		return removed
	}
	slog.Info("upload sweep completed",
		"removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return removed
}
