// Verifies the configuration loading logic using Viper.

package config

import (
	"os"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults when no config file", func(t *testing.T) {
		// Ensure no config file exists for this test
		os.Remove("config.yml")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg.Port != 8080 {
			t.Errorf("Expected default port 8080, got %d", cfg.Port)
		}
		if cfg.Database.Path != "./setlist.db" {
			t.Errorf("Expected default db path './setlist.db', got '%s'", cfg.Database.Path)
		}
		if cfg.Pipeline.SegmentSeconds != 10 {
			t.Errorf("Expected default segment length 10, got %d", cfg.Pipeline.SegmentSeconds)
		}
		if cfg.Pipeline.RecognitionConcurrency != 30 {
			t.Errorf("Expected default recognition concurrency 30, got %d", cfg.Pipeline.RecognitionConcurrency)
		}
		if cfg.Pipeline.ConfidenceThreshold != 80 {
			t.Errorf("Expected default confidence threshold 80, got %d", cfg.Pipeline.ConfidenceThreshold)
		}
		if cfg.Pipeline.MergeConsecutiveMatches {
			t.Errorf("Expected consecutive match merging to be off by default")
		}
		if cfg.Queue.MaxAttempts != 3 || cfg.Queue.BackoffBaseMs != 2000 {
			t.Errorf("Expected retry defaults 3/2000ms, got %d/%dms", cfg.Queue.MaxAttempts, cfg.Queue.BackoffBaseMs)
		}
		if cfg.Watcher.IntervalMinutes != 10 || cfg.Watcher.MaxVideos != 10 {
			t.Errorf("Expected watcher defaults 10m/10 videos, got %dm/%d", cfg.Watcher.IntervalMinutes, cfg.Watcher.MaxVideos)
		}
		if cfg.Limits.MinDurationSeconds != 60 || cfg.Limits.MaxDurationSeconds != 28800 {
			t.Errorf("Unexpected duration limits %d-%d", cfg.Limits.MinDurationSeconds, cfg.Limits.MaxDurationSeconds)
		}
	})

	t.Run("Loads from config file", func(t *testing.T) {
		configContent := `
port: 9999
database:
  path: "/tmp/test.db"
pipeline:
  segment_seconds: 15
unknown_setting: "should be ignored"
`
		// Viper looks in the CWD, so t.TempDir() is not used here.
		configPath := "config.yml"
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("Failed to write test config file: %v", err)
		}
		defer os.Remove(configPath)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}

		if cfg.Port != 9999 {
			t.Errorf("Expected port 9999, got %d", cfg.Port)
		}
		if cfg.Database.Path != "/tmp/test.db" {
			t.Errorf("Expected db path '/tmp/test.db', got '%s'", cfg.Database.Path)
		}
		if cfg.Pipeline.SegmentSeconds != 15 {
			t.Errorf("Expected segment length 15, got %d", cfg.Pipeline.SegmentSeconds)
		}
		if cfg.Pipeline.EnrichmentConcurrency != 30 {
			t.Errorf("Expected default enrichment concurrency of 30, got %d", cfg.Pipeline.EnrichmentConcurrency)
		}
	})

	t.Run("Environment overrides", func(t *testing.T) {
		os.Remove("config.yml")
		t.Setenv("SETLIST_QUEUE_WORKERS", "4")
		t.Setenv("SETLIST_REDIS_ADDR", "localhost:6379")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned an error: %v", err)
		}
		if cfg.Queue.Workers != 4 {
			t.Errorf("Expected 4 workers from env, got %d", cfg.Queue.Workers)
		}
		if cfg.Redis.Addr != "localhost:6379" {
			t.Errorf("Expected redis addr from env, got '%s'", cfg.Redis.Addr)
		}
	})
}
