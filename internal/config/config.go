// This file defines the configuration structure for the application.
package config

import (
	// use Viper for loading the config.yml file.
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // "text" or "json"
	} `mapstructure:"log"`
	Temp struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"temp"`
	Media struct {
		YtDlpPath       string `mapstructure:"ytdlp_path"`
		FFmpegPath      string `mapstructure:"ffmpeg_path"`
		FFprobePath     string `mapstructure:"ffprobe_path"`
		MinYtDlpVersion string `mapstructure:"min_ytdlp_version"`
		Proxy           string `mapstructure:"proxy"`
		CookiesPath     string `mapstructure:"cookies_path"`
	} `mapstructure:"media"`
	Pipeline struct {
		SegmentSeconds          int  `mapstructure:"segment_seconds"`
		RecognitionConcurrency  int  `mapstructure:"recognition_concurrency"`
		EnrichmentConcurrency   int  `mapstructure:"enrichment_concurrency"`
		ConfidenceThreshold     int  `mapstructure:"confidence_threshold"`
		MergeConsecutiveMatches bool `mapstructure:"merge_consecutive_matches"`
	} `mapstructure:"pipeline"`
	Queue struct {
		Workers             int `mapstructure:"workers"`
		PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
		MaxAttempts         int `mapstructure:"max_attempts"`
		BackoffBaseMs       int `mapstructure:"backoff_base_ms"`
		BackoffMaxSeconds   int `mapstructure:"backoff_max_seconds"`
		HeartbeatSeconds    int `mapstructure:"heartbeat_seconds"`
		StallTimeoutSeconds int `mapstructure:"stall_timeout_seconds"`
		SweepMinutes        int `mapstructure:"sweep_minutes"`
		JobTimeoutMinutes   int `mapstructure:"job_timeout_minutes"`
	} `mapstructure:"queue"`
	Limits struct {
		MinDurationSeconds int `mapstructure:"min_duration_seconds"`
		MaxDurationSeconds int `mapstructure:"max_duration_seconds"`
	} `mapstructure:"limits"`
	Watcher struct {
		IntervalMinutes int `mapstructure:"interval_minutes"`
		MaxVideos       int `mapstructure:"max_videos"`
		ChannelDelayMs  int `mapstructure:"channel_delay_ms"`
	} `mapstructure:"watcher"`
	Recognition struct {
		Endpoint          string  `mapstructure:"endpoint"`
		TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
		MaxRetries        int     `mapstructure:"max_retries"`
		RetryDelayMs      int     `mapstructure:"retry_delay_ms"`
		DefaultConfidence float64 `mapstructure:"default_confidence"`
	} `mapstructure:"recognition"`
	Spotify struct {
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		Market       string `mapstructure:"market"`
	} `mapstructure:"spotify"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"redis"`
	Cleanup struct {
		IntervalHours int `mapstructure:"interval_hours"`
		MaxAgeHours   int `mapstructure:"max_age_hours"`
	} `mapstructure:"cleanup"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")    // or "yaml"
	v.AddConfigPath(".")      // looking for config in the current directory

	// e.g., SETLIST_DATABASE_PATH will override the `database.path` key.
	v.SetEnvPrefix("SETLIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error and use defaults
		} else {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("database.path", "./setlist.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("temp.dir", "./tmp")

	v.SetDefault("media.ytdlp_path", "yt-dlp")
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.min_ytdlp_version", "2024.12.13")
	v.SetDefault("media.proxy", "")
	v.SetDefault("media.cookies_path", "")

	v.SetDefault("pipeline.segment_seconds", 10)
	v.SetDefault("pipeline.recognition_concurrency", 30)
	v.SetDefault("pipeline.enrichment_concurrency", 30)
	v.SetDefault("pipeline.confidence_threshold", 80)
	v.SetDefault("pipeline.merge_consecutive_matches", false)

	v.SetDefault("queue.workers", 1)
	v.SetDefault("queue.poll_interval_seconds", 5)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_ms", 2000)
	v.SetDefault("queue.backoff_max_seconds", 600)
	v.SetDefault("queue.heartbeat_seconds", 15)
	v.SetDefault("queue.stall_timeout_seconds", 120)
	v.SetDefault("queue.sweep_minutes", 1)
	v.SetDefault("queue.job_timeout_minutes", 120)

	v.SetDefault("limits.min_duration_seconds", 60)
	v.SetDefault("limits.max_duration_seconds", 28800)

	v.SetDefault("watcher.interval_minutes", 10)
	v.SetDefault("watcher.max_videos", 10)
	v.SetDefault("watcher.channel_delay_ms", 1000)

	v.SetDefault("recognition.endpoint", "http://localhost:8000/recognize")
	v.SetDefault("recognition.timeout_seconds", 60)
	v.SetDefault("recognition.max_retries", 3)
	v.SetDefault("recognition.retry_delay_ms", 2000)
	v.SetDefault("recognition.default_confidence", 90)

	v.SetDefault("spotify.client_id", "")
	v.SetDefault("spotify.client_secret", "")
	v.SetDefault("spotify.market", "US")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "setlist:queue")

	v.SetDefault("cleanup.interval_hours", 24)
	v.SetDefault("cleanup.max_age_hours", 6)
}
