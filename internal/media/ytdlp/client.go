// Package ytdlp implements media.Acquirer on top of the yt-dlp, ffmpeg and
// ffprobe command line tools.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/util"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

type Options struct {
	YtDlpPath   string
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	Proxy       string
	CookiesPath string
	MinVersion  string
}

// Client shells out to yt-dlp and ffmpeg. It is safe for concurrent use.
type Client struct {
	opts Options
	run  Runner
}

var _ media.Acquirer = (*Client)(nil)

func New(opts Options) *Client {
	if opts.YtDlpPath == "" {
		opts.YtDlpPath = "yt-dlp"
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Client{opts: opts, run: runCommand}
}

// NewFromConfig builds a client from the media and temp sections of cfg.
func NewFromConfig(cfg *config.Config) *Client {
	return New(Options{
		YtDlpPath:   cfg.Media.YtDlpPath,
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
		TempDir:     cfg.Temp.Dir,
		Proxy:       cfg.Media.Proxy,
		CookiesPath: cfg.Media.CookiesPath,
		MinVersion:  cfg.Media.MinYtDlpVersion,
	})
}

// WithRunner replaces the command runner, mostly for tests.
func (c *Client) WithRunner(r Runner) *Client {
	cp := *c
	cp.run = r
	return &cp
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Name: filepath.Base(name), Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return stdout.Bytes(), nil
}

// CommandError is returned when an external tool exits unsuccessfully.
type CommandError struct {
	Name   string
	Err    error
	Stderr string
}

func (e *CommandError) Error() string {
	msg := e.Stderr
	if len(msg) > 500 {
		msg = msg[len(msg)-500:]
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Name, e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

func (c *Client) baseArgs() []string {
	args := []string{"--no-warnings"}
	if strings.TrimSpace(c.opts.Proxy) != "" {
		args = append(args, "--proxy", strings.TrimSpace(c.opts.Proxy))
	}
	if strings.TrimSpace(c.opts.CookiesPath) != "" {
		args = append(args, "--cookies", c.opts.CookiesPath)
	}
	return args
}

// unavailableMarkers are yt-dlp error fragments meaning the video will never be fetchable.
var unavailableMarkers = []string{
	"Video unavailable",
	"Private video",
	"This video has been removed",
	"This video is not available",
	"members-only content",
	"account associated with this video has been terminated",
}

func classify(err error) error {
	var ce *CommandError
	if errors.As(err, &ce) {
		for _, m := range unavailableMarkers {
			if strings.Contains(ce.Stderr, m) {
				return fmt.Errorf("%w: %s", media.ErrUnavailable, m)
			}
		}
	}
	return err
}

type ytChapter struct {
	Title     string  `json:"title"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

type ytInfo struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Duration        float64     `json:"duration"`
	UploadDate      string      `json:"upload_date"`
	ChannelID       string      `json:"channel_id"`
	Channel         string      `json:"channel"`
	Uploader        string      `json:"uploader"`
	ChannelURL      string      `json:"channel_url"`
	UploaderURL     string      `json:"uploader_url"`
	Thumbnail       string      `json:"thumbnail"`
	ViewCount       *int64      `json:"view_count"`
	LikeCount       *int64      `json:"like_count"`
	PlayableInEmbed *bool       `json:"playable_in_embed"`
	Chapters        []ytChapter `json:"chapters"`
}

func (y *ytInfo) toModel(videoID string) *models.VideoInfo {
	info := &models.VideoInfo{
		VideoID:         videoID,
		Title:           y.Title,
		Description:     y.Description,
		Duration:        int(y.Duration),
		PublishDate:     formatUploadDate(y.UploadDate),
		ChannelID:       y.ChannelID,
		ChannelName:     y.Channel,
		ChannelURL:      y.ChannelURL,
		Thumbnail:       y.Thumbnail,
		PlayableInEmbed: true,
	}
	if info.ChannelName == "" {
		info.ChannelName = y.Uploader
	}
	if info.ChannelURL == "" {
		info.ChannelURL = y.UploaderURL
	}
	if y.ViewCount != nil {
		info.ViewCount = *y.ViewCount
	}
	if y.LikeCount != nil {
		info.LikeCount = *y.LikeCount
	}
	if y.PlayableInEmbed != nil {
		info.PlayableInEmbed = *y.PlayableInEmbed
	}
	for _, ch := range y.Chapters {
		info.Chapters = append(info.Chapters, models.Chapter{
			Title:     ch.Title,
			StartTime: int(ch.StartTime),
			EndTime:   int(ch.EndTime),
		})
	}
	return info
}

// formatUploadDate turns yt-dlp's YYYYMMDD into YYYY-MM-DD.
func formatUploadDate(s string) string {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// GetVideoInfo fetches the video's metadata without downloading it.
func (c *Client) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoInfo, error) {
	if !util.IsValidVideoID(videoID) {
		return nil, fmt.Errorf("invalid video id %q", videoID)
	}
	args := append(c.baseArgs(), "-J", "--skip-download", "--no-playlist", watchURL(videoID))
	out, err := c.run(ctx, c.opts.YtDlpPath, args...)
	if err != nil {
		return nil, classify(err)
	}

	var raw ytInfo
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decode yt-dlp metadata for %s: %w", videoID, err)
	}
	if raw.ID != "" && raw.ID != videoID {
		return nil, fmt.Errorf("yt-dlp returned metadata for %s, wanted %s", raw.ID, videoID)
	}
	return raw.toModel(videoID), nil
}

// DownloadAudio extracts the audio track as mp3 into the run's directory
// under the temp dir.
func (c *Client) DownloadAudio(ctx context.Context, videoID, runKey string) (*media.AudioFile, error) {
	if !util.IsValidVideoID(videoID) {
		return nil, fmt.Errorf("invalid video id %q", videoID)
	}
	dir, err := c.runDir(runKey)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	template := filepath.Join(dir, videoID+".%(ext)s")
	args := append(c.baseArgs(),
		"-x", "--audio-format", "mp3", "--audio-quality", "0",
		"--no-playlist", "--no-progress",
		"-o", template,
		watchURL(videoID))
	if _, err := c.run(ctx, c.opts.YtDlpPath, args...); err != nil {
		return nil, classify(err)
	}

	path := filepath.Join(dir, videoID+".mp3")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("downloaded audio not found: %w", err)
	}

	duration, err := c.probeDuration(ctx, path)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"video_id": videoID, "run": runKey, "duration": duration}).Debug("audio downloaded")
	return &media.AudioFile{VideoID: videoID, Path: path, Duration: duration}, nil
}

func (c *Client) runDir(runKey string) (string, error) {
	if !media.ValidRunKey(runKey) {
		return "", fmt.Errorf("invalid run key %q", runKey)
	}
	return filepath.Join(c.opts.TempDir, runKey), nil
}

func (c *Client) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := c.run(ctx, c.opts.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// SegmentPath returns where the window starting at start is written: next
// to the audio it is cut from.
func SegmentPath(audio *media.AudioFile, start time.Duration) string {
	return filepath.Join(filepath.Dir(audio.Path), fmt.Sprintf("%s_segment_%d.mp3", audio.VideoID, int(start.Seconds())))
}

// SplitAudio cuts one mp3 file per window. The result is in window order.
func (c *Client) SplitAudio(ctx context.Context, audio *media.AudioFile, windows []media.Window) ([]media.Segment, error) {
	segments := make([]media.Segment, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, w := range windows {
		g.Go(func() error {
			out := SegmentPath(audio, w.Start)
			_, err := c.run(gctx, c.opts.FFmpegPath,
				"-y", "-loglevel", "error",
				"-ss", formatSeconds(w.Start),
				"-t", formatSeconds(w.Duration),
				"-i", audio.Path,
				"-vn", "-acodec", "libmp3lame", "-b:a", "128k",
				out)
			if err != nil {
				return fmt.Errorf("cut segment %d: %w", w.Index, err)
			}
			segments[i] = media.Segment{Window: w, Path: out}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return segments, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

type ytPlaylist struct {
	Entries []struct {
		ID        string  `json:"id"`
		Title     string  `json:"title"`
		Duration  float64 `json:"duration"`
		Timestamp int64   `json:"timestamp"`
	} `json:"entries"`
}

// ListChannelUploads returns up to max of the channel's most recent uploads.
func (c *Client) ListChannelUploads(ctx context.Context, channelID string, max int) ([]models.Upload, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	if max <= 0 {
		max = 10
	}
	args := append(c.baseArgs(),
		"--flat-playlist", "-J",
		"--playlist-end", strconv.Itoa(max),
		"https://www.youtube.com/channel/"+channelID+"/videos")
	out, err := c.run(ctx, c.opts.YtDlpPath, args...)
	if err != nil {
		return nil, err
	}

	var playlist ytPlaylist
	if err := json.Unmarshal(out, &playlist); err != nil {
		return nil, fmt.Errorf("decode channel listing for %s: %w", channelID, err)
	}

	uploads := make([]models.Upload, 0, len(playlist.Entries))
	for _, e := range playlist.Entries {
		if !util.IsValidVideoID(e.ID) {
			continue
		}
		u := models.Upload{VideoID: e.ID, Title: e.Title, Duration: int(e.Duration)}
		if e.Timestamp > 0 {
			u.UploadedAt = time.Unix(e.Timestamp, 0).UTC()
		}
		uploads = append(uploads, u)
		if len(uploads) == max {
			break
		}
	}
	return uploads, nil
}

// Cleanup removes the run's directory with its audio and segment files.
func (c *Client) Cleanup(ctx context.Context, runKey string) error {
	dir, err := c.runDir(runKey)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	log.WithField("run", runKey).Debug("temp files cleaned")
	return nil
}
