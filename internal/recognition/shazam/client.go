// Package shazam talks to a Shazam-compatible recognition service: an HTTP
// endpoint that accepts an audio clip and answers with a Shazam track document.
package shazam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/recognition"
)

// errRetryable marks responses worth another attempt.
var errRetryable = errors.New("retryable recognition failure")

type Client struct {
	endpoint          string
	http              *http.Client
	maxRetries        int
	retryDelay        time.Duration
	rateLimitDelay    time.Duration
	defaultConfidence float64
	sleep             func(ctx context.Context, d time.Duration) error
}

var _ recognition.Recognizer = (*Client)(nil)

func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint:          endpoint,
		http:              &http.Client{Timeout: timeout},
		maxRetries:        3,
		retryDelay:        2 * time.Second,
		rateLimitDelay:    5 * time.Second,
		defaultConfidence: 90,
		sleep:             sleepCtx,
	}
}

// NewFromConfig builds a client from the recognition config section.
func NewFromConfig(cfg *config.Config) *Client {
	c := New(cfg.Recognition.Endpoint, time.Duration(cfg.Recognition.TimeoutSeconds)*time.Second)
	c.maxRetries = cfg.Recognition.MaxRetries
	if cfg.Recognition.RetryDelayMs > 0 {
		c.retryDelay = time.Duration(cfg.Recognition.RetryDelayMs) * time.Millisecond
	}
	if cfg.Recognition.DefaultConfidence > 0 {
		c.defaultConfidence = cfg.Recognition.DefaultConfidence
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recognize uploads the segment and parses the match. Transient failures
// are retried with exponential backoff; a 429 waits longer before retrying.
func (c *Client) Recognize(ctx context.Context, seg media.Segment) (*models.TrackCandidate, error) {
	audio, err := os.ReadFile(seg.Path)
	if err != nil {
		return nil, fmt.Errorf("read segment %d: %w", seg.Index, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			if errors.Is(lastErr, errRateLimited) && delay < c.rateLimitDelay {
				delay = c.rateLimitDelay
			}
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		cand, err := c.recognizeOnce(ctx, seg, audio)
		if err == nil {
			return cand, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !errors.Is(err, errRetryable) {
			return nil, err
		}
		log.WithFields(log.Fields{"segment": seg.Index, "attempt": attempt + 1}).WithError(err).Debug("recognition attempt failed")
	}
	return nil, fmt.Errorf("segment %d: recognition failed after %d attempts: %w", seg.Index, c.maxRetries+1, lastErr)
}

var errRateLimited = fmt.Errorf("%w: rate limited", errRetryable)

func (c *Client) recognizeOnce(ctx context.Context, seg media.Segment, audio []byte) (*models.TrackCandidate, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(seg.Path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	_ = mw.WriteField("offset", strconv.Itoa(int(seg.Start.Seconds())))
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("recognition service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var doc response
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", errRetryable, err)
	}
	return doc.candidate(c.defaultConfidence), nil
}
