// Package spotify enriches recognized tracks with Spotify Web API metadata,
// authenticating with the client credentials flow.
package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/enrichment"
	"github.com/vrsandeep/setlist-go/internal/models"
)

const (
	defaultAPIBase  = "https://api.spotify.com"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
)

var errNotFound = errors.New("spotify: not found")

type Client struct {
	clientID     string
	clientSecret string
	market       string

	apiBase  string
	tokenURL string
	http     *http.Client

	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

var _ enrichment.Enricher = (*Client)(nil)

func New(clientID, clientSecret, market string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		market:       market,
		apiBase:      defaultAPIBase,
		tokenURL:     defaultTokenURL,
		http:         &http.Client{Timeout: 15 * time.Second},
		maxRetries:   3,
		sleep:        sleepCtx,
	}
}

// NewFromConfig returns nil when no credentials are configured.
func NewFromConfig(cfg *config.Config) *Client {
	if cfg.Spotify.ClientID == "" || cfg.Spotify.ClientSecret == "" {
		return nil
	}
	return New(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.Spotify.Market)
}

// WithEndpoints points the client at other API and token URLs.
func (c *Client) WithEndpoints(apiBase, tokenURL string) *Client {
	c.apiBase = strings.TrimSuffix(apiBase, "/")
	c.tokenURL = tokenURL
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

// Enrich fetches the track by its Spotify id when known, otherwise by a
// title and artist search, then completes it with the album's label.
func (c *Client) Enrich(ctx context.Context, cand *models.TrackCandidate) (*models.Enrichment, error) {
	var (
		t   *spotifyTrack
		err error
	)
	if cand.KeyTrackSpotify != "" {
		t, err = c.getTrack(ctx, cand.KeyTrackSpotify)
	} else {
		t, err = c.searchTrack(ctx, cand.Title, cand.ArtistName)
	}
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e := t.enrichment()
	if t.Album.ID != "" {
		label, err := c.albumLabel(ctx, t.Album.ID)
		if err != nil {
			log.WithError(err).WithField("album", t.Album.ID).Debug("spotify album label lookup failed")
		}
		e.Label = label
	}
	return e, nil
}

func (c *Client) getTrack(ctx context.Context, id string) (*spotifyTrack, error) {
	query := url.Values{}
	if c.market != "" {
		query.Set("market", c.market)
	}
	var t spotifyTrack
	if err := c.get(ctx, "/v1/tracks/"+url.PathEscape(id), query, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) searchTrack(ctx context.Context, title, artist string) (*spotifyTrack, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errNotFound
	}
	q := "track:" + title
	if artist != "" {
		q += " artist:" + artist
	}
	query := url.Values{}
	query.Set("q", q)
	query.Set("type", "track")
	query.Set("limit", "1")
	if c.market != "" {
		query.Set("market", c.market)
	}

	var res searchResult
	if err := c.get(ctx, "/v1/search", query, &res); err != nil {
		return nil, err
	}
	if len(res.Tracks.Items) == 0 {
		return nil, errNotFound
	}
	return &res.Tracks.Items[0], nil
}

func (c *Client) albumLabel(ctx context.Context, albumID string) (string, error) {
	var a struct {
		Label string `json:"label"`
	}
	if err := c.get(ctx, "/v1/albums/"+url.PathEscape(albumID), nil, &a); err != nil {
		return "", err
	}
	return a.Label, nil
}

// get performs an authenticated GET. On 429 it waits for Retry-After before
// retrying; on 401 it refreshes the token once.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	refreshed := false
	for attempt := 0; ; attempt++ {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("request error: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request error: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries:
			wait := retryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			log.WithField("wait", wait).Warn("spotify rate limited")
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			resp.Body.Close()
			c.invalidateToken()
			refreshed = true
			continue
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return errNotFound
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("spotify %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
}

func retryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return time.Second
	}
	return time.Duration(seconds)*time.Second + time.Second
}

type tokenResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Add(time.Minute).Before(c.expiresAt) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("token request error: %w", err)
	}
	credential := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+credential)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	requestAt := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token fetch error: status %d", resp.StatusCode)
	}

	var result tokenResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("token decode error: %w", err)
	}
	c.accessToken = result.AccessToken
	c.expiresAt = requestAt.Add(time.Duration(result.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

type spotifyTrack struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PreviewURL  string `json:"preview_url"`
	ExternalIDs struct {
		ISRC string `json:"isrc"`
	} `json:"external_ids"`
	Album struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ReleaseDate string `json:"release_date"`
		Images      []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
}

type searchResult struct {
	Tracks struct {
		Items []spotifyTrack `json:"items"`
	} `json:"tracks"`
}

func (t *spotifyTrack) enrichment() *models.Enrichment {
	e := &models.Enrichment{
		KeyTrackSpotify: t.ID,
		Album:           t.Album.Name,
		ReleaseDate:     t.Album.ReleaseDate,
		ISRC:            t.ExternalIDs.ISRC,
		PreviewURL:      t.PreviewURL,
	}
	if len(t.Album.Images) > 0 {
		e.CoverArtURL = t.Album.Images[0].URL
	}
	if len(t.Album.ReleaseDate) >= 4 {
		if year, err := strconv.Atoi(t.Album.ReleaseDate[:4]); err == nil {
			e.ReleaseYear = year
		}
	}
	return e
}
