package shazam

import (
	"strconv"
	"strings"

	"github.com/vrsandeep/setlist-go/internal/models"
)

type response struct {
	Track      *track   `json:"track"`
	Confidence *float64 `json:"confidence"`
}

type track struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	URL      string `json:"url"`
	ISRC     string `json:"isrc"`
	Images   struct {
		CoverArt string `json:"coverart"`
	} `json:"images"`
	Share struct {
		Href  string `json:"href"`
		Image string `json:"image"`
	} `json:"share"`
	Genres struct {
		Primary string `json:"primary"`
	} `json:"genres"`
	Hub struct {
		Actions   []action `json:"actions"`
		Providers []struct {
			Type    string   `json:"type"`
			Actions []action `json:"actions"`
		} `json:"providers"`
	} `json:"hub"`
	Sections []struct {
		Type     string `json:"type"`
		Metadata []struct {
			Title string `json:"title"`
			Text  string `json:"text"`
		} `json:"metadata"`
	} `json:"sections"`
}

type action struct {
	Name string `json:"name"`
	Type string `json:"type"`
	ID   string `json:"id"`
	URI  string `json:"uri"`
}

func (t *track) metadata(title string) string {
	for _, s := range t.Sections {
		for _, m := range s.Metadata {
			if strings.EqualFold(m.Title, title) {
				return strings.TrimSpace(m.Text)
			}
		}
	}
	return ""
}

func (r *response) candidate(defaultConfidence float64) *models.TrackCandidate {
	t := r.Track
	if t == nil || (t.Key == "" && t.Title == "") {
		return nil
	}

	c := &models.TrackCandidate{
		KeyTrackShazam: t.Key,
		Title:          strings.TrimSpace(t.Title),
		ArtistName:     strings.TrimSpace(t.Subtitle),
		Album:          t.metadata("Album"),
		Label:          t.metadata("Label"),
		ISRC:           t.ISRC,
		Genre:          t.Genres.Primary,
		CoverArtURL:    t.Images.CoverArt,
		URIApple:       t.URL,
		Confidence:     defaultConfidence,
	}
	if r.Confidence != nil {
		c.Confidence = *r.Confidence
	}
	if c.CoverArtURL == "" {
		c.CoverArtURL = t.Share.Image
	}
	if c.URIApple == "" {
		c.URIApple = t.Share.Href
	}

	if released := t.metadata("Released"); len(released) >= 4 {
		if year, err := strconv.Atoi(released[:4]); err == nil {
			c.ReleaseYear = year
		}
	}

	for _, a := range t.Hub.Actions {
		if a.Type == "applemusicplay" && a.ID != "" {
			c.KeyTrackApple = a.ID
		}
		if c.PreviewURL == "" && strings.HasSuffix(a.URI, ".m4a") {
			c.PreviewURL = a.URI
		}
	}

	for _, p := range t.Hub.Providers {
		if !strings.EqualFold(p.Type, "SPOTIFY") {
			continue
		}
		for _, a := range p.Actions {
			// Shazam often only knows a spotify:search: URI, which is not an id.
			if id, ok := strings.CutPrefix(a.URI, "spotify:track:"); ok && id != "" {
				c.KeyTrackSpotify = id
				break
			}
		}
	}
	return c
}
