package models

// TrackCandidate is what a recognizer (optionally completed by an enricher)
// knows about a track before it is resolved against the catalog.
type TrackCandidate struct {
	KeyTrackShazam  string  `json:"key_track_shazam,omitempty"`
	KeyTrackSpotify string  `json:"key_track_spotify,omitempty"`
	KeyTrackApple   string  `json:"key_track_apple,omitempty"`
	Title           string  `json:"title"`
	ArtistName      string  `json:"artist_name"`
	Album           string  `json:"album,omitempty"`
	Label           string  `json:"label,omitempty"`
	ReleaseYear     int     `json:"release_year,omitempty"`
	ReleaseDate     string  `json:"release_date,omitempty"`
	ISRC            string  `json:"isrc,omitempty"`
	Genre           string  `json:"genre,omitempty"`
	CoverArtURL     string  `json:"cover_art_url,omitempty"`
	PreviewURL      string  `json:"preview_url,omitempty"`
	URIApple        string  `json:"uri_apple,omitempty"`
	Confidence      float64 `json:"confidence"`
}

// HasForeignKey reports whether the candidate can be deduplicated against the catalog.
func (c *TrackCandidate) HasForeignKey() bool {
	return c.KeyTrackShazam != "" || c.KeyTrackSpotify != ""
}

// IdentityKey returns a stable key for grouping candidates that refer to the same track.
func (c *TrackCandidate) IdentityKey() string {
	if c.KeyTrackShazam != "" {
		return "shazam:" + c.KeyTrackShazam
	}
	if c.KeyTrackSpotify != "" {
		return "spotify:" + c.KeyTrackSpotify
	}
	return ""
}

// SameTrack reports whether two candidates share any foreign key.
func (c *TrackCandidate) SameTrack(o *TrackCandidate) bool {
	if c == nil || o == nil {
		return false
	}
	if c.KeyTrackShazam != "" && c.KeyTrackShazam == o.KeyTrackShazam {
		return true
	}
	return c.KeyTrackSpotify != "" && c.KeyTrackSpotify == o.KeyTrackSpotify
}

// Enrichment holds the fields a metadata provider can add to a candidate.
type Enrichment struct {
	KeyTrackSpotify string `json:"key_track_spotify,omitempty"`
	Album           string `json:"album,omitempty"`
	Label           string `json:"label,omitempty"`
	ReleaseYear     int    `json:"release_year,omitempty"`
	ReleaseDate     string `json:"release_date,omitempty"`
	ISRC            string `json:"isrc,omitempty"`
	CoverArtURL     string `json:"cover_art_url,omitempty"`
	PreviewURL      string `json:"preview_url,omitempty"`
}

// Apply fills the candidate's empty fields from the enrichment.
func (e *Enrichment) Apply(c *TrackCandidate) {
	if e == nil || c == nil {
		return
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.KeyTrackSpotify, e.KeyTrackSpotify)
	fill(&c.Album, e.Album)
	fill(&c.Label, e.Label)
	fill(&c.ReleaseDate, e.ReleaseDate)
	fill(&c.ISRC, e.ISRC)
	fill(&c.CoverArtURL, e.CoverArtURL)
	fill(&c.PreviewURL, e.PreviewURL)
	if c.ReleaseYear == 0 {
		c.ReleaseYear = e.ReleaseYear
	}
}
