package models

import "time"

// Channel is a publisher of sets.
type Channel struct {
	ID            int64      `json:"id"`
	ChannelID     string     `json:"channel_id"`
	Author        string     `json:"author"`
	ChannelURL    string     `json:"channel_url"`
	Followable    bool       `json:"followable"`
	Hidden        bool       `json:"hidden"`
	NbSets        int        `json:"nb_sets"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Track is an identified piece of music, unique by its foreign keys.
type Track struct {
	ID              int64     `json:"id"`
	KeyTrackShazam  string    `json:"key_track_shazam,omitempty"`
	KeyTrackSpotify string    `json:"key_track_spotify,omitempty"`
	KeyTrackApple   string    `json:"key_track_apple,omitempty"`
	Title           string    `json:"title"`
	ArtistName      string    `json:"artist_name"`
	Album           string    `json:"album,omitempty"`
	Label           string    `json:"label,omitempty"`
	ReleaseYear     int       `json:"release_year,omitempty"`
	ReleaseDate     string    `json:"release_date,omitempty"`
	ISRC            string    `json:"isrc,omitempty"`
	Genre           string    `json:"genre,omitempty"`
	CoverArtURL     string    `json:"cover_art_url,omitempty"`
	PreviewURL      string    `json:"preview_url,omitempty"`
	URIApple        string    `json:"uri_apple,omitempty"`
	NbSets          int       `json:"nb_sets"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Set is a processed DJ set. It exists only after a fully successful run.
type Set struct {
	ID              int64       `json:"id"`
	VideoID         string      `json:"video_id"`
	ChannelID       *int64      `json:"channel_id,omitempty"`
	Title           string      `json:"title"`
	Duration        int         `json:"duration"`
	PublishDate     string      `json:"publish_date,omitempty"`
	Thumbnail       string      `json:"thumbnail,omitempty"`
	PlayableInEmbed bool        `json:"playable_in_embed"`
	Chapters        []Chapter   `json:"chapters,omitempty"`
	NbTracks        int         `json:"nb_tracks"`
	LikeCount       int64       `json:"like_count"`
	ViewCount       int64       `json:"view_count"`
	Published       bool        `json:"published"`
	Hidden          bool        `json:"hidden"`
	Tracks          []*SetTrack `json:"tracks,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// SetTrack places a Track at an ordered position inside a Set.
type SetTrack struct {
	ID        int64  `json:"id"`
	SetID     int64  `json:"set_id"`
	TrackID   int64  `json:"track_id"`
	Pos       int    `json:"pos"`
	StartTime int    `json:"start_time"`
	EndTime   int    `json:"end_time"`
	Track     *Track `json:"track,omitempty"`
}
