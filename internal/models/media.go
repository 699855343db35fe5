package models

import "time"

// Chapter is a creator-supplied section marker of a video.
type Chapter struct {
	Title     string `json:"title"`
	StartTime int    `json:"start_time"`
	EndTime   int    `json:"end_time"`
}

// VideoInfo is the metadata snapshot of a video taken before processing.
type VideoInfo struct {
	VideoID         string    `json:"video_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Duration        int       `json:"duration"`
	PublishDate     string    `json:"publish_date,omitempty"`
	ChannelID       string    `json:"channel_id"`
	ChannelName     string    `json:"channel_name"`
	ChannelURL      string    `json:"channel_url,omitempty"`
	Thumbnail       string    `json:"thumbnail,omitempty"`
	ViewCount       int64     `json:"view_count"`
	LikeCount       int64     `json:"like_count"`
	PlayableInEmbed bool      `json:"playable_in_embed"`
	Chapters        []Chapter `json:"chapters,omitempty"`
}

// Upload is one entry of a channel's recent uploads listing.
type Upload struct {
	VideoID    string    `json:"video_id"`
	Title      string    `json:"title"`
	Duration   int       `json:"duration,omitempty"`
	UploadedAt time.Time `json:"uploaded_at,omitempty"`
}
