package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vrsandeep/setlist-go/internal/models"
)

const setColumns = `id, video_id, channel_id, title, duration, publish_date, thumbnail, playable_in_embed,
	chapters_json, nb_tracks, like_count, view_count, published, hidden, created_at, updated_at`

// TrackPlacement is one tracklist entry waiting to be committed.
type TrackPlacement struct {
	Candidate *models.TrackCandidate
	StartTime int
	EndTime   int
}

// CommitResult summarizes a CreateSetWithTracks call.
type CommitResult struct {
	Set            *models.Set
	NewTracks      int
	ExistingTracks int
}

func scanSet(row scanner) (*models.Set, error) {
	var set models.Set
	var channelID sql.NullInt64
	var publishDate, thumbnail, chaptersJSON sql.NullString
	err := row.Scan(&set.ID, &set.VideoID, &channelID, &set.Title, &set.Duration, &publishDate, &thumbnail,
		&set.PlayableInEmbed, &chaptersJSON, &set.NbTracks, &set.LikeCount, &set.ViewCount, &set.Published,
		&set.Hidden, &set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if channelID.Valid {
		id := channelID.Int64
		set.ChannelID = &id
	}
	set.PublishDate = publishDate.String
	set.Thumbnail = thumbnail.String
	if chaptersJSON.Valid && chaptersJSON.String != "" {
		if err := json.Unmarshal([]byte(chaptersJSON.String), &set.Chapters); err != nil {
			return nil, fmt.Errorf("decode chapters of set %d: %w", set.ID, err)
		}
	}
	return &set, nil
}

// CreateSetWithTracks persists a processed set in a single transaction: the
// Set row, one CreateOrIncrementTrack per distinct track, the ordered
// SetTrack rows and the channel's set counter. Nothing is written when any
// step fails. Returns ErrSetExists when the video already has a set.
func (s *Store) CreateSetWithTracks(ctx context.Context, info *models.VideoInfo, channelID *int64, placements []TrackPlacement) (*CommitResult, error) {
	var chaptersJSON sql.NullString
	if len(info.Chapters) > 0 {
		b, err := json.Marshal(info.Chapters)
		if err != nil {
			return nil, err
		}
		chaptersJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sets (video_id, channel_id, title, duration, publish_date, thumbnail, playable_in_embed,
			chapters_json, nb_tracks, like_count, view_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.VideoID, channelID, info.Title, info.Duration, nullString(info.PublishDate), nullString(info.Thumbnail),
		info.PlayableInEmbed, chaptersJSON, len(placements), info.LikeCount, info.ViewCount)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSetExists
		}
		return nil, fmt.Errorf("insert set: %w", err)
	}
	setID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	result := &CommitResult{}
	// Both foreign keys of a resolved track point at its id so a later
	// candidate matching either key reuses it.
	resolved := make(map[string]int64)
	for pos, p := range placements {
		c := p.Candidate
		trackID, ok := lookupResolved(resolved, c)
		if !ok {
			track, created, err := s.CreateOrIncrementTrack(ctx, tx, c)
			if err != nil {
				return nil, err
			}
			if created {
				result.NewTracks++
			} else {
				result.ExistingTracks++
			}
			trackID = track.ID
			for _, key := range []string{"shazam:" + track.KeyTrackShazam, "spotify:" + track.KeyTrackSpotify,
				"shazam:" + c.KeyTrackShazam, "spotify:" + c.KeyTrackSpotify} {
				if key != "shazam:" && key != "spotify:" {
					resolved[key] = trackID
				}
			}
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO set_tracks (set_id, track_id, pos, start_time, end_time) VALUES (?, ?, ?, ?, ?)",
			setID, trackID, pos, p.StartTime, p.EndTime)
		if err != nil {
			return nil, fmt.Errorf("insert set track %d: %w", pos, err)
		}
	}

	if channelID != nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE channels SET nb_sets = nb_sets + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?", *channelID); err != nil {
			return nil, fmt.Errorf("increment channel sets: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	result.Set, err = s.GetSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func lookupResolved(resolved map[string]int64, c *models.TrackCandidate) (int64, bool) {
	if c.KeyTrackShazam != "" {
		if id, ok := resolved["shazam:"+c.KeyTrackShazam]; ok {
			return id, true
		}
	}
	if c.KeyTrackSpotify != "" {
		if id, ok := resolved["spotify:"+c.KeyTrackSpotify]; ok {
			return id, true
		}
	}
	return 0, false
}

// GetSet retrieves a set by its primary key, without its tracklist.
func (s *Store) GetSet(ctx context.Context, id int64) (*models.Set, error) {
	set, err := scanSet(s.db.QueryRowContext(ctx, "SELECT "+setColumns+" FROM sets WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return set, err
}

// GetSetByVideoID retrieves a set and its ordered tracklist.
func (s *Store) GetSetByVideoID(ctx context.Context, videoID string) (*models.Set, error) {
	set, err := scanSet(s.db.QueryRowContext(ctx, "SELECT "+setColumns+" FROM sets WHERE video_id = ?", videoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	set.Tracks, err = s.GetSetTracks(ctx, set.ID)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// FindSetIDByVideoID returns the id of the video's set, or ErrNotFound.
func (s *Store) FindSetIDByVideoID(ctx context.Context, videoID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM sets WHERE video_id = ?", videoID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// GetSetTracks returns the tracklist of a set ordered by position.
func (s *Store) GetSetTracks(ctx context.Context, setID int64) ([]*models.SetTrack, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.set_id, st.track_id, st.pos, st.start_time, st.end_time,
			t.id, t.key_track_shazam, t.key_track_spotify, t.key_track_apple, t.title, t.artist_name, t.album, t.label,
			t.release_year, t.release_date, t.isrc, t.genre, t.cover_art_url, t.preview_url, t.uri_apple, t.nb_sets,
			t.created_at, t.updated_at
		FROM set_tracks st
		JOIN tracks t ON t.id = st.track_id
		WHERE st.set_id = ?
		ORDER BY st.pos ASC`, setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []*models.SetTrack
	for rows.Next() {
		var st models.SetTrack
		var track models.Track
		var shazam, spotify, apple, album, label, releaseDate, isrc, genre, cover, preview, uriApple sql.NullString
		var releaseYear sql.NullInt64
		if err := rows.Scan(&st.ID, &st.SetID, &st.TrackID, &st.Pos, &st.StartTime, &st.EndTime,
			&track.ID, &shazam, &spotify, &apple, &track.Title, &track.ArtistName, &album, &label,
			&releaseYear, &releaseDate, &isrc, &genre, &cover, &preview, &uriApple, &track.NbSets,
			&track.CreatedAt, &track.UpdatedAt); err != nil {
			return nil, err
		}
		track.KeyTrackShazam = shazam.String
		track.KeyTrackSpotify = spotify.String
		track.KeyTrackApple = apple.String
		track.Album = album.String
		track.Label = label.String
		track.ReleaseYear = int(releaseYear.Int64)
		track.ReleaseDate = releaseDate.String
		track.ISRC = isrc.String
		track.Genre = genre.String
		track.CoverArtURL = cover.String
		track.PreviewURL = preview.String
		track.URIApple = uriApple.String
		st.Track = &track
		tracks = append(tracks, &st)
	}
	return tracks, rows.Err()
}

// ListSets returns the most recently created visible sets.
func (s *Store) ListSets(ctx context.Context, limit, offset int) ([]*models.Set, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+setColumns+" FROM sets WHERE hidden = 0 ORDER BY id DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*models.Set
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// ExistingSetVideoIDs reports which of the given video ids already have a set.
func (s *Store) ExistingSetVideoIDs(ctx context.Context, videoIDs []string) (map[string]bool, error) {
	return s.videoIDsIn(ctx, "SELECT video_id FROM sets WHERE video_id IN (%s)", videoIDs)
}

func (s *Store) videoIDsIn(ctx context.Context, queryFmt string, videoIDs []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(videoIDs) == 0 {
		return found, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(queryFmt, placeholders(len(videoIDs))), stringArgs(videoIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	return found, rows.Err()
}
