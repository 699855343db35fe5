package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vrsandeep/setlist-go/internal/models"
)

const trackColumns = `id, key_track_shazam, key_track_spotify, key_track_apple, title, artist_name, album, label,
	release_year, release_date, isrc, genre, cover_art_url, preview_url, uri_apple, nb_sets, created_at, updated_at`

func scanTrack(row scanner) (*models.Track, error) {
	var t models.Track
	var shazam, spotify, apple, album, label, releaseDate, isrc, genre, cover, preview, uriApple sql.NullString
	var releaseYear sql.NullInt64
	err := row.Scan(&t.ID, &shazam, &spotify, &apple, &t.Title, &t.ArtistName, &album, &label,
		&releaseYear, &releaseDate, &isrc, &genre, &cover, &preview, &uriApple, &t.NbSets, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.KeyTrackShazam = shazam.String
	t.KeyTrackSpotify = spotify.String
	t.KeyTrackApple = apple.String
	t.Album = album.String
	t.Label = label.String
	t.ReleaseYear = int(releaseYear.Int64)
	t.ReleaseDate = releaseDate.String
	t.ISRC = isrc.String
	t.Genre = genre.String
	t.CoverArtURL = cover.String
	t.PreviewURL = preview.String
	t.URIApple = uriApple.String
	return &t, nil
}

// GetTrack retrieves a track by its primary key.
func (s *Store) GetTrack(ctx context.Context, id int64) (*models.Track, error) {
	return getTrack(ctx, s.db, id)
}

func getTrack(ctx context.Context, q queryer, id int64) (*models.Track, error) {
	t, err := scanTrack(q.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// FindTrackByForeignKey looks a track up by its Shazam key, then by its
// Spotify id. Empty keys are ignored. Returns ErrNotFound when neither matches.
func (s *Store) FindTrackByForeignKey(ctx context.Context, shazamKey, spotifyID string) (*models.Track, error) {
	return findTrackByForeignKey(ctx, s.db, shazamKey, spotifyID)
}

func findTrackByForeignKey(ctx context.Context, q queryer, shazamKey, spotifyID string) (*models.Track, error) {
	lookups := []struct{ column, value string }{
		{"key_track_shazam", shazamKey},
		{"key_track_spotify", spotifyID},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		t, err := scanTrack(q.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE "+l.column+" = ?", l.value))
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// CreateOrIncrementTrack resolves the candidate to a catalog track inside tx.
// A new track starts with nb_sets = 1; an existing one gets nb_sets + 1 and has
// its empty descriptive fields backfilled. It must be called at most once per
// track per set. A missing foreign key is filled in from the candidate unless
// another track already holds it. created reports whether the row was inserted.
func (s *Store) CreateOrIncrementTrack(ctx context.Context, tx *sql.Tx, c *models.TrackCandidate) (track *models.Track, created bool, err error) {
	if !c.HasForeignKey() {
		return nil, false, fmt.Errorf("track %q has no foreign key", c.Title)
	}

	existing, err := findTrackByForeignKey(ctx, tx, c.KeyTrackShazam, c.KeyTrackSpotify)
	switch {
	case errors.Is(err, ErrNotFound):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tracks (key_track_shazam, key_track_spotify, key_track_apple, title, artist_name, album, label,
				release_year, release_date, isrc, genre, cover_art_url, preview_url, uri_apple, nb_sets)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			nullString(c.KeyTrackShazam), nullString(c.KeyTrackSpotify), nullString(c.KeyTrackApple),
			c.Title, c.ArtistName, nullString(c.Album), nullString(c.Label), nullInt(c.ReleaseYear),
			nullString(c.ReleaseDate), nullString(c.ISRC), nullString(c.Genre), nullString(c.CoverArtURL),
			nullString(c.PreviewURL), nullString(c.URIApple))
		if err != nil {
			return nil, false, fmt.Errorf("insert track: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, false, err
		}
		track, err := getTrack(ctx, tx, id)
		return track, true, err
	case err != nil:
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tracks SET
			nb_sets = nb_sets + 1,
			key_track_shazam = COALESCE(key_track_shazam, (SELECT ? WHERE NOT EXISTS (SELECT 1 FROM tracks WHERE key_track_shazam = ?))),
			key_track_spotify = COALESCE(key_track_spotify, (SELECT ? WHERE NOT EXISTS (SELECT 1 FROM tracks WHERE key_track_spotify = ?))),
			key_track_apple = COALESCE(key_track_apple, ?),
			album = COALESCE(album, ?),
			label = COALESCE(label, ?),
			release_year = COALESCE(release_year, ?),
			release_date = COALESCE(release_date, ?),
			isrc = COALESCE(isrc, ?),
			genre = COALESCE(genre, ?),
			cover_art_url = COALESCE(cover_art_url, ?),
			preview_url = COALESCE(preview_url, ?),
			uri_apple = COALESCE(uri_apple, ?),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		nullString(c.KeyTrackShazam), c.KeyTrackShazam, nullString(c.KeyTrackSpotify), c.KeyTrackSpotify,
		nullString(c.KeyTrackApple), nullString(c.Album), nullString(c.Label), nullInt(c.ReleaseYear),
		nullString(c.ReleaseDate), nullString(c.ISRC), nullString(c.Genre), nullString(c.CoverArtURL),
		nullString(c.PreviewURL), nullString(c.URIApple), existing.ID)
	if err != nil {
		return nil, false, fmt.Errorf("increment track %d: %w", existing.ID, err)
	}
	track, err = getTrack(ctx, tx, existing.ID)
	return track, false, err
}
