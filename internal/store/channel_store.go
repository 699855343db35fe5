package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vrsandeep/setlist-go/internal/models"
)

const channelColumns = `id, channel_id, author, channel_url, followable, hidden, nb_sets, last_checked_at, created_at, updated_at`

func scanChannel(row scanner) (*models.Channel, error) {
	var ch models.Channel
	var lastChecked sql.NullInt64
	err := row.Scan(&ch.ID, &ch.ChannelID, &ch.Author, &ch.ChannelURL, &ch.Followable, &ch.Hidden,
		&ch.NbSets, &lastChecked, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ch.LastCheckedAt = msToTime(lastChecked)
	return &ch, nil
}

// UpsertChannel creates the channel or refreshes its author and URL when the
// new values are non-empty.
func (s *Store) UpsertChannel(ctx context.Context, channelID, author, channelURL string) (*models.Channel, error) {
	query := `
		INSERT INTO channels (channel_id, author, channel_url)
		VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			author = CASE WHEN excluded.author != '' THEN excluded.author ELSE channels.author END,
			channel_url = CASE WHEN excluded.channel_url != '' THEN excluded.channel_url ELSE channels.channel_url END,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id`
	var id int64
	if err := s.db.QueryRowContext(ctx, query, channelID, author, channelURL).Scan(&id); err != nil {
		return nil, err
	}
	return s.GetChannel(ctx, id)
}

// GetChannel retrieves a channel by its primary key.
func (s *Store) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	ch, err := scanChannel(s.db.QueryRowContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ch, err
}

// ListChannels returns every channel ordered by author.
func (s *Store) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	return s.queryChannels(ctx, "SELECT "+channelColumns+" FROM channels ORDER BY author COLLATE NOCASE ASC, id ASC")
}

// ListWatchableChannels returns followable, visible channels, least recently
// checked first. Channels never checked come first.
func (s *Store) ListWatchableChannels(ctx context.Context) ([]*models.Channel, error) {
	return s.queryChannels(ctx, `
		SELECT `+channelColumns+` FROM channels
		WHERE followable = 1 AND hidden = 0
		ORDER BY COALESCE(last_checked_at, 0) ASC, id ASC`)
}

func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]*models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// TouchChannelChecked stamps the channel's last_checked_at with the current time.
func (s *Store) TouchChannelChecked(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE channels SET last_checked_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		s.now().UnixMilli(), id)
	return err
}

// UpdateChannelFlags changes whether a channel is watched and shown.
func (s *Store) UpdateChannelFlags(ctx context.Context, id int64, followable, hidden bool) (*models.Channel, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE channels SET followable = ?, hidden = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		followable, hidden, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetChannel(ctx, id)
}
