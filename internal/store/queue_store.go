package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vrsandeep/setlist-go/internal/models"
)

const queueColumns = `id, video_id, user_id, priority, status, duration, nb_chapters, video_info_json, n_attempts,
	max_attempts, error_message, progress, next_attempt_at, locked_by, heartbeat_at, send_email, created_at, updated_at`

// activeQueueCondition matches rows covered by idx_queue_items_active_video.
const activeQueueCondition = `(status IN ('pending', 'processing') OR (status = 'failed' AND n_attempts < max_attempts))`

// NewQueueItem holds the fields of a queue item at submission time.
type NewQueueItem struct {
	VideoID       string
	UserID        *int64
	Priority      int
	Duration      int
	NbChapters    int
	VideoInfoJSON string
	MaxAttempts   int
	SendEmail     bool
}

func scanQueueItem(row scanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var userID, nextAttempt, heartbeat sql.NullInt64
	var infoJSON, errMsg, lockedBy sql.NullString
	var status string
	err := row.Scan(&item.ID, &item.VideoID, &userID, &item.Priority, &status, &item.Duration, &item.NbChapters,
		&infoJSON, &item.NAttempts, &item.MaxAttempts, &errMsg, &item.Progress, &nextAttempt, &lockedBy,
		&heartbeat, &item.SendEmail, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Status = models.QueueStatus(status)
	if userID.Valid {
		id := userID.Int64
		item.UserID = &id
	}
	item.VideoInfoJSON = infoJSON.String
	item.ErrorMessage = errMsg.String
	if t := msToTime(nextAttempt); t != nil {
		item.NextAttemptAt = *t
	}
	item.LockedBy = lockedBy.String
	item.HeartbeatAt = msToTime(heartbeat)
	return &item, nil
}

// CreateQueueItem inserts a pending queue item. Returns ErrAlreadyQueued when
// the video already has an active item.
func (s *Store) CreateQueueItem(ctx context.Context, in NewQueueItem) (*models.QueueItem, error) {
	if in.MaxAttempts <= 0 {
		in.MaxAttempts = 3
	}
	if in.Priority == 0 {
		in.Priority = models.PrioritySystem
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (video_id, user_id, priority, status, duration, nb_chapters, video_info_json,
			max_attempts, send_email)
		VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?)`,
		in.VideoID, in.UserID, in.Priority, in.Duration, in.NbChapters, nullString(in.VideoInfoJSON),
		in.MaxAttempts, in.SendEmail)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyQueued
		}
		return nil, fmt.Errorf("insert queue item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetQueueItem(ctx, id)
}

// GetQueueItem retrieves a single queue item by ID.
func (s *Store) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	item, err := scanQueueItem(s.db.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM queue_items WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// FindActiveQueueItemByVideoID returns the video's pending, processing or
// retryable failed item, or ErrNotFound.
func (s *Store) FindActiveQueueItemByVideoID(ctx context.Context, videoID string) (*models.QueueItem, error) {
	item, err := scanQueueItem(s.db.QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM queue_items WHERE video_id = ? AND "+activeQueueCondition, videoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// ActiveQueueVideoIDs reports which of the given videos have an active queue item.
func (s *Store) ActiveQueueVideoIDs(ctx context.Context, videoIDs []string) (map[string]bool, error) {
	return s.videoIDsIn(ctx, "SELECT video_id FROM queue_items WHERE video_id IN (%s) AND "+activeQueueCondition, videoIDs)
}

// ListQueueItems returns queue items newest first, optionally filtered by status.
func (s *Store) ListQueueItems(ctx context.Context, status models.QueueStatus, limit, offset int) ([]*models.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + queueColumns + " FROM queue_items"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountQueueItemsByStatus returns how many items are in each status.
func (s *Store) CountQueueItemsByStatus(ctx context.Context) (*models.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM queue_items GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch models.QueueStatus(status) {
		case models.StatusPending:
			stats.Pending = n
		case models.StatusProcessing:
			stats.Processing = n
		case models.StatusDone:
			stats.Done = n
		case models.StatusFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

// TransitionQueueStatus moves an item to a new status if the state machine
// allows it from the item's current status. Moving to failed counts an
// attempt and records errMsg; moving to done sets progress to 100.
func (s *Store) TransitionQueueStatus(ctx context.Context, id int64, to models.QueueStatus, errMsg string) error {
	from := models.AllowedPredecessors(to)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing may move to %q", ErrInvalidTransition, to)
	}

	set := "status = ?, updated_at = CURRENT_TIMESTAMP"
	args := []any{string(to)}
	switch to {
	case models.StatusFailed:
		set += ", n_attempts = n_attempts + 1, error_message = ?, locked_by = NULL, heartbeat_at = NULL"
		args = append(args, errMsg)
	case models.StatusDone:
		set += ", progress = 100, error_message = NULL, locked_by = NULL, heartbeat_at = NULL"
	case models.StatusPending:
		set += ", locked_by = NULL, heartbeat_at = NULL"
	case models.StatusProcessing:
		set += ", heartbeat_at = ?"
		args = append(args, s.now().UnixMilli())
	}

	fromArgs := make([]string, len(from))
	for i, f := range from {
		fromArgs[i] = string(f)
	}
	args = append(args, id)
	args = append(args, stringArgs(fromArgs)...)

	query := fmt.Sprintf("UPDATE queue_items SET %s WHERE id = ? AND status IN (%s)", set, placeholders(len(from)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyQueued
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.transitionFailure(ctx, id, to)
}

func (s *Store) transitionFailure(ctx context.Context, id int64, to models.QueueStatus) error {
	item, err := s.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: queue item %d is %s, %s requires one of [%s]",
		ErrInvalidTransition, id, item.Status, to, statusList(models.AllowedPredecessors(to)))
}

// TransitionLeasedQueueStatus is TransitionQueueStatus for the worker that
// holds the item: it only applies while the item is processing under
// workerID, and returns ErrLeaseLost otherwise. The worker keeps the lease
// when moving to processing and gives it up when moving to done or failed.
func (s *Store) TransitionLeasedQueueStatus(ctx context.Context, id int64, workerID string, to models.QueueStatus, errMsg string) error {
	set := "status = ?, updated_at = CURRENT_TIMESTAMP"
	args := []any{string(to)}
	switch to {
	case models.StatusProcessing:
		set += ", heartbeat_at = ?"
		args = append(args, s.now().UnixMilli())
	case models.StatusDone:
		set += ", progress = 100, error_message = NULL, locked_by = NULL, heartbeat_at = NULL"
	case models.StatusFailed:
		set += ", n_attempts = n_attempts + 1, error_message = ?, locked_by = NULL, heartbeat_at = NULL"
		args = append(args, errMsg)
	default:
		return fmt.Errorf("%w: a worker cannot move an item to %q", ErrInvalidTransition, to)
	}
	args = append(args, id, workerID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE queue_items SET "+set+" WHERE id = ? AND status = 'processing' AND locked_by = ?", args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.leaseFailure(ctx, id, workerID)
}

// UpdateQueueProgress records a progress checkpoint (0-100) for the worker
// holding the item. Returns ErrLeaseLost when workerID no longer holds it.
func (s *Store) UpdateQueueProgress(ctx context.Context, id int64, workerID string, progress int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET progress = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'processing' AND locked_by = ?`, progress, id, workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.leaseFailure(ctx, id, workerID)
}

func (s *Store) leaseFailure(ctx context.Context, id int64, workerID string) error {
	item, err := s.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}
	owner := item.LockedBy
	if owner == "" {
		owner = "nobody"
	}
	return fmt.Errorf("%w: queue item %d is %s and held by %s, not %s", ErrLeaseLost, id, item.Status, owner, workerID)
}

// SetQueuePriority reprioritizes a pending item and makes it eligible now.
func (s *Store) SetQueuePriority(ctx context.Context, id int64, priority int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET priority = ?, next_attempt_at = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'`, priority, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.transitionFailure(ctx, id, models.StatusPending)
}

// ClaimNextQueueItem atomically leases the next eligible pending item to
// workerID, lowest priority value first, then oldest. Returns ErrNotFound
// when nothing is eligible.
func (s *Store) ClaimNextQueueItem(ctx context.Context, workerID string) (*models.QueueItem, error) {
	now := s.now().UnixMilli()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE queue_items
		SET status = 'processing', locked_by = ?, heartbeat_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM queue_items
			WHERE status = 'pending' AND next_attempt_at <= ?
			ORDER BY priority ASC, id ASC
			LIMIT 1
		) AND status = 'pending'
		RETURNING id`, workerID, now, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetQueueItem(ctx, id)
}

// HeartbeatQueueItem extends workerID's lease. Returns ErrLeaseLost when the
// item is no longer processing under that worker.
func (s *Store) HeartbeatQueueItem(ctx context.Context, id int64, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET heartbeat_at = ?
		WHERE id = ? AND status = 'processing' AND locked_by = ?`, s.now().UnixMilli(), id, workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ScheduleRetry moves a retryable failed item back to pending, eligible at at.
func (s *Store) ScheduleRetry(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', next_attempt_at = ?, progress = 0, locked_by = NULL, heartbeat_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'failed' AND n_attempts < max_attempts`, at.UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.transitionFailure(ctx, id, models.StatusPending)
}

// FailStalledQueueItems fails processing items whose heartbeat is older than
// cutoff, counting the attempt. Returns how many were failed.
func (s *Store) FailStalledQueueItems(ctx context.Context, cutoff time.Time, errMsg string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'failed', n_attempts = n_attempts + 1, error_message = ?, locked_by = NULL,
			heartbeat_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE status = 'processing' AND COALESCE(heartbeat_at, 0) < ?`, errMsg, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListRetryableFailed returns failed items that still have attempts left.
func (s *Store) ListRetryableFailed(ctx context.Context) ([]*models.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+queueColumns+
		" FROM queue_items WHERE status = 'failed' AND n_attempts < max_attempts ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// RetryTerminalQueueItem is the operator override for an exhausted item: it
// resets the attempt counter and puts it back to pending.
func (s *Store) RetryTerminalQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', n_attempts = 0, error_message = NULL, progress = 0, next_attempt_at = 0,
			locked_by = NULL, heartbeat_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'failed'`, id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyQueued
		}
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.transitionFailure(ctx, id, models.StatusPending)
	}
	return s.GetQueueItem(ctx, id)
}

// statusList renders statuses for error messages.
func statusList(statuses []models.QueueStatus) string {
	parts := make([]string, len(statuses))
	for i, st := range statuses {
		parts[i] = string(st)
	}
	return strings.Join(parts, ",")
}
