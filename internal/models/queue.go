package models

import "time"

// QueueStatus is the lifecycle state of a QueueItem.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusDone       QueueStatus = "done"
	StatusFailed     QueueStatus = "failed"
)

// Lower values are dispatched first.
const (
	PriorityUser   = 10
	PrioritySystem = 20
)

var allowedTransitions = map[QueueStatus][]QueueStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusDone, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether a queue item may move from one status to another.
// Done is terminal.
func CanTransition(from, to QueueStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedPredecessors returns every status from which to can be reached.
func AllowedPredecessors(to QueueStatus) []QueueStatus {
	var out []QueueStatus
	for _, from := range []QueueStatus{StatusPending, StatusProcessing, StatusDone, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// QueueItem is a persistent record of one processing job for one video.
type QueueItem struct {
	ID            int64       `json:"id"`
	VideoID       string      `json:"video_id"`
	UserID        *int64      `json:"user_id,omitempty"`
	Priority      int         `json:"priority"`
	Status        QueueStatus `json:"status"`
	Duration      int         `json:"duration"`
	NbChapters    int         `json:"nb_chapters"`
	VideoInfoJSON string      `json:"-"`
	NAttempts     int         `json:"n_attempts"`
	MaxAttempts   int         `json:"max_attempts"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	Progress      int         `json:"progress"`
	NextAttemptAt time.Time   `json:"next_attempt_at,omitempty"`
	LockedBy      string      `json:"-"`
	HeartbeatAt   *time.Time  `json:"-"`
	SendEmail     bool        `json:"send_email"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Terminal reports whether no automatic work remains for the item.
func (q *QueueItem) Terminal() bool {
	return q.Status == StatusDone || (q.Status == StatusFailed && q.NAttempts >= q.MaxAttempts)
}

// QueueStats counts queue items per status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}
