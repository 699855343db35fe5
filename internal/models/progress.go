package models

type ProgressUpdate struct {
	JobID    string  `json:"jobId"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
	ItemID   int64   `json:"item_id"`
	VideoID  string  `json:"video_id,omitempty"`
	Status   string  `json:"status"` // "pending", "processing", "done", "failed"
	Done     bool    `json:"done"`
}
