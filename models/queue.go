package models

import (
	"time"
)

type QueueItemStatus string

const (
	QueueItemStatusPending    QueueItemStatus = "pending"
	QueueItemStatusProcessing QueueItemStatus = "processing"
	QueueItemStatusCompleted  QueueItemStatus = "completed"
	QueueItemStatusFailed     QueueItemStatus = "failed"
	QueueItemStatusCancelled  QueueItemStatus = "cancelled"
)

// DiagnosticCategory marks items produced for payloads no strategy recognized.
const DiagnosticCategory = -1

const DefaultMaxAttempts = 3

type QueueItem struct {
	ID            uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID       int             `json:"owner_id" gorm:"not null;index"`
	Category      int             `json:"category" gorm:"not null"`
	Kind          string          `json:"kind"`
	Payload       string          `json:"payload" gorm:"type:text;not null"`
	RawPayload    string          `json:"raw_payload,omitempty" gorm:"type:text"`
	Status        QueueItemStatus `json:"status" gorm:"not null;default:'pending';index:idx_queue_items_ready,priority:1"`
	Attempts      int             `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts   int             `json:"max_attempts" gorm:"not null;default:3"`
	NextRetryAt   *time.Time      `json:"next_retry_at" gorm:"index:idx_queue_items_ready,priority:2"`
	StartedAt     *time.Time      `json:"started_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at"`
	ProcessedAt   *time.Time      `json:"processed_at"`
	ErrorMessage  *string         `json:"error_message"`
	CorrelationID *string         `json:"correlation_id" gorm:"index"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime;index:idx_queue_items_ready,priority:3"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (QueueItem) TableName() string {
	return "queue_items"
}

// IsTerminal reports whether the item can never be selected again.
func (q *QueueItem) IsTerminal() bool {
	switch q.Status {
	case QueueItemStatusCompleted, QueueItemStatusCancelled:
		return true
	case QueueItemStatusFailed:
		return q.Attempts >= q.MaxAttempts
	}
	return false
}

type QueueFilter struct {
	Status   *QueueItemStatus
	OwnerID  *int
	Category *int
	Limit    int
	Offset   int
}

type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Total      int64 `json:"total"`
}
