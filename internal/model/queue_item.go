// internal/model/queue_item.go
package model

import "time"

type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueProcessing QueueStatus = "PROCESSING"
	QueueSent       QueueStatus = "SENT"
	QueueFailed     QueueStatus = "FAILED"
)

// QueueItem is one scheduled message addressed to one recipient.
// CampaignID is nil for one-off sends, which are not rate limited.
type QueueItem struct {
	ID         int         `db:"id" json:"id"`
	CampaignID *int        `db:"campaign_id" json:"campaign_id,omitempty"`
	Phone      string      `db:"phone" json:"phone"`
	Message    string      `db:"message" json:"message"`
	Status     QueueStatus `db:"status" json:"status"`
	DueAt      time.Time   `db:"due_at" json:"due_at"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}
