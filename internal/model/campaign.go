// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignQueued    CampaignStatus = "QUEUED"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCanceled  CampaignStatus = "CANCELED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

// Active reports whether the dispatcher may claim queue items for a
// campaign in this status.
func (s CampaignStatus) Active() bool {
	return s == CampaignQueued || s == CampaignRunning
}

// Terminal statuses accept no further transitions.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCanceled
}

type Campaign struct {
	ID            int            `db:"id" json:"id"`
	Name          string         `db:"name" json:"name"`
	Message       string         `db:"message" json:"message"`
	TotalMessages int            `db:"total_messages" json:"total_messages"`
	TotalSent     int            `db:"total_sent" json:"total_sent"`
	FailedCount   int            `db:"failed_count" json:"failed_count"`
	Interval      float64        `db:"interval_minutes" json:"interval"` // minutes between sends, 0 = unpaced
	StartTime     time.Time      `db:"start_time" json:"start_time"`
	LastSent      *time.Time     `db:"last_sent" json:"last_sent,omitempty"`
	Status        CampaignStatus `db:"status" json:"status"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
