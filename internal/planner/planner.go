// internal/planner/planner.go
package planner

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smscourier-backend/internal/errors"
	"github.com/unclebandit/smscourier-backend/internal/model"
)

// CampaignStore is the slice of the campaign repository the planner needs.
type CampaignStore interface {
	GetByName(name string) (*model.Campaign, error)
	CreateWithQueue(c *model.Campaign, items []*model.QueueItem) error
}

// Pacing controls how a planned batch spreads over time.
type Pacing struct {
	IntervalMinutes float64
	StartTime       *time.Time
	MessageLimit    int
}

type Planner struct {
	Campaigns CampaignStore
	Now       func() time.Time
	Log       *zap.Logger
}

func New(campaigns CampaignStore, log *zap.Logger) *Planner {
	return &Planner{Campaigns: campaigns, Now: time.Now, Log: log}
}

// Plan turns a recipient list and pacing config into a QUEUED campaign
// with one queue item per recipient, due times strictly increasing.
// Nothing is persisted when validation fails.
func (p *Planner) Plan(name, message string, recipients []string, pacing Pacing) (*model.Campaign, error) {
	now := p.Now()

	if name == "" {
		name = fmt.Sprintf("Campaign-%d", now.UnixMilli())
	} else {
		existing, err := p.Campaigns.GetByName(name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, appErrors.NewDuplicateName(name)
		}
	}

	// Pacing granularity floor: a non-zero sub-minute interval becomes
	// exactly one minute.
	interval := pacing.IntervalMinutes
	if interval < 0 {
		interval = 0
	}
	if interval > 0 && interval < 1 {
		p.Log.Info("interval below one minute, clamping",
			zap.Float64("requested", pacing.IntervalMinutes))
		interval = 1
	}

	if pacing.MessageLimit > 0 && len(recipients) > pacing.MessageLimit {
		p.Log.Info("applying message limit",
			zap.Int("recipients", len(recipients)),
			zap.Int("limit", pacing.MessageLimit))
		recipients = recipients[:pacing.MessageLimit]
	}
	if len(recipients) == 0 {
		return nil, appErrors.ErrNoRecipients
	}

	// A start time in the past would release the whole batch as overdue
	// in one tick; clamp it to now.
	start := now
	if pacing.StartTime != nil && pacing.StartTime.After(now) {
		start = *pacing.StartTime
	}

	items := make([]*model.QueueItem, len(recipients))
	for i, phone := range recipients {
		delay := time.Duration(float64(i) * interval * float64(time.Minute))
		items[i] = &model.QueueItem{
			Phone:   phone,
			Message: message,
			Status:  model.QueuePending,
			DueAt:   start.Add(delay),
		}
	}

	// No two items in a batch may share a due time, otherwise one tick
	// releases several at once. Sort, then bump any non-increasing due
	// time one second past its predecessor.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].DueAt.Before(items[j].DueAt)
	})
	for i := 1; i < len(items); i++ {
		if !items[i].DueAt.After(items[i-1].DueAt) {
			items[i].DueAt = items[i-1].DueAt.Add(time.Second)
		}
	}

	campaign := &model.Campaign{
		Name:          name,
		Message:       message,
		TotalMessages: len(items),
		Interval:      interval,
		StartTime:     start,
		Status:        model.CampaignQueued,
	}

	if err := p.Campaigns.CreateWithQueue(campaign, items); err != nil {
		return nil, err
	}

	p.Log.Info("campaign planned",
		zap.Int("campaign_id", campaign.ID),
		zap.String("name", campaign.Name),
		zap.Int("messages", len(items)),
		zap.Float64("interval_minutes", interval),
		zap.Time("start", start),
	)
	return campaign, nil
}
