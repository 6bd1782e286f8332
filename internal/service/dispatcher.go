// internal/service/dispatcher.go
package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smscourier-backend/internal/gateway"
	"github.com/unclebandit/smscourier-backend/internal/metrics"
	"github.com/unclebandit/smscourier-backend/internal/model"
	"github.com/unclebandit/smscourier-backend/internal/queue"
)

// CampaignStore is the slice of the campaign repository the dispatcher needs.
type CampaignStore interface {
	GetByID(id int) (*model.Campaign, error)
	ListActiveIDs() ([]int, error)
	MarkAttempt(id int, at time.Time, success bool) error
	MarkCompleted(id int) error
}

// QueueStore is the dispatcher's view of the queue.
type QueueStore interface {
	Due(now time.Time, activeCampaignIDs []int, limit int) ([]*model.QueueItem, error)
	Claim(id int, now time.Time) (bool, error)
	Resolve(id int, status model.QueueStatus) error
	CountPending(campaignID int) (int, error)
	RequeueStuck(before time.Time) (int, error)
}

// AttemptLog records gateway attempts and answers the daily-cap query.
type AttemptLog interface {
	Insert(l *model.SmsLog) error
	CountSentBetween(start, end time.Time) (int, error)
}

// Dispatcher runs the poll-claim-send cycle. One instance per process;
// overlapping ticks are suppressed, and the atomic claim makes running
// extra worker processes safe (at most one claim wins per item).
type Dispatcher struct {
	Campaigns CampaignStore
	Queue     QueueStore
	Attempts  AttemptLog
	Sender    gateway.Sender
	Publisher queue.Publisher // optional: send-attempt event feed
	Log       *zap.Logger

	Now           func() time.Time // injectable clock for tests
	BatchSize     int
	DailyLimit    int
	StuckGrace    time.Duration // 0 disables the reconciliation sweep
	SweepInterval time.Duration

	running   atomic.Bool
	lastSweep time.Time
}

func NewDispatcher(campaigns CampaignStore, q QueueStore, attempts AttemptLog, sender gateway.Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		Campaigns:     campaigns,
		Queue:         q,
		Attempts:      attempts,
		Sender:        sender,
		Log:           log,
		Now:           time.Now,
		BatchSize:     100,
		DailyLimit:    1000000,
		StuckGrace:    10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Start drives ticks on a fixed period until ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	d.Log.Info("dispatch worker started", zap.Duration("tick_interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Log.Info("dispatch worker stopping")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one poll-claim-send cycle. A tick still in flight suppresses
// the new one; the guard is always released, even on storage errors.
func (d *Dispatcher) Tick(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	defer d.running.Store(false)

	metrics.TicksTotal.Inc()
	now := d.Now()

	d.sweepStuck(now)

	// Daily ceiling: count today's successful sends before claiming anything.
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	sentToday, err := d.Attempts.CountSentBetween(startOfDay, startOfDay.Add(24*time.Hour))
	if err != nil {
		d.Log.Error("daily count failed, aborting tick", zap.Error(err))
		return
	}
	if d.DailyLimit > 0 && sentToday >= d.DailyLimit {
		d.Log.Warn("daily send limit reached, skipping tick", zap.Int("sent_today", sentToday))
		return
	}

	activeIDs, err := d.Campaigns.ListActiveIDs()
	if err != nil {
		d.Log.Error("active campaign lookup failed, aborting tick", zap.Error(err))
		return
	}

	candidates, err := d.Queue.Due(now, activeIDs, d.BatchSize)
	if err != nil {
		d.Log.Error("candidate query failed, aborting tick", zap.Error(err))
		return
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}
		d.process(ctx, candidate)
	}
}

// process admits, claims, and dispatches one candidate. Claims and
// dispatches are interleaved so that the fresh last_sent read actually
// enforces the inter-message gap when several items of one campaign are
// overdue in the same tick.
func (d *Dispatcher) process(ctx context.Context, item *model.QueueItem) {
	runNow := d.Now()

	if item.CampaignID != nil {
		// Re-read fresh: the active-set snapshot is a coarse pre-filter
		// and a pause/cancel may have landed since.
		campaign, err := d.Campaigns.GetByID(*item.CampaignID)
		if err != nil {
			d.Log.Warn("campaign re-read failed, skipping item",
				zap.Int("item_id", item.ID), zap.Error(err))
			return
		}
		if !campaign.Status.Active() {
			d.Log.Debug("campaign not active, skipping item",
				zap.Int("item_id", item.ID),
				zap.String("status", string(campaign.Status)))
			return
		}

		if campaign.Interval > 0 && campaign.LastSent != nil {
			gap := time.Duration(campaign.Interval * float64(time.Minute))
			since := runNow.Sub(*campaign.LastSent)
			if since < gap {
				d.Log.Debug("rate limit wait",
					zap.String("campaign", campaign.Name),
					zap.Duration("remaining", gap-since))
				return
			}
		}
	}

	claimed, err := d.Queue.Claim(item.ID, runNow)
	if err != nil {
		d.Log.Error("claim failed", zap.Int("item_id", item.ID), zap.Error(err))
		return
	}
	if !claimed {
		// Lost the race to another tick or process; not an error.
		metrics.ClaimRaces.Inc()
		return
	}

	d.dispatch(ctx, item)
}

// dispatch sends one claimed item and settles all downstream state. A
// claimed item is never dropped: any outcome ends in SENT or FAILED.
func (d *Dispatcher) dispatch(ctx context.Context, item *model.QueueItem) {
	result, err := d.Sender.Send(ctx, item.Phone, item.Message)

	success := err == nil && result != nil && result.Accepted
	statusText := "FAILED"
	messageID, response := "", ""
	if result != nil {
		statusText = result.RawStatus
		messageID = result.MessageID
		response = result.Response
	}
	if err != nil {
		d.Log.Error("gateway send errored",
			zap.Int("item_id", item.ID),
			zap.String("phone", item.Phone),
			zap.Error(err))
	}

	itemStatus := model.QueueFailed
	if success {
		itemStatus = model.QueueSent
	}
	if err := d.Queue.Resolve(item.ID, itemStatus); err != nil {
		d.Log.Error("item resolve failed", zap.Int("item_id", item.ID), zap.Error(err))
	}

	if success {
		metrics.MessagesSent.Inc()
	} else {
		metrics.MessagesFailed.Inc()
	}

	if err := d.Attempts.Insert(&model.SmsLog{
		Phone:     item.Phone,
		Message:   item.Message,
		Status:    statusText,
		MessageID: messageID,
		Response:  response,
	}); err != nil {
		d.Log.Error("attempt log insert failed", zap.Int("item_id", item.ID), zap.Error(err))
	}

	if d.Publisher != nil {
		event := queue.SendLogEvent{
			Phone:     item.Phone,
			Message:   item.Message,
			Status:    statusText,
			MessageID: messageID,
			Response:  response,
			SentAt:    d.Now(),
		}
		if err := d.Publisher.PublishSendLog(event); err != nil {
			d.Log.Warn("send-log publish failed", zap.Error(err))
		}
	}

	if item.CampaignID == nil {
		return
	}
	campaignID := *item.CampaignID

	// last_sent is stamped on failures too, so a broken campaign paces
	// at its interval instead of burning through the queue.
	if err := d.Campaigns.MarkAttempt(campaignID, d.Now(), success); err != nil {
		d.Log.Error("campaign attempt update failed",
			zap.Int("campaign_id", campaignID), zap.Error(err))
		return
	}

	// Completion is checked after every dispatched item, not at tick
	// end, so the COMPLETED flip is prompt regardless of batch bounds.
	remaining, err := d.Queue.CountPending(campaignID)
	if err != nil {
		d.Log.Error("pending count failed", zap.Int("campaign_id", campaignID), zap.Error(err))
		return
	}
	if remaining == 0 {
		if err := d.Campaigns.MarkCompleted(campaignID); err != nil {
			d.Log.Error("completion update failed", zap.Int("campaign_id", campaignID), zap.Error(err))
			return
		}
		d.Log.Info("campaign completed", zap.Int("campaign_id", campaignID))
	}
}

// sweepStuck returns items abandoned in PROCESSING by a crashed worker
// to PENDING, at most once per sweep interval.
func (d *Dispatcher) sweepStuck(now time.Time) {
	if d.StuckGrace <= 0 {
		return
	}
	if !d.lastSweep.IsZero() && now.Sub(d.lastSweep) < d.SweepInterval {
		return
	}
	d.lastSweep = now

	n, err := d.Queue.RequeueStuck(now.Add(-d.StuckGrace))
	if err != nil {
		d.Log.Error("stuck sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.StuckRequeued.Add(float64(n))
		d.Log.Warn("requeued stuck items", zap.Int("count", n))
	}
}
