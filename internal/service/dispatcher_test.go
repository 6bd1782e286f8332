package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smscourier-backend/internal/errors"
	"github.com/unclebandit/smscourier-backend/internal/gateway"
	"github.com/unclebandit/smscourier-backend/internal/model"
	"github.com/unclebandit/smscourier-backend/internal/service"
)

// ---------------------------------------------------------------------
// In-memory stores
// ---------------------------------------------------------------------

type memCampaigns struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
}

func newMemCampaigns(cs ...*model.Campaign) *memCampaigns {
	m := &memCampaigns{campaigns: map[int]*model.Campaign{}}
	for _, c := range cs {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *memCampaigns) GetByID(id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *memCampaigns) ListActiveIDs() ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int{}
	for id, c := range m.campaigns {
		if c.Status.Active() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memCampaigns) MarkAttempt(id int, at time.Time, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	t := at
	c.LastSent = &t
	c.Status = model.CampaignRunning
	if success {
		c.TotalSent++
	} else {
		c.FailedCount++
	}
	return nil
}

func (m *memCampaigns) MarkCompleted(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id].Status = model.CampaignCompleted
	return nil
}

// setStatus emulates the control API: resume clears last_sent.
func (m *memCampaigns) setStatus(id int, status model.CampaignStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	c.Status = status
	if status == model.CampaignRunning {
		c.LastSent = nil
	}
}

func (m *memCampaigns) get(id int) model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

type memQueue struct {
	mu    sync.Mutex
	items map[int]*model.QueueItem
}

func newMemQueue(items ...*model.QueueItem) *memQueue {
	m := &memQueue{items: map[int]*model.QueueItem{}}
	for _, item := range items {
		m.items[item.ID] = item
	}
	return m
}

func (m *memQueue) Due(now time.Time, activeIDs []int, limit int) ([]*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := map[int]bool{}
	for _, id := range activeIDs {
		active[id] = true
	}
	due := []*model.QueueItem{}
	for _, item := range m.items {
		if item.Status != model.QueuePending || item.DueAt.After(now) {
			continue
		}
		if item.CampaignID != nil && !active[*item.CampaignID] {
			continue
		}
		cp := *item
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memQueue) Claim(id int, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.Status != model.QueuePending || item.DueAt.After(now) {
		return false, nil
	}
	item.Status = model.QueueProcessing
	item.UpdatedAt = now
	return true, nil
}

func (m *memQueue) Resolve(id int, status model.QueueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].Status = status
	return nil
}

func (m *memQueue) CountPending(campaignID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.items {
		if item.CampaignID != nil && *item.CampaignID == campaignID && item.Status == model.QueuePending {
			count++
		}
	}
	return count, nil
}

func (m *memQueue) RequeueStuck(before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.Status == model.QueueProcessing && item.UpdatedAt.Before(before) {
			item.Status = model.QueuePending
			n++
		}
	}
	return n, nil
}

func (m *memQueue) status(id int) model.QueueStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Status
}

type memLog struct {
	mu      sync.Mutex
	entries []*model.SmsLog
}

func (m *memLog) Insert(l *model.SmsLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, l)
	return nil
}

func (m *memLog) CountSentBetween(start, end time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, l := range m.entries {
		if l.Status == "SENT" && !l.CreatedAt.Before(start) && l.CreatedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

// fakeSender counts sends per phone; verdict and blocking are configurable.
type fakeSender struct {
	mu     sync.Mutex
	sent   map[string]int
	reject bool
	block  chan struct{} // when set, Send waits until closed
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[string]int{}}
}

func (f *fakeSender) Send(ctx context.Context, phone, message string) (*gateway.SendResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.sent[phone]++
	reject := f.reject
	f.mu.Unlock()
	if reject {
		return &gateway.SendResult{Accepted: false, RawStatus: "FAILED"}, nil
	}
	return &gateway.SendResult{Accepted: true, MessageID: "m-1", RawStatus: "SENT"}, nil
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.sent {
		n += c
	}
	return n
}

// ---------------------------------------------------------------------

func intPtr(i int) *int { return &i }

func testDispatcher(campaigns *memCampaigns, q *memQueue, logs *memLog, sender *fakeSender, now *time.Time) *service.Dispatcher {
	d := service.NewDispatcher(campaigns, q, logs, sender, zap.NewNop())
	d.Now = func() time.Time { return *now }
	d.StuckGrace = 0 // individual tests opt in
	return d
}

func TestTickSendsOnlyDueItems(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	campaigns := newMemCampaigns(&model.Campaign{ID: 1, Name: "c1", Interval: 2, Status: model.CampaignQueued, TotalMessages: 3})
	q := newMemQueue(
		&model.QueueItem{ID: 1, CampaignID: intPtr(1), Phone: "+1", Status: model.QueuePending, DueAt: t0},
		&model.QueueItem{ID: 2, CampaignID: intPtr(1), Phone: "+2", Status: model.QueuePending, DueAt: t0.Add(2 * time.Minute)},
		&model.QueueItem{ID: 3, CampaignID: intPtr(1), Phone: "+3", Status: model.QueuePending, DueAt: t0.Add(4 * time.Minute)},
	)
	sender := newFakeSender()
	d := testDispatcher(campaigns, q, &memLog{}, sender, &now)

	d.Tick(context.Background())

	if got := q.status(1); got != model.QueueSent {
		t.Errorf("item 1 status = %s, want SENT", got)
	}
	if got := q.status(2); got != model.QueuePending {
		t.Errorf("item 2 status = %s, want PENDING (not yet due)", got)
	}
	if sender.total() != 1 {
		t.Errorf("sends = %d, want 1", sender.total())
	}

	c := campaigns.get(1)
	if c.Status != model.CampaignRunning {
		t.Errorf("campaign status = %s, want RUNNING", c.Status)
	}
	if c.TotalSent != 1 || c.FailedCount != 0 {
		t.Errorf("counters = (%d, %d), want (1, 0)", c.TotalSent, c.FailedCount)
	}
	if c.LastSent == nil || !c.LastSent.Equal(t0) {
		t.Errorf("last_sent = %v, want %v", c.LastSent, t0)
	}
}

func TestRateLimitHoldsBackOverdueBacklog(t *testing.T) {
	// Both items overdue in the same tick; the fresh last_sent written by
	// the first dispatch must hold the second back.
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(10 * time.Minute)
	campaigns := newMemCampaigns(&model.Campaign{ID: 1, Name: "c1", Interval: 2, Status: model.CampaignRunning, TotalMessages: 2})
	q := newMemQueue(
		&model.QueueItem{ID: 1, CampaignID: intPtr(1), Phone: "+1", Status: model.QueuePending, DueAt: t0},
		&model.QueueItem{ID: 2, CampaignID: intPtr(1), Phone: "+2", Status: model.QueuePending, DueAt: t0.Add(time.Second)},
	)
	sender := newFakeSender()
	d := testDispatcher(campaigns, q, &memLog{}, sender, &now)

	d.Tick(context.Background())
	if sender.total() != 1 {
		t.Fatalf("first tick sends = %d, want 1 (gap enforced)", sender.total())
	}
	if got := q.status(2); got != model.QueuePending {
		t.Errorf("item 2 status = %s, want PENDING", got)
	}

	// Next tick inside the gap: still held.
	now = now.Add(5 * time.Second)
	d.Tick(context.Background())
	if sender.total() != 1 {
		t.Errorf("sends inside gap = %d, want 1", sender.total())
	}

	// After the gap elapses the second item fires.
	now = now.Add(2 * time.Minute)
	d.Tick(context.Background())
	if sender.total() != 2 {
		t.Errorf("sends after gap = %d, want 2", sender.total())
	}
}

func TestPausedCampaignIsNeverClaimed(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	campaigns := newMemCampaigns(&model.Campaign{ID: 1, Name: "c1", Interval: 2, Status: model.CampaignQueued, TotalMessages: 2})
	q := newMemQueue(
		&model.QueueItem{ID: 1, CampaignID: intPtr(1), Phone: "+1", Status: model.QueuePending, DueAt: t0},
		&model.QueueItem{ID: 2, CampaignID: intPtr(1), Phone: "+2", Status: model.QueuePending, DueAt: t0.Add(2 * time.Minute)},
	)
	sender := newFakeSender()
	d := testDispatcher(campaigns, q, &memLog{}, sender, &now)

	d.Tick(context.Background())
	if sender.total() != 1 {
		t.Fatalf("sends = %d, want 1", sender.total())
	}

	// Pause lands right after item 1 went out. Item 2's due time passes,
	// but no tick may claim it while paused.
	campaigns.setStatus(1, model.CampaignPaused)
	now = now.Add(10 * time.Minute)
	d.Tick(context.Background())
	d.Tick(context.Background())

	if got := q.status(2); got != model.QueuePending {
		t.Errorf("item 2 status = %s, want PENDING while paused", got)
	}
	if sender.total() != 1 {
		t.Errorf("sends while paused = %d, want 1", sender.total())
	}
}

func TestResumeFiresImmediately(t *testing.T) {
	// Resume clears last_sent, so the next due item goes out on the very
	// next tick instead of waiting out the pre-pause interval.
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	last := t0.Add(-time.Second)
	campaigns := newMemCampaigns(&model.Campaign{
		ID: 1, Name: "c1", Interval: 30, Status: model.CampaignPaused,
		LastSent: &last, TotalMessages: 1,
	})
	q := newMemQueue(
		&model.QueueItem{ID: 1, CampaignID: intPtr(1), Phone: "+1", Status: model.QueuePending, DueAt: t0},
	)
	sender := newFakeSender()
	d := testDispatcher(campaigns, q, &memLog{}, sender, &now)

	d.Tick(context.Background())
	if sender.total() != 0 {
		t.Fatalf("paused campaign sent %d messages", sender.total())
	}

	campaigns.setStatus(1, model.CampaignRunning)
	d.Tick(context.Background())
	if sender.total() != 1 {
		t.Errorf("sends after resume = %d, want 1 (no interval countdown)", sender.total())
	}
}

func TestFailedAttemptStillPaces(t *testing.T) {
	// A failure stamps last_sent and bumps failed_count, so a broken
	// campaign paces at its interval instead of burning the queue.
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	campaigns := newMemCampaigns(&model.Campaign{ID: 1, Name: "c1", Interval: 2, Status: model.CampaignQueued, TotalMessages: 2})
	q := newMemQueue(
		&model.QueueItem{ID: 1, CampaignID: intPtr(1), Phone: "+1", Status: model.QueuePending, DueAt: t0},
		&model.QueueItem{ID: 2, CampaignID: intPtr(1), Phone: "+2", Status: model.QueuePending, DueAt: t0.Add(time.Second)},
	)
	sender := newFakeSender()
	sender.reject = true
	d := testDispatcher(campaigns, q, &memLog{}, sender, &now)

	now = t0.Add(time.Minute)
	d.Tick(context.Background())

	if got := q.status(1); got != model.QueueFailed {
		t.Errorf("item 1 status = %s, want FAILED", got)
	}
	c := campaigns.get(1)
	if c.FailedCount != 1 || c.TotalSent != 0 {
		t.Errorf("counters = (%d, %d), want (0 sent, 1 failed)", c.TotalSent, c.FailedCount)
	}
	if c.LastSent == nil {
		t.Fatal("last_sent not stamped on failure")
	}
	if got := q.status(2); got != model.QueuePending {
		t.Errorf("item 2 claimed inside gap after failure, status = %s", got)
	}
}

func TestCompletionDetectedAfterLastItem(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	campaigns := newMemCampaigns(&model.Campaign{ID: 1, Name: "c1", Interval: 0, Status: model.CampaignQueued, TotalMessages: 2})
	q := newMemQueue(
		&model.QueueItem{ID: 1, CampaignID: intPtr(1), Phone: "+1", Status: model.QueuePending, DueAt: t0},
		&model.QueueItem{ID: 2, CampaignID: intPtr(1), Phone: "+2", Status: model.QueuePending, DueAt: t0.Add(time.Second)},
	)
	sender := newFakeSender()
	d := testDispatcher(campaigns, q, &memLog{}, sender, &now)

	now = t0.Add(time.Minute)
	d.Tick(context.Background())

	c := campaigns.get(1)
	if c.Status != model.CampaignCompleted {
		t.Errorf("campaign status = %s, want COMPLETED", c.Status)
	}
	if c.TotalSent+c.FailedCount > c.TotalMessages {
		t.Errorf("counters exceed total: %d + %d > %d", c.TotalSent, c.FailedCount, c.TotalMessages)
	}
}

func TestUnlinkedItemSkipsRateLimit(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	campaigns := newMemCampaigns()
	q := newMemQueue(
		&model.QueueItem{ID: 1, Phone: "+1", Status: model.QueuePending, DueAt: t0},
		&model.QueueItem{ID: 2, Phone: "+2", Status: model.QueuePending, DueAt: t0},
	)
	sender := newFakeSender()
	d := testDispatcher(campaigns, q, &memLog{}, sender, &now)

	d.Tick(context.Background())
	if sender.total() != 2 {
		t.Errorf("sends = %d, want 2 (unlinked items are unpaced)", sender.total())
	}
}

func TestDailyLimitSkipsTick(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	campaigns := newMemCampaigns(&model.Campaign{ID: 1, Name: "c1", Status: model.CampaignQueued, TotalMessages: 1})
	q := newMemQueue(
		&model.QueueItem{ID: 1, CampaignID: intPtr(1), Phone: "+1", Status: model.QueuePending, DueAt: t0},
	)
	logs := &memLog{}
	for i := 0; i < 3; i++ {
		logs.Insert(&model.SmsLog{Status: "SENT", CreatedAt: t0.Add(-time.Hour)})
	}
	sender := newFakeSender()
	d := testDispatcher(campaigns, q, logs, sender, &now)
	d.DailyLimit = 3

	d.Tick(context.Background())
	if sender.total() != 0 {
		t.Errorf("sends = %d, want 0 (daily ceiling reached)", sender.total())
	}
	if got := q.status(1); got != model.QueuePending {
		t.Errorf("item claimed despite daily ceiling, status = %s", got)
	}
}

func TestClaimWinsAtMostOnce(t *testing.T) {
	// Two dispatcher instances over the same stores, ticking
	// concurrently: every item must be dispatched exactly once.
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	campaigns := newMemCampaigns(&model.Campaign{ID: 1, Name: "c1", Interval: 0, Status: model.CampaignQueued, TotalMessages: 20})
	items := make([]*model.QueueItem, 20)
	for i := range items {
		items[i] = &model.QueueItem{
			ID: i + 1, CampaignID: intPtr(1), Phone: "+1",
			Status: model.QueuePending, DueAt: t0.Add(time.Duration(i) * time.Second),
		}
	}
	q := newMemQueue(items...)
	logs := &memLog{}
	sender := newFakeSender()
	now = t0.Add(time.Minute)

	d1 := testDispatcher(campaigns, q, logs, sender, &now)
	d2 := testDispatcher(campaigns, q, logs, sender, &now)

	var wg sync.WaitGroup
	for _, d := range []*service.Dispatcher{d1, d2} {
		wg.Add(1)
		go func(d *service.Dispatcher) {
			defer wg.Done()
			d.Tick(context.Background())
		}(d)
	}
	wg.Wait()

	if sender.total() != 20 {
		t.Errorf("total dispatches = %d, want exactly 20", sender.total())
	}
	c := campaigns.get(1)
	if c.TotalSent != 20 {
		t.Errorf("total_sent = %d, want 20", c.TotalSent)
	}
	if c.Status != model.CampaignCompleted {
		t.Errorf("campaign status = %s, want COMPLETED", c.Status)
	}
}

func TestOverlappingTickIsSuppressed(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	campaigns := newMemCampaigns()
	q := newMemQueue(
		&model.QueueItem{ID: 1, Phone: "+1", Status: model.QueuePending, DueAt: t0},
	)
	sender := newFakeSender()
	sender.block = make(chan struct{})
	d := testDispatcher(campaigns, q, &memLog{}, sender, &now)

	done := make(chan struct{})
	go func() {
		d.Tick(context.Background()) // parks inside Send
		close(done)
	}()

	// Give the first tick time to reach the sender, then try to overlap.
	time.Sleep(50 * time.Millisecond)
	d.Tick(context.Background()) // must return immediately, claiming nothing

	close(sender.block)
	<-done

	if sender.total() != 1 {
		t.Errorf("sends = %d, want 1 (second tick suppressed)", sender.total())
	}
}

func TestStuckProcessingIsRequeued(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	campaigns := newMemCampaigns(&model.Campaign{ID: 1, Name: "c1", Status: model.CampaignQueued, TotalMessages: 1})
	q := newMemQueue(
		// Claimed 30 minutes ago by a worker that never resolved it.
		&model.QueueItem{
			ID: 1, CampaignID: intPtr(1), Phone: "+1",
			Status: model.QueueProcessing, DueAt: t0.Add(-time.Hour),
			UpdatedAt: t0.Add(-30 * time.Minute),
		},
	)
	sender := newFakeSender()
	d := testDispatcher(campaigns, q, &memLog{}, sender, &now)
	d.StuckGrace = 10 * time.Minute

	d.Tick(context.Background())

	// The sweep ran at tick start, so the requeued item was picked up and
	// dispatched in the same tick.
	if got := q.status(1); got != model.QueueSent {
		t.Errorf("item status = %s, want SENT after requeue", got)
	}
	if sender.total() != 1 {
		t.Errorf("sends = %d, want 1", sender.total())
	}
}

func TestDueOrderIsRespected(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(time.Hour)
	campaigns := newMemCampaigns()
	q := newMemQueue(
		&model.QueueItem{ID: 1, Phone: "+late", Status: model.QueuePending, DueAt: t0.Add(10 * time.Minute)},
		&model.QueueItem{ID: 2, Phone: "+early", Status: model.QueuePending, DueAt: t0},
	)
	order := []string{}
	var mu sync.Mutex
	sender := newFakeSender()
	d := service.NewDispatcher(campaigns, q, &memLog{}, senderFunc(func(ctx context.Context, phone, message string) (*gateway.SendResult, error) {
		mu.Lock()
		order = append(order, phone)
		mu.Unlock()
		return sender.Send(ctx, phone, message)
	}), zap.NewNop())
	d.Now = func() time.Time { return now }
	d.StuckGrace = 0

	d.Tick(context.Background())

	if len(order) != 2 || order[0] != "+early" || order[1] != "+late" {
		t.Errorf("dispatch order = %v, want [+early +late]", order)
	}
}

type senderFunc func(ctx context.Context, phone, message string) (*gateway.SendResult, error)

func (f senderFunc) Send(ctx context.Context, phone, message string) (*gateway.SendResult, error) {
	return f(ctx, phone, message)
}
