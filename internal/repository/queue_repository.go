package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/smscourier-backend/internal/model"
)

type QueueRepositoryInterface interface {
	Insert(item *model.QueueItem) error
	Due(now time.Time, activeCampaignIDs []int, limit int) ([]*model.QueueItem, error)
	Claim(id int, now time.Time) (bool, error)
	Resolve(id int, status model.QueueStatus) error
	CountPending(campaignID int) (int, error)
	RequeueStuck(before time.Time) (int, error)
	Stats(campaignID int) (map[string]int, error)
}

type QueueRepository struct {
	DB *sql.DB
}

const queueColumns = `id, campaign_id, phone, message, status, due_at, created_at, updated_at`

// Insert creates a single queue item outside any planning batch (used
// for one-off sends with no owning campaign).
func (r *QueueRepository) Insert(item *model.QueueItem) error {
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	return r.DB.QueryRow(`
        INSERT INTO queue_items (campaign_id, phone, message, status, due_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `, item.CampaignID, item.Phone, item.Message, item.Status, item.DueAt, item.CreatedAt, item.UpdatedAt).Scan(&item.ID)
}

// Due returns PENDING items whose due time has passed and whose campaign
// (if any) is in the active set, oldest due first. This is the hot query
// path; queue_items needs an index on (status, due_at).
func (r *QueueRepository) Due(now time.Time, activeCampaignIDs []int, limit int) ([]*model.QueueItem, error) {
	rows, err := r.DB.Query(`
        SELECT `+queueColumns+`
        FROM queue_items
        WHERE status = $1
          AND due_at <= $2
          AND (campaign_id IS NULL OR campaign_id = ANY($3))
        ORDER BY due_at ASC
        LIMIT $4
    `, model.QueuePending, now, pq.Array(activeCampaignIDs), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*model.QueueItem{}
	for rows.Next() {
		item := &model.QueueItem{}
		if err := rows.Scan(
			&item.ID, &item.CampaignID, &item.Phone, &item.Message,
			&item.Status, &item.DueAt, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Claim transitions one item PENDING -> PROCESSING, but only if it is
// still PENDING and still due at the claim instant. The conditional
// UPDATE is the sole concurrency-safety mechanism: under concurrent
// ticks at most one claim wins, the losers see zero rows affected.
func (r *QueueRepository) Claim(id int, now time.Time) (bool, error) {
	res, err := r.DB.Exec(`
        UPDATE queue_items
        SET status=$1, updated_at=$2
        WHERE id=$3 AND status=$4 AND due_at <= $2
    `, model.QueueProcessing, now, id, model.QueuePending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QueueRepository) Resolve(id int, status model.QueueStatus) error {
	_, err := r.DB.Exec(`UPDATE queue_items SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return err
}

func (r *QueueRepository) CountPending(campaignID int) (int, error) {
	var count int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM queue_items WHERE campaign_id=$1 AND status=$2`,
		campaignID, model.QueuePending).Scan(&count)
	return count, err
}

// RequeueStuck returns items abandoned in PROCESSING (a worker crashed
// between claim and resolution) to PENDING so a later tick retries them.
func (r *QueueRepository) RequeueStuck(before time.Time) (int, error) {
	res, err := r.DB.Exec(`
        UPDATE queue_items
        SET status=$1, updated_at=NOW()
        WHERE status=$2 AND updated_at < $3
    `, model.QueuePending, model.QueueProcessing, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *QueueRepository) Stats(campaignID int) (map[string]int, error) {
	rows, err := r.DB.Query(`SELECT status, COUNT(*) FROM queue_items WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"PENDING": 0, "PROCESSING": 0, "SENT": 0, "FAILED": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ QueueRepositoryInterface = (*QueueRepository)(nil)
