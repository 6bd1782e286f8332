package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/smscourier-backend/internal/errors"
	"github.com/unclebandit/smscourier-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	CreateWithQueue(c *model.Campaign, items []*model.QueueItem) error
	GetByID(id int) (*model.Campaign, error)
	GetByName(name string) (*model.Campaign, error)
	List() ([]*model.Campaign, error)
	ListActiveIDs() ([]int, error)
	SetStatus(id int, status model.CampaignStatus) error
	MarkAttempt(id int, at time.Time, success bool) error
	MarkCompleted(id int) error
	Delete(id int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, message, total_messages, total_sent, failed_count, interval_minutes, start_time, last_sent, status, created_at`

// CreateWithQueue inserts the campaign and its queue items in one
// transaction, so a QUEUED campaign is never visible without its entries.
func (r *CampaignRepository) CreateWithQueue(c *model.Campaign, items []*model.QueueItem) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c.CreatedAt = time.Now()
	err = tx.QueryRow(`
        INSERT INTO campaigns (name, message, total_messages, total_sent, failed_count, interval_minutes, start_time, status, created_at)
        VALUES ($1, $2, $3, 0, 0, $4, $5, $6, $7)
        RETURNING id
    `, c.Name, c.Message, c.TotalMessages, c.Interval, c.StartTime, c.Status, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return appErrors.NewDuplicateName(c.Name)
		}
		return err
	}

	stmt, err := tx.Prepare(`
        INSERT INTO queue_items (campaign_id, phone, message, status, due_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		item.CampaignID = &c.ID
		if _, err := stmt.Exec(c.ID, item.Phone, item.Message, item.Status, item.DueAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id).Scan(
		&c.ID, &c.Name, &c.Message, &c.TotalMessages, &c.TotalSent, &c.FailedCount,
		&c.Interval, &c.StartTime, &c.LastSent, &c.Status, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) GetByName(name string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE name=$1`, name).Scan(
		&c.ID, &c.Name, &c.Message, &c.TotalMessages, &c.TotalSent, &c.FailedCount,
		&c.Interval, &c.StartTime, &c.LastSent, &c.Status, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) List() ([]*model.Campaign, error) {
	rows, err := r.DB.Query(`SELECT ` + campaignColumns + ` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Message, &c.TotalMessages, &c.TotalSent, &c.FailedCount,
			&c.Interval, &c.StartTime, &c.LastSent, &c.Status, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) ListActiveIDs() ([]int, error) {
	rows, err := r.DB.Query(`SELECT id FROM campaigns WHERE status = ANY($1)`,
		pq.Array([]string{string(model.CampaignQueued), string(model.CampaignRunning)}))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetStatus applies a user-driven status change. A transition to RUNNING
// clears last_sent so the next due item fires on the very next tick
// instead of waiting out the pre-pause interval window.
func (r *CampaignRepository) SetStatus(id int, status model.CampaignStatus) error {
	var res sql.Result
	var err error
	if status == model.CampaignRunning {
		res, err = r.DB.Exec(`UPDATE campaigns SET status=$1, last_sent=NULL WHERE id=$2`, status, id)
	} else {
		res, err = r.DB.Exec(`UPDATE campaigns SET status=$1 WHERE id=$2`, status, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

// MarkAttempt records a send attempt. last_sent is stamped on every
// attempt, success or failure, to keep the campaign paced at its
// configured interval even while failing. Counter increments are done in
// SQL so concurrent workers cannot lose updates.
func (r *CampaignRepository) MarkAttempt(id int, at time.Time, success bool) error {
	sent, failed := 0, 1
	if success {
		sent, failed = 1, 0
	}
	_, err := r.DB.Exec(`
        UPDATE campaigns
        SET last_sent=$2, status=$3, total_sent = total_sent + $4, failed_count = failed_count + $5
        WHERE id=$1
    `, id, at, model.CampaignRunning, sent, failed)
	return err
}

func (r *CampaignRepository) MarkCompleted(id int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET status=$1 WHERE id=$2`, model.CampaignCompleted, id)
	return err
}

// Delete removes the campaign and cascades to its queue items.
func (r *CampaignRepository) Delete(id int) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM queue_items WHERE campaign_id=$1`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return tx.Commit()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
