package repository

import (
	"database/sql"
	"time"

	"github.com/unclebandit/smscourier-backend/internal/model"
)

type SmsLogRepositoryInterface interface {
	Insert(l *model.SmsLog) error
	CountSentBetween(start, end time.Time) (int, error)
	List(limit int) ([]*model.SmsLog, error)
	Clear() error
}

type SmsLogRepository struct {
	DB *sql.DB
}

func (r *SmsLogRepository) Insert(l *model.SmsLog) error {
	l.CreatedAt = time.Now()
	return r.DB.QueryRow(`
        INSERT INTO sms_logs (phone, message, status, message_id, response, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `, l.Phone, l.Message, l.Status, l.MessageID, l.Response, l.CreatedAt).Scan(&l.ID)
}

// CountSentBetween counts successful sends in [start, end), used for the
// daily ceiling check.
func (r *SmsLogRepository) CountSentBetween(start, end time.Time) (int, error) {
	var count int
	err := r.DB.QueryRow(`
        SELECT COUNT(*) FROM sms_logs
        WHERE status=$1 AND created_at >= $2 AND created_at < $3
    `, "SENT", start, end).Scan(&count)
	return count, err
}

func (r *SmsLogRepository) List(limit int) ([]*model.SmsLog, error) {
	if limit < 1 {
		limit = 500
	}
	rows, err := r.DB.Query(`
        SELECT id, phone, message, status, message_id, response, created_at
        FROM sms_logs ORDER BY created_at DESC LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*model.SmsLog{}
	for rows.Next() {
		l := &model.SmsLog{}
		if err := rows.Scan(&l.ID, &l.Phone, &l.Message, &l.Status, &l.MessageID, &l.Response, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *SmsLogRepository) Clear() error {
	_, err := r.DB.Exec(`DELETE FROM sms_logs`)
	return err
}

var _ SmsLogRepositoryInterface = (*SmsLogRepository)(nil)
