// internal/model/sms_log.go
package model

import "time"

// SmsLog records one gateway send attempt. The delivery-report service
// correlates webhook callbacks against MessageID later on.
type SmsLog struct {
	ID        int       `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	Message   string    `db:"message" json:"message"`
	Status    string    `db:"status" json:"status"` // normalized gateway verdict, e.g. SENT / FAILED / error text
	MessageID string    `db:"message_id" json:"message_id,omitempty"`
	Response  string    `db:"response" json:"response,omitempty"` // raw gateway response body
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
