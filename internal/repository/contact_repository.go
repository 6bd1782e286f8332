package repository

import (
	"database/sql"

	"github.com/unclebandit/smscourier-backend/internal/model"
)

// ContactRepositoryInterface defines methods used by the planner when no
// explicit recipient list accompanies the request.
type ContactRepositoryInterface interface {
	ListAll() ([]model.Contact, error)
}

type ContactRepository struct {
	DB *sql.DB
}

// ListAll fetches all contacts in insertion order.
func (r *ContactRepository) ListAll() ([]model.Contact, error) {
	rows, err := r.DB.Query(`SELECT id, phone, first_name, last_name FROM contacts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
