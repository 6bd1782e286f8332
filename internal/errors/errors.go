// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrNoRecipients is returned by the planner when the recipient list is
// empty after limit truncation.
var ErrNoRecipients = errors.New("no recipients to schedule")

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrDuplicateName signals a campaign name collision at planning time.
type ErrDuplicateName struct {
	Name string
}

func (e *ErrDuplicateName) Error() string {
	return fmt.Sprintf("campaign name %q already exists", e.Name)
}

func NewDuplicateName(name string) error {
	return &ErrDuplicateName{Name: name}
}

// ErrInvalidTransition signals a status change the lifecycle state
// machine does not allow (bad target, or campaign already terminal).
type ErrInvalidTransition struct {
	CampaignID int
	From       string
	To         string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("campaign %d cannot go from %s to %s", e.CampaignID, e.From, e.To)
}

func NewInvalidTransition(id int, from, to string) error {
	return &ErrInvalidTransition{CampaignID: id, From: from, To: to}
}
