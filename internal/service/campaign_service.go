// internal/service/campaign_service.go
package service

import (
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smscourier-backend/internal/errors"
	"github.com/unclebandit/smscourier-backend/internal/model"
	"github.com/unclebandit/smscourier-backend/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	QueueRepo    repository.QueueRepositoryInterface
	Log          *zap.Logger
}

// CampaignDetails is a campaign snapshot plus live queue stats for UI polling.
type CampaignDetails struct {
	ID            int                  `json:"id"`
	Name          string               `json:"name"`
	Message       string               `json:"message"`
	TotalMessages int                  `json:"total_messages"`
	TotalSent     int                  `json:"total_sent"`
	FailedCount   int                  `json:"failed_count"`
	Interval      float64              `json:"interval"`
	StartTime     time.Time            `json:"start_time"`
	LastSent      *time.Time           `json:"last_sent,omitempty"`
	Status        model.CampaignStatus `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	QueueStats    map[string]int       `json:"queue_stats"`
}

// SetStatus applies a user-driven transition. Only RUNNING, PAUSED, and
// CANCELED are externally settable; QUEUED and COMPLETED are system-only.
// Terminal campaigns reject all further transitions.
func (s *CampaignService) SetStatus(campaignID int, target model.CampaignStatus) (*model.Campaign, error) {
	switch target {
	case model.CampaignRunning, model.CampaignPaused, model.CampaignCanceled:
	default:
		return nil, appErrors.NewInvalidTransition(campaignID, "", string(target))
	}

	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status.Terminal() {
		return nil, appErrors.NewInvalidTransition(campaignID, string(campaign.Status), string(target))
	}

	if err := s.CampaignRepo.SetStatus(campaignID, target); err != nil {
		return nil, err
	}

	s.Log.Info("campaign status changed",
		zap.Int("campaign_id", campaignID),
		zap.String("from", string(campaign.Status)),
		zap.String("to", string(target)),
	)
	return s.CampaignRepo.GetByID(campaignID)
}

func (s *CampaignService) List() ([]*model.Campaign, error) {
	return s.CampaignRepo.List()
}

func (s *CampaignService) GetWithStats(campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.QueueRepo.Stats(campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{
		ID:            campaign.ID,
		Name:          campaign.Name,
		Message:       campaign.Message,
		TotalMessages: campaign.TotalMessages,
		TotalSent:     campaign.TotalSent,
		FailedCount:   campaign.FailedCount,
		Interval:      campaign.Interval,
		StartTime:     campaign.StartTime,
		LastSent:      campaign.LastSent,
		Status:        campaign.Status,
		CreatedAt:     campaign.CreatedAt,
		QueueStats:    stats,
	}, nil
}

// Delete removes a campaign and cascades to its queue items.
func (s *CampaignService) Delete(campaignID int) error {
	if err := s.CampaignRepo.Delete(campaignID); err != nil {
		return err
	}
	s.Log.Info("campaign deleted", zap.Int("campaign_id", campaignID))
	return nil
}
