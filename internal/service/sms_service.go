// internal/service/sms_service.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smscourier-backend/internal/gateway"
	"github.com/unclebandit/smscourier-backend/internal/model"
	"github.com/unclebandit/smscourier-backend/internal/repository"
)

// SmsService covers one-off sends outside any campaign.
type SmsService struct {
	QueueRepo repository.QueueRepositoryInterface
	LogRepo   repository.SmsLogRepositoryInterface
	Sender    gateway.Sender
	Now       func() time.Time
	Log       *zap.Logger
}

// TestSend hits the gateway immediately, bypassing the queue, and logs
// the attempt like any other.
func (s *SmsService) TestSend(ctx context.Context, phone, message string) (*gateway.SendResult, error) {
	result, err := s.Sender.Send(ctx, phone, message)

	entry := &model.SmsLog{Phone: phone, Message: message, Status: "FAILED"}
	if result != nil {
		entry.Status = result.RawStatus
		entry.MessageID = result.MessageID
		entry.Response = result.Response
	}
	if logErr := s.LogRepo.Insert(entry); logErr != nil {
		s.Log.Error("test send log insert failed", zap.Error(logErr))
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

// EnqueueSingle adds one unlinked queue item due immediately. Unlinked
// items are legal and never rate limited.
func (s *SmsService) EnqueueSingle(phone, message string) (*model.QueueItem, error) {
	item := &model.QueueItem{
		Phone:   phone,
		Message: message,
		Status:  model.QueuePending,
		DueAt:   s.Now(),
	}
	if err := s.QueueRepo.Insert(item); err != nil {
		return nil, err
	}
	s.Log.Info("one-off message queued", zap.Int("item_id", item.ID), zap.String("phone", phone))
	return item, nil
}
