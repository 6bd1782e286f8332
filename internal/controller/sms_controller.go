// internal/controller/sms_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/unclebandit/smscourier-backend/internal/planner"
	"github.com/unclebandit/smscourier-backend/internal/repository"
	"github.com/unclebandit/smscourier-backend/internal/service"
)

type SmsController struct {
	Planner     *planner.Planner
	SmsService  *service.SmsService
	ContactRepo repository.ContactRepositoryInterface
	LogRepo     repository.SmsLogRepositoryInterface
	Log         *zap.Logger
}

// BulkSend plans a campaign: one queue item per recipient, spread by the
// requested interval. Recipients default to the contacts table when the
// request carries none.
func (c *SmsController) BulkSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message      string   `json:"message"`
		CampaignName string   `json:"campaign_name"`
		Interval     float64  `json:"interval"`
		StartTime    string   `json:"start_time"`
		MsgLimit     int      `json:"msg_limit"`
		Recipients   []string `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	recipients := body.Recipients
	if len(recipients) == 0 {
		contacts, err := c.ContactRepo.ListAll()
		if err != nil {
			writeError(w, err)
			return
		}
		for _, contact := range contacts {
			recipients = append(recipients, contact.Phone)
		}
	}

	campaign, err := c.Planner.Plan(body.CampaignName, body.Message, recipients, planner.Pacing{
		IntervalMinutes: body.Interval,
		StartTime:       parseStartTime(body.StartTime),
		MessageLimit:    body.MsgLimit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"campaign_id": campaign.ID,
		"messages":    campaign.TotalMessages,
	})
}

// SendSingle enqueues one message with no owning campaign, due now.
func (c *SmsController) SendSingle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone   string `json:"phone"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Phone == "" || body.Message == "" {
		http.Error(w, "phone and message are required", http.StatusBadRequest)
		return
	}

	item, err := c.SmsService.EnqueueSingle(body.Phone, body.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

// TestSend hits the gateway directly, bypassing the queue.
func (c *SmsController) TestSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone   string `json:"phone"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Phone == "" || body.Message == "" {
		http.Error(w, "phone and message are required", http.StatusBadRequest)
		return
	}

	result, err := c.SmsService.TestSend(r.Context(), body.Phone, body.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	code := http.StatusOK
	if !result.Accepted {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]interface{}{
		"success":    result.Accepted,
		"status":     result.RawStatus,
		"message_id": result.MessageID,
	})
}

func (c *SmsController) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := c.LogRepo.List(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (c *SmsController) ClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := c.LogRepo.Clear(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "all logs cleared"})
}
