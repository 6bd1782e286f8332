// internal/gateway/client.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SendResult is the synchronous gateway verdict for one message. A
// rejection embedded in a 200 response and a transport-level failure
// both surface as Accepted=false; callers treat them identically.
type SendResult struct {
	Accepted  bool
	MessageID string
	RawStatus string // normalized verdict: SENT, FAILED, or the gateway error text
	Response  string // raw response body, kept for delivery-report correlation
}

// Sender is the dispatch worker's view of the SMS gateway.
type Sender interface {
	Send(ctx context.Context, phone, message string) (*SendResult, error)
}

type Client struct {
	URL     string
	APIKey  string
	From    string
	HTTP    *http.Client
	Limiter *rate.Limiter
	Log     *zap.Logger
}

func NewClient(url, apiKey, from string, reqPerSec int, log *zap.Logger) *Client {
	if reqPerSec < 1 {
		reqPerSec = 1
	}
	return &Client{
		URL:     url,
		APIKey:  apiKey,
		From:    from,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(reqPerSec), reqPerSec),
		Log:     log,
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	From string `json:"from,omitempty"`
	Dlr  string `json:"dlr"`
}

// The gateway reports a global request code plus a per-message verdict;
// both arrive with loose types (numbers as strings, bools as strings)
// depending on API version.
type sendResponse struct {
	Success  any `json:"success"`
	Messages []struct {
		ID        any    `json:"id"`
		Success   any    `json:"success"`
		Status    string `json:"status"`
		ErrorText string `json:"error_text"`
	} `json:"messages"`
}

func (c *Client) Send(ctx context.Context, phone, message string) (*SendResult, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(sendRequest{To: phone, Text: message, From: c.From, Dlr: "yes"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway response: %w", err)
	}

	result := parseVerdict(body)
	if !result.Accepted {
		c.Log.Warn("gateway rejected message",
			zap.String("phone", phone),
			zap.String("status", result.RawStatus),
		)
	}
	return result, nil
}

// parseVerdict extracts the accept/reject verdict. The gateway accepted
// the message only when the global code is 100/101 AND the individual
// message verdict is positive; legacy plain-text bodies carry just the
// code.
func parseVerdict(body []byte) *SendResult {
	result := &SendResult{Response: string(body), RawStatus: "FAILED"}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Plain-text legacy response: status code as body prefix.
		text := strings.TrimSpace(string(body))
		if strings.HasPrefix(text, "100") || strings.HasPrefix(text, "101") {
			result.Accepted = true
			result.RawStatus = "SENT"
		}
		return result
	}

	globalCode := asString(parsed.Success)
	globalOK := globalCode == "100" || globalCode == "101"

	if len(parsed.Messages) == 0 {
		if globalOK {
			result.Accepted = true
			result.RawStatus = "SENT"
		}
		return result
	}

	msg := parsed.Messages[0]
	msgOK := truthy(msg.Success) || msg.Status == "success"

	result.MessageID = asString(msg.ID)
	if globalOK && msgOK {
		result.Accepted = true
		result.RawStatus = "SENT"
	} else if msg.ErrorText != "" {
		result.RawStatus = strings.ToUpper(msg.ErrorText)
	}
	return result
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "success"
	default:
		return false
	}
}
