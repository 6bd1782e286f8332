package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/unclebandit/smscourier-backend/internal/gateway"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *gateway.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return gateway.NewClient(srv.URL, "test-key", "sender", 100, zap.NewNop())
}

func TestSendAccepted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["to"] != "+254700000001" {
			t.Errorf("to = %v", body["to"])
		}
		w.Write([]byte(`{"success":"100","messages":[{"id":"msg-77","success":true}]}`))
	})

	result, err := client.Send(context.Background(), "+254700000001", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Accepted {
		t.Error("expected accepted verdict")
	}
	if result.MessageID != "msg-77" {
		t.Errorf("message id = %q, want msg-77", result.MessageID)
	}
	if result.RawStatus != "SENT" {
		t.Errorf("raw status = %q, want SENT", result.RawStatus)
	}
}

func TestSendNumericCodeAndStringBool(t *testing.T) {
	// Some gateway versions return the code as a number and the
	// per-message flag as a string.
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":100,"messages":[{"id":42,"success":"true"}]}`))
	})

	result, err := client.Send(context.Background(), "+1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Accepted {
		t.Error("expected accepted verdict")
	}
	if result.MessageID != "42" {
		t.Errorf("message id = %q, want 42", result.MessageID)
	}
}

func TestSendPerMessageRejection(t *testing.T) {
	// Global code 100 but the individual message failed: counts as FAILED.
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":"100","messages":[{"id":null,"success":false,"error_text":"number blacklisted"}]}`))
	})

	result, err := client.Send(context.Background(), "+1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if result.Accepted {
		t.Error("expected rejected verdict")
	}
	if result.RawStatus != "NUMBER BLACKLISTED" {
		t.Errorf("raw status = %q, want NUMBER BLACKLISTED", result.RawStatus)
	}
}

func TestSendGlobalRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":"900","messages":[{"id":"x","success":true}]}`))
	})

	result, err := client.Send(context.Background(), "+1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if result.Accepted {
		t.Error("global code 900 must not be accepted")
	}
}

func TestSendLegacyPlainTextBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("100\nOK"))
	})

	result, err := client.Send(context.Background(), "+1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Accepted {
		t.Error("legacy 100 body should be accepted")
	}
}

func TestSendTransportError(t *testing.T) {
	client := gateway.NewClient("http://127.0.0.1:1", "k", "f", 100, zap.NewNop())
	_, err := client.Send(context.Background(), "+1", "hello")
	if err == nil {
		t.Fatal("expected transport error")
	}
}
