package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
)

func sampleTrigger() storage.TriggerEvent {
	return storage.TriggerEvent{
		ID:        "evt-1",
		AlertID:   7,
		OwnerID:   "12345",
		Asset:     "usd",
		Price:     decimal.NewFromInt(105),
		Reference: decimal.NewFromInt(100),
		DeltaPct:  decimal.NewFromInt(5),
		Reason:    "threshold crossed above 100",
		CycleTS:   time.Now().UTC(),
	}
}

func TestTelegramNotifyTriggerSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, zerolog.Nop())

	if err := notifier.NotifyTrigger(context.Background(), sampleTrigger()); err != nil {
		t.Fatalf("NotifyTrigger should succeed: %v", err)
	}

	if received["chat_id"] != "12345" {
		t.Fatalf("chat_id should be the owner id, got %#v", received)
	}
	if !strings.Contains(received["text"], "threshold crossed above 100") {
		t.Fatalf("message should carry the trigger reason, got %q", received["text"])
	}
}

func TestTelegramNotifyTriggerNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, zerolog.Nop())

	if err := notifier.NotifyTrigger(context.Background(), sampleTrigger()); err == nil {
		t.Fatal("ok=false should surface an error")
	}
}

func TestTelegramNotifyTriggerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, zerolog.Nop())

	if err := notifier.NotifyTrigger(context.Background(), sampleTrigger()); err == nil {
		t.Fatal("non-2xx status should surface an error")
	}
}
