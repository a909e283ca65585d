package approval

import (
	"strings"
	"testing"

	"cryptoarb/internal/models"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data     string
		id       int64
		approved bool
		wantErr  bool
	}{
		{"approve:42", 42, true, false},
		{"reject:42", 42, false, false},
		{"approve:9001", 9001, true, false},
		{"approve", 0, false, true},
		{"approve:", 0, false, true},
		{"approve:abc", 0, false, true},
		{"dismiss:42", 0, false, true},
		{"", 0, false, true},
	}

	for _, tt := range tests {
		id, approved, err := parseCallback(tt.data)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseCallback(%q): expected error, got none", tt.data)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCallback(%q): unexpected error: %v", tt.data, err)
			continue
		}
		if id != tt.id || approved != tt.approved {
			t.Errorf("parseCallback(%q) = (%d, %v), want (%d, %v)",
				tt.data, id, approved, tt.id, tt.approved)
		}
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	id, approved, err := parseCallback(callbackData("approve", 17))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 17 || !approved {
		t.Errorf("round trip mismatch: id=%d approved=%v", id, approved)
	}
}

func TestResolveDelivers(t *testing.T) {
	tg := &Telegram{pending: make(map[int64]chan bool)}

	ch := tg.register(7)
	if !tg.resolve(7, true) {
		t.Fatal("resolve returned false for a registered opportunity")
	}

	select {
	case approved := <-ch:
		if !approved {
			t.Error("expected approved=true")
		}
	default:
		t.Fatal("decision was not delivered")
	}

	// Повторное решение по той же возможности игнорируется
	if tg.resolve(7, false) {
		t.Error("resolve should return false for an already resolved opportunity")
	}
}

func TestResolveUnknownOpportunity(t *testing.T) {
	tg := &Telegram{pending: make(map[int64]chan bool)}

	if tg.resolve(99, true) {
		t.Error("resolve should return false for an unknown opportunity")
	}
}

func TestUnregisterDropsPending(t *testing.T) {
	tg := &Telegram{pending: make(map[int64]chan bool)}

	tg.register(3)
	tg.unregister(3)

	if tg.resolve(3, true) {
		t.Error("resolve should return false after unregister")
	}
}

func TestFormatTransfer(t *testing.T) {
	got := formatTransfer(&models.Transfer{
		ID:            12,
		FromExchange:  "okx",
		ToExchange:    "bybit",
		Currency:      "USDT",
		Amount:        1000,
		TransactionID: "wd-321",
		Status:        models.TransferFailed,
	})

	for _, want := range []string{"Transfer #12", "okx -> bybit", "1000 USDT", models.TransferFailed, "wd-321"} {
		if !strings.Contains(got, want) {
			t.Errorf("card missing %q:\n%s", want, got)
		}
	}
}
