package models

import (
	"testing"
	"time"
)

// ============================================================
// Тесты переходов состояний Opportunity
// ============================================================

func TestCanTransitionOpportunity(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		// Прямой жизненный цикл
		{"DETECTED → PENDING_APPROVAL", OppDetected, OppPendingApproval, true},
		{"DETECTED → EXECUTING (auto-approve)", OppDetected, OppExecuting, true},
		{"DETECTED → CANCELED (expired)", OppDetected, OppCanceled, true},
		{"PENDING_APPROVAL → EXECUTING (confirmed)", OppPendingApproval, OppExecuting, true},
		{"PENDING_APPROVAL → CANCELED (rejected)", OppPendingApproval, OppCanceled, true},
		{"EXECUTING → COMPLETED", OppExecuting, OppCompleted, true},
		{"EXECUTING → FAILED", OppExecuting, OppFailed, true},

		// Запрещённые переходы
		{"EXECUTING → CANCELED forbidden", OppExecuting, OppCanceled, false},
		{"COMPLETED is terminal", OppCompleted, OppExecuting, false},
		{"FAILED is terminal", OppFailed, OppDetected, false},
		{"CANCELED is terminal", OppCanceled, OppExecuting, false},
		{"no backwards move", OppPendingApproval, OppDetected, false},
		{"unknown state", "BOGUS", OppExecuting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransitionOpportunity(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransitionOpportunity(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminalOpportunity(t *testing.T) {
	terminal := []string{OppCompleted, OppFailed, OppCanceled}
	for _, s := range terminal {
		if !IsTerminalOpportunity(s) {
			t.Errorf("IsTerminalOpportunity(%s) = false, want true", s)
		}
	}

	active := []string{OppDetected, OppPendingApproval, OppExecuting}
	for _, s := range active {
		if IsTerminalOpportunity(s) {
			t.Errorf("IsTerminalOpportunity(%s) = true, want false", s)
		}
	}
}

// ============================================================
// Тесты переходов состояний Trade
// ============================================================

func TestCanTransitionTrade(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"OPEN → FILLED", TradeOpen, TradeFilled, true},
		{"OPEN → PARTIALLY_FILLED", TradeOpen, TradePartiallyFilled, true},
		{"OPEN → CANCELED (timeout)", TradeOpen, TradeCanceled, true},
		{"OPEN → FAILED (rejected)", TradeOpen, TradeFailed, true},
		{"PARTIALLY_FILLED → FILLED", TradePartiallyFilled, TradeFilled, true},
		{"FILLED is terminal", TradeFilled, TradeCanceled, false},
		{"CANCELED is terminal", TradeCanceled, TradeOpen, false},
		{"FAILED is terminal", TradeFailed, TradeFilled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransitionTrade(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransitionTrade(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// ============================================================
// Тесты переходов состояний Transfer
// ============================================================

func TestCanTransitionTransfer(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"PENDING → COMPLETED", TransferPending, TransferCompleted, true},
		{"PENDING → FAILED", TransferPending, TransferFailed, true},
		{"PENDING → UNKNOWN (timeout)", TransferPending, TransferUnknown, true},
		{"UNKNOWN → COMPLETED (late resolution)", TransferUnknown, TransferCompleted, true},
		{"UNKNOWN → FAILED (late resolution)", TransferUnknown, TransferFailed, true},
		{"COMPLETED is terminal", TransferCompleted, TransferPending, false},
		{"FAILED is terminal", TransferFailed, TransferUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransitionTransfer(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransitionTransfer(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// ============================================================
// Тесты TickerSnapshot
// ============================================================

func TestTickerSnapshotValid(t *testing.T) {
	tests := []struct {
		name string
		bid  float64
		ask  float64
		want bool
	}{
		{"valid quote", 29990, 30000, true},
		{"ask equals bid", 30000, 30000, true},
		{"crossed book", 30000, 29990, false},
		{"zero bid", 0, 30000, false},
		{"negative bid", -1, 30000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := &TickerSnapshot{Bid: tt.bid, Ask: tt.ask}
			if got := ts.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTickerSnapshotStaleAt(t *testing.T) {
	now := time.Now()
	ts := &TickerSnapshot{Timestamp: now.Add(-45 * time.Second)}

	if ts.StaleAt(now, time.Minute) {
		t.Error("45s old snapshot should not be stale with 60s bound")
	}
	if !ts.StaleAt(now, 30*time.Second) {
		t.Error("45s old snapshot should be stale with 30s bound")
	}
}

// ============================================================
// Тесты разбора пар
// ============================================================

func TestSplitPair(t *testing.T) {
	tests := []struct {
		pair  string
		base  string
		quote string
		ok    bool
	}{
		{"BTC/USDT", "BTC", "USDT", true},
		{"ETH/BTC", "ETH", "BTC", true},
		{"BTCUSDT", "", "", false},
		{"/USDT", "", "", false},
		{"BTC/", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pair, func(t *testing.T) {
			base, quote, ok := SplitPair(tt.pair)
			if base != tt.base || quote != tt.quote || ok != tt.ok {
				t.Errorf("SplitPair(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.pair, base, quote, ok, tt.base, tt.quote, tt.ok)
			}
		})
	}
}

func TestIsUSDQuote(t *testing.T) {
	tests := []struct {
		pair string
		want bool
	}{
		{"BTC/USDT", true},
		{"ETH/USDC", true},
		{"ETH/USD", true},
		{"ETH/BTC", false},
		{"BTCUSDT", false},
	}

	for _, tt := range tests {
		if got := IsUSDQuote(tt.pair); got != tt.want {
			t.Errorf("IsUSDQuote(%q) = %v, want %v", tt.pair, got, tt.want)
		}
	}
}
