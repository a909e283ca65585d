package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"cryptoarb/internal/models"
)

// ============================================================
// OpportunityRepository Tests
// ============================================================

func TestOpportunityRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		opp         *models.Opportunity
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			opp: &models.Opportunity{
				Pair:         "BTC/USDT",
				BuyExchange:  "okx",
				SellExchange: "bybit",
				BuyPrice:     30000.0,
				SellPrice:    30200.0,
				Volume:       1000.0,
				ProfitMargin: 0.0036,
				Status:       models.OppDetected,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO arbitrage_opportunities`).
					WithArgs(sqlmock.AnyArg(), "BTC/USDT", "okx", "bybit", 30000.0, 30200.0, 1000.0, 0.0036, models.OppDetected).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
			},
			expectError: false,
		},
		{
			name: "database error",
			opp: &models.Opportunity{
				Pair:   "BTC/USDT",
				Status: models.OppDetected,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO arbitrage_opportunities`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewOpportunityRepository(db)
			err = repo.Create(tt.opp)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.opp.ID != 1 {
					t.Errorf("expected ID=1, got %d", tt.opp.ID)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestOpportunityRepositoryGetByID(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "timestamp", "pair", "buy_exchange", "sell_exchange", "buy_price", "sell_price", "volume", "profit_margin", "status"}).
		AddRow(7, now, "ETH/USDT", "htx", "okx", 2000.0, 2010.0, 500.0, 0.0031, models.OppDetected)
	mock.ExpectQuery(`SELECT .+ FROM arbitrage_opportunities`).WithArgs(int64(7)).WillReturnRows(rows)

	repo := NewOpportunityRepository(db)
	opp, err := repo.GetByID(7)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if opp.Pair != "ETH/USDT" || opp.BuyExchange != "htx" || opp.SellExchange != "okx" {
		t.Errorf("unexpected opportunity: %+v", opp)
	}

	mock.ExpectQuery(`SELECT .+ FROM arbitrage_opportunities`).WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := repo.GetByID(8); !errors.Is(err, ErrOpportunityNotFound) {
		t.Errorf("expected ErrOpportunityNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOpportunityRepositoryUpdateStatus(t *testing.T) {
	t.Run("valid transition", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(`UPDATE arbitrage_opportunities`).
			WithArgs(models.OppExecuting, int64(1), models.OppDetected).
			WillReturnResult(sqlmock.NewResult(0, 1))

		repo := NewOpportunityRepository(db)
		if err := repo.UpdateStatus(1, models.OppDetected, models.OppExecuting); err != nil {
			t.Errorf("unexpected error: %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("forbidden transition rejected without query", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		repo := NewOpportunityRepository(db)
		if err := repo.UpdateStatus(1, models.OppCompleted, models.OppExecuting); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("concurrent status change detected", func(t *testing.T) {
		now := time.Now()

		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(`UPDATE arbitrage_opportunities`).
			WithArgs(models.OppExecuting, int64(1), models.OppDetected).
			WillReturnResult(sqlmock.NewResult(0, 0))
		// Запись существует, но статус уже другой
		rows := sqlmock.NewRows([]string{"id", "timestamp", "pair", "buy_exchange", "sell_exchange", "buy_price", "sell_price", "volume", "profit_margin", "status"}).
			AddRow(1, now, "BTC/USDT", "okx", "bybit", 30000.0, 30200.0, 1000.0, 0.0036, models.OppCanceled)
		mock.ExpectQuery(`SELECT .+ FROM arbitrage_opportunities`).WithArgs(int64(1)).WillReturnRows(rows)

		repo := NewOpportunityRepository(db)
		if err := repo.UpdateStatus(1, models.OppDetected, models.OppExecuting); !errors.Is(err, ErrStaleStatus) {
			t.Errorf("expected ErrStaleStatus, got %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})
}

func TestOpportunityRepositoryGetDailyProfit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"day", "profit", "count"}).
		AddRow(day, 42.5, 12).
		AddRow(day.AddDate(0, 0, -1), 13.1, 4)
	mock.ExpectQuery(`SELECT DATE\(timestamp\)`).WithArgs(models.OppCompleted, 7).WillReturnRows(rows)

	repo := NewOpportunityRepository(db)
	result, err := repo.GetDailyProfit(7)
	if err != nil {
		t.Fatalf("GetDailyProfit failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 days, got %d", len(result))
	}
	if result[0].Profit != 42.5 || result[0].Count != 12 {
		t.Errorf("unexpected aggregate: %+v", result[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ============================================================
// TradeRepository Tests
// ============================================================

func TestTradeRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	trade := &models.Trade{
		OpportunityID: 1,
		Exchange:      "okx",
		Pair:          "BTC/USDT",
		Side:          models.SideBuy,
		Price:         30000.0,
		Amount:        0.03,
		Fee:           0.9,
		OrderID:       "ext-123",
		Status:        models.TradeOpen,
	}

	mock.ExpectQuery(`INSERT INTO trades`).
		WithArgs(int64(1), sqlmock.AnyArg(), "okx", "BTC/USDT", models.SideBuy, 30000.0, 0.03, 0.9, "ext-123", models.TradeOpen).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

	repo := NewTradeRepository(db)
	if err := repo.Create(trade); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if trade.ID != 5 {
		t.Errorf("expected ID=5, got %d", trade.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryGetByOpportunityID(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "opportunity_id", "timestamp", "exchange", "pair", "side", "price", "amount", "fee", "order_id", "status"}).
		AddRow(1, 7, now, "okx", "BTC/USDT", models.SideBuy, 30000.0, 0.03, 0.9, "a", models.TradeFilled).
		AddRow(2, 7, now, "bybit", "BTC/USDT", models.SideSell, 30200.0, 0.03, 0.9, "b", models.TradeFilled)
	mock.ExpectQuery(`SELECT .+ FROM trades`).WithArgs(int64(7)).WillReturnRows(rows)

	repo := NewTradeRepository(db)
	trades, err := repo.GetByOpportunityID(7)
	if err != nil {
		t.Fatalf("GetByOpportunityID failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Side != models.SideBuy || trades[1].Side != models.SideSell {
		t.Error("trades must preserve execution order")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryUpdateStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE trades`).
		WithArgs(models.TradeFilled, 30005.5, 0.9, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewTradeRepository(db)
	if err := repo.UpdateStatus(3, models.TradeFilled, 30005.5, 0.9); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	mock.ExpectExec(`UPDATE trades`).
		WithArgs(models.TradeFilled, 30005.5, 0.9, int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.UpdateStatus(99, models.TradeFilled, 30005.5, 0.9); !errors.Is(err, ErrTradeNotFound) {
		t.Errorf("expected ErrTradeNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ============================================================
// TransferRepository Tests
// ============================================================

func TestTransferRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	transfer := &models.Transfer{
		FromExchange: "okx",
		ToExchange:   "bybit",
		Currency:     "USDT",
		Amount:       500.0,
		Fee:          1.0,
		Status:       models.TransferPending,
	}

	mock.ExpectQuery(`INSERT INTO fund_transfers`).
		WithArgs(sqlmock.AnyArg(), "okx", "bybit", "USDT", 500.0, 1.0, "", models.TransferPending).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	repo := NewTransferRepository(db)
	if err := repo.Create(transfer); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if transfer.ID != 11 {
		t.Errorf("expected ID=11, got %d", transfer.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTransferRepositoryGetPending(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "timestamp", "from_exchange", "to_exchange", "currency", "amount", "fee", "transaction_id", "status"}).
		AddRow(1, now, "okx", "bybit", "USDT", 500.0, 1.0, "wd-1", models.TransferPending)
	mock.ExpectQuery(`SELECT .+ FROM fund_transfers`).WithArgs(models.TransferPending).WillReturnRows(rows)

	repo := NewTransferRepository(db)
	pending, err := repo.GetPending()
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].TransactionID != "wd-1" {
		t.Errorf("unexpected pending transfers: %+v", pending)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTransferRepositoryUpdateStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewTransferRepository(db)

	// Терминальный статус не меняется
	if err := repo.UpdateStatus(1, models.TransferCompleted, models.TransferPending); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	mock.ExpectExec(`UPDATE fund_transfers`).
		WithArgs(models.TransferCompleted, int64(1), models.TransferPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.UpdateStatus(1, models.TransferPending, models.TransferCompleted); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ============================================================
// MetricRepository Tests
// ============================================================

func TestMetricRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	metric := &models.SystemMetric{
		Service:     "arb_engine",
		MetricName:  "scan_duration_ms",
		MetricValue: 42.0,
	}

	mock.ExpectQuery(`INSERT INTO system_metrics`).
		WithArgs(sqlmock.AnyArg(), "arb_engine", "scan_duration_ms", 42.0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	repo := NewMetricRepository(db)
	if err := repo.Create(metric); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
