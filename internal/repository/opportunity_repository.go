package repository

import (
	"database/sql"
	"errors"
	"time"

	"cryptoarb/internal/models"
)

// Ошибки репозитория возможностей
var (
	ErrOpportunityNotFound = errors.New("opportunity not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrStaleStatus         = errors.New("opportunity status changed concurrently")
)

// OpportunityRepository - работа с таблицей arbitrage_opportunities
type OpportunityRepository struct {
	db *sql.DB
}

// NewOpportunityRepository создает новый экземпляр репозитория
func NewOpportunityRepository(db *sql.DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

// Create создает запись о возможности
func (r *OpportunityRepository) Create(opp *models.Opportunity) error {
	query := `
		INSERT INTO arbitrage_opportunities (timestamp, pair, buy_exchange, sell_exchange, buy_price, sell_price, volume, profit_margin, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	if opp.Timestamp.IsZero() {
		opp.Timestamp = time.Now()
	}

	err := r.db.QueryRow(
		query,
		opp.Timestamp,
		opp.Pair,
		opp.BuyExchange,
		opp.SellExchange,
		opp.BuyPrice,
		opp.SellPrice,
		opp.Volume,
		opp.ProfitMargin,
		opp.Status,
	).Scan(&opp.ID)

	if err != nil {
		return err
	}

	return nil
}

// GetByID возвращает возможность по ID
func (r *OpportunityRepository) GetByID(id int64) (*models.Opportunity, error) {
	query := `
		SELECT id, timestamp, pair, buy_exchange, sell_exchange, buy_price, sell_price, volume, profit_margin, status
		FROM arbitrage_opportunities
		WHERE id = $1`

	opp := &models.Opportunity{}
	err := r.db.QueryRow(query, id).Scan(
		&opp.ID,
		&opp.Timestamp,
		&opp.Pair,
		&opp.BuyExchange,
		&opp.SellExchange,
		&opp.BuyPrice,
		&opp.SellPrice,
		&opp.Volume,
		&opp.ProfitMargin,
		&opp.Status,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOpportunityNotFound
		}
		return nil, err
	}

	return opp, nil
}

// GetRecent возвращает последние N возможностей
func (r *OpportunityRepository) GetRecent(limit int) ([]*models.Opportunity, error) {
	query := `
		SELECT id, timestamp, pair, buy_exchange, sell_exchange, buy_price, sell_price, volume, profit_margin, status
		FROM arbitrage_opportunities
		ORDER BY timestamp DESC
		LIMIT $1`

	return r.queryList(query, limit)
}

// GetByStatus возвращает возможности с определенным статусом
func (r *OpportunityRepository) GetByStatus(status string, limit int) ([]*models.Opportunity, error) {
	query := `
		SELECT id, timestamp, pair, buy_exchange, sell_exchange, buy_price, sell_price, volume, profit_margin, status
		FROM arbitrage_opportunities
		WHERE status = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	return r.queryList(query, status, limit)
}

func (r *OpportunityRepository) queryList(query string, args ...interface{}) ([]*models.Opportunity, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opportunities []*models.Opportunity
	for rows.Next() {
		opp := &models.Opportunity{}
		err := rows.Scan(
			&opp.ID,
			&opp.Timestamp,
			&opp.Pair,
			&opp.BuyExchange,
			&opp.SellExchange,
			&opp.BuyPrice,
			&opp.SellPrice,
			&opp.Volume,
			&opp.ProfitMargin,
			&opp.Status,
		)
		if err != nil {
			return nil, err
		}
		opportunities = append(opportunities, opp)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return opportunities, nil
}

// UpdateStatus переводит возможность из состояния from в to.
// Переход проверяется по state machine, обновление выполняется
// с условием на текущий статус: конкурентный перевод не пройдет.
func (r *OpportunityRepository) UpdateStatus(id int64, from, to string) error {
	if !models.CanTransitionOpportunity(from, to) {
		return ErrInvalidTransition
	}

	query := `
		UPDATE arbitrage_opportunities
		SET status = $1
		WHERE id = $2 AND status = $3`

	result, err := r.db.Exec(query, to, id, from)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Либо записи нет, либо статус уже сменился
		if _, err := r.GetByID(id); err != nil {
			return err
		}
		return ErrStaleStatus
	}

	return nil
}

// CancelExpired отменяет просроченные возможности в статусе DETECTED
func (r *OpportunityRepository) CancelExpired(olderThan time.Time) (int64, error) {
	query := `
		UPDATE arbitrage_opportunities
		SET status = $1
		WHERE status = $2 AND timestamp < $3`

	result, err := r.db.Exec(query, models.OppCanceled, models.OppDetected, olderThan)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// DailyProfit - агрегат прибыли за день
type DailyProfit struct {
	Day    time.Time `json:"day"`
	Profit float64   `json:"profit"`
	Count  int       `json:"count"`
}

// GetDailyProfit возвращает прибыль по завершенным возможностям по дням
func (r *OpportunityRepository) GetDailyProfit(days int) ([]*DailyProfit, error) {
	query := `
		SELECT DATE(timestamp) AS day, COALESCE(SUM(profit_margin * volume), 0) AS profit, COUNT(*) AS count
		FROM arbitrage_opportunities
		WHERE status = $1 AND timestamp >= NOW() - $2 * INTERVAL '1 day'
		GROUP BY DATE(timestamp)
		ORDER BY day DESC`

	rows, err := r.db.Query(query, models.OppCompleted, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*DailyProfit
	for rows.Next() {
		dp := &DailyProfit{}
		if err := rows.Scan(&dp.Day, &dp.Profit, &dp.Count); err != nil {
			return nil, err
		}
		result = append(result, dp)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// CountByStatus возвращает количество возможностей с определенным статусом
func (r *OpportunityRepository) CountByStatus(status string) (int, error) {
	query := `SELECT COUNT(*) FROM arbitrage_opportunities WHERE status = $1`

	var count int
	err := r.db.QueryRow(query, status).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}
