package repository

import (
	"database/sql"
	"errors"
	"time"

	"cryptoarb/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository - работа с таблицей trades
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create создает запись о сделке
func (r *TradeRepository) Create(trade *models.Trade) error {
	query := `
		INSERT INTO trades (opportunity_id, timestamp, exchange, pair, side, price, amount, fee, order_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now()
	}

	err := r.db.QueryRow(
		query,
		trade.OpportunityID,
		trade.Timestamp,
		trade.Exchange,
		trade.Pair,
		trade.Side,
		trade.Price,
		trade.Amount,
		trade.Fee,
		trade.OrderID,
		trade.Status,
	).Scan(&trade.ID)

	if err != nil {
		return err
	}

	return nil
}

// GetByID возвращает сделку по ID
func (r *TradeRepository) GetByID(id int64) (*models.Trade, error) {
	query := `
		SELECT id, opportunity_id, timestamp, exchange, pair, side, price, amount, fee, order_id, status
		FROM trades
		WHERE id = $1`

	trade := &models.Trade{}
	err := r.db.QueryRow(query, id).Scan(
		&trade.ID,
		&trade.OpportunityID,
		&trade.Timestamp,
		&trade.Exchange,
		&trade.Pair,
		&trade.Side,
		&trade.Price,
		&trade.Amount,
		&trade.Fee,
		&trade.OrderID,
		&trade.Status,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	return trade, nil
}

// GetByOpportunityID возвращает сделки возможности в порядке исполнения
func (r *TradeRepository) GetByOpportunityID(opportunityID int64) ([]*models.Trade, error) {
	query := `
		SELECT id, opportunity_id, timestamp, exchange, pair, side, price, amount, fee, order_id, status
		FROM trades
		WHERE opportunity_id = $1
		ORDER BY timestamp ASC`

	return r.queryList(query, opportunityID)
}

// GetRecent возвращает последние N сделок
func (r *TradeRepository) GetRecent(limit int) ([]*models.Trade, error) {
	query := `
		SELECT id, opportunity_id, timestamp, exchange, pair, side, price, amount, fee, order_id, status
		FROM trades
		ORDER BY timestamp DESC
		LIMIT $1`

	return r.queryList(query, limit)
}

func (r *TradeRepository) queryList(query string, args ...interface{}) ([]*models.Trade, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade := &models.Trade{}
		err := rows.Scan(
			&trade.ID,
			&trade.OpportunityID,
			&trade.Timestamp,
			&trade.Exchange,
			&trade.Pair,
			&trade.Side,
			&trade.Price,
			&trade.Amount,
			&trade.Fee,
			&trade.OrderID,
			&trade.Status,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// UpdateStatus обновляет статус сделки вместе с фактической ценой и комиссией
func (r *TradeRepository) UpdateStatus(id int64, status string, price, fee float64) error {
	query := `
		UPDATE trades
		SET status = $1, price = $2, fee = $3
		WHERE id = $4`

	result, err := r.db.Exec(query, status, price, fee, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrTradeNotFound
	}

	return nil
}

// CountByStatus возвращает количество сделок с определенным статусом
func (r *TradeRepository) CountByStatus(status string) (int, error) {
	query := `SELECT COUNT(*) FROM trades WHERE status = $1`

	var count int
	err := r.db.QueryRow(query, status).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}
