package repository

import (
	"database/sql"
	"errors"
	"time"

	"cryptoarb/internal/models"
)

// Ошибки репозитория переводов
var (
	ErrTransferNotFound = errors.New("transfer not found")
)

// TransferRepository - работа с таблицей fund_transfers
type TransferRepository struct {
	db *sql.DB
}

// NewTransferRepository создает новый экземпляр репозитория
func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Create создает запись о переводе
func (r *TransferRepository) Create(transfer *models.Transfer) error {
	query := `
		INSERT INTO fund_transfers (timestamp, from_exchange, to_exchange, currency, amount, fee, transaction_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	if transfer.Timestamp.IsZero() {
		transfer.Timestamp = time.Now()
	}

	err := r.db.QueryRow(
		query,
		transfer.Timestamp,
		transfer.FromExchange,
		transfer.ToExchange,
		transfer.Currency,
		transfer.Amount,
		transfer.Fee,
		transfer.TransactionID,
		transfer.Status,
	).Scan(&transfer.ID)

	if err != nil {
		return err
	}

	return nil
}

// GetByID возвращает перевод по ID
func (r *TransferRepository) GetByID(id int64) (*models.Transfer, error) {
	query := `
		SELECT id, timestamp, from_exchange, to_exchange, currency, amount, fee, transaction_id, status
		FROM fund_transfers
		WHERE id = $1`

	transfer := &models.Transfer{}
	err := r.db.QueryRow(query, id).Scan(
		&transfer.ID,
		&transfer.Timestamp,
		&transfer.FromExchange,
		&transfer.ToExchange,
		&transfer.Currency,
		&transfer.Amount,
		&transfer.Fee,
		&transfer.TransactionID,
		&transfer.Status,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}

	return transfer, nil
}

// GetPending возвращает переводы, ожидающие завершения
func (r *TransferRepository) GetPending() ([]*models.Transfer, error) {
	query := `
		SELECT id, timestamp, from_exchange, to_exchange, currency, amount, fee, transaction_id, status
		FROM fund_transfers
		WHERE status = $1
		ORDER BY timestamp ASC`

	return r.queryList(query, models.TransferPending)
}

// GetRecent возвращает последние N переводов
func (r *TransferRepository) GetRecent(limit int) ([]*models.Transfer, error) {
	query := `
		SELECT id, timestamp, from_exchange, to_exchange, currency, amount, fee, transaction_id, status
		FROM fund_transfers
		ORDER BY timestamp DESC
		LIMIT $1`

	return r.queryList(query, limit)
}

func (r *TransferRepository) queryList(query string, args ...interface{}) ([]*models.Transfer, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		transfer := &models.Transfer{}
		err := rows.Scan(
			&transfer.ID,
			&transfer.Timestamp,
			&transfer.FromExchange,
			&transfer.ToExchange,
			&transfer.Currency,
			&transfer.Amount,
			&transfer.Fee,
			&transfer.TransactionID,
			&transfer.Status,
		)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return transfers, nil
}

// UpdateStatus обновляет статус перевода с проверкой state machine
func (r *TransferRepository) UpdateStatus(id int64, from, to string) error {
	if !models.CanTransitionTransfer(from, to) {
		return ErrInvalidTransition
	}

	query := `
		UPDATE fund_transfers
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
		if _, err := r.GetByID(id); err != nil {
			return err
		}
		return ErrStaleStatus
	}

	return nil
}

// SetTransactionID проставляет внешний ID вывода после его создания на бирже
func (r *TransferRepository) SetTransactionID(id int64, txID string) error {
	query := `
		UPDATE fund_transfers
		SET transaction_id = $1
		WHERE id = $2`

	result, err := r.db.Exec(query, txID, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrTransferNotFound
	}

	return nil
}
