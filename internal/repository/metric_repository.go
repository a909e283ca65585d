package repository

import (
	"database/sql"
	"time"

	"cryptoarb/internal/models"
)

// MetricRepository - работа с таблицей system_metrics
type MetricRepository struct {
	db *sql.DB
}

// NewMetricRepository создает новый экземпляр репозитория
func NewMetricRepository(db *sql.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

// Create создает запись метрики
func (r *MetricRepository) Create(metric *models.SystemMetric) error {
	query := `
		INSERT INTO system_metrics (timestamp, service, metric_name, metric_value)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	err := r.db.QueryRow(
		query,
		metric.Timestamp,
		metric.Service,
		metric.MetricName,
		metric.MetricValue,
	).Scan(&metric.ID)

	if err != nil {
		return err
	}

	return nil
}

// GetRecent возвращает последние N значений метрики сервиса
func (r *MetricRepository) GetRecent(service, name string, limit int) ([]*models.SystemMetric, error) {
	query := `
		SELECT id, timestamp, service, metric_name, metric_value
		FROM system_metrics
		WHERE service = $1 AND metric_name = $2
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := r.db.Query(query, service, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []*models.SystemMetric
	for rows.Next() {
		m := &models.SystemMetric{}
		err := rows.Scan(&m.ID, &m.Timestamp, &m.Service, &m.MetricName, &m.MetricValue)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return metrics, nil
}

// DeleteOlderThan удаляет метрики старше указанной даты
func (r *MetricRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	query := `DELETE FROM system_metrics WHERE timestamp < $1`

	result, err := r.db.Exec(query, timestamp)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
