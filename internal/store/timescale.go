package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"herd-monitor/dashboard/internal/config"
	"herd-monitor/dashboard/internal/domain"
)

// TimescaleStore archives alerts relayed by the dashboard. Point history is
// not persisted.
type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	connStr := fmt.Sprintf("%s?pool_max_conns=%d", cfg.DSN(), cfg.DBMaxConns)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var AlertColumns = []string{
	"created_at",
	"received_at",
	"alert_id",
	"device_id",
	"alert_type",
	"severity",
	"message",
	"geofence_id",
	"latitude",
	"longitude",
	"raw_payload",
}

// AlertRows converts alerts to CopyFrom rows in AlertColumns order. An
// alert without a parseable creation time is stamped with receivedAt.
func AlertRows(alerts []domain.AlertRecord, receivedAt time.Time) [][]interface{} {
	rows := make([][]interface{}, len(alerts))
	for i, a := range alerts {
		created := receivedAt
		if ms, ok := a.CreatedAt.Millis(); ok {
			created = time.UnixMilli(ms).UTC()
		}
		rows[i] = []interface{}{
			created,
			receivedAt,
			nullable(a.ID),
			a.DeviceID,
			string(a.Type),
			string(a.Severity),
			nullable(a.Message),
			nullable(a.GeofenceID),
			a.Lat,
			a.Lon,
			string(a.Raw),
		}
	}
	return rows
}

func (s *TimescaleStore) BatchInsertAlerts(ctx context.Context, alerts []domain.AlertRecord) error {
	if len(alerts) == 0 {
		return nil
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"herd_alerts"},
		AlertColumns,
		pgx.CopyFromRows(AlertRows(alerts, time.Now().UTC())),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(alerts), err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
