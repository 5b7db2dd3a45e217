package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"consentry/internal/domain"
)

// PostgresDetectionStore archives detection events in a table, for
// deployments that want the append-only log queryable beyond the redis
// window. The consent collection stays in redis either way; only the log has
// a relational variant.
type PostgresDetectionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresDetectionStore(pool *pgxpool.Pool) *PostgresDetectionStore {
	return &PostgresDetectionStore{pool: pool}
}

// Schema is the DDL required by the store. Applied by the operator, not the
// coordinator.
const Schema = `
CREATE TABLE IF NOT EXISTS detection_events (
    id           TEXT PRIMARY KEY,
    detected_at  TIMESTAMPTZ NOT NULL,
    url          TEXT NOT NULL,
    tab_id       INTEGER NOT NULL,
    consent_data JSONB NOT NULL,
    client       TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS detection_events_detected_at_idx ON detection_events (detected_at DESC);
`

func (s *PostgresDetectionStore) AppendDetection(ctx context.Context, event domain.DetectionEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encode detection data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO detection_events (id, detected_at, url, tab_id, consent_data, client, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Timestamp, event.URL, event.TabID, data, event.Client, event.Status,
	)
	if err != nil {
		return fmt.Errorf("append detection: %w", err)
	}
	return nil
}

func (s *PostgresDetectionStore) ListDetections(ctx context.Context, limit int) ([]domain.DetectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, detected_at, url, tab_id, consent_data, client, status
		 FROM detection_events ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var events []domain.DetectionEvent
	for rows.Next() {
		var event domain.DetectionEvent
		var data []byte
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.URL, &event.TabID, &data, &event.Client, &event.Status); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		if err := json.Unmarshal(data, &event.Data); err != nil {
			return nil, fmt.Errorf("decode detection data: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	// Return oldest-first to match the other implementations.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
