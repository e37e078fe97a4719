package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matt-riley/rollout/internal/usage"
)

// DailyCount is the number of usage events recorded on one UTC day.
type DailyCount struct {
	Day   time.Time `json:"day"`
	Count int64     `json:"count"`
}

// RecordUsage stores a usage event in feature_usages.
func (r *PostgresRepository) RecordUsage(ctx context.Context, event usage.Event) error {
	data, err := marshalAdditionalData(event.AdditionalData)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO feature_usages (id, feature_name, user_id, environment, occurred_at, additional_data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.FeatureName, event.UserID, event.Environment, event.Timestamp, data)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	return nil
}

// CountUniqueUsers counts distinct users of a feature. Nil bounds are open.
func (r *PostgresRepository) CountUniqueUsers(ctx context.Context, environment, feature string, from, to *time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM feature_usages
		WHERE environment = $1 AND feature_name = $2
		  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		  AND ($4::timestamptz IS NULL OR occurred_at <= $4)
	`, environment, feature, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unique users: %w", err)
	}

	return count, nil
}

// CountUsages counts usage events of a feature. Nil bounds are open.
func (r *PostgresRepository) CountUsages(ctx context.Context, environment, feature string, from, to *time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM feature_usages
		WHERE environment = $1 AND feature_name = $2
		  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		  AND ($4::timestamptz IS NULL OR occurred_at <= $4)
	`, environment, feature, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usages: %w", err)
	}

	return count, nil
}

// DailyUsage groups usage events since the given instant by UTC day. Days
// without events are omitted.
func (r *PostgresRepository) DailyUsage(ctx context.Context, environment, feature string, since time.Time) ([]DailyCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT (occurred_at AT TIME ZONE 'UTC')::date AS day, COUNT(*)
		FROM feature_usages
		WHERE environment = $1 AND feature_name = $2 AND occurred_at >= $3
		GROUP BY day
		ORDER BY day
	`, environment, feature, since)
	if err != nil {
		return nil, fmt.Errorf("daily usage: %w", err)
	}
	defer rows.Close()

	counts := make([]DailyCount, 0)
	for rows.Next() {
		var c DailyCount
		if err := rows.Scan(&c.Day, &c.Count); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		c.Day = time.Date(c.Day.Year(), c.Day.Month(), c.Day.Day(), 0, 0, 0, 0, time.UTC)
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily usage rows: %w", err)
	}

	return counts, nil
}

// RecentUsages returns the newest usage events of an environment.
func (r *PostgresRepository) RecentUsages(ctx context.Context, environment string, limit int) ([]usage.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, feature_name, user_id, environment, occurred_at, additional_data
		FROM feature_usages
		WHERE environment = $1
		ORDER BY occurred_at DESC, id
		LIMIT $2
	`, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("recent usages: %w", err)
	}
	defer rows.Close()

	events := make([]usage.Event, 0)
	for rows.Next() {
		var (
			event usage.Event
			data  []byte
		)
		if err := rows.Scan(&event.ID, &event.FeatureName, &event.UserID, &event.Environment, &event.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		event.AdditionalData, err = unmarshalAdditionalData(data)
		if err != nil {
			return nil, fmt.Errorf("decode usage %s data: %w", event.ID, err)
		}
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent usages rows: %w", err)
	}

	return events, nil
}

func marshalAdditionalData(data map[string]string) (json.RawMessage, error) {
	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(data)
}

func unmarshalAdditionalData(payload []byte) (map[string]string, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var data map[string]string
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
