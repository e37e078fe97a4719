// Package repository provides PostgreSQL-backed persistence for feature
// flags, usage events and API keys.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Flag is the repository-level representation of a feature flag row. Rule
// groups are stored as JSONB; the service layer decodes them.
type Flag struct {
	Name                   string          `json:"name"`
	Environment            string          `json:"environment"`
	Description            string          `json:"description"`
	Enabled                bool            `json:"enabled"`
	RolloutPercentage      int             `json:"rollout_percentage"`
	UseTargetingRules      bool            `json:"use_targeting_rules"`
	RuleGroups             json.RawMessage `json:"rule_groups"`
	UseTimeBasedActivation bool            `json:"use_time_based_activation"`
	StartTime              *time.Time      `json:"start_time,omitempty"`
	EndTime                *time.Time      `json:"end_time,omitempty"`
	DurationMillis         *int64          `json:"duration_ms,omitempty"`
	TimeZone               string          `json:"time_zone,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// PostgresRepository implements flag, usage and API key persistence backed
// by a pgxpool connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const flagColumns = `environment, name, description, enabled, rollout_percentage, use_targeting_rules,
	rule_groups, use_time_based_activation, start_time, end_time, duration_ms, time_zone, created_at, updated_at`

// SaveFlag inserts the flag or replaces the existing row with the same
// environment and name, returning the stored record.
func (r *PostgresRepository) SaveFlag(ctx context.Context, flag Flag) (Flag, error) {
	saved, err := scanFlag(r.pool.QueryRow(ctx, `
		INSERT INTO flags (environment, name, description, enabled, rollout_percentage, use_targeting_rules,
			rule_groups, use_time_based_activation, start_time, end_time, duration_ms, time_zone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (environment, name) DO UPDATE
		SET description = EXCLUDED.description,
		    enabled = EXCLUDED.enabled,
		    rollout_percentage = EXCLUDED.rollout_percentage,
		    use_targeting_rules = EXCLUDED.use_targeting_rules,
		    rule_groups = EXCLUDED.rule_groups,
		    use_time_based_activation = EXCLUDED.use_time_based_activation,
		    start_time = EXCLUDED.start_time,
		    end_time = EXCLUDED.end_time,
		    duration_ms = EXCLUDED.duration_ms,
		    time_zone = EXCLUDED.time_zone,
		    updated_at = NOW()
		RETURNING `+flagColumns,
		flag.Environment,
		flag.Name,
		flag.Description,
		flag.Enabled,
		flag.RolloutPercentage,
		flag.UseTargetingRules,
		ensureJSON(flag.RuleGroups, "[]"),
		flag.UseTimeBasedActivation,
		flag.StartTime,
		flag.EndTime,
		flag.DurationMillis,
		flag.TimeZone,
	))
	if err != nil {
		return Flag{}, fmt.Errorf("save flag: %w", err)
	}

	return saved, nil
}

// GetFlag retrieves a single flag by environment and name. Returns
// pgx.ErrNoRows (wrapped) if not found.
func (r *PostgresRepository) GetFlag(ctx context.Context, environment, name string) (Flag, error) {
	flag, err := scanFlag(r.pool.QueryRow(ctx, `
		SELECT `+flagColumns+`
		FROM flags
		WHERE environment = $1 AND name = $2
	`, environment, name))
	if err != nil {
		return Flag{}, fmt.Errorf("get flag: %w", err)
	}

	return flag, nil
}

// ListFlags returns every flag of an environment ordered by name.
func (r *PostgresRepository) ListFlags(ctx context.Context, environment string) ([]Flag, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+flagColumns+`
		FROM flags
		WHERE environment = $1
		ORDER BY name
	`, environment)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	flags := make([]Flag, 0)
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}

		flags = append(flags, flag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flags rows: %w", err)
	}

	return flags, nil
}

// DeleteFlag removes a flag by environment and name. Returns pgx.ErrNoRows
// (wrapped) if the flag does not exist.
func (r *PostgresRepository) DeleteFlag(ctx context.Context, environment, name string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM flags WHERE environment = $1 AND name = $2`, environment, name)
	if err != nil {
		return fmt.Errorf("delete flag: %w", err)
	}
	if err := deleteFlagNoRows(commandTag); err != nil {
		return err
	}

	return nil
}

func scanFlag(row pgx.Row) (Flag, error) {
	var flag Flag
	err := row.Scan(
		&flag.Environment,
		&flag.Name,
		&flag.Description,
		&flag.Enabled,
		&flag.RolloutPercentage,
		&flag.UseTargetingRules,
		&flag.RuleGroups,
		&flag.UseTimeBasedActivation,
		&flag.StartTime,
		&flag.EndTime,
		&flag.DurationMillis,
		&flag.TimeZone,
		&flag.CreatedAt,
		&flag.UpdatedAt,
	)
	return flag, err
}

func deleteFlagNoRows(commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("delete flag: %w", pgx.ErrNoRows)
	}

	return nil
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}
