package metrics

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newLazyPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	// Connections are lazy, so no database is needed to read Stat().
	pool, err := pgxpool.New(context.Background(), "postgres://rollout@127.0.0.1:1/rollout")
	if err != nil {
		t.Skipf("unable to create pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestRegisterPoolMetrics(t *testing.T) {
	pool := newLazyPool(t)

	reg := prometheus.NewPedanticRegistry()
	RegisterPoolMetrics(reg, pool)

	expected := fmt.Sprintf(`
# HELP rollout_db_pool_acquired Number of currently acquired database connections.
# TYPE rollout_db_pool_acquired gauge
rollout_db_pool_acquired 0
# HELP rollout_db_pool_acquires_total Cumulative count of successful connection acquires.
# TYPE rollout_db_pool_acquires_total counter
rollout_db_pool_acquires_total 0
# HELP rollout_db_pool_idle Number of idle database connections in the pool.
# TYPE rollout_db_pool_idle gauge
rollout_db_pool_idle 0
# HELP rollout_db_pool_max Maximum number of database connections allowed in the pool.
# TYPE rollout_db_pool_max gauge
rollout_db_pool_max %d
# HELP rollout_db_pool_total Total number of database connections in the pool.
# TYPE rollout_db_pool_total gauge
rollout_db_pool_total 0
`, pool.Stat().MaxConns())

	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"rollout_db_pool_acquired",
		"rollout_db_pool_acquires_total",
		"rollout_db_pool_idle",
		"rollout_db_pool_total",
		"rollout_db_pool_max",
	); err != nil {
		t.Errorf("unexpected metrics output:\n%v", err)
	}
}

func TestRegisterPoolMetricsFamilies(t *testing.T) {
	pool := newLazyPool(t)

	reg := prometheus.NewPedanticRegistry()
	RegisterPoolMetrics(reg, pool)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(mfs) != 6 {
		t.Errorf("expected 6 metric families, got %d", len(mfs))
	}
}
