package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const metricsSchema = `
	CREATE TABLE IF NOT EXISTS cluster_metrics (
		sampled_at         TIMESTAMPTZ NOT NULL,
		cpu_utilization    DOUBLE PRECISION NOT NULL,
		memory_utilization DOUBLE PRECISION NOT NULL,
		queue_depth        INTEGER NOT NULL,
		members            INTEGER NOT NULL,
		reachable_members  INTEGER NOT NULL,
		healthy_nodes      INTEGER NOT NULL,
		degraded_nodes     INTEGER NOT NULL,
		unhealthy_nodes    INTEGER NOT NULL,
		offline_nodes      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS cluster_metrics_sampled_at_idx
		ON cluster_metrics (sampled_at);
`

// PostgresStore persists samples to a cluster_metrics table through a
// pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database, verifies connectivity and
// creates the schema if it does not exist.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	if _, err := pool.Exec(ctx, metricsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Append(ctx context.Context, sample ClusterMetricsSample) error {
	query := `
		INSERT INTO cluster_metrics (
			sampled_at, cpu_utilization, memory_utilization, queue_depth,
			members, reachable_members,
			healthy_nodes, degraded_nodes, unhealthy_nodes, offline_nodes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		sample.At,
		sample.CPUUtilization,
		sample.MemoryUtilization,
		sample.QueueDepth,
		sample.Members,
		sample.ReachableMembers,
		sample.HealthyNodes,
		sample.DegradedNodes,
		sample.UnhealthyNodes,
		sample.OfflineNodes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

func (s *PostgresStore) Range(ctx context.Context, from, to time.Time) ([]ClusterMetricsSample, error) {
	if from.After(to) {
		return nil, ErrInvalidRange
	}

	query := `
		SELECT sampled_at, cpu_utilization, memory_utilization, queue_depth,
		       members, reachable_members,
		       healthy_nodes, degraded_nodes, unhealthy_nodes, offline_nodes
		FROM cluster_metrics
		WHERE sampled_at >= $1 AND sampled_at <= $2
		ORDER BY sampled_at ASC`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []ClusterMetricsSample
	for rows.Next() {
		var sample ClusterMetricsSample
		if err := rows.Scan(
			&sample.At,
			&sample.CPUUtilization,
			&sample.MemoryUtilization,
			&sample.QueueDepth,
			&sample.Members,
			&sample.ReachableMembers,
			&sample.HealthyNodes,
			&sample.DegradedNodes,
			&sample.UnhealthyNodes,
			&sample.OfflineNodes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
