package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

// MetricStore defines the interface for the append-only metrics series
type MetricStore interface {
	// AppendMetric records a normalized sample. Samples are never updated.
	AppendMetric(ctx context.Context, sample *model.MetricSample) error

	// LatestMetrics retrieves the most recent samples for a server,
	// newest first
	LatestMetrics(ctx context.Context, serverID string, limit int) ([]*model.MetricSample, error)
}

// AppendMetric implements MetricStore.AppendMetric
func (s *SQLite) AppendMetric(ctx context.Context, sample *model.MetricSample) error {
	cpu, err := json.Marshal(sample.CPU)
	if err != nil {
		return fmt.Errorf("failed to marshal cpu reading: %w", err)
	}
	memory, err := json.Marshal(sample.Memory)
	if err != nil {
		return fmt.Errorf("failed to marshal memory reading: %w", err)
	}
	disk, err := json.Marshal(sample.Disk)
	if err != nil {
		return fmt.Errorf("failed to marshal disk reading: %w", err)
	}
	gpu, err := json.Marshal(sample.GPU)
	if err != nil {
		return fmt.Errorf("failed to marshal gpu reading: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO metrics (server_id, timestamp, cpu, memory, disk, gpu)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sample.ServerID,
		sample.Timestamp,
		string(cpu),
		string(memory),
		string(disk),
		string(gpu),
	)
	if err != nil {
		return fmt.Errorf("failed to append metric: %w", err)
	}
	return nil
}

// LatestMetrics implements MetricStore.LatestMetrics
func (s *SQLite) LatestMetrics(ctx context.Context, serverID string, limit int) ([]*model.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, timestamp, cpu, memory, disk, gpu
		FROM metrics
		WHERE server_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var samples []*model.MetricSample
	for rows.Next() {
		sample := &model.MetricSample{}
		var cpu, memory, disk, gpu string

		err := rows.Scan(
			&sample.ServerID,
			&sample.Timestamp,
			&cpu,
			&memory,
			&disk,
			&gpu,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}

		if err := json.Unmarshal([]byte(cpu), &sample.CPU); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cpu reading: %w", err)
		}
		if err := json.Unmarshal([]byte(memory), &sample.Memory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory reading: %w", err)
		}
		if err := json.Unmarshal([]byte(disk), &sample.Disk); err != nil {
			return nil, fmt.Errorf("failed to unmarshal disk reading: %w", err)
		}
		if err := json.Unmarshal([]byte(gpu), &sample.GPU); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gpu reading: %w", err)
		}

		samples = append(samples, sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return samples, nil
}
