package storage_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/playbook-orchestrator/internal/model"
	"github.com/t77yq/playbook-orchestrator/internal/testutil"
)

func TestMetricStore(t *testing.T) {
	store := testutil.SetupStorage(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)

	t.Run("Append and Read Back", func(t *testing.T) {
		sample := &model.MetricSample{
			ServerID:  "srv-1",
			Timestamp: base,
			CPU:       model.Reading{Kind: model.ReadingKindPercent, Percent: 42.5},
			Memory:    model.Reading{Kind: model.ReadingKindStructured, Raw: json.RawMessage(`{"used_percent":61.2}`)},
			Disk:      model.Reading{Kind: model.ReadingKindPercent, Percent: 80},
			GPU:       model.Reading{Kind: model.ReadingKindAbsent},
		}
		require.NoError(t, store.AppendMetric(ctx, sample))

		samples, err := store.LatestMetrics(ctx, "srv-1", 10)
		require.NoError(t, err)
		require.Len(t, samples, 1)

		got := samples[0]
		assert.Equal(t, model.ReadingKindPercent, got.CPU.Kind)
		assert.Equal(t, 42.5, got.CPU.Percent)
		assert.Equal(t, model.ReadingKindStructured, got.Memory.Kind)
		assert.Equal(t, model.ReadingKindAbsent, got.GPU.Kind)

		pct, ok := got.Memory.UsagePercent()
		require.True(t, ok)
		assert.Equal(t, 61.2, pct)
	})

	t.Run("Latest Returns Newest First With Limit", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			require.NoError(t, store.AppendMetric(ctx, &model.MetricSample{
				ServerID:  "srv-2",
				Timestamp: base.Add(time.Duration(i) * time.Minute),
				CPU:       model.Reading{Kind: model.ReadingKindPercent, Percent: float64(i)},
			}))
		}

		samples, err := store.LatestMetrics(ctx, "srv-2", 3)
		require.NoError(t, err)
		require.Len(t, samples, 3)
		assert.Equal(t, 5.0, samples[0].CPU.Percent)
		assert.Equal(t, 3.0, samples[2].CPU.Percent)
	})

	t.Run("Duplicate Timestamp Ignored", func(t *testing.T) {
		sample := &model.MetricSample{
			ServerID:  "srv-3",
			Timestamp: base,
			CPU:       model.Reading{Kind: model.ReadingKindPercent, Percent: 10},
		}
		require.NoError(t, store.AppendMetric(ctx, sample))

		sample.CPU.Percent = 99
		require.NoError(t, store.AppendMetric(ctx, sample))

		samples, err := store.LatestMetrics(ctx, "srv-3", 10)
		require.NoError(t, err)
		require.Len(t, samples, 1)
		assert.Equal(t, 10.0, samples[0].CPU.Percent)
	})
}
