package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReading(t *testing.T) {
	t.Run("Flat Number", func(t *testing.T) {
		r := ParseReading(json.RawMessage(`73.4`))
		assert.Equal(t, ReadingKindPercent, r.Kind)
		assert.Equal(t, 73.4, r.Percent)
	})

	t.Run("Numeric String", func(t *testing.T) {
		r := ParseReading(json.RawMessage(`"55.1"`))
		assert.Equal(t, ReadingKindPercent, r.Kind)
		assert.Equal(t, 55.1, r.Percent)
	})

	t.Run("Not Available", func(t *testing.T) {
		assert.Equal(t, ReadingKindAbsent, ParseReading(json.RawMessage(`"N/A"`)).Kind)
		assert.Equal(t, ReadingKindAbsent, ParseReading(json.RawMessage(`""`)).Kind)
		assert.Equal(t, ReadingKindAbsent, ParseReading(nil).Kind)
	})

	t.Run("Structured Object", func(t *testing.T) {
		r := ParseReading(json.RawMessage(`{"total":100,"used":61,"used_percent":61.0}`))
		require.Equal(t, ReadingKindStructured, r.Kind)

		pct, ok := r.UsagePercent()
		require.True(t, ok)
		assert.Equal(t, 61.0, pct)
	})

	t.Run("JSON Embedded In String", func(t *testing.T) {
		r := ParseReading(json.RawMessage(`"{\"usage_percent\":12.5}"`))
		require.Equal(t, ReadingKindStructured, r.Kind)

		pct, ok := r.UsagePercent()
		require.True(t, ok)
		assert.Equal(t, 12.5, pct)
	})

	t.Run("Non Numeric String", func(t *testing.T) {
		assert.Equal(t, ReadingKindAbsent, ParseReading(json.RawMessage(`"garbage"`)).Kind)
	})
}

func TestUsagePercent(t *testing.T) {
	t.Run("Absent Has No Percent", func(t *testing.T) {
		_, ok := Reading{Kind: ReadingKindAbsent}.UsagePercent()
		assert.False(t, ok)
	})

	t.Run("Structured Without Percent Field", func(t *testing.T) {
		r := Reading{Kind: ReadingKindStructured, Raw: json.RawMessage(`{"total":100}`)}
		_, ok := r.UsagePercent()
		assert.False(t, ok)
	})
}

func TestNormalize(t *testing.T) {
	raw := RawMetricSample{
		ServerID:  "srv-1",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		CPU:       json.RawMessage(`34.2`),
		Memory:    json.RawMessage(`{"used_percent":70.0}`),
		Disk:      json.RawMessage(`"41.9"`),
	}

	sample := raw.Normalize()
	assert.Equal(t, "srv-1", sample.ServerID)
	assert.Equal(t, raw.Timestamp, sample.Timestamp)
	assert.Equal(t, ReadingKindPercent, sample.CPU.Kind)
	assert.Equal(t, ReadingKindStructured, sample.Memory.Kind)
	assert.Equal(t, ReadingKindPercent, sample.Disk.Kind)
	assert.Equal(t, 41.9, sample.Disk.Percent)
	assert.Equal(t, ReadingKindAbsent, sample.GPU.Kind)

	t.Run("Zero Timestamp Defaults To Now", func(t *testing.T) {
		sample := RawMetricSample{ServerID: "srv-1"}.Normalize()
		assert.False(t, sample.Timestamp.IsZero())
	})
}

func TestExecutionStateTerminal(t *testing.T) {
	assert.False(t, ExecutionStateDry.Terminal())
	assert.False(t, ExecutionStateRunning.Terminal())
	assert.True(t, ExecutionStateSuccess.Terminal())
	assert.True(t, ExecutionStateFailed.Terminal())
}
