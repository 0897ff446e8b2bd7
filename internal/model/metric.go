package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// ReadingKind identifies which shape a metric reading arrived in
type ReadingKind string

const (
	// ReadingKindPercent is a flat percentage value.
	ReadingKindPercent ReadingKind = "percent"

	// ReadingKindStructured is a nested JSON payload from the collector.
	ReadingKindStructured ReadingKind = "structured"

	// ReadingKindAbsent is a reading the collector could not produce,
	// e.g. GPU metrics on a host without a GPU.
	ReadingKindAbsent ReadingKind = "absent"
)

// Reading is a tagged union over the shapes a collector may report.
// Normalization happens once at ingestion; consumers switch on Kind
// instead of sniffing the payload.
type Reading struct {
	Kind    ReadingKind     `json:"kind"`
	Percent float64         `json:"percent,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// ParseReading normalizes a raw collector value into a Reading.
func ParseReading(raw json.RawMessage) Reading {
	if len(raw) == 0 {
		return Reading{Kind: ReadingKindAbsent}
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return Reading{Kind: ReadingKindPercent, Percent: num}
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if str == "" || str == "N/A" {
			return Reading{Kind: ReadingKindAbsent}
		}
		if num, err := strconv.ParseFloat(str, 64); err == nil {
			return Reading{Kind: ReadingKindPercent, Percent: num}
		}
		// A string holding embedded JSON, as older collectors send.
		var nested json.RawMessage
		if err := json.Unmarshal([]byte(str), &nested); err == nil {
			return ParseReading(nested)
		}
		return Reading{Kind: ReadingKindAbsent}
	}

	return Reading{Kind: ReadingKindStructured, Raw: raw}
}

// UsagePercent extracts a flat percentage where one is available. For
// structured readings it looks for the collector's usage_percent field.
func (r Reading) UsagePercent() (float64, bool) {
	switch r.Kind {
	case ReadingKindPercent:
		return r.Percent, true
	case ReadingKindStructured:
		var payload struct {
			UsagePercent *float64 `json:"usage_percent"`
			UsedPercent  *float64 `json:"used_percent"`
		}
		if err := json.Unmarshal(r.Raw, &payload); err != nil {
			return 0, false
		}
		if payload.UsagePercent != nil {
			return *payload.UsagePercent, true
		}
		if payload.UsedPercent != nil {
			return *payload.UsedPercent, true
		}
	}
	return 0, false
}

// MetricSample is one per-server measurement. Append-only.
type MetricSample struct {
	ServerID  string    `json:"server_id"`
	Timestamp time.Time `json:"timestamp"`
	CPU       Reading   `json:"cpu"`
	Memory    Reading   `json:"memory"`
	Disk      Reading   `json:"disk"`
	GPU       Reading   `json:"gpu"`
}

// RawMetricSample is the wire form published by collectors before
// normalization. Each reading is either a flat number, a numeric string,
// or a structured object.
type RawMetricSample struct {
	ServerID  string          `json:"server_id"`
	Timestamp time.Time       `json:"timestamp"`
	CPU       json.RawMessage `json:"cpu_usage"`
	Memory    json.RawMessage `json:"memory_usage"`
	Disk      json.RawMessage `json:"disk_usage"`
	GPU       json.RawMessage `json:"gpu_usage"`
}

// Normalize converts a raw wire sample into its canonical form.
func (s RawMetricSample) Normalize() MetricSample {
	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return MetricSample{
		ServerID:  s.ServerID,
		Timestamp: ts,
		CPU:       ParseReading(s.CPU),
		Memory:    ParseReading(s.Memory),
		Disk:      ParseReading(s.Disk),
		GPU:       ParseReading(s.GPU),
	}
}
