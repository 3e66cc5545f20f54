package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Merkirus/cloud-raporting/internal/domain"
)

// requiredKeys must all be present in every measurement object. Keys whose
// value may be JSON null are still required to appear.
var requiredKeys = []string{
	"job_id", "worker_id", "timestamp",
	"method", "endpoint", "status_code",
	"latency_ms", "ttfb_ms",
	"response_size_bytes", "error_msg",
	"scenario_step", "is_success",
}

// naiveTimestampLayout accepts timestamps without a zone offset, treated as UTC.
const naiveTimestampLayout = "2006-01-02T15:04:05"

// ValidationError describes a malformed or incomplete measurement record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid measurement: field %q %s", e.Field, e.Reason)
}

// DecodeBatch parses one delivery body holding either a single measurement
// object or an array of them. It is the single validation entry point for
// the measurement boundary: every record either becomes a typed RawResult or
// the whole batch fails with a *ValidationError naming the first bad field.
func DecodeBatch(payload []byte) ([]domain.RawResult, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, &ValidationError{Field: "payload", Reason: "is empty"}
	}

	var records []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, &ValidationError{Field: "payload", Reason: "is not a valid JSON array"}
		}
	} else {
		records = []json.RawMessage{trimmed}
	}

	results := make([]domain.RawResult, 0, len(records))
	for _, record := range records {
		result, err := decodeRecord(record)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	return results, nil
}

type rawRecord struct {
	JobID             *int64          `json:"job_id"`
	WorkerID          *int64          `json:"worker_id"`
	Timestamp         *string         `json:"timestamp"`
	Method            *string         `json:"method"`
	Endpoint          *string         `json:"endpoint"`
	StatusCode        *int            `json:"status_code"`
	LatencyMS         *float64        `json:"latency_ms"`
	TTFBMS            *float64        `json:"ttfb_ms"`
	ResponseSizeBytes *int64          `json:"response_size_bytes"`
	ErrorMsg          *string         `json:"error_msg"`
	ScenarioStep      *int            `json:"scenario_step"`
	IsSuccess         json.RawMessage `json:"is_success"`
}

func decodeRecord(record json.RawMessage) (*domain.RawResult, error) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(record, &present); err != nil {
		return nil, &ValidationError{Field: "record", Reason: "is not a JSON object"}
	}
	for _, key := range requiredKeys {
		if _, ok := present[key]; !ok {
			return nil, &ValidationError{Field: key, Reason: "is missing"}
		}
	}

	var rec rawRecord
	if err := json.Unmarshal(record, &rec); err != nil {
		return nil, &ValidationError{Field: "record", Reason: "has a field of the wrong type"}
	}
	if rec.JobID == nil {
		return nil, &ValidationError{Field: "job_id", Reason: "must be an integer"}
	}
	if rec.WorkerID == nil {
		return nil, &ValidationError{Field: "worker_id", Reason: "must be an integer"}
	}
	if rec.Timestamp == nil {
		return nil, &ValidationError{Field: "timestamp", Reason: "must be a string"}
	}
	if rec.Method == nil {
		return nil, &ValidationError{Field: "method", Reason: "must be a string"}
	}
	if rec.Endpoint == nil {
		return nil, &ValidationError{Field: "endpoint", Reason: "must be a string"}
	}
	if rec.StatusCode == nil {
		return nil, &ValidationError{Field: "status_code", Reason: "must be an integer"}
	}

	occurredAt, err := parseTimestamp(*rec.Timestamp)
	if err != nil {
		return nil, &ValidationError{Field: "timestamp", Reason: "is not an ISO-8601 timestamp"}
	}

	success, err := parseBoolish(rec.IsSuccess)
	if err != nil {
		return nil, &ValidationError{Field: "is_success", Reason: "must be a boolean or number"}
	}

	return &domain.RawResult{
		JobID:             *rec.JobID,
		WorkerID:          *rec.WorkerID,
		OccurredAt:        occurredAt,
		Method:            *rec.Method,
		Endpoint:          *rec.Endpoint,
		StatusCode:        *rec.StatusCode,
		LatencyMS:         rec.LatencyMS,
		TTFBMS:            rec.TTFBMS,
		ResponseSizeBytes: rec.ResponseSizeBytes,
		ErrorMsg:          rec.ErrorMsg,
		ScenarioStep:      rec.ScenarioStep,
		Success:           success,
	}, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(naiveTimestampLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// parseBoolish coerces the boolean-like success flag: JSON booleans are taken
// as-is and numbers are truthy when non-zero.
func parseBoolish(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0, nil
	}
	return false, fmt.Errorf("not boolean-like: %s", string(raw))
}
