package analysis

import (
	"encoding/json"
	"fmt"
)

// EventAnalysisDone names the finished-signal event published once per
// session attempt.
const EventAnalysisDone = "analysis_done"

// StartSignal announces a new analysis session on the control queue.
type StartSignal struct {
	Description string `json:"description"`
	TotalDepth  int    `json:"totalDepth"`
}

// DoneEvent is the finished signal published when a session attempt ends,
// successfully or not.
type DoneEvent struct {
	Event           string `json:"event"`
	OK              bool   `json:"ok"`
	Description     string `json:"description"`
	SessionID       *int64 `json:"session_id,omitempty"`
	JobsCount       *int   `json:"jobs_count,omitempty"`
	TotalDepth      *int   `json:"totalDepth,omitempty"`
	ReportFilename  string `json:"report_filename,omitempty"`
	ReportSizeBytes int64  `json:"report_size_bytes,omitempty"`
	ReportB64       string `json:"report_b64,omitempty"`
	Error           string `json:"error,omitempty"`
}

// decodeStart parses a control-queue payload. A payload without a positive
// totalDepth is malformed and must be rejected without redelivery.
func decodeStart(payload []byte) (StartSignal, error) {
	var signal StartSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return StartSignal{}, fmt.Errorf("parse start signal: %w", err)
	}
	if signal.TotalDepth < 1 {
		return StartSignal{}, fmt.Errorf("start signal totalDepth must be positive, got %d", signal.TotalDepth)
	}
	return signal, nil
}
