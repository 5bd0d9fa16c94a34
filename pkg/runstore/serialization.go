package runstore

import (
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Stage records are flat
// enough to map field-per-field, which keeps individual fields queryable.

// StageRecordToHash converts a StageRecord to a Redis hash format.
func StageRecordToHash(r *StageRecord) map[string]interface{} {
	return map[string]interface{}{
		"name":           r.Name,
		"status":         string(r.Status),
		"failure_kind":   r.FailureKind,
		"message":        r.Message,
		"started_at_ms":  r.StartedAtMs,
		"finished_at_ms": r.FinishedAtMs,
	}
}

// HashToStageRecord converts a Redis hash back to a StageRecord.
func HashToStageRecord(hash map[string]string) (*StageRecord, error) {
	startedAtMs, err := parseOptionalInt64(hash["started_at_ms"])
	if err != nil {
		return nil, fmt.Errorf("invalid started_at_ms field: %w", err)
	}
	finishedAtMs, err := parseOptionalInt64(hash["finished_at_ms"])
	if err != nil {
		return nil, fmt.Errorf("invalid finished_at_ms field: %w", err)
	}

	return &StageRecord{
		Name:         hash["name"],
		Status:       StageStatus(hash["status"]),
		FailureKind:  hash["failure_kind"],
		Message:      hash["message"],
		StartedAtMs:  startedAtMs,
		FinishedAtMs: finishedAtMs,
	}, nil
}

func parseOptionalInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
