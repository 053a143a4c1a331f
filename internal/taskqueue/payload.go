package taskqueue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload marks task data that fails validation at enqueue or
// decode time.
var ErrInvalidPayload = errors.New("invalid task payload")

// StagePayload is the task data for download, parse, and store tasks.
type StagePayload struct {
	ItemID string `json:"item_id"`
}

// CleanupPayload is the task data for housekeeping tasks.
type CleanupPayload struct {
	OlderThanDays int `json:"older_than_days"`
}

func encodeStagePayload(p StagePayload) (string, error) {
	if p.ItemID == "" {
		return "", fmt.Errorf("%w: item_id is required", ErrInvalidPayload)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return string(raw), nil
}

func encodeCleanupPayload(p CleanupPayload) (string, error) {
	if p.OlderThanDays < 0 {
		return "", fmt.Errorf("%w: older_than_days must not be negative", ErrInvalidPayload)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return string(raw), nil
}

// StagePayload decodes the task data of a stage task.
func (t *Task) StagePayload() (StagePayload, error) {
	var p StagePayload
	if err := json.Unmarshal([]byte(t.Data), &p); err != nil {
		return StagePayload{}, fmt.Errorf("%w: task %d: %v", ErrInvalidPayload, t.ID, err)
	}
	if p.ItemID == "" {
		return StagePayload{}, fmt.Errorf("%w: task %d has no item_id", ErrInvalidPayload, t.ID)
	}
	return p, nil
}

// CleanupPayload decodes the task data of a cleanup task.
func (t *Task) CleanupPayload() (CleanupPayload, error) {
	var p CleanupPayload
	if err := json.Unmarshal([]byte(t.Data), &p); err != nil {
		return CleanupPayload{}, fmt.Errorf("%w: task %d: %v", ErrInvalidPayload, t.ID, err)
	}
	return p, nil
}
