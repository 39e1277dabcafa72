package session

import (
	"encoding/json"
	"errors"
	"os"
)

// ActivityStatus is the latest activity snapshot for one session,
// recomputed by the Activity Monitor and persisted to activity.json.
type ActivityStatus struct {
	IsActive  bool     `json:"isActive"`
	Timestamp int64    `json:"timestamp"` // unix millis
	Session   Snapshot `json:"session"`
}

// ReadActivity parses activity.json for id. Returns a zero-value,
// inactive status if the file does not yet exist (the monitor has not
// ticked for this session yet).
func (s *Store) ReadActivity(id string) (ActivityStatus, error) {
	data, err := os.ReadFile(s.activityJSONPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return ActivityStatus{}, nil
	}
	if err != nil {
		return ActivityStatus{}, err
	}
	var status ActivityStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return ActivityStatus{}, err
	}
	return status, nil
}

// WriteActivity atomically persists status to activity.json. Callers
// (internal/activity) are responsible for only calling this when the
// status actually changed, per spec.md §4.7.
func (s *Store) WriteActivity(id string, status ActivityStatus) error {
	return writeJSONAtomic(s.activityJSONPath(id), status)
}
