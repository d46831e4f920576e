package store

import "time"

// Timestamp is an absolute point in time serialized as RFC3339 with
// nanoseconds. The empty timestamp is the zero time. Timestamps are kept as
// strings in records so that a corrupt value is detected when the record is
// converted rather than silently zeroed when it is decoded.
type Timestamp string

// FromTime creates a timestamp from a time.Time.
func FromTime(ts time.Time) Timestamp {
	if ts.IsZero() {
		return ""
	}
	return Timestamp(ts.UTC().Format(time.RFC3339Nano))
}

// Get the time.Time from the timestamp.
func (t Timestamp) Get() (time.Time, error) {
	if len(t) == 0 {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, string(t))
}

// IsZero returns true if the timestamp is empty.
func (t Timestamp) IsZero() bool {
	return len(t) == 0
}
