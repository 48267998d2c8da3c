// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// UTCNowPtr returns a pointer to the current time in UTC
func UTCNowPtr() *time.Time {
	now := UTCNow()
	return &now
}

// UTCNowAdd returns the current UTC time plus the given duration
func UTCNowAdd(d time.Duration) time.Time {
	return UTCNow().Add(d)
}

// IsExpired checks if the given time is in the past (expired)
func IsExpired(t time.Time) bool {
	return UTCNow().After(t)
}

// IsDue reports whether a scheduled time is unset or already reached
func IsDue(t *time.Time) bool {
	if t == nil {
		return true
	}
	return !UTCNow().Before(*t)
}

// TimeToUTCPtr converts a time pointer to UTC, keeping nil as nil
func TimeToUTCPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// SleepContext waits for d or until one of the done channels closes.
// It returns false when woken early.
func SleepContext(d time.Duration, done ...<-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	var first, second <-chan struct{}
	if len(done) > 0 {
		first = done[0]
	}
	if len(done) > 1 {
		second = done[1]
	}

	select {
	case <-timer.C:
		return true
	case <-first:
		return false
	case <-second:
		return false
	}
}
