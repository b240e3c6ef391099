package models

import "time"

// IPBlockEntry is a time-boxed block of a client address.
type IPBlockEntry struct {
	IP              string    `json:"ip"`
	BlockedAt       time.Time `json:"blocked_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	Reason          string    `json:"reason"`
	BlockedBy       string    `json:"blocked_by,omitempty"`
}

// Active reports whether the block is still in force at t.
func (e *IPBlockEntry) Active(t time.Time) bool {
	return t.Before(e.ExpiresAt)
}
