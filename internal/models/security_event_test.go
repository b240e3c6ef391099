package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		eventType string
		want      Severity
	}{
		{EventLoginSuccess, SeverityInfo},
		{EventAPIAccess, SeverityInfo},
		{EventIPUnblocked, SeverityInfo},
		{EventLoginFailedInvalid, SeverityWarning},
		{EventJWTMissing, SeverityWarning},
		{EventPermissionDenied, SeverityWarning},
		{EventRateLimitExceeded, SeverityWarning},
		{EventSlowRequest, SeverityWarning},
		{EventSuspiciousRequestBlocked, SeverityHigh},
		{EventBruteForceDetected, SeverityHigh},
		{EventSQLInjectionAttempt, SeverityHigh},
		{EventServerError, SeverityHigh},
		{EventJWTAuthError, SeverityHigh},
		{"api_error", SeverityHigh},
		{"SOMETHING_NEW", SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySeverity(tt.eventType))
		})
	}
}

func TestIPBlockEntryActive(t *testing.T) {
	base := mustTime("2026-05-04T10:00:00Z")
	e := IPBlockEntry{BlockedAt: base, ExpiresAt: base.Add(time.Hour)}

	assert.True(t, e.Active(base))
	assert.False(t, e.Active(e.ExpiresAt))
}

func TestResourceDefinitionHasColumn(t *testing.T) {
	def := Resources["calibrations"]

	assert.True(t, def.HasColumn("pixels_per_metric"))
	assert.False(t, def.HasColumn("factory_id"))
	assert.False(t, def.HasColumn("id; drop table"))
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
