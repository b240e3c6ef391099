package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuspiciousRequest(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query string
		ua    string
		want  bool
	}{
		{"clean", "/api/calibrations", "limit=10", "Mozilla/5.0", false},
		{"union select in query", "/api/calibrations", "q=1%20UNION%20SELECT%20password", "Mozilla/5.0", true},
		{"script tag", "/search", "q=<script>alert(1)</script>", "Mozilla/5.0", true},
		{"encoded script tag", "/search", "q=%3Cscript%3E", "Mozilla/5.0", true},
		{"php wrapper", "/index", "file=php://input", "", true},
		{"deep traversal", "/static/../../../etc/passwd", "", "", true},
		{"sqlmap", "/api/calibrations", "", "sqlmap/1.7.2#stable", true},
		{"nikto uppercase", "/", "", "Mozilla/5.00 (Nikto/2.1.6)", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, got := SuspiciousRequest(tt.path, tt.query, tt.ua)
			assert.Equal(t, tt.want, got)
			if tt.want {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestContentLengthViolation(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{"1024", false},
		{"1048576", false},
		{"1048577", true},
		{"abc", true},
		{"-1", true},
	}
	for _, tt := range tests {
		_, got := ContentLengthViolation(tt.header, 1<<20)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestDirectoryTraversal(t *testing.T) {
	assert.True(t, DirectoryTraversal("/files/../secret", "/files/../secret"))
	assert.True(t, DirectoryTraversal(`/files/..\secret`, ""))
	assert.True(t, DirectoryTraversal("/files/x", "/files/%2e%2e%2fsecret"))
	assert.False(t, DirectoryTraversal("/files/a.b/c", "/files/a.b/c"))
}

func TestSQLInjection(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"id=1", false},
		{"id=1+OR+1=1", true},
		{"id=1%20or%201%3D1", true},
		{"name=x;DROP%20TABLE%20users", true},
		{"note=insert+into+foo", true},
		{"order=inserted", false},
	}
	for _, tt := range tests {
		_, got := SQLInjection(tt.query)
		assert.Equal(t, tt.want, got, tt.query)
	}
}

func TestWhitelist(t *testing.T) {
	w := NewWhitelist([]string{"192.0.2.10", "10.0.0.0/8", "garbage"})

	assert.False(t, w.Empty())
	assert.True(t, w.Allows("192.0.2.10"))
	assert.True(t, w.Allows("10.20.30.40"))
	assert.False(t, w.Allows("192.0.2.11"))
	assert.False(t, w.Allows("unknown"))

	assert.True(t, NewWhitelist(nil).Allows("203.0.113.1"))
}
