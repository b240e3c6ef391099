package security

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var suspiciousPatterns = []string{
	"select * from",
	"union select",
	"<script>",
	"javascript:",
	"../../../",
	"php://input",
}

var scannerAgents = []string{"sqlmap", "nikto", "nmap", "masscan", "nessus"}

var sqlInjectionPatterns = []string{"union select", "or 1=1", "drop table", "insert into"}

var traversalPatterns = []string{"../", "..\\", "%2e%2e%2f", "%2e%2e/", "..%2f", "%2e%2e%5c"}

// decoded returns s lowercased, plus its percent-decoded form when that
// differs.
func decoded(s string) []string {
	lower := strings.ToLower(s)
	out := []string{lower}
	if d, err := url.QueryUnescape(lower); err == nil && d != lower {
		out = append(out, d)
	}
	return out
}

// SuspiciousRequest matches known attack strings in the path and query and
// scanner user agents. It returns a reason for the log when it matches.
func SuspiciousRequest(path, rawQuery, userAgent string) (string, bool) {
	full := path
	if rawQuery != "" {
		full += "?" + rawQuery
	}
	for _, candidate := range decoded(full) {
		for _, p := range suspiciousPatterns {
			if strings.Contains(candidate, p) {
				return "Suspicious pattern in URL: " + p, true
			}
		}
	}

	ua := strings.ToLower(userAgent)
	for _, agent := range scannerAgents {
		if strings.Contains(ua, agent) {
			return "Suspicious user agent: " + agent, true
		}
	}
	return "", false
}

// ContentLengthViolation checks the declared body size against ceiling.
// An unparsable header is a violation.
func ContentLengthViolation(header string, ceiling int64) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	n, err := strconv.ParseInt(header, 10, 64)
	if err != nil || n < 0 {
		return "Invalid content length", true
	}
	if n > ceiling {
		return fmt.Sprintf("Request too large: %d bytes exceeds %d", n, ceiling), true
	}
	return "", false
}

// DirectoryTraversal matches parent-directory sequences in the raw or
// escaped path.
func DirectoryTraversal(path, escapedPath string) bool {
	for _, candidate := range []string{strings.ToLower(path), strings.ToLower(escapedPath)} {
		for _, p := range traversalPatterns {
			if strings.Contains(candidate, p) {
				return true
			}
		}
	}
	return false
}

// SQLInjection matches common injection keywords in the query string.
func SQLInjection(rawQuery string) (string, bool) {
	for _, candidate := range decoded(strings.ReplaceAll(rawQuery, "+", " ")) {
		for _, p := range sqlInjectionPatterns {
			if strings.Contains(candidate, p) {
				return p, true
			}
		}
	}
	return "", false
}

// Whitelist matches client addresses against exact IPs and CIDR ranges.
type Whitelist struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

func NewWhitelist(entries []string) *Whitelist {
	w := &Whitelist{ips: make(map[string]struct{})}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if _, n, err := net.ParseCIDR(e); err == nil {
			w.nets = append(w.nets, n)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			w.ips[ip.String()] = struct{}{}
		}
	}
	return w
}

// Empty reports whether the whitelist has no entries and so allows all.
func (w *Whitelist) Empty() bool {
	return w == nil || (len(w.ips) == 0 && len(w.nets) == 0)
}

func (w *Whitelist) Allows(addr string) bool {
	if w.Empty() {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if _, ok := w.ips[ip.String()]; ok {
		return true
	}
	for _, n := range w.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
