package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// IPResolver extracts client addresses, honoring forwarding headers only
// when the direct peer is a trusted proxy.
type IPResolver struct {
	trusted []*net.IPNet
}

// NewIPResolver parses the trusted proxy CIDRs once.
func NewIPResolver(cfg *IPConfig) (*IPResolver, error) {
	r := &IPResolver{}
	if cfg == nil {
		return r, nil
	}
	for _, cidr := range cfg.TrustedProxies {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		r.trusted = append(r.trusted, ipNet)
	}
	return r, nil
}

// ClientIP returns the originating client address.
//
// Flow:
// 1. If the peer is a trusted proxy, the first valid X-Forwarded-For entry
// 2. If the peer is a trusted proxy, X-Real-IP
// 3. RemoteAddr without port, or "unknown"
func (r *IPResolver) ClientIP(req *http.Request) string {
	remoteIP := remoteAddr(req)

	if r.isTrusted(remoteIP) {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			for _, ip := range strings.Split(xff, ",") {
				ip = strings.TrimSpace(ip)
				if net.ParseIP(ip) != nil {
					return ip
				}
			}
		}
		if xri := strings.TrimSpace(req.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
			return xri
		}
	}

	return remoteIP
}

// ExtractClientIP is a convenience wrapper that ignores invalid CIDRs.
func ExtractClientIP(req *http.Request, config *IPConfig) string {
	r := &IPResolver{}
	if config != nil {
		for _, cidr := range config.TrustedProxies {
			if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
				r.trusted = append(r.trusted, ipNet)
			}
		}
	}
	return r.ClientIP(req)
}

func (r *IPResolver) isTrusted(ip string) bool {
	if len(r.trusted) == 0 {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range r.trusted {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func remoteAddr(req *http.Request) string {
	if req.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return ip
	}
	return req.RemoteAddr
}
