package catalog

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeDomain reduces a URL or host to a lowercase hostname without
// scheme, port, trailing dot or leading "www.". Returns "" for blank input.
func NormalizeDomain(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			s = u.Host
		}
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(s, ".")
	return strings.TrimPrefix(s, "www.")
}

// DomainMatches reports whether host is rule or a subdomain of it.
func DomainMatches(host, rule string) bool {
	host, rule = NormalizeDomain(host), NormalizeDomain(rule)
	if host == "" || rule == "" {
		return false
	}
	return host == rule || strings.HasSuffix(host, "."+rule)
}

// IsPublicSuffix reports whether domain is an effective TLD such as "com" or
// "co.uk". Rules like that would match every site beneath them.
func IsPublicSuffix(domain string) bool {
	ps, _ := publicsuffix.PublicSuffix(domain)
	return ps == domain
}
