package common

import (
	"net/url"
	"strings"
)

// ExtractHost parses the lowercase host (without port) from a URL
func ExtractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsHTTPURL reports whether rawURL parses as an absolute http or https URL
func IsHTTPURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SameHost reports whether two URLs share the same host (ignoring port and case)
func SameHost(a, b string) bool {
	ha := ExtractHost(a)
	hb := ExtractHost(b)
	return ha != "" && ha == hb
}

// HostMatchesDomain reports whether host equals domain or is a subdomain of it.
// Both arguments are compared case-insensitively.
func HostMatchesDomain(host, domain string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	domain = strings.ToLower(strings.TrimSpace(domain))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
