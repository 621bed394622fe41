package config

import (
	"fmt"
	"regexp"
	"strings"
)

var hostnameRE = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// CanonicalDomain lowercases domain, drops a trailing dot and rejects
// anything that is not a bare hostname (no scheme, path or address).
func CanonicalDomain(domain string) (string, error) {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	switch {
	case d == "":
		return "", fmt.Errorf("domain is empty")
	case strings.Contains(d, "://"):
		return "", fmt.Errorf("domain must not contain protocol: %q", domain)
	case strings.ContainsAny(d, "/@ "):
		return "", fmt.Errorf("domain must be a bare hostname: %q", domain)
	case !hostnameRE.MatchString(d):
		return "", fmt.Errorf("invalid domain: %q", domain)
	}
	return d, nil
}
