package local

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Allowlist holds trusted sites whose content is never classified.
// Entries and hosts are compared by registrable domain, so "www.example.com"
// and "cdn.example.com" share the entry "example.com".
type Allowlist struct {
	sites map[string]struct{}
}

// NewAllowlist builds an allowlist from domain names or URLs.
func NewAllowlist(domains []string) *Allowlist {
	a := &Allowlist{sites: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		if k := siteKey(d); k != "" {
			a.sites[k] = struct{}{}
		}
	}
	return a
}

// Len returns the number of distinct sites.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.sites)
}

// Allows reports whether rawURL belongs to an allowlisted site.
func (a *Allowlist) Allows(rawURL string) bool {
	if a == nil || len(a.sites) == 0 {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return false
	}
	_, ok := a.sites[siteKey(u.Hostname())]
	return ok
}

// siteKey reduces a domain or URL to its registrable domain. Hosts without
// a public suffix (localhost, IPs) are kept as they are.
func siteKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			s = u.Hostname()
		}
	}
	s = strings.TrimPrefix(s, "*.")
	s = strings.Trim(s, ".")
	if s == "" {
		return ""
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(s); err == nil {
		return etld1
	}
	return s
}
