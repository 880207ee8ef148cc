/*
Package discovery holds the contract with the discovery mechanism that
produces candidate domains: how candidates are normalised, and a file-backed
source used by the CLI and for offline runs.
*/
package discovery

/*
domaingate — discovery gating and domain vetting in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"net"
	"strings"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// NormalizeDomain turns a raw candidate into the canonical form used as the
// classification key: lower case, no scheme, path, port, wildcard label or
// surrounding dots. It returns "" when the result is not a plausible
// hostname with at least two labels. IP literals, empty or over-long labels,
// dash-edged labels and embedded whitespace are all rejected.
func NormalizeDomain(raw string) string {
	domain := strings.TrimSpace(raw)
	if domain == "" {
		return ""
	}
	domain = strings.ToLower(domain)

	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	if i := strings.IndexAny(domain, "/?#"); i >= 0 {
		domain = domain[:i]
	}
	if i := strings.LastIndex(domain, "@"); i >= 0 {
		domain = domain[i+1:]
	}
	if host, _, err := net.SplitHostPort(domain); err == nil {
		domain = host
	}

	domain = strings.Trim(domain, ".")
	for strings.HasPrefix(domain, "*.") {
		domain = strings.Trim(domain[2:], ".")
	}
	if domain == "" || len(domain) > maxDomainLength {
		return ""
	}
	if net.ParseIP(domain) != nil || !strings.Contains(domain, ".") {
		return ""
	}

	for _, label := range strings.Split(domain, ".") {
		if !validLabel(label) {
			return ""
		}
	}
	return domain
}

func validLabel(label string) bool {
	if label == "" || len(label) > maxLabelLength {
		return false
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Dedupe normalises domains and drops invalid entries and repeats, keeping
// first-seen order.
func Dedupe(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, raw := range domains {
		d := NormalizeDomain(raw)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
