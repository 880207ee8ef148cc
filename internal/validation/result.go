/*
Package validation decides whether a candidate domain is trustworthy enough
to enter the index.

A Pipeline combines a cheap fast tier (classification cache plus one DNS
lookup) with an authoritative deep tier (WHOIS age, TLS validity, reputation
score). Outcomes are remembered in a Store that keeps every domain in exactly
one of unclassified, trusted or blacklisted.
*/
package validation

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

import "time"

// FailureReason names the lookup that made a validation fail. Boundary
// rejections (too young, bad certificate, low score) carry no reason.
type FailureReason string

const (
	ReasonNone                   FailureReason = ""
	ReasonDNSResolutionFailure   FailureReason = "dnsResolutionFailure"
	ReasonWhoisUnavailable       FailureReason = "whoisUnavailable"
	ReasonTLSProbeFailure        FailureReason = "tlsProbeFailure"
	ReasonReputationServiceError FailureReason = "reputationServiceError"
	// ReasonBlacklisted is reported by batches for domains the fast tier
	// rejected from the cache without any lookup.
	ReasonBlacklisted FailureReason = "blacklisted"
	// ReasonThrottled is reported when a lookup adapter's own rate limiter
	// refused to send the query. No verdict was reached and nothing is
	// recorded; the next cycle tries again.
	ReasonThrottled FailureReason = "throttled"
	// ReasonInvalidDomain is reported for names that are empty after
	// normalisation. Nothing is recorded for them.
	ReasonInvalidDomain FailureReason = "invalidDomain"
)

// ValidationResult is the outcome of one validation. It is a value owned by
// the caller; only the Store side effect outlives it.
type ValidationResult struct {
	Domain          string        `json:"domain"`
	Valid           bool          `json:"valid"`
	ReputationScore int           `json:"reputation_score"`
	SSLValid        bool          `json:"ssl_valid"`
	WhoisAgeDays    int           `json:"whois_age_days"`
	FailureReason   FailureReason `json:"failure_reason,omitempty"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// Failed reports whether the result came from a lookup failure rather than a
// verdict.
func (r ValidationResult) Failed() bool {
	switch r.FailureReason {
	case ReasonDNSResolutionFailure, ReasonWhoisUnavailable, ReasonTLSProbeFailure, ReasonReputationServiceError:
		return true
	}
	return false
}
