/*
Package lookup holds the adapters the validation pipeline consults about a
candidate domain: DNS, WHOIS, the TLS/HTTPS probe and the reputation service.

Each adapter exposes one call that returns a typed result or an *Error. The
pipeline only depends on the interfaces below, so tests swap in fakes.
*/
package lookup

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
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Resolver resolves A records for a name.
type Resolver interface {
	ResolveA(ctx context.Context, name string) ([]net.IP, error)
}

// WhoisClient returns the registration date of a domain. A zero time with a
// nil error means the registry answered but published no creation date.
type WhoisClient interface {
	CreationDate(ctx context.Context, name string) (time.Time, error)
}

// TLSProber reports whether name serves HTTPS with a certificate that
// verifies. (false, nil) means the handshake completed far enough to see a
// bad certificate; an error means the probe could not reach the host at all.
type TLSProber interface {
	Probe(ctx context.Context, name string) (bool, error)
}

// ReputationService returns a score in [0,100] for name.
type ReputationService interface {
	Score(ctx context.Context, name string) (int, error)
}

// Kind identifies which adapter produced an Error.
type Kind string

const (
	KindDNS        Kind = "dns"
	KindWhois      Kind = "whois"
	KindTLS        Kind = "tls"
	KindReputation Kind = "reputation"
)

var (
	// ErrNoAnswer is returned when a DNS response carries no A records.
	ErrNoAnswer = errors.New("no A records in answer")
	// ErrBadScore is returned for a reputation score outside [0,100].
	ErrBadScore = errors.New("reputation score out of range")
	// ErrEmptyName is returned when an adapter is asked about an empty name.
	ErrEmptyName = errors.New("empty domain name")
)

// Error is the failure type every adapter returns.
type Error struct {
	Kind      Kind
	Domain    string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s lookup for %s: %v", e.Kind, e.Domain, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether a later cycle might succeed.
func (e *Error) IsRetryable() bool { return e.Retryable }

// newError wraps err for kind. Timeouts and temporary network errors are
// marked retryable.
func newError(kind Kind, domain string, err error) *Error {
	return &Error{Kind: kind, Domain: domain, Err: err, Retryable: isTransient(err)}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return de.IsTemporary || de.IsTimeout
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// KindOf returns the adapter kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
