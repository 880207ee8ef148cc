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
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/x-stp/domaingate/internal/core"
	"github.com/x-stp/domaingate/internal/metrics"
	"golang.org/x/net/publicsuffix"
)

// creationLayouts are the date formats registries are known to use. Tried in
// order; the first that parses wins.
var creationLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006.01.02 15:04:05",
	"2006.01.02",
	"2006/01/02",
	"02-Jan-2006 15:04:05 MST",
	"02-Jan-2006",
	"02.01.2006 15:04:05",
	"02.01.2006",
	"January 2 2006",
	"Mon Jan 2 15:04:05 MST 2006",
	"Mon Jan _2 2006",
}

// WhoisResolver queries WHOIS with likexian/whois and extracts the creation
// date with whois-parser.
type WhoisResolver struct {
	timeout time.Duration
	query   func(domain string) (string, error)
}

// NewWhoisResolver creates a resolver. timeout <= 0 uses core.WhoisTimeout.
func NewWhoisResolver(timeout time.Duration) *WhoisResolver {
	if timeout <= 0 {
		timeout = core.WhoisTimeout
	}
	c := whois.NewClient()
	c.SetTimeout(timeout)
	return &WhoisResolver{
		timeout: timeout,
		query: func(domain string) (string, error) {
			return c.Whois(domain)
		},
	}
}

type whoisReply struct {
	text string
	err  error
}

// CreationDate returns the registration time of name. Registries only know
// registrable domains, so a subdomain is looked up by its eTLD+1. The WHOIS
// client has no context support, so the query runs in its own goroutine and is
// abandoned if ctx ends first; the client timeout bounds how long it lingers.
func (w *WhoisResolver) CreationDate(ctx context.Context, name string) (created time.Time, err error) {
	start := time.Now()
	defer func() {
		metrics.GetMetrics().RecordLookup(string(KindWhois), err, time.Since(start))
	}()

	if name == "" {
		return time.Time{}, newError(KindWhois, name, ErrEmptyName)
	}

	apex := RegistrableDomain(name)
	replies := make(chan whoisReply, 1)
	go func() {
		text, qerr := w.query(apex)
		replies <- whoisReply{text: text, err: qerr}
	}()

	var reply whoisReply
	select {
	case <-ctx.Done():
		return time.Time{}, newError(KindWhois, name, ctx.Err())
	case reply = <-replies:
	}
	if reply.err != nil {
		return time.Time{}, &Error{Kind: KindWhois, Domain: name, Err: reply.err, Retryable: true}
	}

	info, perr := whoisparser.Parse(reply.text)
	if perr != nil {
		return time.Time{}, newError(KindWhois, name, fmt.Errorf("parse whois: %w", perr))
	}
	if info.Domain == nil || strings.TrimSpace(info.Domain.CreatedDate) == "" {
		return time.Time{}, nil
	}
	created, perr = ParseCreationDate(info.Domain.CreatedDate)
	if perr != nil {
		// Published but unreadable counts as unavailable, not as a failure.
		return time.Time{}, nil
	}
	return created, nil
}

// RegistrableDomain returns the eTLD+1 of name, for example "example.co.uk"
// for "shop.example.co.uk". Names the public suffix list cannot reduce, such
// as a bare suffix or a single label, are returned unchanged.
func RegistrableDomain(name string) string {
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}

// ErrUnknownDateFormat is returned by ParseCreationDate when no layout matches.
var ErrUnknownDateFormat = errors.New("unknown creation date format")

// ParseCreationDate parses a registry creation date in any of the layouts
// registries commonly use. The result is in UTC.
func ParseCreationDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	// Some registries append a zone in parentheses, e.g. "(UTC)".
	if i := strings.Index(raw, " ("); i > 0 {
		raw = raw[:i]
	}
	for _, layout := range creationLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownDateFormat, raw)
}
