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

import (
	"sort"
	"sync"
	"time"

	"github.com/x-stp/domaingate/internal/core"
	"github.com/zeebo/xxh3"
)

// State is the classification of a domain.
type State int

const (
	Unclassified State = iota
	Trusted
	Blacklisted
)

func (s State) String() string {
	switch s {
	case Trusted:
		return "trusted"
	case Blacklisted:
		return "blacklisted"
	default:
		return "unclassified"
	}
}

type entry struct {
	state State
	at    time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// Store is the trust/blacklist classification cache. Each domain has at most
// one entry, so a domain can never be trusted and blacklisted at once. The
// key space is split over core.StoreShards independently locked shards chosen
// by xxh3, which keeps unrelated domains off each other's locks.
type Store struct {
	shards       [core.StoreShards]*shard
	trustedTTL   time.Duration
	blacklistTTL time.Duration
	now          func() time.Time
}

// StoreOptions configures a Store. A TTL of zero means entries never expire.
type StoreOptions struct {
	TrustedTTL   time.Duration
	BlacklistTTL time.Duration
	Now          func() time.Time // For tests. Defaults to time.Now.
}

// Classification is one entry of a Snapshot.
type Classification struct {
	Domain       string    `json:"domain"`
	State        string    `json:"state"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// NewStore creates an empty store.
func NewStore(opts StoreOptions) *Store {
	s := &Store{
		trustedTTL:   opts.TrustedTTL,
		blacklistTTL: opts.BlacklistTTL,
		now:          opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return s
}

func (s *Store) shardFor(domain string) *shard {
	return s.shards[xxh3.HashString(domain)%core.StoreShards]
}

func (s *Store) expired(e entry, now time.Time) bool {
	var ttl time.Duration
	switch e.state {
	case Trusted:
		ttl = s.trustedTTL
	case Blacklisted:
		ttl = s.blacklistTTL
	}
	return ttl > 0 && now.Sub(e.at) >= ttl
}

// Lookup returns the current state of domain. Expired entries read as
// Unclassified; Prune removes them.
func (s *Store) Lookup(domain string) State {
	sh := s.shardFor(domain)
	sh.mu.RLock()
	e, ok := sh.entries[domain]
	sh.mu.RUnlock()
	if !ok || s.expired(e, s.now()) {
		return Unclassified
	}
	return e.state
}

// Trust marks domain as trusted, replacing any blacklist entry.
func (s *Store) Trust(domain string) {
	s.set(domain, Trusted)
}

// Blacklist marks domain as blacklisted, replacing any trust entry.
func (s *Store) Blacklist(domain string) {
	s.set(domain, Blacklisted)
}

func (s *Store) set(domain string, state State) {
	sh := s.shardFor(domain)
	sh.mu.Lock()
	sh.entries[domain] = entry{state: state, at: s.now()}
	sh.mu.Unlock()
}

// BlacklistIfUnclassified blacklists domain only if it has no live entry.
// It reports whether the entry was written. The fast tier uses it so a DNS
// failure cannot undo a trust decision committed concurrently.
func (s *Store) BlacklistIfUnclassified(domain string) bool {
	sh := s.shardFor(domain)
	now := s.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[domain]; ok && !s.expired(e, now) {
		return false
	}
	sh.entries[domain] = entry{state: Blacklisted, at: now}
	return true
}

// Demote removes a trust entry. Blacklist entries are left alone. It reports
// whether an entry was removed.
func (s *Store) Demote(domain string) bool {
	sh := s.shardFor(domain)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[domain]; ok && e.state == Trusted {
		delete(sh.entries, domain)
		return true
	}
	return false
}

// Counts returns the number of live trusted and blacklisted entries.
func (s *Store) Counts() (trusted, blacklisted int) {
	now := s.now()
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			if s.expired(e, now) {
				continue
			}
			switch e.state {
			case Trusted:
				trusted++
			case Blacklisted:
				blacklisted++
			}
		}
		sh.mu.RUnlock()
	}
	return trusted, blacklisted
}

// Snapshot returns all live entries sorted by domain.
func (s *Store) Snapshot() []Classification {
	now := s.now()
	var out []Classification
	for _, sh := range s.shards {
		sh.mu.RLock()
		for d, e := range sh.entries {
			if s.expired(e, now) {
				continue
			}
			out = append(out, Classification{Domain: d, State: e.state.String(), ClassifiedAt: e.at})
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Prune drops expired entries and returns how many were removed.
func (s *Store) Prune() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for d, e := range sh.entries {
			if s.expired(e, now) {
				delete(sh.entries, d)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
