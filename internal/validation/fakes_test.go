package validation

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/x-stp/domaingate/internal/core"
	"github.com/x-stp/domaingate/internal/lookup"
)

var errFake = errors.New("fake lookup failure")

// testNow is the fixed clock used by pipeline tests.
var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

type fakeResolver struct {
	calls     atomic.Int64
	fail      map[string]bool
	throttled map[string]bool
	block     chan struct{}
}

func (f *fakeResolver) ResolveA(ctx context.Context, name string) ([]net.IP, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &lookup.Error{Kind: lookup.KindDNS, Domain: name, Err: ctx.Err()}
		}
	}
	if f.throttled[name] {
		return nil, &lookup.Error{Kind: lookup.KindDNS, Domain: name, Err: core.ErrRateLimited, Retryable: true}
	}
	if f.fail[name] {
		return nil, &lookup.Error{Kind: lookup.KindDNS, Domain: name, Err: errFake}
	}
	return []net.IP{net.IPv4(192, 0, 2, 1)}, nil
}

type fakeWhois struct {
	calls   atomic.Int64
	mu      sync.Mutex
	ageDays map[string]int // missing entry: no creation date
	fail    map[string]bool
	started chan struct{}
	release chan struct{}
}

func (f *fakeWhois) CreationDate(ctx context.Context, name string) (time.Time, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return time.Time{}, &lookup.Error{Kind: lookup.KindWhois, Domain: name, Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[name] {
		return time.Time{}, &lookup.Error{Kind: lookup.KindWhois, Domain: name, Err: errFake}
	}
	days, ok := f.ageDays[name]
	if !ok {
		return time.Time{}, nil
	}
	return testNow.Add(-time.Duration(days) * 24 * time.Hour), nil
}

func (f *fakeWhois) setAge(name string, days int) {
	f.mu.Lock()
	f.ageDays[name] = days
	f.mu.Unlock()
}

type fakeProber struct {
	calls   atomic.Int64
	invalid map[string]bool
	fail    map[string]bool
}

func (f *fakeProber) Probe(ctx context.Context, name string) (bool, error) {
	f.calls.Add(1)
	if f.fail[name] {
		return false, &lookup.Error{Kind: lookup.KindTLS, Domain: name, Err: errFake}
	}
	return !f.invalid[name], nil
}

type fakeReputation struct {
	calls     atomic.Int64
	mu        sync.Mutex
	scores    map[string]int
	fail      map[string]bool
	throttled map[string]bool
}

func (f *fakeReputation) Score(ctx context.Context, name string) (int, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.throttled[name] {
		return 0, &lookup.Error{Kind: lookup.KindReputation, Domain: name, Err: core.ErrRateLimited, Retryable: true}
	}
	if f.fail[name] {
		return 0, &lookup.Error{Kind: lookup.KindReputation, Domain: name, Err: errFake}
	}
	return f.scores[name], nil
}

type fixture struct {
	resolver   *fakeResolver
	whois      *fakeWhois
	prober     *fakeProber
	reputation *fakeReputation
	store      *Store
	pipeline   *Pipeline
}

func (f *fixture) adapterCalls() int64 {
	return f.resolver.calls.Load() + f.whois.calls.Load() + f.prober.calls.Load() + f.reputation.calls.Load()
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	f := &fixture{
		resolver:   &fakeResolver{fail: map[string]bool{}, throttled: map[string]bool{}},
		whois:      &fakeWhois{ageDays: map[string]int{}, fail: map[string]bool{}},
		prober:     &fakeProber{invalid: map[string]bool{}, fail: map[string]bool{}},
		reputation: &fakeReputation{scores: map[string]int{}, fail: map[string]bool{}, throttled: map[string]bool{}},
		store:      NewStore(StoreOptions{Now: func() time.Time { return testNow }}),
	}
	p, err := NewPipeline(Options{
		Resolver:    f.resolver,
		Whois:       f.whois,
		Prober:      f.prober,
		Reputation:  f.reputation,
		Store:       f.store,
		Concurrency: 4,
		Now:         func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	t.Cleanup(p.Close)
	f.pipeline = p
	return f
}

// healthy configures name to pass every deep-tier bar.
func (f *fixture) healthy(name string, ageDays, score int) {
	f.whois.setAge(name, ageDays)
	f.reputation.mu.Lock()
	f.reputation.scores[name] = score
	f.reputation.mu.Unlock()
}
