package validation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastValidationCacheHitsSkipLookups(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.store.Trust("trusted.test")
	f.store.Blacklist("bad.test")

	assert.True(t, f.pipeline.FastValidation(context.Background(), "trusted.test"))
	assert.False(t, f.pipeline.FastValidation(context.Background(), "bad.test"))
	assert.Zero(t, f.adapterCalls())
}

func TestFastValidationResolvesWithoutPromoting(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	assert.True(t, f.pipeline.FastValidation(context.Background(), "Fresh.Test."))
	assert.Equal(t, int64(1), f.resolver.calls.Load())
	assert.Equal(t, Unclassified, f.store.Lookup("fresh.test"))
}

func TestFastValidationBlacklistsOnDNSFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resolver.fail["gone.test"] = true

	assert.False(t, f.pipeline.FastValidation(context.Background(), "gone.test"))
	assert.Equal(t, Blacklisted, f.store.Lookup("gone.test"))

	// Second call is served from the cache.
	assert.False(t, f.pipeline.FastValidation(context.Background(), "gone.test"))
	assert.Equal(t, int64(1), f.resolver.calls.Load())
}

func TestFastValidationCancelledLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resolver.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, f.pipeline.FastValidation(ctx, "slow.test"))
	assert.Equal(t, Unclassified, f.store.Lookup("slow.test"))
}

func TestFastValidationThrottledLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resolver.throttled["busy.test"] = true

	assert.False(t, f.pipeline.FastValidation(context.Background(), "busy.test"))
	assert.Equal(t, Unclassified, f.store.Lookup("busy.test"))

	// No verdict was cached, so the next call asks the resolver again.
	delete(f.resolver.throttled, "busy.test")
	assert.True(t, f.pipeline.FastValidation(context.Background(), "busy.test"))
	assert.Equal(t, int64(2), f.resolver.calls.Load())
}

func TestFastValidationRejectsInvalidNames(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	assert.False(t, f.pipeline.FastValidation(context.Background(), "not a domain"))
	assert.Zero(t, f.adapterCalls())
}

func TestDeepValidationYoungDomainShortCircuits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("young.test", 10, 99)

	res, err := f.pipeline.DeepValidation(context.Background(), "young.test")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.SSLValid)
	assert.Zero(t, res.ReputationScore)
	assert.Equal(t, 10, res.WhoisAgeDays)
	assert.Empty(t, res.FailureReason)
	assert.Zero(t, f.prober.calls.Load())
	assert.Zero(t, f.reputation.calls.Load())
	assert.Equal(t, Unclassified, f.store.Lookup("young.test"))
}

func TestDeepValidationMissingCreationDate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.pipeline.DeepValidation(context.Background(), "nodate.test")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Zero(t, res.WhoisAgeDays)
	assert.Empty(t, res.FailureReason)
	assert.Zero(t, f.prober.calls.Load())
}

func TestDeepValidationVerdictBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		ageDays   int
		score     int
		wantValid bool
	}{
		{name: "score 50 passes", ageDays: 120, score: 50, wantValid: true},
		{name: "score 49 fails", ageDays: 120, score: 49},
		{name: "age 91 passes", ageDays: 91, score: 80, wantValid: true},
		{name: "age 90 fails after full check", ageDays: 90, score: 80},
		{name: "score 100 passes", ageDays: 4000, score: 100, wantValid: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.healthy("d.test", tc.ageDays, tc.score)

			res, err := f.pipeline.DeepValidation(context.Background(), "d.test")
			require.NoError(t, err)
			assert.Equal(t, tc.wantValid, res.Valid)
			assert.True(t, res.SSLValid)
			assert.Equal(t, tc.ageDays, res.WhoisAgeDays)
			assert.Equal(t, tc.score, res.ReputationScore)
			assert.Equal(t, int64(1), f.prober.calls.Load())
			assert.Equal(t, int64(1), f.reputation.calls.Load())

			want := Unclassified
			if tc.wantValid {
				want = Trusted
			}
			assert.Equal(t, want, f.store.Lookup("d.test"))
		})
	}
}

func TestDeepValidationPromotesBlacklistedDomain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("redeemed.test", 365, 90)
	f.store.Blacklist("redeemed.test")

	res, err := f.pipeline.DeepValidation(context.Background(), "redeemed.test")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, Trusted, f.store.Lookup("redeemed.test"))
}

func TestDeepValidationInvalidCertificateSkipsReputation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("selfsigned.test", 400, 90)
	f.prober.invalid["selfsigned.test"] = true

	res, err := f.pipeline.DeepValidation(context.Background(), "selfsigned.test")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.SSLValid)
	assert.Equal(t, 400, res.WhoisAgeDays)
	assert.Empty(t, res.FailureReason)
	assert.Zero(t, f.reputation.calls.Load())
	assert.Equal(t, Unclassified, f.store.Lookup("selfsigned.test"))
}

func TestDeepValidationLookupFailuresBlacklist(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		setup  func(f *fixture)
		reason FailureReason
	}{
		{
			name:   "whois",
			setup:  func(f *fixture) { f.whois.fail["d.test"] = true },
			reason: ReasonWhoisUnavailable,
		},
		{
			name:   "tls",
			setup:  func(f *fixture) { f.prober.fail["d.test"] = true },
			reason: ReasonTLSProbeFailure,
		},
		{
			name:   "reputation",
			setup:  func(f *fixture) { f.reputation.fail["d.test"] = true },
			reason: ReasonReputationServiceError,
		},
		{
			name:   "score out of range",
			setup:  func(f *fixture) { f.reputation.scores["d.test"] = 101 },
			reason: ReasonReputationServiceError,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.healthy("d.test", 365, 80)
			f.store.Trust("d.test")
			tc.setup(f)

			res, err := f.pipeline.DeepValidation(context.Background(), "d.test")
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, tc.reason, res.FailureReason)
			assert.True(t, res.Failed())
			assert.Zero(t, res.WhoisAgeDays)
			assert.Zero(t, res.ReputationScore)
			assert.False(t, res.SSLValid)
			assert.Equal(t, Blacklisted, f.store.Lookup("d.test"))
		})
	}
}

func TestDeepValidationThrottledReputationDefers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("d.test", 365, 80)
	f.store.Trust("d.test")
	f.reputation.throttled["d.test"] = true

	res, err := f.pipeline.DeepValidation(context.Background(), "d.test")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonThrottled, res.FailureReason)
	assert.False(t, res.Failed())
	assert.Equal(t, Trusted, f.store.Lookup("d.test"))
}

func TestDeepValidationRejectionDemotesTrusted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("drifted.test", 365, 20)
	f.store.Trust("drifted.test")

	res, err := f.pipeline.DeepValidation(context.Background(), "drifted.test")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, Unclassified, f.store.Lookup("drifted.test"))
}

func TestDeepValidationCancelledLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.whois.fail["d.test"] = true
	f.whois.started = make(chan struct{}, 1)
	f.whois.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.DeepValidation(ctx, "d.test")
		done <- err
	}()
	<-f.whois.started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("DeepValidation did not return after cancel")
	}
	// Let the flight observe the cancellation before inspecting the store.
	close(f.whois.release)
	require.Eventually(t, func() bool {
		_, blacklisted := f.store.Counts()
		return blacklisted == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, Unclassified, f.store.Lookup("d.test"))
}

func TestDeepValidationSharesConcurrentCalls(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("x.test", 365, 75)
	f.whois.started = make(chan struct{}, 1)
	f.whois.release = make(chan struct{})

	results := make([]ValidationResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.pipeline.DeepValidation(context.Background(), "x.test")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	<-f.whois.started
	time.Sleep(50 * time.Millisecond)
	close(f.whois.release)
	wg.Wait()

	assert.Equal(t, results[0], results[1])
	assert.Equal(t, int64(1), f.whois.calls.Load())
	assert.Equal(t, Trusted, f.store.Lookup("x.test"))
}

func TestDeepValidationCancelledLeaderDoesNotFailFollower(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("x.test", 365, 75)
	f.whois.started = make(chan struct{}, 1)
	f.whois.release = make(chan struct{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := f.pipeline.DeepValidation(leaderCtx, "x.test")
		leaderDone <- err
	}()
	<-f.whois.started

	followerDone := make(chan ValidationResult, 1)
	go func() {
		res, err := f.pipeline.DeepValidation(context.Background(), "x.test")
		assert.NoError(t, err)
		followerDone <- res
	}()
	time.Sleep(20 * time.Millisecond)
	cancelLeader()
	assert.ErrorIs(t, <-leaderDone, context.Canceled)

	// The retried flight blocks on release too.
	close(f.whois.release)
	select {
	case res := <-followerDone:
		assert.True(t, res.Valid)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not finish")
	}
	assert.Equal(t, Trusted, f.store.Lookup("x.test"))
}

func TestConcurrentValidationsKeepSetsDisjoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	const domains = 20
	for i := 0; i < domains; i++ {
		name := fmt.Sprintf("d%d.test", i)
		switch i % 4 {
		case 0:
			f.healthy(name, 365, 80)
		case 1:
			f.healthy(name, 365, 80)
			f.resolver.fail[name] = true
		case 2:
			f.whois.fail[name] = true
		case 3:
			f.healthy(name, 365, 10)
		}
	}

	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for i := 0; i < domains; i++ {
			name := fmt.Sprintf("d%d.test", i)
			wg.Add(2)
			go func() {
				defer wg.Done()
				f.pipeline.FastValidation(context.Background(), name)
			}()
			go func() {
				defer wg.Done()
				_, _ = f.pipeline.DeepValidation(context.Background(), name)
			}()
		}
	}
	wg.Wait()

	seen := map[string]string{}
	for _, c := range f.store.Snapshot() {
		_, dup := seen[c.Domain]
		require.False(t, dup, "domain %s appears twice", c.Domain)
		seen[c.Domain] = c.State
	}
	trusted, blacklisted := f.store.Counts()
	assert.Equal(t, len(seen), trusted+blacklisted)
	assert.Equal(t, "trusted", seen["d0.test"])
	assert.Equal(t, "blacklisted", seen["d2.test"])
}

func TestValidateBatchOrdersAndClassifies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("good.test", 365, 80)
	f.healthy("low.test", 365, 10)
	f.resolver.fail["nxdomain.test"] = true
	f.store.Blacklist("known-bad.test")

	results, err := f.pipeline.ValidateBatch(context.Background(), []string{
		"good.test", "GOOD.test", "low.test", "nxdomain.test", "known-bad.test", "", "bad name",
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "good.test", results[0].Domain)
	assert.True(t, results[0].Valid)
	assert.Equal(t, "low.test", results[1].Domain)
	assert.False(t, results[1].Valid)
	assert.Empty(t, results[1].FailureReason)
	assert.Equal(t, ReasonDNSResolutionFailure, results[2].FailureReason)
	assert.Equal(t, ReasonBlacklisted, results[3].FailureReason)

	assert.Equal(t, Trusted, f.store.Lookup("good.test"))
	assert.Equal(t, Blacklisted, f.store.Lookup("nxdomain.test"))
}

func TestValidateBatchReportsThrottledWithoutVerdict(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("a.test", 365, 80)
	f.healthy("b.test", 365, 80)
	f.resolver.throttled["b.test"] = true

	results, err := f.pipeline.ValidateBatch(context.Background(), []string{"a.test", "b.test"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Valid)
	assert.Equal(t, ReasonThrottled, results[1].FailureReason)
	assert.Equal(t, Unclassified, f.store.Lookup("b.test"))
}

func TestValidateBatchRefreshesTrustedDomains(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.healthy("old.test", 365, 80)
	f.store.Trust("old.test")

	results, err := f.pipeline.ValidateBatch(context.Background(), []string{"old.test"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Valid)
	assert.Equal(t, int64(1), f.whois.calls.Load())
}

func TestValidateBatchCancelledDiscardsResults(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.whois.release = make(chan struct{})
	defer close(f.whois.release)
	for i := 0; i < 8; i++ {
		f.healthy(fmt.Sprintf("d%d.test", i), 365, 80)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	domains := make([]string, 8)
	for i := range domains {
		domains[i] = fmt.Sprintf("d%d.test", i)
	}

	results, err := f.pipeline.ValidateBatch(ctx, domains)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, results)
	trusted, blacklisted := f.store.Counts()
	assert.Zero(t, trusted)
	assert.Zero(t, blacklisted)
}
