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
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/x-stp/domaingate/internal/core"
	"github.com/x-stp/domaingate/internal/discovery"
	"github.com/x-stp/domaingate/internal/lookup"
	"github.com/x-stp/domaingate/internal/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	tierFast = "fast"
	tierDeep = "deep"
)

// Options wires a Pipeline to its adapters.
type Options struct {
	Resolver   lookup.Resolver
	Whois      lookup.WhoisClient
	Prober     lookup.TLSProber
	Reputation lookup.ReputationService

	// Store defaults to an empty store with no TTLs.
	Store *Store
	// Concurrency bounds deep validations within a batch.
	Concurrency int
	// DNSTimeout bounds the fast-tier lookup. Defaults to core.DNSTimeout.
	DNSTimeout time.Duration
	// Now is used for domain age and timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline runs fast and deep validations and records their outcomes in its
// Store. It is safe for concurrent use.
type Pipeline struct {
	resolver   lookup.Resolver
	whois      lookup.WhoisClient
	prober     lookup.TLSProber
	reputation lookup.ReputationService
	store      *Store
	dnsTimeout time.Duration
	now        func() time.Time

	scheduler *core.Scheduler
	flights   singleflight.Group
}

// NewPipeline checks opts and starts the batch worker pool. Call Close to
// stop it.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Resolver == nil || opts.Whois == nil || opts.Prober == nil || opts.Reputation == nil {
		return nil, errors.New("pipeline requires all four lookup adapters")
	}
	if opts.Store == nil {
		opts.Store = NewStore(StoreOptions{})
	}
	if opts.DNSTimeout <= 0 {
		opts.DNSTimeout = core.DNSTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	scheduler, err := core.NewScheduler(context.Background(), opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("start validation workers: %w", err)
	}
	return &Pipeline{
		resolver:   opts.Resolver,
		whois:      opts.Whois,
		prober:     opts.Prober,
		reputation: opts.Reputation,
		store:      opts.Store,
		dnsTimeout: opts.DNSTimeout,
		now:        opts.Now,
		scheduler:  scheduler,
	}, nil
}

// Store returns the classification store owned by the pipeline.
func (p *Pipeline) Store() *Store { return p.store }

// Concurrency returns the number of batch workers.
func (p *Pipeline) Concurrency() int { return p.scheduler.NumWorkers() }

// Close stops the worker pool. Batches still running see their submissions
// refused.
func (p *Pipeline) Close() {
	p.scheduler.Shutdown()
	stats := p.scheduler.GetStats()
	log.Printf("Validation workers stopped: %d evaluations, %d panics",
		stats.Completed.Load(), stats.Panics.Load())
}

// FastValidation is the cheap filter: a cache hit, or a single DNS lookup.
// A resolving domain passes provisionally and is not promoted. A failed
// lookup blacklists the domain unless the caller's context ended first or the
// resolver's own rate limiter refused to send the query.
func (p *Pipeline) FastValidation(ctx context.Context, domain string) bool {
	passed, _ := p.fast(ctx, domain)
	return passed
}

// fast is FastValidation that also reports whether the lookup was throttled
// locally. A throttled domain gets no verdict and the store is untouched.
func (p *Pipeline) fast(ctx context.Context, domain string) (passed, throttled bool) {
	start := time.Now()
	domain = discovery.NormalizeDomain(domain)
	if domain == "" {
		return false, false
	}

	switch p.store.Lookup(domain) {
	case Trusted:
		metrics.GetMetrics().RecordValidation(tierFast, "cached_trusted", "", time.Since(start))
		return true, false
	case Blacklisted:
		metrics.GetMetrics().RecordValidation(tierFast, "cached_blacklisted", "", time.Since(start))
		return false, false
	}

	dctx, cancel := context.WithTimeout(ctx, p.dnsTimeout)
	_, err := p.resolver.ResolveA(dctx, domain)
	cancel()
	if err == nil {
		metrics.GetMetrics().RecordValidation(tierFast, "pass", "", time.Since(start))
		return true, false
	}
	if ctx.Err() != nil {
		return false, false
	}
	if errors.Is(err, core.ErrRateLimited) {
		log.Printf("Fast tier deferred %s: %v", domain, err)
		metrics.GetMetrics().RecordValidation(tierFast, "throttled", "", time.Since(start))
		return false, true
	}

	if p.store.BlacklistIfUnclassified(domain) {
		log.Printf("Fast tier blacklisted %s (retryable=%t): %v", domain, core.IsRetryable(err), err)
	}
	metrics.GetMetrics().RecordValidation(tierFast, "fail", string(ReasonDNSResolutionFailure), time.Since(start))
	return false, false
}

// DeepValidation is the authoritative check: WHOIS age, then the TLS probe,
// then the reputation score, stopping at the first disqualifying answer.
//
// Lookup failures never surface as errors; they come back as a result with a
// FailureReason and a blacklisted domain. A lookup refused by an adapter's own
// rate limiter comes back as ReasonThrottled and leaves the store alone. The
// error is non-nil only when ctx ends first, in which case the result is empty
// and the store is untouched.
// Concurrent calls for the same domain share one evaluation.
func (p *Pipeline) DeepValidation(ctx context.Context, domain string) (ValidationResult, error) {
	name := discovery.NormalizeDomain(domain)
	if name == "" {
		return ValidationResult{Domain: domain, FailureReason: ReasonInvalidDomain, CheckedAt: p.now()}, nil
	}

	for {
		ch := p.flights.DoChan(name, func() (interface{}, error) {
			return p.deep(ctx, name)
		})
		select {
		case <-ctx.Done():
			return ValidationResult{}, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(ValidationResult), nil
			}
			if ctx.Err() != nil {
				return ValidationResult{}, ctx.Err()
			}
			// The flight belonged to a caller that gave up. Ours is still
			// live, so evaluate again.
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				continue
			}
			return ValidationResult{}, res.Err
		}
	}
}

func (p *Pipeline) deep(ctx context.Context, domain string) (ValidationResult, error) {
	start := time.Now()
	res := ValidationResult{Domain: domain}

	created, err := p.whois.CreationDate(ctx, domain)
	if ctx.Err() != nil {
		return ValidationResult{}, ctx.Err()
	}
	if err != nil {
		return p.fail(ctx, domain, ReasonWhoisUnavailable, err, start)
	}
	if !created.IsZero() {
		res.WhoisAgeDays = ageInDays(created, p.now())
	}
	if created.IsZero() || res.WhoisAgeDays < core.MinDomainAgeDays {
		return p.reject(ctx, res, start)
	}

	sslValid, err := p.prober.Probe(ctx, domain)
	if ctx.Err() != nil {
		return ValidationResult{}, ctx.Err()
	}
	if err != nil {
		return p.fail(ctx, domain, ReasonTLSProbeFailure, err, start)
	}
	res.SSLValid = sslValid
	if !sslValid {
		return p.reject(ctx, res, start)
	}

	score, err := p.reputation.Score(ctx, domain)
	if ctx.Err() != nil {
		return ValidationResult{}, ctx.Err()
	}
	if err == nil && (score < 0 || score > core.MaxReputationScore) {
		err = fmt.Errorf("%w: %d", lookup.ErrBadScore, score)
	}
	if err != nil {
		return p.fail(ctx, domain, ReasonReputationServiceError, err, start)
	}
	res.ReputationScore = score

	res.Valid = res.WhoisAgeDays > core.MinDomainAgeDays && res.SSLValid && res.ReputationScore >= core.MinReputationScore
	if !res.Valid {
		return p.reject(ctx, res, start)
	}

	if err := ctx.Err(); err != nil {
		return ValidationResult{}, err
	}
	res.CheckedAt = p.now()
	p.store.Trust(domain)
	metrics.GetMetrics().RecordValidation(tierDeep, "trusted", "", time.Since(start))
	log.Printf("Deep tier trusted %s (age %dd, score %d)", domain, res.WhoisAgeDays, res.ReputationScore)
	return res, nil
}

// reject finishes a boundary rejection. A domain that was trusted loses that
// status; blacklist entries are left alone.
func (p *Pipeline) reject(ctx context.Context, res ValidationResult, start time.Time) (ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return ValidationResult{}, err
	}
	res.Valid = false
	res.CheckedAt = p.now()
	if p.store.Demote(res.Domain) {
		log.Printf("Deep tier demoted %s (age %dd, ssl %t, score %d)", res.Domain, res.WhoisAgeDays, res.SSLValid, res.ReputationScore)
	}
	metrics.GetMetrics().RecordValidation(tierDeep, "rejected", "", time.Since(start))
	return res, nil
}

// fail finishes a lookup failure: the domain is blacklisted and the numeric
// fields are zeroed. Local throttling is not a failure of the domain and only
// defers it.
func (p *Pipeline) fail(ctx context.Context, domain string, reason FailureReason, cause error, start time.Time) (ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return ValidationResult{}, err
	}
	if errors.Is(cause, core.ErrRateLimited) {
		log.Printf("Deep tier deferred %s (%s): %v", domain, reason, cause)
		metrics.GetMetrics().RecordValidation(tierDeep, "throttled", string(reason), time.Since(start))
		return ValidationResult{Domain: domain, FailureReason: ReasonThrottled, CheckedAt: p.now()}, nil
	}
	p.store.Blacklist(domain)
	log.Printf("Deep tier blacklisted %s (%s, retryable=%t): %v", domain, reason, core.IsRetryable(cause), cause)
	metrics.GetMetrics().RecordValidation(tierDeep, "failed", string(reason), time.Since(start))
	return ValidationResult{Domain: domain, FailureReason: reason, CheckedAt: p.now()}, nil
}

func ageInDays(created, now time.Time) int {
	if created.After(now) {
		return 0
	}
	return int(now.Sub(created) / (24 * time.Hour))
}

// ValidateBatch runs every domain through the fast tier and, if it passes,
// the deep tier, on the pipeline's worker pool. Domains are normalised and
// de-duplicated first; results follow that order. Trusted domains are
// re-checked by the deep tier so their trust is refreshed.
//
// If ctx ends, evaluations still in flight are discarded and ctx.Err() is
// returned together with the results that did complete.
func (p *Pipeline) ValidateBatch(ctx context.Context, domains []string) ([]ValidationResult, error) {
	names := discovery.Dedupe(domains)
	slots := make([]*ValidationResult, len(names))

	var wg sync.WaitGroup
	var submitErr error
	for i, name := range names {
		i, name := i, name
		wg.Add(1)
		err := p.scheduler.SubmitWorkWithDrop(ctx, name, func(item *core.WorkItem) error {
			defer wg.Done()
			metrics.GetMetrics().UpdateQueueMetrics(p.scheduler.QueueDepth(), time.Since(item.CreatedAt))
			if res, ok := p.evaluate(item.Ctx, name); ok {
				slots[i] = &res
			}
			return nil
		}, wg.Done)
		if err != nil {
			wg.Done()
			submitErr = err
			break
		}
	}
	wg.Wait()

	results := make([]ValidationResult, 0, len(names))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	trusted, blacklisted := p.store.Counts()
	metrics.GetMetrics().UpdateClassificationCounts(trusted, blacklisted)

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if submitErr != nil {
		return results, fmt.Errorf("submit validation: %w", submitErr)
	}
	return results, nil
}

// evaluate runs both tiers for one domain. ok is false when ctx ended and the
// outcome must be discarded.
func (p *Pipeline) evaluate(ctx context.Context, domain string) (ValidationResult, bool) {
	if ctx.Err() != nil {
		return ValidationResult{}, false
	}
	if p.store.Lookup(domain) == Blacklisted {
		return ValidationResult{Domain: domain, FailureReason: ReasonBlacklisted, CheckedAt: p.now()}, true
	}
	passed, throttled := p.fast(ctx, domain)
	if !passed {
		if ctx.Err() != nil {
			return ValidationResult{}, false
		}
		reason := ReasonDNSResolutionFailure
		if throttled {
			reason = ReasonThrottled
		}
		return ValidationResult{Domain: domain, FailureReason: reason, CheckedAt: p.now()}, true
	}
	res, err := p.DeepValidation(ctx, domain)
	if err != nil {
		return ValidationResult{}, false
	}
	return res, true
}
