/*
Package orchestrator runs the supervisory loop: ask the gate, discover
candidates, validate them and forward what passed.

A cycle that fails (discovery, validation or forwarding) is logged and the loop
waits RetryBackoff instead of Interval before the next attempt. Nothing is
retried within a cycle.
*/
package orchestrator

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
	"time"

	"github.com/google/uuid"

	"github.com/x-stp/domaingate/internal/core"
	"github.com/x-stp/domaingate/internal/discovery"
	"github.com/x-stp/domaingate/internal/metrics"
	"github.com/x-stp/domaingate/internal/sink"
	"github.com/x-stp/domaingate/internal/trigger"
	"github.com/x-stp/domaingate/internal/validation"
)

// Cycle statuses, also used as the metrics label.
const (
	StatusSkipped   = "skipped"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Gate decides whether a cycle should run. *trigger.Monitor implements it.
type Gate interface {
	ShouldTriggerDorking(ctx context.Context) trigger.Decision
	IndexGaps() []string
	TrendingKeywords() []string
}

// Validator vets a batch of candidates. *validation.Pipeline implements it.
type Validator interface {
	ValidateBatch(ctx context.Context, domains []string) ([]validation.ValidationResult, error)
}

// Pruner drops expired classifications. *validation.Store implements it.
type Pruner interface {
	Prune() int
}

// Options wires an Orchestrator. Gate, Source, Validator and Forwarder are
// required.
type Options struct {
	Gate      Gate
	Source    discovery.Source
	Validator Validator
	Forwarder sink.Forwarder
	Pruner    Pruner

	Interval     time.Duration
	RetryBackoff time.Duration
	CycleTimeout time.Duration
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	Decision   trigger.Decision `json:"decision"`
	Candidates int              `json:"candidates"`
	Validated  int              `json:"validated"`
	Admitted   int              `json:"admitted"`
	Pruned     int              `json:"pruned"`
	Duration   time.Duration    `json:"duration"`
}

// Orchestrator drives discovery cycles.
type Orchestrator struct {
	opts Options
}

// New checks opts and fills zero durations with the defaults from core.
func New(opts Options) (*Orchestrator, error) {
	if opts.Gate == nil || opts.Source == nil || opts.Validator == nil || opts.Forwarder == nil {
		return nil, errors.New("orchestrator needs a gate, a source, a validator and a forwarder")
	}
	if opts.Interval <= 0 {
		opts.Interval = core.DefaultCycleInterval
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = core.DefaultRetryBackoff
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = core.DefaultCycleTimeout
	}
	return &Orchestrator{opts: opts}, nil
}

// RunCycle runs one gated cycle. A closed gate is not an error.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{ID: uuid.NewString()}

	ctx, cancel := context.WithTimeout(ctx, o.opts.CycleTimeout)
	defer cancel()

	err := o.cycle(ctx, &report)
	report.Duration = time.Since(start)
	switch {
	case err != nil:
		report.Status = StatusFailed
	case report.Status == "":
		report.Status = StatusCompleted
	}
	metrics.GetMetrics().RecordCycle(report.Status, report.Duration, report.Admitted)
	return report, err
}

func (o *Orchestrator) cycle(ctx context.Context, report *CycleReport) error {
	if o.opts.Pruner != nil {
		report.Pruned = o.opts.Pruner.Prune()
	}

	report.Decision = o.opts.Gate.ShouldTriggerDorking(ctx)
	if !report.Decision.ShouldTrigger {
		report.Status = StatusSkipped
		log.Printf("Cycle %s: no trigger signal, skipping discovery", report.ID)
		return nil
	}

	req := discovery.Request{
		CycleID:          report.ID,
		Triggers:         report.Decision.Triggers,
		IndexGaps:        o.opts.Gate.IndexGaps(),
		TrendingKeywords: o.opts.Gate.TrendingKeywords(),
	}
	candidates, err := o.opts.Source.Discover(ctx, req)
	if err != nil {
		return fmt.Errorf("cycle %s: discovery: %w", report.ID, err)
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		log.Printf("Cycle %s: discovery returned no candidates", report.ID)
		return nil
	}

	results, err := o.opts.Validator.ValidateBatch(ctx, candidates)
	if err != nil {
		return fmt.Errorf("cycle %s: validation: %w", report.ID, err)
	}
	report.Validated = len(results)

	admitted := make([]validation.ValidationResult, 0, len(results))
	for _, r := range results {
		if r.Valid {
			admitted = append(admitted, r)
		}
	}
	if len(admitted) > 0 {
		if err := o.opts.Forwarder.Forward(ctx, admitted); err != nil {
			return fmt.Errorf("cycle %s: forward: %w", report.ID, err)
		}
	}
	report.Admitted = len(admitted)
	log.Printf("Cycle %s: %d candidates, %d validated, %d admitted", report.ID, report.Candidates, report.Validated, report.Admitted)
	return nil
}

// Run loops RunCycle until ctx ends, then returns nil. onCycle, if set, sees
// every report.
func (o *Orchestrator) Run(ctx context.Context, onCycle func(CycleReport, error)) error {
	log.Printf("Orchestrator started (interval %s, retry backoff %s)", o.opts.Interval, o.opts.RetryBackoff)
	for {
		report, err := o.RunCycle(ctx)
		if ctx.Err() != nil {
			log.Printf("Orchestrator stopping")
			return nil
		}
		if onCycle != nil {
			onCycle(report, err)
		}

		wait := o.opts.Interval
		if err != nil {
			log.Printf("Cycle %s failed: %v; retrying in %s", report.ID, err, o.opts.RetryBackoff)
			wait = o.opts.RetryBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("Orchestrator stopping")
			return nil
		case <-timer.C:
		}
	}
}
