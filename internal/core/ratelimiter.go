package core

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
	"time"

	"golang.org/x/time/rate"
)

// Rate limiting constants defining the behavior of the adaptive rate limiter.
const (
	// MinRate is the minimum allowed rate in requests per second (RPS).
	MinRate = 1.0
	// MaxRate is the maximum allowed rate in requests per second (RPS).
	MaxRate = 1000.0
	// RateIncreaseStep is the additive increase applied after a successful call.
	RateIncreaseStep = 1.0
	// RateDecreaseFactor is the multiplicative decrease applied after a failed
	// call or a throttling response from the remote side.
	RateDecreaseFactor = 0.5
)

// RateLimiter paces outbound lookups and adapts its rate to the remote side.
// Successes grow the rate additively, failures halve it (AIMD), always within
// [minRate, maxRate]. The token bucket itself is a rate.Limiter, which is safe
// for concurrent use, so the adjustments need no extra locking.
type RateLimiter struct {
	limiter *rate.Limiter
	minRate float64
	maxRate float64
}

// NewRateLimiter creates a limiter starting at initialRate requests per second
// with the given burst. The rate is clamped to [MinRate, MaxRate].
func NewRateLimiter(initialRate float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		minRate: MinRate,
		maxRate: MaxRate,
	}
	rl.limiter = rate.NewLimiter(rate.Limit(rl.clamp(initialRate)), burst)
	return rl
}

// Wait blocks until a token is available or ctx is done. If ctx ends first
// its error is returned. If ctx has a deadline that the wait would overrun,
// Wait returns ErrRateLimited at once: the caller was refused by its own
// pacing, not by the remote side.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrRateLimited
	}
	return nil
}

// RecordSuccess grows the rate by RateIncreaseStep.
func (rl *RateLimiter) RecordSuccess() {
	rl.adjustRate(true)
}

// RecordFailure shrinks the rate by RateDecreaseFactor.
func (rl *RateLimiter) RecordFailure() {
	rl.adjustRate(false)
}

// GetCurrentRate returns the current effective rate in requests per second.
func (rl *RateLimiter) GetCurrentRate() float64 {
	return float64(rl.limiter.Limit())
}

func (rl *RateLimiter) adjustRate(success bool) {
	current := rl.GetCurrentRate()
	var next float64
	if success {
		next = current + RateIncreaseStep
	} else {
		next = current * RateDecreaseFactor
	}
	rl.limiter.SetLimitAt(time.Now(), rate.Limit(rl.clamp(next)))
}

func (rl *RateLimiter) clamp(r float64) float64 {
	if r < rl.minRate {
		return rl.minRate
	}
	if r > rl.maxRate {
		return rl.maxRate
	}
	return r
}
