package trigger

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
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/x-stp/domaingate/internal/core"
)

// ErrNoSample is returned when the CPU source produced no value.
var ErrNoSample = errors.New("no cpu sample")

// GopsutilSampler measures system-wide CPU utilisation over Interval.
type GopsutilSampler struct {
	Interval time.Duration
}

// NewGopsutilSampler returns a sampler. interval <= 0 uses
// core.DefaultCPUSampleInterval.
func NewGopsutilSampler(interval time.Duration) *GopsutilSampler {
	if interval <= 0 {
		interval = core.DefaultCPUSampleInterval
	}
	return &GopsutilSampler{Interval: interval}
}

// SampleCPU blocks for the sample interval and returns the utilisation.
func (s *GopsutilSampler) SampleCPU(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, s.Interval, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, ErrNoSample
	}
	return percents[0], nil
}
