/*
Package trigger decides when a discovery cycle is worth running.

A Monitor combines three signals: CPU headroom, known index gaps and trending
keywords. Any one of them opens the gate. Gap and keyword sets are pushed in
by producers (see SignalWatcher) and each push replaces the previous snapshot.
*/
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
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/x-stp/domaingate/internal/core"
	"github.com/x-stp/domaingate/internal/metrics"
)

// CPUSampler returns CPU utilisation as a percentage in [0,100].
type CPUSampler interface {
	SampleCPU(ctx context.Context) (float64, error)
}

// Triggers is the value of each signal at decision time.
type Triggers struct {
	CPUAvailable     bool `json:"cpuAvailable"`
	IndexGaps        bool `json:"indexGaps"`
	TrendingKeywords bool `json:"trendingKeywords"`
}

// Decision is the outcome of ShouldTriggerDorking.
type Decision struct {
	ShouldTrigger bool     `json:"shouldTrigger"`
	Triggers      Triggers `json:"triggers"`
}

// Monitor holds the trigger state. It is safe for concurrent use.
type Monitor struct {
	mu           sync.RWMutex
	cpuThreshold float64
	indexGaps    map[string]struct{}
	keywords     map[string]struct{}
	sampler      CPUSampler
}

// NewMonitor creates a monitor. threshold <= 0 uses core.DefaultCPUThreshold.
// A nil sampler makes the CPU signal permanently unavailable.
func NewMonitor(sampler CPUSampler, threshold float64) *Monitor {
	if threshold <= 0 {
		threshold = core.DefaultCPUThreshold
	}
	return &Monitor{
		cpuThreshold: threshold,
		indexGaps:    map[string]struct{}{},
		keywords:     map[string]struct{}{},
		sampler:      sampler,
	}
}

// CPUThreshold returns the utilisation below which CPU counts as available.
func (m *Monitor) CPUThreshold() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cpuThreshold
}

// CheckCPUUsage samples utilisation and reports whether it is strictly below
// the threshold. It fails closed: no sampler, a sampling error or a NaN
// sample all read as no headroom.
func (m *Monitor) CheckCPUUsage(ctx context.Context) bool {
	if m.sampler == nil {
		return false
	}
	usage, err := m.sampler.SampleCPU(ctx)
	if err != nil {
		log.Printf("CPU sampling unavailable: %v", err)
		return false
	}
	if math.IsNaN(usage) || usage < 0 {
		return false
	}
	metrics.GetMetrics().UpdateCPU(usage)
	return usage < m.CPUThreshold()
}

// CheckIndexGaps reports whether any index gap is known.
func (m *Monitor) CheckIndexGaps() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indexGaps) > 0
}

// CheckTrendingKeywords reports whether any trending keyword is known.
func (m *Monitor) CheckTrendingKeywords() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keywords) > 0
}

// ShouldTriggerDorking evaluates all three signals and opens the gate if any
// of them is positive.
func (m *Monitor) ShouldTriggerDorking(ctx context.Context) Decision {
	t := Triggers{
		CPUAvailable:     m.CheckCPUUsage(ctx),
		IndexGaps:        m.CheckIndexGaps(),
		TrendingKeywords: m.CheckTrendingKeywords(),
	}
	d := Decision{
		ShouldTrigger: t.CPUAvailable || t.IndexGaps || t.TrendingKeywords,
		Triggers:      t,
	}
	metrics.GetMetrics().RecordTrigger(d.ShouldTrigger, t.CPUAvailable, t.IndexGaps, t.TrendingKeywords)
	return d
}

// UpdateIndexGaps replaces the known gaps. Blank entries are dropped.
func (m *Monitor) UpdateIndexGaps(gaps []string) {
	set := toSet(gaps)
	m.mu.Lock()
	m.indexGaps = set
	m.mu.Unlock()
}

// UpdateTrendingKeywords replaces the trending keywords. Blank entries are
// dropped.
func (m *Monitor) UpdateTrendingKeywords(keywords []string) {
	set := toSet(keywords)
	m.mu.Lock()
	m.keywords = set
	m.mu.Unlock()
}

// IndexGaps returns the current gaps, sorted.
func (m *Monitor) IndexGaps() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.indexGaps)
}

// TrendingKeywords returns the current keywords, sorted.
func (m *Monitor) TrendingKeywords() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.keywords)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
