/*
Package core constants shared across the gate, the pipeline and the adapters.
This file centralizes the defaults for trigger thresholds, validation bars,
lookup timeouts and the supervisory loop cadence. internal/config starts from
these values and lets the operator override them.
*/
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
	"time"
)

const (
	// --- Trigger gate ---

	// DefaultCPUThreshold is the utilisation percentage below which the CPU
	// signal counts as available headroom.
	DefaultCPUThreshold = 40.0

	// DefaultCPUSampleInterval is how long a single CPU sample is measured over.
	DefaultCPUSampleInterval = 1 * time.Second

	// SignalsDebounce coalesces bursts of filesystem events on the signals file.
	SignalsDebounce = 200 * time.Millisecond

	// --- Validation bars ---

	// MinDomainAgeDays is the WHOIS age a domain must exceed to be trusted.
	// Domains younger than this are rejected before any other lookup runs.
	MinDomainAgeDays = 90

	// MinReputationScore is the lowest reputation score that still passes.
	MinReputationScore = 50

	// MaxReputationScore bounds the reputation scale. Scores above are invalid.
	MaxReputationScore = 100

	// --- Lookup timeouts ---

	// DNSTimeout bounds the single A lookup issued by the fast tier.
	DNSTimeout = 3 * time.Second

	// WhoisTimeout bounds a WHOIS query including referral hops.
	WhoisTimeout = 10 * time.Second

	// TLSProbeTimeout bounds the HTTPS handshake and fetch of the deep tier.
	TLSProbeTimeout = 5 * time.Second

	// ReputationTimeout bounds a single reputation service call.
	ReputationTimeout = 5 * time.Second

	// MaxProbeBodyBytes caps how much of the probed page is read before the
	// connection is released.
	MaxProbeBodyBytes = 64 * 1024

	// --- Concurrency ---

	// DefaultValidationConcurrency is the number of deep validations that may
	// run at once within a batch.
	DefaultValidationConcurrency = 8

	// MaxWorkers is the absolute upper limit on scheduler workers regardless of
	// configuration.
	MaxWorkers = 256

	// WorkerQueueCapacity is the capacity of the shared scheduler queue.
	WorkerQueueCapacity = 1000

	// DefaultReputationRate is the initial requests-per-second budget for the
	// reputation service.
	DefaultReputationRate = 10.0

	// DefaultReputationConcurrency caps in-flight reputation calls.
	DefaultReputationConcurrency = 4

	// DefaultDNSRate is the initial requests-per-second budget for DNS lookups.
	DefaultDNSRate = 200.0

	// --- Classification cache ---

	// DefaultTrustedTTL is how long a trusted entry short-circuits the fast tier
	// before the domain is treated as unclassified again.
	DefaultTrustedTTL = 30 * 24 * time.Hour

	// DefaultBlacklistTTL of zero keeps blacklist entries for the process lifetime.
	DefaultBlacklistTTL time.Duration = 0

	// StoreShards is the number of independently locked shards in the store.
	StoreShards = 64

	// --- Supervisory loop ---

	// DefaultCycleInterval is the pause between discovery cycles.
	DefaultCycleInterval = 1 * time.Hour

	// DefaultRetryBackoff is the pause after a failed cycle.
	DefaultRetryBackoff = 5 * time.Minute

	// DefaultCycleTimeout bounds a whole cycle including all validations.
	DefaultCycleTimeout = 30 * time.Minute

	// --- Observability ---

	// DefaultMetricsAddr is where the Prometheus endpoint listens when enabled.
	DefaultMetricsAddr = ":9090"
)
