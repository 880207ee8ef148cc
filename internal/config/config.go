/*
Package config loads the domaingate YAML configuration.

Every field has a default taken from internal/core, so an empty file (or no
file at all) yields a runnable configuration. Durations accept Go syntax plus
"d" and "w" suffixes, e.g. "30d" or "2w".
*/
package config

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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/x-stp/domaingate/internal/core"
	"gopkg.in/yaml.v3"
)

// EnvReputationAPIKey overrides reputation.api_key when set.
const EnvReputationAPIKey = "DOMAINGATE_REPUTATION_API_KEY"

// Duration is a time.Duration that unmarshals from strings like "90s" or "7d".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ParseDuration extends time.ParseDuration with whole days ("7d") and weeks
// ("2w"). "0" is accepted and means zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if n, ok := strings.CutSuffix(s, suffix); ok {
			v, err := strconv.Atoi(n)
			if err != nil || v < 0 {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			return time.Duration(v) * unit, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// Config is the full configuration.
type Config struct {
	Trigger      TriggerConfig      `yaml:"trigger"`
	Validation   ValidationConfig   `yaml:"validation"`
	Reputation   ReputationConfig   `yaml:"reputation"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// TriggerConfig configures the discovery gate.
type TriggerConfig struct {
	CPUThreshold      float64  `yaml:"cpu_threshold"`
	CPUSampleInterval Duration `yaml:"cpu_sample_interval"`
	// SignalsFile is a YAML file with index_gaps and trending_keywords,
	// watched for changes. Empty disables the watcher.
	SignalsFile string `yaml:"signals_file"`
}

// ValidationConfig configures the pipeline and its DNS, WHOIS and TLS lookups.
type ValidationConfig struct {
	Concurrency  int      `yaml:"concurrency"`
	DNSServer    string   `yaml:"dns_server"`
	DNSTimeout   Duration `yaml:"dns_timeout"`
	WhoisTimeout Duration `yaml:"whois_timeout"`
	TLSTimeout   Duration `yaml:"tls_timeout"`
	TrustedTTL   Duration `yaml:"trusted_ttl"`
	BlacklistTTL Duration `yaml:"blacklist_ttl"`
	// Turbo switches the shared HTTP client to its high-throughput profile.
	Turbo bool `yaml:"turbo"`
}

// ReputationConfig configures the reputation service adapter.
type ReputationConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	APIKey      string   `yaml:"api_key"`
	Timeout     Duration `yaml:"timeout"`
	Rate        float64  `yaml:"rate"`
	Concurrency int      `yaml:"concurrency"`
}

// OrchestratorConfig configures the supervisory loop.
type OrchestratorConfig struct {
	Interval       Duration `yaml:"interval"`
	RetryBackoff   Duration `yaml:"retry_backoff"`
	CycleTimeout   Duration `yaml:"cycle_timeout"`
	CandidatesFile string   `yaml:"candidates_file"`
	OutputFile     string   `yaml:"output_file"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Trigger: TriggerConfig{
			CPUThreshold:      core.DefaultCPUThreshold,
			CPUSampleInterval: Duration(core.DefaultCPUSampleInterval),
		},
		Validation: ValidationConfig{
			Concurrency:  core.DefaultValidationConcurrency,
			DNSTimeout:   Duration(core.DNSTimeout),
			WhoisTimeout: Duration(core.WhoisTimeout),
			TLSTimeout:   Duration(core.TLSProbeTimeout),
			TrustedTTL:   Duration(core.DefaultTrustedTTL),
			BlacklistTTL: Duration(core.DefaultBlacklistTTL),
		},
		Reputation: ReputationConfig{
			Timeout:     Duration(core.ReputationTimeout),
			Rate:        core.DefaultReputationRate,
			Concurrency: core.DefaultReputationConcurrency,
		},
		Orchestrator: OrchestratorConfig{
			Interval:     Duration(core.DefaultCycleInterval),
			RetryBackoff: Duration(core.DefaultRetryBackoff),
			CycleTimeout: Duration(core.DefaultCycleTimeout),
			OutputFile:   "admitted.jsonl",
		},
		Metrics: MetricsConfig{
			Addr: core.DefaultMetricsAddr,
		},
	}
}

// Load reads path over the defaults. An empty path returns Default. The
// reputation API key may come from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	}
	if key := os.Getenv(EnvReputationAPIKey); key != "" {
		cfg.Reputation.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Trigger.CPUThreshold <= 0 || c.Trigger.CPUThreshold > 100 {
		errs = append(errs, fmt.Errorf("trigger.cpu_threshold must be in (0,100], got %v", c.Trigger.CPUThreshold))
	}
	if c.Trigger.CPUSampleInterval <= 0 {
		errs = append(errs, errors.New("trigger.cpu_sample_interval must be positive"))
	}
	if c.Validation.Concurrency <= 0 || c.Validation.Concurrency > core.MaxWorkers {
		errs = append(errs, fmt.Errorf("validation.concurrency must be in [1,%d], got %d", core.MaxWorkers, c.Validation.Concurrency))
	}
	for _, f := range []struct {
		name string
		d    Duration
	}{
		{"validation.dns_timeout", c.Validation.DNSTimeout},
		{"validation.whois_timeout", c.Validation.WhoisTimeout},
		{"validation.tls_timeout", c.Validation.TLSTimeout},
		{"reputation.timeout", c.Reputation.Timeout},
		{"orchestrator.interval", c.Orchestrator.Interval},
		{"orchestrator.cycle_timeout", c.Orchestrator.CycleTimeout},
		{"orchestrator.retry_backoff", c.Orchestrator.RetryBackoff},
	} {
		if f.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", f.name))
		}
	}
	if c.Validation.TrustedTTL < 0 || c.Validation.BlacklistTTL < 0 {
		errs = append(errs, errors.New("validation ttls must not be negative"))
	}
	if c.Reputation.Rate < 0 {
		errs = append(errs, errors.New("reputation.rate must not be negative"))
	}
	if c.Reputation.Concurrency < 0 {
		errs = append(errs, errors.New("reputation.concurrency must not be negative"))
	}
	return errors.Join(errs...)
}
