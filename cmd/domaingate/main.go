/*
Package main is the entry point for the domaingate command-line application.

domaingate decides when a discovery cycle should run and vets the candidate
domains it produces before they reach the index. The subcommands are:
  - run: the supervisory loop (gate, discover, validate, forward) until interrupted.
  - validate: vet domains given on the command line or in a file.
  - trigger: print the current gate decision.
  - classify: vet domains and print the resulting trusted/blacklisted sets.

Configuration comes from a YAML file (--config) with built-in defaults; a few
flags override the values operators change most. Shutdown is driven by
SIGINT/SIGTERM cancelling the root context.
*/
package main

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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/x-stp/domaingate/internal/client"
	"github.com/x-stp/domaingate/internal/config"
	"github.com/x-stp/domaingate/internal/lookup"
	"github.com/x-stp/domaingate/internal/metrics"
	"github.com/x-stp/domaingate/internal/trigger"
	"github.com/x-stp/domaingate/internal/validation"
)

// Global flags (persistent across commands)
var (
	configPath    string
	enableMetrics bool
	metricsAddr   string
	turbo         bool
	concurrency   int
)

// Command flags
var (
	candidatesFile string
	outputFile     string
	runOnce        bool
	domainsFile    string
	fastOnly       bool
	jsonOutput     bool
	extraGaps      []string
	extraKeywords  []string
)

// cfg is loaded in PersistentPreRunE and read by every command.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "domaingate",
	Short:         "domaingate - discovery gating and domain vetting",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlagOverrides(loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		if cfg.Validation.Turbo {
			log.Println("Enabling turbo mode for HTTP client")
			client.ConfigureTurboMode()
		} else {
			client.InitHTTPClient(&client.Config{TLSHandshakeTimeout: cfg.Validation.TLSTimeout.Std()})
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run discovery cycles until interrupted",
	Long: `Runs the supervisory loop: every interval the gate is asked whether a cycle
should run; if so candidates are read, validated, and the admitted domains are
appended to the output file as JSON lines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(func(ctx context.Context) error {
			return runDaemon(ctx, runOnce)
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [domain...]",
	Short: "Validate domains and print the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(func(ctx context.Context) error {
			return validateDomains(ctx, args)
		})
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Print whether a discovery cycle would run now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(printTrigger)
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [domain...]",
	Short: "Validate domains and print the trusted and blacklisted sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(func(ctx context.Context) error {
			return classifyDomains(ctx, args)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&enableMetrics, "metrics", false, "Expose Prometheus metrics")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for the metrics endpoint (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&turbo, "turbo", false, "Enable high-throughput HTTP settings for large batches")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "Deep validations in flight (overrides config)")

	runCmd.Flags().StringVar(&candidatesFile, "candidates", "", "Candidate domains file, one per line (overrides config)")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "JSONL file for admitted domains; .gz compresses (overrides config)")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single cycle and exit")

	validateCmd.Flags().StringVarP(&domainsFile, "file", "f", "", "Read domains from a file, one per line")
	validateCmd.Flags().BoolVar(&fastOnly, "fast", false, "Run only the DNS tier")
	validateCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON lines")

	classifyCmd.Flags().StringVarP(&domainsFile, "file", "f", "", "Read domains from a file, one per line")
	classifyCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the classification as JSON")

	triggerCmd.Flags().StringSliceVar(&extraGaps, "gap", nil, "Index gap to add to the signals file (repeatable)")
	triggerCmd.Flags().StringSliceVar(&extraKeywords, "keyword", nil, "Trending keyword to add to the signals file (repeatable)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(classifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func applyFlagOverrides(c *config.Config) {
	if enableMetrics {
		c.Metrics.Enabled = true
	}
	if metricsAddr != "" {
		c.Metrics.Addr = metricsAddr
	}
	if turbo {
		c.Validation.Turbo = true
	}
	if concurrency > 0 {
		c.Validation.Concurrency = concurrency
	}
	if candidatesFile != "" {
		c.Orchestrator.CandidatesFile = candidatesFile
	}
	if outputFile != "" {
		c.Orchestrator.OutputFile = outputFile
	}
}

// withSignals runs fn with a context cancelled on SIGINT/SIGTERM and serves
// metrics for the duration of the command when enabled.
func withSignals(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	go func() {
		select {
		case <-signalChan:
			log.Println("Interrupt received, initiating graceful shutdown...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.EnableMetrics()
		if err := metrics.StartMetricsServer(cfg.Metrics.Addr); err != nil {
			log.Printf("Failed to start metrics server: %v", err)
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := metrics.ShutdownMetricsServer(shutdownCtx); err != nil {
				log.Printf("Metrics server shutdown: %v", err)
			}
		}()
	}

	err := fn(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newMonitor() *trigger.Monitor {
	return trigger.NewMonitor(trigger.NewGopsutilSampler(cfg.Trigger.CPUSampleInterval.Std()), cfg.Trigger.CPUThreshold)
}

// newPipeline wires the lookup adapters from cfg. The reputation service is
// only required when deep validation will run.
func newPipeline(deep bool) (*validation.Pipeline, error) {
	v := cfg.Validation
	var reputation lookup.ReputationService = unconfiguredReputation{}
	if deep || cfg.Reputation.Endpoint != "" {
		rc, err := lookup.NewReputationClient(lookup.ReputationOptions{
			Endpoint:    cfg.Reputation.Endpoint,
			APIKey:      cfg.Reputation.APIKey,
			Timeout:     cfg.Reputation.Timeout.Std(),
			Rate:        cfg.Reputation.Rate,
			Concurrency: cfg.Reputation.Concurrency,
		})
		if err != nil {
			return nil, fmt.Errorf("reputation service: %w", err)
		}
		reputation = rc
	}

	return validation.NewPipeline(validation.Options{
		Resolver:   lookup.NewDNSResolver(lookup.DNSOptions{Server: v.DNSServer, Timeout: v.DNSTimeout.Std()}),
		Whois:      lookup.NewWhoisResolver(v.WhoisTimeout.Std()),
		Prober:     lookup.NewHTTPSProber(client.GetHTTPClient(), v.TLSTimeout.Std()),
		Reputation: reputation,
		Store: validation.NewStore(validation.StoreOptions{
			TrustedTTL:   v.TrustedTTL.Std(),
			BlacklistTTL: v.BlacklistTTL.Std(),
		}),
		Concurrency: v.Concurrency,
		DNSTimeout:  v.DNSTimeout.Std(),
	})
}

// unconfiguredReputation stands in when only the DNS tier runs.
type unconfiguredReputation struct{}

func (unconfiguredReputation) Score(context.Context, string) (int, error) {
	return 0, errors.New("reputation endpoint not configured")
}
