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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/x-stp/domaingate/internal/core"
	"github.com/x-stp/domaingate/internal/discovery"
	"github.com/x-stp/domaingate/internal/orchestrator"
	"github.com/x-stp/domaingate/internal/sink"
	"github.com/x-stp/domaingate/internal/trigger"
	"github.com/x-stp/domaingate/internal/validation"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// runDaemon is the handler for the 'run' command.
func runDaemon(ctx context.Context, once bool) error {
	if cfg.Orchestrator.CandidatesFile == "" {
		return errors.New("no candidates file: set orchestrator.candidates_file or --candidates")
	}

	monitor := newMonitor()
	if path := cfg.Trigger.SignalsFile; path != "" {
		watcher, err := trigger.NewSignalWatcher(path, monitor, core.SignalsDebounce)
		if err != nil {
			return err
		}
		// Load once up front so the first cycle sees the signals.
		if err := watcher.Reload(); err != nil {
			log.Printf("Signals file %s: %v", path, err)
		}
		if !once {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					log.Printf("Signals watcher stopped: %v", err)
				}
			}()
			defer func() {
				reloads, failures := watcher.Stats()
				log.Printf("Signals file %s: %d reloads, %d failed", path, reloads, failures)
			}()
		}
	}

	pipeline, err := newPipeline(true)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	jsonl, err := sink.NewJSONLForwarder(ctx, cfg.Orchestrator.OutputFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := jsonl.Close(); err != nil {
			log.Printf("Closing %s: %v", cfg.Orchestrator.OutputFile, err)
		}
	}()

	orch, err := orchestrator.New(orchestrator.Options{
		Gate:         monitor,
		Source:       discovery.NewFileSource(cfg.Orchestrator.CandidatesFile),
		Validator:    pipeline,
		Forwarder:    sink.Multi{jsonl, sink.LogForwarder{}},
		Pruner:       pipeline.Store(),
		Interval:     cfg.Orchestrator.Interval.Std(),
		RetryBackoff: cfg.Orchestrator.RetryBackoff.Std(),
		CycleTimeout: cfg.Orchestrator.CycleTimeout.Std(),
	})
	if err != nil {
		return err
	}

	log.Printf("Starting domaingate: candidates='%s', output='%s', concurrency=%d, cpu threshold=%.0f%%",
		cfg.Orchestrator.CandidatesFile, cfg.Orchestrator.OutputFile, pipeline.Concurrency(), monitor.CPUThreshold())

	if once {
		report, err := orch.RunCycle(ctx)
		printReport(os.Stdout, report, err)
		return err
	}
	return orch.Run(ctx, func(report orchestrator.CycleReport, err error) {
		printReport(os.Stdout, report, err)
	})
}

func printReport(w io.Writer, r orchestrator.CycleReport, err error) {
	status := green(r.Status)
	switch r.Status {
	case orchestrator.StatusSkipped:
		status = gray(r.Status)
	case orchestrator.StatusFailed:
		status = red(r.Status)
	}
	fmt.Fprintf(w, "%s cycle %s: %d candidates, %d validated, %d admitted, %d pruned (%s)\n",
		status, r.ID, r.Candidates, r.Validated, r.Admitted, r.Pruned, r.Duration.Round(time.Millisecond))
	if err != nil {
		fmt.Fprintf(w, "    \\- %s\n", red(err.Error()))
	}
}

// readDomains merges command line arguments with --file, in that order.
func readDomains(ctx context.Context, args []string) ([]string, error) {
	domains := append([]string(nil), args...)
	if domainsFile != "" {
		fromFile, err := discovery.NewFileSource(domainsFile).Discover(ctx, discovery.Request{})
		if err != nil {
			return nil, err
		}
		domains = append(domains, fromFile...)
	}
	if len(domains) == 0 {
		return nil, errors.New("no domains given: pass them as arguments or with --file")
	}
	return domains, nil
}

// validateDomains is the handler for the 'validate' command.
func validateDomains(ctx context.Context, args []string) error {
	domains, err := readDomains(ctx, args)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(!fastOnly)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if fastOnly {
		for _, d := range discovery.Dedupe(domains) {
			ok := pipeline.FastValidation(ctx, d)
			if err := ctx.Err(); err != nil {
				return err
			}
			if jsonOutput {
				line, err := json.Marshal(struct {
					Domain string `json:"domain"`
					Passed bool   `json:"passed"`
				}{d, ok})
				if err != nil {
					return fmt.Errorf("encode %s: %w", d, err)
				}
				fmt.Println(string(line))
				continue
			}
			if ok {
				fmt.Printf("%s %s\n", green("✓"), d)
			} else {
				fmt.Printf("%s %s %s\n", red("✗"), d, gray("(does not resolve)"))
			}
		}
		return nil
	}

	results, err := pipeline.ValidateBatch(ctx, domains)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	valid := 0
	for _, r := range results {
		if r.Valid {
			valid++
			fmt.Printf("%s %s\n", green("✓"), bold(r.Domain))
		} else {
			fmt.Printf("%s %s %s\n", red("✗"), bold(r.Domain), yellow(rejectionLabel(r)))
		}
		fmt.Printf("    \\- Age:        %d days\n", r.WhoisAgeDays)
		fmt.Printf("    \\- TLS:        %t\n", r.SSLValid)
		fmt.Printf("    \\- Reputation: %d\n", r.ReputationScore)
	}
	fmt.Printf("\n%d of %d domains passed\n", valid, len(results))
	return nil
}

// rejectionLabel names why r did not pass: its failure reason if it has one,
// otherwise a plain boundary rejection.
func rejectionLabel(r validation.ValidationResult) string {
	if r.FailureReason != validation.ReasonNone {
		return string(r.FailureReason)
	}
	return "rejected"
}

// printTrigger is the handler for the 'trigger' command.
func printTrigger(ctx context.Context) error {
	monitor := newMonitor()
	var signals trigger.Signals
	if path := cfg.Trigger.SignalsFile; path != "" {
		loaded, err := trigger.LoadSignals(path)
		if err != nil {
			return err
		}
		signals = loaded
	}
	monitor.UpdateIndexGaps(append(signals.IndexGaps, extraGaps...))
	monitor.UpdateTrendingKeywords(append(signals.TrendingKeywords, extraKeywords...))

	decision := monitor.ShouldTriggerDorking(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := json.MarshalIndent(struct {
		trigger.Decision
		CPUThreshold     float64  `json:"cpuThreshold"`
		IndexGaps        []string `json:"indexGaps"`
		TrendingKeywords []string `json:"trendingKeywords"`
	}{decision, monitor.CPUThreshold(), monitor.IndexGaps(), monitor.TrendingKeywords()}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// classifyDomains is the handler for the 'classify' command.
func classifyDomains(ctx context.Context, args []string) error {
	domains, err := readDomains(ctx, args)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(true)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if _, err := pipeline.ValidateBatch(ctx, domains); err != nil {
		return err
	}
	snapshot := pipeline.Store().Snapshot()
	if jsonOutput {
		out, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	trusted, blacklisted := pipeline.Store().Counts()
	for _, c := range snapshot {
		label := fmt.Sprintf("%-12s", c.State)
		state := red(label)
		if c.State == validation.Trusted.String() {
			state = green(label)
		}
		fmt.Printf("%s %s\n", state, c.Domain)
	}
	fmt.Printf("\n%d trusted, %d blacklisted, %d unclassified\n", trusted, blacklisted, len(discovery.Dedupe(domains))-trusted-blacklisted)
	return nil
}
