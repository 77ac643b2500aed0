// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package harness drives one differential campaign end to end: it runs
// every corpus input against every configured target, feeds all result
// pairs to the divergence engine and persists everything through the store.
package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/veridiff/veridiff/pkg/corpus"
	"github.com/veridiff/veridiff/pkg/diverge"
	"github.com/veridiff/veridiff/pkg/log"
	"github.com/veridiff/veridiff/pkg/osutil"
	"github.com/veridiff/veridiff/pkg/stat"
	"github.com/veridiff/veridiff/pkg/store"
)

// Executor is the external execution collaborator (virtualization layer +
// in-guest agent). Execute reverts the target to its clean snapshot, runs
// the input and returns within the timeout or reports a timed-out result.
// It owns all crash/register/signal capture. A returned error means the
// machinery itself failed (target unreachable, boot failure) and no run
// took place.
type Executor interface {
	Execute(ctx context.Context, target *Target, input *corpus.Input,
		timeout time.Duration) (*diverge.Result, error)
}

// Outcome summarizes a finished (or stopped) campaign. InputsAttempted
// counts every input pulled from the corpus; InputsExecuted only those
// where every target produced a real result, so operators can see how
// many target failures occurred even though the campaign completed.
type Outcome struct {
	CampaignID      int64
	InputsAttempted int64
	InputsExecuted  int64
	ExecFailures    int64
	Divergences     int64
	Crashes         int64
	Stopped         bool
}

// Harness runs one campaign on one thread of control. Targets are
// executed sequentially per input to avoid cross-target resource
// contention on one host.
type Harness struct {
	cfg    *Config
	exec   Executor
	store  *store.Store
	engine *diverge.Engine

	statAttempted   *stat.Val
	statExecuted    *stat.Val
	statFailures    *stat.Val
	statDivergences *stat.Val
	statCrashes     *stat.Val
}

// New validates the config and prepares a harness. Validation failures
// here are configuration errors: the campaign never starts.
func New(cfg *Config, exec Executor, st *store.Store) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("no executor configured")
	}
	if st == nil {
		return nil, fmt.Errorf("no store configured")
	}
	return &Harness{
		cfg:    cfg,
		exec:   exec,
		store:  st,
		engine: diverge.NewEngine(),

		statAttempted:   stat.New("inputs_attempted", "Inputs pulled from the corpus"),
		statExecuted:    stat.New("inputs_executed", "Inputs executed on all targets"),
		statFailures:    stat.New("exec_failures", "Per-target execution failures"),
		statDivergences: stat.New("divergences_found", "Divergences detected"),
		statCrashes:     stat.New("crashes_found", "Inputs that crashed at least one target"),
	}, nil
}

// Engine exposes the campaign's divergence engine for reporting.
func (h *Harness) Engine() *diverge.Engine {
	return h.engine
}

// SummaryReport renders the engine's accumulated summary. Presentation
// only; the store remains the source of truth.
func (h *Harness) SummaryReport() string {
	return h.engine.SummaryReport()
}

// Run drives the campaign over the given corpus. The context is a
// cooperative stop signal checked between inputs: on cancellation the
// in-flight input is finished, the campaign is marked ended and all
// persisted state stays consistent.
//
// Target execution errors are absorbed into exec_failed results and never
// abort the run. Store and integrity errors are fatal and propagate with
// the offending input/target attached.
func (h *Harness) Run(ctx context.Context, iter corpus.Iterator) (*Outcome, error) {
	campaignID, err := h.store.AddCampaign(h.cfg.Name, h.cfg.Description, h.cfg.TargetIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	outcome := &Outcome{CampaignID: campaignID}
	log.Logf(0, "campaign %v (%v): %v targets, corpus %v",
		campaignID, h.cfg.Name, len(h.cfg.Targets), iter.ID())
	defer func() {
		if err := h.store.EndCampaign(campaignID); err != nil {
			log.Errorf("failed to end campaign %v: %v", campaignID, err)
		}
	}()

	for {
		if ctx.Err() != nil {
			outcome.Stopped = true
			log.Logf(0, "campaign %v stopped after %v inputs", campaignID, outcome.InputsAttempted)
			break
		}
		if h.cfg.MaxInputs > 0 && outcome.InputsAttempted >= int64(h.cfg.MaxInputs) {
			break
		}
		input, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return outcome, fmt.Errorf("corpus %v: %w", iter.ID(), err)
		}
		outcome.InputsAttempted++
		if err := h.runInput(ctx, campaignID, input, outcome); err != nil {
			return outcome, err
		}
		// The harness owns aggregation: stored counters are overwritten
		// with the running totals, so a restarted stats write never
		// double counts.
		err = h.store.UpdateCampaignStats(campaignID, store.Counters{
			InputsExecuted:   outcome.InputsExecuted,
			DivergencesFound: outcome.Divergences,
			CrashesFound:     outcome.Crashes,
		})
		if err != nil {
			return outcome, err
		}
		h.mirrorStats(outcome)
	}
	log.Logf(0, "campaign %v done: %v/%v inputs executed, %v divergences, %v crashes",
		campaignID, outcome.InputsExecuted, outcome.InputsAttempted,
		outcome.Divergences, outcome.Crashes)
	if log.V(2) {
		for _, val := range stat.Collect() {
			log.Logf(2, "stat %v = %v", val.Name, val.Val())
		}
	}
	return outcome, nil
}

func (h *Harness) runInput(ctx context.Context, campaignID int64,
	input *corpus.Input, outcome *Outcome) error {
	staged, cleanup, err := h.stageInput(input)
	if err != nil {
		return fmt.Errorf("failed to stage input %v: %w", input.ID, err)
	}
	defer cleanup()

	results := make([]*diverge.Result, 0, len(h.cfg.Targets))
	failures := 0
	for i := range h.cfg.Targets {
		target := &h.cfg.Targets[i]
		res, err := h.exec.Execute(ctx, target, staged, h.cfg.execTimeout())
		if err == nil && res == nil {
			err = fmt.Errorf("executor returned no result")
		}
		if err != nil {
			// A failing target must never halt progress on the others:
			// record the failure as data and move on.
			failures++
			outcome.ExecFailures++
			log.Errorf("target %v failed on input %v: %v", target.ID, input.ID, err)
			res = &diverge.Result{
				TargetID:      target.ID,
				TargetVersion: target.Version,
				InputID:       input.ID,
				Time:          time.Now(),
				Outcome:       diverge.ExecFailed{Message: err.Error()},
			}
		}
		if _, err := h.store.AddExecution(campaignID, res); err != nil {
			return fmt.Errorf("input %v, target %v: %w", input.ID, target.ID, err)
		}
		results = append(results, res)
	}

	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			divs := h.engine.Compare(results[i], results[j])
			for _, div := range divs {
				log.Logf(1, "input %v: %v divergence between %v and %v",
					input.ID, div.Kind, div.TargetA.ID, div.TargetB.ID)
				if err := h.store.AddDivergence(campaignID, div); err != nil {
					return fmt.Errorf("input %v (%v vs %v): %w",
						input.ID, div.TargetA.ID, div.TargetB.ID, err)
				}
			}
			outcome.Divergences += int64(len(divs))
		}
	}

	for _, res := range results {
		if res.Crashed() {
			outcome.Crashes++
			break
		}
	}
	if failures == 0 {
		outcome.InputsExecuted++
	}
	return nil
}

// stageInput places a per-input working copy under WorkDir. The returned
// cleanup runs on every exit path, including aborts.
func (h *Harness) stageInput(input *corpus.Input) (*corpus.Input, func(), error) {
	if h.cfg.WorkDir == "" {
		return input, func() {}, nil
	}
	dir, err := os.MkdirTemp(h.cfg.WorkDir, "input-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Errorf("failed to release staging dir %v: %v", dir, err)
		}
	}
	staged := *input
	staged.Path = filepath.Join(dir, "input")
	if err := osutil.CopyFile(input.Path, staged.Path); err != nil {
		cleanup()
		return nil, nil, err
	}
	return &staged, cleanup, nil
}

func (h *Harness) mirrorStats(outcome *Outcome) {
	h.statAttempted.Set(outcome.InputsAttempted)
	h.statExecuted.Set(outcome.InputsExecuted)
	h.statFailures.Set(outcome.ExecFailures)
	h.statDivergences.Set(outcome.Divergences)
	h.statCrashes.Set(outcome.Crashes)
}
