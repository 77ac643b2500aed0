// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package diverge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	dmp "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/veridiff/veridiff/pkg/log"
)

// Thresholds for the output-similarity severity tiers and the
// memory divergence rule.
const (
	outputSimilarityHigh   = 0.2
	outputSimilarityMedium = 0.5
	outputSimilarityLow    = 0.8
	memoryDiffThreshold    = 0.5

	// Upper bound on the size of the pretty diff embedded in
	// different_output details.
	maxDetailDiffLen = 2048
)

// Engine compares pairs of execution results and classifies divergences.
// One engine instance accumulates the history of one campaign; it is
// created and owned by the harness, never shared between campaigns.
// Severity and confidence are pure functions of the two results, so
// re-running Compare on the same pair always classifies identically.
type Engine struct {
	mu      sync.Mutex
	history []*Divergence
}

func NewEngine() *Engine {
	return &Engine{}
}

// Compare evaluates two results for the same input against the detection
// rules and returns one divergence per matching rule. Rules are independent:
// a single pair can produce e.g. both a crash and a register divergence.
// Callers guarantee both results describe the same input.
func (eng *Engine) Compare(resA, resB *Result) []*Divergence {
	var divs []*Divergence

	if div := eng.compareCrash(resA, resB); div != nil {
		divs = append(divs, div)
	}
	if div := eng.compareTimeout(resA, resB); div != nil {
		divs = append(divs, div)
	}
	// Output and exit code comparisons only make sense when both
	// runs actually finished.
	if !resA.Crashed() && !resB.Crashed() && !resA.TimedOut() && !resB.TimedOut() {
		if div := eng.compareOutput(resA, resB); div != nil {
			divs = append(divs, div)
		}
		if div := eng.compareReturn(resA, resB); div != nil {
			divs = append(divs, div)
		}
	}
	if div := eng.compareRegisters(resA, resB); div != nil {
		divs = append(divs, div)
	}
	if div := eng.compareMemory(resA, resB); div != nil {
		divs = append(divs, div)
	}
	if div := eng.compareFailures(resA, resB); div != nil {
		divs = append(divs, div)
	}

	if len(divs) != 0 {
		eng.mu.Lock()
		eng.history = append(eng.history, divs...)
		eng.mu.Unlock()
	}
	return divs
}

func (eng *Engine) compareCrash(resA, resB *Result) *Divergence {
	if resA.Crashed() == resB.Crashed() {
		return nil
	}
	crashedTarget := resA.TargetID
	if resB.Crashed() {
		crashedTarget = resB.TargetID
	}
	div := newDivergence(resA, resB, KindCrash, SeverityCritical, 1.0,
		fmt.Sprintf("Crash divergence: %v %v, %v %v",
			resA.TargetVersion, crashVerb(resA.Crashed()),
			resB.TargetVersion, crashVerb(resB.Crashed())),
		map[string]interface{}{
			"crashed_target": crashedTarget,
			"signal_a":       resA.Signal(),
			"signal_b":       resB.Signal(),
		})
	log.Logf(0, "CRITICAL: crash divergence detected in %v", resA.InputID)
	return div
}

func crashVerb(crashed bool) string {
	if crashed {
		return "crashed"
	}
	return "did not crash"
}

func (eng *Engine) compareTimeout(resA, resB *Result) *Divergence {
	if resA.TimedOut() == resB.TimedOut() {
		return nil
	}
	timedOutTarget := resA.TargetID
	if resB.TimedOut() {
		timedOutTarget = resB.TargetID
	}
	return newDivergence(resA, resB, KindTimeout, SeverityHigh, 1.0,
		fmt.Sprintf("Timeout divergence: %v %v, %v %v",
			resA.TargetVersion, timeoutVerb(resA.TimedOut()),
			resB.TargetVersion, timeoutVerb(resB.TimedOut())),
		map[string]interface{}{
			"timed_out_target": timedOutTarget,
			"exec_time_a_ms":   resA.Duration.Milliseconds(),
			"exec_time_b_ms":   resB.Duration.Milliseconds(),
		})
}

func timeoutVerb(timedOut bool) string {
	if timedOut {
		return "timed out"
	}
	return "completed"
}

func (eng *Engine) compareOutput(resA, resB *Result) *Divergence {
	hashA, hashB := resA.OutputHash(), resB.OutputHash()
	// If neither side captured output there is nothing to compare.
	if hashA == "" || hashB == "" || hashA == hashB {
		return nil
	}
	outA, outB := string(resA.Stdout()), string(resB.Stdout())
	similarity := outputSimilarity(outA, outB)
	return newDivergence(resA, resB, KindDifferentOutput,
		outputSeverity(similarity), 1.0-similarity,
		fmt.Sprintf("Output divergence: %v and %v produced different outputs (%.1f%% similar)",
			resA.TargetVersion, resB.TargetVersion, similarity*100),
		map[string]interface{}{
			"output_hash_a": hashA,
			"output_hash_b": hashB,
			"similarity":    similarity,
			"diff":          prettyDiff(outA, outB),
		})
}

func (eng *Engine) compareReturn(resA, resB *Result) *Divergence {
	codeA, okA := resA.ExitCode()
	codeB, okB := resB.ExitCode()
	if !okA || !okB || codeA == codeB {
		return nil
	}
	return newDivergence(resA, resB, KindDifferentReturn, SeverityMedium, 0.9,
		fmt.Sprintf("Return code divergence: %v returned %v, %v returned %v",
			resA.TargetVersion, codeA, resB.TargetVersion, codeB),
		map[string]interface{}{
			"exit_code_a": codeA,
			"exit_code_b": codeB,
		})
}

func (eng *Engine) compareRegisters(resA, resB *Result) *Divergence {
	regsA, regsB := resA.Registers(), resB.Registers()
	if regsA == nil || regsB == nil {
		return nil
	}
	// Only registers reported by both sides can meaningfully disagree.
	differing := make(map[string]interface{})
	for reg, valA := range regsA {
		if valB, ok := regsB[reg]; ok && valA != valB {
			differing[reg] = []string{valA, valB}
		}
	}
	if len(differing) == 0 {
		return nil
	}
	severity := SeverityMedium
	if resA.Crashed() || resB.Crashed() {
		severity = SeverityHigh
	}
	return newDivergence(resA, resB, KindRegisterDiff, severity, 0.8,
		fmt.Sprintf("Register state divergence: %v registers differ", len(differing)),
		map[string]interface{}{
			"differing_registers": differing,
		})
}

func (eng *Engine) compareMemory(resA, resB *Result) *Divergence {
	memA, memB := resA.MemoryBytes(), resB.MemoryBytes()
	if memA == 0 || memB == 0 {
		return nil
	}
	maxMem := memA
	if memB > maxMem {
		maxMem = memB
	}
	var diff uint64
	if memA > memB {
		diff = memA - memB
	} else {
		diff = memB - memA
	}
	diffPct := float64(diff) / float64(maxMem)
	if diffPct <= memoryDiffThreshold {
		return nil
	}
	return newDivergence(resA, resB, KindMemoryDiff, SeverityLow, 0.7,
		fmt.Sprintf("Memory usage divergence: %.1f%% difference", diffPct*100),
		map[string]interface{}{
			"memory_a":     memA,
			"memory_b":     memB,
			"diff_percent": diffPct,
		})
}

func (eng *Engine) compareFailures(resA, resB *Result) *Divergence {
	msgA, okA := resA.FailureMessage()
	msgB, okB := resB.FailureMessage()
	if okA == okB && (!okA || msgA == msgB) {
		return nil
	}
	var failed []string
	if okA {
		failed = append(failed, resA.TargetID)
	}
	if okB {
		failed = append(failed, resB.TargetID)
	}
	return newDivergence(resA, resB, KindException, SeverityMedium, 0.85,
		fmt.Sprintf("Execution failure divergence between %v and %v",
			resA.TargetVersion, resB.TargetVersion),
		map[string]interface{}{
			"failed_targets": failed,
			"error_a":        msgA,
			"error_b":        msgB,
		})
}

func newDivergence(resA, resB *Result, kind Kind, severity Severity,
	confidence float64, desc string, details map[string]interface{}) *Divergence {
	return &Divergence{
		ID:          uuid.NewString(),
		InputID:     resA.InputID,
		Kind:        kind,
		Severity:    severity,
		TargetA:     TargetRef{ID: resA.TargetID, Version: resA.TargetVersion},
		TargetB:     TargetRef{ID: resB.TargetID, Version: resB.TargetVersion},
		Description: desc,
		Confidence:  confidence,
		Details:     details,
		Time:        time.Now(),
	}
}

// outputSimilarity computes the fraction of shared distinct lines over
// all distinct lines of the two outputs (0.0 = completely different,
// 1.0 = identical).
func outputSimilarity(outA, outB string) float64 {
	if outA == outB {
		return 1.0
	}
	if outA == "" || outB == "" {
		return 0.0
	}
	linesA := make(map[string]bool)
	for _, line := range strings.Split(outA, "\n") {
		linesA[line] = true
	}
	union, intersection := len(linesA), 0
	seenB := make(map[string]bool)
	for _, line := range strings.Split(outB, "\n") {
		if seenB[line] {
			continue
		}
		seenB[line] = true
		if linesA[line] {
			intersection++
		} else {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

func outputSeverity(similarity float64) Severity {
	switch {
	case similarity < outputSimilarityHigh:
		return SeverityHigh
	case similarity < outputSimilarityMedium:
		return SeverityMedium
	case similarity < outputSimilarityLow:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// prettyDiff renders a compact textual diff of the two outputs for
// the details payload, so triage doesn't need to re-fetch raw outputs.
func prettyDiff(outA, outB string) string {
	differ := dmp.New()
	patches := differ.PatchMake(differ.DiffMain(outA, outB, true))
	text := differ.PatchToText(patches)
	if len(text) > maxDetailDiffLen {
		text = text[:maxDetailDiffLen] + "\n...(truncated)"
	}
	return text
}
