// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package diverge

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridiff/veridiff/pkg/hash"
)

func testResult(target, version string, outcome Outcome) *Result {
	return &Result{
		TargetID:      target,
		TargetVersion: version,
		InputID:       "testcases/input-0",
		Duration:      50 * time.Millisecond,
		Time:          time.Now(),
		Outcome:       outcome,
	}
}

func completedOut(exitCode int, stdout string) Completed {
	out := Completed{ExitCode: exitCode}
	if stdout != "" {
		out.Stdout = []byte(stdout)
		out.OutputHash = hash.String(out.Stdout)
	}
	return out
}

func findKind(divs []*Divergence, kind Kind) *Divergence {
	for _, div := range divs {
		if div.Kind == kind {
			return div
		}
	}
	return nil
}

func TestCompareCrashDivergence(t *testing.T) {
	eng := NewEngine()
	resA := testResult("target-a", "v1.0", Crashed{
		Signal:    "SIGSEGV",
		ExitCode:  -1,
		Registers: map[string]string{"rip": "0x401000"},
	})
	resB := testResult("target-b", "v2.0", completedOut(0, "Success"))

	divs := eng.Compare(resA, resB)
	div := findKind(divs, KindCrash)
	require.NotNil(t, div)
	assert.Equal(t, SeverityCritical, div.Severity)
	assert.Equal(t, 1.0, div.Confidence)
	assert.Equal(t, "target-a", div.Details["crashed_target"])
	assert.Equal(t, "SIGSEGV", div.Details["signal_a"])
	assert.Equal(t, "testcases/input-0", div.InputID)
}

func TestCompareIdenticalResults(t *testing.T) {
	eng := NewEngine()
	resA := testResult("target-a", "v1.0", completedOut(0, "same output\nline two"))
	resB := testResult("target-b", "v2.0", completedOut(0, "same output\nline two"))

	assert.Empty(t, eng.Compare(resA, resB))
	assert.Empty(t, eng.History())
}

func TestCompareOutputDivergence(t *testing.T) {
	eng := NewEngine()
	resA := testResult("target-a", "v1.0", completedOut(0, "Output from version 1"))
	resB := testResult("target-b", "v2.0", completedOut(0, "Output from version 2"))

	divs := eng.Compare(resA, resB)
	div := findKind(divs, KindDifferentOutput)
	require.NotNil(t, div)
	assert.InDelta(t, 1.0, div.Confidence, 1e-9) // no shared lines
	assert.Equal(t, SeverityHigh, div.Severity)
	assert.NotEmpty(t, div.Details["diff"])
	// Equal exit codes: no return divergence.
	assert.Nil(t, findKind(divs, KindDifferentReturn))
}

func TestCompareTimeoutDivergence(t *testing.T) {
	eng := NewEngine()
	resA := testResult("target-a", "v1.0", TimedOut{})
	resA.Duration = 60 * time.Second
	resB := testResult("target-b", "v2.0", completedOut(0, "done"))

	divs := eng.Compare(resA, resB)
	div := findKind(divs, KindTimeout)
	require.NotNil(t, div)
	assert.Equal(t, SeverityHigh, div.Severity)
	assert.Equal(t, 1.0, div.Confidence)
	assert.Equal(t, "target-a", div.Details["timed_out_target"])
	// Output comparison is gated on both sides finishing.
	assert.Nil(t, findKind(divs, KindDifferentOutput))
}

func TestCompareReturnDivergence(t *testing.T) {
	eng := NewEngine()
	resA := testResult("target-a", "v1.0", completedOut(0, "identical"))
	resB := testResult("target-b", "v2.0", completedOut(1, "identical"))

	divs := eng.Compare(resA, resB)
	div := findKind(divs, KindDifferentReturn)
	require.NotNil(t, div)
	assert.Equal(t, SeverityMedium, div.Severity)
	assert.Equal(t, 0.9, div.Confidence)
	assert.Nil(t, findKind(divs, KindDifferentOutput))
}

func TestCompareNoOutputCaptured(t *testing.T) {
	// Neither side captured output: the output rule must not fire
	// even though one exit code carries a hashless empty capture.
	eng := NewEngine()
	resA := testResult("target-a", "v1.0", Completed{ExitCode: 0})
	resB := testResult("target-b", "v2.0", Completed{ExitCode: 0})
	assert.Empty(t, eng.Compare(resA, resB))
}

func TestCompareRegisterDivergence(t *testing.T) {
	crashedA := Crashed{Signal: "SIGSEGV", Registers: map[string]string{"rip": "0x401000", "rsp": "0x7fff0000"}}
	crashedB := Crashed{Signal: "SIGSEGV", Registers: map[string]string{"rip": "0x402000", "rsp": "0x7fff0000"}}

	eng := NewEngine()
	divs := eng.Compare(testResult("target-a", "v1.0", crashedA), testResult("target-b", "v2.0", crashedB))
	div := findKind(divs, KindRegisterDiff)
	require.NotNil(t, div)
	assert.Equal(t, SeverityHigh, div.Severity)
	assert.Equal(t, 0.8, div.Confidence)
	differing := div.Details["differing_registers"].(map[string]interface{})
	assert.Len(t, differing, 1)
	assert.Contains(t, differing, "rip")

	// Same register dump on both sides, no crash: medium severity branch.
	sampledA := Completed{ExitCode: 0, Registers: map[string]string{"rax": "0x1"}}
	sampledB := Completed{ExitCode: 0, Registers: map[string]string{"rax": "0x2"}}
	divs = NewEngine().Compare(testResult("target-a", "v1.0", sampledA), testResult("target-b", "v2.0", sampledB))
	div = findKind(divs, KindRegisterDiff)
	require.NotNil(t, div)
	assert.Equal(t, SeverityMedium, div.Severity)
}

func TestCompareMemoryDivergence(t *testing.T) {
	eng := NewEngine()
	outA := Completed{ExitCode: 0, MemoryBytes: 100 << 20}
	outB := Completed{ExitCode: 0, MemoryBytes: 300 << 20}
	divs := eng.Compare(testResult("target-a", "v1.0", outA), testResult("target-b", "v2.0", outB))
	div := findKind(divs, KindMemoryDiff)
	require.NotNil(t, div)
	assert.Equal(t, SeverityLow, div.Severity)
	assert.Equal(t, 0.7, div.Confidence)

	// Below the 50% threshold: no divergence.
	outB.MemoryBytes = 120 << 20
	assert.Nil(t, findKind(NewEngine().Compare(
		testResult("target-a", "v1.0", outA), testResult("target-b", "v2.0", outB)), KindMemoryDiff))

	// A zero reading means "not reported".
	outB.MemoryBytes = 0
	assert.Nil(t, findKind(NewEngine().Compare(
		testResult("target-a", "v1.0", outA), testResult("target-b", "v2.0", outB)), KindMemoryDiff))
}

func TestCompareExecutionFailures(t *testing.T) {
	failed := testResult("target-a", "v1.0", ExecFailed{Message: "target unreachable"})
	completed := testResult("target-b", "v2.0", completedOut(0, "ok"))

	divs := NewEngine().Compare(failed, completed)
	div := findKind(divs, KindException)
	require.NotNil(t, div)
	assert.Equal(t, SeverityMedium, div.Severity)
	assert.Equal(t, 0.85, div.Confidence)
	assert.Equal(t, []string{"target-a"}, toStrings(div.Details["failed_targets"]))

	// Both failed the same way: no divergence.
	failedB := testResult("target-b", "v2.0", ExecFailed{Message: "target unreachable"})
	assert.Empty(t, NewEngine().Compare(failed, failedB))

	// Both failed differently: divergence.
	failedB = testResult("target-b", "v2.0", ExecFailed{Message: "boot failure"})
	assert.NotNil(t, findKind(NewEngine().Compare(failed, failedB), KindException))
}

func toStrings(v interface{}) []string {
	var out []string
	for _, s := range v.([]string) {
		out = append(out, s)
	}
	return out
}

func TestOutputSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, outputSimilarity("a\nb", "a\nb"))
	assert.Equal(t, 0.0, outputSimilarity("", "a"))
	assert.Equal(t, 0.0, outputSimilarity("a", ""))
	// 1 shared line out of 3 distinct.
	assert.InDelta(t, 1.0/3.0, outputSimilarity("a\nb", "a\nc"), 1e-9)
}

func TestOutputSeverityMonotonic(t *testing.T) {
	// Strictly lower similarity never yields a strictly lower severity tier.
	sims := []float64{0.95, 0.81, 0.79, 0.6, 0.49, 0.3, 0.19, 0.05, 0.0}
	prevRank := outputSeverity(sims[0]).Rank()
	for _, sim := range sims[1:] {
		rank := outputSeverity(sim).Rank()
		assert.LessOrEqual(t, rank, prevRank, "similarity %v", sim)
		prevRank = rank
	}
	assert.Equal(t, SeverityInfo, outputSeverity(0.9))
	assert.Equal(t, SeverityLow, outputSeverity(0.6))
	assert.Equal(t, SeverityMedium, outputSeverity(0.3))
	assert.Equal(t, SeverityHigh, outputSeverity(0.1))
}

func TestCompareDeterministic(t *testing.T) {
	// Severity and confidence are pure functions of the two results.
	build := func() (*Result, *Result) {
		return testResult("target-a", "v1.0", completedOut(0, "a\nb\nc\nd")),
			testResult("target-b", "v2.0", completedOut(1, "a\nb\nx\ny"))
	}
	resA, resB := build()
	first := NewEngine().Compare(resA, resB)
	for i := 0; i < 3; i++ {
		resA, resB = build()
		again := NewEngine().Compare(resA, resB)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].Kind, again[j].Kind)
			assert.Equal(t, first[j].Severity, again[j].Severity)
			assert.Equal(t, first[j].Confidence, again[j].Confidence)
		}
	}
}

func TestEngineHistoryAndReport(t *testing.T) {
	eng := NewEngine()
	for i := 0; i < 3; i++ {
		resA := testResult("target-a", "v1.0", Crashed{Signal: "SIGSEGV"})
		resB := testResult("target-b", "v2.0", completedOut(0, "ok"))
		resA.InputID = fmt.Sprintf("testcases/input-%v", i)
		resB.InputID = resA.InputID
		require.NotEmpty(t, eng.Compare(resA, resB))
	}
	assert.Len(t, eng.History(), 3)
	assert.Equal(t, map[Severity]int{SeverityCritical: 3}, eng.CountBySeverity())
	assert.Equal(t, map[Kind]int{KindCrash: 3}, eng.CountByKind())

	report := eng.SummaryReport()
	assert.Contains(t, report, "Divergences Found: 3")
	assert.Contains(t, report, "CRITICAL    : 3")
	assert.Contains(t, report, "crash")
	assert.Contains(t, report, "CRITICAL DIVERGENCES")
	assert.True(t, strings.HasSuffix(report, reportRule))

	// Separate engines never share history.
	assert.Empty(t, NewEngine().History())
}
