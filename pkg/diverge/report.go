// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package diverge

import (
	"fmt"
	"strings"
)

const reportRule = "================================================================================"

// Maximum number of critical divergences detailed in the summary report.
const reportCriticalLimit = 10

// History returns a copy of all divergences emitted by this engine so far.
// This is presentation state only; the store is the source of truth.
func (eng *Engine) History() []*Divergence {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	history := make([]*Divergence, len(eng.history))
	copy(history, eng.history)
	return history
}

// CountBySeverity returns the number of emitted divergences per severity.
func (eng *Engine) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, div := range eng.History() {
		counts[div.Severity]++
	}
	return counts
}

// CountByKind returns the number of emitted divergences per kind.
func (eng *Engine) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, div := range eng.History() {
		counts[div.Kind]++
	}
	return counts
}

// SummaryReport renders a human-readable summary of everything the engine
// has emitted: total count, a per-severity breakdown, a per-kind breakdown
// and the first few critical findings.
func (eng *Engine) SummaryReport() string {
	history := eng.History()
	bySeverity := make(map[Severity]int)
	byKind := make(map[Kind]int)
	var critical []*Divergence
	for _, div := range history {
		bySeverity[div.Severity]++
		byKind[div.Kind]++
		if div.Severity == SeverityCritical {
			critical = append(critical, div)
		}
	}

	buf := new(strings.Builder)
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(buf, format+"\n", args...)
	}
	line(reportRule)
	line("DIFFERENTIAL EXECUTION SUMMARY")
	line(reportRule)
	line("")
	line("Divergences Found: %v", len(history))
	line("")

	if len(bySeverity) != 0 {
		line("Divergences by Severity:")
		for _, sev := range Severities {
			if count := bySeverity[sev]; count != 0 {
				line("  %-12v: %v", strings.ToUpper(string(sev)), count)
			}
		}
		line("")
	}
	if len(byKind) != 0 {
		line("Divergences by Kind:")
		for _, kind := range Kinds {
			if count := byKind[kind]; count != 0 {
				line("  %-20v: %v", string(kind), count)
			}
		}
		line("")
	}

	if len(critical) != 0 {
		line(reportRule)
		line("CRITICAL DIVERGENCES")
		line(reportRule)
		line("")
		if len(critical) > reportCriticalLimit {
			critical = critical[:reportCriticalLimit]
		}
		for _, div := range critical {
			line("ID: %v", div.ID)
			line("Kind: %v", div.Kind)
			line("Description: %v", div.Description)
			line("Input: %v", div.InputID)
			line("")
		}
	}
	buf.WriteString(reportRule)
	return buf.String()
}
