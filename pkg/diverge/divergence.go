// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package diverge detects and classifies behavioral divergences between
// executions of the same input on different targets.
package diverge

import (
	"time"
)

// Kind classifies what disagrees between two targets.
type Kind string

const (
	KindCrash           Kind = "crash"            // one crashes, other doesn't
	KindDifferentOutput Kind = "different_output" // different captured outputs
	KindDifferentReturn Kind = "different_return" // different exit codes
	KindTimeout         Kind = "timeout"          // one times out, other doesn't
	KindMemoryDiff      Kind = "memory_diff"      // different memory usage
	KindRegisterDiff    Kind = "register_diff"    // different register states
	KindException       Kind = "exception"        // different execution failures
)

// Kinds lists all divergence kinds in a stable order.
var Kinds = []Kind{
	KindCrash,
	KindDifferentOutput,
	KindDifferentReturn,
	KindTimeout,
	KindMemoryDiff,
	KindRegisterDiff,
	KindException,
}

// Severity of a divergence.
type Severity string

const (
	SeverityCritical Severity = "critical" // security-relevant (crash, corruption)
	SeverityHigh     Severity = "high"     // likely bug
	SeverityMedium   Severity = "medium"   // possible issue
	SeverityLow      Severity = "low"      // expected variation
	SeverityInfo     Severity = "info"     // informational
)

// Severities lists all severities from most to least severe.
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// Rank returns the position of the severity in Severities
// (0 = most severe). Unknown severities rank last.
func (sev Severity) Rank() int {
	for i, s := range Severities {
		if s == sev {
			return i
		}
	}
	return len(Severities)
}

// TargetRef identifies one side of a divergence.
type TargetRef struct {
	ID      string
	Version string
}

// Divergence is a detected disagreement between two targets for one input.
// Everything here is immutable after creation; the triage flag and notes
// live only in the store.
type Divergence struct {
	ID          string
	InputID     string
	Kind        Kind
	Severity    Severity
	TargetA     TargetRef
	TargetB     TargetRef
	Description string
	Confidence  float64 // 0.0-1.0
	Details     map[string]interface{}
	Time        time.Time
}
