// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package diverge

import (
	"time"
)

// OutcomeKind discriminates what happened when an input was run
// against one target.
type OutcomeKind string

const (
	// OutcomeCompleted: the target process terminated normally.
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomeCrashed: the in-guest agent detected a crash.
	OutcomeCrashed OutcomeKind = "crashed"
	// OutcomeTimedOut: the execution did not finish within the deadline.
	OutcomeTimedOut OutcomeKind = "timed_out"
	// OutcomeExecFailed: the execution collaborator itself failed
	// (target unreachable, boot failure) and produced no run at all.
	OutcomeExecFailed OutcomeKind = "exec_failed"
)

// Outcome is the variant part of a Result. Each variant carries only the
// fields that can legally exist for it, so e.g. a timed-out run can never
// carry a register dump.
type Outcome interface {
	Kind() OutcomeKind
}

// Completed describes a normal process termination.
// Registers may still be populated if the agent sampled them at exit.
type Completed struct {
	ExitCode    int
	Stdout      []byte // nil means output was not captured
	Stderr      []byte
	OutputHash  string // hex sha256 of Stdout, "" if not captured
	Registers   map[string]string
	MemoryBytes uint64 // 0 means not reported
}

func (Completed) Kind() OutcomeKind { return OutcomeCompleted }

// Crashed describes an abnormal termination detected by the agent.
type Crashed struct {
	Signal      string
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	OutputHash  string
	Registers   map[string]string
	MemoryBytes uint64
}

func (Crashed) Kind() OutcomeKind { return OutcomeCrashed }

// TimedOut describes an execution that hit the collaborator-enforced deadline.
type TimedOut struct{}

func (TimedOut) Kind() OutcomeKind { return OutcomeTimedOut }

// ExecFailed describes a failure of the execution machinery itself.
type ExecFailed struct {
	Message string
}

func (ExecFailed) Kind() OutcomeKind { return OutcomeExecFailed }

// Result is the normalized outcome of running one input against one target.
// It is immutable once produced; corrections require a new Result.
type Result struct {
	TargetID      string
	TargetVersion string
	InputID       string
	Duration      time.Duration
	Time          time.Time
	Outcome       Outcome
}

func (res *Result) Crashed() bool {
	return res.Outcome.Kind() == OutcomeCrashed
}

func (res *Result) TimedOut() bool {
	return res.Outcome.Kind() == OutcomeTimedOut
}

// ExitCode returns the process exit code and whether the process
// terminated at all.
func (res *Result) ExitCode() (int, bool) {
	switch out := res.Outcome.(type) {
	case Completed:
		return out.ExitCode, true
	case Crashed:
		return out.ExitCode, true
	}
	return 0, false
}

func (res *Result) Stdout() []byte {
	switch out := res.Outcome.(type) {
	case Completed:
		return out.Stdout
	case Crashed:
		return out.Stdout
	}
	return nil
}

func (res *Result) OutputHash() string {
	switch out := res.Outcome.(type) {
	case Completed:
		return out.OutputHash
	case Crashed:
		return out.OutputHash
	}
	return ""
}

func (res *Result) Registers() map[string]string {
	switch out := res.Outcome.(type) {
	case Completed:
		return out.Registers
	case Crashed:
		return out.Registers
	}
	return nil
}

func (res *Result) Signal() string {
	if out, ok := res.Outcome.(Crashed); ok {
		return out.Signal
	}
	return ""
}

// MemoryBytes returns the reported peak memory usage, 0 if not reported.
func (res *Result) MemoryBytes() uint64 {
	switch out := res.Outcome.(type) {
	case Completed:
		return out.MemoryBytes
	case Crashed:
		return out.MemoryBytes
	}
	return 0
}

// FailureMessage returns the collaborator error for exec_failed results.
func (res *Result) FailureMessage() (string, bool) {
	if out, ok := res.Outcome.(ExecFailed); ok {
		return out.Message, true
	}
	return "", false
}
