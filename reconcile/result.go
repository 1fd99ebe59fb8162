// Package reconcile translates diffs into ordered backend operations
// through typed per-resource executors, with retries, dry-run, bounded
// concurrency, and cooperative cancellation.
package reconcile

import (
	"time"

	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/diff"
	"github.com/CauchyIO/brickkit/drift"
)

// Operation names what an executor did for a resource.
type Operation string

const (
	OpCreate       Operation = "create"
	OpUpdate       Operation = "update"
	OpDelete       Operation = "delete"
	OpSkip         Operation = "skip"
	OpDryRun       Operation = "dry_run"
	OpError        Operation = "error"
	OpNotAttempted Operation = "not_attempted"
)

// ExecutionResult reports one per-resource outcome.
type ExecutionResult struct {
	Success        bool
	Operation      Operation
	ResourceType   catalog.ResourceType
	ResourceName   string
	Message        string
	ChangesApplied []diff.Change
	ChangesSkipped []diff.Change
	Errors         []string
	DurationMs     int64
}

// ReconcileResult is the executor-level outcome: each change the differ
// computed lands in ChangesApplied or ChangesSkipped, and Errors lists the
// failures. Removals of observed-only tags appear in neither list unless
// Options.RemoveUnmanagedTags is set.
type ReconcileResult struct {
	ResourceName   string
	ChangesApplied []diff.Change
	ChangesSkipped []diff.Change
	Errors         []string
	DurationMs     int64
}

// RunReport aggregates a full reconciliation run.
type RunReport struct {
	StartedAt time.Time
	Results   []ExecutionResult
	Drift     *drift.Report
	// NotAttempted lists resources skipped because the run was cancelled
	// or an earlier phase failed without ContinueOnError.
	NotAttempted []string
}

// Failed reports whether any resource errored.
func (r *RunReport) Failed() bool {
	for _, res := range r.Results {
		if res.Operation == OpError || len(res.Errors) > 0 {
			return true
		}
	}
	return false
}

// ExitStatus maps the run outcome to the caller's exit code: 0 clean,
// 1 drift detected in detect-only mode, 2 any resource failed.
func (r *RunReport) ExitStatus(detectOnly bool) int {
	if r.Failed() {
		return 2
	}
	if detectOnly && r.Drift != nil && r.Drift.HasDrift() {
		return 1
	}
	return 0
}

func newResult(rt catalog.ResourceType, name string, op Operation, started time.Time) ExecutionResult {
	return ExecutionResult{
		Success:      op != OpError,
		Operation:    op,
		ResourceType: rt,
		ResourceName: name,
		DurationMs:   time.Since(started).Milliseconds(),
	}
}
