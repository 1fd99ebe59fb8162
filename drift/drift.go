// Package drift classifies diffs by severity and aggregates them into a
// report enumerating drifted, missing, unmanaged, and compliant resources.
package drift

import (
	"strings"
	"time"

	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/convention"
	"github.com/CauchyIO/brickkit/diff"
)

// Severity ranks a drift entry.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Entry is one drifted resource with its classified changes.
type Entry struct {
	ResourceType catalog.ResourceType
	ResourceName string
	Severity     Severity
	Changes      []ClassifiedChange
}

// ClassifiedChange is a change with its severity.
type ClassifiedChange struct {
	diff.Change
	Severity Severity
}

// Report is the outcome of a detect run.
type Report struct {
	Timestamp   time.Time
	Environment catalog.Environment
	Drifted     []Entry
	Missing     []string
	Unmanaged   []string
	Compliant   []string
}

// HasDrift reports whether anything diverged.
func (r *Report) HasDrift() bool {
	return len(r.Drifted) > 0 || len(r.Missing) > 0
}

// CountBySeverity tallies drifted entries per severity.
func (r *Report) CountBySeverity() map[Severity]int {
	out := map[Severity]int{}
	for _, e := range r.Drifted {
		out[e.Severity]++
	}
	return out
}

// tier1Types are resource types whose owner drift is security impactful.
var tier1Types = map[catalog.ResourceType]bool{
	catalog.TypeMetastore:         true,
	catalog.TypeCatalog:           true,
	catalog.TypeStorageCredential: true,
	catalog.TypeExternalLocation:  true,
}

// Detector classifies diffs. The convention supplies the
// security-sensitive tag list and required tags.
type Detector struct {
	Env        catalog.Environment
	Convention *convention.Convention
}

// NewDetector creates a detector.
func NewDetector(env catalog.Environment, conv *convention.Convention) *Detector {
	return &Detector{Env: env, Convention: conv}
}

// NewReport starts an empty report stamped for this run.
func (d *Detector) NewReport() *Report {
	return &Report{
		Timestamp:   time.Now().UTC(),
		Environment: d.Env,
	}
}

// Classify folds one diff into the report.
func (d *Detector) Classify(report *Report, dd *diff.Diff) {
	switch {
	case dd.Missing:
		report.Missing = append(report.Missing, dd.ResourceName)
	case dd.Empty():
		report.Compliant = append(report.Compliant, dd.ResourceName)
	default:
		entry := Entry{
			ResourceType: dd.ResourceType,
			ResourceName: dd.ResourceName,
			Severity:     SeverityInfo,
		}
		for _, c := range dd.Changes {
			classified := ClassifiedChange{Change: c, Severity: d.classifyChange(dd.ResourceType, c)}
			entry.Changes = append(entry.Changes, classified)
			if severityRank(classified.Severity) > severityRank(entry.Severity) {
				entry.Severity = classified.Severity
			}
		}
		report.Drifted = append(report.Drifted, entry)
	}
}

// AddUnmanaged records an observed resource absent from declared state.
// Unmanaged resources are reported, never mutated, unless the caller
// explicitly opts in at the reconciler.
func (d *Detector) AddUnmanaged(report *Report, fullName string) {
	report.Unmanaged = append(report.Unmanaged, fullName)
}

func (d *Detector) classifyChange(rt catalog.ResourceType, c diff.Change) Severity {
	switch {
	case strings.HasPrefix(c.FieldPath, "grants."),
		c.FieldPath == "row_filter",
		strings.HasPrefix(c.FieldPath, "column_masks."),
		strings.HasPrefix(c.FieldPath, "policies."),
		c.FieldPath == "isolation_mode",
		c.FieldPath == "workspace_bindings":
		return SeverityCritical
	case c.FieldPath == "owner":
		if tier1Types[rt] {
			return SeverityCritical
		}
		return SeverityWarning
	case strings.HasPrefix(c.FieldPath, "tags."):
		key := strings.TrimPrefix(c.FieldPath, "tags.")
		if d.Convention != nil {
			if d.Convention.IsSecuritySensitiveTag(key) {
				return SeverityCritical
			}
			if d.isRequiredTag(key) {
				return SeverityWarning
			}
		}
		return SeverityInfo
	case c.FieldPath == "comment":
		return SeverityInfo
	}
	return SeverityInfo
}

func (d *Detector) isRequiredTag(key string) bool {
	for _, req := range d.Convention.RequiredTags {
		if req.Key == key {
			return true
		}
	}
	return false
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}
