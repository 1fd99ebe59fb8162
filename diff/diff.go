// Package diff computes field-level changes between declared and observed
// resource state. The differ is pure: given the same declared tree,
// convention, and observed records, it produces the same plan.
package diff

import (
	"fmt"
	"sort"

	"github.com/CauchyIO/brickkit/catalog"
)

// Action classifies a change.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionModify Action = "modify"
)

// Change is one field-level difference.
type Change struct {
	FieldPath string
	Declared  interface{}
	Observed  interface{}
	Action    Action
}

// Diff is the change set for one resource. Empty Changes with Missing
// unset means compliant.
type Diff struct {
	ResourceType catalog.ResourceType
	ResourceName string
	Changes      []Change

	// Missing marks a declared resource the backend does not have.
	Missing bool
	// Reference marks a diff on an externally-managed resource; creation
	// and deletion changes never appear on it.
	Reference bool
}

// Empty reports whether the resource is compliant.
func (d *Diff) Empty() bool {
	return !d.Missing && len(d.Changes) == 0
}

// GrantKey identifies a grant for set comparison: resolved principal name
// plus one privilege.
type GrantKey struct {
	Principal string
	Privilege string
}

func (k GrantKey) String() string {
	return fmt.Sprintf("%s:%s", k.Principal, k.Privilege)
}

// SortChanges orders changes deterministically for stable plans and
// reports.
func SortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].FieldPath != changes[j].FieldPath {
			return changes[i].FieldPath < changes[j].FieldPath
		}
		return changes[i].Action < changes[j].Action
	})
}
