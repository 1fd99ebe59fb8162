package diff

import (
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/CauchyIO/brickkit/access"
	"github.com/CauchyIO/brickkit/backend"
	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/convention"
	"github.com/CauchyIO/brickkit/state"
)

// Differ computes per-resource change sets. RequiredTags from the attached
// convention count as declared even when the user never wrote them, forcing
// a fix through the convention's defaults.
type Differ struct {
	Env catalog.Environment
}

// NewDiffer creates a differ for env.
func NewDiffer(env catalog.Environment) *Differ {
	return &Differ{Env: env}
}

// Compute diffs one declared resource against its observed record.
// A nil observed record yields Missing, references included: the drift
// detector lists a missing reference as missing, and the executor reports
// it as an error instead of creating it.
func (d *Differ) Compute(r catalog.Resource, observed *state.Record) *Diff {
	b := r.Base()
	out := &Diff{
		ResourceType: r.Type(),
		ResourceName: catalog.FQN(r, d.Env),
		Reference:    b.Reference,
	}

	if observed == nil {
		out.Missing = true
		return out
	}

	d.diffOwner(r, observed, out)
	d.diffComment(r, observed, out)
	d.diffTags(r, observed, out)
	d.diffGrants(r, observed, out)
	d.diffIsolation(r, observed, out)
	d.diffTypeSpecific(r, observed, out)

	SortChanges(out.Changes)
	return out
}

func (d *Differ) diffOwner(r catalog.Resource, observed *state.Record, out *Diff) {
	owner := r.Base().EffectiveOwner()
	if owner == nil {
		return
	}
	declared := owner.ResolvedName(d.Env)
	if observed.Partial && observed.Owner == "" {
		return
	}
	if observed.Owner != declared {
		out.Changes = append(out.Changes, Change{
			FieldPath: "owner",
			Declared:  declared,
			Observed:  observed.Owner,
			Action:    ActionModify,
		})
	}
}

func (d *Differ) diffComment(r catalog.Resource, observed *state.Record, out *Diff) {
	declared := r.Base().Comment
	if declared == "" || observed.Partial && observed.Comment == "" {
		return
	}
	if observed.Comment != declared {
		out.Changes = append(out.Changes, Change{
			FieldPath: "comment",
			Declared:  declared,
			Observed:  observed.Comment,
			Action:    ActionModify,
		})
	}
}

// declaredTags merges the resource's effective tags with the convention's
// required tags that are absent but have a convention default value.
// Required tags without a default are not added.
func (d *Differ) declaredTags(r catalog.Resource) map[string]string {
	tags := r.Base().EffectiveTags()
	conv, ok := r.Base().ConventionRef().(*convention.Convention)
	if !ok || conv == nil {
		return tags
	}
	for _, req := range conv.RequiredTags {
		if len(req.AppliesTo) > 0 && !typeListed(req.AppliesTo, r.Type()) {
			continue
		}
		if _, present := tags[req.Key]; present {
			continue
		}
		if def := defaultFor(conv, req.Key); def != "" {
			tags[req.Key] = def
		}
	}
	return tags
}

func defaultFor(conv *convention.Convention, key string) string {
	for _, dt := range conv.DefaultTags {
		if dt.Key == key {
			return dt.Value
		}
	}
	return ""
}

func typeListed(list []catalog.ResourceType, rt catalog.ResourceType) bool {
	for _, t := range list {
		if t == rt {
			return true
		}
	}
	return false
}

func (d *Differ) diffTags(r catalog.Resource, observed *state.Record, out *Diff) {
	if observed.Partial && len(observed.Tags) == 0 {
		return
	}
	declared := d.declaredTags(r)

	for key, value := range declared {
		path := "tags." + key
		obs, present := observed.Tags[key]
		switch {
		case !present:
			out.Changes = append(out.Changes, Change{FieldPath: path, Declared: value, Action: ActionAdd})
		case obs != value:
			out.Changes = append(out.Changes, Change{FieldPath: path, Declared: value, Observed: obs, Action: ActionModify})
		}
	}
	for key, obs := range observed.Tags {
		if _, present := declared[key]; !present {
			out.Changes = append(out.Changes, Change{FieldPath: "tags." + key, Observed: obs, Action: ActionRemove})
		}
	}
}

// diffGrants compares grant sets on (resolved principal, privilege) pairs.
// Additions precede removals in the sorted plan because "grants.add" sorts
// before "grants.remove"; the executor preserves that order.
func (d *Differ) diffGrants(r catalog.Resource, observed *state.Record, out *Diff) {
	if observed.Partial && len(observed.Grants) == 0 {
		return
	}
	declared := map[GrantKey]bool{}
	for _, g := range r.Base().EffectiveGrants() {
		principal := g.Principal.ResolvedName(d.Env)
		for _, p := range g.Privileges {
			// Cascaded privileges invalid for this type are dropped during
			// expansion rather than surfacing as unapplyable drift.
			if !access.ValidPrivilege(p, r.Type()) {
				continue
			}
			declared[GrantKey{Principal: principal, Privilege: string(p)}] = true
		}
	}
	observedSet := map[GrantKey]bool{}
	for principal, privileges := range observed.Grants {
		for _, p := range privileges {
			observedSet[GrantKey{Principal: principal, Privilege: p}] = true
		}
	}

	for key := range declared {
		if !observedSet[key] {
			out.Changes = append(out.Changes, Change{
				FieldPath: "grants.add",
				Declared:  key,
				Action:    ActionAdd,
			})
		}
	}
	for key := range observedSet {
		if !declared[key] {
			out.Changes = append(out.Changes, Change{
				FieldPath: "grants.remove",
				Observed:  key,
				Action:    ActionRemove,
			})
		}
	}
}

func (d *Differ) diffIsolation(r catalog.Resource, observed *state.Record, out *Diff) {
	b := r.Base()
	if b.IsolationMode == "" {
		return
	}
	if observed.IsolationMode != string(b.IsolationMode) {
		out.Changes = append(out.Changes, Change{
			FieldPath: "isolation_mode",
			Declared:  string(b.IsolationMode),
			Observed:  observed.IsolationMode,
			Action:    ActionModify,
		})
	}

	declaredBindings := map[int64]bool{}
	for _, id := range b.WorkspaceBindings {
		declaredBindings[id] = true
	}
	observedBindings := map[int64]bool{}
	for _, id := range observed.Bindings {
		observedBindings[id] = true
	}
	for id := range declaredBindings {
		if !observedBindings[id] {
			out.Changes = append(out.Changes, Change{
				FieldPath: "workspace_bindings",
				Declared:  id,
				Action:    ActionAdd,
			})
		}
	}
	for id := range observedBindings {
		if !declaredBindings[id] {
			out.Changes = append(out.Changes, Change{
				FieldPath: "workspace_bindings",
				Observed:  id,
				Action:    ActionRemove,
			})
		}
	}
}

func (d *Differ) diffTypeSpecific(r catalog.Resource, observed *state.Record, out *Diff) {
	switch v := r.(type) {
	case *catalog.Table:
		d.diffTable(v, observed, out)
	case *catalog.ExternalLocation:
		if v.URL != "" && observed.StorageLocation != "" && v.URL != observed.StorageLocation {
			out.Changes = append(out.Changes, Change{
				FieldPath: "url",
				Declared:  v.URL,
				Observed:  observed.StorageLocation,
				Action:    ActionModify,
			})
		}
	case *catalog.Space:
		if v.SerializedDefinition != "" && !cmp.Equal(v.SerializedDefinition, observed.Properties["serialized_definition"]) {
			// Serialized definitions round-trip through the backend with
			// volatile ordering; only emptiness is meaningful here.
			if observed.Properties["serialized_definition"] == "" {
				out.Changes = append(out.Changes, Change{
					FieldPath: "serialized_definition",
					Declared:  "(declared)",
					Action:    ActionModify,
				})
			}
		}
	}
}

func (d *Differ) diffTable(t *catalog.Table, observed *state.Record, out *Diff) {
	declaredFilter := ""
	if t.RowFilter != nil {
		declaredFilter = t.RowFilter.FunctionName
	}
	if declaredFilter != observed.RowFilter {
		action := ActionModify
		switch {
		case declaredFilter == "":
			action = ActionRemove
		case observed.RowFilter == "":
			action = ActionAdd
		}
		out.Changes = append(out.Changes, Change{
			FieldPath: "row_filter",
			Declared:  declaredFilter,
			Observed:  observed.RowFilter,
			Action:    action,
		})
	}

	declaredMasks := map[string]string{}
	for _, m := range t.ColumnMasks {
		declaredMasks[m.ColumnName] = m.FunctionName
	}
	for column, fn := range declaredMasks {
		path := fmt.Sprintf("column_masks.%s", column)
		obs, present := observed.ColumnMasks[column]
		switch {
		case !present:
			out.Changes = append(out.Changes, Change{FieldPath: path, Declared: fn, Action: ActionAdd})
		case obs != fn:
			out.Changes = append(out.Changes, Change{FieldPath: path, Declared: fn, Observed: obs, Action: ActionModify})
		}
	}
	for column, obs := range observed.ColumnMasks {
		if _, present := declaredMasks[column]; !present {
			out.Changes = append(out.Changes, Change{
				FieldPath: fmt.Sprintf("column_masks.%s", column),
				Observed:  obs,
				Action:    ActionRemove,
			})
		}
	}
}

// DiffPolicies compares the convention-declared ABAC policies for a
// container against its observed policies. Replacement of a changed policy
// is expressed as remove plus add within one run.
func DiffPolicies(declared []*access.ABACPolicy, observed *state.Record) []Change {
	var changes []Change
	observedByName := map[string]bool{}
	if observed != nil {
		for _, p := range observed.Policies {
			observedByName[p.Name] = true
		}
	}
	declaredByName := map[string]*access.ABACPolicy{}
	for _, p := range declared {
		declaredByName[p.Name] = p
		if !observedByName[p.Name] {
			changes = append(changes, Change{
				FieldPath: "policies." + p.Name,
				Declared:  p.Name,
				Action:    ActionAdd,
			})
		}
	}
	if observed != nil {
		for _, p := range observed.Policies {
			declaredPolicy, present := declaredByName[p.Name]
			switch {
			case !present:
				changes = append(changes, Change{
					FieldPath: "policies." + p.Name,
					Observed:  p.Name,
					Action:    ActionRemove,
				})
			case policyChanged(declaredPolicy, p):
				changes = append(changes,
					Change{FieldPath: "policies." + p.Name, Observed: p.Name, Action: ActionRemove},
					Change{FieldPath: "policies." + p.Name, Declared: p.Name, Action: ActionAdd},
				)
			}
		}
	}
	SortChanges(changes)
	return changes
}

func policyChanged(declared *access.ABACPolicy, observed backend.PolicyRecord) bool {
	if declared.FunctionRef != observed.FunctionRef {
		return true
	}
	if string(declared.PolicyType) != observed.PolicyType && observed.PolicyType != "" {
		return true
	}
	if declared.TargetColumn != observed.TargetColumn {
		return true
	}
	if len(declared.MatchConditions) != len(observed.MatchConditions) && len(observed.MatchConditions) > 0 {
		return true
	}
	return false
}
