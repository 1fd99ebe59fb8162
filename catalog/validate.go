package catalog

import (
	"fmt"

	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// ValidateTree checks model invariants over a declared subtree before any
// backend call: parent linkage, FQN uniqueness, and per-type consistency.
// Violations of structural invariants are internal errors; declaration
// mistakes are validation errors.
func ValidateTree(root Resource, env Environment) error {
	seen := map[string]string{}
	return Walk(root, func(r Resource) error {
		b := r.Base()

		if b.Name == "" {
			return errors.Validation("resource_name", fmt.Sprintf("%s resource with empty name", r.Type()))
		}

		fqn := FQN(r, env)
		if prior, ok := seen[fqn]; ok {
			return errors.Invariant(fmt.Sprintf("duplicate FQN %q declared by %s and %s", fqn, prior, b.Name))
		}
		seen[fqn] = b.Name

		for _, c := range b.Children() {
			if c.Base().Parent() != r {
				return errors.Invariant(fmt.Sprintf("child %s of %s has inconsistent parent linkage", c.Base().Name, b.Name))
			}
		}

		return validateResource(r)
	})
}

func validateResource(r Resource) error {
	b := r.Base()
	switch v := r.(type) {
	case *Table:
		if v.Reference {
			return nil
		}
		cols := map[string]bool{}
		for _, c := range v.Columns {
			if cols[c.Name] {
				return errors.Validation("table_columns", fmt.Sprintf("table %s declares column %s twice", b.Name, c.Name))
			}
			cols[c.Name] = true
		}
		for _, m := range v.ColumnMasks {
			if !cols[m.ColumnName] {
				return errors.Validation("column_mask", fmt.Sprintf("table %s masks unknown column %s", b.Name, m.ColumnName))
			}
		}
		if v.RowFilter != nil {
			for _, in := range v.RowFilter.InputColumns {
				if !cols[in] {
					return errors.Validation("row_filter", fmt.Sprintf("table %s row filter reads unknown column %s", b.Name, in))
				}
			}
		}
	case *Volume:
		if !v.Reference && v.VolumeType == VolumeExternal && v.EffectiveLocation() == "" {
			return errors.Validation("volume_location", fmt.Sprintf("external volume %s has no storage location in its ancestry", b.Name))
		}
	case *Function:
		if !v.Reference && v.Definition == "" {
			return errors.Validation("function_definition", fmt.Sprintf("function %s has no definition", b.Name))
		}
	case *VectorIndex:
		if !v.Reference && (v.EndpointName == "" || v.SourceTable == "") {
			return errors.Validation("vector_index", fmt.Sprintf("vector index %s needs an endpoint and a source table", b.Name))
		}
	case *ExternalLocation:
		if !v.Reference && (v.URL == "" || v.CredentialName == "") {
			return errors.Validation("external_location", fmt.Sprintf("external location %s needs a url and a credential", b.Name))
		}
	}

	if b.IsolationMode == IsolationIsolated && len(b.WorkspaceBindings) == 0 {
		return errors.Validation("isolation_bindings", fmt.Sprintf("%s %s is ISOLATED but declares no workspace bindings", r.Type(), b.Name))
	}
	return nil
}
