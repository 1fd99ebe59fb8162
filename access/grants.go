package access

import (
	"fmt"

	"github.com/CauchyIO/brickkit/catalog"
)

// Diagnostic is an advisory finding that does not block reconciliation.
type Diagnostic struct {
	Rule     string
	Resource string
	Detail   string
}

// GrantOptions tunes grant attachment behavior.
type GrantOptions struct {
	// AllowIndividualUsers suppresses the advisory diagnostic emitted when
	// a grant names a USER principal directly.
	AllowIndividualUsers bool
}

// Grant attaches privileges for principal to r, validating them against the
// resource type and deduplicating against existing grants. Granting an
// identical (principal, privilege) pair is a no-op.
func Grant(r catalog.Resource, principal catalog.Principal, privileges []catalog.Privilege, opts GrantOptions) ([]Diagnostic, error) {
	if err := ValidatePrivileges(r.Type(), privileges); err != nil {
		return nil, err
	}

	var diags []Diagnostic
	if principal.Type == catalog.PrincipalUser && !opts.AllowIndividualUsers {
		diags = append(diags, Diagnostic{
			Rule:     "individual_user_grant",
			Resource: r.Base().Name,
			Detail:   fmt.Sprintf("grant to individual user %q; prefer groups or service principals", principal.Name),
		})
	}

	r.Base().AddGrant(catalog.NewGrant(principal, privileges...))
	return diags, nil
}

// GrantPolicy expands policy for r's resource type and attaches the result.
func GrantPolicy(r catalog.Resource, principal catalog.Principal, policy Policy, opts GrantOptions) ([]Diagnostic, error) {
	privileges := policy.Expand(r.Type())
	if len(privileges) == 0 {
		return nil, nil
	}
	return Grant(r, principal, privileges, opts)
}

// Revoke removes the named privileges for principal from r's declared
// grants. A nil privilege list removes every privilege for the principal.
func Revoke(r catalog.Resource, principal catalog.Principal, privileges []catalog.Privilege) {
	b := r.Base()
	kept := b.Grants[:0]
	for _, g := range b.Grants {
		if g.Principal.Name != principal.Name || g.Principal.Type != principal.Type {
			kept = append(kept, g)
			continue
		}
		if privileges == nil {
			continue
		}
		remove := map[catalog.Privilege]bool{}
		for _, p := range privileges {
			remove[p] = true
		}
		var remaining []catalog.Privilege
		for _, p := range g.Privileges {
			if !remove[p] {
				remaining = append(remaining, p)
			}
		}
		if len(remaining) > 0 {
			g.Privileges = remaining
			kept = append(kept, g)
		}
	}
	b.SetGrants(append([]catalog.Grant(nil), kept...))
}

// PropagateGrants descends the tree from root, materializing every ancestor
// grant on each descendant that does not override the principal locally.
// Propagation is recorded concretely so reconciliation can apply or revoke
// each grant, and privileges invalid for a descendant's type are dropped
// during expansion.
func PropagateGrants(root catalog.Resource) {
	_ = catalog.Walk(root, func(r catalog.Resource) error {
		if r == root {
			return nil
		}
		b := r.Base()
		local := map[string]bool{}
		for _, g := range b.Grants {
			local[g.Principal.Name] = true
		}
		parent := b.Parent()
		if parent == nil {
			return nil
		}
		for _, g := range parent.Base().EffectiveGrants() {
			if local[g.Principal.Name] {
				continue
			}
			var valid []catalog.Privilege
			for _, p := range g.Privileges {
				if ValidPrivilege(p, r.Type()) {
					valid = append(valid, p)
				}
			}
			if len(valid) > 0 {
				b.AddGrant(catalog.NewGrant(g.Principal, valid...))
			}
		}
		return nil
	})
}
