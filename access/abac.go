package access

import (
	"fmt"

	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// ABACPolicyType distinguishes row filters from column masks.
type ABACPolicyType string

const (
	ABACRowFilter  ABACPolicyType = "ROW_FILTER"
	ABACColumnMask ABACPolicyType = "COLUMN_MASK"
)

// MatchCondition selects tables (or columns) by governance tag. An empty
// value matches any value of the key.
type MatchCondition struct {
	TagKey   string
	TagValue string
}

// SQL renders the condition as the backend's match expression.
func (m MatchCondition) SQL() string {
	if m.TagValue == "" {
		return fmt.Sprintf("hasTag('%s')", m.TagKey)
	}
	return fmt.Sprintf("hasTagValue('%s', '%s')", m.TagKey, m.TagValue)
}

// maxMatchConditions is the backend's limit per policy.
const maxMatchConditions = 3

// ABACPolicy applies a row filter or column mask to every matching table
// within its target container.
type ABACPolicy struct {
	Name             string
	PolicyType       ABACPolicyType
	FunctionRef      string
	TargetPrincipals []catalog.Principal
	ExceptPrincipals []catalog.Principal
	MatchConditions  []MatchCondition
	TargetColumn     string
	ContainerFQN     string
}

// Validate checks structural constraints before the policy reaches a
// backend.
func (p *ABACPolicy) Validate() error {
	if p.Name == "" {
		return errors.Validation("abac_policy", "policy has no name")
	}
	if p.FunctionRef == "" {
		return errors.Validation("abac_policy", fmt.Sprintf("policy %s references no function", p.Name))
	}
	if len(p.MatchConditions) == 0 {
		return errors.Validation("abac_policy", fmt.Sprintf("policy %s has no match conditions", p.Name))
	}
	if len(p.MatchConditions) > maxMatchConditions {
		return errors.Validation("abac_policy", fmt.Sprintf("policy %s exceeds %d match conditions", p.Name, maxMatchConditions))
	}
	if p.PolicyType == ABACColumnMask && p.TargetColumn == "" {
		return errors.Validation("abac_policy", fmt.Sprintf("column mask policy %s names no target column", p.Name))
	}
	if p.PolicyType != ABACRowFilter && p.PolicyType != ABACColumnMask {
		return errors.Validation("abac_policy", fmt.Sprintf("policy %s has unknown type %q", p.Name, p.PolicyType))
	}
	return nil
}

// Matches reports whether the policy's conditions hold against a resource's
// effective tags. All conditions must match.
func (p *ABACPolicy) Matches(tags map[string]string) bool {
	for _, c := range p.MatchConditions {
		v, ok := tags[c.TagKey]
		if !ok {
			return false
		}
		if c.TagValue != "" && v != c.TagValue {
			return false
		}
	}
	return len(p.MatchConditions) > 0
}

// AppliesTo reports whether principalName is targeted by the policy after
// exceptions. An empty target list targets everyone.
func (p *ABACPolicy) AppliesTo(principalName string, env catalog.Environment) bool {
	for _, except := range p.ExceptPrincipals {
		if except.ResolvedName(env) == principalName {
			return false
		}
	}
	if len(p.TargetPrincipals) == 0 {
		return true
	}
	for _, target := range p.TargetPrincipals {
		if target.ResolvedName(env) == principalName {
			return true
		}
	}
	return false
}

// CheckRowFilterConflicts rejects a tree where a table declares a direct row
// filter while a row-filter ABAC policy also matches it: at most one row
// filter resolves per table per user.
func CheckRowFilterConflicts(root catalog.Resource, policies []*ABACPolicy, env catalog.Environment) error {
	return catalog.Walk(root, func(r catalog.Resource) error {
		t, ok := r.(*catalog.Table)
		if !ok || t.RowFilter == nil {
			return nil
		}
		tags := t.EffectiveTags()
		for _, p := range policies {
			if p.PolicyType == ABACRowFilter && p.Matches(tags) {
				return errors.RowFilterClash(catalog.FQN(t, env))
			}
		}
		return nil
	})
}
