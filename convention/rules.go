package convention

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// Mode controls whether a rule failure blocks reconciliation.
type Mode string

const (
	ModeEnforced Mode = "enforced"
	ModeAdvisory Mode = "advisory"
)

// Issue is one validation finding.
type Issue struct {
	Rule     string
	Resource string
	Detail   string
	Severity Mode
}

// Result aggregates validation findings. Enforced failures land in Errors,
// advisory ones in Warnings.
type Result struct {
	Errors   []Issue
	Warnings []Issue
}

// OK reports whether no enforced rule failed.
func (r *Result) OK() bool { return len(r.Errors) == 0 }

// Err converts enforced failures into a single engine error, nil when clean.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	first := r.Errors[0]
	return errors.Validation(first.Rule, first.Detail).
		WithDetails("resource", first.Resource).
		WithDetails("error_count", len(r.Errors))
}

// CheckFunc evaluates one rule against one resource under a convention.
// A nil return means the rule passed.
type CheckFunc func(c *Convention, r catalog.Resource, params map[string]interface{}) *Issue

// Rule pairs a registered check with its mode and parameters.
type Rule struct {
	Name   string
	Mode   Mode
	Params map[string]interface{}
}

var (
	ruleMu       sync.RWMutex
	ruleRegistry = map[string]CheckFunc{}
)

// RegisterRule installs a custom rule check under name. Built-in names may
// not be replaced.
func RegisterRule(name string, check CheckFunc) error {
	ruleMu.Lock()
	defer ruleMu.Unlock()
	if _, exists := ruleRegistry[name]; exists {
		return errors.Conflict(fmt.Sprintf("rule %q is already registered", name))
	}
	ruleRegistry[name] = check
	return nil
}

func lookupRule(name string) (CheckFunc, bool) {
	ruleMu.RLock()
	defer ruleMu.RUnlock()
	check, ok := ruleRegistry[name]
	return check, ok
}

func init() {
	ruleRegistry["catalog_must_have_sp_owner"] = checkCatalogSPOwner
	ruleRegistry["owner_must_be_sp_or_group"] = checkOwnerSPOrGroup
	ruleRegistry["require_tags"] = checkRequireTags
	ruleRegistry["naming_pattern"] = checkNamingPattern
}

// Validate evaluates required tags, naming conventions, and every
// configured rule over the subtree rooted at root. Validation is a pure
// function of (convention, subtree, env): running it twice yields the same
// findings.
func (c *Convention) Validate(root catalog.Resource) *Result {
	res := &Result{}
	env := catalog.CurrentEnvironment()

	_ = catalog.Walk(root, func(r catalog.Resource) error {
		c.validateRequiredTags(r, env, res)
		c.validateNaming(r, env, res)
		for _, rule := range c.Rules {
			check, ok := lookupRule(rule.Name)
			if !ok {
				res.Errors = append(res.Errors, Issue{
					Rule:     rule.Name,
					Resource: catalog.FQN(r, env),
					Detail:   "unknown validation rule",
					Severity: ModeEnforced,
				})
				continue
			}
			if issue := check(c, r, rule.Params); issue != nil {
				issue.Severity = rule.Mode
				if issue.Resource == "" {
					issue.Resource = catalog.FQN(r, env)
				}
				if rule.Mode == ModeAdvisory {
					res.Warnings = append(res.Warnings, *issue)
				} else {
					res.Errors = append(res.Errors, *issue)
				}
			}
		}
		return nil
	})
	return res
}

func (c *Convention) validateRequiredTags(r catalog.Resource, env catalog.Environment, res *Result) {
	effective := r.Base().EffectiveTags()
	for _, rt := range c.RequiredTags {
		if !appliesTo(rt.AppliesTo).includes(r.Type()) {
			continue
		}
		value, present := effective[rt.Key]
		if !present {
			res.Errors = append(res.Errors, Issue{
				Rule:     "require_tags",
				Resource: catalog.FQN(r, env),
				Detail:   fmt.Sprintf("required tag %q is missing", rt.Key),
				Severity: ModeEnforced,
			})
			continue
		}
		if len(rt.AllowedValues) > 0 && !contains(rt.AllowedValues, value) {
			res.Errors = append(res.Errors, Issue{
				Rule:     "require_tags",
				Resource: catalog.FQN(r, env),
				Detail:   fmt.Sprintf("tag %q has value %q, allowed: %s", rt.Key, value, strings.Join(rt.AllowedValues, ", ")),
				Severity: ModeEnforced,
			})
		}
	}
}

func (c *Convention) validateNaming(r catalog.Resource, env catalog.Environment, res *Result) {
	nc := c.namingPatternFor(r.Type())
	if nc == nil {
		return
	}
	name := r.Base().ResolvedName(env)
	if nc.Regex != nil {
		if !nc.Regex.MatchString(name) {
			res.Errors = append(res.Errors, Issue{
				Rule:     "naming_pattern",
				Resource: catalog.FQN(r, env),
				Detail:   fmt.Sprintf("name %q does not match %s", name, nc.Regex.String()),
				Severity: ModeEnforced,
			})
		}
		return
	}
	if nc.Pattern == "" {
		return
	}
	expected, err := c.substitute(nc.Pattern, map[string]string{"name": r.Base().Name, "env": string(env)})
	if err != nil || expected == "" {
		return
	}
	if name != expected && r.Base().Name != stripEnvSuffix(expected, env) {
		res.Warnings = append(res.Warnings, Issue{
			Rule:     "naming_pattern",
			Resource: catalog.FQN(r, env),
			Detail:   fmt.Sprintf("name %q does not follow pattern %q", name, nc.Pattern),
			Severity: ModeAdvisory,
		})
	}
}

func stripEnvSuffix(name string, env catalog.Environment) string {
	return strings.TrimSuffix(name, "_"+string(env))
}

// Built-in rule checks.

func checkCatalogSPOwner(c *Convention, r catalog.Resource, _ map[string]interface{}) *Issue {
	if r.Type() != catalog.TypeCatalog {
		return nil
	}
	owner := r.Base().EffectiveOwner()
	if owner == nil {
		return &Issue{Rule: "catalog_must_have_sp_owner", Detail: "catalog has no owner in its ancestry"}
	}
	if owner.Type != catalog.PrincipalServicePrincipal {
		return &Issue{
			Rule:   "catalog_must_have_sp_owner",
			Detail: fmt.Sprintf("catalog owner %q is a %s, not a service principal", owner.Name, owner.Type),
		}
	}
	return nil
}

func checkOwnerSPOrGroup(c *Convention, r catalog.Resource, _ map[string]interface{}) *Issue {
	owner := r.Base().EffectiveOwner()
	if owner == nil {
		return nil
	}
	if owner.Type == catalog.PrincipalUser {
		return &Issue{
			Rule:   "owner_must_be_sp_or_group",
			Detail: fmt.Sprintf("owner %q is an individual user", owner.Name),
		}
	}
	return nil
}

func checkRequireTags(c *Convention, r catalog.Resource, params map[string]interface{}) *Issue {
	raw, ok := params["tags"]
	if !ok {
		return nil
	}
	keys := toStringSlice(raw)
	sort.Strings(keys)
	effective := r.Base().EffectiveTags()
	for _, key := range keys {
		if _, present := effective[key]; !present {
			return &Issue{
				Rule:   "require_tags",
				Detail: fmt.Sprintf("required tag %q is missing", key),
			}
		}
	}
	return nil
}

func checkNamingPattern(c *Convention, r catalog.Resource, params map[string]interface{}) *Issue {
	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return &Issue{Rule: "naming_pattern", Detail: fmt.Sprintf("invalid pattern %q: %v", pattern, err)}
	}
	name := r.Base().ResolvedName(catalog.CurrentEnvironment())
	if !re.MatchString(name) {
		return &Issue{Rule: "naming_pattern", Detail: fmt.Sprintf("name %q does not match %q", name, pattern)}
	}
	return nil
}

func toStringSlice(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
