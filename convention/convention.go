// Package convention layers automatic defaults, required-field validation,
// naming rules, and policy templates onto declared resource trees.
package convention

import (
	"regexp"
	"strings"

	"github.com/CauchyIO/brickkit/access"
	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// appliesTo is the resource-type filter used by defaults, required tags,
// and naming patterns. Empty means all types.
type appliesTo []catalog.ResourceType

func (a appliesTo) includes(rt catalog.ResourceType) bool {
	if len(a) == 0 {
		return true
	}
	for _, t := range a {
		if t == rt {
			return true
		}
	}
	return false
}

// DefaultTag is applied when the key is absent from a matching resource.
type DefaultTag struct {
	Key       string
	Value     string
	AppliesTo []catalog.ResourceType
}

// RequiredTag must be present after defaults merge; when AllowedValues is
// set the tag's value must be one of them.
type RequiredTag struct {
	Key           string
	AllowedValues []string
	AppliesTo     []catalog.ResourceType
}

// NamingConvention binds a placeholder pattern to resource types. Pattern
// placeholders: {env}, {team}, {product}, {acronym}, {name}. A compiled
// regexp switches the convention to validation-only mode.
type NamingConvention struct {
	Pattern   string
	AppliesTo []catalog.ResourceType
	Regex     *regexp.Regexp
}

// Ownership fixes the default owner per resource type, with a fallback
// under the zero ResourceType key.
type Ownership map[catalog.ResourceType]catalog.Principal

// Convention bundles defaults, required fields, naming, ownership, and
// policy templates. Conventions are first-class values attached to a root
// resource; propagation copies the reference, never the contents.
type Convention struct {
	ConventionName string
	DefaultTags    []DefaultTag
	RequiredTags   []RequiredTag
	Naming         []NamingConvention
	NamingContext  map[string]string
	DefaultOwner   Ownership
	Rules          []Rule
	ABACPolicies   []*access.ABACPolicy
	TagOverrides   map[catalog.Environment]map[string]string

	// SecuritySensitiveTags upgrades drift on the listed tag keys to
	// critical severity.
	SecuritySensitiveTags []string
}

// Name identifies the convention. Part of the catalog.Convention contract.
func (c *Convention) Name() string { return c.ConventionName }

// ApplyTo fills defaults on r and recursively on its children, then pins
// the convention reference so future AttachChild calls auto-apply it.
// Application is idempotent: a second ApplyTo changes nothing.
func (c *Convention) ApplyTo(r catalog.Resource) error {
	return catalog.Walk(r, func(res catalog.Resource) error {
		c.applyDefaults(res)
		res.Base().SetConvention(c)
		return nil
	})
}

func (c *Convention) applyDefaults(r catalog.Resource) {
	b := r.Base()
	env := catalog.CurrentEnvironment()

	declared := map[string]bool{}
	for _, t := range b.Tags {
		declared[t.Key] = true
	}

	for _, dt := range c.DefaultTags {
		if !appliesTo(dt.AppliesTo).includes(r.Type()) || declared[dt.Key] {
			continue
		}
		value := dt.Value
		if overrides, ok := c.TagOverrides[env]; ok {
			if v, ok := overrides[dt.Key]; ok {
				value = v
			}
		}
		b.AddTag(dt.Key, value)
		declared[dt.Key] = true
	}
	if overrides, ok := c.TagOverrides[env]; ok {
		for k, v := range overrides {
			if !declared[k] && !hasDefault(c.DefaultTags, k) {
				b.AddTag(k, v)
				declared[k] = true
			}
		}
	}

	if b.Owner == nil {
		if owner, ok := c.ownerFor(r.Type()); ok {
			b.Owner = &owner
		}
	}
}

func hasDefault(defaults []DefaultTag, key string) bool {
	for _, d := range defaults {
		if d.Key == key {
			return true
		}
	}
	return false
}

func (c *Convention) ownerFor(rt catalog.ResourceType) (catalog.Principal, bool) {
	if owner, ok := c.DefaultOwner[rt]; ok {
		return owner, true
	}
	if owner, ok := c.DefaultOwner[catalog.ResourceType("")]; ok {
		return owner, true
	}
	return catalog.Principal{}, false
}

// GenerateName substitutes the naming context into the first pattern
// matching rt. The {name} placeholder comes from ctx; env resolves from the
// current environment unless overridden in ctx.
func (c *Convention) GenerateName(rt catalog.ResourceType, ctx map[string]string) (string, error) {
	for _, nc := range c.Naming {
		if !appliesTo(nc.AppliesTo).includes(rt) || nc.Pattern == "" {
			continue
		}
		return c.substitute(nc.Pattern, ctx)
	}
	return "", errors.Validation("naming_pattern", "no naming pattern applies to "+string(rt))
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

func (c *Convention) substitute(pattern string, ctx map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(pattern, func(m string) string {
		key := strings.Trim(m, "{}")
		if ctx != nil {
			if v, ok := ctx[key]; ok {
				return v
			}
		}
		if v, ok := c.NamingContext[key]; ok {
			return v
		}
		if key == "env" {
			return string(catalog.CurrentEnvironment())
		}
		missing = append(missing, key)
		return m
	})
	if len(missing) > 0 {
		return "", errors.Validation("naming_pattern", "unresolved placeholders: "+strings.Join(missing, ", "))
	}
	return out, nil
}

// namingPatternFor returns the pattern governing rt, if any.
func (c *Convention) namingPatternFor(rt catalog.ResourceType) *NamingConvention {
	for i := range c.Naming {
		if appliesTo(c.Naming[i].AppliesTo).includes(rt) {
			return &c.Naming[i]
		}
	}
	return nil
}

// IsSecuritySensitiveTag reports whether drift on key is security
// impactful under this convention.
func (c *Convention) IsSecuritySensitiveTag(key string) bool {
	for _, k := range c.SecuritySensitiveTags {
		if k == key {
			return true
		}
	}
	return false
}
