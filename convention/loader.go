package convention

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CauchyIO/brickkit/access"
	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// document mirrors the convention file format. Decoding is strict:
// unrecognized keys fail the load.
type document struct {
	Version    string                   `yaml:"version"`
	Convention string                   `yaml:"convention"`
	Naming     map[string]string        `yaml:"naming"`
	Ownership  map[string]ownershipDoc  `yaml:"ownership"`
	Rules      []map[string]interface{} `yaml:"rules"`
	Tags       map[string]string        `yaml:"tags"`
	TagOverrides map[string]map[string]string `yaml:"tag_overrides"`
	RequiredTags []requiredTagDoc       `yaml:"required_tags"`
	SecurityTags []string               `yaml:"security_sensitive_tags"`
	ABACPolicies []abacPolicyDoc        `yaml:"abac_policies"`
}

type ownershipDoc struct {
	Type                 string `yaml:"type"`
	Name                 string `yaml:"name"`
	AddEnvironmentSuffix *bool  `yaml:"add_environment_suffix"`
}

type requiredTagDoc struct {
	Key           string   `yaml:"key"`
	AllowedValues []string `yaml:"allowed_values"`
	AppliesTo     []string `yaml:"applies_to"`
}

type abacPolicyDoc struct {
	Name            string            `yaml:"name"`
	PolicyType      string            `yaml:"policy_type"`
	Function        string            `yaml:"function"`
	TargetColumn    string            `yaml:"target_column"`
	Container       string            `yaml:"container"`
	MatchConditions []map[string]string `yaml:"match_conditions"`
}

// supportedVersions guards against documents written for a newer schema.
var supportedVersions = map[string]bool{"": true, "1": true, "v1": true}

// LoadFile reads and parses a convention document from path.
func LoadFile(path string) (*Convention, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "failed to read convention file", err).
			WithDetails("path", path)
	}
	return Load(data)
}

// Load parses a convention document. Unknown top-level or nested keys are a
// load-time validation error.
func Load(data []byte) (*Convention, error) {
	var doc document
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "failed to parse convention document", err)
	}
	if !supportedVersions[doc.Version] {
		return nil, errors.Validation("convention_version", fmt.Sprintf("unsupported version %q", doc.Version))
	}
	if doc.Convention == "" {
		return nil, errors.Validation("convention_name", "document has no convention name")
	}

	c := &Convention{
		ConventionName:        doc.Convention,
		SecuritySensitiveTags: doc.SecurityTags,
	}

	if err := loadNaming(&doc, c); err != nil {
		return nil, err
	}
	if err := loadOwnership(&doc, c); err != nil {
		return nil, err
	}
	if err := loadRules(&doc, c); err != nil {
		return nil, err
	}
	loadTags(&doc, c)
	if err := loadABAC(&doc, c); err != nil {
		return nil, err
	}
	return c, nil
}

func loadNaming(doc *document, c *Convention) error {
	if len(doc.Naming) == 0 {
		return nil
	}
	c.NamingContext = map[string]string{}
	for key, value := range doc.Naming {
		if key == "pattern" {
			c.Naming = append(c.Naming, NamingConvention{Pattern: value})
			continue
		}
		switch key {
		case "env", "team", "product", "acronym", "name":
			c.NamingContext[key] = value
		default:
			return errors.Validation("naming", fmt.Sprintf("unrecognized naming key %q", key))
		}
	}
	return nil
}

func loadOwnership(doc *document, c *Convention) error {
	if len(doc.Ownership) == 0 {
		return nil
	}
	c.DefaultOwner = Ownership{}
	for key, o := range doc.Ownership {
		principal, err := principalFromDoc(o)
		if err != nil {
			return err
		}
		if key == "default" {
			c.DefaultOwner[catalog.ResourceType("")] = principal
			continue
		}
		rt := catalog.ResourceType(strings.ToUpper(key))
		c.DefaultOwner[rt] = principal
	}
	return nil
}

func principalFromDoc(o ownershipDoc) (catalog.Principal, error) {
	if o.Name == "" {
		return catalog.Principal{}, errors.Validation("ownership", "ownership entry has no name")
	}
	var p catalog.Principal
	switch strings.ToUpper(o.Type) {
	case "USER":
		p = catalog.NewUser(o.Name)
	case "GROUP":
		p = catalog.NewGroup(o.Name)
	case "SERVICE_PRINCIPAL", "":
		p = catalog.NewServicePrincipal(o.Name)
	default:
		return catalog.Principal{}, errors.Validation("ownership", fmt.Sprintf("unknown principal type %q", o.Type))
	}
	if o.AddEnvironmentSuffix != nil {
		p.AddEnvironmentSuffix = *o.AddEnvironmentSuffix
	}
	return p, nil
}

func loadRules(doc *document, c *Convention) error {
	for _, raw := range doc.Rules {
		nameRaw, ok := raw["rule"]
		if !ok {
			return errors.Validation("rules", "rule entry missing the rule key")
		}
		name, _ := nameRaw.(string)
		if _, known := lookupRule(name); !known {
			return errors.Validation("rules", fmt.Sprintf("unknown rule %q", name))
		}
		mode := ModeEnforced
		if m, ok := raw["mode"].(string); ok {
			switch Mode(m) {
			case ModeEnforced, ModeAdvisory:
				mode = Mode(m)
			default:
				return errors.Validation("rules", fmt.Sprintf("rule %q has unknown mode %q", name, m))
			}
		}
		params := map[string]interface{}{}
		for k, v := range raw {
			if k != "rule" && k != "mode" {
				params[k] = v
			}
		}
		c.Rules = append(c.Rules, Rule{Name: name, Mode: mode, Params: params})

		if name == "naming_pattern" {
			if pattern, ok := params["pattern"].(string); ok {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return errors.Validation("rules", fmt.Sprintf("naming_pattern %q does not compile: %v", pattern, err))
				}
				c.Naming = append(c.Naming, NamingConvention{Regex: re})
			}
		}
	}
	return nil
}

func loadTags(doc *document, c *Convention) {
	for key, value := range doc.Tags {
		c.DefaultTags = append(c.DefaultTags, DefaultTag{Key: key, Value: value})
	}
	for _, rt := range doc.RequiredTags {
		var applies []catalog.ResourceType
		for _, t := range rt.AppliesTo {
			applies = append(applies, catalog.ResourceType(strings.ToUpper(t)))
		}
		c.RequiredTags = append(c.RequiredTags, RequiredTag{
			Key:           rt.Key,
			AllowedValues: rt.AllowedValues,
			AppliesTo:     applies,
		})
	}
	if len(doc.TagOverrides) > 0 {
		c.TagOverrides = map[catalog.Environment]map[string]string{}
		for env, overrides := range doc.TagOverrides {
			c.TagOverrides[catalog.ParseEnvironment(env)] = overrides
		}
	}
}

func loadABAC(doc *document, c *Convention) error {
	for _, p := range doc.ABACPolicies {
		policy := &access.ABACPolicy{
			Name:         p.Name,
			FunctionRef:  p.Function,
			TargetColumn: p.TargetColumn,
			ContainerFQN: p.Container,
		}
		switch strings.ToLower(p.PolicyType) {
		case "row_filter":
			policy.PolicyType = access.ABACRowFilter
		case "column_mask":
			policy.PolicyType = access.ABACColumnMask
		default:
			return errors.Validation("abac_policies", fmt.Sprintf("policy %q has unknown type %q", p.Name, p.PolicyType))
		}
		for _, mc := range p.MatchConditions {
			policy.MatchConditions = append(policy.MatchConditions, access.MatchCondition{
				TagKey:   mc["tag_key"],
				TagValue: mc["tag_value"],
			})
		}
		if err := policy.Validate(); err != nil {
			return err
		}
		c.ABACPolicies = append(c.ABACPolicies, policy)
	}
	return nil
}
