package convention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CauchyIO/brickkit/catalog"
)

func TestCatalogMustHaveSPOwner(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := &Convention{
		ConventionName: "strict",
		Rules:          []Rule{{Name: "catalog_must_have_sp_owner", Mode: ModeEnforced}},
	}

	owner := catalog.NewUser("alice")
	cat := catalog.NewCatalog("analytics").WithOwner(owner)

	result := conv.Validate(cat)
	require.False(t, result.OK())
	assert.Equal(t, "catalog_must_have_sp_owner", result.Errors[0].Rule)

	sp := catalog.NewServicePrincipal("platform")
	cat2 := catalog.NewCatalog("analytics").WithOwner(sp)
	assert.True(t, conv.Validate(cat2).OK())
}

func TestOwnerMustBeSPOrGroup_Advisory(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := &Convention{
		ConventionName: "strict",
		Rules:          []Rule{{Name: "owner_must_be_sp_or_group", Mode: ModeAdvisory}},
	}
	owner := catalog.NewUser("alice")
	sch := catalog.NewSchema("s")
	sch.Owner = &owner

	result := conv.Validate(sch)
	assert.True(t, result.OK(), "advisory rules do not block")
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "owner_must_be_sp_or_group", result.Warnings[0].Rule)
}

func TestRequireTagsRule(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := &Convention{
		ConventionName: "strict",
		Rules: []Rule{{
			Name:   "require_tags",
			Mode:   ModeEnforced,
			Params: map[string]interface{}{"tags": []interface{}{"cost_center"}},
		}},
	}
	cat := catalog.NewCatalog("analytics")

	require.False(t, conv.Validate(cat).OK())

	cat.AddTag("cost_center", "cc-1")
	assert.True(t, conv.Validate(cat).OK())
}

func TestNamingPatternRule(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := &Convention{
		ConventionName: "strict",
		Rules: []Rule{{
			Name:   "naming_pattern",
			Mode:   ModeEnforced,
			Params: map[string]interface{}{"pattern": "^[a-z]+_[a-z]+_dev$"},
		}},
	}
	good := catalog.NewCatalog("quant_risk")
	assert.True(t, conv.Validate(good).OK())

	bad := catalog.NewCatalog("QuantRisk")
	assert.False(t, conv.Validate(bad).OK())
}

func TestRegisterRule_Custom(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	err := RegisterRule("no_temp_names", func(c *Convention, r catalog.Resource, _ map[string]interface{}) *Issue {
		if len(r.Base().Name) >= 4 && r.Base().Name[:4] == "tmp_" {
			return &Issue{Rule: "no_temp_names", Detail: "temporary names are not allowed"}
		}
		return nil
	})
	require.NoError(t, err)

	conv := &Convention{
		ConventionName: "strict",
		Rules:          []Rule{{Name: "no_temp_names", Mode: ModeEnforced}},
	}
	assert.False(t, conv.Validate(catalog.NewCatalog("tmp_scratch")).OK())
	assert.True(t, conv.Validate(catalog.NewCatalog("durable")).OK())
}

func TestRegisterRule_RejectsDuplicate(t *testing.T) {
	require.Error(t, RegisterRule("require_tags", nil))
}

func TestUnknownRuleFailsValidation(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := &Convention{
		ConventionName: "strict",
		Rules:          []Rule{{Name: "does_not_exist", Mode: ModeEnforced}},
	}
	result := conv.Validate(catalog.NewCatalog("c"))
	require.False(t, result.OK())
	assert.Equal(t, "does_not_exist", result.Errors[0].Rule)
}
