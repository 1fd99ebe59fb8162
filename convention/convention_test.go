package convention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CauchyIO/brickkit/catalog"
)

func testConvention() *Convention {
	return &Convention{
		ConventionName: "quant",
		DefaultTags: []DefaultTag{
			{Key: "managed_by", Value: "brickkit"},
			{Key: "data_owner", Value: "unassigned", AppliesTo: []catalog.ResourceType{catalog.TypeTable}},
		},
		RequiredTags: []RequiredTag{
			{Key: "data_owner", AppliesTo: []catalog.ResourceType{catalog.TypeTable}},
		},
		NamingContext: map[string]string{"team": "quant", "product": "risk"},
		Naming: []NamingConvention{
			{Pattern: "{team}_{name}_{env}", AppliesTo: []catalog.ResourceType{catalog.TypeCatalog}},
		},
		DefaultOwner: Ownership{
			catalog.ResourceType(""): catalog.NewServicePrincipal("governance_sp"),
		},
	}
}

func TestApplyTo_FillsDefaults(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := testConvention()
	cat := catalog.NewCatalog("analytics")
	sch := catalog.NewSchema("sales")
	tbl := catalog.NewTable("orders")
	require.NoError(t, catalog.AttachChild(cat, sch))
	require.NoError(t, catalog.AttachChild(sch, tbl))

	require.NoError(t, conv.ApplyTo(cat))

	assert.Equal(t, "brickkit", cat.EffectiveTags()["managed_by"])
	assert.Equal(t, "unassigned", tbl.EffectiveTags()["data_owner"])
	_, schemaHasOwnerTag := mapLookup(sch.Tags, "data_owner")
	assert.False(t, schemaHasOwnerTag, "table-scoped default must not land on schemas")
	require.NotNil(t, cat.Owner)
	assert.Equal(t, "governance_sp", cat.Owner.Name)
}

func mapLookup(tags []catalog.Tag, key string) (string, bool) {
	for _, t := range tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

func TestApplyTo_Idempotent(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := testConvention()
	cat := catalog.NewCatalog("analytics")
	require.NoError(t, conv.ApplyTo(cat))
	tagsOnce := append([]catalog.Tag(nil), cat.Tags...)

	require.NoError(t, conv.ApplyTo(cat))
	assert.Equal(t, tagsOnce, cat.Tags)
}

func TestApplyTo_UserTagWins(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := testConvention()
	cat := catalog.NewCatalog("analytics")
	cat.AddTag("managed_by", "terraform")

	require.NoError(t, conv.ApplyTo(cat))
	assert.Equal(t, "terraform", cat.EffectiveTags()["managed_by"])
}

func TestAttachChild_AutoAppliesConvention(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := testConvention()
	cat := catalog.NewCatalog("analytics")
	require.NoError(t, conv.ApplyTo(cat))

	sch := catalog.NewSchema("late")
	require.NoError(t, catalog.AttachChild(cat, sch))

	assert.Equal(t, conv, sch.ConventionRef())
	tbl := catalog.NewTable("later")
	require.NoError(t, catalog.AttachChild(sch, tbl))
	assert.Equal(t, "unassigned", tbl.EffectiveTags()["data_owner"])
}

func TestTagOverrides_PerEnvironment(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvPrd)
	defer catalog.ResetEnvironment()

	conv := testConvention()
	conv.TagOverrides = map[catalog.Environment]map[string]string{
		catalog.EnvPrd: {"managed_by": "brickkit-prod"},
	}
	cat := catalog.NewCatalog("analytics")
	require.NoError(t, conv.ApplyTo(cat))

	assert.Equal(t, "brickkit-prod", cat.EffectiveTags()["managed_by"])
}

func TestGenerateName(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvAcc)
	defer catalog.ResetEnvironment()

	conv := testConvention()
	name, err := conv.GenerateName(catalog.TypeCatalog, map[string]string{"name": "risk"})
	require.NoError(t, err)
	assert.Equal(t, "quant_risk_acc", name)
}

func TestGenerateName_MissingPlaceholder(t *testing.T) {
	conv := &Convention{
		ConventionName: "c",
		Naming:         []NamingConvention{{Pattern: "{team}_{name}"}},
	}
	_, err := conv.GenerateName(catalog.TypeCatalog, nil)
	require.Error(t, err)
}

func TestValidate_Stable(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := testConvention()
	cat := catalog.NewCatalog("analytics")
	sch := catalog.NewSchema("s")
	tbl := catalog.NewTable("orders")
	require.NoError(t, catalog.AttachChild(cat, sch))
	require.NoError(t, catalog.AttachChild(sch, tbl))

	first := conv.Validate(cat)
	second := conv.Validate(cat)
	assert.Equal(t, first.Errors, second.Errors)
	assert.Equal(t, first.Warnings, second.Warnings)
}
