package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CauchyIO/brickkit/access"
	"github.com/CauchyIO/brickkit/backend"
	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/convention"
	"github.com/CauchyIO/brickkit/state"
)

func observedFor(fqn string) *state.Record {
	return &state.Record{
		Type:        catalog.TypeSchema,
		FullName:    fqn,
		Tags:        map[string]string{},
		Grants:      map[string][]string{},
		ColumnMasks: map[string]string{},
	}
}

func TestCompute_MissingResource(t *testing.T) {
	d := NewDiffer(catalog.EnvDev)
	sch := catalog.NewSchema("s")

	out := d.Compute(sch, nil)
	assert.True(t, out.Missing)
	assert.False(t, out.Empty())
}

func TestCompute_Compliant(t *testing.T) {
	d := NewDiffer(catalog.EnvDev)
	sch := catalog.NewSchema("s")

	out := d.Compute(sch, observedFor("s_dev"))
	assert.True(t, out.Empty())
}

func TestCompute_OwnerModify(t *testing.T) {
	d := NewDiffer(catalog.EnvDev)
	owner := catalog.NewGroup("owners")
	sch := catalog.NewSchema("s")
	sch.Owner = &owner

	observed := observedFor("s_dev")
	observed.Owner = "someone_else"

	out := d.Compute(sch, observed)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, "owner", out.Changes[0].FieldPath)
	assert.Equal(t, ActionModify, out.Changes[0].Action)
	assert.Equal(t, "owners_dev", out.Changes[0].Declared)
}

func TestCompute_TagDrift(t *testing.T) {
	d := NewDiffer(catalog.EnvDev)
	sch := catalog.NewSchema("s")
	sch.AddTag("pii", "false")
	sch.AddTag("team", "quant")

	observed := observedFor("s_dev")
	observed.Tags["pii"] = "true"
	observed.Tags["legacy"] = "yes"

	out := d.Compute(sch, observed)
	byPath := map[string]Change{}
	for _, c := range out.Changes {
		byPath[c.FieldPath+"/"+string(c.Action)] = c
	}
	assert.Contains(t, byPath, "tags.pii/modify")
	assert.Contains(t, byPath, "tags.team/add")
	assert.Contains(t, byPath, "tags.legacy/remove")
}

func TestCompute_RequiredTagCountsAsDeclared(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	defer catalog.ResetEnvironment()

	conv := &convention.Convention{
		ConventionName: "c",
		DefaultTags:    []convention.DefaultTag{{Key: "data_owner", Value: "unassigned"}},
		RequiredTags:   []convention.RequiredTag{{Key: "data_owner"}},
	}
	d := NewDiffer(catalog.EnvDev)
	sch := catalog.NewSchema("s")
	sch.SetConvention(conv)

	out := d.Compute(sch, observedFor("s_dev"))
	require.Len(t, out.Changes, 1)
	assert.Equal(t, "tags.data_owner", out.Changes[0].FieldPath)
	assert.Equal(t, ActionAdd, out.Changes[0].Action)
	assert.Equal(t, "unassigned", out.Changes[0].Declared)
}

// Scenario: observed {(alice, SELECT)}; declared {(alice, SELECT, MODIFY),
// (bob, SELECT)} yields exactly two adds and no removes.
func TestCompute_GrantAddsBeforeRemoves(t *testing.T) {
	d := NewDiffer(catalog.EnvDev)
	sch := catalog.NewSchema("s")
	alice := catalog.NewUser("alice")
	bob := catalog.NewUser("bob")
	sch.AddGrant(catalog.NewGrant(alice, catalog.PrivilegeSelect, catalog.PrivilegeModify))
	sch.AddGrant(catalog.NewGrant(bob, catalog.PrivilegeSelect))

	observed := observedFor("s_dev")
	observed.Grants["alice"] = []string{"SELECT"}

	out := d.Compute(sch, observed)
	var adds, removes []Change
	for _, c := range out.Changes {
		switch c.Action {
		case ActionAdd:
			adds = append(adds, c)
		case ActionRemove:
			removes = append(removes, c)
		}
	}
	require.Len(t, adds, 2)
	assert.Empty(t, removes)

	keys := map[GrantKey]bool{}
	for _, c := range adds {
		keys[c.Declared.(GrantKey)] = true
	}
	assert.True(t, keys[GrantKey{Principal: "alice", Privilege: "MODIFY"}])
	assert.True(t, keys[GrantKey{Principal: "bob", Privilege: "SELECT"}])

	// Sorted plan puts grants.add before grants.remove.
	for i := 1; i < len(out.Changes); i++ {
		assert.LessOrEqual(t, out.Changes[i-1].FieldPath, out.Changes[i].FieldPath)
	}
}

func TestCompute_GrantRevoke(t *testing.T) {
	d := NewDiffer(catalog.EnvDev)
	sch := catalog.NewSchema("s")

	observed := observedFor("s_dev")
	observed.Grants["stale_group"] = []string{"SELECT"}

	out := d.Compute(sch, observed)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, "grants.remove", out.Changes[0].FieldPath)
	assert.Equal(t, GrantKey{Principal: "stale_group", Privilege: "SELECT"}, out.Changes[0].Observed)
}

func TestCompute_RowFilterAndMasks(t *testing.T) {
	d := NewDiffer(catalog.EnvDev)
	cat := catalog.NewCatalog("c")
	sch := catalog.NewSchema("s")
	tbl := catalog.NewTable("t",
		catalog.Column{Name: "id", DataType: "BIGINT"},
		catalog.Column{Name: "ssn", DataType: "STRING"},
	).WithRowFilter("gov.filter", "id").WithColumnMask("ssn", "gov.mask")
	require.NoError(t, catalog.AttachChild(cat, sch))
	require.NoError(t, catalog.AttachChild(sch, tbl))

	observed := &state.Record{
		Type:        catalog.TypeTable,
		Tags:        map[string]string{},
		Grants:      map[string][]string{},
		ColumnMasks: map[string]string{"email": "gov.old_mask"},
	}

	out := d.Compute(tbl, observed)
	byPath := map[string]Action{}
	for _, c := range out.Changes {
		byPath[c.FieldPath] = c.Action
	}
	assert.Equal(t, ActionAdd, byPath["row_filter"])
	assert.Equal(t, ActionAdd, byPath["column_masks.ssn"])
	assert.Equal(t, ActionRemove, byPath["column_masks.email"])
}

func TestCompute_IsolationAndBindings(t *testing.T) {
	d := NewDiffer(catalog.EnvDev)
	cat := catalog.NewCatalog("c").WithIsolation(catalog.IsolationIsolated, 101, 102)

	observed := &state.Record{
		Type:          catalog.TypeCatalog,
		IsolationMode: "OPEN",
		Bindings:      []int64{102, 999},
		Tags:          map[string]string{},
		Grants:        map[string][]string{},
	}

	out := d.Compute(cat, observed)
	var isolation, addBinding, removeBinding bool
	for _, c := range out.Changes {
		switch {
		case c.FieldPath == "isolation_mode":
			isolation = true
		case c.FieldPath == "workspace_bindings" && c.Action == ActionAdd:
			addBinding = assert.Equal(t, int64(101), c.Declared) || addBinding
		case c.FieldPath == "workspace_bindings" && c.Action == ActionRemove:
			removeBinding = assert.Equal(t, int64(999), c.Observed) || removeBinding
		}
	}
	assert.True(t, isolation && addBinding && removeBinding)
}

func TestCompute_PartialSkipsAbsentFields(t *testing.T) {
	d := NewDiffer(catalog.EnvDev)
	owner := catalog.NewGroup("owners")
	sch := catalog.NewSchema("s")
	sch.Owner = &owner
	sch.AddTag("team", "quant")

	observed := &state.Record{Type: catalog.TypeSchema, Partial: true}

	out := d.Compute(sch, observed)
	assert.Empty(t, out.Changes, "partial records must not register absent fields as drift")
}

func TestDiffPolicies(t *testing.T) {
	declared := []*access.ABACPolicy{
		{Name: "keep", PolicyType: access.ABACRowFilter, FunctionRef: "f1"},
		{Name: "create_me", PolicyType: access.ABACRowFilter, FunctionRef: "f2"},
		{Name: "replace_me", PolicyType: access.ABACRowFilter, FunctionRef: "f3_new"},
	}
	observed := &state.Record{
		Policies: []backend.PolicyRecord{
			{Name: "keep", PolicyType: "ROW_FILTER", FunctionRef: "f1"},
			{Name: "replace_me", PolicyType: "ROW_FILTER", FunctionRef: "f3_old"},
			{Name: "drop_me", PolicyType: "ROW_FILTER", FunctionRef: "f4"},
		},
	}

	changes := DiffPolicies(declared, observed)
	actions := map[string][]Action{}
	for _, c := range changes {
		actions[c.FieldPath] = append(actions[c.FieldPath], c.Action)
	}
	assert.Equal(t, []Action{ActionAdd}, actions["policies.create_me"])
	assert.ElementsMatch(t, []Action{ActionAdd, ActionRemove}, actions["policies.replace_me"])
	assert.Equal(t, []Action{ActionRemove}, actions["policies.drop_me"])
	assert.NotContains(t, actions, "policies.keep")
}
