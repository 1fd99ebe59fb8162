package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/convention"
	"github.com/CauchyIO/brickkit/diff"
)

func detector() *Detector {
	return NewDetector(catalog.EnvDev, &convention.Convention{
		ConventionName:        "c",
		SecuritySensitiveTags: []string{"pii"},
		RequiredTags:          []convention.RequiredTag{{Key: "data_owner"}},
	})
}

func TestClassify_Buckets(t *testing.T) {
	d := detector()
	report := d.NewReport()

	d.Classify(report, &diff.Diff{ResourceType: catalog.TypeTable, ResourceName: "c.s.missing", Missing: true})
	d.Classify(report, &diff.Diff{ResourceType: catalog.TypeTable, ResourceName: "c.s.ok"})
	d.Classify(report, &diff.Diff{
		ResourceType: catalog.TypeTable,
		ResourceName: "c.s.drifted",
		Changes:      []diff.Change{{FieldPath: "comment", Action: diff.ActionModify}},
	})
	d.AddUnmanaged(report, "c.s.rogue")

	assert.Equal(t, []string{"c.s.missing"}, report.Missing)
	assert.Equal(t, []string{"c.s.ok"}, report.Compliant)
	assert.Equal(t, []string{"c.s.rogue"}, report.Unmanaged)
	require.Len(t, report.Drifted, 1)
	assert.True(t, report.HasDrift())
}

func TestClassify_GrantDriftIsCritical(t *testing.T) {
	d := detector()
	report := d.NewReport()
	d.Classify(report, &diff.Diff{
		ResourceType: catalog.TypeSchema,
		ResourceName: "c.s",
		Changes: []diff.Change{
			{FieldPath: "grants.add", Action: diff.ActionAdd},
			{FieldPath: "comment", Action: diff.ActionModify},
		},
	})

	require.Len(t, report.Drifted, 1)
	entry := report.Drifted[0]
	assert.Equal(t, SeverityCritical, entry.Severity, "entry takes its worst change's severity")
	assert.Equal(t, SeverityCritical, entry.Changes[0].Severity)
	assert.Equal(t, SeverityInfo, entry.Changes[1].Severity)
}

func TestClassify_TagSeverityDependsOnConvention(t *testing.T) {
	d := detector()

	cases := []struct {
		field string
		want  Severity
	}{
		{"tags.pii", SeverityCritical},
		{"tags.data_owner", SeverityWarning},
		{"tags.misc", SeverityInfo},
	}
	for _, tc := range cases {
		report := d.NewReport()
		d.Classify(report, &diff.Diff{
			ResourceType: catalog.TypeTable,
			ResourceName: "c.s.t",
			Changes:      []diff.Change{{FieldPath: tc.field, Action: diff.ActionModify}},
		})
		require.Len(t, report.Drifted, 1)
		assert.Equal(t, tc.want, report.Drifted[0].Severity, tc.field)
	}
}

func TestClassify_OwnerSeverityByTier(t *testing.T) {
	d := detector()

	report := d.NewReport()
	d.Classify(report, &diff.Diff{
		ResourceType: catalog.TypeCatalog,
		ResourceName: "c",
		Changes:      []diff.Change{{FieldPath: "owner", Action: diff.ActionModify}},
	})
	assert.Equal(t, SeverityCritical, report.Drifted[0].Severity, "tier-1 owner drift is critical")

	report = d.NewReport()
	d.Classify(report, &diff.Diff{
		ResourceType: catalog.TypeTable,
		ResourceName: "c.s.t",
		Changes:      []diff.Change{{FieldPath: "owner", Action: diff.ActionModify}},
	})
	assert.Equal(t, SeverityWarning, report.Drifted[0].Severity)
}

func TestClassify_PolicyFieldsCritical(t *testing.T) {
	d := detector()
	for _, field := range []string{"row_filter", "column_masks.ssn", "policies.hide_pii", "isolation_mode"} {
		report := d.NewReport()
		d.Classify(report, &diff.Diff{
			ResourceType: catalog.TypeTable,
			ResourceName: "c.s.t",
			Changes:      []diff.Change{{FieldPath: field, Action: diff.ActionModify}},
		})
		assert.Equal(t, SeverityCritical, report.Drifted[0].Severity, field)
	}
}

func TestCountBySeverity(t *testing.T) {
	d := detector()
	report := d.NewReport()
	d.Classify(report, &diff.Diff{
		ResourceType: catalog.TypeTable, ResourceName: "a",
		Changes: []diff.Change{{FieldPath: "grants.add", Action: diff.ActionAdd}},
	})
	d.Classify(report, &diff.Diff{
		ResourceType: catalog.TypeTable, ResourceName: "b",
		Changes: []diff.Change{{FieldPath: "comment", Action: diff.ActionModify}},
	})

	counts := report.CountBySeverity()
	assert.Equal(t, 1, counts[SeverityCritical])
	assert.Equal(t, 1, counts[SeverityInfo])
}
