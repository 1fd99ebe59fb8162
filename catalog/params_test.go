package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

func TestNewCreateParams_Catalog(t *testing.T) {
	owner := NewGroup("data_owners")
	cat := NewCatalog("analytics").WithOwner(owner)
	cat.StorageRoot = "abfss://root"

	p, err := NewCreateParams(cat, EnvDev)
	require.NoError(t, err)

	assert.Equal(t, "analytics_dev", p.Name)
	assert.Equal(t, "analytics_dev", p.FullName)
	assert.Equal(t, "data_owners_dev", p.Owner)
	assert.Equal(t, "abfss://root", p.Fields["storage_root"])
}

func TestNewCreateParams_ReferenceRaises(t *testing.T) {
	ref := NewTableReference("external.table")
	_, err := NewCreateParams(ref, EnvDev)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeReference, errors.Code(err))
}

func TestNewCreateParams_TableOmitsMasks(t *testing.T) {
	cat := NewCatalog("c")
	sch := NewSchema("s")
	tbl := NewTable("t",
		Column{Name: "id", DataType: "BIGINT"},
		Column{Name: "ssn", DataType: "STRING"},
	).WithColumnMask("ssn", "mask_ssn").WithRowFilter("filter_fn", "id")
	require.NoError(t, AttachChild(cat, sch))
	require.NoError(t, AttachChild(sch, tbl))

	p, err := NewCreateParams(tbl, EnvDev)
	require.NoError(t, err)

	assert.Equal(t, "c_dev", p.CatalogName)
	assert.Equal(t, "s_dev", p.SchemaName)
	assert.NotContains(t, p.Fields, "column_masks", "masks go through the secondary path")
	assert.NotContains(t, p.Fields, "row_filter")
	assert.Contains(t, p.Fields, "columns")
}

func TestNewUpdateParams_OnlyNamedFields(t *testing.T) {
	cat := NewCatalog("analytics")
	owner := NewServicePrincipal("platform")
	cat.Owner = &owner
	cat.Comment = "governed"
	cat.IsolationMode = IsolationIsolated

	p := NewUpdateParams(cat, EnvDev, []string{"owner", "comment"})
	assert.Equal(t, "platform_dev", p.Fields["owner"])
	assert.Equal(t, "governed", p.Fields["comment"])
	assert.NotContains(t, p.Fields, "isolation_mode")
}

func TestNewCreateParams_ExternalVolume(t *testing.T) {
	cat := NewCatalog("c")
	sch := NewSchema("s")
	vol := NewExternalVolume("landing", "s3://bucket/landing")
	require.NoError(t, AttachChild(cat, sch))
	require.NoError(t, AttachChild(sch, vol))

	p, err := NewCreateParams(vol, EnvDev)
	require.NoError(t, err)
	assert.Equal(t, "EXTERNAL", p.Fields["volume_type"])
	assert.Equal(t, "s3://bucket/landing", p.Fields["storage_location"])
}
