package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CauchyIO/brickkit/access"
	"github.com/CauchyIO/brickkit/catalog"
)

func TestCreateTableSQL(t *testing.T) {
	tbl := catalog.NewTable("orders",
		catalog.Column{Name: "id", DataType: "BIGINT"},
		catalog.Column{Name: "note", DataType: "STRING", Nullable: true, Comment: "free text"},
	)
	tbl.PartitionedBy = []string{"id"}
	tbl.Comment = "order facts"
	tbl.Properties = map[string]string{"delta.appendOnly": "true"}

	sql := createTableSQL(tbl, "c.s.orders")
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS `c`.`s`.`orders`")
	assert.Contains(t, sql, "`id` BIGINT NOT NULL")
	assert.Contains(t, sql, "`note` STRING COMMENT 'free text'")
	assert.Contains(t, sql, "PARTITIONED BY (`id`)")
	assert.Contains(t, sql, "COMMENT 'order facts'")
	assert.Contains(t, sql, "TBLPROPERTIES ('delta.appendOnly' = 'true')")
}

func TestCreateTableSQL_ExternalLocation(t *testing.T) {
	cat := catalog.NewCatalog("c")
	sch := catalog.NewSchema("s")
	tbl := catalog.NewTable("ext", catalog.Column{Name: "id", DataType: "BIGINT"})
	tbl.TableType = catalog.TableExternal
	tbl.StorageLocation = "s3://bucket/ext"
	require.NoError(t, catalog.AttachChild(cat, sch))
	require.NoError(t, catalog.AttachChild(sch, tbl))

	sql := createTableSQL(tbl, "c_dev.s_dev.ext")
	assert.Contains(t, sql, "LOCATION 's3://bucket/ext'")
}

func TestCreateFunctionSQL(t *testing.T) {
	fn := catalog.NewFunction("pii_filter", "BOOLEAN", "is_account_group_member(group_name)",
		catalog.FunctionParam{Name: "group_name", DataType: "STRING"})

	sql := createFunctionSQL(fn, "c.gov.pii_filter")
	assert.Equal(t,
		"CREATE OR REPLACE FUNCTION `c`.`gov`.`pii_filter`(group_name STRING) RETURNS BOOLEAN RETURN is_account_group_member(group_name)",
		sql)
}

func TestCreateFunctionSQL_TableFunction(t *testing.T) {
	fn := catalog.NewFunction("visible_rows", "id BIGINT", "SELECT id FROM src")
	fn.Kind = catalog.FunctionTable

	sql := createFunctionSQL(fn, "c.gov.visible_rows")
	assert.Contains(t, sql, "RETURNS TABLE (id BIGINT)")
}

func TestRowFilterAndMaskSQL(t *testing.T) {
	assert.Equal(t,
		"ALTER TABLE `c`.`s`.`t` SET ROW FILTER `gov`.`f` ON (`region`, `dept`)",
		setRowFilterSQL("c.s.t", "gov.f", []string{"region", "dept"}))
	assert.Equal(t, "ALTER TABLE `c`.`s`.`t` DROP ROW FILTER", dropRowFilterSQL("c.s.t"))

	mask := catalog.ColumnMaskSpec{ColumnName: "ssn", FunctionName: "gov.mask", ExtraColumns: []string{"role"}}
	assert.Equal(t,
		"ALTER TABLE `c`.`s`.`t` ALTER COLUMN `ssn` SET MASK `gov`.`mask` USING COLUMNS (`role`)",
		setColumnMaskSQL("c.s.t", mask))
	assert.Equal(t,
		"ALTER TABLE `c`.`s`.`t` ALTER COLUMN `ssn` DROP MASK",
		dropColumnMaskSQL("c.s.t", "ssn"))
}

func TestCreatePolicySQL(t *testing.T) {
	catalog.SetEnvironment(catalog.EnvDev)
	t.Cleanup(catalog.ResetEnvironment)

	p := &access.ABACPolicy{
		Name:             "hide_pii",
		PolicyType:       access.ABACRowFilter,
		FunctionRef:      "c.gov.f",
		ContainerFQN:     "c.s",
		TargetPrincipals: []catalog.Principal{catalog.NewGroup("analysts")},
		ExceptPrincipals: []catalog.Principal{catalog.NewGroup("admins")},
		MatchConditions: []access.MatchCondition{
			{TagKey: "pii", TagValue: "true"},
		},
	}
	sql := createPolicySQL(p)
	assert.Contains(t, sql, "CREATE OR REPLACE POLICY `hide_pii` ON SCHEMA `c`.`s` ROW FILTER `c`.`gov`.`f`")
	assert.Contains(t, sql, "TO 'analysts_dev'")
	assert.Contains(t, sql, "EXCEPT 'admins_dev'")
	assert.Contains(t, sql, "MATCH COLUMNS hasTagValue('pii', 'true')")

	assert.Equal(t, "DROP POLICY IF EXISTS `hide_pii` ON SCHEMA `c`.`s`", dropPolicySQL("c.s", "hide_pii"))
}
