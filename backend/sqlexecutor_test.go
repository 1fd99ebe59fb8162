package backend

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

func newMockExecutor(t *testing.T) (*WarehouseExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWarehouseExecutor(sqlx.NewDb(db, "sqlmock"), "wh-123"), mock
}

func TestExecute_NormalizesRows(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectQuery("SHOW CATALOGS").WillReturnRows(
		sqlmock.NewRows([]string{"catalog"}).AddRow("analytics_dev").AddRow("ml_dev"),
	)

	rows, err := exec.Execute(context.Background(), "SHOW CATALOGS")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "analytics_dev", rows[0]["catalog"])
	assert.Equal(t, "ml_dev", rows[1]["catalog"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_WrapsErrors(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	_, err := exec.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSQL, errors.Code(err))
}

func TestDescribeTableExtended_ParsesGovernanceRows(t *testing.T) {
	exec, mock := newMockExecutor(t)
	rows := sqlmock.NewRows([]string{"col_name", "data_type", "comment"}).
		AddRow("id", "bigint", "").
		AddRow("", "", "").
		AddRow("# Detailed Table Information", "", "").
		AddRow("Row Filter", "prod.governance.pii_row_filter", "").
		AddRow("Table Properties", "[delta.minReaderVersion=1,owner.team=quant]", "").
		AddRow("# Column Masks", "", "").
		AddRow("ssn", "prod.governance.mask_ssn", "").
		AddRow("email", "prod.governance.mask_email", "")
	mock.ExpectQuery("DESCRIBE TABLE EXTENDED").WillReturnRows(rows)

	ext, err := exec.DescribeTableExtended(context.Background(), "prod.customers.people")
	require.NoError(t, err)
	assert.Equal(t, "prod.governance.pii_row_filter", ext.RowFilter)
	assert.Equal(t, "prod.governance.mask_ssn", ext.ColumnMasks["ssn"])
	assert.Equal(t, "prod.governance.mask_email", ext.ColumnMasks["email"])
	assert.Equal(t, "1", ext.Properties["delta.minReaderVersion"])
	assert.Equal(t, "quant", ext.Properties["owner.team"])
}

func TestParseFunctionDetail(t *testing.T) {
	rows := []Row{
		{"function_desc": "Function: prod.governance.pii_row_filter"},
		{"function_desc": "Type: SCALAR"},
		{"function_desc": "Input: group_name STRING"},
		{"function_desc": "Returns: BOOLEAN"},
		{"function_desc": "Body: is_account_group_member(group_name)"},
	}
	detail := ParseFunctionDetail(rows)
	assert.Equal(t, "SCALAR", detail.Language)
	assert.Equal(t, "BOOLEAN", detail.ReturnType)
	assert.Equal(t, []string{"group_name STRING"}, detail.Parameters)
	assert.Equal(t, "is_account_group_member(group_name)", detail.Body)
}

func TestQuoteFQN(t *testing.T) {
	assert.Equal(t, "`cat`.`sch`.`tbl`", QuoteFQN("cat.sch.tbl"))
	assert.Equal(t, "`we``ird`", QuoteFQN("we`ird"))
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, "'it''s'", QuoteString("it's"))
}
