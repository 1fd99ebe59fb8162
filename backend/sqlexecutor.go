package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// WarehouseExecutor implements SQLExecutor over a database/sql connection
// to the warehouse. The caller supplies the connection (and its driver);
// the executor owns statement shaping and result normalization only.
type WarehouseExecutor struct {
	db          *sqlx.DB
	warehouseID string
}

// NewWarehouseExecutor wraps db for warehouse warehouseID.
func NewWarehouseExecutor(db *sqlx.DB, warehouseID string) *WarehouseExecutor {
	return &WarehouseExecutor{db: db, warehouseID: warehouseID}
}

// WarehouseID identifies the warehouse this executor is bound to.
func (e *WarehouseExecutor) WarehouseID() string { return e.warehouseID }

// Execute runs sql and normalizes the result set into keyed rows.
func (e *WarehouseExecutor) Execute(ctx context.Context, sql string) ([]Row, error) {
	rows, err := e.db.QueryxContext(ctx, sql)
	if err != nil {
		return nil, errors.SQL(sql, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		raw := map[string]interface{}{}
		if err := rows.MapScan(raw); err != nil {
			return nil, errors.SQL(sql, err)
		}
		row := make(Row, len(raw))
		for k, v := range raw {
			row[k] = toString(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.SQL(sql, err)
	}
	return out, nil
}

// DescribeTableExtended fetches row filter, column masks, and table
// properties, which the control plane does not expose.
func (e *WarehouseExecutor) DescribeTableExtended(ctx context.Context, fqn string) (*TableExtended, error) {
	rows, err := e.Execute(ctx, fmt.Sprintf("DESCRIBE TABLE EXTENDED %s", QuoteFQN(fqn)))
	if err != nil {
		return nil, err
	}
	return ParseTableExtended(rows), nil
}

// DescribeFunction fetches a function's signature and body.
func (e *WarehouseExecutor) DescribeFunction(ctx context.Context, fqn string) (*FunctionDetail, error) {
	rows, err := e.Execute(ctx, fmt.Sprintf("DESCRIBE FUNCTION EXTENDED %s", QuoteFQN(fqn)))
	if err != nil {
		return nil, err
	}
	return ParseFunctionDetail(rows), nil
}

// ParseTableExtended interprets DESCRIBE TABLE EXTENDED output. The result
// set is (col_name, data_type, comment) tuples where governance rows appear
// in the trailing detail section.
func ParseTableExtended(rows []Row) *TableExtended {
	ext := &TableExtended{ColumnMasks: map[string]string{}, Properties: map[string]string{}}
	inMasks := false
	for _, row := range rows {
		name := strings.TrimSpace(row["col_name"])
		value := strings.TrimSpace(row["data_type"])
		switch {
		case name == "# Column Masks":
			inMasks = true
		case strings.HasPrefix(name, "#"):
			inMasks = false
		case name == "Row Filter":
			ext.RowFilter = value
		case name == "Table Properties":
			for k, v := range parsePropertyList(value) {
				ext.Properties[k] = v
			}
		case inMasks && name != "":
			ext.ColumnMasks[name] = value
		}
	}
	return ext
}

// ParseFunctionDetail interprets DESCRIBE FUNCTION EXTENDED output, which
// arrives as single-column "Key: value" lines.
func ParseFunctionDetail(rows []Row) *FunctionDetail {
	detail := &FunctionDetail{}
	inBody := false
	var body []string
	for _, row := range rows {
		line := row["function_desc"]
		if line == "" {
			line = row["col_name"]
		}
		switch {
		case inBody:
			body = append(body, line)
		case strings.HasPrefix(line, "Type:"):
			detail.Language = strings.TrimSpace(strings.TrimPrefix(line, "Type:"))
		case strings.HasPrefix(line, "Returns:"):
			detail.ReturnType = strings.TrimSpace(strings.TrimPrefix(line, "Returns:"))
		case strings.HasPrefix(line, "Input:"):
			detail.Parameters = append(detail.Parameters, strings.TrimSpace(strings.TrimPrefix(line, "Input:")))
		case strings.HasPrefix(line, "Body:"):
			inBody = true
			if rest := strings.TrimSpace(strings.TrimPrefix(line, "Body:")); rest != "" {
				body = append(body, rest)
			}
		}
	}
	detail.Body = strings.TrimSpace(strings.Join(body, "\n"))
	return detail
}

// parsePropertyList parses "[k1=v1,k2=v2]" property renderings.
func parsePropertyList(raw string) map[string]string {
	out := map[string]string{}
	raw = strings.TrimPrefix(strings.TrimSuffix(strings.TrimSpace(raw), "]"), "[")
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return out
}

// QuoteFQN backtick-quotes each dotted segment of a fully qualified name.
func QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

// QuoteString single-quotes a SQL string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
