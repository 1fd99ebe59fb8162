package reconcile

import (
	"fmt"
	"strings"

	"github.com/CauchyIO/brickkit/access"
	"github.com/CauchyIO/brickkit/backend"
	"github.com/CauchyIO/brickkit/catalog"
)

// SQL statement builders for the operations the control plane does not
// cover: table DDL, functions, policies, row filters, and column masks.

func createTableSQL(t *catalog.Table, fqn string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", backend.QuoteFQN(fqn))
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "`%s` %s", c.Name, c.DataType)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.Comment != "" {
			fmt.Fprintf(&b, " COMMENT %s", backend.QuoteString(c.Comment))
		}
	}
	b.WriteString(")")
	if t.TableType == catalog.TableExternal {
		if loc := t.EffectiveLocation(); loc != "" {
			fmt.Fprintf(&b, " LOCATION %s", backend.QuoteString(loc))
		}
	}
	if len(t.PartitionedBy) > 0 {
		quoted := make([]string, len(t.PartitionedBy))
		for i, c := range t.PartitionedBy {
			quoted[i] = "`" + c + "`"
		}
		fmt.Fprintf(&b, " PARTITIONED BY (%s)", strings.Join(quoted, ", "))
	}
	if t.Comment != "" {
		fmt.Fprintf(&b, " COMMENT %s", backend.QuoteString(t.Comment))
	}
	if len(t.Properties) > 0 {
		var pairs []string
		for k, v := range t.Properties {
			pairs = append(pairs, fmt.Sprintf("%s = %s", backend.QuoteString(k), backend.QuoteString(v)))
		}
		fmt.Fprintf(&b, " TBLPROPERTIES (%s)", strings.Join(pairs, ", "))
	}
	return b.String()
}

func createFunctionSQL(f *catalog.Function, fqn string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE FUNCTION %s(", backend.QuoteFQN(fqn))
	for i, p := range f.Parameters {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", p.Name, p.DataType)
	}
	b.WriteString(")")
	if f.Kind == catalog.FunctionTable {
		fmt.Fprintf(&b, " RETURNS TABLE")
		if f.ReturnType != "" {
			fmt.Fprintf(&b, " (%s)", f.ReturnType)
		}
	} else if f.ReturnType != "" {
		fmt.Fprintf(&b, " RETURNS %s", f.ReturnType)
	}
	fmt.Fprintf(&b, " RETURN %s", f.Definition)
	return b.String()
}

func dropSQL(rt catalog.ResourceType, fqn string) string {
	switch rt {
	case catalog.TypeTable:
		return fmt.Sprintf("DROP TABLE IF EXISTS %s", backend.QuoteFQN(fqn))
	case catalog.TypeFunction:
		return fmt.Sprintf("DROP FUNCTION IF EXISTS %s", backend.QuoteFQN(fqn))
	}
	return ""
}

func setRowFilterSQL(tableFQN, functionName string, inputColumns []string) string {
	cols := make([]string, len(inputColumns))
	for i, c := range inputColumns {
		cols[i] = "`" + c + "`"
	}
	return fmt.Sprintf("ALTER TABLE %s SET ROW FILTER %s ON (%s)",
		backend.QuoteFQN(tableFQN), backend.QuoteFQN(functionName), strings.Join(cols, ", "))
}

func dropRowFilterSQL(tableFQN string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP ROW FILTER", backend.QuoteFQN(tableFQN))
}

func setColumnMaskSQL(tableFQN string, mask catalog.ColumnMaskSpec) string {
	stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN `%s` SET MASK %s",
		backend.QuoteFQN(tableFQN), mask.ColumnName, backend.QuoteFQN(mask.FunctionName))
	if len(mask.ExtraColumns) > 0 {
		cols := make([]string, len(mask.ExtraColumns))
		for i, c := range mask.ExtraColumns {
			cols[i] = "`" + c + "`"
		}
		stmt += fmt.Sprintf(" USING COLUMNS (%s)", strings.Join(cols, ", "))
	}
	return stmt
}

func dropColumnMaskSQL(tableFQN, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN `%s` DROP MASK", backend.QuoteFQN(tableFQN), column)
}

func createPolicySQL(p *access.ABACPolicy) string {
	var b strings.Builder
	kind := "ROW FILTER"
	if p.PolicyType == access.ABACColumnMask {
		kind = "COLUMN MASK"
	}
	fmt.Fprintf(&b, "CREATE OR REPLACE POLICY %s ON SCHEMA %s %s %s",
		backend.QuoteFQN(p.Name), backend.QuoteFQN(p.ContainerFQN), kind, backend.QuoteFQN(p.FunctionRef))
	if p.PolicyType == access.ABACColumnMask && p.TargetColumn != "" {
		fmt.Fprintf(&b, " ON COLUMN `%s`", p.TargetColumn)
	}
	var principals []string
	for _, t := range p.TargetPrincipals {
		principals = append(principals, backend.QuoteString(t.ResolvedName(catalog.CurrentEnvironment())))
	}
	if len(principals) > 0 {
		fmt.Fprintf(&b, " TO %s", strings.Join(principals, ", "))
	}
	var except []string
	for _, e := range p.ExceptPrincipals {
		except = append(except, backend.QuoteString(e.ResolvedName(catalog.CurrentEnvironment())))
	}
	if len(except) > 0 {
		fmt.Fprintf(&b, " EXCEPT %s", strings.Join(except, ", "))
	}
	var conditions []string
	for _, c := range p.MatchConditions {
		conditions = append(conditions, c.SQL())
	}
	fmt.Fprintf(&b, " MATCH COLUMNS %s", strings.Join(conditions, " AND "))
	return b.String()
}

func dropPolicySQL(containerFQN, name string) string {
	return fmt.Sprintf("DROP POLICY IF EXISTS %s ON SCHEMA %s", backend.QuoteFQN(name), backend.QuoteFQN(containerFQN))
}
