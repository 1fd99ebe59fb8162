// Package state reads observed resource state from the backends and
// normalizes it into records comparable with declared state.
package state

import (
	"github.com/tidwall/gjson"

	"github.com/CauchyIO/brickkit/backend"
	"github.com/CauchyIO/brickkit/catalog"
)

// Record is the normalized observed state of one resource. Backend-only
// fields (ids, timestamps) are dropped during normalization so the differ
// never sees them.
type Record struct {
	Type     catalog.ResourceType
	Name     string
	FullName string
	Owner    string
	Comment  string

	Tags     map[string]string
	Grants   map[string][]string
	Bindings []int64

	IsolationMode   string
	TableType       string
	StorageLocation string
	Columns         []backend.ColumnInfo
	Properties      map[string]string

	RowFilter   string
	ColumnMasks map[string]string
	Policies    []backend.PolicyRecord

	// ReferencedTables lists the table identifiers a space's serialized
	// definition points at.
	ReferencedTables []string

	// Partial marks a record whose enrichment was blocked by permissions;
	// the differ must not treat its missing fields as absent.
	Partial bool
}

// HasGrant reports whether principal holds privilege in the observed state.
func (r *Record) HasGrant(principal, privilege string) bool {
	for _, p := range r.Grants[principal] {
		if p == privilege {
			return true
		}
	}
	return false
}

// normalize converts a backend record into a state record.
func normalize(info *backend.ResourceInfo) *Record {
	rec := &Record{
		Type:            info.Type,
		Name:            info.Name,
		FullName:        info.FullName,
		Owner:           info.Owner,
		Comment:         info.Comment,
		IsolationMode:   info.IsolationMode,
		TableType:       info.TableType,
		StorageLocation: info.StorageLocation,
		Columns:         info.Columns,
		Properties:      info.Properties,
		Tags:            map[string]string{},
		Grants:          map[string][]string{},
		ColumnMasks:     map[string]string{},
		Bindings:        info.WorkspaceBindings,
	}
	for _, t := range info.Tags {
		rec.Tags[t.Key] = t.Value
	}
	if info.Type == catalog.TypeSpace && info.SerializedDefinition != "" {
		rec.ReferencedTables = extractSpaceTables(info.SerializedDefinition)
	}
	return rec
}

// extractSpaceTables pulls table identifiers out of a space's serialized
// definition document. The document is vendor JSON; the identifiers live
// under data_sources[].table and fallback top-level tables[].
func extractSpaceTables(serialized string) []string {
	if !gjson.Valid(serialized) {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(result gjson.Result) {
		name := result.String()
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	gjson.Get(serialized, "data_sources.#.table").ForEach(func(_, v gjson.Result) bool {
		add(v)
		return true
	})
	gjson.Get(serialized, "tables").ForEach(func(_, v gjson.Result) bool {
		add(v)
		return true
	})
	return out
}
