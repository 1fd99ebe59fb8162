package catalog

import (
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// CreateParams is the minimal record a backend needs to create a resource.
// Fields the backend rejects at creation time (column masks, row filters)
// are deliberately absent; they are applied through a secondary path after
// the resource exists.
type CreateParams struct {
	Type        ResourceType
	Name        string
	FullName    string
	CatalogName string
	SchemaName  string
	Owner       string
	Comment     string
	Fields      map[string]interface{}
}

// UpdateParams describes only the fields an update should touch.
type UpdateParams struct {
	Type     ResourceType
	FullName string
	Fields   map[string]interface{}
}

// NewCreateParams produces the creation record for r, resolved for env.
// Reference resources are never created and return an error.
func NewCreateParams(r Resource, env Environment) (CreateParams, error) {
	b := r.Base()
	if b.Reference {
		return CreateParams{}, errors.ReferenceImmutable(b.Name)
	}

	p := CreateParams{
		Type:     r.Type(),
		Name:     b.ResolvedName(env),
		FullName: FQN(r, env),
		Comment:  b.Comment,
		Fields:   map[string]interface{}{},
	}
	if owner := b.EffectiveOwner(); owner != nil {
		p.Owner = owner.ResolvedName(env)
	}
	p.CatalogName, p.SchemaName = parentNames(r, env)

	switch v := r.(type) {
	case *Catalog:
		if v.StorageRoot != "" {
			p.Fields["storage_root"] = v.StorageRoot
		}
	case *Schema:
		if loc := b.EffectiveLocation(); loc != "" {
			p.Fields["storage_root"] = loc
		}
	case *Table:
		p.Fields["table_type"] = string(v.TableType)
		p.Fields["columns"] = v.Columns
		if len(v.PartitionedBy) > 0 {
			p.Fields["partitioned_by"] = v.PartitionedBy
		}
		if loc := b.EffectiveLocation(); loc != "" && v.TableType == TableExternal {
			p.Fields["storage_location"] = loc
		}
		if len(v.Properties) > 0 {
			p.Fields["properties"] = v.Properties
		}
	case *Volume:
		p.Fields["volume_type"] = string(v.VolumeType)
		if v.VolumeType == VolumeExternal {
			p.Fields["storage_location"] = b.EffectiveLocation()
		}
	case *Function:
		p.Fields["kind"] = string(v.Kind)
		p.Fields["return_type"] = v.ReturnType
		p.Fields["definition"] = v.Definition
		p.Fields["parameters"] = v.Parameters
	case *Model:
		p.Fields["tier"] = string(v.Tier)
		if v.Stage != "" {
			p.Fields["stage"] = v.Stage
		}
		if v.LineageSource != "" {
			p.Fields["lineage_source"] = v.LineageSource
		}
	case *Space:
		p.Fields["warehouse_id"] = v.WarehouseID
		if v.SerializedDefinition != "" {
			p.Fields["serialized_definition"] = v.SerializedDefinition
		}
	case *VectorEndpoint:
		p.Fields["endpoint_type"] = v.EndpointType
	case *VectorIndex:
		p.Fields["endpoint_name"] = v.EndpointName
		p.Fields["source_table"] = v.SourceTable
		p.Fields["primary_key"] = v.PrimaryKey
		p.Fields["index_type"] = v.IndexType
	case *StorageCredential:
		p.Fields["kind"] = string(v.Kind)
		p.Fields["credential_id"] = v.CredentialID
	case *ExternalLocation:
		p.Fields["url"] = v.URL
		p.Fields["credential_name"] = v.CredentialName
		p.Fields["read_only"] = v.ReadOnly
	case *Connection:
		p.Fields["connection_type"] = v.ConnectionType
		if len(v.Options) > 0 {
			p.Fields["options"] = v.Options
		}
	}
	return p, nil
}

// NewUpdateParams produces an update record carrying only the named fields.
// Field names follow the differ's field paths (owner, comment,
// isolation_mode, storage-specific fields).
func NewUpdateParams(r Resource, env Environment, fields []string) UpdateParams {
	b := r.Base()
	p := UpdateParams{
		Type:     r.Type(),
		FullName: FQN(r, env),
		Fields:   map[string]interface{}{},
	}
	for _, f := range fields {
		switch f {
		case "owner":
			if owner := b.EffectiveOwner(); owner != nil {
				p.Fields["owner"] = owner.ResolvedName(env)
			}
		case "comment":
			p.Fields["comment"] = b.Comment
		case "isolation_mode":
			p.Fields["isolation_mode"] = string(b.IsolationMode)
		default:
			if v, ok := typeField(r, f); ok {
				p.Fields[f] = v
			}
		}
	}
	return p
}

func typeField(r Resource, field string) (interface{}, bool) {
	switch v := r.(type) {
	case *ExternalLocation:
		switch field {
		case "url":
			return v.URL, true
		case "credential_name":
			return v.CredentialName, true
		case "read_only":
			return v.ReadOnly, true
		}
	case *Model:
		switch field {
		case "tier":
			return string(v.Tier), true
		case "stage":
			return v.Stage, true
		}
	case *Space:
		switch field {
		case "warehouse_id":
			return v.WarehouseID, true
		case "serialized_definition":
			return v.SerializedDefinition, true
		}
	case *Connection:
		if field == "options" {
			return v.Options, true
		}
	}
	return nil, false
}

func parentNames(r Resource, env Environment) (catalogName, schemaName string) {
	for cur := r.Base().Parent(); cur != nil; cur = cur.Base().Parent() {
		switch cur.Type() {
		case TypeCatalog:
			catalogName = cur.Base().ResolvedName(env)
		case TypeSchema:
			schemaName = cur.Base().ResolvedName(env)
		}
	}
	return catalogName, schemaName
}
