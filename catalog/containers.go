package catalog

// Metastore anchors the resource tree. The engine governs its bindings and
// children; the metastore itself is always externally managed.
type Metastore struct {
	base
	Region string
}

// NewMetastore creates a metastore descriptor. Metastore names are global
// and never suffixed.
func NewMetastore(name string) *Metastore {
	m := &Metastore{base: newBase(TypeMetastore, name)}
	m.AddEnvironmentSuffix = false
	return m
}

func (m *Metastore) Type() ResourceType { return TypeMetastore }

// Catalog is the top-level container below the metastore.
type Catalog struct {
	base
	StorageRoot string
}

// NewCatalog creates a catalog descriptor with environment suffixing on.
func NewCatalog(name string) *Catalog {
	return &Catalog{base: newBase(TypeCatalog, name)}
}

// NewCatalogReference declares an externally-managed catalog: governed for
// tags, grants, and policies, never created or dropped.
func NewCatalogReference(name string) *Catalog {
	c := NewCatalog(name)
	c.Reference = true
	c.AddEnvironmentSuffix = false
	return c
}

func (c *Catalog) Type() ResourceType { return TypeCatalog }

// WithOwner sets the declared owner.
func (c *Catalog) WithOwner(p Principal) *Catalog {
	c.Owner = &p
	return c
}

// WithIsolation sets the isolation mode. ISOLATED requires workspace
// bindings to be applied first; the reconciler enforces the ordering.
func (c *Catalog) WithIsolation(mode IsolationMode, workspaceIDs ...int64) *Catalog {
	c.IsolationMode = mode
	c.WorkspaceBindings = append(c.WorkspaceBindings, workspaceIDs...)
	return c
}

// Schema groups data assets inside a catalog.
type Schema struct {
	base
}

// NewSchema creates a schema descriptor with environment suffixing on.
func NewSchema(name string) *Schema {
	return &Schema{base: newBase(TypeSchema, name)}
}

// NewSchemaReference declares an externally-managed schema.
func NewSchemaReference(name string) *Schema {
	s := NewSchema(name)
	s.Reference = true
	s.AddEnvironmentSuffix = false
	return s
}

func (s *Schema) Type() ResourceType { return TypeSchema }

// WithOwner sets the declared owner.
func (s *Schema) WithOwner(p Principal) *Schema {
	s.Owner = &p
	return s
}

// CatalogName returns the resolved parent catalog name, or empty when the
// schema is not attached.
func (s *Schema) CatalogName(env Environment) string {
	if p := s.Parent(); p != nil {
		return p.Base().ResolvedName(env)
	}
	return ""
}
