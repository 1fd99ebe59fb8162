package catalog

// TableType distinguishes managed, external, and view tables.
type TableType string

const (
	TableManaged  TableType = "MANAGED"
	TableExternal TableType = "EXTERNAL"
	TableView     TableType = "VIEW"
)

// Column describes one table column.
type Column struct {
	Name     string
	DataType string
	Nullable bool
	Comment  string
}

// RowFilterSpec binds a predicate function to a table. The function receives
// the listed columns as arguments.
type RowFilterSpec struct {
	FunctionName string
	InputColumns []string
}

// ColumnMaskSpec binds a masking function to one column.
type ColumnMaskSpec struct {
	ColumnName   string
	FunctionName string
	ExtraColumns []string
}

// Table is a governed table or view inside a schema.
type Table struct {
	base
	Columns       []Column
	TableType     TableType
	PartitionedBy []string
	Properties    map[string]string
	RowFilter     *RowFilterSpec
	ColumnMasks   []ColumnMaskSpec
}

// NewTable creates a managed table descriptor. Table names carry no
// environment suffix; their catalog already does.
func NewTable(name string, columns ...Column) *Table {
	t := &Table{base: newBase(TypeTable, name), Columns: columns, TableType: TableManaged}
	t.AddEnvironmentSuffix = false
	return t
}

// NewTableReference declares an externally-managed table.
func NewTableReference(name string) *Table {
	t := NewTable(name)
	t.Reference = true
	return t
}

func (t *Table) Type() ResourceType { return TypeTable }

// WithRowFilter attaches a direct row filter. Mutually exclusive with an
// ABAC row-filter policy targeting the table's container.
func (t *Table) WithRowFilter(functionName string, inputColumns ...string) *Table {
	t.RowFilter = &RowFilterSpec{FunctionName: functionName, InputColumns: inputColumns}
	return t
}

// WithColumnMask attaches a masking function to a column.
func (t *Table) WithColumnMask(column, functionName string, extra ...string) *Table {
	t.ColumnMasks = append(t.ColumnMasks, ColumnMaskSpec{
		ColumnName:   column,
		FunctionName: functionName,
		ExtraColumns: extra,
	})
	return t
}

// VolumeType distinguishes managed from external volumes.
type VolumeType string

const (
	VolumeManaged  VolumeType = "MANAGED"
	VolumeExternal VolumeType = "EXTERNAL"
)

// Volume is a governed file volume inside a schema.
type Volume struct {
	base
	VolumeType VolumeType
}

// NewVolume creates a managed volume descriptor.
func NewVolume(name string) *Volume {
	v := &Volume{base: newBase(TypeVolume, name), VolumeType: VolumeManaged}
	v.AddEnvironmentSuffix = false
	return v
}

// NewExternalVolume creates an external volume rooted at location.
func NewExternalVolume(name, location string) *Volume {
	v := NewVolume(name)
	v.VolumeType = VolumeExternal
	v.StorageLocation = location
	return v
}

// NewVolumeReference declares an externally-managed volume.
func NewVolumeReference(name string) *Volume {
	v := NewVolume(name)
	v.Reference = true
	return v
}

func (v *Volume) Type() ResourceType { return TypeVolume }

// FunctionKind distinguishes scalar from table functions.
type FunctionKind string

const (
	FunctionScalar FunctionKind = "SCALAR"
	FunctionTable  FunctionKind = "TABLE"
)

// FunctionParam describes one function parameter.
type FunctionParam struct {
	Name     string
	DataType string
}

// Function is a governed SQL function inside a schema. Functions flagged as
// row filters or column masks are created before the policies that use them.
type Function struct {
	base
	Kind         FunctionKind
	Parameters   []FunctionParam
	ReturnType   string
	Definition   string
	IsRowFilter  bool
	IsColumnMask bool
}

// NewFunction creates a scalar function descriptor.
func NewFunction(name, returnType, definition string, params ...FunctionParam) *Function {
	f := &Function{
		base:       newBase(TypeFunction, name),
		Kind:       FunctionScalar,
		ReturnType: returnType,
		Definition: definition,
		Parameters: params,
	}
	f.AddEnvironmentSuffix = false
	return f
}

// NewFunctionReference declares an externally-managed function.
func NewFunctionReference(name string) *Function {
	f := NewFunction(name, "", "")
	f.Reference = true
	return f
}

func (f *Function) Type() ResourceType { return TypeFunction }

// ModelTier classifies a registered model's maturity.
type ModelTier string

const (
	ModelTierExperimental ModelTier = "EXPERIMENTAL"
	ModelTierProduction   ModelTier = "PRODUCTION"
)

// Model is a registered ML model inside a schema.
type Model struct {
	base
	Tier          ModelTier
	Stage         string
	LineageSource string
}

// NewModel creates a model descriptor.
func NewModel(name string) *Model {
	m := &Model{base: newBase(TypeModel, name), Tier: ModelTierExperimental}
	m.AddEnvironmentSuffix = false
	return m
}

// NewModelReference declares an externally-managed model.
func NewModelReference(name string) *Model {
	m := NewModel(name)
	m.Reference = true
	return m
}

func (m *Model) Type() ResourceType { return TypeModel }

// Space is a conversational-analytics entity referencing tables and
// functions through a serialized definition document.
type Space struct {
	base
	WarehouseID          string
	SerializedDefinition string
}

// NewSpace creates a space descriptor.
func NewSpace(name, warehouseID string) *Space {
	s := &Space{base: newBase(TypeSpace, name), WarehouseID: warehouseID}
	s.AddEnvironmentSuffix = false
	return s
}

// NewSpaceReference declares an externally-managed space.
func NewSpaceReference(name string) *Space {
	s := NewSpace(name, "")
	s.Reference = true
	return s
}

func (s *Space) Type() ResourceType { return TypeSpace }

// VectorEndpoint serves vector-search indexes.
type VectorEndpoint struct {
	base
	EndpointType string
}

// NewVectorEndpoint creates a vector endpoint descriptor.
func NewVectorEndpoint(name string) *VectorEndpoint {
	e := &VectorEndpoint{base: newBase(TypeVectorEndpoint, name), EndpointType: "STANDARD"}
	e.AddEnvironmentSuffix = false
	return e
}

func (e *VectorEndpoint) Type() ResourceType { return TypeVectorEndpoint }

// VectorIndex is a vector-search index backed by a source table.
type VectorIndex struct {
	base
	EndpointName string
	SourceTable  string
	PrimaryKey   string
	IndexType    string
}

// NewVectorIndex creates a vector index descriptor.
func NewVectorIndex(name, endpointName, sourceTable, primaryKey string) *VectorIndex {
	i := &VectorIndex{
		base:         newBase(TypeVectorIndex, name),
		EndpointName: endpointName,
		SourceTable:  sourceTable,
		PrimaryKey:   primaryKey,
		IndexType:    "DELTA_SYNC",
	}
	i.AddEnvironmentSuffix = false
	return i
}

func (i *VectorIndex) Type() ResourceType { return TypeVectorIndex }
