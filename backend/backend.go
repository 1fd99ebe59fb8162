// Package backend defines the two interfaces the engine reconciles through:
// a catalog control-plane client and a SQL warehouse executor. The engine
// depends only on these interfaces; production implementations wrap the
// vendor SDK and a database/sql connection to the warehouse.
package backend

import (
	"context"

	"github.com/CauchyIO/brickkit/catalog"
)

// TagRecord is one observed governance tag.
type TagRecord struct {
	Key   string
	Value string
}

// GrantRecord is one observed (principal, privileges) assignment.
type GrantRecord struct {
	Principal  string
	Privileges []string
}

// PolicyRecord is one observed ABAC policy on a container.
type PolicyRecord struct {
	Name            string
	PolicyType      string
	FunctionRef     string
	TargetColumn    string
	MatchConditions []TagRecord
	TargetPrincipals []string
	ExceptPrincipals []string
}

// ColumnInfo is one observed table column.
type ColumnInfo struct {
	Name     string
	DataType string
	Nullable bool
	Comment  string
}

// ResourceInfo is the normalized observed record for any resource. Fields
// that do not apply to a type stay zero. CreatedAt/UpdatedAt and ID are
// backend-owned and excluded from diffing.
type ResourceInfo struct {
	Type              catalog.ResourceType
	Name              string
	FullName          string
	Owner             string
	Comment           string
	Tags              []TagRecord
	IsolationMode     string
	WorkspaceBindings []int64
	Columns           []ColumnInfo
	TableType         string
	StorageLocation   string
	Properties        map[string]string
	SerializedDefinition string
	ID                string
	CreatedAt         int64
	UpdatedAt         int64
}

// PermissionRecord is an object-level ACL entry on a compute asset.
type PermissionRecord struct {
	Principal string
	Level     string
}

// CatalogClient is the control-plane surface the engine consumes. One
// generic set of operations keyed by resource type replaces per-type
// clients; the executor layer owns the single type switch (see the
// reconcile package).
type CatalogClient interface {
	Get(ctx context.Context, rt catalog.ResourceType, fullName string) (*ResourceInfo, error)
	Create(ctx context.Context, params catalog.CreateParams) (*ResourceInfo, error)
	Update(ctx context.Context, params catalog.UpdateParams) (*ResourceInfo, error)
	Delete(ctx context.Context, rt catalog.ResourceType, fullName string) error
	List(ctx context.Context, rt catalog.ResourceType, parentFullName string) ([]ResourceInfo, error)
	SetOwner(ctx context.Context, rt catalog.ResourceType, fullName, owner string) error

	GetGrants(ctx context.Context, rt catalog.ResourceType, fullName string) ([]GrantRecord, error)
	UpdateGrants(ctx context.Context, rt catalog.ResourceType, fullName string, add, remove []GrantRecord) error

	ListTags(ctx context.Context, rt catalog.ResourceType, fullName string) ([]TagRecord, error)
	SetTag(ctx context.Context, rt catalog.ResourceType, fullName, key, value string) error
	RemoveTag(ctx context.Context, rt catalog.ResourceType, fullName, key string) error

	GetWorkspaceBindings(ctx context.Context, fullName string) ([]int64, error)
	UpdateWorkspaceBindings(ctx context.Context, fullName string, add, remove []int64) error

	ListPolicies(ctx context.Context, containerFQN string) ([]PolicyRecord, error)
	CreatePolicy(ctx context.Context, containerFQN string, policy PolicyRecord) error
	UpdatePolicy(ctx context.Context, containerFQN string, policy PolicyRecord) error
	DeletePolicy(ctx context.Context, containerFQN, name string) error

	GetPermissions(ctx context.Context, rt catalog.ResourceType, fullName string) ([]PermissionRecord, error)
	SetPermissions(ctx context.Context, rt catalog.ResourceType, fullName string, perms []PermissionRecord) error
}

// Row is one SQL result row keyed by column name.
type Row map[string]string

// TableExtended carries the fields only DESCRIBE TABLE EXTENDED exposes.
type TableExtended struct {
	RowFilter   string
	ColumnMasks map[string]string
	Properties  map[string]string
}

// FunctionDetail carries the fields only DESCRIBE FUNCTION EXTENDED
// exposes.
type FunctionDetail struct {
	Language   string
	ReturnType string
	Parameters []string
	Body       string
}

// SQLExecutor is the warehouse surface. SQL covers what the control plane
// does not: table DDL, functions, policies, row filters, and column masks.
type SQLExecutor interface {
	Execute(ctx context.Context, sql string) ([]Row, error)
	DescribeTableExtended(ctx context.Context, fqn string) (*TableExtended, error)
	DescribeFunction(ctx context.Context, fqn string) (*FunctionDetail, error)
}
