package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// Fake is an in-memory CatalogClient and SQLExecutor. It backs the engine's
// scenario tests and doubles as a sandbox backend for local dry runs. All
// methods are safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	resources map[string]*ResourceInfo
	grants    map[string][]GrantRecord
	bindings  map[string][]int64
	policies  map[string]map[string]PolicyRecord
	perms     map[string][]PermissionRecord
	functions map[string]*FunctionDetail
	tableExt  map[string]*TableExtended

	// SQLLog records every executed statement in order.
	SQLLog []string
	// Mutations counts state-changing calls; dry-run tests assert zero.
	Mutations int
	// FailWith injects an error for an operation name ("Create", "Execute", ...).
	FailWith map[string]error
	// FailTimes fails an operation that many times before letting it
	// succeed, with FailWith[op] or a generic transient error.
	FailTimes map[string]int
}

// NewFake creates an empty fake backend.
func NewFake() *Fake {
	return &Fake{
		resources: map[string]*ResourceInfo{},
		grants:    map[string][]GrantRecord{},
		bindings:  map[string][]int64{},
		policies:  map[string]map[string]PolicyRecord{},
		perms:     map[string][]PermissionRecord{},
		functions: map[string]*FunctionDetail{},
		tableExt:  map[string]*TableExtended{},
		FailWith:  map[string]error{},
		FailTimes: map[string]int{},
	}
}

func (f *Fake) key(rt catalog.ResourceType, fullName string) string {
	return string(rt) + ":" + fullName
}

func (f *Fake) injected(op string) error {
	if n, ok := f.FailTimes[op]; ok && n > 0 {
		f.FailTimes[op] = n - 1
		if err, present := f.FailWith[op]; present {
			return err
		}
		return errors.Transient(op, fmt.Errorf("injected transient failure"))
	}
	if n, ok := f.FailTimes[op]; ok && n == 0 {
		return nil
	}
	if err, ok := f.FailWith[op]; ok {
		return err
	}
	return nil
}

// Seed installs an observed resource directly, bypassing the mutation
// counter. Test setup helper.
func (f *Fake) Seed(info ResourceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := info
	f.resources[f.key(info.Type, info.FullName)] = &copied
}

// SeedGrants installs observed grants directly.
func (f *Fake) SeedGrants(rt catalog.ResourceType, fullName string, grants []GrantRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[f.key(rt, fullName)] = append([]GrantRecord(nil), grants...)
}

// SeedTableExtended installs DESCRIBE EXTENDED fields for a table.
func (f *Fake) SeedTableExtended(fqn string, ext TableExtended) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := ext
	f.tableExt[fqn] = &copied
}

// Get returns the observed record, or a NotFound error.
func (f *Fake) Get(ctx context.Context, rt catalog.ResourceType, fullName string) (*ResourceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("Get"); err != nil {
		return nil, err
	}
	info, ok := f.resources[f.key(rt, fullName)]
	if !ok {
		return nil, errors.NotFound(string(rt), fullName)
	}
	copied := *info
	return &copied, nil
}

// Create materializes a resource from params.
func (f *Fake) Create(ctx context.Context, params catalog.CreateParams) (*ResourceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("Create"); err != nil {
		return nil, err
	}
	key := f.key(params.Type, params.FullName)
	if _, exists := f.resources[key]; exists {
		return nil, errors.AlreadyExists(string(params.Type), params.FullName)
	}
	info := &ResourceInfo{
		Type:     params.Type,
		Name:     params.Name,
		FullName: params.FullName,
		Owner:    params.Owner,
		Comment:  params.Comment,
		ID:       fmt.Sprintf("fake-%d", len(f.resources)+1),
	}
	applyFields(info, params.Fields)
	f.resources[key] = info
	f.Mutations++
	copied := *info
	return &copied, nil
}

// Update applies only the fields present in params.
func (f *Fake) Update(ctx context.Context, params catalog.UpdateParams) (*ResourceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("Update"); err != nil {
		return nil, err
	}
	info, ok := f.resources[f.key(params.Type, params.FullName)]
	if !ok {
		return nil, errors.NotFound(string(params.Type), params.FullName)
	}
	if owner, ok := params.Fields["owner"].(string); ok {
		info.Owner = owner
	}
	if comment, ok := params.Fields["comment"].(string); ok {
		info.Comment = comment
	}
	if mode, ok := params.Fields["isolation_mode"].(string); ok {
		info.IsolationMode = mode
	}
	applyFields(info, params.Fields)
	f.Mutations++
	copied := *info
	return &copied, nil
}

// Delete removes a resource.
func (f *Fake) Delete(ctx context.Context, rt catalog.ResourceType, fullName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("Delete"); err != nil {
		return err
	}
	key := f.key(rt, fullName)
	if _, ok := f.resources[key]; !ok {
		return errors.NotFound(string(rt), fullName)
	}
	delete(f.resources, key)
	f.Mutations++
	return nil
}

// List returns children of parentFullName of type rt.
func (f *Fake) List(ctx context.Context, rt catalog.ResourceType, parentFullName string) ([]ResourceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("List"); err != nil {
		return nil, err
	}
	var out []ResourceInfo
	for _, info := range f.resources {
		if info.Type != rt {
			continue
		}
		if parentFullName == "" || strings.HasPrefix(info.FullName, parentFullName+".") {
			out = append(out, *info)
		}
	}
	return out, nil
}

// SetOwner updates ownership.
func (f *Fake) SetOwner(ctx context.Context, rt catalog.ResourceType, fullName, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("SetOwner"); err != nil {
		return err
	}
	info, ok := f.resources[f.key(rt, fullName)]
	if !ok {
		return errors.NotFound(string(rt), fullName)
	}
	info.Owner = owner
	f.Mutations++
	return nil
}

// GetGrants returns observed grants for a securable.
func (f *Fake) GetGrants(ctx context.Context, rt catalog.ResourceType, fullName string) ([]GrantRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("GetGrants"); err != nil {
		return nil, err
	}
	return append([]GrantRecord(nil), f.grants[f.key(rt, fullName)]...), nil
}

// UpdateGrants applies additions before removals, mirroring the engine's
// ordering contract. Granting an existing privilege is a no-op, not an error.
func (f *Fake) UpdateGrants(ctx context.Context, rt catalog.ResourceType, fullName string, add, remove []GrantRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("UpdateGrants"); err != nil {
		return err
	}
	key := f.key(rt, fullName)
	current := map[string]map[string]bool{}
	for _, g := range f.grants[key] {
		set := map[string]bool{}
		for _, p := range g.Privileges {
			set[p] = true
		}
		current[g.Principal] = set
	}
	for _, g := range add {
		if current[g.Principal] == nil {
			current[g.Principal] = map[string]bool{}
		}
		for _, p := range g.Privileges {
			current[g.Principal][p] = true
		}
	}
	for _, g := range remove {
		set := current[g.Principal]
		for _, p := range g.Privileges {
			delete(set, p)
		}
		if len(set) == 0 {
			delete(current, g.Principal)
		}
	}
	var out []GrantRecord
	for principal, set := range current {
		var privileges []string
		for p := range set {
			privileges = append(privileges, p)
		}
		out = append(out, GrantRecord{Principal: principal, Privileges: privileges})
	}
	f.grants[key] = out
	f.Mutations++
	return nil
}

// ListTags returns observed tags.
func (f *Fake) ListTags(ctx context.Context, rt catalog.ResourceType, fullName string) ([]TagRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("ListTags"); err != nil {
		return nil, err
	}
	info, ok := f.resources[f.key(rt, fullName)]
	if !ok {
		return nil, errors.NotFound(string(rt), fullName)
	}
	return append([]TagRecord(nil), info.Tags...), nil
}

// SetTag sets or replaces one tag.
func (f *Fake) SetTag(ctx context.Context, rt catalog.ResourceType, fullName, tagKey, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("SetTag"); err != nil {
		return err
	}
	info, ok := f.resources[f.key(rt, fullName)]
	if !ok {
		return errors.NotFound(string(rt), fullName)
	}
	for i, t := range info.Tags {
		if t.Key == tagKey {
			info.Tags[i].Value = value
			f.Mutations++
			return nil
		}
	}
	info.Tags = append(info.Tags, TagRecord{Key: tagKey, Value: value})
	f.Mutations++
	return nil
}

// RemoveTag removes one tag.
func (f *Fake) RemoveTag(ctx context.Context, rt catalog.ResourceType, fullName, tagKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("RemoveTag"); err != nil {
		return err
	}
	info, ok := f.resources[f.key(rt, fullName)]
	if !ok {
		return errors.NotFound(string(rt), fullName)
	}
	kept := info.Tags[:0]
	for _, t := range info.Tags {
		if t.Key != tagKey {
			kept = append(kept, t)
		}
	}
	info.Tags = kept
	f.Mutations++
	return nil
}

// GetWorkspaceBindings returns the bindings for a container.
func (f *Fake) GetWorkspaceBindings(ctx context.Context, fullName string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("GetWorkspaceBindings"); err != nil {
		return nil, err
	}
	return append([]int64(nil), f.bindings[fullName]...), nil
}

// UpdateWorkspaceBindings adds then removes workspace associations.
func (f *Fake) UpdateWorkspaceBindings(ctx context.Context, fullName string, add, remove []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("UpdateWorkspaceBindings"); err != nil {
		return err
	}
	set := map[int64]bool{}
	for _, id := range f.bindings[fullName] {
		set[id] = true
	}
	for _, id := range add {
		set[id] = true
	}
	for _, id := range remove {
		delete(set, id)
	}
	var out []int64
	for id := range set {
		out = append(out, id)
	}
	f.bindings[fullName] = out
	f.Mutations++
	return nil
}

// ListPolicies returns the ABAC policies on a container.
func (f *Fake) ListPolicies(ctx context.Context, containerFQN string) ([]PolicyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("ListPolicies"); err != nil {
		return nil, err
	}
	var out []PolicyRecord
	for _, p := range f.policies[containerFQN] {
		out = append(out, p)
	}
	return out, nil
}

// CreatePolicy installs a policy, enforcing the per-container quota.
func (f *Fake) CreatePolicy(ctx context.Context, containerFQN string, policy PolicyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("CreatePolicy"); err != nil {
		return err
	}
	if f.policies[containerFQN] == nil {
		f.policies[containerFQN] = map[string]PolicyRecord{}
	}
	if len(f.policies[containerFQN]) >= 10 {
		return errors.Conflict("more than 10 policies per container")
	}
	f.policies[containerFQN][policy.Name] = policy
	f.Mutations++
	return nil
}

// UpdatePolicy replaces a policy.
func (f *Fake) UpdatePolicy(ctx context.Context, containerFQN string, policy PolicyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("UpdatePolicy"); err != nil {
		return err
	}
	if _, ok := f.policies[containerFQN][policy.Name]; !ok {
		return errors.NotFound("POLICY", policy.Name)
	}
	f.policies[containerFQN][policy.Name] = policy
	f.Mutations++
	return nil
}

// DeletePolicy removes a policy.
func (f *Fake) DeletePolicy(ctx context.Context, containerFQN, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("DeletePolicy"); err != nil {
		return err
	}
	if _, ok := f.policies[containerFQN][name]; !ok {
		return errors.NotFound("POLICY", name)
	}
	delete(f.policies[containerFQN], name)
	f.Mutations++
	return nil
}

// GetPermissions returns compute-asset ACLs.
func (f *Fake) GetPermissions(ctx context.Context, rt catalog.ResourceType, fullName string) ([]PermissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PermissionRecord(nil), f.perms[f.key(rt, fullName)]...), nil
}

// SetPermissions replaces compute-asset ACLs.
func (f *Fake) SetPermissions(ctx context.Context, rt catalog.ResourceType, fullName string, perms []PermissionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[f.key(rt, fullName)] = append([]PermissionRecord(nil), perms...)
	f.Mutations++
	return nil
}

// SQL statement shapes the fake understands.
var (
	createTableRe  = regexp.MustCompile("(?i)^CREATE TABLE (?:IF NOT EXISTS )?([^ (]+)")
	createFuncRe   = regexp.MustCompile("(?i)^CREATE (?:OR REPLACE )?FUNCTION ([^ (]+)")
	setRowFilterRe = regexp.MustCompile("(?i)^ALTER TABLE ([^ ]+) SET ROW FILTER ([^ ]+)")
	dropRowFilterRe = regexp.MustCompile("(?i)^ALTER TABLE ([^ ]+) DROP ROW FILTER")
	setMaskRe      = regexp.MustCompile("(?i)^ALTER TABLE ([^ ]+) ALTER COLUMN ([^ ]+) SET MASK ([^ ;]+)")
	dropMaskRe     = regexp.MustCompile("(?i)^ALTER TABLE ([^ ]+) ALTER COLUMN ([^ ]+) DROP MASK")
	createPolicyRe = regexp.MustCompile("(?i)^CREATE OR REPLACE POLICY ([^ ]+) ON (?:SCHEMA |CATALOG )?([^ ]+)")
	dropPolicyRe   = regexp.MustCompile("(?i)^DROP POLICY (?:IF EXISTS )?([^ ]+) ON (?:SCHEMA |CATALOG )?([^ ;]+)")
	dropTableRe    = regexp.MustCompile("(?i)^DROP TABLE (?:IF EXISTS )?([^ ;]+)")
	dropFuncRe     = regexp.MustCompile("(?i)^DROP FUNCTION (?:IF EXISTS )?([^ ;]+)")
)

// Execute records the statement and applies best-effort state changes so
// read-after-write behaves like a real warehouse.
func (f *Fake) Execute(ctx context.Context, sql string) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("Execute"); err != nil {
		return nil, err
	}
	f.SQLLog = append(f.SQLLog, sql)
	trimmed := strings.TrimSpace(sql)

	switch {
	case createTableRe.MatchString(trimmed):
		fqn := unquote(createTableRe.FindStringSubmatch(trimmed)[1])
		key := f.key(catalog.TypeTable, fqn)
		if _, exists := f.resources[key]; !exists {
			f.resources[key] = &ResourceInfo{
				Type:     catalog.TypeTable,
				Name:     lastSegment(fqn),
				FullName: fqn,
				TableType: "MANAGED",
			}
		}
		f.Mutations++
	case createFuncRe.MatchString(trimmed):
		fqn := unquote(createFuncRe.FindStringSubmatch(trimmed)[1])
		f.resources[f.key(catalog.TypeFunction, fqn)] = &ResourceInfo{
			Type:     catalog.TypeFunction,
			Name:     lastSegment(fqn),
			FullName: fqn,
		}
		f.functions[fqn] = &FunctionDetail{Body: trimmed}
		f.Mutations++
	case setRowFilterRe.MatchString(trimmed):
		m := setRowFilterRe.FindStringSubmatch(trimmed)
		f.ensureExt(unquote(m[1])).RowFilter = unquote(m[2])
		f.Mutations++
	case dropRowFilterRe.MatchString(trimmed):
		m := dropRowFilterRe.FindStringSubmatch(trimmed)
		f.ensureExt(unquote(m[1])).RowFilter = ""
		f.Mutations++
	case setMaskRe.MatchString(trimmed):
		m := setMaskRe.FindStringSubmatch(trimmed)
		f.ensureExt(unquote(m[1])).ColumnMasks[unquote(m[2])] = unquote(m[3])
		f.Mutations++
	case dropMaskRe.MatchString(trimmed):
		m := dropMaskRe.FindStringSubmatch(trimmed)
		delete(f.ensureExt(unquote(m[1])).ColumnMasks, unquote(m[2]))
		f.Mutations++
	case createPolicyRe.MatchString(trimmed):
		m := createPolicyRe.FindStringSubmatch(trimmed)
		container := unquote(m[2])
		if f.policies[container] == nil {
			f.policies[container] = map[string]PolicyRecord{}
		}
		f.policies[container][unquote(m[1])] = PolicyRecord{Name: unquote(m[1])}
		f.Mutations++
	case dropPolicyRe.MatchString(trimmed):
		m := dropPolicyRe.FindStringSubmatch(trimmed)
		delete(f.policies[unquote(m[2])], unquote(m[1]))
		f.Mutations++
	case dropTableRe.MatchString(trimmed):
		fqn := unquote(dropTableRe.FindStringSubmatch(trimmed)[1])
		delete(f.resources, f.key(catalog.TypeTable, fqn))
		delete(f.tableExt, fqn)
		f.Mutations++
	case dropFuncRe.MatchString(trimmed):
		fqn := unquote(dropFuncRe.FindStringSubmatch(trimmed)[1])
		delete(f.resources, f.key(catalog.TypeFunction, fqn))
		delete(f.functions, fqn)
		f.Mutations++
	}
	return nil, nil
}

// DescribeTableExtended returns seeded or SQL-derived extended fields.
func (f *Fake) DescribeTableExtended(ctx context.Context, fqn string) (*TableExtended, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("DescribeTableExtended"); err != nil {
		return nil, err
	}
	if ext, ok := f.tableExt[fqn]; ok {
		copied := *ext
		return &copied, nil
	}
	return &TableExtended{ColumnMasks: map[string]string{}, Properties: map[string]string{}}, nil
}

// DescribeFunction returns the registered function detail.
func (f *Fake) DescribeFunction(ctx context.Context, fqn string) (*FunctionDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("DescribeFunction"); err != nil {
		return nil, err
	}
	detail, ok := f.functions[fqn]
	if !ok {
		return nil, errors.NotFound(string(catalog.TypeFunction), fqn)
	}
	copied := *detail
	return &copied, nil
}

func (f *Fake) ensureExt(fqn string) *TableExtended {
	if f.tableExt[fqn] == nil {
		f.tableExt[fqn] = &TableExtended{ColumnMasks: map[string]string{}, Properties: map[string]string{}}
	}
	return f.tableExt[fqn]
}

func applyFields(info *ResourceInfo, fields map[string]interface{}) {
	if v, ok := fields["table_type"].(string); ok {
		info.TableType = v
	}
	if v, ok := fields["storage_location"].(string); ok {
		info.StorageLocation = v
	}
	if v, ok := fields["storage_root"].(string); ok {
		info.StorageLocation = v
	}
	if v, ok := fields["serialized_definition"].(string); ok {
		info.SerializedDefinition = v
	}
	if v, ok := fields["columns"].([]catalog.Column); ok {
		info.Columns = info.Columns[:0]
		for _, c := range v {
			info.Columns = append(info.Columns, ColumnInfo{Name: c.Name, DataType: c.DataType, Nullable: c.Nullable, Comment: c.Comment})
		}
	}
	if v, ok := fields["properties"].(map[string]string); ok {
		info.Properties = v
	}
}

func unquote(s string) string {
	return strings.ReplaceAll(strings.Trim(s, ";"), "`", "")
}

func lastSegment(fqn string) string {
	parts := strings.Split(fqn, ".")
	return parts[len(parts)-1]
}
