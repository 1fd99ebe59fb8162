package catalog

import (
	"sync"

	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// ResourceType tags every governed resource.
type ResourceType string

const (
	TypeMetastore         ResourceType = "METASTORE"
	TypeCatalog           ResourceType = "CATALOG"
	TypeSchema            ResourceType = "SCHEMA"
	TypeTable             ResourceType = "TABLE"
	TypeVolume            ResourceType = "VOLUME"
	TypeFunction          ResourceType = "FUNCTION"
	TypeModel             ResourceType = "MODEL"
	TypeSpace             ResourceType = "SPACE"
	TypeVectorEndpoint    ResourceType = "VECTOR_ENDPOINT"
	TypeVectorIndex       ResourceType = "VECTOR_INDEX"
	TypeStorageCredential ResourceType = "STORAGE_CREDENTIAL"
	TypeExternalLocation  ResourceType = "EXTERNAL_LOCATION"
	TypeConnection        ResourceType = "CONNECTION"
)

// IsolationMode controls cross-workspace visibility of a container.
type IsolationMode string

const (
	IsolationOpen     IsolationMode = "OPEN"
	IsolationIsolated IsolationMode = "ISOLATED"
)

// Tag is a key/value governance label.
type Tag struct {
	Key   string
	Value string
}

// Convention is the hook the convention engine implements so that attaching a
// child under a convention-governed root applies the same convention to the
// new child. Defined here to keep the dependency pointing convention→catalog.
type Convention interface {
	Name() string
	ApplyTo(Resource) error
}

// Resource is implemented by every governed resource descriptor.
type Resource interface {
	Type() ResourceType
	Base() *base
}

// validChildren maps each container type to the resource types it may hold.
var validChildren = map[ResourceType]map[ResourceType]bool{
	TypeMetastore: {TypeCatalog: true},
	TypeCatalog:   {TypeSchema: true},
	TypeSchema: {
		TypeTable:          true,
		TypeVolume:         true,
		TypeFunction:       true,
		TypeModel:          true,
		TypeSpace:          true,
		TypeVectorEndpoint: true,
		TypeVectorIndex:    true,
	},
}

// base carries the fields common to every resource: identity, ownership,
// tags, grants, isolation, and the parent linkage that drives inheritance.
// Raw declarations stay immutable after the reconciler starts; effective
// views are computed on demand and memoized.
type base struct {
	Name                 string
	Owner                *Principal
	Comment              string
	Tags                 []Tag
	Grants               []Grant
	IsolationMode        IsolationMode
	WorkspaceBindings    []int64
	StorageLocation      string
	AddEnvironmentSuffix bool
	EnvironmentMapping   map[Environment]string

	// Reference marks an externally-managed resource: governed for tags,
	// grants, and policies, never created or dropped.
	Reference bool

	resourceType ResourceType
	parent       Resource
	children     []Resource
	convention   Convention

	mu            sync.Mutex
	effTags       map[string]string
	effOwner      *Principal
	effLocation   string
	effLocSet     bool
	effGrants     []Grant
	effGrantsSet  bool
}

func newBase(rt ResourceType, name string) base {
	return base{
		Name:                 name,
		AddEnvironmentSuffix: true,
		resourceType:         rt,
	}
}

// Base returns b itself so concrete types satisfy Resource by embedding.
func (b *base) Base() *base { return b }

// Parent returns the attached parent, or nil for roots.
func (b *base) Parent() Resource { return b.parent }

// Children returns the attached children in attachment order.
func (b *base) Children() []Resource { return b.children }

// ConventionRef returns the convention governing this resource, if any.
func (b *base) ConventionRef() Convention { return b.convention }

// SetConvention records the governing convention. Called by the convention
// engine when a convention is applied to a root.
func (b *base) SetConvention(c Convention) { b.convention = c }

// ResolvedName resolves the resource name for env, honoring an explicit
// environment mapping first, then the suffix flag.
func (b *base) ResolvedName(env Environment) string {
	if b.EnvironmentMapping != nil {
		if mapped, ok := b.EnvironmentMapping[env]; ok {
			return mapped
		}
	}
	if b.AddEnvironmentSuffix {
		return b.Name + "_" + string(env)
	}
	return b.Name
}

// AttachChild links child under parent, validating the hierarchy and
// propagating the parent's convention. Effective views of the child subtree
// are invalidated so subsequent reads see merged values.
func AttachChild(parent, child Resource) error {
	pb, cb := parent.Base(), child.Base()

	allowed, ok := validChildren[parent.Type()]
	if !ok || !allowed[child.Type()] {
		return errors.InvalidChild(string(parent.Type()), string(child.Type()))
	}
	if cb.parent != nil && cb.parent != parent {
		return errors.Invariant("resource " + cb.Name + " already has a parent")
	}
	for anc := parent; anc != nil; anc = anc.Base().parent {
		if anc == child {
			return errors.Invariant("attaching " + cb.Name + " would create a parent cycle")
		}
	}

	cb.parent = parent
	pb.children = append(pb.children, child)
	invalidateEffective(child)

	if pb.convention != nil {
		cb.convention = pb.convention
		if err := pb.convention.ApplyTo(child); err != nil {
			return err
		}
	}
	return nil
}

func invalidateEffective(r Resource) {
	b := r.Base()
	b.mu.Lock()
	b.effTags = nil
	b.effOwner = nil
	b.effLocation = ""
	b.effLocSet = false
	b.effGrants = nil
	b.effGrantsSet = false
	b.mu.Unlock()
	for _, c := range b.children {
		invalidateEffective(c)
	}
}

// EffectiveOwner walks to the nearest ancestor with an owner set.
func (b *base) EffectiveOwner() *Principal {
	b.mu.Lock()
	if b.effOwner != nil {
		defer b.mu.Unlock()
		return b.effOwner
	}
	b.mu.Unlock()

	var owner *Principal
	if b.Owner != nil {
		owner = b.Owner
	} else if b.parent != nil {
		owner = b.parent.Base().EffectiveOwner()
	}

	b.mu.Lock()
	b.effOwner = owner
	b.mu.Unlock()
	return owner
}

// EffectiveLocation walks to the nearest ancestor with a storage location.
func (b *base) EffectiveLocation() string {
	b.mu.Lock()
	if b.effLocSet {
		defer b.mu.Unlock()
		return b.effLocation
	}
	b.mu.Unlock()

	loc := b.StorageLocation
	if loc == "" && b.parent != nil {
		loc = b.parent.Base().EffectiveLocation()
	}

	b.mu.Lock()
	b.effLocation = loc
	b.effLocSet = true
	b.mu.Unlock()
	return loc
}

// EffectiveTags merges ancestor tags with this resource's tags, child keys
// overriding ancestor keys.
func (b *base) EffectiveTags() map[string]string {
	b.mu.Lock()
	if b.effTags != nil {
		defer b.mu.Unlock()
		return copyTags(b.effTags)
	}
	b.mu.Unlock()

	merged := map[string]string{}
	if b.parent != nil {
		merged = b.parent.Base().EffectiveTags()
	}
	for _, t := range b.Tags {
		merged[t.Key] = t.Value
	}

	b.mu.Lock()
	b.effTags = copyTags(merged)
	b.mu.Unlock()
	return merged
}

// EffectiveGrants returns ancestor grants merged with local grants. An
// ancestor grant is overridden when the same principal holds a local grant.
// Propagation is concrete so reconciliation can apply or revoke each grant.
func (b *base) EffectiveGrants() []Grant {
	b.mu.Lock()
	if b.effGrantsSet {
		defer b.mu.Unlock()
		return append([]Grant(nil), b.effGrants...)
	}
	b.mu.Unlock()

	local := map[string]bool{}
	for _, g := range b.Grants {
		local[g.Principal.Name] = true
	}

	var merged []Grant
	if b.parent != nil {
		for _, g := range b.parent.Base().EffectiveGrants() {
			if !local[g.Principal.Name] {
				merged = append(merged, g)
			}
		}
	}
	merged = append(merged, b.Grants...)

	b.mu.Lock()
	b.effGrants = append([]Grant(nil), merged...)
	b.effGrantsSet = true
	b.mu.Unlock()
	return merged
}

// HasTag reports whether key is present in the effective tag set.
func (b *base) HasTag(key string) bool {
	_, ok := b.EffectiveTags()[key]
	return ok
}

// AddTag appends a declared tag, replacing an existing key.
func (b *base) AddTag(key, value string) {
	for i, t := range b.Tags {
		if t.Key == key {
			b.Tags[i].Value = value
			b.invalidateLocal()
			return
		}
	}
	b.Tags = append(b.Tags, Tag{Key: key, Value: value})
	b.invalidateLocal()
}

// AddGrant appends a declared grant, merging privileges for a principal
// already present.
func (b *base) AddGrant(g Grant) {
	for i, existing := range b.Grants {
		if existing.Principal.Name == g.Principal.Name && existing.Principal.Type == g.Principal.Type {
			for _, p := range g.Privileges {
				if !existing.Has(p) {
					b.Grants[i].Privileges = append(b.Grants[i].Privileges, p)
				}
			}
			b.invalidateLocal()
			return
		}
	}
	b.Grants = append(b.Grants, g)
	b.invalidateLocal()
}

// SetGrants replaces the declared grant list wholesale.
func (b *base) SetGrants(grants []Grant) {
	b.Grants = grants
	b.invalidateLocal()
}

func (b *base) invalidateLocal() {
	b.mu.Lock()
	b.effTags = nil
	b.effGrants = nil
	b.effGrantsSet = false
	b.mu.Unlock()
	for _, c := range b.children {
		invalidateEffective(c)
	}
}

func copyTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// FQN computes the fully qualified, environment-resolved dotted name.
// Metastores anchor the tree but do not appear in FQNs; top-level
// infrastructure resources resolve to their own name.
func FQN(r Resource, env Environment) string {
	var parts []string
	for cur := r; cur != nil; {
		b := cur.Base()
		if cur.Type() != TypeMetastore {
			parts = append([]string{b.ResolvedName(env)}, parts...)
		}
		cur = b.parent
	}
	return joinDotted(parts)
}

func joinDotted(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

// Walk visits r and every descendant depth-first.
func Walk(r Resource, visit func(Resource) error) error {
	if err := visit(r); err != nil {
		return err
	}
	for _, c := range r.Base().Children() {
		if err := Walk(c, visit); err != nil {
			return err
		}
	}
	return nil
}
