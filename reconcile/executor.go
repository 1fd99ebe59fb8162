package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CauchyIO/brickkit/backend"
	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/diff"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
	"github.com/CauchyIO/brickkit/state"
)

// Executor is the per-resource contract. One executor exists per resource
// type, sharing a common core with a create/drop strategy chosen by type:
// SDK for control-plane resources, SQL for tables and functions.
type Executor interface {
	Create(ctx context.Context, r catalog.Resource) error
	Update(ctx context.Context, r catalog.Resource, d *diff.Diff) (*ReconcileResult, error)
	Delete(ctx context.Context, r catalog.Resource) error
	Exists(ctx context.Context, r catalog.Resource) (bool, error)
	ReadState(ctx context.Context, r catalog.Resource) (*state.Record, error)
	Diff(ctx context.Context, r catalog.Resource) (*diff.Diff, error)
	Reconcile(ctx context.Context, r catalog.Resource) ExecutionResult
}

// strategy is the type-specific creation/deletion path.
type strategy interface {
	create(ctx context.Context, rc *Reconciler, r catalog.Resource) error
	drop(ctx context.Context, rc *Reconciler, r catalog.Resource) error
}

// sdkStrategy creates and drops through the control plane.
type sdkStrategy struct{}

func (sdkStrategy) create(ctx context.Context, rc *Reconciler, r catalog.Resource) error {
	params, err := catalog.NewCreateParams(r, rc.env)
	if err != nil {
		return err
	}
	return rc.sdkCall(ctx, r.Type(), func(callCtx context.Context) error {
		_, createErr := rc.client.Create(callCtx, params)
		if errors.Code(createErr) == errors.ErrCodeAlreadyExists {
			return nil
		}
		return createErr
	})
}

func (sdkStrategy) drop(ctx context.Context, rc *Reconciler, r catalog.Resource) error {
	fqn := catalog.FQN(r, rc.env)
	return rc.sdkCall(ctx, r.Type(), func(callCtx context.Context) error {
		err := rc.client.Delete(callCtx, r.Type(), fqn)
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// sqlTableStrategy creates tables with full DDL through the warehouse.
type sqlTableStrategy struct{}

func (sqlTableStrategy) create(ctx context.Context, rc *Reconciler, r catalog.Resource) error {
	t, ok := r.(*catalog.Table)
	if !ok {
		return errors.Invariant(fmt.Sprintf("sql table strategy invoked for %s", r.Type()))
	}
	if t.Reference {
		return errors.ReferenceImmutable(t.Name)
	}
	fqn := catalog.FQN(r, rc.env)
	if err := rc.sqlExec(ctx, r.Type(), createTableSQL(t, fqn)); err != nil {
		return err
	}
	// Column masks and row filters are rejected on create; they follow as
	// ALTER statements once the table exists.
	if t.RowFilter != nil {
		if err := rc.sqlExec(ctx, r.Type(), setRowFilterSQL(fqn, t.RowFilter.FunctionName, t.RowFilter.InputColumns)); err != nil {
			return err
		}
	}
	for _, mask := range t.ColumnMasks {
		if err := rc.sqlExec(ctx, r.Type(), setColumnMaskSQL(fqn, mask)); err != nil {
			return err
		}
	}
	if owner := t.EffectiveOwner(); owner != nil {
		if err := rc.sdkCall(ctx, r.Type(), func(callCtx context.Context) error {
			return rc.client.SetOwner(callCtx, r.Type(), fqn, owner.ResolvedName(rc.env))
		}); err != nil && !errors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (sqlTableStrategy) drop(ctx context.Context, rc *Reconciler, r catalog.Resource) error {
	return rc.sqlExec(ctx, r.Type(), dropSQL(r.Type(), catalog.FQN(r, rc.env)))
}

// sqlFunctionStrategy creates functions through the warehouse.
type sqlFunctionStrategy struct{}

func (sqlFunctionStrategy) create(ctx context.Context, rc *Reconciler, r catalog.Resource) error {
	f, ok := r.(*catalog.Function)
	if !ok {
		return errors.Invariant(fmt.Sprintf("sql function strategy invoked for %s", r.Type()))
	}
	if f.Reference {
		return errors.ReferenceImmutable(f.Name)
	}
	return rc.sqlExec(ctx, r.Type(), createFunctionSQL(f, catalog.FQN(r, rc.env)))
}

func (sqlFunctionStrategy) drop(ctx context.Context, rc *Reconciler, r catalog.Resource) error {
	return rc.sqlExec(ctx, r.Type(), dropSQL(r.Type(), catalog.FQN(r, rc.env)))
}

// strategies is the closed dispatch table.
var strategies = map[catalog.ResourceType]strategy{
	catalog.TypeTable:    sqlTableStrategy{},
	catalog.TypeFunction: sqlFunctionStrategy{},
}

func strategyFor(rt catalog.ResourceType) strategy {
	if s, ok := strategies[rt]; ok {
		return s
	}
	return sdkStrategy{}
}

// resourceExecutor is the shared executor core.
type resourceExecutor struct {
	rc       *Reconciler
	strategy strategy
}

func newExecutor(rc *Reconciler, rt catalog.ResourceType) *resourceExecutor {
	return &resourceExecutor{rc: rc, strategy: strategyFor(rt)}
}

// Create materializes a missing resource. References are never created.
func (e *resourceExecutor) Create(ctx context.Context, r catalog.Resource) error {
	if r.Base().Reference {
		return errors.ReferenceImmutable(r.Base().Name)
	}
	if err := e.strategy.create(ctx, e.rc, r); err != nil {
		return err
	}
	e.rc.reader.Invalidate(r.Type(), catalog.FQN(r, e.rc.env))
	return nil
}

// Delete drops a resource. References are never dropped.
func (e *resourceExecutor) Delete(ctx context.Context, r catalog.Resource) error {
	if r.Base().Reference {
		return errors.ReferenceImmutable(r.Base().Name)
	}
	if err := e.strategy.drop(ctx, e.rc, r); err != nil {
		return err
	}
	e.rc.reader.Invalidate(r.Type(), catalog.FQN(r, e.rc.env))
	return nil
}

// Exists consults the reader.
func (e *resourceExecutor) Exists(ctx context.Context, r catalog.Resource) (bool, error) {
	rec, err := e.ReadState(ctx, r)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// ReadState delegates to the state reader, retrying transient failures.
func (e *resourceExecutor) ReadState(ctx context.Context, r catalog.Resource) (*state.Record, error) {
	var rec *state.Record
	err := e.rc.retry(ctx, r.Type(), func() error {
		var readErr error
		rec, readErr = e.rc.reader.Read(ctx, r.Type(), catalog.FQN(r, e.rc.env))
		return readErr
	})
	return rec, err
}

// Diff composes the reader and the differ.
func (e *resourceExecutor) Diff(ctx context.Context, r catalog.Resource) (*diff.Diff, error) {
	observed, err := e.ReadState(ctx, r)
	if err != nil && !errors.IsPermissionDenied(err) {
		return nil, err
	}
	return e.rc.differ.Compute(r, observed), nil
}

// Update applies the changes in d: owner, comment, definition and tag
// changes first, in field order, then isolation and bindings, then grants
// (add before remove), and finally row filters and column masks.
func (e *resourceExecutor) Update(ctx context.Context, r catalog.Resource, d *diff.Diff) (*ReconcileResult, error) {
	started := time.Now()
	res := &ReconcileResult{ResourceName: d.ResourceName}
	fqn := d.ResourceName

	apply := func(c diff.Change, fn func(context.Context) error) {
		if len(res.Errors) > 0 && !e.rc.opts.ContinueOnError {
			res.ChangesSkipped = append(res.ChangesSkipped, c)
			return
		}
		if err := fn(ctx); err != nil {
			res.Errors = append(res.Errors, err.Error())
			res.ChangesSkipped = append(res.ChangesSkipped, c)
			return
		}
		res.ChangesApplied = append(res.ChangesApplied, c)
	}

	var (
		isolationChange *diff.Change
		bindingAdds     []diff.Change
		bindingRemoves  []diff.Change
		grantAdds       []diff.Change
		grantRemoves    []diff.Change
		deferred        []diff.Change
	)

	for i := range d.Changes {
		c := d.Changes[i]
		switch {
		case c.FieldPath == "owner":
			apply(c, func(callCtx context.Context) error {
				return e.rc.sdkCall(callCtx, r.Type(), func(cc context.Context) error {
					return e.rc.client.SetOwner(cc, r.Type(), fqn, c.Declared.(string))
				})
			})
		case c.FieldPath == "comment" || strings.HasPrefix(c.FieldPath, "url") ||
			c.FieldPath == "serialized_definition":
			apply(c, func(callCtx context.Context) error {
				params := catalog.NewUpdateParams(r, e.rc.env, []string{c.FieldPath})
				return e.rc.sdkCall(callCtx, r.Type(), func(cc context.Context) error {
					_, err := e.rc.client.Update(cc, params)
					return err
				})
			})
		case c.FieldPath == "isolation_mode":
			isolationChange = &d.Changes[i]
		case c.FieldPath == "workspace_bindings" && c.Action == diff.ActionAdd:
			bindingAdds = append(bindingAdds, c)
		case c.FieldPath == "workspace_bindings" && c.Action == diff.ActionRemove:
			bindingRemoves = append(bindingRemoves, c)
		case strings.HasPrefix(c.FieldPath, "tags."):
			e.applyTagChange(ctx, r, fqn, c, apply)
		case c.FieldPath == "grants.add":
			grantAdds = append(grantAdds, c)
		case c.FieldPath == "grants.remove":
			grantRemoves = append(grantRemoves, c)
		case c.FieldPath == "row_filter" || strings.HasPrefix(c.FieldPath, "column_masks."):
			deferred = append(deferred, c)
		default:
			res.ChangesSkipped = append(res.ChangesSkipped, c)
		}
	}

	e.applyIsolation(ctx, r, fqn, isolationChange, bindingAdds, bindingRemoves, apply)
	e.applyGrants(ctx, r, fqn, grantAdds, grantRemoves, apply)
	e.applyPolicyFields(ctx, r, fqn, deferred, apply)

	res.DurationMs = time.Since(started).Milliseconds()
	e.rc.reader.Invalidate(r.Type(), fqn)

	if len(res.Errors) > 0 {
		return res, errors.Internal(fmt.Sprintf("%d change(s) failed on %s", len(res.Errors), fqn), nil)
	}
	return res, nil
}

func (e *resourceExecutor) applyTagChange(ctx context.Context, r catalog.Resource, fqn string, c diff.Change, apply func(diff.Change, func(context.Context) error)) {
	key := strings.TrimPrefix(c.FieldPath, "tags.")
	switch c.Action {
	case diff.ActionAdd, diff.ActionModify:
		apply(c, func(callCtx context.Context) error {
			return e.rc.sdkCall(callCtx, r.Type(), func(cc context.Context) error {
				return e.rc.client.SetTag(cc, r.Type(), fqn, key, c.Declared.(string))
			})
		})
	case diff.ActionRemove:
		if !e.rc.opts.RemoveUnmanagedTags {
			e.rc.log.WithResource(string(r.Type()), fqn).
				Debugf("leaving unmanaged tag %q in place", key)
			return
		}
		apply(c, func(callCtx context.Context) error {
			return e.rc.sdkCall(callCtx, r.Type(), func(cc context.Context) error {
				return e.rc.client.RemoveTag(cc, r.Type(), fqn, key)
			})
		})
	}
}

// applyIsolation orders binding and isolation changes so a container is
// only ISOLATED after its bindings exist, and bindings are only removed
// after the container is OPEN again.
func (e *resourceExecutor) applyIsolation(ctx context.Context, r catalog.Resource, fqn string, isolation *diff.Change, adds, removes []diff.Change, apply func(diff.Change, func(context.Context) error)) {
	addIDs := bindingIDs(adds, true)
	removeIDs := bindingIDs(removes, false)

	// One backend call covers each batch; the remaining changes in the
	// batch are recorded as applied without further calls.
	applyBindings := func(changes []diff.Change, add, remove []int64) {
		for i, c := range changes {
			c := c
			first := i == 0
			apply(c, func(callCtx context.Context) error {
				if !first {
					return nil
				}
				return e.rc.sdkCall(callCtx, r.Type(), func(cc context.Context) error {
					return e.rc.client.UpdateWorkspaceBindings(cc, fqn, add, remove)
				})
			})
		}
	}

	setIsolation := func() {
		if isolation == nil {
			return
		}
		c := *isolation
		apply(c, func(callCtx context.Context) error {
			params := catalog.NewUpdateParams(r, e.rc.env, []string{"isolation_mode"})
			return e.rc.sdkCall(callCtx, r.Type(), func(cc context.Context) error {
				_, err := e.rc.client.Update(cc, params)
				return err
			})
		})
	}

	turningIsolated := isolation != nil && isolation.Declared == string(catalog.IsolationIsolated)
	if turningIsolated {
		applyBindings(adds, addIDs, nil)
		setIsolation()
		applyBindings(removes, nil, removeIDs)
		return
	}
	setIsolation()
	applyBindings(adds, addIDs, nil)
	applyBindings(removes, nil, removeIDs)
}

func bindingIDs(changes []diff.Change, declared bool) []int64 {
	var out []int64
	for _, c := range changes {
		v := c.Declared
		if !declared {
			v = c.Observed
		}
		if id, ok := v.(int64); ok {
			out = append(out, id)
		}
	}
	return out
}

// applyGrants adds missing grants before revoking extras so no principal
// is transiently denied a privilege it holds on both sides. Compute assets
// go through the permissions API, whose set-semantics replace the full ACL
// in one call.
func (e *resourceExecutor) applyGrants(ctx context.Context, r catalog.Resource, fqn string, adds, removes []diff.Change, apply func(diff.Change, func(context.Context) error)) {
	if catalog.IsComputeAsset(r.Type()) {
		e.applyPermissions(ctx, r, fqn, adds, removes, apply)
		return
	}
	// One backend call per principal: a principal the backend does not
	// know fails its own grants only, never the batch.
	for _, batch := range groupByPrincipal(adds, true) {
		record := batch.record
		for i, c := range batch.changes {
			c := c
			first := i == 0
			apply(c, func(callCtx context.Context) error {
				if !first {
					return nil
				}
				return e.rc.sdkCall(callCtx, r.Type(), func(cc context.Context) error {
					return e.rc.client.UpdateGrants(cc, r.Type(), fqn, []backend.GrantRecord{record}, nil)
				})
			})
		}
	}
	for _, batch := range groupByPrincipal(removes, false) {
		record := batch.record
		for i, c := range batch.changes {
			c := c
			first := i == 0
			apply(c, func(callCtx context.Context) error {
				if !first {
					return nil
				}
				return e.rc.sdkCall(callCtx, r.Type(), func(cc context.Context) error {
					return e.rc.client.UpdateGrants(cc, r.Type(), fqn, nil, []backend.GrantRecord{record})
				})
			})
		}
	}
}

type principalBatch struct {
	record  backend.GrantRecord
	changes []diff.Change
}

func groupByPrincipal(changes []diff.Change, declared bool) []principalBatch {
	byPrincipal := map[string]*principalBatch{}
	var order []string
	for _, c := range changes {
		v := c.Declared
		if !declared {
			v = c.Observed
		}
		key, ok := v.(diff.GrantKey)
		if !ok {
			continue
		}
		batch, seen := byPrincipal[key.Principal]
		if !seen {
			batch = &principalBatch{record: backend.GrantRecord{Principal: key.Principal}}
			byPrincipal[key.Principal] = batch
			order = append(order, key.Principal)
		}
		batch.record.Privileges = append(batch.record.Privileges, key.Privilege)
		batch.changes = append(batch.changes, c)
	}
	out := make([]principalBatch, 0, len(order))
	for _, principal := range order {
		out = append(out, *byPrincipal[principal])
	}
	return out
}

// applyPermissions replaces a compute asset's ACL with the declared
// effective grants.
func (e *resourceExecutor) applyPermissions(ctx context.Context, r catalog.Resource, fqn string, adds, removes []diff.Change, apply func(diff.Change, func(context.Context) error)) {
	changes := append(append([]diff.Change(nil), adds...), removes...)
	if len(changes) == 0 {
		return
	}
	var desired []backend.PermissionRecord
	for _, g := range r.Base().EffectiveGrants() {
		principal := g.Principal.ResolvedName(e.rc.env)
		for _, p := range g.Privileges {
			desired = append(desired, backend.PermissionRecord{Principal: principal, Level: string(p)})
		}
	}
	for i, c := range changes {
		c := c
		first := i == 0
		apply(c, func(callCtx context.Context) error {
			if !first {
				return nil
			}
			return e.rc.sdkCall(callCtx, r.Type(), func(cc context.Context) error {
				return e.rc.client.SetPermissions(cc, r.Type(), fqn, desired)
			})
		})
	}
}

// applyPolicyFields applies row filter and column mask changes through SQL.
func (e *resourceExecutor) applyPolicyFields(ctx context.Context, r catalog.Resource, fqn string, changes []diff.Change, apply func(diff.Change, func(context.Context) error)) {
	t, isTable := r.(*catalog.Table)
	for _, c := range changes {
		c := c
		switch {
		case c.FieldPath == "row_filter" && isTable:
			apply(c, func(callCtx context.Context) error {
				if c.Action == diff.ActionRemove {
					return e.rc.sqlExec(callCtx, r.Type(), dropRowFilterSQL(fqn))
				}
				return e.rc.sqlExec(callCtx, r.Type(), setRowFilterSQL(fqn, t.RowFilter.FunctionName, t.RowFilter.InputColumns))
			})
		case strings.HasPrefix(c.FieldPath, "column_masks.") && isTable:
			column := strings.TrimPrefix(c.FieldPath, "column_masks.")
			apply(c, func(callCtx context.Context) error {
				if c.Action == diff.ActionRemove {
					return e.rc.sqlExec(callCtx, r.Type(), dropColumnMaskSQL(fqn, column))
				}
				for _, mask := range t.ColumnMasks {
					if mask.ColumnName == column {
						return e.rc.sqlExec(callCtx, r.Type(), setColumnMaskSQL(fqn, mask))
					}
				}
				return errors.Invariant("column mask change without a declared mask for " + column)
			})
		}
	}
}

// Reconcile runs the full per-resource cycle: read, diff, apply. Reference
// resources skip creation; dry runs log the plan and mutate nothing.
func (e *resourceExecutor) Reconcile(ctx context.Context, r catalog.Resource) ExecutionResult {
	started := time.Now()
	fqn := catalog.FQN(r, e.rc.env)
	log := e.rc.log.WithResource(string(r.Type()), fqn)

	d, err := e.Diff(ctx, r)
	if err != nil {
		res := newResult(r.Type(), fqn, OpError, started)
		res.Success = false
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	switch {
	case d.Empty():
		res := newResult(r.Type(), fqn, OpSkip, started)
		res.Message = "compliant"
		return res

	case d.Missing && d.Reference:
		res := newResult(r.Type(), fqn, OpError, started)
		res.Success = false
		res.Errors = append(res.Errors, errors.NotFound(string(r.Type()), fqn).Error())
		res.Message = "referenced resource does not exist"
		return res

	case e.rc.opts.DryRun:
		for _, c := range d.Changes {
			log.WithFields(map[string]interface{}{
				"field":  c.FieldPath,
				"action": string(c.Action),
			}).Info("dry-run: planned change")
		}
		if d.Missing {
			log.Info("dry-run: would create")
		}
		res := newResult(r.Type(), fqn, OpDryRun, started)
		res.ChangesApplied = nil
		res.ChangesSkipped = d.Changes
		return res

	case d.Missing:
		if err := e.Create(ctx, r); err != nil {
			res := newResult(r.Type(), fqn, OpError, started)
			res.Success = false
			res.Errors = append(res.Errors, err.Error())
			return res
		}
		log.Info("created")
		return e.finishCreate(ctx, r, fqn, started)

	default:
		applied, err := e.Update(ctx, r, d)
		op := OpUpdate
		if err != nil {
			op = OpError
		}
		res := newResult(r.Type(), fqn, op, started)
		res.ChangesApplied = applied.ChangesApplied
		res.ChangesSkipped = applied.ChangesSkipped
		res.Errors = applied.Errors
		res.Success = err == nil
		return res
	}
}

// finishCreate reconciles the remaining fields (tags, grants, bindings)
// right after creation so a freshly created resource converges in one run.
func (e *resourceExecutor) finishCreate(ctx context.Context, r catalog.Resource, fqn string, started time.Time) ExecutionResult {
	d, err := e.Diff(ctx, r)
	if err != nil {
		res := newResult(r.Type(), fqn, OpError, started)
		res.Success = false
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	res := newResult(r.Type(), fqn, OpCreate, started)
	if d.Empty() {
		return res
	}
	applied, err := e.Update(ctx, r, d)
	res.ChangesApplied = applied.ChangesApplied
	res.ChangesSkipped = applied.ChangesSkipped
	res.Errors = applied.Errors
	if err != nil {
		res.Operation = OpError
		res.Success = false
	}
	res.DurationMs = time.Since(started).Milliseconds()
	return res
}
