package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CauchyIO/brickkit/access"
	"github.com/CauchyIO/brickkit/backend"
	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/convention"
	"github.com/CauchyIO/brickkit/diff"
	"github.com/CauchyIO/brickkit/infrastructure/config"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
	"github.com/CauchyIO/brickkit/infrastructure/logging"
	"github.com/CauchyIO/brickkit/infrastructure/metrics"
	"github.com/CauchyIO/brickkit/infrastructure/ratelimit"
	"github.com/CauchyIO/brickkit/infrastructure/resilience"
	"github.com/CauchyIO/brickkit/state"
)

// Options tunes a reconciliation run.
type Options struct {
	// DryRun logs planned operations without mutating anything.
	DryRun bool
	// ContinueOnError records per-resource failures and proceeds to
	// siblings instead of aborting the subtree.
	ContinueOnError bool
	// MaxRetries bounds retries of transient backend failures.
	MaxRetries int
	// AllowDeletes authorizes deletion of declared-then-removed resources.
	AllowDeletes bool
	// AllowUnmanagedDeletes extends deletion to unmanaged resources.
	// Unmanaged state is otherwise reported, never mutated.
	AllowUnmanagedDeletes bool
	// RemoveUnmanagedTags authorizes removal of observed tags absent from
	// declared state.
	RemoveUnmanagedTags bool
	// Concurrency bounds parallel workers for independent resources.
	Concurrency int
	// Sequential forces deterministic one-at-a-time processing.
	Sequential bool
	// SDKTimeout and SQLTimeout bound individual backend calls.
	SDKTimeout time.Duration
	SQLTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = config.MaxRetries()
	}
	if config.DryRun() {
		o.DryRun = true
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.SDKTimeout <= 0 {
		o.SDKTimeout = 60 * time.Second
	}
	if o.SQLTimeout <= 0 {
		o.SQLTimeout = 300 * time.Second
	}
}

// Config wires a Reconciler.
type Config struct {
	Client  backend.CatalogClient
	SQL     backend.SQLExecutor
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Limiter *ratelimit.Limiter
	Breaker *resilience.CircuitBreaker
	Ledger  *access.Ledger
	Env     catalog.Environment
	Options Options
}

// Reconciler drives declared state into the backend. It is safe for one
// run at a time; construct one per run or serialize calls.
type Reconciler struct {
	client  backend.CatalogClient
	sql     backend.SQLExecutor
	reader  *state.Reader
	differ  *diff.Differ
	log     *logging.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter
	breaker *resilience.CircuitBreaker
	ledger  *access.Ledger
	env     catalog.Environment
	opts    Options
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	cfg.Options.withDefaults()
	if cfg.Env == "" {
		cfg.Env = catalog.CurrentEnvironment()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewFromEnv("reconciler")
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.New(resilience.Config{CountIf: errors.IsRetryable})
	}
	rc := &Reconciler{
		client:  cfg.Client,
		sql:     cfg.SQL,
		log:     log,
		metrics: cfg.Metrics,
		limiter: cfg.Limiter,
		breaker: cfg.Breaker,
		ledger:  cfg.Ledger,
		env:     cfg.Env,
		opts:    cfg.Options,
	}
	rc.reader = state.NewReader(state.ReaderConfig{
		Client:     cfg.Client,
		SQL:        cfg.SQL,
		Limiter:    cfg.Limiter,
		Breaker:    cfg.Breaker,
		Logger:     log,
		SDKTimeout: cfg.Options.SDKTimeout,
		SQLTimeout: cfg.Options.SQLTimeout,
	})
	rc.differ = diff.NewDiffer(cfg.Env)
	return rc
}

// Reader exposes the run's state reader.
func (rc *Reconciler) Reader() *state.Reader { return rc.reader }

// ExecutorFor returns the typed executor for rt.
func (rc *Reconciler) ExecutorFor(rt catalog.ResourceType) Executor {
	return newExecutor(rc, rt)
}

// phase buckets drive the deterministic ordering: infrastructure, then
// containers, then policy-backing functions, then the remaining assets.
type phase int

const (
	phaseInfra phase = iota
	phaseContainers
	phaseFunctions
	phaseAssets
)

func phaseOf(r catalog.Resource) phase {
	switch {
	case catalog.IsInfrastructure(r.Type()):
		return phaseInfra
	case catalog.IsContainer(r.Type()):
		return phaseContainers
	case r.Type() == catalog.TypeFunction:
		return phaseFunctions
	default:
		return phaseAssets
	}
}

// plan is the ordered work list for one run.
type plan struct {
	phases [4][]catalog.Resource
}

func buildPlan(roots []catalog.Resource) *plan {
	p := &plan{}
	for _, root := range roots {
		_ = catalog.Walk(root, func(r catalog.Resource) error {
			ph := phaseOf(r)
			p.phases[ph] = append(p.phases[ph], r)
			return nil
		})
	}
	// Containers order parent before child (depth ascending); the walk
	// already yields that, but independent roots interleave, so sort.
	sort.SliceStable(p.phases[phaseContainers], func(i, j int) bool {
		return depth(p.phases[phaseContainers][i]) < depth(p.phases[phaseContainers][j])
	})
	// Policy-backing functions first within the function phase.
	sort.SliceStable(p.phases[phaseFunctions], func(i, j int) bool {
		return functionRank(p.phases[phaseFunctions][i]) < functionRank(p.phases[phaseFunctions][j])
	})
	return p
}

func depth(r catalog.Resource) int {
	d := 0
	for cur := r.Base().Parent(); cur != nil; cur = cur.Base().Parent() {
		d++
	}
	return d
}

func functionRank(r catalog.Resource) int {
	if f, ok := r.(*catalog.Function); ok && (f.IsRowFilter || f.IsColumnMask) {
		return 0
	}
	return 1
}

// Validate runs every pre-flight check: model invariants, the attached
// convention's rules, and row-filter conflicts. No backend call happens
// before validation passes.
func (rc *Reconciler) Validate(roots ...catalog.Resource) error {
	for _, root := range roots {
		if err := catalog.ValidateTree(root, rc.env); err != nil {
			return err
		}
		conv, _ := root.Base().ConventionRef().(*convention.Convention)
		if conv == nil {
			continue
		}
		if result := conv.Validate(root); !result.OK() {
			return result.Err()
		}
		if err := access.CheckRowFilterConflicts(root, conv.ABACPolicies, rc.env); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile validates and deploys one declared tree.
func (rc *Reconciler) Reconcile(ctx context.Context, root catalog.Resource) (*RunReport, error) {
	return rc.DeployAll(ctx, []catalog.Resource{root})
}

// DeployAll validates and deploys independent declared trees. Within each
// phase, independent resources run on parallel workers; phases themselves
// are barriers. Dependent work (policies after functions, grants after
// containers) is already encoded in the phase order.
func (rc *Reconciler) DeployAll(ctx context.Context, roots []catalog.Resource) (*RunReport, error) {
	report := &RunReport{StartedAt: time.Now().UTC()}

	if err := rc.Validate(roots...); err != nil {
		return report, err
	}

	p := buildPlan(roots)
	for ph := phaseInfra; ph <= phaseAssets; ph++ {
		resources := p.phases[ph]
		if len(resources) == 0 {
			continue
		}
		cancelled := rc.runPhase(ctx, resources, report)
		if cancelled {
			rc.markNotAttempted(p, ph+1, report)
			return report, nil
		}
		if !rc.opts.ContinueOnError && report.Failed() {
			rc.markNotAttempted(p, ph+1, report)
			return report, nil
		}
	}

	for _, root := range roots {
		if err := rc.reconcilePolicies(ctx, root, report); err != nil {
			if !rc.opts.ContinueOnError {
				return report, err
			}
		}
	}

	report.Results = append(report.Results, rc.RevokeExpired(ctx)...)
	return report, nil
}

// runPhase reconciles one phase's resources. Containers stay sequential
// (parents must exist before children); other phases fan out on workers
// unless the caller requested sequential mode.
func (rc *Reconciler) runPhase(ctx context.Context, resources []catalog.Resource, report *RunReport) bool {
	sequential := rc.opts.Sequential || phaseOf(resources[0]) == phaseContainers

	if sequential {
		for _, r := range resources {
			if ctx.Err() != nil {
				report.NotAttempted = append(report.NotAttempted, catalog.FQN(r, rc.env))
				continue
			}
			rc.reconcileOne(ctx, r, report, nil)
		}
		return ctx.Err() != nil
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, rc.opts.Concurrency)
	)
	for _, r := range resources {
		if ctx.Err() != nil {
			mu.Lock()
			report.NotAttempted = append(report.NotAttempted, catalog.FQN(r, rc.env))
			mu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(res catalog.Resource) {
			defer wg.Done()
			defer func() { <-sem }()
			rc.reconcileOne(ctx, res, report, &mu)
		}(r)
	}
	wg.Wait()
	return ctx.Err() != nil
}

func (rc *Reconciler) reconcileOne(ctx context.Context, r catalog.Resource, report *RunReport, mu *sync.Mutex) {
	started := time.Now()
	result := rc.ExecutorFor(r.Type()).Reconcile(ctx, r)
	if rc.metrics != nil {
		rc.metrics.ObserveOperation("brickkit", string(r.Type()), string(result.Operation), outcome(result), time.Since(started))
	}
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	report.Results = append(report.Results, result)
}

func outcome(r ExecutionResult) string {
	if r.Success {
		return "success"
	}
	return "failure"
}

func (rc *Reconciler) markNotAttempted(p *plan, from phase, report *RunReport) {
	for ph := from; ph <= phaseAssets; ph++ {
		for _, r := range p.phases[ph] {
			report.NotAttempted = append(report.NotAttempted, catalog.FQN(r, rc.env))
		}
	}
}

// reconcilePolicies converges the convention's ABAC policies for every
// container in the tree: the backing function must already exist (the
// functions phase ran first), then each policy is created, replaced, or
// dropped through the policies API.
func (rc *Reconciler) reconcilePolicies(ctx context.Context, root catalog.Resource, report *RunReport) error {
	conv, _ := root.Base().ConventionRef().(*convention.Convention)
	if conv == nil || len(conv.ABACPolicies) == 0 {
		return nil
	}
	declaredFunctions := map[string]bool{}
	_ = catalog.Walk(root, func(r catalog.Resource) error {
		if r.Type() == catalog.TypeFunction {
			declaredFunctions[catalog.FQN(r, rc.env)] = true
		}
		return nil
	})

	return catalog.Walk(root, func(r catalog.Resource) error {
		if !catalog.IsContainer(r.Type()) || r.Type() == catalog.TypeMetastore {
			return nil
		}
		fqn := catalog.FQN(r, rc.env)
		var declared []*access.ABACPolicy
		for _, p := range conv.ABACPolicies {
			if p.ContainerFQN == fqn {
				declared = append(declared, p)
			}
		}
		if len(declared) == 0 {
			return nil
		}
		return rc.applyContainerPolicies(ctx, r, fqn, declared, declaredFunctions, report)
	})
}

func (rc *Reconciler) applyContainerPolicies(ctx context.Context, r catalog.Resource, fqn string, declared []*access.ABACPolicy, declaredFunctions map[string]bool, report *RunReport) error {
	started := time.Now()
	observed, err := rc.reader.Read(ctx, r.Type(), fqn)
	if err != nil && !errors.IsPermissionDenied(err) {
		return err
	}

	changes := diff.DiffPolicies(declared, observed)
	if len(changes) == 0 {
		return nil
	}
	if rc.opts.DryRun {
		res := newResult(r.Type(), fqn, OpDryRun, started)
		res.ChangesSkipped = changes
		report.Results = append(report.Results, res)
		return nil
	}

	declaredByName := map[string]*access.ABACPolicy{}
	for _, p := range declared {
		declaredByName[p.Name] = p
	}

	res := newResult(r.Type(), fqn, OpUpdate, started)
	for _, c := range changes {
		policyName := policyNameOf(c)
		var applyErr error
		switch c.Action {
		case diff.ActionAdd:
			p := declaredByName[policyName]
			if p.FunctionRef != "" && !declaredFunctions[p.FunctionRef] {
				if exists, err := rc.functionExists(ctx, p.FunctionRef); err == nil && !exists {
					applyErr = errors.Validation("abac_policy", fmt.Sprintf("policy %s references function %s which is neither declared nor present", p.Name, p.FunctionRef))
				}
			}
			if applyErr == nil {
				applyErr = rc.sdkCall(ctx, r.Type(), func(cc context.Context) error {
					return rc.client.CreatePolicy(cc, fqn, policyRecord(p))
				})
				if errors.Code(applyErr) == errors.ErrCodeAlreadyExists {
					applyErr = rc.sdkCall(ctx, r.Type(), func(cc context.Context) error {
						return rc.client.UpdatePolicy(cc, fqn, policyRecord(p))
					})
				}
			}
		case diff.ActionRemove:
			applyErr = rc.sdkCall(ctx, r.Type(), func(cc context.Context) error {
				err := rc.client.DeletePolicy(cc, fqn, policyName)
				if errors.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
		if applyErr != nil {
			res.Errors = append(res.Errors, applyErr.Error())
			res.ChangesSkipped = append(res.ChangesSkipped, c)
			continue
		}
		res.ChangesApplied = append(res.ChangesApplied, c)
	}
	rc.reader.Invalidate(r.Type(), fqn)

	if len(res.Errors) > 0 {
		res.Operation = OpError
		res.Success = false
	}
	res.DurationMs = time.Since(started).Milliseconds()
	report.Results = append(report.Results, res)
	if !res.Success && !rc.opts.ContinueOnError {
		return errors.Internal(fmt.Sprintf("policy reconciliation failed on %s", fqn), nil)
	}
	return nil
}

func (rc *Reconciler) functionExists(ctx context.Context, fqn string) (bool, error) {
	rec, err := rc.reader.Read(ctx, catalog.TypeFunction, fqn)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

func policyNameOf(c diff.Change) string {
	if v, ok := c.Declared.(string); ok && v != "" {
		return v
	}
	if v, ok := c.Observed.(string); ok {
		return v
	}
	return ""
}

func policyRecord(p *access.ABACPolicy) backend.PolicyRecord {
	rec := backend.PolicyRecord{
		Name:         p.Name,
		PolicyType:   string(p.PolicyType),
		FunctionRef:  p.FunctionRef,
		TargetColumn: p.TargetColumn,
	}
	env := catalog.CurrentEnvironment()
	for _, c := range p.MatchConditions {
		rec.MatchConditions = append(rec.MatchConditions, backend.TagRecord{Key: c.TagKey, Value: c.TagValue})
	}
	for _, t := range p.TargetPrincipals {
		rec.TargetPrincipals = append(rec.TargetPrincipals, t.ResolvedName(env))
	}
	for _, e := range p.ExceptPrincipals {
		rec.ExceptPrincipals = append(rec.ExceptPrincipals, e.ResolvedName(env))
	}
	return rec
}

// RevokeExpired revokes every ledger grant past its expiry and transitions
// the originating requests to expired.
func (rc *Reconciler) RevokeExpired(ctx context.Context) []ExecutionResult {
	if rc.ledger == nil {
		return nil
	}
	var results []ExecutionResult
	for _, g := range rc.ledger.RevokeExpired(time.Now().UTC()) {
		started := time.Now()
		principal := g.Grant.Principal.ResolvedName(rc.env)
		privileges := make([]string, 0, len(g.Grant.Privileges))
		for _, p := range g.Grant.Privileges {
			privileges = append(privileges, string(p))
		}

		if rc.opts.DryRun {
			res := newResult(g.ResourceType, g.ResourceFQN, OpDryRun, started)
			res.Message = fmt.Sprintf("would revoke expired grant for %s", principal)
			results = append(results, res)
			continue
		}

		err := rc.sdkCall(ctx, g.ResourceType, func(cc context.Context) error {
			return rc.client.UpdateGrants(cc, g.ResourceType, g.ResourceFQN, nil,
				[]backend.GrantRecord{{Principal: principal, Privileges: privileges}})
		})
		op := OpUpdate
		if err != nil {
			op = OpError
		}
		res := newResult(g.ResourceType, g.ResourceFQN, op, started)
		res.Message = fmt.Sprintf("revoked expired grant for %s", principal)
		if err != nil {
			res.Success = false
			res.Errors = append(res.Errors, err.Error())
		}
		rc.reader.Invalidate(g.ResourceType, g.ResourceFQN)
		results = append(results, res)
	}
	return results
}

// Delete removes declared resources leaf-to-root. Deletion never runs
// implicitly: the caller must set AllowDeletes.
func (rc *Reconciler) Delete(ctx context.Context, root catalog.Resource) ([]ExecutionResult, error) {
	if !rc.opts.AllowDeletes {
		return nil, errors.Validation("deletes", "deletion requires Options.AllowDeletes")
	}
	var ordered []catalog.Resource
	_ = catalog.Walk(root, func(r catalog.Resource) error {
		ordered = append(ordered, r)
		return nil
	})

	var results []ExecutionResult
	for i := len(ordered) - 1; i >= 0; i-- {
		r := ordered[i]
		started := time.Now()
		fqn := catalog.FQN(r, rc.env)
		if r.Base().Reference {
			res := newResult(r.Type(), fqn, OpSkip, started)
			res.Message = "reference resources are never dropped"
			results = append(results, res)
			continue
		}
		if ctx.Err() != nil {
			res := newResult(r.Type(), fqn, OpNotAttempted, started)
			results = append(results, res)
			continue
		}
		if rc.opts.DryRun {
			res := newResult(r.Type(), fqn, OpDryRun, started)
			res.Message = "would delete"
			results = append(results, res)
			continue
		}
		err := rc.ExecutorFor(r.Type()).Delete(ctx, r)
		op := OpDelete
		if err != nil {
			op = OpError
		}
		res := newResult(r.Type(), fqn, op, started)
		if err != nil {
			res.Success = false
			res.Errors = append(res.Errors, err.Error())
			if !rc.opts.ContinueOnError {
				results = append(results, res)
				return results, err
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// retry wraps a backend operation in the run's retry policy. Only errors
// classified retryable (transient, timeout, rate limited) re-enter.
func (rc *Reconciler) retry(ctx context.Context, rt catalog.ResourceType, fn func() error) error {
	attempts := 0
	err := resilience.Retry(ctx, resilience.RetryConfig{
		MaxAttempts:  rc.opts.MaxRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryIf: func(err error) bool {
			if !errors.IsRetryable(err) {
				return false
			}
			attempts++
			if rc.metrics != nil {
				rc.metrics.RetriesTotal.WithLabelValues("brickkit", string(rt)).Inc()
			}
			return true
		},
	}, fn)
	if attempts > 0 && err == nil {
		rc.log.WithFields(map[string]interface{}{"resource_type": string(rt), "retries": attempts}).
			Debug("backend call succeeded after retry")
	}
	return err
}

func (rc *Reconciler) sdkCall(ctx context.Context, rt catalog.ResourceType, fn func(context.Context) error) error {
	return rc.retry(ctx, rt, func() error {
		return rc.boundedCall(ctx, rc.opts.SDKTimeout, "sdk", fn)
	})
}

func (rc *Reconciler) sqlExec(ctx context.Context, rt catalog.ResourceType, stmt string) error {
	if stmt == "" {
		return nil
	}
	if rc.sql == nil {
		return errors.Internal("no SQL executor configured for a SQL-backed operation", nil)
	}
	return rc.retry(ctx, rt, func() error {
		return rc.boundedCall(ctx, rc.opts.SQLTimeout, "sql", func(cc context.Context) error {
			_, err := rc.sql.Execute(cc, stmt)
			return err
		})
	})
}

func (rc *Reconciler) boundedCall(ctx context.Context, timeout time.Duration, backendName string, fn func(context.Context) error) error {
	if err := rc.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	var err error
	if rc.breaker != nil {
		err = rc.breaker.Execute(callCtx, func() error { return fn(callCtx) })
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			err = errors.Transient(backendName, err)
		}
	} else {
		err = fn(callCtx)
	}
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		err = errors.Timeout(backendName, err)
	}
	if rc.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		rc.metrics.ObserveBackendCall("brickkit", backendName, "call", status, time.Since(started))
	}
	return err
}
