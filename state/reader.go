package state

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/CauchyIO/brickkit/backend"
	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
	"github.com/CauchyIO/brickkit/infrastructure/logging"
	"github.com/CauchyIO/brickkit/infrastructure/ratelimit"
	"github.com/CauchyIO/brickkit/infrastructure/resilience"
)

// ReaderConfig configures the state reader.
type ReaderConfig struct {
	Client      backend.CatalogClient
	SQL         backend.SQLExecutor
	Limiter     *ratelimit.Limiter
	Breaker     *resilience.CircuitBreaker
	Logger      *logging.Logger
	CacheTTL    time.Duration
	SDKTimeout  time.Duration
	SQLTimeout  time.Duration
}

// Reader fetches observed state. Not-found is absence, never an error;
// permission-denied yields a partial record plus the structured error. A
// singleflight group collapses concurrent reads of the same key, and the
// reader never mutates backend state.
type Reader struct {
	client     backend.CatalogClient
	sql        backend.SQLExecutor
	limiter    *ratelimit.Limiter
	breaker    *resilience.CircuitBreaker
	log        *logging.Logger
	cache      *Cache
	group      singleflight.Group
	sdkTimeout time.Duration
	sqlTimeout time.Duration
}

// NewReader creates a Reader.
func NewReader(cfg ReaderConfig) *Reader {
	if cfg.SDKTimeout <= 0 {
		cfg.SDKTimeout = 60 * time.Second
	}
	if cfg.SQLTimeout <= 0 {
		cfg.SQLTimeout = 300 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewFromEnv("state-reader")
	}
	return &Reader{
		client:     cfg.Client,
		sql:        cfg.SQL,
		limiter:    cfg.Limiter,
		breaker:    cfg.Breaker,
		log:        log,
		cache:      NewCache(cfg.CacheTTL),
		sdkTimeout: cfg.SDKTimeout,
		sqlTimeout: cfg.SQLTimeout,
	}
}

// Invalidate drops the cached record for a resource key. Executors call it
// after every mutation.
func (r *Reader) Invalidate(rt catalog.ResourceType, fqn string) {
	r.cache.Invalidate(readKey(rt, fqn))
}

func readKey(rt catalog.ResourceType, fqn string) string {
	return string(rt) + ":" + fqn
}

type readResult struct {
	record *Record
	err    error
}

// Read returns the observed record for a resource, or nil when the backend
// reports it absent. At most one concurrent backend read runs per key;
// other callers share its result.
func (r *Reader) Read(ctx context.Context, rt catalog.ResourceType, fqn string) (*Record, error) {
	key := readKey(rt, fqn)
	if rec, ok := r.cache.Get(key); ok {
		return rec, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		rec, err := r.readUncached(ctx, rt, fqn)
		return readResult{record: rec, err: err}, nil
	})
	if err != nil {
		return nil, err
	}
	res := v.(readResult)
	if res.err == nil {
		r.cache.Put(key, res.record)
	}
	return res.record, res.err
}

func (r *Reader) readUncached(ctx context.Context, rt catalog.ResourceType, fqn string) (*Record, error) {
	var info *backend.ResourceInfo
	err := r.sdkCall(ctx, func(callCtx context.Context) error {
		var getErr error
		info, getErr = r.client.Get(callCtx, rt, fqn)
		return getErr
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		if errors.IsPermissionDenied(err) {
			return &Record{Type: rt, FullName: fqn, Partial: true}, err
		}
		return nil, err
	}

	rec := normalize(info)
	if err := r.enrich(ctx, rec); err != nil {
		if errors.IsPermissionDenied(err) {
			rec.Partial = true
			return rec, err
		}
		return nil, err
	}
	return rec, nil
}

// enrich fills the fields the control-plane record does not carry: grants
// (or permissions for compute assets), container policies and bindings, and
// the SQL-only table/function fields.
func (r *Reader) enrich(ctx context.Context, rec *Record) error {
	err := r.sdkCall(ctx, func(callCtx context.Context) error {
		if catalog.IsComputeAsset(rec.Type) {
			perms, err := r.client.GetPermissions(callCtx, rec.Type, rec.FullName)
			if err != nil {
				return err
			}
			for _, p := range perms {
				rec.Grants[p.Principal] = append(rec.Grants[p.Principal], p.Level)
			}
			return nil
		}
		grants, err := r.client.GetGrants(callCtx, rec.Type, rec.FullName)
		if err != nil {
			return err
		}
		for _, g := range grants {
			rec.Grants[g.Principal] = append([]string(nil), g.Privileges...)
		}
		return nil
	})
	if err != nil && !errors.IsNotFound(err) {
		return err
	}

	if catalog.IsContainer(rec.Type) {
		err := r.sdkCall(ctx, func(callCtx context.Context) error {
			policies, err := r.client.ListPolicies(callCtx, rec.FullName)
			if err != nil {
				return err
			}
			rec.Policies = policies
			return nil
		})
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
	}

	if rec.Type == catalog.TypeCatalog && rec.IsolationMode != "" {
		err := r.sdkCall(ctx, func(callCtx context.Context) error {
			bindings, err := r.client.GetWorkspaceBindings(callCtx, rec.FullName)
			if err != nil {
				return err
			}
			rec.Bindings = bindings
			return nil
		})
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
	}

	switch rec.Type {
	case catalog.TypeTable:
		return r.enrichTable(ctx, rec)
	case catalog.TypeFunction:
		return r.enrichFunction(ctx, rec)
	}
	return nil
}

func (r *Reader) enrichTable(ctx context.Context, rec *Record) error {
	if r.sql == nil {
		return nil
	}
	var ext *backend.TableExtended
	err := r.sqlCall(ctx, func(callCtx context.Context) error {
		var descErr error
		ext, descErr = r.sql.DescribeTableExtended(callCtx, rec.FullName)
		return descErr
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	rec.RowFilter = ext.RowFilter
	rec.ColumnMasks = ext.ColumnMasks
	if len(ext.Properties) > 0 {
		if rec.Properties == nil {
			rec.Properties = map[string]string{}
		}
		for k, v := range ext.Properties {
			rec.Properties[k] = v
		}
	}
	return nil
}

func (r *Reader) enrichFunction(ctx context.Context, rec *Record) error {
	if r.sql == nil {
		return nil
	}
	var detail *backend.FunctionDetail
	err := r.sqlCall(ctx, func(callCtx context.Context) error {
		var descErr error
		detail, descErr = r.sql.DescribeFunction(callCtx, rec.FullName)
		return descErr
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if rec.Properties == nil {
		rec.Properties = map[string]string{}
	}
	if detail.ReturnType != "" {
		rec.Properties["return_type"] = detail.ReturnType
	}
	if detail.Body != "" {
		rec.Properties["body"] = detail.Body
	}
	return nil
}

// ReadChildren bulk-lists the observed children of a container for drift
// detection and unmanaged-resource discovery. Listings are shallow: they
// are not enriched with grants or SQL-only fields.
func (r *Reader) ReadChildren(ctx context.Context, rt catalog.ResourceType, parentFQN string) ([]*Record, error) {
	var infos []backend.ResourceInfo
	err := r.sdkCall(ctx, func(callCtx context.Context) error {
		var listErr error
		infos, listErr = r.client.List(callCtx, rt, parentFQN)
		return listErr
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*Record, 0, len(infos))
	for i := range infos {
		out = append(out, normalize(&infos[i]))
	}
	return out, nil
}

func (r *Reader) sdkCall(ctx context.Context, fn func(context.Context) error) error {
	return r.boundedCall(ctx, r.sdkTimeout, "sdk", fn)
}

func (r *Reader) sqlCall(ctx context.Context, fn func(context.Context) error) error {
	return r.boundedCall(ctx, r.sqlTimeout, "sql", fn)
}

// boundedCall applies the shared rate limit, the circuit breaker, and the
// per-call timeout. A deadline hit is reclassified as a transient timeout
// so it enters the retry path upstream.
func (r *Reader) boundedCall(ctx context.Context, timeout time.Duration, backendName string, fn func(context.Context) error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := func() error { return fn(callCtx) }
	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(callCtx, run)
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			return errors.Transient(backendName, err)
		}
	} else {
		err = run()
	}
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		return errors.Timeout(backendName, err)
	}
	return err
}
