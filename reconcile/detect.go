package reconcile

import (
	"context"

	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/convention"
	"github.com/CauchyIO/brickkit/drift"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// childTypesToScan lists the asset types enumerated under each container
// during unmanaged-resource discovery.
var childTypesToScan = map[catalog.ResourceType][]catalog.ResourceType{
	catalog.TypeMetastore: {catalog.TypeCatalog},
	catalog.TypeCatalog:   {catalog.TypeSchema},
	catalog.TypeSchema: {
		catalog.TypeTable,
		catalog.TypeVolume,
		catalog.TypeFunction,
		catalog.TypeModel,
	},
}

// DetectDrift reads observed state for every declared resource, classifies
// the divergence, and enumerates unmanaged children. Detection never
// mutates anything.
func (rc *Reconciler) DetectDrift(ctx context.Context, root catalog.Resource) (*drift.Report, error) {
	conv, _ := root.Base().ConventionRef().(*convention.Convention)
	detector := drift.NewDetector(rc.env, conv)
	report := detector.NewReport()

	declaredFQNs := map[string]bool{}
	_ = catalog.Walk(root, func(r catalog.Resource) error {
		declaredFQNs[catalog.FQN(r, rc.env)] = true
		return nil
	})

	err := catalog.Walk(root, func(r catalog.Resource) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d, err := rc.ExecutorFor(r.Type()).Diff(ctx, r)
		if err != nil {
			if errors.IsPermissionDenied(err) {
				rc.log.WithResource(string(r.Type()), catalog.FQN(r, rc.env)).
					WithError(err).Warn("partial read during drift detection")
			} else {
				return err
			}
		}
		if d != nil {
			detector.Classify(report, d)
		}

		for _, childType := range childTypesToScan[r.Type()] {
			observedChildren, err := rc.reader.ReadChildren(ctx, childType, catalog.FQN(r, rc.env))
			if err != nil {
				if errors.IsPermissionDenied(err) {
					continue
				}
				return err
			}
			for _, child := range observedChildren {
				if !declaredFQNs[child.FullName] {
					detector.AddUnmanaged(report, child.FullName)
				}
			}
		}
		return nil
	})
	if err != nil && err != ctx.Err() {
		return report, err
	}

	if rc.metrics != nil {
		for severity, count := range report.CountBySeverity() {
			rc.metrics.DriftEntriesTotal.WithLabelValues("brickkit", string(severity)).Add(float64(count))
		}
		rc.metrics.UnmanagedResources.Set(float64(len(report.Unmanaged)))
		rc.metrics.CompliantResources.Set(float64(len(report.Compliant)))
	}
	return report, nil
}

// DeleteUnmanaged drops observed resources absent from declared state.
// It refuses to run without the explicit AllowUnmanagedDeletes opt-in;
// unmanaged state is otherwise reported only.
func (rc *Reconciler) DeleteUnmanaged(ctx context.Context, report *drift.Report, types map[string]catalog.ResourceType) ([]ExecutionResult, error) {
	if !rc.opts.AllowUnmanagedDeletes {
		return nil, errors.Validation("unmanaged_deletes", "deleting unmanaged resources requires Options.AllowUnmanagedDeletes")
	}
	var results []ExecutionResult
	for _, fqn := range report.Unmanaged {
		rt, ok := types[fqn]
		if !ok {
			continue
		}
		err := rc.sdkCall(ctx, rt, func(cc context.Context) error {
			err := rc.client.Delete(cc, rt, fqn)
			if errors.IsNotFound(err) {
				return nil
			}
			return err
		})
		res := ExecutionResult{
			Success:      err == nil,
			Operation:    OpDelete,
			ResourceType: rt,
			ResourceName: fqn,
		}
		if err != nil {
			res.Operation = OpError
			res.Errors = append(res.Errors, err.Error())
		}
		rc.reader.Invalidate(rt, fqn)
		results = append(results, res)
	}
	return results, nil
}
