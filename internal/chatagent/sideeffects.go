package chatagent

import (
	"context"
	"fmt"

	"github.com/haasonsaas/nexus/internal/reqctx"
)

// MemoryStore applies manage_memory operations extracted from a run. The
// long-term memory backend itself is out of scope for this module;
// callers that want manage_memory to do anything supply one.
type MemoryStore interface {
	Apply(ctx context.Context, userID string, op MemoryOp) error
}

// DashboardRefresher regenerates the planner dashboard snapshot for a user.
// Like MemoryStore, the actual dashboard data source is out of scope; this
// is the seam a caller wires a real implementation into.
type DashboardRefresher interface {
	Refresh(ctx context.Context, userID string) (string, error)
}

// ApplySideEffects runs the data-sink tools' actual side effects from
// previously-extracted Metadata: memory operations and a
// planner dashboard refresh. It is called once per run, at save time,
// by whichever caller owns persistence — the interactive chat handler,
// the streaming pipeline's save path, or the autonomous executor.
func (f *Facade) ApplySideEffects(ctx context.Context, userID string, md Metadata) []error {
	var errs []error

	if f.Memory != nil {
		for _, op := range md.MemoryOps {
			if err := f.Memory.Apply(ctx, userID, op); err != nil {
				errs = append(errs, fmt.Errorf("chatagent: memory op %q: %w", op.Action, err))
			}
		}
	}

	if md.PlannerDashboardRefresh && f.Dashboard != nil {
		store, ok := reqctx.PlannerDashboardFromContext(ctx)
		if !ok {
			errs = append(errs, fmt.Errorf("chatagent: planner dashboard refresh requested but no ambient store installed"))
		} else {
			snapshot, err := f.Dashboard.Refresh(ctx, userID)
			if err != nil {
				errs = append(errs, fmt.Errorf("chatagent: refreshing planner dashboard: %w", err))
			} else if err := store.Set(ctx, snapshot); err != nil {
				errs = append(errs, fmt.Errorf("chatagent: storing planner dashboard snapshot: %w", err))
			}
		}
	}

	return errs
}
