package provision

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"cloudforge/internal/logging"
	"cloudforge/internal/provider"
)

// CleanupResult records one teardown step.
type CleanupResult struct {
	Kind string
	ID   string
	Err  error
}

// CleanupReport accumulates teardown outcomes. Teardown never aborts on a
// failed step; callers inspect the report instead.
type CleanupReport struct {
	Results []CleanupResult
}

// Failed returns the steps that did not complete.
func (r *CleanupReport) Failed() []CleanupResult {
	var failed []CleanupResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

func (r *CleanupReport) record(kind, id string, err error) {
	// Already-absent resources count as cleaned; teardown is idempotent.
	if errors.Is(err, provider.ErrNotFound) {
		err = nil
	}
	r.Results = append(r.Results, CleanupResult{Kind: kind, ID: id, Err: err})

	if err != nil {
		logging.Logger().Warn("teardown step failed",
			zap.String("kind", kind),
			zap.String("id", id),
			zap.Error(err))
		return
	}
	logging.Logger().Info("teardown step done",
		zap.String("kind", kind),
		zap.String("id", id))
}

// Teardown releases every recorded resource in reverse dependency order:
// instance, database, rulesets, subnets, network. Each step is attempted
// regardless of earlier failures so a stuck instance does not strand the
// rest of the session.
func Teardown(ctx context.Context, api provider.API, res *Resources) *CleanupReport {
	report := &CleanupReport{}

	if res.ComputeID != "" {
		report.record("instance", res.ComputeID, api.DeleteInstance(ctx, res.ComputeID))
	}
	if res.DatabaseID != "" {
		report.record("database", res.DatabaseID, api.ReleaseDatabase(ctx, res.DatabaseID))
	}
	for _, id := range res.RulesetIDs {
		report.record("ruleset", id, api.DeleteRuleset(ctx, id))
	}
	for _, id := range res.SubnetIDs() {
		report.record("subnet", id, api.DeleteSubnet(ctx, id))
	}
	if res.NetworkID != "" {
		report.record("network", res.NetworkID, api.DeleteNetwork(ctx, res.NetworkID))
	}

	if failed := report.Failed(); len(failed) > 0 {
		logging.Logger().Warn("teardown finished with failures",
			zap.Int("failed", len(failed)),
			zap.Int("total", len(report.Results)))
	} else if len(report.Results) > 0 {
		logging.Logger().Info("teardown finished",
			zap.Int("total", len(report.Results)))
	}
	return report
}
