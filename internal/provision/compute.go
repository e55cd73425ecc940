package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cloudforge/internal/logging"
	"cloudforge/internal/provider"
)

// createInstanceAcrossZones tries each zone in order until one accepts the
// instance. Only zone-capacity failures advance the loop; any other error
// aborts immediately.
func (o *Orchestrator) createInstanceAcrossZones(ctx context.Context, req provider.InstanceRequest, zones []string) (string, error) {
	for _, zone := range zones {
		req.Zone = zone
		req.SubnetID = o.res.Subnets[zone]

		id, err := o.api.CreateInstance(ctx, req)
		if err == nil {
			logging.Logger().Info("instance accepted",
				zap.String("instance_id", id),
				zap.String("zone", zone))
			o.res.ComputeID = id
			o.res.ComputeZone = zone
			return id, nil
		}
		if errors.Is(err, provider.ErrZoneUnavailable) {
			logging.Logger().Warn("zone cannot host instance, trying next",
				zap.String("zone", zone),
				zap.Error(err))
			continue
		}
		return "", fmt.Errorf("failed to create instance in zone %s: %w", zone, err)
	}
	return "", fmt.Errorf("%w: instance rejected by all %d zones", ErrNoZoneAvailable, len(zones))
}

// waitInstanceRunning polls until the instance reports running and has a
// public address, or the deadline passes.
func (o *Orchestrator) waitInstanceRunning(ctx context.Context, id string, interval, maxWait time.Duration) (*provider.InstanceStatus, error) {
	deadline := time.Now().Add(maxWait)
	for {
		status, err := o.api.DescribeInstance(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to poll instance %s: %w", id, err)
		}
		if status.State == provider.StateRunning && status.PublicIP != "" {
			return status, nil
		}
		logging.Logger().Debug("waiting for instance",
			zap.String("instance_id", id),
			zap.String("state", status.State))

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: instance %s still %s after %s", ErrProvisioningTimeout, id, status.State, maxWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
