package provision

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cloudforge/internal/logging"
	"cloudforge/internal/provider"
)

const networkCIDR = "10.0.0.0/16"

// subnetCIDR carves one /24 per zone out of the network block.
func subnetCIDR(index int) string {
	return fmt.Sprintf("10.0.%d.0/24", index+1)
}

// createNetwork provisions the network and one subnet per zone. A zone whose
// subnet fails is skipped; the run fails only when no subnet at all could be
// created.
func (o *Orchestrator) createNetwork(ctx context.Context, namePrefix string) ([]string, error) {
	zones, err := o.api.Zones(ctx, o.res.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	if len(zones) == 0 {
		return nil, fmt.Errorf("%w: region %s has no zones", ErrNetworkProvisioningFailed, o.res.Region)
	}

	networkID, err := o.api.CreateNetwork(ctx, provider.NetworkRequest{
		Name: namePrefix + "-net",
		CIDR: networkCIDR,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkProvisioningFailed, err)
	}
	o.res.NetworkID = networkID
	logging.Logger().Info("network created",
		zap.String("network_id", networkID),
		zap.String("cidr", networkCIDR))

	for i, zone := range zones {
		subnetID, err := o.api.CreateSubnet(ctx, provider.SubnetRequest{
			NetworkID: networkID,
			Name:      fmt.Sprintf("%s-subnet-%d", namePrefix, i+1),
			Zone:      zone,
			CIDR:      subnetCIDR(i),
		})
		if err != nil {
			logging.Logger().Warn("skipping zone, subnet creation failed",
				zap.String("zone", zone),
				zap.Error(err))
			continue
		}
		o.res.Subnets[zone] = subnetID
		logging.Logger().Info("subnet created",
			zap.String("zone", zone),
			zap.String("subnet_id", subnetID))
	}

	if len(o.res.Subnets) == 0 {
		return nil, fmt.Errorf("%w: no subnet could be created in any zone", ErrNetworkProvisioningFailed)
	}

	// Keep only zones that got a subnet, preserving preference order.
	usable := zones[:0]
	for _, z := range zones {
		if _, ok := o.res.Subnets[z]; ok {
			usable = append(usable, z)
		}
	}
	return usable, nil
}
