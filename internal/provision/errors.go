package provision

import "errors"

var (
	// ErrNetworkProvisioningFailed means no usable subnet could be created.
	ErrNetworkProvisioningFailed = errors.New("network provisioning failed")

	// ErrNoZoneAvailable means every zone in the region rejected the
	// resource for capacity reasons.
	ErrNoZoneAvailable = errors.New("no zone available")

	// ErrProvisioningTimeout means a resource was created but never became
	// ready within the configured wait.
	ErrProvisioningTimeout = errors.New("provisioning timed out")
)
