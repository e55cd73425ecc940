// Package provider abstracts the cloud APIs behind a single interface. Each
// adapter translates abstract requests into provider calls and classifies
// provider error codes into the two sentinel errors the orchestrator reacts
// to. No provider error type escapes this package.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrZoneUnavailable reports that a zone cannot currently satisfy the
	// request (capacity, quota or an unsupported zone). The orchestrator
	// retries the next zone on it.
	ErrZoneUnavailable = errors.New("zone unavailable")

	// ErrNotFound reports that a resource does not exist. Teardown treats
	// it as success.
	ErrNotFound = errors.New("resource not found")
)

// StateRunning is the normalized status of a usable instance or database.
const StateRunning = "running"

// NetworkRequest describes an isolated network to create.
type NetworkRequest struct {
	Name string
	CIDR string
}

// SubnetRequest describes a zonal subnet inside a network.
type SubnetRequest struct {
	NetworkID string
	Name      string
	Zone      string
	CIDR      string
}

// RulesetPurpose selects the firewall profile for a ruleset.
type RulesetPurpose string

const (
	// RulesetCompute admits all inbound traffic.
	RulesetCompute RulesetPurpose = "compute"
	// RulesetDatabase admits only TCP on the database port.
	RulesetDatabase RulesetPurpose = "database"
)

// RulesetRequest describes a firewall ruleset to create.
type RulesetRequest struct {
	NetworkID string
	Name      string
	Purpose   RulesetPurpose
	Port      int
}

// InstanceClass is a provider instance type resolved from an abstract
// compute request.
type InstanceClass struct {
	ID       string
	Cores    int
	MemoryGB int
	GPUs     int
	GPU      bool

	// Accelerator carries the GPU type for providers that attach
	// accelerators separately from the machine type.
	Accelerator string
}

// InstanceRequest describes a virtual machine to create in one zone.
type InstanceRequest struct {
	Name      string
	Class     InstanceClass
	DiskGB    int
	ImageID   string
	Zone      string
	NetworkID string
	SubnetID  string
	RulesetID string
	UserData  string
}

// InstanceStatus is the normalized state of an instance.
type InstanceStatus struct {
	State     string
	PublicIP  string
	PrivateIP string
}

// DatabaseClass is a provider database tier resolved from an abstract
// database request.
type DatabaseClass struct {
	ID       string
	MemoryMB int
}

// DatabaseRequest describes a managed MySQL instance to create. Zone and
// SubnetID select the attempt zone; SubnetIDs lists every session subnet for
// providers that require a multi-zone subnet group.
type DatabaseRequest struct {
	Name          string
	Class         DatabaseClass
	StorageGB     int
	EngineVersion string
	Zone          string
	NetworkID     string
	SubnetID      string
	SubnetIDs     []string
	RulesetID     string
	Port          int
	RootUser      string
	RootPassword  string
}

// DatabaseStatus is the normalized state of a managed database.
type DatabaseStatus struct {
	State string
	Host  string
	Port  int
}

// API is the provider adapter used by the orchestrator. Create calls return
// as soon as the provider accepts the request; readiness is observed through
// the Describe calls. Delete calls return nil for already-absent resources
// after classification maps the provider's not-found code to ErrNotFound.
type API interface {
	// Zones lists availability zones of the region, in preference order.
	Zones(ctx context.Context, region string) ([]string, error)

	CreateNetwork(ctx context.Context, req NetworkRequest) (string, error)
	CreateSubnet(ctx context.Context, req SubnetRequest) (string, error)
	CreateRuleset(ctx context.Context, req RulesetRequest) (string, error)

	// MapInstanceClass resolves abstract compute requirements onto the
	// smallest instance type satisfying them.
	MapInstanceClass(cpuCores, memoryGB int, gpuClass string) InstanceClass
	CreateInstance(ctx context.Context, req InstanceRequest) (string, error)
	DescribeInstance(ctx context.Context, id string) (*InstanceStatus, error)

	// MapDatabaseClass resolves abstract database requirements onto the
	// smallest database tier satisfying them.
	MapDatabaseClass(cpuCores, memoryMB int) DatabaseClass
	CreateDatabase(ctx context.Context, req DatabaseRequest) (string, error)
	DescribeDatabase(ctx context.Context, id string) (*DatabaseStatus, error)

	DeleteInstance(ctx context.Context, id string) error
	// ReleaseDatabase removes the managed database, skipping final
	// snapshots where the provider supports that.
	ReleaseDatabase(ctx context.Context, id string) error
	DeleteRuleset(ctx context.Context, id string) error
	DeleteSubnet(ctx context.Context, id string) error
	DeleteNetwork(ctx context.Context, id string) error
}
