package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sqladmin "google.golang.org/api/sqladmin/v1beta4"

	"cloudforge/internal/config"
)

// GCPProvider implements the API interface for Google Cloud using Compute
// Engine for compute and networking and Cloud SQL for managed MySQL.
type GCPProvider struct {
	compute   *compute.Service
	sql       *sqladmin.Service
	projectID string
	region    string
}

// NewGCPProvider creates a new instance of GCPProvider.
func NewGCPProvider(ctx context.Context, cfg *config.GCPConfig, region string) (*GCPProvider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	computeSvc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}
	sqlSvc, err := sqladmin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqladmin service: %w", err)
	}

	return &GCPProvider{
		compute:   computeSvc,
		sql:       sqlSvc,
		projectID: cfg.ProjectID,
		region:    region,
	}, nil
}

// classifyGCP maps googleapi errors onto the adapter sentinels.
func classifyGCP(err error, action string) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 404:
			return fmt.Errorf("%s: %w", action, ErrNotFound)
		case apiErr.Code == 429:
			return fmt.Errorf("%s: %w", action, ErrZoneUnavailable)
		}
		for _, e := range apiErr.Errors {
			if e.Reason == "resourceNotAvailable" || e.Reason == "quotaExceeded" {
				return fmt.Errorf("%s: %s: %w", action, e.Reason, ErrZoneUnavailable)
			}
		}
	}
	if strings.Contains(err.Error(), "ZONE_RESOURCE_POOL_EXHAUSTED") {
		return fmt.Errorf("%s: %w", action, ErrZoneUnavailable)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func (p *GCPProvider) waitGlobalOperation(ctx context.Context, opName string) error {
	for i := 0; i < 60; i++ {
		op, err := p.compute.GlobalOperations.Get(p.projectID, opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Status == "DONE" {
			if op.Error != nil {
				return fmt.Errorf("operation error: %v", op.Error.Errors)
			}
			return nil
		}
		time.Sleep(5 * time.Second)
	}
	return fmt.Errorf("timeout waiting for operation %s", opName)
}

func (p *GCPProvider) waitRegionOperation(ctx context.Context, opName string) error {
	for i := 0; i < 60; i++ {
		op, err := p.compute.RegionOperations.Get(p.projectID, p.region, opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Status == "DONE" {
			if op.Error != nil {
				return fmt.Errorf("operation error: %v", op.Error.Errors)
			}
			return nil
		}
		time.Sleep(5 * time.Second)
	}
	return fmt.Errorf("timeout waiting for operation %s", opName)
}

func (p *GCPProvider) Zones(ctx context.Context, region string) ([]string, error) {
	resp, err := p.compute.Zones.List(p.projectID).Filter(fmt.Sprintf("name = %s-*", region)).Context(ctx).Do()
	if err != nil || len(resp.Items) == 0 {
		return []string{region + "-a", region + "-b", region + "-c"}, nil
	}
	zones := make([]string, 0, len(resp.Items))
	for _, z := range resp.Items {
		if z.Status == "UP" {
			zones = append(zones, z.Name)
		}
	}
	return zones, nil
}

func (p *GCPProvider) CreateNetwork(ctx context.Context, req NetworkRequest) (string, error) {
	network := &compute.Network{
		Name:                  req.Name,
		AutoCreateSubnetworks: false,
		ForceSendFields:       []string{"AutoCreateSubnetworks"},
	}
	op, err := p.compute.Networks.Insert(p.projectID, network).Context(ctx).Do()
	if err != nil {
		return "", classifyGCP(err, "failed to insert network")
	}
	if err := p.waitGlobalOperation(ctx, op.Name); err != nil {
		return "", classifyGCP(err, "failed to insert network")
	}
	return req.Name, nil
}

func (p *GCPProvider) CreateSubnet(ctx context.Context, req SubnetRequest) (string, error) {
	subnet := &compute.Subnetwork{
		Name:        req.Name,
		Network:     "global/networks/" + req.NetworkID,
		IpCidrRange: req.CIDR,
		Region:      p.region,
	}
	op, err := p.compute.Subnetworks.Insert(p.projectID, p.region, subnet).Context(ctx).Do()
	if err != nil {
		return "", classifyGCP(err, "failed to insert subnetwork")
	}
	if err := p.waitRegionOperation(ctx, op.Name); err != nil {
		return "", classifyGCP(err, "failed to insert subnetwork")
	}
	return req.Name, nil
}

func (p *GCPProvider) CreateRuleset(ctx context.Context, req RulesetRequest) (string, error) {
	allowed := []*compute.FirewallAllowed{{IPProtocol: "all"}}
	if req.Purpose == RulesetDatabase {
		allowed = []*compute.FirewallAllowed{
			{IPProtocol: "tcp", Ports: []string{fmt.Sprintf("%d", req.Port)}},
		}
	}

	firewall := &compute.Firewall{
		Name:         req.Name,
		Network:      "global/networks/" + req.NetworkID,
		Direction:    "INGRESS",
		SourceRanges: []string{"0.0.0.0/0"},
		Allowed:      allowed,
	}
	op, err := p.compute.Firewalls.Insert(p.projectID, firewall).Context(ctx).Do()
	if err != nil {
		return "", classifyGCP(err, "failed to insert firewall")
	}
	if err := p.waitGlobalOperation(ctx, op.Name); err != nil {
		return "", classifyGCP(err, "failed to insert firewall")
	}
	return req.Name, nil
}

func (p *GCPProvider) MapInstanceClass(cpuCores, memoryGB int, gpuClass string) InstanceClass {
	if gpuClass != "" {
		gpuTypes := map[string]InstanceClass{
			"T4":   {ID: "n1-standard-8", Cores: 8, MemoryGB: 30, GPUs: 1, GPU: true, Accelerator: "nvidia-tesla-t4"},
			"V100": {ID: "n1-standard-8", Cores: 8, MemoryGB: 30, GPUs: 1, GPU: true, Accelerator: "nvidia-tesla-v100"},
			"A100": {ID: "a2-highgpu-1g", Cores: 12, MemoryGB: 85, GPUs: 1, GPU: true, Accelerator: "nvidia-tesla-a100"},
		}
		if c, ok := gpuTypes[strings.ToUpper(gpuClass)]; ok {
			return c
		}
		return gpuTypes["T4"]
	}

	ladder := []InstanceClass{
		{ID: "e2-medium", Cores: 2, MemoryGB: 4},
		{ID: "e2-standard-2", Cores: 2, MemoryGB: 8},
		{ID: "e2-standard-4", Cores: 4, MemoryGB: 16},
		{ID: "e2-standard-8", Cores: 8, MemoryGB: 32},
		{ID: "e2-standard-16", Cores: 16, MemoryGB: 64},
	}
	for _, c := range ladder {
		if cpuCores <= c.Cores && memoryGB <= c.MemoryGB {
			return c
		}
	}
	return InstanceClass{ID: "e2-standard-32", Cores: 32, MemoryGB: 128}
}

// Compute instance ids are "zone/name" because every later call needs the
// zone back.
func splitInstanceID(id string) (zone, name string, err error) {
	parts := strings.SplitN(id, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed instance id %q", id)
	}
	return parts[0], parts[1], nil
}

func (p *GCPProvider) CreateInstance(ctx context.Context, req InstanceRequest) (string, error) {
	image := req.ImageID
	if image == "" {
		image = "projects/ubuntu-os-cloud/global/images/family/ubuntu-2204-lts"
	}

	userData := req.UserData
	instance := &compute.Instance{
		Name:        req.Name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", req.Zone, req.Class.ID),
		Disks: []*compute.AttachedDisk{
			{
				AutoDelete: true,
				Boot:       true,
				Type:       "PERSISTENT",
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: image,
					DiskSizeGb:  int64(req.DiskGB),
				},
			},
		},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				Network:    "global/networks/" + req.NetworkID,
				Subnetwork: fmt.Sprintf("regions/%s/subnetworks/%s", p.region, req.SubnetID),
				AccessConfigs: []*compute.AccessConfig{
					{Type: "ONE_TO_ONE_NAT", Name: "External NAT"},
				},
			},
		},
		Metadata: &compute.Metadata{
			Items: []*compute.MetadataItems{
				{Key: "user-data", Value: &userData},
			},
		},
	}

	if req.Class.GPU {
		instance.GuestAccelerators = []*compute.AcceleratorConfig{
			{
				AcceleratorType:  fmt.Sprintf("zones/%s/acceleratorTypes/%s", req.Zone, req.Class.Accelerator),
				AcceleratorCount: int64(req.Class.GPUs),
			},
		}
		// Accelerator-attached instances cannot live-migrate.
		instance.Scheduling = &compute.Scheduling{OnHostMaintenance: "TERMINATE"}
	}

	_, err := p.compute.Instances.Insert(p.projectID, req.Zone, instance).Context(ctx).Do()
	if err != nil {
		return "", classifyGCP(err, "failed to insert instance")
	}
	return req.Zone + "/" + req.Name, nil
}

func (p *GCPProvider) DescribeInstance(ctx context.Context, id string) (*InstanceStatus, error) {
	zone, name, err := splitInstanceID(id)
	if err != nil {
		return nil, err
	}

	instance, err := p.compute.Instances.Get(p.projectID, zone, name).Context(ctx).Do()
	if err != nil {
		return nil, classifyGCP(err, "failed to get instance")
	}

	state := strings.ToLower(instance.Status)
	status := &InstanceStatus{State: state}
	if len(instance.NetworkInterfaces) > 0 {
		iface := instance.NetworkInterfaces[0]
		status.PrivateIP = iface.NetworkIP
		if len(iface.AccessConfigs) > 0 {
			status.PublicIP = iface.AccessConfigs[0].NatIP
		}
	}
	return status, nil
}

func (p *GCPProvider) MapDatabaseClass(cpuCores, memoryMB int) DatabaseClass {
	ladder := []DatabaseClass{
		{ID: "db-f1-micro", MemoryMB: 614},
		{ID: "db-g1-small", MemoryMB: 1740},
		{ID: "db-n1-standard-1", MemoryMB: 3840},
		{ID: "db-n1-standard-2", MemoryMB: 7680},
		{ID: "db-n1-standard-4", MemoryMB: 15360},
	}
	for _, c := range ladder {
		if memoryMB <= c.MemoryMB {
			return c
		}
	}
	return DatabaseClass{ID: "db-n1-standard-8", MemoryMB: 30720}
}

func (p *GCPProvider) CreateDatabase(ctx context.Context, req DatabaseRequest) (string, error) {
	version := "MYSQL_8_0"
	if strings.HasPrefix(req.EngineVersion, "5.7") {
		version = "MYSQL_5_7"
	}

	instance := &sqladmin.DatabaseInstance{
		Name:            req.Name,
		Region:          p.region,
		DatabaseVersion: version,
		RootPassword:    req.RootPassword,
		GceZone:         req.Zone,
		Settings: &sqladmin.Settings{
			Tier:           req.Class.ID,
			DataDiskSizeGb: int64(req.StorageGB),
			IpConfiguration: &sqladmin.IpConfiguration{
				Ipv4Enabled: true,
				AuthorizedNetworks: []*sqladmin.AclEntry{
					{Value: "0.0.0.0/0"},
				},
			},
		},
	}

	if _, err := p.sql.Instances.Insert(p.projectID, instance).Context(ctx).Do(); err != nil {
		return "", classifyGCP(err, "failed to insert SQL instance")
	}
	return req.Name, nil
}

func (p *GCPProvider) DescribeDatabase(ctx context.Context, id string) (*DatabaseStatus, error) {
	instance, err := p.sql.Instances.Get(p.projectID, id).Context(ctx).Do()
	if err != nil {
		return nil, classifyGCP(err, "failed to get SQL instance")
	}

	state := strings.ToLower(instance.State)
	if instance.State == "RUNNABLE" {
		state = StateRunning
	}
	status := &DatabaseStatus{State: state, Port: 3306}
	for _, addr := range instance.IpAddresses {
		if addr.Type == "PRIMARY" {
			status.Host = addr.IpAddress
		}
	}
	return status, nil
}

func (p *GCPProvider) DeleteInstance(ctx context.Context, id string) error {
	zone, name, err := splitInstanceID(id)
	if err != nil {
		return err
	}
	_, err = p.compute.Instances.Delete(p.projectID, zone, name).Context(ctx).Do()
	return classifyGCP(err, "failed to delete instance")
}

func (p *GCPProvider) ReleaseDatabase(ctx context.Context, id string) error {
	_, err := p.sql.Instances.Delete(p.projectID, id).Context(ctx).Do()
	return classifyGCP(err, "failed to delete SQL instance")
}

func (p *GCPProvider) DeleteRuleset(ctx context.Context, id string) error {
	op, err := p.compute.Firewalls.Delete(p.projectID, id).Context(ctx).Do()
	if err != nil {
		return classifyGCP(err, "failed to delete firewall")
	}
	return classifyGCP(p.waitGlobalOperation(ctx, op.Name), "failed to delete firewall")
}

func (p *GCPProvider) DeleteSubnet(ctx context.Context, id string) error {
	op, err := p.compute.Subnetworks.Delete(p.projectID, p.region, id).Context(ctx).Do()
	if err != nil {
		return classifyGCP(err, "failed to delete subnetwork")
	}
	return classifyGCP(p.waitRegionOperation(ctx, op.Name), "failed to delete subnetwork")
}

func (p *GCPProvider) DeleteNetwork(ctx context.Context, id string) error {
	op, err := p.compute.Networks.Delete(p.projectID, id).Context(ctx).Do()
	if err != nil {
		return classifyGCP(err, "failed to delete network")
	}
	return classifyGCP(p.waitGlobalOperation(ctx, op.Name), "failed to delete network")
}
