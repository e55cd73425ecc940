package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/yandex-cloud/go-genproto/yandex/cloud/compute/v1"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/mdb/mysql/v1"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/operation"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/vpc/v1"
	ycsdk "github.com/yandex-cloud/go-sdk"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"cloudforge/internal/config"
)

// YandexProvider implements the API interface for Yandex Cloud using the VPC,
// Compute and Managed MySQL services.
type YandexProvider struct {
	sdk      *ycsdk.SDK
	folderID string
	imageID  string
}

// NewYandexProvider creates a new instance of YandexProvider.
func NewYandexProvider(ctx context.Context, cfg *config.YandexCloudConfig) (*YandexProvider, error) {
	sdk, err := ycsdk.Build(ctx, ycsdk.Config{
		Credentials: ycsdk.NewIAMTokenCredentials(cfg.IAMToken),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SDK: %w", err)
	}

	return &YandexProvider{
		sdk:      sdk,
		folderID: cfg.FolderID,
		imageID:  cfg.ImageID,
	}, nil
}

// classifyYandex maps gRPC status codes onto the adapter sentinels.
func classifyYandex(err error, action string) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return fmt.Errorf("%s: %w", action, ErrZoneUnavailable)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", action, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// waitOperation runs the wrap-and-wait dance for a synchronously awaited
// operation and returns its response message.
func (p *YandexProvider) waitOperation(ctx context.Context, pop *operation.Operation, err error, action string) (interface{}, error) {
	if err != nil {
		return nil, classifyYandex(err, action)
	}
	op, err := p.sdk.WrapOperation(pop, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to wrap operation: %w", action, err)
	}
	if err := op.Wait(ctx); err != nil {
		return nil, classifyYandex(err, action)
	}
	resp, err := op.Response()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get response: %w", action, err)
	}
	return resp, nil
}

func (p *YandexProvider) Zones(ctx context.Context, region string) ([]string, error) {
	if region == "ru-central1" || region == "" {
		return []string{"ru-central1-a", "ru-central1-b", "ru-central1-d"}, nil
	}
	return []string{region + "-a", region + "-b", region + "-c"}, nil
}

func (p *YandexProvider) CreateNetwork(ctx context.Context, req NetworkRequest) (string, error) {
	pop, err := p.sdk.VPC().Network().Create(ctx, &vpc.CreateNetworkRequest{
		FolderId: p.folderID,
		Name:     req.Name,
	})
	resp, err := p.waitOperation(ctx, pop, err, "failed to create network")
	if err != nil {
		return "", err
	}
	return resp.(*vpc.Network).Id, nil
}

func (p *YandexProvider) CreateSubnet(ctx context.Context, req SubnetRequest) (string, error) {
	pop, err := p.sdk.VPC().Subnet().Create(ctx, &vpc.CreateSubnetRequest{
		FolderId:     p.folderID,
		NetworkId:    req.NetworkID,
		Name:         req.Name,
		ZoneId:       req.Zone,
		V4CidrBlocks: []string{req.CIDR},
	})
	resp, err := p.waitOperation(ctx, pop, err, "failed to create subnet")
	if err != nil {
		return "", err
	}
	return resp.(*vpc.Subnet).Id, nil
}

func (p *YandexProvider) CreateRuleset(ctx context.Context, req RulesetRequest) (string, error) {
	anywhere := &vpc.SecurityGroupRuleSpec_CidrBlocks{
		CidrBlocks: &vpc.CidrBlocks{V4CidrBlocks: []string{"0.0.0.0/0"}},
	}

	ingress := &vpc.SecurityGroupRuleSpec{
		Direction: vpc.SecurityGroupRule_INGRESS,
		Protocol:  &vpc.SecurityGroupRuleSpec_ProtocolName{ProtocolName: "ANY"},
		Target:    anywhere,
	}
	if req.Purpose == RulesetDatabase {
		ingress.Protocol = &vpc.SecurityGroupRuleSpec_ProtocolName{ProtocolName: "TCP"}
		ingress.Ports = &vpc.PortRange{FromPort: int64(req.Port), ToPort: int64(req.Port)}
	}

	pop, err := p.sdk.VPC().SecurityGroup().Create(ctx, &vpc.CreateSecurityGroupRequest{
		FolderId:  p.folderID,
		NetworkId: req.NetworkID,
		Name:      req.Name,
		RuleSpecs: []*vpc.SecurityGroupRuleSpec{
			ingress,
			{
				Direction: vpc.SecurityGroupRule_EGRESS,
				Protocol:  &vpc.SecurityGroupRuleSpec_ProtocolName{ProtocolName: "ANY"},
				Target:    anywhere,
			},
		},
	})
	resp, err := p.waitOperation(ctx, pop, err, "failed to create security group")
	if err != nil {
		return "", err
	}
	return resp.(*vpc.SecurityGroup).Id, nil
}

func (p *YandexProvider) MapInstanceClass(cpuCores, memoryGB int, gpuClass string) InstanceClass {
	if gpuClass != "" {
		gpuTypes := map[string]InstanceClass{
			"T4":   {ID: "standard-v3-t4", Cores: 8, MemoryGB: 32, GPUs: 1, GPU: true},
			"V100": {ID: "gpu-standard-v1", Cores: 8, MemoryGB: 96, GPUs: 1, GPU: true},
			"A100": {ID: "gpu-standard-v3", Cores: 28, MemoryGB: 119, GPUs: 1, GPU: true},
		}
		if c, ok := gpuTypes[strings.ToUpper(gpuClass)]; ok {
			return c
		}
		return gpuTypes["T4"]
	}

	// The platform takes cores and memory directly; normalize to the
	// allowed step sizes.
	cores := 2
	for cores < cpuCores && cores < 32 {
		cores *= 2
	}
	memory := memoryGB
	if memory < 2 {
		memory = 2
	}
	if memory%2 != 0 {
		memory++
	}
	return InstanceClass{ID: "standard-v3", Cores: cores, MemoryGB: memory}
}

func (p *YandexProvider) CreateInstance(ctx context.Context, req InstanceRequest) (string, error) {
	imageID := req.ImageID
	if imageID == "" {
		image, err := p.sdk.Compute().Image().GetLatestByFamily(ctx, &compute.GetImageLatestByFamilyRequest{
			FolderId: "standard-images",
			Family:   "ubuntu-2204-lts",
		})
		if err != nil {
			return "", fmt.Errorf("failed to resolve default image: %w", err)
		}
		imageID = image.Id
	}

	const gib = 1024 * 1024 * 1024

	pop, err := p.sdk.Compute().Instance().Create(ctx, &compute.CreateInstanceRequest{
		FolderId:   p.folderID,
		Name:       req.Name,
		ZoneId:     req.Zone,
		PlatformId: req.Class.ID,
		ResourcesSpec: &compute.ResourcesSpec{
			Cores:  int64(req.Class.Cores),
			Memory: int64(req.Class.MemoryGB) * gib,
			Gpus:   int64(req.Class.GPUs),
		},
		BootDiskSpec: &compute.AttachedDiskSpec{
			AutoDelete: true,
			Disk: &compute.AttachedDiskSpec_DiskSpec_{
				DiskSpec: &compute.AttachedDiskSpec_DiskSpec{
					TypeId: "network-ssd",
					Size:   int64(req.DiskGB) * gib,
					Source: &compute.AttachedDiskSpec_DiskSpec_ImageId{
						ImageId: imageID,
					},
				},
			},
		},
		NetworkInterfaceSpecs: []*compute.NetworkInterfaceSpec{
			{
				SubnetId: req.SubnetID,
				PrimaryV4AddressSpec: &compute.PrimaryAddressSpec{
					OneToOneNatSpec: &compute.OneToOneNatSpec{
						IpVersion: compute.IpVersion_IPV4,
					},
				},
				SecurityGroupIds: []string{req.RulesetID},
			},
		},
		Metadata: map[string]string{
			"user-data": req.UserData,
		},
	})
	if err != nil {
		return "", classifyYandex(err, "failed to create VM")
	}

	// Readiness is observed through DescribeInstance, so only the metadata
	// is needed here.
	op, err := p.sdk.WrapOperation(pop, nil)
	if err != nil {
		return "", fmt.Errorf("failed to wrap operation: %w", err)
	}
	meta, err := op.Metadata()
	if err != nil {
		return "", fmt.Errorf("failed to get operation metadata: %w", err)
	}
	return meta.(*compute.CreateInstanceMetadata).InstanceId, nil
}

func (p *YandexProvider) DescribeInstance(ctx context.Context, id string) (*InstanceStatus, error) {
	instance, err := p.sdk.Compute().Instance().Get(ctx, &compute.GetInstanceRequest{
		InstanceId: id,
	})
	if err != nil {
		return nil, classifyYandex(err, "failed to get VM")
	}

	st := &InstanceStatus{State: strings.ToLower(instance.Status.String())}
	if len(instance.NetworkInterfaces) > 0 {
		iface := instance.NetworkInterfaces[0]
		if iface.PrimaryV4Address != nil {
			st.PrivateIP = iface.PrimaryV4Address.Address
			if nat := iface.PrimaryV4Address.OneToOneNat; nat != nil {
				st.PublicIP = nat.Address
			}
		}
	}
	return st, nil
}

func (p *YandexProvider) MapDatabaseClass(cpuCores, memoryMB int) DatabaseClass {
	ladder := []DatabaseClass{
		{ID: "b2.medium", MemoryMB: 4096},
		{ID: "s2.micro", MemoryMB: 8192},
		{ID: "s2.small", MemoryMB: 16384},
		{ID: "s2.medium", MemoryMB: 32768},
	}
	for _, c := range ladder {
		if memoryMB <= c.MemoryMB {
			return c
		}
	}
	return DatabaseClass{ID: "s2.large", MemoryMB: 65536}
}

func (p *YandexProvider) CreateDatabase(ctx context.Context, req DatabaseRequest) (string, error) {
	const gib = 1024 * 1024 * 1024

	version := req.EngineVersion
	if version == "" {
		version = "8.0"
	}

	pop, err := p.sdk.MDB().MySQL().Cluster().Create(ctx, &mysql.CreateClusterRequest{
		FolderId:    p.folderID,
		Name:        req.Name,
		Environment: mysql.Cluster_PRODUCTION,
		NetworkId:   req.NetworkID,
		ConfigSpec: &mysql.ConfigSpec{
			Version: version,
			Resources: &mysql.Resources{
				ResourcePresetId: req.Class.ID,
				DiskSize:         int64(req.StorageGB) * gib,
				DiskTypeId:       "network-ssd",
			},
		},
		DatabaseSpecs: []*mysql.DatabaseSpec{
			{Name: "app"},
		},
		UserSpecs: []*mysql.UserSpec{
			{
				Name:     req.RootUser,
				Password: req.RootPassword,
				Permissions: []*mysql.Permission{
					{DatabaseName: "app"},
				},
			},
		},
		HostSpecs: []*mysql.HostSpec{
			{
				ZoneId:         req.Zone,
				SubnetId:       req.SubnetID,
				AssignPublicIp: true,
			},
		},
		SecurityGroupIds: []string{req.RulesetID},
	})
	if err != nil {
		return "", classifyYandex(err, "failed to create MySQL cluster")
	}

	op, err := p.sdk.WrapOperation(pop, nil)
	if err != nil {
		return "", fmt.Errorf("failed to wrap operation: %w", err)
	}
	meta, err := op.Metadata()
	if err != nil {
		return "", fmt.Errorf("failed to get operation metadata: %w", err)
	}
	return meta.(*mysql.CreateClusterMetadata).ClusterId, nil
}

func (p *YandexProvider) DescribeDatabase(ctx context.Context, id string) (*DatabaseStatus, error) {
	cluster, err := p.sdk.MDB().MySQL().Cluster().Get(ctx, &mysql.GetClusterRequest{
		ClusterId: id,
	})
	if err != nil {
		return nil, classifyYandex(err, "failed to get MySQL cluster")
	}

	st := &DatabaseStatus{State: strings.ToLower(cluster.Status.String())}
	if cluster.Status == mysql.Cluster_RUNNING {
		st.State = StateRunning
		hosts, err := p.sdk.MDB().MySQL().Cluster().ListHosts(ctx, &mysql.ListClusterHostsRequest{
			ClusterId: id,
		})
		if err != nil {
			return nil, classifyYandex(err, "failed to list MySQL hosts")
		}
		if len(hosts.Hosts) > 0 {
			st.Host = hosts.Hosts[0].Name
			st.Port = 3306
		}
	}
	return st, nil
}

func (p *YandexProvider) DeleteInstance(ctx context.Context, id string) error {
	pop, err := p.sdk.Compute().Instance().Delete(ctx, &compute.DeleteInstanceRequest{
		InstanceId: id,
	})
	_, err = p.waitOperation(ctx, pop, err, "failed to delete VM")
	return err
}

func (p *YandexProvider) ReleaseDatabase(ctx context.Context, id string) error {
	pop, err := p.sdk.MDB().MySQL().Cluster().Delete(ctx, &mysql.DeleteClusterRequest{
		ClusterId: id,
	})
	_, err = p.waitOperation(ctx, pop, err, "failed to delete MySQL cluster")
	return err
}

func (p *YandexProvider) DeleteRuleset(ctx context.Context, id string) error {
	pop, err := p.sdk.VPC().SecurityGroup().Delete(ctx, &vpc.DeleteSecurityGroupRequest{
		SecurityGroupId: id,
	})
	_, err = p.waitOperation(ctx, pop, err, "failed to delete security group")
	return err
}

func (p *YandexProvider) DeleteSubnet(ctx context.Context, id string) error {
	pop, err := p.sdk.VPC().Subnet().Delete(ctx, &vpc.DeleteSubnetRequest{
		SubnetId: id,
	})
	_, err = p.waitOperation(ctx, pop, err, "failed to delete subnet")
	return err
}

func (p *YandexProvider) DeleteNetwork(ctx context.Context, id string) error {
	pop, err := p.sdk.VPC().Network().Delete(ctx, &vpc.DeleteNetworkRequest{
		NetworkId: id,
	})
	_, err = p.waitOperation(ctx, pop, err, "failed to delete network")
	return err
}
