package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"

	"cloudforge/internal/config"
)

// AWSProvider implements the API interface for AWS using EC2 for compute and
// networking and RDS for managed MySQL.
type AWSProvider struct {
	ec2    *ec2.Client
	rds    *rds.Client
	region string
}

// NewAWSProvider creates a new instance of AWSProvider.
func NewAWSProvider(ctx context.Context, cfg *config.AWSConfig, region string) (*AWSProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSProvider{
		ec2:    ec2.NewFromConfig(awsCfg),
		rds:    rds.NewFromConfig(awsCfg),
		region: region,
	}, nil
}

// awsRetryableCodes are API error codes meaning the zone cannot satisfy the
// request right now; the next zone may.
var awsRetryableCodes = map[string]bool{
	"InsufficientInstanceCapacity":   true,
	"InsufficientCapacity":           true,
	"Unsupported":                    true,
	"InsufficientDBInstanceCapacity": true,
}

// classifyAWS maps AWS API error codes onto the adapter sentinels. All other
// errors pass through wrapped.
func classifyAWS(err error, action string) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if awsRetryableCodes[code] {
			return fmt.Errorf("%s: %s: %w", action, code, ErrZoneUnavailable)
		}
		if strings.HasSuffix(code, ".NotFound") ||
			code == "DBInstanceNotFound" ||
			code == "DBInstanceNotFoundFault" ||
			code == "DBSubnetGroupNotFoundFault" {
			return fmt.Errorf("%s: %s: %w", action, code, ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}

func (p *AWSProvider) Zones(ctx context.Context, region string) ([]string, error) {
	out, err := p.ec2.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("region-name"), Values: []string{region}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil || len(out.AvailabilityZones) == 0 {
		// The static fallback keeps zone retry functional when the
		// describe call is not permitted.
		return []string{region + "a", region + "b", region + "c"}, nil
	}

	zones := make([]string, 0, len(out.AvailabilityZones))
	for _, z := range out.AvailabilityZones {
		zones = append(zones, aws.ToString(z.ZoneName))
	}
	return zones, nil
}

func (p *AWSProvider) CreateNetwork(ctx context.Context, req NetworkRequest) (string, error) {
	out, err := p.ec2.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: aws.String(req.CIDR),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeVpc,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(req.Name)},
				},
			},
		},
	})
	if err != nil {
		return "", classifyAWS(err, "failed to create VPC")
	}
	vpcID := aws.ToString(out.Vpc.VpcId)

	// Instances need a route to the internet for SSH access. The gateway
	// and route ride along with the VPC and are destroyed with it.
	igw, err := p.ec2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return vpcID, classifyAWS(err, "failed to create internet gateway")
	}
	igwID := aws.ToString(igw.InternetGateway.InternetGatewayId)

	if _, err := p.ec2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(igwID),
		VpcId:             aws.String(vpcID),
	}); err != nil {
		return vpcID, classifyAWS(err, "failed to attach internet gateway")
	}

	rts, err := p.ec2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
		},
	})
	if err == nil && len(rts.RouteTables) > 0 {
		_, err = p.ec2.CreateRoute(ctx, &ec2.CreateRouteInput{
			RouteTableId:         rts.RouteTables[0].RouteTableId,
			DestinationCidrBlock: aws.String("0.0.0.0/0"),
			GatewayId:            aws.String(igwID),
		})
	}
	if err != nil {
		return vpcID, classifyAWS(err, "failed to configure default route")
	}

	return vpcID, nil
}

func (p *AWSProvider) CreateSubnet(ctx context.Context, req SubnetRequest) (string, error) {
	out, err := p.ec2.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:            aws.String(req.NetworkID),
		CidrBlock:        aws.String(req.CIDR),
		AvailabilityZone: aws.String(req.Zone),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeSubnet,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(req.Name)},
				},
			},
		},
	})
	if err != nil {
		return "", classifyAWS(err, "failed to create subnet")
	}
	return aws.ToString(out.Subnet.SubnetId), nil
}

func (p *AWSProvider) CreateRuleset(ctx context.Context, req RulesetRequest) (string, error) {
	out, err := p.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(req.Name),
		Description: aws.String("managed by cloudforge"),
		VpcId:       aws.String(req.NetworkID),
	})
	if err != nil {
		return "", classifyAWS(err, "failed to create security group")
	}
	groupID := aws.ToString(out.GroupId)

	var perm ec2types.IpPermission
	switch req.Purpose {
	case RulesetDatabase:
		perm = ec2types.IpPermission{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(int32(req.Port)),
			ToPort:     aws.Int32(int32(req.Port)),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		}
	default:
		perm = ec2types.IpPermission{
			IpProtocol: aws.String("-1"),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		}
	}

	if _, err := p.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: []ec2types.IpPermission{perm},
	}); err != nil {
		return groupID, classifyAWS(err, "failed to authorize ingress")
	}
	return groupID, nil
}

func (p *AWSProvider) MapInstanceClass(cpuCores, memoryGB int, gpuClass string) InstanceClass {
	if gpuClass != "" {
		gpuTypes := map[string]InstanceClass{
			"T4":   {ID: "g4dn.2xlarge", Cores: 8, MemoryGB: 32, GPUs: 1, GPU: true},
			"V100": {ID: "p3.2xlarge", Cores: 8, MemoryGB: 61, GPUs: 1, GPU: true},
			"A10":  {ID: "g5.2xlarge", Cores: 8, MemoryGB: 32, GPUs: 1, GPU: true},
			"A100": {ID: "p4d.24xlarge", Cores: 96, MemoryGB: 1152, GPUs: 8, GPU: true},
		}
		if c, ok := gpuTypes[strings.ToUpper(gpuClass)]; ok {
			return c
		}
		return gpuTypes["T4"]
	}

	ladder := []InstanceClass{
		{ID: "t3.medium", Cores: 2, MemoryGB: 4},
		{ID: "t3.large", Cores: 2, MemoryGB: 8},
		{ID: "m5.xlarge", Cores: 4, MemoryGB: 16},
		{ID: "m5.2xlarge", Cores: 8, MemoryGB: 32},
		{ID: "m5.4xlarge", Cores: 16, MemoryGB: 64},
	}
	for _, c := range ladder {
		if cpuCores <= c.Cores && memoryGB <= c.MemoryGB {
			return c
		}
	}
	return InstanceClass{ID: "m5.8xlarge", Cores: 32, MemoryGB: 128}
}

// resolveImage returns the newest Canonical Ubuntu 22.04 AMI in the region.
func (p *AWSProvider) resolveImage(ctx context.Context) (string, error) {
	out, err := p.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{"099720109477"},
		Filters: []ec2types.Filter{
			{Name: aws.String("name"), Values: []string{"ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return "", classifyAWS(err, "failed to describe images")
	}
	if len(out.Images) == 0 {
		return "", fmt.Errorf("no Ubuntu AMI found in %s", p.region)
	}

	latest := out.Images[0]
	for _, img := range out.Images[1:] {
		if aws.ToString(img.CreationDate) > aws.ToString(latest.CreationDate) {
			latest = img
		}
	}
	return aws.ToString(latest.ImageId), nil
}

func (p *AWSProvider) CreateInstance(ctx context.Context, req InstanceRequest) (string, error) {
	imageID := req.ImageID
	if imageID == "" {
		var err error
		if imageID, err = p.resolveImage(ctx); err != nil {
			return "", err
		}
	}

	encodedUserData := base64.StdEncoding.EncodeToString([]byte(req.UserData))

	out, err := p.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(imageID),
		InstanceType: ec2types.InstanceType(req.Class.ID),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(encodedUserData),
		Placement: &ec2types.Placement{
			AvailabilityZone: aws.String(req.Zone),
		},
		NetworkInterfaces: []ec2types.InstanceNetworkInterfaceSpecification{
			{
				DeviceIndex:              aws.Int32(0),
				SubnetId:                 aws.String(req.SubnetID),
				Groups:                   []string{req.RulesetID},
				AssociatePublicIpAddress: aws.Bool(true),
			},
		},
		BlockDeviceMappings: []ec2types.BlockDeviceMapping{
			{
				DeviceName: aws.String("/dev/sda1"),
				Ebs: &ec2types.EbsBlockDevice{
					VolumeSize: aws.Int32(int32(req.DiskGB)),
					VolumeType: ec2types.VolumeTypeGp3,
				},
			},
		},
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(req.Name)},
				},
			},
		},
	})
	if err != nil {
		return "", classifyAWS(err, "failed to run instance")
	}
	return aws.ToString(out.Instances[0].InstanceId), nil
}

func (p *AWSProvider) DescribeInstance(ctx context.Context, id string) (*InstanceStatus, error) {
	out, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return nil, classifyAWS(err, "failed to describe instance")
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return nil, fmt.Errorf("failed to describe instance %s: %w", id, ErrNotFound)
	}

	inst := out.Reservations[0].Instances[0]
	state := string(inst.State.Name)
	if state == string(ec2types.InstanceStateNameRunning) {
		state = StateRunning
	}
	return &InstanceStatus{
		State:     state,
		PublicIP:  aws.ToString(inst.PublicIpAddress),
		PrivateIP: aws.ToString(inst.PrivateIpAddress),
	}, nil
}

func (p *AWSProvider) MapDatabaseClass(cpuCores, memoryMB int) DatabaseClass {
	ladder := []DatabaseClass{
		{ID: "db.t3.micro", MemoryMB: 1024},
		{ID: "db.t3.small", MemoryMB: 2048},
		{ID: "db.t3.medium", MemoryMB: 4096},
		{ID: "db.m5.large", MemoryMB: 8192},
		{ID: "db.m5.2xlarge", MemoryMB: 32768},
	}
	for _, c := range ladder {
		if memoryMB <= c.MemoryMB {
			return c
		}
	}
	return DatabaseClass{ID: "db.m5.4xlarge", MemoryMB: 65536}
}

func (p *AWSProvider) CreateDatabase(ctx context.Context, req DatabaseRequest) (string, error) {
	// RDS requires a subnet group spanning at least two zones even for a
	// single-AZ instance.
	groupName := req.Name + "-subnets"
	if _, err := p.rds.CreateDBSubnetGroup(ctx, &rds.CreateDBSubnetGroupInput{
		DBSubnetGroupName:        aws.String(groupName),
		DBSubnetGroupDescription: aws.String("managed by cloudforge"),
		SubnetIds:                req.SubnetIDs,
	}); err != nil {
		var apiErr smithy.APIError
		if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "DBSubnetGroupAlreadyExists" {
			return "", classifyAWS(err, "failed to create DB subnet group")
		}
	}

	out, err := p.rds.CreateDBInstance(ctx, &rds.CreateDBInstanceInput{
		DBInstanceIdentifier: aws.String(req.Name),
		DBInstanceClass:      aws.String(req.Class.ID),
		Engine:               aws.String("mysql"),
		EngineVersion:        aws.String(req.EngineVersion),
		AllocatedStorage:     aws.Int32(int32(req.StorageGB)),
		AvailabilityZone:     aws.String(req.Zone),
		DBSubnetGroupName:    aws.String(groupName),
		VpcSecurityGroupIds:  []string{req.RulesetID},
		MasterUsername:       aws.String(req.RootUser),
		MasterUserPassword:   aws.String(req.RootPassword),
		Port:                 aws.Int32(int32(req.Port)),
		PubliclyAccessible:   aws.Bool(true),
		Tags: []rdstypes.Tag{
			{Key: aws.String("Name"), Value: aws.String(req.Name)},
		},
	})
	if err != nil {
		return "", classifyAWS(err, "failed to create DB instance")
	}
	return aws.ToString(out.DBInstance.DBInstanceIdentifier), nil
}

func (p *AWSProvider) DescribeDatabase(ctx context.Context, id string) (*DatabaseStatus, error) {
	out, err := p.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(id),
	})
	if err != nil {
		return nil, classifyAWS(err, "failed to describe DB instance")
	}
	if len(out.DBInstances) == 0 {
		return nil, fmt.Errorf("failed to describe DB instance %s: %w", id, ErrNotFound)
	}

	db := out.DBInstances[0]
	state := aws.ToString(db.DBInstanceStatus)
	if state == "available" {
		state = StateRunning
	}
	status := &DatabaseStatus{State: state}
	if db.Endpoint != nil {
		status.Host = aws.ToString(db.Endpoint.Address)
		status.Port = int(aws.ToInt32(db.Endpoint.Port))
	}
	return status, nil
}

func (p *AWSProvider) DeleteInstance(ctx context.Context, id string) error {
	_, err := p.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	return classifyAWS(err, "failed to terminate instance")
}

func (p *AWSProvider) ReleaseDatabase(ctx context.Context, id string) error {
	_, err := p.rds.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier:   aws.String(id),
		SkipFinalSnapshot:      aws.Bool(true),
		DeleteAutomatedBackups: aws.Bool(true),
	})
	if err != nil {
		return classifyAWS(err, "failed to delete DB instance")
	}

	// Best effort: the subnet group blocks VPC deletion if left behind.
	_, _ = p.rds.DeleteDBSubnetGroup(ctx, &rds.DeleteDBSubnetGroupInput{
		DBSubnetGroupName: aws.String(id + "-subnets"),
	})
	return nil
}

func (p *AWSProvider) DeleteRuleset(ctx context.Context, id string) error {
	_, err := p.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(id),
	})
	return classifyAWS(err, "failed to delete security group")
}

func (p *AWSProvider) DeleteSubnet(ctx context.Context, id string) error {
	_, err := p.ec2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{
		SubnetId: aws.String(id),
	})
	return classifyAWS(err, "failed to delete subnet")
}

func (p *AWSProvider) DeleteNetwork(ctx context.Context, id string) error {
	// Detach and remove the internet gateway first or the VPC delete fails.
	igws, err := p.ec2.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("attachment.vpc-id"), Values: []string{id}},
		},
	})
	if err == nil {
		for _, igw := range igws.InternetGateways {
			igwID := aws.ToString(igw.InternetGatewayId)
			_, _ = p.ec2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
				InternetGatewayId: aws.String(igwID),
				VpcId:             aws.String(id),
			})
			_, _ = p.ec2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
				InternetGatewayId: aws.String(igwID),
			})
		}
	}

	_, err = p.ec2.DeleteVpc(ctx, &ec2.DeleteVpcInput{
		VpcId: aws.String(id),
	})
	return classifyAWS(err, "failed to delete VPC")
}
