// Package provision contains the orchestrator: a single-threaded state
// machine that turns an abstract resource specification into a network, an
// instance and a managed MySQL database, records every step in the session
// directory and tears everything down on failure.
package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cloudforge/internal/logging"
	"cloudforge/internal/provider"
	"cloudforge/internal/session"
	"cloudforge/internal/spec"
	"cloudforge/internal/sshkey"
)

// State tracks orchestrator progress. Transitions are strictly forward
// except the failure path.
type State string

const (
	StateInit          State = "INIT"
	StateNetworkReady  State = "NETWORK_READY"
	StateComputeReady  State = "COMPUTE_READY"
	StateDatabaseReady State = "DATABASE_READY"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
	StateCleanedUp     State = "CLEANED_UP"
)

// Options tune an orchestrator run.
type Options struct {
	// LoginUser is the account created on the instance.
	LoginUser string

	// ImageID overrides the provider's default machine image.
	ImageID string

	// PollInterval is the readiness polling period.
	PollInterval time.Duration

	// ComputeWait bounds the instance readiness wait.
	ComputeWait time.Duration

	// DatabaseWait bounds the database readiness wait.
	DatabaseWait time.Duration
}

// Orchestrator drives one provisioning session to completion. It is not
// safe for concurrent use; a session has exactly one owner.
type Orchestrator struct {
	api   provider.API
	sess  *session.Session
	rspec *spec.ResourceSpec
	opts  Options

	state State
	res   *Resources
}

// NewOrchestrator prepares a run. Nothing is created until Run.
func NewOrchestrator(api provider.API, sess *session.Session, rspec *spec.ResourceSpec, opts Options) *Orchestrator {
	if opts.LoginUser == "" {
		opts.LoginUser = "ubuntu"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.ComputeWait <= 0 {
		opts.ComputeWait = 5 * time.Minute
	}
	if opts.DatabaseWait <= 0 {
		opts.DatabaseWait = 10 * time.Minute
	}

	return &Orchestrator{
		api:   api,
		sess:  sess,
		rspec: rspec,
		opts:  opts,
		state: StateInit,
		res:   &Resources{Region: rspec.Region, Subnets: map[string]string{}},
	}
}

// State returns the current progress marker.
func (o *Orchestrator) State() State {
	return o.state
}

// Resources returns the ledger of created resources.
func (o *Orchestrator) Resources() *Resources {
	return o.res
}

// Run executes the full provisioning flow. On any failure it records the
// error, tears down everything created so far and returns the original
// error; teardown problems are reported in logs, never as the returned
// error.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Short random suffix keeps resource names unique across sessions
	// while staying within provider name length limits.
	namePrefix := "cloudforge-" + uuid.NewString()[:8]

	logging.Logger().Info("provisioning started",
		zap.String("session_id", o.sess.ID),
		zap.String("region", o.res.Region),
		zap.String("name_prefix", namePrefix))

	o.sess.RecordStage(StageSpecification, o.rspec.Render())

	zones, err := o.createNetwork(ctx, namePrefix)
	if err != nil {
		return o.fail(ctx, err)
	}
	o.state = StateNetworkReady
	o.sess.RecordStage(StageNetwork, o.res.networkSnapshot())

	if o.rspec.Compute != nil {
		if err := o.provisionCompute(ctx, namePrefix, zones); err != nil {
			return o.fail(ctx, err)
		}
		o.state = StateComputeReady
		o.sess.RecordStage(StageCompute, o.res.computeSnapshot())
	}

	if o.rspec.Database != nil {
		if err := o.provisionDatabase(ctx, namePrefix, zones); err != nil {
			return o.fail(ctx, err)
		}
		o.state = StateDatabaseReady
		o.sess.RecordStage(StageDatabase, o.res.databaseSnapshot())
	}

	o.state = StateDone
	if _, err := o.sess.WriteFile("resources_summary.txt", o.res.Summary(), 0o600); err != nil {
		logging.Logger().Warn("failed to write summary", zap.Error(err))
	}

	logging.Logger().Info("provisioning done",
		zap.String("session_id", o.sess.ID),
		zap.String("public_ip", o.res.PublicIP))
	return nil
}

func (o *Orchestrator) provisionCompute(ctx context.Context, namePrefix string, zones []string) error {
	keys, err := sshkey.Generate(o.sess.Dir)
	if err != nil {
		return err
	}
	o.res.PrivateKeyPath = keys.PrivateKeyPath

	rulesetID, err := o.api.CreateRuleset(ctx, provider.RulesetRequest{
		NetworkID: o.res.NetworkID,
		Name:      namePrefix + "-compute-sg",
		Purpose:   provider.RulesetCompute,
	})
	if err != nil {
		return fmt.Errorf("failed to create compute ruleset: %w", err)
	}
	o.res.ComputeRuleset = rulesetID
	o.res.RulesetIDs = append(o.res.RulesetIDs, rulesetID)

	c := o.rspec.Compute
	class := o.api.MapInstanceClass(c.CPUCores, c.MemoryGB, c.GPUClass)
	logging.Logger().Info("instance class resolved",
		zap.String("class", class.ID),
		zap.Bool("gpu", class.GPU))

	userData, err := GenerateCloudConfig(o.opts.LoginUser, keys.PublicKey, class.GPU)
	if err != nil {
		return err
	}

	id, err := o.createInstanceAcrossZones(ctx, provider.InstanceRequest{
		Name:      namePrefix + "-vm",
		Class:     class,
		DiskGB:    c.DiskGB,
		ImageID:   o.opts.ImageID,
		NetworkID: o.res.NetworkID,
		RulesetID: rulesetID,
		UserData:  userData,
	}, zones)
	if err != nil {
		return err
	}

	status, err := o.waitInstanceRunning(ctx, id, o.opts.PollInterval, o.opts.ComputeWait)
	if err != nil {
		return err
	}
	o.res.PublicIP = status.PublicIP
	o.res.PrivateIP = status.PrivateIP
	return nil
}

func (o *Orchestrator) provisionDatabase(ctx context.Context, namePrefix string, zones []string) error {
	rulesetID, err := o.api.CreateRuleset(ctx, provider.RulesetRequest{
		NetworkID: o.res.NetworkID,
		Name:      namePrefix + "-db-sg",
		Purpose:   provider.RulesetDatabase,
		Port:      databasePort,
	})
	if err != nil {
		return fmt.Errorf("failed to create database ruleset: %w", err)
	}
	o.res.DatabaseRuleset = rulesetID
	o.res.RulesetIDs = append(o.res.RulesetIDs, rulesetID)

	password, err := generateRootPassword()
	if err != nil {
		return err
	}

	d := o.rspec.Database
	class := o.api.MapDatabaseClass(d.CPUCores, d.MemoryMB)
	logging.Logger().Info("database class resolved", zap.String("class", class.ID))

	id, err := o.createDatabaseAcrossZones(ctx, provider.DatabaseRequest{
		// Database identifiers commonly forbid dots and uppercase.
		Name:          strings.ToLower(namePrefix) + "-db",
		Class:         class,
		StorageGB:     d.StorageGB,
		EngineVersion: d.EngineVersion,
		NetworkID:     o.res.NetworkID,
		SubnetIDs:     o.res.SubnetIDs(),
		RulesetID:     rulesetID,
		Port:          databasePort,
		RootUser:      databaseRootUser,
		RootPassword:  password,
	}, zones)
	if err != nil {
		return err
	}
	o.res.DatabaseUser = databaseRootUser
	o.res.DatabasePassword = password

	status, err := o.waitDatabaseReady(ctx, id, o.opts.PollInterval, o.opts.DatabaseWait)
	if err != nil {
		return err
	}
	o.res.DatabaseHost = status.Host
	o.res.DatabasePort = status.Port
	return nil
}

// fail records the failure, compensates by tearing down everything created
// so far and returns the original provisioning error.
func (o *Orchestrator) fail(ctx context.Context, cause error) error {
	o.state = StateFailed
	logging.Logger().Error("provisioning failed, cleaning up",
		zap.String("session_id", o.sess.ID),
		zap.Error(cause))

	// The error snapshot goes down before compensation starts so a crash
	// mid-teardown still leaves the failure on record.
	o.sess.RecordStage(StageError, fmt.Sprintf("Error: %v\nState: %s\n", cause, o.state))

	report := Teardown(ctx, o.api, o.res)
	if failed := report.Failed(); len(failed) > 0 {
		body := "Cleanup failures:\n"
		for _, f := range failed {
			body += fmt.Sprintf("  %s %s: %v\n", f.Kind, f.ID, f.Err)
		}
		o.sess.RecordStage(StageCleanup, body)
	}

	o.state = StateCleanedUp
	return fmt.Errorf("provisioning failed (snapshots in %s): %w", o.sess.Dir, cause)
}
