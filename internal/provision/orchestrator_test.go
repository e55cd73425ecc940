package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"cloudforge/internal/provider"
	"cloudforge/internal/session"
	"cloudforge/internal/spec"
)

// fakeAPI is a scriptable in-memory provider. Zone-specific failures and
// readiness delays are injected through its fields; every call is appended
// to the log for ordering assertions.
type fakeAPI struct {
	zones []string

	failSubnetZones   map[string]error
	failInstanceZones map[string]error
	failDatabaseZones map[string]error

	instancePollsUntilReady int
	instanceNeverReady      bool
	databasePollsUntilReady int

	instancePolls int
	databasePolls int
	rulesetSeq    int

	failDeletes map[string]error
	onDelete    func(kind, id string)

	deleted map[string]bool
	calls   []string
}

func newFakeAPI(zones ...string) *fakeAPI {
	if len(zones) == 0 {
		zones = []string{"r1-a", "r1-b"}
	}
	return &fakeAPI{
		zones:             zones,
		failSubnetZones:   map[string]error{},
		failInstanceZones: map[string]error{},
		failDatabaseZones: map[string]error{},
		failDeletes:       map[string]error{},
		deleted:           map[string]bool{},
	}
}

func (f *fakeAPI) log(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeAPI) Zones(ctx context.Context, region string) ([]string, error) {
	f.log("Zones")
	return f.zones, nil
}

func (f *fakeAPI) CreateNetwork(ctx context.Context, req provider.NetworkRequest) (string, error) {
	f.log("CreateNetwork")
	return "net-1", nil
}

func (f *fakeAPI) CreateSubnet(ctx context.Context, req provider.SubnetRequest) (string, error) {
	f.log("CreateSubnet:%s", req.Zone)
	if err := f.failSubnetZones[req.Zone]; err != nil {
		return "", err
	}
	return "sub-" + req.Zone, nil
}

func (f *fakeAPI) CreateRuleset(ctx context.Context, req provider.RulesetRequest) (string, error) {
	f.rulesetSeq++
	id := fmt.Sprintf("sg-%d", f.rulesetSeq)
	f.log("CreateRuleset:%s", req.Purpose)
	return id, nil
}

func (f *fakeAPI) MapInstanceClass(cpuCores, memoryGB int, gpuClass string) provider.InstanceClass {
	return provider.InstanceClass{ID: "fake-vm", Cores: cpuCores, MemoryGB: memoryGB, GPU: gpuClass != ""}
}

func (f *fakeAPI) CreateInstance(ctx context.Context, req provider.InstanceRequest) (string, error) {
	f.log("CreateInstance:%s", req.Zone)
	if err := f.failInstanceZones[req.Zone]; err != nil {
		return "", err
	}
	return "i-" + req.Zone, nil
}

func (f *fakeAPI) DescribeInstance(ctx context.Context, id string) (*provider.InstanceStatus, error) {
	f.instancePolls++
	if f.instanceNeverReady || f.instancePolls <= f.instancePollsUntilReady {
		return &provider.InstanceStatus{State: "pending"}, nil
	}
	return &provider.InstanceStatus{State: provider.StateRunning, PublicIP: "203.0.113.10", PrivateIP: "10.0.1.10"}, nil
}

func (f *fakeAPI) MapDatabaseClass(cpuCores, memoryMB int) provider.DatabaseClass {
	return provider.DatabaseClass{ID: "fake-db", MemoryMB: memoryMB}
}

func (f *fakeAPI) CreateDatabase(ctx context.Context, req provider.DatabaseRequest) (string, error) {
	f.log("CreateDatabase:%s", req.Zone)
	if err := f.failDatabaseZones[req.Zone]; err != nil {
		return "", err
	}
	return "db-" + req.Zone, nil
}

func (f *fakeAPI) DescribeDatabase(ctx context.Context, id string) (*provider.DatabaseStatus, error) {
	f.databasePolls++
	if f.databasePolls <= f.databasePollsUntilReady {
		return &provider.DatabaseStatus{State: "creating"}, nil
	}
	return &provider.DatabaseStatus{State: provider.StateRunning, Host: "db.example.internal", Port: 3306}, nil
}

func (f *fakeAPI) delete(kind, id string) error {
	f.log("Delete%s:%s", kind, id)
	if f.onDelete != nil {
		f.onDelete(kind, id)
	}
	if err := f.failDeletes[id]; err != nil {
		return err
	}
	if f.deleted[id] {
		return fmt.Errorf("%s %s: %w", kind, id, provider.ErrNotFound)
	}
	f.deleted[id] = true
	return nil
}

func (f *fakeAPI) DeleteInstance(ctx context.Context, id string) error { return f.delete("Instance", id) }
func (f *fakeAPI) ReleaseDatabase(ctx context.Context, id string) error {
	return f.delete("Database", id)
}
func (f *fakeAPI) DeleteRuleset(ctx context.Context, id string) error { return f.delete("Ruleset", id) }
func (f *fakeAPI) DeleteSubnet(ctx context.Context, id string) error  { return f.delete("Subnet", id) }
func (f *fakeAPI) DeleteNetwork(ctx context.Context, id string) error { return f.delete("Network", id) }

func (f *fakeAPI) called(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := session.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return sess
}

func fastOptions() Options {
	return Options{
		PollInterval: time.Millisecond,
		ComputeWait:  time.Second,
		DatabaseWait: time.Second,
	}
}

func computeSpec() *spec.ResourceSpec {
	return &spec.ResourceSpec{
		Region:  "r1",
		Compute: &spec.ComputeSpec{CPUCores: 2, MemoryGB: 4, DiskGB: 50},
	}
}

func fullSpec() *spec.ResourceSpec {
	rs := computeSpec()
	rs.Database = &spec.DatabaseSpec{CPUCores: 2, MemoryMB: 4000, StorageGB: 100, EngineVersion: "8.0"}
	return rs
}

func databaseSpec() *spec.ResourceSpec {
	return &spec.ResourceSpec{
		Region:   "r1",
		Database: &spec.DatabaseSpec{CPUCores: 2, MemoryMB: 4000, StorageGB: 100, EngineVersion: "8.0"},
	}
}

func TestRunZoneFallback(t *testing.T) {
	api := newFakeAPI("r1-a", "r1-b")
	api.failInstanceZones["r1-a"] = fmt.Errorf("capacity: %w", provider.ErrZoneUnavailable)

	sess := testSession(t)
	o := NewOrchestrator(api, sess, computeSpec(), fastOptions())

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if o.State() != StateDone {
		t.Errorf("state = %s, want DONE", o.State())
	}
	if o.Resources().ComputeZone != "r1-b" {
		t.Errorf("compute zone = %q, want r1-b", o.Resources().ComputeZone)
	}
	if got := api.called("CreateInstance"); got != 2 {
		t.Errorf("CreateInstance attempts = %d, want 2", got)
	}
	if api.called("Delete") != 0 {
		t.Errorf("unexpected teardown calls: %v", api.calls)
	}
	if _, err := os.Stat(sess.StagePath(StageCompute)); err != nil {
		t.Error("compute snapshot not recorded")
	}
}

func TestRunAllZonesUnavailable(t *testing.T) {
	api := newFakeAPI("r1-a", "r1-b")
	api.failInstanceZones["r1-a"] = fmt.Errorf("capacity: %w", provider.ErrZoneUnavailable)
	api.failInstanceZones["r1-b"] = fmt.Errorf("capacity: %w", provider.ErrZoneUnavailable)

	sess := testSession(t)
	o := NewOrchestrator(api, sess, computeSpec(), fastOptions())

	err := o.Run(context.Background())
	if !errors.Is(err, ErrNoZoneAvailable) {
		t.Fatalf("Run() = %v, want ErrNoZoneAvailable", err)
	}
	if o.State() != StateCleanedUp {
		t.Errorf("state = %s, want CLEANED_UP", o.State())
	}

	// Nothing was created beyond the network layer, so teardown must touch
	// exactly the ruleset, subnets and network.
	if api.called("DeleteInstance") != 0 {
		t.Error("DeleteInstance called for an instance that never existed")
	}
	if api.called("DeleteSubnet") != 2 {
		t.Errorf("DeleteSubnet calls = %d, want 2", api.called("DeleteSubnet"))
	}
	if api.called("DeleteNetwork") != 1 {
		t.Errorf("DeleteNetwork calls = %d, want 1", api.called("DeleteNetwork"))
	}
	if api.called("DeleteRuleset") != 1 {
		t.Errorf("DeleteRuleset calls = %d, want 1", api.called("DeleteRuleset"))
	}
	if _, err := os.Stat(sess.StagePath(StageError)); err != nil {
		t.Error("error snapshot not recorded")
	}
}

func TestRunNonRetryableErrorAborts(t *testing.T) {
	api := newFakeAPI("r1-a", "r1-b")
	api.failInstanceZones["r1-a"] = errors.New("permission denied")

	o := NewOrchestrator(api, testSession(t), computeSpec(), fastOptions())

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNoZoneAvailable) {
		t.Error("hard failure misreported as zone exhaustion")
	}
	if got := api.called("CreateInstance"); got != 1 {
		t.Errorf("CreateInstance attempts = %d, want 1 (no retry on hard failure)", got)
	}
}

func TestRunDatabaseFailureCleansCompute(t *testing.T) {
	api := newFakeAPI("r1-a", "r1-b")
	api.failDatabaseZones["r1-a"] = fmt.Errorf("capacity: %w", provider.ErrZoneUnavailable)
	api.failDatabaseZones["r1-b"] = fmt.Errorf("capacity: %w", provider.ErrZoneUnavailable)

	o := NewOrchestrator(api, testSession(t), fullSpec(), fastOptions())

	err := o.Run(context.Background())
	if !errors.Is(err, ErrNoZoneAvailable) {
		t.Fatalf("Run() = %v, want ErrNoZoneAvailable", err)
	}
	if api.called("DeleteInstance") != 1 {
		t.Error("instance not torn down after database failure")
	}
	if api.called("DeleteRuleset") != 2 {
		t.Errorf("DeleteRuleset calls = %d, want 2", api.called("DeleteRuleset"))
	}
}

func TestRunSubnetFailureSkipsZone(t *testing.T) {
	api := newFakeAPI("r1-a", "r1-b")
	api.failSubnetZones["r1-a"] = errors.New("cidr conflict")

	o := NewOrchestrator(api, testSession(t), computeSpec(), fastOptions())

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if o.Resources().ComputeZone != "r1-b" {
		t.Errorf("compute zone = %q, want r1-b", o.Resources().ComputeZone)
	}
}

func TestRunNoSubnetAnywhere(t *testing.T) {
	api := newFakeAPI("r1-a", "r1-b")
	api.failSubnetZones["r1-a"] = errors.New("cidr conflict")
	api.failSubnetZones["r1-b"] = errors.New("cidr conflict")

	o := NewOrchestrator(api, testSession(t), computeSpec(), fastOptions())

	err := o.Run(context.Background())
	if !errors.Is(err, ErrNetworkProvisioningFailed) {
		t.Fatalf("Run() = %v, want ErrNetworkProvisioningFailed", err)
	}
	// Only the network itself existed.
	if api.called("DeleteNetwork") != 1 || api.called("DeleteSubnet") != 0 {
		t.Errorf("unexpected teardown: %v", api.calls)
	}
}

func TestRunTimeoutBounded(t *testing.T) {
	api := newFakeAPI("r1-a")
	api.instanceNeverReady = true

	opts := fastOptions()
	opts.PollInterval = 2 * time.Millisecond
	opts.ComputeWait = 30 * time.Millisecond

	o := NewOrchestrator(api, testSession(t), computeSpec(), opts)

	start := time.Now()
	err := o.Run(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrProvisioningTimeout) {
		t.Fatalf("Run() = %v, want ErrProvisioningTimeout", err)
	}
	if elapsed < opts.ComputeWait {
		t.Errorf("gave up after %v, before the %v deadline", elapsed, opts.ComputeWait)
	}
	if elapsed > opts.ComputeWait+200*time.Millisecond {
		t.Errorf("took %v, well past the %v deadline", elapsed, opts.ComputeWait)
	}
	if api.called("DeleteInstance") != 1 {
		t.Error("timed-out instance not torn down")
	}
}

func TestRunReadinessPolling(t *testing.T) {
	api := newFakeAPI("r1-a")
	api.instancePollsUntilReady = 3
	api.databasePollsUntilReady = 2

	o := NewOrchestrator(api, testSession(t), fullSpec(), fastOptions())

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if api.instancePolls < 4 {
		t.Errorf("instance polls = %d, want at least 4", api.instancePolls)
	}
	res := o.Resources()
	if res.DatabaseHost != "db.example.internal" || res.DatabasePort != 3306 {
		t.Errorf("database endpoint = %s:%d", res.DatabaseHost, res.DatabasePort)
	}
	if !strings.HasPrefix(res.DatabasePassword, "Forge@") {
		t.Errorf("password = %q, want Forge@ prefix", res.DatabasePassword)
	}
}

func TestRunDatabaseOnly(t *testing.T) {
	api := newFakeAPI("r1-a", "r1-b")
	api.failDatabaseZones["r1-a"] = fmt.Errorf("capacity: %w", provider.ErrZoneUnavailable)

	sess := testSession(t)
	o := NewOrchestrator(api, sess, databaseSpec(), fastOptions())

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if o.State() != StateDone {
		t.Errorf("state = %s, want DONE", o.State())
	}
	res := o.Resources()
	if res.DatabaseID != "db-r1-b" {
		t.Errorf("database id = %q, want db-r1-b", res.DatabaseID)
	}
	if res.ComputeID != "" || res.PrivateKeyPath != "" {
		t.Errorf("compute resources created for a database-only run: id=%q key=%q",
			res.ComputeID, res.PrivateKeyPath)
	}
	if api.called("CreateInstance") != 0 {
		t.Errorf("CreateInstance called %d times, want 0", api.called("CreateInstance"))
	}
	if _, err := os.Stat(sess.StagePath(StageCompute)); err == nil {
		t.Error("compute snapshot recorded for a database-only run")
	}
	if _, err := os.Stat(sess.StagePath(StageDatabase)); err != nil {
		t.Error("database snapshot not recorded")
	}
}

func TestFailRecordsSnapshotBeforeTeardown(t *testing.T) {
	api := newFakeAPI("r1-a")
	api.failInstanceZones["r1-a"] = errors.New("permission denied")

	sess := testSession(t)

	// The error snapshot must already exist when the first teardown call
	// lands, so a crash during compensation cannot lose the failure record.
	var missingAtDelete []string
	api.onDelete = func(kind, id string) {
		if _, err := os.Stat(sess.StagePath(StageError)); err != nil {
			missingAtDelete = append(missingAtDelete, kind+":"+id)
		}
	}

	o := NewOrchestrator(api, sess, computeSpec(), fastOptions())
	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if api.called("Delete") == 0 {
		t.Fatal("teardown never ran")
	}
	if len(missingAtDelete) > 0 {
		t.Errorf("error snapshot missing during teardown steps: %v", missingAtDelete)
	}
}

func TestFailTeardownContinuesPastHardFailure(t *testing.T) {
	api := newFakeAPI("r1-a")
	api.failDatabaseZones["r1-a"] = errors.New("permission denied")
	api.failDeletes["i-r1-a"] = errors.New("dependency violation")

	sess := testSession(t)
	o := NewOrchestrator(api, sess, fullSpec(), fastOptions())

	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if o.State() != StateCleanedUp {
		t.Errorf("state = %s, want CLEANED_UP", o.State())
	}

	// The stuck instance must not stop the remaining steps.
	if api.called("DeleteRuleset") != 2 {
		t.Errorf("DeleteRuleset calls = %d, want 2", api.called("DeleteRuleset"))
	}
	if api.called("DeleteSubnet") != 1 {
		t.Errorf("DeleteSubnet calls = %d, want 1", api.called("DeleteSubnet"))
	}
	if api.called("DeleteNetwork") != 1 {
		t.Errorf("DeleteNetwork calls = %d, want 1", api.called("DeleteNetwork"))
	}

	data, err := os.ReadFile(sess.StagePath(StageCleanup))
	if err != nil {
		t.Fatalf("cleanup failure snapshot not recorded: %v", err)
	}
	if !strings.Contains(string(data), "instance i-r1-a") {
		t.Errorf("cleanup snapshot missing failed step:\n%s", data)
	}
}

func TestTeardownReportsHardFailure(t *testing.T) {
	api := newFakeAPI("r1-a")

	o := NewOrchestrator(api, testSession(t), fullSpec(), fastOptions())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	api.failDeletes[o.Resources().ComputeID] = errors.New("dependency violation")

	report := Teardown(context.Background(), api, o.Resources())
	failed := report.Failed()
	if len(failed) != 1 {
		t.Fatalf("failed steps = %+v, want exactly the instance", failed)
	}
	if failed[0].Kind != "instance" || failed[0].ID != o.Resources().ComputeID {
		t.Errorf("failed step = %+v", failed[0])
	}
}

func TestTeardownIdempotent(t *testing.T) {
	api := newFakeAPI("r1-a")

	o := NewOrchestrator(api, testSession(t), fullSpec(), fastOptions())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	first := Teardown(context.Background(), api, o.Resources())
	if failed := first.Failed(); len(failed) != 0 {
		t.Fatalf("first teardown failed: %+v", failed)
	}

	// Everything is already gone; the repeat must see not-found as success.
	second := Teardown(context.Background(), api, o.Resources())
	if failed := second.Failed(); len(failed) != 0 {
		t.Errorf("repeat teardown reported failures: %+v", failed)
	}
}

func TestTeardownOrder(t *testing.T) {
	api := newFakeAPI("r1-a")

	o := NewOrchestrator(api, testSession(t), fullSpec(), fastOptions())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	marker := len(api.calls)
	Teardown(context.Background(), api, o.Resources())

	var kinds []string
	for _, c := range api.calls[marker:] {
		kind, _, _ := strings.Cut(c, ":")
		kinds = append(kinds, kind)
	}
	want := []string{"DeleteInstance", "DeleteDatabase", "DeleteRuleset", "DeleteRuleset", "DeleteSubnet", "DeleteNetwork"}
	if len(kinds) != len(want) {
		t.Fatalf("teardown calls = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("teardown order = %v, want %v", kinds, want)
		}
	}
}
