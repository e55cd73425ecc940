package provision

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"cloudforge/internal/session"
)

// Stage names order the snapshot files and double as progress markers. The
// numeric prefixes keep directory listings chronological.
const (
	StageSpecification = "00_specification"
	StageNetwork       = "01_network"
	StageCompute       = "02_compute"
	StageDatabase      = "03_database"
	StageError         = "99_error"
	StageCleanup       = "99_cleanup"
)

// Resources is the in-memory ledger of everything a session has created, in
// creation order. Teardown walks it backwards. Fields are filled in as soon
// as the provider acknowledges a create call, before any readiness wait, so
// a crash mid-wait still leaves the id on record.
type Resources struct {
	Region    string
	NetworkID string

	// Subnets maps zone name to subnet id.
	Subnets map[string]string

	// RulesetIDs in creation order.
	RulesetIDs []string

	ComputeID      string
	ComputeZone    string
	ComputeRuleset string
	PublicIP       string
	PrivateIP      string
	PrivateKeyPath string

	DatabaseID       string
	DatabaseZone     string
	DatabaseRuleset  string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
}

// SubnetIDs returns subnet ids sorted by zone name for deterministic output.
func (r *Resources) SubnetIDs() []string {
	zones := make([]string, 0, len(r.Subnets))
	for z := range r.Subnets {
		zones = append(zones, z)
	}
	sort.Strings(zones)

	ids := make([]string, 0, len(zones))
	for _, z := range zones {
		ids = append(ids, r.Subnets[z])
	}
	return ids
}

func (r *Resources) networkSnapshot() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Region: %s\n", r.Region)
	fmt.Fprintf(&b, "Network ID: %s\n", r.NetworkID)
	b.WriteString("Subnets:\n")
	zones := make([]string, 0, len(r.Subnets))
	for z := range r.Subnets {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	for _, z := range zones {
		fmt.Fprintf(&b, "  %s: %s\n", z, r.Subnets[z])
	}
	return b.String()
}

func (r *Resources) computeSnapshot() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instance ID: %s\n", r.ComputeID)
	fmt.Fprintf(&b, "Zone: %s\n", r.ComputeZone)
	fmt.Fprintf(&b, "Security Group: %s\n", r.ComputeRuleset)
	fmt.Fprintf(&b, "Public IP: %s\n", r.PublicIP)
	fmt.Fprintf(&b, "Private IP: %s\n", r.PrivateIP)
	fmt.Fprintf(&b, "Private Key: %s\n", r.PrivateKeyPath)
	return b.String()
}

func (r *Resources) databaseSnapshot() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database ID: %s\n", r.DatabaseID)
	fmt.Fprintf(&b, "Zone: %s\n", r.DatabaseZone)
	fmt.Fprintf(&b, "Security Group: %s\n", r.DatabaseRuleset)
	fmt.Fprintf(&b, "Host: %s\n", r.DatabaseHost)
	fmt.Fprintf(&b, "Port: %d\n", r.DatabasePort)
	fmt.Fprintf(&b, "User: %s\n", r.DatabaseUser)
	fmt.Fprintf(&b, "Password: %s\n", r.DatabasePassword)
	return b.String()
}

// Summary renders the human-facing overview written at the end of a
// successful run.
func (r *Resources) Summary() string {
	var b strings.Builder
	b.WriteString("Provisioned Resources\n")
	b.WriteString(strings.Repeat("=", 70) + "\n")
	fmt.Fprintf(&b, "Region: %s\n", r.Region)
	fmt.Fprintf(&b, "Network ID: %s\n", r.NetworkID)
	fmt.Fprintf(&b, "Subnets: %d\n", len(r.Subnets))
	if r.ComputeID != "" {
		b.WriteString("\nCompute:\n")
		fmt.Fprintf(&b, "  Instance ID: %s\n", r.ComputeID)
		fmt.Fprintf(&b, "  Zone: %s\n", r.ComputeZone)
		fmt.Fprintf(&b, "  Public IP: %s\n", r.PublicIP)
		fmt.Fprintf(&b, "  Private Key: %s\n", r.PrivateKeyPath)
	}
	if r.DatabaseID != "" {
		b.WriteString("\nDatabase:\n")
		fmt.Fprintf(&b, "  Database ID: %s\n", r.DatabaseID)
		fmt.Fprintf(&b, "  Endpoint: %s:%d\n", r.DatabaseHost, r.DatabasePort)
		fmt.Fprintf(&b, "  User: %s\n", r.DatabaseUser)
		fmt.Fprintf(&b, "  Password: %s\n", r.DatabasePassword)
	}
	return b.String()
}

// parseSnapshot reads one stage file into flat key/value pairs plus the
// indented subnet listing. Missing files yield empty maps.
func parseSnapshot(path string) (kv map[string]string, subnets map[string]string) {
	kv = map[string]string{}
	subnets = map[string]string{}

	data, err := os.ReadFile(path)
	if err != nil {
		return kv, subnets
	}

	inSubnets := false
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "  ") && inSubnets {
			if zone, id, ok := strings.Cut(strings.TrimSpace(line), ": "); ok {
				subnets[zone] = id
			}
			continue
		}
		inSubnets = false

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			if strings.TrimSpace(line) == "Subnets:" {
				inSubnets = true
			}
			continue
		}
		kv[key] = strings.TrimSpace(value)
	}
	return kv, subnets
}

// LoadResources rebuilds the resource ledger from a session's snapshot
// files. It tolerates partially provisioned sessions: whatever stages were
// recorded are recovered, everything else stays zero.
func LoadResources(sess *session.Session) *Resources {
	res := &Resources{Subnets: map[string]string{}}

	kv, subnets := parseSnapshot(sess.StagePath(StageNetwork))
	res.Region = kv["Region"]
	res.NetworkID = kv["Network ID"]
	res.Subnets = subnets

	kv, _ = parseSnapshot(sess.StagePath(StageCompute))
	res.ComputeID = kv["Instance ID"]
	res.ComputeZone = kv["Zone"]
	res.ComputeRuleset = kv["Security Group"]
	res.PublicIP = kv["Public IP"]
	res.PrivateIP = kv["Private IP"]
	res.PrivateKeyPath = kv["Private Key"]
	if res.ComputeRuleset != "" {
		res.RulesetIDs = append(res.RulesetIDs, res.ComputeRuleset)
	}

	kv, _ = parseSnapshot(sess.StagePath(StageDatabase))
	res.DatabaseID = kv["Database ID"]
	res.DatabaseZone = kv["Zone"]
	res.DatabaseRuleset = kv["Security Group"]
	res.DatabaseHost = kv["Host"]
	if port, err := strconv.Atoi(kv["Port"]); err == nil {
		res.DatabasePort = port
	}
	res.DatabaseUser = kv["User"]
	res.DatabasePassword = kv["Password"]
	if res.DatabaseRuleset != "" {
		res.RulesetIDs = append(res.RulesetIDs, res.DatabaseRuleset)
	}

	return res
}
