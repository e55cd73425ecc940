package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCreatesDirectory(t *testing.T) {
	base := t.TempDir()

	s, err := New(base)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !strings.HasPrefix(s.ID, "session_") {
		t.Errorf("session id = %q, want session_ prefix", s.ID)
	}
	fi, err := os.Stat(s.Dir)
	if err != nil {
		t.Fatalf("session dir missing: %v", err)
	}
	if !fi.IsDir() {
		t.Error("session path is not a directory")
	}
}

func TestRecordStageAppendOnly(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	s.RecordStage("01_network", "Network ID: vpc-123\n")
	s.RecordStage("01_network", "Network ID: vpc-OVERWRITE\n")

	data, err := os.ReadFile(s.StagePath("01_network"))
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "Stage: 01_network\n") {
		t.Errorf("snapshot missing stage header:\n%s", content)
	}
	if !strings.Contains(content, "Timestamp: ") {
		t.Error("snapshot missing timestamp header")
	}
	if !strings.Contains(content, strings.Repeat("=", 70)) {
		t.Error("snapshot missing separator line")
	}
	if !strings.Contains(content, "Network ID: vpc-123") {
		t.Error("snapshot missing body")
	}
	if strings.Contains(content, "vpc-OVERWRITE") {
		t.Error("second RecordStage overwrote existing snapshot")
	}
}

func TestOpenNormalizesPrefix(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	bare := strings.TrimPrefix(s.ID, "session_")
	opened, err := Open(base, bare)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if opened.Dir != s.Dir {
		t.Errorf("opened dir = %q, want %q", opened.Dir, s.Dir)
	}

	if _, err := Open(base, "session_19990101_000000"); err == nil {
		t.Error("expected error for missing session")
	}
}

func TestListFlagsStages(t *testing.T) {
	base := t.TempDir()

	s1, err := New(base)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	s1.RecordStage("01_network", "Network ID: vpc-1\n")
	s1.RecordStage("02_compute", "Instance ID: i-1\n")

	// A stray non-session directory must be ignored.
	if err := os.MkdirAll(filepath.Join(base, "scratch"), 0o700); err != nil {
		t.Fatal(err)
	}

	infos, err := List(base)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("got %d sessions, want 1", len(infos))
	}
	if !infos[0].HasCompute {
		t.Error("expected HasCompute for session with 02_compute snapshot")
	}
	if infos[0].HasDatabase {
		t.Error("unexpected HasDatabase for session without 03_database snapshot")
	}
}

func TestRemoveKeepLogs(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, err := s.WriteFile("ssh_key", "PRIVATE", 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteFile("ssh_key.pub", "PUBLIC", 0o644); err != nil {
		t.Fatal(err)
	}
	s.RecordStage("01_network", "Network ID: vpc-1\n")

	if err := s.Remove(true); err != nil {
		t.Fatalf("Remove(keepLogs) failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir, "ssh_key")); !os.IsNotExist(err) {
		t.Error("private key not removed")
	}
	if _, err := os.Stat(s.StagePath("01_network")); err != nil {
		t.Error("snapshot removed despite keepLogs")
	}

	if err := s.Remove(false); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Error("session directory not removed")
	}
}
