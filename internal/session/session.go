// Package session implements the on-disk record of one provisioning run.
//
// Each run gets a timestamped directory under the session base. The
// orchestrator appends one snapshot file per completed stage; an independent
// cleanup process later re-reads those snapshots to recover resource ids.
// The layout is a contract: snapshot files are named NN_<stage>_info.txt and
// contain recognizable "Key: value" lines.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cloudforge/internal/logging"

	"go.uber.org/zap"
)

const (
	idPrefix   = "session_"
	idFormat   = "20060102_150405"
	timeFormat = "2006-01-02 15:04:05"
)

// Session is one end-to-end provisioning run with its own persistence area.
// Exactly one orchestrator owns a session; ids are never reused.
type Session struct {
	ID  string
	Dir string
}

// New allocates a fresh time-ordered session id and creates its directory.
func New(baseDir string) (*Session, error) {
	id := idPrefix + time.Now().Format(idFormat)
	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Session{ID: id, Dir: dir}, nil
}

// Open returns a handle to an existing session. The "session_" prefix may be
// omitted from the id.
func Open(baseDir, id string) (*Session, error) {
	if !strings.HasPrefix(id, idPrefix) {
		id = idPrefix + id
	}
	dir := filepath.Join(baseDir, id)
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("session not found: %s", dir)
	}
	return &Session{ID: id, Dir: dir}, nil
}

// RecordStage writes the snapshot file for a completed stage. Snapshots are
// append-only: an existing stage file is never overwritten. Write failures
// are logged and swallowed: persistence is for observability and recovery,
// not for correctness of the cloud resources themselves.
func (s *Session) RecordStage(stage, body string) {
	path := filepath.Join(s.Dir, stage+"_info.txt")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			logging.Logger().Debug("stage snapshot already recorded",
				zap.String("session_id", s.ID),
				zap.String("stage", stage))
			return
		}
		logging.Logger().Warn("failed to record stage snapshot",
			zap.String("session_id", s.ID),
			zap.String("stage", stage),
			zap.Error(err))
		return
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString("Stage: " + stage + "\n")
	b.WriteString("Timestamp: " + time.Now().Format(timeFormat) + "\n")
	b.WriteString(strings.Repeat("=", 70) + "\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}

	if _, err := f.WriteString(b.String()); err != nil {
		logging.Logger().Warn("failed to write stage snapshot",
			zap.String("session_id", s.ID),
			zap.String("stage", stage),
			zap.Error(err))
		return
	}

	logging.Logger().Debug("stage snapshot recorded",
		zap.String("session_id", s.ID),
		zap.String("stage", stage),
		zap.String("file", filepath.Base(path)))
}

// WriteFile writes an arbitrary file into the session directory and returns
// its full path. Unlike RecordStage, failures here are reported.
func (s *Session) WriteFile(name, content string, mode os.FileMode) (string, error) {
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return "", fmt.Errorf("failed to write session file %s: %w", name, err)
	}
	return path, nil
}

// StagePath returns the snapshot file path for a stage, whether or not the
// file exists.
func (s *Session) StagePath(stage string) string {
	return filepath.Join(s.Dir, stage+"_info.txt")
}

// Remove deletes local session files. With keepLogs, only the generated key
// material is removed and the snapshots stay behind.
func (s *Session) Remove(keepLogs bool) error {
	if !keepLogs {
		if err := os.RemoveAll(s.Dir); err != nil {
			return fmt.Errorf("failed to remove session directory: %w", err)
		}
		return nil
	}
	for _, name := range []string{"ssh_key", "ssh_key.pub"} {
		if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// Info summarizes a stored session for listings.
type Info struct {
	ID          string
	Dir         string
	HasCompute  bool
	HasDatabase bool
}

// List enumerates stored sessions, oldest first. Used by the cleanup tool,
// never by the orchestrator.
func List(baseDir string) ([]Info, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session base: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), idPrefix) {
			continue
		}
		dir := filepath.Join(baseDir, e.Name())
		info := Info{ID: e.Name(), Dir: dir}
		if _, err := os.Stat(filepath.Join(dir, "02_compute_info.txt")); err == nil {
			info.HasCompute = true
		}
		if _, err := os.Stat(filepath.Join(dir, "03_database_info.txt")); err == nil {
			info.HasDatabase = true
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}
