// Package workspace implements the isolated per-attempt download
// workspace and forward-only resumable state machine from spec §4.10:
// one directory per (source, dataset, session) triple, an exclusive
// process lock with stale-lock detection, and a state.json checkpoint
// written atomically via the temp-file-plus-rename pattern dolt's own
// manifest writer uses.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dolthub/fslock"
	"github.com/google/uuid"

	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/dbref"
)

// Stage is a step in the forward-only download state machine.
type Stage int

const (
	StageInit Stage = iota
	StageDownloading
	StageDecompressing
	StageProcessing
	StageComplete
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageDownloading:
		return "downloading"
	case StageDecompressing:
		return "decompressing"
	case StageProcessing:
		return "processing"
	case StageComplete:
		return "complete"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DownloadState is the forward-only checkpoint persisted to state.json.
// Only the fields relevant to the current (or, for PreFailureStage, the
// most recently abandoned) stage are meaningful.
type DownloadState struct {
	Stage Stage

	// Downloading
	URL        string
	BytesDone  int64
	TotalBytes int64

	// Decompressing
	SourceFile string
	TargetFile string

	// Processing
	ChunksDone  int
	TotalChunks int

	// Failed
	Error           string
	Recoverable     bool
	FailedAt        time.Time
	PreFailureStage Stage

	UpdatedAt time.Time
}

// Advance transitions the state to next, enforcing the forward-only
// rule: any stage may move to StageFailed, but otherwise a stage may
// only move strictly forward.
func (s *DownloadState) Advance(next Stage) error {
	if next == StageFailed {
		s.PreFailureStage = s.Stage
		s.Stage = StageFailed
		s.FailedAt = time.Now().UTC()
		s.UpdatedAt = s.FailedAt
		return nil
	}
	if s.Stage == StageFailed {
		return casgerr.InvalidInput("cannot advance a failed workspace state; resume it first")
	}
	if next <= s.Stage {
		return casgerr.InvalidInput("illegal backward transition from %s to %s", s.Stage, next)
	}
	s.Stage = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Resume clears a recoverable failure, returning the state to the stage
// it was in immediately before failing.
func (s *DownloadState) Resume() error {
	if s.Stage != StageFailed {
		return casgerr.InvalidInput("state is not in Failed stage")
	}
	if !s.Recoverable {
		return casgerr.InvalidInput("failure was not recoverable")
	}
	s.Stage = s.PreFailureStage
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// LockInfo is the content of a workspace's .lock sidecar file, recorded
// alongside the fslock handle so a stale lock's owning PID can be
// inspected without holding the OS-level lock.
type LockInfo struct {
	PID        int
	Host       string
	AcquiredAt time.Time
}

// Workspace is one isolated download/processing attempt.
type Workspace struct {
	Dir       string
	Source    dbref.Source
	SessionID string
	State     DownloadState

	lock *fslock.Lock
}

func dirName(source dbref.Source, sessionID string) string {
	return fmt.Sprintf("%s_%s_%s", source.Kind, source.Dataset, sessionID)
}

func statePath(dir string) string  { return filepath.Join(dir, "state.json") }
func lockInfoPath(dir string) string { return filepath.Join(dir, ".lock.info") }
func osLockPath(dir string) string { return filepath.Join(dir, ".lock") }

// ResumeValidator checks whether a recorded Downloading checkpoint's
// partial artifact is still safe to resume from. Implementations own
// the actual HTTP HEAD round trip (spec §6, out-of-core collaborator);
// the core only consumes the verdict.
type ResumeValidator interface {
	ValidatePartial(state DownloadState) (bool, error)
}

// saveStateAtomic writes state to statePath(dir) via a temp file plus
// rename, so a crash mid-write never leaves a half-written checkpoint.
func saveStateAtomic(dir string, state DownloadState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return casgerr.Wrap(err, casgerr.KindInternal, "encoding workspace state")
	}
	tmp := statePath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return casgerr.Wrap(err, casgerr.KindIoError, "writing workspace state temp file")
	}
	if err := os.Rename(tmp, statePath(dir)); err != nil {
		return casgerr.Wrap(err, casgerr.KindIoError, "renaming workspace state into place")
	}
	return nil
}

func loadState(dir string) (DownloadState, error) {
	data, err := os.ReadFile(statePath(dir))
	if err != nil {
		return DownloadState{}, casgerr.Wrap(err, casgerr.KindIoError, "reading workspace state")
	}
	var state DownloadState
	if err := json.Unmarshal(data, &state); err != nil {
		return DownloadState{}, casgerr.Corrupted("malformed workspace state.json: %v", err)
	}
	return state, nil
}

// SaveState persists ws.State atomically.
func (ws *Workspace) SaveState() error {
	return saveStateAtomic(ws.Dir, ws.State)
}

// Release unlocks the workspace's process lock. It does not remove the
// workspace directory; call Cleanup for that once the stage allows it.
func (ws *Workspace) Release() error {
	if ws.lock == nil {
		return nil
	}
	if err := ws.lock.Unlock(); err != nil {
		return casgerr.Wrap(err, casgerr.KindIoError, "releasing workspace lock")
	}
	os.Remove(lockInfoPath(ws.Dir))
	return nil
}

func acquireLock(dir string) (*fslock.Lock, error) {
	if err := removeStaleLock(dir); err != nil {
		return nil, err
	}
	l := fslock.New(osLockPath(dir))
	if err := l.TryLock(); err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindLockContention, "acquiring workspace lock")
	}
	info := LockInfo{PID: os.Getpid(), Host: hostname(), AcquiredAt: time.Now().UTC()}
	data, _ := json.Marshal(info)
	if err := os.WriteFile(lockInfoPath(dir), data, 0o644); err != nil {
		l.Unlock()
		return nil, casgerr.Wrap(err, casgerr.KindIoError, "writing lock info")
	}
	return l, nil
}

// removeStaleLock deletes the .lock/.lock.info pair if the PID recorded
// in .lock.info is not alive on this host; a lock held by a live PID on
// a different host is left untouched, since liveness can't be checked
// remotely.
func removeStaleLock(dir string) error {
	data, err := os.ReadFile(lockInfoPath(dir))
	if err != nil {
		return nil
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	if info.Host != hostname() {
		return nil
	}
	if processAlive(info.PID) {
		return nil
	}
	os.Remove(osLockPath(dir))
	os.Remove(lockInfoPath(dir))
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// NewSessionID generates a unique session identifier for a fresh
// download attempt.
func NewSessionID() string {
	return uuid.NewString()
}

// Acquire scans workspace_root for an incomplete attempt against the
// same (source, dataset); if one is found and, when it is mid-download,
// validator confirms the partial artifact is still safe to resume, that
// workspace's lock is acquired and it is returned as-is. Otherwise a
// fresh workspace is created with a new session id.
func Acquire(root string, source dbref.Source, validator ResumeValidator) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindIoError, "creating workspace root")
	}

	candidate, err := findResumable(root, source)
	if err != nil {
		return nil, err
	}
	if candidate != "" {
		state, err := loadState(candidate)
		if err == nil {
			resumable := true
			if state.Stage == StageDownloading && validator != nil {
				ok, verr := validator.ValidatePartial(state)
				if verr != nil || !ok {
					resumable = false
				}
			}
			if resumable {
				lock, err := acquireLock(candidate)
				if err != nil {
					return nil, err
				}
				return &Workspace{
					Dir:       candidate,
					Source:    source,
					SessionID: filepath.Base(candidate),
					State:     state,
					lock:      lock,
				}, nil
			}
		}
	}

	sessionID := NewSessionID()
	dir := filepath.Join(root, dirName(source, sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindIoError, "creating workspace directory")
	}
	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}
	ws := &Workspace{
		Dir:       dir,
		Source:    source,
		SessionID: sessionID,
		State:     DownloadState{Stage: StageInit, UpdatedAt: time.Now().UTC()},
		lock:      lock,
	}
	if err := ws.SaveState(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return ws, nil
}

// findResumable returns the most recently modified workspace directory
// under root matching source whose stage is not Complete, or "" if
// none exists.
func findResumable(root string, source dbref.Source) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", casgerr.Wrap(err, casgerr.KindIoError, "scanning workspace root")
	}

	prefix := fmt.Sprintf("%s_%s_", source.Kind, source.Dataset)
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if !e.IsDir() || !hasPrefix(e.Name(), prefix) {
			continue
		}
		dir := filepath.Join(root, e.Name())
		state, err := loadState(dir)
		if err != nil {
			continue
		}
		if state.Stage == StageComplete {
			continue
		}
		if state.Stage == StageFailed && !state.Recoverable {
			continue
		}
		if state.UpdatedAt.After(bestMod) {
			best = dir
			bestMod = state.UpdatedAt
		}
	}
	return best, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Cleanup removes every workspace under root, matching no particular
// source, whose stage is Complete or unrecoverably Failed and whose
// last update is older than maxAge. Workspaces currently locked are
// skipped.
func Cleanup(root string, maxAge time.Duration) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return casgerr.Wrap(err, casgerr.KindIoError, "scanning workspace root for cleanup")
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		state, err := loadState(dir)
		if err != nil {
			continue
		}
		done := state.Stage == StageComplete || (state.Stage == StageFailed && !state.Recoverable)
		if !done || state.UpdatedAt.After(cutoff) {
			continue
		}
		l := fslock.New(osLockPath(dir))
		if err := l.TryLock(); err != nil {
			continue // still held, leave it alone
		}
		l.Unlock()
		os.RemoveAll(dir)
	}
	return nil
}
