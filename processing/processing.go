// Package processing implements resumable-operation checkpointing, per
// spec §4.11: a per-operation record of which chunks of a manifest have
// been processed so far, persisted to the KV store's processing_states
// column family instead of the loose `.processing_states/` JSON files
// original_source/src/casg/processing_state.rs used, since this
// spec requires durable state to live in the same backend as
// everything else.
package processing

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"time"

	"github.com/talariadb/casg/casgerr"
	"github.com/talariadb/casg/hash"
	"github.com/talariadb/casg/kv"
)

const statesCF = "processing_states"

// maxStateAge matches original_source's 7-day resumability window.
const maxStateAge = 7 * 24 * time.Hour

// OperationType identifies the kind of long-running operation a State
// tracks.
type OperationType struct {
	Kind    OperationKind
	Profile string // only meaningful when Kind == Reduction
}

// OperationKind enumerates the operation variants from
// original_source's OperationType enum.
type OperationKind int

const (
	InitialDownload OperationKind = iota
	IncrementalUpdate
	Chunking
	TaxonomyUpdate
	Reduction
)

func (k OperationKind) String() string {
	switch k {
	case InitialDownload:
		return "initial_download"
	case IncrementalUpdate:
		return "incremental_update"
	case Chunking:
		return "chunking"
	case TaxonomyUpdate:
		return "taxonomy_update"
	case Reduction:
		return "reduction"
	default:
		return "unknown"
	}
}

// SourceInfo records what the operation is processing.
type SourceInfo struct {
	Database       string
	SourceURL      string
	ETag           string
	TotalSizeBytes *uint64
}

// State tracks one resumable operation's progress against a manifest.
// Checkpoint is an operation-defined blob (e.g. byte offset within a
// partially-processed chunk) carried alongside chunk-level completion,
// opaque to the processing package itself.
type State struct {
	Operation       OperationType
	ManifestHash    hash.Hash
	ManifestVersion string
	TotalChunks     int
	CompletedChunks hash.HashSet
	StartedAt       time.Time
	LastUpdated     time.Time
	Source          SourceInfo
	Checkpoint      json.RawMessage
}

// New constructs a fresh State for operation against the given manifest.
func New(operation OperationType, manifestHash hash.Hash, manifestVersion string, totalChunks int, source SourceInfo) *State {
	now := time.Now().UTC()
	return &State{
		Operation:       operation,
		ManifestHash:    manifestHash,
		ManifestVersion: manifestVersion,
		TotalChunks:     totalChunks,
		CompletedChunks: make(hash.HashSet),
		StartedAt:       now,
		LastUpdated:     now,
		Source:          source,
	}
}

// MarkChunkCompleted records h as done.
func (s *State) MarkChunkCompleted(h hash.Hash) {
	s.CompletedChunks[h] = struct{}{}
	s.LastUpdated = time.Now().UTC()
}

// MarkChunksCompleted records every hash in hashes as done.
func (s *State) MarkChunksCompleted(hashes []hash.Hash) {
	for _, h := range hashes {
		s.CompletedChunks[h] = struct{}{}
	}
	s.LastUpdated = time.Now().UTC()
}

// RemainingChunks returns how many chunks are still outstanding.
func (s *State) RemainingChunks() int {
	remaining := s.TotalChunks - len(s.CompletedChunks)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingChunkHashes is the spec's get_remaining_chunks operation (spec
// §4.11, scenario 3): set-differences allChunks against s.CompletedChunks,
// preserving allChunks' order. Unlike RemainingChunks, which only counts,
// this returns the actual hashes a resumed operation still has to process.
func (s *State) RemainingChunkHashes(allChunks []hash.Hash) []hash.Hash {
	remaining := make([]hash.Hash, 0, len(allChunks))
	for _, h := range allChunks {
		if _, done := s.CompletedChunks[h]; !done {
			remaining = append(remaining, h)
		}
	}
	return remaining
}

// SetCheckpoint records an operation-defined checkpoint blob and advances
// LastUpdated, extending the state's resumability window.
func (s *State) SetCheckpoint(data json.RawMessage) {
	s.Checkpoint = data
	s.LastUpdated = time.Now().UTC()
}

// GetRemainingChunks returns the subset of allChunks not yet completed in
// state. A nil state — no resumable checkpoint was found — means nothing
// has been completed, so every chunk is remaining.
func GetRemainingChunks(state *State, allChunks []hash.Hash) []hash.Hash {
	if state == nil {
		out := make([]hash.Hash, len(allChunks))
		copy(out, allChunks)
		return out
	}
	return state.RemainingChunkHashes(allChunks)
}

// CompletionPercentage returns progress in [0, 100]. An operation with
// zero total chunks is vacuously complete.
func (s *State) CompletionPercentage() float64 {
	if s.TotalChunks == 0 {
		return 100.0
	}
	return float64(len(s.CompletedChunks)) / float64(s.TotalChunks) * 100.0
}

// IsExpired reports whether the state is too old to resume.
func (s *State) IsExpired() bool {
	return time.Since(s.LastUpdated) > maxStateAge
}

// CanResumeWith reports whether this state may be resumed against the
// given manifest: not expired, and both the manifest hash and version
// agree with what this state was started against.
func (s *State) CanResumeWith(manifestHash hash.Hash, manifestVersion string) bool {
	return !s.IsExpired() && s.ManifestHash == manifestHash && s.ManifestVersion == manifestVersion
}

// IsComplete reports whether every chunk has been marked done.
func (s *State) IsComplete() bool {
	return len(s.CompletedChunks) >= s.TotalChunks
}

// OperationID derives the deterministic state key for (database,
// operation), matching original_source's generate_operation_id:
// slashes in the database name become underscores, Reduction suffixes
// with its profile.
func OperationID(database string, operation OperationType) string {
	suffix := operation.Kind.String()
	if operation.Kind == Reduction {
		suffix = "reduction_" + operation.Profile
	}
	slug := make([]byte, 0, len(database))
	for i := 0; i < len(database); i++ {
		if database[i] == '/' {
			slug = append(slug, '_')
		} else {
			slug = append(slug, database[i])
		}
	}
	return string(slug) + "_" + suffix
}

// Manager persists and resolves processing states against the KV
// backend's processing_states column family.
type Manager struct {
	kv *kv.Store
}

// NewManager wraps store as a processing-state manager.
func NewManager(store *kv.Store) *Manager {
	return &Manager{kv: store}
}

func encodeState(s *State) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, casgerr.Wrap(err, casgerr.KindInternal, "encoding processing state")
	}
	return buf.Bytes(), nil
}

func decodeState(data []byte) (*State, error) {
	var s State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, casgerr.Corrupted("malformed processing state: %v", err)
	}
	return &s, nil
}

// SaveState persists state under operationID.
func (m *Manager) SaveState(operationID string, state *State) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	return m.kv.Put(statesCF, []byte(operationID), data)
}

// LoadState loads the state for operationID. If it has expired, it is
// deleted and (nil, nil) is returned, mirroring the Rust manager's
// load_state behavior of treating an expired checkpoint as absent.
func (m *Manager) LoadState(operationID string) (*State, error) {
	data, err := m.kv.Get(statesCF, []byte(operationID))
	if casgerr.Is(err, casgerr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state, err := decodeState(data)
	if err != nil {
		return nil, err
	}
	if state.IsExpired() {
		if err := m.DeleteState(operationID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return state, nil
}

// DeleteState removes operationID's checkpoint, if any.
func (m *Manager) DeleteState(operationID string) error {
	return m.kv.Delete(statesCF, []byte(operationID))
}

// ListStates returns every non-expired checkpoint currently stored,
// keyed by operation id. Expired states encountered along the way are
// deleted.
func (m *Manager) ListStates() (map[string]*State, error) {
	out := make(map[string]*State)
	var expired []string

	err := m.kv.PrefixIter(statesCF, nil, func(k, v []byte) bool {
		state, err := decodeState(v)
		if err != nil {
			return true
		}
		if state.IsExpired() {
			expired = append(expired, string(k))
			return true
		}
		out[string(k)] = state
		return true
	})
	if err != nil {
		return nil, err
	}
	for _, id := range expired {
		m.DeleteState(id)
	}
	return out, nil
}

// CleanupExpired deletes every expired checkpoint and returns how many
// were removed.
func (m *Manager) CleanupExpired() (int, error) {
	var expired []string
	err := m.kv.PrefixIter(statesCF, nil, func(k, v []byte) bool {
		state, err := decodeState(v)
		if err == nil && state.IsExpired() {
			expired = append(expired, string(k))
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	for _, id := range expired {
		if err := m.DeleteState(id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// CheckResumable loads operationID's state and, if present, checks it
// against (manifestHash, manifestVersion) via CanResumeWith. Returns
// (nil, nil) on any mismatch or absence rather than an error, since
// "no resumable state" is an expected outcome, not a failure.
func (m *Manager) CheckResumable(operationID string, manifestHash hash.Hash, manifestVersion string) (*State, error) {
	state, err := m.LoadState(operationID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	if !state.CanResumeWith(manifestHash, manifestVersion) {
		return nil, nil
	}
	return state, nil
}
