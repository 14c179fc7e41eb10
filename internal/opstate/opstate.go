// Package opstate persists the sync and push operation state machines
// across process invocations, so a rebase conflict or a failed push can
// be resolved by hand and the operation resumed. The on-disk file is a
// tagged union: only one of a sync or a push may be in progress at a
// time, and loading with the wrong kind in mind is a refused operation,
// not a silent misinterpretation.
package opstate

import (
	"encoding/json"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/brdv/stck/internal/planner"
)

const (
	dirName          = "stck"
	opFileName       = "last-plan.json"
	lastSyncFileName = "last-sync-plan.json"

	kindSync = "sync"
	kindPush = "push"
)

// ErrNoOperationInProgress is returned by LoadSync/LoadPush when no state
// file exists.
var ErrNoOperationInProgress = errors.Sentinel("no operation in progress")

// WrongKindError is returned when the persisted state file belongs to the
// other operation kind.
type WrongKindError struct {
	Wanted string
	Found  string
}

func (e *WrongKindError) Error() string {
	if e.Found == kindPush {
		return "push operation state is in progress; run `stck push` before starting a new sync"
	}
	return "sync operation state is in progress; run `stck sync --continue` before running push"
}

// SyncState is the persisted progress of a sync operation.
type SyncState struct {
	Steps                []planner.SyncStep `json:"steps"`
	CompletedSteps       int                `json:"completed_steps"`
	FailedStep           *int               `json:"failed_step,omitempty"`
	FailedStepBranchHead *string            `json:"failed_step_branch_head,omitempty"`
}

// PushState is the persisted progress of a push operation.
type PushState struct {
	PushBranches       []string               `json:"push_branches"`
	CompletedPushes    int                    `json:"completed_pushes"`
	Retargets          []planner.RetargetStep `json:"retargets"`
	CompletedRetargets int                    `json:"completed_retargets"`
}

// LastSyncPlan is the cached result of the most recent successful sync,
// stored separately from the in-progress operation state so push can
// reuse its retargets without recomputation.
type LastSyncPlan struct {
	DefaultBranch string                 `json:"default_branch"`
	Retargets     []planner.RetargetStep `json:"retargets"`
}

func (p *LastSyncPlan) toPlannerPlan() *planner.LastSyncPlan {
	if p == nil {
		return nil
	}
	return &planner.LastSyncPlan{DefaultBranch: p.DefaultBranch, Retargets: p.Retargets}
}

// ToPlannerPlan adapts a persisted LastSyncPlan to the shape
// planner.BuildPushPlan consumes, keeping planner free of a dependency on
// this package.
func (p *LastSyncPlan) ToPlannerPlan() *planner.LastSyncPlan { return p.toPlannerPlan() }

type syncFile struct {
	Kind string `json:"kind"`
	SyncState
}

type pushFile struct {
	Kind string `json:"kind"`
	PushState
}

type kindProbe struct {
	Kind string `json:"kind"`
}

// Store is the on-disk operation-state store for one repository, rooted
// at <gitDir>/stck.
type Store struct {
	dir string
}

// New returns a Store rooted at <gitDir>/stck. The directory is created
// lazily on first write.
func New(gitDir string) *Store {
	return &Store{dir: filepath.Join(gitDir, dirName)}
}

func (s *Store) opFilePath() string       { return filepath.Join(s.dir, opFileName) }
func (s *Store) lastSyncFilePath() string { return filepath.Join(s.dir, lastSyncFileName) }

// LoadSync reads the in-progress sync state. Returns ErrNoOperationInProgress
// if no state file exists, or a *WrongKindError if a push is in progress
// instead.
func (s *Store) LoadSync() (*SyncState, error) {
	raw, err := os.ReadFile(s.opFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoOperationInProgress
		}
		return nil, errors.Wrap(err, "failed to read operation state file")
	}

	var probe kindProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errors.Wrap(err, "operation state file is corrupt; run with --reset to discard it")
	}
	if probe.Kind != kindSync {
		return nil, &WrongKindError{Wanted: kindSync, Found: probe.Kind}
	}

	var file syncFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrap(err, "operation state file is corrupt; run with --reset to discard it")
	}
	state := file.SyncState
	return &state, nil
}

// LoadPush reads the in-progress push state. Returns ErrNoOperationInProgress
// if no state file exists, or a *WrongKindError if a sync is in progress
// instead.
func (s *Store) LoadPush() (*PushState, error) {
	raw, err := os.ReadFile(s.opFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoOperationInProgress
		}
		return nil, errors.Wrap(err, "failed to read operation state file")
	}

	var probe kindProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errors.Wrap(err, "operation state file is corrupt; run with --reset to discard it")
	}
	if probe.Kind != kindPush {
		return nil, &WrongKindError{Wanted: kindPush, Found: probe.Kind}
	}

	var file pushFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrap(err, "operation state file is corrupt; run with --reset to discard it")
	}
	state := file.PushState
	return &state, nil
}

// SaveSync persists sync state, overwriting any existing operation state
// file (the caller is responsible for having already checked kind
// compatibility via LoadSync/LoadPush).
func (s *Store) SaveSync(state *SyncState) error {
	return writeJSONAtomic(s.dir, s.opFilePath(), syncFile{Kind: kindSync, SyncState: *state})
}

// SavePush persists push state, overwriting any existing operation state
// file.
func (s *Store) SavePush(state *PushState) error {
	return writeJSONAtomic(s.dir, s.opFilePath(), pushFile{Kind: kindPush, PushState: *state})
}

// Clear deletes the in-progress operation state file, if any.
func (s *Store) Clear() error {
	if err := os.Remove(s.opFilePath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to clear operation state file")
	}
	return nil
}

// LoadLastSyncPlan reads the cached sync plan, returning (nil, nil) if
// none has been recorded yet.
func (s *Store) LoadLastSyncPlan() (*LastSyncPlan, error) {
	raw, err := os.ReadFile(s.lastSyncFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read cached sync plan")
	}
	var plan LastSyncPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, errors.Wrap(err, "cached sync plan is corrupt")
	}
	return &plan, nil
}

// SaveLastSyncPlan persists the most recent successful sync's retargets
// for later push reuse.
func (s *Store) SaveLastSyncPlan(plan *LastSyncPlan) error {
	return writeJSONAtomic(s.dir, s.lastSyncFilePath(), plan)
}

// ClearLastSyncPlan deletes the cached sync plan, if any.
func (s *Store) ClearLastSyncPlan() error {
	if err := os.Remove(s.lastSyncFilePath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to clear cached sync plan")
	}
	return nil
}

// writeJSONAtomic marshals v and writes it to path via a temp-file-then-
// rename, so a crash between invocations never leaves a half-written
// state file: the write is either fully visible or not visible at all.
func writeJSONAtomic(dir, path string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create operation state directory")
	}

	bs, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal operation state")
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary state file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(bs); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temporary state file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary state file")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "failed to finalize operation state file")
	}
	return nil
}
