package syncproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/replicator/internal/conflict"
	"github.com/tonimelisma/replicator/internal/state"
)

// Store is the subset of internal/state.Store the processor consults
// for hash-method drift detection. Declared as an interface so tests
// can substitute a fake, mirroring the teacher's types.go Store
// interface pattern.
type Store interface {
	Get(taskID, rel string) (state.FileState, bool)
	Update(taskID, rel string, fs state.FileState)
}

// Processor is the Sync Processor (C3): per-file decide-and-execute,
// full-tree scan+plan, forward and reverse variants.
type Processor struct {
	TaskID        string
	SourcePath    string
	Mode          SyncMode
	CompareMethod CompareMethod
	Strategy      conflict.Strategy
	DisableDelete bool
	ReverseDelete bool
	AskUser       conflict.AskUserFunc

	Filter *Filter
	Store  Store
	Log    *slog.Logger

	// ResultCB, if set, is invoked once per SyncResult produced while
	// executing an OpProcessEvent operation, so the runner's UI/log
	// callback fires from the queue worker rather than from the
	// enqueueing goroutine (spec §9 "callbacks must not block the caller").
	ResultCB func(event FileEvent, result SyncResult)
}

// relPath computes the path of absPath relative to base, slash- and
// Unicode-normalized (NFC). Source and target trees can live on
// filesystems with different Unicode normalization conventions (macOS
// HFS+/APFS decomposes accented characters to NFD on the wire), so
// every relative path used as a State Store key or target-path join
// is folded to NFC before comparison.
func relPath(base, absPath string) (string, error) {
	rel, err := filepath.Rel(base, absPath)
	if err != nil {
		return "", err
	}

	return norm.NFC.String(filepath.ToSlash(rel)), nil
}

func statMeta(path string) conflict.Meta {
	info, err := os.Stat(path)
	if err != nil {
		return conflict.Meta{Exists: false}
	}

	return conflict.Meta{Exists: true, Size: info.Size(), Mtime: info.ModTime()}
}

// hashFile computes the SHA-256 content hash of path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ProcessReverseEvent handles one event observed on a target (two-way
// only), propagating target -> source. Roles swap relative to
// ProcessEvent: rel is computed against targetBase, and the hash
// comparison reads the same state keyed by rel (spec §4.3 "Reverse
// variant"). All non-copy branches defer to the forward pass, so this
// only ever produces a copy-back or a no-op.
func (p *Processor) ProcessReverseEvent(event FileEvent, targetBase string) SyncResult {
	if p.Mode != ModeTwoWay {
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: event.SrcPath, Message: "not a two-way task"}
	}

	if event.IsDirectory || event.Type != EventCreated && event.Type != EventModified {
		// Directory creation and deletes/moves on the target side are
		// handled by the forward-then-reverse full-sync convention
		// (spec §4.3), not by the realtime reverse event path, to avoid
		// fighting the forward pass over the same subtree.
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: event.SrcPath, Message: "deferred to full sync"}
	}

	rel, err := relPath(targetBase, event.SrcPath)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: event.SrcPath, Message: err.Error()}
	}

	if !p.Filter.Included(targetBase, rel, false) {
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: event.SrcPath, Message: "filtered"}
	}

	srcAbs := filepath.Join(p.SourcePath, rel)

	tgtHash, err := hashFile(event.SrcPath)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: event.SrcPath, TargetPath: srcAbs, Message: err.Error()}
	}

	last, _ := p.Store.Get(p.TaskID, rel)
	tgtChanged := tgtHash != last.Hash

	srcExists := true
	var srcHash string

	if _, statErr := os.Stat(srcAbs); errors.Is(statErr, os.ErrNotExist) {
		srcExists = false
	} else {
		srcHash, err = hashFile(srcAbs)
		if err != nil {
			return SyncResult{Success: false, Action: ActionError, SourcePath: event.SrcPath, TargetPath: srcAbs, Message: err.Error()}
		}
	}

	srcChanged := !srcExists || srcHash != last.Hash

	if tgtChanged && !srcChanged {
		res := p.copyFile(event.SrcPath, srcAbs)
		res.SourcePath, res.TargetPath = res.TargetPath, res.SourcePath

		if res.Success {
			p.recordState(rel, tgtHash, event.SrcPath)
		}

		return res
	}

	return SyncResult{Success: true, Action: ActionSkip, SourcePath: event.SrcPath, TargetPath: srcAbs, Message: "deferred to forward pass"}
}

// ProcessEvent handles one forward (source -> targets) FileEvent,
// producing one SyncResult per target, per spec §4.3.
func (p *Processor) ProcessEvent(event FileEvent, targets []string) []SyncResult {
	results := make([]SyncResult, 0, len(targets))

	for _, targetBase := range targets {
		results = append(results, p.processEventAgainstTarget(event, targetBase))
	}

	return results
}

func (p *Processor) processEventAgainstTarget(event FileEvent, targetBase string) SyncResult {
	switch event.Type {
	case EventCreated, EventModified:
		if event.IsDirectory {
			return p.syncDirectoryCreate(event.SrcPath, targetBase)
		}

		return p.syncFile(event.SrcPath, targetBase)

	case EventDeleted:
		return p.syncDeletion(event.SrcPath, targetBase, event.IsDirectory)

	case EventMoved:
		if event.IsDirectory {
			return p.syncDirectoryMove(event.SrcPath, event.DstPath, targetBase)
		}

		return p.syncFileMove(event.SrcPath, event.DstPath, targetBase)

	default:
		return SyncResult{Success: false, Action: ActionError, SourcePath: event.SrcPath, Message: "unknown event type"}
	}
}

// syncDirectoryCreate ensures the mirrored subdirectory exists. No
// recursion: the watcher surfaces contained files as their own events
// (spec §4.3 "created (directory)").
func (p *Processor) syncDirectoryCreate(srcAbs, targetBase string) SyncResult {
	rel, err := relPath(p.SourcePath, srcAbs)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, Message: err.Error()}
	}

	tgt := filepath.Join(targetBase, rel)

	if err := os.MkdirAll(tgt, 0o755); err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
	}

	return SyncResult{Success: true, Action: ActionSkip, SourcePath: srcAbs, TargetPath: tgt, Message: "directory ensured"}
}

// syncFile is the per-file sync decision, dispatching to the mtime or
// hash method per p.CompareMethod (spec §4.3).
func (p *Processor) syncFile(srcAbs, targetBase string) SyncResult {
	rel, err := relPath(p.SourcePath, srcAbs)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, Message: err.Error()}
	}

	if !p.Filter.Included(p.SourcePath, rel, false) {
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: srcAbs, Message: "filtered"}
	}

	tgt := filepath.Join(targetBase, rel)

	if p.CompareMethod == CompareHash {
		return p.syncFileHash(srcAbs, tgt, rel)
	}

	return p.syncFileMtime(srcAbs, tgt)
}

// syncFileMtime implements the mtime-method decision table (spec §4.3
// "Per-file sync (mtime method)").
func (p *Processor) syncFileMtime(srcAbs, tgt string) SyncResult {
	tgtMeta := statMeta(tgt)

	if !tgtMeta.Exists {
		return p.copyFile(srcAbs, tgt)
	}

	srcMeta := statMeta(srcAbs)

	if !conflict.HasConflict(srcMeta, tgtMeta) {
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: srcAbs, TargetPath: tgt, Message: "no conflict"}
	}

	decision := conflict.Resolve(srcMeta, tgtMeta, p.Strategy, p.AskUser)

	switch decision {
	case conflict.DecisionCopy:
		return p.copyFile(srcAbs, tgt)
	case conflict.DecisionKeepBoth:
		return p.keepBothThenCopy(srcAbs, tgt)
	default:
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: srcAbs, TargetPath: tgt, Message: "skipped by strategy"}
	}
}

// hashAction is the outcome of classifyHash: what to do about a file
// under the hash-compare method, shared by the realtime execution
// path (syncFileHash) and the scan_and_plan planning path
// (planFileOp) so both apply the identical decision table.
type hashAction int

const (
	hashSkip hashAction = iota
	hashCopyForward
	hashConverged
	hashConflictBackup
)

// classifyHash applies the hash-method decision table (spec §4.3 "Per-
// file sync (hash method, requires task_id)") against the last
// recorded state, returning the action to take and (for
// hashCopyForward/hashConverged) the hash that should be recorded
// once that action succeeds.
func classifyHash(last state.FileState, srcHash, tgtHash string, tgtExists, twoWay bool) (hashAction, string) {
	srcChanged := srcHash != last.Hash
	tgtChanged := !tgtExists || tgtHash != last.Hash

	switch {
	case !srcChanged && !tgtChanged:
		return hashSkip, ""

	case srcChanged && !tgtChanged:
		return hashCopyForward, srcHash

	case !srcChanged && tgtChanged:
		if twoWay {
			return hashSkip, "" // deferred to reverse pass
		}

		return hashCopyForward, srcHash

	default: // srcChanged && tgtChanged
		if srcHash == tgtHash {
			return hashConverged, srcHash
		}

		return hashConflictBackup, srcHash
	}
}

// syncFileHash implements the hash-method decision table (spec §4.3
// "Per-file sync (hash method, requires task_id)").
func (p *Processor) syncFileHash(srcAbs, tgt, rel string) SyncResult {
	srcHash, err := hashFile(srcAbs)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
	}

	tgtMeta := statMeta(tgt)

	var tgtHash string
	if tgtMeta.Exists {
		tgtHash, err = hashFile(tgt)
		if err != nil {
			return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
		}
	}

	last, _ := p.Store.Get(p.TaskID, rel)

	action, hash := classifyHash(last, srcHash, tgtHash, tgtMeta.Exists, p.Mode == ModeTwoWay)

	switch action {
	case hashSkip:
		msg := "unchanged"
		if p.Mode == ModeTwoWay && tgtMeta.Exists && tgtHash != last.Hash {
			msg = "deferred to reverse pass"
		}

		return SyncResult{Success: true, Action: ActionSkip, SourcePath: srcAbs, TargetPath: tgt, Message: msg}

	case hashCopyForward:
		res := p.copyFile(srcAbs, tgt)
		if res.Success {
			p.recordState(rel, hash, srcAbs)
		}

		return res

	case hashConverged:
		p.recordState(rel, hash, srcAbs)

		return SyncResult{Success: true, Action: ActionSkip, SourcePath: srcAbs, TargetPath: tgt, Message: "converged"}

	default: // hashConflictBackup
		return p.resolveHashConflict(srcAbs, tgt, rel, hash)
	}
}

// backupTarget moves tgt aside to a timestamped conflict backup path,
// per §6's conflict-backup naming. Used wherever a hash-compare-method
// copy must not silently clobber a target that changed independently.
func backupTarget(tgt string) (string, error) {
	backupPath, err := conflict.ConflictBackupPath(tgt, time.Now(), func(c string) bool {
		_, statErr := os.Stat(c)
		return statErr == nil
	})
	if err != nil {
		return "", err
	}

	if err := os.Rename(tgt, backupPath); err != nil {
		return "", err
	}

	return backupPath, nil
}

// resolveHashConflict moves the existing target to a timestamped
// backup, copies source over it, and updates state, per spec §4.3's
// "yes/yes, hashes differ" row and §6's conflict-backup naming.
func (p *Processor) resolveHashConflict(srcAbs, tgt, rel, srcHash string) SyncResult {
	backupPath, err := backupTarget(tgt)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
	}

	res := p.copyFile(srcAbs, tgt)
	if res.Success {
		p.recordState(rel, srcHash, srcAbs)
		res.Message = fmt.Sprintf("conflict resolved, backup at %s", backupPath)
	}

	return res
}

func (p *Processor) recordState(rel, hash, srcAbs string) {
	info, err := os.Stat(srcAbs)
	if err != nil {
		return
	}

	p.Store.Update(p.TaskID, rel, state.FileState{
		Hash:         hash,
		Mtime:        info.ModTime().UnixNano(),
		Size:         info.Size(),
		LastSyncTime: time.Now().UnixNano(),
	})
}

// keepBothThenCopy renames the target to a version-suffixed name, then
// copies source over the original path (spec §4.2 keep_both).
func (p *Processor) keepBothThenCopy(srcAbs, tgt string) SyncResult {
	versioned, err := conflict.KeepBothPath(tgt, func(c string) bool {
		_, statErr := os.Stat(c)
		return statErr == nil
	})
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
	}

	if err := os.Rename(tgt, versioned); err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
	}

	return p.copyFile(srcAbs, tgt)
}

// copyFile is the execute_op "copy" primitive: copy content then
// best-effort preserve mtime. Never mutates state directly; callers
// that need state recorded do so explicitly (exactly-once statistics,
// SPEC_FULL.md resolved open question #3).
func (p *Processor) copyFile(srcAbs, tgt string) SyncResult {
	info, err := os.Stat(srcAbs)
	if errors.Is(err, os.ErrNotExist) {
		// Source vanished between plan and execute: best-effort skip (spec §7).
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: srcAbs, TargetPath: tgt, Message: "source vanished"}
	}
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
	}

	if err := os.MkdirAll(filepath.Dir(tgt), 0o755); err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
	}

	if err := copyFileContent(srcAbs, tgt); err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
	}

	_ = os.Chtimes(tgt, info.ModTime(), info.ModTime())

	return SyncResult{Success: true, Action: ActionCopy, SourcePath: srcAbs, TargetPath: tgt, FileSize: info.Size()}
}

// copyFileContent writes via a temp file then rename, so a reader of
// tgt never observes a partially written file.
func copyFileContent(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".sync-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}

// syncDeletion removes the mirror at rel path, unless disable_delete
// is set (spec §4.3 "deleted").
func (p *Processor) syncDeletion(srcAbs, targetBase string, isDir bool) SyncResult {
	rel, err := relPath(p.SourcePath, srcAbs)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, Message: err.Error()}
	}

	tgt := filepath.Join(targetBase, rel)

	if p.DisableDelete {
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: srcAbs, TargetPath: tgt, Message: "delete disabled"}
	}

	if _, err := os.Stat(tgt); errors.Is(err, os.ErrNotExist) {
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: srcAbs, TargetPath: tgt, Message: "mirror absent"}
	}

	if err := os.RemoveAll(tgt); err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: srcAbs, TargetPath: tgt, Message: err.Error()}
	}

	p.Store.Update(p.TaskID, rel, state.FileState{})

	return SyncResult{Success: true, Action: ActionDelete, SourcePath: srcAbs, TargetPath: tgt}
}

// syncDirectoryMove performs an atomic rename of the mirror subtree,
// removing a colliding destination first (spec §4.3, "Directory-move
// atomicity").
func (p *Processor) syncDirectoryMove(oldAbs, newAbs, targetBase string) SyncResult {
	oldRel, err := relPath(p.SourcePath, oldAbs)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: oldAbs, Message: err.Error()}
	}

	newRel, err := relPath(p.SourcePath, newAbs)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: newAbs, Message: err.Error()}
	}

	oldTgt := filepath.Join(targetBase, oldRel)
	newTgt := filepath.Join(targetBase, newRel)

	if _, err := os.Stat(oldTgt); errors.Is(err, os.ErrNotExist) {
		return SyncResult{Success: true, Action: ActionSkip, SourcePath: oldAbs, TargetPath: newTgt, Message: "source subtree absent on target"}
	}

	if err := os.RemoveAll(newTgt); err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: oldAbs, TargetPath: newTgt, Message: err.Error()}
	}

	if err := os.MkdirAll(filepath.Dir(newTgt), 0o755); err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: oldAbs, TargetPath: newTgt, Message: err.Error()}
	}

	if err := os.Rename(oldTgt, newTgt); err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: oldAbs, TargetPath: newTgt, Message: err.Error()}
	}

	return SyncResult{Success: true, Action: ActionMove, SourcePath: oldAbs, TargetPath: newTgt}
}

// syncFileMove moves the old mirror to the new path (spec §4.3 "moved
// (file)"). It first renames on the target side; if that rename fails
// (e.g. across devices, or no old mirror exists) it copies from the new
// source path and then removes the old mirror.
func (p *Processor) syncFileMove(oldAbs, newAbs, targetBase string) SyncResult {
	oldRel, err := relPath(p.SourcePath, oldAbs)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: oldAbs, Message: err.Error()}
	}

	newRel, err := relPath(p.SourcePath, newAbs)
	if err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: newAbs, Message: err.Error()}
	}

	oldTgt := filepath.Join(targetBase, oldRel)
	newTgt := filepath.Join(targetBase, newRel)

	if err := os.MkdirAll(filepath.Dir(newTgt), 0o755); err != nil {
		return SyncResult{Success: false, Action: ActionError, SourcePath: oldAbs, TargetPath: newTgt, Message: err.Error()}
	}

	if err := os.Rename(oldTgt, newTgt); err == nil {
		return SyncResult{Success: true, Action: ActionMove, SourcePath: oldAbs, TargetPath: newTgt}
	}

	// Cross-device or source-side-only move: copy from the new source
	// location and drop the stale mirror.
	res := p.copyFile(newAbs, newTgt)
	if res.Success {
		_ = os.Remove(oldTgt)
		res.Action = ActionMove
	}

	return res
}

// ExecuteOperation is the Operation Queue's single entry point: it
// dispatches on op.Type, including OpProcessEvent, so that every
// destructive decision — full-sync plans and realtime events alike —
// only ever runs here, on the queue worker (spec §9 "Ownership of
// destructive I/O").
func (p *Processor) ExecuteOperation(ctx context.Context, op Operation) (bool, string) {
	if op.Type != OpProcessEvent {
		return p.ExecuteOp(ctx, op)
	}

	if op.Event == nil {
		return false, "process_event operation missing its event payload"
	}

	if op.IsReverseEvent {
		targetBase := ""
		if len(op.Targets) > 0 {
			targetBase = op.Targets[0]
		}

		result := p.ProcessReverseEvent(*op.Event, targetBase)
		if p.ResultCB != nil {
			p.ResultCB(*op.Event, result)
		}

		return result.Success, result.Message
	}

	results := p.ProcessEvent(*op.Event, op.Targets)

	ok := true
	msg := ""

	for _, result := range results {
		if p.ResultCB != nil {
			p.ResultCB(*op.Event, result)
		}

		if !result.Success {
			ok = false
			msg = result.Message
		}
	}

	return ok, msg
}

// ExecuteOp is the primitive invoked by ExecuteOperation for every
// scan_and_plan-produced copy/delete: it performs the filesystem side
// effect and then, when the Operation carries a Rel (hash-compare-mode
// copies, and every orphan/reverse delete), records or clears state
// exactly once — the same state-store update the realtime event path
// makes inside recordState/syncDeletion (spec §4.3 execute_op, §4.4,
// and the §4.1 invariant that a successful sync touching rel leaves
// the stored hash equal to the hash of canonical bytes).
func (p *Processor) ExecuteOp(ctx context.Context, op Operation) (bool, string) {
	select {
	case <-ctx.Done():
		return false, ctx.Err().Error()
	default:
	}

	switch op.Type {
	case OpCopyFile:
		if op.NeedsBackup {
			if _, err := backupTarget(op.TargetPath); err != nil {
				return false, err.Error()
			}
		}

		res := p.copyFile(op.SourcePath, op.TargetPath)
		if res.Success && op.Rel != "" {
			p.recordState(op.Rel, op.Hash, op.SourcePath)
		}

		return res.Success, res.Message

	case OpDeleteFile:
		if err := os.RemoveAll(op.TargetPath); err != nil {
			return false, err.Error()
		}

		if op.Rel != "" {
			p.Store.Update(p.TaskID, op.Rel, state.FileState{})
		}

		return true, ""

	default:
		return false, fmt.Sprintf("unsupported op type for execute_op: %s", op.Type)
	}
}
