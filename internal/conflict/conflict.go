// Package conflict implements the Conflict Resolver (C2): a pure
// decision function over two file metadata snapshots and a strategy.
package conflict

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Strategy selects how a conflict between source and target is resolved.
type Strategy string

const (
	NewestWins Strategy = "newest_wins"
	SourceWins Strategy = "source_wins"
	TargetWins Strategy = "target_wins"
	KeepBoth   Strategy = "keep_both"
	Skip       Strategy = "skip"
	AskUser    Strategy = "ask_user"
)

// Decision is the verdict over which side (if any) gets overwritten.
type Decision string

const (
	DecisionCopy     Decision = "copy"      // overwrite target with source
	DecisionKeepBoth Decision = "keep_both" // rename target, then copy source over original
	DecisionSkip     Decision = "skip"      // touch nothing
)

// Meta is a minimal file metadata snapshot used by the probe and by
// newest_wins comparison. Size/mtime only — no hashing at this layer
// (spec §4.2).
type Meta struct {
	Exists bool
	Size   int64
	Mtime  time.Time
}

// AskUserFunc is the injected callback for the ask_user strategy. It
// receives the same two snapshots and must return one of Decision{Copy,
// KeepBoth, Skip}. Per spec, if no callback is provided ask_user
// behaves as skip.
type AskUserFunc func(src, tgt Meta) Decision

// HasConflict probes whether source and target disagree. It returns
// false when either file is absent, or when (size, mtime) match
// bit-for-bit — no hashing at this layer.
func HasConflict(src, tgt Meta) bool {
	if !src.Exists || !tgt.Exists {
		return false
	}

	return src.Size != tgt.Size || !src.Mtime.Equal(tgt.Mtime)
}

// Resolve applies strategy to (src, tgt) and returns the decision. ask
// is consulted only for AskUser; it may be nil.
func Resolve(src, tgt Meta, strategy Strategy, ask AskUserFunc) Decision {
	switch strategy {
	case NewestWins:
		return resolveNewestWins(src, tgt)
	case SourceWins:
		return DecisionCopy
	case TargetWins:
		return DecisionSkip
	case KeepBoth:
		return DecisionKeepBoth
	case Skip:
		return DecisionSkip
	case AskUser:
		if ask == nil {
			return DecisionSkip
		}

		return ask(src, tgt)
	default:
		return DecisionSkip
	}
}

// resolveNewestWins compares mtimes; the newer side's copy direction
// wins. Equal mtimes skip. This function is antisymmetric up to the
// strict > comparison on mtime (spec §8 Laws).
func resolveNewestWins(src, tgt Meta) Decision {
	switch {
	case src.Mtime.After(tgt.Mtime):
		return DecisionCopy
	case tgt.Mtime.After(src.Mtime):
		return DecisionSkip
	default:
		return DecisionSkip
	}
}

// maxKeepBothSuffix bounds the numeric-suffix search for keep_both and
// conflict-backup naming, mirroring the teacher's collision-avoidance cap.
const maxKeepBothSuffix = 1000

// KeepBothPath returns "<name>_v<N><ext>" where N is the smallest
// positive integer making the path unique, per spec §6. exists reports
// whether a candidate path is already taken.
func KeepBothPath(path string, exists func(string) bool) (string, error) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)

	for n := 1; n <= maxKeepBothSuffix; n++ {
		candidate := fmt.Sprintf("%s_v%d%s", stem, n, ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("conflict: no free keep_both suffix under %d for %s", maxKeepBothSuffix, path)
}

// ConflictBackupPath returns "<name>.conflict.<YYYYMMDDhhmmss><ext>" for
// the hash-mode both-changed case (spec §6), disambiguating with a
// numeric suffix if the timestamped name collides (e.g. two conflicts
// in the same second).
func ConflictBackupPath(path string, at time.Time, exists func(string) bool) (string, error) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	ts := at.Format("20060102150405")

	base := fmt.Sprintf("%s.conflict.%s%s", stem, ts, ext)
	if !exists(base) {
		return base, nil
	}

	for n := 1; n <= maxKeepBothSuffix; n++ {
		candidate := fmt.Sprintf("%s.conflict.%s-%s%s", stem, ts, strconv.Itoa(n), ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("conflict: no free backup suffix for %s", path)
}
