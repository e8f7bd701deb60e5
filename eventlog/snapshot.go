package eventlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/repr0bated/substrate/xerrors"
)

// SnapshotInterval decides whether enough time has passed to justify
// another snapshot. Grounded on
// original_source/crates/op-blockchain/src/snapshot.rs's
// ShouldSnapshot cadence check, referenced from blockchain.rs's
// add_event path; the source file itself was not present in the
// retrieved pack, so this is a direct, minimal reading of its call
// site: "time-based... the orchestrator instructs the log to produce a
// read-only snapshot" (spec §4.6).
type SnapshotInterval struct {
	Period time.Duration
}

// ShouldSnapshot reports whether elapsed time since the last snapshot
// has crossed the configured period. A zero Period disables time-based
// snapshotting (the caller must trigger CreateSnapshot explicitly).
func (si SnapshotInterval) ShouldSnapshot(elapsed time.Duration) bool {
	if si.Period <= 0 {
		return false
	}
	return elapsed >= si.Period
}

// SnapshotInfo describes one snapshot directory on disk.
type SnapshotInfo struct {
	Name      string
	Counter   uint64
	CreatedAt time.Time
}

// CreateSnapshot reserves the next snapshot counter, copies the
// current state/ directory into snapshots/<prefix>-NNNNNN/, prunes
// according to the retention policy, and returns the new snapshot's
// name. Spec §4.6: "Implementation uses copy-on-write subvolumes if
// available, else a recursive copy as fallback" — this port always
// takes the recursive-copy path (see DESIGN.md's design decision on
// why btrfs is not shelled out to from a portable CLI).
func (l *Log) CreateSnapshot(ctx context.Context) (string, error) {
	l.snapshotMu.Lock()
	counter := l.snapshotCounter
	l.snapshotCounter++
	l.snapshotMu.Unlock()

	name := snapshotName(l.cfg.SnapshotPrefix, counter)
	snapshotPath := filepath.Join(l.cfg.BasePath, "snapshots", name)
	statePath := filepath.Join(l.cfg.BasePath, "state")

	if err := os.MkdirAll(snapshotPath, 0o755); err != nil {
		return "", xerrors.NewFrameworkError("eventlog.CreateSnapshot", "eventlog", name, err)
	}
	if err := copyDirRecursive(statePath, snapshotPath); err != nil {
		return "", xerrors.NewFrameworkError("eventlog.CreateSnapshot", "eventlog", name, err)
	}

	l.log.Info("snapshot created", map[string]interface{}{"name": name, "counter": counter})

	if pruned, err := l.PruneSnapshots(ctx); err != nil {
		l.log.Warn("snapshot pruning failed", map[string]interface{}{"error": err.Error()})
	} else if pruned > 0 {
		l.log.Info("pruned snapshots", map[string]interface{}{"count": pruned})
	}

	return name, nil
}

func snapshotName(prefix string, counter uint64) string {
	return fmt.Sprintf("%s-%06d", prefix, counter)
}

// ListSnapshots returns every snapshot directory under the log's
// snapshots/ path, newest (highest counter) first.
func (l *Log) ListSnapshots() ([]SnapshotInfo, error) {
	dir := filepath.Join(l.cfg.BasePath, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.NewFrameworkError("eventlog.ListSnapshots", "eventlog", "", err)
	}

	var out []SnapshotInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		counter, ok := parseSnapshotName(e.Name(), l.cfg.SnapshotPrefix)
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SnapshotInfo{Name: e.Name(), Counter: counter, CreatedAt: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Counter > out[j].Counter })
	return out, nil
}

// PruneSnapshots buckets every existing snapshot by age
// (hourly/daily/weekly/quarterly per spec §4.6) and deletes any
// snapshot that falls outside the retention policy's keep set for its
// bucket, never deleting a bucket's single most recent snapshot.
// Grounded directly on
// original_source/crates/op-blockchain/src/blockchain.rs's
// prune_snapshots: snapshots within 24h are individually counted
// toward the hourly quota; snapshots older than that collapse to one
// representative per calendar day/ISO week/quarter (the newest in that
// bucket, since buckets are filled from a newest-first pass), and only
// the top N representatives per tier survive.
func (l *Log) PruneSnapshots(ctx context.Context) (int, error) {
	snapshots, err := l.ListSnapshots() // already sorted newest first
	if err != nil {
		return 0, err
	}

	now := l.nowFn()
	var hourly []string
	daily := map[string]string{}
	weekly := map[string]string{}
	quarterly := map[string]string{}

	for _, s := range snapshots {
		age := now.Sub(s.CreatedAt)
		switch {
		case age <= 24*time.Hour:
			hourly = append(hourly, s.Name)
		case age <= 30*24*time.Hour:
			key := s.CreatedAt.Format("20060102")
			if _, ok := daily[key]; !ok {
				daily[key] = s.Name
			}
		case age <= 12*7*24*time.Hour:
			year, week := s.CreatedAt.ISOWeek()
			key := fmt.Sprintf("%04d-W%02d", year, week)
			if _, ok := weekly[key]; !ok {
				weekly[key] = s.Name
			}
		default:
			quarter := (int(s.CreatedAt.Month())-1)/3 + 1
			key := fmt.Sprintf("%04d-Q%d", s.CreatedAt.Year(), quarter)
			if _, ok := quarterly[key]; !ok {
				quarterly[key] = s.Name
			}
		}
	}

	keep := map[string]bool{}
	takeTop(keep, hourly, l.cfg.Retention.Hourly)
	takeTop(keep, sortedValues(daily), l.cfg.Retention.Daily)
	takeTop(keep, sortedValues(weekly), l.cfg.Retention.Weekly)
	takeTop(keep, sortedValues(quarterly), l.cfg.Retention.Quarterly)

	var deleted int
	for _, s := range snapshots {
		if keep[s.Name] {
			continue
		}
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}
		path := filepath.Join(l.cfg.BasePath, "snapshots", s.Name)
		if err := os.RemoveAll(path); err != nil {
			return deleted, xerrors.NewFrameworkError("eventlog.PruneSnapshots", "eventlog", s.Name, err)
		}
		deleted++
	}
	return deleted, nil
}

// sortedValues returns a bucket map's values sorted descending by
// name, so "take the first N" across buckets of the same tier keeps
// the most recently created representatives.
func sortedValues(bucket map[string]string) []string {
	names := make([]string, 0, len(bucket))
	for _, v := range bucket {
		names = append(names, v)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

// takeTop keeps the first n entries of names (already newest-first) plus,
// regardless of n, names[0] itself — spec §4.6 invariant (iv): "retention
// pruning never deletes the single most recent snapshot in any bucket,"
// even when an operator configures a bucket's keep count down to zero.
func takeTop(keep map[string]bool, names []string, n int) {
	if n < 0 {
		n = 0
	}
	if len(names) > 0 {
		keep[names[0]] = true
	}
	for i, name := range names {
		if i >= n {
			break
		}
		keep[name] = true
	}
}

// WriteState persists one current-view file under state/<key>.json
// (spec §6's on-disk layout). Snapshots capture whatever is in state/
// at the moment CreateSnapshot runs.
func (l *Log) WriteState(key string, data []byte) error {
	path := filepath.Join(l.cfg.BasePath, "state", key+".json")
	if err := writeFileDurable(path, data); err != nil {
		return xerrors.NewFrameworkError("eventlog.WriteState", "eventlog", key, err)
	}
	return nil
}

// ReadState reads back a current-view file written by WriteState.
func (l *Log) ReadState(key string) ([]byte, error) {
	path := filepath.Join(l.cfg.BasePath, "state", key+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.NewFrameworkError("eventlog.ReadState", "eventlog", key, err)
	}
	return data, nil
}

func copyDirRecursive(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return err
			}
			if err := copyDirRecursive(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
