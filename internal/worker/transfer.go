package worker

import (
	"context"
	"fmt"
	"strings"
)

// SyncSpec describes one directory transfer.
type SyncSpec struct {
	Src        string
	Dst        string
	BwLimitKB  int    // 0 means unlimited
	MaxSize    string // rsync size, e.g. "50m"; empty means no limit
	Filters    []string
	PruneEmpty bool
}

// Syncer copies directory trees.
type Syncer interface {
	Sync(ctx context.Context, spec SyncSpec) error
}

// RsyncSyncer transfers with rsync through a Runner.
type RsyncSyncer struct {
	Bin    string
	Runner Runner
}

// Sync runs rsync for spec.
func (r RsyncSyncer) Sync(ctx context.Context, spec SyncSpec) error {
	bin := r.Bin
	if bin == "" {
		bin = "rsync"
	}
	_, err := r.Runner.Run(ctx, Command{Name: bin, Args: RsyncArgs(spec)})
	if err != nil {
		return fmt.Errorf("rsync %s -> %s: %w", spec.Src, spec.Dst, err)
	}
	return nil
}

// RsyncArgs builds the rsync argument vector. Source and destination are
// given with a trailing slash so the contents, not the directory, are copied.
func RsyncArgs(spec SyncSpec) []string {
	args := []string{"-a"}
	if spec.BwLimitKB > 0 {
		args = append(args, fmt.Sprintf("--bwlimit=%d", spec.BwLimitKB))
	}
	if spec.MaxSize != "" {
		args = append(args, "--max-size="+spec.MaxSize)
	}
	if spec.PruneEmpty {
		args = append(args, "--prune-empty-dirs")
	}
	args = append(args, spec.Filters...)
	args = append(args, withSlash(spec.Src), withSlash(spec.Dst))
	return args
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// StageInSpec copies the visible entries of the working directory plus the
// named dotfiles (charge, spin) to scratch. A runtime record left by an
// earlier run stays behind.
func StageInSpec(workDir, scratch string, bwLimitKB int, dotfiles []string) SyncSpec {
	var filters []string
	for _, f := range dotfiles {
		filters = append(filters, "--include=/"+f)
	}
	filters = append(filters, "--exclude=/.*", "--exclude=/"+RuntimeFile)
	return SyncSpec{Src: workDir, Dst: scratch, BwLimitKB: bwLimitKB, Filters: filters}
}

// CopyBackSpec is the bulk copy-back limited to files below maxSize.
func CopyBackSpec(scratch, workDir, maxSize string) SyncSpec {
	return SyncSpec{Src: scratch, Dst: workDir, MaxSize: maxSize}
}

// RestartSpec copies only the named restart files, at any size, keeping the
// directory structure.
func RestartSpec(scratch, workDir string, names []string) SyncSpec {
	filters := []string{"--include=*/"}
	for _, n := range names {
		filters = append(filters, "--include="+n)
	}
	filters = append(filters, "--exclude=*")
	return SyncSpec{Src: scratch, Dst: workDir, Filters: filters, PruneEmpty: true}
}
