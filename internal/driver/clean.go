package driver

import (
	"os"
	"path/filepath"

	"github.com/getrandompcmol/qmbatch/internal/manifest"
	"github.com/getrandompcmol/qmbatch/internal/utils"
)

// StageDirs are the calculation subdirectories a worker creates.
var StageDirs = []string{"TZ", "gp3", "gfn2", "wB97X-3c"}

// staleFiles are removed from a working directory before it is restaged.
var staleFiles = []string{
	"coord",
	StagedStructure,
	"hosts_file",
	"mctc-convert.out",
	"mctc-convert.err",
	"runtime",
}

// Clean removes every artifact a previous run may have left in the entry's
// working directory. A missing working directory is not an error.
func (d *Driver) Clean(e manifest.Entry) error {
	if !utils.DirExists(e.WorkDir) {
		return nil
	}

	for _, dir := range StageDirs {
		if err := os.RemoveAll(filepath.Join(e.WorkDir, dir)); err != nil {
			return err
		}
	}

	files := append([]string{d.TemplateName}, staleFiles...)
	for _, name := range files {
		if name == "" {
			continue
		}
		if err := os.Remove(filepath.Join(e.WorkDir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	// Scheduler outputs: PBS writes <name>.o<id>/<name>.e<id>, SLURM slurm-<id>.out
	job := e.JobName()
	for _, pattern := range []string{job + ".o*", job + ".e*", job + ".log", "slurm-*.out"} {
		removed, err := utils.RemoveGlob(e.WorkDir, pattern)
		if err != nil {
			return err
		}
		for _, r := range removed {
			utils.PrintDebug("Removed stale %s", utils.StylePath(r))
		}
	}
	return nil
}
