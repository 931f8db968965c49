// Package driver runs a submission campaign: one scheduler job per conformer
// listed in the run root's manifests.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/manifest"
	"github.com/getrandompcmol/qmbatch/internal/scheduler"
	"github.com/getrandompcmol/qmbatch/internal/utils"
)

// StagedStructure is the name the structure file gets inside a working directory.
const StagedStructure = "struc.xyz"

// Submitter is the part of a scheduler the driver needs.
type Submitter interface {
	Submit(ctx context.Context, req *scheduler.JobRequest) (string, error)
}

// Driver holds everything one submission run needs. All paths are explicit;
// the process working directory is never changed.
type Driver struct {
	Root              string
	Manifest          string // relative to Root or absolute
	ConformerManifest string
	Template          []byte // job script copied into each working directory
	TemplateName      string
	Queue             config.QueueClass
	Cores             int
	Delay             time.Duration
	ErrorLog          string  // absolute path of the run-level error log
	Ledger            *Ledger // may be nil
	Sched             Submitter

	// Sleep waits between submissions. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	DryRun    bool // resolve, clean and stage, but never submit or sleep
	Preflight bool // check every structure file before the first submission
}

// Submission is one accepted job.
type Submission struct {
	Entry manifest.Entry
	JobID string
}

// Report summarizes a run.
type Report struct {
	Resolved  int
	Staged    int
	Submitted []Submission
}

// Validate checks the driver before any filesystem change.
func (d *Driver) Validate() error {
	if d.Root == "" {
		return fmt.Errorf("run root not set")
	}
	if d.Cores <= 0 {
		return fmt.Errorf("cores per job must be positive, got %d", d.Cores)
	}
	if d.Queue.MemPerCoreMB <= 0 {
		return fmt.Errorf("queue class %q has no per-core memory", d.Queue.Name)
	}
	if len(d.Template) == 0 {
		return fmt.Errorf("no job template")
	}
	if d.TemplateName == "" {
		return fmt.Errorf("no job template name")
	}
	if d.Sched == nil && !d.DryRun {
		return scheduler.ErrSchedulerNotFound
	}
	if d.Delay < 0 {
		return fmt.Errorf("negative submission delay %v", d.Delay)
	}
	return nil
}

// Run resolves the manifests and processes every entry in order.
// A manifest error aborts before any submission. A missing structure file is
// written to the error log and aborts the run; jobs already submitted stay
// submitted. The partial report is returned together with any error.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	entries, err := manifest.Resolve(d.Root, d.Manifest, d.ConformerManifest)
	if err != nil {
		return nil, err
	}
	report := &Report{Resolved: len(entries)}
	utils.PrintDebug("Resolved %s jobs under %s", utils.StyleNumber(len(entries)), utils.StylePath(d.Root))

	if d.Preflight {
		for _, e := range entries {
			if !utils.FileExists(e.Structure) {
				return report, d.missingStructure(e)
			}
		}
	}

	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := d.Clean(e); err != nil {
			return report, fmt.Errorf("cleaning %s: %w", e.WorkDir, err)
		}
		if !utils.FileExists(e.Structure) {
			return report, d.missingStructure(e)
		}
		if err := d.Stage(e); err != nil {
			return report, err
		}
		report.Staged++

		req := d.Request(e)
		if d.DryRun {
			utils.PrintMessage("[dry-run] %s -> queue %s, %d cores, %d MB",
				utils.StyleName(req.Name), req.Queue, req.Cores, req.MemMB)
			continue
		}

		jobID, err := d.Sched.Submit(ctx, req)
		if err != nil {
			return report, err
		}
		report.Submitted = append(report.Submitted, Submission{Entry: e, JobID: jobID})
		utils.PrintMessage("Submitted %s as job %s", utils.StyleName(req.Name), utils.StyleNumber(jobID))

		if d.Ledger != nil {
			if err := d.Ledger.Record(req, jobID, e.WorkDir, time.Now()); err != nil {
				utils.PrintWarning("Failed to update ledger %s: %v", utils.StylePath(d.Ledger.Path()), err)
			}
		}

		if err := sleep(ctx, d.Delay); err != nil {
			return report, err
		}
	}

	return report, nil
}

// Request builds the scheduler request for an entry.
// Memory is always Cores × the queue class per-core allowance.
func (d *Driver) Request(e manifest.Entry) *scheduler.JobRequest {
	return &scheduler.JobRequest{
		Name:   e.JobName(),
		Queue:  d.Queue.Queue,
		Nodes:  1,
		Cores:  d.Cores,
		MemMB:  d.Queue.MemoryMB(d.Cores),
		Script: d.TemplateName,
		Dir:    e.WorkDir,
	}
}

// Stage creates the working directory, copies the structure to struc.xyz and
// writes the job template next to it.
func (d *Driver) Stage(e manifest.Entry) error {
	if err := utils.EnsureDir(e.WorkDir); err != nil {
		return fmt.Errorf("creating %s: %w", e.WorkDir, err)
	}
	if err := utils.CopyFile(e.Structure, filepath.Join(e.WorkDir, StagedStructure)); err != nil {
		return fmt.Errorf("staging structure for %s: %w", e.JobName(), err)
	}
	if err := os.WriteFile(filepath.Join(e.WorkDir, d.TemplateName), d.Template, utils.PermExec); err != nil {
		return fmt.Errorf("writing job template for %s: %w", e.JobName(), err)
	}
	utils.PrintDebug("Staged %s in %s", utils.StylePath(e.Structure), utils.StylePath(e.WorkDir))
	return nil
}

func (d *Driver) missingStructure(e manifest.Entry) error {
	merr := &MissingStructureError{Molecule: e.Molecule, Conformer: e.Conformer, Path: e.Structure}
	if err := AppendErrorLog(d.ErrorLog, merr.LogLine()); err != nil {
		utils.PrintWarning("Failed to write error log %s: %v", utils.StylePath(d.ErrorLog), err)
	}
	return merr
}

// AppendErrorLog appends one line to the run-level error log.
func AppendErrorLog(path, line string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, utils.PermFile)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
