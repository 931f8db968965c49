// Package scheduler submits conformer jobs to HPC batch schedulers and reads
// the environment a running job was given.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// SchedulerType represents the type of job scheduler
type SchedulerType string

const (
	SchedulerUnknown SchedulerType = ""
	SchedulerSLURM   SchedulerType = "SLURM"
	SchedulerPBS     SchedulerType = "PBS"
)

// ParseType maps a user supplied scheduler name to a SchedulerType.
func ParseType(s string) (SchedulerType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return SchedulerUnknown, nil
	case "SLURM":
		return SchedulerSLURM, nil
	case "PBS", "TORQUE":
		return SchedulerPBS, nil
	default:
		return SchedulerUnknown, fmt.Errorf("%w: %q (expected PBS or SLURM)", ErrUnknownSchedulerType, s)
	}
}

// SchedulerInfo holds information about the detected scheduler
type SchedulerInfo struct {
	Type      string // Scheduler type (e.g., "SLURM", "PBS")
	Binary    string // Path to scheduler binary (e.g., "/usr/bin/sbatch")
	Version   string // Scheduler version (if available)
	InJob     bool   // Whether we're currently inside a scheduled job
	Available bool   // Whether scheduler is available for job submission
}

// JobRequest describes one submission. Every per-job parameter travels as a
// command-line flag; the script itself is never edited.
type JobRequest struct {
	Name   string // Job name, e.g. "mol001_confA"
	Queue  string // Queue or partition
	Nodes  int    // Node count
	Cores  int    // Cores per node
	MemMB  int64  // Memory ceiling for the whole job
	Script string // Script path, relative to Dir or absolute
	Dir    string // Working directory of the submission process
}

// Validate checks a request before it reaches the scheduler binary.
func (r *JobRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty job name", ErrInvalidRequest)
	}
	if r.Script == "" {
		return fmt.Errorf("%w: no job script for %s", ErrInvalidRequest, r.Name)
	}
	if r.Nodes <= 0 {
		return &ValidationError{Field: "Nodes", Requested: r.Nodes, Limit: 1, JobName: r.Name}
	}
	if r.Cores <= 0 {
		return &ValidationError{Field: "Cores", Requested: r.Cores, Limit: 1, JobName: r.Name}
	}
	if r.MemMB <= 0 {
		return &ValidationError{Field: "MemMB", Requested: int(r.MemMB), Limit: 1, JobName: r.Name}
	}
	return nil
}

// JobEnv is what a running job learns from its scheduler environment.
// Empty strings and zero values mean the scheduler did not export that value.
type JobEnv struct {
	Type      SchedulerType
	JobID     string
	SubmitDir string // PBS_O_WORKDIR / SLURM_SUBMIT_DIR
	NodeFile  string // PBS_NODEFILE
	NodeList  string // SLURM_JOB_NODELIST (compact form)
	Ncpus     int
}

// Scheduler defines the interface for job schedulers
type Scheduler interface {
	// IsAvailable checks if the scheduler is available and we're not already in a job
	IsAvailable() bool

	// GetInfo returns information about the scheduler
	GetInfo() *SchedulerInfo

	// SubmitArgs returns the argument vector passed to the submission binary.
	SubmitArgs(req *JobRequest) ([]string, error)

	// Submit submits one job from req.Dir and returns the scheduler's job ID.
	Submit(ctx context.Context, req *JobRequest) (string, error)

	// GetJobEnv reads the environment of a running job.
	// Returns nil if not running inside a job of this scheduler type.
	GetJobEnv() *JobEnv
}

// DetectScheduler attempts to detect and return an available scheduler.
// Returns the scheduler instance if available, otherwise returns ErrSchedulerNotAvailable or ErrSchedulerNotFound.
func DetectScheduler() (Scheduler, error) {
	sched, err := DetectSchedulerWithBinary("", SchedulerUnknown)
	if err != nil {
		return nil, err
	}
	if !sched.IsAvailable() {
		return nil, ErrSchedulerNotAvailable
	}
	return sched, nil
}

// DetectSchedulerWithBinary initializes a scheduler from a preferred binary path
// and/or a forced type. With neither, SLURM then PBS are looked up on PATH.
// The returned scheduler may still be unavailable (e.g. inside a job).
func DetectSchedulerWithBinary(preferredBin string, forced SchedulerType) (Scheduler, error) {
	switch forced {
	case SchedulerPBS:
		return NewPbsSchedulerWithBinary(preferredBin)
	case SchedulerSLURM:
		return NewSlurmSchedulerWithBinary(preferredBin)
	}

	if preferredBin != "" {
		switch filepath.Base(preferredBin) {
		case "qsub":
			return NewPbsSchedulerWithBinary(preferredBin)
		default:
			// Default to SLURM for sbatch and any other binary
			return NewSlurmSchedulerWithBinary(preferredBin)
		}
	}

	if slurm, err := NewSlurmScheduler(); err == nil {
		return slurm, nil
	}
	if pbs, err := NewPbsScheduler(); err == nil {
		return pbs, nil
	}

	return nil, ErrSchedulerNotFound
}

// Init auto-detects and initializes the active scheduler.
// If preferredBin or forced is provided, it will be used instead of auto-detection.
// Returns the detected scheduler type and any error.
func Init(preferredBin string, forced SchedulerType) (SchedulerType, error) {
	sched, err := DetectSchedulerWithBinary(preferredBin, forced)
	if err != nil {
		ClearActiveScheduler()
		return SchedulerUnknown, err
	}

	SetActiveScheduler(sched)
	return SchedulerType(sched.GetInfo().Type), nil
}

// DetectType returns the type of scheduler available on the system without initializing it.
func DetectType() SchedulerType {
	if _, err := exec.LookPath("sbatch"); err == nil {
		return SchedulerSLURM
	}
	if _, err := exec.LookPath("qsub"); err == nil {
		return SchedulerPBS
	}
	return SchedulerUnknown
}

// IsInsideJob checks if we're currently running inside a scheduler job.
// This is useful to avoid nested job submission.
func IsInsideJob() bool {
	if _, ok := os.LookupEnv("SLURM_JOB_ID"); ok {
		return true
	}
	if _, ok := os.LookupEnv("PBS_JOBID"); ok {
		return true
	}
	return false
}

// CurrentJobEnv returns the environment of the job we are running in, or nil
// outside of any job. PBS is checked first because some sites run PBS
// wrappers on top of SLURM that export both.
func CurrentJobEnv() *JobEnv {
	if env := pbsJobEnv(); env != nil {
		return env
	}
	return slurmJobEnv()
}

// runSubmit executes a submission binary from dir and returns its combined output.
func runSubmit(ctx context.Context, bin string, args []string, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// getEnvInt reads an environment variable and parses it as a positive int.
// Returns 0 if unset, empty, or not a valid positive integer.
func getEnvInt(key string) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// firstEnvInt returns the first positive integer among keys.
func firstEnvInt(keys ...string) int {
	for _, k := range keys {
		if n := getEnvInt(k); n > 0 {
			return n
		}
	}
	return 0
}
