package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// PbsScheduler implements the Scheduler interface for PBS/Torque
type PbsScheduler struct {
	qsubBin string
	jobIDRe *regexp.Regexp
}

// NewPbsScheduler creates a new PBS scheduler instance using qsub from PATH
func NewPbsScheduler() (*PbsScheduler, error) {
	return newPbsSchedulerWithBinary("")
}

// NewPbsSchedulerWithBinary creates a PBS scheduler using an explicit qsub path
func NewPbsSchedulerWithBinary(qsubBin string) (*PbsScheduler, error) {
	return newPbsSchedulerWithBinary(qsubBin)
}

func newPbsSchedulerWithBinary(qsubBin string) (*PbsScheduler, error) {
	binPath, err := resolveBinary(qsubBin, "qsub")
	if err != nil {
		return nil, err
	}

	return &PbsScheduler{
		qsubBin: binPath,
		jobIDRe: regexp.MustCompile(`^\d+(\.\S+)?$`),
	}, nil
}

// resolveBinary finds name on PATH when explicit is empty, otherwise checks
// that explicit points at a regular file.
func resolveBinary(explicit, name string) (string, error) {
	if explicit == "" {
		binPath, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSchedulerNotFound, err)
		}
		return binPath, nil
	}

	binPath := explicit
	if absPath, err := filepath.Abs(binPath); err == nil {
		binPath = absPath
	}
	info, err := os.Stat(binPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSchedulerNotFound, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrSchedulerNotFound, binPath)
	}
	return binPath, nil
}

// IsAvailable checks if PBS is available and we're not inside a PBS job
func (p *PbsScheduler) IsAvailable() bool {
	if p.qsubBin == "" {
		return false
	}
	_, inJob := os.LookupEnv("PBS_JOBID")
	return !inJob
}

// GetInfo returns information about the PBS scheduler
func (p *PbsScheduler) GetInfo() *SchedulerInfo {
	_, inJob := os.LookupEnv("PBS_JOBID")

	info := &SchedulerInfo{
		Type:      string(SchedulerPBS),
		Binary:    p.qsubBin,
		InJob:     inJob,
		Available: p.IsAvailable(),
	}

	if p.qsubBin != "" {
		if version, err := p.getPbsVersion(); err == nil {
			info.Version = version
		}
	}

	return info
}

// getPbsVersion attempts to get the PBS version
// Torque prints "Version: 6.1.2", PBS Pro prints "pbs_version = 19.1.3".
func (p *PbsScheduler) getPbsVersion() (string, error) {
	output, err := exec.Command(p.qsubBin, "--version").CombinedOutput()
	if err != nil {
		return "", err
	}

	versionStr := strings.TrimSpace(string(output))
	if i := strings.LastIndexAny(versionStr, ":="); i >= 0 {
		versionStr = strings.TrimSpace(versionStr[i+1:])
	}
	return versionStr, nil
}

// SubmitArgs builds: -N name -q queue -l nodes=N:ppn=C -l mem=<MB>mb script
func (p *PbsScheduler) SubmitArgs(req *JobRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	args := []string{"-N", req.Name}
	if req.Queue != "" {
		args = append(args, "-q", req.Queue)
	}
	args = append(args,
		"-l", fmt.Sprintf("nodes=%d:ppn=%d", req.Nodes, req.Cores),
		"-l", fmt.Sprintf("mem=%dmb", req.MemMB),
		req.Script,
	)
	return args, nil
}

// Submit submits a PBS job from req.Dir
func (p *PbsScheduler) Submit(ctx context.Context, req *JobRequest) (string, error) {
	args, err := p.SubmitArgs(req)
	if err != nil {
		return "", err
	}

	output, err := runSubmit(ctx, p.qsubBin, args, req.Dir)
	if err != nil {
		return "", NewSubmissionError(string(SchedulerPBS), req.Name, output, err)
	}

	// qsub prints the full job ID, e.g. "1234.pbs-server"
	jobID := strings.TrimSpace(output)
	if !p.jobIDRe.MatchString(jobID) {
		return "", NewSubmissionError(string(SchedulerPBS), req.Name, output, ErrJobIDParseFailed)
	}

	return jobID, nil
}

// GetJobEnv reads the running job from PBS environment variables.
func (p *PbsScheduler) GetJobEnv() *JobEnv {
	return pbsJobEnv()
}

func pbsJobEnv() *JobEnv {
	jobID, ok := os.LookupEnv("PBS_JOBID")
	if !ok {
		return nil
	}
	return &JobEnv{
		Type:      SchedulerPBS,
		JobID:     jobID,
		SubmitDir: os.Getenv("PBS_O_WORKDIR"),
		NodeFile:  os.Getenv("PBS_NODEFILE"),
		Ncpus:     firstEnvInt("PBS_NUM_PPN", "NCPUS", "PBS_NCPUS"),
	}
}
