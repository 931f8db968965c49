package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// SlurmScheduler implements the Scheduler interface for SLURM
type SlurmScheduler struct {
	sbatchBin string
	jobIDRe   *regexp.Regexp
}

// NewSlurmScheduler creates a new SLURM scheduler instance using sbatch from PATH
func NewSlurmScheduler() (*SlurmScheduler, error) {
	return newSlurmSchedulerWithBinary("")
}

// NewSlurmSchedulerWithBinary creates a SLURM scheduler using an explicit sbatch path
func NewSlurmSchedulerWithBinary(sbatchBin string) (*SlurmScheduler, error) {
	return newSlurmSchedulerWithBinary(sbatchBin)
}

func newSlurmSchedulerWithBinary(sbatchBin string) (*SlurmScheduler, error) {
	binPath, err := resolveBinary(sbatchBin, "sbatch")
	if err != nil {
		return nil, err
	}

	return &SlurmScheduler{
		sbatchBin: binPath,
		jobIDRe:   regexp.MustCompile(`Submitted batch job (\d+)`),
	}, nil
}

// IsAvailable checks if SLURM is available and we're not inside a SLURM job
func (s *SlurmScheduler) IsAvailable() bool {
	if s.sbatchBin == "" {
		return false
	}
	_, inJob := os.LookupEnv("SLURM_JOB_ID")
	return !inJob
}

// GetInfo returns information about the SLURM scheduler
func (s *SlurmScheduler) GetInfo() *SchedulerInfo {
	_, inJob := os.LookupEnv("SLURM_JOB_ID")

	info := &SchedulerInfo{
		Type:      string(SchedulerSLURM),
		Binary:    s.sbatchBin,
		InJob:     inJob,
		Available: s.IsAvailable(),
	}

	if s.sbatchBin != "" {
		if version, err := s.getSlurmVersion(); err == nil {
			info.Version = version
		}
	}

	return info
}

// getSlurmVersion attempts to get the SLURM version
func (s *SlurmScheduler) getSlurmVersion() (string, error) {
	output, err := exec.Command(s.sbatchBin, "--version").Output()
	if err != nil {
		return "", err
	}

	// Parse version from output like "slurm 23.02.6"
	versionStr := strings.TrimSpace(string(output))
	parts := strings.Fields(versionStr)
	if len(parts) >= 2 {
		return parts[1], nil
	}

	return versionStr, nil
}

// SubmitArgs builds: --job-name --partition --nodes --ntasks-per-node --mem script
func (s *SlurmScheduler) SubmitArgs(req *JobRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	args := []string{"--job-name=" + req.Name}
	if req.Queue != "" {
		args = append(args, "--partition="+req.Queue)
	}
	args = append(args,
		fmt.Sprintf("--nodes=%d", req.Nodes),
		fmt.Sprintf("--ntasks-per-node=%d", req.Cores),
		fmt.Sprintf("--mem=%dM", req.MemMB),
		req.Script,
	)
	return args, nil
}

// Submit submits a SLURM job from req.Dir
func (s *SlurmScheduler) Submit(ctx context.Context, req *JobRequest) (string, error) {
	args, err := s.SubmitArgs(req)
	if err != nil {
		return "", err
	}

	output, err := runSubmit(ctx, s.sbatchBin, args, req.Dir)
	if err != nil {
		return "", NewSubmissionError(string(SchedulerSLURM), req.Name, output, err)
	}

	matches := s.jobIDRe.FindStringSubmatch(output)
	if len(matches) < 2 {
		return "", NewSubmissionError(string(SchedulerSLURM), req.Name, output, ErrJobIDParseFailed)
	}

	return matches[1], nil
}

// GetJobEnv reads the running job from SLURM environment variables.
func (s *SlurmScheduler) GetJobEnv() *JobEnv {
	return slurmJobEnv()
}

func slurmJobEnv() *JobEnv {
	jobID, ok := os.LookupEnv("SLURM_JOB_ID")
	if !ok {
		return nil
	}
	return &JobEnv{
		Type:      SchedulerSLURM,
		JobID:     jobID,
		SubmitDir: os.Getenv("SLURM_SUBMIT_DIR"),
		NodeList:  os.Getenv("SLURM_JOB_NODELIST"),
		Ncpus:     firstEnvInt("SLURM_NTASKS_PER_NODE", "SLURM_CPUS_ON_NODE"),
	}
}

// ExpandNodeList expands a compact SLURM host list such as
// "node[01-03,07],gpu1" into individual host names.
func ExpandNodeList(list string) ([]string, error) {
	var hosts []string
	for _, item := range splitTopLevel(list) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		open := strings.IndexByte(item, '[')
		if open < 0 {
			hosts = append(hosts, item)
			continue
		}
		closeIdx := strings.IndexByte(item, ']')
		if closeIdx < open {
			return nil, fmt.Errorf("malformed node list %q", list)
		}
		prefix, suffix := item[:open], item[closeIdx+1:]
		for _, r := range strings.Split(item[open+1:closeIdx], ",") {
			lo, hi, found := strings.Cut(r, "-")
			if !found {
				hosts = append(hosts, prefix+lo+suffix)
				continue
			}
			var a, b int
			if _, err := fmt.Sscanf(lo, "%d", &a); err != nil {
				return nil, fmt.Errorf("malformed range %q in node list", r)
			}
			if _, err := fmt.Sscanf(hi, "%d", &b); err != nil || b < a {
				return nil, fmt.Errorf("malformed range %q in node list", r)
			}
			for n := a; n <= b; n++ {
				hosts = append(hosts, fmt.Sprintf("%s%0*d%s", prefix, len(lo), n, suffix))
			}
		}
	}
	return hosts, nil
}

// splitTopLevel splits on commas that are not inside brackets.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
