package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"
)

// newTestSlurmScheduler creates a SLURM scheduler instance for testing
// without requiring sbatch to be installed
func newTestSlurmScheduler(bin string) *SlurmScheduler {
	return &SlurmScheduler{
		sbatchBin: bin,
		jobIDRe:   regexp.MustCompile(`Submitted batch job (\d+)`),
	}
}

func samePathForTest(t *testing.T, a, b string) bool {
	t.Helper()
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		ra = a
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		rb = b
	}
	return filepath.Clean(ra) == filepath.Clean(rb)
}

func readFileIfExists(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func TestSlurmSubmitArgs(t *testing.T) {
	slurm := newTestSlurmScheduler("/usr/bin/sbatch")

	tests := []struct {
		name string
		req  JobRequest
		want []string
	}{
		{
			name: "batch class",
			req:  JobRequest{Name: "mol001_confA", Queue: "batch", Nodes: 1, Cores: 4, MemMB: 16384, Script: "job_tm771.txt"},
			want: []string{"--job-name=mol001_confA", "--partition=batch", "--nodes=1", "--ntasks-per-node=4", "--mem=16384M", "job_tm771.txt"},
		},
		{
			name: "no partition",
			req:  JobRequest{Name: "m_c", Nodes: 1, Cores: 1, MemMB: 4096, Script: "/abs/job.sh"},
			want: []string{"--job-name=m_c", "--nodes=1", "--ntasks-per-node=1", "--mem=4096M", "/abs/job.sh"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := slurm.SubmitArgs(&tt.req)
			if err != nil {
				t.Fatalf("SubmitArgs failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SubmitArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlurmSubmit(t *testing.T) {
	bin, argsFile := writeFakeBinary(t, "sbatch", "Submitted batch job 123456", 0)
	slurm := newTestSlurmScheduler(bin)
	workDir := t.TempDir()

	req := &JobRequest{Name: "mol001_confA", Queue: "fat", Nodes: 1, Cores: 8, MemMB: 131072, Script: "job_tm771.txt", Dir: workDir}
	jobID, err := slurm.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if jobID != "123456" {
		t.Errorf("jobID = %q, want 123456", jobID)
	}

	dir, args := readRecorded(t, argsFile)
	if !samePathForTest(t, dir, workDir) {
		t.Errorf("sbatch ran in %s, want %s", dir, workDir)
	}
	if args[0] != "--job-name=mol001_confA" {
		t.Errorf("first argument = %q", args[0])
	}
}

func TestSlurmSubmitParseFailure(t *testing.T) {
	bin, _ := writeFakeBinary(t, "sbatch", "sbatch: queued somewhere", 0)
	slurm := newTestSlurmScheduler(bin)
	req := &JobRequest{Name: "m_c", Nodes: 1, Cores: 1, MemMB: 1, Script: "job", Dir: t.TempDir()}

	_, err := slurm.Submit(context.Background(), req)
	if !errors.Is(err, ErrJobIDParseFailed) {
		t.Fatalf("expected ErrJobIDParseFailed, got %v", err)
	}
	if !IsSubmissionError(err) {
		t.Errorf("expected SubmissionError wrapper, got %T", err)
	}
}

func TestSlurmSubmitCancelled(t *testing.T) {
	bin, _ := writeFakeBinary(t, "sbatch", "Submitted batch job 1", 0)
	slurm := newTestSlurmScheduler(bin)
	req := &JobRequest{Name: "m_c", Nodes: 1, Cores: 1, MemMB: 1, Script: "job", Dir: t.TempDir()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := slurm.Submit(ctx, req); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
