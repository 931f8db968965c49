package scheduler

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

// writeFakeBinary writes an executable shell script that records its
// arguments and working directory, then prints output.
func writeFakeBinary(t *testing.T, name, output string, exitCode int) (bin, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	bin = filepath.Join(dir, name)
	argsFile = filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\n" +
		"pwd > " + argsFile + "\n" +
		"for a in \"$@\"; do echo \"$a\" >> " + argsFile + "; done\n" +
		"echo '" + output + "'\n" +
		"exit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return bin, argsFile
}

func readRecorded(t *testing.T, path string) (dir string, args []string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("fake scheduler did not run: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	return lines[0], lines[1:]
}

func TestJobRequestValidate(t *testing.T) {
	base := JobRequest{Name: "mol001_confA", Queue: "batch", Nodes: 1, Cores: 4, MemMB: 16384, Script: "job_tm771.txt"}

	tests := []struct {
		name      string
		mutate    func(r *JobRequest)
		wantErr   bool
		wantValid bool // error is a ValidationError
	}{
		{"valid", func(r *JobRequest) {}, false, false},
		{"empty name", func(r *JobRequest) { r.Name = "" }, true, false},
		{"no script", func(r *JobRequest) { r.Script = "" }, true, false},
		{"zero nodes", func(r *JobRequest) { r.Nodes = 0 }, true, true},
		{"zero cores", func(r *JobRequest) { r.Cores = 0 }, true, true},
		{"negative memory", func(r *JobRequest) { r.MemMB = -1 }, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			err := req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && IsValidationError(err) != tt.wantValid {
				t.Errorf("IsValidationError(%v) = %v, want %v", err, !tt.wantValid, tt.wantValid)
			}
			if err != nil && !tt.wantValid && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    SchedulerType
		wantErr bool
	}{
		{"", SchedulerUnknown, false},
		{"slurm", SchedulerSLURM, false},
		{" PBS ", SchedulerPBS, false},
		{"torque", SchedulerPBS, false},
		{"lsf", SchedulerUnknown, true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectSchedulerWithBinary(t *testing.T) {
	qsub, _ := writeFakeBinary(t, "qsub", "1.server", 0)
	sbatch, _ := writeFakeBinary(t, "sbatch", "Submitted batch job 1", 0)

	tests := []struct {
		name   string
		bin    string
		forced SchedulerType
		want   string
	}{
		{"qsub by name", qsub, SchedulerUnknown, "PBS"},
		{"sbatch by name", sbatch, SchedulerUnknown, "SLURM"},
		{"forced PBS overrides name", sbatch, SchedulerPBS, "PBS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := DetectSchedulerWithBinary(tt.bin, tt.forced)
			if err != nil {
				t.Fatalf("DetectSchedulerWithBinary: %v", err)
			}
			if got := s.GetInfo().Type; got != tt.want {
				t.Errorf("type = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := DetectSchedulerWithBinary(filepath.Join(t.TempDir(), "missing"), SchedulerUnknown); !errors.Is(err, ErrSchedulerNotFound) {
		t.Errorf("missing binary: expected ErrSchedulerNotFound, got %v", err)
	}
}

func TestCurrentJobEnv(t *testing.T) {
	t.Setenv("PBS_JOBID", "")
	os.Unsetenv("PBS_JOBID")
	t.Setenv("SLURM_JOB_ID", "")
	os.Unsetenv("SLURM_JOB_ID")

	if env := CurrentJobEnv(); env != nil {
		t.Fatalf("expected nil outside a job, got %+v", env)
	}

	t.Setenv("SLURM_JOB_ID", "777")
	t.Setenv("SLURM_SUBMIT_DIR", "/shared/run/mol001/confA")
	t.Setenv("SLURM_JOB_NODELIST", "n[01-02]")
	t.Setenv("SLURM_NTASKS_PER_NODE", "")
	t.Setenv("SLURM_CPUS_ON_NODE", "8")
	env := CurrentJobEnv()
	if env == nil || env.Type != SchedulerSLURM {
		t.Fatalf("expected SLURM job env, got %+v", env)
	}
	if env.JobID != "777" || env.SubmitDir != "/shared/run/mol001/confA" || env.Ncpus != 8 {
		t.Errorf("unexpected SLURM env %+v", env)
	}

	t.Setenv("PBS_JOBID", "42.server")
	t.Setenv("PBS_O_WORKDIR", "/shared/run/mol002/confB")
	t.Setenv("PBS_NODEFILE", "/var/spool/nodes")
	t.Setenv("PBS_NUM_PPN", "16")
	env = CurrentJobEnv()
	if env == nil || env.Type != SchedulerPBS {
		t.Fatalf("expected PBS to take precedence, got %+v", env)
	}
	if env.NodeFile != "/var/spool/nodes" || env.Ncpus != 16 {
		t.Errorf("unexpected PBS env %+v", env)
	}
	if !IsInsideJob() {
		t.Error("IsInsideJob() = false inside a job")
	}
}

func TestExpandNodeList(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"node1", []string{"node1"}, false},
		{"node[01-03]", []string{"node01", "node02", "node03"}, false},
		{"a[1,3-4],b", []string{"a1", "a3", "a4", "b"}, false},
		{"n[5-3]", nil, true},
		{"", nil, false},
	}
	for _, tt := range tests {
		got, err := ExpandNodeList(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ExpandNodeList(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExpandNodeList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRequireActive(t *testing.T) {
	defer ClearActiveScheduler()
	t.Setenv("SLURM_JOB_ID", "")
	os.Unsetenv("SLURM_JOB_ID")
	t.Setenv("PBS_JOBID", "")
	os.Unsetenv("PBS_JOBID")

	ClearActiveScheduler()
	if _, err := RequireActive(); !errors.Is(err, ErrSchedulerNotFound) {
		t.Errorf("expected ErrSchedulerNotFound, got %v", err)
	}

	SetActiveScheduler(newTestSlurmScheduler("/usr/bin/sbatch"))
	if _, err := RequireActive(); err != nil {
		t.Errorf("RequireActive() = %v, want nil", err)
	}

	t.Setenv("SLURM_JOB_ID", "1")
	if _, err := RequireActive(); !errors.Is(err, ErrAlreadyInJob) {
		t.Errorf("expected ErrAlreadyInJob, got %v", err)
	}
}
