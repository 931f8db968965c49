package scheduler

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"
)

func newTestPbsScheduler(bin string) *PbsScheduler {
	return &PbsScheduler{
		qsubBin: bin,
		jobIDRe: regexp.MustCompile(`^\d+(\.\S+)?$`),
	}
}

func TestPbsSubmitArgs(t *testing.T) {
	pbs := newTestPbsScheduler("/usr/bin/qsub")

	req := &JobRequest{Name: "mol001_confA", Queue: "himem", Nodes: 1, Cores: 4, MemMB: 32768, Script: "job_tm771.txt"}
	got, err := pbs.SubmitArgs(req)
	if err != nil {
		t.Fatalf("SubmitArgs failed: %v", err)
	}
	want := []string{"-N", "mol001_confA", "-q", "himem", "-l", "nodes=1:ppn=4", "-l", "mem=32768mb", "job_tm771.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SubmitArgs() = %v, want %v", got, want)
	}

	req.Queue = ""
	got, _ = pbs.SubmitArgs(req)
	for _, a := range got {
		if a == "-q" {
			t.Errorf("empty queue should not emit -q: %v", got)
		}
	}
}

func TestPbsSubmitRunsInWorkDir(t *testing.T) {
	bin, argsFile := writeFakeBinary(t, "qsub", "4711.pbs-server", 0)
	pbs := newTestPbsScheduler(bin)
	workDir := t.TempDir()

	req := &JobRequest{Name: "mol001_confA", Queue: "batch", Nodes: 1, Cores: 2, MemMB: 8192, Script: "job_tm771.txt", Dir: workDir}
	jobID, err := pbs.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if jobID != "4711.pbs-server" {
		t.Errorf("jobID = %q, want 4711.pbs-server", jobID)
	}

	dir, args := readRecorded(t, argsFile)
	if !samePathForTest(t, dir, workDir) {
		t.Errorf("qsub ran in %s, want %s", dir, workDir)
	}
	if args[len(args)-1] != "job_tm771.txt" {
		t.Errorf("script argument = %q, want job_tm771.txt", args[len(args)-1])
	}
}

func TestPbsSubmitErrors(t *testing.T) {
	t.Run("non-zero exit", func(t *testing.T) {
		bin, _ := writeFakeBinary(t, "qsub", "qsub: Unknown queue", 1)
		pbs := newTestPbsScheduler(bin)
		req := &JobRequest{Name: "mol001_confA", Nodes: 1, Cores: 1, MemMB: 1, Script: "job", Dir: t.TempDir()}

		_, err := pbs.Submit(context.Background(), req)
		var se *SubmissionError
		if !errors.As(err, &se) {
			t.Fatalf("expected SubmissionError, got %v", err)
		}
		if se.Scheduler != "PBS" || se.JobName != "mol001_confA" {
			t.Errorf("unexpected error fields: %+v", se)
		}
	})

	t.Run("unparseable job id", func(t *testing.T) {
		bin, _ := writeFakeBinary(t, "qsub", "not a job id", 0)
		pbs := newTestPbsScheduler(bin)
		req := &JobRequest{Name: "x", Nodes: 1, Cores: 1, MemMB: 1, Script: "job", Dir: t.TempDir()}

		_, err := pbs.Submit(context.Background(), req)
		if !errors.Is(err, ErrJobIDParseFailed) {
			t.Fatalf("expected ErrJobIDParseFailed, got %v", err)
		}
	})

	t.Run("invalid request never runs qsub", func(t *testing.T) {
		bin, argsFile := writeFakeBinary(t, "qsub", "1", 0)
		pbs := newTestPbsScheduler(bin)
		req := &JobRequest{Name: "x", Nodes: 1, Cores: 0, MemMB: 1, Script: "job", Dir: t.TempDir()}

		if _, err := pbs.Submit(context.Background(), req); !IsValidationError(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, err := readFileIfExists(argsFile); err == nil {
			t.Error("qsub was executed for an invalid request")
		}
	})
}
