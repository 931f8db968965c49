package driver

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/manifest"
	"github.com/getrandompcmol/qmbatch/internal/scheduler"
)

var testTemplate = []byte("#!/bin/bash\nexec qmbatch worker\n")

// fakeScheduler records requests instead of calling qsub/sbatch.
type fakeScheduler struct {
	requests []scheduler.JobRequest
	failOn   string
	nextID   int
}

func (f *fakeScheduler) Submit(ctx context.Context, req *scheduler.JobRequest) (string, error) {
	if req.Name == f.failOn {
		return "", scheduler.NewSubmissionError("PBS", req.Name, "qsub: Bad UID", errors.New("exit status 1"))
	}
	f.requests = append(f.requests, *req)
	f.nextID++
	return strings.Repeat("1", f.nextID), nil
}

// recordingSleep records every delay it was asked to wait.
type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return ctx.Err()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestDriver(t *testing.T, root string, class config.QueueClass) (*Driver, *fakeScheduler, *recordingSleep) {
	t.Helper()
	sched := &fakeScheduler{}
	sleep := &recordingSleep{}
	return &Driver{
		Root:              root,
		Manifest:          "compounds.conformers.txt",
		ConformerManifest: "index.conformers",
		Template:          testTemplate,
		TemplateName:      "job_tm771.txt",
		Queue:             class,
		Cores:             4,
		Delay:             3 * time.Second,
		ErrorLog:          filepath.Join(root, "errors.log"),
		Sched:             sched,
		Sleep:             sleep.Sleep,
	}, sched, sleep
}

var batch = config.QueueClass{Name: "batch", Queue: "batch", MemPerCoreMB: 4096}

func errorLogLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestRunSingleConformer(t *testing.T) {
	root := t.TempDir()
	structure := "3\nwater\nO 0 0 0\nH 0 0 1\nH 0 1 0\n"
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\n")
	writeFile(t, filepath.Join(root, "mol001", "confA.xyz"), structure)

	d, sched, sleep := newTestDriver(t, root, batch)
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sched.requests) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(sched.requests))
	}
	req := sched.requests[0]
	if req.Name != "mol001_confA" || req.Queue != "batch" || req.Cores != 4 || req.Nodes != 1 {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Dir != filepath.Join(root, "mol001", "confA") || req.Script != "job_tm771.txt" {
		t.Errorf("request should run job_tm771.txt from the working directory: %+v", req)
	}

	staged, err := os.ReadFile(filepath.Join(root, "mol001", "confA", "struc.xyz"))
	if err != nil || string(staged) != structure {
		t.Errorf("struc.xyz = %q, %v; want byte-identical copy", staged, err)
	}
	tpl, err := os.ReadFile(filepath.Join(root, "mol001", "confA", "job_tm771.txt"))
	if err != nil || !bytes.Equal(tpl, testTemplate) {
		t.Errorf("job template not copied unchanged: %q, %v", tpl, err)
	}

	if len(sleep.calls) != 1 || sleep.calls[0] != 3*time.Second {
		t.Errorf("sleep calls = %v, want [3s]", sleep.calls)
	}
	if lines := errorLogLines(t, d.ErrorLog); lines != nil {
		t.Errorf("expected no error log, got %v", lines)
	}
	if report.Resolved != 1 || report.Staged != 1 || len(report.Submitted) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunCommentOnlyManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "# mol001\n\n   # mol002\n")

	d, sched, sleep := newTestDriver(t, root, batch)
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sched.requests) != 0 || len(sleep.calls) != 0 {
		t.Errorf("expected no submissions and no sleeps, got %d / %d", len(sched.requests), len(sleep.calls))
	}
}

func TestRunMissingStructureStopsRun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\nmol002\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\nconfB\nconfC\n")
	writeFile(t, filepath.Join(root, "mol001", "confA.xyz"), "1\n\nH 0 0 0\n")
	// confB.xyz missing
	writeFile(t, filepath.Join(root, "mol001", "confC.xyz"), "1\n\nH 0 0 0\n")
	writeFile(t, filepath.Join(root, "mol002", "index.conformers"), "x\n")
	writeFile(t, filepath.Join(root, "mol002", "x.xyz"), "1\n\nH 0 0 0\n")

	d, sched, _ := newTestDriver(t, root, batch)
	report, err := d.Run(context.Background())

	var me *MissingStructureError
	if !errors.As(err, &me) {
		t.Fatalf("expected MissingStructureError, got %v", err)
	}
	if me.Molecule != "mol001" || me.Conformer != "confB" {
		t.Errorf("error = %+v", me)
	}
	if len(sched.requests) != 1 || sched.requests[0].Name != "mol001_confA" {
		t.Errorf("only mol001_confA should be submitted, got %v", sched.requests)
	}
	if len(report.Submitted) != 1 {
		t.Errorf("partial report should list the earlier submission: %+v", report)
	}

	lines := errorLogLines(t, d.ErrorLog)
	if len(lines) != 1 || lines[0] != "NO structure file present in mol001!" {
		t.Errorf("error log = %q, want exactly one line", lines)
	}
	if _, err := os.Stat(filepath.Join(root, "mol001", "confB", "struc.xyz")); !os.IsNotExist(err) {
		t.Error("missing conformer should not be staged")
	}
}

func TestRunPreflight(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\nconfB\n")
	writeFile(t, filepath.Join(root, "mol001", "confA.xyz"), "1\n\nH 0 0 0\n")

	d, sched, _ := newTestDriver(t, root, batch)
	d.Preflight = true
	_, err := d.Run(context.Background())
	if !IsMissingStructure(err) {
		t.Fatalf("expected missing structure, got %v", err)
	}
	if len(sched.requests) != 0 {
		t.Errorf("preflight must stop before the first submission, got %v", sched.requests)
	}
	if lines := errorLogLines(t, d.ErrorLog); len(lines) != 1 {
		t.Errorf("error log = %q, want one line", lines)
	}
}

func TestRunManifestErrorBeforeSubmission(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\nmol002\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\n")
	writeFile(t, filepath.Join(root, "mol001", "confA.xyz"), "1\n\nH 0 0 0\n")
	// mol002 directory missing

	d, sched, _ := newTestDriver(t, root, batch)
	_, err := d.Run(context.Background())
	var me *manifest.Error
	if !errors.As(err, &me) || me.Kind != manifest.KindMissingMolecule {
		t.Fatalf("expected missing molecule error, got %v", err)
	}
	if len(sched.requests) != 0 {
		t.Errorf("no job may be submitted on a manifest error, got %v", sched.requests)
	}
}

func TestMemoryPerQueueClass(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\n")
	writeFile(t, filepath.Join(root, "mol001", "confA.xyz"), "1\n\nH 0 0 0\n")

	for name, class := range config.DefaultQueueClasses() {
		for _, cores := range []int{1, 4, 16} {
			d, sched, _ := newTestDriver(t, root, class)
			d.Cores = cores
			if _, err := d.Run(context.Background()); err != nil {
				t.Fatalf("%s/%d: %v", name, cores, err)
			}
			got := sched.requests[0].MemMB
			want := int64(cores) * class.MemPerCoreMB
			if got != want {
				t.Errorf("%s with %d cores: MemMB = %d, want %d", name, cores, got, want)
			}
			if sched.requests[0].Queue != class.Queue {
				t.Errorf("%s: queue = %q", name, sched.requests[0].Queue)
			}
		}
	}
}

func TestCleanRemovesStaleArtifacts(t *testing.T) {
	root := t.TempDir()
	wd := filepath.Join(root, "mol001", "confA")
	stale := []string{
		"TZ/energy", "gp3/energy", "gfn2/gradient", "wB97X-3c/control",
		"job_tm771.txt", "coord", "struc.xyz", "hosts_file",
		"mol001_confA.o4711", "mol001_confA.e4711", "mol001_confA.log",
		"mctc-convert.out", "mctc-convert.err", "runtime", "slurm-99.out",
	}
	for _, s := range stale {
		writeFile(t, filepath.Join(wd, s), "old")
	}
	writeFile(t, filepath.Join(wd, "keep.me"), "user data")
	writeFile(t, filepath.Join(wd, ".CHRG"), "0")

	d, _, _ := newTestDriver(t, root, batch)
	e := manifest.Entry{Molecule: "mol001", Conformer: "confA", WorkDir: wd}
	if err := d.Clean(e); err != nil {
		t.Fatalf("Clean: %v", err)
	}

	for _, s := range stale {
		top := strings.Split(s, "/")[0]
		if _, err := os.Stat(filepath.Join(wd, top)); !os.IsNotExist(err) {
			t.Errorf("%s still present after cleanup", top)
		}
	}
	for _, keep := range []string{"keep.me", ".CHRG"} {
		if _, err := os.Stat(filepath.Join(wd, keep)); err != nil {
			t.Errorf("%s should survive cleanup: %v", keep, err)
		}
	}

	missing := manifest.Entry{Molecule: "m", Conformer: "c", WorkDir: filepath.Join(root, "nope")}
	if err := d.Clean(missing); err != nil {
		t.Errorf("Clean of missing dir = %v, want nil", err)
	}
}

func TestRunRestagesAfterCleanup(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\n")
	writeFile(t, filepath.Join(root, "mol001", "confA.xyz"), "new\n")
	wd := filepath.Join(root, "mol001", "confA")
	writeFile(t, filepath.Join(wd, "struc.xyz"), "old\n")
	writeFile(t, filepath.Join(wd, "TZ", "energy"), "old")

	d, _, _ := newTestDriver(t, root, batch)
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(filepath.Join(wd, "struc.xyz")); string(data) != "new\n" {
		t.Errorf("struc.xyz = %q, want restaged copy", data)
	}
	if _, err := os.Stat(filepath.Join(wd, "TZ")); !os.IsNotExist(err) {
		t.Error("stale TZ directory survived a rerun")
	}
}

func TestRunDryRun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\nconfB\n")
	writeFile(t, filepath.Join(root, "mol001", "confA.xyz"), "a")
	writeFile(t, filepath.Join(root, "mol001", "confB.xyz"), "b")

	d, sched, sleep := newTestDriver(t, root, batch)
	d.DryRun = true
	d.Sched = nil
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sched.requests) != 0 || len(sleep.calls) != 0 {
		t.Error("dry run must not submit or sleep")
	}
	if report.Staged != 2 {
		t.Errorf("Staged = %d, want 2", report.Staged)
	}
	if _, err := os.Stat(filepath.Join(root, "mol001", "confB", "struc.xyz")); err != nil {
		t.Errorf("dry run should stage: %v", err)
	}
}

func TestRunSubmissionFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\nconfB\nconfC\n")
	for _, c := range []string{"confA", "confB", "confC"} {
		writeFile(t, filepath.Join(root, "mol001", c+".xyz"), c)
	}

	d, sched, _ := newTestDriver(t, root, batch)
	sched.failOn = "mol001_confB"
	_, err := d.Run(context.Background())
	if !scheduler.IsSubmissionError(err) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if len(sched.requests) != 1 {
		t.Errorf("run must stop at the failing submission, got %d requests", len(sched.requests))
	}
}

func TestRunCancelledDuringDelay(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\nconfB\n")
	writeFile(t, filepath.Join(root, "mol001", "confA.xyz"), "a")
	writeFile(t, filepath.Join(root, "mol001", "confB.xyz"), "b")

	d, sched, _ := newTestDriver(t, root, batch)
	ctx, cancel := context.WithCancel(context.Background())
	d.Sleep = func(ctx context.Context, dur time.Duration) error {
		cancel()
		return sleepContext(ctx, dur)
	}

	_, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(sched.requests) != 1 {
		t.Errorf("expected 1 submission before cancellation, got %d", len(sched.requests))
	}
}

func TestRunWritesLedger(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compounds.conformers.txt"), "mol001\n")
	writeFile(t, filepath.Join(root, "mol001", "index.conformers"), "confA\n")
	writeFile(t, filepath.Join(root, "mol001", "confA.xyz"), "a")

	ledger, err := OpenLedger(filepath.Join(root, "jobs.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	d, _, _ := newTestDriver(t, root, batch)
	d.Ledger = ledger
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenLedger(filepath.Join(root, "jobs.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	e, ok := reopened.Get("mol001_confA")
	if !ok {
		t.Fatalf("ledger entries = %v", reopened.Names())
	}
	if e.JobID != "1" || e.Queue != "batch" || e.MemMB != 16384 {
		t.Errorf("ledger entry = %+v", e)
	}
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name   string
		mutate func(d *Driver)
	}{
		{"no root", func(d *Driver) { d.Root = "" }},
		{"zero cores", func(d *Driver) { d.Cores = 0 }},
		{"no memory", func(d *Driver) { d.Queue.MemPerCoreMB = 0 }},
		{"no template", func(d *Driver) { d.Template = nil }},
		{"no scheduler", func(d *Driver) { d.Sched = nil }},
		{"negative delay", func(d *Driver) { d.Delay = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, _ := newTestDriver(t, root, batch)
			tt.mutate(d)
			if err := d.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
