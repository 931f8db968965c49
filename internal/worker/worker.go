package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/sirupsen/logrus"
)

// State is a milestone reached by a job.
type State string

const (
	StateStaged        State = "STAGED"
	StateConverted     State = "CONVERTED"
	StateStage1Run     State = "STAGE1_RUN"
	StateConverged     State = "CONVERGED"
	StateNotConverged  State = "NOT_CONVERGED"
	StateStages2to4Run State = "STAGES_2_4_RUN"
	StateSkipped       State = "SKIPPED"
	StateTimed         State = "TIMED"
	StateCopiedBack    State = "COPIED_BACK"
	StateCleaned       State = "CLEANED"
)

const (
	HostsFile   = "hosts_file"
	RuntimeFile = "runtime"
)

// Report is the outcome of one worker run.
type Report struct {
	Scratch    string
	States     []State
	ConvertErr error
	Stages     []StageResult
	Converged  bool
	Runtime    time.Duration
}

// Reached reports whether s is among the recorded states.
func (r *Report) Reached(s State) bool {
	for _, st := range r.States {
		if st == s {
			return true
		}
	}
	return false
}

func (r *Report) mark(s State) {
	r.States = append(r.States, s)
}

// Worker runs the calculation pipeline for one conformer on a compute node.
type Worker struct {
	Config *Config
	Runner Runner
	Syncer Syncer
	Log    *logrus.Entry
	Now    func() time.Time
}

// New wires a worker with the go-execute runner and rsync transfers.
func New(cfg *Config, log *logrus.Logger) *Worker {
	runner := ExecRunner{}
	return &Worker{
		Config: cfg,
		Runner: runner,
		Syncer: RsyncSyncer{Bin: cfg.Tools.Rsync, Runner: runner},
		Log:    log.WithField("job", cfg.JobID),
		Now:    time.Now,
	}
}

// NewLogger builds the job logger. Output goes to the scheduler-captured
// stream, with full timestamps since job logs are read long after the fact.
func NewLogger(out io.Writer, debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	log.SetLevel(logrus.InfoLevel)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// Run executes the whole job. Errors returned here are fatal to the job;
// calculation failures are only recorded in the report. The scratch
// directory is removed on the normal path only and left in place otherwise.
func (w *Worker) Run(ctx context.Context) (*Report, error) {
	cfg := w.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if w.Log == nil {
		w.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	if utils.SamePath(cfg.WorkDir, cfg.Home) {
		return nil, fmt.Errorf("%w: %s", ErrHomeWorkDir, cfg.WorkDir)
	}

	scratch := cfg.ScratchDir()
	if err := os.MkdirAll(scratch, utils.PermDir); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrScratch, scratch, err)
	}
	report := &Report{Scratch: scratch}
	w.Log.WithField("scratch", scratch).Infof("starting in %s on %d cores", cfg.WorkDir, cfg.Cores)

	if err := writeHosts(filepath.Join(cfg.WorkDir, HostsFile), cfg.Hosts); err != nil {
		return report, err
	}

	if err := w.Syncer.Sync(ctx, StageInSpec(cfg.WorkDir, scratch, cfg.BwLimitKB, cfg.ChargeFiles)); err != nil {
		return report, fmt.Errorf("stage-in: %w", err)
	}
	report.mark(StateStaged)

	se := stageEnv{scratch: scratch, env: cfg.ChildEnv(filepath.Join(scratch, HostsFile))}
	start := w.Now()

	if err := w.convert(ctx, se); err != nil {
		report.ConvertErr = err
		w.Log.WithError(err).Error("structure conversion failed")
	}
	report.mark(StateConverted)

	optLog := w.Log.WithField("stage", StageOpt)
	opt, converged := w.optimize(ctx, se)
	report.Stages = append(report.Stages, opt)
	report.Converged = converged
	report.mark(StateStage1Run)
	if opt.Err != nil {
		optLog.WithError(opt.Err).Warn("optimization step failed")
	}

	if converged {
		report.mark(StateConverged)
		optLog.Info("geometry optimization converged")
		report.Stages = append(report.Stages, w.singlePoints(ctx, se)...)
		report.mark(StateStages2to4Run)
	} else {
		report.mark(StateNotConverged)
		optLog.Warn("geometry optimization did not converge, skipping single points")
		for _, name := range []string{StageTZ, StageGP3, StageGFN2} {
			report.Stages = append(report.Stages, StageResult{Name: name, Skipped: true})
		}
		report.mark(StateSkipped)
	}

	report.Runtime = w.Now().Sub(start)
	runtime := utils.FormatRuntime(report.Runtime)
	// scratch gets a copy too, so copy-back can only bring the fresh record
	for _, dir := range []string{cfg.WorkDir, scratch} {
		if err := os.WriteFile(filepath.Join(dir, RuntimeFile), []byte(runtime+"\n"), utils.PermFile); err != nil {
			return report, fmt.Errorf("writing runtime: %w", err)
		}
	}
	report.mark(StateTimed)
	w.Log.Infof("calculations took %s", runtime)

	if err := w.copyBack(ctx, scratch); err != nil {
		w.Log.WithError(err).Errorf("copy-back failed, results remain in %s", scratch)
		return report, err
	}
	report.mark(StateCopiedBack)

	if err := os.RemoveAll(scratch); err != nil {
		return report, fmt.Errorf("removing scratch: %w", err)
	}
	report.mark(StateCleaned)
	w.Log.Info("done")

	return report, nil
}

func (w *Worker) copyBack(ctx context.Context, scratch string) error {
	cfg := w.Config
	if err := w.Syncer.Sync(ctx, CopyBackSpec(scratch, cfg.WorkDir, cfg.MaxCopySize)); err != nil {
		return fmt.Errorf("copy-back: %w", err)
	}
	for _, marker := range cfg.FreeEnergyMarkers {
		copied, err := utils.CopyIfExists(filepath.Join(scratch, marker), filepath.Join(cfg.WorkDir, marker))
		if err != nil {
			return fmt.Errorf("copying %s: %w", marker, err)
		}
		if copied {
			w.Log.Debugf("copied %s", marker)
		}
	}
	if len(cfg.RestartFiles) == 0 {
		return nil
	}
	if err := w.Syncer.Sync(ctx, RestartSpec(scratch, cfg.WorkDir, cfg.RestartFiles)); err != nil {
		return fmt.Errorf("copying restart files: %w", err)
	}
	return nil
}

func writeHosts(path string, hosts []string) error {
	content := strings.Join(hosts, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), utils.PermFile); err != nil {
		return fmt.Errorf("writing %s: %w", HostsFile, err)
	}
	return nil
}
