package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getrandompcmol/qmbatch/internal/utils"
)

// Stage directories, in run order.
const (
	StageOpt  = "wB97X-3c"
	StageTZ   = "TZ"
	StageGP3  = "gp3"
	StageGFN2 = "gfn2"
)

const (
	structureFile   = "struc.xyz"
	coordFile       = "coord"
	controlFile     = "control"
	convergedMarker = "GEO_OPT_CONVERGED"
)

// StageResult records one stage outcome.
type StageResult struct {
	Name    string
	Dir     string
	Skipped bool
	Err     error
}

// OK reports whether the stage ran and all its programs succeeded.
func (r StageResult) OK() bool {
	return !r.Skipped && r.Err == nil
}

// stageEnv is shared by every program started in one job.
type stageEnv struct {
	scratch string
	env     []string
}

func (w *Worker) convert(ctx context.Context, se stageEnv) error {
	cmd := Command{
		Name:   w.Config.Tools.MctcConvert,
		Args:   []string{structureFile, coordFile, "--normalize"},
		Dir:    se.scratch,
		Env:    se.env,
		Stdout: "mctc-convert.out",
		Stderr: "mctc-convert.err",
	}
	_, err := w.Runner.Run(ctx, cmd)
	return err
}

// optimize runs the wB97X-3c geometry optimization and reports whether
// jobex left the convergence marker.
func (w *Worker) optimize(ctx context.Context, se stageEnv) (StageResult, bool) {
	dir := filepath.Join(se.scratch, StageOpt)
	res := StageResult{Name: StageOpt, Dir: dir}

	if err := w.prepareStageDir(se.scratch, se.scratch, dir); err != nil {
		res.Err = err
		return res, false
	}

	steps := []Command{
		{Name: w.Config.Tools.Cefine, Args: w.Config.CefineArgs, Stdout: "cefine.out"},
		{Name: w.Config.Tools.Jobex, Args: w.Config.JobexArgs, Stdout: "jobex.out", Stderr: "jobex.err"},
	}
	for _, cmd := range steps {
		cmd.Dir, cmd.Env = dir, se.env
		if _, err := w.Runner.Run(ctx, cmd); err != nil {
			res.Err = err
			break
		}
	}

	return res, utils.FileExists(filepath.Join(dir, convergedMarker))
}

// singlePoints runs TZ, gp3 and gfn2 on the optimized geometry. Each stage
// is independent; failures are recorded and the next stage still runs.
func (w *Worker) singlePoints(ctx context.Context, se stageEnv) []StageResult {
	optDir := filepath.Join(se.scratch, StageOpt)
	cfg := w.Config

	stages := []struct {
		name  string
		steps []Command
		edit  func(dir string) error
	}{
		{
			name: StageTZ,
			steps: []Command{
				{Name: cfg.Tools.Cefine, Args: cfg.TZCefineArgs, Stdout: "cefine.out"},
				{Name: cfg.Tools.Ridft, Stdout: "ridft.out", Stderr: "ridft.err"},
			},
			edit: func(dir string) error {
				if cfg.DispOverride == "" {
					w.Log.WithField("stage", StageTZ).Info("worker.disp_override not set, keeping the $disp line written by cefine")
					return nil
				}
				return OverrideDisp(filepath.Join(dir, controlFile), cfg.DispOverride)
			},
		},
		{
			name:  StageGP3,
			steps: []Command{{Name: cfg.Tools.Gp3, Args: cfg.Gp3Args, Stdout: "gp3.out", Stderr: "gp3.err"}},
		},
		{
			name:  StageGFN2,
			steps: []Command{{Name: cfg.Tools.Xtb, Args: []string{coordFile, "--gfn", "2", "--grad"}, Stdout: "xtb.out", Stderr: "xtb.err"}},
		},
	}

	results := make([]StageResult, 0, len(stages))
	for _, st := range stages {
		dir := filepath.Join(se.scratch, st.name)
		res := StageResult{Name: st.name, Dir: dir}
		log := w.Log.WithField("stage", st.name)

		if err := ctx.Err(); err != nil {
			res.Skipped, res.Err = true, err
			results = append(results, res)
			continue
		}

		if err := w.prepareStageDir(se.scratch, optDir, dir); err != nil {
			res.Err = err
		}
		for i, cmd := range st.steps {
			if res.Err != nil {
				break
			}
			cmd.Dir, cmd.Env = dir, se.env
			log.Debugf("running %s", cmd)
			if _, err := w.Runner.Run(ctx, cmd); err != nil {
				res.Err = err
				break
			}
			// control is generated by the first step and read by the second
			if i == 0 && st.edit != nil {
				res.Err = st.edit(dir)
			}
		}

		if res.Err != nil {
			log.WithError(res.Err).Warn("stage failed, continuing")
		} else {
			log.Info("stage finished")
		}
		results = append(results, res)
	}
	return results
}

// prepareStageDir creates dir, copies coord from coordSrc and the optional
// charge files from the scratch root into it.
func (w *Worker) prepareStageDir(scratch, coordSrc, dir string) error {
	if err := utils.EnsureDir(dir); err != nil {
		return err
	}
	if err := utils.CopyFile(filepath.Join(coordSrc, coordFile), filepath.Join(dir, coordFile)); err != nil {
		return fmt.Errorf("staging coord for %s: %w", filepath.Base(dir), err)
	}
	for _, name := range w.Config.ChargeFiles {
		if _, err := utils.CopyIfExists(filepath.Join(scratch, name), filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// OverrideDisp replaces the first line of a TURBOMOLE control file that
// starts with $disp by override. Without such a line the override is
// inserted before $end. An empty override leaves the file untouched.
func OverrideDisp(path, override string) error {
	if override == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading control file: %w", err)
	}

	var out bytes.Buffer
	replaced := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case !replaced && strings.HasPrefix(trimmed, "$disp"):
			line = override
			replaced = true
		case !replaced && trimmed == "$end":
			out.WriteString(override + "\n")
			replaced = true
		}
		out.WriteString(line + "\n")
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if !replaced {
		out.WriteString(override + "\n")
	}
	return os.WriteFile(path, out.Bytes(), utils.PermFile)
}
