package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/scheduler"
	"github.com/getrandompcmol/qmbatch/internal/worker"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the calculation pipeline inside a batch job",
	Long: `Run the per-conformer pipeline. This is what the job template executes on
the compute node; it is not meant to be called interactively.

The working directory is taken from PBS_O_WORKDIR or SLURM_SUBMIT_DIR
(current directory outside a job). Its contents are staged into
<scratch_root>/<user>.<jobid>, the structure is converted and optimized,
single points run after convergence, and results are copied back.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := worker.NewConfig(scheduler.CurrentJobEnv(), &config.Global)
	if err != nil {
		return err
	}

	log := worker.NewLogger(os.Stdout, config.Global.Debug)
	w := worker.New(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := w.Run(ctx)
	if err != nil {
		return err
	}

	// Calculation failures do not fail the job; they are in the log.
	failed := 0
	for _, st := range report.Stages {
		if !st.Skipped && st.Err != nil {
			failed++
		}
	}
	entry := w.Log.WithField("converged", report.Converged)
	if failed > 0 {
		entry.Warnf("%d stage(s) failed", failed)
	} else {
		entry.Info("all stages finished")
	}
	return nil
}
