package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/driver"
	"github.com/getrandompcmol/qmbatch/internal/scheduler"
	"github.com/getrandompcmol/qmbatch/internal/template"
	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/spf13/cobra"
)

var (
	submitRoot       string
	submitQueueClass string
	submitCores      int
	submitDelay      string
	submitDryRun     bool
	submitPreflight  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Stage and submit one job per conformer",
	Long: `Submit one batch job per (molecule, conformer) listed in the run root.

For every conformer the working directory <root>/<molecule>/<conformer> is
cleaned of stale results, <conformer>.xyz is copied to struc.xyz, the job
template is written next to it and the job is submitted from there.
Memory is cores × the per-core allowance of the queue class.

A missing structure file is written to the run error log and stops the run.
Jobs submitted before that point stay submitted.`,
	Example: `  qmbatch submit                          # Submit everything under the current directory
  qmbatch submit --root /scratch/run1 -n 8 # 8 cores per job
  qmbatch submit --queue-class himem       # Use the high-memory queue
  qmbatch submit --dry-run                 # Stage only, print what would be submitted
  qmbatch submit --preflight               # Check every structure before the first submission`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&submitRoot, "root", "r", "", "Run root holding the manifests (default: submit.root or current directory)")
	submitCmd.Flags().StringVarP(&submitQueueClass, "queue-class", "Q", "", "Queue class: batch, himem, fat or one defined under queues (default: submit.queue_class)")
	submitCmd.Flags().IntVarP(&submitCores, "cores", "n", 0, "Cores per job (default: submit.cores)")
	submitCmd.Flags().StringVar(&submitDelay, "delay", "", "Pause after each submission, e.g. 2s or 00:00:02")
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "Clean and stage, but do not submit")
	submitCmd.Flags().BoolVar(&submitPreflight, "preflight", false, "Verify every structure file exists before submitting anything")

	_ = submitCmd.RegisterFlagCompletionFunc("queue-class", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return config.QueueNames(), cobra.ShellCompDirectiveNoFileComp
	})
}

func runSubmit(cmd *cobra.Command, args []string) error {
	d, err := newDriverFromFlags()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	report, runErr := d.Run(ctx)
	if report != nil {
		printSubmitReport(report, time.Since(start))
	}
	if runErr != nil {
		if ctx.Err() != nil {
			utils.PrintWarning("Interrupted; remaining conformers were not submitted.")
		}
		return runErr
	}
	return nil
}

// newDriverFromFlags merges flags over config.Global and builds the driver.
func newDriverFromFlags() (*driver.Driver, error) {
	s := &config.Global.Submit

	if submitRoot != "" {
		abs, err := filepath.Abs(submitRoot)
		if err != nil {
			return nil, err
		}
		s.Root = abs
	}
	if !utils.DirExists(s.Root) {
		return nil, fmt.Errorf("run root %s does not exist", s.Root)
	}
	if submitQueueClass != "" {
		s.QueueClass = submitQueueClass
	}
	if submitCores != 0 {
		s.Cores = submitCores
	}
	if submitDelay != "" {
		dur, err := utils.ParseDuration(submitDelay)
		if err != nil {
			return nil, fmt.Errorf("--delay: %w", err)
		}
		s.Delay = dur
	}

	queue, err := config.LookupQueue(s.QueueClass)
	if err != nil {
		return nil, err
	}

	tmplPath := config.FindTemplate()
	tmpl, err := template.Load(tmplPath, templateOptions(), config.VERSION)
	if err != nil {
		return nil, err
	}
	if tmplPath != "" {
		utils.PrintDebug("Using job template %s", utils.StylePath(tmplPath))
	} else {
		utils.PrintDebug("Using built-in job template")
	}

	d := &driver.Driver{
		Root:              s.Root,
		Manifest:          s.Manifest,
		ConformerManifest: s.ConformerManifest,
		Template:          tmpl,
		TemplateName:      s.TemplateName,
		Queue:             queue,
		Cores:             s.Cores,
		Delay:             s.Delay,
		ErrorLog:          config.Global.SubmitPath(s.ErrorLog),
		DryRun:            submitDryRun,
		Preflight:         submitPreflight,
	}

	if !submitDryRun {
		sched, err := scheduler.RequireActive()
		if err != nil {
			return nil, err
		}
		d.Sched = sched

		if s.Ledger != "" {
			ledger, err := driver.OpenLedger(config.Global.SubmitPath(s.Ledger))
			if err != nil {
				return nil, err
			}
			d.Ledger = ledger
		}
	}

	return d, nil
}

// templateOptions parameterize the built-in job template from the
// current invocation so the worker sees the same configuration.
func templateOptions() template.Options {
	// the job starts in the working directory, not here
	cfgFile := config.Global.ConfigFile
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			cfgFile = abs
		}
	}
	return template.Options{
		Program:    config.Global.ProgramBin,
		ConfigFile: cfgFile,
		Preamble:   config.Global.Submit.TemplatePreamble,
		Debug:      config.Global.Debug,
	}
}

func printSubmitReport(r *driver.Report, elapsed time.Duration) {
	verb := "Submitted"
	n := len(r.Submitted)
	if submitDryRun {
		verb = "Staged"
		n = r.Staged
	}
	utils.PrintMessage("%s %s of %s conformers in %s.", verb,
		utils.StyleNumber(n), utils.StyleNumber(r.Resolved), elapsed.Round(time.Second))
	if n == r.Resolved && n > 0 {
		utils.PrintSuccess("All conformers processed.")
	}
}
