package cmd

import (
	"fmt"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/scheduler"
	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/spf13/cobra"
)

var schedulerCmd = &cobra.Command{
	Use:     "scheduler",
	Aliases: []string{"sched"},
	Short:   "Display scheduler information",
	Long: `Display information about the detected job scheduler.

Shows scheduler type (SLURM or PBS), binary path and availability status.
Inside a running job the job environment seen by the worker is shown too.`,
	Example: `  qmbatch scheduler           # Show scheduler information
  qmbatch sched               # Short alias`,
	Run: runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(cmd *cobra.Command, args []string) {
	if env := scheduler.CurrentJobEnv(); env != nil {
		printJobEnv(env)
	}

	forced, _ := scheduler.ParseType(config.Global.SchedulerType)
	sched, err := scheduler.DetectSchedulerWithBinary(config.Global.SchedulerBin, forced)
	if err != nil {
		if scheduler.IsInsideJob() {
			utils.PrintMessage("Scheduler Status: %s", utils.StyleWarning("Unavailable (inside job)"))
			return
		}
		utils.PrintMessage("Scheduler Status: %s", utils.StyleError("Not Found"))
		utils.PrintMessage("")
		utils.PrintMessage("No job scheduler detected on this system.")
		utils.PrintMessage("Supported schedulers: SLURM (sbatch), PBS/Torque (qsub)")
		return
	}

	info := sched.GetInfo()

	// structured output, no [QMB] prefix
	fmt.Println("Scheduler Information:")
	fmt.Printf("  Type:      %s\n", utils.StyleInfo(info.Type))
	fmt.Printf("  Binary:    %s\n", utils.StylePath(info.Binary))
	if info.Version != "" {
		fmt.Printf("  Version:   %s\n", utils.StyleNumber(info.Version))
	}

	switch {
	case info.InJob:
		fmt.Printf("  Status:    %s (inside job)\n", utils.StyleError("Unavailable"))
		fmt.Println()
		fmt.Println("Job submission is disabled inside a scheduled job to prevent nested submissions.")
	case info.Available:
		fmt.Printf("  Status:    %s\n", utils.StyleSuccess("Available"))
	default:
		fmt.Printf("  Status:    %s\n", utils.StyleError("Unavailable"))
	}
}

func printJobEnv(env *scheduler.JobEnv) {
	fmt.Println("Job Environment:")
	fmt.Printf("  Scheduler: %s\n", utils.StyleInfo(string(env.Type)))
	fmt.Printf("  Job ID:    %s\n", utils.StyleNumber(env.JobID))
	fmt.Printf("  Work Dir:  %s\n", utils.StylePath(env.SubmitDir))
	if env.NodeFile != "" {
		fmt.Printf("  Node File: %s\n", utils.StylePath(env.NodeFile))
	}
	if env.NodeList != "" {
		fmt.Printf("  Nodes:     %s\n", env.NodeList)
	}
	if env.Ncpus > 0 {
		fmt.Printf("  Cores:     %s\n", utils.StyleNumber(env.Ncpus))
	}
	fmt.Println()
}
