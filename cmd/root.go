package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/driver"
	"github.com/getrandompcmol/qmbatch/internal/manifest"
	"github.com/getrandompcmol/qmbatch/internal/scheduler"
	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	debugMode  bool
	quietMode  bool
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "qmbatch",
	Short: "qmbatch: submit and run conformer QM calculations on PBS/SLURM clusters.",
	Long: `qmbatch walks a run root of molecule and conformer directories, stages one
structure per working directory and submits one batch job per conformer.
On the compute node the same binary runs the calculation pipeline
(wB97X-3c optimization, then TZ, gp3 and GFN2 single points) in scratch.`,
	Version:       config.VERSION,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to determine executable path: %w", err)
		}

		// Step 1: Load defaults
		config.LoadDefaults(exe)

		// Step 2: Initialize Viper (config file, QMBATCH_* env vars)
		if err := config.InitViper(configFile); err != nil {
			return err
		}

		// Step 3: Load into Global config
		if err := config.LoadFromViper(); err != nil {
			return err
		}

		// Step 4: Apply command-line flags (highest priority)
		if quietMode {
			utils.QuietMode = true
		}
		if debugMode {
			utils.DebugMode = true
			config.Global.Debug = true
			utils.PrintDebug("Debug mode enabled")
			utils.PrintDebug("qmbatch Version: %s", utils.StyleInfo(config.VERSION))
			utils.PrintDebug("Executable: %s", exe)
			if config.Global.ConfigFile != "" {
				utils.PrintDebug("Config File: %s", utils.StylePath(config.Global.ConfigFile))
			}
			utils.PrintDebug("Run Root: %s", utils.StylePath(config.Global.Submit.Root))
			if config.Global.SchedulerBin != "" {
				utils.PrintDebug("Scheduler Binary: %s", config.Global.SchedulerBin)
			}
		}

		// Step 5: Initialize the scheduler. Failure is not fatal here; only
		// submit needs one and reports the reason itself.
		forced, err := scheduler.ParseType(config.Global.SchedulerType)
		if err != nil {
			return err
		}
		if typ, err := scheduler.Init(config.Global.SchedulerBin, forced); err != nil {
			utils.PrintDebug("Scheduler not available: %v", err)
		} else {
			utils.PrintDebug("Scheduler initialized: %s", typ)
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// printError adds the scheduler output or manifest location when available.
func printError(err error) {
	var subErr *scheduler.SubmissionError
	var manErr *manifest.Error
	var structErr *driver.MissingStructureError
	switch {
	case errors.As(err, &subErr):
		utils.PrintError("%v", err)
		utils.PrintHint("Jobs submitted before %s are recorded in the ledger.", utils.StyleName(subErr.JobName))
	case errors.As(err, &manErr):
		utils.PrintError("Manifest error: %v", err)
	case errors.As(err, &structErr):
		utils.PrintError("%v", err)
		utils.PrintHint("Add %s or remove conformer %s from the conformer manifest.",
			utils.StylePath(structErr.Path), utils.StyleName(structErr.Conformer))
	default:
		utils.PrintError("%v", err)
	}
}

func init() {
	// Subcommands are attached to rootCmd in their respective init() functions
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug mode with verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Only print warnings and errors")
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: search ~/.config/qmbatch, ~/.qmbatch, /etc/qmbatch, .)")
}

// normalizeFlagName lets flags be spelled like their config keys,
// e.g. --queue_class for --queue-class.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
