package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	initPath  string
	initForce bool
)

// configKeys is the list of scalar configuration keys shown by `config show`
// and offered for shell completion.
var configKeys = []string{
	"scheduler_bin",
	"scheduler_type",
	"submit.root",
	"submit.manifest",
	"submit.conformer_manifest",
	"submit.template",
	"submit.template_name",
	"submit.queue_class",
	"submit.cores",
	"submit.delay",
	"submit.error_log",
	"submit.ledger",
	"worker.scratch_root",
	"worker.bwlimit_kb",
	"worker.max_copy_size",
	"worker.omp_stacksize",
	"worker.disp_override",
	"tools.mctc_convert",
	"tools.xtb",
	"tools.cefine",
	"tools.jobex",
	"tools.ridft",
	"tools.gp3",
	"tools.rsync",
	"tools.xtb_min_version",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage qmbatch configuration",
	Long: `Manage qmbatch configuration settings.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (QMBATCH_*, e.g. QMBATCH_SUBMIT_CORES)
  3. Config file (--config, or the first found of
     ~/.config/qmbatch/config.yaml, ~/.qmbatch/config.yaml,
     /etc/qmbatch/config.yaml, ./config.yaml)
  4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(utils.StyleTitle("Config File:"))
		if config.Global.ConfigFile != "" {
			fmt.Printf("  %s\n", utils.StylePath(config.Global.ConfigFile))
		} else {
			fmt.Printf("  %s (use 'qmbatch config init' to create)\n", utils.StyleWarning("No config file found"))
		}
		fmt.Println()

		fmt.Println(utils.StyleTitle("Settings:"))
		for _, key := range configKeys {
			fmt.Printf("  %-26s %v\n", key, viper.Get(key))
		}
		fmt.Println()

		fmt.Println(utils.StyleTitle("Queue Classes:"))
		for _, name := range config.QueueNames() {
			q := config.Global.Queues[name]
			fmt.Printf("  %-10s queue=%-10s %s MB/core\n", name, q.Queue, utils.StyleNumber(q.MemPerCoreMB))
		}
		fmt.Println()

		fmt.Println(utils.StyleTitle("Worker Stages:"))
		w := config.Global.Worker
		fmt.Printf("  %-26s %s\n", "cefine (wB97X-3c)", strings.Join(w.CefineArgs, " "))
		fmt.Printf("  %-26s %s\n", "jobex", strings.Join(w.JobexArgs, " "))
		fmt.Printf("  %-26s %s\n", "cefine (TZ)", strings.Join(w.TZCefineArgs, " "))
		fmt.Printf("  %-26s %s\n", "gp3", strings.Join(w.Gp3Args, " "))
		fmt.Printf("  %-26s %s\n", "restart files", strings.Join(w.RestartFiles, ", "))
		fmt.Printf("  %-26s %s\n", "free energy markers", strings.Join(w.FreeEnergyMarkers, ", "))

		if env := activeEnvOverrides(); len(env) > 0 {
			fmt.Println()
			fmt.Println(utils.StyleTitle("Environment Overrides:"))
			for _, e := range env {
				fmt.Printf("  %s\n", e)
			}
		}
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the user config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.Global.ConfigFile != "" {
			fmt.Println(config.Global.ConfigFile)
			return nil
		}
		p, err := config.GetUserConfigPath()
		if err != nil {
			return err
		}
		fmt.Println(p)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	Long: `Write the effective settings, with the scheduler re-detected from PATH,
to the user config file or to --path.`,
	Example: `  qmbatch config init
  qmbatch config init --path ./config.yaml`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := initPath
		if path == "" {
			p, err := config.GetUserConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		if utils.FileExists(path) && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		written, err := config.ForceDetectAndSave(path)
		if err != nil {
			return err
		}
		utils.PrintSuccess("Wrote config to %s", utils.StylePath(written))
		return nil
	},
}

// getConfigEnvVars returns the environment variable for every config key.
func getConfigEnvVars() []string {
	vars := make([]string, 0, len(configKeys))
	for _, key := range configKeys {
		vars = append(vars, config.EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	sort.Strings(vars)
	return vars
}

func activeEnvOverrides() []string {
	var out []string
	for _, v := range getConfigEnvVars() {
		if val, ok := os.LookupEnv(v); ok {
			out = append(out, v+"="+val)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configPathCmd, configInitCmd)
	configInitCmd.Flags().StringVarP(&initPath, "path", "p", "", "Write to this file instead of the user config")
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file")
}
