package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/getrandompcmol/qmbatch/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"
)

var checkSkipScheduler bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the external programs are installed",
	Long: `Check that every external program used by submit and worker can be found
and that xtb meets the configured minimum version (tools.xtb_min_version).

Run it on a login node before submitting, or inside an interactive job to
check the compute node environment.`,
	Example: `  qmbatch check                  # Check tools and scheduler
  qmbatch check --no-scheduler   # Inside a job, where submission is not needed`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkSkipScheduler, "no-scheduler", false, "Do not check for a scheduler binary")
}

type toolCheck struct {
	label string
	bin   string
}

func requiredTools() []toolCheck {
	t := config.Global.Tools
	return []toolCheck{
		{"mctc-convert", t.MctcConvert},
		{"xtb", t.Xtb},
		{"cefine", t.Cefine},
		{"jobex", t.Jobex},
		{"ridft", t.Ridft},
		{"gp3", t.Gp3},
		{"rsync", t.Rsync},
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	missing := 0
	for _, tc := range requiredTools() {
		path, err := exec.LookPath(tc.bin)
		if err != nil {
			utils.PrintMessage("%-13s %s", tc.label, utils.StyleError("(missing: "+tc.bin+")"))
			missing++
			continue
		}
		utils.PrintMessage("%-13s %s", tc.label, utils.StylePath(path))
	}

	if !checkSkipScheduler {
		bin := config.Global.SchedulerBin
		if bin == "" {
			bin, _ = config.DetectSchedulerBin()
		}
		if bin != "" && config.ValidateBinary(bin) {
			utils.PrintMessage("%-13s %s", "scheduler", utils.StylePath(bin))
		} else {
			utils.PrintMessage("%-13s %s", "scheduler", utils.StyleError("(missing: sbatch or qsub)"))
			missing++
		}
	}

	if err := checkXtbVersion(cmd.Context()); err != nil {
		utils.PrintWarning("%v", err)
		missing++
	}

	if missing > 0 {
		return fmt.Errorf("%d check(s) failed", missing)
	}
	utils.PrintSuccess("All required programs are available.")
	return nil
}

var xtbVersionRe = regexp.MustCompile(`version\s+v?(\d+\.\d+(?:\.\d+)?)`)

// parseXtbVersion extracts the version from `xtb --version` output as
// "vMAJOR.MINOR.PATCH". Returns "" when none is found.
func parseXtbVersion(output string) string {
	m := xtbVersionRe.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return semver.Canonical("v" + m[1])
}

// compareVersions compares two semantic versions with or without a leading
// 'v'. It returns -1, 0 or 1. An unparsable version sorts first.
func compareVersions(v1, v2 string) int {
	if !strings.HasPrefix(v1, "v") {
		v1 = "v" + v1
	}
	if !strings.HasPrefix(v2, "v") {
		v2 = "v" + v2
	}
	c1 := semver.Canonical(v1)
	c2 := semver.Canonical(v2)
	switch {
	case c1 == "" && c2 == "":
		return 0
	case c1 == "":
		return -1
	case c2 == "":
		return 1
	}
	return semver.Compare(c1, c2)
}

func checkXtbVersion(ctx context.Context) error {
	minVersion := config.Global.Tools.XtbMinVersion
	if minVersion == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := worker.ExecRunner{}.Run(ctx, worker.Command{
		Name: config.Global.Tools.Xtb,
		Args: []string{"--version"},
	})
	if err != nil {
		return fmt.Errorf("cannot determine xtb version: %w", err)
	}

	version := parseXtbVersion(res.Stdout + res.Stderr)
	if version == "" {
		return fmt.Errorf("cannot parse xtb version from %q", strings.TrimSpace(res.Stdout))
	}
	if compareVersions(version, minVersion) < 0 {
		return fmt.Errorf("xtb %s is older than the required %s", version, minVersion)
	}
	utils.PrintMessage("%-13s %s", "xtb version", utils.StyleNumber(version))
	return nil
}
