package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/spf13/viper"
)

// ConfigFilename is the name of the config file
const ConfigFilename = "config"

// ConfigType is the type of config file (yaml, json, toml)
const ConfigType = "yaml"

// EnvPrefix prefixes every environment override, e.g. QMBATCH_SUBMIT_CORES.
const EnvPrefix = "QMBATCH"

// InitViper initializes Viper with proper search paths and defaults.
// LoadDefaults must have been called first; its values become the viper defaults.
// Priority (highest to lowest):
// 1. Command-line flags (handled by cobra)
// 2. Environment variables (QMBATCH_*)
// 3. Explicit config file (--config), or the first found of
//    ~/.config/qmbatch, ~/.qmbatch, /etc/qmbatch, current directory
// 4. Defaults
func InitViper(explicitFile string) error {
	if explicitFile != "" {
		viper.SetConfigFile(explicitFile)
	} else {
		viper.SetConfigName(ConfigFilename)
		viper.SetConfigType(ConfigType)

		if userConfigDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(userConfigDir, "qmbatch"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".qmbatch"))
		}
		viper.AddConfigPath("/etc/qmbatch")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && explicitFile == "" {
			// Config file not found; will use defaults and auto-detect
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	Global.ConfigFile = viper.ConfigFileUsed()
	return nil
}

// setDefaults sets default values for all config keys
func setDefaults() {
	d := Global

	viper.SetDefault("scheduler_bin", "")
	viper.SetDefault("scheduler_type", "")

	viper.SetDefault("submit.root", d.Submit.Root)
	viper.SetDefault("submit.manifest", d.Submit.Manifest)
	viper.SetDefault("submit.conformer_manifest", d.Submit.ConformerManifest)
	viper.SetDefault("submit.template", d.Submit.Template)
	viper.SetDefault("submit.template_name", d.Submit.TemplateName)
	viper.SetDefault("submit.template_preamble", d.Submit.TemplatePreamble)
	viper.SetDefault("submit.queue_class", d.Submit.QueueClass)
	viper.SetDefault("submit.cores", d.Submit.Cores)
	viper.SetDefault("submit.delay", d.Submit.Delay.String())
	viper.SetDefault("submit.error_log", d.Submit.ErrorLog)
	viper.SetDefault("submit.ledger", d.Submit.Ledger)

	queues := make(map[string]interface{}, len(d.Queues))
	for name, q := range d.Queues {
		queues[name] = map[string]interface{}{
			"queue":           q.Queue,
			"mem_per_core_mb": q.MemPerCoreMB,
		}
	}
	viper.SetDefault("queues", queues)

	viper.SetDefault("worker.scratch_root", d.Worker.ScratchRoot)
	viper.SetDefault("worker.bwlimit_kb", d.Worker.BwLimitKB)
	viper.SetDefault("worker.max_copy_size", d.Worker.MaxCopySize)
	viper.SetDefault("worker.omp_stacksize", d.Worker.OmpStackSize)
	viper.SetDefault("worker.disp_override", d.Worker.DispOverride)
	viper.SetDefault("worker.free_energy_markers", d.Worker.FreeEnergyMarkers)
	viper.SetDefault("worker.restart_files", d.Worker.RestartFiles)
	viper.SetDefault("worker.charge_files", d.Worker.ChargeFiles)
	viper.SetDefault("worker.cefine_args", d.Worker.CefineArgs)
	viper.SetDefault("worker.jobex_args", d.Worker.JobexArgs)
	viper.SetDefault("worker.tz_cefine_args", d.Worker.TZCefineArgs)
	viper.SetDefault("worker.gp3_args", d.Worker.Gp3Args)

	viper.SetDefault("tools.mctc_convert", d.Tools.MctcConvert)
	viper.SetDefault("tools.xtb", d.Tools.Xtb)
	viper.SetDefault("tools.cefine", d.Tools.Cefine)
	viper.SetDefault("tools.jobex", d.Tools.Jobex)
	viper.SetDefault("tools.ridft", d.Tools.Ridft)
	viper.SetDefault("tools.gp3", d.Tools.Gp3)
	viper.SetDefault("tools.rsync", d.Tools.Rsync)
	viper.SetDefault("tools.xtb_min_version", d.Tools.XtbMinVersion)
}

// GetUserConfigPath returns the path to the user config file
func GetUserConfigPath() (string, error) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to home directory
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".qmbatch", ConfigFilename+"."+ConfigType), nil
	}

	return filepath.Join(userConfigDir, "qmbatch", ConfigFilename+"."+ConfigType), nil
}

// SaveConfig writes the current Viper settings to path, or to the user
// config file when path is empty. Returns the path written.
func SaveConfig(path string) (string, error) {
	if path == "" {
		p, err := GetUserConfigPath()
		if err != nil {
			return "", fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return path, nil
}

// ValidateBinary checks if a binary exists and is executable
func ValidateBinary(binPath string) bool {
	if binPath == "" {
		return false
	}

	if filepath.IsAbs(binPath) {
		info, err := os.Stat(binPath)
		if err != nil {
			return false
		}
		return !info.IsDir() && info.Mode()&0111 != 0
	}

	_, err := exec.LookPath(binPath)
	return err == nil
}

// DetectSchedulerBin attempts to find scheduler binary
// Returns (binary_path, scheduler_type) if found
func DetectSchedulerBin() (string, string) {
	// Try SLURM first (most common in HPC)
	if path, err := exec.LookPath("sbatch"); err == nil {
		return path, "SLURM"
	}

	// Try PBS/Torque
	if path, err := exec.LookPath("qsub"); err == nil {
		return path, "PBS"
	}

	return "", ""
}

// ForceDetectAndSave re-detects the scheduler from the current PATH and
// writes the config file. Used by `config init`.
func ForceDetectAndSave(path string) (string, error) {
	if bin, typ := DetectSchedulerBin(); bin != "" {
		viper.Set("scheduler_bin", bin)
		viper.Set("scheduler_type", typ)
	}
	return SaveConfig(path)
}

// LoadFromViper loads config from Viper into Global struct.
// Invalid values are reported and leave the default in place.
func LoadFromViper() error {
	Global.SchedulerBin = viper.GetString("scheduler_bin")
	Global.SchedulerType = viper.GetString("scheduler_type")

	s := &Global.Submit
	setString(&s.Root, "submit.root")
	setString(&s.Manifest, "submit.manifest")
	setString(&s.ConformerManifest, "submit.conformer_manifest")
	s.Template = viper.GetString("submit.template")
	setString(&s.TemplateName, "submit.template_name")
	setSlice(&s.TemplatePreamble, "submit.template_preamble")
	setString(&s.QueueClass, "submit.queue_class")
	setString(&s.ErrorLog, "submit.error_log")
	setString(&s.Ledger, "submit.ledger")
	if cores := viper.GetInt("submit.cores"); cores > 0 {
		s.Cores = cores
	}
	if delay := viper.GetString("submit.delay"); delay != "" {
		// Accepts "2s", "1m30s", "00:00:02" or bare seconds
		dur, err := utils.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("submit.delay: %w", err)
		}
		s.Delay = dur
	}

	queues := map[string]QueueClass{}
	if err := viper.UnmarshalKey("queues", &queues); err != nil {
		return fmt.Errorf("queues: %w", err)
	}
	if len(queues) > 0 {
		for name, q := range queues {
			q.Name = name
			if q.Queue == "" {
				q.Queue = name
			}
			queues[name] = q
		}
		Global.Queues = queues
	}

	w := &Global.Worker
	setString(&w.ScratchRoot, "worker.scratch_root")
	if bw := viper.GetInt("worker.bwlimit_kb"); bw >= 0 {
		w.BwLimitKB = bw
	}
	setString(&w.MaxCopySize, "worker.max_copy_size")
	setString(&w.OmpStackSize, "worker.omp_stacksize")
	setString(&w.DispOverride, "worker.disp_override")
	setSlice(&w.FreeEnergyMarkers, "worker.free_energy_markers")
	setSlice(&w.RestartFiles, "worker.restart_files")
	setSlice(&w.ChargeFiles, "worker.charge_files")
	setSlice(&w.CefineArgs, "worker.cefine_args")
	setSlice(&w.JobexArgs, "worker.jobex_args")
	setSlice(&w.TZCefineArgs, "worker.tz_cefine_args")
	setSlice(&w.Gp3Args, "worker.gp3_args")

	t := &Global.Tools
	setString(&t.MctcConvert, "tools.mctc_convert")
	setString(&t.Xtb, "tools.xtb")
	setString(&t.Cefine, "tools.cefine")
	setString(&t.Jobex, "tools.jobex")
	setString(&t.Ridft, "tools.ridft")
	setString(&t.Gp3, "tools.gp3")
	setString(&t.Rsync, "tools.rsync")
	setString(&t.XtbMinVersion, "tools.xtb_min_version")

	return nil
}

func setString(dst *string, key string) {
	if v := viper.GetString(key); v != "" {
		*dst = v
	}
}

func setSlice(dst *[]string, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetStringSlice(key)
	}
}
