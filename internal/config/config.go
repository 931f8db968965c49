package config

import (
	"os"
	"path/filepath"
	"time"
)

const VERSION = "0.3.1"

// Config holds global application settings
type Config struct {
	Debug      bool
	Version    string
	ProgramBin string // absolute path of the running qmbatch binary
	ConfigFile string // config file actually loaded, empty if none

	SchedulerBin  string
	SchedulerType string

	Submit SubmitConfig
	Queues map[string]QueueClass
	Worker WorkerConfig
	Tools  ToolsConfig
}

// SubmitConfig controls the submission driver.
type SubmitConfig struct {
	Root              string        // run root holding molecule directories
	Manifest          string        // molecule manifest, relative to Root
	ConformerManifest string        // per-molecule conformer manifest name
	Template          string        // job template path; empty uses the built-in one
	TemplateName      string        // name of the template inside each working directory
	TemplatePreamble  []string      // shell lines emitted before the worker in the built-in template
	QueueClass        string        // key into Config.Queues
	Cores             int           // cores per job
	Delay             time.Duration // sleep after each submission
	ErrorLog          string        // run-level error log, relative to Root
	Ledger            string        // submission ledger, relative to Root
}

// WorkerConfig controls the per-job worker.
//
// DispOverride has no default: damping parameters are method specific, so
// a site sets e.g. "$disp4 --param 1.0 0.6 0.4 5.0" through
// worker.disp_override. Left empty, the TZ stage runs with whatever $disp
// line cefine wrote.
type WorkerConfig struct {
	ScratchRoot       string
	BwLimitKB         int    // rsync --bwlimit for stage-in
	MaxCopySize       string // rsync --max-size for copy-back
	OmpStackSize      string
	DispOverride      string   // replaces cefine's $disp line in the TZ control file, empty keeps it
	FreeEnergyMarkers []string // copied back regardless of size
	RestartFiles      []string // copied back in the second pass
	ChargeFiles       []string // optional dotfiles staged with the structure
	CefineArgs        []string
	JobexArgs         []string
	TZCefineArgs      []string
	Gp3Args           []string
}

// ToolsConfig names the external programs. Values may be bare names
// resolved through PATH or absolute paths.
type ToolsConfig struct {
	MctcConvert   string
	Xtb           string
	Cefine        string
	Jobex         string
	Ridft         string
	Gp3           string
	Rsync         string
	XtbMinVersion string
}

// Global holds the singleton configuration instance
var Global Config

// LoadDefaults resets Global to built-in defaults. executablePath is the
// running binary; it is re-invoked by the rendered job template.
func LoadDefaults(executablePath string) {
	programBin := executablePath
	if abs, err := filepath.Abs(executablePath); err == nil {
		programBin = abs
	}

	cwd, _ := os.Getwd()

	Global = Config{
		Debug:      false,
		Version:    VERSION,
		ProgramBin: programBin,

		Submit: SubmitConfig{
			Root:              cwd,
			Manifest:          "compounds.conformers.txt",
			ConformerManifest: "index.conformers",
			TemplateName:      "job_tm771.txt",
			QueueClass:        "batch",
			Cores:             4,
			Delay:             2 * time.Second,
			ErrorLog:          "errors.log",
			Ledger:            "jobs.yaml",
		},
		Queues: DefaultQueueClasses(),
		Worker: WorkerConfig{
			ScratchRoot:       defaultScratchRoot(),
			BwLimitKB:         20000,
			MaxCopySize:       "50m",
			OmpStackSize:      "4G",
			FreeEnergyMarkers: []string{".G_RRHO", ".G_SOLV"},
			RestartFiles:      []string{"mos", "alpha", "beta"},
			ChargeFiles:       []string{".CHRG", ".UHF"},
			CefineArgs:        []string{"-func", "wb97x-3c", "-bas", "vDZP", "-ri", "-noopt"},
			JobexArgs:         []string{"-ri", "-c", "200"},
			TZCefineArgs:      []string{"-func", "wb97x-v", "-bas", "def2-TZVPPD", "-ri", "-d4"},
			Gp3Args:           []string{"coord", "--grad"},
		},
		Tools: ToolsConfig{
			MctcConvert:   "mctc-convert",
			Xtb:           "xtb",
			Cefine:        "cefine",
			Jobex:         "jobex",
			Ridft:         "ridft",
			Gp3:           "gp3",
			Rsync:         "rsync",
			XtbMinVersion: "v6.6.0",
		},
	}
}

// defaultScratchRoot prefers $TMPDIR, which most batch systems point at
// node-local storage inside a job.
func defaultScratchRoot() string {
	if tmp := os.Getenv("TMPDIR"); tmp != "" {
		return tmp
	}
	return "/tmp"
}

// SubmitPath resolves a Submit path field against the run root.
func (c *Config) SubmitPath(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Submit.Root, rel)
}
