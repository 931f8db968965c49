package worker

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/scheduler"
	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/google/uuid"
)

// Config is everything a worker needs, resolved once at job start.
type Config struct {
	WorkDir string
	JobID   string
	User    string
	Home    string
	Cores   int
	Hosts   []string // one line of hosts_file each

	ScratchRoot  string
	BwLimitKB    int
	MaxCopySize  string
	OmpStackSize string

	DispOverride      string
	FreeEnergyMarkers []string
	RestartFiles      []string
	ChargeFiles       []string
	CefineArgs        []string
	JobexArgs         []string
	TZCefineArgs      []string
	Gp3Args           []string

	Tools config.ToolsConfig
}

// NewConfig merges the scheduler environment (may be nil outside a job)
// with the global settings. The result is not validated.
func NewConfig(env *scheduler.JobEnv, g *config.Config) (*Config, error) {
	w := g.Worker
	c := &Config{
		ScratchRoot:       w.ScratchRoot,
		BwLimitKB:         w.BwLimitKB,
		MaxCopySize:       w.MaxCopySize,
		OmpStackSize:      w.OmpStackSize,
		DispOverride:      w.DispOverride,
		FreeEnergyMarkers: w.FreeEnergyMarkers,
		RestartFiles:      w.RestartFiles,
		ChargeFiles:       w.ChargeFiles,
		CefineArgs:        w.CefineArgs,
		JobexArgs:         w.JobexArgs,
		TZCefineArgs:      w.TZCefineArgs,
		Gp3Args:           w.Gp3Args,
		Tools:             g.Tools,
		Cores:             g.Submit.Cores,
	}

	c.Home = homeDir()
	c.User = currentUser()

	if env == nil {
		env = &scheduler.JobEnv{}
	}

	c.WorkDir = env.SubmitDir
	if c.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		c.WorkDir = wd
	}

	// Outside the scheduler there is no job ID; a random one keeps
	// concurrent local runs apart in scratch.
	c.JobID = env.JobID
	if c.JobID == "" {
		c.JobID = "local-" + uuid.NewString()
	}

	if env.Ncpus > 0 {
		c.Cores = env.Ncpus
	}

	hosts, err := resolveHosts(env, c.Cores)
	if err != nil {
		return nil, err
	}
	c.Hosts = hosts

	return c, nil
}

// Validate checks every field the pipeline relies on.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return &ConfigError{Field: "WorkDir", Reason: "not set"}
	}
	if !filepath.IsAbs(c.WorkDir) {
		return &ConfigError{Field: "WorkDir", Reason: fmt.Sprintf("%q is not absolute", c.WorkDir)}
	}
	// the home guard cannot be checked without it
	if c.Home == "" {
		return &ConfigError{Field: "Home", Reason: "home directory unknown ($HOME unset and no passwd entry)"}
	}
	if c.Cores <= 0 {
		return &ConfigError{Field: "Cores", Reason: fmt.Sprintf("must be positive, got %d", c.Cores)}
	}
	if c.JobID == "" {
		return &ConfigError{Field: "JobID", Reason: "not set"}
	}
	if c.ScratchRoot == "" {
		return &ConfigError{Field: "ScratchRoot", Reason: "not set"}
	}
	if c.BwLimitKB < 0 {
		return &ConfigError{Field: "BwLimitKB", Reason: "must not be negative"}
	}
	if n, err := utils.ParseRsyncSize(c.MaxCopySize); err != nil || n <= 0 {
		return &ConfigError{Field: "MaxCopySize", Reason: fmt.Sprintf("%q is not a positive rsync size", c.MaxCopySize)}
	}
	if len(c.Hosts) == 0 {
		return &ConfigError{Field: "Hosts", Reason: "empty node list"}
	}
	return nil
}

// ScratchDir is <scratch_root>/<user>.<jobid>.
func (c *Config) ScratchDir() string {
	id := strings.NewReplacer("/", "_", " ", "_").Replace(c.JobID)
	return filepath.Join(c.ScratchRoot, c.User+"."+id)
}

// ChildEnv is the environment overrides handed to every chemistry program.
func (c *Config) ChildEnv(hostsFile string) []string {
	n := strconv.Itoa(c.Cores)
	env := []string{
		"OMP_NUM_THREADS=" + n,
		"MKL_NUM_THREADS=" + n,
		"PARNODES=" + n,
		"HOSTS_FILE=" + hostsFile,
	}
	if c.OmpStackSize != "" {
		env = append(env, "OMP_STACKSIZE="+c.OmpStackSize)
	}
	return env
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	if u, err := user.Current(); err == nil {
		return u.HomeDir
	}
	return ""
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "nobody"
}

// resolveHosts reads PBS_NODEFILE verbatim, or expands a SLURM node list
// with one line per core, or falls back to the local host name.
func resolveHosts(env *scheduler.JobEnv, cores int) ([]string, error) {
	if env.NodeFile != "" {
		return readLines(env.NodeFile)
	}

	var nodes []string
	if env.NodeList != "" {
		expanded, err := scheduler.ExpandNodeList(env.NodeList)
		if err != nil {
			return nil, err
		}
		nodes = expanded
	} else {
		host, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		nodes = []string{host}
	}

	if cores < 1 {
		cores = 1
	}
	hosts := make([]string, 0, len(nodes)*cores)
	for _, n := range nodes {
		for i := 0; i < cores; i++ {
			hosts = append(hosts, n)
		}
	}
	return hosts, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading node file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
