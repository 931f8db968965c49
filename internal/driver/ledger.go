package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/getrandompcmol/qmbatch/internal/scheduler"
	"github.com/getrandompcmol/qmbatch/internal/utils"
	"gopkg.in/yaml.v2"
)

// LedgerEntry records one submission.
type LedgerEntry struct {
	JobID     string `yaml:"job_id"`
	Queue     string `yaml:"queue"`
	Cores     int    `yaml:"cores"`
	MemMB     int64  `yaml:"mem_mb"`
	WorkDir   string `yaml:"workdir"`
	Submitted string `yaml:"submitted"` // RFC 3339
}

type ledgerFile struct {
	Jobs map[string]LedgerEntry `yaml:"jobs"`
}

// Ledger is the YAML record of submitted jobs in the run root, keyed by job
// name. Resubmitting a job overwrites its entry.
type Ledger struct {
	mu   sync.Mutex
	path string
	data ledgerFile
}

// OpenLedger loads path if it exists, or starts an empty ledger.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, data: ledgerFile{Jobs: map[string]LedgerEntry{}}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &l.data); err != nil {
		return nil, fmt.Errorf("parsing ledger %s: %w", path, err)
	}
	if l.data.Jobs == nil {
		l.data.Jobs = map[string]LedgerEntry{}
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Record adds a submission and writes the ledger to disk.
func (l *Ledger) Record(req *scheduler.JobRequest, jobID, workDir string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data.Jobs[req.Name] = LedgerEntry{
		JobID:     jobID,
		Queue:     req.Queue,
		Cores:     req.Cores,
		MemMB:     req.MemMB,
		WorkDir:   workDir,
		Submitted: at.UTC().Format(time.RFC3339),
	}
	return l.save()
}

// Get returns the entry for a job name.
func (l *Ledger) Get(name string) (LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.data.Jobs[name]
	return e, ok
}

// Names lists recorded job names in sorted order.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.data.Jobs))
	for n := range l.data.Jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// save writes to a temporary file and renames it over the ledger so a
// reader never sees a half-written file.
func (l *Ledger) save() error {
	out, err := yaml.Marshal(&l.data)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".jobs-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), utils.PermFile); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}
