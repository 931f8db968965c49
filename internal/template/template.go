// Package template renders the job script copied into every working directory.
package template

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"al.essio.dev/pkg/shellescape"
	"github.com/getrandompcmol/qmbatch/internal/utils"
)

// Options parameterize the built-in job script. Per-job resources are not
// part of it; they are passed as scheduler flags at submission.
type Options struct {
	Program    string   // qmbatch binary re-invoked on the compute node
	ConfigFile string   // config file handed to the worker, may be empty
	Preamble   []string // raw shell lines, e.g. "module load turbomole/7.8"
	Debug      bool
}

const jobScript = `#!/bin/bash
# Job script generated by qmbatch {{.Version}}.
# Queue, cores and memory are set on the qsub/sbatch command line.
set -u
{{range .Preamble}}{{.}}
{{end}}
cd "${PBS_O_WORKDIR:-${SLURM_SUBMIT_DIR:-.}}" || exit 1
exec {{quote .Program}}{{if .ConfigFile}} --config {{quote .ConfigFile}}{{end}}{{if .Debug}} --debug{{end}} worker
`

var jobTmpl = template.Must(template.New("job").
	Funcs(template.FuncMap{"quote": shellescape.Quote}).
	Parse(jobScript))

// Render returns the job script text.
func Render(opts Options, version string) ([]byte, error) {
	if opts.Program == "" {
		return nil, fmt.Errorf("job template: no program path")
	}
	for _, line := range opts.Preamble {
		if strings.ContainsAny(line, "\r\n") {
			return nil, fmt.Errorf("job template: preamble line %q spans multiple lines", line)
		}
	}

	data := struct {
		Options
		Version string
	}{opts, version}

	var buf bytes.Buffer
	if err := jobTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("job template: %w", err)
	}
	return buf.Bytes(), nil
}

// Load returns the template at path, or the rendered built-in one when
// path is empty.
func Load(path string, opts Options, version string) ([]byte, error) {
	if path == "" {
		return Render(opts, version)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("job template %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("job template %s is empty", path)
	}
	return data, nil
}

// Write renders the built-in script to path with executable permissions.
func Write(path string, opts Options, version string) error {
	data, err := Render(opts, version)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, utils.PermExec)
}
