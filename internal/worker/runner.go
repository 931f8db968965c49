package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	execute "github.com/alexellis/go-execute/pkg/v1"
	"github.com/getrandompcmol/qmbatch/internal/utils"
)

// Command is one external program invocation.
type Command struct {
	Name   string   // program, bare name or path
	Args   []string
	Dir    string   // working directory
	Env    []string // KEY=VALUE overrides on top of the job environment
	Stdout string   // file in Dir receiving stdout, empty discards
	Stderr string   // file in Dir receiving stderr, empty discards
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes external programs.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands through go-execute.
type ExecRunner struct{}

// Run executes cmd and waits for it. A non-zero exit status is returned as
// an *ExitError together with the captured output. Cancellation is checked
// before the program starts; a running program is not interrupted.
func (ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	task := execute.ExecTask{
		Command: cmd.Name,
		Args:    cmd.Args,
		Cwd:     cmd.Dir,
		Env:     append(os.Environ(), cmd.Env...),
	}
	res, err := task.Execute()
	if err != nil && res.ExitCode == 0 {
		return Result{}, fmt.Errorf("running %s: %w", cmd.Name, err)
	}
	out := Result{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}

	if err := saveOutput(cmd.Dir, cmd.Stdout, out.Stdout); err != nil {
		return out, err
	}
	if err := saveOutput(cmd.Dir, cmd.Stderr, out.Stderr); err != nil {
		return out, err
	}

	if out.ExitCode != 0 {
		return out, &ExitError{Command: cmd.String(), Code: out.ExitCode, Stderr: out.Stderr}
	}
	return out, nil
}

func saveOutput(dir, name, content string) error {
	if name == "" {
		return nil
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, name)
	}
	return os.WriteFile(path, []byte(content), utils.PermFile)
}
