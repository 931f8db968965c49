package worker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHomeWorkDir refuses to stage from or copy back into $HOME.
	ErrHomeWorkDir = errors.New("working directory is the home directory")

	// ErrScratch indicates the node-local scratch directory could not be prepared.
	ErrScratch = errors.New("cannot create scratch directory")

	// ErrInvalidConfig indicates a missing or out-of-range worker setting.
	ErrInvalidConfig = errors.New("invalid worker configuration")
)

// ExitError is a program that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		if len(s) > 200 {
			s = s[len(s)-200:]
		}
		msg += ": " + s
	}
	return msg
}

// ConfigError names the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
