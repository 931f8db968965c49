package collect

import (
	"errors"
	"fmt"
)

// ErrArchiveExists is returned when res_archive is present and wiping was
// not requested.
var ErrArchiveExists = errors.New("result archive already exists")

// EnergyError is an energy file that exists but cannot be parsed.
type EnergyError struct {
	Path   string
	Reason string
}

func (e *EnergyError) Error() string {
	return fmt.Sprintf("bad energy file %s: %s", e.Path, e.Reason)
}
