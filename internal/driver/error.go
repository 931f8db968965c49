package driver

import (
	"errors"
	"fmt"
)

// MissingStructureError reports a conformer without its .xyz file.
// It stops the whole submission run.
type MissingStructureError struct {
	Molecule  string
	Conformer string
	Path      string
}

func (e *MissingStructureError) Error() string {
	return fmt.Sprintf("no structure file %s for %s_%s", e.Path, e.Molecule, e.Conformer)
}

// LogLine is the line written to the run-level error log.
func (e *MissingStructureError) LogLine() string {
	return fmt.Sprintf("NO structure file present in %s!", e.Molecule)
}

// IsMissingStructure checks if an error is a MissingStructureError
func IsMissingStructure(err error) bool {
	var me *MissingStructureError
	return errors.As(err, &me)
}
