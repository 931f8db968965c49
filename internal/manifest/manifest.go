// Package manifest resolves the molecule and conformer manifests of a run
// root into an ordered list of jobs.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one (molecule, conformer) job with every path it needs.
type Entry struct {
	Molecule  string
	Conformer string
	Structure string // <root>/<molecule>/<conformer>.xyz
	WorkDir   string // <root>/<molecule>/<conformer>
}

// JobName is the scheduler job name for the entry.
func (e Entry) JobName() string {
	return e.Molecule + "_" + e.Conformer
}

// ReadManifest returns the identifiers listed in path, one per line.
// Blank lines and lines whose first non-blank character is '#' are skipped;
// only the first whitespace-separated field of a line is used.
func ReadManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id := strings.Fields(line)[0]
		if strings.ContainsRune(id, filepath.Separator) || id == "." || id == ".." {
			return nil, &Error{Kind: KindInvalidID, Path: path, Line: lineNo, ID: id}
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Resolve reads <root>/<manifestName> and, for each molecule, its
// <root>/<molecule>/<conformerManifest>. The result preserves manifest order.
//
// A missing molecule directory, a missing conformer manifest or a duplicate
// (molecule, conformer) pair is an *Error. Structure files are not checked.
func Resolve(root, manifestName, conformerManifest string) ([]Entry, error) {
	manifestPath := manifestName
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(root, manifestName)
	}

	molecules, err := ReadManifest(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: KindMissingManifest, Path: manifestPath, Err: err}
		}
		return nil, err
	}

	var entries []Entry
	seen := make(map[string]bool)
	for _, mol := range molecules {
		molDir := filepath.Join(root, mol)
		if info, err := os.Stat(molDir); err != nil || !info.IsDir() {
			return nil, &Error{Kind: KindMissingMolecule, Path: molDir, ID: mol, Err: err}
		}

		confPath := filepath.Join(molDir, conformerManifest)
		conformers, err := ReadManifest(confPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &Error{Kind: KindMissingConformers, Path: confPath, ID: mol, Err: err}
			}
			return nil, err
		}

		for _, conf := range conformers {
			key := mol + "/" + conf
			if seen[key] {
				return nil, &Error{Kind: KindDuplicate, Path: confPath, ID: key}
			}
			seen[key] = true
			entries = append(entries, Entry{
				Molecule:  mol,
				Conformer: conf,
				Structure: filepath.Join(molDir, conf+".xyz"),
				WorkDir:   filepath.Join(molDir, conf),
			})
		}
	}
	return entries, nil
}

// Molecules groups entries by molecule, keeping first-seen order.
func Molecules(entries []Entry) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if !seen[e.Molecule] {
			seen[e.Molecule] = true
			out = append(out, e.Molecule)
		}
	}
	return out
}

// Error is a manifest-integrity failure. It aborts a run before any submission.
type Error struct {
	Kind ErrorKind
	Path string
	Line int
	ID   string
	Err  error
}

// ErrorKind classifies manifest errors.
type ErrorKind int

const (
	KindMissingManifest ErrorKind = iota
	KindMissingMolecule
	KindMissingConformers
	KindDuplicate
	KindInvalidID
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingManifest:
		return fmt.Sprintf("manifest %s not found", e.Path)
	case KindMissingMolecule:
		return fmt.Sprintf("molecule directory %s for %q not found", e.Path, e.ID)
	case KindMissingConformers:
		return fmt.Sprintf("conformer manifest %s for %q not found", e.Path, e.ID)
	case KindDuplicate:
		return fmt.Sprintf("duplicate entry %s in %s", e.ID, e.Path)
	case KindInvalidID:
		return fmt.Sprintf("%s:%d: invalid identifier %q", e.Path, e.Line, e.ID)
	default:
		return fmt.Sprintf("manifest error in %s", e.Path)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
