// Package collect reads the single point energies of finished jobs and
// compares the semiempirical methods against the reference.
package collect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/getrandompcmol/qmbatch/internal/manifest"
	"github.com/getrandompcmol/qmbatch/internal/utils"
)

// Stage directories holding an energy file.
const (
	RefDir  = "TZ"
	GFN2Dir = "gfn2"
	GP3Dir  = "gp3"
)

const OutputFile = "energies.json"

// Skip records why a molecule was left out.
type Skip struct {
	Molecule string
	Reason   string
}

// Result of one collection pass.
type Result struct {
	Order    []string // molecule IDs in manifest order
	Energies map[string]Energies
	Removed  map[string][]string // near-degenerate conformers dropped per molecule
	Skipped  []Skip
}

// Collector walks a run root laid out by the submission driver.
type Collector struct {
	Root              string
	Manifest          string
	ConformerManifest string
}

// Collect resolves the manifests and gathers every complete, neutral
// molecule. Manifest errors are fatal; per-molecule problems are recorded
// in Result.Skipped.
func (c *Collector) Collect() (*Result, error) {
	entries, err := manifest.Resolve(c.Root, c.Manifest, c.ConformerManifest)
	if err != nil {
		return nil, err
	}

	byMol := make(map[string][]manifest.Entry)
	for _, e := range entries {
		byMol[e.Molecule] = append(byMol[e.Molecule], e)
	}

	manifestPath := c.Manifest
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(c.Root, c.Manifest)
	}
	molecules, err := manifest.ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Energies: make(map[string]Energies),
		Removed:  make(map[string][]string),
	}
	for _, mol := range molecules {
		confs := byMol[mol]
		if len(confs) == 0 {
			res.Skipped = append(res.Skipped, Skip{mol, "no conformers listed"})
			continue
		}

		workDirs := make([]string, len(confs))
		for i, e := range confs {
			workDirs[i] = e.WorkDir
		}
		props, err := ReadProperties(filepath.Join(c.Root, mol), workDirs)
		if err != nil {
			return nil, err
		}
		if props.Charge != 0 {
			res.Skipped = append(res.Skipped, Skip{mol, fmt.Sprintf("charge %d is not zero", props.Charge)})
			continue
		}

		ensemble, reason, err := readEnsemble(confs)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			res.Skipped = append(res.Skipped, Skip{mol, reason})
			continue
		}

		SortByRef(ensemble)
		kept, removed := PruneDegenerate(ensemble)
		for _, r := range removed {
			res.Removed[mol] = append(res.Removed[mol], r.ID)
		}

		res.Energies[mol] = Relative(kept, props)
		res.Order = append(res.Order, mol)
	}
	return res, nil
}

// readEnsemble reads all three energies of every conformer. A missing
// stage directory yields a skip reason; an unreadable energy file inside
// an existing stage directory is an error.
func readEnsemble(entries []manifest.Entry) ([]Conformer, string, error) {
	confs := make([]Conformer, 0, len(entries))
	for _, e := range entries {
		for _, stage := range []string{GFN2Dir, GP3Dir, RefDir} {
			if !utils.DirExists(filepath.Join(e.WorkDir, stage)) {
				return nil, fmt.Sprintf("directory %s missing in conformer %s", stage, e.Conformer), nil
			}
		}
		c := Conformer{ID: e.Conformer}
		var err error
		if c.GFN2, err = ReadEnergy(filepath.Join(e.WorkDir, GFN2Dir, "energy")); err != nil {
			return nil, "", err
		}
		if c.GP3, err = ReadEnergy(filepath.Join(e.WorkDir, GP3Dir, "energy")); err != nil {
			return nil, "", err
		}
		if c.Ref, err = ReadEnergy(filepath.Join(e.WorkDir, RefDir, "energy")); err != nil {
			return nil, "", err
		}
		confs = append(confs, c)
	}
	return confs, "", nil
}

// WriteJSON writes the energies keyed by molecule ID with four-space
// indentation.
func (r *Result) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r.Energies, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), utils.PermFile)
}

// Summary computes the statistics over the collected molecules.
func (r *Result) Summary() Summary {
	return Summarize(r.Order, r.Energies)
}
