package collect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/getrandompcmol/qmbatch/internal/worker"
)

const (
	ArchiveDir    = "res_archive"
	ArchivePrefix = "RNDCONF"
	ArchiveScript = "res.sh"
)

// ArchiveFiles are copied from every conformer's TZ directory.
var ArchiveFiles = []string{"energy", "control", "coord", "ridft.out", "gradient", "basis"}

const resHeader = `#!/bin/bash

# wB97X-D4/def2-TZVPPD // wB97X-3c at CREST(GFN2-xTB) conformers

if [ "$TMER" == "" ]
then
   tmer=tmer2++
else
   tmer=$TMER
fi
f=$1
if [ -z $2 ]
then
   w=0
else
   w=$2
fi
`

// Archiver packs the reference results of collected molecules into
// <root>/res_archive, one RNDCONF_<mol>_<k> directory per conformer with
// k=1 the lowest one, plus a res.sh listing every relative energy.
type Archiver struct {
	Root      string
	Converter string // mctc-convert
	Runner    worker.Runner
	Wipe      bool // replace an existing archive instead of failing
}

// Archive writes the archive for res and returns the number of conformer
// directories created. An existing archive is an ErrArchiveExists error
// unless Wipe is set.
func (a *Archiver) Archive(ctx context.Context, res *Result) (int, error) {
	if len(res.Order) == 0 {
		return 0, nil
	}

	dir := filepath.Join(a.Root, ArchiveDir)
	if utils.DirExists(dir) {
		if !a.Wipe {
			return 0, fmt.Errorf("%w: %s", ErrArchiveExists, dir)
		}
		utils.PrintWarning("Wiping existing %s", utils.StylePath(dir))
		if err := os.RemoveAll(dir); err != nil {
			return 0, err
		}
	}
	if err := utils.EnsureDir(dir); err != nil {
		return 0, err
	}

	var script strings.Builder
	script.WriteString(resHeader)

	count := 0
	for _, mol := range res.Order {
		e := res.Energies[mol]
		if len(e.ConformerLowest) != 1 {
			return count, fmt.Errorf("molecule %s: expected one lowest conformer, got %d", mol, len(e.ConformerLowest))
		}
		if len(e.Ref) != len(e.ConformerIndex) {
			return count, fmt.Errorf("molecule %s: %d energies for %d conformers", mol, len(e.Ref), len(e.ConformerIndex))
		}

		files := ArchiveFiles
		if e.Charge != 0 {
			files = append(append([]string(nil), ArchiveFiles...), ".CHRG")
		}

		confs := append([]string{e.ConformerLowest[0]}, e.ConformerIndex...)
		first := archiveName(mol, 1) + "/"
		for i, conf := range confs {
			k := i + 1
			if err := a.archiveConformer(ctx, filepath.Join(a.Root, mol, conf, RefDir), filepath.Join(dir, archiveName(mol, k)), files); err != nil {
				return count, err
			}
			count++

			if k == 1 {
				fmt.Fprintf(&script, "\n# CID: %s\n", mol)
				continue
			}
			fmt.Fprintf(&script, "$tmer %25s$f %25s$f   x    -1  1   $w%10.6f\n", first, archiveName(mol, k)+"/", e.Ref[i-1])
		}
	}

	if err := os.WriteFile(filepath.Join(dir, ArchiveScript), []byte(script.String()), utils.PermExec); err != nil {
		return count, err
	}
	return count, nil
}

func archiveName(mol string, k int) string {
	return fmt.Sprintf("%s_%s_%d", ArchivePrefix, mol, k)
}

// archiveConformer copies the TZ files to dst/TZ, the geometry to dst/coord
// and converts it to dst/struc.xyz.
func (a *Archiver) archiveConformer(ctx context.Context, src, dst string, files []string) error {
	if err := utils.EnsureDir(filepath.Join(dst, RefDir)); err != nil {
		return err
	}
	for _, name := range files {
		from := filepath.Join(src, name)
		if !utils.FileExists(from) {
			return fmt.Errorf("archiving: %s not found", from)
		}
		if err := utils.CopyFile(from, filepath.Join(dst, RefDir, name)); err != nil {
			return err
		}
	}
	if err := utils.CopyFile(filepath.Join(src, "coord"), filepath.Join(dst, "coord")); err != nil {
		return err
	}

	bin := a.Converter
	if bin == "" {
		bin = "mctc-convert"
	}
	_, err := a.Runner.Run(ctx, worker.Command{
		Name: bin,
		Args: []string{"coord", "struc.xyz", "--normalize"},
		Dir:  dst,
	})
	if err != nil {
		return fmt.Errorf("converting %s: %w", filepath.Join(dst, "coord"), err)
	}
	return nil
}
