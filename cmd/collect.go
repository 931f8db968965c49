package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/getrandompcmol/qmbatch/internal/collect"
	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/getrandompcmol/qmbatch/internal/worker"
	"github.com/spf13/cobra"
)

var (
	collectRoot    string
	collectOutput  string
	collectBrief   bool
	collectArchive bool
	collectWipe    bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect energies of finished jobs and compare GFN2 and GP3",
	Long: `Read the TZ, gp3 and gfn2 energies of every conformer, order each
molecule's ensemble by the TZ reference, drop near-degenerate conformers
(below 0.01 kcal/mol apart, never fewer than three kept) and write
relative energies in kcal/mol to energies.json.

Prints per-molecule Spearman rank correlations and RMSDs of GFN2 and GP3
against the reference, with their mean and standard deviation.
Charged molecules and molecules with missing stage directories are skipped.

With --archive the TZ results of every collected conformer are copied to
res_archive/RNDCONF_<molecule>_<k> (k=1 is the lowest conformer), each
geometry is converted to struc.xyz with mctc-convert, and res_archive/res.sh
lists the relative reference energies. An existing archive stops the run
unless --wipe is given.`,
	Example: `  qmbatch collect                      # Collect under the current run root
  qmbatch collect --root /scratch/run1
  qmbatch collect -o results.json --brief
  qmbatch collect --archive --wipe      # Rebuild res_archive`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().StringVarP(&collectRoot, "root", "r", "", "Run root holding the manifests (default: submit.root or current directory)")
	collectCmd.Flags().StringVarP(&collectOutput, "output", "o", collect.OutputFile, "Output file, relative to the run root")
	collectCmd.Flags().BoolVar(&collectBrief, "brief", false, "Only print the summary, not the per-molecule table")
	collectCmd.Flags().BoolVar(&collectArchive, "archive", false, "Also build res_archive with res.sh from the TZ results")
	collectCmd.Flags().BoolVar(&collectWipe, "wipe", false, "Replace an existing res_archive (with --archive)")
}

func runCollect(cmd *cobra.Command, args []string) error {
	root := config.Global.Submit.Root
	if collectRoot != "" {
		abs, err := filepath.Abs(collectRoot)
		if err != nil {
			return err
		}
		root = abs
	}

	c := &collect.Collector{
		Root:              root,
		Manifest:          config.Global.Submit.Manifest,
		ConformerManifest: config.Global.Submit.ConformerManifest,
	}
	res, err := c.Collect()
	if err != nil {
		return err
	}

	for _, s := range res.Skipped {
		utils.PrintWarning("Skipping molecule %s: %s", utils.StyleName(s.Molecule), s.Reason)
	}
	for _, mol := range res.Order {
		if removed := res.Removed[mol]; len(removed) > 0 {
			utils.PrintWarning("Molecule %s: dropped near-degenerate conformer(s) %s",
				utils.StyleName(mol), strings.Join(removed, ", "))
		}
	}

	out := collectOutput
	if !filepath.IsAbs(out) {
		out = filepath.Join(root, out)
	}
	if err := res.WriteJSON(out); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	utils.PrintSuccess("Wrote %s molecules to %s", utils.StyleNumber(len(res.Order)), utils.StylePath(out))

	printSummary(res.Summary(), !collectBrief)

	if collectArchive {
		a := &collect.Archiver{
			Root:      root,
			Converter: config.Global.Tools.MctcConvert,
			Runner:    worker.ExecRunner{},
			Wipe:      collectWipe,
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		n, err := a.Archive(ctx, res)
		if err != nil {
			return err
		}
		fmt.Println()
		utils.PrintSuccess("Archived %s conformers to %s", utils.StyleNumber(n), utils.StylePath(filepath.Join(root, collect.ArchiveDir)))
	}
	return nil
}

func printSummary(s collect.Summary, perMolecule bool) {
	if perMolecule {
		fmt.Println()
		fmt.Println(utils.StyleTitle("Spearman rank correlation and RMSD (kcal/mol) per molecule:"))
		fmt.Printf("  %10s %8s %8s %8s %8s\n", "Mol", "rs GFN2", "rs GP3", "RMSD GFN2", "RMSD GP3")
		for _, m := range s.Molecules {
			rs := fmt.Sprintf("%8s %8s", "-", "-")
			if m.SpearmanOK {
				rs = fmt.Sprintf("%8.3f %8.3f", m.SpearmanGFN2, m.SpearmanGP3)
			}
			rmsd := fmt.Sprintf("%9s %8s", "-", "-")
			if m.RMSDOK {
				rmsd = fmt.Sprintf("%9.3f %8.3f", m.RMSDGFN2, m.RMSDGP3)
			}
			fmt.Printf("  %10s %s %s\n", m.ID, rs, rmsd)
		}
	}

	fmt.Println()
	fmt.Println(utils.StyleTitle("Spearman rank correlation, mean and std. dev.:"))
	fmt.Printf("  GFN2: %6.3f   %6.3f\n", s.SpearmanGFN2.Mean, s.SpearmanGFN2.StdDev)
	fmt.Printf("  GP3:  %6.3f   %6.3f\n", s.SpearmanGP3.Mean, s.SpearmanGP3.StdDev)
	fmt.Println(utils.StyleTitle("Molecules where the rank correlation is better:"))
	printTally(s.SpearmanBetter)

	fmt.Println()
	fmt.Println(utils.StyleTitle("RMSD, mean and std. dev.:"))
	fmt.Printf("  GFN2: %6.3f   %6.3f\n", s.RMSDGFN2.Mean, s.RMSDGFN2.StdDev)
	fmt.Printf("  GP3:  %6.3f   %6.3f\n", s.RMSDGP3.Mean, s.RMSDGP3.StdDev)
	fmt.Println(utils.StyleTitle("Molecules where the RMSD is better:"))
	printTally(s.RMSDBetter)

	fmt.Println()
	fmt.Printf("Total number of data points: %s\n", utils.StyleNumber(s.DataPoints))
	fmt.Printf("Total number of molecules:   %s\n", utils.StyleNumber(s.MoleculeCount))
}

func printTally(t collect.Tally) {
	fmt.Printf("  GFN2:  %6d\n", t.GFN2)
	fmt.Printf("  GP3:   %6d\n", t.GP3)
	fmt.Printf("  equal: %6d\n", t.Equal)
}
