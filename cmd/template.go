package cmd

import (
	"fmt"
	"os"

	"github.com/getrandompcmol/qmbatch/internal/config"
	"github.com/getrandompcmol/qmbatch/internal/template"
	"github.com/getrandompcmol/qmbatch/internal/utils"
	"github.com/spf13/cobra"
)

var (
	templateOutput string
	templateForce  bool
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print or write the job template",
	Long: `Print the job template submit would copy into each working directory.

Without --output the resolved template is printed: an explicit
submit.template, a site template found in the search directories, or the
built-in one. With --output the built-in template is written for editing.

Search directories (first match of submit.template_name wins):
  1. Run root
  2. User data directory (~/.local/share/qmbatch/templates)
  3. System data directory (/usr/local/share/qmbatch/templates)`,
	Example: `  qmbatch template                          # Show the template in use
  qmbatch template -o job_tm771.txt         # Write the built-in template
  qmbatch template -o job_tm771.txt --force # Overwrite an existing file`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runTemplate,
}

func init() {
	rootCmd.AddCommand(templateCmd)
	templateCmd.Flags().StringVarP(&templateOutput, "output", "o", "", "Write the built-in template to this file")
	templateCmd.Flags().BoolVarP(&templateForce, "force", "f", false, "Overwrite an existing output file")
}

func runTemplate(cmd *cobra.Command, args []string) error {
	if templateOutput != "" {
		if utils.FileExists(templateOutput) && !templateForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", templateOutput)
		}
		if err := template.Write(templateOutput, templateOptions(), config.VERSION); err != nil {
			return err
		}
		utils.PrintSuccess("Wrote job template to %s", utils.StylePath(templateOutput))
		return nil
	}

	path := config.FindTemplate()
	data, err := template.Load(path, templateOptions(), config.VERSION)
	if err != nil {
		return err
	}
	if path != "" {
		utils.PrintNote("Template: %s", utils.StylePath(path))
	} else {
		utils.PrintNote("Template: built-in")
	}
	_, err = os.Stdout.Write(data)
	return err
}
