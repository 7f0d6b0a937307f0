package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stagecast/stagecast/pkg/config"
)

func newShowCommand() *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "show <document>",
		Short: "Show the stage plan of a document",
		Long: `Parse a stage document and print the plan the engine would resolve:
every stage in lexicographic order with its target selector, unit of
work, requisites, and batch setting. Nothing is dispatched.`,
		Example: `  # Show the plan
  stagecast show stages/site.yaml

  # Show as JSON
  stagecast show stages/site.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAppConfig(configPath)
			if err != nil {
				return err
			}

			doc, def, err := loadDefinition(cfg, args[0], env)
			if err != nil {
				return err
			}

			if jsonOutput {
				stages := make([]map[string]interface{}, 0, def.Len())
				for _, st := range def.Stages() {
					stages = append(stages, map[string]interface{}{
						"name":    st.Name,
						"match":   st.Match,
						"work":    describeWork(st.Work),
						"require": st.Requisites,
						"batch":   st.Batch,
					})
				}
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"document":    doc.Source,
					"format":      doc.Format,
					"environment": def.Env(),
					"stages":      stages,
				})
			}

			fmt.Printf("Document: %s (%s), environment %q, %d stage(s)\n\n",
				doc.Source, doc.Format, def.Env(), def.Len())

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tMATCH\tWORK\tREQUIRE\tBATCH")
			for _, st := range def.Stages() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					st.Name, st.Match, describeWork(st.Work),
					strings.Join(st.Requisites, ", "), st.Batch)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "stage environment (overrides document and config)")

	return cmd
}
