package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stagecast/stagecast/pkg/config"
	"github.com/stagecast/stagecast/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		env      string
		allowAll bool
	)

	cmd := &cobra.Command{
		Use:   "validate <document>",
		Short: "Validate a stage document",
		Long: `Validate a stage document without dispatching anything.

This command checks:
  - Document syntax (YAML, CUE, or Starlark)
  - Stage structure (selector, work form, requisites, batch)
  - Policy compliance against the loaded Rego policies`,
		Example: `  # Validate a document
  stagecast validate stages/site.yaml

  # Validate against a specific environment
  stagecast validate stages/site.yaml --env staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadAppConfig(configPath)
			if err != nil {
				return err
			}

			doc, def, err := loadDefinition(cfg, args[0], env)
			if err != nil {
				return err
			}

			log.Info().
				Str("document", doc.Source).
				Str("environment", def.Env()).
				Msg("Validating stage document")

			invalid := make(map[string][]string)
			for _, st := range def.Stages() {
				if errs := st.Validate(); len(errs) > 0 {
					invalid[st.Name] = errs
				}
			}

			policies, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if cfg.PolicyDir != "" {
				if err := policies.LoadPolicies(ctx, []string{cfg.PolicyDir}); err != nil {
					return err
				}
			}
			result, err := policies.Evaluate(ctx, def, policy.InputContext{AllowAll: allowAll})
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"document":   doc.Source,
					"stages":     def.Len(),
					"invalid":    invalid,
					"violations": result.Violations,
					"warnings":   result.Warnings,
					"valid":      len(invalid) == 0 && result.Allowed,
				}); err != nil {
					return err
				}
			} else {
				for name, errs := range invalid {
					for _, e := range errs {
						fmt.Printf("✗ stage %s: %s\n", name, e)
					}
				}
				for _, v := range result.Violations {
					fmt.Printf("✗ policy %s: %s\n", v.Policy, v.Message)
				}
				for _, w := range result.Warnings {
					fmt.Printf("! policy %s: %s\n", w.Policy, w.Message)
				}
				if len(invalid) == 0 && result.Allowed {
					fmt.Printf("✓ %s: %d stage(s) valid, %d policies evaluated\n",
						doc.Source, def.Len(), len(result.EvaluatedPolicies))
				}
			}

			if len(invalid) > 0 || !result.Allowed {
				return fmt.Errorf("%s: %d invalid stage(s), %d policy violation(s)",
					doc.Source, len(invalid), len(result.Violations))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "stage environment (overrides document and config)")
	cmd.Flags().BoolVar(&allowAll, "allow-all", false, "permit wildcard target selectors")

	return cmd
}
