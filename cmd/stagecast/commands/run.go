package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stagecast/stagecast/pkg/engine"
	"github.com/stagecast/stagecast/pkg/stores"
	"github.com/stagecast/stagecast/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		env       string
		local     bool
		stateDir  string
		pluginDir string
		runnerBin string
		allowAll  bool
		noHistory bool
	)

	cmd := &cobra.Command{
		Use:   "run <document>",
		Short: "Run a pass over a stage document",
		Long: `Execute every stage of a stage document to completion.

This command:
  - Parses the document (YAML, CUE, or Starlark)
  - Gates it against the loaded Rego policies
  - Resolves stages in lexicographic order, requisites first
  - Dispatches work to the fleet over SSH (or in-process with --local)
  - Records the pass in the history store

The pass resolves every stage even when earlier stages fail; failed or
missing requisites are recorded against the dependent stage instead of
aborting the pass.`,
		Example: `  # Run a pass against the fleet
  stagecast run stages/site.yaml

  # Run in-process without SSH
  stagecast run stages/site.yaml --local

  # Override the environment and skip history
  stagecast run stages/site.yaml --env staging --no-history`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, cleanup, err := loadApp(ctx, appVersion)
			if err != nil {
				return err
			}
			defer cleanup()

			doc, def, err := loadDefinition(a.cfg, args[0], env)
			if err != nil {
				return err
			}

			log.Info().
				Str("document", doc.Source).
				Str("environment", def.Env()).
				Int("stages", def.Len()).
				Bool("local", local).
				Msg("Running pass")

			if err := a.gate(ctx, def, allowAll); err != nil {
				return err
			}

			disp, dclose, err := a.dispatcher(ctx, local, stateDir, pluginDir, runnerBin)
			if err != nil {
				return err
			}
			defer dclose()

			store := a.store
			if noHistory {
				store = nil
			}
			rec, err := newPassRecorder(ctx, store, doc.Source, def.Env(), stores.DriverEager, def.Len())
			if err != nil {
				return err
			}
			passID := rec.PassID()
			if passID == "" {
				passID = uuid.NewString()
			}

			ctx = a.tel.WithContext(ctx)
			ctx = telemetry.WithPassContext(ctx, passID, string(stores.DriverEager), doc.Source)
			_ = a.tel.Events.PublishPassStarted(passID, string(stores.DriverEager), doc.Source)
			started := time.Now()

			report, runErr := engine.RunPass(ctx, def, disp)

			// Persist outcomes on a fresh context so a cancelled pass is
			// still recorded.
			persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer persistCancel()

			for name, out := range report.State.Snapshot() {
				rec.stageResult(persistCtx, name, out)
				_ = a.tel.Events.PublishStageResolved(passID, name, string(out.Kind()), len(out))
			}
			for name, errs := range report.Invalid {
				rec.invalidStage(persistCtx, name, errs)
				_ = a.tel.Events.PublishStageInvalid(passID, name, errs)
			}

			status := report.Status()
			if runErr != nil {
				status = engine.PassStatusFailed
				if errors.Is(runErr, context.Canceled) {
					status = engine.PassStatusCancelled
				}
				_ = a.tel.Events.PublishPassFailed(passID, runErr.Error())
			} else {
				_ = a.tel.Events.PublishPassCompleted(passID, string(status), time.Since(started))
			}
			rec.finish(persistCtx, status, report.Summary, runErr)
			telemetry.EndPassContext(ctx, passID, string(stores.DriverEager), string(status), runErr)

			if err := renderReport(passID, def, report, status); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if status != engine.PassStatusSucceeded {
				return fmt.Errorf("pass %s: %d stage(s) failed, %d invalid",
					status, report.Summary.Failed, report.Summary.Invalid)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "stage environment (overrides document and config)")
	cmd.Flags().BoolVar(&local, "local", false, "dispatch in-process instead of over SSH")
	cmd.Flags().StringVar(&stateDir, "state-dir", "states", "state file directory for local dispatch")
	cmd.Flags().StringVar(&pluginDir, "plugins", "", "WASM plugin directory for local dispatch")
	cmd.Flags().StringVar(&runnerBin, "runner", "", "stage-runner binary uploaded to SSH targets")
	cmd.Flags().BoolVar(&allowAll, "allow-all", false, "permit wildcard target selectors")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the pass in the history store")

	return cmd
}

// renderReport prints the pass outcome, as a table or as JSON.
func renderReport(passID string, def *engine.Definition, report *engine.Report, status engine.PassStatus) error {
	if jsonOutput {
		stages := make(map[string]interface{})
		for name, out := range report.State.Snapshot() {
			stages[name] = engine.ReduceOutcome(out)
		}
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"pass_id":     passID,
			"status":      status,
			"environment": def.Env(),
			"summary":     report.Summary,
			"stages":      stages,
			"invalid":     report.Invalid,
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tRESULT\tTARGETS\tDETAIL")
	for _, name := range def.Names() {
		if errs := report.Invalid[name]; len(errs) > 0 {
			fmt.Fprintf(w, "%s\tinvalid\t-\t%s\n", name, strings.Join(errs, "; "))
			continue
		}
		out, ok := report.State.Outcome(name)
		if !ok {
			fmt.Fprintf(w, "%s\tskipped\t-\t\n", name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, resultWord(out), len(out), outcomeDetail(out))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nPass %s: %s (%d succeeded, %d failed, %d invalid of %d)\n",
		passID, status,
		report.Summary.Succeeded, report.Summary.Failed,
		report.Summary.Invalid, report.Summary.Total)
	return nil
}

// resultWord names an outcome for table display.
func resultWord(out engine.Outcome) string {
	switch {
	case out.IsRequisiteFailure():
		return "requisite"
	case out.OK():
		return "ok"
	default:
		return "failed"
	}
}

// outcomeDetail summarizes an outcome's failing targets, if any.
func outcomeDetail(out engine.Outcome) string {
	if out.IsRequisiteFailure() {
		res := out[engine.RequisiteFailureTarget]
		return fmt.Sprintf("%v", res.Return)
	}

	var failed []string
	for target, res := range out {
		if !res.OK() {
			failed = append(failed, target)
		}
	}
	if len(failed) == 0 {
		return ""
	}
	sort.Strings(failed)
	return "failed on " + strings.Join(failed, ", ")
}
