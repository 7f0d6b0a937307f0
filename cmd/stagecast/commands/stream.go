package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stagecast/stagecast/pkg/engine"
	"github.com/stagecast/stagecast/pkg/stores"
	"github.com/stagecast/stagecast/pkg/telemetry"
)

func newStreamCommand() *cobra.Command {
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
		Use:   "stream <document>",
		Short: "Run a pass and stream stage events as they resolve",
		Long: `Execute a stage document like run, but emit one event per stage as
resolution proceeds instead of waiting for the terminal report.

The first event carries the full stage plan. Stages then arrive in
lexicographic order, with requisite resolutions nested depth-first, so a
stage pulled forward by a dependent appears before its document position.`,
		Example: `  # Stream a pass against the fleet
  stagecast stream stages/site.yaml

  # Stream as JSON lines for machine consumption
  stagecast stream stages/site.yaml --json`,
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
				Msg("Streaming pass")

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
			rec, err := newPassRecorder(ctx, store, doc.Source, def.Env(), stores.DriverStream, def.Len())
			if err != nil {
				return err
			}
			passID := rec.PassID()
			if passID == "" {
				passID = uuid.NewString()
			}

			ctx = a.tel.WithContext(ctx)
			ctx = telemetry.WithPassContext(ctx, passID, string(stores.DriverStream), doc.Source)
			_ = a.tel.Events.PublishPassStarted(passID, string(stores.DriverStream), doc.Source)
			started := time.Now()

			stream := engine.StreamPass(ctx, def, disp)
			enc := json.NewEncoder(os.Stdout)
			invalid := 0

			for ev := range stream.Events() {
				switch {
				case ev.Definition != nil:
					printPlanEvent(enc, ev.Definition)
				case len(ev.Errors) > 0:
					invalid++
					rec.invalidStage(ctx, ev.Stage.Name, ev.Errors)
					_ = a.tel.Events.PublishStageInvalid(passID, ev.Stage.Name, ev.Errors)
					printInvalidEvent(enc, ev.Stage.Name, ev.Errors)
				default:
					out, _ := stream.State().Outcome(ev.Stage.Name)
					rec.stageResult(ctx, ev.Stage.Name, out)
					_ = a.tel.Events.PublishStageResolved(passID, ev.Stage.Name, string(out.Kind()), len(out))
					printStageEvent(enc, ev.Stage.Name, out, ev.Returns)
				}
			}

			runErr := stream.Err()
			summary := summarizeStream(def, stream.State(), invalid)

			persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer persistCancel()

			status := engine.PassStatusSucceeded
			if summary.Failed > 0 || summary.Invalid > 0 {
				status = engine.PassStatusPartial
			}
			if runErr != nil {
				status = engine.PassStatusFailed
				if errors.Is(runErr, context.Canceled) {
					status = engine.PassStatusCancelled
				}
				_ = a.tel.Events.PublishPassFailed(passID, runErr.Error())
			} else {
				_ = a.tel.Events.PublishPassCompleted(passID, string(status), time.Since(started))
			}
			rec.finish(persistCtx, status, summary, runErr)
			telemetry.EndPassContext(ctx, passID, string(stores.DriverStream), string(status), runErr)

			if !jsonOutput {
				fmt.Printf("\nPass %s: %s (%d succeeded, %d failed, %d invalid of %d)\n",
					passID, status, summary.Succeeded, summary.Failed, summary.Invalid, summary.Total)
			}
			if runErr != nil {
				return runErr
			}
			if status != engine.PassStatusSucceeded {
				return fmt.Errorf("pass %s: %d stage(s) failed, %d invalid",
					status, summary.Failed, summary.Invalid)
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

// printPlanEvent renders the leading definition event.
func printPlanEvent(enc *json.Encoder, def *engine.Definition) {
	if jsonOutput {
		stages := make([]map[string]interface{}, 0, def.Len())
		for _, st := range def.Stages() {
			stages = append(stages, map[string]interface{}{
				"name":    st.Name,
				"match":   st.Match,
				"work":    describeWork(st.Work),
				"require": st.Requisites,
			})
		}
		_ = enc.Encode(map[string]interface{}{
			"event":       "plan",
			"environment": def.Env(),
			"stages":      stages,
		})
		return
	}
	fmt.Printf("Plan: %d stage(s) in environment %q\n\n", def.Len(), def.Env())
}

// printInvalidEvent renders a stage that failed validation.
func printInvalidEvent(enc *json.Encoder, name string, errs []string) {
	if jsonOutput {
		_ = enc.Encode(map[string]interface{}{
			"event":  "invalid",
			"stage":  name,
			"errors": errs,
		})
		return
	}
	fmt.Printf("✗ %s: invalid (%s)\n", name, strings.Join(errs, "; "))
}

// printStageEvent renders one resolved stage.
func printStageEvent(enc *json.Encoder, name string, out engine.Outcome, returns map[string]interface{}) {
	if jsonOutput {
		_ = enc.Encode(map[string]interface{}{
			"event":   "stage",
			"stage":   name,
			"result":  resultWord(out),
			"targets": len(out),
			"returns": returns,
		})
		return
	}
	mark := "✓"
	if !out.OK() {
		mark = "✗"
	}
	detail := outcomeDetail(out)
	if detail != "" {
		detail = " (" + detail + ")"
	}
	fmt.Printf("%s %s: %s, %d target(s)%s\n", mark, name, resultWord(out), len(out), detail)
}

// summarizeStream folds the stream's terminal state into pass statistics.
func summarizeStream(def *engine.Definition, state *engine.RunState, invalid int) engine.PassSummary {
	sum := engine.PassSummary{
		Total:   def.Len(),
		Invalid: invalid,
	}
	for _, name := range state.Names() {
		out, _ := state.Outcome(name)
		if out.OK() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	return sum
}
