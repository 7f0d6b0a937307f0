// Package telemetry provides observability instrumentation for Stagecast.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified
// system for monitoring execution passes.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "stagecast"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx := tel.WithContext(context.Background())
//
// # Structured Logging
//
// Loggers carry component and pass context:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithPassID("pass-123").WithStage("web")
//	logger.Info("stage resolved")
//	logger.WithError(err).Error("dispatch failed")
//
// # Pass Instrumentation
//
// The context helpers tie the three signal types together per pass:
//
//	ctx = telemetry.WithPassContext(ctx, passID, "eager", docPath)
//	defer telemetry.EndPassContext(ctx, passID, "eager", status, err)
//
// # Metrics
//
// Key metrics exposed under the configured namespace:
//
//   - passes_started_total{driver}
//   - passes_completed_total{driver,status}
//   - pass_duration_seconds{driver,status}
//   - stages_resolved_total{outcome}
//   - requisite_failures_total{retcode}
//   - dispatch_calls_total{adapter,fun}
//   - dispatch_duration_seconds{adapter}
//   - target_failures_total{adapter}
//   - active_passes
//
// Metrics are exposed via HTTP at the configured listen address when
// enabled.
//
// # Events
//
// The event publisher delivers stage transitions to subscribers, backing
// both the CLI progress renderer and the pass history event log:
//
//	tel.Events.Subscribe(func(ev telemetry.Event) {
//	    fmt.Printf("%s: %s\n", ev.Type, ev.Message)
//	}, nil)
//
// # Tracing
//
// Supported exporters: "otlp" (production, gRPC), "stdout" (development),
// "none" (generate but do not export). Pass, stage, and dispatch spans nest
// naturally through the context.
package telemetry
