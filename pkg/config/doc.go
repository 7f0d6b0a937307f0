// Package config loads stage documents and the application configuration.
//
// Stage documents map stage names to stage bodies and come in three
// formats, chosen by file extension:
//
//   - YAML (.yaml, .yml): the primary format
//   - CUE (.cue): schema-validated at parse time
//   - Starlark (.star): executable scripts for generated stage sets
//
// All three front-ends produce the same normalized mapping, which the
// engine loads into a Definition. A reserved top-level "environment" key
// sets the Definition environment and never names a stage.
//
//	doc, err := config.LoadPath("stages.yaml")
//	def, err := engine.Load(doc.Stages, doc.Environment)
//
// The application configuration (stagecast.yaml) is plain YAML validated
// with struct tags; missing files and missing sections fall back to
// defaults.
package config
