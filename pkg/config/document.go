package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format identifies a stage-document front-end.
type Format string

const (
	// FormatYAML is the primary document format.
	FormatYAML Format = "yaml"

	// FormatCUE is the schema-validated CUE front-end.
	FormatCUE Format = "cue"

	// FormatStarlark is the programmable front-end for generated stage
	// sets.
	FormatStarlark Format = "starlark"
)

// EnvironmentKey is the reserved top-level document key that sets the
// Definition environment. It never names a stage.
const EnvironmentKey = "environment"

// Document is a parsed stage document: the mapping of stage name to stage
// body the engine loads, together with its source.
type Document struct {
	// Source is the path the document was read from, or a synthetic name
	// for inline content.
	Source string

	// Format is the front-end that produced the document.
	Format Format

	// Stages maps stage name to stage body.
	Stages map[string]interface{}

	// Environment is the environment named by the reserved top-level key,
	// empty when the document does not set one.
	Environment string

	// ParsedAt is when the document was parsed.
	ParsedAt time.Time
}

// LoadPath reads and parses a stage document, choosing the front-end by
// file extension: .yaml/.yml, .cue, or .star.
func LoadPath(path string) (*Document, error) {
	format, err := formatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage document %s: %w", path, err)
	}
	return LoadBytes(path, data, format)
}

// LoadBytes parses stage-document content with the given front-end. The
// name is used for error positions and as the document source.
func LoadBytes(name string, data []byte, format Format) (*Document, error) {
	var (
		raw map[string]interface{}
		err error
	)
	switch format {
	case FormatYAML:
		raw, err = parseYAML(data)
	case FormatCUE:
		raw, err = parseCUE(name, data)
	case FormatStarlark:
		raw, err = evalStarlark(name, data)
	default:
		return nil, fmt.Errorf("unsupported stage document format: %s", format)
	}
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Source:   name,
		Format:   format,
		Stages:   make(map[string]interface{}, len(raw)),
		ParsedAt: time.Now(),
	}
	for key, body := range raw {
		if key == EnvironmentKey {
			if env, ok := body.(string); ok {
				doc.Environment = env
			}
			continue
		}
		doc.Stages[key] = body
	}
	return doc, nil
}

// formatForPath maps a file extension to its front-end.
func formatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	case ".star":
		return FormatStarlark, nil
	default:
		return "", fmt.Errorf("unrecognized stage document extension: %s", path)
	}
}

// parseYAML parses a YAML stage document. A non-mapping top level is an
// error; an empty document yields an empty mapping.
func parseYAML(data []byte) (map[string]interface{}, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML stage document: %w", err)
	}
	if raw == nil {
		return map[string]interface{}{}, nil
	}
	normalized := normalize(raw)
	m, ok := normalized.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("stage document top level must be a mapping, got %T", raw)
	}
	return m, nil
}

// normalize converts decoder output to the map[string]interface{} / []interface{}
// shapes the engine expects, stringifying non-string mapping keys.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
