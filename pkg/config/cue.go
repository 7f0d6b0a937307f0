package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// stageSchema constrains CUE stage documents at parse time. The YAML
// front-end accepts the same shapes and leaves checking to the engine; CUE
// authors get the errors up front.
const stageSchema = `
#Stage: {
	match?:    string | [...string]
	sls?:      string | [...string]
	function?: string | {[string]: _}
	fun?:      string | {[string]: _}
	fun_args?: [..._]
	require?:  string | [...string]
	batch?:    string | int
	...
}
`

// parseCUE compiles and validates a CUE stage document and decodes it to
// the engine's mapping shape. Every concrete top-level field except the
// reserved environment key must satisfy the stage schema.
func parseCUE(name string, data []byte) (map[string]interface{}, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(stageSchema, cue.Filename("stage_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("internal stage schema error: %w", err)
	}
	stageDef := schema.LookupPath(cue.ParsePath("#Stage"))

	val := ctx.CompileString(string(data), cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, cueError(name, err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(name, err)
	}

	iter, err := val.Fields(cue.Concrete(true))
	if err != nil {
		return nil, cueError(name, err)
	}
	out := make(map[string]interface{})
	for iter.Next() {
		key := iter.Selector().Unquoted()
		field := iter.Value()
		if key != EnvironmentKey {
			if err := stageDef.Unify(field).Validate(cue.Concrete(true)); err != nil {
				return nil, fmt.Errorf("stage %q does not satisfy the stage schema: %w", key, err)
			}
		}
		var decoded interface{}
		if err := field.Decode(&decoded); err != nil {
			return nil, fmt.Errorf("failed to decode stage %q: %w", key, err)
		}
		out[key] = normalize(decoded)
	}
	return out, nil
}

// cueError folds a CUE error list into one error with positions.
func cueError(name string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("failed to parse CUE stage document %s: %w", name, err)
	}
	var sb strings.Builder
	for i, e := range errs {
		if i > 0 {
			sb.WriteString("; ")
		}
		pos := cueerrors.Positions(e)
		if len(pos) > 0 {
			fmt.Fprintf(&sb, "%s:%d:%d: ", pos[0].Filename(), pos[0].Line(), pos[0].Column())
		}
		sb.WriteString(e.Error())
	}
	return fmt.Errorf("failed to parse CUE stage document: %s", sb.String())
}
