package config

import (
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// starlarkTimeout bounds script execution. Stage generation is expected to
// be near-instant; anything longer is a runaway loop.
const starlarkTimeout = 30 * time.Second

// evalStarlark executes a Starlark stage script and converts its exported
// globals to stage bodies. Globals whose names start with an underscore are
// treated as script-private and skipped, as are functions. The script runs
// under a cancellable thread with a hard timeout.
func evalStarlark(name string, data []byte) (map[string]interface{}, error) {
	thread := &starlark.Thread{
		Name: "stagecast",
		Print: func(_ *starlark.Thread, msg string) {
			// Script print output is discarded.
		},
	}

	done := make(chan struct{})
	timer := time.AfterFunc(starlarkTimeout, func() {
		thread.Cancel("stage script timeout")
	})
	defer func() {
		timer.Stop()
		close(done)
	}()

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	globals, err := starlark.ExecFile(thread, name, data, predeclared)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("stage script failed: %s", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("stage script failed: %w", err)
	}

	out := make(map[string]interface{})
	for gname, val := range globals {
		if strings.HasPrefix(gname, "_") {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		converted, err := fromStarlark(val)
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", gname, err)
		}
		// A dict global may define many stages at once; anything else
		// defines the single stage named after the global.
		if m, ok := converted.(map[string]interface{}); ok && gname == "stages" {
			for k, v := range m {
				out[k] = v
			}
			continue
		}
		out[gname] = converted
	}
	return out, nil
}

// fromStarlark converts a Starlark value to the document value shapes.
func fromStarlark(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			converted, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", item[0].Type())
			}
			value, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, attrName := range val.AttrNames() {
			attr, err := val.Attr(attrName)
			if err != nil {
				continue
			}
			value, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			dict[attrName] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
