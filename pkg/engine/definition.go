package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Definition is the full, lexicographically ordered set of stages for one
// orchestration run. It is created once at load time and immutable
// thereafter; execution order is alphabetical by stage name, independent of
// declaration order in the source document.
type Definition struct {
	stages []*Stage
	index  map[string]*Stage
	env    string
}

// Load turns a parsed stage document into a Definition. The input must be a
// mapping of stage name to stage body; anything else returns an empty
// Definition and a definition error, which callers may recover from by
// treating the document as defining no stages. A nil input is an empty
// document, not an error. An empty env selects DefaultEnv.
func Load(input interface{}, env string) (*Definition, error) {
	if env == "" {
		env = DefaultEnv
	}
	def := &Definition{
		index: make(map[string]*Stage),
		env:   env,
	}
	if input == nil {
		return def, nil
	}

	parsed, ok := input.(map[string]interface{})
	if !ok {
		return def, NewPermanentError(
			"stage document must be a mapping of stage names to stage bodies", nil).
			WithCode(ErrCodeDefinition).
			WithDetail("type", fmt.Sprintf("%T", input))
	}

	names := make([]string, 0, len(parsed))
	for name := range parsed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st := parseStage(name, parsed[name])
		def.stages = append(def.stages, st)
		def.index[name] = st
	}
	return def, nil
}

// NewDefinition builds a Definition from already constructed stages, sorting
// them by name. An empty env selects DefaultEnv.
func NewDefinition(stages []*Stage, env string) *Definition {
	if env == "" {
		env = DefaultEnv
	}
	def := &Definition{
		stages: make([]*Stage, len(stages)),
		index:  make(map[string]*Stage, len(stages)),
		env:    env,
	}
	copy(def.stages, stages)
	sort.Slice(def.stages, func(i, j int) bool {
		return def.stages[i].Name < def.stages[j].Name
	})
	for _, st := range def.stages {
		def.index[st.Name] = st
	}
	return def
}

// Stages returns the stages in execution order. The returned slice is the
// Definition's own ordering and must not be modified.
func (d *Definition) Stages() []*Stage {
	return d.stages
}

// Lookup returns the stage with the given name.
func (d *Definition) Lookup(name string) (*Stage, bool) {
	st, ok := d.index[name]
	return st, ok
}

// Has reports whether a stage with the given name is defined.
func (d *Definition) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Names returns all stage names in execution order.
func (d *Definition) Names() []string {
	names := make([]string, len(d.stages))
	for i, st := range d.stages {
		names[i] = st.Name
	}
	return names
}

// Env returns the environment the Definition was loaded under.
func (d *Definition) Env() string {
	return d.env
}

// Len returns the number of stages.
func (d *Definition) Len() int {
	return len(d.stages)
}

// parseStage converts one stage body from the source document. Work-form
// resolution happens here, once: a state list wins over a function, an
// explicit function wins over the short fun key, and an empty function
// specification degenerates to a no-op. A body that is not a mapping
// produces a stage that fails validation rather than aborting the load.
func parseStage(name string, body interface{}) *Stage {
	st := &Stage{
		Name: name,
		Work: Work{Kind: WorkHighstate},
	}
	raw, ok := body.(map[string]interface{})
	if !ok {
		return st
	}
	st.Raw = raw

	st.Match = parseMatch(raw["match"])
	st.Requisites = toStringList(raw["require"])
	if b, ok := raw["batch"]; ok {
		st.Batch = fmt.Sprintf("%v", b)
	}

	if sls, ok := raw["sls"]; ok {
		st.Work = Work{Kind: WorkStateList, States: toStringList(sls)}
		return st
	}

	fun, ok := raw["function"]
	if !ok {
		fun, ok = raw["fun"]
	}
	if !ok {
		return st
	}
	st.Work = parseFunction(fun, raw["fun_args"])
	return st
}

// parseMatch normalizes the target selector: a list of alternatives is
// joined into a single " or " expression.
func parseMatch(v interface{}) string {
	switch m := v.(type) {
	case string:
		return m
	case []interface{}:
		return strings.Join(toStringList(m), " or ")
	case []string:
		return strings.Join(m, " or ")
	default:
		return ""
	}
}

// parseFunction resolves the function work form. A falsy specification
// (nil, empty string, empty mapping) yields a no-op. A string names the
// function directly, with positional arguments taken from the sibling
// fun_args key; a mapping carries the function name as its key and the
// arguments as its value.
func parseFunction(fun, funArgs interface{}) Work {
	switch f := fun.(type) {
	case string:
		if f == "" {
			return Work{Kind: WorkNoop}
		}
		return Work{Kind: WorkFunction, Fun: f, Args: toArgList(funArgs)}
	case map[string]interface{}:
		if len(f) == 0 {
			return Work{Kind: WorkNoop}
		}
		keys := make([]string, 0, len(f))
		for k := range f {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Work{Kind: WorkFunction, Fun: keys[0], Args: toArgList(f[keys[0]])}
	default:
		return Work{Kind: WorkNoop}
	}
}

// toStringList accepts the scalar-or-list forms the document grammar allows
// for name lists.
func toStringList(v interface{}) []string {
	switch l := v.(type) {
	case string:
		return []string{l}
	case []string:
		out := make([]string, len(l))
		copy(out, l)
		return out
	case []interface{}:
		out := make([]string, 0, len(l))
		for _, item := range l {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}

// toArgList normalizes a function argument specification to a positional
// argument list.
func toArgList(v interface{}) []interface{} {
	switch a := v.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]interface{}, len(a))
		copy(out, a)
		return out
	default:
		return []interface{}{a}
	}
}
