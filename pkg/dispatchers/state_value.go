package dispatchers

import (
	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

// StateResultValue converts an applied state result into the loosely
// typed mapping the engine checks structurally: step tag to a map whose
// "result" key must not be false.
func StateResultValue(res *protocol.StateApplyResult) map[string]interface{} {
	out := make(map[string]interface{}, len(res.Steps))
	for tag, step := range res.Steps {
		m := map[string]interface{}{"result": step.Result}
		if step.Comment != "" {
			m["comment"] = step.Comment
		}
		if len(step.Changes) > 0 {
			m["changes"] = step.Changes
		}
		out[tag] = m
	}
	return out
}
