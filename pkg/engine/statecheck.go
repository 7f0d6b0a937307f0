package engine

// CheckStateResult reports whether a state-form return value represents
// success. The value must be a mapping of step tags to step results; every
// step must carry a result field that is not false. An empty mapping is
// vacuously successful; anything that is not a mapping is a failure.
func CheckStateResult(ret interface{}) bool {
	steps, ok := ret.(map[string]interface{})
	if !ok {
		return false
	}
	for _, v := range steps {
		step, ok := v.(map[string]interface{})
		if !ok {
			return false
		}
		result, ok := step["result"]
		if !ok {
			return false
		}
		if result == false {
			return false
		}
	}
	return true
}
