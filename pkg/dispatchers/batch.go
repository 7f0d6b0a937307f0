// Package dispatchers holds the dispatch adapters that execute stage
// functions against targets, plus the batching logic they share.
package dispatchers

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBatch resolves a batch spec against a target count. The spec is
// either an absolute count ("3") or a percentage of the total ("25%").
// The result is clamped to at least one target and at most the total; an
// empty spec means no batching (everything in one partition).
func ParseBatch(spec string, total int) (int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return total, nil
	}

	if strings.HasSuffix(spec, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(spec, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid batch percentage %q: %w", spec, err)
		}
		if pct <= 0 || pct > 100 {
			return 0, fmt.Errorf("batch percentage %q out of range (0, 100]", spec)
		}
		size := int(float64(total) * pct / 100)
		if size < 1 {
			size = 1
		}
		return size, nil
	}

	size, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid batch count %q: %w", spec, err)
	}
	if size < 1 {
		return 0, fmt.Errorf("batch count %q must be positive", spec)
	}
	if size > total && total > 0 {
		size = total
	}
	return size, nil
}

// Partition splits targets into consecutive batches of at most size.
func Partition(targets []string, size int) [][]string {
	if size <= 0 || len(targets) == 0 {
		return nil
	}
	var batches [][]string
	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		batches = append(batches, targets[start:end])
	}
	return batches
}
