package aggregate

import (
	"github.com/iotelemetry/mainthreadio/internal/pkg/fileio"
)

// Selection names the rule Representative uses to pick its vector
type Selection string

// Selection rules
const (
	// SelectReference reproduces the historical job output: the first vector
	// of the group. The historical job meant to keep the largest total_time
	// of the first half but compared each total_time against the whole
	// winning record, a comparison that never succeeded.
	SelectReference Selection = "reference"
	// SelectPrefixMax picks the largest total_time in the first half of the
	// group, ties going to the earliest vector.
	SelectPrefixMax Selection = "prefix-max"
	// SelectMax picks the largest total_time in the whole group, ties going
	// to the earliest vector.
	SelectMax Selection = "max"
)

// Representative emits a single vector per key.
type Representative struct {
	Selection Selection
}

func (r Representative) Name() string {
	return StrategyRepresentative + "/" + string(r.Selection)
}

// argmaxTotalTime returns the index of the first vector with the largest total_time
func argmaxTotalTime(vectors []fileio.Vector) int {
	top := 0
	for idx, v := range vectors {
		if v.TotalTime > vectors[top].TotalTime {
			top = idx
		}
	}
	return top
}

// Select returns the index of the chosen vector. vectors must not be empty.
func (r Representative) Select(vectors []fileio.Vector) int {
	switch r.Selection {
	case SelectPrefixMax:
		return argmaxTotalTime(scanWindow(vectors))
	case SelectMax:
		return argmaxTotalTime(vectors)
	default:
		return 0
	}
}

func (r Representative) Rows(vectors []fileio.Vector) ([][]string, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyGroup
	}
	return [][]string{vectors[r.Select(vectors)].Fields()}, nil
}
