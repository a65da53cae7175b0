package aggregate

import (
	"github.com/iotelemetry/mainthreadio/internal/pkg/fileio"
)

// PassThrough re-emits the first half of a group unchanged, one row per
// vector, for groups larger than Threshold. Smaller groups produce nothing.
type PassThrough struct {
	Threshold int
}

func (p PassThrough) Name() string {
	return StrategyPassThrough
}

func (p PassThrough) Rows(vectors []fileio.Vector) ([][]string, error) {
	if len(vectors) <= p.Threshold {
		return nil, nil
	}

	window := scanWindow(vectors)
	rows := make([][]string, 0, len(window))
	for _, v := range window {
		rows = append(rows, v.Fields())
	}
	return rows, nil
}
