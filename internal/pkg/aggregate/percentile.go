package aggregate

import (
	"fmt"
	"strconv"

	"github.com/iotelemetry/mainthreadio/internal/pkg/fileio"
	"github.com/montanaflynn/stats"
)

// PercentileSummary emits one row per key:
//
//	count, p(total_time), p(total ops), p(n_open), p(n_read), p(n_write), p(n_fsync), p(n_stat)
//
// where p is the Percentile-th percentile over the first half of the group,
// or over the whole group when that half is empty.
type PercentileSummary struct {
	Percentile float64
}

func (p PercentileSummary) Name() string {
	return StrategyPercentile
}

func (p PercentileSummary) Rows(vectors []fileio.Vector) ([][]string, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyGroup
	}

	window := scanWindow(vectors)
	if len(window) == 0 {
		window = vectors
	}

	columns := []func(fileio.Vector) float64{
		func(v fileio.Vector) float64 { return v.TotalTime },
		fileio.Vector.TotalOps,
		func(v fileio.Vector) float64 { return v.Opens },
		func(v fileio.Vector) float64 { return v.Reads },
		func(v fileio.Vector) float64 { return v.Writes },
		func(v fileio.Vector) float64 { return v.Fsyncs },
		func(v fileio.Vector) float64 { return v.Stats },
	}

	row := []string{strconv.Itoa(len(window))}
	series := make(stats.Float64Data, len(window))
	for col, column := range columns {
		for i, v := range window {
			series[i] = column(v)
		}
		pct, err := p.percentile(series)
		if err != nil {
			return nil, fmt.Errorf("percentile of column %d: %w", col, err)
		}
		row = append(row, fileio.FormatNumber(pct))
	}
	return [][]string{row}, nil
}

// percentile is stats.Percentile, except that percentiles ranking below the
// first sample (which stats.Percentile rejects) resolve to the minimum.
func (p PercentileSummary) percentile(series stats.Float64Data) (float64, error) {
	if len(series) > 1 && p.Percentile*float64(len(series)) < 100 {
		return stats.Min(series)
	}
	return stats.Percentile(series, p.Percentile)
}
