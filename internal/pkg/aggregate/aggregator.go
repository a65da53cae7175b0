package aggregate

import (
	"fmt"
	"strings"

	"github.com/iotelemetry/mainthreadio"
	"github.com/iotelemetry/mainthreadio/internal/pkg/fileio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var groupSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "mainthreadio_group_size",
	Help:    "Number of feature vectors reduced per key",
	Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1 to ~262k
})

// Aggregator is the reduce side of the job. It decodes a key's vectors and
// hands them to its Strategy. The field separator joining output fields is
// fixed when the Aggregator is created.
type Aggregator struct {
	strategy  Strategy
	separator string
}

// New creates an Aggregator from c
func New(c Config) (*Aggregator, error) {
	strategy, err := NewStrategy(c)
	if err != nil {
		return nil, err
	}
	log.Debugf("Reducing with strategy %s", strategy.Name())
	return &Aggregator{
		strategy:  strategy,
		separator: c.Separator,
	}, nil
}

// Aggregate decodes values, in order, and returns the joined output rows.
// Any value that doesn't decode to a vector fails the whole group.
func (a *Aggregator) Aggregate(values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	vectors := make([]fileio.Vector, len(values))
	for i, value := range values {
		v, err := fileio.DecodeVector(value)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		vectors[i] = v
	}

	rows, err := a.strategy.Rows(vectors)
	if err != nil {
		return nil, err
	}

	joined := make([]string, len(rows))
	for i, row := range rows {
		joined[i] = strings.Join(row, a.separator)
	}
	return joined, nil
}

// Reduce implements mainthreadio.Reducer
func (a *Aggregator) Reduce(key string, values mainthreadio.ValueIterator, emitter mainthreadio.Emitter) error {
	collected := values.Collect()
	groupSize.Observe(float64(len(collected)))

	rows, err := a.Aggregate(collected)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := emitter.Emit(key, row); err != nil {
			return err
		}
	}
	return nil
}
