package aggregate

import (
	"errors"
	"fmt"

	"github.com/iotelemetry/mainthreadio/internal/pkg/fileio"
)

// ErrEmptyGroup is returned when a strategy is handed no vectors
var ErrEmptyGroup = errors.New("empty group")

// Strategy reduces the vectors of one key to output rows, each row a list
// of fields. Implementations are pure functions of the vector sequence.
type Strategy interface {
	Name() string
	Rows(vectors []fileio.Vector) ([][]string, error)
}

// Names of the available strategies
const (
	StrategyRepresentative = "representative"
	StrategyPassThrough    = "passthrough"
	StrategyPercentile     = "percentile"
)

// DefaultThreshold is the group size above which PassThrough emits rows
const DefaultThreshold = 10000

// Config selects and parameterizes a Strategy
type Config struct {
	Strategy   string
	Selection  Selection
	Threshold  int
	Percentile float64
	Separator  string
}

// DefaultConfig is a representative strategy with reference selection
func DefaultConfig() Config {
	return Config{
		Strategy:   StrategyRepresentative,
		Selection:  SelectReference,
		Threshold:  DefaultThreshold,
		Percentile: 90,
		Separator:  ",",
	}
}

// Validate reports the first problem with c
func (c Config) Validate() error {
	if c.Separator == "" {
		return errors.New("field separator must not be empty")
	}
	switch c.Strategy {
	case StrategyRepresentative:
		switch c.Selection {
		case SelectReference, SelectPrefixMax, SelectMax:
		default:
			return fmt.Errorf("unknown selection %q", c.Selection)
		}
	case StrategyPassThrough:
		if c.Threshold <= 0 {
			return fmt.Errorf("threshold must be positive, got %d", c.Threshold)
		}
	case StrategyPercentile:
		if c.Percentile <= 0 || c.Percentile > 100 {
			return fmt.Errorf("percentile must be in (0, 100], got %g", c.Percentile)
		}
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	return nil
}

// NewStrategy builds the Strategy c describes
func NewStrategy(c Config) (Strategy, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Strategy {
	case StrategyPassThrough:
		return PassThrough{Threshold: c.Threshold}, nil
	case StrategyPercentile:
		return PercentileSummary{Percentile: c.Percentile}, nil
	default:
		return Representative{Selection: c.Selection}, nil
	}
}

// scanWindow is the prefix of a group the strategies look at: the first
// half, rounded down.
func scanWindow(vectors []fileio.Vector) []fileio.Vector {
	return vectors[:len(vectors)/2]
}
