package selection

import (
	"fmt"
	"math"

	"github.com/berrycraft/mirrorpeer/internal/errors"
	"github.com/berrycraft/mirrorpeer/internal/sharedrng"
)

// Selector yields the scenario type for the next episode. Next consumes
// a fixed number of shared-RNG draws (possibly zero), so two peers
// calling it in lockstep stay in agreement.
type Selector interface {
	Next() (string, error)
}

// Weighted samples types with probability proportional to
// 1/sqrt(typical duration), biasing toward shorter types so longer ones
// don't dominate wall-clock time while still appearing regularly.
//
// Every eligible type must have a cataloged duration. A missing
// duration is a construction error, not a silently skipped type:
// dropping it here would skew the dataset without anyone noticing.
type Weighted struct {
	names   []string
	weights []float64
	total   float64
	rng     *sharedrng.Source
}

// NewWeighted builds a weighted selector over the eligible types.
func NewWeighted(cat *Catalog, eligible []string, rng *sharedrng.Source) (*Weighted, error) {
	if len(eligible) == 0 {
		return nil, errors.ErrNoEligibleScenarios
	}
	w := &Weighted{
		names:   append([]string(nil), eligible...),
		weights: make([]float64, len(eligible)),
		rng:     rng,
	}
	for i, name := range w.names {
		d, ok := cat.Duration(name)
		if !ok {
			return nil, fmt.Errorf("scenario type %q: %w", name, errors.ErrMissingDuration)
		}
		weight := 1 / math.Sqrt(d.Seconds())
		w.weights[i] = weight
		w.total += weight
	}
	return w, nil
}

// Next draws exactly one shared random number and maps it onto the
// cumulative weight distribution.
func (w *Weighted) Next() (string, error) {
	r := w.rng.Float64() * w.total
	acc := 0.0
	for i, weight := range w.weights {
		acc += weight
		if r < acc {
			return w.names[i], nil
		}
	}
	// Floating point accumulation can leave r a hair past the final
	// cumulative sum.
	return w.names[len(w.names)-1], nil
}

// Cycle walks the eligible types alphabetically and wraps around,
// guaranteeing every type appears within one pass. It consumes no RNG
// draws; both peers cycle identically by construction.
type Cycle struct {
	names []string
	next  int
}

// NewCycle builds a cycling selector over the eligible types.
func NewCycle(eligible []string) (*Cycle, error) {
	if len(eligible) == 0 {
		return nil, errors.ErrNoEligibleScenarios
	}
	return &Cycle{names: append([]string(nil), eligible...)}, nil
}

func (c *Cycle) Next() (string, error) {
	name := c.names[c.next%len(c.names)]
	c.next++
	return name, nil
}
