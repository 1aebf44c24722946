package tuner

import (
	"math"
	"math/rand"

	"quantlab/internal/errors"
	"quantlab/internal/strategy"
)

// Mutator produces nearby candidate parameter sets. The search is
// deliberately local: one bounded perturbation of exactly one numeric
// parameter per trial, fine-tuning around a known-good champion rather
// than exploring broadly.
type Mutator struct {
	rng *rand.Rand
}

// NewMutator creates a mutator seeded for reproducible tests.
func NewMutator(seed int64) *Mutator {
	return &Mutator{rng: rand.New(rand.NewSource(seed))}
}

// Mutate returns a copy of params with exactly one numeric parameter
// perturbed, clamped to its declared bounds and snapped to its step.
// aggressiveness in [0,1] scales the perturbation size.
func (m *Mutator) Mutate(params map[string]float64, schema strategy.Schema, aggressiveness float64) (map[string]float64, string, error) {
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 1 {
		aggressiveness = 1
	}

	numeric := schema.NumericParams()
	if len(numeric) == 0 {
		return nil, "", errors.New(errors.ErrCodeConfigInvalid,
			"schema declares no numeric parameters to mutate")
	}

	target := numeric[m.rng.Intn(len(numeric))]
	current, ok := params[target.Name]
	if !ok {
		current = target.Default
	}

	mutated := make(map[string]float64, len(params))
	for k, v := range params {
		mutated[k] = v
	}

	var next float64
	switch target.Type {
	case strategy.ParamTypeInt:
		step := target.Step
		if step <= 0 {
			step = 1
		}
		maxSteps := int(2 * math.Ceil(aggressiveness))
		if maxSteps < 1 {
			maxSteps = 1
		}
		n := float64(1 + m.rng.Intn(maxSteps))
		if m.rng.Intn(2) == 0 {
			n = -n
		}
		next = target.Clamp(current + n*step)
	default:
		// Scale by up to ±5% at full aggressiveness.
		factor := 1 + (m.rng.Float64()*0.1-0.05)*aggressiveness
		next = target.Clamp(current * factor)
	}

	mutated[target.Name] = next
	return mutated, target.Name, nil
}
