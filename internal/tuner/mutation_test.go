package tuner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/strategy"
)

func testSchema() strategy.Schema {
	return strategy.Schema{
		Params: []strategy.Parameter{
			{Name: "lookback", Type: strategy.ParamTypeInt, Min: 5, Max: 50, Step: 1, Default: 20},
			{Name: "band_pct", Type: strategy.ParamTypeFloat, Min: 0.001, Max: 0.05, Step: 0.001, Default: 0.01},
			{Name: "use_trailing", Type: strategy.ParamTypeBool, Default: 0},
		},
	}
}

func TestMutateChangesExactlyOneNumericParam(t *testing.T) {
	schema := testSchema()
	params := map[string]float64{"lookback": 20, "band_pct": 0.01, "use_trailing": 0}

	mutator := NewMutator(42)
	for i := 0; i < 200; i++ {
		mutated, key, err := mutator.Mutate(params, schema, 1.0)
		require.NoError(t, err)

		changed := 0
		for k, v := range mutated {
			if v != params[k] {
				changed++
				assert.Equal(t, key, k)
			}
		}
		assert.LessOrEqual(t, changed, 1, "at most one parameter may move")
		assert.NotEqual(t, "use_trailing", key, "bool params are never mutated")
		assert.Len(t, mutated, len(params))
	}
}

func TestMutateStaysWithinBounds(t *testing.T) {
	schema := testSchema()
	// Start at the edges so perturbations push against the bounds.
	params := map[string]float64{"lookback": 50, "band_pct": 0.001, "use_trailing": 0}

	mutator := NewMutator(7)
	for i := 0; i < 500; i++ {
		mutated, _, err := mutator.Mutate(params, schema, 1.0)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, mutated["lookback"], 5.0)
		assert.LessOrEqual(t, mutated["lookback"], 50.0)
		assert.Equal(t, mutated["lookback"], float64(int(mutated["lookback"])), "int param stays integral")
		assert.GreaterOrEqual(t, mutated["band_pct"], 0.001)
		assert.LessOrEqual(t, mutated["band_pct"], 0.05)
	}
}

func TestMutateDoesNotAliasInput(t *testing.T) {
	schema := testSchema()
	params := map[string]float64{"lookback": 20, "band_pct": 0.01}

	mutated, _, err := NewMutator(1).Mutate(params, schema, 0.5)
	require.NoError(t, err)

	mutated["lookback"] = 999
	assert.Equal(t, 20.0, params["lookback"], "caller's map must stay untouched")
}

func TestMutateIntStepBoundedByAggressiveness(t *testing.T) {
	schema := strategy.Schema{
		Params: []strategy.Parameter{
			{Name: "period", Type: strategy.ParamTypeInt, Min: 0, Max: 1000, Step: 1, Default: 500},
		},
	}
	params := map[string]float64{"period": 500}

	// At minimum aggressiveness the int walk is a single step.
	mutator := NewMutator(99)
	for i := 0; i < 100; i++ {
		mutated, _, err := mutator.Mutate(params, schema, 0.0)
		require.NoError(t, err)
		delta := mutated["period"] - 500
		assert.Contains(t, []float64{-1, 1}, delta)
	}

	// At full aggressiveness it can take up to two steps.
	for i := 0; i < 100; i++ {
		mutated, _, err := mutator.Mutate(params, schema, 1.0)
		require.NoError(t, err)
		delta := mutated["period"] - 500
		assert.Contains(t, []float64{-2, -1, 1, 2}, delta)
	}
}

func TestMutateFloatPerturbationScalesWithAggressiveness(t *testing.T) {
	schema := strategy.Schema{
		Params: []strategy.Parameter{
			{Name: "threshold", Type: strategy.ParamTypeFloat, Min: 0, Max: 1000, Default: 100},
		},
	}
	params := map[string]float64{"threshold": 100}

	mutator := NewMutator(3)
	for i := 0; i < 200; i++ {
		mutated, _, err := mutator.Mutate(params, schema, 1.0)
		require.NoError(t, err)
		assert.InDelta(t, 100, mutated["threshold"], 5.0, "full aggressiveness moves at most 5 percent")
	}
	for i := 0; i < 200; i++ {
		mutated, _, err := mutator.Mutate(params, schema, 0.2)
		require.NoError(t, err)
		assert.InDelta(t, 100, mutated["threshold"], 1.0, "low aggressiveness shrinks the move")
	}
}

func TestMutateRejectsSchemaWithoutNumericParams(t *testing.T) {
	schema := strategy.Schema{
		Params: []strategy.Parameter{
			{Name: "mode", Type: strategy.ParamTypeEnum, Values: []float64{0, 1, 2}, Default: 0},
		},
	}
	_, _, err := NewMutator(1).Mutate(map[string]float64{"mode": 0}, schema, 0.5)
	require.Error(t, err)
}
