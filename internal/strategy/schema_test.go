package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/errors"
)

func testSchema() Schema {
	return Schema{Params: []Parameter{
		{Name: "lookback", Type: ParamTypeInt, Min: 5, Max: 50, Step: 1, Default: 20},
		{Name: "breakout_pct", Type: ParamTypeFloat, Min: 0.001, Max: 0.05, Step: 0.001, Default: 0.002},
		{Name: "allow_short", Type: ParamTypeBool, Default: 1},
		{Name: "interval", Type: ParamTypeEnum, Values: []float64{1, 5, 15}, Default: 5},
	}}
}

func TestSchemaValidate(t *testing.T) {
	s := testSchema()

	require.NoError(t, s.Validate(map[string]float64{
		"lookback":     20,
		"breakout_pct": 0.002,
		"allow_short":  1,
		"interval":     5,
	}))

	err := s.Validate(map[string]float64{"lookback": 100})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeSchemaViolation))

	err = s.Validate(map[string]float64{"unknown_key": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeSchemaViolation))

	assert.Error(t, s.Validate(map[string]float64{"allow_short": 0.5}))
	assert.Error(t, s.Validate(map[string]float64{"interval": 7}))
}

func TestParameterClamp(t *testing.T) {
	lookback, _ := testSchema().Get("lookback")
	assert.Equal(t, 50.0, lookback.Clamp(60))
	assert.Equal(t, 5.0, lookback.Clamp(1))
	assert.Equal(t, 20.0, lookback.Clamp(20.4))

	pct, _ := testSchema().Get("breakout_pct")
	assert.InDelta(t, 0.002, pct.Clamp(0.0024), 1e-9)
	assert.InDelta(t, 0.003, pct.Clamp(0.0026), 1e-9)
	assert.InDelta(t, 0.05, pct.Clamp(0.2), 1e-9)
}

func TestSchemaNumericParams(t *testing.T) {
	numeric := testSchema().NumericParams()
	require.Len(t, numeric, 2)
	assert.Equal(t, "lookback", numeric[0].Name)
	assert.Equal(t, "breakout_pct", numeric[1].Name)
}

func TestContentHashDeterministic(t *testing.T) {
	params := map[string]float64{"a": 1, "b": 2.5}
	limits := map[string]float64{"max_dd": 0.2}

	h1 := ContentHash(params, limits)
	h2 := ContentHash(map[string]float64{"b": 2.5, "a": 1}, limits)
	assert.Equal(t, h1, h2)

	h3 := ContentHash(map[string]float64{"a": 1, "b": 2.6}, limits)
	assert.NotEqual(t, h1, h3)

	// Params and risk limits are hashed in separate sections.
	h4 := ContentHash(map[string]float64{"a": 1, "b": 2.5, "max_dd": 0.2}, nil)
	assert.NotEqual(t, h1, h4)
}

func TestNewVersionAndDuplicate(t *testing.T) {
	v := NewVersion("strat-1", map[string]float64{"lookback": 20}, map[string]float64{"max_dd": 0.2})
	assert.Equal(t, StatusDraft, v.Status)
	assert.NotEmpty(t, v.ID)
	assert.NotEmpty(t, v.ContentHash)

	dup := v.Duplicate()
	assert.NotEqual(t, v.ID, dup.ID)
	assert.Equal(t, v.ContentHash, dup.ContentHash)
	assert.Equal(t, v.Params, dup.Params)

	// Mutating the duplicate must not leak into the original.
	dup.Params["lookback"] = 30
	assert.Equal(t, 20.0, v.Params["lookback"])
}

func TestParamDiff(t *testing.T) {
	diff := ParamDiff(
		map[string]float64{"lookback": 20, "breakout_pct": 0.002},
		map[string]float64{"lookback": 22, "breakout_pct": 0.002},
	)
	assert.Contains(t, diff, "lookback")
	assert.NotContains(t, diff, "breakout_pct")
}
