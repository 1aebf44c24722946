package strategy

import (
	"math"

	"quantlab/internal/errors"
)

// ParamType declares how a parameter value is interpreted.
type ParamType string

const (
	ParamTypeInt   ParamType = "int"
	ParamTypeFloat ParamType = "float"
	ParamTypeBool  ParamType = "bool"
	ParamTypeEnum  ParamType = "enum"
)

// Parameter declares one tunable parameter.
type Parameter struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Step    float64   `json:"step"`
	Default float64   `json:"default"`
	// Values holds the allowed set for enum parameters, encoded as
	// their numeric positions.
	Values []float64 `json:"values,omitempty"`
	// DependsOn names a boolean parameter gating this one's visibility.
	DependsOn string `json:"depends_on,omitempty"`
}

// IsNumeric reports whether the parameter can be mutated by the tuner.
func (p Parameter) IsNumeric() bool {
	return p.Type == ParamTypeInt || p.Type == ParamTypeFloat
}

// Clamp bounds v to [Min,Max] and snaps it to the nearest step. Integer
// parameters are additionally rounded to a whole value.
func (p Parameter) Clamp(v float64) float64 {
	if p.Step > 0 {
		v = math.Round((v-p.Min)/p.Step)*p.Step + p.Min
	}
	if p.Type == ParamTypeInt {
		v = math.Round(v)
	}
	if v < p.Min {
		v = p.Min
	}
	if v > p.Max {
		v = p.Max
	}
	return v
}

// Schema declares the parameters a strategy family accepts.
type Schema struct {
	Params []Parameter `json:"params"`
}

// Get looks up a parameter declaration by name.
func (s Schema) Get(name string) (Parameter, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// NumericParams returns the mutable parameter declarations.
func (s Schema) NumericParams() []Parameter {
	var out []Parameter
	for _, p := range s.Params {
		if p.IsNumeric() {
			out = append(out, p)
		}
	}
	return out
}

// Defaults returns the default value map for the schema.
func (s Schema) Defaults() map[string]float64 {
	out := make(map[string]float64, len(s.Params))
	for _, p := range s.Params {
		out[p.Name] = p.Default
	}
	return out
}

// Validate checks that every key in params is declared and every
// numeric value lies within its declared bounds.
func (s Schema) Validate(params map[string]float64) error {
	for name, value := range params {
		decl, ok := s.Get(name)
		if !ok {
			return errors.Newf(errors.ErrCodeSchemaViolation,
				"parameter %q is not declared by the schema", name)
		}
		switch decl.Type {
		case ParamTypeInt, ParamTypeFloat:
			if value < decl.Min || value > decl.Max {
				return errors.Newf(errors.ErrCodeSchemaViolation,
					"parameter %q value %v outside bounds [%v,%v]",
					name, value, decl.Min, decl.Max)
			}
		case ParamTypeBool:
			if value != 0 && value != 1 {
				return errors.Newf(errors.ErrCodeSchemaViolation,
					"boolean parameter %q must be 0 or 1, got %v", name, value)
			}
		case ParamTypeEnum:
			found := false
			for _, allowed := range decl.Values {
				if value == allowed {
					found = true
					break
				}
			}
			if !found {
				return errors.Newf(errors.ErrCodeSchemaViolation,
					"enum parameter %q value %v not in allowed set", name, value)
			}
		}
	}
	return nil
}
