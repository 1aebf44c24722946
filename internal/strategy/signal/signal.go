// Package signal contains the per-family trading signal generators.
// Each generator is a pure function from (recent bars, parameters,
// current position or nil) to a signal; no generator places orders or
// mutates state.
package signal

import (
	"quantlab/internal/errors"
	"quantlab/internal/market"
	"quantlab/internal/strategy"
)

// Type classifies a trading signal.
type Type string

const (
	TypeEntryLong  Type = "entry_long"
	TypeEntryShort Type = "entry_short"
	TypeExit       Type = "exit"
	TypeHold       Type = "hold"
)

// Signal is the decision of one generator invocation.
type Signal struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason"`
}

func hold(reason string) Signal {
	return Signal{Type: TypeHold, Reason: reason}
}

// Generator computes a signal from recent bars and parameters.
type Generator interface {
	Generate(bars []market.Bar, params map[string]float64, pos *strategy.Position) Signal
}

// ForFamily returns the generator for a strategy family.
func ForFamily(family strategy.Family) (Generator, error) {
	switch family {
	case strategy.FamilyBreakout:
		return &Breakout{}, nil
	case strategy.FamilyMeanReversion:
		return &MeanReversion{}, nil
	case strategy.FamilyRegimeSwitch:
		return &RegimeSwitch{}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "unknown strategy family: %s", family)
	}
}

// param reads a parameter with a fallback default.
func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}
