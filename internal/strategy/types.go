package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Family identifies a signal generator implementation.
type Family string

const (
	FamilyBreakout      Family = "breakout"
	FamilyMeanReversion Family = "mean_reversion"
	FamilyRegimeSwitch  Family = "regime_switch"
)

// IsValid reports whether the family names a known signal generator.
func (f Family) IsValid() bool {
	switch f {
	case FamilyBreakout, FamilyMeanReversion, FamilyRegimeSwitch:
		return true
	default:
		return false
	}
}

// LifecycleStatus tracks a version through review.
type LifecycleStatus string

const (
	StatusDraft         LifecycleStatus = "draft"
	StatusBacktested    LifecycleStatus = "backtested"
	StatusApprovedPaper LifecycleStatus = "approved_paper"
	StatusApprovedLive  LifecycleStatus = "approved_live"
	StatusRejected      LifecycleStatus = "rejected"
)

// Strategy is the mutable container owning versions.
type Strategy struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Family           Family    `json:"family"`
	Schema           Schema    `json:"schema"`
	CurrentVersionID string    `json:"current_version_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Version is an immutable snapshot of parameters and risk limits.
// Only Status changes after creation.
type Version struct {
	ID            string             `json:"id"`
	StrategyID    string             `json:"strategy_id"`
	VersionNumber int                `json:"version_number"`
	Params        map[string]float64 `json:"params"`
	RiskLimits    map[string]float64 `json:"risk_limits"`
	ContentHash   string             `json:"content_hash"`
	Status        LifecycleStatus    `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
}

// NewVersion creates a draft version with a deterministic content hash.
func NewVersion(strategyID string, params, riskLimits map[string]float64) *Version {
	return &Version{
		ID:          uuid.NewString(),
		StrategyID:  strategyID,
		Params:      params,
		RiskLimits:  riskLimits,
		ContentHash: ContentHash(params, riskLimits),
		Status:      StatusDraft,
		CreatedAt:   time.Now(),
	}
}

// Duplicate returns a new draft version with the same parameters.
func (v *Version) Duplicate() *Version {
	return NewVersion(v.StrategyID, copyParams(v.Params), copyParams(v.RiskLimits))
}

// ContentHash derives a deterministic hash from serialized parameters
// and risk limits so identical configurations are detectable.
func ContentHash(params, riskLimits map[string]float64) string {
	h := sha256.New()
	writeSorted := func(m map[string]float64) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%v;", k, m[k])
		}
	}
	writeSorted(params)
	h.Write([]byte("|"))
	writeSorted(riskLimits)
	return hex.EncodeToString(h.Sum(nil))
}

// ParamDiff returns the keys whose values differ between two parameter
// maps, serialized as JSON for the iteration audit record.
func ParamDiff(before, after map[string]float64) string {
	type change struct {
		Before float64 `json:"before"`
		After  float64 `json:"after"`
	}
	diff := make(map[string]change)
	for k, b := range before {
		if a, ok := after[k]; ok && a != b {
			diff[k] = change{Before: b, After: a}
		}
	}
	for k, a := range after {
		if _, ok := before[k]; !ok {
			diff[k] = change{After: a}
		}
	}
	data, _ := json.Marshal(diff)
	return string(data)
}

func copyParams(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
