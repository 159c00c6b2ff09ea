// Package temperature models the attention score of a thread.
//
// A temperature is a value in [0,1]. Signals raise it: agent activity,
// research breakthroughs and explicit human boosts. Time lowers it:
// every half-life without an update halves the value and the stored
// signal components, so threads nobody touches cool down on their own.
//
// The composite form of the model is
//
//	clamp01(base + α·activity + β·breakthrough − γ·(hours/half_life) + δ·boost)
//
// and is available as Compute. The incremental operations on
// Temperature apply the same coefficients one signal at a time.
//
// Bands (hot, warm, cold) order threads for scheduling only; no
// correctness decision depends on them.
package temperature

import (
	"fmt"
	"math"
	"time"
)

// Neutral is the value a new thread starts at.
const Neutral = 0.5

// Coefficients weights each signal in the model.
type Coefficients struct {
	Alpha         float64 `json:"alpha" yaml:"alpha"`
	Beta          float64 `json:"beta" yaml:"beta"`
	Gamma         float64 `json:"gamma" yaml:"gamma"`
	Delta         float64 `json:"delta" yaml:"delta"`
	HalfLifeHours float64 `json:"half_life_hours" yaml:"half_life_hours"`
	BasePriority  float64 `json:"base_priority" yaml:"base_priority"`
}

// DefaultCoefficients returns α=0.2, β=0.3, γ=0.1, δ=0.5 and a 24h half-life.
func DefaultCoefficients() Coefficients {
	return Coefficients{
		Alpha:         0.2,
		Beta:          0.3,
		Gamma:         0.1,
		Delta:         0.5,
		HalfLifeHours: 24,
		BasePriority:  Neutral,
	}
}

// Validate rejects negative weights and a non-positive half-life.
func (c Coefficients) Validate() error {
	if c.HalfLifeHours <= 0 {
		return fmt.Errorf("half_life_hours must be > 0, got %v", c.HalfLifeHours)
	}
	for name, v := range map[string]float64{
		"alpha": c.Alpha, "beta": c.Beta, "gamma": c.Gamma, "delta": c.Delta,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%s must be >= 0, got %v", name, v)
		}
	}
	if c.BasePriority < 0 || c.BasePriority > 1 {
		return fmt.Errorf("base_priority must be in [0,1], got %v", c.BasePriority)
	}
	return nil
}

// Inputs are the raw signals of the composite model.
type Inputs struct {
	BasePriority     float64
	RecentActivity   float64
	Breakthrough     float64
	HoursSinceUpdate float64
	HumanBoost       float64
}

// Compute evaluates the composite model for in.
func Compute(in Inputs, c Coefficients) float64 {
	v := in.BasePriority +
		c.Alpha*in.RecentActivity +
		c.Beta*in.Breakthrough -
		c.Gamma*(in.HoursSinceUpdate/c.HalfLifeHours) +
		c.Delta*in.HumanBoost
	return clamp01(v)
}

// DecayFactor is 0.5^(elapsed_hours/half_life_hours). Non-positive
// elapsed time yields 1.
func DecayFactor(elapsed time.Duration, halfLifeHours float64) float64 {
	if elapsed <= 0 || halfLifeHours <= 0 {
		return 1
	}
	return math.Pow(0.5, elapsed.Hours()/halfLifeHours)
}

// Temperature is the stored attention state of one thread.
type Temperature struct {
	Value        float64   `json:"value"`
	Breakthrough float64   `json:"breakthrough"`
	HumanBoost   float64   `json:"human_boost"`
	LastUpdated  time.Time `json:"last_updated"`
}

// New returns a temperature seeded at Neutral.
func New(at time.Time) Temperature {
	return Temperature{Value: Neutral, LastUpdated: at}
}

// RecordActivity adds α·weight.
func (t *Temperature) RecordActivity(weight float64, c Coefficients, at time.Time) {
	t.Value = clamp01(t.Value + c.Alpha*weight)
	t.LastUpdated = at
}

// RecordBreakthrough replaces the breakthrough signal and adds β·strength.
func (t *Temperature) RecordBreakthrough(strength float64, c Coefficients, at time.Time) {
	t.Breakthrough = strength
	t.Value = clamp01(t.Value + c.Beta*strength)
	t.LastUpdated = at
}

// ApplyHumanBoost replaces the human boost and adds δ·boost.
func (t *Temperature) ApplyHumanBoost(boost float64, c Coefficients, at time.Time) {
	t.HumanBoost = boost
	t.Value = clamp01(t.Value + c.Delta*boost)
	t.LastUpdated = at
}

// Decay scales the value and both stored signals by the decay factor
// for elapsed. LastUpdated is left alone; see DecayTo.
func (t *Temperature) Decay(elapsed time.Duration, c Coefficients) {
	f := DecayFactor(elapsed, c.HalfLifeHours)
	t.Value = clamp01(t.Value * f)
	t.Breakthrough *= f
	t.HumanBoost *= f
}

// DecayTo decays by the time elapsed since LastUpdated and moves
// LastUpdated to now. Calling it twice with the same now decays once.
func (t *Temperature) DecayTo(now time.Time, c Coefficients) {
	if !now.After(t.LastUpdated) {
		return
	}
	t.Decay(now.Sub(t.LastUpdated), c)
	t.LastUpdated = now
}

// At returns the value decayed to now without modifying t.
func (t Temperature) At(now time.Time, c Coefficients) float64 {
	t.DecayTo(now, c)
	return t.Value
}

// Validate rejects a value or stored signal outside [0,1], NaN
// included.
func (t Temperature) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"value", t.Value},
		{"breakthrough", t.Breakthrough},
		{"human_boost", t.HumanBoost},
	} {
		if !(f.v >= 0 && f.v <= 1) {
			return fmt.Errorf("temperature %s must be in [0,1], got %v", f.name, f.v)
		}
	}
	return nil
}

// Band classifies the current value.
func (t Temperature) Band(th Thresholds) Band {
	return th.Band(t.Value)
}

func (t Temperature) String() string {
	return fmt.Sprintf("%.2f", t.Value)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
