package temperature

import "fmt"

// Band is a coarse scheduling class.
type Band string

const (
	Hot  Band = "hot"
	Warm Band = "warm"
	Cold Band = "cold"
)

// Thresholds split [0,1] into bands: v >= Hot is hot, v >= Warm is warm.
type Thresholds struct {
	Hot  float64 `json:"hot" yaml:"hot_threshold"`
	Warm float64 `json:"warm" yaml:"warm_threshold"`
}

// DefaultThresholds returns hot=0.7, warm=0.3.
func DefaultThresholds() Thresholds {
	return Thresholds{Hot: 0.7, Warm: 0.3}
}

// Validate requires 0 <= warm < hot <= 1.
func (th Thresholds) Validate() error {
	if th.Hot < 0 || th.Hot > 1 || th.Warm < 0 || th.Warm > 1 {
		return fmt.Errorf("thresholds must be in [0,1], got hot=%v warm=%v", th.Hot, th.Warm)
	}
	if th.Hot <= th.Warm {
		return fmt.Errorf("hot threshold (%v) must exceed warm threshold (%v)", th.Hot, th.Warm)
	}
	return nil
}

// Band classifies v.
func (th Thresholds) Band(v float64) Band {
	switch {
	case v >= th.Hot:
		return Hot
	case v >= th.Warm:
		return Warm
	default:
		return Cold
	}
}

// Rank orders bands for scheduling: hot first.
func (b Band) Rank() int {
	switch b {
	case Hot:
		return 0
	case Warm:
		return 1
	default:
		return 2
	}
}
