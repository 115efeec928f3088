package config

import "strings"

// Aggressiveness selects how many classification requests may be in flight
// against the backend at once.
type Aggressiveness string

const (
	Light      Aggressiveness = "light"
	Normal     Aggressiveness = "normal"
	Aggressive Aggressiveness = "aggressive"
)

// ParseAggressiveness maps a setting value to a known level. Unknown or empty
// values fall back to Normal.
func ParseAggressiveness(s string) Aggressiveness {
	switch Aggressiveness(strings.ToLower(strings.TrimSpace(s))) {
	case Light:
		return Light
	case Aggressive:
		return Aggressive
	default:
		return Normal
	}
}

// Concurrency is the in-flight ceiling for the level.
func (a Aggressiveness) Concurrency() int {
	switch a {
	case Light:
		return 1
	case Aggressive:
		return 3
	default:
		return 2
	}
}

// Valid reports whether a is one of the three named levels.
func (a Aggressiveness) Valid() bool {
	return a == Light || a == Normal || a == Aggressive
}

func (a Aggressiveness) String() string { return string(a) }
