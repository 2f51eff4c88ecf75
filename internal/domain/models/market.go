package models

import "time"

// Light is the market-wide trading permission.
type Light string

const (
	Green  Light = "GREEN"
	Yellow Light = "YELLOW"
	Red    Light = "RED"
)

// Rank orders lights by permissiveness (RED lowest).
func (l Light) Rank() int {
	switch l {
	case Green:
		return 2
	case Yellow:
		return 1
	default:
		return 0
	}
}

// Time-of-day windows within the regular session (America/New_York).
const (
	WindowClosed     = "CLOSED"
	WindowOpening    = "OPENING"
	WindowMidMorning = "MID_MORNING"
	WindowLunch      = "LUNCH"
	WindowPrime      = "PRIME_WINDOW"
	WindowClosing    = "CLOSING"
)

// MarketState is an immutable snapshot of the permission state.
type MarketState struct {
	State            Light     `json:"state"`
	Reason           string    `json:"reason"`
	VolatilityLevel  *float64  `json:"volatility_level"`
	VolatilitySource string    `json:"volatility_source,omitempty"`
	VolatilityBand   string    `json:"volatility_band"`
	Window           string    `json:"window"`
	MarketHours      bool      `json:"market_hours"`
	Timestamp        time.Time `json:"timestamp"`
}

// ChangedFields lists the fields that differ from prev. A nil prev reports
// every field as changed.
func (m MarketState) ChangedFields(prev *MarketState) []string {
	if prev == nil {
		return []string{"state", "reason", "volatility_level", "window"}
	}
	var out []string
	if m.State != prev.State {
		out = append(out, "state")
	}
	if m.Reason != prev.Reason {
		out = append(out, "reason")
	}
	if !sameLevel(m.VolatilityLevel, prev.VolatilityLevel) {
		out = append(out, "volatility_level")
	}
	if m.Window != prev.Window {
		out = append(out, "window")
	}
	return out
}

// Transition reports whether state or reason differ from prev, which is the
// only condition under which a new snapshot is published.
func (m MarketState) Transition(prev *MarketState) bool {
	return prev == nil || m.State != prev.State || m.Reason != prev.Reason
}

func sameLevel(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MarketStateChange is the notification sent on market-state-changed. The
// full value lives in the keyed store under StateKey.
type MarketStateChange struct {
	ChangedFields []string  `json:"changed_fields"`
	StateKey      string    `json:"state_key"`
	State         Light     `json:"state"`
	Previous      Light     `json:"previous,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
