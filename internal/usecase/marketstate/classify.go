package marketstate

import (
	"fmt"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/service/calendar"
)

// Window returns the time-of-day label of t within session s.
func Window(t time.Time, s calendar.Session) string {
	if !s.Contains(t) {
		return models.WindowClosed
	}
	loc := s.Open.Location()
	local := t.In(loc)
	y, m, d := local.Date()
	at := func(h, min int) time.Time { return time.Date(y, m, d, h, min, 0, 0, loc) }

	switch {
	case local.Before(at(10, 30)):
		return models.WindowOpening
	case local.Before(at(11, 0)):
		return models.WindowMidMorning
	case local.Before(at(13, 0)):
		return models.WindowLunch
	case local.Before(at(15, 0)):
		return models.WindowPrime
	default:
		return models.WindowClosing
	}
}

// Inputs is everything a classification depends on.
type Inputs struct {
	Now       time.Time
	Session   calendar.Session
	Closure   calendar.Closure
	EventRisk bool
	// Volatility is nil when no source had a reading.
	Volatility *domrepo.VolatilityReading
}

// Classify applies the permission rules in priority order. It is pure.
func Classify(in Inputs) models.MarketState {
	st := models.MarketState{
		Timestamp:      in.Now.UTC(),
		VolatilityBand: "normal",
		Window:         models.WindowClosed,
	}
	if v := in.Volatility; v != nil {
		level := v.Value
		st.VolatilityLevel = &level
		st.VolatilitySource = v.Source
		st.VolatilityBand = v.Band()
	}

	red := func(reason string) models.MarketState {
		st.State = models.Red
		st.Reason = reason
		return st
	}

	switch in.Closure {
	case calendar.ClosureWeekend:
		return red("Weekend Halt")
	case calendar.ClosureHoliday:
		return red("Market Holiday Halt")
	}
	if in.Session.Open.IsZero() || !in.Session.Contains(in.Now) {
		return red("Off Hours Halt")
	}
	st.MarketHours = true
	st.Window = Window(in.Now, in.Session)

	if in.EventRisk {
		return red("Event Risk Halt")
	}
	if st.VolatilityBand == "high" {
		return red(fmt.Sprintf("Volatility Halt (%s)", volLabel(in.Volatility)))
	}

	st.State = models.Yellow
	switch {
	case st.Window == models.WindowOpening:
		st.Reason = "Opening Volatility"
	case st.Window == models.WindowLunch:
		st.Reason = "Lunch Chop"
	case st.VolatilityBand == "elevated":
		st.Reason = fmt.Sprintf("Elevated Volatility (%s)", volLabel(in.Volatility))
	case st.Window == models.WindowPrime:
		st.State = models.Green
		st.Reason = "Prime Window"
	case st.Window == models.WindowClosing:
		st.State = models.Green
		st.Reason = "Closing Window"
	default:
		st.Reason = "Caution"
	}
	return st
}

func volLabel(v *domrepo.VolatilityReading) string {
	return fmt.Sprintf("%s %.2f", v.Source, v.Value)
}
