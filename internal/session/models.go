// Package session models exchange trading sessions and classifies instants into session phases.
package session

import "time"

// Phase is where an instant falls relative to the trading session.
type Phase string

const (
	PhasePreOpen       Phase = "PRE_OPEN"        // trading day, before the open
	PhaseOpen          Phase = "OPEN"            // continuous trading
	PhaseMiddayBreak   Phase = "MIDDAY_BREAK"    // lunch break, resumes the same day
	PhaseClosed        Phase = "CLOSED"          // trading day, at or after the close
	PhaseNonTradingDay Phase = "NON_TRADING_DAY" // weekend or holiday
)

// IsTradingOver reports whether no more trading happens on this calendar day.
func (p Phase) IsTradingOver() bool {
	return p == PhaseClosed || p == PhaseNonTradingDay
}

// Clock classifies instants into session phases. The monitoring scheduler depends only on this.
type Clock interface {
	Phase(t time.Time) Phase
}

// ClockFunc adapts a function to Clock.
type ClockFunc func(t time.Time) Phase

// Phase calls f.
func (f ClockFunc) Phase(t time.Time) Phase { return f(t) }

// TradingHours represents regular trading hours for an exchange
type TradingHours struct {
	OpenHour    int // Hour (0-23)
	OpenMinute  int // Minute (0-59)
	CloseHour   int // Hour (0-23)
	CloseMinute int // Minute (0-59)
}

// LunchBreak represents a midday trading break
type LunchBreak struct {
	StartHour   int // Hour (0-23)
	StartMinute int // Minute (0-59)
	EndHour     int // Hour (0-23)
	EndMinute   int // Minute (0-59)
}

// ExchangeConfig represents configuration for a single exchange
type ExchangeConfig struct {
	Code         string
	Name         string
	TradingHours TradingHours
	Timezone     *time.Location
	LunchBreak   *LunchBreak
}

// Status describes the session state at an instant.
type Status struct {
	Exchange string    `json:"exchange"`
	Timezone string    `json:"timezone"`
	Phase    Phase     `json:"phase"`
	Open     bool      `json:"open"`
	NextOpen time.Time `json:"next_open,omitempty"` // set when not open
	ClosesAt time.Time `json:"closes_at,omitempty"` // set when open
}
