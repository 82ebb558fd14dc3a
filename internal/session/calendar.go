package session

import (
	"fmt"
	"time"
)

// Calendar applies an exchange's hours, lunch break, weekends and a fixed holiday list.
type Calendar struct {
	cfg      ExchangeConfig
	holidays map[string]bool // YYYY-MM-DD in exchange time
}

// NewCalendar creates a calendar for cfg. holidays are YYYY-MM-DD dates in exchange time.
func NewCalendar(cfg ExchangeConfig, holidays []string) (*Calendar, error) {
	if cfg.Timezone == nil {
		return nil, fmt.Errorf("exchange %s has no timezone", cfg.Code)
	}

	set := make(map[string]bool, len(holidays))
	for _, d := range holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", d, err)
		}
		set[d] = true
	}

	return &Calendar{cfg: cfg, holidays: set}, nil
}

// Exchange returns the calendar's exchange configuration.
func (c *Calendar) Exchange() ExchangeConfig {
	return c.cfg
}

// IsTradingDay reports whether the exchange trades on t's calendar day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.cfg.Timezone)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[local.Format("2006-01-02")]
}

// Phase classifies t. Close is exclusive and the lunch break is [start, end).
func (c *Calendar) Phase(t time.Time) Phase {
	if !c.IsTradingDay(t) {
		return PhaseNonTradingDay
	}

	local := t.In(c.cfg.Timezone)
	open := c.at(local, c.cfg.TradingHours.OpenHour, c.cfg.TradingHours.OpenMinute)
	closeAt := c.at(local, c.cfg.TradingHours.CloseHour, c.cfg.TradingHours.CloseMinute)

	if local.Before(open) {
		return PhasePreOpen
	}
	if !local.Before(closeAt) {
		return PhaseClosed
	}

	if lb := c.cfg.LunchBreak; lb != nil {
		start := c.at(local, lb.StartHour, lb.StartMinute)
		end := c.at(local, lb.EndHour, lb.EndMinute)
		if !local.Before(start) && local.Before(end) {
			return PhaseMiddayBreak
		}
	}

	return PhaseOpen
}

// NextOpen returns the next instant at or after t when trading (re)starts.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.cfg.Timezone)

	switch c.Phase(t) {
	case PhaseOpen:
		return local
	case PhasePreOpen:
		return c.at(local, c.cfg.TradingHours.OpenHour, c.cfg.TradingHours.OpenMinute)
	case PhaseMiddayBreak:
		return c.at(local, c.cfg.LunchBreak.EndHour, c.cfg.LunchBreak.EndMinute)
	}

	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.cfg.Timezone)
	for i := 1; i <= 366; i++ {
		next := day.AddDate(0, 0, i)
		if c.IsTradingDay(next) {
			return c.at(next, c.cfg.TradingHours.OpenHour, c.cfg.TradingHours.OpenMinute)
		}
	}
	return time.Time{}
}

// Status returns a summary of the session at t.
func (c *Calendar) Status(t time.Time) Status {
	phase := c.Phase(t)
	st := Status{
		Exchange: c.cfg.Code,
		Timezone: c.cfg.Timezone.String(),
		Phase:    phase,
		Open:     phase == PhaseOpen,
	}

	local := t.In(c.cfg.Timezone)
	if st.Open {
		closesAt := c.at(local, c.cfg.TradingHours.CloseHour, c.cfg.TradingHours.CloseMinute)
		if lb := c.cfg.LunchBreak; lb != nil {
			if start := c.at(local, lb.StartHour, lb.StartMinute); local.Before(start) {
				closesAt = start
			}
		}
		st.ClosesAt = closesAt
	} else {
		st.NextOpen = c.NextOpen(t)
	}
	return st
}

func (c *Calendar) at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, c.cfg.Timezone)
}
