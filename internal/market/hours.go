package market

import (
	"fmt"
	"time"
)

// Calendar answers market-hours questions for one exchange time zone.
// Regular trading hours are Monday through Friday, 09:30-16:00 local
// time; DST is handled by the loaded location.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the exchange time zone, e.g. "America/New_York".
func NewCalendar(timezone string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange timezone %q: %w", timezone, err)
	}
	return &Calendar{loc: loc}, nil
}

// IsOpen reports whether t falls within regular trading hours.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// TradingDay returns the local calendar date of t, used as the daily
// P&L rollover key.
func (c *Calendar) TradingDay(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}
