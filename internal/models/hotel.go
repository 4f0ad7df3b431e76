package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Season represents a demand season used by the pricing engine
type Season string

const (
	SeasonLow    Season = "LOW"
	SeasonMedium Season = "MEDIUM"
	SeasonHigh   Season = "HIGH"
	SeasonPeak   Season = "PEAK"
)

// seasonMultipliers are the default per-season price multipliers
var seasonMultipliers = map[Season]float64{
	SeasonLow:    0.8,
	SeasonMedium: 1.0,
	SeasonHigh:   1.25,
	SeasonPeak:   1.6,
}

// Multiplier returns the pricing multiplier for the season
func (s Season) Multiplier() float64 {
	if m, ok := seasonMultipliers[s]; ok {
		return m
	}
	return 1.0
}

// categoryMultipliers maps hotel stars (1-5) to the category multiplier.
// Monotone increasing.
var categoryMultipliers = map[int]float64{
	1: 0.8,
	2: 0.95,
	3: 1.1,
	4: 1.3,
	5: 1.5,
}

// CategoryMultiplier returns the pricing multiplier for a hotel category
func CategoryMultiplier(stars int) float64 {
	if m, ok := categoryMultipliers[stars]; ok {
		return m
	}
	return 1.0
}

// SeasonPeriod defines a recurring yearly period resolving to a season.
// Periods may wrap the year boundary (e.g. Dec 20 - Jan 5).
type SeasonPeriod struct {
	Season     Season `json:"season"`
	StartMonth int    `json:"start_month"`
	StartDay   int    `json:"start_day"`
	EndMonth   int    `json:"end_month"`
	EndDay     int    `json:"end_day"`
}

// Contains reports whether the date falls inside the period, inclusive on
// both ends, honoring year wrap-around.
func (p SeasonPeriod) Contains(date time.Time) bool {
	md := int(date.Month())*100 + date.Day()
	start := p.StartMonth*100 + p.StartDay
	end := p.EndMonth*100 + p.EndDay

	if start <= end {
		return md >= start && md <= end
	}
	// Wrap-around period (e.g. 1220 -> 0105)
	return md >= start || md <= end
}

// DefaultSeasonPeriods is the fallback periods table used when a hotel
// carries no overrides.
func DefaultSeasonPeriods() []SeasonPeriod {
	return []SeasonPeriod{
		{Season: SeasonPeak, StartMonth: 12, StartDay: 20, EndMonth: 1, EndDay: 5},
		{Season: SeasonHigh, StartMonth: 6, StartDay: 15, EndMonth: 9, EndDay: 15},
		{Season: SeasonHigh, StartMonth: 4, StartDay: 1, EndMonth: 4, EndDay: 30},
		{Season: SeasonLow, StartMonth: 1, StartDay: 6, EndMonth: 3, EndDay: 15},
		{Season: SeasonLow, StartMonth: 11, StartDay: 1, EndMonth: 12, EndDay: 19},
	}
}

// ResolveSeason resolves the season for a date against a periods table.
// The first matching period wins; unmatched dates are MEDIUM.
func ResolveSeason(date time.Time, periods []SeasonPeriod) Season {
	for _, p := range periods {
		if p.Contains(date) {
			return p.Season
		}
	}
	return SeasonMedium
}

// SeasonPeriods is a JSONB column holding a hotel's season overrides
type SeasonPeriods []SeasonPeriod

// Value implements the driver.Valuer interface
func (p SeasonPeriods) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface
func (p *SeasonPeriods) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for SeasonPeriods")
	}
	return json.Unmarshal(bytes, p)
}

// Hotel represents a hotel with its pricing configuration
type Hotel struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Category int       `json:"category" db:"category"` // 1-5 stars
	Currency string    `json:"currency" db:"currency"`

	// Optional overrides; zero values fall back to the defaults
	SeasonOverrides       SeasonPeriods `json:"season_overrides,omitempty" db:"season_overrides"`
	FreeCancellationHours *int          `json:"free_cancellation_hours,omitempty" db:"free_cancellation_hours"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FreeCancellationWindow returns the hotel's free-cancellation window in
// hours, falling back to the platform default when unset.
func (h *Hotel) FreeCancellationWindow(fallbackHours int) int {
	if h != nil && h.FreeCancellationHours != nil && *h.FreeCancellationHours > 0 {
		return *h.FreeCancellationHours
	}
	return fallbackHours
}

// SeasonPeriodsOrDefault returns the hotel's season table, falling back to
// the defaults when no override is configured.
func (h *Hotel) SeasonPeriodsOrDefault() []SeasonPeriod {
	if len(h.SeasonOverrides) > 0 {
		return h.SeasonOverrides
	}
	return DefaultSeasonPeriods()
}

// CalendarEventKind enumerates date-bound demand events
type CalendarEventKind string

const (
	CalendarHoliday        CalendarEventKind = "HOLIDAY"
	CalendarConference     CalendarEventKind = "CONFERENCE"
	CalendarFestival       CalendarEventKind = "FESTIVAL"
	CalendarMajorEvent     CalendarEventKind = "MAJOR_EVENT"
	CalendarLowSeasonEvent CalendarEventKind = "LOW_SEASON_EVENT"
)

// eventMultipliers maps calendar event kinds to yield multipliers
var eventMultipliers = map[CalendarEventKind]float64{
	CalendarHoliday:        1.35,
	CalendarConference:     1.30,
	CalendarFestival:       1.40,
	CalendarMajorEvent:     1.50,
	CalendarLowSeasonEvent: 1.20,
}

// Multiplier returns the yield multiplier for the calendar event kind
func (k CalendarEventKind) Multiplier() float64 {
	if m, ok := eventMultipliers[k]; ok {
		return m
	}
	return 1.0
}

// CalendarEvent represents a demand event on a given date for a hotel
type CalendarEvent struct {
	ID      uuid.UUID         `json:"id" db:"id"`
	HotelID uuid.UUID         `json:"hotel_id" db:"hotel_id"`
	Date    time.Time         `json:"date" db:"date"`
	Kind    CalendarEventKind `json:"kind" db:"kind"`
	Label   *string           `json:"label,omitempty" db:"label"`
}
