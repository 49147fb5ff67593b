/*
Package factory converts external definitions into engine types.

PURPOSE:
  Schedules are created and edited by HR administration outside this
  engine and arrive as JSON. Holiday calendars arrive as spreadsheets.
  The factory turns both into validated Go values.

SCHEDULE JSON:
  {
    "id": "std-40h",
    "name": "Standard 40h",
    "type": "FIXED",
    "tolerance_minutes": 5,
    "min_break_minutes": 60,
    "max_daily_overtime_minutes": 120,
    "bank": {"enabled": true, "expiration_months": 6, "multiplier": "1.5"},
    "night": {"start": "22:00", "end": "05:00", "premium_percent": "20"},
    "days": [
      {"weekday": "monday", "work_day": true, "entry": "08:00", "exit": "18:00",
       "break_start": "12:00", "break_end": "13:00"}
    ]
  }

  Instead of "days", "even_week" derives the rows from the weekly minutes:
    "weekly_expected_minutes": 2400,
    "even_week": {"workdays": ["monday", ...], "entry": "08:00",
                  "break_start": "12:00", "break_minutes": 60}

SEE ALSO:
  - schedule/schedule.go: WorkSchedule
  - holidays.go: XLSX holiday import
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/schedule"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the JSON representation of a schedule.
type ScheduleJSON struct {
	ID                      string        `json:"id"`
	Name                    string        `json:"name"`
	Type                    string        `json:"type,omitempty"`
	WeeklyExpectedMinutes   int           `json:"weekly_expected_minutes,omitempty"`
	ToleranceMinutes        int           `json:"tolerance_minutes,omitempty"`
	MinBreakMinutes         int           `json:"min_break_minutes,omitempty"`
	MaxDailyOvertimeMinutes int           `json:"max_daily_overtime_minutes,omitempty"`
	Bank                    *BankJSON     `json:"bank,omitempty"`
	Night                   *NightJSON    `json:"night,omitempty"`
	Days                    []DayJSON     `json:"days,omitempty"`
	EvenWeek                *EvenWeekJSON `json:"even_week,omitempty"`
}

// BankJSON configures the overtime bank.
type BankJSON struct {
	Enabled          bool             `json:"enabled"`
	ExpirationMonths int              `json:"expiration_months,omitempty"`
	Multiplier       *decimal.Decimal `json:"multiplier,omitempty"`
}

// NightJSON configures the night window.
type NightJSON struct {
	Start          string           `json:"start"`
	End            string           `json:"end"`
	PremiumPercent *decimal.Decimal `json:"premium_percent,omitempty"`
}

// DayJSON is one weekday row.
type DayJSON struct {
	Weekday    string `json:"weekday"`
	WorkDay    bool   `json:"work_day"`
	Entry      string `json:"entry,omitempty"`
	Exit       string `json:"exit,omitempty"`
	BreakStart string `json:"break_start,omitempty"`
	BreakEnd   string `json:"break_end,omitempty"`
}

// EvenWeekJSON derives the rows from the weekly minutes.
type EvenWeekJSON struct {
	Workdays     []string `json:"workdays"`
	Entry        string   `json:"entry"`
	BreakStart   string   `json:"break_start,omitempty"`
	BreakMinutes int      `json:"break_minutes,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// ScheduleFactory creates schedules from JSON definitions.
type ScheduleFactory struct{}

func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{}
}

// ParseSchedule parses and validates a JSON schedule.
func (f *ScheduleFactory) ParseSchedule(jsonStr string) (*schedule.WorkSchedule, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, &generic.InvalidScheduleError{Problems: []string{"invalid JSON: " + err.Error()}}
	}
	return f.FromJSON(sj)
}

// FromJSON converts and validates a decoded schedule. Every failure
// unwraps to generic.ErrInvalidSchedule.
func (f *ScheduleFactory) FromJSON(sj ScheduleJSON) (*schedule.WorkSchedule, error) {
	s, err := f.build(sj)
	if err != nil && !errors.Is(err, generic.ErrInvalidSchedule) {
		return nil, &generic.InvalidScheduleError{ScheduleID: sj.ID, Problems: []string{err.Error()}}
	}
	return s, err
}

func (f *ScheduleFactory) build(sj ScheduleJSON) (*schedule.WorkSchedule, error) {
	s := &schedule.WorkSchedule{
		ID:                      sj.ID,
		Name:                    sj.Name,
		Type:                    schedule.Type(strings.ToUpper(sj.Type)),
		WeeklyExpectedMinutes:   generic.Minutes(sj.WeeklyExpectedMinutes),
		ToleranceMinutes:        generic.Minutes(sj.ToleranceMinutes),
		MinBreakMinutes:         generic.Minutes(sj.MinBreakMinutes),
		MaxDailyOvertimeMinutes: generic.Minutes(sj.MaxDailyOvertimeMinutes),
	}
	if s.Type == "" {
		s.Type = schedule.TypeFixed
	}

	if sj.Bank != nil {
		s.BankEnabled = sj.Bank.Enabled
		s.BankExpirationMonths = sj.Bank.ExpirationMonths
		if sj.Bank.Multiplier != nil {
			s.BankMultiplier = *sj.Bank.Multiplier
		}
	}

	if sj.Night != nil {
		start, err := generic.ParseTimeOfDay(sj.Night.Start)
		if err != nil {
			return nil, fmt.Errorf("night.start: %w", err)
		}
		end, err := generic.ParseTimeOfDay(sj.Night.End)
		if err != nil {
			return nil, fmt.Errorf("night.end: %w", err)
		}
		s.NightStart, s.NightEnd = start, end
		if sj.Night.PremiumPercent != nil {
			s.NightPremiumPercent = *sj.Night.PremiumPercent
		}
	}

	switch {
	case len(sj.Days) > 0 && sj.EvenWeek != nil:
		return nil, fmt.Errorf("schedule %q: use either days or even_week, not both", sj.ID)
	case sj.EvenWeek != nil:
		days, err := evenWeekDays(sj.WeeklyExpectedMinutes, *sj.EvenWeek)
		if err != nil {
			return nil, fmt.Errorf("even_week: %w", err)
		}
		s.Days = days
	default:
		for i, dj := range sj.Days {
			d, err := parseDay(dj)
			if err != nil {
				return nil, fmt.Errorf("days[%d]: %w", i, err)
			}
			s.Days = append(s.Days, d)
		}
	}

	if s.WeeklyExpectedMinutes == 0 {
		s.WeeklyExpectedMinutes = s.ComputedWeeklyMinutes()
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseDay(dj DayJSON) (schedule.Day, error) {
	wd, err := ParseWeekday(dj.Weekday)
	if err != nil {
		return schedule.Day{}, err
	}
	d := schedule.Day{Weekday: wd, IsWorkDay: dj.WorkDay}
	if !dj.WorkDay {
		return d, nil
	}

	if d.Entry, err = generic.ParseTimeOfDay(dj.Entry); err != nil {
		return d, fmt.Errorf("entry: %w", err)
	}
	if d.Exit, err = generic.ParseTimeOfDay(dj.Exit); err != nil {
		return d, fmt.Errorf("exit: %w", err)
	}
	if dj.BreakStart != "" {
		bs, err := generic.ParseTimeOfDay(dj.BreakStart)
		if err != nil {
			return d, fmt.Errorf("break_start: %w", err)
		}
		d.BreakStart = &bs
	}
	if dj.BreakEnd != "" {
		be, err := generic.ParseTimeOfDay(dj.BreakEnd)
		if err != nil {
			return d, fmt.Errorf("break_end: %w", err)
		}
		d.BreakEnd = &be
	}
	return d, nil
}

func evenWeekDays(weekly int, ew EvenWeekJSON) ([]schedule.Day, error) {
	workdays := make([]time.Weekday, 0, len(ew.Workdays))
	for _, name := range ew.Workdays {
		wd, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		workdays = append(workdays, wd)
	}
	entry, err := generic.ParseTimeOfDay(ew.Entry)
	if err != nil {
		return nil, fmt.Errorf("entry: %w", err)
	}
	var breakStart generic.TimeOfDay
	if ew.BreakMinutes > 0 {
		if breakStart, err = generic.ParseTimeOfDay(ew.BreakStart); err != nil {
			return nil, fmt.Errorf("break_start: %w", err)
		}
	}
	return schedule.EvenWeek(generic.Minutes(weekly), workdays, entry, breakStart, generic.Minutes(ew.BreakMinutes))
}

// ParseWeekday accepts English day names ("monday", "Mon") case-insensitively.
func ParseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		if n == full || (len(n) == 3 && strings.HasPrefix(full, n)) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// =============================================================================
// REVERSE CONVERSION
// =============================================================================

// ToJSON renders a schedule as its JSON definition (explicit days form).
func ToJSON(s schedule.WorkSchedule) ScheduleJSON {
	sj := ScheduleJSON{
		ID:                      s.ID,
		Name:                    s.Name,
		Type:                    string(s.Type),
		WeeklyExpectedMinutes:   int(s.WeeklyExpectedMinutes),
		ToleranceMinutes:        int(s.ToleranceMinutes),
		MinBreakMinutes:         int(s.MinBreakMinutes),
		MaxDailyOvertimeMinutes: int(s.MaxDailyOvertimeMinutes),
	}
	if s.BankEnabled {
		m := s.Multiplier()
		sj.Bank = &BankJSON{Enabled: true, ExpirationMonths: s.BankExpirationMonths, Multiplier: &m}
	}
	if s.HasNightWindow() {
		p := s.NightPremiumPercent
		sj.Night = &NightJSON{Start: s.NightStart.String(), End: s.NightEnd.String(), PremiumPercent: &p}
	}
	for _, d := range s.Days {
		dj := DayJSON{Weekday: strings.ToLower(d.Weekday.String()), WorkDay: d.IsWorkDay}
		if d.IsWorkDay {
			dj.Entry = d.Entry.String()
			dj.Exit = d.Exit.String()
			if d.HasBreak() {
				dj.BreakStart = d.BreakStart.String()
				dj.BreakEnd = d.BreakEnd.String()
			}
		}
		sj.Days = append(sj.Days, dj)
	}
	return sj
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardWeekJSON is a Monday-Friday 08:00-18:00 schedule with a
// 12:00-13:00 break (540 expected minutes a day), 5 minutes tolerance,
// a 120 minute daily overtime cap, a bank whose credits expire after
// expirationMonths, and a 22:00-05:00 night window paying 20%.
func StandardWeekJSON(id, name string, expirationMonths int) string {
	days := make([]DayJSON, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		dj := DayJSON{Weekday: strings.ToLower(wd.String())}
		if wd != time.Saturday && wd != time.Sunday {
			dj.WorkDay = true
			dj.Entry, dj.Exit = "08:00", "18:00"
			dj.BreakStart, dj.BreakEnd = "12:00", "13:00"
		}
		days = append(days, dj)
	}
	pct := decimal.NewFromInt(20)
	mult := decimal.NewFromInt(1)
	sj := ScheduleJSON{
		ID:                      id,
		Name:                    name,
		Type:                    string(schedule.TypeFixed),
		ToleranceMinutes:        5,
		MinBreakMinutes:         60,
		MaxDailyOvertimeMinutes: 120,
		Bank:                    &BankJSON{Enabled: true, ExpirationMonths: expirationMonths, Multiplier: &mult},
		Night:                   &NightJSON{Start: "22:00", End: "05:00", PremiumPercent: &pct},
		Days:                    days,
	}
	b, _ := json.Marshal(sj)
	return string(b)
}
