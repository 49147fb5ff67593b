package reconcile

import "github.com/warp/worktime-engine/generic"

// PeriodTotals folds a run of DailySummaries.
type PeriodTotals struct {
	EmployeeID string         `json:"employee_id"`
	Period     generic.Period `json:"period"`
	Days       int            `json:"days"`

	WorkedMinutes         generic.Minutes `json:"worked_minutes"`
	OvertimeMinutes       generic.Minutes `json:"overtime_minutes"`
	DeficitMinutes        generic.Minutes `json:"deficit_minutes"`
	NightShiftMinutes     generic.Minutes `json:"night_shift_minutes"`
	ExcessOvertimeMinutes generic.Minutes `json:"excess_overtime_minutes"`

	Worked     string `json:"worked"`
	Overtime   string `json:"overtime"`
	Deficit    string `json:"deficit"`
	NightShift string `json:"night_shift"`

	StatusCounts map[DayStatus]int `json:"status_counts"`
}

// Aggregate sums the minute fields of summaries. The period spans the
// earliest to the latest summary date; empty input yields zero totals.
func Aggregate(summaries []DailySummary) PeriodTotals {
	t := PeriodTotals{StatusCounts: make(map[DayStatus]int)}

	for i, s := range summaries {
		if i == 0 {
			t.EmployeeID = s.EmployeeID
			t.Period = generic.Period{Start: s.Date, End: s.Date}
		}
		if s.Date.Before(t.Period.Start) {
			t.Period.Start = s.Date
		}
		if s.Date.After(t.Period.End) {
			t.Period.End = s.Date
		}

		t.Days++
		t.WorkedMinutes += s.WorkedMinutes
		t.OvertimeMinutes += s.OvertimeMinutes
		t.DeficitMinutes += s.DeficitMinutes
		t.NightShiftMinutes += s.NightShiftMinutes
		t.ExcessOvertimeMinutes += s.ExcessOvertimeMinutes
		t.StatusCounts[s.Status]++
	}

	t.Worked = t.WorkedMinutes.String()
	t.Overtime = t.OvertimeMinutes.String()
	t.Deficit = t.DeficitMinutes.String()
	t.NightShift = t.NightShiftMinutes.String()
	return t
}

// NetMinutes is overtime minus deficit over the period.
func (t PeriodTotals) NetMinutes() generic.Minutes {
	return t.OvertimeMinutes - t.DeficitMinutes
}
