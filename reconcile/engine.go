package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/worktime-engine/generic"
	"github.com/warp/worktime-engine/nightshift"
)

// Reconcile classifies one employee-day.
//
//  1. Absence: nothing is worked, nothing is owed.
//  2. Holiday on a day with no expected minutes: all work is overtime,
//     still subject to the daily cap.
//  3. Otherwise worked minutes are compared to expected minutes, within
//     tolerance, with overtime capped per day.
//
// Night minutes are measured over the worked sub-intervals in every case
// except absence.
func Reconcile(in Input) DailySummary {
	exp := in.Expected
	out := DailySummary{
		EmployeeID:          in.EmployeeID,
		Date:                exp.Date,
		Weekday:             exp.Weekday,
		Status:              StatusNormal,
		ScheduledEntry:      exp.Entry,
		ScheduledExit:       exp.Exit,
		ScheduledBreakStart: exp.BreakStart,
		ScheduledBreakEnd:   exp.BreakEnd,
		ExpectedWorkMinutes: exp.ExpectedWorkMinutes,
	}
	if exp.Gap != nil {
		out.Warnings = append(out.Warnings, Warning{Code: WarnScheduleGap, Message: exp.Gap.Error()})
	}

	if in.Absence != nil {
		out.Status = StatusAbsence
		out.AbsenceType = in.Absence.Type
		return out
	}

	p := pairEvents(in.Events)
	if len(in.Events) == 0 && exp.ExpectedWorkMinutes > 0 {
		p.incomplete = true
		p.warnings = append(p.warnings, Warning{Code: WarnIncompleteRecords, Message: "no clock events on a scheduled work day"})
	}
	out.Warnings = append(out.Warnings, p.warnings...)
	out.FirstEntry = p.firstIn
	out.LastExit = p.lastOut
	out.BreakStart = p.firstBreakStart
	out.BreakEnd = p.lastBreakEnd
	out.WorkedMinutes = p.workedMinutes()
	out.BreakMinutes = p.breakMinutes()

	if in.Rules.Night != nil {
		out.NightShiftMinutes = nightshift.OverlapMinutesAll(p.worked, *in.Rules.Night)
		out.NightPremiumMinutes = nightshift.Round(
			nightshift.PremiumMinutes(out.NightShiftMinutes, in.Rules.NightPremiumPercent))
	}

	if in.Rules.MinBreak > 0 && out.WorkedMinutes > 0 && out.BreakMinutes < in.Rules.MinBreak {
		out.Warnings = append(out.Warnings, Warning{
			Code:    WarnShortBreak,
			Message: fmt.Sprintf("break %s is below the minimum %s", out.BreakMinutes, in.Rules.MinBreak),
		})
	}

	if in.Holiday != nil {
		out.HolidayName = in.Holiday.Name
	}

	switch {
	case in.Holiday != nil && exp.ExpectedWorkMinutes == 0:
		out.Status = StatusHoliday
		out.OvertimeMinutes, out.ExcessOvertimeMinutes = capOvertime(out.WorkedMinutes, in.Rules.MaxDailyOvertime)
	default:
		delta := out.WorkedMinutes - exp.ExpectedWorkMinutes
		switch {
		case delta.Abs() <= in.Rules.Tolerance:
			// on schedule
		case delta > 0:
			out.OvertimeMinutes, out.ExcessOvertimeMinutes = capOvertime(delta, in.Rules.MaxDailyOvertime)
		default:
			out.DeficitMinutes = -delta
		}
		switch {
		case p.incomplete:
			out.Status = StatusMissing
		case p.pending:
			out.Status = StatusPending
		}
	}

	return out
}

// capOvertime splits raw overtime into the bank-eligible part and the excess
// above the daily cap. A cap <= 0 disables capping.
func capOvertime(raw, cap generic.Minutes) (eligible, excess generic.Minutes) {
	if cap <= 0 || raw <= cap {
		return raw, 0
	}
	return cap, raw - cap
}

// =============================================================================
// EVENT PAIRING
// =============================================================================

type pairing struct {
	worked []generic.Interval // work intervals with breaks removed
	breaks []generic.Interval // closed breaks inside closed shifts

	firstIn         *time.Time
	lastOut         *time.Time
	firstBreakStart *time.Time
	lastBreakEnd    *time.Time

	incomplete bool
	pending    bool
	warnings   []Warning
}

func (p *pairing) warn(code WarningCode, at time.Time, format string, args ...any) {
	t := at
	p.warnings = append(p.warnings, Warning{Code: code, Message: fmt.Sprintf(format, args...), At: &t})
	if code == WarnIncompleteRecords {
		p.incomplete = true
	}
}

func (p *pairing) workedMinutes() generic.Minutes {
	var total time.Duration
	for _, iv := range p.worked {
		total += iv.Duration()
	}
	return generic.DurationMinutes(total).ClampZero()
}

func (p *pairing) breakMinutes() generic.Minutes {
	var total time.Duration
	for _, iv := range p.breaks {
		total += iv.Duration()
	}
	return generic.DurationMinutes(total)
}

// pairEvents walks the events as IN -> (BREAK_START -> BREAK_END)* -> OUT.
// Anything out of order is skipped with a warning; well-formed pairs still count.
func pairEvents(events []ClockEvent) pairing {
	sorted := make([]ClockEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	var (
		p          pairing
		open       *time.Time
		breakOpen  *time.Time
		openBreaks []generic.Interval
	)

	for _, ev := range sorted {
		at := ev.At
		if ev.Pending && !p.pending {
			p.pending = true
			p.warnings = append(p.warnings, Warning{Code: WarnPendingRecords, Message: "events awaiting approval", At: &at})
		}

		switch ev.Kind {
		case EventIn:
			if p.firstIn == nil {
				p.firstIn = &at
			}
			if open != nil {
				p.warn(WarnIncompleteRecords, *open, "IN at %s has no matching OUT", open.Format(time.RFC3339))
				openBreaks = nil
				breakOpen = nil
			}
			open = &at

		case EventOut:
			p.lastOut = &at
			if open == nil {
				p.warn(WarnIncompleteRecords, at, "OUT at %s has no matching IN", at.Format(time.RFC3339))
				continue
			}
			if breakOpen != nil {
				p.warn(WarnUnmatchedBreak, *breakOpen, "BREAK_START at %s has no matching BREAK_END", breakOpen.Format(time.RFC3339))
				breakOpen = nil
			}
			shift := generic.Interval{Start: *open, End: at}
			for _, b := range openBreaks {
				if clipped, ok := b.Intersect(shift); ok {
					p.breaks = append(p.breaks, clipped)
				}
			}
			p.worked = append(p.worked, shift.Subtract(openBreaks)...)
			open = nil
			openBreaks = nil

		case EventBreakStart:
			if open == nil {
				p.warn(WarnUnmatchedBreak, at, "BREAK_START at %s outside a shift", at.Format(time.RFC3339))
				continue
			}
			if breakOpen != nil {
				p.warn(WarnUnmatchedBreak, *breakOpen, "BREAK_START at %s has no matching BREAK_END", breakOpen.Format(time.RFC3339))
			}
			if p.firstBreakStart == nil {
				p.firstBreakStart = &at
			}
			breakOpen = &at

		case EventBreakEnd:
			if breakOpen == nil {
				p.warn(WarnUnmatchedBreak, at, "BREAK_END at %s has no matching BREAK_START", at.Format(time.RFC3339))
				continue
			}
			openBreaks = append(openBreaks, generic.Interval{Start: *breakOpen, End: at})
			p.lastBreakEnd = &at
			breakOpen = nil
		}
	}

	if open != nil {
		p.warn(WarnIncompleteRecords, *open, "IN at %s has no matching OUT", open.Format(time.RFC3339))
	}
	return p
}
