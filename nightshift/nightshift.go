// Package nightshift measures how much of a worked interval falls inside a
// night window and what that time is worth with the night premium applied.
package nightshift

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/generic"
)

var hundred = decimal.NewFromInt(100)

// Window is a night window defined by wall-clock times. End before Start
// means the window wraps past midnight (22:00-05:00). Start == End is empty.
type Window struct {
	Start generic.TimeOfDay
	End   generic.TimeOfDay
}

func (w Window) IsEmpty() bool { return w.Start == w.End }
func (w Window) Wraps() bool   { return w.End < w.Start }

// On returns the absolute window that opens on date.
func (w Window) On(date generic.Date, loc *time.Location) generic.Interval {
	endDate := date
	if w.Wraps() {
		endDate = date.AddDays(1)
	}
	return generic.Interval{Start: w.Start.On(date, loc), End: w.End.On(endDate, loc)}
}

// OverlapMinutes returns the minutes of worked that fall inside the window.
//
// The window is anchored on every day from the day before worked starts
// through the day it ends, so a shift starting at 02:00 still meets the
// window that opened at 22:00 the previous evening. Anchored windows never
// overlap each other, so summing the intersections equals intersecting
// with their union.
func OverlapMinutes(worked generic.Interval, w Window) generic.Minutes {
	return generic.DurationMinutes(overlap(worked, w))
}

// OverlapMinutesAll sums the overlap of several disjoint worked intervals,
// truncating to whole minutes once at the end.
func OverlapMinutesAll(worked []generic.Interval, w Window) generic.Minutes {
	var total time.Duration
	for _, iv := range worked {
		total += overlap(iv, w)
	}
	return generic.DurationMinutes(total)
}

func overlap(worked generic.Interval, w Window) time.Duration {
	if worked.IsEmpty() || w.IsEmpty() {
		return 0
	}
	loc := worked.Start.Location()
	first := generic.DateOf(worked.Start).AddDays(-1)
	last := generic.DateOf(worked.End.In(loc))

	var total time.Duration
	for d := first; d.BeforeOrEqual(last); d = d.AddDays(1) {
		if part, ok := worked.Intersect(w.On(d, loc)); ok {
			total += part.Duration()
		}
	}
	return total
}

// PremiumMinutes is overlap*(1+percent/100) - overlap, kept exact.
func PremiumMinutes(overlap generic.Minutes, percent decimal.Decimal) decimal.Decimal {
	o := decimal.NewFromInt(int64(overlap))
	return o.Mul(decimal.NewFromInt(1).Add(percent.Div(hundred))).Sub(o)
}

// EquivalentMinutes is the premium-adjusted value of the overlap.
func EquivalentMinutes(overlap generic.Minutes, percent decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(overlap)).Add(PremiumMinutes(overlap, percent))
}

// Round converts an exact minute amount to whole minutes, half away from zero.
func Round(m decimal.Decimal) generic.Minutes {
	return generic.Minutes(m.Round(0).IntPart())
}
