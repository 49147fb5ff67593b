package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/worktime-engine/generic"
)

// EvenWeek spreads weekly minutes over the given workdays and returns the
// seven Day rows. Every workday starts at entry; when breakMinutes > 0 the
// break starts at breakStart. Remainder minutes go to the earliest workdays
// (Monday first), so the rows always sum back to weekly.
func EvenWeek(weekly generic.Minutes, workdays []time.Weekday, entry, breakStart generic.TimeOfDay, breakMinutes generic.Minutes) ([]Day, error) {
	if weekly < 0 || breakMinutes < 0 {
		return nil, fmt.Errorf("even week: negative minutes")
	}
	unique := make(map[time.Weekday]bool, len(workdays))
	for _, wd := range workdays {
		unique[wd] = true
	}
	ordered := make([]time.Weekday, 0, len(unique))
	for wd := range unique {
		ordered = append(ordered, wd)
	}
	sort.Slice(ordered, func(i, j int) bool { return mondayFirst(ordered[i]) < mondayFirst(ordered[j]) })

	if len(ordered) == 0 {
		if weekly > 0 {
			return nil, fmt.Errorf("even week: %s cannot be spread over zero workdays", weekly)
		}
	}

	perDay := make(map[time.Weekday]generic.Minutes, len(ordered))
	if n := generic.Minutes(len(ordered)); n > 0 {
		base, rem := weekly/n, weekly%n
		for i, wd := range ordered {
			perDay[wd] = base
			if generic.Minutes(i) < rem {
				perDay[wd]++
			}
		}
	}

	days := make([]Day, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		work, ok := perDay[wd]
		if !ok {
			days = append(days, Day{Weekday: wd})
			continue
		}
		span := int(work + breakMinutes)
		if span >= 24*60 {
			return nil, fmt.Errorf("even week: %s on %s does not fit in a day", work, wd)
		}
		d := Day{
			Weekday:   wd,
			IsWorkDay: true,
			Entry:     entry,
			Exit:      generic.TimeOfDay((int(entry) + span) % (24 * 60)),
		}
		if breakMinutes > 0 {
			bs := breakStart
			be := generic.TimeOfDay((int(breakStart) + int(breakMinutes)) % (24 * 60))
			d.BreakStart, d.BreakEnd = &bs, &be
		}
		days = append(days, d)
	}
	return days, nil
}

func mondayFirst(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}
