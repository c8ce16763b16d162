package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// GenerateSlots expands an availability template over [startDate, endDate]
// (inclusive, YYYY-MM-DD) into free slot records. For every day whose
// weekday matches a rule, slots step from the rule's start by the interval;
// a trailing window shorter than the interval is dropped. Output is ordered
// by (date, start time) and never contains two slots with the same
// (date, start time).
func GenerateSlots(tmpl AvailabilityTemplate, startDate, endDate string, loc *time.Location) ([]Slot, error) {
	if tmpl.IntervalMinutes <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", tmpl.IntervalMinutes)
	}

	start, err := time.ParseInLocation(dateLayout, startDate, loc)
	if err != nil {
		return nil, fmt.Errorf("parse start date %q: %w", startDate, err)
	}
	end, err := time.ParseInLocation(dateLayout, endDate, loc)
	if err != nil {
		return nil, fmt.Errorf("parse end date %q: %w", endDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s before start date %s", endDate, startDate)
	}

	type window struct{ startMin, endMin int }
	byWeekday := make(map[time.Weekday][]window)
	for _, rule := range tmpl.Rules {
		startMin, err := parseClock(rule.StartTime)
		if err != nil {
			return nil, fmt.Errorf("rule start: %w", err)
		}
		endMin, err := parseClock(rule.EndTime)
		if err != nil {
			return nil, fmt.Errorf("rule end: %w", err)
		}
		if endMin <= startMin {
			return nil, fmt.Errorf("rule window %s-%s is empty", rule.StartTime, rule.EndTime)
		}
		byWeekday[rule.Weekday] = append(byWeekday[rule.Weekday], window{startMin, endMin})
	}

	var slots []Slot
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		windows := byWeekday[day.Weekday()]
		if len(windows) == 0 {
			continue
		}

		seen := make(map[int]bool)
		var starts []int
		ends := make(map[int]int)
		for _, w := range windows {
			for t := w.startMin; t+tmpl.IntervalMinutes <= w.endMin; t += tmpl.IntervalMinutes {
				if seen[t] {
					continue
				}
				seen[t] = true
				starts = append(starts, t)
				ends[t] = t + tmpl.IntervalMinutes
			}
		}
		sort.Ints(starts)

		date := day.Format(dateLayout)
		for _, t := range starts {
			slots = append(slots, Slot{
				ID:             uuid.New(),
				ProfessionalID: tmpl.ProfessionalID,
				Date:           date,
				StartTime:      formatClock(t),
				EndTime:        formatClock(ends[t]),
				Status:         SlotFree,
			})
		}
	}

	return slots, nil
}

// ResolveTimestamp combines a slot's date and start time into an instant
// in the given timezone.
func ResolveTimestamp(date, startTime string, loc *time.Location) (time.Time, error) {
	ts, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+startTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve slot timestamp: %w", err)
	}
	return ts, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
