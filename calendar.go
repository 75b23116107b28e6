package jobstore

import (
	"time"

	"github.com/simpleframeworks/jobstore/models"
)

const dateLayout = "2006-01-02"

// CalendarIncludes reports whether t is allowed by the calendar's exclusion rules
func CalendarIncludes(cal *models.Calendar, t time.Time) bool {
	rules := cal.Rules

	for _, r := range rules.Ranges {
		if !t.Before(r.From) && t.Before(r.To) {
			return false
		}
	}

	if len(rules.Dates) == 0 && len(rules.Weekdays) == 0 {
		return true
	}

	loc := time.UTC
	if rules.Location != "" {
		if l, err := time.LoadLocation(rules.Location); err == nil {
			loc = l
		}
	}
	local := t.In(loc)

	for _, wd := range rules.Weekdays {
		if local.Weekday() == wd {
			return false
		}
	}
	day := local.Format(dateLayout)
	for _, d := range rules.Dates {
		if d == day {
			return false
		}
	}
	return true
}
