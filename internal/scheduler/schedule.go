package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule grammar
//
// Task cadence is written in a small English grammar rather than cron:
//
//   every N minutes
//   every hour on minute M
//   daily at HH
//   weekly on <weekday> at HH
//   monthly on day D at HH
//
// Parsing an unknown expression is not fatal: the caller falls back to
// now+1h and logs a warning, so a typo in one task never stops the
// scheduler.

type scheduleKind int

const (
	everyMinutes scheduleKind = iota
	hourlyOnMinute
	dailyAtHour
	weeklyAtHour
	monthlyAtHour
)

// Schedule is one parsed cadence.
type Schedule struct {
	kind    scheduleKind
	every   time.Duration
	minute  int
	hour    int
	weekday time.Weekday
	day     int
	raw     string
}

func (s Schedule) String() string { return s.raw }

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// Parse reads one schedule expression.
func Parse(expr string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(expr)))
	s := Schedule{raw: strings.Join(fields, " ")}

	switch {
	case len(fields) == 3 && fields[0] == "every" && fields[2] == "minutes":
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return s, fmt.Errorf("schedule: bad minute count %q", fields[1])
		}
		s.kind = everyMinutes
		s.every = time.Duration(n) * time.Minute
		return s, nil

	case len(fields) == 5 && fields[0] == "every" && fields[1] == "hour" && fields[2] == "on" && fields[3] == "minute":
		m, err := strconv.Atoi(fields[4])
		if err != nil || m < 0 || m > 59 {
			return s, fmt.Errorf("schedule: bad minute %q", fields[4])
		}
		s.kind = hourlyOnMinute
		s.minute = m
		return s, nil

	case len(fields) == 3 && fields[0] == "daily" && fields[1] == "at":
		h, err := parseHour(fields[2])
		if err != nil {
			return s, err
		}
		s.kind = dailyAtHour
		s.hour = h
		return s, nil

	case len(fields) == 5 && fields[0] == "weekly" && fields[1] == "on" && fields[3] == "at":
		wd, ok := weekdays[fields[2]]
		if !ok {
			return s, fmt.Errorf("schedule: unknown weekday %q", fields[2])
		}
		h, err := parseHour(fields[4])
		if err != nil {
			return s, err
		}
		s.kind = weeklyAtHour
		s.weekday = wd
		s.hour = h
		return s, nil

	case len(fields) == 6 && fields[0] == "monthly" && fields[1] == "on" && fields[2] == "day" && fields[4] == "at":
		d, err := strconv.Atoi(fields[3])
		if err != nil || d < 1 || d > 28 {
			return s, fmt.Errorf("schedule: bad day of month %q", fields[3])
		}
		h, err := parseHour(fields[5])
		if err != nil {
			return s, err
		}
		s.kind = monthlyAtHour
		s.day = d
		s.hour = h
		return s, nil
	}
	return s, fmt.Errorf("schedule: cannot parse %q", expr)
}

func parseHour(field string) (int, error) {
	h, err := strconv.Atoi(field)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("schedule: bad hour %q", field)
	}
	return h, nil
}

// Next returns the first run time strictly after from. All wall-clock
// anchors are UTC.
func (s Schedule) Next(from time.Time) time.Time {
	from = from.UTC()

	switch s.kind {
	case everyMinutes:
		return from.Add(s.every)

	case hourlyOnMinute:
		next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.minute, 0, 0, time.UTC)
		if !next.After(from) {
			next = next.Add(time.Hour)
		}
		return next

	case dailyAtHour:
		next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, 0, 0, 0, time.UTC)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case weeklyAtHour:
		next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, 0, 0, 0, time.UTC)
		for next.Weekday() != s.weekday || !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case monthlyAtHour:
		next := time.Date(from.Year(), from.Month(), s.day, s.hour, 0, 0, 0, time.UTC)
		if !next.After(from) {
			next = next.AddDate(0, 1, 0)
		}
		return next
	}
	return from.Add(time.Hour)
}
