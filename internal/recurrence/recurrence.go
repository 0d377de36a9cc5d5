package recurrence

import (
	"fmt"
	"strings"
	"time"

	"chatbi/internal/models"
	"github.com/robfig/cron/v3"
)

// Spec is the recurrence specification of a schedule: frequency plus the
// day/time/timezone fields that define when it is due.
type Spec struct {
	Frequency      models.Frequency
	DayOfWeek      string // weekly only, e.g. "monday"
	DayOfMonth     int    // monthly only, 1-28
	TimeOfDay      string // "15:04", local to Timezone
	Timezone       string // IANA zone name
	CronExpression string // custom only
}

// FromSchedule extracts the recurrence spec from a schedule.
func FromSchedule(s *models.Schedule) Spec {
	return Spec{
		Frequency:      s.Frequency,
		DayOfWeek:      s.DayOfWeek,
		DayOfMonth:     s.DayOfMonth,
		TimeOfDay:      s.TimeOfDay,
		Timezone:       s.Timezone,
		CronExpression: s.CronExpression,
	}
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks that the spec's fields are consistent with its frequency.
// customCronEnabled gates the custom frequency org-wide.
func (s Spec) Validate(customCronEnabled bool) error {
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %v", s.Timezone, err)
	}

	switch s.Frequency {
	case models.FrequencyDaily:
		// time of day only
	case models.FrequencyWeekly:
		if s.DayOfWeek == "" {
			return fmt.Errorf("dayOfWeek is required for weekly schedules")
		}
		if _, err := parseWeekday(s.DayOfWeek); err != nil {
			return err
		}
	case models.FrequencyMonthly:
		if s.DayOfMonth == 0 {
			return fmt.Errorf("dayOfMonth is required for monthly schedules")
		}
		// 29-31 are disallowed so the schedule stays valid in short months
		if s.DayOfMonth < 1 || s.DayOfMonth > 28 {
			return fmt.Errorf("dayOfMonth must be between 1 and 28, got %d", s.DayOfMonth)
		}
	case models.FrequencyCustom:
		if !customCronEnabled {
			return fmt.Errorf("custom cron schedules are disabled for this organization")
		}
		if s.CronExpression == "" {
			return fmt.Errorf("cronExpression is required for custom schedules")
		}
		if _, err := cronParser.Parse(s.CronExpression); err != nil {
			return fmt.Errorf("invalid cron expression %q: %v", s.CronExpression, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown frequency %q", s.Frequency)
	}

	if s.Frequency != models.FrequencyWeekly && s.DayOfWeek != "" {
		return fmt.Errorf("dayOfWeek is only valid for weekly schedules")
	}
	if s.Frequency != models.FrequencyMonthly && s.DayOfMonth != 0 {
		return fmt.Errorf("dayOfMonth is only valid for monthly schedules")
	}
	if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
		return err
	}
	return nil
}

// Next returns the first occurrence strictly after from. Computation happens
// in the schedule's timezone and the result is an absolute instant, so a
// time of "09:00" means 9am local on the run date across DST transitions.
// An occurrence exactly equal to from is excluded, which keeps a
// just-completed run from being immediately re-queued.
func (s Spec) Next(from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %v", s.Timezone, err)
	}

	if s.Frequency == models.FrequencyCustom {
		// CRON_TZ pins the expression to the schedule's zone
		sched, err := cronParser.Parse("CRON_TZ=" + s.Timezone + " " + s.CronExpression)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %v", s.CronExpression, err)
		}
		// cron.Schedule.Next is already strictly-after
		return sched.Next(from.In(loc)), nil
	}

	hour, min, err := parseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	local := from.In(loc)

	switch s.Frequency {
	case models.FrequencyDaily:
		cand := time.Date(local.Year(), local.Month(), local.Day(), hour, min, 0, 0, loc)
		for !cand.After(from) {
			cand = atTime(cand.AddDate(0, 0, 1), hour, min, loc)
		}
		return cand, nil

	case models.FrequencyWeekly:
		target, err := parseWeekday(s.DayOfWeek)
		if err != nil {
			return time.Time{}, err
		}
		cand := time.Date(local.Year(), local.Month(), local.Day(), hour, min, 0, 0, loc)
		for cand.Weekday() != target || !cand.After(from) {
			cand = atTime(cand.AddDate(0, 0, 1), hour, min, loc)
		}
		return cand, nil

	case models.FrequencyMonthly:
		cand := time.Date(local.Year(), local.Month(), s.DayOfMonth, hour, min, 0, 0, loc)
		for !cand.After(from) {
			cand = time.Date(cand.Year(), cand.Month()+1, s.DayOfMonth, hour, min, 0, 0, loc)
		}
		return cand, nil
	}

	return time.Time{}, fmt.Errorf("unknown frequency %q", s.Frequency)
}

// NextN returns the next count occurrences strictly after from, in
// increasing order.
func (s Spec) NextN(from time.Time, count int) ([]time.Time, error) {
	runs := make([]time.Time, 0, count)
	cursor := from
	for i := 0; i < count; i++ {
		next, err := s.Next(cursor)
		if err != nil {
			return nil, err
		}
		runs = append(runs, next)
		cursor = next
	}
	return runs, nil
}

// atTime re-anchors t to the given wall-clock time in loc. Going through
// time.Date keeps the local time stable across DST transitions.
func atTime(t time.Time, hour, min int, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, min, 0, 0, loc)
}

func parseTimeOfDay(v string) (hour, min int, err error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: expected HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}

func parseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(name) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("invalid day of week %q", name)
}
