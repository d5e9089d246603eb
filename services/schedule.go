package services

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/malwarebo/partnersync/models"
)

var (
	ErrJobNotFound     = errors.New("scheduled job not found")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// ValidateSchedule rejects parameters that NextExecution cannot honour.
func ValidateSchedule(s models.Schedule) error {
	switch s.Kind {
	case models.ScheduleKindInterval:
		if s.IntervalSeconds <= 0 {
			return fmt.Errorf("%w: interval_seconds must be positive", ErrInvalidSchedule)
		}
		return nil
	case models.ScheduleKindDaily:
	case models.ScheduleKindWeekly:
		if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
			return fmt.Errorf("%w: day_of_week must be between 0 and 6", ErrInvalidSchedule)
		}
	case models.ScheduleKindMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("%w: day_of_month must be between 1 and 31", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}

	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("%w: hour must be between 0 and 23", ErrInvalidSchedule)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("%w: minute must be between 0 and 59", ErrInvalidSchedule)
	}
	return nil
}

func ValidateJobRequest(r models.JobRequest) error {
	if r.Method != "" {
		switch strings.ToUpper(r.Method) {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return fmt.Errorf("%w: unsupported method %q", ErrInvalidSchedule, r.Method)
		}
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) url", ErrInvalidSchedule)
	}
	return nil
}

// NextExecution returns the next fire time after from, evaluated in loc.
//
// Interval jobs fire intervalSeconds after from. Daily jobs fire tomorrow at
// hour:minute. Weekly jobs fire on the next dayOfWeek at hour:minute, which
// may be today when that time is still ahead. Monthly jobs fire in the next
// calendar month on dayOfMonth, clamped to the length of that month.
func NextExecution(s models.Schedule, from time.Time, loc *time.Location) (time.Time, error) {
	if err := ValidateSchedule(s); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	local := from.In(loc)

	switch s.Kind {
	case models.ScheduleKindInterval:
		return from.Add(time.Duration(s.IntervalSeconds) * time.Second), nil

	case models.ScheduleKindDaily:
		return time.Date(local.Year(), local.Month(), local.Day()+1, s.Hour, s.Minute, 0, 0, loc), nil

	case models.ScheduleKindWeekly:
		daysAhead := (s.DayOfWeek - int(local.Weekday()) + 7) % 7
		candidate := time.Date(local.Year(), local.Month(), local.Day()+daysAhead, s.Hour, s.Minute, 0, 0, loc)
		if !candidate.After(local) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate, nil

	default:
		first := time.Date(local.Year(), local.Month()+1, 1, s.Hour, s.Minute, 0, 0, loc)
		day := min(s.DayOfMonth, daysIn(first.Year(), first.Month(), loc))
		return time.Date(first.Year(), first.Month(), day, s.Hour, s.Minute, 0, 0, loc), nil
	}
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
