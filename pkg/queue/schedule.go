package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule determines when a maintenance run is due
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// hourlySchedule runs every hour at the given minute
type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		from.Hour(), s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

// dailySchedule runs once per day at the given wall clock time
type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		s.hour, s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

// EveryInterval runs at fixed intervals. Non-positive durations fall back to one hour.
func EveryInterval(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Hour
	}
	return intervalSchedule{every: d}
}

// HourlyAt runs every hour at the given minute (0-59)
func HourlyAt(minute int) Schedule {
	return hourlySchedule{minute: clamp(minute, 0, 59)}
}

// DailyAt runs every day at hour:minute in the location of the clock
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: clamp(hour, 0, 23), minute: clamp(minute, 0, 59)}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// ParseSchedule reads a schedule spec: "hourly:MM", "daily:HH:MM" or a
// duration such as "30m". Empty input yields EveryInterval(fallback).
func ParseSchedule(spec string, fallback time.Duration) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return EveryInterval(fallback), nil
	}

	kind, rest, _ := strings.Cut(spec, ":")
	switch strings.ToLower(kind) {
	case "hourly":
		minute, err := scheduleField(rest, 59)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, spec, err)
		}
		return HourlyAt(minute), nil
	case "daily":
		h, m, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("%w %q: want daily:HH:MM", ErrInvalidSchedule, spec)
		}
		hour, err := scheduleField(h, 23)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, spec, err)
		}
		minute, err := scheduleField(m, 59)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, spec, err)
		}
		return DailyAt(hour, minute), nil
	}

	d, err := time.ParseDuration(spec)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("%w %q", ErrInvalidSchedule, spec)
	}
	return EveryInterval(d), nil
}

func scheduleField(s string, hi int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	if v < 0 || v > hi {
		return 0, fmt.Errorf("%d out of range 0-%d", v, hi)
	}
	return v, nil
}
