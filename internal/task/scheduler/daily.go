package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidRule is wrapped by every rule validation failure.
var ErrInvalidRule = errors.New("invalid schedule rule")

// DailyRule fires once per calendar day at Hour:Minute wall-clock time in
// Timezone. The timezone database decides the UTC instant for each day, so
// DST transitions neither skip nor double a day.
type DailyRule struct {
	Hour     int
	Minute   int
	Timezone string
}

// Location validates the rule and resolves its timezone.
func (r DailyRule) Location() (*time.Location, error) {
	if r.Hour < 0 || r.Hour > 23 {
		return nil, fmt.Errorf("%w: hour %d out of range 0-23", ErrInvalidRule, r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return nil, fmt.Errorf("%w: minute %d out of range 0-59", ErrInvalidRule, r.Minute)
	}
	tz := strings.TrimSpace(r.Timezone)
	if tz == "" {
		return nil, fmt.Errorf("%w: timezone required", ErrInvalidRule)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRule, tz)
	}
	return loc, nil
}

// Spec renders the rule in cron notation for display. Firing goes through
// Schedule, not a parsed spec.
func (r DailyRule) Spec() string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", strings.TrimSpace(r.Timezone), r.Minute, r.Hour)
}

func (r DailyRule) String() string {
	return fmt.Sprintf("%02d:%02d %s", r.Hour, r.Minute, strings.TrimSpace(r.Timezone))
}

// Schedule returns the cron.Schedule registered for the rule.
func (r DailyRule) Schedule() (cron.Schedule, error) {
	loc, err := r.Location()
	if err != nil {
		return nil, err
	}
	return dailySchedule{hour: r.Hour, minute: r.Minute, loc: loc}, nil
}

// Next returns the first fire strictly after t.
func (r DailyRule) Next(t time.Time) (time.Time, error) {
	sched, err := r.Schedule()
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

// Prev returns the latest fire at or before t.
func (r DailyRule) Prev(t time.Time) (time.Time, error) {
	loc, err := r.Location()
	if err != nil {
		return time.Time{}, err
	}
	s := dailySchedule{hour: r.Hour, minute: r.Minute, loc: loc}
	local := t.In(loc)
	for back := 0; back < 3; back++ {
		if fire := s.on(local.Year(), local.Month(), local.Day()-back); !fire.After(t) {
			return fire, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: no previous fire for %s", ErrInvalidRule, r)
}

// NextFires lists the next n fires after t. Used by diagnostics and tests.
func (r DailyRule) NextFires(t time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, max(0, n))
	for i := 0; i < n; i++ {
		next, err := r.Next(t)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		t = next
	}
	return out, nil
}

// dailySchedule maps every calendar day in loc to exactly one instant. A
// wall-clock time skipped by a DST jump fires the same length of time after
// the jump (02:30 becomes 03:30); a repeated one fires once.
type dailySchedule struct {
	hour, minute int
	loc          *time.Location
}

func (s dailySchedule) on(y int, m time.Month, d int) time.Time {
	fire := time.Date(y, m, d, s.hour, s.minute, 0, 0, s.loc)
	// time.Date may resolve a skipped wall time to either side of the gap.
	want := time.Date(y, m, d, s.hour, s.minute, 0, 0, time.UTC)
	lt := fire.In(s.loc)
	got := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute(), 0, 0, time.UTC)
	if got.Before(want) {
		fire = fire.Add(want.Sub(got))
	}
	return fire
}

func (s dailySchedule) Next(t time.Time) time.Time {
	local := t.In(s.loc)
	for ahead := 0; ahead < 3; ahead++ {
		if fire := s.on(local.Year(), local.Month(), local.Day()+ahead); fire.After(t) {
			return fire
		}
	}
	return time.Time{}
}

// specParser accepts 5- or 6-field specs, descriptors and a CRON_TZ= prefix
// for entries added by spec.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
