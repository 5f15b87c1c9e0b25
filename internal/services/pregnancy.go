package services

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/usefultools/backend/internal/models"
)

const (
	PregnancyWeeks     = 40
	DaysPerWeek        = 7
	TotalPregnancyDays = PregnancyWeeks * DaysPerWeek
	DaysPerMonth       = 30

	SecondTrimesterStartWeek = 13
	ThirdTrimesterStartWeek  = 28
)

const dateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid calendar date")

// ParseDate reads a calendar date. RFC 3339 timestamps are accepted and
// reduced to the date they name in their own offset.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(dateLayout, s); err == nil {
		return d, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, s, err)
	}
	return calendarDate(ts), nil
}

// calendarDate drops the time of day, keeping the date as seen in t's location.
// The result is midnight UTC so day arithmetic never crosses a DST shift.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// wholeDaysBetween counts calendar days from `from` to `to`. Both values are
// reduced to calendar dates first, so the result is exact.
func wholeDaysBetween(to, from time.Time) int {
	return int(calendarDate(to).Sub(calendarDate(from)) / (24 * time.Hour))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// TrimesterForWeek maps a pregnancy week to 1, 2 or 3.
func TrimesterForWeek(week int) int {
	switch {
	case week >= ThirdTrimesterStartWeek:
		return 3
	case week >= SecondTrimesterStartWeek:
		return 2
	default:
		return 1
	}
}

// PregnancyInfo derives the pregnancy snapshot for now. An empty conception
// date yields (nil, nil).
//
// currentDay comes from the unclamped day count, so past the due date the
// snapshot reads "week 40, day N" where N keeps cycling through the week.
func PregnancyInfo(conceptionDate string, now time.Time) (*models.PregnancyInfo, error) {
	if strings.TrimSpace(conceptionDate) == "" {
		return nil, nil
	}
	conception, err := ParseDate(conceptionDate)
	if err != nil {
		return nil, err
	}

	dueDate := conception.AddDate(0, 0, TotalPregnancyDays)
	days := wholeDaysBetween(now, conception)

	week := clampInt(floorDiv(days, DaysPerWeek)+1, 1, PregnancyWeeks)
	progress := math.Min(100, math.Max(0, float64(days)/TotalPregnancyDays*100))

	return &models.PregnancyInfo{
		ConceptionDate: conception,
		DueDate:        dueDate,
		CurrentWeek:    week,
		CurrentDay:     floorMod(days, DaysPerWeek) + 1,
		DaysRemaining:  max(0, wholeDaysBetween(dueDate, now)),
		Trimester:      TrimesterForWeek(week),
		Progress:       progress,
	}, nil
}

// BabyAge derives the age snapshot for now. A birth date in the future gives
// negative values; it is not rejected.
func BabyAge(babyBirthDate string, now time.Time) (*models.BabyAge, error) {
	if strings.TrimSpace(babyBirthDate) == "" {
		return nil, nil
	}
	birth, err := ParseDate(babyBirthDate)
	if err != nil {
		return nil, err
	}

	days := wholeDaysBetween(now, birth)
	return &models.BabyAge{
		Days:   days,
		Weeks:  floorDiv(days, DaysPerWeek),
		Months: floorDiv(days, DaysPerMonth),
	}, nil
}
