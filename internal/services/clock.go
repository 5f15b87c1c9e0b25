package services

import "time"

// Clock abstracts time.Now so derivations can be evaluated at a fixed instant.
type Clock interface {
	Now() time.Time
}

// RealClock reports the current local time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// FixedClock always reports the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time {
	return time.Time(c)
}
