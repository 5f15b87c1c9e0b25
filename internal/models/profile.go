package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Profile is the per-user document holding the two anchor dates. Both fields
// are calendar dates (YYYY-MM-DD) and independently optional; an unset field
// is omitted from the stored document rather than written as null.
type Profile struct {
	ConceptionDate string `json:"conceptionDate,omitempty" bson:"conceptionDate,omitempty"`
	BabyBirthDate  string `json:"babyBirthDate,omitempty" bson:"babyBirthDate,omitempty"`
}

// UpdateProfileRequest sets only the fields present in the body. An empty
// string clears the field.
type UpdateProfileRequest struct {
	ConceptionDate *string `json:"conceptionDate" validate:"omitempty,calendardate"`
	BabyBirthDate  *string `json:"babyBirthDate" validate:"omitempty,calendardate"`
}

var updateProfileMessages = map[string]string{
	"conceptionDate": "Conception date must be YYYY-MM-DD",
	"babyBirthDate":  "Birth date must be YYYY-MM-DD",
}

// Validate returns field messages keyed by JSON name; empty when valid.
func (r *UpdateProfileRequest) Validate(v *validator.Validate) map[string]string {
	return fieldErrors(v.Struct(r), updateProfileMessages)
}

// PregnancyInfo is derived from the conception date on every read.
type PregnancyInfo struct {
	ConceptionDate time.Time `json:"conceptionDate"`
	DueDate        time.Time `json:"dueDate"`
	CurrentWeek    int       `json:"currentWeek"`
	CurrentDay     int       `json:"currentDay"`
	DaysRemaining  int       `json:"daysRemaining"`
	Trimester      int       `json:"trimester"`
	Progress       float64   `json:"progress"`
}

// BabyAge uses a flat 30-day month.
type BabyAge struct {
	Days   int `json:"days"`
	Weeks  int `json:"weeks"`
	Months int `json:"months"`
}
