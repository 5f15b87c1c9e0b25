package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.New("bad date")
	}
	return t, nil
}

func strPtr(s string) *string { return &s }

func TestUpdateProfileRequest_Validate(t *testing.T) {
	v := NewValidator(parseDay)

	tests := []struct {
		name string
		req  UpdateProfileRequest
		want map[string]string
	}{
		{"nothing set", UpdateProfileRequest{}, map[string]string{}},
		{"valid dates", UpdateProfileRequest{ConceptionDate: strPtr("2026-01-01"), BabyBirthDate: strPtr("2025-02-03")}, map[string]string{}},
		{"clearing", UpdateProfileRequest{ConceptionDate: strPtr(""), BabyBirthDate: strPtr("")}, map[string]string{}},
		{"bad conception", UpdateProfileRequest{ConceptionDate: strPtr("01/02/2026")}, map[string]string{
			"conceptionDate": "Conception date must be YYYY-MM-DD",
		}},
		{"both bad", UpdateProfileRequest{ConceptionDate: strPtr("x"), BabyBirthDate: strPtr("2026-02-30")}, map[string]string{
			"conceptionDate": "Conception date must be YYYY-MM-DD",
			"babyBirthDate":  "Birth date must be YYYY-MM-DD",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Validate(v))
		})
	}
}
