package models

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that reports fields by their JSON name and
// knows the "calendardate" tag. An empty string passes calendardate so that
// clearing a field is always allowed.
func NewValidator(parseDate func(string) (time.Time, error)) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	err := v.RegisterValidation("calendardate", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := parseDate(s)
		return err == nil
	})
	if err != nil {
		panic(err)
	}
	return v
}

func fieldErrors(err error, messages map[string]string) map[string]string {
	out := make(map[string]string)
	if err == nil {
		return out
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		msg, ok := messages[fe.Field()]
		if !ok {
			msg = "failed " + fe.Tag()
		}
		out[fe.Field()] = msg
	}
	return out
}
