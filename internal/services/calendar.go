package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/usefultools/backend/internal/models"
)

const (
	calendarProdID = "-//Useful Tools//Pregnancy Timeline//EN"
	calendarName   = "Pregnancy timeline"
	dueDateAlarm   = "-P7D"
)

// calendarNamespace seeds deterministic event UIDs so re-exports update the
// same events in a subscribed calendar instead of duplicating them.
var calendarNamespace = uuid.MustParse("2f7c1d4e-5b8a-4c3e-9d61-0a7b3c9e1f25")

type milestone struct {
	kind    string
	summary string
	offset  int
}

var pregnancyMilestones = []milestone{
	{kind: "trimester-2", summary: "Second trimester begins", offset: (SecondTrimesterStartWeek - 1) * DaysPerWeek},
	{kind: "trimester-3", summary: "Third trimester begins", offset: (ThirdTrimesterStartWeek - 1) * DaysPerWeek},
	{kind: "due-date", summary: "Due date", offset: TotalPregnancyDays},
}

// PregnancyCalendar renders the trimester starts and the due date of info as
// all-day iCalendar events.
func PregnancyCalendar(userID string, info *models.PregnancyInfo, now time.Time) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, calendarProdID)
	cal.Props.SetText("X-WR-CALNAME", calendarName)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")

	stamp := ical.NewProp(ical.PropDateTimeStamp)
	stamp.SetDateTime(now.UTC())

	for _, m := range pregnancyMilestones {
		date := info.ConceptionDate.AddDate(0, 0, m.offset)
		seed := fmt.Sprintf("%s/%s/%s", userID, info.ConceptionDate.Format(dateLayout), m.kind)

		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, uuid.NewSHA1(calendarNamespace, []byte(seed)).String())
		event.Props.SetText(ical.PropSummary, m.summary)
		event.Props.Set(stamp)

		start := ical.NewProp(ical.PropDateTimeStart)
		start.SetDate(date)
		event.Props.Set(start)

		if m.kind == "due-date" {
			alarm := ical.NewComponent(ical.CompAlarm)
			alarm.Props.SetText(ical.PropAction, "DISPLAY")
			alarm.Props.SetText(ical.PropDescription, m.summary)
			trigger := ical.NewProp(ical.PropTrigger)
			trigger.Value = dueDateAlarm
			alarm.Props.Set(trigger)
			event.Children = append(event.Children, alarm)
		}

		cal.Children = append(cal.Children, event.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}
