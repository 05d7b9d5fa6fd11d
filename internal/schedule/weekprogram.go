package schedule

import (
	"time"

	"github.com/heatwise/thermostat-server/internal/model"
)

// maxLookbackDays bounds the day-by-day scan in Resolve. A full week plus
// one day guarantees any non-empty program is found before falling back.
const maxLookbackDays = 8

// WeeklyChange is a weekly marker materialized to an absolute instant.
type WeeklyChange struct {
	At   time.Time
	Mode model.TemperatureMode
}

// isoWeekday maps Go's Sunday=0 numbering to ISO Monday=1..Sunday=7.
func isoWeekday(t time.Time) int {
	d := int(t.Weekday())
	if d == 0 {
		return 7
	}
	return d
}

// Resolve returns the mode the weekly program prescribes at the given
// instant. Among markers on the same weekday it picks the latest time-of-day
// at or before the instant; equal times resolve to the last marker in slice
// order. When a day has no applicable marker the scan steps back one day at
// a time, time-of-day reset to end of day, and returns fallback if a full
// week plus one day yields nothing.
func Resolve(at time.Time, markers []model.WeekMarker, fallback model.TemperatureMode) model.TemperatureMode {
	day := isoWeekday(at)
	hour, minute := at.Hour(), at.Minute()

	for i := 0; i <= maxLookbackDays; i++ {
		var found *model.WeekMarker
		for idx := range markers {
			m := &markers[idx]
			if m.Weekday != day {
				continue
			}
			if m.Hour > hour || (m.Hour == hour && m.Minute > minute) {
				continue
			}
			if found == nil || m.Hour > found.Hour || (m.Hour == found.Hour && m.Minute >= found.Minute) {
				found = m
			}
		}
		if found != nil {
			return found.Mode
		}
		day--
		if day < 1 {
			day = 7
		}
		hour, minute = 23, 59
	}
	return fallback
}

// UpcomingChanges lists the program's next transitions within roughly 24
// hours: today's markers strictly after the instant's time-of-day, then all
// of tomorrow's markers. Each is materialized in the instant's location.
// Slice order of the input is preserved within each day.
func UpcomingChanges(at time.Time, markers []model.WeekMarker) []WeeklyChange {
	loc := at.Location()
	today := isoWeekday(at)
	tomorrow := today%7 + 1

	var changes []WeeklyChange
	for _, m := range markers {
		if m.Weekday != today {
			continue
		}
		if m.Hour < at.Hour() || (m.Hour == at.Hour() && m.Minute <= at.Minute()) {
			continue
		}
		changes = append(changes, WeeklyChange{
			At:   time.Date(at.Year(), at.Month(), at.Day(), m.Hour, m.Minute, 0, 0, loc),
			Mode: m.Mode,
		})
	}

	next := at.AddDate(0, 0, 1)
	for _, m := range markers {
		if m.Weekday != tomorrow {
			continue
		}
		changes = append(changes, WeeklyChange{
			At:   time.Date(next.Year(), next.Month(), next.Day(), m.Hour, m.Minute, 0, 0, loc),
			Mode: m.Mode,
		})
	}
	return changes
}
