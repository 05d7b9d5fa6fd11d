package schedule

import (
	"sort"
	"time"

	"github.com/heatwise/thermostat-server/internal/model"
)

// horizonMinutes caps the timeline at 24 hours of changes.
const horizonMinutes = 1440

// sweepEvent is one setpoint push in the chronological sweep. A nil mode is
// the end of an override's window; key groups events belonging to the same
// source (every weekly-program event shares one key).
type sweepEvent struct {
	minutes    int
	at         time.Time
	mode       *model.TemperatureMode
	priority   int
	key        int
	overrideID *int64
}

// ceilMinutes rounds a positive duration up to whole minutes, so that a one
// second remainder still counts as a full minute.
func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + 59*time.Second) / time.Minute)
}

// BuildRawTimeline merges the weekly program with active overrides into the
// ordered setpoint changes of the next 24 hours. Overrides already running,
// or starting within a day, contribute a start and an end event; higher
// priority wins while a window is open and the weekly baseline resumes when
// it closes. Consecutive entries with the same mode are collapsed and the
// recorded instant for a minute offset is the first event seen there.
//
// Same-priority windows resolve to the later-processed one. That matches the
// historical behavior of deployed devices and is covered by tests; do not
// change it to a strict maximum without revisiting those expectations.
func BuildRawTimeline(now time.Time, markers []model.WeekMarker, overrides []model.Override, fallback model.TemperatureMode) []model.ScheduleEntry {
	loc := now.Location()
	var events []sweepEvent

	key := 0
	for i := range overrides {
		o := &overrides[i]
		if o.Removed {
			continue
		}
		key++
		if now.Before(o.Start.AddDate(0, 0, -1)) || !now.Before(o.End) {
			continue
		}
		startMin := 0
		if o.Start.After(now) {
			startMin = ceilMinutes(o.Start.Sub(now))
		}
		id := o.ID
		mode := o.Mode
		events = append(events, sweepEvent{
			minutes:    startMin,
			at:         o.Start.In(loc),
			mode:       &mode,
			priority:   o.Priority,
			key:        key,
			overrideID: &id,
		})
		events = append(events, sweepEvent{
			minutes:  ceilMinutes(o.End.Sub(now)),
			at:       o.End.In(loc),
			mode:     nil,
			priority: o.Priority,
			key:      key,
		})
	}

	weekKey := key + 1
	current := Resolve(now, markers, fallback)
	events = append(events, sweepEvent{
		minutes:  0,
		at:       now,
		mode:     &current,
		priority: 0,
		key:      weekKey,
	})
	for _, ch := range UpcomingChanges(now, markers) {
		mode := ch.Mode
		events = append(events, sweepEvent{
			minutes:  ceilMinutes(ch.At.Sub(now)),
			at:       ch.At,
			mode:     &mode,
			priority: 0,
			key:      weekKey,
		})
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].minutes < events[j].minutes })

	// Sweep with an insertion-ordered active set keyed by source. The winner
	// carries over between events and is only re-elected by the >= scan or
	// cleared when its own window ends.
	var order []int
	active := make(map[int]*sweepEvent)
	var winner *sweepEvent

	type slot struct {
		at         time.Time
		mode       *model.TemperatureMode
		overrideID *int64
	}
	slots := make(map[int]slot)
	var slotOrder []int

	for i := range events {
		ev := &events[i]

		ended := false
		endedAt := 0
		if ev.mode == nil {
			if _, ok := active[ev.key]; ok {
				delete(active, ev.key)
				for j, k := range order {
					if k == ev.key {
						order = append(order[:j], order[j+1:]...)
						break
					}
				}
				if winner != nil && winner.key == ev.key {
					ended = true
					endedAt = ev.minutes
					winner = nil
				}
			}
		} else {
			if _, ok := active[ev.key]; !ok {
				order = append(order, ev.key)
			}
			active[ev.key] = ev
		}

		for _, k := range order {
			e := active[k]
			if winner == nil || e.priority >= winner.priority {
				winner = e
			}
		}

		minutes := 0
		if ended {
			minutes = endedAt
		} else if winner != nil {
			minutes = winner.minutes
		}
		if winner == nil {
			continue
		}

		at := ev.at
		if prev, ok := slots[minutes]; ok {
			at = prev.at
		} else {
			slotOrder = append(slotOrder, minutes)
		}
		slots[minutes] = slot{at: at, mode: winner.mode, overrideID: winner.overrideID}
	}

	sort.Ints(slotOrder)
	var result []model.ScheduleEntry
	var lastMode *model.TemperatureMode
	for _, minutes := range slotOrder {
		if minutes >= horizonMinutes {
			continue
		}
		s := slots[minutes]
		if lastMode != nil && s.mode.ID == lastMode.ID && s.mode.Temperature == lastMode.Temperature {
			continue
		}
		lastMode = s.mode
		result = append(result, model.ScheduleEntry{
			At:         s.at,
			Minutes:    minutes,
			Mode:       *s.mode,
			OverrideID: s.overrideID,
		})
	}
	return result
}
