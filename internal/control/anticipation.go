package control

import (
	"math"

	"github.com/heatwise/thermostat-server/internal/model"
)

// AnticipationLead returns how many minutes early heating should start to
// reach target from the current (extrapolated) indoor temperature, capped at
// maxHours. Zero when no heating is needed.
func AnticipationLead(indoorTemp, targetTemp, coef, exponent, maxHours float64) float64 {
	if targetTemp <= indoorTemp {
		return 0
	}
	return math.Min(coef*math.Pow(targetTemp-indoorTemp, exponent), maxHours*60)
}

// ApplyAnticipation shifts every timeline entry earlier by its anticipation
// lead, clamped at now. If a later entry lands on now and is hotter than
// every entry before it, the timeline collapses to that single entry flagged
// as a preheat, telling the device to start heating for the upcoming period
// immediately. The input slice is not modified.
func ApplyAnticipation(raw []model.ScheduleEntry, extrapolatedTemp, coef, exponent, maxHours float64) []model.ScheduleEntry {
	if len(raw) == 0 {
		return nil
	}

	adjusted := make([]model.ScheduleEntry, len(raw))
	offsets := make([]float64, len(raw))
	for i, entry := range raw {
		lead := AnticipationLead(extrapolatedTemp, entry.Mode.Temperature, coef, exponent, maxHours)
		off := math.Max(float64(entry.Minutes)-lead, 0)
		offsets[i] = off
		entry.Minutes = int(off)
		entry.Preheat = false
		adjusted[i] = entry
	}

	preheat := -1
	maxTemp := adjusted[0].Mode.Temperature
	for i := 1; i < len(adjusted); i++ {
		if offsets[i] == 0 && adjusted[i].Mode.Temperature > maxTemp {
			preheat = i
		}
		if adjusted[i].Mode.Temperature > maxTemp {
			maxTemp = adjusted[i].Mode.Temperature
		}
	}

	if preheat >= 0 {
		entry := adjusted[preheat]
		entry.Preheat = true
		return []model.ScheduleEntry{entry}
	}
	return adjusted
}
