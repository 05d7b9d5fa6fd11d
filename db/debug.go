package db

import (
	"fmt"
	"time"

	"github.com/heatwise/thermostat-server/internal/model"
)

// SeedDemoThermostatCLI creates a thermostat with a simple weekday program
// (night setback plus working-hours away) for local testing.
func SeedDemoThermostatCLI(dbPath, name, timezone string) (*model.Thermostat, error) {
	dbConn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer dbConn.Close()

	t, err := CreateThermostat(dbConn, name, timezone, 48.85, 2.35)
	if err != nil {
		return nil, err
	}

	modes, err := GetModes(dbConn, t.ID)
	if err != nil {
		return nil, err
	}
	byCategory := make(map[model.ModeCategory]model.TemperatureMode)
	for _, m := range modes {
		byCategory[m.Category] = m
	}

	for weekday := 1; weekday <= 5; weekday++ {
		markers := []model.WeekMarker{
			{Weekday: weekday, Hour: 6, Minute: 30, Mode: byCategory[model.CategoryComfort]},
			{Weekday: weekday, Hour: 8, Minute: 30, Mode: byCategory[model.CategoryAway]},
			{Weekday: weekday, Hour: 18, Minute: 0, Mode: byCategory[model.CategoryComfort]},
			{Weekday: weekday, Hour: 22, Minute: 30, Mode: byCategory[model.CategoryNight]},
		}
		for _, m := range markers {
			if _, err := CreateWeekMarker(dbConn, t.ID, m); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// AddOverrideCLI creates an override starting now for the given number of
// hours, using the thermostat's comfort mode.
func AddOverrideCLI(dbPath string, thermostatID int64, hours int, priority int) (int64, error) {
	dbConn, err := Open(dbPath)
	if err != nil {
		return 0, err
	}
	defer dbConn.Close()

	mode, err := GetFallbackMode(dbConn, thermostatID)
	if err != nil {
		return 0, fmt.Errorf("no comfort mode for thermostat %d: %w", thermostatID, err)
	}
	now := time.Now().UTC()
	return CreateOverride(dbConn, thermostatID, model.Override{
		Start:    now,
		End:      now.Add(time.Duration(hours) * time.Hour),
		Priority: priority,
		Mode:     *mode,
	})
}
