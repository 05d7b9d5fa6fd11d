package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/heatwise/thermostat-server/internal/model"
)

// CreateThermostat inserts a new thermostat with generated device
// credentials and seeds its default temperature modes and control
// parameters. The comfort mode is not removable so schedule resolution
// always has a fallback.
func CreateThermostat(db *sql.DB, name, timezone string, latitude, longitude float64) (*model.Thermostat, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	defer tx.Rollback()

	t := model.Thermostat{
		Name:      name,
		UID:       uuid.NewString(),
		APIKey:    uuid.NewString(),
		Timezone:  timezone,
		Latitude:  latitude,
		Longitude: longitude,
	}

	res, err := tx.Exec(`INSERT INTO thermostats (name, uid, api_key, timezone, latitude, longitude) VALUES (?, ?, ?, ?, ?, ?)`,
		t.Name, t.UID, t.APIKey, t.Timezone, t.Latitude, t.Longitude)
	if err != nil {
		return nil, fmt.Errorf("insert thermostat: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("thermostat id: %w", err)
	}

	defaults := []struct {
		category    model.ModeCategory
		name        string
		temperature float64
		removable   bool
	}{
		{model.CategoryComfort, "Comfort", 21.0, false},
		{model.CategoryAway, "Away", 14.0, true},
		{model.CategoryNight, "Night", 19.0, true},
	}
	for _, d := range defaults {
		_, err = tx.Exec(`INSERT INTO temperature_modes (thermostat_id, category, name, temperature, removable) VALUES (?, ?, ?, ?, ?)`,
			t.ID, d.category, d.name, d.temperature, d.removable)
		if err != nil {
			return nil, fmt.Errorf("insert default mode %s: %w", d.name, err)
		}
	}

	_, err = tx.Exec(`INSERT INTO control_parameters (thermostat_id) VALUES (?)`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("insert control parameters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit thermostat creation: %w", err)
	}
	return &t, nil
}

// RecordReport appends a reading and, when the duty-cycle controller
// replanned, persists the new cycle boundaries in the same transaction.
func RecordReport(db *sql.DB, thermostatID int64, reading model.Reading, params *model.ControlParameters, cycleChanged bool) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO readings (thermostat_id, measured_at, temperature, external_temp, requested_temp, target_temp, manual, boiler_on) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		thermostatID, formatTime(reading.At), reading.Temperature, reading.ExternalTemp, reading.RequestedTemp, reading.TargetTemp, reading.Manual, reading.BoilerOn)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}

	if cycleChanged {
		_, err = tx.Exec(`UPDATE control_parameters SET off_phase_start = ?, cycle_end = ? WHERE thermostat_id = ?`,
			formatTime(params.OffPhaseStart), formatTime(params.CycleEnd), thermostatID)
		if err != nil {
			return fmt.Errorf("update cycle state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}

func CreateMode(db *sql.DB, thermostatID int64, mode model.TemperatureMode) (int64, error) {
	res, err := db.Exec(`INSERT INTO temperature_modes (thermostat_id, category, name, temperature, removable) VALUES (?, ?, ?, ?, ?)`,
		thermostatID, mode.Category, mode.Name, mode.Temperature, mode.Removable)
	if err != nil {
		return 0, fmt.Errorf("insert temperature mode: %w", err)
	}
	return res.LastInsertId()
}

func UpdateModeTemperature(db *sql.DB, modeID int64, temperature float64) error {
	_, err := db.Exec(`UPDATE temperature_modes SET temperature = ? WHERE id = ? AND removed = 0`, temperature, modeID)
	if err != nil {
		return fmt.Errorf("update temperature mode: %w", err)
	}
	return nil
}

// RemoveMode flags a mode as removed. Non-removable modes (the comfort
// fallback) are refused; modes are never hard-deleted because readings and
// overrides may reference them.
func RemoveMode(db *sql.DB, modeID int64) error {
	mode, err := GetModeByID(db, modeID)
	if err != nil {
		return err
	}
	if !mode.Removable {
		return fmt.Errorf("mode %d is not removable", modeID)
	}
	if _, err := db.Exec(`UPDATE temperature_modes SET removed = 1 WHERE id = ?`, modeID); err != nil {
		return fmt.Errorf("remove temperature mode: %w", err)
	}
	return nil
}

func CreateWeekMarker(db *sql.DB, thermostatID int64, marker model.WeekMarker) (int64, error) {
	res, err := db.Exec(`INSERT INTO week_markers (thermostat_id, weekday, hour, minute, mode_id) VALUES (?, ?, ?, ?, ?)`,
		thermostatID, marker.Weekday, marker.Hour, marker.Minute, marker.Mode.ID)
	if err != nil {
		return 0, fmt.Errorf("insert week marker: %w", err)
	}
	return res.LastInsertId()
}

// DeleteWeekMarker hard-deletes a marker. Markers carry no history, unlike
// modes and overrides.
func DeleteWeekMarker(db *sql.DB, markerID int64) error {
	if _, err := db.Exec(`DELETE FROM week_markers WHERE id = ?`, markerID); err != nil {
		return fmt.Errorf("delete week marker: %w", err)
	}
	return nil
}

func CreateOverride(db *sql.DB, thermostatID int64, o model.Override) (int64, error) {
	res, err := db.Exec(`INSERT INTO overrides (thermostat_id, start_at, end_at, priority, mode_id, proposal_ref) VALUES (?, ?, ?, ?, ?, ?)`,
		thermostatID, formatTime(o.Start), formatTime(o.End), o.Priority, o.Mode.ID, o.ProposalRef)
	if err != nil {
		return 0, fmt.Errorf("insert override: %w", err)
	}
	return res.LastInsertId()
}

// CancelOverride flags an override as removed. Overrides are never
// hard-deleted.
func CancelOverride(db *sql.DB, overrideID int64) error {
	if _, err := db.Exec(`UPDATE overrides SET removed = 1 WHERE id = ?`, overrideID); err != nil {
		return fmt.Errorf("cancel override: %w", err)
	}
	return nil
}

func UpdateControlParameters(db *sql.DB, thermostatID int64, p model.ControlParameters) error {
	_, err := db.Exec(`UPDATE control_parameters SET coef = ?, anticipation_coef = ?, anticipation_exp = ?, anticipation_max_hours = ?, derivative_coef = ?,
		proportional_mode = ?, cycle_duration = ?, min_on_time = ?, min_off_time = ?, half_width = ? WHERE thermostat_id = ?`,
		p.Coef, p.AnticipationCoef, p.AnticipationExp, p.AnticipationMaxHours, p.DerivativeCoef,
		p.ProportionalMode, p.CycleDuration, p.MinOnTime, p.MinOffTime, p.HalfWidth, thermostatID)
	if err != nil {
		return fmt.Errorf("update control parameters: %w", err)
	}
	return nil
}
