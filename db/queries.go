package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/heatwise/thermostat-server/internal/model"
)

// GetThermostatByID retrieves a thermostat by its primary key.
func GetThermostatByID(db *sql.DB, id int64) (*model.Thermostat, error) {
	row := db.QueryRow(`SELECT id, name, uid, api_key, timezone, latitude, longitude, last_weather_at FROM thermostats WHERE id = ?`, id)
	return scanThermostat(row)
}

// GetThermostatByCredentials retrieves a thermostat by the uid and api key a
// device presents when reporting.
func GetThermostatByCredentials(db *sql.DB, uid, apiKey string) (*model.Thermostat, error) {
	row := db.QueryRow(`SELECT id, name, uid, api_key, timezone, latitude, longitude, last_weather_at FROM thermostats WHERE uid = ? AND api_key = ?`, uid, apiKey)
	return scanThermostat(row)
}

func scanThermostat(row *sql.Row) (*model.Thermostat, error) {
	var t model.Thermostat
	var lastWeather string
	err := row.Scan(&t.ID, &t.Name, &t.UID, &t.APIKey, &t.Timezone, &t.Latitude, &t.Longitude, &lastWeather)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan thermostat: %w", err)
	}
	if t.LastWeatherAt, err = parseTime(lastWeather); err != nil {
		return nil, err
	}
	return &t, nil
}

func ListThermostats(db *sql.DB) ([]model.Thermostat, error) {
	rows, err := db.Query(`SELECT id, name, uid, api_key, timezone, latitude, longitude, last_weather_at FROM thermostats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query thermostats: %w", err)
	}
	defer rows.Close()

	var result []model.Thermostat
	for rows.Next() {
		var t model.Thermostat
		var lastWeather string
		if err := rows.Scan(&t.ID, &t.Name, &t.UID, &t.APIKey, &t.Timezone, &t.Latitude, &t.Longitude, &lastWeather); err != nil {
			return nil, fmt.Errorf("failed to scan thermostat: %w", err)
		}
		if t.LastWeatherAt, err = parseTime(lastWeather); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func UpdateLastWeatherAt(db *sql.DB, thermostatID int64, at time.Time) error {
	_, err := db.Exec(`UPDATE thermostats SET last_weather_at = ? WHERE id = ?`, formatTime(at), thermostatID)
	if err != nil {
		return fmt.Errorf("failed to update last weather time: %w", err)
	}
	return nil
}

// GetModes retrieves the thermostat's non-removed temperature modes.
func GetModes(db *sql.DB, thermostatID int64) ([]model.TemperatureMode, error) {
	rows, err := db.Query(`SELECT id, category, name, temperature, removable, removed FROM temperature_modes WHERE thermostat_id = ? AND removed = 0 ORDER BY id`, thermostatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query temperature modes: %w", err)
	}
	defer rows.Close()

	var result []model.TemperatureMode
	for rows.Next() {
		var m model.TemperatureMode
		if err := rows.Scan(&m.ID, &m.Category, &m.Name, &m.Temperature, &m.Removable, &m.Removed); err != nil {
			return nil, fmt.Errorf("failed to scan temperature mode: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func GetModeByID(db *sql.DB, id int64) (*model.TemperatureMode, error) {
	var m model.TemperatureMode
	err := db.QueryRow(`SELECT id, category, name, temperature, removable, removed FROM temperature_modes WHERE id = ?`, id).
		Scan(&m.ID, &m.Category, &m.Name, &m.Temperature, &m.Removable, &m.Removed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan temperature mode: %w", err)
	}
	return &m, nil
}

// GetFallbackMode retrieves the thermostat's comfort mode, the mode schedule
// resolution falls back to when the weekly program cannot answer. Every
// thermostat is created with one and it is not removable.
func GetFallbackMode(db *sql.DB, thermostatID int64) (*model.TemperatureMode, error) {
	var m model.TemperatureMode
	err := db.QueryRow(`SELECT id, category, name, temperature, removable, removed FROM temperature_modes WHERE thermostat_id = ? AND category = ? AND removed = 0 ORDER BY id LIMIT 1`,
		thermostatID, model.CategoryComfort).
		Scan(&m.ID, &m.Category, &m.Name, &m.Temperature, &m.Removable, &m.Removed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fallback mode: %w", err)
	}
	return &m, nil
}

func GetWeekMarkers(db *sql.DB, thermostatID int64) ([]model.WeekMarker, error) {
	rows, err := db.Query(`SELECT wm.id, wm.weekday, wm.hour, wm.minute, tm.id, tm.category, tm.name, tm.temperature, tm.removable, tm.removed
		FROM week_markers wm JOIN temperature_modes tm ON tm.id = wm.mode_id
		WHERE wm.thermostat_id = ? ORDER BY wm.weekday, wm.hour, wm.minute, wm.id`, thermostatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query week markers: %w", err)
	}
	defer rows.Close()

	var result []model.WeekMarker
	for rows.Next() {
		var m model.WeekMarker
		if err := rows.Scan(&m.ID, &m.Weekday, &m.Hour, &m.Minute,
			&m.Mode.ID, &m.Mode.Category, &m.Mode.Name, &m.Mode.Temperature, &m.Mode.Removable, &m.Mode.Removed); err != nil {
			return nil, fmt.Errorf("failed to scan week marker: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// GetActiveOverrides retrieves the thermostat's non-removed overrides in
// creation order.
func GetActiveOverrides(db *sql.DB, thermostatID int64) ([]model.Override, error) {
	rows, err := db.Query(`SELECT o.id, o.start_at, o.end_at, o.priority, o.removed, o.proposal_ref, tm.id, tm.category, tm.name, tm.temperature, tm.removable, tm.removed
		FROM overrides o JOIN temperature_modes tm ON tm.id = o.mode_id
		WHERE o.thermostat_id = ? AND o.removed = 0 ORDER BY o.id`, thermostatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var result []model.Override
	for rows.Next() {
		var o model.Override
		var start, end string
		if err := rows.Scan(&o.ID, &start, &end, &o.Priority, &o.Removed, &o.ProposalRef,
			&o.Mode.ID, &o.Mode.Category, &o.Mode.Name, &o.Mode.Temperature, &o.Mode.Removable, &o.Mode.Removed); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		if o.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if o.End, err = parseTime(end); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func GetControlParameters(db *sql.DB, thermostatID int64) (*model.ControlParameters, error) {
	var p model.ControlParameters
	var offPhase, cycleEnd string
	err := db.QueryRow(`SELECT coef, anticipation_coef, anticipation_exp, anticipation_max_hours, derivative_coef,
		proportional_mode, cycle_duration, min_on_time, min_off_time, half_width, off_phase_start, cycle_end
		FROM control_parameters WHERE thermostat_id = ?`, thermostatID).
		Scan(&p.Coef, &p.AnticipationCoef, &p.AnticipationExp, &p.AnticipationMaxHours, &p.DerivativeCoef,
			&p.ProportionalMode, &p.CycleDuration, &p.MinOnTime, &p.MinOffTime, &p.HalfWidth, &offPhase, &cycleEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan control parameters: %w", err)
	}
	if p.OffPhaseStart, err = parseTime(offPhase); err != nil {
		return nil, err
	}
	if p.CycleEnd, err = parseTime(cycleEnd); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetReadings retrieves the readings in [from, to] ordered by time.
func GetReadings(db *sql.DB, thermostatID int64, from, to time.Time) ([]model.Reading, error) {
	rows, err := db.Query(`SELECT id, measured_at, temperature, external_temp, requested_temp, target_temp, manual, boiler_on
		FROM readings WHERE thermostat_id = ? AND measured_at >= ? AND measured_at <= ? ORDER BY measured_at, id`,
		thermostatID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var result []model.Reading
	for rows.Next() {
		var r model.Reading
		var at string
		if err := rows.Scan(&r.ID, &at, &r.Temperature, &r.ExternalTemp, &r.RequestedTemp, &r.TargetTemp, &r.Manual, &r.BoilerOn); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		if r.At, err = parseTime(at); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetLastExternalTemp retrieves the most recent recorded external
// temperature, or nil when none exists yet.
func GetLastExternalTemp(db *sql.DB, thermostatID int64) (*float64, error) {
	var temp float64
	err := db.QueryRow(`SELECT external_temp FROM readings WHERE thermostat_id = ? AND external_temp IS NOT NULL ORDER BY measured_at DESC, id DESC LIMIT 1`, thermostatID).Scan(&temp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last external temperature: %w", err)
	}
	return &temp, nil
}
