package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heatwise/thermostat-server/db"
	"github.com/heatwise/thermostat-server/internal/config"
	"github.com/heatwise/thermostat-server/internal/engine"
	"github.com/heatwise/thermostat-server/internal/model"
)

type Server struct {
	db     *sql.DB
	engine *engine.Engine
	config *config.Config
}

type CreateThermostatRequest struct {
	Name      string  `json:"name"`
	Timezone  string  `json:"timezone"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type CreateModeRequest struct {
	Category    string  `json:"category"`
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
}

type ModeTemperatureRequest struct {
	Temperature float64 `json:"temperature"`
}

type CreateMarkerRequest struct {
	Weekday int   `json:"weekday"`
	Hour    int   `json:"hour"`
	Minute  int   `json:"minute"`
	ModeID  int64 `json:"mode_id"`
}

type CreateOverrideRequest struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Priority    int       `json:"priority"`
	ModeID      int64     `json:"mode_id"`
	ProposalRef *string   `json:"proposal_ref,omitempty"`
}

type IDResponse struct {
	ID int64 `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(database *sql.DB, eng *engine.Engine, cfg *config.Config) *Server {
	return &Server{
		db:     database,
		engine: eng,
		config: cfg,
	}
}

func (s *Server) Start(port int) error {
	mux := s.Handler()

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting REST API server")

	return http.ListenAndServe(addr, mux)
}

// Handler builds the route table with a CORS wrapper.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/device/report", s.handleDeviceReport)
	mux.HandleFunc("/api/thermostats", s.handleThermostats)
	mux.HandleFunc("/api/thermostats/", s.handleThermostatOperations)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})
}

func (s *Server) handleDeviceReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var report engine.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	command, err := s.engine.HandleReport(report)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrUnauthorized):
			s.writeError(w, http.StatusUnauthorized, "Unknown device credentials")
		case errors.Is(err, engine.ErrNoFallbackMode):
			log.Error().Err(err).Str("uid", report.UID).Msg("Device report hit unresolvable schedule")
			s.writeError(w, http.StatusInternalServerError, err.Error())
		default:
			log.Error().Err(err).Str("uid", report.UID).Msg("Failed to handle device report")
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.writeJSON(w, http.StatusOK, command)
}

func (s *Server) handleThermostats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		thermostats, err := db.ListThermostats(s.db)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list thermostats")
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, thermostats)
	case http.MethodPost:
		s.createThermostat(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) createThermostat(w http.ResponseWriter, r *http.Request) {
	var req CreateThermostatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "Thermostat name is required")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid timezone")
		return
	}

	thermostat, err := db.CreateThermostat(s.db, req.Name, req.Timezone, req.Latitude, req.Longitude)
	if err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("Failed to create thermostat")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Int64("thermostat", thermostat.ID).Str("name", thermostat.Name).Msg("Thermostat created via API")

	// The api key is only disclosed here, at creation.
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      thermostat.ID,
		"uid":     thermostat.UID,
		"api_key": thermostat.APIKey,
	})
}

func (s *Server) handleThermostatOperations(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/thermostats/")
	parts := strings.Split(path, "/")

	if len(parts) < 1 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "Thermostat ID required")
		return
	}
	thermostatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Invalid thermostat ID")
		return
	}

	if len(parts) == 1 {
		if r.Method == http.MethodGet {
			s.getThermostat(w, thermostatID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if _, err := db.GetThermostatByID(s.db, thermostatID); err != nil {
		s.writeLookupError(w, err, "Thermostat")
		return
	}

	resource := parts[1]
	var resourceID int64
	hasResourceID := false
	if len(parts) == 3 {
		resourceID, err = strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "Invalid resource ID")
			return
		}
		hasResourceID = true
	} else if len(parts) > 3 {
		s.writeError(w, http.StatusNotFound, "Invalid path")
		return
	}

	switch resource {
	case "schedule":
		s.getSchedule(w, r, thermostatID)
	case "stats":
		s.getStats(w, r, thermostatID)
	case "history":
		s.getHistory(w, r, thermostatID)
	case "modes":
		s.handleModes(w, r, thermostatID, resourceID, hasResourceID)
	case "markers":
		s.handleMarkers(w, r, thermostatID, resourceID, hasResourceID)
	case "overrides":
		s.handleOverrides(w, r, thermostatID, resourceID, hasResourceID)
	case "parameters":
		s.handleParameters(w, r, thermostatID)
	default:
		s.writeError(w, http.StatusNotFound, "Unknown resource")
	}
}

func (s *Server) getThermostat(w http.ResponseWriter, thermostatID int64) {
	thermostat, err := db.GetThermostatByID(s.db, thermostatID)
	if err != nil {
		s.writeLookupError(w, err, "Thermostat")
		return
	}
	s.writeJSON(w, http.StatusOK, thermostat)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request, thermostatID int64) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	effective := r.URL.Query().Get("effective") == "1"
	entries, err := s.engine.Schedule(thermostatID, effective)
	if err != nil {
		s.writeLookupError(w, err, "Thermostat")
		return
	}
	if entries == nil {
		entries = []model.ScheduleEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request, thermostatID int64) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.engine.Stats(thermostatID, from, to)
	if err != nil {
		s.writeLookupError(w, err, "Thermostat")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request, thermostatID int64) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	readings, err := s.engine.History(thermostatID, from, to)
	if err != nil {
		s.writeLookupError(w, err, "Thermostat")
		return
	}
	if readings == nil {
		readings = []model.Reading{}
	}
	s.writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request, thermostatID, modeID int64, hasModeID bool) {
	switch {
	case r.Method == http.MethodGet && !hasModeID:
		modes, err := db.GetModes(s.db, thermostatID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, modes)
	case r.Method == http.MethodPost && !hasModeID:
		var req CreateModeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		category := model.ModeCategory(req.Category)
		if category == "" {
			category = model.CategoryCustom
		}
		if !isValidCategory(category) {
			s.writeError(w, http.StatusBadRequest, "Invalid category. Valid categories: comfort, away, night, custom")
			return
		}
		id, err := db.CreateMode(s.db, thermostatID, model.TemperatureMode{
			Category:    category,
			Name:        req.Name,
			Temperature: req.Temperature,
			Removable:   true,
		})
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusCreated, IDResponse{ID: id})
	case r.Method == http.MethodPut && hasModeID:
		var req ModeTemperatureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		if err := db.UpdateModeTemperature(s.db, modeID, req.Temperature); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete && hasModeID:
		err := db.RemoveMode(s.db, modeID)
		if errors.Is(err, db.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Mode not found")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request, thermostatID, markerID int64, hasMarkerID bool) {
	switch {
	case r.Method == http.MethodGet && !hasMarkerID:
		markers, err := db.GetWeekMarkers(s.db, thermostatID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if markers == nil {
			markers = []model.WeekMarker{}
		}
		s.writeJSON(w, http.StatusOK, markers)
	case r.Method == http.MethodPost && !hasMarkerID:
		var req CreateMarkerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		if req.Weekday < 1 || req.Weekday > 7 || req.Hour < 0 || req.Hour > 23 || req.Minute < 0 || req.Minute > 59 {
			s.writeError(w, http.StatusBadRequest, "Marker out of range: weekday 1-7, hour 0-23, minute 0-59")
			return
		}
		mode, err := db.GetModeByID(s.db, req.ModeID)
		if errors.Is(err, db.ErrNotFound) || (err == nil && mode.Removed) {
			s.writeError(w, http.StatusBadRequest, "Unknown mode")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		id, err := db.CreateWeekMarker(s.db, thermostatID, model.WeekMarker{
			Weekday: req.Weekday,
			Hour:    req.Hour,
			Minute:  req.Minute,
			Mode:    *mode,
		})
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusCreated, IDResponse{ID: id})
	case r.Method == http.MethodDelete && hasMarkerID:
		if err := db.DeleteWeekMarker(s.db, markerID); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleOverrides(w http.ResponseWriter, r *http.Request, thermostatID, overrideID int64, hasOverrideID bool) {
	switch {
	case r.Method == http.MethodGet && !hasOverrideID:
		overrides, err := db.GetActiveOverrides(s.db, thermostatID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if overrides == nil {
			overrides = []model.Override{}
		}
		s.writeJSON(w, http.StatusOK, overrides)
	case r.Method == http.MethodPost && !hasOverrideID:
		var req CreateOverrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		if !req.End.After(req.Start) {
			s.writeError(w, http.StatusBadRequest, "Override end must be after start")
			return
		}
		if req.Priority < 1 {
			s.writeError(w, http.StatusBadRequest, "Override priority must be at least 1")
			return
		}
		mode, err := db.GetModeByID(s.db, req.ModeID)
		if errors.Is(err, db.ErrNotFound) || (err == nil && mode.Removed) {
			s.writeError(w, http.StatusBadRequest, "Unknown mode")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		id, err := db.CreateOverride(s.db, thermostatID, model.Override{
			Start:       req.Start,
			End:         req.End,
			Priority:    req.Priority,
			Mode:        *mode,
			ProposalRef: req.ProposalRef,
		})
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusCreated, IDResponse{ID: id})
	case r.Method == http.MethodDelete && hasOverrideID:
		if err := db.CancelOverride(s.db, overrideID); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info().Int64("override", overrideID).Msg("Override canceled via API")
		w.WriteHeader(http.StatusOK)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request, thermostatID int64) {
	switch r.Method {
	case http.MethodGet:
		params, err := db.GetControlParameters(s.db, thermostatID)
		if err != nil {
			s.writeLookupError(w, err, "Control parameters")
			return
		}
		s.writeJSON(w, http.StatusOK, params)
	case http.MethodPut:
		var req model.ControlParameters
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		if err := db.UpdateControlParameters(s.db, thermostatID, req); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// parseWindow reads from/to query parameters, defaulting to the last 7 days.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from parameter: %w", err)
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to parameter: %w", err)
		}
		to = t
	}
	return from, to, nil
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, db.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	log.Error().Err(err).Msgf("Failed to get %s", what)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

func isValidCategory(c model.ModeCategory) bool {
	switch c {
	case model.CategoryComfort, model.CategoryAway, model.CategoryNight, model.CategoryCustom:
		return true
	default:
		return false
	}
}
