package main

import (
	"github.com/rs/zerolog/log"

	"github.com/heatwise/thermostat-server/db"
	"github.com/heatwise/thermostat-server/internal/api"
	"github.com/heatwise/thermostat-server/internal/config"
	"github.com/heatwise/thermostat-server/internal/datadog"
	"github.com/heatwise/thermostat-server/internal/engine"
	"github.com/heatwise/thermostat-server/internal/logging"
	"github.com/heatwise/thermostat-server/internal/weather"
	"github.com/heatwise/thermostat-server/system/shutdown"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("db", cfg.DBPath).
		Int("port", cfg.Port).
		Msg("Starting thermostat server")

	datadog.InitMetrics(cfg)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		shutdown.ShutdownWithError(err, "Failed to open database")
	}
	defer database.Close()

	var weatherClient *weather.Client
	if cfg.EnableWeather {
		weatherClient = weather.New(cfg.WeatherAPIKey)
		log.Info().Msg("External temperature lookups enabled")
	}

	eng := engine.New(database, weatherClient)
	server := api.NewServer(database, eng, cfg)

	if err := server.Start(cfg.Port); err != nil {
		shutdown.ShutdownWithError(err, "API server exited")
	}
}
