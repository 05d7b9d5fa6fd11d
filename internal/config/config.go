package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Config struct {
	ConfigFile string
	DBPath     string
	LogLevel   zerolog.Level
	LogFile    string

	Port int `json:"port"`

	EnableWeather bool   `json:"enable_weather"`
	WeatherAPIKey string `json:"weather_api_key"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`
}

func Load() *Config {
	var configFile, dbPath, logLevel, logFile string

	flag.StringVar(&configFile, "config-file", "config.json", "Path to server config file")
	flag.StringVar(&dbPath, "db", "data/thermostat.db", "Path to the SQLite database file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&logFile, "log-file", "", "Log file path (empty logs to console)")
	flag.Parse()

	cfg := LoadFromFile(configFile)
	cfg.DBPath = dbPath
	cfg.LogLevel = parseLogLevel(logLevel)
	cfg.LogFile = logFile
	return cfg
}

// LoadFromFile reads and validates a config file. Invalid configuration
// panics; the server must not come up half-configured.
func LoadFromFile(path string) *Config {
	file, err := os.Open(path)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	cfg := &Config{ConfigFile: path}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.DDNamespace == "" {
		cfg.DDNamespace = "thermostat_server."
	}

	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) validate() {
	var problems []string

	if cfg.Port < 0 || cfg.Port > 65535 {
		problems = append(problems, "port out of range")
	}
	if cfg.EnableWeather && cfg.WeatherAPIKey == "" {
		problems = append(problems, "weather_api_key is required when enable_weather is set")
	}
	if cfg.EnableDatadog && cfg.DDAgentAddr == "" {
		problems = append(problems, "dd_agent_addr is required when enable_datadog is set")
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, ", "))
	}
}
