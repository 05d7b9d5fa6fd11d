package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/heatwise/thermostat-server/db"
	"github.com/heatwise/thermostat-server/internal/model"
	"github.com/heatwise/thermostat-server/internal/schedule"
	"github.com/heatwise/thermostat-server/internal/stats"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, name, timezone string
	var thermostatID int64
	var hours, priority int
	flag.StringVar(&dbPath, "db", "data/thermostat.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: seed, add-override, schedule, stats")
	flag.StringVar(&name, "name", "Demo thermostat", "Thermostat name for seed")
	flag.StringVar(&timezone, "tz", "Europe/Paris", "Thermostat timezone for seed")
	flag.Int64Var(&thermostatID, "thermostat", 0, "Thermostat ID")
	flag.IntVar(&hours, "hours", 24, "Override length in hours")
	flag.IntVar(&priority, "priority", 1, "Override priority")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of thermostat-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file")
		fmt.Println("  -cmd string\tCommand to run: seed, add-override, schedule, stats")
		fmt.Println("  -name string\tThermostat name for seed")
		fmt.Println("  -tz string\tThermostat timezone for seed")
		fmt.Println("  -thermostat int\tThermostat ID")
		fmt.Println("  -hours int\tOverride length in hours")
		fmt.Println("  -priority int\tOverride priority")
		os.Exit(0)
	}

	var err error
	switch command {
	case "seed":
		var thermostat *model.Thermostat
		thermostat, err = db.SeedDemoThermostatCLI(dbPath, name, timezone)
		if err == nil {
			fmt.Printf("Created thermostat %d (uid=%s api_key=%s)\n", thermostat.ID, thermostat.UID, thermostat.APIKey)
		}
	case "add-override":
		if thermostatID == 0 {
			fmt.Println("Error: thermostat ID is required")
			os.Exit(1)
		}
		var id int64
		id, err = db.AddOverrideCLI(dbPath, thermostatID, hours, priority)
		if err == nil {
			fmt.Printf("Created override %d\n", id)
		}
	case "schedule":
		err = printSchedule(dbPath, thermostatID)
	case "stats":
		err = printStats(dbPath, thermostatID)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func printSchedule(dbPath string, thermostatID int64) error {
	if thermostatID == 0 {
		return fmt.Errorf("thermostat ID is required")
	}
	dbConn, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	thermostat, err := db.GetThermostatByID(dbConn, thermostatID)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(thermostat.Timezone)
	if err != nil {
		return err
	}
	markers, err := db.GetWeekMarkers(dbConn, thermostatID)
	if err != nil {
		return err
	}
	overrides, err := db.GetActiveOverrides(dbConn, thermostatID)
	if err != nil {
		return err
	}
	fallback, err := db.GetFallbackMode(dbConn, thermostatID)
	if err != nil {
		return err
	}

	timeline := schedule.BuildRawTimeline(time.Now().In(loc), markers, overrides, *fallback)
	for _, entry := range timeline {
		source := "weekly"
		if entry.OverrideID != nil {
			source = fmt.Sprintf("override %d", *entry.OverrideID)
		}
		fmt.Printf("+%4dmin  %s  %-10s %.1f°C  (%s)\n",
			entry.Minutes, entry.At.Format("Mon 15:04"), entry.Mode.Name, entry.Mode.Temperature, source)
	}
	return nil
}

func printStats(dbPath string, thermostatID int64) error {
	if thermostatID == 0 {
		return fmt.Errorf("thermostat ID is required")
	}
	dbConn, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	now := time.Now().UTC()
	readings, err := db.GetReadings(dbConn, thermostatID, now.AddDate(0, 0, -7), now)
	if err != nil {
		return err
	}
	fmt.Printf("%d readings over the last 7 days\n", len(readings))

	if speed := stats.HeatingSpeedStats(readings); speed != nil {
		fmt.Printf("heating speed: %.2f°C/h at 0°C outside (slope %.3f, r %.2f, %d samples)\n",
			speed.ValueAt0, speed.Slope, speed.RValue, speed.Samples)
	} else {
		fmt.Println("heating speed: insufficient data")
	}

	duty := stats.DutyCycleStats(readings)
	if duty.TotalSeconds > 0 {
		fmt.Printf("boiler on: %.0f%% of %.1fh\n", 100*duty.OnSeconds/duty.TotalSeconds, duty.TotalSeconds/3600)
	}

	comfort := stats.ComfortStats(readings)
	if comfort.Percent != nil {
		fmt.Printf("comfort: %.1f%%\n", *comfort.Percent)
	}
	return nil
}
