package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/clambin/solar-ac-controller/internal/cmd/monitor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "solar-ac-controller",
		Short: "Closed-loop solar surplus controller for multi-zone A/C",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			charmer.SetJSONLogger(cmd, viper.GetBool("debug"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	RootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	_ = viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))

	RootCmd.AddCommand(&monitor.Cmd)
}

var args = charmer.Arguments{
	"debug":                       charmer.Argument{Default: false, Help: "Log debug messages"},
	"pprof":                       charmer.Argument{Default: "", Help: "Enable pprof"},
	"homeassistant.url":           charmer.Argument{Default: "http://homeassistant:8123", Help: "Home Assistant URL"},
	"homeassistant.token":         charmer.Argument{Default: "", Help: "Home Assistant long-lived access token"},
	"poller.interval":             charmer.Argument{Default: 30 * time.Second, Help: "Telemetry poll interval"},
	"exporter.addr":               charmer.Argument{Default: ":9090", Help: "Address of Prometheus exporter"},
	"health.addr":                 charmer.Argument{Default: ":8080", Help: "Address of /health and REST endpoints"},
	"slack.token":                 charmer.Argument{Default: "", Help: "Slack token"},
	"storage.path":                charmer.Argument{Default: "/data/learned.json", Help: "Path of the learned power store"},
	"sensors.solar":               charmer.Argument{Default: "", Help: "Solar production sensor entity"},
	"sensors.grid":                charmer.Argument{Default: "", Help: "Grid power sensor entity (negative = export)"},
	"sensors.load":                charmer.Argument{Default: "", Help: "A/C load power sensor entity"},
	"sensors.outside":             charmer.Argument{Default: "", Help: "Outdoor temperature sensor entity"},
	"master.switch":               charmer.Argument{Default: "", Help: "Master A/C relay entity"},
	"master.solarThresholdOn":     charmer.Argument{Default: 500.0, Help: "Solar production to switch the master relay on (W)"},
	"master.solarThresholdOff":    charmer.Argument{Default: 200.0, Help: "Solar production to switch the master relay off (W)"},
	"controller.panicThreshold":   charmer.Argument{Default: 1500.0, Help: "Sustained import that triggers panic shedding (W)"},
	"controller.panicDelay":       charmer.Argument{Default: 30 * time.Second, Help: "How long import must exceed the panic threshold"},
	"controller.panicCooldown":    charmer.Argument{Default: 2 * time.Minute, Help: "Decision pause after a panic shed"},
	"controller.manualLock":       charmer.Argument{Default: 30 * time.Minute, Help: "How long a manual override locks a zone"},
	"controller.shortCycleOn":     charmer.Argument{Default: 5 * time.Minute, Help: "Minimum on time before a zone may be switched off"},
	"controller.shortCycleOff":    charmer.Argument{Default: 3 * time.Minute, Help: "Minimum off time before a zone may be switched on"},
	"controller.actionDelay":      charmer.Argument{Default: 15 * time.Second, Help: "Pause after each actuation command"},
	"controller.addConfidence":    charmer.Argument{Default: 25.0, Help: "Confidence needed to switch a zone on"},
	"controller.removeConfidence": charmer.Argument{Default: 10.0, Help: "Confidence needed to switch a zone off"},
	"learning.initialPower":       charmer.Argument{Default: 1200.0, Help: "Bootstrap power estimate per zone (W)"},
	"learning.settle":             charmer.Argument{Default: 6 * time.Minute, Help: "Settling time before a learning sample is taken"},
	"learning.banding":            charmer.Argument{Default: false, Help: "Learn separate estimates per outdoor temperature band"},
	"season.auto":                 charmer.Argument{Default: false, Help: "Derive the season from the outdoor temperature"},
	"season.tempPriority":         charmer.Argument{Default: false, Help: "Prioritize zones by comfort need"},
	"season.masterOffInNeutral":   charmer.Argument{Default: false, Help: "Switch the master relay off in the neutral season"},
	"season.heatOnBelow":          charmer.Argument{Default: 14.0, Help: "Outdoor mean below which the season is heat (ºC)"},
	"season.heatOffAbove":         charmer.Argument{Default: 17.0, Help: "Outdoor mean above which heat season ends (ºC)"},
	"season.coolOnAbove":          charmer.Argument{Default: 24.0, Help: "Outdoor mean above which the season is cool (ºC)"},
	"season.coolOffBelow":         charmer.Argument{Default: 21.0, Help: "Outdoor mean below which cool season ends (ºC)"},
	"season.bandColdMax":          charmer.Argument{Default: 8.0, Help: "Upper bound of the cold band (ºC)"},
	"season.bandMildColdMax":      charmer.Argument{Default: 16.0, Help: "Upper bound of the mild cold band (ºC)"},
	"season.bandMildHotMax":       charmer.Argument{Default: 26.0, Help: "Upper bound of the mild hot band (ºC)"},
	"comfort.heatTarget":          charmer.Argument{Default: 22.0, Help: "Default comfort target while heating (ºC)"},
	"comfort.coolTarget":          charmer.Argument{Default: 24.0, Help: "Default comfort target while cooling (ºC)"},
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/solar-ac-controller/")
		viper.AddConfigPath("$HOME/.solar-ac-controller")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	if err := charmer.SetDefaults(viper.GetViper(), args); err != nil {
		panic("failed to set viper defaults: " + err.Error())
	}

	viper.SetEnvPrefix("SOLAR_AC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Error("failed to read config file", "err", err)
		os.Exit(1)
	}
}
