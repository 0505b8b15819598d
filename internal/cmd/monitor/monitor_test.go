package monitor

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/clambin/solar-ac-controller/internal/configuration"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_makeTasks(t *testing.T) {
	testCases := []struct {
		name   string
		slack  string
		pprof  string
		length int
	}{
		{name: "base", length: 4},
		{name: "slack", slack: "xoxb-1234", length: 6},
		{name: "pprof", pprof: ":6060", length: 5},
	}

	config := configuration.Configuration{
		Zones: []configuration.ZoneConfiguration{
			{Name: "living_room", Entity: "climate.living_room"},
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := viper.New()
			cfg.Set("storage.path", filepath.Join(t.TempDir(), "learned.json"))
			cfg.Set("slack.token", tt.slack)
			cfg.Set("pprof", tt.pprof)

			tasks := makeTasks(cfg, config, "1.0", prometheus.NewPedanticRegistry(), slog.Default())
			assert.Len(t, tasks, tt.length)
		})
	}
}

func Test_loadConfiguration(t *testing.T) {
	cfg := viper.New()
	cfg.Set("sensors.solar", "sensor.solar_power")
	cfg.Set("sensors.grid", "sensor.grid_power")
	cfg.Set("sensors.load", "sensor.ac_power")

	_, err := loadConfiguration(cfg, filepath.Join(t.TempDir(), "zones.yaml"))
	assert.Error(t, err)

	zonesPath := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(zonesPath, []byte(`zones:
  - name: "living_room"
    entity: "climate.living_room"
`), 0644))

	config, err := loadConfiguration(cfg, zonesPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"living_room"}, config.ZoneNames())
}
