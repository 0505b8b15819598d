package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learned.json")
	s := New(path, 1000, slog.Default())

	// missing file loads empty
	doc := s.Load()
	assert.Equal(t, CurrentVersion, doc.Version)
	assert.Empty(t, doc.LearnedPower)
	assert.Zero(t, doc.Samples)

	doc.LearnedPower["living_room"] = map[string]float64{"default": 800, "heat": 820, "cool": 750}
	doc.LearnedPowerBands["living_room"] = map[string]map[string]float64{"heat": {"cold": 900}}
	doc.Samples = 12
	require.NoError(t, s.Save(doc))

	loaded := s.Load()
	assert.Equal(t, doc, loaded)
}

func TestStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learned.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	doc := New(path, 1000, slog.Default()).Load()
	assert.Equal(t, CurrentVersion, doc.Version)
	assert.Empty(t, doc.LearnedPower)
}

func TestMigrate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    func(t *testing.T, doc Document)
	}{
		{
			name:    "v0 bare numbers",
			content: `{"learned_power": {"living_room": 650, "bedroom": 400}, "samples": 3}`,
			want: func(t *testing.T, doc Document) {
				assert.Equal(t, map[string]float64{"default": 650, "heat": 650, "cool": 650}, doc.LearnedPower["living_room"])
				assert.Equal(t, map[string]float64{"default": 400, "heat": 400, "cool": 400}, doc.LearnedPower["bedroom"])
				assert.Equal(t, 3, doc.Samples)
			},
		},
		{
			name:    "v1 partial mode map fills missing modes from bootstrap",
			content: `{"version": 1, "learned_power": {"living_room": {"HEAT": 700}}, "samples": 5}`,
			want: func(t *testing.T, doc Document) {
				assert.Equal(t, map[string]float64{"default": 1000, "heat": 700, "cool": 1000}, doc.LearnedPower["living_room"])
			},
		},
		{
			name:    "null entry restarts at bootstrap",
			content: `{"learned_power": {"zone_a": null, "zone_b": 1234}, "samples": 5}`,
			want: func(t *testing.T, doc Document) {
				assert.Equal(t, map[string]float64{"default": 1000, "heat": 1000, "cool": 1000}, doc.LearnedPower["zone_a"])
				assert.Equal(t, map[string]float64{"default": 1234, "heat": 1234, "cool": 1234}, doc.LearnedPower["zone_b"])
			},
		},
		{
			name:    "v2 well-formed survives unchanged",
			content: `{"version": 2, "learned_power": {"a": {"default": 100, "heat": 110, "cool": 90}}, "learned_power_bands": {"a": {"heat": {"cold": 120}}}, "samples": 7}`,
			want: func(t *testing.T, doc Document) {
				assert.Equal(t, map[string]float64{"default": 100, "heat": 110, "cool": 90}, doc.LearnedPower["a"])
				assert.Equal(t, 120.0, doc.LearnedPowerBands["a"]["heat"]["cold"])
				assert.Equal(t, 7, doc.Samples)
			},
		},
		{
			name:    "negative wattage clamped",
			content: `{"version": 2, "learned_power": {"a": {"default": -50, "heat": -10, "cool": 5}}}`,
			want: func(t *testing.T, doc Document) {
				assert.Equal(t, map[string]float64{"default": 0, "heat": 0, "cool": 5}, doc.LearnedPower["a"])
			},
		},
		{
			name:    "malformed zone entry dropped",
			content: `{"version": 2, "learned_power": {"good": {"default": 100}, "bad": "oops"}}`,
			want: func(t *testing.T, doc Document) {
				assert.Contains(t, doc.LearnedPower, "good")
				assert.NotContains(t, doc.LearnedPower, "bad")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Migrate([]byte(tt.content), 1000)
			require.NoError(t, err)
			assert.Equal(t, CurrentVersion, doc.Version)
			// invariant: every zone carries all three modes, non-negative
			for _, modes := range doc.LearnedPower {
				for _, mode := range []string{"default", "heat", "cool"} {
					watts, ok := modes[mode]
					require.True(t, ok)
					assert.GreaterOrEqual(t, watts, 0.0)
				}
			}
			tt.want(t, doc)
		})
	}
}
