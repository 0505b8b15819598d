package controller

import (
	"log/slog"
	"testing"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
	"github.com/clambin/solar-ac-controller/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decisionConfig() configuration.Configuration {
	cfg := trackerConfig()
	cfg.AddConfidence = 25
	cfg.RemoveConfidence = 10
	cfg.InitialLearnedPower = 500
	cfg.LearningSettle = 6 * time.Minute
	return cfg
}

// decisionFixture builds an engine over a tracker with living_room active and
// bedroom/office off, all outside their short-cycle windows.
func decisionFixture(t *testing.T) (*DecisionEngine, *ZoneTracker, *PowerModel, time.Time) {
	t.Helper()
	cfg := decisionConfig()
	tracker := NewZoneTracker(cfg, slog.Default())
	now := time.Now()

	living, ok := tracker.Zone("living_room")
	require.True(t, ok)
	living.On = true
	living.LastChanged = now.Add(-time.Hour)
	living.LastChangeType = "on"

	model := NewPowerModel(cfg.InitialLearnedPower, cfg.LearningSettle, false, store.Document{}, slog.Default())
	return NewDecisionEngine(cfg, slog.Default()), tracker, model, now
}

func TestDecisionEngine_Add(t *testing.T) {
	engine, tracker, model, now := decisionFixture(t)

	f := NewFilter()
	f.EMAFast = -3000 // exporting 3 kW
	f.EMASlow = -500

	verdict := engine.Evaluate(f, tracker, model, "neutral", "", now)
	assert.Equal(t, ActionAdd, verdict.Action)
	assert.Equal(t, "bedroom", verdict.Zone)
	assert.Equal(t, 500.0, verdict.RequiredExport)
	assert.Equal(t, 2500.0, verdict.ExportMargin)
	// margin clamps at 40, plus the base 5, minus the 5 remove base
	assert.Equal(t, 40.0, verdict.Confidence)
}

func TestDecisionEngine_Remove(t *testing.T) {
	engine, tracker, model, now := decisionFixture(t)

	f := NewFilter()
	f.EMAFast = 500
	f.EMASlow = 2000 // sustained 2 kW import

	verdict := engine.Evaluate(f, tracker, model, "neutral", "", now)
	assert.Equal(t, ActionRemove, verdict.Action)
	assert.Equal(t, "living_room", verdict.Zone)
	// (2000-200)/8 clamps at 60, +5 base, +20 heavy import; add side is 5
	assert.Equal(t, 5.0-85.0, verdict.Confidence)
}

func TestDecisionEngine_Balanced(t *testing.T) {
	engine, tracker, model, now := decisionFixture(t)

	f := NewFilter()
	f.EMAFast = -600
	f.EMASlow = 100

	verdict := engine.Evaluate(f, tracker, model, "neutral", "", now)
	assert.Equal(t, ActionNone, verdict.Action)

	// same snapshot, same verdict
	again := engine.Evaluate(f, tracker, model, "neutral", "", now)
	assert.Equal(t, verdict, again)
}

func TestDecisionEngine_AddBlockedWhileLearning(t *testing.T) {
	engine, tracker, model, now := decisionFixture(t)
	model.StartSample("living_room", "default", "", 100, now)

	f := NewFilter()
	f.EMAFast = -3000
	f.EMASlow = -500

	verdict := engine.Evaluate(f, tracker, model, "neutral", "", now)
	assert.Equal(t, ActionNone, verdict.Action)
}

func TestDecisionEngine_AddRequiresMargin(t *testing.T) {
	engine, tracker, model, now := decisionFixture(t)

	// exporting, but less than the bootstrap estimate of the next zone
	f := NewFilter()
	f.EMAFast = -400
	f.EMASlow = -400

	verdict := engine.Evaluate(f, tracker, model, "neutral", "", now)
	assert.Equal(t, ActionNone, verdict.Action)
	assert.Less(t, verdict.ExportMargin, 0.0)
}

func TestDecisionEngine_RemoveBlockedByComfortTarget(t *testing.T) {
	engine, tracker, model, now := decisionFixture(t)

	living, _ := tracker.Zone("living_room")
	living.Mode = "heat"
	living.Temperature = ptr(21.9)

	f := NewFilter()
	f.EMAFast = 500
	f.EMASlow = 2000

	verdict := engine.Evaluate(f, tracker, model, "heat", "", now)
	assert.Equal(t, ActionNone, verdict.Action)

	living.Temperature = ptr(22.0)
	verdict = engine.Evaluate(f, tracker, model, "heat", "", now)
	assert.Equal(t, ActionRemove, verdict.Action)
}

func TestDecisionEngine_NoBothActionsInOneCycle(t *testing.T) {
	engine, tracker, model, now := decisionFixture(t)

	// confidence in the dead band between -remove and +add thresholds
	f := NewFilter()
	f.EMAFast = -900 // margin 400 -> addScore 21
	f.EMASlow = 300  // removeScore 17.5

	verdict := engine.Evaluate(f, tracker, model, "neutral", "", now)
	assert.Equal(t, ActionNone, verdict.Action)
	assert.Greater(t, verdict.Confidence, -10.0)
	assert.Less(t, verdict.Confidence, 25.0)
}
