package controller

import (
	"log/slog"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
)

// Action is the outcome of one decision cycle.
type Action string

const (
	ActionNone   Action = "none"
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Verdict is the result of evaluating one cycle's telemetry against the
// configured thresholds. Zone is only set for add and remove verdicts.
type Verdict struct {
	Action         Action
	Zone           string
	Confidence     float64
	AddScore       float64
	RemoveScore    float64
	NextZone       string
	LastZone       string
	RequiredExport float64
	ExportMargin   float64
}

// DecisionEngine turns filtered telemetry, learned power and zone state into
// an add/remove/none verdict. Confidence is a single signed scalar
// (addScore - removeScore): the add threshold is applied on the positive
// side and the remove threshold on the negative side, giving asymmetric
// hysteresis around "do nothing".
type DecisionEngine struct {
	addThreshold    float64
	removeThreshold float64
	tempPriority    bool
	logger          *slog.Logger
}

func NewDecisionEngine(cfg configuration.Configuration, logger *slog.Logger) *DecisionEngine {
	return &DecisionEngine{
		addThreshold:    cfg.AddConfidence,
		removeThreshold: cfg.RemoveConfidence,
		tempPriority:    cfg.TempPriority,
		logger:          logger,
	}
}

// Evaluate computes the verdict for the current cycle. It only evaluates: the
// caller actuates, and panic/cooldown suppression happens before this is
// reached.
func (d *DecisionEngine) Evaluate(filter *Filter, tracker *ZoneTracker, model *PowerModel, seasonMode, band string, now time.Time) Verdict {
	export := filter.Export()
	importPower := filter.Import()

	addCandidate := tracker.NextToAdd(seasonMode, d.tempPriority, now)
	removeCandidate := tracker.NextToRemove(seasonMode, d.tempPriority, now)

	var verdict Verdict
	if addCandidate != nil {
		verdict.NextZone = addCandidate.Name
		verdict.RequiredExport = model.RequiredExport(addCandidate.Name, seasonMode, band)
		verdict.ExportMargin = export - verdict.RequiredExport
		verdict.AddScore = d.addScore(verdict.ExportMargin, model.Samples(), tracker.IsShortCycling(addCandidate.Name, now))
	}
	if removeCandidate != nil {
		verdict.LastZone = removeCandidate.Name
		verdict.RemoveScore = d.removeScore(importPower, tracker.IsShortCycling(removeCandidate.Name, now))
	}
	verdict.Confidence = verdict.AddScore - verdict.RemoveScore
	verdict.Action = ActionNone

	switch {
	case d.shouldAdd(verdict, addCandidate, model, tracker, now):
		verdict.Action = ActionAdd
		verdict.Zone = addCandidate.Name
	case d.shouldRemove(verdict, removeCandidate, tracker, seasonMode, now):
		verdict.Action = ActionRemove
		verdict.Zone = removeCandidate.Name
	}

	d.logger.Debug("cycle evaluated",
		slog.String("action", string(verdict.Action)),
		slog.Float64("confidence", verdict.Confidence),
		slog.Float64("export", export),
		slog.Float64("import", importPower),
		slog.String("nextZone", verdict.NextZone),
		slog.String("lastZone", verdict.LastZone),
	)
	return verdict
}

func (d *DecisionEngine) addScore(exportMargin float64, samples int, shortCycling bool) float64 {
	score := clamp(0, 40, exportMargin/25)
	score += 5
	score += min(20, float64(samples)*2)
	if shortCycling {
		score -= 30
	}
	return score
}

func (d *DecisionEngine) removeScore(importPower float64, shortCycling bool) float64 {
	score := clamp(0, 60, (importPower-200)/8)
	score += 5
	if importPower > 1500 {
		score += 20
	}
	if shortCycling {
		score -= 40
	}
	return score
}

func (d *DecisionEngine) shouldAdd(verdict Verdict, candidate *Zone, model *PowerModel, tracker *ZoneTracker, now time.Time) bool {
	if candidate == nil {
		return false
	}
	if model.Active() != nil {
		// one learning sample at a time: no new zones until it resolves
		return false
	}
	if verdict.ExportMargin < 0 {
		return false
	}
	if tracker.IsLocked(candidate.Name, now) || tracker.IsShortCycling(candidate.Name, now) {
		return false
	}
	return verdict.Confidence >= d.addThreshold
}

func (d *DecisionEngine) shouldRemove(verdict Verdict, candidate *Zone, tracker *ZoneTracker, seasonMode string, now time.Time) bool {
	if candidate == nil {
		return false
	}
	if tracker.IsLocked(candidate.Name, now) || tracker.IsShortCycling(candidate.Name, now) {
		return false
	}
	if !tracker.AtTarget(candidate.Name, seasonMode) {
		return false
	}
	return verdict.Confidence <= -d.removeThreshold
}

func clamp(lo, hi, value float64) float64 {
	return min(hi, max(lo, value))
}
