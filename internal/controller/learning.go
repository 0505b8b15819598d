package controller

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/clambin/solar-ac-controller/internal/store"
)

const (
	learningAlpha         = 0.4
	learningOutlierFactor = 4.0
)

// PowerModel learns how much power each zone draws when active, per
// operating mode and (optionally) per outdoor temperature band.
//
// Required export deliberately returns the raw learned wattage, without a
// safety multiplier: padding the estimate would systematically leave surplus
// unused.
type PowerModel struct {
	bootstrap float64
	settle    time.Duration
	banding   bool
	logger    *slog.Logger

	estimates map[string]map[string]float64
	bands     map[string]map[string]map[string]float64
	samples   int
	rejected  int

	active *Sample
}

// Sample is one in-flight learning measurement. Samples are single-flight:
// starting a new one abandons the previous one without scoring.
type Sample struct {
	Zone     string
	Mode     string
	Band     string
	Baseline float64
	Started  time.Time
}

func NewPowerModel(bootstrap float64, settle time.Duration, banding bool, doc store.Document, logger *slog.Logger) *PowerModel {
	m := PowerModel{
		bootstrap: bootstrap,
		settle:    settle,
		banding:   banding,
		logger:    logger,
		estimates: doc.LearnedPower,
		bands:     doc.LearnedPowerBands,
		samples:   doc.Samples,
	}
	if m.estimates == nil {
		m.estimates = make(map[string]map[string]float64)
	}
	if m.bands == nil {
		m.bands = make(map[string]map[string]map[string]float64)
	}
	return &m
}

// StartSample begins a learning measurement for a zone. The baseline is the
// filtered load power at the time the zone is switched on.
func (m *PowerModel) StartSample(zone, mode, band string, baseline float64, now time.Time) {
	if m.active != nil {
		m.logger.Debug("abandoning pending learning sample", slog.String("zone", m.active.Zone))
	}
	m.active = &Sample{Zone: zone, Mode: mode, Band: band, Baseline: baseline, Started: now}
	m.logger.Info("learning sample started",
		slog.String("zone", zone), slog.String("mode", mode),
		slog.Float64("baseline", baseline))
}

// Active returns the in-flight sample, if any.
func (m *PowerModel) Active() *Sample {
	return m.active
}

// Settled reports whether the in-flight sample has passed its settling
// interval and is ready to be finished.
func (m *PowerModel) Settled(now time.Time) bool {
	return m.active != nil && now.Sub(m.active.Started) >= m.settle
}

// Abandon discards the in-flight sample without scoring.
func (m *PowerModel) Abandon(zone string) {
	if m.active == nil || (zone != "" && m.active.Zone != zone) {
		return
	}
	m.logger.Debug("learning sample abandoned", slog.String("zone", m.active.Zone))
	m.active = nil
}

// FinishSample completes the in-flight sample against the settled filtered
// load power. mode, when non-empty, is the operating mode the zone actually
// reported while the sample settled; it takes precedence over the mode the
// sample was started under. FinishSample returns the accepted delta, or an
// error describing why the sample was rejected. Either way the sample is
// cleared.
func (m *PowerModel) FinishSample(settled float64, mode string, now time.Time) (float64, error) {
	sample := m.active
	if sample == nil {
		return 0, fmt.Errorf("no learning sample active")
	}
	m.active = nil
	if mode != "" {
		sample.Mode = mode
	}

	if elapsed := now.Sub(sample.Started); elapsed < m.settle {
		m.rejected++
		return 0, fmt.Errorf("sample not settled (%s < %s)", elapsed, m.settle)
	}

	delta := settled - sample.Baseline
	if delta <= 0 {
		m.rejected++
		return 0, fmt.Errorf("implausible delta: %.0f W", delta)
	}
	if current, ok := m.lookup(sample.Zone, sample.Mode); ok && delta > learningOutlierFactor*current {
		m.rejected++
		return 0, fmt.Errorf("outlier delta: %.0f W vs estimate %.0f W", delta, current)
	}

	m.learn(sample, delta)
	m.samples++

	m.logger.Info("learning sample completed",
		slog.String("zone", sample.Zone), slog.String("mode", sample.Mode),
		slog.Float64("delta", delta), slog.Int("samples", m.samples))
	return delta, nil
}

// learn folds an accepted delta into the estimate. The first sample for a
// zone/mode sets the estimate outright; subsequent samples are smoothed so
// recent compressor behavior dominates older samples.
func (m *PowerModel) learn(sample *Sample, delta float64) {
	modes, ok := m.estimates[sample.Zone]
	if !ok {
		modes = make(map[string]float64)
		m.estimates[sample.Zone] = modes
	}
	current, ok := modes[sample.Mode]
	if !ok {
		modes[sample.Mode] = delta
	} else {
		modes[sample.Mode] = learningAlpha*delta + (1-learningAlpha)*current
	}
	if _, ok = modes["default"]; !ok || sample.Mode == "default" {
		modes["default"] = modes[sample.Mode]
	}

	if m.banding && sample.Band != "" {
		zoneBands, ok := m.bands[sample.Zone]
		if !ok {
			zoneBands = make(map[string]map[string]float64)
			m.bands[sample.Zone] = zoneBands
		}
		modeBands, ok := zoneBands[sample.Mode]
		if !ok {
			modeBands = make(map[string]float64)
			zoneBands[sample.Mode] = modeBands
		}
		if current, ok := modeBands[sample.Band]; ok {
			modeBands[sample.Band] = learningAlpha*delta + (1-learningAlpha)*current
		} else {
			modeBands[sample.Band] = delta
		}
	}
}

// RequiredExport returns the export needed before a zone can be added: the
// learned wattage for its mode (and band, when banding is enabled), falling
// back to the bootstrap constant when nothing has been learned yet.
func (m *PowerModel) RequiredExport(zone, mode, band string) float64 {
	if m.banding && band != "" {
		if modeBands, ok := m.bands[zone]; ok {
			if bands, ok := modeBands[mode]; ok {
				if watts, ok := bands[band]; ok {
					return watts
				}
			}
		}
	}
	if watts, ok := m.lookup(zone, mode); ok {
		return watts
	}
	return m.bootstrap
}

func (m *PowerModel) lookup(zone, mode string) (float64, bool) {
	modes, ok := m.estimates[zone]
	if !ok {
		return 0, false
	}
	for _, key := range []string{mode, "default", "heat", "cool"} {
		if watts, ok := modes[key]; ok {
			return watts, true
		}
	}
	return 0, false
}

// Samples returns the number of accepted learning samples.
func (m *PowerModel) Samples() int {
	return m.samples
}

// Rejected returns the number of rejected learning samples.
func (m *PowerModel) Rejected() int {
	return m.rejected
}

// Reset clears the in-flight sample and, when clearStored is set, all learned
// estimates and the sample counter.
func (m *PowerModel) Reset(clearStored bool) {
	m.active = nil
	if clearStored {
		m.estimates = make(map[string]map[string]float64)
		m.bands = make(map[string]map[string]map[string]float64)
		m.samples = 0
	}
}

// ForceRelearn drops a zone's learned estimates so it falls back to the
// bootstrap value, re-arming learning from scratch. It also clears the
// in-flight sample and the sample counter.
func (m *PowerModel) ForceRelearn(zone string) {
	delete(m.estimates, zone)
	delete(m.bands, zone)
	m.active = nil
	m.samples = 0
}

// Document exports the learned state for persistence.
func (m *PowerModel) Document() store.Document {
	return store.Document{
		Version:           store.CurrentVersion,
		LearnedPower:      m.estimates,
		LearnedPowerBands: m.bands,
		Samples:           m.samples,
	}
}
