package collector

import (
	"log/slog"

	"github.com/clambin/solar-ac-controller/internal/controller"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	gridPowerEMAFast = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "grid", "power_ema_fast_watts"),
		"Fast EMA of net grid power (positive = importing)",
		nil,
		nil,
	)
	gridPowerEMASlow = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "grid", "power_ema_slow_watts"),
		"Slow EMA of net grid power (positive = importing)",
		nil,
		nil,
	)
	loadPowerEMA = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "load", "power_ema_watts"),
		"EMA of aggregate load power",
		nil,
		nil,
	)
	solarPower = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "solar", "power_watts"),
		"Current solar production",
		nil,
		nil,
	)
	outsideTempMean = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "outside", "temp_mean_celsius"),
		"Rolling mean of the outdoor temperature",
		nil,
		nil,
	)
	confidence = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "decision", "confidence"),
		"Signed decision confidence (positive favors adding a zone)",
		nil,
		nil,
	)
	requiredExport = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "decision", "required_export_watts"),
		"Learned power of the next candidate zone",
		nil,
		nil,
	)
	exportMargin = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "decision", "export_margin_watts"),
		"Available export minus the next zone's required export",
		nil,
		nil,
	)
	lastAction = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "decision", "last_action"),
		"Last action taken. Always one. See label 'action'",
		[]string{"action"},
		nil,
	)
	seasonMode = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "season", "mode"),
		"Current season mode. Always one. See label 'mode'",
		[]string{"mode"},
		nil,
	)
	panicState = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "panic", "state"),
		"Panic shedding state. Always one. See label 'state'",
		[]string{"state"},
		nil,
	)
	frozen = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "controller", "frozen"),
		"1 if zone management is currently frozen",
		nil,
		nil,
	)
	learningSamples = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "learning", "samples"),
		"Number of accepted learning samples",
		nil,
		nil,
	)
	learningRejected = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "learning", "rejected"),
		"Number of rejected learning samples",
		nil,
		nil,
	)
	learnedPower = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "learning", "learned_power_watts"),
		"Learned power draw per zone and mode",
		[]string{"zone", "mode"},
		nil,
	)
	zonePowerState = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "zone", "power_state"),
		"Power status of this zone",
		[]string{"zone"},
		nil,
	)
	zoneTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "zone", "temperature_celsius"),
		"Current temperature of this zone in degrees celsius",
		[]string{"zone"},
		nil,
	)
	zoneLocked = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "zone", "manual_lock"),
		"1 if this zone is under a manual-override lock",
		[]string{"zone"},
		nil,
	)
	zoneShortCycling = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "zone", "short_cycling"),
		"1 if this zone is inside its short-cycle protection window",
		[]string{"zone"},
		nil,
	)
	cycles = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "controller", "cycles_total"),
		"Number of completed decision cycles",
		nil,
		nil,
	)
	cycleErrors = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "controller", "errors_total"),
		"Number of actuation and persistence failures",
		nil,
		nil,
	)
	cycleDuration = prometheus.NewDesc(
		prometheus.BuildFQName("solar_ac", "controller", "cycle_duration_seconds"),
		"Duration of the last decision cycle",
		nil,
		nil,
	)
)

// SnapshotSource hands out the last cycle's snapshot.
type SnapshotSource interface {
	Snapshot() (controller.Snapshot, bool)
}

type Collector struct {
	Source SnapshotSource
	Logger *slog.Logger
}

var _ prometheus.Collector = &Collector{}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- gridPowerEMAFast
	ch <- gridPowerEMASlow
	ch <- loadPowerEMA
	ch <- solarPower
	ch <- outsideTempMean
	ch <- confidence
	ch <- requiredExport
	ch <- exportMargin
	ch <- lastAction
	ch <- seasonMode
	ch <- panicState
	ch <- frozen
	ch <- learningSamples
	ch <- learningRejected
	ch <- learnedPower
	ch <- zonePowerState
	ch <- zoneTemperature
	ch <- zoneLocked
	ch <- zoneShortCycling
	ch <- cycles
	ch <- cycleErrors
	ch <- cycleDuration
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot, ok := c.Source.Snapshot()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(gridPowerEMAFast, prometheus.GaugeValue, snapshot.EMAFast)
	ch <- prometheus.MustNewConstMetric(gridPowerEMASlow, prometheus.GaugeValue, snapshot.EMASlow)
	ch <- prometheus.MustNewConstMetric(loadPowerEMA, prometheus.GaugeValue, snapshot.EMALoad)
	ch <- prometheus.MustNewConstMetric(solarPower, prometheus.GaugeValue, snapshot.SolarPower)
	if snapshot.OutsideMean != nil {
		ch <- prometheus.MustNewConstMetric(outsideTempMean, prometheus.GaugeValue, *snapshot.OutsideMean)
	}
	ch <- prometheus.MustNewConstMetric(confidence, prometheus.GaugeValue, snapshot.Confidence)
	ch <- prometheus.MustNewConstMetric(requiredExport, prometheus.GaugeValue, snapshot.RequiredExport)
	ch <- prometheus.MustNewConstMetric(exportMargin, prometheus.GaugeValue, snapshot.ExportMargin)
	if snapshot.LastAction != "" {
		ch <- prometheus.MustNewConstMetric(lastAction, prometheus.GaugeValue, 1, snapshot.LastAction)
	}
	ch <- prometheus.MustNewConstMetric(seasonMode, prometheus.GaugeValue, 1, snapshot.SeasonMode)
	ch <- prometheus.MustNewConstMetric(panicState, prometheus.GaugeValue, 1, string(snapshot.PanicState))
	ch <- prometheus.MustNewConstMetric(frozen, prometheus.GaugeValue, boolValue(snapshot.Frozen))
	ch <- prometheus.MustNewConstMetric(learningSamples, prometheus.GaugeValue, float64(snapshot.Samples))
	ch <- prometheus.MustNewConstMetric(learningRejected, prometheus.GaugeValue, float64(snapshot.Rejected))
	ch <- prometheus.MustNewConstMetric(cycles, prometheus.CounterValue, float64(snapshot.Cycles))
	ch <- prometheus.MustNewConstMetric(cycleErrors, prometheus.CounterValue, float64(snapshot.Errors))
	ch <- prometheus.MustNewConstMetric(cycleDuration, prometheus.GaugeValue, snapshot.CycleDuration.Seconds())

	for zone, modes := range snapshot.LearnedPower {
		for mode, watts := range modes {
			ch <- prometheus.MustNewConstMetric(learnedPower, prometheus.GaugeValue, watts, zone, mode)
		}
	}
	for _, zone := range snapshot.Zones {
		ch <- prometheus.MustNewConstMetric(zonePowerState, prometheus.GaugeValue, boolValue(zone.On), zone.Name)
		if zone.Temperature != nil {
			ch <- prometheus.MustNewConstMetric(zoneTemperature, prometheus.GaugeValue, *zone.Temperature, zone.Name)
		}
		ch <- prometheus.MustNewConstMetric(zoneLocked, prometheus.GaugeValue, boolValue(zone.Locked), zone.Name)
		ch <- prometheus.MustNewConstMetric(zoneShortCycling, prometheus.GaugeValue, boolValue(zone.ShortCycling), zone.Name)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
