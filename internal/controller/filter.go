package controller

import (
	"time"
)

const (
	emaFastAlpha = 0.25
	emaSlowAlpha = 0.03

	outsideWindow   = 7 * 24 * time.Hour
	outsideCapacity = int(outsideWindow / (5 * time.Second))
)

// Filter maintains the exponential moving averages of net grid power (and of
// the aggregate load power, used as the learning baseline) plus a rolling
// multi-day mean of the outdoor temperature.
//
// Sign convention: positive grid power = importing, negative = exporting.
type Filter struct {
	EMAFast float64 // ~30s window
	EMASlow float64 // ~5m window
	EMALoad float64 // filtered aggregate load power

	outside    *ring
	lastSample time.Time
}

func NewFilter() *Filter {
	return &Filter{outside: newRing(outsideCapacity)}
}

// Update folds one telemetry reading into the filter.
func (f *Filter) Update(gridPower, loadPower float64, outsideTemp *float64, now time.Time) {
	f.EMAFast = emaFastAlpha*gridPower + (1-emaFastAlpha)*f.EMAFast
	f.EMASlow = emaSlowAlpha*gridPower + (1-emaSlowAlpha)*f.EMASlow
	f.EMALoad = emaFastAlpha*loadPower + (1-emaFastAlpha)*f.EMALoad
	if outsideTemp != nil {
		f.outside.push(*outsideTemp, now)
		f.lastSample = now
	}
}

// Export returns the momentary surplus: export is negative grid power.
func (f *Filter) Export() float64 {
	return -f.EMAFast
}

// Import returns the sustained import power.
func (f *Filter) Import() float64 {
	return f.EMASlow
}

// OutsideMean returns the rolling mean of the outdoor temperature over the
// buffer window. When no samples have been recorded it reports ok=false; the
// caller decides how to degrade.
func (f *Filter) OutsideMean(now time.Time) (float64, bool) {
	f.outside.trim(now.Add(-outsideWindow))
	return f.outside.mean()
}

// Reset zeroes the EMAs. Called after a prolonged master-off so the next
// solar day does not start from stale values.
func (f *Filter) Reset() {
	f.EMAFast = 0
	f.EMASlow = 0
	f.EMALoad = 0
}

// ring is a capacity-bounded, time-ordered buffer of temperature samples
// with a running sum for O(1) means.
type ring struct {
	samples []outsideSample
	head    int
	count   int
	sum     float64
}

type outsideSample struct {
	value float64
	when  time.Time
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]outsideSample, capacity)}
}

func (r *ring) push(value float64, now time.Time) {
	if r.count == len(r.samples) {
		r.sum -= r.samples[r.head].value
		r.head = (r.head + 1) % len(r.samples)
		r.count--
	}
	r.samples[(r.head+r.count)%len(r.samples)] = outsideSample{value: value, when: now}
	r.count++
	r.sum += value
}

// trim drops samples older than cutoff.
func (r *ring) trim(cutoff time.Time) {
	for r.count > 0 && r.samples[r.head].when.Before(cutoff) {
		r.sum -= r.samples[r.head].value
		r.head = (r.head + 1) % len(r.samples)
		r.count--
	}
}

func (r *ring) mean() (float64, bool) {
	if r.count == 0 {
		return 0, false
	}
	return r.sum / float64(r.count), true
}
