package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
	"github.com/clambin/solar-ac-controller/internal/controller/notifier"
	"github.com/clambin/solar-ac-controller/internal/poller"
	"github.com/clambin/solar-ac-controller/internal/store"
)

// Publisher hands out subscriptions to telemetry updates.
type Publisher[T any] interface {
	Subscribe() chan T
	Unsubscribe(ch chan T)
}

// DocumentStore persists learned power between runs.
type DocumentStore interface {
	Load() store.Document
	Save(store.Document) error
}

// Controller runs the closed control loop: each telemetry update drives one
// full cycle (filter, season, zone state, learning, panic, decision, at most
// one actuation, persistence). Cycles never overlap: the loop is the sole
// writer of all engine state, and observers only ever get a Snapshot.
type Controller struct {
	cfg       configuration.Configuration
	publisher Publisher[poller.Update]
	filter    *Filter
	season    *SeasonManager
	tracker   *ZoneTracker
	model     *PowerModel
	engine    *DecisionEngine
	panicMgr  *PanicManager
	master    *MasterManager
	sequencer *Sequencer
	store     DocumentStore
	notifier  notifier.Notifier
	logger    *slog.Logger

	lastAction  string
	outsideBand string
	cycles      int
	errors      int
	cycleTime   time.Duration

	// engineLock serializes cycles with the operator actions: the control
	// loop is otherwise the sole writer of engine state.
	engineLock sync.Mutex

	lock     sync.RWMutex
	snapshot Snapshot
	updated  bool
}

func New(p Publisher[poller.Update], ha CommandCaller, documentStore DocumentStore, cfg configuration.Configuration, n notifier.Notifier, logger *slog.Logger) *Controller {
	doc := documentStore.Load()
	return &Controller{
		cfg:       cfg,
		publisher: p,
		filter:    NewFilter(),
		season:    NewSeasonManager(cfg, logger.With("component", "season")),
		tracker:   NewZoneTracker(cfg, logger.With("component", "zones")),
		model:     NewPowerModel(cfg.InitialLearnedPower, cfg.LearningSettle, cfg.Banding, doc, logger.With("component", "learning")),
		engine:    NewDecisionEngine(cfg, logger.With("component", "decision")),
		panicMgr:  NewPanicManager(cfg, logger.With("component", "panic")),
		master:    NewMasterManager(cfg, logger.With("component", "master")),
		sequencer: NewSequencer(ha, cfg, logger.With("component", "sequencer")),
		store:     documentStore,
		notifier:  n,
		logger:    logger,
	}
}

// Run subscribes to the poller and processes each update as one cycle.
func (c *Controller) Run(ctx context.Context) error {
	ch := c.publisher.Subscribe()
	defer c.publisher.Unsubscribe(ch)

	c.logger.Debug("controller starting")
	defer c.logger.Debug("controller stopping")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			c.processUpdate(ctx, update)
		}
	}
}

func (c *Controller) processUpdate(ctx context.Context, update poller.Update) {
	c.engineLock.Lock()
	defer c.engineLock.Unlock()

	c.cycles++
	started := time.Now()
	defer func() { c.cycleTime = time.Since(started) }()

	now := update.Timestamp
	solar := update.SolarPower

	masterOn := c.evaluateMaster(ctx, solar, update.Master, now)

	if !masterOn {
		c.freeze(now)
		c.publish(c.buildSnapshot(Verdict{}, solar, now))
		return
	}

	c.filter.Update(update.GridPower, update.LoadPower, update.OutsideTemp, now)
	seasonMode := c.season.Update(c.filter, now)
	c.outsideBand = c.season.Band(update.OutsideTemp)

	var neutralOff bool
	if seasonMode == "neutral" && c.cfg.MasterOffInNeutral && c.master.Configured() && update.Master != nil && *update.Master {
		c.switchMaster(ctx, false, now)
		neutralOff = true
	}

	c.tracker.Observe(update, now)

	frozen := neutralOff || c.master.Frozen(solar)
	verdict := Verdict{Action: ActionNone}
	switch {
	case frozen:
		c.lastAction = "frozen"
	case c.progressLearning(now):
		// a sample just resolved; start deciding again next cycle
	case c.shedIfPanicking(ctx, now):
		// shed this cycle; decisions resume after cooldown
	case c.panicMgr.InCooldown(now):
		c.lastAction = "panic_cooldown"
		c.logger.Debug("panic cooldown, skipping decisions")
	default:
		verdict = c.engine.Evaluate(c.filter, c.tracker, c.model, seasonMode, c.outsideBand, now)
		c.apply(ctx, verdict, seasonMode, now)
	}

	c.publish(c.buildSnapshot(verdict, solar, now))
}

// evaluateMaster runs the master relay hysteresis. This happens every cycle,
// even while zone management is frozen. It reports whether the relay is on
// for the rest of this cycle: a command issued just now overrides the (by
// then stale) observation.
func (c *Controller) evaluateMaster(ctx context.Context, solar float64, observed *bool, now time.Time) bool {
	cmd := c.master.Evaluate(solar, observed, now)
	if cmd != nil {
		c.switchMaster(ctx, *cmd, now)
		return *cmd
	}
	return !c.master.Configured() || observed == nil || *observed
}

func (c *Controller) switchMaster(ctx context.Context, on bool, now time.Time) {
	c.master.RecordCommand(on, now)
	if err := c.sequencer.Switch(ctx, c.master.Entity(), on); err != nil {
		c.logger.Error("master switch command failed", slog.Bool("on", on), slog.Any("err", err))
		c.errors++
		c.master.CommandFailed(!on)
		return
	}
	action := "master off"
	if on {
		action = "master on"
	}
	c.lastAction = action
	c.notifier.Notify(notifier.Event{Action: action})
}

// freeze is the master-off path: no filter updates, no decisions. A pending
// learning sample is abandoned, and after a prolonged off period the EMAs
// are zeroed so the next solar day starts clean.
func (c *Controller) freeze(now time.Time) {
	if sample := c.model.Active(); sample != nil {
		c.model.Abandon(sample.Zone)
	}
	if c.master.ShouldResetFilter(now) {
		c.filter.Reset()
	}
	c.lastAction = "master off"
}

// progressLearning finishes or abandons the in-flight learning sample. It
// reports whether a sample resolved this cycle; if so, the cycle makes no
// further decisions so the power reading can stabilize first.
func (c *Controller) progressLearning(now time.Time) bool {
	sample := c.model.Active()
	if sample == nil {
		return false
	}
	if zone, ok := c.tracker.Zone(sample.Zone); ok && !zone.On {
		c.logger.Info("zone switched off mid-sample, abandoning", slog.String("zone", sample.Zone))
		c.model.Abandon(sample.Zone)
		return true
	}
	if !c.model.Settled(now) {
		return false
	}
	// file the sample under the mode the zone actually runs in, which can
	// differ from the season mode the sample was started under
	var reported string
	if zone, ok := c.tracker.Zone(sample.Zone); ok {
		reported = zone.Mode
	}
	delta, err := c.model.FinishSample(c.filter.EMALoad, reported, now)
	if err != nil {
		c.logger.Info("learning sample rejected", slog.String("zone", sample.Zone), slog.Any("err", err))
		c.lastAction = "sample rejected"
		return true
	}
	c.logger.Info("learned zone power",
		slog.String("zone", sample.Zone), slog.String("mode", sample.Mode),
		slog.Float64("delta", delta), slog.Int("samples", c.model.Samples()))
	c.lastAction = "learned " + sample.Zone
	c.persist()
	return true
}

// shedIfPanicking advances the panic state machine and, when it fires, sheds
// all active zones but the highest-priority one, one command at a time.
func (c *Controller) shedIfPanicking(ctx context.Context, now time.Time) bool {
	if !c.panicMgr.Evaluate(c.filter.EMAFast, len(c.tracker.ActiveZones()), now) {
		return false
	}
	shed := c.tracker.ShedOrder()
	for _, zone := range shed {
		c.model.Abandon(zone.Name)
		c.tracker.RecordCommand(zone.Name, false, now)
		if err := c.sequencer.TurnOff(ctx, zone.Entity); err != nil {
			c.logger.Error("panic shed command failed", slog.String("zone", zone.Name), slog.Any("err", err))
			c.errors++
			c.tracker.RevertCommand(zone.Name, true)
		}
	}
	c.panicMgr.StartCooldown(now)
	c.lastAction = "panic"
	c.notifier.Notify(notifier.Event{
		Action: "panic shed",
		Reason: fmt.Sprintf("sustained import %.0f W, shed %d zone(s)", c.filter.EMAFast, len(shed)),
	})
	return true
}

// apply performs the verdict's action. One action per cycle, at most.
func (c *Controller) apply(ctx context.Context, verdict Verdict, seasonMode string, now time.Time) {
	switch verdict.Action {
	case ActionAdd:
		c.addZone(ctx, verdict, seasonMode, now)
	case ActionRemove:
		c.removeZone(ctx, verdict, now)
	default:
		c.lastAction = "balanced"
	}
}

func (c *Controller) addZone(ctx context.Context, verdict Verdict, seasonMode string, now time.Time) {
	zone, ok := c.tracker.Zone(verdict.Zone)
	if !ok {
		return
	}
	mode := seasonMode
	if mode != "heat" && mode != "cool" {
		mode = "default"
	}
	c.model.StartSample(zone.Name, mode, c.outsideBand, c.filter.EMALoad, now)
	c.tracker.RecordCommand(zone.Name, true, now)
	if err := c.sequencer.TurnOn(ctx, zone.Entity, seasonMode); err != nil {
		c.logger.Error("add command failed", slog.String("zone", zone.Name), slog.Any("err", err))
		c.errors++
		c.model.Abandon(zone.Name)
		c.tracker.RevertCommand(zone.Name, false)
		c.lastAction = "add failed"
		return
	}
	c.lastAction = "add " + zone.Name
	c.notifier.Notify(notifier.Event{
		Action: "switched on",
		Zone:   zone.Name,
		Reason: fmt.Sprintf("export margin %.0f W, confidence %.0f", verdict.ExportMargin, verdict.Confidence),
	})
}

func (c *Controller) removeZone(ctx context.Context, verdict Verdict, now time.Time) {
	zone, ok := c.tracker.Zone(verdict.Zone)
	if !ok {
		return
	}
	c.model.Abandon(zone.Name)
	c.tracker.RecordCommand(zone.Name, false, now)
	if err := c.sequencer.TurnOff(ctx, zone.Entity); err != nil {
		c.logger.Error("remove command failed", slog.String("zone", zone.Name), slog.Any("err", err))
		c.errors++
		c.tracker.RevertCommand(zone.Name, true)
		c.lastAction = "remove failed"
		return
	}
	c.lastAction = "remove " + zone.Name
	c.notifier.Notify(notifier.Event{
		Action: "switched off",
		Zone:   zone.Name,
		Reason: fmt.Sprintf("import %.0f W, confidence %.0f", c.filter.EMASlow, verdict.Confidence),
	})
}

func (c *Controller) persist() {
	if err := c.store.Save(c.model.Document()); err != nil {
		// data loss is acceptable, the next accepted sample tries again
		c.logger.Error("failed to persist learned power", slog.Any("err", err))
		c.errors++
	}
}

func (c *Controller) publish(s Snapshot) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.snapshot = s
	c.updated = true
}

// Snapshot returns the last cycle's snapshot. The bool is false until the
// first cycle has completed.
func (c *Controller) Snapshot() (Snapshot, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.snapshot, c.updated
}

// ResetLearning clears the in-flight sample and, when clearStored is set,
// all learned estimates back to the bootstrap default.
func (c *Controller) ResetLearning(clearStored bool) {
	c.engineLock.Lock()
	defer c.engineLock.Unlock()

	c.model.Reset(clearStored)
	if clearStored {
		c.persist()
	}
}

// ForceRelearn re-arms learning for one named zone, or for every zone when
// name is empty. Unknown zone names are rejected.
func (c *Controller) ForceRelearn(name string) error {
	c.engineLock.Lock()
	defer c.engineLock.Unlock()

	if name == "" {
		for _, zone := range c.tracker.Names() {
			c.model.ForceRelearn(zone)
		}
		c.persist()
		return nil
	}
	if _, ok := c.tracker.Zone(name); !ok {
		return fmt.Errorf("unknown zone: %s", name)
	}
	c.model.ForceRelearn(name)
	c.persist()
	return nil
}
