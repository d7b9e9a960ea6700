package tracker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/meshtrack/internal/telemetry"
	"github.com/ryandielhenn/meshtrack/pkg/registry"
)

// timerSlot holds the expiry bookkeeping for one service name. timer is nil
// when no expiry is pending; the key stays in the map so repeated cancels and
// stale callbacks are cheap no-ops. gen increments on every rearm, letting a
// callback that lost a race to a re-report detect that it is stale.
type timerSlot struct {
	timer *time.Timer
	gen   uint64
}

// Tracker merges client reports into the registry and owns the per-entry
// expiry timers. A timeout of 0 disables expiry entirely: entries then never
// flip to unavailable on their own.
type Tracker struct {
	store   *registry.Store
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	timers map[string]*timerSlot
}

func New(store *registry.Store, timeout time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:   store,
		timeout: timeout,
		logger:  logger,
		timers:  make(map[string]*timerSlot),
	}
}

// Update merges one report into the registry and rearms the expiry timer for
// every touched name. Merge and rearm run in a single critical section so a
// concurrently firing expiry can never slip between them.
func (t *Tracker) Update(reports map[string]registry.Descriptor, reporterAddr string) {
	if len(reports) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.store.Merge(reports, reporterAddr)
	if t.timeout > 0 {
		for name := range reports {
			t.armLocked(name)
		}
	}
	telemetry.SetRegistrySize(t.store.Len(), t.store.CountAvailable())
}

// armLocked cancels any pending timer for name and starts a fresh one.
// Caller holds t.mu.
func (t *Tracker) armLocked(name string) {
	slot := t.timers[name]
	if slot == nil {
		slot = &timerSlot{}
		t.timers[name] = slot
	}
	if slot.timer != nil {
		slot.timer.Stop()
	}
	slot.gen++
	gen := slot.gen
	slot.timer = time.AfterFunc(t.timeout, func() { t.expire(name, gen) })
}

// expire is the timer callback: flip the entry unavailable and clear the
// timer handle back to the nil sentinel. A stale generation means a re-report
// rearmed the timer after this callback was already scheduled; the re-report
// wins and the callback no-ops.
func (t *Tracker) expire(name string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := t.timers[name]
	if slot == nil || slot.gen != gen {
		return
	}
	slot.timer = nil

	if !t.store.MarkUnavailable(name) {
		// Entry vanished out from under us; nothing to flip.
		return
	}
	telemetry.ExpirationsTotal.Inc()
	telemetry.SetRegistrySize(t.store.Len(), t.store.CountAvailable())
	t.logger.Info("service expired",
		zap.String("service", name),
		zap.Duration("timeout", t.timeout))
}

// Snapshot returns the registry's full current view.
func (t *Tracker) Snapshot() map[string]registry.Descriptor {
	return t.store.Snapshot()
}

// Timeout reports the configured expiry window (0 = disabled).
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}
