package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/imgcached/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultTimeWindow is the trailing duration considered "recent" when
// no window is configured.
const DefaultTimeWindow = time.Hour

// Outcome is the result of an Acquire call.
type Outcome int

const (
	// AlreadyResident means the image was in the cache and the hold was
	// recorded; nothing needs to be pulled.
	AlreadyResident Outcome = iota

	// AdmittedDirectly means the image was admitted into free capacity;
	// the caller must now pull it.
	AdmittedDirectly

	// AdmittedByEviction means the image was admitted by evicting the
	// victim; the caller must pull the image and remove the victim's
	// artifact before relying on further cache state.
	AdmittedByEviction

	// NoCapacity means the cache is full and nothing is evictable. This
	// is backpressure, not failure: the caller should back off and
	// retry the same Acquire.
	NoCapacity
)

// String returns the outcome name used in logs, metrics and the API.
func (o Outcome) String() string {
	switch o {
	case AlreadyResident:
		return "already_resident"
	case AdmittedDirectly:
		return "admitted"
	case AdmittedByEviction:
		return "admitted_by_eviction"
	case NoCapacity:
		return "no_capacity"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Terminal reports whether the outcome completed an admission.
// NoCapacity is the only non-terminal outcome.
func (o Outcome) Terminal() bool {
	return o != NoCapacity
}

// Admission is what Acquire decided and, for evictions, which image
// the caller must now remove.
type Admission struct {
	Outcome Outcome
	Victim  string
}

// ImageStats is the observable state of one cached image.
type ImageStats struct {
	Image            string
	ActiveContainers int
	RecentStarts     int
	RecentBusy       time.Duration
}

// Config holds cache parameters.
type Config struct {
	// Capacity is the maximum number of resident images.
	Capacity int

	// TimeWindow defines "recent" for both eviction policies and for
	// reported statistics.
	TimeWindow time.Duration

	// Policy selects the default eviction comparator.
	Policy VictimPolicy

	// Clock defaults to RealClock.
	Clock Clock
}

// Cache tracks image usage and decides which unused image to evict
// when capacity runs out. All methods are safe for concurrent use:
// a single mutex covers the whole of Acquire, Release and Snapshot,
// so every call observes a consistent whole-cache state.
type Cache struct {
	mu       sync.Mutex
	ledger   *ledger
	capacity int
	window   time.Duration
	policy   VictimPolicy
	clock    Clock
	logger   zerolog.Logger
}

// New creates a Cache. Capacity and time window must be positive and a
// default policy must be set.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("cache: capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.TimeWindow <= 0 {
		return nil, fmt.Errorf("cache: time window must be positive, got %v", cfg.TimeWindow)
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("cache: no eviction policy configured")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	return &Cache{
		ledger:   newLedger(),
		capacity: cfg.Capacity,
		window:   cfg.TimeWindow,
		policy:   cfg.Policy,
		clock:    clock,
		logger:   logger.With().Str("component", "cache").Logger(),
	}, nil
}

// Acquire admits an image for use by a container, evicting with the
// default policy if the cache is full.
func (c *Cache) Acquire(image, container string) Admission {
	return c.acquire(image, container, c.policy)
}

// AcquireWithPolicy is Acquire with the eviction comparator overridden
// for this one decision.
func (c *Cache) AcquireWithPolicy(image, container string, policy VictimPolicy) Admission {
	if policy == nil {
		policy = c.policy
	}
	return c.acquire(image, container, policy)
}

// acquire is the admission protocol. The presence check, capacity
// check and eviction decision happen under one lock acquisition;
// unlocking between them would let two callers both observe "at
// capacity" and both evict.
func (c *Cache) acquire(image, container string, policy VictimPolicy) Admission {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	if c.ledger.contains(image) {
		c.ledger.recordStart(image, container, now)
		c.observe(AlreadyResident)
		return Admission{Outcome: AlreadyResident}
	}

	if c.ledger.len() < c.capacity {
		c.ledger.add(image)
		c.ledger.recordStart(image, container, now)
		c.observe(AdmittedDirectly)
		c.logger.Debug().
			Str("image", image).
			Str("container", container).
			Int("resident", c.ledger.len()).
			Msg("Image admitted")
		return Admission{Outcome: AdmittedDirectly}
	}

	victim, ok := c.selectVictim(policy, now)
	if !ok {
		c.observe(NoCapacity)
		c.logger.Debug().
			Str("image", image).
			Str("container", container).
			Msg("Cache full and nothing evictable")
		return Admission{Outcome: NoCapacity}
	}

	c.ledger.remove(victim)
	c.ledger.add(image)
	c.ledger.recordStart(image, container, now)
	c.observe(AdmittedByEviction)
	metrics.EvictionsTotal.WithLabelValues(policy.Name()).Inc()
	c.logger.Info().
		Str("image", image).
		Str("container", container).
		Str("victim", victim).
		Str("policy", policy.Name()).
		Msg("Image admitted by eviction")
	return Admission{Outcome: AdmittedByEviction, Victim: victim}
}

// selectVictim runs the policy over the currently-unused images. The
// scan is bounded by the number of resident images, so nothing slow
// happens under the lock.
func (c *Cache) selectVictim(policy VictimPolicy, now time.Time) (string, bool) {
	unused := c.ledger.unusedImages()
	if len(unused) == 0 {
		return "", false
	}
	candidates := make([]ImageStats, 0, len(unused))
	for _, image := range unused {
		candidates = append(candidates, c.ledger.stats(image, now, c.window))
	}
	return policy.SelectVictim(candidates, now)
}

// Release records that a container stopped using an image. A release
// with no matching hold is ignored, so duplicate completion
// notifications from an unreliable executor are harmless.
func (c *Cache) Release(image, container string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ledger.recordStop(image, container, c.clock.Now())
	c.updateGauges()
}

// Snapshot returns the stats of every resident image in admission
// order, observed atomically with respect to Acquire and Release.
func (c *Cache) Snapshot() []ImageStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	stats := make([]ImageStats, 0, c.ledger.len())
	for _, image := range c.ledger.order {
		stats = append(stats, c.ledger.stats(image, now, c.window))
	}
	return stats
}

// Len returns the number of resident images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.len()
}

// observe must be called with the lock held.
func (c *Cache) observe(outcome Outcome) {
	metrics.AcquisitionsTotal.WithLabelValues(outcome.String()).Inc()
	c.updateGauges()
}

// updateGauges must be called with the lock held.
func (c *Cache) updateGauges() {
	metrics.ImagesResident.Set(float64(c.ledger.len()))
	metrics.ContainersActive.Set(float64(len(c.ledger.holds)))
}
