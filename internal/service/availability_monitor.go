package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
	"github.com/noah-isme/meal-voucher-api/pkg/jobs"
)

// JobTypeAvailabilityRefresh identifies availability refresh jobs.
const JobTypeAvailabilityRefresh = "availability.refresh"

type dbPinger interface {
	PingContext(ctx context.Context) error
}

type cachePinger interface {
	Ping(ctx context.Context) error
}

// AvailabilityMonitor periodically recomputes which regular meal types are open and
// whether the store is reachable. It only feeds kiosk pre-checks and never blocks
// or coordinates with redemptions.
type AvailabilityMonitor struct {
	mealTypes activeMealTypeLister
	db        dbPinger
	cache     cachePinger
	clock     timewindow.WallClock
	interval  time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
	queue     *jobs.Queue

	mu   sync.RWMutex
	snap models.AvailabilitySnapshot

	stopOnce sync.Once
	stop     chan struct{}
}

// NewAvailabilityMonitor builds a monitor refreshing every interval.
func NewAvailabilityMonitor(mealTypes activeMealTypeLister, db dbPinger, cache cachePinger, clock timewindow.WallClock,
	interval time.Duration, metrics *MetricsService, logger *zap.Logger) *AvailabilityMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m := &AvailabilityMonitor{
		mealTypes: mealTypes,
		db:        db,
		cache:     cache,
		clock:     clock,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
		stop:      make(chan struct{}),
	}
	m.queue = jobs.NewQueue("availability", m.handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 1,
		Logger:     logger,
	})
	return m
}

// Start runs an initial refresh and then schedules one per interval until Stop.
func (m *AvailabilityMonitor) Start(ctx context.Context) {
	m.queue.Start(ctx)
	if err := m.queue.TryEnqueue(jobs.Job{ID: "initial", Type: JobTypeAvailabilityRefresh}); err != nil {
		m.logger.Warn("initial availability refresh not scheduled", zap.Error(err))
	}
	go m.loop(ctx)
}

func (m *AvailabilityMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case tick := <-ticker.C:
			err := m.queue.TryEnqueue(jobs.Job{ID: tick.UTC().Format(time.RFC3339), Type: JobTypeAvailabilityRefresh})
			if errors.Is(err, jobs.ErrQueueFull) {
				m.logger.Debug("availability refresh still running, tick skipped")
			} else if err != nil {
				m.logger.Warn("availability refresh not scheduled", zap.Error(err))
			}
		}
	}
}

// Stop halts the ticker and the refresh worker.
func (m *AvailabilityMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.queue.Stop()
}

func (m *AvailabilityMonitor) handle(ctx context.Context, job jobs.Job) error {
	m.Refresh(ctx)
	return nil
}

// Refresh probes the store and cache and recomputes the open meal types.
func (m *AvailabilityMonitor) Refresh(ctx context.Context) models.AvailabilitySnapshot {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m.mu.RLock()
	next := m.snap
	m.mu.RUnlock()
	next.CheckedAt = m.clock.Current()

	next.DatabaseOK = true
	if m.db != nil {
		if err := m.db.PingContext(probeCtx); err != nil {
			next.DatabaseOK = false
			m.logger.Warn("database unreachable", zap.Error(err))
		}
	}
	next.CacheOK = true
	if m.cache != nil {
		if err := m.cache.Ping(probeCtx); err != nil {
			next.CacheOK = false
			m.logger.Warn("cache unreachable", zap.Error(err))
		}
	}

	next.Online = next.DatabaseOK
	if types, err := m.mealTypes.ListActive(probeCtx); err != nil {
		next.Online = false
		m.logger.Warn("meal types not refreshed", zap.Error(err))
	} else {
		next.OpenMealTypes = models.OpenMealTypes(types, timewindow.FromTime(next.CheckedAt))
	}
	if next.OpenMealTypes == nil {
		next.OpenMealTypes = []models.MealType{}
	}

	m.mu.Lock()
	m.snap = next
	m.mu.Unlock()
	m.metrics.SetAvailability(next.Online, len(next.OpenMealTypes))
	return next
}

// Snapshot returns the latest probe result. CheckedAt is zero before the first refresh.
func (m *AvailabilityMonitor) Snapshot() models.AvailabilitySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snap
	snap.OpenMealTypes = make([]models.MealType, len(m.snap.OpenMealTypes))
	copy(snap.OpenMealTypes, m.snap.OpenMealTypes)
	return snap
}
