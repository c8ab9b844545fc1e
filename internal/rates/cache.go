package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	rateValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_native_rate",
		Help: "Last fetched price of one native coin in cash units",
	})

	rateRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rate_refresh_total",
		Help: "Rate refresh attempts, labeled by outcome",
	}, []string{"outcome"})

	rateStaleServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_rate_stale_served_total",
		Help: "Times a stale rate was served because the refresh failed",
	})
)

// Source fetches the current rate from upstream.
type Source interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// SnapshotStore persists the last fetched rate.
type SnapshotStore interface {
	LoadRate(ctx context.Context) (domain.RateSnapshot, bool, error)
	SaveRate(ctx context.Context, snap domain.RateSnapshot) error
}

// Cache serves the native-to-cash rate. The snapshot lives in the store so
// every process sees the same value.
type Cache struct {
	source Source
	store  SnapshotStore
	ttl    time.Duration
	now    func() time.Time
}

func NewCache(source Source, store SnapshotStore, ttl time.Duration) *Cache {
	return &Cache{source: source, store: store, ttl: ttl, now: time.Now}
}

// Rate returns a fresh rate if the snapshot is younger than the TTL, else
// refreshes it. When the refresh fails the last known rate is served. With
// no snapshot at all it fails with domain.ErrRateUnavailable.
func (c *Cache) Rate(ctx context.Context) (decimal.Decimal, error) {
	snap, ok, err := c.store.LoadRate(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not load rate snapshot")
		ok = false
	}
	if ok && snap.Fresh(c.now(), c.ttl) {
		return snap.Value, nil
	}

	fresh, err := c.refresh(ctx)
	if err == nil {
		return fresh.Value, nil
	}
	if ok {
		rateStaleServed.Inc()
		log.WithError(err).WithFields(log.Fields{
			"rate":       snap.Value.String(),
			"fetched_at": snap.FetchedAt,
		}).Warn("Rate refresh failed, serving stale rate")
		return snap.Value, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
}

// Snapshot returns the stored snapshot without refreshing.
func (c *Cache) Snapshot(ctx context.Context) (domain.RateSnapshot, bool, error) {
	return c.store.LoadRate(ctx)
}

// Refresh fetches and stores a new rate regardless of age.
func (c *Cache) Refresh(ctx context.Context) error {
	snap, err := c.refresh(ctx)
	if err != nil {
		return err
	}
	log.WithField("rate", snap.Value.String()).Info("Rate refreshed")
	return nil
}

func (c *Cache) refresh(ctx context.Context) (domain.RateSnapshot, error) {
	value, err := c.source.FetchRate(ctx)
	if err != nil {
		rateRefreshTotal.WithLabelValues("error").Inc()
		return domain.RateSnapshot{}, fmt.Errorf("fetch rate: %w", err)
	}
	snap := domain.RateSnapshot{Value: value, FetchedAt: c.now()}
	if err := c.store.SaveRate(ctx, snap); err != nil {
		rateRefreshTotal.WithLabelValues("error").Inc()
		return domain.RateSnapshot{}, fmt.Errorf("save rate: %w", err)
	}
	rateRefreshTotal.WithLabelValues("ok").Inc()
	rateValue.Set(value.InexactFloat64())
	return snap, nil
}
