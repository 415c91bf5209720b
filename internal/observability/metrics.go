package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/macsched/internal/logging"
)

// SchedCollector exposes carrier scheduler Prometheus metrics. All observe
// helpers are nil-safe so a nil collector disables collection.
type SchedCollector struct {
	gatherer prometheus.Gatherer

	TTIGenerationDuration prometheus.Histogram
	SIBTransmissions      prometheus.Counter
	PagingAllocations     prometheus.Counter
	RARsScheduled         prometheus.Counter
	RARsExpired           prometheus.Counter
	Msg3Enqueued          prometheus.Counter
	Msg3Dropped           prometheus.Counter
	PucchCollisions       prometheus.Counter
	PendingRARs           prometheus.Gauge
}

// NewSchedCollector registers scheduler metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSchedCollector(reg prometheus.Registerer) (*SchedCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ttiHist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sched_tti_generation_duration_seconds",
		Help:    "Duration of one TTI result generation, including all sub-scheduler and engine calls.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	})
	ttiHist, err := registerHistogram(reg, ttiHist, "sched_tti_generation_duration_seconds")
	if err != nil {
		return nil, err
	}

	c := &SchedCollector{
		gatherer:              gatherer,
		TTIGenerationDuration: ttiHist,
	}

	counters := []struct {
		target *prometheus.Counter
		name   string
		help   string
	}{
		{&c.SIBTransmissions, "sched_sib_transmissions_total", "Cumulative SIB transmissions allocated."},
		{&c.PagingAllocations, "sched_paging_allocations_total", "Cumulative paging allocations."},
		{&c.RARsScheduled, "sched_rars_scheduled_total", "Pending RARs fully scheduled within their window."},
		{&c.RARsExpired, "sched_rars_expired_total", "Pending RARs dropped because their response window elapsed."},
		{&c.Msg3Enqueued, "sched_msg3_enqueued_total", "Msg3 grants deferred into a future TTI slot."},
		{&c.Msg3Dropped, "sched_msg3_dropped_total", "Msg3 grants dropped (missing user, full slot, or failed allocation)."},
		{&c.PucchCollisions, "sched_pucch_collisions_total", "Detected overlaps between the UL mask and the static PUCCH mask."},
	}
	for _, spec := range counters {
		counter := prometheus.NewCounter(prometheus.CounterOpts{Name: spec.name, Help: spec.help})
		counter, err = registerCounter(reg, counter, spec.name)
		if err != nil {
			return nil, err
		}
		*spec.target = counter
	}

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sched_pending_rars",
		Help: "Number of random access replies currently queued.",
	})
	pending, err = registerGauge(reg, pending, "sched_pending_rars")
	if err != nil {
		return nil, err
	}
	c.PendingRARs = pending

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTTIGeneration records one TTI generation duration in seconds.
func (c *SchedCollector) ObserveTTIGeneration(seconds float64) {
	if c == nil || c.TTIGenerationDuration == nil {
		return
	}
	c.TTIGenerationDuration.Observe(seconds)
}

// IncSIBTx increments the SIB transmission counter.
func (c *SchedCollector) IncSIBTx() {
	if c == nil || c.SIBTransmissions == nil {
		return
	}
	c.SIBTransmissions.Inc()
}

// IncPagingAlloc increments the paging allocation counter.
func (c *SchedCollector) IncPagingAlloc() {
	if c == nil || c.PagingAllocations == nil {
		return
	}
	c.PagingAllocations.Inc()
}

// IncRARScheduled increments the fully-scheduled RAR counter.
func (c *SchedCollector) IncRARScheduled() {
	if c == nil || c.RARsScheduled == nil {
		return
	}
	c.RARsScheduled.Inc()
}

// IncRARExpired increments the expired RAR counter.
func (c *SchedCollector) IncRARExpired() {
	if c == nil || c.RARsExpired == nil {
		return
	}
	c.RARsExpired.Inc()
}

// IncMsg3Enqueued increments the deferred Msg3 counter.
func (c *SchedCollector) IncMsg3Enqueued() {
	if c == nil || c.Msg3Enqueued == nil {
		return
	}
	c.Msg3Enqueued.Inc()
}

// IncMsg3Dropped increments the dropped Msg3 counter.
func (c *SchedCollector) IncMsg3Dropped() {
	if c == nil || c.Msg3Dropped == nil {
		return
	}
	c.Msg3Dropped.Inc()
}

// IncPucchCollision increments the PUCCH collision counter.
func (c *SchedCollector) IncPucchCollision() {
	if c == nil || c.PucchCollisions == nil {
		return
	}
	c.PucchCollisions.Inc()
}

// SetPendingRARs updates the pending RAR gauge.
func (c *SchedCollector) SetPendingRARs(n int) {
	if c == nil || c.PendingRARs == nil {
		return
	}
	c.PendingRARs.Set(float64(n))
}

// ServeMetrics runs a /metrics HTTP endpoint for the given gatherer until the
// context is cancelled.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info(ctx, "metrics endpoint listening", logging.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
