// Package metrics exports guest thread activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/caffeineduck/gorux/pthread"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector is a pthread.Observer that records lifecycle events. One
// Collector can observe any number of managers.
type Collector struct {
	events  *prometheus.CounterVec
	live    prometheus.Gauge
	runtime prometheus.Histogram
}

var _ pthread.Observer = (*Collector)(nil)

// New creates an unregistered Collector.
func New() *Collector {
	return &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gorux_thread_events_total",
			Help: "Total number of guest thread lifecycle events by kind",
		}, []string{"event"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gorux_threads_live",
			Help: "Current number of running guest threads",
		}),
		runtime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gorux_thread_run_seconds",
			Help:    "Time guest threads spent running",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

// Register adds the collector's metrics to r.
func (c *Collector) Register(r prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{c.events, c.live, c.runtime} {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) ThreadEvent(ev pthread.Event, _ uint32, d time.Duration) {
	c.events.WithLabelValues(ev.String()).Inc()
	switch ev {
	case pthread.EventCreated:
		c.live.Inc()
	case pthread.EventExited:
		c.live.Dec()
		c.runtime.Observe(d.Seconds())
	}
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
