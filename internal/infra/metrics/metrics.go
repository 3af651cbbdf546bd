// Package metrics exposes player counters over Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
)

const namespace = "zulubox"

// Metrics holds the player collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	tracks       *prometheus.CounterVec
	commands     *prometheus.CounterVec
	cleanupFiles *prometheus.CounterVec
	cleanupBytes prometheus.Counter
	queueLength  prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tracks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_total",
			Help:      "Track lifecycle events by kind (queued, started, ended, failed, rejected).",
		}, []string{"event"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Player commands by name and outcome.",
		}, []string{"command", "outcome"}),
		cleanupFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_files_total",
			Help:      "Files handled by cleanup passes by result.",
		}, []string{"result"}),
		cleanupBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_freed_bytes_total",
			Help:      "Bytes freed by cleanup passes.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Tracks waiting to be played.",
		}),
	}

	m.registry.MustRegister(
		m.tracks,
		m.commands,
		m.cleanupFiles,
		m.cleanupBytes,
		m.queueLength,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// TrackEvent counts a track lifecycle event.
func (m *Metrics) TrackEvent(event string) {
	m.tracks.WithLabelValues(event).Inc()
}

// SetQueueLength records the number of pending tracks.
func (m *Metrics) SetQueueLength(n int) {
	m.queueLength.Set(float64(n))
}

// Command counts a player command.
func (m *Metrics) Command(name string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.commands.WithLabelValues(name, outcome).Inc()
}

// Cleanup records the outcome of a cleanup pass.
func (m *Metrics) Cleanup(deleted, failed int, freed int64) {
	m.cleanupFiles.WithLabelValues("deleted").Add(float64(deleted))
	m.cleanupFiles.WithLabelValues("failed").Add(float64(failed))
	m.cleanupBytes.Add(float64(freed))
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve serves /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting metrics server: addr=%s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "metrics server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shutdown metrics server")
	}
	zlog.Info().Msg("Metrics server stopped")
	return nil
}
