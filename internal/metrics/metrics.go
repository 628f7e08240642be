// Package metrics holds the prometheus collectors for sync and intake.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/intake"
	"github.com/steveyegge/docgallery/internal/remote"
	"github.com/steveyegge/docgallery/internal/sync"
)

const namespace = "docgallery"

// Metrics is a set of collectors on its own registry. It observes sync
// cycles through the sync.Observer hooks.
type Metrics struct {
	reg *prometheus.Registry

	SyncTotal      *prometheus.CounterVec
	SyncDuration   prometheus.Histogram
	SyncState      prometheus.Gauge
	RemoteErrors   *prometheus.CounterVec
	LastSuccess    prometheus.Gauge
	Documents      prometheus.Gauge
	Images         prometheus.Gauge
	IntakeFiles    *prometheus.CounterVec
	DocsOverridden prometheus.Counter
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		SyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "sync_total", Help: "Sync cycles by backend and outcome."},
			[]string{"backend", "outcome"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Namespace: namespace, Name: "sync_duration_seconds", Help: "Duration of completed sync cycles.", Buckets: prometheus.DefBuckets},
		),
		SyncState: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "sync_state", Help: "Current sync state (0 idle, 1 fetching, 2 merging, 3 persisting, 4 writing)."},
		),
		RemoteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "remote_errors_total", Help: "Failed sync cycles by remote error kind."},
			[]string{"kind"},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "sync_last_success_timestamp_seconds", Help: "Unix time of the last successful sync."},
		),
		Documents: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "documents", Help: "Documents in the collection."},
		),
		Images: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "images", Help: "Images across all documents."},
		),
		IntakeFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "intake_files_total", Help: "Files submitted for intake by result."},
			[]string{"result"},
		),
		DocsOverridden: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "merge_remote_wins_total", Help: "Documents taken from the remote during merges."},
		),
	}

	m.reg.MustRegister(
		m.SyncTotal, m.SyncDuration, m.SyncState, m.RemoteErrors, m.LastSuccess,
		m.Documents, m.Images, m.IntakeFiles, m.DocsOverridden,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// OnState implements sync.Observer.
func (m *Metrics) OnState(s sync.State) {
	m.SyncState.Set(float64(s))
}

// OnComplete implements sync.Observer.
func (m *Metrics) OnComplete(res *sync.Result, err error) {
	backend := "none"
	if res != nil {
		backend = res.Backend
		m.SyncDuration.Observe(res.Duration().Seconds())
		m.DocsOverridden.Add(float64(len(res.Overwritten)))
	}

	if err != nil {
		m.SyncTotal.WithLabelValues(backend, outcome(err)).Inc()
		var re *remote.Error
		if errors.As(err, &re) {
			m.RemoteErrors.WithLabelValues(re.Kind.String()).Inc()
		}
		return
	}
	m.SyncTotal.WithLabelValues(backend, "success").Inc()
	if res != nil {
		m.LastSuccess.Set(float64(res.FinishedAt.Unix()))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case remote.IsRejected(err):
		return "rejected"
	case remote.IsUnavailable(err):
		return "unavailable"
	case remote.IsMalformed(err):
		return "malformed"
	}
	return "error"
}

// ObserveCollection updates the collection gauges.
func (m *Metrics) ObserveCollection(c gallery.Collection) {
	m.Documents.Set(float64(len(c)))
	m.Images.Set(float64(c.ImageCount()))
}

// ObserveBatch counts the files of an intake batch.
func (m *Metrics) ObserveBatch(b *intake.Batch) {
	if b == nil {
		return
	}
	m.IntakeFiles.WithLabelValues("added").Add(float64(len(b.Added)))
	m.IntakeFiles.WithLabelValues("failed").Add(float64(len(b.Failed)))
}
