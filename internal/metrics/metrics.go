package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"beyondgd/internal/model"
)

const namespace = "beyondgd"

// Metrics holds the training collectors on a private registry so several
// trainers in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	epochs        *prometheus.CounterVec
	runs          *prometheus.CounterVec
	avgTrain      *prometheus.GaugeVec
	bestTrain     *prometheus.GaugeVec
	bestDev       *prometheus.GaugeVec
	epochDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reported_epochs_total",
			Help:      "Epoch reports emitted per task.",
		}, []string{"task"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished training runs by outcome.",
		}, []string{"outcome"}),
		avgTrain: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "population_avg_train_fitness",
			Help:      "Average training fitness of the last reported population.",
		}, []string{"task"}),
		bestTrain: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_train_fitness",
			Help:      "Training fitness of the best entity at the last report.",
		}, []string{"task"}),
		bestDev: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_dev_fitness",
			Help:      "Best development-set fitness at the last report.",
		}, []string{"task"}),
		epochDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "epoch_duration_seconds",
			Help:      "Wall time of reported epochs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"task"}),
	}
	m.registry.MustRegister(m.epochs, m.runs, m.avgTrain, m.bestTrain, m.bestDev, m.epochDuration)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Report records one epoch report.
func (m *Metrics) Report(r model.EpochReport) error {
	m.epochs.WithLabelValues(r.Task).Inc()
	m.avgTrain.WithLabelValues(r.Task).Set(r.AvgTrain)
	m.bestTrain.WithLabelValues(r.Task).Set(r.BestTrain)
	m.bestDev.WithLabelValues(r.Task).Set(r.BestDev)
	m.epochDuration.WithLabelValues(r.Task).Observe((time.Duration(r.DurationMS) * time.Millisecond).Seconds())
	return nil
}

// RunFinished counts a run as "ok" or "error".
func (m *Metrics) RunFinished(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(outcome).Inc()
}
