package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"property-sync/models"
	"property-sync/services"
)

var (
	// SyncsTotal tracks dataset sync attempts by status
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "property_sync",
			Subsystem: "ingest",
			Name:      "syncs_total",
			Help:      "Total number of dataset sync attempts by status",
		},
		[]string{"status"},
	)

	// SyncDuration tracks how long a sync attempt took
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "property_sync",
			Subsystem: "ingest",
			Name:      "sync_duration_seconds",
			Help:      "Duration of dataset sync attempts in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// DatasetProperties is the size of the last successfully synced dataset
	DatasetProperties = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "property_sync",
			Subsystem: "ingest",
			Name:      "dataset_properties",
			Help:      "Number of properties in the current dataset",
		},
	)

	// RowsDropped counts rows dropped during normalization by reason
	RowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "property_sync",
			Subsystem: "ingest",
			Name:      "rows_dropped_total",
			Help:      "Total number of dataset rows dropped by reason",
		},
		[]string{"reason"},
	)

	// ResolutionsTotal tracks selection resolutions by outcome and stage
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "property_sync",
			Subsystem: "selection",
			Name:      "resolutions_total",
			Help:      "Total number of selection resolutions by outcome and matching stage",
		},
		[]string{"outcome", "stage"},
	)

	// HTTPRequestsTotal tracks inbound API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "property_sync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)
)

// ObserveSync records one sync attempt. It matches ingest.WithObserver.
func ObserveSync(res models.IngestResult, elapsed time.Duration) {
	SyncDuration.Observe(elapsed.Seconds())
	if !res.Success {
		SyncsTotal.WithLabelValues("failed").Inc()
		return
	}
	SyncsTotal.WithLabelValues("success").Inc()
	DatasetProperties.Set(float64(res.Count))
	RowsDropped.WithLabelValues("skipped").Add(float64(res.Skipped))
	RowsDropped.WithLabelValues("duplicate").Add(float64(res.Duplicates))
}

func observeResolution(res services.Resolution) {
	stage := string(res.Stage)
	if stage == "" {
		stage = "none"
	}
	ResolutionsTotal.WithLabelValues(string(res.Outcome), stage).Inc()
}

func observeRequest(method, route string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
