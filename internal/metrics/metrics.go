package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the document store.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	StoreRequests   *prometheus.CounterVec   // docvault_store_requests_total{operation,status}
	StoreDuration   *prometheus.HistogramVec // docvault_store_request_duration_seconds{operation}
	BytesUploaded   prometheus.Counter       // docvault_store_bytes_uploaded_total
	VersionsCreated *prometheus.CounterVec   // docvault_versions_created_total{kind}
	BulkFiles       *prometheus.CounterVec   // docvault_bulk_files_total{status}
	Deletes         *prometheus.CounterVec   // docvault_file_deletes_total{status}
}

// New registers the collectors with the given registerer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		StoreRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_store_requests_total",
			Help: "Object store requests by operation and status",
		}, []string{"operation", "status"}),

		StoreDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docvault_store_request_duration_seconds",
			Help:    "Object store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "docvault_store_bytes_uploaded_total",
			Help: "Total bytes written to the object store",
		}),

		VersionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_versions_created_total",
			Help: "File versions committed to the ledger by kind (upload, rollback)",
		}, []string{"kind"}),

		BulkFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_bulk_files_total",
			Help: "Files processed by bulk uploads by outcome",
		}, []string{"status"}),

		Deletes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_file_deletes_total",
			Help: "File deletions by outcome",
		}, []string{"status"}),
	}
}

// ObserveStore records one object store call. errp points at the caller's
// named error result so it can be used directly in a defer.
func (m *Metrics) ObserveStore(operation string, started time.Time, errp *error) {
	if m == nil {
		return
	}
	status := "ok"
	if errp != nil && *errp != nil {
		status = "error"
	}
	m.StoreRequests.WithLabelValues(operation, status).Inc()
	m.StoreDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AddUploadedBytes(n int64) {
	if m == nil {
		return
	}
	m.BytesUploaded.Add(float64(n))
}

func (m *Metrics) VersionCreated(kind string) {
	if m == nil {
		return
	}
	m.VersionsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) BulkFile(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	m.BulkFiles.WithLabelValues(status).Inc()
}

func (m *Metrics) Delete(status string) {
	if m == nil {
		return
	}
	m.Deletes.WithLabelValues(status).Inc()
}
