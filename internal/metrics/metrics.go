// Package metrics registers the service's prometheus collectors. The orphan
// counter is the observable trace of a phase-2 failure: the blob exists but
// no metadata row records it, and nothing rolls that back automatically.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UploadsTotal counts upload attempts by terminal status.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orgdocs_uploads_total",
		Help: "Upload attempts by outcome.",
	}, []string{"status"})

	// OrphanedBlobsTotal counts blobs written whose metadata insert failed.
	OrphanedBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orgdocs_orphaned_blobs_total",
		Help: "Blobs stored without a matching metadata row.",
	})

	// ReconciledBlobsTotal counts orphaned blobs removed by the sweep.
	ReconciledBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orgdocs_reconciled_blobs_total",
		Help: "Orphaned blobs removed by the reconcile worker.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
