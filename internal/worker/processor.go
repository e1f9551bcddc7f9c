package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/myrespondr/orgdocs/internal/apperr"
	"github.com/myrespondr/orgdocs/internal/blobstore"
	"github.com/myrespondr/orgdocs/internal/metrics"
	"github.com/myrespondr/orgdocs/internal/queue"
	"github.com/myrespondr/orgdocs/internal/repository"
)

// DocumentFinder is the slice of the repository the sweep needs.
type DocumentFinder interface {
	Get(ctx context.Context, id string) (*repository.DocumentRecord, error)
}

// Processor handles reconcile tasks: it removes blobs whose metadata insert
// never landed. The sweep is idempotent; re-running it for a recorded
// document is a no-op.
type Processor struct {
	repo  DocumentFinder
	store blobstore.Store
}

// NewProcessor constructs a worker processor.
func NewProcessor(repo DocumentFinder, store blobstore.Store) *Processor {
	return &Processor{repo: repo, store: store}
}

// Handler registers the reconcile job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ReconcileDocumentTask, p.handleReconcile)
	return mux
}

func (p *Processor) handleReconcile(ctx context.Context, task *asynq.Task) error {
	var payload queue.ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	_, err := p.repo.Get(ctx, payload.DocumentID)
	if err == nil {
		// The row landed after all; the blob is referenced and must stay.
		log.Printf("reconcile %s: metadata row present, keeping blob %s", payload.DocumentID, payload.StorageKey)
		return nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return fmt.Errorf("check document %s: %w", payload.DocumentID, err)
	}
	if err := p.store.Remove(ctx, payload.StorageKey); err != nil {
		return fmt.Errorf("remove orphaned blob %s: %w", payload.StorageKey, err)
	}
	metrics.ReconciledBlobsTotal.Inc()
	log.Printf("reconcile %s: removed orphaned blob bucket=%s key=%s", payload.DocumentID, payload.Bucket, payload.StorageKey)
	return nil
}
