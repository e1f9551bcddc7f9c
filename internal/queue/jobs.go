package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ReconcileDocumentTask is scheduled when a metadata insert fails after
	// the blob was already written.
	ReconcileDocumentTask = "document:reconcile"
)

// ReconcilePayload tells the worker which blob may be orphaned.
type ReconcilePayload struct {
	DocumentID string `json:"document_id"`
	StorageKey string `json:"storage_key"`
	Bucket     string `json:"bucket"`
}

// EnqueueReconcile enqueues a reconcile sweep for one document. The delay
// gives a briefly unavailable metadata store a chance to recover before the
// worker decides the blob is orphaned.
func EnqueueReconcile(ctx context.Context, client *asynq.Client, payload ReconcilePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ReconcileDocumentTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5), asynq.ProcessIn(time.Minute)); err != nil {
		return fmt.Errorf("enqueue reconcile task: %w", err)
	}
	return nil
}

// Client adapts asynq to the narrow interface the API server depends on.
type Client struct {
	inner *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueueReconcile implements the api.OrphanQueue interface.
func (c *Client) EnqueueReconcile(ctx context.Context, documentID, storageKey, bucket string) error {
	return EnqueueReconcile(ctx, c.inner, ReconcilePayload{
		DocumentID: documentID,
		StorageKey: storageKey,
		Bucket:     bucket,
	})
}
