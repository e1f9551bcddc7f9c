package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myrespondr/orgdocs/internal/apperr"
)

// DocumentRecord represents a row in organization_documents. The row is the
// durable proof of a completed two-phase write: it is inserted only after the
// blob at StoragePath was written successfully, and is never updated.
type DocumentRecord struct {
	ID          string    `json:"document_id"`
	UserID      *string   `json:"user_id"`
	OrgID       *string   `json:"org_id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	Bucket      string    `json:"bucket"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentRepository wraps all SQL touching organization_documents.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// Create inserts one record after the blob write succeeded.
func (r *DocumentRepository) Create(ctx context.Context, doc *DocumentRecord) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO organization_documents
			(document_id, user_id, org_id, filename, storage_path, bucket, content_type, size_bytes, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, doc.ID, doc.UserID, doc.OrgID, doc.Filename, doc.StoragePath, doc.Bucket, doc.ContentType, doc.SizeBytes, doc.Description, doc.CreatedAt)
	if err != nil {
		return classify("insert document", err)
	}
	return nil
}

// Get returns a record by document id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*DocumentRecord, error) {
	var doc DocumentRecord
	row := r.pool.QueryRow(ctx, `
		SELECT document_id, user_id, org_id, filename, storage_path, bucket, content_type, size_bytes, description, created_at
		FROM organization_documents WHERE document_id=$1
	`, id)
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.OrgID, &doc.Filename, &doc.StoragePath, &doc.Bucket, &doc.ContentType, &doc.SizeBytes, &doc.Description, &doc.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("document not found")
		}
		return nil, classify("select document", err)
	}
	return &doc, nil
}

// ListByOrg returns the newest records for one organization.
func (r *DocumentRepository) ListByOrg(ctx context.Context, orgID string, limit int) ([]DocumentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT document_id, user_id, org_id, filename, storage_path, bucket, content_type, size_bytes, description, created_at
		FROM organization_documents WHERE org_id=$1
		ORDER BY created_at DESC LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, classify("select documents", err)
	}
	defer rows.Close()
	var docs []DocumentRecord
	for rows.Next() {
		var doc DocumentRecord
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.OrgID, &doc.Filename, &doc.StoragePath, &doc.Bucket, &doc.ContentType, &doc.SizeBytes, &doc.Description, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("select documents", err)
	}
	return docs, nil
}

const pgUndefinedTable = "42P01"

// classify separates "the table was never provisioned" from "the backend is
// unreachable" from plain SQL failures, so the handler can report the
// operator-actionable variant.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUndefinedTable {
			return apperr.SchemaMissing("organization_documents table is missing; create it (see internal/database.EnsureSchema) before serving uploads")
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperr.StoreUnavailable("metadata store unreachable", fmt.Errorf("%s: %w", op, err))
}
