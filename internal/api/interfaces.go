package api

import (
	"context"

	"github.com/myrespondr/orgdocs/internal/identity"
	"github.com/myrespondr/orgdocs/internal/repository"
)

// DocumentRepo persists and reads document metadata rows.
type DocumentRepo interface {
	Create(ctx context.Context, doc *repository.DocumentRecord) error
	Get(ctx context.Context, id string) (*repository.DocumentRecord, error)
	ListByOrg(ctx context.Context, orgID string, limit int) ([]repository.DocumentRecord, error)
}

// ProfileReader resolves a user's organization from the profile table.
type ProfileReader interface {
	OrgID(ctx context.Context, userID string) (string, error)
}

// IdentityProvider authenticates credentials and validates bearer tokens.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	User(ctx context.Context, token string) (*identity.User, error)
}

// OrphanQueue schedules reconcile sweeps for blobs whose metadata insert
// failed.
type OrphanQueue interface {
	EnqueueReconcile(ctx context.Context, documentID, storageKey, bucket string) error
}
