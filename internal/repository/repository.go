package repository

import (
	"context"

	"github.com/sakif/gitlink/internal/model"
)

// CredentialRepository persists one installation credential per user.
type CredentialRepository interface {
	// Upsert atomically inserts or overwrites the user's credential.
	// Last committed write wins; the token pair is never partially written.
	Upsert(ctx context.Context, cred *model.InstallationCredential) error

	// GetByUserID returns the user's credential, or an error wrapping
	// apperror.ErrNotFound if the user has no linked installation.
	GetByUserID(ctx context.Context, userID string) (*model.InstallationCredential, error)

	// Delete removes the user's credential. Deleting a non-existent record
	// is not an error.
	Delete(ctx context.Context, userID string) error
}
