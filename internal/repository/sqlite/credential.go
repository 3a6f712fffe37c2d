package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/gitlink/internal/apperror"
	"github.com/sakif/gitlink/internal/model"
	"github.com/sakif/gitlink/internal/repository"
)

// compile-time check that *DB implements repository.CredentialRepository
var _ repository.CredentialRepository = (*DB)(nil)

// Upsert inserts or overwrites the user's credential in a single statement.
//
// ON CONFLICT(user_id) DO UPDATE is deliberate: one statement means the
// installation id and both tokens land together or not at all, and concurrent
// upserts for the same user degrade to "last committed write wins" with no
// read-modify-write window. The existing row keeps its internal id and
// created_at; only the linked installation and tokens move.
func (db *DB) Upsert(ctx context.Context, cred *model.InstallationCredential) error {
	now := time.Now()
	if cred.ID == "" {
		cred.ID = xid.New().String()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO installation_credentials
		     (id, user_id, installation_id, access_token, refresh_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     installation_id = excluded.installation_id,
		     access_token    = excluded.access_token,
		     refresh_token   = excluded.refresh_token,
		     updated_at      = excluded.updated_at`,
		cred.ID,
		cred.UserID,
		cred.InstallationID,
		cred.AccessToken,
		cred.RefreshToken,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting credential for user %s: %w", cred.UserID, err)
	}

	// Read the canonical row back so the caller sees the id and timestamps
	// that actually persisted (the update path keeps the original id).
	err = db.conn.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM installation_credentials WHERE user_id = ?`,
		cred.UserID,
	).Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: reading back credential for user %s: %w", cred.UserID, err)
	}

	return nil
}

// GetByUserID retrieves the user's credential.
// Returns apperror.NotLinked if the user has no linked installation.
func (db *DB) GetByUserID(ctx context.Context, userID string) (*model.InstallationCredential, error) {
	var c model.InstallationCredential

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, installation_id, access_token, refresh_token, created_at, updated_at
		 FROM installation_credentials WHERE user_id = ?`,
		userID,
	).Scan(
		&c.ID,
		&c.UserID,
		&c.InstallationID,
		&c.AccessToken,
		&c.RefreshToken,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotLinked(userID)
		}
		return nil, fmt.Errorf("sqlite: getting credential for user %s: %w", userID, err)
	}

	return &c, nil
}

// Delete removes the user's credential. A missing row is not an error, which
// makes uninstall idempotent for free.
func (db *DB) Delete(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM installation_credentials WHERE user_id = ?`, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting credential for user %s: %w", userID, err)
	}
	return nil
}
