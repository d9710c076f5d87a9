package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

const credentialColumns = `id, name, secret_ref, connected, activated, workspace_id, workspace_name, last_validated, created_at`

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Insert adds a new credential. The connected/activated pair is written as given
// and rejected by the table's CHECK constraint if it breaks activated => connected.
func (r *CredentialRepo) Insert(ctx context.Context, cred model.Credential) error {
	const query = `INSERT INTO credentials (` + credentialColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		cred.ID, cred.Name, cred.SecretRef,
		boolToInt(cred.Connected), boolToInt(cred.Activated),
		nullString(cred.WorkspaceID), nullString(cred.WorkspaceName),
		nullTime(cred.LastValidated), formatTime(createdAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("insert credential %q: %w", cred.ID, driven.ErrCredentialExists)
		}
		return fmt.Errorf("insert credential %q: %w", cred.ID, err)
	}

	return nil
}

// Get retrieves a credential by id. Returns nil, nil if it does not exist.
func (r *CredentialRepo) Get(ctx context.Context, id string) (*model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`

	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", id, err)
	}

	return cred, nil
}

// ListAll returns every credential in creation order.
func (r *CredentialRepo) ListAll(ctx context.Context) ([]model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials ORDER BY created_at, id`
	return r.queryCredentials(ctx, query)
}

// ListActivated returns every activated credential in creation order.
func (r *CredentialRepo) ListActivated(ctx context.Context) ([]model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials WHERE activated = 1 ORDER BY created_at, id`
	return r.queryCredentials(ctx, query)
}

// MarkValidated records a successful validation.
func (r *CredentialRepo) MarkValidated(ctx context.Context, id string, identity model.Identity, at time.Time) error {
	const query = `
		UPDATE credentials SET
			connected = 1,
			last_validated = ?,
			workspace_id = COALESCE(?, workspace_id),
			workspace_name = COALESCE(?, workspace_name)
		WHERE id = ?
	`
	return r.execOne(ctx, "mark credential validated", id, query,
		formatTime(at), nullString(identity.WorkspaceID), nullString(identity.WorkspaceName), id)
}

// MarkDisconnected clears connected and demotes activated in one statement, so
// no reader can observe an activated but disconnected row.
func (r *CredentialRepo) MarkDisconnected(ctx context.Context, id string) error {
	const query = `UPDATE credentials SET connected = 0, activated = 0 WHERE id = ?`
	return r.execOne(ctx, "mark credential disconnected", id, query, id)
}

// MarkConnected sets connected without recording a validation.
func (r *CredentialRepo) MarkConnected(ctx context.Context, id string) error {
	const query = `UPDATE credentials SET connected = 1 WHERE id = ?`
	return r.execOne(ctx, "mark credential connected", id, query, id)
}

// ToggleActivation flips activated for a connected credential. A disconnected
// credential is left untouched and reported as unchanged.
func (r *CredentialRepo) ToggleActivation(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE credentials SET activated = 1 - activated WHERE id = ? AND connected = 1`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("toggle activation %q: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	existing, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("toggle activation %q: %w", id, driven.ErrCredentialNotFound)
	}
	return false, nil
}

// Delete removes a credential and its collection access. Owned collections
// are handed to another credential that can see them, or left in place.
// Widget configurations are not touched.
func (r *CredentialRepo) Delete(ctx context.Context, id string) error {
	const deleteQuery = `DELETE FROM credentials WHERE id = ?`

	// Collections another credential still sees move to that credential;
	// the rest stay with their widget fields and items intact.
	const reassignQuery = `
		UPDATE collections SET credential_id = (
			SELECT credential_id FROM collection_access
			WHERE collection_id = collections.id
			ORDER BY credential_id LIMIT 1
		)
		WHERE credential_id = ?
		  AND EXISTS (SELECT 1 FROM collection_access WHERE collection_id = collections.id)
	`
	const reassignItemsQuery = `
		UPDATE items SET credential_id = (
			SELECT credential_id FROM collections WHERE id = items.parent_collection_id
		)
		WHERE credential_id = ?
	`

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, deleteQuery, id)
		if err != nil {
			return fmt.Errorf("delete credential %q: %w", id, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("delete credential %q: %w", id, driven.ErrCredentialNotFound)
		}

		if _, err := tx.ExecContext(ctx, reassignQuery, id); err != nil {
			return fmt.Errorf("reassign collections of %q: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, reassignItemsQuery, id); err != nil {
			return fmt.Errorf("reassign items of %q: %w", id, err)
		}
		return nil
	})
}

// execOne runs a single-row update and maps zero affected rows to ErrCredentialNotFound.
func (r *CredentialRepo) execOne(ctx context.Context, op, id, query string, args ...any) error {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%s %q: %w", op, id, driven.ErrCredentialNotFound)
	}

	return nil
}

func (r *CredentialRepo) queryCredentials(ctx context.Context, query string, args ...any) ([]model.Credential, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

func scanCredential(s scanner) (*model.Credential, error) {
	var cred model.Credential
	var connected, activated int
	var workspaceID, workspaceName, lastValidated sql.NullString
	var createdAt string

	err := s.Scan(
		&cred.ID, &cred.Name, &cred.SecretRef, &connected, &activated,
		&workspaceID, &workspaceName, &lastValidated, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	cred.Connected = connected != 0
	cred.Activated = activated != 0
	cred.WorkspaceID = workspaceID.String
	cred.WorkspaceName = workspaceName.String

	cred.LastValidated, err = parseNullTime(lastValidated)
	if err != nil {
		return nil, fmt.Errorf("parse last_validated: %w", err)
	}

	cred.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &cred, nil
}
