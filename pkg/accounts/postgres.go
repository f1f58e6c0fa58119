package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code raised when an insert hits
// the unique index on (provider, provider_user_id).
const uniqueViolation = "23505"

// PostgresStore persists accounts and provider links in Postgres.
//
// Schema:
//
//	CREATE TABLE accounts (
//	    id               TEXT PRIMARY KEY,
//	    email            TEXT,
//	    first_name       TEXT NOT NULL DEFAULT '',
//	    last_name        TEXT NOT NULL DEFAULT '',
//	    display_name     TEXT NOT NULL DEFAULT '',
//	    role             TEXT NOT NULL DEFAULT '',
//	    primary_provider TEXT NOT NULL DEFAULT '',
//	    is_active        BOOLEAN NOT NULL DEFAULT true,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL,
//	    last_login_at    TIMESTAMPTZ
//	);
//	CREATE UNIQUE INDEX accounts_email_idx ON accounts (lower(email)) WHERE email <> '';
//
//	CREATE TABLE provider_links (
//	    account_id       TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
//	    provider         TEXT NOT NULL,
//	    provider_user_id TEXT NOT NULL,
//	    metadata         JSONB,
//	    last_login_at    TIMESTAMPTZ NOT NULL,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (provider, provider_user_id)
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByProviderLink returns the account holding the given provider link.
func (s *PostgresStore) FindByProviderLink(ctx context.Context, provider, providerUserID string) (*Account, error) {
	var accountID string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id
		FROM provider_links
		WHERE provider = $1 AND provider_user_id = $2
	`, provider, providerUserID).Scan(&accountID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to query provider link: %w", err)
	}
	return s.fetchAccount(ctx, accountID)
}

// FindByEmail returns the account with the given email.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	var accountID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id
		FROM accounts
		WHERE lower(email) = lower($1) AND email <> ''
	`, email).Scan(&accountID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to query account by email: %w", err)
	}
	return s.fetchAccount(ctx, accountID)
}

// Create inserts the account and its first provider link in one
// transaction.
func (s *PostgresStore) Create(ctx context.Context, account *Account, link *ProviderLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, email, first_name, last_name, display_name, role, primary_provider, is_active, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, account.ID, account.Email, account.FirstName, account.LastName, account.DisplayName,
		account.Role, account.PrimaryProvider, account.IsActive, account.CreatedAt, account.UpdatedAt, account.LastLoginAt)
	if err != nil {
		return translatePQ(err, "failed to insert account")
	}

	if err := insertLink(ctx, tx, account.ID, link); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AttachLink adds a provider link to an existing account.
func (s *PostgresStore) AttachLink(ctx context.Context, accountID string, link *ProviderLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertLink(ctx, tx, accountID, link); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET updated_at = $1, last_login_at = $1
		WHERE id = $2
	`, link.LastLoginAt, accountID)
	if err != nil {
		return fmt.Errorf("failed to touch account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TouchLink refreshes a link's metadata and last-login timestamps.
func (s *PostgresStore) TouchLink(ctx context.Context, accountID, provider, providerUserID string, metadata map[string]string, at time.Time) error {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE provider_links
		SET metadata = $1, last_login_at = $2
		WHERE account_id = $3 AND provider = $4 AND provider_user_id = $5
	`, meta, at, accountID, provider, providerUserID)
	if err != nil {
		return fmt.Errorf("failed to update provider link: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET updated_at = $1, last_login_at = $1
		WHERE id = $2
	`, at, accountID)
	if err != nil {
		return fmt.Errorf("failed to touch account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateProfile overwrites the account's profile fields.
func (s *PostgresStore) UpdateProfile(ctx context.Context, accountID string, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET email = CASE WHEN $1 <> '' THEN $1 ELSE email END,
		    first_name = $2, last_name = $3, display_name = $4, updated_at = NOW()
		WHERE id = $5
	`, profile.Email, profile.FirstName, profile.LastName, profile.DisplayName, accountID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// SetPrimaryProvider records the account's primary provider.
func (s *PostgresStore) SetPrimaryProvider(ctx context.Context, accountID, provider string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET primary_provider = $1, updated_at = NOW()
		WHERE id = $2
	`, provider, accountID)
	if err != nil {
		return fmt.Errorf("failed to set primary provider: %w", err)
	}
	return nil
}

func (s *PostgresStore) fetchAccount(ctx context.Context, accountID string) (*Account, error) {
	account := &Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, display_name, role, primary_provider, is_active, created_at, updated_at, last_login_at
		FROM accounts WHERE id = $1
	`, accountID).Scan(&account.ID, &account.Email, &account.FirstName, &account.LastName,
		&account.DisplayName, &account.Role, &account.PrimaryProvider, &account.IsActive,
		&account.CreatedAt, &account.UpdatedAt, &account.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, provider_user_id, metadata, last_login_at, created_at
		FROM provider_links
		WHERE account_id = $1
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var link ProviderLink
		var meta []byte
		if err := rows.Scan(&link.Provider, &link.ProviderUserID, &meta, &link.LastLoginAt, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider link: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &link.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode link metadata: %w", err)
			}
		}
		account.Links = append(account.Links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read provider links: %w", err)
	}

	return account, nil
}

func insertLink(ctx context.Context, tx *sql.Tx, accountID string, link *ProviderLink) error {
	meta, err := marshalMetadata(link.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO provider_links (account_id, provider, provider_user_id, metadata, last_login_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, accountID, link.Provider, link.ProviderUserID, meta, link.LastLoginAt, link.CreatedAt)
	if err != nil {
		return translatePQ(err, "failed to insert provider link")
	}
	return nil
}

// translatePQ maps unique-violation errors onto ErrDuplicateLink so the
// resolver can distinguish races from hard failures.
func translatePQ(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateLink
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode link metadata: %w", err)
	}
	return data, nil
}
