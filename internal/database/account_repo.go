package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mixelka/outreachbot/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// CreateAccount creates a new mailbox account
func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT OR IGNORE INTO accounts (user_id, email, app_password, name, proxy, incoming_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := nowUTC()
	result, err := db.ExecContext(ctx, query,
		account.UserID,
		account.Email,
		account.AppPassword,
		account.Name,
		account.Proxy,
		account.IncomingEnabled,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.CreatedAt = now
	return nil
}

// GetAccountByID returns an account by ID
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE id = ?`
	err := db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetUserAccount returns an account only if it belongs to the user
func (db *DB) GetUserAccount(ctx context.Context, userID, id int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE id = ? AND user_id = ?`
	err := db.GetContext(ctx, &account, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetAccountsByUser returns all accounts of a user
func (db *DB) GetAccountsByUser(ctx context.Context, userID int64) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts WHERE user_id = ? ORDER BY id`
	err := db.SelectContext(ctx, &accounts, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return accounts, nil
}

// GetPollableAccounts returns all accounts with incoming checking enabled
func (db *DB) GetPollableAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts WHERE incoming_enabled = true ORDER BY id`
	err := db.SelectContext(ctx, &accounts, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get pollable accounts: %w", err)
	}
	return accounts, nil
}

// SetAccountIncoming toggles inbox polling for an account
func (db *DB) SetAccountIncoming(ctx context.Context, id int64, enabled bool) error {
	query := `UPDATE accounts SET incoming_enabled = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to set account incoming: %w", err)
	}
	return requireAffected(result)
}

// DeleteAccount deletes an account; its tasks, logs and conversations stay
func (db *DB) DeleteAccount(ctx context.Context, id int64) error {
	query := `DELETE FROM accounts WHERE id = ?`
	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
