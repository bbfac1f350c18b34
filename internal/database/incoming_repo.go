package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mixelka/outreachbot/pkg/models"
)

// CreateIncoming stores an inbound message (ignores if already exists)
func (db *DB) CreateIncoming(ctx context.Context, msg *models.IncomingMessage) error {
	query := `
		INSERT OR IGNORE INTO incoming_messages (account_id, message_id, from_email, subject, body_preview, body_full, received_at, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.ExecContext(ctx, query,
		msg.AccountID,
		msg.MessageID,
		msg.FromEmail,
		msg.Subject,
		msg.BodyPreview,
		msg.BodyFull,
		msg.ReceivedAt,
		msg.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to create incoming message: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
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

	msg.ID = id
	return nil
}

// IncomingExists reports whether a provider message id was already stored
func (db *DB) IncomingExists(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n, `SELECT COUNT(1) FROM incoming_messages WHERE message_id = ?`, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to check incoming message: %w", err)
	}
	return n > 0, nil
}

// GetIncoming returns an inbound message owned by the user
func (db *DB) GetIncoming(ctx context.Context, userID, id int64) (*models.IncomingMessage, error) {
	var msg models.IncomingMessage
	err := db.GetContext(ctx, &msg, `SELECT * FROM incoming_messages WHERE id = ? AND user_id = ?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incoming message: %w", err)
	}
	return &msg, nil
}

// GetLatestIncoming returns the newest message of each sender, newest first
func (db *DB) GetLatestIncoming(ctx context.Context, userID int64, limit, offset int) ([]*models.IncomingMessage, error) {
	var msgs []*models.IncomingMessage
	query := `
		SELECT m.* FROM incoming_messages m
		JOIN (
			SELECT MAX(id) AS id FROM incoming_messages
			WHERE user_id = ?
			GROUP BY lower(from_email)
		) latest ON latest.id = m.id
		ORDER BY m.id DESC
		LIMIT ? OFFSET ?
	`
	if err := db.SelectContext(ctx, &msgs, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to get incoming messages: %w", err)
	}
	return msgs, nil
}

// CountIncomingSenders returns the number of distinct senders of a user
func (db *DB) CountIncomingSenders(ctx context.Context, userID int64) (int, error) {
	var n int
	query := `SELECT COUNT(DISTINCT lower(from_email)) FROM incoming_messages WHERE user_id = ?`
	if err := db.GetContext(ctx, &n, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count senders: %w", err)
	}
	return n, nil
}
