package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mixelka/outreachbot/pkg/models"
)

// AddConversationMessage appends a conversation turn.
// A turn carrying an already stored message id is ignored with ErrAlreadyExists.
func (db *DB) AddConversationMessage(ctx context.Context, msg *models.ConversationMessage) error {
	query := `
		INSERT OR IGNORE INTO conversation_messages (account_id, email, direction, subject, body, adlink, created_at, message_id, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = nowUTC()
	} else {
		msg.CreatedAt = msg.CreatedAt.UTC()
	}

	result, err := db.ExecContext(ctx, query,
		msg.AccountID,
		msg.Email,
		msg.Direction,
		msg.Subject,
		msg.Body,
		msg.AdLink,
		msg.CreatedAt,
		msg.MessageID,
		msg.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to add conversation message: %w", err)
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
	msg.ID = id
	return nil
}

// GetConversation returns the most recent turns with an address, oldest first.
// limit <= 0 returns the whole thread.
func (db *DB) GetConversation(ctx context.Context, userID int64, email string, limit int) ([]*models.ConversationMessage, error) {
	if limit <= 0 {
		limit = -1
	}

	var msgs []*models.ConversationMessage
	query := `
		SELECT * FROM (
			SELECT * FROM conversation_messages
			WHERE user_id = ? AND email = ? COLLATE NOCASE
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`
	if err := db.SelectContext(ctx, &msgs, query, userID, email, limit); err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return msgs, nil
}

// LastConversationAdLink returns the newest non-empty ad link in the thread with an address
func (db *DB) LastConversationAdLink(ctx context.Context, userID int64, email string) (string, error) {
	var link string
	query := `
		SELECT adlink FROM conversation_messages
		WHERE user_id = ? AND email = ? COLLATE NOCASE AND adlink IS NOT NULL AND adlink != ''
		ORDER BY created_at DESC, id DESC LIMIT 1
	`
	err := db.GetContext(ctx, &link, query, userID, email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get conversation ad link: %w", err)
	}
	return link, nil
}
