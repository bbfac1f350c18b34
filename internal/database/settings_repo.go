package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mixelka/outreachbot/pkg/models"
)

// GetSettings returns user settings, creating the defaults on first access
func (db *DB) GetSettings(ctx context.Context, userID int64) (*models.Settings, error) {
	if err := db.ensureSettings(ctx, userID); err != nil {
		return nil, err
	}

	var s models.Settings
	if err := db.GetContext(ctx, &s, `SELECT * FROM settings WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &s, nil
}

// SetAIToken stores the text generation credential
func (db *DB) SetAIToken(ctx context.Context, userID int64, token string) error {
	return db.updateSettings(ctx, userID, `UPDATE settings SET ai_token = ? WHERE user_id = ?`, token)
}

// SetSendDelay stores the base delay between sends in seconds
func (db *DB) SetSendDelay(ctx context.Context, userID int64, seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("send delay must be >= 0, got %d", seconds)
	}
	return db.updateSettings(ctx, userID, `UPDATE settings SET send_delay = ? WHERE user_id = ?`, seconds)
}

// SetAIPrompt stores a custom prompt template; empty resets to the built-in one
func (db *DB) SetAIPrompt(ctx context.Context, userID int64, prompt string) error {
	value := sql.NullString{String: prompt, Valid: prompt != ""}
	return db.updateSettings(ctx, userID, `UPDATE settings SET ai_prompt = ? WHERE user_id = ?`, value)
}

func (db *DB) ensureSettings(ctx context.Context, userID int64) error {
	query := `INSERT OR IGNORE INTO settings (user_id, ai_token, send_delay) VALUES (?, '', ?)`
	if _, err := db.ExecContext(ctx, query, userID, models.DefaultSendDelay); err != nil {
		return fmt.Errorf("failed to create settings: %w", err)
	}
	return nil
}

func (db *DB) updateSettings(ctx context.Context, userID int64, query string, value any) error {
	if err := db.ensureSettings(ctx, userID); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, value, userID); err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}
