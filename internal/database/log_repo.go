package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mixelka/outreachbot/pkg/models"
)

// CreateLogItem appends a qualified recipient to a task
func (db *DB) CreateLogItem(ctx context.Context, item *models.LogItem) error {
	query := `
		INSERT INTO logs (task_id, email, title, price, img_url, adlink, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.ExecContext(ctx, query,
		item.TaskID,
		item.Email,
		item.Title,
		item.Price,
		item.ImgURL,
		item.AdLink,
		item.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to create log item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.ID = id
	return nil
}

// GetLogItemsByTask returns log items in probe order
func (db *DB) GetLogItemsByTask(ctx context.Context, taskID int64) ([]*models.LogItem, error) {
	var items []*models.LogItem
	err := db.SelectContext(ctx, &items, `SELECT * FROM logs WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get log items: %w", err)
	}
	return items, nil
}

// LastLogAdLink returns the newest non-empty ad link logged for an address
func (db *DB) LastLogAdLink(ctx context.Context, userID int64, email string) (string, error) {
	var link string
	query := `
		SELECT adlink FROM logs
		WHERE user_id = ? AND email = ? COLLATE NOCASE AND adlink != ''
		ORDER BY id DESC LIMIT 1
	`
	err := db.GetContext(ctx, &link, query, userID, email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get log ad link: %w", err)
	}
	return link, nil
}
