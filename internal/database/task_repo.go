package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mixelka/outreachbot/pkg/models"
)

// CreateTask creates a running task with zeroed counters
func (db *DB) CreateTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (account_id, user_id, total_sellers, valid_emails, sent_emails, status, incoming_checker_enabled, created_at)
		VALUES (?, ?, ?, 0, 0, ?, ?, ?)
	`
	now := nowUTC()
	result, err := db.ExecContext(ctx, query,
		task.AccountID,
		task.UserID,
		task.TotalSellers,
		models.TaskRunning,
		task.IncomingCheckerEnabled,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	task.Status = models.TaskRunning
	task.ValidEmails = 0
	task.SentEmails = 0
	task.CreatedAt = now
	return nil
}

// GetTask returns a task by ID
func (db *DB) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	var task models.Task
	err := db.GetContext(ctx, &task, `SELECT * FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// GetTasksByUser returns user tasks, newest first
func (db *DB) GetTasksByUser(ctx context.Context, userID int64) ([]*models.Task, error) {
	var tasks []*models.Task
	err := db.SelectContext(ctx, &tasks, `SELECT * FROM tasks WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	return tasks, nil
}

// IncrementValid bumps valid_emails, never past total_sellers
func (db *DB) IncrementValid(ctx context.Context, taskID int64) (*models.Task, error) {
	return db.incrementCounter(ctx, taskID,
		`UPDATE tasks SET valid_emails = valid_emails + 1 WHERE id = ? AND valid_emails < total_sellers`)
}

// IncrementSent bumps sent_emails, never past valid_emails
func (db *DB) IncrementSent(ctx context.Context, taskID int64) (*models.Task, error) {
	return db.incrementCounter(ctx, taskID,
		`UPDATE tasks SET sent_emails = sent_emails + 1 WHERE id = ? AND sent_emails < valid_emails`)
}

func (db *DB) incrementCounter(ctx context.Context, taskID int64, query string) (*models.Task, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to increment counter: %w", err)
	}

	var task models.Task
	err = tx.GetContext(ctx, &task, `SELECT * FROM tasks WHERE id = ?`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("counter bound reached for task %d", taskID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit counter: %w", err)
	}
	return &task, nil
}

// FinishTask marks a running task finished and stores its audit file path.
// A task that is already finished is left untouched.
func (db *DB) FinishTask(ctx context.Context, taskID int64, logFilePath string) error {
	query := `UPDATE tasks SET status = ?, log_file_path = ? WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query,
		models.TaskFinished,
		sql.NullString{String: logFilePath, Valid: logFilePath != ""},
		taskID,
		models.TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := db.GetTask(ctx, taskID); err != nil {
			return err
		}
	}
	return nil
}
