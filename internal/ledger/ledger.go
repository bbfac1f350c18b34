// Package ledger records every message exchanged with a counterpart address
// and resolves which listing a thread is about.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/outreachbot/internal/database"
	"github.com/mixelka/outreachbot/pkg/models"
)

// Store is the persistence the ledger needs
type Store interface {
	AddConversationMessage(ctx context.Context, msg *models.ConversationMessage) error
	GetConversation(ctx context.Context, userID int64, email string, limit int) ([]*models.ConversationMessage, error)
	LastConversationAdLink(ctx context.Context, userID int64, email string) (string, error)
	LastLogAdLink(ctx context.Context, userID int64, email string) (string, error)
}

// Turn is one message to append
type Turn struct {
	UserID    int64
	AccountID int64
	Email     string
	Direction models.Direction
	Subject   string
	Body      string
	AdLink    string
	MessageID string
	At        time.Time // zero means now
}

// Ledger is the append-only conversation log
type Ledger struct {
	store Store
}

// New creates a ledger over a store
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Record appends a turn. Replaying a turn with a known message id is a no-op.
func (l *Ledger) Record(ctx context.Context, t Turn) error {
	msg := &models.ConversationMessage{
		AccountID: t.AccountID,
		Email:     normalize(t.Email),
		Direction: t.Direction,
		Subject:   t.Subject,
		Body:      t.Body,
		AdLink:    sql.NullString{String: t.AdLink, Valid: t.AdLink != ""},
		CreatedAt: t.At,
		MessageID: sql.NullString{String: t.MessageID, Valid: t.MessageID != ""},
		UserID:    t.UserID,
	}

	err := l.store.AddConversationMessage(ctx, msg)
	if errors.Is(err, database.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record %s turn: %w", t.Direction, err)
	}
	return nil
}

// History returns the thread with an address in replay order, capped to the
// most recent limit turns when limit > 0.
func (l *Ledger) History(ctx context.Context, userID int64, email string, limit int) ([]*models.ConversationMessage, error) {
	return l.store.GetConversation(ctx, userID, normalize(email), limit)
}

// LastAdLink returns the most recent non-empty ad link for an address.
// Threads that predate ad link tracking fall back to the task logs.
func (l *Ledger) LastAdLink(ctx context.Context, userID int64, email string) (string, error) {
	email = normalize(email)

	link, err := l.store.LastConversationAdLink(ctx, userID, email)
	if err != nil {
		return "", err
	}
	if link != "" {
		return link, nil
	}

	return l.store.LastLogAdLink(ctx, userID, email)
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
