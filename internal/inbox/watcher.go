// Package inbox polls reply mailboxes and turns new messages into ledger
// turns and chat notifications.
package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mixelka/outreachbot/internal/database"
	"github.com/mixelka/outreachbot/internal/email"
	"github.com/mixelka/outreachbot/internal/ledger"
	"github.com/mixelka/outreachbot/pkg/models"
)

// Store is the persistence the watcher needs
type Store interface {
	GetPollableAccounts(ctx context.Context) ([]*models.Account, error)
	IncomingExists(ctx context.Context, messageID string) (bool, error)
	CreateIncoming(ctx context.Context, msg *models.IncomingMessage) error
}

// Fetcher reads unseen messages of one account
type Fetcher interface {
	FetchUnseen(ctx context.Context, account *models.Account) ([]*email.InboundEmail, error)
}

// Ledger is the conversation log
type Ledger interface {
	Record(ctx context.Context, t ledger.Turn) error
	LastAdLink(ctx context.Context, userID int64, email string) (string, error)
}

// Notification is a new incoming message for the account owner
type Notification struct {
	Account *models.Account
	Message *models.IncomingMessage
	AdLink  string
}

// Notifier delivers notifications to the account owner
type Notifier interface {
	NotifyIncoming(ctx context.Context, n Notification) error
}

// Config for the watcher
type Config struct {
	Interval       time.Duration
	AccountTimeout time.Duration // bounds a single account fetch
}

// Watcher polls every account with incoming checks enabled
type Watcher struct {
	config   Config
	store    Store
	fetcher  Fetcher
	ledger   Ledger
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new inbox watcher
func New(cfg Config, store Store, fetcher Fetcher, lg Ledger, notifier Notifier, logger *slog.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Watcher{
		config:   cfg,
		store:    store,
		fetcher:  fetcher,
		ledger:   lg,
		notifier: notifier,
		logger:   logger.With("component", "inbox_watcher"),
		now:      time.Now,
	}
}

// Run sweeps immediately and then on every interval until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("inbox watcher started", "interval", w.config.Interval)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		w.Sweep(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep checks every pollable account once and returns the number of new messages
func (w *Watcher) Sweep(ctx context.Context) int {
	accounts, err := w.store.GetPollableAccounts(ctx)
	if err != nil {
		w.logger.Error("failed to load accounts", "error", err)
		return 0
	}

	total := 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		n, err := w.checkAccount(ctx, account)
		if err != nil {
			w.logger.Warn("inbox check failed", "account_id", account.ID, "email", account.Email, "error", err)
		}
		total += n
	}
	return total
}

func (w *Watcher) checkAccount(ctx context.Context, account *models.Account) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inbox check panicked: %v", r)
		}
	}()

	if w.config.AccountTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.AccountTimeout)
		defer cancel()
	}

	messages, err := w.fetcher.FetchUnseen(ctx, account)
	// A fetch may fail halfway, keep whatever arrived
	for _, msg := range messages {
		ok, herr := w.handle(ctx, account, msg)
		if herr != nil {
			w.logger.Error("failed to store incoming message",
				"account_id", account.ID, "message_id", msg.MessageID, "error", herr)
			continue
		}
		if ok {
			n++
		}
	}
	if err != nil {
		return n, fmt.Errorf("failed to fetch: %w", err)
	}
	return n, nil
}

// handle stores one message and notifies the owner. It reports false for
// messages that were already known; their inbound turn is still recorded so a
// turn lost to an earlier failure is restored without a second notification.
func (w *Watcher) handle(ctx context.Context, account *models.Account, msg *email.InboundEmail) (bool, error) {
	if msg.From == "" {
		w.logger.Warn("skipping message without sender", "account_id", account.ID, "message_id", msg.MessageID)
		return false, nil
	}

	exists, err := w.store.IncomingExists(ctx, msg.MessageID)
	if err != nil {
		return false, err
	}

	in := &models.IncomingMessage{
		AccountID:   account.ID,
		MessageID:   msg.MessageID,
		FromEmail:   msg.From,
		Subject:     msg.Subject,
		BodyPreview: msg.Preview,
		BodyFull:    msg.Body,
		UserID:      account.UserID,
	}
	if msg.ReceivedAt != nil {
		in.ReceivedAt = sql.NullTime{Time: *msg.ReceivedAt, Valid: true}
	}

	if !exists {
		err = w.store.CreateIncoming(ctx, in)
		if errors.Is(err, database.ErrAlreadyExists) {
			exists = true
		} else if err != nil {
			return false, err
		}
	}

	adLink, err := w.ledger.LastAdLink(ctx, account.UserID, msg.From)
	if err != nil {
		w.logger.Warn("failed to resolve ad link", "email", msg.From, "error", err)
	}

	at := w.now().UTC()
	if msg.ReceivedAt != nil {
		at = *msg.ReceivedAt
	}
	body := msg.Body
	if body == "" {
		body = msg.Preview
	}

	err = w.ledger.Record(ctx, ledger.Turn{
		UserID:    account.UserID,
		AccountID: account.ID,
		Email:     msg.From,
		Direction: models.DirectionIncoming,
		Subject:   msg.Subject,
		Body:      body,
		AdLink:    adLink,
		MessageID: msg.MessageID,
		At:        at,
	})
	if err != nil {
		w.logger.Error("failed to record incoming turn", "email", msg.From, "error", err)
	}
	if exists {
		return false, nil
	}

	w.logger.Info("new incoming message", "account_id", account.ID, "from", msg.From, "subject", msg.Subject)

	if w.notifier != nil {
		if err := w.notifier.NotifyIncoming(ctx, Notification{Account: account, Message: in, AdLink: adLink}); err != nil {
			w.logger.Warn("failed to notify", "user_id", account.UserID, "error", err)
		}
	}
	return true, nil
}
