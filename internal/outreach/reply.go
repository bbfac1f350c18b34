package outreach

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mixelka/outreachbot/internal/database"
	"github.com/mixelka/outreachbot/internal/email"
	"github.com/mixelka/outreachbot/internal/ledger"
	"github.com/mixelka/outreachbot/pkg/models"
)

// ErrSendFailed is returned when the relay did not accept a reply
var ErrSendFailed = errors.New("message was not accepted for delivery")

// ErrEmptyReply is returned for a reply with neither text nor attachments
var ErrEmptyReply = errors.New("reply is empty")

// ImagePlaceholder is stored as the body of replies that only carry images
const ImagePlaceholder = "Изображение"

// ReplyRequest is a user reply to an incoming message
type ReplyRequest struct {
	UserID      int64
	IncomingID  int64
	Text        string
	Attachments []email.Attachment
}

// Reply sends a reply through the account that received the incoming message
// and records it in the ledger with the thread's ad link
func (s *Service) Reply(ctx context.Context, req ReplyRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Attachments) == 0 {
		return ErrEmptyReply
	}

	incoming, err := s.store.GetIncoming(ctx, req.UserID, req.IncomingID)
	if err != nil {
		return fmt.Errorf("failed to load incoming message: %w", err)
	}

	account, err := s.store.GetAccountByID(ctx, incoming.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account.UserID != req.UserID {
		return fmt.Errorf("failed to load account: %w", database.ErrNotFound)
	}

	subject := replySubject(incoming.Subject)
	msg := email.Outgoing{
		To:          incoming.FromEmail,
		Subject:     subject,
		Body:        text,
		Attachments: req.Attachments,
	}

	if !s.sender.Send(ctx, msg, account) {
		return ErrSendFailed
	}

	adLink, err := s.ledger.LastAdLink(ctx, req.UserID, incoming.FromEmail)
	if err != nil {
		s.logger.Warn("failed to resolve ad link", "email", incoming.FromEmail, "error", err)
	}

	body := text
	if body == "" && hasImage(req.Attachments) {
		body = ImagePlaceholder
	}

	err = s.ledger.Record(ctx, ledger.Turn{
		UserID:    req.UserID,
		AccountID: account.ID,
		Email:     incoming.FromEmail,
		Direction: models.DirectionOutgoing,
		Subject:   subject,
		Body:      body,
		AdLink:    adLink,
	})
	if err != nil {
		s.logger.Error("failed to record reply", "email", incoming.FromEmail, "error", err)
	}

	s.logger.Info("reply sent", "account", account.Email, "to", incoming.FromEmail, "attachments", len(req.Attachments))
	return nil
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func hasImage(attachments []email.Attachment) bool {
	for _, a := range attachments {
		if a.IsImage() {
			return true
		}
	}
	return false
}

// Validate probes every row in order and returns the accepted ones
func (s *Service) Validate(ctx context.Context, rows []CheckRow) []CheckRow {
	var valid []CheckRow
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		if s.probe(ctx, row.Email, s.logger) {
			valid = append(valid, row)
		}
	}
	s.logger.Info("validation finished", "rows", len(rows), "valid", len(valid))
	return valid
}

// ValidateAsync runs Validate in the background and passes the accepted rows
// to done. Wait joins it together with running tasks.
func (s *Service) ValidateAsync(ctx context.Context, rows []CheckRow, done func(valid []CheckRow)) {
	s.running.Go(func() {
		done(s.Validate(ctx, rows))
	})
}
