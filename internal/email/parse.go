package email

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/outreachbot/internal/parser"
)

// NoSubject is shown for messages without a Subject header
const NoSubject = "(без темы)"

// InboundEmail is an unseen message read from a reply mailbox
type InboundEmail struct {
	MessageID  string
	From       string
	Subject    string
	Body       string // reply text with quoted history removed
	Preview    string
	ReceivedAt *time.Time // UTC, nil when the Date header is unparseable
}

// ParseMessage reads a raw RFC 5322 message. fallbackID is used as the
// message id when the Message-ID header is missing.
func ParseMessage(r io.Reader, fallbackID string, html *parser.HTMLParser) (*InboundEmail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to create mail reader: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	in := &InboundEmail{MessageID: fallbackID, Subject: NoSubject}

	if id, err := h.MessageID(); err == nil && id != "" {
		in.MessageID = id
	}
	if subject, err := h.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		in.Subject = subject
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		in.From = strings.ToLower(from[0].Address)
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		utc := date.UTC()
		in.ReceivedAt = &utc
	}

	plain, htmlBody := readBodies(mr)
	body := plain
	if body == "" && htmlBody != "" && html != nil {
		if text, err := html.Parse(htmlBody); err == nil {
			body = text
		}
	}

	in.Body = parser.CleanReply(body)
	in.Preview = parser.Preview(in.Body, parser.PreviewLength)
	return in, nil
}

// readBodies returns the first text/plain and the first text/html inline parts
func readBodies(mr *mail.Reader) (plain, html string) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}
		if part == nil {
			continue
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		ct, _, _ := h.ContentType()
		switch {
		case strings.HasPrefix(ct, "text/plain") && plain == "":
			if b, err := io.ReadAll(part.Body); err == nil {
				plain = string(b)
			}
		case strings.HasPrefix(ct, "text/html") && html == "":
			if b, err := io.ReadAll(part.Body); err == nil {
				html = string(b)
			}
		}

		if plain != "" {
			break
		}
	}
	return plain, html
}
