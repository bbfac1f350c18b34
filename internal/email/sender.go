package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/mixelka/outreachbot/pkg/models"
)

// Attachment is a file attached to an outgoing message
type Attachment struct {
	Filename string
	Data     []byte
}

// IsImage reports whether the attachment is an image by its file name
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(ContentTypeOf(a.Filename), "image/")
}

// Outgoing is a composed message ready for submission
type Outgoing struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// SenderConfig configuration for the submission relay
type SenderConfig struct {
	RelayAddr   string // host:port, e.g. smtp.gmail.com:587
	RequireTLS  bool
	Timeout     time.Duration
	HelloDomain string
	TLSConfig   *tls.Config // nil means verify against the relay host
}

// Sender submits messages through the relay with the account's credentials
type Sender struct {
	config   SenderConfig
	dialer   *Dialer
	password PasswordFunc
	logger   *slog.Logger
}

// NewSender creates a new sender
func NewSender(cfg SenderConfig, password PasswordFunc, logger *slog.Logger) *Sender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HelloDomain == "" {
		cfg.HelloDomain = "localhost"
	}
	return &Sender{
		config:   cfg,
		dialer:   &Dialer{Timeout: cfg.Timeout},
		password: password,
		logger:   logger.With("component", "sender"),
	}
}

// Send transmits a message. Failures are logged and reported as false.
func (s *Sender) Send(ctx context.Context, msg Outgoing, account *models.Account) bool {
	if err := s.send(ctx, msg, account); err != nil {
		s.logger.Warn("failed to send email",
			"from", account.Email,
			"to", msg.To,
			"error", err,
		)
		return false
	}

	s.logger.Info("email sent", "from", account.Email, "to", msg.To, "attachments", len(msg.Attachments))
	return true
}

func (s *Sender) send(ctx context.Context, msg Outgoing, account *models.Account) error {
	password, err := s.password(account.AppPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt password: %w", err)
	}

	c, err := s.connect(ctx, account)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Auth(sasl.NewPlainClient("", account.Email, password)); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	if err := c.Mail(account.Email, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := c.Rcpt(msg.To, nil); err != nil {
		return fmt.Errorf("RCPT TO rejected: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if err := WriteMessage(wc, account, msg, time.Now()); err != nil {
		wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	return c.Quit()
}

func (s *Sender) tlsConfig() *tls.Config {
	if s.config.TLSConfig != nil {
		return s.config.TLSConfig
	}
	host, _, _ := net.SplitHostPort(s.config.RelayAddr)
	return &tls.Config{ServerName: host}
}

// connect opens a session with the relay. A relay that offers STARTTLS is
// always used over TLS; RequireTLS refuses relays that do not.
func (s *Sender) connect(ctx context.Context, account *models.Account) (*smtp.Client, error) {
	if s.config.RequireTLS {
		return s.connectTLS(ctx, account)
	}

	conn, err := s.dialer.Dial(ctx, s.config.RelayAddr, account.ProxyURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := s.configure(smtp.NewClient(conn))
	if err := c.Hello(s.config.HelloDomain); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to greet: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return c, nil
	}

	// Upgrade on a fresh connection
	c.Close()
	return s.connectTLS(ctx, account)
}

func (s *Sender) connectTLS(ctx context.Context, account *models.Account) (*smtp.Client, error) {
	conn, err := s.dialer.Dial(ctx, s.config.RelayAddr, account.ProxyURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	// NewClientStartTLS greets with the library's five minute command timeout
	watchdog := time.AfterFunc(s.config.Timeout, func() { conn.Close() })
	c, err := smtp.NewClientStartTLS(conn, s.tlsConfig())
	expired := !watchdog.Stop()
	if err != nil {
		if expired {
			return nil, fmt.Errorf("relay %s did not answer in %s", s.config.RelayAddr, s.config.Timeout)
		}
		return nil, fmt.Errorf("failed to start TLS: %w", err)
	}
	if expired {
		c.Close()
		return nil, fmt.Errorf("relay %s did not answer in %s", s.config.RelayAddr, s.config.Timeout)
	}

	c = s.configure(c)
	if err := c.Hello(s.config.HelloDomain); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to greet over TLS: %w", err)
	}
	return c, nil
}

// configure bounds every command and the final dot by the sender timeout
func (s *Sender) configure(c *smtp.Client) *smtp.Client {
	c.CommandTimeout = s.config.Timeout
	c.SubmissionTimeout = s.config.Timeout
	return c
}

// WriteMessage writes msg as multipart/mixed: a plain text part followed by attachments
func WriteMessage(w io.Writer, account *models.Account, msg Outgoing, date time.Time) error {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: account.Name, Address: account.Email}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetMessageID(uuid.NewString() + "@" + GetDomainFromEmail(account.Email))

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create text part: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := io.WriteString(pw, msg.Body); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	pw.Close()
	tw.Close()

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(ContentTypeOf(att.Filename), nil)
		ah.SetFilename(att.Filename)
		ah.Set("Content-Transfer-Encoding", "base64")

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return fmt.Errorf("failed to create attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Data); err != nil {
			return fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
		aw.Close()
	}

	return mw.Close()
}

// ContentTypeOf infers a media type from a file name
func ContentTypeOf(filename string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if ct == "" {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}
