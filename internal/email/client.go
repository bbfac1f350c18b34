package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/mixelka/outreachbot/internal/parser"
	"github.com/mixelka/outreachbot/pkg/models"
)

// FetcherConfig configuration for the reply mailbox fetcher
type FetcherConfig struct {
	Server      string // host:port, e.g. imap.gmail.com:993
	DialTimeout time.Duration
	Timeout     time.Duration // per IMAP command
	TLSConfig   *tls.Config
}

// Fetcher reads unseen messages from account inboxes. Each call opens its own
// connection so a stuck account never blocks another.
type Fetcher struct {
	config     FetcherConfig
	dialer     *Dialer
	password   PasswordFunc
	htmlParser *parser.HTMLParser
	logger     *slog.Logger
}

// NewFetcher creates a new IMAP fetcher
func NewFetcher(cfg FetcherConfig, password PasswordFunc, htmlParser *parser.HTMLParser, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		config:     cfg,
		dialer:     &Dialer{Timeout: cfg.DialTimeout},
		password:   password,
		htmlParser: htmlParser,
		logger:     logger.With("component", "imap_fetcher"),
	}
}

// FetchUnseen returns every unseen INBOX message. Fetching the body marks
// the messages seen on the server.
func (f *Fetcher) FetchUnseen(ctx context.Context, account *models.Account) ([]*InboundEmail, error) {
	c, err := f.connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var emails []*InboundEmail
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			f.logger.Warn("server returned no body", "account_id", account.ID, "seq", msg.SeqNum)
			continue
		}

		// Messages without a Message-ID header are keyed by mailbox and UID
		fallbackID := fmt.Sprintf("uid-%d@%s", msg.Uid, account.Email)
		email, err := ParseMessage(body, fallbackID, f.htmlParser)
		if err != nil {
			f.logger.Warn("failed to parse message", "account_id", account.ID, "seq", msg.SeqNum, "error", err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return emails, fmt.Errorf("failed to fetch: %w", err)
	}

	return emails, nil
}

// TestConnection logs into the account's mailbox and selects INBOX
func (f *Fetcher) TestConnection(ctx context.Context, account *models.Account) error {
	c, err := f.connect(ctx, account)
	if err != nil {
		return err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", true); err != nil {
		return fmt.Errorf("failed to select INBOX: %w", err)
	}
	return nil
}

func (f *Fetcher) connect(ctx context.Context, account *models.Account) (*client.Client, error) {
	password, err := f.password(account.AppPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt password: %w", err)
	}

	conn, err := f.dialer.Dial(ctx, f.config.Server, account.ProxyURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	tlsConn := tls.Client(conn, f.tlsConfig())
	hsCtx, cancel := context.WithTimeout(ctx, f.dialer.timeout())
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed TLS handshake: %w", err)
	}

	c, err := client.New(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}
	c.Timeout = f.config.Timeout

	if err := c.Login(account.Email, password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return c, nil
}

func (f *Fetcher) tlsConfig() *tls.Config {
	if f.config.TLSConfig != nil {
		return f.config.TLSConfig
	}
	host, _, _ := net.SplitHostPort(f.config.Server)
	return &tls.Config{ServerName: host}
}
