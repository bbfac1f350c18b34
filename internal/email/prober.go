package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-smtp"
)

// ProberConfig configuration for the deliverability prober
type ProberConfig struct {
	Port        int           // SMTP port of exchangers, 25 in production
	Timeout     time.Duration // per exchanger attempt
	MailFrom    string        // synthetic envelope sender
	HelloDomain string
}

// Prober checks whether a mailbox exists with an RCPT TO dry run.
// It never sends DATA.
type Prober struct {
	config ProberConfig
	lookup MXLookup
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	logger *slog.Logger
}

// NewProber creates a new prober
func NewProber(cfg ProberConfig, logger *slog.Logger) *Prober {
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.HelloDomain == "" {
		cfg.HelloDomain = "localhost"
	}
	return &Prober{
		config: cfg,
		lookup: net.DefaultResolver.LookupMX,
		dial:   (&net.Dialer{}).DialContext,
		logger: logger.With("component", "prober"),
	}
}

// Probe reports whether an exchanger accepted the address as a recipient.
// Any failure, including timeouts, counts as "does not exist".
func (p *Prober) Probe(ctx context.Context, address string) bool {
	if !ValidAddress(address) {
		p.logger.Debug("invalid address", "email", address)
		return false
	}

	hosts, err := ResolveMX(ctx, p.lookup, GetDomainFromEmail(address))
	if err != nil {
		p.logger.Warn("failed to resolve exchangers", "email", address, "error", err)
		return false
	}

	for _, host := range hosts {
		accepted, answered, err := p.probeHost(ctx, host, address)
		if answered {
			p.logger.Debug("probe answered", "email", address, "host", host, "accepted", accepted, "error", err)
			return accepted
		}
		p.logger.Debug("exchanger unreachable", "email", address, "host", host, "error", err)
	}

	p.logger.Warn("no exchanger answered", "email", address, "hosts", len(hosts))
	return false
}

// probeHost runs one dry run. answered is true when the server gave an SMTP
// reply to our envelope, so other exchangers would say the same.
func (p *Prober) probeHost(ctx context.Context, host, address string) (accepted, answered bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.config.Port)))
	if err != nil {
		return false, false, fmt.Errorf("failed to connect: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c := smtp.NewClient(conn)
	c.CommandTimeout = p.config.Timeout
	defer c.Close()

	if err := c.Hello(p.config.HelloDomain); err != nil {
		return false, isReply(err), fmt.Errorf("failed to greet: %w", err)
	}
	if err := c.Mail(p.config.MailFrom, nil); err != nil {
		return false, isReply(err), fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := c.Rcpt(address, nil); err != nil {
		return false, isReply(err), fmt.Errorf("RCPT TO rejected: %w", err)
	}

	// The mailbox exists; leave without a message
	c.Quit()
	return true, true, nil
}

func isReply(err error) bool {
	var smtpErr *smtp.SMTPError
	return errors.As(err, &smtpErr)
}
