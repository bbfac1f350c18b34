package email

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// PasswordFunc turns a stored (encrypted) app password into the plain one
type PasswordFunc func(stored string) (string, error)

// Dialer opens outbound TCP connections, optionally through a SOCKS5 proxy
type Dialer struct {
	Timeout time.Duration
}

// ParseProxy validates a proxy URL. Only SOCKS5 proxies are supported.
func ParseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("unsupported proxy scheme %q, use socks5://", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy url has no host")
	}
	return u, nil
}

// Dial connects to addr, through proxyURL when it is not empty
func (d *Dialer) Dial(ctx context.Context, addr, proxyURL string) (net.Conn, error) {
	direct := &net.Dialer{Timeout: d.timeout()}
	if proxyURL == "" {
		return direct.DialContext(ctx, "tcp", addr)
	}

	u, err := ParseProxy(proxyURL)
	if err != nil {
		return nil, err
	}

	pd, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy dialer: %w", err)
	}

	if cd, ok := pd.(proxy.ContextDialer); ok {
		ctx, cancel := context.WithTimeout(ctx, d.timeout())
		defer cancel()
		return cd.DialContext(ctx, "tcp", addr)
	}
	return pd.Dial("tcp", addr)
}

func (d *Dialer) timeout() time.Duration {
	if d.Timeout == 0 {
		return 30 * time.Second
	}
	return d.Timeout
}
