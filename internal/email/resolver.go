package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"sort"
	"strings"
)

// MXLookup resolves mail exchangers of a domain
type MXLookup func(ctx context.Context, domain string) ([]*net.MX, error)

// ResolveMX returns exchanger hosts ordered by preference.
// A domain without MX records is its own exchanger.
func ResolveMX(ctx context.Context, lookup MXLookup, domain string) ([]string, error) {
	if lookup == nil {
		lookup = net.DefaultResolver.LookupMX
	}

	records, err := lookup(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return []string{domain}, nil
		}
		return nil, fmt.Errorf("failed to lookup MX for %s: %w", domain, err)
	}
	if len(records) == 0 {
		return []string{domain}, nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})

	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		host := strings.TrimSuffix(mx.Host, ".")
		// RFC 7505 null MX: the domain accepts no mail
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("domain %s accepts no mail", domain)
	}
	return hosts, nil
}

// GetDomainFromEmail extracts domain from email address
func GetDomainFromEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}

// ValidAddress reports whether s is a bare local@domain address
func ValidAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	return GetDomainFromEmail(s) != ""
}

// LocalPart returns the part of an address before the @
func LocalPart(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}
