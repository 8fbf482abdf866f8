package email

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Common IMAP servers for popular email providers
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"msn.com":        "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"yahoo.co.uk":    "imap.mail.yahoo.com:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"mac.com":        "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"protonmail.com": "127.0.0.1:1143", // ProtonMail Bridge
	"proton.me":      "127.0.0.1:1143",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"gmx.de":         "imap.gmx.net:993",
	"web.de":         "imap.web.de:993",
	"t-online.de":    "secureimap.t-online.de:993",
}

// Resolver finds the IMAP endpoint of an email address
type Resolver struct {
	probe    func(ctx context.Context, address string) bool
	lookupMX func(ctx context.Context, domain string) ([]*net.MX, error)
}

// NewResolver creates a resolver that probes hosts over TCP
func NewResolver() *Resolver {
	return &Resolver{
		probe: func(ctx context.Context, address string) bool {
			d := net.Dialer{Timeout: 3 * time.Second}
			conn, err := d.DialContext(ctx, "tcp", address)
			if err != nil {
				return false
			}
			conn.Close()
			return true
		},
		lookupMX: net.DefaultResolver.LookupMX,
	}
}

// ResolveIMAPServer determines the IMAP server (host:port) for an email address
func (r *Resolver) ResolveIMAPServer(ctx context.Context, email string) (string, error) {
	domain := GetDomainFromEmail(email)
	if domain == "" {
		return "", fmt.Errorf("invalid email format")
	}

	// Check known providers first
	if server, ok := knownIMAPServers[domain]; ok {
		return server, nil
	}

	// Try common IMAP server patterns
	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		if r.probe(ctx, host+":993") {
			return host + ":993", nil
		}
	}

	if server, err := r.resolveViaMX(ctx, domain); err == nil {
		return server, nil
	}

	// Default fallback
	return "imap." + domain + ":993", nil
}

// resolveViaMX derives the IMAP server from the primary MX host,
// e.g. mx.example.com -> imap.example.com
func (r *Resolver) resolveViaMX(ctx context.Context, domain string) (string, error) {
	mxRecords, err := r.lookupMX(ctx, domain)
	if err != nil || len(mxRecords) == 0 {
		return "", fmt.Errorf("no MX records found")
	}

	mxHost := strings.TrimSuffix(mxRecords[0].Host, ".")
	parts := strings.SplitN(mxHost, ".", 2)
	if len(parts) == 2 {
		for _, host := range []string{"imap." + parts[1], "mail." + parts[1]} {
			if r.probe(ctx, host+":993") {
				return host + ":993", nil
			}
		}
	}

	return "", fmt.Errorf("could not determine IMAP server")
}

// GetDomainFromEmail extracts domain from email address
func GetDomainFromEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
