package models

import (
	"fmt"
	"strings"
)

// DefaultFolder is watched when an account lists no folders
const DefaultFolder = "INBOX"

// Account represents a configured mailbox
type Account struct {
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Password        string     `json:"-"`           // Plain, enc:… or keyring:…
	IMAPServer      string     `json:"imap_server"` // Host only, or host:port
	IMAPPort        int        `json:"imap_port"`
	TLS             bool       `json:"tls"`
	Folders         []string   `json:"folders"`
	DefaultCategory string     `json:"default_category"`
	Categories      []Category `json:"categories"`
}

// Address returns host:port of the IMAP server
func (a *Account) Address() string {
	if strings.Contains(a.IMAPServer, ":") {
		return a.IMAPServer
	}
	port := a.IMAPPort
	if port == 0 {
		port = 993
	}
	return fmt.Sprintf("%s:%d", a.IMAPServer, port)
}

// WatchedFolders returns the folders to monitor
func (a *Account) WatchedFolders() []string {
	if len(a.Folders) == 0 {
		return []string{DefaultFolder}
	}
	return a.Folders
}

// CategorySet builds the validated category set of the account
func (a *Account) CategorySet() *CategorySet {
	return NewCategorySet(a.Categories, a.DefaultCategory)
}
