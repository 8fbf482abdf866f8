package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// MaxMessageSize is the largest message whose body is downloaded and classified
const MaxMessageSize = 50 * 1024 * 1024

// Message represents a fetched email; it lives for one drain cycle
type Message struct {
	UID       uint32    // IMAP UID, valid only within the session that fetched it
	MessageID string    // Message-ID header
	From      string    // Sender address
	To        string    // Recipients, comma separated
	Subject   string
	Date      time.Time // Envelope date
	Body      string    // Plain text body
	Size      uint32    // RFC822 size
	Folder    string    // Source folder
	Seen      bool
}

// Hash returns the dedup key of the message for an account.
// It only uses header-derived fields so it is stable across sessions.
func (m *Message) Hash(account string) string {
	return MessageHash(account, m.MessageID, m.From, m.Subject, m.Date)
}

// MessageHash computes the dedup key from its parts
func MessageHash(account, messageID, from, subject string, date time.Time) string {
	var d string
	if !date.IsZero() {
		d = date.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{account, messageID, from, subject, d}, ":")))
	return hex.EncodeToString(sum[:])
}

// Oversized reports whether the message exceeds MaxMessageSize
func (m *Message) Oversized() bool {
	return m.Size > MaxMessageSize
}

// ProcessedRecord is the durable marker that a message was handled
type ProcessedRecord struct {
	ID          int64     `db:"id" json:"id" yaml:"id"`
	AccountName string    `db:"account_name" json:"account" yaml:"account"`
	MessageHash string    `db:"message_hash" json:"hash" yaml:"hash"`
	MessageID   string    `db:"message_id" json:"message_id" yaml:"message_id"`
	FromAddr    string    `db:"from_addr" json:"from" yaml:"from"`
	ToAddr      string    `db:"to_addr" json:"to" yaml:"to"`
	Subject     string    `db:"subject" json:"subject" yaml:"subject"`
	MessageDate time.Time `db:"message_date" json:"date" yaml:"date"`
	Category    string    `db:"category" json:"category" yaml:"category"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at" yaml:"processed_at"`
}

// CategoryCount is one row of category statistics
type CategoryCount struct {
	Category string `db:"category" json:"category" yaml:"category"`
	Count    int    `db:"count" json:"count" yaml:"count"`
}

// Classification is the gateway's verdict for one message
type Classification struct {
	Category   Category
	Confidence float64 // 0..100
	Reasoning  string
	Failed     bool // The oracle call itself failed; the message should be retried
}
