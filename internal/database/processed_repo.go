package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tofagerl/mailmind/pkg/models"
)

// DefaultQueryLimit caps SearchProcessed when no limit is given
const DefaultQueryLimit = 100

// ProcessedFilter narrows SearchProcessed; empty fields match everything
type ProcessedFilter struct {
	Account  string
	From     string // Substring of the sender
	To       string // Substring of the recipients
	Subject  string // Substring of the subject
	Category string
	Limit    int
	Offset   int
}

// IsProcessed reports whether a message already has a processed record
func (db *DB) IsProcessed(ctx context.Context, account string, msg *models.Message) (bool, error) {
	var id int64
	query := `SELECT id FROM processed_emails WHERE account_name = ? AND message_hash = ?`
	err := db.GetContext(ctx, &id, query, account, msg.Hash(account))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &models.StateError{Op: "is_processed", Err: err}
	}
	return true, nil
}

// MarkProcessed records a message as handled; a repeat overwrites the category
func (db *DB) MarkProcessed(ctx context.Context, account string, msg *models.Message, category string) error {
	query := `
		INSERT INTO processed_emails (account_name, message_hash, message_id, from_addr, to_addr, subject, message_date, category, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_name, message_hash) DO UPDATE SET
			category = excluded.category,
			processed_at = excluded.processed_at
	`

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.ExecContext(ctx, query,
		account,
		msg.Hash(account),
		msg.MessageID,
		msg.From,
		msg.To,
		msg.Subject,
		msg.Date.UTC(),
		category,
		time.Now().UTC(),
	)
	if err != nil {
		return &models.StateError{Op: "mark_processed", Err: err}
	}
	return nil
}

// Cleanup deletes records processed more than maxAgeDays ago
func (db *DB) Cleanup(ctx context.Context, maxAgeDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.ExecContext(ctx, `DELETE FROM processed_emails WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, &models.StateError{Op: "cleanup", Err: err}
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteAccount removes every processed record of an account
func (db *DB) DeleteAccount(ctx context.Context, account string) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.ExecContext(ctx, `DELETE FROM processed_emails WHERE account_name = ?`, account)
	if err != nil {
		return 0, &models.StateError{Op: "delete_account", Err: err}
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// CountProcessed returns the number of records, for one account or all
func (db *DB) CountProcessed(ctx context.Context, account string) (int, error) {
	var n int
	var err error
	if account == "" {
		err = db.GetContext(ctx, &n, `SELECT COUNT(*) FROM processed_emails`)
	} else {
		err = db.GetContext(ctx, &n, `SELECT COUNT(*) FROM processed_emails WHERE account_name = ?`, account)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count processed emails: %w", err)
	}
	return n, nil
}

// Accounts returns account names that have processed records
func (db *DB) Accounts(ctx context.Context) ([]string, error) {
	var names []string
	err := db.SelectContext(ctx, &names, `SELECT DISTINCT account_name FROM processed_emails ORDER BY account_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return names, nil
}

// CategoryStats counts records per category, for one account or all
func (db *DB) CategoryStats(ctx context.Context, account string) ([]models.CategoryCount, error) {
	query := `SELECT COALESCE(category, 'UNKNOWN') AS category, COUNT(*) AS count FROM processed_emails`
	var args []interface{}
	if account != "" {
		query += ` WHERE account_name = ?`
		args = append(args, account)
	}
	query += ` GROUP BY COALESCE(category, 'UNKNOWN') ORDER BY count DESC, category`

	var stats []models.CategoryCount
	if err := db.SelectContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get category stats: %w", err)
	}
	return stats, nil
}

// SearchProcessed returns records matching the filter, newest first
func (db *DB) SearchProcessed(ctx context.Context, f ProcessedFilter) ([]models.ProcessedRecord, error) {
	var where []string
	var args []interface{}

	if f.Account != "" {
		where = append(where, "account_name = ?")
		args = append(args, f.Account)
	}
	if f.From != "" {
		where = append(where, "from_addr LIKE ?")
		args = append(args, "%"+f.From+"%")
	}
	if f.To != "" {
		where = append(where, "to_addr LIKE ?")
		args = append(args, "%"+f.To+"%")
	}
	if f.Subject != "" {
		where = append(where, "subject LIKE ?")
		args = append(args, "%"+f.Subject+"%")
	}
	if f.Category != "" {
		where = append(where, "category = ? COLLATE NOCASE")
		args = append(args, f.Category)
	}

	query := `
		SELECT id, account_name, message_hash, message_id, from_addr, to_addr, subject, message_date,
			COALESCE(category, 'UNKNOWN') AS category, processed_at
		FROM processed_emails`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY processed_at DESC, id DESC LIMIT ? OFFSET ?"

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args = append(args, limit, f.Offset)

	var records []models.ProcessedRecord
	if err := db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search processed emails: %w", err)
	}
	return records, nil
}

// GetProcessed returns the record for a message hash
func (db *DB) GetProcessed(ctx context.Context, account, hash string) (*models.ProcessedRecord, error) {
	var rec models.ProcessedRecord
	query := `
		SELECT id, account_name, message_hash, message_id, from_addr, to_addr, subject, message_date,
			COALESCE(category, 'UNKNOWN') AS category, processed_at
		FROM processed_emails WHERE account_name = ? AND message_hash = ?`
	err := db.GetContext(ctx, &rec, query, account, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed email: %w", err)
	}
	return &rec, nil
}
