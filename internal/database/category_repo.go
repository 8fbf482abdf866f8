package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tofagerl/mailmind/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// SyncCategories upserts the configured categories of an account
func (db *DB) SyncCategories(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO categories (account_name, name, description, folder, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_name, name) DO UPDATE SET
			description = excluded.description,
			folder = excluded.folder,
			updated_at = excluded.updated_at
	`

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return &models.StateError{Op: "sync_categories", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, c := range account.CategorySet().All() {
		if _, err := tx.ExecContext(ctx, query, account.Name, c.Name, c.Description, c.TargetFolder(), now); err != nil {
			return &models.StateError{Op: "sync_categories", Err: fmt.Errorf("category %s: %w", c.Name, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.StateError{Op: "sync_categories", Err: err}
	}
	return nil
}

// Categories returns the stored categories of an account
func (db *DB) Categories(ctx context.Context, account string) ([]models.Category, error) {
	var cats []models.Category
	query := `SELECT name, description, folder FROM categories WHERE account_name = ? ORDER BY id`
	if err := db.SelectContext(ctx, &cats, query, account); err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	if len(cats) == 0 {
		return nil, ErrNotFound
	}
	return cats, nil
}
