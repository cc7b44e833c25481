package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tally/internal/core"
)

// EnsureCategory returns the user's category with the given name
// (case-insensitive), creating it when missing.
func (r *Repository) EnsureCategory(ctx context.Context, userID, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, core.Validationf("category name is required")
	}

	c, err := r.categoryByName(ctx, userID, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("lookup category: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, r.q(`INSERT INTO categories (id, user_id, name, created_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (user_id, name) DO NOTHING`),
		uuid.NewString(), userID, name, r.now().UTC()); err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}

	c, err = r.categoryByName(ctx, userID, name)
	if err != nil {
		return core.Category{}, fmt.Errorf("reload category: %w", err)
	}
	return c, nil
}

func (r *Repository) categoryByName(ctx context.Context, userID, name string) (core.Category, error) {
	var c core.Category
	err := r.db.QueryRowContext(ctx, r.q(`SELECT id, user_id, name FROM categories
		WHERE user_id = ? AND lower(name) = lower(?) ORDER BY created_at LIMIT 1`), userID, name).
		Scan(&c.ID, &c.UserID, &c.Name)
	return c, err
}

func (r *Repository) GetCategory(ctx context.Context, userID, id string) (core.Category, error) {
	var c core.Category
	err := r.db.QueryRowContext(ctx, r.q(`SELECT id, user_id, name FROM categories WHERE id = ? AND user_id = ?`),
		id, userID).Scan(&c.ID, &c.UserID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.NotFoundf("category %s", id)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (r *Repository) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT id, user_id, name FROM categories WHERE user_id = ? ORDER BY name`), userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) CreateBankAccount(ctx context.Context, acct core.BankAccount) (core.BankAccount, error) {
	if strings.TrimSpace(acct.Name) == "" {
		return core.BankAccount{}, core.Validationf("bank account name is required")
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if _, err := r.db.ExecContext(ctx, r.q(`INSERT INTO bank_accounts (id, user_id, name, balance, created_at)
		VALUES (?, ?, ?, ?, ?)`), acct.ID, acct.UserID, acct.Name, acct.Balance, r.now().UTC()); err != nil {
		return core.BankAccount{}, fmt.Errorf("insert bank account: %w", err)
	}
	return acct, nil
}

func (r *Repository) GetBankAccount(ctx context.Context, userID, id string) (core.BankAccount, error) {
	var a core.BankAccount
	err := r.db.QueryRowContext(ctx, r.q(`SELECT id, user_id, name, balance FROM bank_accounts WHERE id = ? AND user_id = ?`),
		id, userID).Scan(&a.ID, &a.UserID, &a.Name, &a.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BankAccount{}, core.NotFoundf("bank account %s", id)
	}
	if err != nil {
		return core.BankAccount{}, fmt.Errorf("get bank account: %w", err)
	}
	return a, nil
}

// APIKeyForUser returns the user's classification service key.
func (r *Repository) APIKeyForUser(ctx context.Context, userID string) (string, error) {
	var key string
	err := r.db.QueryRowContext(ctx, r.q(`SELECT api_key FROM classifier_keys WHERE user_id = ?`), userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.NotFoundf("classification api key for user %s", userID)
	}
	if err != nil {
		return "", fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

func (r *Repository) SetAPIKey(ctx context.Context, userID, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return core.Validationf("api key is required")
	}
	if _, err := r.db.ExecContext(ctx, r.q(`INSERT INTO classifier_keys (user_id, api_key, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET api_key = excluded.api_key, updated_at = excluded.updated_at`),
		userID, apiKey, r.now().UTC()); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}
