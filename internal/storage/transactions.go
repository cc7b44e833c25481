package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"tally/internal/core"
)

const transactionColumns = `id, user_id, bank_account_id, category_id, date, description, amount, direction, is_training_data, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t        core.Transaction
		account  sql.NullString
		category sql.NullString
		dir      string
	)
	if err := row.Scan(&t.ID, &t.UserID, &account, &category, dateCol{&t.Date}, &t.Description,
		&t.Amount, &dir, &t.IsTrainingData, timeCol{&t.CreatedAt}); err != nil {
		return core.Transaction{}, err
	}
	t.BankAccountID = account.String
	t.CategoryID = category.String
	t.Direction = core.Direction(dir)
	return t, nil
}

// InsertTransactions stores txs in a single database transaction and applies
// each amount to its bank account balance. Missing IDs are generated.
func (r *Repository) InsertTransactions(ctx context.Context, txs []core.Transaction) ([]string, error) {
	if len(txs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(txs))
	now := r.now().UTC()

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.q(`INSERT INTO transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		deltas := map[string]core.Money{}
		for i, t := range txs {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("%w: transaction %d: %w", core.ErrValidation, i, err)
			}
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			if _, err := stmt.ExecContext(ctx, t.ID, t.UserID, nullString(t.BankAccountID), nullString(t.CategoryID),
				t.Date.String(), t.Description, t.Amount, string(t.Direction), t.IsTrainingData, t.CreatedAt); err != nil {
				return fmt.Errorf("insert transaction %d: %w", i, err)
			}
			ids[i] = t.ID
			if t.BankAccountID != "" {
				deltas[t.BankAccountID] = deltas[t.BankAccountID].Add(t.Amount)
			}
		}

		accounts := make([]string, 0, len(deltas))
		for id := range deltas {
			accounts = append(accounts, id)
		}
		sort.Strings(accounts)
		for _, accountID := range accounts {
			if err := r.adjustBalance(ctx, tx, txs[0].UserID, accountID, deltas[accountID]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "Transactions inserted", "count", len(ids))
	return ids, nil
}

func (r *Repository) adjustBalance(ctx context.Context, tx *sql.Tx, userID, accountID string, delta core.Money) error {
	var balance core.Money
	err := tx.QueryRowContext(ctx, r.q(`SELECT balance FROM bank_accounts WHERE id = ? AND user_id = ?`+r.forUpdate()),
		accountID, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NotFoundf("bank account %s", accountID)
	}
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, r.q(`UPDATE bank_accounts SET balance = ? WHERE id = ?`),
		balance.Add(delta), accountID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (r *Repository) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTransactions returns the user's transactions dated within [from, to], oldest first.
func (r *Repository) ListTransactions(ctx context.Context, userID string, from, to core.Date) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date, created_at, id`, userID, from.String(), to.String())
}

// ListTrainingTransactions returns categorized transactions flagged as training data.
func (r *Repository) ListTrainingTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ? AND is_training_data = ? AND category_id IS NOT NULL
		ORDER BY date, id`, userID, true)
}

func (r *Repository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx, r.q(`SELECT `+transactionColumns+` FROM transactions
		WHERE id = ? AND user_id = ?`), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFoundf("transaction %s", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// DeleteTransaction removes a transaction and reverses its effect on the
// bank account balance in the same database transaction.
func (r *Repository) DeleteTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	var deleted core.Transaction
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		t, err := scanTransaction(tx.QueryRowContext(ctx, r.q(`SELECT `+transactionColumns+` FROM transactions
			WHERE id = ? AND user_id = ?`+r.forUpdate()), id, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return core.NotFoundf("transaction %s", id)
		}
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM transactions WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if t.BankAccountID != "" {
			if err := r.adjustBalance(ctx, tx, userID, t.BankAccountID, t.Amount.Neg()); err != nil {
				return err
			}
		}
		deleted = t
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return deleted, nil
}

// UpdateTransactionCategory sets or clears (empty categoryID) the category.
func (r *Repository) UpdateTransactionCategory(ctx context.Context, userID, id, categoryID string) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE transactions SET category_id = ? WHERE id = ? AND user_id = ?`),
		nullString(categoryID), id, userID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Transaction{}, core.NotFoundf("transaction %s", id)
	}
	return r.GetTransaction(ctx, userID, id)
}

// ActiveUsers lists users with a transaction dated on or after since.
func (r *Repository) ActiveUsers(ctx context.Context, since core.Date) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT DISTINCT user_id FROM transactions WHERE date >= ? ORDER BY user_id`),
		since.String())
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
