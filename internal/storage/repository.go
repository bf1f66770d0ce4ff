package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/feed"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = core.ErrNotFound

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// UpsertUser creates the user or replaces its display name.
func (r *SQLiteRepository) UpsertUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, updated_at = excluded.updated_at`,
		u.ID, strings.TrimSpace(u.DisplayName), r.stamp())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	u := core.User{ID: id}
	err := r.db.QueryRowContext(ctx, `SELECT display_name FROM users WHERE id = ?`, id).Scan(&u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// DisplayNames returns every known user id with its display name.
func (r *SQLiteRepository) DisplayNames(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, display_name FROM users`)
	if err != nil {
		return nil, fmt.Errorf("query display names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan display name: %w", err)
		}
		if name != "" {
			names[id] = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate display names: %w", err)
	}
	return names, nil
}

// CreateGroup stores a new group and returns it with its generated id.
func (r *SQLiteRepository) CreateGroup(ctx context.Context, g core.Group) (core.Group, error) {
	g.ID = uuid.NewString()
	g.Name = strings.TrimSpace(g.Name)
	g.Members = core.UniqueIDs(g.Members)
	g.Total = decimal.Zero
	g.CreatedAt = r.now().UTC()

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO groups (id, name, description, total, created_at) VALUES (?, ?, ?, ?, ?)`,
			g.ID, g.Name, g.Description, g.Total.String(), g.CreatedAt.Format(timeLayout)); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		return replaceMembers(ctx, tx, g.ID, g.Members)
	})
	if err != nil {
		return core.Group{}, fmt.Errorf("create group: %w", err)
	}

	slog.InfoContext(ctx, "Group created", "group_id", g.ID, "members", len(g.Members))
	return g, nil
}

// UpdateGroup replaces name, description and members. The running total is
// left alone.
func (r *SQLiteRepository) UpdateGroup(ctx context.Context, g core.Group) (core.Group, error) {
	g.Name = strings.TrimSpace(g.Name)
	g.Members = core.UniqueIDs(g.Members)

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE groups SET name = ?, description = ? WHERE id = ?`, g.Name, g.Description, g.ID)
		if err != nil {
			return fmt.Errorf("update group row: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return replaceMembers(ctx, tx, g.ID, g.Members)
	})
	if err != nil {
		return core.Group{}, fmt.Errorf("update group: %w", err)
	}
	return r.GetGroup(ctx, g.ID)
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id string) (core.Group, error) {
	groups, err := r.queryGroups(ctx, `WHERE g.id = ?`, id)
	if err != nil {
		return core.Group{}, fmt.Errorf("get group: %w", err)
	}
	if len(groups) == 0 {
		return core.Group{}, ErrNotFound
	}
	return groups[0], nil
}

// ListGroups returns all groups, or only those userID belongs to when it is
// not empty. Newest first.
func (r *SQLiteRepository) ListGroups(ctx context.Context, userID string) ([]core.Group, error) {
	var (
		groups []core.Group
		err    error
	)
	if userID == "" {
		groups, err = r.queryGroups(ctx, ``)
	} else {
		groups, err = r.queryGroups(ctx,
			`WHERE g.id IN (SELECT group_id FROM group_members WHERE user_id = ?)`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// DeleteGroup removes the group together with its members and expenses.
func (r *SQLiteRepository) DeleteGroup(ctx context.Context, id string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM expense_debts WHERE group_id = ?`,
			`DELETE FROM expense_participants WHERE group_id = ?`,
			`DELETE FROM expenses WHERE group_id = ?`,
			`DELETE FROM group_members WHERE group_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	slog.InfoContext(ctx, "Group deleted", "group_id", id)
	return nil
}

// CreateExpense stores the expense and adds its amount to the group total in
// one transaction. An empty id is replaced with a generated one.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		total, err := groupTotal(ctx, tx, e.GroupID)
		if err != nil {
			return err
		}

		var payer any
		if e.Payer != "" {
			payer = e.Payer
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (id, group_id, description, amount, payer, photo_url, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.GroupID, e.Description, e.Amount.String(), payer, e.PhotoURL,
			e.CreatedAt.Format(timeLayout)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("expense %s: %w", e.ID, core.ErrConflict)
			}
			return fmt.Errorf("insert expense: %w", err)
		}

		for i, p := range e.Participants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO expense_participants (group_id, expense_id, user_id, position) VALUES (?, ?, ?, ?)`,
				e.GroupID, e.ID, p, i); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		for i, d := range e.ExplicitDebts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO expense_debts (group_id, expense_id, position, debtor, creditor, amount)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.GroupID, e.ID, i, d.Debtor, d.Creditor, d.Amount.String()); err != nil {
				return fmt.Errorf("insert debt: %w", err)
			}
		}

		return setGroupTotal(ctx, tx, e.GroupID, total.Add(e.Amount))
	})
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved to SQLite",
		"group_id", e.GroupID,
		"expense_id", e.ID,
		"amount", e.Amount.String(),
		"explicit_debts", len(e.ExplicitDebts))
	return e, nil
}

// DeleteExpense soft-deletes the expense and takes its amount off the group
// total. Deleting an already deleted expense reports ErrNotFound.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, groupID, expenseID string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT amount FROM expenses WHERE group_id = ? AND id = ? AND deleted_at IS NULL`,
			groupID, expenseID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse stored amount %q: %w", raw, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE expenses SET deleted_at = ? WHERE group_id = ? AND id = ?`,
			r.stamp(), groupID, expenseID); err != nil {
			return err
		}

		total, err := groupTotal(ctx, tx, groupID)
		if err != nil {
			return err
		}
		return setGroupTotal(ctx, tx, groupID, total.Sub(amount))
	})
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense deleted", "group_id", groupID, "expense_id", expenseID)
	return nil
}

// ListExpenses returns the live expenses of a group, newest first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error) {
	expenses, err := r.queryExpenses(ctx, `AND e.group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

// ExpenseSnapshot returns every live expense in scope: all groups for the
// global scope, otherwise the groups the user is a member of.
func (r *SQLiteRepository) ExpenseSnapshot(ctx context.Context, scope feed.Scope) ([]core.Expense, error) {
	var (
		expenses []core.Expense
		err      error
	)
	if scope.Global() {
		expenses, err = r.queryExpenses(ctx, ``)
	} else {
		expenses, err = r.queryExpenses(ctx,
			`AND e.group_id IN (SELECT group_id FROM group_members WHERE user_id = ?)`, scope.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("expense snapshot: %w", err)
	}
	return expenses, nil
}

func (r *SQLiteRepository) queryGroups(ctx context.Context, where string, args ...any) ([]core.Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.description, g.total, g.created_at FROM groups g `+where+
			` ORDER BY g.created_at DESC, g.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []core.Group
	index := make(map[string]int)
	for rows.Next() {
		var (
			g              core.Group
			total, created string
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &total, &created); err != nil {
			return nil, err
		}
		if g.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parse group total %q: %w", total, err)
		}
		g.CreatedAt, _ = time.Parse(timeLayout, created)
		index[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return groups, nil
	}

	members, err := r.db.QueryContext(ctx,
		`SELECT group_id, user_id FROM group_members ORDER BY group_id, position`)
	if err != nil {
		return nil, err
	}
	defer members.Close()
	for members.Next() {
		var groupID, userID string
		if err := members.Scan(&groupID, &userID); err != nil {
			return nil, err
		}
		if i, ok := index[groupID]; ok {
			groups[i].Members = append(groups[i].Members, userID)
		}
	}
	return groups, members.Err()
}

type expenseKey struct{ group, id string }

// queryExpenses loads live expenses matching filter together with their
// participants and debts. filter is appended to the WHERE clause of each of
// the three queries and must refer to the expense as e. The three queries
// share one read transaction so a concurrent write is seen entirely or not
// at all. Expenses with an unreadable amount are logged and left out.
func (r *SQLiteRepository) queryExpenses(ctx context.Context, filter string, args ...any) ([]core.Expense, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	expenses, err := scanExpenses(ctx, tx, filter, args)
	if err != nil {
		return nil, err
	}
	if len(expenses) == 0 {
		return expenses, nil
	}
	index := make(map[expenseKey]int, len(expenses))
	for i, e := range expenses {
		index[expenseKey{e.GroupID, e.ID}] = i
	}
	if err := scanParticipants(ctx, tx, filter, args, expenses, index); err != nil {
		return nil, err
	}
	unreadable, err := scanDebts(ctx, tx, filter, args, expenses, index)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("end read: %w", err)
	}
	if len(unreadable) == 0 {
		return expenses, nil
	}

	kept := expenses[:0]
	for _, e := range expenses {
		if !unreadable[expenseKey{e.GroupID, e.ID}] {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

func scanExpenses(ctx context.Context, tx *sql.Tx, filter string, args []any) ([]core.Expense, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT e.id, e.group_id, e.description, e.amount, COALESCE(e.payer, ''), e.photo_url, e.created_at
		FROM expenses e
		WHERE e.deleted_at IS NULL `+filter+`
		ORDER BY e.created_at DESC, e.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		var (
			e               core.Expense
			amount, created string
		)
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Description, &amount, &e.Payer, &e.PhotoURL, &created); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			slog.WarnContext(ctx, "Skipping expense with unreadable amount",
				"group_id", e.GroupID, "expense_id", e.ID, "error", err)
			continue
		}
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func scanParticipants(ctx context.Context, tx *sql.Tx, filter string, args []any, expenses []core.Expense, index map[expenseKey]int) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT p.group_id, p.expense_id, p.user_id
		FROM expense_participants p
		JOIN expenses e ON e.group_id = p.group_id AND e.id = p.expense_id
		WHERE e.deleted_at IS NULL `+filter+`
		ORDER BY p.group_id, p.expense_id, p.position`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k expenseKey
		var user string
		if err := rows.Scan(&k.group, &k.id, &user); err != nil {
			return err
		}
		if i, ok := index[k]; ok {
			expenses[i].Participants = append(expenses[i].Participants, user)
		}
	}
	return rows.Err()
}

// scanDebts attaches explicit debts and returns the expenses that carry a
// debt whose amount does not parse.
func scanDebts(ctx context.Context, tx *sql.Tx, filter string, args []any, expenses []core.Expense, index map[expenseKey]int) (map[expenseKey]bool, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT d.group_id, d.expense_id, d.debtor, d.creditor, d.amount
		FROM expense_debts d
		JOIN expenses e ON e.group_id = d.group_id AND e.id = d.expense_id
		WHERE e.deleted_at IS NULL `+filter+`
		ORDER BY d.group_id, d.expense_id, d.position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unreadable map[expenseKey]bool
	for rows.Next() {
		var (
			k      expenseKey
			d      core.Debt
			amount string
		)
		if err := rows.Scan(&k.group, &k.id, &d.Debtor, &d.Creditor, &amount); err != nil {
			return nil, err
		}
		i, ok := index[k]
		if !ok {
			continue
		}
		if d.Amount, err = decimal.NewFromString(amount); err != nil {
			if !unreadable[k] {
				slog.WarnContext(ctx, "Skipping expense with unreadable debt amount",
					"group_id", k.group, "expense_id", k.id, "error", err)
			}
			if unreadable == nil {
				unreadable = make(map[expenseKey]bool)
			}
			unreadable[k] = true
			continue
		}
		expenses[i].ExplicitDebts = append(expenses[i].ExplicitDebts, d)
	}
	return unreadable, rows.Err()
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) stamp() string {
	return r.now().UTC().Format(timeLayout)
}

func replaceMembers(ctx context.Context, tx *sql.Tx, groupID string, members []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for i, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, position) VALUES (?, ?, ?)`,
			groupID, m, i); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return nil
}

func groupTotal(ctx context.Context, tx *sql.Tx, groupID string) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT total FROM groups WHERE id = ?`, groupID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read group total: %w", err)
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse group total %q: %w", raw, err)
	}
	return total, nil
}

func setGroupTotal(ctx context.Context, tx *sql.Tx, groupID string, total decimal.Decimal) error {
	if _, err := tx.ExecContext(ctx, `UPDATE groups SET total = ? WHERE id = ?`, total.String(), groupID); err != nil {
		return fmt.Errorf("update group total: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
