package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/store"
	"panaderia/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const productColumns = `id, name, category, price, active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var (
		p        domain.Product
		category sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &category, &p.Price, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.Category = fromNullString(category)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, category, price, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		RETURNING `+productColumns,
		product.Name, toNullString(product.Category), product.Price, product.Active)
	created, err := scanProduct(row)
	if err != nil {
		return nil, writeError(err)
	}
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, active = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, toNullString(product.Category), product.Price, product.Active)
	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, writeError(err)
	}
	return &updated, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, search)
		where = append(where, fmt.Sprintf("name ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		where = append(where, fmt.Sprintf("lower(category) = lower($%d)", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}
	limit, offset := store.Page(filter.Limit, filter.Offset)
	args = append(args, limit, offset)

	query := `SELECT ` + productColumns + ` FROM products` + whereClause(where) +
		fmt.Sprintf(` ORDER BY COALESCE(category, ''), name, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	sale = sale.Clone()
	sale.Recompute()
	if err := sale.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (date, payment_method, total, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		RETURNING id
	`, sale.Date, string(sale.PaymentMethod), sale.Total, toNullString(sale.Notes)).Scan(&id)
	if err != nil {
		return nil, writeError(err)
	}
	if err := insertItems(ctx, tx, id, sale.Items); err != nil {
		return nil, err
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return nil, err
	}

	created, err := loadSale(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return loadSale(ctx, s.db, id, false)
}

func (s *Store) UpdateSale(ctx context.Context, id int64, mutate store.SaleMutation) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := loadSale(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.Recompute()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET date = $2, payment_method = $3, total = $4, notes = $5, updated_at = now()
		WHERE id = $1
	`, id, next.Date, string(next.PaymentMethod), next.Total, toNullString(next.Notes))
	if err != nil {
		return nil, writeError(err)
	}
	if itemsReplaced(current.Items, next.Items) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, id); err != nil {
			return nil, err
		}
		if err := insertItems(ctx, tx, id, next.Items); err != nil {
			return nil, err
		}
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return nil, err
	}

	updated, err := loadSale(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteSale(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 5)
	if filter.Range != nil {
		args = append(args, filter.Range.Start, filter.Range.End)
		where = append(where, fmt.Sprintf("date BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}
	if filter.PaymentMethod != nil {
		args = append(args, string(*filter.PaymentMethod))
		where = append(where, fmt.Sprintf("payment_method = $%d", len(args)))
	}
	limit, offset := store.Page(filter.Limit, filter.Offset)
	args = append(args, limit, offset)

	query := `SELECT id, date, payment_method, total, notes, created_at, updated_at FROM sales` +
		whereClause(where) +
		fmt.Sprintf(` ORDER BY id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, limit)
	ids := make([]int64, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return sales, nil
	}
	itemsBySale, err := loadItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for idx := range sales {
		sales[idx].Items = itemsBySale[sales[idx].ID]
	}
	return sales, nil
}

func (s *Store) SummarizeSales(ctx context.Context, rng domain.DateRange) (domain.SalesSummary, error) {
	if err := rng.Validate(); err != nil {
		return domain.SalesSummary{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.SalesSummary{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT payment_method, COUNT(*), COALESCE(SUM(total), 0)
		FROM sales
		WHERE date BETWEEN $1 AND $2
		GROUP BY payment_method
	`, rng.Start, rng.End)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	defer rows.Close()

	builder := domain.NewSummaryBuilder(rng)
	for rows.Next() {
		var (
			method string
			count  int
			amount decimal.Decimal
		)
		if err := rows.Scan(&method, &count, &amount); err != nil {
			return domain.SalesSummary{}, err
		}
		builder.AddMethodTotal(domain.PaymentMethod(method), count, amount)
	}
	if err := rows.Err(); err != nil {
		return domain.SalesSummary{}, err
	}
	return builder.Build(), nil
}

// LedgerEpoch is generated when the schema is migrated, so a rebuilt
// database never reuses the revisions of the one it replaced.
func (s *Store) LedgerEpoch(ctx context.Context) (string, error) {
	var epoch string
	err := s.db.QueryRowContext(ctx, `SELECT epoch FROM ledger_revision WHERE id = 1`).Scan(&epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return epoch, err
}

func (s *Store) SalesRevision(ctx context.Context) (int64, error) {
	var revision int64
	err := s.db.QueryRowContext(ctx, `SELECT revision FROM ledger_revision WHERE id = 1`).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return revision, err
}

const closingColumns = `id, date, initial_cash, counted_cash, expenses, expense_notes, withdrawals, notes,
	total_sales, total_cash_sales, expected_cash, difference, created_at, updated_at`

func scanClosing(row interface{ Scan(...any) error }) (domain.CashClosing, error) {
	var (
		c            domain.CashClosing
		expenseNotes sql.NullString
		notes        sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.Date, &c.InitialCash, &c.CountedCash, &c.Expenses, &expenseNotes, &c.Withdrawals, &notes,
		&c.TotalSales, &c.TotalCashSales, &c.ExpectedCash, &c.Difference, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.CashClosing{}, err
	}
	c.ExpenseNotes = fromNullString(expenseNotes)
	c.Notes = fromNullString(notes)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *Store) GetClosing(ctx context.Context, id int64) (*domain.CashClosing, error) {
	closing, err := scanClosing(s.db.QueryRowContext(ctx, `SELECT `+closingColumns+` FROM cash_closings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &closing, nil
}

func (s *Store) GetClosingByDate(ctx context.Context, date domain.Date) (*domain.CashClosing, error) {
	closing, err := scanClosing(s.db.QueryRowContext(ctx, `SELECT `+closingColumns+` FROM cash_closings WHERE date = $1`, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &closing, nil
}

func (s *Store) ListClosings(ctx context.Context, filter domain.ClosingFilter) ([]domain.CashClosing, error) {
	where := make([]string, 0, 1)
	args := make([]any, 0, 4)
	if filter.Range != nil {
		args = append(args, filter.Range.Start, filter.Range.End)
		where = append(where, fmt.Sprintf("date BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}
	limit, offset := store.Page(filter.Limit, filter.Offset)
	args = append(args, limit, offset)

	query := `SELECT ` + closingColumns + ` FROM cash_closings` + whereClause(where) +
		fmt.Sprintf(` ORDER BY date DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	closings := make([]domain.CashClosing, 0, limit)
	for rows.Next() {
		c, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		closings = append(closings, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return closings, nil
}

func (s *Store) CreateClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO cash_closings (
			date, initial_cash, counted_cash, expenses, expense_notes, withdrawals, notes,
			total_sales, total_cash_sales, expected_cash, difference, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
		RETURNING `+closingColumns,
		closing.Date, closing.InitialCash, closing.CountedCash, closing.Expenses, toNullString(closing.ExpenseNotes),
		closing.Withdrawals, toNullString(closing.Notes), closing.TotalSales, closing.TotalCashSales,
		closing.ExpectedCash, closing.Difference,
	)
	created, err := scanClosing(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, writeError(err)
	}
	return &created, nil
}

func (s *Store) UpdateClosing(ctx context.Context, id int64, mutate store.ClosingMutation) (*domain.CashClosing, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanClosing(tx.QueryRowContext(ctx, `
		SELECT `+closingColumns+`
		FROM cash_closings
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	next := current
	if err := mutate(&next); err != nil {
		return nil, err
	}

	updated, err := scanClosing(tx.QueryRowContext(ctx, `
		UPDATE cash_closings
		SET initial_cash = $2, counted_cash = $3, expenses = $4, expense_notes = $5, withdrawals = $6, notes = $7,
			total_sales = $8, total_cash_sales = $9, expected_cash = $10, difference = $11, updated_at = now()
		WHERE id = $1
		RETURNING `+closingColumns,
		id, next.InitialCash, next.CountedCash, next.Expenses, toNullString(next.ExpenseNotes), next.Withdrawals,
		toNullString(next.Notes), next.TotalSales, next.TotalCashSales, next.ExpectedCash, next.Difference,
	))
	if err != nil {
		return nil, writeError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, now()))
	`, entry.ID, entry.ActorUsername, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, nullTime(entry.CreatedAt))
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = store.DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func scanSale(row interface{ Scan(...any) error }) (domain.Sale, error) {
	var (
		sale   domain.Sale
		method string
		notes  sql.NullString
	)
	if err := row.Scan(&sale.ID, &sale.Date, &method, &sale.Total, &notes, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
		return domain.Sale{}, err
	}
	sale.PaymentMethod = domain.PaymentMethod(method)
	sale.Notes = fromNullString(notes)
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return sale, nil
}

func loadSale(ctx context.Context, q queryer, id int64, forUpdate bool) (*domain.Sale, error) {
	query := `SELECT id, date, payment_method, total, notes, created_at, updated_at FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := loadItems(ctx, q, []int64{id})
	if err != nil {
		return nil, err
	}
	sale.Items = items[id]
	return &sale, nil
}

func loadItems(ctx context.Context, q queryer, saleIDs []int64) (map[int64][]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT si.sale_id, si.id, si.product_id, p.name, si.quantity, si.unit_price
		FROM sale_items si
		LEFT JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = ANY($1)
		ORDER BY si.sale_id, si.id
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var (
			saleID int64
			item   domain.SaleItem
			name   sql.NullString
		)
		if err := rows.Scan(&saleID, &item.ID, &item.ProductID, &name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		item.ProductName = fromNullString(name)
		result[saleID] = append(result[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, saleID int64, items []domain.SaleItem) error {
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4)
		`, saleID, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("product %d: %w", item.ProductID, store.ErrUnknownProduct)
			}
			return writeError(err)
		}
	}
	return nil
}

// itemsReplaced reports whether after differs from the stored lines in
// before. New lines carry a zero id.
func itemsReplaced(before []domain.SaleItem, after []domain.SaleItem) bool {
	if len(before) != len(after) {
		return true
	}
	for idx := range after {
		a, b := after[idx], before[idx]
		if a.ID == 0 || a.ID != b.ID || a.ProductID != b.ProductID ||
			!a.Quantity.Equal(b.Quantity) || !a.UnitPrice.Equal(b.UnitPrice) {
			return true
		}
	}
	return false
}

func bumpRevision(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_revision (id, revision) VALUES (1, 1)
		ON CONFLICT (id) DO UPDATE SET revision = ledger_revision.revision + 1
	`)
	return err
}

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

func toNullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isNumericOverflow(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22003"
	}
	return false
}

// writeError maps value-range failures to store.ErrOutOfRange.
func writeError(err error) error {
	if isNumericOverflow(err) {
		return fmt.Errorf("%w: %v", store.ErrOutOfRange, err)
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
