package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLLedger stores orders in SQLite or PostgreSQL. Queries use $n
// placeholders, which both drivers accept.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to the database. For SQLite the pool is limited to one
// connection; SQLite allows a single writer and ":memory:" databases live and
// die with their connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLLedger, error) {
	var driverName string
	switch dialect {
	case DialectSQLite:
		driverName = "sqlite"
	case DialectPostgres:
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported ledger dialect %q", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLLedger{db: db, dialect: dialect, now: time.Now}, nil
}

func (l *SQLLedger) Close() error {
	return l.db.Close()
}

const orderColumns = `id, user_id, lines, total, status, pos_order_id, created_at, updated_at`

func (l *SQLLedger) Record(ctx context.Context, order *domain.Order) (uuid.UUID, error) {
	if err := validateNew(order); err != nil {
		return uuid.Nil, err
	}
	linesJSON, err := json.Marshal(order.Lines)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal order lines: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID.String(),
		order.UserID,
		string(linesJSON),
		order.Total.String(),
		string(order.Status),
		order.PosOrderID,
		order.CreatedAt.UnixMilli(),
		order.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, ErrDuplicateOrder
		}
		return uuid.Nil, fmt.Errorf("insert order: %w", err)
	}

	if err := insertEvent(ctx, tx, order, order.CreatedAt); err != nil {
		return uuid.Nil, err
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return order.ID, nil
}

// UpdateStatus moves an order with a compare-and-swap on its current status,
// so two concurrent updates cannot both leave a terminal state.
func (l *SQLLedger) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, posOrderID string) (*domain.Order, error) {
	sources := domain.SourcesOf(status)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: nothing moves to %s", ErrIllegalTransition, status)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := l.now()
	args := []any{string(status), posOrderID, now.UnixMilli(), id.String()}
	placeholders := make([]string, len(sources))
	for i, s := range sources {
		args = append(args, string(s))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, pos_order_id = COALESCE(NULLIF(CAST($2 AS TEXT), ''), pos_order_id), updated_at = $3
		 WHERE id = $4 AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id.String()).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("query order status: %w", err)
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, status)
	}

	order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id.String()))
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}
	if err := insertEvent(ctx, tx, order, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return order, nil
}

func (l *SQLLedger) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(l.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (l *SQLLedger) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	return l.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID)
}

func (l *SQLLedger) ListUnresolved(ctx context.Context, olderThan time.Time) ([]*domain.Order, error) {
	return l.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status IN ($1, $2) AND created_at <= $3
		 ORDER BY created_at, id`,
		string(domain.OrderStatusCreated), string(domain.OrderStatusSubmitted), olderThan.UnixMilli())
}

func (l *SQLLedger) PendingForUser(ctx context.Context, userID string) (*domain.Order, error) {
	order, err := scanOrder(l.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1 AND status IN ($2, $3)
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, string(domain.OrderStatusCreated), string(domain.OrderStatusSubmitted)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query pending order: %w", err)
	}
	return order, nil
}

func (l *SQLLedger) Stats(ctx context.Context, since time.Time) (Stats, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, total FROM orders WHERE created_at >= $1`, since.UnixMilli())
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status, total string
		if err := rows.Scan(&status, &total); err != nil {
			return Stats{}, fmt.Errorf("scan stats row: %w", err)
		}
		amount, err := decimal.NewFromString(total)
		if err != nil {
			return Stats{}, fmt.Errorf("parse order total %q: %w", total, err)
		}
		s.add(domain.OrderStatus(status), amount)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("row iteration error: %w", err)
	}
	return s, nil
}

func (l *SQLLedger) UnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at
		 FROM outbox WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var (
			e         OutboxEvent
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (l *SQLLedger) MarkEventProcessed(ctx context.Context, id int64) error {
	res, err := l.db.ExecContext(ctx, `UPDATE outbox SET processed_at = $1 WHERE id = $2`, l.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (l *SQLLedger) queryOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		order                domain.Order
		id, lines, total     string
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &order.UserID, &lines, &total, &status, &order.PosOrderID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if order.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse order id: %w", err)
	}
	if err := json.Unmarshal([]byte(lines), &order.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal order lines: %w", err)
	}
	if order.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = time.UnixMilli(createdAt).UTC()
	order.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &order, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, order *domain.Order, at time.Time) error {
	event, err := newEvent(order, at)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox (aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`,
		event.AggregateID, event.EventType, string(event.Payload), event.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
