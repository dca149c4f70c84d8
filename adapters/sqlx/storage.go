// Package sqlx implements the engine store on top of jmoiron/sqlx. Both
// PostgreSQL (lib/pq) and MySQL (go-sql-driver/mysql) are supported; queries
// are written with ? placeholders and rebound per driver.
package sqlx

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	libsqlx "github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"flinkly/core"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds database connection settings.
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns pool defaults for driver. DSN must be filled in.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// Store reads sellers, gigs, conversations and orders from the marketplace
// database and writes seller levels back.
type Store struct {
	db     *libsqlx.DB
	driver Driver
}

// New opens the database and verifies the connection. A failed ping is
// reported as core.ErrStoreUnavailable.
func New(cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("sql dsn is required")
	}
	db, err := libsqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w: %w", cfg.Driver, core.ErrStoreUnavailable, err)
	}
	return &Store{db: db, driver: cfg.Driver}, nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *libsqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) q(query string) string { return s.db.Rebind(query) }

// classify marks connection level failures as core.ErrStoreUnavailable.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const sellerColumns = `id, name, email, role, seller_level, completed_orders, average_rating, response_time_hours, on_time_delivery_rate`

type sellerRow struct {
	ID                 int64           `db:"id"`
	Name               sql.NullString  `db:"name"`
	Email              sql.NullString  `db:"email"`
	Role               sql.NullString  `db:"role"`
	SellerLevel        sql.NullString  `db:"seller_level"`
	CompletedOrders    sql.NullInt64   `db:"completed_orders"`
	AverageRating      sql.NullInt64   `db:"average_rating"`
	ResponseTimeHours  sql.NullFloat64 `db:"response_time_hours"`
	OnTimeDeliveryRate sql.NullFloat64 `db:"on_time_delivery_rate"`
}

func (r sellerRow) record() core.SellerRecord {
	rec := core.SellerRecord{
		ID:          core.UserID(r.ID),
		Name:        r.Name.String,
		Email:       r.Email.String,
		Role:        core.Role(r.Role.String),
		SellerLevel: core.SellerLevel(r.SellerLevel.String),
	}
	if rec.Role == "" {
		rec.Role = core.RoleUser
	}
	if r.CompletedOrders.Valid {
		rec.CompletedOrders = core.IntPtr(int(r.CompletedOrders.Int64))
	}
	if r.AverageRating.Valid {
		rec.AverageRating = core.IntPtr(int(r.AverageRating.Int64))
	}
	if r.ResponseTimeHours.Valid {
		rec.ResponseTimeHours = core.FloatPtr(r.ResponseTimeHours.Float64)
	}
	if r.OnTimeDeliveryRate.Valid {
		rec.OnTimeDeliveryRate = core.FloatPtr(r.OnTimeDeliveryRate.Float64)
	}
	return rec
}

func (s *Store) ListSellers(ctx context.Context) ([]core.SellerRecord, error) {
	var rows []sellerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+sellerColumns+` FROM users ORDER BY id`); err != nil {
		return nil, classify("list sellers", err)
	}
	out := make([]core.SellerRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *Store) SetSellerLevel(ctx context.Context, user core.UserID, level core.SellerLevel) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE users SET seller_level = ?, updated_at = ? WHERE id = ?`),
		string(level), time.Now().UTC(), int64(user))
	if err != nil {
		return classify("set seller level", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("set seller level", err)
	}
	if n == 0 {
		return fmt.Errorf("set seller level for %d: %w", user, core.ErrUserNotFound)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, user core.UserID) (core.SellerRecord, error) {
	var row sellerRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+sellerColumns+` FROM users WHERE id = ?`), int64(user))
	if errors.Is(err, sql.ErrNoRows) {
		return core.SellerRecord{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.SellerRecord{}, classify("get user", err)
	}
	return row.record(), nil
}

func (s *Store) ListUserIDsExcept(ctx context.Context, role core.Role) ([]core.UserID, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, s.q(`SELECT id FROM users WHERE role <> ? ORDER BY id`), string(role)); err != nil {
		return nil, classify("list user ids", err)
	}
	out := make([]core.UserID, len(ids))
	for i, id := range ids {
		out[i] = core.UserID(id)
	}
	return out, nil
}

// RecentGigs returns gigs created at or after since, newest first.
func (s *Store) RecentGigs(ctx context.Context, since time.Time, limit int) ([]core.GigSummary, error) {
	gigs := []core.GigSummary{}
	err := s.db.SelectContext(ctx, &gigs, s.q(
		`SELECT id, title, category, price FROM gigs
		 WHERE created_at >= ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`), since.UTC(), limit)
	if err != nil {
		return nil, classify("recent gigs", err)
	}
	return gigs, nil
}

// CountUnreadMessages counts unread messages sent by the other party in
// conversations the user takes part in.
func (s *Store) CountUnreadMessages(ctx context.Context, user core.UserID) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.q(
		`SELECT COUNT(*) FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE (c.buyer_id = ? OR c.seller_id = ?)
		   AND m.sender_id <> ?
		   AND m.read_at IS NULL`), int64(user), int64(user), int64(user))
	if err != nil {
		return 0, classify("count unread messages", err)
	}
	return n, nil
}

// OpenOrders resolves gig titles with a single join.
func (s *Store) OpenOrders(ctx context.Context, user core.UserID, limit int) ([]core.OpenOrder, error) {
	orders := []core.OpenOrder{}
	err := s.db.SelectContext(ctx, &orders, s.q(
		`SELECT o.id, COALESCE(g.title, ?) AS gig_title, o.status
		 FROM orders o
		 LEFT JOIN gigs g ON g.id = o.gig_id
		 WHERE o.buyer_id = ? AND o.status IN (?, ?)
		 ORDER BY o.created_at DESC, o.id DESC
		 LIMIT ?`),
		core.UnknownGigTitle, int64(user), core.OrderPending, core.OrderInProgress, limit)
	if err != nil {
		return nil, classify("open orders", err)
	}
	return orders, nil
}
