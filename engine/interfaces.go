package engine

import (
	"context"
	"time"

	"flinkly/core"
)

// SellerStore is the read-all / update-by-id view of the user table used by
// the level upgrade job.
type SellerStore interface {
	ListSellers(ctx context.Context) ([]core.SellerRecord, error)
	SetSellerLevel(ctx context.Context, user core.UserID, level core.SellerLevel) error
}

// DigestStore exposes the gig, message and order reads needed for the
// weekly digest.
type DigestStore interface {
	GetUser(ctx context.Context, user core.UserID) (core.SellerRecord, error)
	ListUserIDsExcept(ctx context.Context, role core.Role) ([]core.UserID, error)
	RecentGigs(ctx context.Context, since time.Time, limit int) ([]core.GigSummary, error)
	CountUnreadMessages(ctx context.Context, user core.UserID) (int, error)
	// OpenOrders returns the user's pending and in-progress orders as buyer
	// with gig titles resolved in the same query.
	OpenOrders(ctx context.Context, user core.UserID, limit int) ([]core.OpenOrder, error)
}

// Store is implemented by every persistence adapter.
type Store interface {
	SellerStore
	DigestStore
	Ping(ctx context.Context) error
	Close() error
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time
