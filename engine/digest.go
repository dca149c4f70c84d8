package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flinkly/core"
)

// DigestOptions tunes the digest aggregation.
type DigestOptions struct {
	// Window is how far back new gigs are collected.
	Window time.Duration
	// MaxGigs and MaxOrders cap the list sizes.
	MaxGigs   int
	MaxOrders int
}

// DefaultDigestOptions collects up to five gigs from the last seven days and
// up to five open orders.
func DefaultDigestOptions() DigestOptions {
	return DigestOptions{Window: 7 * 24 * time.Hour, MaxGigs: 5, MaxOrders: 5}
}

// Digests aggregates weekly digest content per recipient.
type Digests struct {
	store  DigestStore
	opts   DigestOptions
	logger *slog.Logger
	now    Clock
}

func NewDigests(store DigestStore, opts DigestOptions, logger *slog.Logger, now Clock) *Digests {
	if store == nil {
		panic("NewDigests requires a non-nil store")
	}
	def := DefaultDigestOptions()
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.MaxGigs <= 0 {
		opts.MaxGigs = def.MaxGigs
	}
	if opts.MaxOrders <= 0 {
		opts.MaxOrders = def.MaxOrders
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Digests{store: store, opts: opts, logger: logger, now: now}
}

// GetDigestRecipients returns every user id except admins. An unreachable
// store yields an empty list.
func (d *Digests) GetDigestRecipients(ctx context.Context) ([]core.UserID, error) {
	ids, err := d.store.ListUserIDsExcept(ctx, core.RoleAdmin)
	if err != nil {
		if errors.Is(err, core.ErrStoreUnavailable) {
			d.logger.WarnContext(ctx, "digest store not available", "error", err)
			return []core.UserID{}, nil
		}
		return nil, fmt.Errorf("list digest recipients: %w", err)
	}
	if ids == nil {
		ids = []core.UserID{}
	}
	return ids, nil
}

// AggregateDigestContent collects the weekly summary of one user. It returns
// nil without an error when the store is unreachable or the user does not
// exist. New gigs are not filtered by the user's interests.
func (d *Digests) AggregateDigestContent(ctx context.Context, user core.UserID) (*core.DigestData, error) {
	rec, err := d.store.GetUser(ctx, user)
	switch {
	case errors.Is(err, core.ErrStoreUnavailable):
		d.logger.WarnContext(ctx, "digest store not available", "user_id", user, "error", err)
		return nil, nil
	case errors.Is(err, core.ErrUserNotFound):
		d.logger.WarnContext(ctx, "digest user not found", "user_id", user)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get user %d: %w", user, err)
	}

	since := d.now().Add(-d.opts.Window)
	gigs, err := d.store.RecentGigs(ctx, since, d.opts.MaxGigs)
	if err != nil {
		return d.fail(ctx, user, "recent gigs", err)
	}
	unread, err := d.store.CountUnreadMessages(ctx, user)
	if err != nil {
		return d.fail(ctx, user, "unread messages", err)
	}
	orders, err := d.store.OpenOrders(ctx, user, d.opts.MaxOrders)
	if err != nil {
		return d.fail(ctx, user, "open orders", err)
	}

	data := &core.DigestData{
		UserID:         rec.ID,
		UserName:       rec.Name,
		Email:          rec.Email,
		NewGigs:        truncateGigs(gigs, d.opts.MaxGigs),
		UnreadMessages: unread,
		OpenOrders:     normalizeOrders(orders, d.opts.MaxOrders),
	}
	if data.UserName == "" {
		data.UserName = core.DefaultUserName
	}
	return data, nil
}

func (d *Digests) fail(ctx context.Context, user core.UserID, what string, err error) (*core.DigestData, error) {
	if errors.Is(err, core.ErrStoreUnavailable) {
		d.logger.WarnContext(ctx, "digest store not available", "user_id", user, "error", err)
		return nil, nil
	}
	return nil, fmt.Errorf("%s for user %d: %w", what, user, err)
}

func truncateGigs(gigs []core.GigSummary, max int) []core.GigSummary {
	if len(gigs) > max {
		gigs = gigs[:max]
	}
	out := make([]core.GigSummary, len(gigs))
	copy(out, gigs)
	return out
}

func normalizeOrders(orders []core.OpenOrder, max int) []core.OpenOrder {
	if len(orders) > max {
		orders = orders[:max]
	}
	out := make([]core.OpenOrder, 0, len(orders))
	for _, o := range orders {
		if o.GigTitle == "" {
			o.GigTitle = core.UnknownGigTitle
		}
		if o.Status == "" {
			o.Status = core.OrderPending
		}
		out = append(out, o)
	}
	return out
}
