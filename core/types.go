package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStoreUnavailable marks a backend that cannot be reached. Callers
	// treat it as a soft failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUserNotFound is returned by stores when a user id does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnknownLevel is returned when parsing an unrecognised seller level.
	ErrUnknownLevel = errors.New("unknown seller level")
)

// UserID uniquely identifies a marketplace user.
type UserID int64

// Role is the account role stored on a user row.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SellerLevel is the seller reputation tier. Levels are totally ordered,
// see LevelOrder.
type SellerLevel string

const (
	LevelNew      SellerLevel = "new"
	LevelRising   SellerLevel = "rising"
	LevelOne      SellerLevel = "level_one"
	LevelTopRated SellerLevel = "top_rated"
)

// LevelOrder lists all seller levels in ascending order.
var LevelOrder = [...]SellerLevel{LevelNew, LevelRising, LevelOne, LevelTopRated}

// Rank returns the position of the level in LevelOrder, or -1.
func (l SellerLevel) Rank() int {
	for i, lvl := range LevelOrder {
		if lvl == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is one of the known levels.
func (l SellerLevel) Valid() bool { return l.Rank() >= 0 }

// Less reports whether l ranks strictly below other.
func (l SellerLevel) Less(other SellerLevel) bool { return l.Rank() < other.Rank() }

// MaxLevel returns the highest seller level.
func MaxLevel() SellerLevel { return LevelOrder[len(LevelOrder)-1] }

// ParseSellerLevel normalizes and validates a level name.
func ParseSellerLevel(s string) (SellerLevel, error) {
	l := SellerLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
	return l, nil
}

// SellerStats is the read view of a seller's performance figures.
// AverageRating is stars scaled by 100 (450 = 4.5 stars).
type SellerStats struct {
	CompletedOrders    int     `json:"completed_orders"`
	AverageRating      int     `json:"average_rating"`
	ResponseTimeHours  float64 `json:"response_time_hours"`
	OnTimeDeliveryRate float64 `json:"on_time_delivery_rate"`
}

// Defaults applied to missing stat columns.
const (
	DefaultResponseTimeHours = 24
)

// SellerRecord is a user row as read by the level job and the digest.
// Nil stat fields mean the column was NULL.
type SellerRecord struct {
	ID                 UserID      `json:"id" db:"id"`
	Name               string      `json:"name,omitempty" db:"name"`
	Email              string      `json:"email,omitempty" db:"email"`
	Role               Role        `json:"role" db:"role"`
	SellerLevel        SellerLevel `json:"seller_level,omitempty" db:"seller_level"`
	CompletedOrders    *int        `json:"completed_orders,omitempty"`
	AverageRating      *int        `json:"average_rating,omitempty"`
	ResponseTimeHours  *float64    `json:"response_time_hours,omitempty"`
	OnTimeDeliveryRate *float64    `json:"on_time_delivery_rate,omitempty"`
}

// Level returns the stored level, falling back to LevelNew when the column
// is empty or holds an unknown value.
func (r SellerRecord) Level() SellerLevel {
	if r.SellerLevel.Valid() {
		return r.SellerLevel
	}
	return LevelNew
}

// Stats builds SellerStats with defaults for missing columns: response time
// defaults to 24 hours, everything else to zero.
func (r SellerRecord) Stats() SellerStats {
	st := SellerStats{ResponseTimeHours: DefaultResponseTimeHours}
	if r.CompletedOrders != nil {
		st.CompletedOrders = *r.CompletedOrders
	}
	if r.AverageRating != nil {
		st.AverageRating = *r.AverageRating
	}
	// a zero response time is treated as missing
	if r.ResponseTimeHours != nil && *r.ResponseTimeHours != 0 {
		st.ResponseTimeHours = *r.ResponseTimeHours
	}
	if r.OnTimeDeliveryRate != nil {
		st.OnTimeDeliveryRate = *r.OnTimeDeliveryRate
	}
	return st
}

// Transition records one applied level upgrade.
type Transition struct {
	UserID UserID      `json:"user_id"`
	Name   string      `json:"name,omitempty"`
	Email  string      `json:"email,omitempty"`
	From   SellerLevel `json:"from"`
	To     SellerLevel `json:"to"`
	Stats  SellerStats `json:"stats"`
	At     time.Time   `json:"at"`
}

// IntPtr and FloatPtr help build SellerRecord literals.
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }
