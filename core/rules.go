package core

import (
	"errors"
	"fmt"
	"strings"
)

// Requirements maps each level to the thresholds a seller must reach.
// ResponseTimeHours is a ceiling, every other field is a floor.
type Requirements map[SellerLevel]SellerStats

// DefaultRequirements returns a fresh copy of the standard threshold table.
func DefaultRequirements() Requirements {
	return Requirements{
		LevelNew: {
			CompletedOrders:    0,
			AverageRating:      0,
			ResponseTimeHours:  24,
			OnTimeDeliveryRate: 0,
		},
		LevelRising: {
			CompletedOrders:    10,
			AverageRating:      450,
			ResponseTimeHours:  24,
			OnTimeDeliveryRate: 85,
		},
		LevelOne: {
			CompletedOrders:    50,
			AverageRating:      470,
			ResponseTimeHours:  12,
			OnTimeDeliveryRate: 90,
		},
		LevelTopRated: {
			CompletedOrders:    200,
			AverageRating:      490,
			ResponseTimeHours:  6,
			OnTimeDeliveryRate: 95,
		},
	}
}

// Clone returns an independent copy of the table.
func (r Requirements) Clone() Requirements {
	cp := make(Requirements, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Validate checks that every level has thresholds and that each level is at
// least as strict as the one below it.
func (r Requirements) Validate() error {
	var errs []string
	for _, lvl := range LevelOrder {
		if _, ok := r[lvl]; !ok {
			errs = append(errs, fmt.Sprintf("missing thresholds for level %s", lvl))
		}
	}
	for lvl := range r {
		if !lvl.Valid() {
			errs = append(errs, fmt.Sprintf("unknown level %q", lvl))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	for i := 1; i < len(LevelOrder); i++ {
		lo, hi := r[LevelOrder[i-1]], r[LevelOrder[i]]
		name := LevelOrder[i]
		if hi.CompletedOrders < lo.CompletedOrders {
			errs = append(errs, fmt.Sprintf("%s: completed_orders below %s", name, LevelOrder[i-1]))
		}
		if hi.AverageRating < lo.AverageRating {
			errs = append(errs, fmt.Sprintf("%s: average_rating below %s", name, LevelOrder[i-1]))
		}
		if hi.ResponseTimeHours > lo.ResponseTimeHours {
			errs = append(errs, fmt.Sprintf("%s: response_time_hours above %s", name, LevelOrder[i-1]))
		}
		if hi.OnTimeDeliveryRate < lo.OnTimeDeliveryRate {
			errs = append(errs, fmt.Sprintf("%s: on_time_delivery_rate below %s", name, LevelOrder[i-1]))
		}
	}
	for lvl, req := range r {
		if req.AverageRating < 0 || req.AverageRating > 500 {
			errs = append(errs, fmt.Sprintf("%s: average_rating must be within 0..500", lvl))
		}
		if req.OnTimeDeliveryRate < 0 || req.OnTimeDeliveryRate > 100 {
			errs = append(errs, fmt.Sprintf("%s: on_time_delivery_rate must be within 0..100", lvl))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// MeetsLevelRequirements reports whether seller satisfies every threshold of
// target. All comparisons are inclusive. Unknown levels never match.
func MeetsLevelRequirements(table Requirements, seller SellerStats, target SellerLevel) bool {
	req, ok := table[target]
	if !ok {
		return false
	}
	return seller.CompletedOrders >= req.CompletedOrders &&
		seller.AverageRating >= req.AverageRating &&
		seller.ResponseTimeHours <= req.ResponseTimeHours &&
		seller.OnTimeDeliveryRate >= req.OnTimeDeliveryRate
}

// CalculateNextLevel returns the highest level strictly above current that
// seller qualifies for. Levels are probed from the top down so a seller can
// skip intermediate tiers. ok is false when no upgrade applies. An unknown
// current level is treated as LevelNew.
func CalculateNextLevel(table Requirements, current SellerLevel, seller SellerStats) (next SellerLevel, ok bool) {
	idx := current.Rank()
	if idx < 0 {
		idx = 0
	}
	if idx == len(LevelOrder)-1 {
		return "", false
	}
	for i := len(LevelOrder) - 1; i > idx; i-- {
		if MeetsLevelRequirements(table, seller, LevelOrder[i]) {
			return LevelOrder[i], true
		}
	}
	return "", false
}

// Classifier binds the level functions to one requirement table.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	table Requirements
}

// NewClassifier copies table so later changes by the caller do not leak in.
func NewClassifier(table Requirements) Classifier {
	return Classifier{table: table.Clone()}
}

// DefaultClassifier uses DefaultRequirements.
func DefaultClassifier() Classifier { return Classifier{table: DefaultRequirements()} }

func (c Classifier) Meets(seller SellerStats, target SellerLevel) bool {
	return MeetsLevelRequirements(c.table, seller, target)
}

func (c Classifier) NextLevel(current SellerLevel, seller SellerStats) (SellerLevel, bool) {
	return CalculateNextLevel(c.table, current, seller)
}

// Requirements returns a copy of the bound table.
func (c Classifier) Requirements() Requirements { return c.table.Clone() }

// Progress describes how far a seller is from a level. Zero fields mean the
// threshold is already met.
type Progress struct {
	Target            SellerLevel `json:"target"`
	OrdersMissing     int         `json:"orders_missing"`
	RatingMissing     int         `json:"rating_missing"`
	ResponseHoursOver float64     `json:"response_hours_over"`
	OnTimeRateMissing float64     `json:"on_time_rate_missing"`
	Qualified         bool        `json:"qualified"`
}

// LevelProgress reports the gap to the level directly above current.
// ok is false at the top level.
func (c Classifier) LevelProgress(current SellerLevel, seller SellerStats) (Progress, bool) {
	idx := current.Rank()
	if idx < 0 {
		idx = 0
	}
	if idx >= len(LevelOrder)-1 {
		return Progress{}, false
	}
	target := LevelOrder[idx+1]
	req := c.table[target]
	p := Progress{Target: target, Qualified: c.Meets(seller, target)}
	if d := req.CompletedOrders - seller.CompletedOrders; d > 0 {
		p.OrdersMissing = d
	}
	if d := req.AverageRating - seller.AverageRating; d > 0 {
		p.RatingMissing = d
	}
	if d := seller.ResponseTimeHours - req.ResponseTimeHours; d > 0 {
		p.ResponseHoursOver = d
	}
	if d := req.OnTimeDeliveryRate - seller.OnTimeDeliveryRate; d > 0 {
		p.OnTimeRateMissing = d
	}
	return p, true
}
