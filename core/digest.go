package core

// Fallback labels used when the referenced row has no usable value.
const (
	DefaultUserName = "Flinkly-Nutzer"
	UnknownGigTitle = "Unbekannter Gig"
)

// Order statuses counted as open in the digest.
const (
	OrderPending    = "pending"
	OrderInProgress = "in_progress"
)

// OpenOrderStatuses lists the statuses included in a digest.
var OpenOrderStatuses = []string{OrderPending, OrderInProgress}

// GigSummary is a gig as listed in a digest. Price is in cents.
type GigSummary struct {
	ID       int64  `json:"id" db:"id"`
	Title    string `json:"title" db:"title"`
	Category string `json:"category" db:"category"`
	Price    int64  `json:"price" db:"price"`
}

// OpenOrder is one of the recipient's unfinished orders.
type OpenOrder struct {
	ID       int64  `json:"id" db:"id"`
	GigTitle string `json:"gig_title" db:"gig_title"`
	Status   string `json:"status" db:"status"`
}

// DigestData is the per-recipient weekly summary. It is built fresh for
// every aggregation and never persisted.
type DigestData struct {
	UserID         UserID       `json:"user_id"`
	UserName       string       `json:"user_name"`
	Email          string       `json:"email,omitempty"`
	NewGigs        []GigSummary `json:"new_gigs"`
	UnreadMessages int          `json:"unread_messages"`
	OpenOrders     []OpenOrder  `json:"open_orders"`
}

// IsEmpty reports whether the digest carries no updates at all.
func (d DigestData) IsEmpty() bool {
	return len(d.NewGigs) == 0 && d.UnreadMessages == 0 && len(d.OpenOrders) == 0
}
