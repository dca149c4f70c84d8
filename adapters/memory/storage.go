package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"flinkly/core"
)

// Gig, Order, Conversation and Message mirror the marketplace tables the
// digest reads.
type Gig struct {
	ID        int64       `json:"id"`
	SellerID  core.UserID `json:"seller_id"`
	Title     string      `json:"title"`
	Category  string      `json:"category"`
	Price     int64       `json:"price"`
	CreatedAt time.Time   `json:"created_at"`
}

type Order struct {
	ID        int64       `json:"id"`
	GigID     int64       `json:"gig_id"`
	BuyerID   core.UserID `json:"buyer_id"`
	SellerID  core.UserID `json:"seller_id"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

type Conversation struct {
	ID       int64       `json:"id"`
	BuyerID  core.UserID `json:"buyer_id"`
	SellerID core.UserID `json:"seller_id"`
}

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderID       core.UserID `json:"sender_id"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Dataset is the full content of a Store.
type Dataset struct {
	Users         []core.SellerRecord `json:"users"`
	Gigs          []Gig               `json:"gigs"`
	Orders        []Order             `json:"orders"`
	Conversations []Conversation      `json:"conversations"`
	Messages      []Message           `json:"messages"`
}

// Store is a concurrent in-memory Store implementation.
type Store struct {
	mu          sync.RWMutex
	users       map[core.UserID]core.SellerRecord
	gigs        []Gig
	orders      []Order
	convs       map[int64]Conversation
	messages    []Message
	unavailable bool
}

func New() *Store {
	return &Store{users: map[core.UserID]core.SellerRecord{}, convs: map[int64]Conversation{}}
}

// NewFromDataset builds a store preloaded with ds.
func NewFromDataset(ds Dataset) *Store {
	s := New()
	s.Load(ds)
	return s
}

// Load replaces the store content with ds.
func (s *Store) Load(ds Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[core.UserID]core.SellerRecord, len(ds.Users))
	for _, u := range ds.Users {
		s.users[u.ID] = u
	}
	s.gigs = append([]Gig(nil), ds.Gigs...)
	s.orders = append([]Order(nil), ds.Orders...)
	s.convs = make(map[int64]Conversation, len(ds.Conversations))
	for _, c := range ds.Conversations {
		s.convs[c.ID] = c
	}
	s.messages = append([]Message(nil), ds.Messages...)
}

// Snapshot returns a copy of the store content with users ordered by id.
func (s *Store) Snapshot() Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds := Dataset{
		Users:    s.sortedUsers(),
		Gigs:     append([]Gig(nil), s.gigs...),
		Orders:   append([]Order(nil), s.orders...),
		Messages: append([]Message(nil), s.messages...),
	}
	for _, c := range s.convs {
		ds.Conversations = append(ds.Conversations, c)
	}
	sort.Slice(ds.Conversations, func(i, j int) bool { return ds.Conversations[i].ID < ds.Conversations[j].ID })
	return ds
}

// SetUnavailable makes every call fail with core.ErrStoreUnavailable.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

func (s *Store) PutUser(u core.SellerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddGig(g Gig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gigs = append(s.gigs, g)
}

func (s *Store) AddOrder(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
}

func (s *Store) AddConversation(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = c
}

func (s *Store) AddMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

func (s *Store) check() error {
	if s.unavailable {
		return fmt.Errorf("memory store: %w", core.ErrStoreUnavailable)
	}
	return nil
}

func (s *Store) sortedUsers() []core.SellerRecord {
	out := make([]core.SellerRecord, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check()
}

func (s *Store) Close() error { return nil }

func (s *Store) ListSellers(context.Context) ([]core.SellerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.sortedUsers(), nil
}

func (s *Store) SetSellerLevel(_ context.Context, user core.UserID, level core.SellerLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	u, ok := s.users[user]
	if !ok {
		return fmt.Errorf("set level for %d: %w", user, core.ErrUserNotFound)
	}
	u.SellerLevel = level
	s.users[user] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, user core.UserID) (core.SellerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return core.SellerRecord{}, err
	}
	u, ok := s.users[user]
	if !ok {
		return core.SellerRecord{}, core.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) ListUserIDsExcept(_ context.Context, role core.Role) ([]core.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var ids []core.UserID
	for _, u := range s.sortedUsers() {
		if u.Role == role {
			continue
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// RecentGigs returns gigs created at or after since, newest first.
func (s *Store) RecentGigs(_ context.Context, since time.Time, limit int) ([]core.GigSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var recent []Gig
	for _, g := range s.gigs {
		if !g.CreatedAt.Before(since) {
			recent = append(recent, g)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		if recent[i].CreatedAt.Equal(recent[j].CreatedAt) {
			return recent[i].ID > recent[j].ID
		}
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	out := make([]core.GigSummary, 0, limit)
	for _, g := range recent {
		if len(out) == limit {
			break
		}
		out = append(out, core.GigSummary{ID: g.ID, Title: g.Title, Category: g.Category, Price: g.Price})
	}
	return out, nil
}

// CountUnreadMessages counts unread messages in the user's conversations
// that were sent by the other party.
func (s *Store) CountUnreadMessages(_ context.Context, user core.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	n := 0
	for _, m := range s.messages {
		if m.ReadAt != nil || m.SenderID == user {
			continue
		}
		c, ok := s.convs[m.ConversationID]
		if !ok || (c.BuyerID != user && c.SellerID != user) {
			continue
		}
		n++
	}
	return n, nil
}

// OpenOrders returns the user's pending and in-progress purchases, newest
// first, joined with their gig titles.
func (s *Store) OpenOrders(_ context.Context, user core.UserID, limit int) ([]core.OpenOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	titles := make(map[int64]string, len(s.gigs))
	for _, g := range s.gigs {
		titles[g.ID] = g.Title
	}
	var open []Order
	for _, o := range s.orders {
		if o.BuyerID == user && (o.Status == core.OrderPending || o.Status == core.OrderInProgress) {
			open = append(open, o)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].ID > open[j].ID })
	out := make([]core.OpenOrder, 0, limit)
	for _, o := range open {
		if len(out) == limit {
			break
		}
		title, ok := titles[o.GigID]
		if !ok {
			title = core.UnknownGigTitle
		}
		out = append(out, core.OpenOrder{ID: o.ID, GigTitle: title, Status: o.Status})
	}
	return out, nil
}

var _ interface {
	ListSellers(context.Context) ([]core.SellerRecord, error)
	SetSellerLevel(context.Context, core.UserID, core.SellerLevel) error
	GetUser(context.Context, core.UserID) (core.SellerRecord, error)
	ListUserIDsExcept(context.Context, core.Role) ([]core.UserID, error)
	RecentGigs(context.Context, time.Time, int) ([]core.GigSummary, error)
	CountUnreadMessages(context.Context, core.UserID) (int, error)
	OpenOrders(context.Context, core.UserID, int) ([]core.OpenOrder, error)
	Ping(context.Context) error
	Close() error
} = (*Store)(nil)
