// Package notify builds the emails triggered by level upgrades and the
// weekly digest and hands them to a Mailer. Rendering and SMTP delivery
// happen downstream.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"flinkly/core"
)

// Template names understood by the email service.
const (
	TemplateWeeklyDigest = "weekly_digest"
	TemplateLevelUp      = "level_up"
)

// ErrNoRecipient is returned when a message has no address.
var ErrNoRecipient = errors.New("message has no recipient")

// Message is a notification addressed to one recipient. Data is passed to
// the template on the delivery side.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Template string `json:"template"`
	Data     any    `json:"data,omitempty"`
}

// Mailer hands a message to the delivery facility.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email not delivered (log mailer)",
		"to", msg.To, "subject", msg.Subject, "template", msg.Template)
	return nil
}

// DigestSubject mirrors the subject line of the weekly digest mail.
func DigestSubject(d core.DigestData) string {
	if d.IsEmpty() {
		return "Dein Flinkly Weekly Digest"
	}
	return fmt.Sprintf("Dein Flinkly Weekly Digest - %d neue Gigs, %d Nachrichten", len(d.NewGigs), d.UnreadMessages)
}

// DigestMessage builds the weekly digest mail. It is sent even when the
// digest is empty.
func DigestMessage(d core.DigestData) Message {
	return Message{
		To:       d.Email,
		Subject:  DigestSubject(d),
		Template: TemplateWeeklyDigest,
		Data:     d,
	}
}

// LevelUpData is the template payload of a level-up mail.
type LevelUpData struct {
	SellerName         string           `json:"seller_name"`
	OldLevel           core.SellerLevel `json:"old_level"`
	NewLevel           core.SellerLevel `json:"new_level"`
	CompletedOrders    int              `json:"completed_orders"`
	AverageRating      string           `json:"average_rating"`
	OnTimeDeliveryRate float64          `json:"on_time_delivery_rate"`
	ResponseTimeHours  float64          `json:"response_time_hours"`
}

// LevelUpMessage builds the congratulation mail for a transition. The
// rating is rendered in stars with one decimal.
func LevelUpMessage(t core.Transition) Message {
	name := t.Name
	if name == "" {
		name = "Seller"
	}
	return Message{
		To:       t.Email,
		Subject:  fmt.Sprintf("Glückwunsch! Du bist jetzt %s Seller", t.To),
		Template: TemplateLevelUp,
		Data: LevelUpData{
			SellerName:         name,
			OldLevel:           t.From,
			NewLevel:           t.To,
			CompletedOrders:    t.Stats.CompletedOrders,
			AverageRating:      fmt.Sprintf("%.1f", float64(t.Stats.AverageRating)/100),
			OnTimeDeliveryRate: t.Stats.OnTimeDeliveryRate,
			ResponseTimeHours:  t.Stats.ResponseTimeHours,
		},
	}
}

// LevelUpNotifier sends a level-up mail for every seller_level_up event.
// Sellers without an email address are skipped.
type LevelUpNotifier struct {
	mailer Mailer
	logger *slog.Logger
}

func NewLevelUpNotifier(mailer Mailer, logger *slog.Logger) *LevelUpNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LevelUpNotifier{mailer: mailer, logger: logger}
}

// Handle is an event bus handler.
func (n *LevelUpNotifier) Handle(ctx context.Context, e core.Event) {
	if e.Type != core.EventSellerLevelUp {
		return
	}
	t := TransitionFromEvent(e)
	if t.Email == "" {
		n.logger.DebugContext(ctx, "seller has no email, skipping level-up mail", "user_id", e.UserID)
		return
	}
	if err := n.mailer.Send(ctx, LevelUpMessage(t)); err != nil {
		n.logger.ErrorContext(ctx, "failed to send level-up mail", "user_id", e.UserID, "to", e.To, "error", err)
	}
}

// TransitionFromEvent reverses core.NewLevelUp.
func TransitionFromEvent(e core.Event) core.Transition {
	t := core.Transition{
		UserID: e.UserID,
		From:   e.From,
		To:     e.To,
		Name:   e.MetadataString("name"),
		Email:  e.MetadataString("email"),
		At:     e.Time,
	}
	if e.Stats != nil {
		t.Stats = *e.Stats
	}
	return t
}
