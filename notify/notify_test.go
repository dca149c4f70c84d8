package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flinkly/core"
)

func TestDigestSubject(t *testing.T) {
	empty := core.DigestData{NewGigs: []core.GigSummary{}, OpenOrders: []core.OpenOrder{}}
	assert.Equal(t, "Dein Flinkly Weekly Digest", DigestSubject(empty))

	d := core.DigestData{
		NewGigs:        []core.GigSummary{{ID: 1}, {ID: 2}, {ID: 3}},
		UnreadMessages: 4,
	}
	assert.Equal(t, "Dein Flinkly Weekly Digest - 3 neue Gigs, 4 Nachrichten", DigestSubject(d))
}

func TestDigestMessage(t *testing.T) {
	d := core.DigestData{UserID: 7, Email: "mia@example.de", UserName: "Mia"}
	msg := DigestMessage(d)
	assert.Equal(t, "mia@example.de", msg.To)
	assert.Equal(t, TemplateWeeklyDigest, msg.Template)
	assert.Equal(t, d, msg.Data)
}

func TestLevelUpMessage(t *testing.T) {
	tr := core.Transition{
		UserID: 3, Name: "Carla", Email: "carla@example.de",
		From: core.LevelRising, To: core.LevelOne,
		Stats: core.SellerStats{CompletedOrders: 60, AverageRating: 475, ResponseTimeHours: 10, OnTimeDeliveryRate: 91},
	}
	msg := LevelUpMessage(tr)
	assert.Equal(t, "Glückwunsch! Du bist jetzt level_one Seller", msg.Subject)
	assert.Equal(t, TemplateLevelUp, msg.Template)
	data, ok := msg.Data.(LevelUpData)
	require.True(t, ok)
	assert.Equal(t, "4.8", data.AverageRating)
	assert.Equal(t, "Carla", data.SellerName)
	assert.Equal(t, core.LevelRising, data.OldLevel)

	tr.Name = ""
	assert.Equal(t, "Seller", LevelUpMessage(tr).Data.(LevelUpData).SellerName)
}

func TestLevelUpNotifierHandle(t *testing.T) {
	var sent []Message
	mailer := MailerFunc(func(_ context.Context, m Message) error {
		sent = append(sent, m)
		return nil
	})
	n := NewLevelUpNotifier(mailer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tr := core.Transition{UserID: 2, Name: "Ben", Email: "ben@example.de", From: core.LevelNew, To: core.LevelTopRated, At: time.Now()}
	n.Handle(context.Background(), core.NewLevelUp(tr, "run-1"))
	require.Len(t, sent, 1)
	assert.Equal(t, "ben@example.de", sent[0].To)

	tr.Email = ""
	n.Handle(context.Background(), core.NewLevelUp(tr, "run-1"))
	n.Handle(context.Background(), core.NewDigestSent(2, "run-1"))
	assert.Len(t, sent, 1)
}

func TestLevelUpNotifierSwallowsMailerErrors(t *testing.T) {
	mailer := MailerFunc(func(context.Context, Message) error { return errors.New("queue full") })
	n := NewLevelUpNotifier(mailer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NotPanics(t, func() {
		n.Handle(context.Background(), core.NewLevelUp(core.Transition{UserID: 1, Email: "a@b.de", To: core.LevelRising}, "r"))
	})
}

func TestTransitionFromEventRoundTrip(t *testing.T) {
	tr := core.Transition{
		UserID: 9, Name: "Eva", Email: "eva@example.de",
		From: core.LevelNew, To: core.LevelRising,
		Stats: core.SellerStats{CompletedOrders: 12, AverageRating: 460, ResponseTimeHours: 24, OnTimeDeliveryRate: 90},
		At:    time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, tr, TransitionFromEvent(core.NewLevelUp(tr, "run")))
}

func TestLogMailer(t *testing.T) {
	m := LogMailer{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	assert.ErrorIs(t, m.Send(context.Background(), Message{}), ErrNoRecipient)
	assert.NoError(t, m.Send(context.Background(), Message{To: "x@y.de"}))
}
