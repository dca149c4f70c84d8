package sellers

import (
	"context"
	"sync"
	"testing"

	mem "flinkly/adapters/memory"
	"flinkly/core"
	"flinkly/engine"
	"flinkly/notify"
	"flinkly/realtime"
)

type captureMailer struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (m *captureMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func seededStore() *mem.Store {
	s := mem.New()
	s.PutUser(core.SellerRecord{
		ID: 1, Name: "Lena", Email: "lena@example.de", Role: core.RoleUser,
		CompletedOrders: core.IntPtr(55), AverageRating: core.IntPtr(480),
		ResponseTimeHours: core.FloatPtr(8), OnTimeDeliveryRate: core.FloatPtr(93),
	})
	return s
}

func TestNewDefaultsAndOptions(t *testing.T) {
	hub := realtime.NewHub()
	mailer := &captureMailer{}
	svc, err := New(
		WithRealtime(hub),
		WithStore(seededStore()),
		WithMailer(mailer),
		WithDispatchMode(engine.DispatchSync),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, ch := hub.Subscribe(4, core.EventSellerLevelUp)
	report, err := svc.UpgradeSellerLevels(context.Background())
	if err != nil || report.Count() != 1 {
		t.Fatalf("upgrade count=%d err=%v", report.Count(), err)
	}

	ev := <-ch
	if ev.UserID != 1 || ev.To != core.LevelOne {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(mailer.msgs) != 1 || mailer.msgs[0].Template != notify.TemplateLevelUp {
		t.Fatalf("expected one level-up mail, got %+v", mailer.msgs)
	}
}

func TestLevelUpEmailsCanBeDisabled(t *testing.T) {
	mailer := &captureMailer{}
	svc, err := New(
		WithStore(seededStore()),
		WithMailer(mailer),
		WithDispatchMode(engine.DispatchSync),
		WithLevelUpEmails(false),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := svc.UpgradeSellerLevels(context.Background()); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if len(mailer.msgs) != 0 {
		t.Fatalf("expected no mails, got %d", len(mailer.msgs))
	}
}

func TestCustomRequirementsAndHandlers(t *testing.T) {
	table := core.DefaultRequirements()
	table[core.LevelOne] = core.SellerStats{CompletedOrders: 60, AverageRating: 470, ResponseTimeHours: 12, OnTimeDeliveryRate: 90}

	var finished int
	svc, err := New(
		WithStore(seededStore()),
		WithRequirements(table),
		WithDispatchMode(engine.DispatchSync),
		WithHandler(func(context.Context, core.Event) { finished++ }, core.EventJobFinished),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	report, err := svc.UpgradeSellerLevels(context.Background())
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if report.Count() != 1 || report.Transitions[0].To != core.LevelRising {
		t.Fatalf("expected rising under stricter table, got %+v", report.Transitions)
	}
	if finished != 1 {
		t.Fatalf("expected job_finished once, got %d", finished)
	}
}

func TestNewRejectsInvalidRequirements(t *testing.T) {
	if _, err := New(WithRequirements(core.Requirements{core.LevelNew: {}})); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestInMemoryDefault(t *testing.T) {
	svc, err := New(WithDispatchMode(engine.DispatchSync))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer svc.Close()
	report, err := svc.UpgradeAllSellers(context.Background())
	if err != nil || report.Scanned != 0 {
		t.Fatalf("expected empty run, got %+v err=%v", report, err)
	}
}
