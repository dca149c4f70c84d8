package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	mem "flinkly/adapters/memory"
	"flinkly/api/httpapi"
	"flinkly/core"
	"flinkly/engine"
	"flinkly/realtime"
	"flinkly/scheduler"
	"flinkly/sellers"
)

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(textHandler)
	slog.SetDefault(logger)

	hub := realtime.NewHub()
	svc, err := sellers.New(
		sellers.WithStore(mem.NewFromDataset(demoDataset(time.Now()))),
		sellers.WithRealtime(hub),
		sellers.WithDispatchMode(engine.DispatchAsync),
		sellers.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Jobs run on demand only: POST /api/jobs/{name}/run
	sched, err := scheduler.New(scheduler.Options{Logger: logger})
	if err != nil {
		slog.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}
	if err := sched.RegisterAll(scheduler.ServiceJobs(svc, scheduler.Timetable{})); err != nil {
		slog.Error("failed to register jobs", "error", err)
		os.Exit(1)
	}

	handler := httpapi.NewMux(httpapi.Deps{
		Service:   svc,
		Scheduler: sched,
		Hub:       hub,
		Logger:    logger,
	}, httpapi.Options{PathPrefix: "/api", AllowCORSOrigin: "*"})

	slog.Info("starting demo server on :8080")

	srv := &http.Server{Addr: ":8080", Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
	_ = sched.Stop(context.Background())
}

// demoDataset seeds a small marketplace: one seller per level outcome, an
// admin, and a buyer with unread messages and open orders.
func demoDataset(now time.Time) mem.Dataset {
	day := 24 * time.Hour
	return mem.Dataset{
		Users: []core.SellerRecord{
			{ID: 1, Name: "Admin", Email: "admin@flinkly.de", Role: core.RoleAdmin},
			{ID: 2, Name: "Anna", Email: "anna@example.de", Role: core.RoleUser},
			{
				ID: 3, Name: "Ben", Email: "ben@example.de", Role: core.RoleUser,
				CompletedOrders: core.IntPtr(14), AverageRating: core.IntPtr(460),
				ResponseTimeHours: core.FloatPtr(18), OnTimeDeliveryRate: core.FloatPtr(88),
			},
			{
				ID: 4, Name: "Clara", Email: "clara@example.de", Role: core.RoleUser,
				CompletedOrders: core.IntPtr(240), AverageRating: core.IntPtr(495),
				ResponseTimeHours: core.FloatPtr(3), OnTimeDeliveryRate: core.FloatPtr(98),
			},
		},
		Gigs: []mem.Gig{
			{ID: 10, SellerID: 3, Title: "WordPress Wartung", Category: "web", Price: 9900, CreatedAt: now.Add(-2 * day)},
			{ID: 11, SellerID: 4, Title: "Übersetzung DE/EN", Category: "text", Price: 3500, CreatedAt: now.Add(-1 * day)},
			{ID: 12, SellerID: 4, Title: "Logo Redesign", Category: "design", Price: 15000, CreatedAt: now.Add(-20 * day)},
		},
		Orders: []mem.Order{
			{ID: 100, GigID: 10, BuyerID: 2, SellerID: 3, Status: "in_progress", CreatedAt: now.Add(-3 * day)},
			{ID: 101, GigID: 11, BuyerID: 2, SellerID: 4, Status: "pending", CreatedAt: now.Add(-time.Hour)},
			{ID: 102, GigID: 12, BuyerID: 2, SellerID: 4, Status: "completed", CreatedAt: now.Add(-15 * day)},
		},
		Conversations: []mem.Conversation{
			{ID: 50, BuyerID: 2, SellerID: 3},
		},
		Messages: []mem.Message{
			{ID: 500, ConversationID: 50, SenderID: 3, CreatedAt: now.Add(-5 * time.Hour)},
			{ID: 501, ConversationID: 50, SenderID: 3, CreatedAt: now.Add(-4 * time.Hour)},
		},
	}
}
