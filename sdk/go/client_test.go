package sdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mem "flinkly/adapters/memory"
	"flinkly/api/httpapi"
	"flinkly/core"
	"flinkly/engine"
	"flinkly/realtime"
	"flinkly/scheduler"
	"flinkly/sellers"
)

type testEnv struct {
	srv *httptest.Server
	hub *realtime.Hub
}

// newTestServer runs the real ops API over a seeded in-memory store.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := mem.New()
	store.PutUser(core.SellerRecord{
		ID: 3, Name: "Mia", Email: "mia@example.de", Role: core.RoleUser,
		CompletedOrders: core.IntPtr(80), AverageRating: core.IntPtr(475),
		ResponseTimeHours: core.FloatPtr(10), OnTimeDeliveryRate: core.FloatPtr(92),
	})
	store.AddGig(mem.Gig{ID: 9, SellerID: 3, Title: "Podcast Schnitt", Category: "audio", Price: 4500, CreatedAt: time.Now().Add(-24 * time.Hour)})

	hub := realtime.NewHub()
	svc, err := sellers.New(
		sellers.WithStore(store),
		sellers.WithRealtime(hub),
		sellers.WithDispatchMode(engine.DispatchSync),
		sellers.WithLevelUpEmails(false),
		sellers.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	sched, err := scheduler.New(scheduler.Options{Logger: logger})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	if err := sched.RegisterAll(scheduler.ServiceJobs(svc, scheduler.Timetable{})); err != nil {
		t.Fatalf("register jobs: %v", err)
	}
	handler := httpapi.NewMux(httpapi.Deps{Service: svc, Scheduler: sched, Hub: hub, Logger: logger},
		httpapi.Options{PathPrefix: "/api", APIKeys: []string{"k1"}})
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
	})
	return &testEnv{srv: srv, hub: hub}
}

func TestClient_LevelsEvaluateDigestHealth(t *testing.T) {
	env := newTestServer(t)
	client, err := NewClient(env.srv.URL+"/api", WithAPIKey("k1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	health, err := client.Health(ctx)
	if err != nil || health.Status != "healthy" {
		t.Fatalf("health: %+v err=%v", health, err)
	}

	levels, err := client.Levels(ctx)
	if err != nil || len(levels) != 4 || levels[1].Level != core.LevelRising {
		t.Fatalf("levels: %+v err=%v", levels, err)
	}

	ev, err := client.Evaluate(ctx, core.LevelNew, core.SellerStats{
		CompletedOrders: 60, AverageRating: 480, ResponseTimeHours: 5, OnTimeDeliveryRate: 96,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ev.Upgrade || ev.NextLevel != core.LevelOne || ev.Meets[core.LevelTopRated] {
		t.Fatalf("unexpected evaluation: %+v", ev)
	}

	digest, err := client.Digest(ctx, 3)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if digest.UserName != "Mia" || len(digest.NewGigs) != 1 {
		t.Fatalf("unexpected digest: %+v", digest)
	}

	_, err = client.Digest(ctx, 404)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 api error, got %v", err)
	}
}

func TestClient_JobsRunAndHistory(t *testing.T) {
	env := newTestServer(t)
	client, _ := NewClient(env.srv.URL+"/api", WithAPIKey("k1"))
	ctx := context.Background()

	jobs, err := client.Jobs(ctx)
	if err != nil || len(jobs) != 2 {
		t.Fatalf("jobs: %+v err=%v", jobs, err)
	}

	rec, err := client.RunJob(ctx, engine.JobSellerLevelUpgrade)
	if err != nil {
		t.Fatalf("run job: %v", err)
	}
	if rec.Status != scheduler.StatusSucceeded || rec.Summary["upgraded"] != float64(1) {
		t.Fatalf("unexpected run: %+v", rec)
	}

	runs, err := client.JobRuns(ctx, engine.JobSellerLevelUpgrade, 5)
	if err != nil || len(runs) != 1 || runs[0].RunID != rec.RunID {
		t.Fatalf("runs: %+v err=%v", runs, err)
	}

	if _, err := client.RunJob(ctx, ""); !errors.Is(err, ErrEmptyJobName) {
		t.Fatalf("expected ErrEmptyJobName, got %v", err)
	}
	_, err = client.RunJob(ctx, "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "unknown_job" {
		t.Fatalf("expected unknown_job, got %v", err)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	env := newTestServer(t)
	client, _ := NewClient(env.srv.URL + "/api")

	_, err := client.Levels(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	env := newTestServer(t)
	client, _ := NewClient(env.srv.URL+"/api", WithAPIKey("k1"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, core.EventSellerLevelUp)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for env.hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("websocket never subscribed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := client.RunJob(ctx, engine.JobSellerLevelUpgrade); err != nil {
		t.Fatalf("run job: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Type != core.EventSellerLevelUp || evt.UserID != 3 || evt.To != core.LevelOne {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.MetadataString("email") != "" {
			t.Fatal("email must not be streamed")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestDeriveWSURL(t *testing.T) {
	if got := deriveWSURL("https://ops.flinkly.de/api/"); got != "wss://ops.flinkly.de/api/ws" {
		t.Fatalf("unexpected ws url %q", got)
	}
	if got := deriveWSURL("http://localhost:8080"); got != "ws://localhost:8080/ws" {
		t.Fatalf("unexpected ws url %q", got)
	}
}
