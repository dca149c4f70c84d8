package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"flinkly/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)

	ev := core.NewLevelUp(core.Transition{UserID: 7, From: core.LevelNew, To: core.LevelRising}, "run-1")
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.UserID != 7 || received.Type != core.EventSellerLevelUp {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Subscribers())
	}
}

func TestHubFiltersByType(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(4, core.EventJobFinished)

	h.Broadcast(context.Background(), core.NewDigestSent(1, "r"))
	h.Broadcast(context.Background(), core.NewJobFinished("weekly_digest", "r", nil))

	got := <-ch
	if got.Type != core.EventJobFinished {
		t.Fatalf("expected job_finished, got %s", got.Type)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	_, _ = h.Subscribe(1)
	h.Broadcast(context.Background(), core.NewDigestSent(1, "r"))
	h.Broadcast(context.Background(), core.NewDigestSent(2, "r"))
	if h.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", h.Dropped())
	}
}

func TestBroadcastStripsEmail(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(1)
	ev := core.NewLevelUp(core.Transition{UserID: 2, Name: "Ben", Email: "ben@example.de", To: core.LevelOne}, "r")
	h.Broadcast(context.Background(), ev)

	got := <-ch
	if _, ok := got.Metadata["email"]; ok {
		t.Fatal("email must not be broadcast")
	}
	if got.MetadataString("name") != "Ben" {
		t.Fatalf("expected name to survive, got %v", got.Metadata)
	}
	if ev.MetadataString("email") != "ben@example.de" {
		t.Fatal("original event must not be modified")
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewLevelUp(core.Transition{UserID: 3, From: core.LevelRising, To: core.LevelTopRated}, "r")
	b := MarshalJSON(ev)
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.To != core.LevelTopRated {
		t.Fatalf("unexpected level: %s", out.To)
	}
}
