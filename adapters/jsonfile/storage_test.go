package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flinkly/adapters/memory"
	"flinkly/core"
)

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "flinkly.json")

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.PutUser(core.SellerRecord{ID: 1, Name: "Anna", Email: "anna@example.de", CompletedOrders: core.IntPtr(12)})
	store.AddGig(memory.Gig{ID: 3, Title: "Logo", CreatedAt: time.Now().UTC()})

	if err := store.SetSellerLevel(context.Background(), 1, core.LevelRising); err != nil {
		t.Fatalf("set level: %v", err)
	}

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	// reload
	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	u, err := reloaded.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.SellerLevel != core.LevelRising {
		t.Fatalf("expected level rising, got %q", u.SellerLevel)
	}
	if u.CompletedOrders == nil || *u.CompletedOrders != 12 {
		t.Fatalf("expected completed orders to survive reload, got %v", u.CompletedOrders)
	}
	gigs, err := reloaded.RecentGigs(context.Background(), time.Now().Add(-time.Hour), 5)
	if err != nil || len(gigs) != 1 {
		t.Fatalf("recent gigs: %v %v", gigs, err)
	}
}

func TestSetSellerLevelMissingUserDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flinkly.json")
	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.SetSellerLevel(context.Background(), 42, core.LevelOne); err == nil {
		t.Fatal("expected error for unknown user")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file, got %v", err)
	}
}

func TestNewRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flinkly.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSetSellerLevelRestoresMemoryWhenWriteFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flinkly.json")
	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.PutUser(core.SellerRecord{ID: 1, Name: "Anna", SellerLevel: core.LevelNew})

	// a non-empty directory at the target path makes the rename fail
	if err := os.MkdirAll(filepath.Join(path, "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := store.SetSellerLevel(context.Background(), 1, core.LevelRising); err == nil {
		t.Fatal("expected persist error")
	}
	u, err := store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.SellerLevel != core.LevelNew {
		t.Fatalf("want level %q after failed write, got %q", core.LevelNew, u.SellerLevel)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected tmp file removed, got %v", err)
	}

	// once the path is writable again the upgrade goes through
	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}
	if err := store.SetSellerLevel(context.Background(), 1, core.LevelRising); err != nil {
		t.Fatalf("retry: %v", err)
	}
}
