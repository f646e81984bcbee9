package main

import (
	"testing"

	"github.com/termpulse/termpulse/internal/config"
)

func TestOpenStateDB(t *testing.T) {
	t.Setenv("TERMPULSE_HOME", t.TempDir())

	db, err := openStateDB()
	if err != nil {
		t.Fatalf("openStateDB: %v", err)
	}
	defer db.Close()

	if err := db.SetPending("work", 2); err != nil {
		t.Fatalf("SetPending: %v", err)
	}
	counts, err := db.LoadPending()
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if counts["work"] != 2 {
		t.Errorf("pending = %d, want 2", counts["work"])
	}
}

func TestBadgeTotal(t *testing.T) {
	pending := map[string]int{"a": 2, "b": 1, "c": 0}

	if got := badgeTotal(pending, true); got != 3 {
		t.Errorf("badgeTotal enabled = %d, want 3", got)
	}
	// Preference off forces the visible count to zero even though the
	// per-session entries remain.
	if got := badgeTotal(pending, false); got != 0 {
		t.Errorf("badgeTotal disabled = %d, want 0", got)
	}
	if pending["a"] != 2 {
		t.Error("pending counts must not be mutated")
	}
}

func TestConfigInitAndLoadRoundTrip(t *testing.T) {
	t.Setenv("TERMPULSE_HOME", t.TempDir())

	path, err := config.Path()
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if err := config.Save(path, config.Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Notifications.Badge {
		t.Error("default config should enable badge")
	}
	if cfg.Web.Listen != "127.0.0.1:8642" {
		t.Errorf("listen = %q", cfg.Web.Listen)
	}
}
