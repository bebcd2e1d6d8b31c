package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "sprites.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAssignsID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	sp, err := store.Create(context.Background(), Sprite{Name: "widget", CWD: "/root/widget"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sp.ID == "" {
		t.Error("Create() did not assign an ID")
	}
	if sp.Status != StatusIdle {
		t.Errorf("Status = %q, want idle default", sp.Status)
	}
	if sp.LastActivity.IsZero() {
		t.Error("LastActivity not set")
	}
}

func TestCreateKeepsCallerID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	sp, err := store.Create(context.Background(), Sprite{ID: "fixed", Name: "widget", CWD: "/w"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sp.ID != "fixed" {
		t.Errorf("ID = %q, want caller-provided value kept", sp.ID)
	}
}

func TestGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	created, err := store.Create(context.Background(), Sprite{
		Name:   "widget",
		CWD:    "/root/widget",
		Repo:   "https://example.com/widget.git",
		Branch: "main",
		URL:    "https://widget.example.com",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "widget" || got.CWD != "/root/widget" || got.Repo != "https://example.com/widget.git" {
		t.Errorf("Get() = %+v, fields do not round-trip", got)
	}
	if got.Branch != "main" || got.URL != "https://widget.example.com" {
		t.Errorf("Get() = %+v, fields do not round-trip", got)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestListOrdersByActivity(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	older := time.Now().UTC().Add(-time.Hour)
	if _, err := store.Create(context.Background(), Sprite{ID: "old", Name: "a", CWD: "/a", LastActivity: older}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(context.Background(), Sprite{ID: "new", Name: "b", CWD: "/b"}); err != nil {
		t.Fatal(err)
	}

	sprites, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sprites) != 2 {
		t.Fatalf("List() returned %d sprites, want 2", len(sprites))
	}
	if sprites[0].ID != "new" || sprites[1].ID != "old" {
		t.Errorf("List() order = [%s, %s], want most recent first", sprites[0].ID, sprites[1].ID)
	}
}

func TestListEmpty(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	sprites, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if sprites == nil {
		t.Error("List() = nil, want empty slice so JSON encodes as []")
	}
	if len(sprites) != 0 {
		t.Errorf("List() returned %d sprites, want 0", len(sprites))
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	sp, err := store.Create(context.Background(), Sprite{Name: "widget", CWD: "/w"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(context.Background(), sp.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(context.Background(), sp.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(context.Background(), sp.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSetStatus(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	older := time.Now().UTC().Add(-time.Hour)
	sp, err := store.Create(context.Background(), Sprite{Name: "widget", CWD: "/w", LastActivity: older})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.SetStatus(context.Background(), sp.ID, StatusWorking); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	got, err := store.Get(context.Background(), sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusWorking {
		t.Errorf("Status = %q, want working", got.Status)
	}
	if !got.LastActivity.After(older) {
		t.Errorf("LastActivity = %v, want refreshed past %v", got.LastActivity, older)
	}

	if err := store.SetStatus(context.Background(), "nope", StatusIdle); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetStatus() unknown id error = %v, want ErrNotFound", err)
	}
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sprites.db")
	first, err := Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	sp, err := first.Create(context.Background(), Sprite{Name: "widget", CWD: "/w"})
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()
	if _, err := second.Get(context.Background(), sp.ID); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
}
