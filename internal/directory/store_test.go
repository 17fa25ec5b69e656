package directory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func TestAddLookupRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	updated, err := store.Add("alice", Meta{IsEmail: boolPtr(true), Description: strPtr("Hi")})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if updated {
		t.Error("first add should not report an update")
	}

	meta, ok := store.Lookup("alice")
	if !ok {
		t.Fatal("alice should exist")
	}
	if meta.IsEmail == nil || !*meta.IsEmail || meta.Description == nil || *meta.Description != "Hi" {
		t.Errorf("meta = %+v", meta)
	}

	updated, err = store.Add("alice", Meta{})
	if err != nil {
		t.Fatalf("Add again: %v", err)
	}
	if !updated {
		t.Error("second add should report an update")
	}
	meta, _ = store.Lookup("alice")
	if meta.IsEmail != nil || meta.Description != nil {
		t.Errorf("replacement should clear old metadata, got %+v", meta)
	}

	if _, ok := store.Lookup("bob"); ok {
		t.Error("bob should not exist")
	}

	if _, err := store.Remove("alice"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := store.Lookup("alice"); ok {
		t.Error("alice should be gone after Remove")
	}
}

func TestRemoveUnknownUser(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := store.Remove("ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("want ErrUnknownUser, got %v", err)
	}
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := store.Add("carol", Meta{Description: strPtr("sats welcome")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Add("dave", Meta{IsEmail: boolPtr(false)}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	users := reloaded.List()
	if len(users) != 2 {
		t.Fatalf("want 2 users after reload, got %d", len(users))
	}
	if users["carol"].Description == nil || *users["carol"].Description != "sats welcome" {
		t.Errorf("carol = %+v", users["carol"])
	}
	if users["dave"].IsEmail == nil || *users["dave"].IsEmail {
		t.Errorf("dave = %+v", users["dave"])
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.json")
	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(store.List()) != 0 {
		t.Error("missing file should yield an empty directory")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("Load alone should not create the file")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("corrupt file should fail to load")
	}
}

func TestListReturnsCopy(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := store.Add("eve", Meta{}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	users := store.List()
	delete(users, "eve")
	if _, ok := store.Lookup("eve"); !ok {
		t.Error("mutating the List result should not affect the store")
	}
}
