package state

import (
	"errors"
	"testing"
)

func TestGroupLifecycle(t *testing.T) {
	s := New()
	params := make([]byte, 97)
	params[0] = 1

	g, err := s.CreateGroup(params, []byte("state-v0"))
	if err != nil {
		t.Fatal(err)
	}
	if g.Version != 0 {
		t.Fatalf("new group version %d, want 0", g.Version)
	}

	if _, err := s.CreateGroup(params, []byte("dupe")); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}

	// Version must be exactly current+1.
	if _, err := s.ApplyGroupChange(params, 2, []byte("c"), []byte("s")); !errors.Is(err, ErrGroupVersion) {
		t.Fatalf("expected ErrGroupVersion for skip, got %v", err)
	}
	if _, err := s.ApplyGroupChange(params, 0, []byte("c"), []byte("s")); !errors.Is(err, ErrGroupVersion) {
		t.Fatalf("expected ErrGroupVersion for replay, got %v", err)
	}

	g, err = s.ApplyGroupChange(params, 1, []byte("change-1"), []byte("state-v1"))
	if err != nil {
		t.Fatal(err)
	}
	if g.Version != 1 {
		t.Fatalf("group version %d, want 1", g.Version)
	}

	entries, err := s.GroupChangeLog(params, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Version != 1 || string(entries[0].Change) != "change-1" {
		t.Fatalf("change log: %+v", entries)
	}

	// A log fetch from the current version is empty.
	entries, err = s.GroupChangeLog(params, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("log from current version: %+v", entries)
	}
}

func TestGroupChangeLogUnknownGroup(t *testing.T) {
	s := New()
	if _, err := s.GroupChangeLog([]byte("nope"), 0); !errors.Is(err, ErrNoGroup) {
		t.Fatalf("expected ErrNoGroup, got %v", err)
	}
}
