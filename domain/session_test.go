package domain

import "testing"

func testRegistry(t *testing.T, ids ...string) *Registry {
	t.Helper()
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, Item{ID: id, Payload: Payload{Image: id + ".png"}})
	}
	reg, err := NewRegistry(items)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestDragSessionBeginUnknownIsNoop(t *testing.T) {
	s := NewDragSession(testRegistry(t, "i1"))

	if s.Begin("nope") {
		t.Fatalf("expected unknown item to be rejected")
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("expected no active item")
	}

	s.Begin("i1")
	s.Begin("nope")
	if it, ok := s.Current(); !ok || it.ID != "i1" {
		t.Fatalf("expected i1 to stay active, got %+v %v", it, ok)
	}
}

func TestDragSessionBeginReplacesActive(t *testing.T) {
	s := NewDragSession(testRegistry(t, "i1", "i2"))
	s.Begin("i1")
	s.Begin("i2")

	it, ok := s.Current()
	if !ok || it.ID != "i2" || it.Payload.Image != "i2.png" {
		t.Fatalf("unexpected active item %+v", it)
	}
}

func TestDragSessionEndAlwaysClears(t *testing.T) {
	s := NewDragSession(testRegistry(t, "i1"))
	s.End()
	if _, ok := s.Current(); ok {
		t.Fatalf("expected no active item")
	}
	s.Begin("i1")
	s.End()
	if _, ok := s.Current(); ok {
		t.Fatalf("expected End to clear the active item")
	}
}
