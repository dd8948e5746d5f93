package brain

import "testing"

func TestFoldKeyedUpsert(t *testing.T) {
	id := DeterministicID(TypeIdentity, "name")
	entries := []Entry{
		{ID: id, Type: TypeIdentity, Created: "2026-08-01T10:00:00Z", Key: "name", Value: "Rho"},
		{ID: id, Type: TypeIdentity, Created: "2026-08-02T10:00:00Z", Key: "name", Value: "Rho v2"},
	}
	m := Fold(entries)
	if len(m.Identity) != 1 {
		t.Fatalf("identity map has %d entries, want 1", len(m.Identity))
	}
	if m.Identity["name"].Value != "Rho v2" {
		t.Errorf("last write did not win: %+v", m.Identity["name"])
	}
}

func TestFoldListUpsertReplacesInPlace(t *testing.T) {
	entries := []Entry{
		testEntry("aaaa0001", TypeTask),
		testEntry("aaaa0002", TypeTask),
		func() Entry {
			e := testEntry("aaaa0001", TypeTask)
			e.Status = StatusDone
			return e
		}(),
	}
	m := Fold(entries)
	if len(m.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(m.Tasks))
	}
	// Updated entry keeps its original position.
	if m.Tasks[0].ID != "aaaa0001" || m.Tasks[0].Status != StatusDone {
		t.Errorf("upsert did not replace in place: %+v", m.Tasks[0])
	}
}

func TestFoldTombstoneAndResurrection(t *testing.T) {
	learning := testEntry("aaaa0001", TypeLearning)
	tomb := Entry{
		ID: "bbbb0001", Type: TypeTombstone, Created: "2026-08-02T10:00:00Z",
		TargetID: "aaaa0001", TargetType: TypeLearning, Reason: "removed",
	}

	m := Fold([]Entry{learning, tomb})
	if len(m.Learnings) != 0 {
		t.Fatalf("tombstoned learning survived: %+v", m.Learnings)
	}
	if !m.Dead["aaaa0001"] {
		t.Error("dead set missing tombstoned id")
	}

	// A later entry reusing the id resurrects it.
	revived := testEntry("aaaa0001", TypeLearning)
	revived.Created = "2026-08-03T10:00:00Z"
	m = Fold([]Entry{learning, tomb, revived})
	if len(m.Learnings) != 1 {
		t.Fatalf("resurrected learning missing")
	}
	if m.Dead["aaaa0001"] {
		t.Error("resurrected id still in dead set")
	}
}

func TestFoldTombstoneForUnknownTargetIsHarmless(t *testing.T) {
	tomb := Entry{
		ID: "bbbb0001", Type: TypeTombstone, Created: "2026-08-02T10:00:00Z",
		TargetID: "ffffffff", TargetType: TypeTask,
	}
	m := Fold([]Entry{tomb, testEntry("aaaa0001", TypeTask)})
	if len(m.Tasks) != 1 {
		t.Fatalf("unrelated task affected by dangling tombstone")
	}
}

func TestFoldIgnoresUnknownTypes(t *testing.T) {
	entries := []Entry{
		{ID: "aaaa0001", Type: "hologram", Created: "2026-08-01T10:00:00Z"},
		testEntry("aaaa0002", TypeLearning),
	}
	m := Fold(entries)
	if len(m.Learnings) != 1 {
		t.Fatalf("known entry lost next to unknown type")
	}
	if _, ok := m.Lookup("aaaa0001"); ok {
		t.Error("unknown type leaked into materialized state")
	}
}

func TestLookup(t *testing.T) {
	m := Fold([]Entry{
		testEntry("aaaa0001", TypeTask),
		{ID: DeterministicID(TypeUser, "editor"), Type: TypeUser, Created: "2026-08-01T10:00:00Z", Key: "editor", Value: "vim"},
	})
	if e, ok := m.Lookup("aaaa0001"); !ok || e.Type != TypeTask {
		t.Errorf("list lookup failed: %+v ok=%v", e, ok)
	}
	if e, ok := m.Lookup(DeterministicID(TypeUser, "editor")); !ok || e.Value != "vim" {
		t.Errorf("map lookup failed: %+v ok=%v", e, ok)
	}
	if _, ok := m.Lookup("nope"); ok {
		t.Error("lookup of missing id succeeded")
	}
}

func TestDeterministicIDStable(t *testing.T) {
	a := DeterministicID(TypeIdentity, "name")
	b := DeterministicID(TypeIdentity, "name")
	if a != b {
		t.Fatalf("same key produced different ids: %s vs %s", a, b)
	}
	if len(a) != 8 {
		t.Errorf("id length = %d, want 8", len(a))
	}
	if DeterministicID(TypeUser, "name") == a {
		t.Error("different types collided on the same key")
	}
}

func TestRandomIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := RandomID()
		if len(id) != 8 {
			t.Fatalf("id length = %d, want 8", len(id))
		}
		if seen[id] {
			t.Fatalf("random id repeated within 100 draws: %s", id)
		}
		seen[id] = true
	}
}
