package brain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testEntry(id, typ string) Entry {
	e := Entry{ID: id, Type: typ, Created: "2026-08-01T10:00:00Z"}
	switch typ {
	case TypeLearning:
		e.Text = "learning " + id
		e.Source = SourceManual
		e.Scope = ScopeGlobal
	case TypePreference:
		e.Category = "style"
		e.Text = "preference " + id
	case TypeTask:
		e.Description = "task " + id
		e.Status = StatusPending
		e.Priority = PriorityNormal
	case TypeIdentity, TypeUser, TypeMeta:
		e.Key = "k-" + id
		e.Value = "v-" + id
	}
	return e
}

func TestReadBrainMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.jsonl")
	entries, stats, err := ReadBrain(path)
	if err != nil {
		t.Fatalf("ReadBrain: %v", err)
	}
	if len(entries) != 0 || stats.Total != 0 || stats.BadLines != 0 || stats.TruncatedTail {
		t.Fatalf("expected empty brain, got %d entries, stats %+v", len(entries), stats)
	}
}

func TestReadBrainSkipsDamage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.jsonl")
	content := strings.Join([]string{
		`{"id":"aaaa0001","type":"learning","created":"2026-08-01T10:00:00Z","text":"one"}`,
		`this is not json`,
		``,
		`{"broken": "no id"}`,
		"{\"id\":\"aaaa0002\",\"type\":\"learning\",\"created\":\"2026-08-01T11:00:00Z\",\"text\":\"two\"}\r",
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, stats, err := ReadBrain(path)
	if err != nil {
		t.Fatalf("ReadBrain: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.BadLines != 2 {
		t.Errorf("BadLines = %d, want 2", stats.BadLines)
	}
	if stats.TruncatedTail {
		t.Error("TruncatedTail = true, want false")
	}
	if len(entries) != 2 || entries[0].ID != "aaaa0001" || entries[1].ID != "aaaa0002" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestReadBrainTruncatedTailNotEmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.jsonl")
	// The tail line parses fine but has no terminating newline: a writer
	// crashed mid-append, so it must be reported and NOT returned.
	content := `{"id":"aaaa0001","type":"learning","created":"2026-08-01T10:00:00Z","text":"one"}` + "\n" +
		`{"id":"aaaa0002","type":"learning","created":"2026-08-01T11:00:00Z","text":"two"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, stats, err := ReadBrain(path)
	if err != nil {
		t.Fatalf("ReadBrain: %v", err)
	}
	if !stats.TruncatedTail {
		t.Error("TruncatedTail = false, want true")
	}
	if len(entries) != 1 || entries[0].ID != "aaaa0001" {
		t.Fatalf("tail entry leaked into results: %+v", entries)
	}
}

func TestAppendEntryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "brain.jsonl")

	e := testEntry("aaaa0001", TypeTask)
	if err := AppendEntry(path, e, nil); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	entries, stats, err := ReadBrain(path)
	if err != nil {
		t.Fatalf("ReadBrain: %v", err)
	}
	if stats.Total != 1 || len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d (stats %+v)", len(entries), stats)
	}
	if entries[0].Description != "task aaaa0001" || entries[0].Status != StatusPending {
		t.Errorf("round trip mangled entry: %+v", entries[0])
	}

	// The lock must not linger after the append.
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}
}

func TestAppendEntryRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.jsonl")
	e := Entry{ID: "aaaa0001", Type: "nonsense", Created: "2026-08-01T10:00:00Z"}
	if err := AppendEntry(path, e, nil); err == nil {
		t.Fatal("expected validation error for unknown type")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("invalid entry reached the log")
	}
}

func TestAppendEntryWithDedupSkipsDuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.jsonl")

	first := testEntry("aaaa0001", TypeLearning)
	first.Text = "Use pnpm, not npm"
	wrote, err := AppendEntryWithDedup(path, first, nil, IsDuplicateText)
	if err != nil || !wrote {
		t.Fatalf("first append: wrote=%v err=%v", wrote, err)
	}

	second := testEntry("aaaa0002", TypeLearning)
	second.Text = "  use PNPM not npm "
	wrote, err = AppendEntryWithDedup(path, second, nil, IsDuplicateText)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if wrote {
		t.Error("normalized duplicate was written")
	}

	entries, _, _ := ReadBrain(path)
	if len(entries) != 1 {
		t.Fatalf("log has %d entries, want 1", len(entries))
	}
}

func TestNowUTC(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	got := NowUTC(time.Date(2026, 8, 1, 16, 0, 0, 0, loc))
	if got != "2026-08-02T00:00:00Z" {
		t.Errorf("NowUTC = %q", got)
	}
}
