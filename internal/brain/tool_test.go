package brain

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func toolPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "brain.jsonl")
}

var toolNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func mustAdd(t *testing.T, path string, p Params) Entry {
	t.Helper()
	p.Action = ActionAdd
	res := HandleAction(path, p, &Options{Now: toolNow})
	if !res.OK {
		t.Fatalf("add failed: %s", res.Message)
	}
	e, ok := res.Data.(Entry)
	if !ok {
		t.Fatalf("add returned %T, want Entry", res.Data)
	}
	return e
}

func TestAddTaskDefaults(t *testing.T) {
	path := toolPath(t)
	e := mustAdd(t, path, Params{Type: TypeTask, Description: "file taxes"})

	if e.Status != StatusPending {
		t.Errorf("status = %q, want pending", e.Status)
	}
	if e.Priority != PriorityNormal {
		t.Errorf("priority = %q, want normal", e.Priority)
	}
	if e.Tags == nil || len(e.Tags) != 0 {
		t.Errorf("tags = %v, want empty slice", e.Tags)
	}
	if len(e.ID) != 8 {
		t.Errorf("id = %q, want 8 hex chars", e.ID)
	}
}

func TestAddReminderDerivesNextDue(t *testing.T) {
	path := toolPath(t)
	e := mustAdd(t, path, Params{
		Type: TypeReminder, Text: "stretch",
		Cadence: &Cadence{Kind: CadenceInterval, Every: "2h"},
	})
	if e.Enabled == nil || !*e.Enabled {
		t.Error("reminder not enabled by default")
	}
	want := NowUTC(toolNow.Add(2 * time.Hour))
	if e.NextDue != want {
		t.Errorf("next_due = %q, want %q", e.NextDue, want)
	}
}

func TestAddLearningDefaults(t *testing.T) {
	path := toolPath(t)
	e := mustAdd(t, path, Params{Type: TypeLearning, Text: "prefer table tests"})
	if e.Source != SourceManual || e.Scope != ScopeGlobal {
		t.Errorf("learning defaults wrong: source=%q scope=%q", e.Source, e.Scope)
	}
}

func TestAddKeyedTypeUpserts(t *testing.T) {
	path := toolPath(t)
	first := mustAdd(t, path, Params{Type: TypeIdentity, Key: "name", Value: "Rho"})
	second := mustAdd(t, path, Params{Type: TypeIdentity, Key: "name", Value: "Rho v2"})

	if first.ID != second.ID {
		t.Fatalf("keyed re-add produced new id: %s vs %s", first.ID, second.ID)
	}

	entries, _, _ := ReadBrain(path)
	if len(entries) != 2 {
		t.Fatalf("log lines = %d, want 2 (append-only)", len(entries))
	}
	m := Fold(entries)
	if m.Identity["name"].Value != "Rho v2" {
		t.Errorf("fold did not pick latest: %+v", m.Identity["name"])
	}
}

func TestAddDuplicateLearningRejected(t *testing.T) {
	path := toolPath(t)
	mustAdd(t, path, Params{Type: TypeLearning, Text: "Use pnpm, not npm"})

	res := HandleAction(path, Params{
		Action: ActionAdd, Type: TypeLearning, Text: "use PNPM not npm!",
	}, &Options{Now: toolNow})
	if res.OK {
		t.Fatal("duplicate learning accepted")
	}
	if !strings.Contains(res.Message, "Duplicate") {
		t.Errorf("message = %q, want duplicate notice", res.Message)
	}
}

func TestAddInvalidEntry(t *testing.T) {
	path := toolPath(t)
	res := HandleAction(path, Params{Action: ActionAdd, Type: TypeBehavior, Text: "x", Category: "sometimes"}, nil)
	if res.OK {
		t.Fatal("behavior with invalid category accepted")
	}
}

func TestUpdatePreservesEnvelope(t *testing.T) {
	path := toolPath(t)
	e := mustAdd(t, path, Params{Type: TypeTask, Description: "draft report"})

	res := HandleAction(path, Params{
		Action: ActionUpdate, ID: e.ID, Priority: PriorityUrgent,
	}, &Options{Now: toolNow.Add(time.Hour)})
	if !res.OK {
		t.Fatalf("update failed: %s", res.Message)
	}
	updated := res.Data.(Entry)
	if updated.ID != e.ID || updated.Created != e.Created || updated.Type != e.Type {
		t.Errorf("update changed the envelope: %+v", updated)
	}
	if updated.Priority != PriorityUrgent || updated.Description != "draft report" {
		t.Errorf("merge wrong: %+v", updated)
	}
}

func TestUpdateUnknownID(t *testing.T) {
	path := toolPath(t)
	res := HandleAction(path, Params{Action: ActionUpdate, ID: "ffffffff", Text: "x"}, nil)
	if res.OK {
		t.Fatal("update of unknown id succeeded")
	}
}

func TestRemoveByID(t *testing.T) {
	path := toolPath(t)
	e := mustAdd(t, path, Params{Type: TypeTask, Description: "old chore"})

	res := HandleAction(path, Params{Action: ActionRemove, ID: e.ID}, &Options{Now: toolNow})
	if !res.OK {
		t.Fatalf("remove failed: %s", res.Message)
	}
	if !strings.Contains(res.Message, "old chore") {
		t.Errorf("remove echo missing summary: %q", res.Message)
	}

	entries, _, _ := ReadBrain(path)
	m := Fold(entries)
	if len(m.Tasks) != 0 {
		t.Error("task survived removal")
	}
	if !m.Dead[e.ID] {
		t.Error("dead set missing removed id")
	}
}

func TestRemoveKeyedWithoutRead(t *testing.T) {
	path := toolPath(t)
	mustAdd(t, path, Params{Type: TypeIdentity, Key: "name", Value: "Rho"})

	res := HandleAction(path, Params{Action: ActionRemove, Type: TypeIdentity, Key: "name"}, &Options{Now: toolNow})
	if !res.OK {
		t.Fatalf("keyed remove failed: %s", res.Message)
	}
	tomb := res.Data.(Entry)
	if tomb.TargetID != DeterministicID(TypeIdentity, "name") {
		t.Errorf("tombstone target = %s, want deterministic id", tomb.TargetID)
	}

	entries, _, _ := ReadBrain(path)
	if len(Fold(entries).Identity) != 0 {
		t.Error("identity survived keyed removal")
	}
}

func TestRemoveRequiresTarget(t *testing.T) {
	path := toolPath(t)
	res := HandleAction(path, Params{Action: ActionRemove}, nil)
	if res.OK {
		t.Fatal("remove without id or key succeeded")
	}
}

func TestListFilters(t *testing.T) {
	path := toolPath(t)
	mustAdd(t, path, Params{Type: TypeTask, Description: "write tests"})
	done := mustAdd(t, path, Params{Type: TypeTask, Description: "review patch"})
	HandleAction(path, Params{Action: ActionTaskDone, ID: done.ID}, &Options{Now: toolNow})
	mustAdd(t, path, Params{Type: TypeLearning, Text: "tests before refactors"})

	res := HandleAction(path, Params{Action: ActionList, Type: TypeTask, Filter: StatusPending}, &Options{Now: toolNow})
	if !res.OK {
		t.Fatalf("list failed: %s", res.Message)
	}
	if !strings.Contains(res.Message, "write tests") || strings.Contains(res.Message, "review patch") {
		t.Errorf("pending filter wrong:\n%s", res.Message)
	}

	res = HandleAction(path, Params{Action: ActionList, Query: "refactors"}, &Options{Now: toolNow})
	if !strings.Contains(res.Message, "tests before refactors") {
		t.Errorf("query filter wrong:\n%s", res.Message)
	}
}

func TestListEmptyBrain(t *testing.T) {
	res := HandleAction(toolPath(t), Params{Action: ActionList}, &Options{Now: toolNow})
	if !res.OK || !strings.Contains(res.Message, "empty") {
		t.Errorf("empty list = %+v", res)
	}
}

func TestTaskDone(t *testing.T) {
	path := toolPath(t)
	e := mustAdd(t, path, Params{Type: TypeTask, Description: "ship it"})

	res := HandleAction(path, Params{Action: ActionTaskDone, ID: e.ID}, &Options{Now: toolNow})
	if !res.OK {
		t.Fatalf("task_done failed: %s", res.Message)
	}
	updated := res.Data.(Entry)
	if updated.Status != StatusDone || updated.CompletedAt != NowUTC(toolNow) {
		t.Errorf("task not completed: %+v", updated)
	}

	// Wrong type is refused.
	l := mustAdd(t, path, Params{Type: TypeLearning, Text: "not a task"})
	if res := HandleAction(path, Params{Action: ActionTaskDone, ID: l.ID}, nil); res.OK {
		t.Error("task_done accepted a learning")
	}
}

func TestTaskClear(t *testing.T) {
	path := toolPath(t)
	a := mustAdd(t, path, Params{Type: TypeTask, Description: "done one"})
	mustAdd(t, path, Params{Type: TypeTask, Description: "still open"})
	HandleAction(path, Params{Action: ActionTaskDone, ID: a.ID}, &Options{Now: toolNow})

	res := HandleAction(path, Params{Action: ActionTaskClear}, &Options{Now: toolNow})
	if !res.OK || !strings.Contains(res.Message, "1") {
		t.Fatalf("task_clear = %+v", res)
	}

	entries, _, _ := ReadBrain(path)
	m := Fold(entries)
	if len(m.Tasks) != 1 || m.Tasks[0].Description != "still open" {
		t.Errorf("wrong tasks survived: %+v", m.Tasks)
	}
}

func TestReminderRunRecordsAndReschedules(t *testing.T) {
	path := toolPath(t)
	e := mustAdd(t, path, Params{
		Type: TypeReminder, Text: "standup",
		Cadence: &Cadence{Kind: CadenceInterval, Every: "1d"},
	})

	runNow := toolNow.Add(26 * time.Hour)
	res := HandleAction(path, Params{
		Action: ActionReminderRun, ID: e.ID, RunResult: ResultError, RunError: "agent busy",
	}, &Options{Now: runNow})
	if !res.OK {
		t.Fatalf("reminder_run failed: %s", res.Message)
	}
	updated := res.Data.(Entry)
	if updated.LastRun != NowUTC(runNow) || updated.LastResult != ResultError || updated.LastError != "agent busy" {
		t.Errorf("run not recorded: %+v", updated)
	}
	if updated.NextDue != NowUTC(runNow.AddDate(0, 0, 1)) {
		t.Errorf("next_due not advanced from run time: %q", updated.NextDue)
	}
}

func TestReminderRunValidatesResult(t *testing.T) {
	path := toolPath(t)
	e := mustAdd(t, path, Params{Type: TypeReminder, Text: "water plants"})

	if res := HandleAction(path, Params{Action: ActionReminderRun, ID: e.ID}, nil); res.OK {
		t.Error("missing result accepted")
	}
	if res := HandleAction(path, Params{Action: ActionReminderRun, ID: e.ID, RunResult: "maybe"}, nil); res.OK {
		t.Error("invalid result accepted")
	}
}

func TestDecayPolicy(t *testing.T) {
	path := toolPath(t)

	// Old auto learning with no boosts: age 120d, recency 0, score 0.
	old := testEntry("aaaa0001", TypeLearning)
	old.Created = NowUTC(toolNow.AddDate(0, 0, -120))
	old.Source = SourceAuto
	if err := AppendEntry(path, old, nil); err != nil {
		t.Fatal(err)
	}

	// Equally old, but manual and project-scoped under cwd: 0+5+2 = 7,
	// above the threshold.
	oldManual := testEntry("aaaa0002", TypeLearning)
	oldManual.Created = NowUTC(toolNow.AddDate(0, 0, -120))
	oldManual.Scope = ScopeProject
	oldManual.ProjectPath = "/home/x/proj"
	if err := AppendEntry(path, oldManual, nil); err != nil {
		t.Fatal(err)
	}

	// Fresh learning: high recency, never a candidate.
	fresh := testEntry("aaaa0003", TypeLearning)
	fresh.Created = NowUTC(toolNow.AddDate(0, 0, -5))
	if err := AppendEntry(path, fresh, nil); err != nil {
		t.Fatal(err)
	}

	// Old preference: immune by policy.
	pref := testEntry("aaaa0004", TypePreference)
	pref.Created = NowUTC(toolNow.AddDate(0, 0, -400))
	if err := AppendEntry(path, pref, nil); err != nil {
		t.Fatal(err)
	}

	res := HandleAction(path, Params{Action: ActionDecay}, &Options{
		Now: toolNow, Cwd: "/home/x/proj/sub", DecayAfterDays: 90, DecayMinScore: 3,
	})
	if !res.OK {
		t.Fatalf("decay failed: %s", res.Message)
	}

	entries, _, _ := ReadBrain(path)
	m := Fold(entries)
	if _, ok := m.Lookup("aaaa0001"); ok {
		t.Error("stale zero-score learning survived decay")
	}
	if _, ok := m.Lookup("aaaa0002"); !ok {
		t.Error("project-scoped learning under cwd decayed (score 0+5+2 >= 3)")
	}
	if _, ok := m.Lookup("aaaa0003"); !ok {
		t.Error("fresh learning decayed")
	}
	if len(m.Preferences) != 1 {
		t.Error("preference decayed; preferences are immune")
	}
}

func TestLearningScore(t *testing.T) {
	e := testEntry("aaaa0001", TypeLearning)
	e.Created = NowUTC(toolNow.AddDate(0, 0, -14)) // 2 weeks: recency 8
	e.Source = SourceAuto

	if got := LearningScore(e, toolNow, ""); got != 8 {
		t.Errorf("recency-only score = %d, want 8", got)
	}

	e.Source = SourceManual
	if got := LearningScore(e, toolNow, ""); got != 10 {
		t.Errorf("manual score = %d, want 10", got)
	}

	e.Scope = ScopeProject
	e.ProjectPath = "/home/x/proj"
	if got := LearningScore(e, toolNow, "/home/x/proj/cmd"); got != 15 {
		t.Errorf("project score = %d, want 15", got)
	}
	if got := LearningScore(e, toolNow, "/elsewhere"); got != 10 {
		t.Errorf("off-project score = %d, want 10", got)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Use pnpm, not npm", "use pnpm not npm"},
		{"  USE  pnpm -- not npm!! ", "use pnpm not npm"},
		{"", ""},
		{"...", ""},
		{"a1 B2", "a1 b2"},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHandleActionUnknown(t *testing.T) {
	if res := HandleAction(toolPath(t), Params{Action: "explode"}, nil); res.OK {
		t.Error("unknown action succeeded")
	}
	if res := HandleAction(toolPath(t), Params{}, nil); res.OK {
		t.Error("missing action succeeded")
	}
}
