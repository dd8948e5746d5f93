package brain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/untoldecay/rho/internal/lockfile"
)

// Actions accepted by HandleAction.
const (
	ActionAdd         = "add"
	ActionUpdate      = "update"
	ActionRemove      = "remove"
	ActionList        = "list"
	ActionDecay       = "decay"
	ActionTaskDone    = "task_done"
	ActionTaskClear   = "task_clear"
	ActionReminderRun = "reminder_run"
)

// Params carries the parameters of one brain action. Which fields matter
// depends on Action and Type; missing required parameters surface as
// Result{OK:false}, never as a panic.
type Params struct {
	Action string `json:"action"`
	Type   string `json:"type,omitempty"`
	ID     string `json:"id,omitempty"`

	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	Category    string   `json:"category,omitempty"`
	Text        string   `json:"text,omitempty"`
	Source      string   `json:"source,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	ProjectPath string   `json:"projectPath,omitempty"`
	Project     string   `json:"project,omitempty"`
	Path        string   `json:"path,omitempty"`
	Content     string   `json:"content,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Due         string   `json:"due,omitempty"`
	Enabled     *bool    `json:"enabled,omitempty"`
	Cadence     *Cadence `json:"cadence,omitempty"`

	// list
	Query   string `json:"query,omitempty"`
	Filter  string `json:"filter,omitempty"` // task: pending|done; reminder: active
	Verbose bool   `json:"verbose,omitempty"`

	// reminder_run
	RunResult string `json:"runResult,omitempty"` // ok|error|skipped
	RunError  string `json:"runError,omitempty"`
}

// Options tune an action invocation. The zero value uses real time and
// the built-in defaults.
type Options struct {
	Now            time.Time
	Cwd            string
	DecayAfterDays int
	DecayMinScore  int
	Store          *StoreOptions
}

func (o *Options) now() time.Time {
	if o != nil && !o.Now.IsZero() {
		return o.Now
	}
	return time.Now()
}

func (o *Options) store() *StoreOptions {
	if o != nil {
		return o.Store
	}
	return nil
}

// Result is the structured outcome of every brain action. The tool never
// returns a Go error or panics across this surface: failures are encoded
// here so any caller (CLI, HTTP glue, extensions) can relay them.
type Result struct {
	OK      bool        `json:"ok"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func fail(format string, args ...interface{}) Result {
	return Result{OK: false, Message: fmt.Sprintf(format, args...)}
}

// HandleAction dispatches one brain operation against the log at
// brainPath.
func HandleAction(brainPath string, p Params, opts *Options) Result {
	switch p.Action {
	case ActionAdd:
		return handleAdd(brainPath, p, opts)
	case ActionUpdate:
		return handleUpdate(brainPath, p, opts)
	case ActionRemove:
		return handleRemove(brainPath, p, opts)
	case ActionList:
		return handleList(brainPath, p, opts)
	case ActionDecay:
		return handleDecay(brainPath, p, opts)
	case ActionTaskDone:
		return handleTaskDone(brainPath, p, opts)
	case ActionTaskClear:
		return handleTaskClear(brainPath, opts)
	case ActionReminderRun:
		return handleReminderRun(brainPath, p, opts)
	case "":
		return fail("missing action")
	default:
		return fail("unknown action %q", p.Action)
	}
}

func handleAdd(brainPath string, p Params, opts *Options) Result {
	if p.Type == "" {
		return fail("add requires a type")
	}
	now := opts.now()
	e := Entry{
		Type:        p.Type,
		Created:     NowUTC(now),
		Category:    p.Category,
		Text:        p.Text,
		Key:         p.Key,
		Value:       p.Value,
		Source:      p.Source,
		Scope:       p.Scope,
		ProjectPath: p.ProjectPath,
		Project:     p.Project,
		Path:        p.Path,
		Content:     p.Content,
		Description: p.Description,
		Status:      p.Status,
		Priority:    p.Priority,
		Tags:        p.Tags,
		Due:         p.Due,
		Enabled:     p.Enabled,
		Cadence:     p.Cadence,
	}
	applyDefaults(&e, now)
	e.ID = IDFor(&e)

	if err := Validate(&e); err != nil {
		return fail("invalid %s entry: %v", e.Type, err)
	}

	// learning/preference reject duplicate text at write time; everything
	// else appends unconditionally.
	if e.Type == TypeLearning || e.Type == TypePreference {
		wrote, err := AppendEntryWithDedup(brainPath, e, opts.store(), IsDuplicateText)
		if err != nil {
			return writeFailure(err)
		}
		if !wrote {
			return fail("Duplicate %s: already stored", e.Type)
		}
	} else if err := AppendEntry(brainPath, e, opts.store()); err != nil {
		return writeFailure(err)
	}
	return Result{OK: true, Message: fmt.Sprintf("Added %s %s", e.Type, e.ID), Data: e}
}

// applyDefaults fills per-type defaults for new entries.
func applyDefaults(e *Entry, now time.Time) {
	switch e.Type {
	case TypeTask:
		if e.Status == "" {
			e.Status = StatusPending
		}
		if e.Priority == "" {
			e.Priority = PriorityNormal
		}
		if e.Tags == nil {
			e.Tags = []string{}
		}
	case TypeReminder:
		if e.Enabled == nil {
			t := true
			e.Enabled = &t
		}
		if e.Priority == "" {
			e.Priority = PriorityNormal
		}
		if e.Tags == nil {
			e.Tags = []string{}
		}
		if e.Cadence != nil && e.NextDue == "" {
			if due, err := NextDue(e.Cadence, now); err == nil {
				e.NextDue = NowUTC(due)
			}
		}
	case TypeLearning:
		if e.Source == "" {
			e.Source = SourceManual
		}
		if e.Scope == "" {
			e.Scope = ScopeGlobal
		}
	}
}

func handleUpdate(brainPath string, p Params, opts *Options) Result {
	if p.ID == "" {
		return fail("update requires an id")
	}
	entries, _, err := ReadBrain(brainPath)
	if err != nil {
		return fail("reading brain: %v", err)
	}
	existing, ok := Fold(entries).Lookup(p.ID)
	if !ok {
		return fail("no entry with id %s", p.ID)
	}

	merged := mergeParams(existing, p)
	if err := Validate(&merged); err != nil {
		return fail("invalid update for %s: %v", p.ID, err)
	}
	if err := AppendEntry(brainPath, merged, opts.store()); err != nil {
		return writeFailure(err)
	}
	return Result{OK: true, Message: fmt.Sprintf("Updated %s %s", merged.Type, merged.ID), Data: merged}
}

// mergeParams overlays provided params onto an existing entry, preserving
// id, type, and created.
func mergeParams(e Entry, p Params) Entry {
	if p.Category != "" {
		e.Category = p.Category
	}
	if p.Text != "" {
		e.Text = p.Text
	}
	if p.Value != "" {
		e.Value = p.Value
	}
	if p.Source != "" {
		e.Source = p.Source
	}
	if p.Scope != "" {
		e.Scope = p.Scope
	}
	if p.ProjectPath != "" {
		e.ProjectPath = p.ProjectPath
	}
	if p.Project != "" {
		e.Project = p.Project
	}
	if p.Content != "" {
		e.Content = p.Content
	}
	if p.Description != "" {
		e.Description = p.Description
	}
	if p.Status != "" {
		e.Status = p.Status
	}
	if p.Priority != "" {
		e.Priority = p.Priority
	}
	if p.Tags != nil {
		e.Tags = p.Tags
	}
	if p.Due != "" {
		e.Due = p.Due
	}
	if p.Enabled != nil {
		e.Enabled = p.Enabled
	}
	if p.Cadence != nil {
		e.Cadence = p.Cadence
	}
	return e
}

func handleRemove(brainPath string, p Params, opts *Options) Result {
	now := opts.now()

	targetID := p.ID
	targetType := p.Type
	summary := ""

	if targetID == "" {
		// Keyed removal: derive the deterministic id from type+key.
		if !IsKeyedType(p.Type) {
			return fail("remove requires an id (or a keyed type with a key)")
		}
		key := p.Key
		if p.Type == TypeContext {
			key = p.Path
		}
		if key == "" {
			return fail("remove by %s requires its natural key", p.Type)
		}
		targetID = DeterministicID(p.Type, key)
		summary = fmt.Sprintf("%s %q", p.Type, key)
	}

	if targetType == "" || summary == "" {
		entries, _, err := ReadBrain(brainPath)
		if err != nil {
			return fail("reading brain: %v", err)
		}
		existing, ok := Fold(entries).Lookup(targetID)
		if !ok {
			return fail("no entry with id %s", targetID)
		}
		targetType = existing.Type
		summary = summarize(existing)
	}

	tomb := Entry{
		ID:         RandomID(),
		Type:       TypeTombstone,
		Created:    NowUTC(now),
		TargetID:   targetID,
		TargetType: targetType,
		Reason:     p.Content, // optional free-text reason
	}
	if tomb.Reason == "" {
		tomb.Reason = "removed"
	}
	if err := AppendEntry(brainPath, tomb, opts.store()); err != nil {
		return writeFailure(err)
	}
	return Result{OK: true, Message: "Removed " + summary, Data: tomb}
}

// summarize produces the one-line echo for remove confirmations.
func summarize(e Entry) string {
	switch e.Type {
	case TypeIdentity, TypeUser, TypeMeta:
		return fmt.Sprintf("%s %s=%s", e.Type, e.Key, e.Value)
	case TypeContext:
		return fmt.Sprintf("context %s (%s)", e.Path, e.Project)
	case TypeTask:
		return fmt.Sprintf("task [%s] %s", e.Status, e.Description)
	case TypeReminder:
		return fmt.Sprintf("reminder %s", e.Text)
	default:
		text := e.Text
		if len(text) > 60 {
			text = text[:57] + "..."
		}
		return fmt.Sprintf("%s %s", e.Type, text)
	}
}

func handleList(brainPath string, p Params, opts *Options) Result {
	entries, stats, err := ReadBrain(brainPath)
	if err != nil {
		return fail("reading brain: %v", err)
	}
	m := Fold(entries)

	all := m.All()
	var matched []Entry
	for _, e := range all {
		if p.Type != "" && e.Type != p.Type {
			continue
		}
		if p.Query != "" && !entryMatches(e, p.Query) {
			continue
		}
		switch {
		case e.Type == TypeTask && p.Filter != "":
			if e.Status != p.Filter {
				continue
			}
		case e.Type == TypeReminder && p.Filter == "active":
			if e.Enabled == nil || !*e.Enabled {
				continue
			}
		}
		matched = append(matched, e)
	}

	if p.Verbose {
		raw, _ := json.MarshalIndent(matched, "", "  ")
		return Result{OK: true, Message: string(raw), Data: matched}
	}
	return Result{
		OK:      true,
		Message: formatCompact(matched, opts.now()),
		Data:    map[string]interface{}{"entries": matched, "stats": stats},
	}
}

func entryMatches(e Entry, query string) bool {
	q := strings.ToLower(query)
	for _, s := range []string{e.Text, e.Key, e.Value, e.Description, e.Content, e.Project, e.Path, e.Category} {
		if s != "" && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// formatCompact groups entries by type, oldest to newest, annotated with
// relative age and source.
func formatCompact(entries []Entry, now time.Time) string {
	if len(entries) == 0 {
		return "(brain is empty)"
	}

	byType := map[string][]Entry{}
	for _, e := range entries {
		byType[e.Type] = append(byType[e.Type], e)
	}

	order := []string{TypeIdentity, TypeUser, TypeBehavior, TypePreference, TypeContext, TypeLearning, TypeTask, TypeReminder, TypeMeta}
	var b strings.Builder
	for _, t := range order {
		group := byType[t]
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].Created < group[j].Created })
		fmt.Fprintf(&b, "%s (%d):\n", t, len(group))
		for _, e := range group {
			line := summarize(e)
			age := RelativeAge(e.Created, now)
			if e.Type == TypeLearning && e.Source != "" {
				fmt.Fprintf(&b, "  [%s] %s (%s, %s)\n", e.ID, line, age, e.Source)
			} else {
				fmt.Fprintf(&b, "  [%s] %s (%s)\n", e.ID, line, age)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RelativeAge renders a created timestamp as "3d ago"-style text.
func RelativeAge(created string, now time.Time) string {
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return "?"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func handleDecay(brainPath string, p Params, opts *Options) Result {
	now := opts.now()
	afterDays := 90
	minScore := 3
	cwd := ""
	if opts != nil {
		if opts.DecayAfterDays > 0 {
			afterDays = opts.DecayAfterDays
		}
		if opts.DecayMinScore > 0 {
			minScore = opts.DecayMinScore
		}
		cwd = opts.Cwd
	}

	entries, _, err := ReadBrain(brainPath)
	if err != nil {
		return fail("reading brain: %v", err)
	}
	m := Fold(entries)

	var decayed []string
	for _, e := range m.Learnings {
		age := AgeDays(e, now)
		if age <= afterDays {
			continue
		}
		if LearningScore(e, now, cwd) >= minScore {
			continue
		}
		tomb := Entry{
			ID:         RandomID(),
			Type:       TypeTombstone,
			Created:    NowUTC(now),
			TargetID:   e.ID,
			TargetType: TypeLearning,
			Reason:     "decay",
		}
		if err := AppendEntry(brainPath, tomb, opts.store()); err != nil {
			return writeFailure(err)
		}
		decayed = append(decayed, e.ID)
	}
	// Preferences never decay.

	return Result{
		OK:      true,
		Message: fmt.Sprintf("Decayed %d learning(s)", len(decayed)),
		Data:    map[string]interface{}{"decayed": decayed},
	}
}

func handleTaskDone(brainPath string, p Params, opts *Options) Result {
	if p.ID == "" {
		return fail("task_done requires an id")
	}
	now := opts.now()

	entries, _, err := ReadBrain(brainPath)
	if err != nil {
		return fail("reading brain: %v", err)
	}
	existing, ok := Fold(entries).Lookup(p.ID)
	if !ok {
		return fail("no entry with id %s", p.ID)
	}
	if existing.Type != TypeTask {
		return fail("%s is a %s, not a task", p.ID, existing.Type)
	}

	existing.Status = StatusDone
	existing.CompletedAt = NowUTC(now)
	if err := AppendEntry(brainPath, existing, opts.store()); err != nil {
		return writeFailure(err)
	}
	return Result{OK: true, Message: fmt.Sprintf("Done: %s", existing.Description), Data: existing}
}

func handleTaskClear(brainPath string, opts *Options) Result {
	now := opts.now()
	entries, _, err := ReadBrain(brainPath)
	if err != nil {
		return fail("reading brain: %v", err)
	}
	m := Fold(entries)

	cleared := 0
	for _, e := range m.Tasks {
		if e.Status != StatusDone {
			continue
		}
		tomb := Entry{
			ID:         RandomID(),
			Type:       TypeTombstone,
			Created:    NowUTC(now),
			TargetID:   e.ID,
			TargetType: TypeTask,
			Reason:     "cleared",
		}
		if err := AppendEntry(brainPath, tomb, opts.store()); err != nil {
			return writeFailure(err)
		}
		cleared++
	}
	return Result{OK: true, Message: fmt.Sprintf("Cleared %d done task(s)", cleared)}
}

func handleReminderRun(brainPath string, p Params, opts *Options) Result {
	if p.ID == "" {
		return fail("reminder_run requires an id")
	}
	switch p.RunResult {
	case ResultOK, ResultError, ResultSkipped:
	case "":
		return fail("reminder_run requires a result (ok|error|skipped)")
	default:
		return fail("invalid reminder result %q", p.RunResult)
	}
	now := opts.now()

	entries, _, err := ReadBrain(brainPath)
	if err != nil {
		return fail("reading brain: %v", err)
	}
	existing, ok := Fold(entries).Lookup(p.ID)
	if !ok {
		return fail("no entry with id %s", p.ID)
	}
	if existing.Type != TypeReminder {
		return fail("%s is a %s, not a reminder", p.ID, existing.Type)
	}

	existing.LastRun = NowUTC(now)
	existing.LastResult = p.RunResult
	existing.LastError = p.RunError
	if existing.Cadence != nil {
		due, err := NextDue(existing.Cadence, now)
		if err != nil {
			return fail("reminder %s has malformed cadence: %v", p.ID, err)
		}
		existing.NextDue = NowUTC(due)
	}
	if err := AppendEntry(brainPath, existing, opts.store()); err != nil {
		return writeFailure(err)
	}
	return Result{OK: true, Message: fmt.Sprintf("Ran reminder %s (%s)", existing.ID, p.RunResult), Data: existing}
}

func writeFailure(err error) Result {
	if errors.Is(err, lockfile.ErrLockTimeout) {
		return fail("LOCK_TIMEOUT: brain is busy, try again")
	}
	return fail("writing brain: %v", err)
}
