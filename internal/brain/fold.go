package brain

// Materialized is the state produced by folding the log in file order.
// Map-backed collections (identity, user, meta) key by natural key;
// list-backed collections preserve log order with replace-by-id upsert.
type Materialized struct {
	Identity map[string]Entry
	User     map[string]Entry
	Meta     map[string]Entry

	Behaviors   []Entry
	Learnings   []Entry
	Preferences []Entry
	Contexts    []Entry // keyed by path via deterministic ids
	Tasks       []Entry
	Reminders   []Entry

	// Dead holds tombstoned ids. A later entry reusing an id removes it
	// (resurrection).
	Dead map[string]bool
}

// Fold materializes entries into collections. Tombstones remove their
// target from the collection named by target_type and record the id in
// the dead set; unknown types are ignored silently.
func Fold(entries []Entry) *Materialized {
	m := &Materialized{
		Identity: make(map[string]Entry),
		User:     make(map[string]Entry),
		Meta:     make(map[string]Entry),
		Dead:     make(map[string]bool),
	}
	for _, e := range entries {
		if e.Type == TypeTombstone {
			m.Dead[e.TargetID] = true
			m.removeByID(e.TargetType, e.TargetID)
			continue
		}
		if m.Dead[e.ID] {
			delete(m.Dead, e.ID) // resurrection
		}
		m.upsert(e)
	}
	return m
}

func (m *Materialized) upsert(e Entry) {
	switch e.Type {
	case TypeIdentity:
		m.Identity[e.Key] = e
	case TypeUser:
		m.User[e.Key] = e
	case TypeMeta:
		m.Meta[e.Key] = e
	case TypeBehavior:
		m.Behaviors = upsertList(m.Behaviors, e)
	case TypeLearning:
		m.Learnings = upsertList(m.Learnings, e)
	case TypePreference:
		m.Preferences = upsertList(m.Preferences, e)
	case TypeContext:
		m.Contexts = upsertList(m.Contexts, e)
	case TypeTask:
		m.Tasks = upsertList(m.Tasks, e)
	case TypeReminder:
		m.Reminders = upsertList(m.Reminders, e)
	}
	// Unknown types fall through: readers stay forward-compatible with
	// entries written by newer versions.
}

func (m *Materialized) removeByID(entryType, id string) {
	switch entryType {
	case TypeIdentity:
		deleteByID(m.Identity, id)
	case TypeUser:
		deleteByID(m.User, id)
	case TypeMeta:
		deleteByID(m.Meta, id)
	case TypeBehavior:
		m.Behaviors = removeList(m.Behaviors, id)
	case TypeLearning:
		m.Learnings = removeList(m.Learnings, id)
	case TypePreference:
		m.Preferences = removeList(m.Preferences, id)
	case TypeContext:
		m.Contexts = removeList(m.Contexts, id)
	case TypeTask:
		m.Tasks = removeList(m.Tasks, id)
	case TypeReminder:
		m.Reminders = removeList(m.Reminders, id)
	}
}

// Lookup finds the live entry with the given id across all collections.
func (m *Materialized) Lookup(id string) (Entry, bool) {
	for _, col := range [][]Entry{m.Behaviors, m.Learnings, m.Preferences, m.Contexts, m.Tasks, m.Reminders} {
		for _, e := range col {
			if e.ID == id {
				return e, true
			}
		}
	}
	for _, col := range []map[string]Entry{m.Identity, m.User, m.Meta} {
		for _, e := range col {
			if e.ID == id {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// All returns every live entry, grouped by type in a stable order. Lists
// keep log order; maps are flattened.
func (m *Materialized) All() []Entry {
	var out []Entry
	for _, e := range m.Identity {
		out = append(out, e)
	}
	for _, e := range m.User {
		out = append(out, e)
	}
	out = append(out, m.Behaviors...)
	out = append(out, m.Preferences...)
	out = append(out, m.Contexts...)
	out = append(out, m.Learnings...)
	out = append(out, m.Tasks...)
	out = append(out, m.Reminders...)
	for _, e := range m.Meta {
		out = append(out, e)
	}
	return out
}

func upsertList(list []Entry, e Entry) []Entry {
	for i := range list {
		if list[i].ID == e.ID {
			list[i] = e
			return list
		}
	}
	return append(list, e)
}

func removeList(list []Entry, id string) []Entry {
	for i := range list {
		if list[i].ID == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func deleteByID(col map[string]Entry, id string) {
	for k, e := range col {
		if e.ID == id {
			delete(col, k)
			return
		}
	}
}
