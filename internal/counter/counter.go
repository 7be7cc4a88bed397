package counter

import "sync"

// Counter is the live viewer count of a single room. Each counter owns its
// own mutex so rooms never contend with each other.
type Counter struct {
	mu sync.Mutex
	n  int
}

// Increment adds one viewer.
func (c *Counter) Increment() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

// Decrement removes one viewer. Safe to call from cleanup paths; it only
// waits on this room's mutex and never panics.
func (c *Counter) Decrement() {
	c.mu.Lock()
	c.n--
	c.mu.Unlock()
}

// Value returns the current count. The read may race with concurrent
// writers; the result only feeds a display.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Table maps room IDs to lazily created counters. Idle counters are kept
// around; the set is bounded by room cardinality.
type Table struct {
	counters sync.Map // roomID -> *Counter
}

func NewTable() *Table { return &Table{} }

// get creates the room's counter atomically on first access.
func (t *Table) get(roomID string) *Counter {
	if v, ok := t.counters.Load(roomID); ok {
		return v.(*Counter)
	}
	v, _ := t.counters.LoadOrStore(roomID, &Counter{})
	return v.(*Counter)
}

func (t *Table) Increment(roomID string) { t.get(roomID).Increment() }

func (t *Table) Decrement(roomID string) { t.get(roomID).Decrement() }

func (t *Table) Value(roomID string) int { return t.get(roomID).Value() }

// Snapshot returns the counts for the requested room IDs, or for every room
// the table has ever seen when ids is empty.
func (t *Table) Snapshot(ids ...string) map[string]int {
	out := make(map[string]int)
	if len(ids) > 0 {
		for _, id := range ids {
			out[id] = t.Value(id)
		}
		return out
	}
	t.counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*Counter).Value()
		return true
	})
	return out
}
