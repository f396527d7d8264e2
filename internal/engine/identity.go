// File: internal/engine/identity.go
package engine

import (
	"encoding/hex"
	"hash"
	"hash/fnv"
	"strings"
	"sync"
)

// stableAttributes are consulted in order; the first non-empty one names the
// item.
var stableAttributes = []string{"data-testid", "data-id", "id", "href", "aria-label"}

var hasherPool = sync.Pool{
	New: func() interface{} {
		return fnv.New64a()
	},
}

// Identify derives a best-effort fingerprint for an item: a stable attribute
// when the markup offers one, a hash of the normalized text otherwise, and
// the transient handle as a last resort.
func Identify(it Item) string {
	for _, name := range stableAttributes {
		if v := strings.TrimSpace(it.Attr(name)); v != "" {
			return name + "=" + v
		}
	}
	if text := normalizeText(it.Text); text != "" {
		return "text#" + hashString(text)
	}
	return "handle=" + it.Handle
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func hashString(s string) string {
	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()
	_, _ = hasher.Write([]byte(s))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Tracker is the per-run identity bookkeeping. The attempted set and the
// per-pass deletion marks are cleared by page resets; the deleted and skipped
// sets live for the whole run.
//
// Identities are fingerprints, so two rows can share one. A deleted identity
// stays selectable while the latest scan shows fewer rows carrying it than
// the scan it was deleted from; a row that lingers after its deletion is
// therefore not picked again, while a genuine twin is.
// A Tracker is owned by a single loop and is not safe for concurrent use.
type Tracker struct {
	attempted map[string]struct{}
	deleted   map[string]struct{}
	skipped   map[string]struct{}

	// visible counts identities in the latest scan.
	visible map[string]int
	// lingering holds, per identity deleted in this pass, how many rows
	// carried it when it was deleted.
	lingering map[string]int
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		attempted: make(map[string]struct{}),
		deleted:   make(map[string]struct{}),
		skipped:   make(map[string]struct{}),
		visible:   make(map[string]int),
		lingering: make(map[string]int),
	}
}

// Observe records the rows returned by a fresh scan.
func (t *Tracker) Observe(rows []Item) {
	t.visible = make(map[string]int, len(rows))
	for _, r := range rows {
		t.visible[r.Identity]++
	}
}

func (t *Tracker) MarkAttempted(id string) { t.attempted[id] = struct{}{} }

func (t *Tracker) Attempted(id string) bool {
	_, ok := t.attempted[id]
	return ok
}

// MarkDeleted records a confirmed deletion of a row observed in the latest
// scan.
func (t *Tracker) MarkDeleted(id string) {
	t.deleted[id] = struct{}{}
	t.lingering[id] = t.visible[id]
}

// Deleted reports whether id was deleted at any point in the run.
func (t *Tracker) Deleted(id string) bool {
	_, ok := t.deleted[id]
	return ok
}

// MarkSkipped records an identity that was excluded or given up on.
func (t *Tracker) MarkSkipped(id string) { t.skipped[id] = struct{}{} }

// SkipVisible records every identity of the latest scan as skipped.
func (t *Tracker) SkipVisible() {
	for id := range t.visible {
		t.skipped[id] = struct{}{}
	}
}

// Pending reports whether id may still be selected in this pass.
func (t *Tracker) Pending(id string) bool {
	if t.Attempted(id) {
		return false
	}
	if n, ok := t.lingering[id]; ok {
		return t.visible[id] < n
	}
	return true
}

// SkippedCount is the number of skipped identities that were not deleted
// later in the run.
func (t *Tracker) SkippedCount() int {
	n := 0
	for id := range t.skipped {
		if !t.Deleted(id) {
			n++
		}
	}
	return n
}

// AttemptedLen is the size of the attempted set.
func (t *Tracker) AttemptedLen() int { return len(t.attempted) }

// Reset invalidates the attempted set and the per-pass deletion marks.
func (t *Tracker) Reset() {
	t.attempted = make(map[string]struct{})
	t.lingering = make(map[string]int)
}
