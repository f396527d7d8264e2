// File: internal/engine/locator.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Role is the semantic purpose of an element the loop needs to find.
type Role int

const (
	RoleRow Role = iota
	RoleMenuTrigger
	RoleDeleteAction
	RoleConfirmAction
	RoleBackControl
)

var roleNames = map[Role]string{
	RoleRow:           "row",
	RoleMenuTrigger:   "menu_trigger",
	RoleDeleteAction:  "delete_action",
	RoleConfirmAction: "confirm_action",
	RoleBackControl:   "back_control",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Pick selects which element of a winning match set is returned.
type Pick int

const (
	PickFirst Pick = iota
	PickLast
)

// MatchField is the element property keywords are compared against.
type MatchField int

const (
	// FieldAny matches the accessible label or the visible text.
	FieldAny MatchField = iota
	FieldLabel
	FieldText
)

// Query is one candidate in a role's ordered list.
type Query struct {
	Name     string
	Selector Selector
	// Keywords, when non-empty, keep only elements whose label/text contains
	// one of them (case-insensitive). Exact requires equality instead.
	Keywords    []string
	Field       MatchField
	Exact       bool
	Pick        Pick
	VisibleOnly bool
}

func (q Query) filter(items []Item) []Item {
	if len(q.Keywords) == 0 && !q.VisibleOnly {
		return items
	}
	out := items[:0:0]
	for _, it := range items {
		if q.VisibleOnly && !it.Visible {
			continue
		}
		if len(q.Keywords) > 0 && !q.matches(it) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (q Query) matches(it Item) bool {
	var fields []string
	switch q.Field {
	case FieldLabel:
		fields = []string{it.Label}
	case FieldText:
		fields = []string{it.Text}
	default:
		fields = []string{it.Label, it.Text}
	}
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		for _, kw := range q.Keywords {
			kw = strings.ToLower(kw)
			if q.Exact && f == kw {
				return true
			}
			if !q.Exact && strings.Contains(f, kw) {
				return true
			}
		}
	}
	return false
}

// Table maps each role to its ordered candidate queries.
type Table map[Role][]Query

// Validate reports roles the loop needs but the table leaves empty.
func (t Table) Validate() error {
	for _, r := range []Role{RoleRow, RoleDeleteAction, RoleConfirmAction} {
		if len(t[r]) == 0 {
			return fmt.Errorf("locator table has no candidates for role %s", r)
		}
	}
	return nil
}

// Locator resolves roles to elements by trying candidate queries in order.
type Locator struct {
	host   Host
	table  Table
	poll   time.Duration
	logger *zap.Logger
}

// NewLocator creates a Locator. poll is the interval between attempts in Await.
func NewLocator(host Host, table Table, poll time.Duration, logger *zap.Logger) *Locator {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &Locator{
		host:   host,
		table:  table,
		poll:   poll,
		logger: logger.Named("locator"),
	}
}

// Locate returns the element picked from the first candidate query that
// matches anything. It returns an error wrapping ErrLocatorMiss when no
// candidate matches.
func (l *Locator) Locate(ctx context.Context, role Role, scope Scope) (Item, error) {
	items, q, err := l.match(ctx, role, scope)
	if err != nil {
		return Item{}, err
	}
	if q.Pick == PickLast {
		return items[len(items)-1], nil
	}
	return items[0], nil
}

// All returns the whole winning match set, in document order.
func (l *Locator) All(ctx context.Context, role Role, scope Scope) ([]Item, error) {
	items, _, err := l.match(ctx, role, scope)
	return items, err
}

// Count returns the size of the winning match set, or zero on a miss.
func (l *Locator) Count(ctx context.Context, role Role, scope Scope) (int, error) {
	items, _, err := l.match(ctx, role, scope)
	if errors.Is(err, ErrLocatorMiss) {
		return 0, nil
	}
	return len(items), err
}

// Await polls Locate until it succeeds or timeout elapses. The number of
// attempts is derived from timeout and the poll interval so the wait is
// bounded by the host's own clock.
func (l *Locator) Await(ctx context.Context, role Role, scope Scope, timeout time.Duration) (Item, error) {
	attempts := int(timeout/l.poll) + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		item, err := l.Locate(ctx, role, scope)
		if err == nil {
			return item, nil
		}
		if ctx.Err() != nil {
			return Item{}, ctx.Err()
		}
		if errors.Is(err, ErrStale) {
			return Item{}, err
		}
		lastErr = err
		if i < attempts-1 {
			if err := l.host.Wait(ctx, l.poll); err != nil {
				return Item{}, err
			}
		}
	}
	return Item{}, lastErr
}

func (l *Locator) match(ctx context.Context, role Role, scope Scope) ([]Item, Query, error) {
	candidates := l.table[role]
	var lastErr error
	failed := 0
	for _, q := range candidates {
		items, err := l.host.QueryAll(ctx, scope, q.Selector)
		if err != nil {
			if ctx.Err() != nil {
				return nil, q, ctx.Err()
			}
			if errors.Is(err, ErrStale) {
				return nil, q, err
			}
			l.logger.Debug("Candidate query failed, trying next.",
				zap.Stringer("role", role),
				zap.String("candidate", q.Name),
				zap.Error(err))
			lastErr = err
			failed++
			continue
		}
		matched := q.filter(items)
		if len(matched) == 0 {
			continue
		}
		for i := range matched {
			matched[i].Identity = Identify(matched[i])
		}
		l.logger.Debug("Candidate matched.",
			zap.Stringer("role", role),
			zap.String("candidate", q.Name),
			zap.Int("matches", len(matched)))
		return matched, q, nil
	}
	// Every candidate errored: the document itself is not answering, which is
	// a different condition from an honest miss.
	if failed > 0 && failed == len(candidates) {
		return nil, Query{}, fmt.Errorf("locating %s in %s scope: %w", role, scope, lastErr)
	}
	return nil, Query{}, fmt.Errorf("%w: %s in %s scope", ErrLocatorMiss, role, scope)
}
