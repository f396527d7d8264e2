// File: internal/engine/host.go
package engine

import (
	"context"
	"fmt"
	"time"
)

// ScopeKind restricts where a query looks.
type ScopeKind int

const (
	// ScopePage searches the whole document.
	ScopePage ScopeKind = iota
	// ScopeItem searches the sub-tree of a previously located item (a row).
	ScopeItem
	// ScopeDialog searches the topmost modal dialog.
	ScopeDialog
)

func (k ScopeKind) String() string {
	switch k {
	case ScopePage:
		return "page"
	case ScopeItem:
		return "item"
	case ScopeDialog:
		return "dialog"
	default:
		return fmt.Sprintf("scope(%d)", int(k))
	}
}

// Scope is a ScopeKind plus, for ScopeItem, the item that roots the search.
type Scope struct {
	Kind ScopeKind
	Item Item
}

// PageScope returns a scope covering the whole document.
func PageScope() Scope { return Scope{Kind: ScopePage} }

// ItemScope returns a scope rooted at it.
func ItemScope(it Item) Scope { return Scope{Kind: ScopeItem, Item: it} }

// DialogScope returns a scope covering the topmost open dialog.
func DialogScope() Scope { return Scope{Kind: ScopeDialog} }

func (s Scope) String() string {
	if s.Kind == ScopeItem {
		return "item:" + s.Item.Handle
	}
	return s.Kind.String()
}

// SelectorKind tells the host how to evaluate a selector expression.
type SelectorKind int

const (
	// CSS selectors are evaluated with querySelectorAll relative to the scope root.
	CSS SelectorKind = iota
	// XPath expressions are evaluated with the scope root as context node.
	// Use a leading ".//" for scope-relative expressions.
	XPath
)

func (k SelectorKind) String() string {
	if k == XPath {
		return "xpath"
	}
	return "css"
}

// Selector is the structural half of a candidate query.
type Selector struct {
	Kind SelectorKind
	Expr string
}

func (s Selector) String() string { return s.Kind.String() + ":" + s.Expr }

// Key names a keystroke the host can send to the focused context.
type Key string

const (
	KeyEscape Key = "Escape"
	KeyDelete Key = "Delete"
	KeyEnter  Key = "Enter"
)

// Host is the browser capability set the engine drives. Implementations wrap a
// concrete driver. Interaction methods called with a handle that no longer
// resolves to a live node must return an error wrapping ErrStale.
type Host interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	GoBack(ctx context.Context) error
	// WaitReady blocks until the document can be queried again.
	WaitReady(ctx context.Context) error

	// QueryAll returns a one-shot snapshot of the elements matching sel
	// inside scope, in document order.
	QueryAll(ctx context.Context, scope Scope, sel Selector) ([]Item, error)

	ScrollToBottom(ctx context.Context) error
	ScrollIntoView(ctx context.Context, item Item) error
	Hover(ctx context.Context, item Item) error

	Click(ctx context.Context, item Item) error
	ClickViaProgram(ctx context.Context, item Item) error
	ClickViaPointerSequence(ctx context.Context, item Item) error
	ContextClick(ctx context.Context, item Item) error
	ContextClickViaProgram(ctx context.Context, item Item) error
	SendKey(ctx context.Context, key Key) error
	// ClickBlank clicks an empty area of the page, closing popovers.
	ClickBlank(ctx context.Context) error

	// Wait is a settle delay that returns early with ctx.Err() on cancellation.
	Wait(ctx context.Context, d time.Duration) error
	IsAttached(ctx context.Context, item Item) (bool, error)
}
