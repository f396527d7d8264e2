// File: internal/engine/errors.go
package engine

import "errors"

var (
	// ErrLocatorMiss means no candidate query for a role matched.
	ErrLocatorMiss = errors.New("no candidate locator matched")
	// ErrDispatchExhausted means every interaction technique failed.
	ErrDispatchExhausted = errors.New("all interaction techniques failed")
	// ErrStale means an element handle no longer resolves to a live node.
	ErrStale = errors.New("element is stale or detached from the document")
	// ErrRecoveryExhausted means a page reset could not restore a queryable
	// list. It is the only error that ends a run early.
	ErrRecoveryExhausted = errors.New("page recovery exhausted")
	// ErrResetLimit means the per-run reset cap is spent. The page is still
	// queryable; the loop stops as if the list had converged.
	ErrResetLimit = errors.New("page reset limit reached")
)
