// Package script holds the in-page helper library shared by the browser
// hosts and the codec for its results. Every host call is a single
// expression that evaluates to a JSON string, so the same library works under
// chromedp and rod.
package script

import (
	_ "embed"
	"errors"
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/sweep-cli/internal/engine"
)

//go:embed sweep.js
var library string

// Op names an operation implemented by the page library.
type Op string

const (
	OpQuery          Op = "query"
	OpAttached       Op = "attached"
	OpClick          Op = "click"
	OpContextMenu    Op = "contextmenu"
	OpPointer        Op = "pointer"
	OpHover          Op = "hover"
	OpScrollIntoView Op = "scrollIntoView"
	OpGeometry       Op = "geometry"
	OpScrollBottom   Op = "scrollBottom"
	OpBlank          Op = "blank"
	OpReady          Op = "ready"
)

// HandleAttr is the attribute the library tags located elements with.
const HandleAttr = "data-sweep-handle"

// Args is the argument object passed to an op. Zero fields are omitted.
type Args struct {
	Scope  string `json:"scope,omitempty"`
	Handle string `json:"handle,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Expr   string `json:"expr,omitempty"`
}

// Element is one element description returned by OpQuery.
type Element struct {
	Handle  string            `json:"handle"`
	Text    string            `json:"text"`
	Label   string            `json:"label"`
	Attrs   map[string]string `json:"attrs"`
	Visible bool              `json:"visible"`
}

// Rect is a viewport-relative bounding box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Response is the decoded result of any op.
type Response struct {
	OK    bool      `json:"ok"`
	Stale bool      `json:"stale"`
	Ready bool      `json:"ready"`
	Error string    `json:"error"`
	Items []Element `json:"items"`
	Rect  *Rect     `json:"rect"`
}

// ErrScript reports an exception raised inside the page library.
var ErrScript = errors.New("page script failed")

// Call builds the expression that runs op with args and evaluates to the
// JSON-encoded Response.
func Call(op Op, args Args) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s arguments: %w", op, err)
	}
	opName, err := json.Marshal(string(op))
	if err != nil {
		return "", fmt.Errorf("failed to encode op name: %w", err)
	}
	return fmt.Sprintf("JSON.stringify((%s)(%s, %s))", library, opName, encoded), nil
}

// Decode parses the string produced by a Call expression. A stale response
// becomes an error wrapping engine.ErrStale.
func Decode(op Op, raw string) (Response, error) {
	var resp Response
	if raw == "" {
		return resp, fmt.Errorf("%s: empty result from page", op)
	}
	if err := json.UnmarshalFromString(raw, &resp); err != nil {
		return resp, fmt.Errorf("%s: failed to decode page result: %w", op, err)
	}
	if resp.Stale {
		return resp, fmt.Errorf("%s: %w", op, engine.ErrStale)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s: %w: %s", op, ErrScript, resp.Error)
	}
	return resp, nil
}

// QueryArgs translates an engine scope and selector into OpQuery arguments.
func QueryArgs(scope engine.Scope, sel engine.Selector) Args {
	args := Args{Scope: scope.Kind.String(), Kind: sel.Kind.String(), Expr: sel.Expr}
	if scope.Kind == engine.ScopeItem {
		args.Handle = scope.Item.Handle
	}
	return args
}

// Target returns the arguments for an op acting on a single item.
func Target(it engine.Item) Args { return Args{Handle: it.Handle} }

// ToItems converts queried elements into engine items. Identity is left for
// the locator to assign.
func (r Response) ToItems() []engine.Item {
	out := make([]engine.Item, 0, len(r.Items))
	for _, el := range r.Items {
		out = append(out, engine.Item{
			Handle:  el.Handle,
			Text:    el.Text,
			Label:   el.Label,
			Attrs:   el.Attrs,
			Visible: el.Visible,
		})
	}
	return out
}

// Selector returns a CSS selector addressing the element tagged with handle.
func Selector(handle string) string {
	return fmt.Sprintf("[%s=%q]", HandleAttr, handle)
}
