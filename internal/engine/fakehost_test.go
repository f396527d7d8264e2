package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// fakeRow is one entry of the simulated list.
type fakeRow struct {
	id        string
	text      string
	noTrigger bool
	noDelete  bool
	noAttrs   bool // identity falls back to the text
	deleted   bool
}

// fakeHost simulates a virtualized list with a per-row action menu and a
// confirmation dialog. The first `rendered` rows (deleted or not) are in the
// DOM; ScrollToBottom renders pageSize more. rendered == 0 renders all.
type fakeHost struct {
	rows     []*fakeRow
	rendered int
	pageSize int

	menuFor     *fakeRow
	dialogFor   *fakeRow
	hideConfirm bool

	// fail, when set, is consulted before every interaction; a non-nil
	// return makes that interaction fail.
	fail     func(op, handle string) error
	query    func(scope Scope, sel Selector) ([]Item, error)
	onReload func(h *fakeHost)
	readyErr error

	calls      []string
	keys       []Key
	deletions  map[string]int
	reloads    int
	backs      int
	rowQueries int
	scrolls    int
	waits      []time.Duration
}

func newFakeHost(n int) *fakeHost {
	h := &fakeHost{deletions: make(map[string]int)}
	for i := 1; i <= n; i++ {
		h.rows = append(h.rows, &fakeRow{id: fmt.Sprintf("r%d", i), text: fmt.Sprintf("Chat %d", i)})
	}
	return h
}

func (h *fakeHost) row(id string) *fakeRow {
	for _, r := range h.rows {
		if r.id == id {
			return r
		}
	}
	return nil
}

func (h *fakeHost) liveRows() []*fakeRow {
	window := h.rows
	if h.rendered > 0 && h.rendered < len(window) {
		window = window[:h.rendered]
	}
	var out []*fakeRow
	for _, r := range window {
		if !r.deleted {
			out = append(out, r)
		}
	}
	return out
}

func (h *fakeHost) record(op, handle string) error {
	h.calls = append(h.calls, op+" "+handle)
	if h.fail != nil {
		return h.fail(op, handle)
	}
	return nil
}

func (h *fakeHost) count(op string) int {
	n := 0
	for _, c := range h.calls {
		if strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

// rowFor resolves a row handle or a handle that belongs to a row.
func (h *fakeHost) rowFor(handle string) (*fakeRow, error) {
	_, id, ok := strings.Cut(handle, ":")
	if !ok {
		return nil, fmt.Errorf("bad handle %q", handle)
	}
	r := h.row(id)
	if r == nil || r.deleted {
		return nil, fmt.Errorf("handle %s: %w", handle, ErrStale)
	}
	return r, nil
}

func (h *fakeHost) activate(handle string) error {
	switch {
	case strings.HasPrefix(handle, "trigger:"):
		r, err := h.rowFor(handle)
		if err != nil {
			return err
		}
		h.menuFor = r
	case strings.HasPrefix(handle, "row:"), strings.HasPrefix(handle, "mute-btn:"):
		if _, err := h.rowFor(handle); err != nil {
			return err
		}
	case handle == "menu:delete" || handle == "menu:mute":
		if h.menuFor == nil {
			return fmt.Errorf("menu closed: %w", ErrStale)
		}
		if handle == "menu:delete" {
			h.dialogFor = h.menuFor
		}
		h.menuFor = nil
	case handle == "dialog:confirm" || handle == "dialog:cancel":
		if h.dialogFor == nil {
			return fmt.Errorf("dialog closed: %w", ErrStale)
		}
		if handle == "dialog:confirm" {
			h.dialogFor.deleted = true
			h.deletions[h.dialogFor.id]++
		}
		h.dialogFor = nil
	case handle == "back":
	default:
		return fmt.Errorf("unknown handle %q", handle)
	}
	return nil
}

func (h *fakeHost) Navigate(ctx context.Context, url string) error { return h.record("navigate", url) }

func (h *fakeHost) Reload(ctx context.Context) error {
	h.reloads++
	h.menuFor, h.dialogFor = nil, nil
	if err := h.record("reload", ""); err != nil {
		return err
	}
	if h.onReload != nil {
		h.onReload(h)
	}
	return nil
}

func (h *fakeHost) GoBack(ctx context.Context) error {
	h.backs++
	return h.record("back", "")
}

func (h *fakeHost) WaitReady(ctx context.Context) error { return h.readyErr }

func (h *fakeHost) QueryAll(ctx context.Context, scope Scope, sel Selector) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.query != nil {
		return h.query(scope, sel)
	}
	switch sel.Expr {
	case "row":
		h.rowQueries++
		var items []Item
		for _, r := range h.liveRows() {
			item := Item{Handle: "row:" + r.id, Text: r.text, Visible: true}
			if !r.noAttrs {
				item.Attrs = map[string]string{"data-id": r.id}
			}
			items = append(items, item)
		}
		return items, nil
	case "button":
		r, err := h.rowFor(scope.Item.Handle)
		if err != nil {
			return nil, err
		}
		if r.noTrigger {
			return nil, nil
		}
		return []Item{
			{Handle: "mute-btn:" + r.id, Label: "Mute", Visible: true},
			{Handle: "trigger:" + r.id, Label: "More", Visible: true},
		}, nil
	case "menuitem":
		if h.menuFor == nil {
			return nil, nil
		}
		items := []Item{{Handle: "menu:mute", Text: "Mute", Visible: true}}
		if !h.menuFor.noDelete {
			items = append(items, Item{Handle: "menu:delete", Text: "Delete chat", Visible: true})
		}
		return items, nil
	case "dialog-button":
		if scope.Kind != ScopeDialog || h.dialogFor == nil {
			return nil, nil
		}
		items := []Item{{Handle: "dialog:cancel", Text: "Cancel", Visible: true}}
		if !h.hideConfirm {
			items = append(items, Item{Handle: "dialog:confirm", Text: "Delete", Visible: true})
		}
		return items, nil
	case "back":
		return []Item{{Handle: "back", Label: "Back", Visible: true}}, nil
	}
	return nil, nil
}

func (h *fakeHost) ScrollToBottom(ctx context.Context) error {
	h.scrolls++
	if err := h.record("scroll", ""); err != nil {
		return err
	}
	if h.rendered > 0 {
		h.rendered += h.pageSize
	}
	return nil
}

func (h *fakeHost) ScrollIntoView(ctx context.Context, item Item) error {
	if err := h.record("scroll_into_view", item.Handle); err != nil {
		return err
	}
	_, err := h.rowFor(item.Handle)
	return err
}

func (h *fakeHost) Hover(ctx context.Context, item Item) error {
	if err := h.record("hover", item.Handle); err != nil {
		return err
	}
	_, err := h.rowFor(item.Handle)
	return err
}

func (h *fakeHost) click(op string, item Item) error {
	if err := h.record(op, item.Handle); err != nil {
		return err
	}
	return h.activate(item.Handle)
}

func (h *fakeHost) Click(ctx context.Context, item Item) error { return h.click("click", item) }

func (h *fakeHost) ClickViaProgram(ctx context.Context, item Item) error {
	return h.click("program", item)
}

func (h *fakeHost) ClickViaPointerSequence(ctx context.Context, item Item) error {
	return h.click("pointer", item)
}

func (h *fakeHost) contextOpen(op string, item Item) error {
	if err := h.record(op, item.Handle); err != nil {
		return err
	}
	r, err := h.rowFor(item.Handle)
	if err != nil {
		return err
	}
	h.menuFor = r
	return nil
}

func (h *fakeHost) ContextClick(ctx context.Context, item Item) error {
	return h.contextOpen("context", item)
}

func (h *fakeHost) ContextClickViaProgram(ctx context.Context, item Item) error {
	return h.contextOpen("context_program", item)
}

func (h *fakeHost) SendKey(ctx context.Context, key Key) error {
	h.keys = append(h.keys, key)
	if err := h.record("key", string(key)); err != nil {
		return err
	}
	if key == KeyEscape {
		h.menuFor, h.dialogFor = nil, nil
	}
	return nil
}

func (h *fakeHost) ClickBlank(ctx context.Context) error {
	if err := h.record("blank", ""); err != nil {
		return err
	}
	h.menuFor = nil
	return nil
}

func (h *fakeHost) Wait(ctx context.Context, d time.Duration) error {
	h.waits = append(h.waits, d)
	return ctx.Err()
}

func (h *fakeHost) IsAttached(ctx context.Context, item Item) (bool, error) {
	if strings.HasPrefix(item.Handle, "row:") {
		_, err := h.rowFor(item.Handle)
		return err == nil, nil
	}
	return true, nil
}

var _ Host = (*fakeHost)(nil)

// testTable matches the selectors fakeHost understands.
func testTable() Table {
	return Table{
		RoleRow:         {{Name: "rows", Selector: Selector{Expr: "row"}}},
		RoleMenuTrigger: {{Name: "trigger", Selector: Selector{Expr: "button"}, Pick: PickLast}},
		RoleDeleteAction: {{
			Name:     "delete",
			Selector: Selector{Expr: "menuitem"},
			Keywords: []string{"delete"},
			Field:    FieldText,
		}},
		RoleConfirmAction: {{
			Name:     "confirm",
			Selector: Selector{Expr: "dialog-button"},
			Keywords: []string{"Delete"},
			Field:    FieldText,
			Exact:    true,
		}},
		RoleBackControl: {{Name: "back", Selector: Selector{Expr: "back"}}},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AwaitTimeout = time.Second
	cfg.Recovery.Attempts = 1
	cfg.Recovery.MaxResets = 5
	return cfg
}
