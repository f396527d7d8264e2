// File: internal/engine/selectors.go
package engine

// Keyword variants for the supported UI languages. Adding a locale means
// adding strings here, not control flow.
var (
	deleteChatKeywords = []string{"Delete chat", "Delete conversation", "מחק צ'אט", "מחק שיחה"}
	deleteKeywords     = []string{"Delete", "Remove", "מחק", "הסר"}
	confirmKeywords    = []string{"Delete chat", "Delete", "Confirm", "OK", "מחק", "הסר", "אישור"}
	menuKeywords       = []string{"More", "Menu", "Options", "Actions", "עוד", "אפשרויות", "תפריט", "פעולות"}
	backKeywords       = []string{"Back", "Close", "חזור", "סגור"}
)

// DefaultTable returns the built-in candidate queries, semantic matches
// first and positional fallbacks last.
func DefaultTable() Table {
	return Table{
		RoleRow: {
			{Name: "role-row", Selector: Selector{Kind: CSS, Expr: `[role="row"]`}},
			{Name: "role-listitem", Selector: Selector{Kind: CSS, Expr: `[role="listitem"]`}},
			{Name: "conversation-label", Selector: Selector{Kind: XPath, Expr: `//div[contains(@aria-label, "Conversation")]`}},
		},
		RoleMenuTrigger: {
			{
				Name:     "labelled-menu-button",
				Selector: Selector{Kind: CSS, Expr: `[role="button"][aria-label]`},
				Keywords: menuKeywords,
				Field:    FieldLabel,
				Pick:     PickLast,
			},
			{Name: "any-labelled-button", Selector: Selector{Kind: XPath, Expr: `.//div[@aria-label and @role="button"]`}, Pick: PickLast},
			{Name: "last-button", Selector: Selector{Kind: CSS, Expr: `[role="button"], button`}, Pick: PickLast},
		},
		RoleDeleteAction: {
			{
				Name:     "menuitem-delete-chat",
				Selector: Selector{Kind: CSS, Expr: `[role="menuitem"]`},
				Keywords: deleteChatKeywords,
				Field:    FieldText,
			},
			{
				Name:     "menuitem-delete",
				Selector: Selector{Kind: CSS, Expr: `[role="menuitem"]`},
				Keywords: deleteKeywords,
				Field:    FieldAny,
			},
			{
				Name:     "menu-text-delete",
				Selector: Selector{Kind: XPath, Expr: `//div[@role="menu"]//span`},
				Keywords: deleteKeywords,
				Field:    FieldText,
				Exact:    true,
			},
			{Name: "last-menu-entry", Selector: Selector{Kind: XPath, Expr: `//div[@role="menu"]/div/div`}, Pick: PickLast},
		},
		RoleConfirmAction: {
			{
				Name:     "dialog-button-text",
				Selector: Selector{Kind: CSS, Expr: `[role="button"], button`},
				Keywords: confirmKeywords,
				Field:    FieldText,
				Exact:    true,
			},
			{
				Name:     "dialog-button-label",
				Selector: Selector{Kind: CSS, Expr: `[role="button"][aria-label], button[aria-label]`},
				Keywords: deleteKeywords,
				Field:    FieldLabel,
			},
			{Name: "confirmation-testid", Selector: Selector{Kind: CSS, Expr: `[data-testid*="confirm" i]`}},
			{Name: "last-dialog-button", Selector: Selector{Kind: CSS, Expr: `[role="button"], button`}, Pick: PickLast, VisibleOnly: true},
		},
		RoleBackControl: {
			{
				Name:     "labelled-back",
				Selector: Selector{Kind: CSS, Expr: `[aria-label]`},
				Keywords: backKeywords,
				Field:    FieldLabel,
			},
		},
	}
}
