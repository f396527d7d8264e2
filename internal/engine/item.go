package engine

// Item is a snapshot of one element taken by a single query. Handle is only
// meaningful until the next DOM mutation; Identity is derived from the
// snapshot and used for bookkeeping within one run.
type Item struct {
	Handle   string
	Identity string
	Text     string
	Label    string
	Attrs    map[string]string
	Visible  bool
}

// Attr returns the named attribute, or "" when absent.
func (it Item) Attr(name string) string {
	if it.Attrs == nil {
		return ""
	}
	return it.Attrs[name]
}
