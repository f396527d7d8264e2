package engine

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// queryDoc is the on-disk shape of one candidate query.
type queryDoc struct {
	Name        string   `yaml:"name"`
	CSS         string   `yaml:"css"`
	XPath       string   `yaml:"xpath"`
	Keywords    []string `yaml:"keywords"`
	Field       string   `yaml:"field"`
	Exact       bool     `yaml:"exact"`
	Pick        string   `yaml:"pick"`
	VisibleOnly bool     `yaml:"visible_only"`
}

func (d queryDoc) toQuery() (Query, error) {
	q := Query{
		Name:        d.Name,
		Keywords:    d.Keywords,
		Exact:       d.Exact,
		VisibleOnly: d.VisibleOnly,
	}
	switch {
	case d.CSS != "" && d.XPath != "":
		return q, fmt.Errorf("query %q sets both css and xpath", d.Name)
	case d.CSS != "":
		q.Selector = Selector{Kind: CSS, Expr: d.CSS}
	case d.XPath != "":
		q.Selector = Selector{Kind: XPath, Expr: d.XPath}
	default:
		return q, fmt.Errorf("query %q has no selector", d.Name)
	}

	switch strings.ToLower(d.Field) {
	case "", "any":
		q.Field = FieldAny
	case "label":
		q.Field = FieldLabel
	case "text":
		q.Field = FieldText
	default:
		return q, fmt.Errorf("query %q: unknown field %q", d.Name, d.Field)
	}

	switch strings.ToLower(d.Pick) {
	case "", "first":
		q.Pick = PickFirst
	case "last":
		q.Pick = PickLast
	default:
		return q, fmt.Errorf("query %q: unknown pick %q", d.Name, d.Pick)
	}
	if q.Name == "" {
		q.Name = q.Selector.String()
	}
	return q, nil
}

// LoadTable reads a YAML document keyed by role name and overlays it on base.
// A role present in the document replaces base's candidates for that role;
// absent roles keep base's list.
func LoadTable(r io.Reader, base Table) (Table, error) {
	var doc map[string][]queryDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return base, nil
		}
		return nil, fmt.Errorf("failed to decode locator table: %w", err)
	}

	out := make(Table, len(base))
	for role, queries := range base {
		out[role] = queries
	}
	for name, docs := range doc {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		queries := make([]Query, 0, len(docs))
		for _, d := range docs {
			q, err := d.toQuery()
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			queries = append(queries, q)
		}
		out[role] = queries
	}
	return out, out.Validate()
}

// LoadTableFile is LoadTable over a file path.
func LoadTableFile(path string, base Table) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open locator table: %w", err)
	}
	defer f.Close()
	return LoadTable(f, base)
}
