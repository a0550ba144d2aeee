package table

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSuchTable is returned when a name is not present in a Context.
var ErrNoSuchTable = errors.New("no such table")

// Context is the request-scoped mapping from name to Table. Names are
// unique and kept in insertion order; entries are never removed.
type Context struct {
	names  []string
	tables map[string]*Table
	seq    int
}

// NewContext returns an empty data context.
func NewContext() *Context {
	return &Context{tables: make(map[string]*Table)}
}

// Put stores t under a fresh name built from prefix and returns that name.
func (c *Context) Put(prefix string, t *Table) string {
	if prefix == "" {
		prefix = "df"
	}
	var name string
	for {
		c.seq++
		name = fmt.Sprintf("%s_%d", prefix, c.seq)
		if _, exists := c.tables[name]; !exists {
			break
		}
	}
	c.names = append(c.names, name)
	c.tables[name] = t
	return name
}

// Get returns the table stored under name.
func (c *Context) Get(name string) (*Table, error) {
	t, ok := c.tables[name]
	if !ok {
		known := "none"
		if len(c.names) > 0 {
			known = strings.Join(c.names, ", ")
		}
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrNoSuchTable, name, known)
	}
	return t, nil
}

// Latest returns the most recently stored table.
func (c *Context) Latest() (string, *Table, bool) {
	if len(c.names) == 0 {
		return "", nil, false
	}
	name := c.names[len(c.names)-1]
	return name, c.tables[name], true
}

// Names returns the stored names in insertion order.
func (c *Context) Names() []string {
	return append([]string(nil), c.names...)
}

// Len returns the number of stored tables.
func (c *Context) Len() int { return len(c.names) }

// Summary lists each table's name, row count and columns, one per line.
func (c *Context) Summary() string {
	if len(c.names) == 0 {
		return "No tables loaded."
	}
	var b strings.Builder
	for i, name := range c.names {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", name, c.tables[name].Summary())
	}
	return b.String()
}
