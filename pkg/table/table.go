package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNoSuchColumn is returned when a column name does not exist in a table.
var ErrNoSuchColumn = errors.New("no such column")

// Table is an in-memory 2-D value with named, ordered columns.
// Cells hold nil, float64, string or bool.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// New builds a table, normalizing every cell.
func New(columns []string, rows [][]any) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	for _, row := range rows {
		t.Append(row)
	}
	return t
}

// Append adds a row, padding or truncating it to the column count.
func (t *Table) Append(row []any) {
	out := make([]any, len(t.Columns))
	for i := range out {
		if i < len(row) {
			out[i] = Normalize(row[i])
		}
	}
	t.Rows = append(t.Rows, out)
}

// Len returns the row count.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Clone returns a deep copy. Cells are immutable scalars so copying the
// row slices is sufficient.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, row := range t.Rows {
		c.Rows[i] = append([]any(nil), row...)
	}
	return c
}

// Equal reports whether both tables have the same columns and cells.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.Columns) != len(o.Columns) || len(t.Rows) != len(o.Rows) {
		return false
	}
	for i := range t.Columns {
		if t.Columns[i] != o.Columns[i] {
			return false
		}
	}
	for i := range t.Rows {
		if len(t.Rows[i]) != len(o.Rows[i]) {
			return false
		}
		for j := range t.Rows[i] {
			if !cellEqual(t.Rows[i][j], o.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

func cellEqual(a, b any) bool {
	fa, aok := a.(float64)
	fb, bok := b.(float64)
	if aok && bok {
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	}
	return a == b
}

// ColumnIndex returns the position of the named column.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q (have %s)", ErrNoSuchColumn, name, strings.Join(t.Columns, ", "))
}

// Column returns a copy of the named column's cells.
func (t *Table) Column(name string) ([]any, error) {
	idx, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Head returns a copy of the first n rows.
func (t *Table) Head(n int) *Table {
	c := t.Clone()
	if n >= 0 && n < len(c.Rows) {
		c.Rows = c.Rows[:n]
	}
	return c
}

// Summary describes the table without its contents.
func (t *Table) Summary() string {
	if t == nil {
		return "no table"
	}
	return fmt.Sprintf("%d rows; columns: %s", len(t.Rows), strings.Join(t.Columns, ", "))
}

// Records returns the rows as column-keyed maps.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			rec[c] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// Kind classifies the cells of a column: "number", "string", "bool",
// "empty" or "mixed".
func (t *Table) Kind(name string) (string, error) {
	col, err := t.Column(name)
	if err != nil {
		return "", err
	}
	kind := "empty"
	for _, v := range col {
		var k string
		switch v.(type) {
		case nil:
			continue
		case float64:
			k = "number"
		case bool:
			k = "bool"
		default:
			k = "string"
		}
		if kind == "empty" {
			kind = k
		} else if kind != k {
			return "mixed", nil
		}
	}
	return kind, nil
}

// Normalize converts a Go value into one of the cell types.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case bool:
		return x
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Float coerces a cell to a float. Strings are parsed; NaN counts as missing.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ParseCell interprets raw text from a file: empty is nil, numbers become
// float64, everything else stays a string.
func ParseCell(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return s
}

// FormatCell renders a cell as text.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
