package ops

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nstogner/analyst/pkg/table"
)

var errNoTable = errors.New("no table is bound to df")

// apply runs one operation. Table operations return the replacement df;
// output operations return printed text. Neither mutates df.
func (e *Engine) apply(op Op, df *table.Table) (*table.Table, string, error) {
	if op.Op == "echo" {
		return nil, op.Text, nil
	}
	if df == nil {
		return nil, "", errNoTable
	}

	switch op.Op {
	// Table operations.
	case "filter":
		t, err := filterRows(df, op.Column, op.Cmp, op.Value)
		return t, "", err
	case "sort":
		t, err := sortRows(df, op.Column, op.Desc)
		return t, "", err
	case "select":
		t, err := selectColumns(df, op.Columns)
		return t, "", err
	case "head":
		n := op.N
		if n <= 0 {
			n = 10
		}
		return df.Head(n), "", nil
	case "rename":
		t, err := renameColumn(df, op.From, op.To)
		return t, "", err
	case "to_number":
		t, err := mapColumn(df, op.Column, parseNumber)
		return t, "", err
	case "dropna":
		t, err := dropMissing(df, op.Columns)
		return t, "", err
	case "date_diff":
		t, err := dateDiff(df, op.Start, op.End, op.To, op.Layout)
		return t, "", err
	case "group_count":
		t, err := groupCount(df, op.Column)
		return t, "", err

	// Output operations.
	case "count":
		return nil, strconv.Itoa(df.Len()), nil
	case "value", "first":
		s, err := cellValue(df, op.Column, op.N)
		return nil, s, err
	case "corr":
		xs, ys, err := pairs(df, op.X, op.Y)
		if err != nil {
			return nil, "", err
		}
		return nil, formatFloat(stat.Correlation(xs, ys, nil)), nil
	case "slope":
		xs, ys, err := pairs(df, op.X, op.Y)
		if err != nil {
			return nil, "", err
		}
		_, beta := stat.LinearRegression(xs, ys, nil, false)
		return nil, formatFloat(beta), nil
	case "sum", "mean", "min", "max":
		s, err := aggregate(df, op.Op, op.Column)
		return nil, s, err
	case "describe":
		return nil, describe(df), nil
	case "print":
		n := op.N
		if n <= 0 {
			n = 10
		}
		return nil, df.Head(n).String(), nil
	case "plot":
		if e.plotter == nil {
			return nil, "", errors.New("plotting is not available")
		}
		return nil, e.plotter.Render(df, op.X, op.Y), nil
	default:
		return nil, "", fmt.Errorf("unknown operation %q", op.Op)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func filterRows(df *table.Table, column, cmp string, value any) (*table.Table, error) {
	idx, err := df.ColumnIndex(column)
	if err != nil {
		return nil, err
	}
	out := &table.Table{Columns: append([]string(nil), df.Columns...)}
	for _, row := range df.Rows {
		ok, err := match(row[idx], cmp, value)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Rows = append(out.Rows, append([]any(nil), row...))
		}
	}
	return out, nil
}

func match(cell any, cmp string, value any) (bool, error) {
	if cell == nil {
		return false, nil
	}
	if cmp == "contains" {
		return strings.Contains(strings.ToLower(table.FormatCell(cell)), strings.ToLower(table.FormatCell(value))), nil
	}

	var c int
	cf, cok := table.Float(cell)
	vf, vok := table.Float(value)
	switch {
	case cok && vok:
		c = compareFloat(cf, vf)
	default:
		c = strings.Compare(table.FormatCell(cell), table.FormatCell(value))
	}

	switch cmp {
	case "==", "=":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	default:
		return false, fmt.Errorf("unknown comparison %q", cmp)
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sortRows(df *table.Table, column string, desc bool) (*table.Table, error) {
	idx, err := df.ColumnIndex(column)
	if err != nil {
		return nil, err
	}
	out := df.Clone()
	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, b := out.Rows[i][idx], out.Rows[j][idx]
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		var c int
		af, aok := a.(float64)
		bf, bok := b.(float64)
		if aok && bok {
			c = compareFloat(af, bf)
		} else {
			c = strings.Compare(table.FormatCell(a), table.FormatCell(b))
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out, nil
}

func selectColumns(df *table.Table, columns []string) (*table.Table, error) {
	if len(columns) == 0 {
		return nil, errors.New("select needs at least one column")
	}
	idxs := make([]int, len(columns))
	for i, c := range columns {
		idx, err := df.ColumnIndex(c)
		if err != nil {
			return nil, err
		}
		idxs[i] = idx
	}
	out := &table.Table{Columns: append([]string(nil), columns...)}
	for _, row := range df.Rows {
		r := make([]any, len(idxs))
		for i, idx := range idxs {
			r[i] = row[idx]
		}
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

func renameColumn(df *table.Table, from, to string) (*table.Table, error) {
	idx, err := df.ColumnIndex(from)
	if err != nil {
		return nil, err
	}
	if to == "" {
		return nil, errors.New("rename needs a target name")
	}
	out := df.Clone()
	out.Columns[idx] = to
	return out, nil
}

func mapColumn(df *table.Table, column string, fn func(any) any) (*table.Table, error) {
	idx, err := df.ColumnIndex(column)
	if err != nil {
		return nil, err
	}
	out := df.Clone()
	for _, row := range out.Rows {
		row[idx] = fn(row[idx])
	}
	return out, nil
}

var footnote = regexp.MustCompile(`\[[^\]]*\]`)

var magnitudes = []struct {
	word string
	mult float64
}{
	{"trillion", 1e12},
	{"billion", 1e9},
	{"million", 1e6},
	{"thousand", 1e3},
	{"bn", 1e9},
}

// parseNumber cleans currency and footnote noise out of a cell.
// Unparseable cells become missing.
func parseNumber(v any) any {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		s := strings.ToLower(footnote.ReplaceAllString(x, ""))
		mult := 1.0
		for _, m := range magnitudes {
			if strings.Contains(s, m.word) {
				s = strings.ReplaceAll(s, m.word, "")
				mult = m.mult
				break
			}
		}
		var b strings.Builder
		for i, r := range strings.TrimSpace(s) {
			switch {
			case r >= '0' && r <= '9', r == '.':
				b.WriteRune(r)
			case r == '-' && i == 0:
				b.WriteRune(r)
			}
		}
		f, err := strconv.ParseFloat(b.String(), 64)
		if err != nil {
			return nil
		}
		return f * mult
	default:
		return nil
	}
}

func dropMissing(df *table.Table, columns []string) (*table.Table, error) {
	var idxs []int
	if len(columns) == 0 {
		for i := range df.Columns {
			idxs = append(idxs, i)
		}
	}
	for _, c := range columns {
		idx, err := df.ColumnIndex(c)
		if err != nil {
			return nil, err
		}
		idxs = append(idxs, idx)
	}
	out := &table.Table{Columns: append([]string(nil), df.Columns...)}
rows:
	for _, row := range df.Rows {
		for _, idx := range idxs {
			if row[idx] == nil {
				continue rows
			}
			if s, ok := row[idx].(string); ok && strings.TrimSpace(s) == "" {
				continue rows
			}
		}
		out.Rows = append(out.Rows, append([]any(nil), row...))
	}
	return out, nil
}

var dateLayouts = []string{
	time.RFC3339, "2006-01-02", "2006/01/02", "02-01-2006", "02/01/2006", "01/02/2006",
	"2006-01-02 15:04", "2006-01-02 15:04:05", "January 2, 2006", "2 January 2006",
}

func parseDate(v any, layout string) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	layouts := dateLayouts
	if layout != "" {
		layouts = []string{layout}
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dateDiff appends (or overwrites) a column holding end minus start in days.
func dateDiff(df *table.Table, start, end, to, layout string) (*table.Table, error) {
	si, err := df.ColumnIndex(start)
	if err != nil {
		return nil, err
	}
	ei, err := df.ColumnIndex(end)
	if err != nil {
		return nil, err
	}
	if to == "" {
		to = "days"
	}
	out := df.Clone()
	ti, err := out.ColumnIndex(to)
	if err != nil {
		out.Columns = append(out.Columns, to)
		ti = len(out.Columns) - 1
		for i := range out.Rows {
			out.Rows[i] = append(out.Rows[i], nil)
		}
	}
	for _, row := range out.Rows {
		s, sok := parseDate(row[si], layout)
		e, eok := parseDate(row[ei], layout)
		if !sok || !eok {
			row[ti] = nil
			continue
		}
		row[ti] = e.Sub(s).Hours() / 24
	}
	return out, nil
}

func groupCount(df *table.Table, column string) (*table.Table, error) {
	idx, err := df.ColumnIndex(column)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	values := map[string]any{}
	var order []string
	for _, row := range df.Rows {
		v := row[idx]
		if v == nil {
			continue
		}
		key := table.FormatCell(v)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			values[key] = v
		}
		counts[key]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	out := &table.Table{Columns: []string{column, "count"}}
	for _, key := range order {
		out.Rows = append(out.Rows, []any{values[key], float64(counts[key])})
	}
	return out, nil
}

func cellValue(df *table.Table, column string, n int) (string, error) {
	col, err := df.Column(column)
	if err != nil {
		return "", err
	}
	if n < 0 || n >= len(col) {
		return "", fmt.Errorf("row %d out of range (%d rows)", n, len(col))
	}
	return table.FormatCell(col[n]), nil
}

// pairs returns the rows where both columns are numeric.
func pairs(df *table.Table, x, y string) ([]float64, []float64, error) {
	xi, err := df.ColumnIndex(x)
	if err != nil {
		return nil, nil, err
	}
	yi, err := df.ColumnIndex(y)
	if err != nil {
		return nil, nil, err
	}
	var xs, ys []float64
	for _, row := range df.Rows {
		xv, xok := table.Float(row[xi])
		yv, yok := table.Float(row[yi])
		if xok && yok {
			xs = append(xs, xv)
			ys = append(ys, yv)
		}
	}
	if len(xs) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 numeric rows in %q and %q, have %d", x, y, len(xs))
	}
	return xs, ys, nil
}

func aggregate(df *table.Table, fn, column string) (string, error) {
	col, err := df.Column(column)
	if err != nil {
		return "", err
	}
	var vals []float64
	for _, v := range col {
		if f, ok := table.Float(v); ok {
			vals = append(vals, f)
		}
	}
	if len(vals) == 0 {
		return "", fmt.Errorf("column %q has no numeric values", column)
	}
	var r float64
	switch fn {
	case "sum":
		r = floats.Sum(vals)
	case "mean":
		r = stat.Mean(vals, nil)
	case "min":
		r = floats.Min(vals)
	case "max":
		r = floats.Max(vals)
	}
	return formatFloat(r), nil
}

func describe(df *table.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d rows", df.Len())
	for _, c := range df.Columns {
		kind, _ := df.Kind(c)
		col, _ := df.Column(c)
		present := 0
		for _, v := range col {
			if v != nil {
				present++
			}
		}
		fmt.Fprintf(&b, "\n%s: %s (%d non-null)", c, kind, present)
	}
	return b.String()
}
