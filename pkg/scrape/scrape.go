package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nstogner/analyst/pkg/table"
)

// ErrNoTable is returned when a page has no usable HTML table.
var ErrNoTable = errors.New("no table found")

const maxBodyBytes = 20 << 20

// Scraper fetches a page and extracts one HTML table.
type Scraper struct {
	client    *http.Client
	userAgent string
}

// New creates a scraper. A nil client gets a 30 second timeout.
func New(client *http.Client) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Scraper{client: client, userAgent: "analyst/1.0 (table scraper)"}
}

// Options selects which table to extract.
type Options struct {
	// Match picks the first table whose text contains this string.
	Match string
	// Index picks the n-th candidate table (0 based) after Match filtering.
	Index int
}

// Fetch downloads url and extracts a table. Tables with the "wikitable"
// class are preferred over other tables.
func (s *Scraper) Fetch(ctx context.Context, url string, opts Options) (*table.Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	slog.Info("Scraping table", "url", url)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	return Parse(io.LimitReader(resp.Body, maxBodyBytes), opts)
}

// Parse extracts a table from an HTML document.
func Parse(r io.Reader, opts Options) (*table.Table, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	var wiki, other []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Table {
			if hasClass(n, "wikitable") {
				wiki = append(wiki, n)
			} else {
				other = append(other, n)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var candidates []*html.Node
	for _, n := range append(wiki, other...) {
		if opts.Match == "" || strings.Contains(textOf(n), opts.Match) {
			candidates = append(candidates, n)
		}
	}
	if opts.Index < 0 || opts.Index >= len(candidates) {
		return nil, fmt.Errorf("%w (%d candidates, index %d)", ErrNoTable, len(candidates), opts.Index)
	}
	return extract(candidates[opts.Index])
}

type span struct {
	text string
	left int
}

func extract(tbl *html.Node) (*table.Table, error) {
	var header []string
	var rows [][]string
	pending := map[int]*span{}

	for _, tr := range findAll(tbl, atom.Tr) {
		cellNodes := childCells(tr)
		if len(cellNodes) == 0 {
			continue
		}
		allHeader := true
		for _, c := range cellNodes {
			if c.DataAtom != atom.Th {
				allHeader = false
			}
		}

		var cells []string
		col, ci := 0, 0
		for {
			if sp, ok := pending[col]; ok && sp.left > 0 {
				cells = append(cells, sp.text)
				sp.left--
				col++
				continue
			}
			if ci >= len(cellNodes) {
				break
			}
			n := cellNodes[ci]
			ci++
			text := textOf(n)
			colspan := intAttr(n, "colspan")
			rowspan := intAttr(n, "rowspan")
			for k := 0; k < colspan; k++ {
				cells = append(cells, text)
				if rowspan > 1 {
					pending[col] = &span{text: text, left: rowspan - 1}
				}
				col++
			}
		}

		switch {
		case header == nil && allHeader:
			header = cells
		case allHeader:
			// repeated or sub-header row
		default:
			rows = append(rows, cells)
		}
	}

	if header == nil {
		if len(rows) == 0 {
			return nil, ErrNoTable
		}
		header, rows = rows[0], rows[1:]
	}
	for i, h := range header {
		if h == "" {
			header[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	out := &table.Table{Columns: header}
	for _, r := range rows {
		row := make([]any, len(r))
		for i, s := range r {
			row[i] = table.ParseCell(s)
		}
		out.Append(row)
	}
	return out, nil
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.DataAtom == a {
			out = append(out, c)
			continue
		}
		// Nested tables belong to their own extraction.
		if c.DataAtom == atom.Table {
			continue
		}
		out = append(out, findAll(c, a)...)
	}
	return out
}

func childCells(tr *html.Node) []*html.Node {
	var out []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			out = append(out, c)
		}
	}
	return out
}

// textOf returns the visible text of n with whitespace collapsed. Footnote
// markers, styles and scripts are skipped.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Sup, atom.Style, atom.Script:
				return
			case atom.Br:
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func intAttr(n *html.Node, key string) int {
	for _, a := range n.Attr {
		if a.Key == key {
			if v, err := strconv.Atoi(strings.TrimSpace(a.Val)); err == nil && v > 0 {
				return min(v, 1000)
			}
		}
	}
	return 1
}
