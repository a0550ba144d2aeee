package chart

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"log/slog"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/nstogner/analyst/pkg/table"
)

const (
	// DefaultMaxEncodedLen is the largest base64 payload returned.
	DefaultMaxEncodedLen = 95000
	// DataURIPrefix prefixes every rendered chart.
	DataURIPrefix = "data:image/png;base64,"
	// ErrNoData is returned when no row has numeric values in both columns.
	ErrNoData = "Error: No valid data to plot."
)

// Renderer draws scatter plots with a least-squares regression line.
// Render never panics or returns an error value: failures come back as
// strings that start with "Error" or "Plotting Error".
type Renderer struct {
	MaxEncodedLen int
	Width         vg.Length
	Height        vg.Length
}

// New returns a renderer with the default size ceiling.
func New() *Renderer {
	return &Renderer{
		MaxEncodedLen: DefaultMaxEncodedLen,
		Width:         6 * vg.Inch,
		Height:        4 * vg.Inch,
	}
}

// Render plots column y against column x.
func (r *Renderer) Render(t *table.Table, x, y string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("chart render panic", "panic", rec)
			out = fmt.Sprintf("Plotting Error: %v", rec)
		}
	}()

	if t == nil {
		return ErrNoData
	}
	xi, err := t.ColumnIndex(x)
	if err != nil {
		return fmt.Sprintf("Plotting Error: %v", err)
	}
	yi, err := t.ColumnIndex(y)
	if err != nil {
		return fmt.Sprintf("Plotting Error: %v", err)
	}

	var pts plotter.XYs
	var xs, ys []float64
	for _, row := range t.Rows {
		xv, xok := table.Float(row[xi])
		yv, yok := table.Float(row[yi])
		if !xok || !yok {
			continue
		}
		pts = append(pts, plotter.XY{X: xv, Y: yv})
		xs = append(xs, xv)
		ys = append(ys, yv)
	}
	if len(pts) == 0 {
		return ErrNoData
	}

	png, err := r.draw(pts, xs, ys, x, y)
	if err != nil {
		return fmt.Sprintf("Plotting Error: %v", err)
	}

	encoded := base64.StdEncoding.EncodeToString(png)
	limit := r.MaxEncodedLen
	if limit <= 0 {
		limit = DefaultMaxEncodedLen
	}
	if len(encoded) > limit {
		return fmt.Sprintf("Error: Plot image is too large (%d encoded characters, limit %d).", len(encoded), limit)
	}
	return DataURIPrefix + encoded
}

func (r *Renderer) draw(pts plotter.XYs, xs, ys []float64, xName, yName string) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s vs %s", yName, xName)
	p.X.Label.Text = xName
	p.Y.Label.Text = yName
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("building scatter: %w", err)
	}
	p.Add(scatter)

	if fit, ok := regressionLine(xs, ys); ok {
		line, err := plotter.NewLine(fit)
		if err != nil {
			return nil, fmt.Errorf("building regression line: %w", err)
		}
		line.LineStyle.Color = color.RGBA{R: 220, A: 255}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		p.Add(line)
		p.Legend.Add("regression", line)
	}

	w, h := r.Width, r.Height
	if w == 0 || h == 0 {
		w, h = 6*vg.Inch, 4*vg.Inch
	}
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("creating png writer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// regressionLine fits y = a + b*x and returns its endpoints over the x
// range. It needs at least two distinct x values.
func regressionLine(xs, ys []float64) (plotter.XYs, bool) {
	if len(xs) < 2 {
		return nil, false
	}
	lo, hi := xs[0], xs[0]
	for _, v := range xs[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if lo == hi {
		return nil, false
	}
	a, b := stat.LinearRegression(xs, ys, nil, false)
	return plotter.XYs{{X: lo, Y: a + b*lo}, {X: hi, Y: a + b*hi}}, true
}
