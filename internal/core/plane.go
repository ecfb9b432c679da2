package core

import (
	"fmt"
	"io"
	"strings"
)

// TextPlane stores a 2D grid of formatted cell values in row-major order.
type TextPlane struct {
	W, H int
	data []string
}

// NewTextPlane allocates a plane with the given dimensions.
func NewTextPlane(w, h int) *TextPlane {
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	return &TextPlane{W: w, H: h, data: make([]string, w*h)}
}

// Index returns the linear slice index for coordinates (x, y).
func (p *TextPlane) Index(x, y int) int { return y*p.W + x }

// Set stores the text of cell (x, y).
func (p *TextPlane) Set(x, y int, s string) { p.data[p.Index(x, y)] = s }

// At returns the text of cell (x, y).
func (p *TextPlane) At(x, y int) string { return p.data[p.Index(x, y)] }

// Rows returns the plane as rows of cells, top row first.
func (p *TextPlane) Rows() [][]string {
	rows := make([][]string, p.H)
	for y := range rows {
		rows[y] = p.data[y*p.W : (y+1)*p.W]
	}
	return rows
}

// WriteTo renders the plane with right-aligned columns, y growing downwards.
func (p *TextPlane) WriteTo(w io.Writer) (int64, error) {
	width := 1
	for _, s := range p.data {
		if len(s) > width {
			width = len(s)
		}
	}
	var b strings.Builder
	for _, row := range p.Rows() {
		for x, s := range row {
			if x > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%*s", width, s)
		}
		b.WriteByte('\n')
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
