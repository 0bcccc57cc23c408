// Package export renders stored runs as standalone SVG documents.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/san-kum/closedloop/internal/analysis"
)

var ErrNoData = errors.New("export: nothing to draw")

// Palette colors series in order, wrapping around.
var Palette = []string{"#00ff9f", "#ff2a6d", "#05d9e8", "#f9c80e", "#d300c5", "#ff9f1c", "#7bed9f"}

const legendRow = 16

// Line is one named column of a chart.
type Line struct {
	Name   string
	Values []float64
}

type bounds struct{ minX, maxX, minY, maxY float64 }

func (b *bounds) pad() {
	rangeX := b.maxX - b.minX
	rangeY := b.maxY - b.minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	b.minY -= rangeY * 0.1
	b.maxY += rangeY * 0.1
	if b.maxX == b.minX {
		b.maxX = b.minX + rangeX
	}
}

func (b bounds) project(x, y float64, width, height int) (float64, float64) {
	px := (x - b.minX) / (b.maxX - b.minX) * float64(width)
	py := float64(height) - (y-b.minY)/(b.maxY-b.minY)*float64(height)
	return px, py
}

func header(sb *strings.Builder, width, height int) {
	fmt.Fprintf(sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)
}

// Chart draws every line against the tick index on one shared y scale.
// NaN samples break a line into segments.
func Chart(w io.Writer, title string, lines []Line, width, height int) error {
	b := bounds{minX: 0, minY: math.Inf(1), maxY: math.Inf(-1)}
	for _, l := range lines {
		b.maxX = math.Max(b.maxX, float64(len(l.Values)-1))
		for _, v := range l.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			b.minY = math.Min(b.minY, v)
			b.maxY = math.Max(b.maxY, v)
		}
	}
	if math.IsInf(b.minY, 1) {
		return ErrNoData
	}
	b.pad()

	var sb strings.Builder
	header(&sb, width, height)
	if title != "" {
		fmt.Fprintf(&sb, "<text x=\"8\" y=\"%d\" fill=\"#cccccc\" font-family=\"monospace\" font-size=\"12\">%s</text>\n", legendRow, escape(title))
	}

	for i, l := range lines {
		color := Palette[i%len(Palette)]
		var d strings.Builder
		pen := false
		for t, v := range l.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				pen = false
				continue
			}
			x, y := b.project(float64(t), v, width, height)
			if pen {
				fmt.Fprintf(&d, " L%.1f,%.1f", x, y)
			} else {
				if d.Len() > 0 {
					d.WriteByte(' ')
				}
				fmt.Fprintf(&d, "M%.1f,%.1f", x, y)
				pen = true
			}
		}
		if d.Len() > 0 {
			fmt.Fprintf(&sb, "<path fill=\"none\" stroke=\"%s\" stroke-width=\"1.5\" d=\"%s\"/>\n", color, d.String())
		}
		fmt.Fprintf(&sb, "<text x=\"%d\" y=\"%d\" fill=\"%s\" font-family=\"monospace\" font-size=\"11\">%s</text>\n",
			width-120, legendRow*(i+1), color, escape(l.Name))
	}

	sb.WriteString("</svg>\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// Phase draws a phase portrait as a single path with its start marked.
func Phase(w io.Writer, p *analysis.PhasePortrait, width, height int) error {
	if p == nil || len(p.Points) < 2 {
		return ErrNoData
	}
	var b bounds
	b.minX, b.maxX, b.minY, b.maxY = p.Bounds()

	var sb strings.Builder
	header(&sb, width, height)
	fmt.Fprintf(&sb, "<path fill=\"none\" stroke=\"%s\" stroke-width=\"1.5\" d=\"M", Palette[0])
	for i, pt := range p.Points {
		x, y := b.project(pt.X, pt.Y, width, height)
		if i == 0 {
			fmt.Fprintf(&sb, "%.1f,%.1f", x, y)
		} else {
			fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
		}
	}
	sb.WriteString("\"/>\n")

	x0, y0 := b.project(p.Points[0].X, p.Points[0].Y, width, height)
	fmt.Fprintf(&sb, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"3\" fill=\"%s\"/>\n", x0, y0, Palette[1])
	fmt.Fprintf(&sb, "<text x=\"8\" y=\"%d\" fill=\"#cccccc\" font-family=\"monospace\" font-size=\"11\">%s vs %s</text>\n",
		legendRow, escape(p.YName), escape(p.XName))

	sb.WriteString("</svg>\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string { return escaper.Replace(s) }
