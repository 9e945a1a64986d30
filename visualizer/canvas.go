package visualizer

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Canvas is a drawing surface in its own units. Bars grow up from the
// bottom edge and are filled with a vertical gradient.
type Canvas interface {
	Size() (width, height float64)
	Clear()
	FillBar(x, width, height float64)
	// Flush publishes the frame drawn since the last Clear.
	Flush()
}

type rgb struct{ r, g, b uint8 }

func (c rgb) hex() string { return fmt.Sprintf("#%02x%02x%02x", c.r, c.g, c.b) }

func lerp(a, b rgb, t float64) rgb {
	t = max(0, min(1, t))
	mix := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5) }
	return rgb{mix(a.r, b.r), mix(a.g, b.g), mix(a.b, b.b)}
}

var (
	barBottom  = rgb{129, 140, 248}
	barTop     = rgb{199, 210, 254}
	background = rgb{17, 24, 39}
)

// Partial cell heights in eighths.
var eighths = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// gradientSteps is how many colors a bar's gradient is quantized to.
const gradientSteps = 8

// CellCanvas draws into a grid of terminal cells. One unit is one cell.
type CellCanvas struct {
	cols, rows int
	styles     [gradientSteps]lipgloss.Style
	bg         lipgloss.Style

	mu    sync.Mutex
	back  []float64 // bar height per column, in rows
	front []float64
}

func NewCellCanvas(cols, rows int) *CellCanvas {
	c := &CellCanvas{
		cols:  cols,
		rows:  rows,
		back:  make([]float64, cols),
		front: make([]float64, cols),
		bg:    lipgloss.NewStyle().Background(lipgloss.Color(background.hex())),
	}
	for i := range c.styles {
		col := lerp(barBottom, barTop, float64(i)/float64(gradientSteps-1))
		c.styles[i] = lipgloss.NewStyle().
			Foreground(lipgloss.Color(col.hex())).
			Background(lipgloss.Color(background.hex()))
	}
	return c
}

func (c *CellCanvas) Size() (float64, float64) { return float64(c.cols), float64(c.rows) }

func (c *CellCanvas) Clear() {
	c.mu.Lock()
	clear(c.back)
	c.mu.Unlock()
}

// FillBar raises every column that overlaps [x, x+width). Columns shared
// by several bars keep the tallest.
func (c *CellCanvas) FillBar(x, width, height float64) {
	if width <= 0 || height <= 0 {
		return
	}
	height = min(height, float64(c.rows))
	c.mu.Lock()
	defer c.mu.Unlock()
	for col := max(0, int(math.Floor(x))); col < c.cols && float64(col) < x+width; col++ {
		c.back[col] = max(c.back[col], height)
	}
}

func (c *CellCanvas) Flush() {
	c.mu.Lock()
	copy(c.front, c.back)
	c.mu.Unlock()
}

// Heights returns the published bar height of every column.
func (c *CellCanvas) Heights() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.front...)
}

// Render returns the published frame as styled rows, top row first.
func (c *CellCanvas) Render() string {
	heights := c.Heights()

	var b strings.Builder
	for row := c.rows - 1; row >= 0; row-- {
		for col := 0; col < c.cols; col++ {
			h := heights[col]
			fill := h - float64(row)
			if fill <= 0 {
				b.WriteString(c.bg.Render(" "))
				continue
			}
			glyph := eighths[len(eighths)-1]
			if fill < 1 {
				glyph = eighths[int(fill*8)]
			}
			// Gradient runs from the bar's base to its top, like a canvas
			// linear gradient spanning the bar.
			step := int(float64(row) / h * gradientSteps)
			step = min(step, gradientSteps-1)
			b.WriteString(c.styles[step].Render(string(glyph)))
		}
		if row > 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
