package stats

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/verte-zerg/trafsim/internal/model"
)

const (
	defaultChartHeight = 6
	minChartWidth      = 10
	axisLabelWidth     = 8
	axisSeparator      = " ┤"
	fallbackWidth      = 80
	colorReset         = "\x1b[0m"
)

var metricColors = map[Metric]string{
	MetricSpeed:      "\x1b[36m",
	MetricQueue:      "\x1b[33m",
	MetricWait:       "\x1b[35m",
	MetricThroughput: "\x1b[32m",
}

// ChartOptions controls chart geometry. Zero values pick defaults.
type ChartOptions struct {
	Width  int
	Height int
	Color  bool
}

// ChartWidthFor returns the plot area width that fits totalWidth columns.
func ChartWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minChartWidth
	}
	w := totalWidth - axisLabelWidth - len([]rune(axisSeparator))
	if w < minChartWidth {
		w = minChartWidth
	}
	return w
}

// TerminalWidth returns the width of stdout, or a fallback.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return fallbackWidth
	}
	return width
}

// UseColor reports whether w is a terminal and NO_COLOR is unset.
func UseColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// RenderHistory writes one chart per metric for the entries.
func RenderHistory(w io.Writer, entries []model.HistoryEntry, opts ChartOptions) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No samples.")
		return err
	}
	for _, m := range Metrics {
		lines := Chart(Values(entries, m), opts.Width, opts.Height)
		title := m.Label()
		if opts.Color {
			title = metricColors[m] + title + colorReset
		}
		if _, err := fmt.Fprintln(w, title); err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// Chart renders values as braille rows of the given plot width, each row
// prefixed with a value axis. The top row carries the maximum, the bottom
// row the minimum.
func Chart(values []float64, width, height int) []string {
	if len(values) == 0 {
		return nil
	}
	if height <= 0 {
		height = defaultChartHeight
	}
	if width < minChartWidth {
		width = minChartWidth
	}
	lo, hi := minMax(values)
	if math.Abs(hi-lo) < 1e-9 {
		lo--
		hi++
	}

	cells := make([][]uint8, height)
	for y := range cells {
		cells[y] = make([]uint8, width)
	}
	dotRows := height * 4
	points := resample(values, width*2)
	prevX, prevY := -1, -1
	for x, v := range points {
		y := int(math.Round((hi - v) / (hi - lo) * float64(dotRows-1)))
		y = clamp(y, 0, dotRows-1)
		if prevX >= 0 {
			line(prevX, prevY, x, y, func(px, py int) { setDot(cells, px, py) })
		} else {
			setDot(cells, x, y)
		}
		prevX, prevY = x, y
	}

	rows := make([]string, height)
	for y := 0; y < height; y++ {
		label := ""
		switch y {
		case 0:
			label = formatAxis(hi)
		case height - 1:
			label = formatAxis(lo)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%*s%s", axisLabelWidth, label, axisSeparator)
		for x := 0; x < width; x++ {
			b.WriteRune(rune(0x2800 + int(cells[y][x])))
		}
		rows[y] = b.String()
	}
	return rows
}

func formatAxis(v float64) string {
	if math.Abs(v) >= 1000 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

// resample stretches or averages values onto n points.
func resample(values []float64, n int) []float64 {
	out := make([]float64, n)
	switch {
	case len(values) == 1:
		for i := range out {
			out[i] = values[0]
		}
	case len(values) >= n:
		for i := 0; i < n; i++ {
			start := i * len(values) / n
			end := (i + 1) * len(values) / n
			if end <= start {
				end = start + 1
			}
			var sum float64
			for _, v := range values[start:end] {
				sum += v
			}
			out[i] = sum / float64(end-start)
		}
	default:
		for i := 0; i < n; i++ {
			pos := float64(i) * float64(len(values)-1) / float64(n-1)
			idx := int(pos)
			if idx >= len(values)-1 {
				out[i] = values[len(values)-1]
				continue
			}
			frac := pos - float64(idx)
			out[i] = values[idx]*(1-frac) + values[idx+1]*frac
		}
	}
	return out
}

// line walks a Bresenham segment.
func line(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// Braille dot bits, indexed [column][row] within a 2x4 cell.
var dotBits = [2][4]uint8{
	{0x01, 0x02, 0x04, 0x40},
	{0x08, 0x10, 0x20, 0x80},
}

func setDot(cells [][]uint8, x, y int) {
	cy, cx := y/4, x/2
	if y < 0 || x < 0 || cy >= len(cells) || cx >= len(cells[cy]) {
		return
	}
	cells[cy][cx] |= dotBits[x%2][y%4]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
