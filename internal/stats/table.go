package stats

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/trafsim/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

// RenderSessions prints one row per persisted session.
func RenderSessions(w io.Writer, records []model.SessionRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}
	headers := []string{"ID", "Started", "Duration", "Status", "Signal", "Veh/h", "Ticks", "Speed", "Queue", "Wait", "Thru"}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			shortID(r.ID),
			r.StartedAt.Local().Format(timeLayout),
			r.EndedAt.Sub(r.StartedAt).Round(time.Second).String(),
			string(r.Status),
			string(r.Config.SignalControl),
			fmt.Sprintf("%d", r.Config.VehiclesPerHour),
			fmt.Sprintf("%d", r.Ticks),
			fmt.Sprintf("%.1f", r.Summary.MeanSpeed),
			fmt.Sprintf("%.1f", r.Summary.MeanQueue),
			fmt.Sprintf("%.1f", r.Summary.MeanWait),
			fmt.Sprintf("%.0f", r.Summary.MeanThroughput),
		})
	}
	rightAlign := map[int]bool{2: true, 5: true, 6: true, 7: true, 8: true, 9: true, 10: true}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderTemplates prints the template catalogue.
func RenderTemplates(w io.Writer, templates []model.Template) error {
	headers := []string{"#", "Key", "Name", "Veh/h", "Car/Truck", "PHF", "Signal", "G/Y/R"}
	rows := make([][]string, 0, len(templates))
	for i, t := range templates {
		c := t.Config
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			t.Key,
			t.Name,
			fmt.Sprintf("%d", c.VehiclesPerHour),
			fmt.Sprintf("%.0f/%.0f", c.CarPercentage, c.TruckPercentage),
			fmt.Sprintf("%.1f", c.PeakHourFactor),
			string(c.SignalControl),
			fmt.Sprintf("%d/%d/%d", c.GreenTime, c.YellowTime, c.RedTime),
		})
	}
	for _, line := range formatTable(headers, rows, map[int]bool{0: true, 3: true, 5: true}) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTable(headers []string, rows [][]string, rightAlignCols map[int]bool) []string {
	colCount := len(headers)
	for _, row := range rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}
	if colCount == 0 {
		return nil
	}

	widths := make([]int, colCount)
	measure := func(row []string) {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	lines := make([]string, 0, len(rows)+1)
	if len(headers) > 0 {
		lines = append(lines, formatRow(headers, widths, rightAlignCols))
	}
	for _, row := range rows {
		lines = append(lines, formatRow(row, widths, rightAlignCols))
	}
	return lines
}

func formatRow(row []string, widths []int, rightAlignCols map[int]bool) string {
	cells := make([]string, len(widths))
	for i := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		pad := strings.Repeat(" ", max(0, widths[i]-runewidth.StringWidth(cell)))
		if rightAlignCols[i] {
			cells[i] = pad + cell
		} else {
			cells[i] = cell + pad
		}
	}
	return strings.TrimRight(strings.Join(cells, " "), " ")
}
