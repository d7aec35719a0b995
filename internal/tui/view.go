package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/stats"
)

const (
	chartHeight  = 6
	minViewWidth = 60
	cardWidth    = 26
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Background(lipgloss.Color("#8B1E1E")).
			Padding(0, 1)
	panelStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardStyle = lipgloss.NewStyle().
			Width(cardWidth).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	focusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)

	statusStyles = map[model.Status]lipgloss.Style{
		model.StatusIdle:      mutedStyle,
		model.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A")).Bold(true),
		model.StatusPaused:    accentStyle,
		model.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("#1890FF")),
		model.StatusError:     errorStyle,
	}
)

// View implements tea.Model.
func (m *Model) View() string {
	width := m.width
	if width < minViewWidth {
		width = minViewWidth
	}
	sections := []string{m.renderHeader(width)}
	if m.snap.Error != "" {
		sections = append(sections, renderBanner(m.snap.Error, width))
	}
	left := m.renderConfigPanel()
	right := renderCards(m.snap.Metrics, m.snap.History)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	sections = append(sections, m.renderChart(width))
	sections = append(sections, m.renderFooter(width))
	return strings.Join(sections, "\n")
}

func (m *Model) renderHeader(width int) string {
	status := string(m.snap.Status)
	style, ok := statusStyles[m.snap.Status]
	if !ok {
		style = mutedStyle
	}
	parts := []string{titleStyle.Render("trafsim"), style.Render(strings.ToUpper(status))}
	if s := m.snap.Session; s != nil {
		parts = append(parts, mutedStyle.Render(fmt.Sprintf("session %s · %d ticks", shortID(s.ID), s.Ticks)))
	}
	if n := m.snap.Network; n != nil {
		nm := n.Metrics()
		parts = append(parts, mutedStyle.Render(fmt.Sprintf("network %d seg · %d int · %.2f km",
			nm.Segments, nm.Intersections, nm.TotalLengthKm)))
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(strings.Join(parts, "  "))
}

func renderBanner(msg string, width int) string {
	text := truncate("! "+msg+"  (esc to dismiss)", width-2)
	return bannerStyle.Render(text)
}

func (m *Model) renderConfigPanel() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Configuration"))
	b.WriteString("\n")
	if m.editing {
		for i := range m.form.inputs {
			label := fmt.Sprintf("%-12s", fieldLabels[i])
			if i == m.form.focus {
				label = focusStyle.Render(label)
			} else {
				label = mutedStyle.Render(label)
			}
			b.WriteString(label + " " + m.form.inputs[i].View() + "\n")
		}
	} else {
		cfg := m.snap.Config
		values := formValues(cfg)
		for i, v := range values {
			if i == fieldDuration && cfg.SimulationDuration == 0 {
				v = "unbounded"
			}
			b.WriteString(mutedStyle.Render(fmt.Sprintf("%-12s", fieldLabels[i])) + " " + v + "\n")
		}
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%-12s", "Cycle s")) + " " + fmt.Sprintf("%d", cfg.CycleLength()) + "\n")
	}
	if m.formErr != "" {
		b.WriteString(errorStyle.Render(wrapProblems(m.formErr, 36)))
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// wrapProblems breaks a validation message at its "; " separators.
func wrapProblems(msg string, width int) string {
	parts := strings.Split(msg, "; ")
	for i, p := range parts {
		parts[i] = runewidth.Wrap(p, width)
	}
	return strings.Join(parts, "\n")
}

// renderCards draws one card per metric: current value, trend and sparkline.
func renderCards(current model.Sample, history []model.HistoryEntry) string {
	cards := make([]string, 0, len(stats.Metrics))
	for _, metric := range stats.Metrics {
		cards = append(cards, renderCard(metric, current, history))
	}
	top := lipgloss.JoinHorizontal(lipgloss.Top, cards[0], cards[1])
	bottom := lipgloss.JoinHorizontal(lipgloss.Top, cards[2], cards[3])
	return lipgloss.JoinVertical(lipgloss.Left, top, bottom)
}

func renderCard(metric stats.Metric, current model.Sample, history []model.HistoryEntry) string {
	values := stats.Values(history, metric)
	value := formatMetric(metric, metric.Of(current))
	trend := ""
	if len(values) >= 2 {
		switch d := stats.Trend(values); {
		case d > 0:
			trend = " ▲"
		case d < 0:
			trend = " ▼"
		default:
			trend = " ="
		}
	}
	spark := stats.Sparkline(values)
	if spark == "" {
		spark = "no samples yet"
	}
	body := cardTitleStyle.Render(metric.Label()) + "\n" +
		cardValueStyle.Render(value) + mutedStyle.Render(trend) + "\n" +
		mutedStyle.Render(truncate(spark, cardWidth-2))
	return cardStyle.Render(body)
}

func formatMetric(metric stats.Metric, v float64) string {
	if metric == stats.MetricThroughput {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

func (m *Model) renderChart(width int) string {
	title := titleStyle.Render("History · " + m.metric.Label())
	if len(m.snap.History) == 0 {
		return title + "\n" + mutedStyle.Render("Start a session to see the last 20 samples.")
	}
	rows := stats.Chart(stats.Values(m.snap.History, m.metric), stats.ChartWidthFor(width), chartHeight)
	return title + "\n" + accentStyle.Render(strings.Join(rows, "\n"))
}

func (m *Model) renderFooter(width int) string {
	var line string
	switch {
	case m.pending != "":
		line = m.spin.View() + " " + m.pending + "..."
	case m.notice != "":
		line = accentStyle.Render(truncate(m.notice, width))
	}
	var helpView string
	if m.editing {
		helpView = m.help.View(formKeys{m.keys})
	} else {
		helpView = m.help.View(m.keys)
	}
	if line == "" {
		return helpView
	}
	return line + "\n" + helpView
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "…")
}
