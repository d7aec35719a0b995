// Package statsui provides the Bubble Tea browser for recorded sessions.
package statsui

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/stats"
)

const (
	tabSessions = iota
	tabCharts
)

const (
	plotHeight   = 4
	dateLayout   = "2006-01-02"
	startLayout  = "01-02 15:04:05"
	fallbackWide = 80
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Source is the read side of the session database.
type Source interface {
	ListSessions(ctx context.Context, filter model.HistoryFilter) ([]model.SessionRecord, error)
	ListSamples(ctx context.Context, sessionID string) ([]model.HistoryEntry, error)
}

// Model implements the Bubble Tea history browser.
type Model struct {
	source Source
	filter model.HistoryFilter

	records  []model.SessionRecord
	selected *model.SessionRecord
	samples  []model.HistoryEntry
	errMsg   string

	tabs      []string
	activeTab int
	sessions  table.Model
	chart     viewport.Model

	width  int
	height int

	filterMode   bool
	filterInputs []textinput.Model
	filterIndex  int
	filterError  string
}

// NewModel constructs a browser over src with an initial filter.
func NewModel(src Source, filter model.HistoryFilter) *Model {
	m := &Model{
		source: src,
		filter: filter,
		tabs:   []string{"Sessions", "Charts"},
		chart:  viewport.New(0, 0),
	}
	m.initInputs()
	m.sessions = table.New(
		table.WithColumns(sessionColumns()),
		table.WithFocused(true),
		table.WithHeight(1),
	)
	m.sessions.SetStyles(sessionTableStyles())
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderChart()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "/":
			return m.startFilter()
		case "enter":
			if m.activeTab == tabSessions {
				m.openSelected()
			}
			return m, nil
		case "g", "home":
			if m.activeTab == tabSessions {
				m.sessions.GotoTop()
			} else {
				m.chart.GotoTop()
			}
			return m, nil
		case "G", "end":
			if m.activeTab == tabSessions {
				m.sessions.GotoBottom()
			} else {
				m.chart.GotoBottom()
			}
			return m, nil
		}
		var cmd tea.Cmd
		if m.activeTab == tabSessions {
			m.sessions, cmd = m.sessions.Update(msg)
		} else {
			m.chart, cmd = m.chart.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) initInputs() {
	m.filterInputs = []textinput.Model{
		newFilterInput("Since (YYYY-MM-DD): "),
		newFilterInput("Last: "),
	}
	m.setInputsFromFilter()
}

func newFilterInput(prompt string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = 16
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

func (m *Model) setInputsFromFilter() {
	if m.filter.Since != nil {
		m.filterInputs[0].SetValue(m.filter.Since.Format(dateLayout))
	} else {
		m.filterInputs[0].SetValue("")
	}
	if m.filter.Last > 0 {
		m.filterInputs[1].SetValue(strconv.Itoa(m.filter.Last))
	} else {
		m.filterInputs[1].SetValue("")
	}
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := lipgloss.Height(activeNavStyle.Render("X"))
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if !m.filterMode && m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = max(1, m.height-headerHeight-footerHeight)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.chart.Width = m.width
	m.chart.Height = bodyHeight
	m.sessions.SetWidth(m.width)
	// One line for the header row and one for its border.
	m.sessions.SetHeight(max(1, bodyHeight-2))
	for i := range m.filterInputs {
		promptWidth := lipgloss.Width(m.filterInputs[i].Prompt)
		m.filterInputs[i].Width = max(10, m.width-promptWidth-2)
	}
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	next := (m.activeTab + delta + count) % count
	m.activeTab = next
	if m.activeTab == tabSessions {
		m.sessions.Focus()
	} else {
		m.sessions.Blur()
	}
}

// refresh reloads the session list for the current filter.
func (m *Model) refresh() {
	records, err := m.source.ListSessions(context.Background(), m.filter)
	if err != nil {
		m.errMsg = err.Error()
		m.records = nil
		m.sessions.SetRows(nil)
		return
	}
	m.errMsg = ""
	m.records = records
	m.sessions.SetRows(sessionRows(records))
	if len(records) > 0 {
		m.sessions.SetCursor(len(records) - 1)
	}
}

// openSelected loads the samples of the highlighted session and shows its
// charts.
func (m *Model) openSelected() {
	idx := m.sessions.Cursor()
	if idx < 0 || idx >= len(m.records) {
		return
	}
	rec := m.records[idx]
	samples, err := m.source.ListSamples(context.Background(), rec.ID)
	if err != nil {
		m.errMsg = err.Error()
		return
	}
	m.errMsg = ""
	m.selected = &rec
	m.samples = samples
	m.renderChart()
	m.chart.GotoTop()
	m.activeTab = tabCharts
	m.sessions.Blur()
}

func (m *Model) renderChart() {
	if m.selected == nil {
		m.chart.SetContent("Select a session and press enter.")
		return
	}
	width := m.width
	if width <= 0 {
		width = fallbackWide
	}
	m.chart.SetContent(renderSessionDetail(*m.selected, m.samples, width))
}

func renderSessionDetail(rec model.SessionRecord, samples []model.HistoryEntry, width int) string {
	title := cardValueStyle.Render(fmt.Sprintf("Session %s", rec.ID))
	meta := headerStyle.Render(fmt.Sprintf("%s  %s  %s  %d veh/h",
		rec.StartedAt.Local().Format(time.DateTime),
		rec.EndedAt.Sub(rec.StartedAt).Round(time.Second),
		rec.Status,
		rec.Config.VehiclesPerHour,
	))
	cards := renderSummaryCards(rec.Summary, width)

	var buf bytes.Buffer
	opts := stats.ChartOptions{Width: stats.ChartWidthFor(width), Height: plotHeight}
	if err := stats.RenderHistory(&buf, samples, opts); err != nil {
		return fmt.Sprintf("Failed to render charts: %v", err)
	}
	return strings.TrimRight(strings.Join([]string{title, meta, cards, buf.String()}, "\n"), "\n")
}

func renderSummaryCards(sum model.Summary, width int) string {
	cards := []string{
		metricCard("Samples", strconv.Itoa(sum.Count)),
		metricCard("Avg speed", fmt.Sprintf("%.1f km/h", sum.MeanSpeed)),
		metricCard("Avg queue", fmt.Sprintf("%.1f", sum.MeanQueue)),
		metricCard("Max queue", fmt.Sprintf("%.0f", sum.MaxQueue)),
		metricCard("Avg wait", fmt.Sprintf("%.1f s", sum.MeanWait)),
		metricCard("Avg thru", fmt.Sprintf("%.0f veh/h", sum.MeanThroughput)),
	}
	if width < fallbackWide {
		return strings.Join(cards, "\n")
	}
	row1 := lipgloss.JoinHorizontal(lipgloss.Top, cards[:3]...)
	row2 := lipgloss.JoinHorizontal(lipgloss.Top, cards[3:]...)
	return lipgloss.JoinVertical(lipgloss.Left, row1, row2)
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func sessionColumns() []table.Column {
	return []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Started", Width: 14},
		{Title: "Length", Width: 8},
		{Title: "Status", Width: 9},
		{Title: "Signal", Width: 10},
		{Title: "Veh/h", Width: 5},
		{Title: "Speed", Width: 6},
		{Title: "Queue", Width: 6},
		{Title: "Wait", Width: 6},
	}
}

func sessionRows(records []model.SessionRecord) []table.Row {
	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, table.Row{
			id,
			r.StartedAt.Local().Format(startLayout),
			r.EndedAt.Sub(r.StartedAt).Round(time.Second).String(),
			string(r.Status),
			string(r.Config.SignalControl),
			strconv.Itoa(r.Config.VehiclesPerHour),
			fmt.Sprintf("%.1f", r.Summary.MeanSpeed),
			fmt.Sprintf("%.1f", r.Summary.MeanQueue),
			fmt.Sprintf("%.1f", r.Summary.MeanWait),
		})
	}
	return rows
}

func sessionTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	return m.renderTabs() + "\n" + m.renderFilterSummary()
}

func (m *Model) renderFilterSummary() string {
	since := "any"
	if m.filter.Since != nil {
		since = m.filter.Since.Format(dateLayout)
	}
	last := "all"
	if m.filter.Last > 0 {
		last = strconv.Itoa(m.filter.Last)
	}
	summary := fmt.Sprintf("Filter: since=%s  last=%s  sessions=%d", since, last, len(m.records))
	return headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderFooter() string {
	if m.filterMode {
		return headerStyle.Render("tab/shift+tab: next field  enter: apply  esc: cancel")
	}
	help := "Nav: left/right  Scroll: up/down  Open: enter  Filter: /  Quit: q"
	if m.errMsg != "" {
		return headerStyle.Render(help) + "\n" + errorStyle.Render(m.errMsg)
	}
	return headerStyle.Render(help)
}

func (m *Model) renderBody() string {
	if m.filterMode {
		lines := []string{"Filter (enter to apply, esc to cancel)"}
		for _, input := range m.filterInputs {
			lines = append(lines, input.View())
		}
		if m.filterError != "" {
			lines = append(lines, errorStyle.Render(m.filterError))
		}
		return strings.Join(lines, "\n")
	}
	if m.activeTab == tabSessions {
		if len(m.records) == 0 {
			return "No sessions found."
		}
		return tableMutedStyle.Render(m.sessions.View())
	}
	return m.chart.View()
}

func (m *Model) startFilter() (tea.Model, tea.Cmd) {
	m.filterMode = true
	m.filterError = ""
	m.setInputsFromFilter()
	return m, m.setFilterIndex(0)
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterError = ""
		return m, nil
	case tea.KeyEnter:
		filter, err := parseFilter(m.filterInputs[0].Value(), m.filterInputs[1].Value())
		if err != nil {
			m.filterError = err.Error()
			return m, nil
		}
		m.filter = filter
		m.filterMode = false
		m.filterError = ""
		m.refresh()
		m.updateLayout()
		return m, nil
	case tea.KeyTab:
		return m, m.setFilterIndex(m.filterIndex + 1)
	case tea.KeyShiftTab:
		return m, m.setFilterIndex(m.filterIndex - 1)
	}
	var cmd tea.Cmd
	m.filterInputs[m.filterIndex], cmd = m.filterInputs[m.filterIndex].Update(msg)
	return m, cmd
}

func (m *Model) setFilterIndex(idx int) tea.Cmd {
	count := len(m.filterInputs)
	idx = (idx + count) % count
	m.filterIndex = idx
	var cmd tea.Cmd
	for i := range m.filterInputs {
		if i == idx {
			cmd = m.filterInputs[i].Focus()
		} else {
			m.filterInputs[i].Blur()
		}
	}
	return cmd
}

func parseFilter(sinceInput, lastInput string) (model.HistoryFilter, error) {
	var filter model.HistoryFilter
	sinceInput = strings.TrimSpace(sinceInput)
	if sinceInput != "" {
		parsed, err := time.ParseInLocation(dateLayout, sinceInput, time.Local)
		if err != nil {
			return filter, fmt.Errorf("invalid since date (expected YYYY-MM-DD)")
		}
		filter.Since = &parsed
	}
	lastInput = strings.TrimSpace(lastInput)
	if lastInput != "" {
		parsed, err := strconv.Atoi(lastInput)
		if err != nil || parsed < 0 {
			return filter, fmt.Errorf("invalid last value (use 0 or positive integer)")
		}
		filter.Last = parsed
	}
	return filter, nil
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
