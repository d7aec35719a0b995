// Package tui provides the Bubble Tea simulation dashboard.
package tui

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/verte-zerg/trafsim/internal/controller"
	"github.com/verte-zerg/trafsim/internal/log"
	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/session"
	"github.com/verte-zerg/trafsim/internal/stats"
)

const eventBuffer = 64

type tickMsg model.Tick

// statusMsg reports a lifecycle change, including a session that ended on
// its own.
type statusMsg session.StatusChange

type actionDoneMsg struct {
	op  string
	err error
}

// Model implements the Bubble Tea dashboard.
type Model struct {
	ctrl   *controller.Controller
	store  *session.Store
	logger zerolog.Logger

	events      chan tea.Msg
	unsubscribe []func()

	keys    keyMap
	help    help.Model
	spin    spinner.Model
	form    form
	editing bool

	snap    session.Snapshot
	pending string
	formErr string
	notice  string
	metric  stats.Metric

	width  int
	height int
}

// NewModel constructs a dashboard bound to ctrl's store. Applied ticks and
// status changes reach the model through one buffered channel. When the UI
// falls behind, events are dropped; every queued event redraws from a fresh
// snapshot, so the last one processed still shows the latest state.
func NewModel(ctrl *controller.Controller) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle

	m := &Model{
		ctrl:   ctrl,
		store:  ctrl.Store(),
		logger: log.WithComponent("tui"),
		events: make(chan tea.Msg, eventBuffer),
		keys:   newKeyMap(),
		help:   help.New(),
		spin:   sp,
		form:   newForm(),
	}
	m.unsubscribe = []func(){
		m.store.Subscribe(func(t model.Tick) { m.post(tickMsg(t)) }),
		m.store.SubscribeStatus(func(c session.StatusChange) { m.post(statusMsg(c)) }),
	}
	m.refresh()
	return m
}

func (m *Model) post(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

// Close detaches the dashboard from the store.
func (m *Model) Close() {
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.unsubscribe = nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return waitEventCmd(m.events)
}

func waitEventCmd(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func startCmd(ctrl *controller.Controller, cfg model.Config) tea.Cmd {
	return func() tea.Msg {
		_, err := ctrl.Start(context.Background(), cfg)
		return actionDoneMsg{op: "start", err: err}
	}
}

func stopCmd(ctrl *controller.Controller) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{op: "stop", err: ctrl.Stop(context.Background())}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case tickMsg:
		m.refresh()
		return m, waitEventCmd(m.events)
	case statusMsg:
		m.refresh()
		m.logger.Debug().Str(log.FieldSessionID, msg.SessionID).Str(log.FieldNewState, string(msg.To)).Msg("status changed")
		return m, waitEventCmd(m.events)
	case actionDoneMsg:
		m.pending = ""
		m.handleActionErr(msg.op, msg.err)
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if m.pending == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, m.quit()
		}
		if m.editing {
			return m, m.updateForm(msg)
		}
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) quit() tea.Cmd {
	m.Close()
	return tea.Quit
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	m.notice = ""
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Start):
		return m.start()
	case key.Matches(msg, m.keys.Stop):
		return m.stop()
	case key.Matches(msg, m.keys.Pause):
		m.togglePause()
	case key.Matches(msg, m.keys.Reset):
		if err := m.ctrl.Reset(); err != nil {
			m.notice = err.Error()
		}
		m.formErr = ""
		m.refresh()
	case key.Matches(msg, m.keys.Edit):
		return m.openForm()
	case key.Matches(msg, m.keys.Template):
		m.applyTemplate(int(msg.String()[0] - '1'))
	case key.Matches(msg, m.keys.Metric):
		m.metric = stats.Metrics[(int(m.metric)+1)%len(stats.Metrics)]
	case key.Matches(msg, m.keys.Dismiss):
		m.ctrl.DismissError()
		m.formErr = ""
		m.refresh()
	}
	return nil
}

func (m *Model) start() tea.Cmd {
	if m.pending != "" {
		m.notice = controller.ErrBusy.Error()
		return nil
	}
	cfg := m.store.Config()
	if err := controller.Validate(cfg); err != nil {
		m.formErr = err.Error()
		return nil
	}
	m.formErr = ""
	m.pending = "Starting"
	return tea.Batch(startCmd(m.ctrl, cfg), m.spin.Tick)
}

func (m *Model) stop() tea.Cmd {
	if m.pending != "" {
		m.notice = controller.ErrBusy.Error()
		return nil
	}
	switch m.snap.Status {
	case model.StatusRunning, model.StatusPaused:
	default:
		return nil
	}
	m.pending = "Stopping"
	return tea.Batch(stopCmd(m.ctrl), m.spin.Tick)
}

func (m *Model) togglePause() {
	var err error
	switch m.snap.Status {
	case model.StatusRunning:
		err = m.ctrl.Pause()
	case model.StatusPaused:
		err = m.ctrl.Resume()
	default:
		return
	}
	if err != nil {
		m.notice = err.Error()
	}
	m.refresh()
}

func (m *Model) applyTemplate(idx int) {
	templates := m.ctrl.Templates()
	if idx < 0 || idx >= len(templates) {
		return
	}
	if _, err := m.ctrl.ApplyTemplate(templates[idx].Key); err != nil {
		m.notice = err.Error()
		return
	}
	m.formErr = ""
	m.notice = "Loaded " + templates[idx].Name
	m.refresh()
}

func (m *Model) openForm() tea.Cmd {
	m.editing = true
	m.form.load(m.store.Config())
	return m.form.focusField(0)
}

func (m *Model) updateForm(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.editing = false
		m.form.blur()
		m.formErr = ""
		return nil
	case key.Matches(msg, m.keys.Next):
		return m.form.focusField(m.form.focus + 1)
	case key.Matches(msg, m.keys.Prev):
		return m.form.focusField(m.form.focus - 1)
	case key.Matches(msg, m.keys.Apply):
		cfg, err := parseForm(m.form.values())
		if err != nil {
			m.formErr = err.Error()
			return nil
		}
		m.ctrl.SetConfig(cfg)
		m.editing = false
		m.form.blur()
		m.formErr = ""
		if err := controller.Validate(cfg); err != nil {
			m.formErr = err.Error()
		}
		m.refresh()
		return nil
	}
	return m.form.update(msg)
}

func (m *Model) handleActionErr(op string, err error) {
	var verr *controller.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		m.formErr = verr.Error()
	case errors.Is(err, controller.ErrTransient):
		// Already on the store's error banner.
	default:
		m.notice = err.Error()
	}
	if err != nil {
		m.logger.Debug().Str(log.FieldEvent, op).Err(err).Msg("action finished with error")
	}
}

func (m *Model) refresh() {
	m.snap = m.store.Snapshot()
}
