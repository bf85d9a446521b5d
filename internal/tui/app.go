package tui

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const statusRefreshInterval = time.Second

// Editor fields
const (
	fieldState = iota
	fieldDetails
)

// App is the root bubbletea model of the presence console.
type App struct {
	client *Client

	status    Status
	statusErr error
	loaded    bool
	notice    string
	noticeErr bool

	editing bool
	focus   int
	inputs  [2]textinput.Model

	logs logsModel

	width  int
	height int
}

type statusMsg struct {
	status Status
	err    error
}

type refreshTickMsg struct{}

type transitionMsg struct{}

type connectMsg struct {
	status string
	err    error
}

type presenceMsg struct {
	err error
}

// NewApp creates the console model for the control API at addr.
// hook is nil when the console is attached to a daemon in another process.
func NewApp(addr string, hook *LogHook) App {
	var inputs [2]textinput.Model
	for i := range inputs {
		ti := textinput.New()
		ti.CharLimit = 128
		inputs[i] = ti
	}
	inputs[fieldState].Prompt = "State:   "
	inputs[fieldState].Placeholder = "what the user is doing"
	inputs[fieldDetails].Prompt = "Details: "
	inputs[fieldDetails].Placeholder = "extra context"

	return App{
		client: NewClient(addr),
		inputs: inputs,
		logs:   newLogsModel(hook),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.fetchStatus, scheduleRefresh(), a.logs.Init(), a.waitForTransition())
}

// waitForTransition refreshes the status card as soon as the in-process daemon
// logs a status change.
func (a App) waitForTransition() tea.Cmd {
	hook := a.logs.hook
	if hook == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-hook.Transitions(); !ok {
			return nil
		}
		return transitionMsg{}
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(statusRefreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (a App) fetchStatus() tea.Msg {
	status, err := a.client.GetStatus()
	return statusMsg{status: status, err: err}
}

func (a App) connect() tea.Msg {
	status, err := a.client.Connect()
	return connectMsg{status: status, err: err}
}

func (a App) submitPresence() tea.Cmd {
	state := a.inputs[fieldState].Value()
	details := a.inputs[fieldDetails].Value()
	return func() tea.Msg {
		return presenceMsg{err: a.client.PutPresence(state, details)}
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.logs.SetSize(msg.Width, a.logsHeight())
		return a, nil

	case refreshTickMsg:
		return a, tea.Batch(a.fetchStatus, scheduleRefresh())

	case transitionMsg:
		return a, tea.Batch(a.fetchStatus, a.waitForTransition())

	case statusMsg:
		a.loaded = true
		a.statusErr = msg.err
		if msg.err == nil {
			a.status = msg.status
		}
		return a, nil

	case connectMsg:
		if msg.err != nil {
			a.setNotice("connect: "+msg.err.Error(), true)
			return a, nil
		}
		a.setNotice("connection started ("+msg.status+")", false)
		return a, a.fetchStatus

	case presenceMsg:
		if msg.err != nil {
			a.setNotice("update presence: "+msg.err.Error(), true)
			return a, nil
		}
		a.setNotice("presence updated", false)
		return a, a.fetchStatus

	case logLineMsg:
		var cmd tea.Cmd
		a.logs, cmd = a.logs.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if a.editing {
			return a.updateEditor(msg)
		}
		switch msg.String() {
		case "q":
			return a, tea.Quit
		case "r":
			return a, a.fetchStatus
		case "c":
			a.setNotice("connecting...", false)
			return a, a.connect
		case "e":
			cmd := a.startEditing()
			return a, cmd
		}
		var cmd tea.Cmd
		a.logs, cmd = a.logs.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.logs, cmd = a.logs.Update(msg)
	return a, cmd
}

func (a *App) startEditing() tea.Cmd {
	a.editing = true
	a.focus = fieldState
	a.inputs[fieldState].SetValue(a.status.State)
	a.inputs[fieldDetails].SetValue(a.status.Details)
	a.inputs[fieldDetails].Blur()
	return a.inputs[fieldState].Focus()
}

func (a *App) stopEditing() {
	a.editing = false
	for i := range a.inputs {
		a.inputs[i].Blur()
	}
}

func (a App) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.stopEditing()
		return a, nil
	case "enter":
		cmd := a.submitPresence()
		a.stopEditing()
		return a, cmd
	case "tab", "shift+tab", "up", "down":
		a.inputs[a.focus].Blur()
		a.focus = (a.focus + 1) % len(a.inputs)
		cmd := a.inputs[a.focus].Focus()
		return a, cmd
	}
	var cmd tea.Cmd
	a.inputs[a.focus], cmd = a.inputs[a.focus].Update(msg)
	return a, cmd
}

func (a *App) setNotice(text string, isErr bool) {
	a.notice = text
	a.noticeErr = isErr
}

// logsHeight is what remains below the status card, editor and help lines.
func (a App) logsHeight() int {
	return a.height - 16
}

func (a App) View() string {
	var sb strings.Builder
	sb.WriteString(badgeStyle.Render(" RichPresence ") + " " + subtitleStyle.Render(a.client.baseURL))
	sb.WriteString("\n\n")
	sb.WriteString(a.renderStatus())
	sb.WriteString("\n")
	if a.editing {
		sb.WriteString(a.renderEditor())
		sb.WriteString("\n")
	}
	if a.notice != "" {
		if a.noticeErr {
			sb.WriteString(errorStyle.Render(a.notice))
		} else {
			sb.WriteString(successStyle.Render(a.notice))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(a.renderHelp())
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", max(a.width, 1)))
	sb.WriteString("\n")
	sb.WriteString(a.logs.View())
	return sb.String()
}

func (a App) renderStatus() string {
	if !a.loaded {
		return sectionStyle.Render("Loading status...")
	}
	if a.statusErr != nil {
		return sectionStyle.Render(errorStyle.Render("control API unreachable: " + a.statusErr.Error()))
	}

	s := a.status
	rows := []string{
		row("Status", statusStyle(s.Status).Render(strings.ToUpper(s.Status))),
	}
	if !s.StartedAt.IsZero() {
		rows = append(rows, row("Started", valueStyle.Render(s.StartedAt.Local().Format("15:04:05"))))
	}
	if s.ErrorKind != "" {
		errText := s.ErrorKind
		if s.ErrorDetail != "" {
			errText += ": " + s.ErrorDetail
		}
		rows = append(rows, row("Last error", errorStyle.Render(errText)))
	}
	if s.Message != "" {
		rows = append(rows, row("Message", valueStyle.Render(s.Message)))
	}
	rows = append(rows,
		row("State", valueStyle.Render(orDash(s.State))),
		row("Details", valueStyle.Render(orDash(s.Details))),
	)
	if s.Dirty {
		rows = append(rows, row("", warningStyle.Render("pending push")))
	}
	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (a App) renderEditor() string {
	lines := []string{titleStyle.Render("Edit presence")}
	for i := range a.inputs {
		lines = append(lines, a.inputs[i].View())
	}
	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (a App) renderHelp() string {
	if a.editing {
		return helpStyle.Render("tab: next field • enter: save • esc: cancel")
	}
	return helpStyle.Render("r: refresh • c: connect • e: edit presence • a: auto-scroll • 1-4: log filter • x: clear logs • q: quit")
}

func row(label, value string) string {
	return labelStyle.Render(label) + " " + value
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Run starts the console against the control API at addr. It blocks until the user quits.
func Run(addr string, hook *LogHook, output io.Writer) error {
	if output == nil {
		output = os.Stdout
	}
	p := tea.NewProgram(NewApp(addr, hook), tea.WithAltScreen(), tea.WithOutput(output))
	_, err := p.Run()
	return err
}
