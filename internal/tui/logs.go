package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const maxLogLines = 2000

// logsModel shows the daemon log lines captured by a LogHook.
type logsModel struct {
	hook       *LogHook
	viewport   viewport.Model
	lines      []string
	autoScroll bool
	filter     string // "", "info", "warn", "error"
	width      int
	ready      bool
}

type logLineMsg string

func newLogsModel(hook *LogHook) logsModel {
	return logsModel{hook: hook, autoScroll: true}
}

func (m logsModel) Init() tea.Cmd {
	if m.hook == nil {
		return nil
	}
	return m.waitForLog
}

func (m logsModel) waitForLog() tea.Msg {
	line, ok := <-m.hook.Chan()
	if !ok {
		return nil
	}
	return logLineMsg(line)
}

func (m logsModel) Update(msg tea.Msg) (logsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case logLineMsg:
		m.lines = append(m.lines, string(msg))
		if len(m.lines) > maxLogLines {
			m.lines = m.lines[len(m.lines)-maxLogLines:]
		}
		m.refresh()
		return m, m.waitForLog

	case tea.KeyMsg:
		switch msg.String() {
		case "a":
			m.autoScroll = !m.autoScroll
			m.refresh()
			return m, nil
		case "x":
			m.lines = nil
			m.refresh()
			return m, nil
		case "1":
			m.setFilter("")
			return m, nil
		case "2":
			m.setFilter("info")
			return m, nil
		case "3":
			m.setFilter("warn")
			return m, nil
		case "4":
			m.setFilter("error")
			return m, nil
		}
		wasAtBottom := m.viewport.AtBottom()
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		if wasAtBottom && !m.viewport.AtBottom() {
			m.autoScroll = false
		}
		if m.viewport.AtBottom() {
			m.autoScroll = true
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *logsModel) setFilter(filter string) {
	m.filter = filter
	m.refresh()
}

func (m *logsModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderLines())
	if m.autoScroll {
		m.viewport.GotoBottom()
	}
}

func (m *logsModel) SetSize(w, h int) {
	m.width = w
	if h < 1 {
		h = 1
	}
	if !m.ready {
		m.viewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.viewport.Width = w
		m.viewport.Height = h
	}
	m.refresh()
}

func (m logsModel) header() string {
	scroll := successStyle.Render("auto-scroll")
	if !m.autoScroll {
		scroll = warningStyle.Render("paused")
	}
	filter := "ALL"
	if m.filter != "" {
		filter = strings.ToUpper(m.filter) + "+"
	}
	return fmt.Sprintf("Logs  %s  filter: %s  lines: %d", scroll, filter, len(m.lines))
}

func (m logsModel) View() string {
	if m.hook == nil {
		return subtitleStyle.Render("Logs are only captured when the console runs the daemon in-process.")
	}
	if !m.ready {
		return "Loading..."
	}
	return m.header() + "\n" + m.viewport.View()
}

func (m logsModel) renderLines() string {
	if len(m.lines) == 0 {
		return subtitleStyle.Render("Waiting for log output...")
	}
	var sb strings.Builder
	for _, line := range m.lines {
		if !matchLevel(m.filter, line) {
			continue
		}
		sb.WriteString(styleLine(line))
		sb.WriteString("\n")
	}
	return sb.String()
}

func matchLevel(filter, line string) bool {
	switch filter {
	case "error":
		return strings.Contains(line, "[error]") || strings.Contains(line, "[fatal]") || strings.Contains(line, "[panic]")
	case "warn":
		return strings.Contains(line, "[warn") || strings.Contains(line, "[error]") || strings.Contains(line, "[fatal]")
	case "info":
		return !strings.Contains(line, "[debug]")
	default:
		return true
	}
}

func styleLine(line string) string {
	switch {
	case strings.Contains(line, "[error]"), strings.Contains(line, "[fatal]"):
		return logErrorStyle.Render(line)
	case strings.Contains(line, "[warn"):
		return logWarnStyle.Render(line)
	case strings.Contains(line, "[info"):
		return logInfoStyle.Render(line)
	case strings.Contains(line, "[debug]"):
		return logDebugStyle.Render(line)
	}
	return line
}
