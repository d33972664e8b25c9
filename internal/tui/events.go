package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const maxEvents = 200

type Events struct {
	lines []string
}

func NewEvents() *Events {
	return &Events{}
}

func (e *Events) Init() tea.Cmd {
	return nil
}

func (e *Events) Update(msg tea.Msg) (*Events, tea.Cmd) {
	return e, nil
}

func (e *Events) Add(format string, args ...any) {
	line := fmt.Sprintf("%s  %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	e.lines = append(e.lines, line)
	if len(e.lines) > maxEvents {
		e.lines = e.lines[len(e.lines)-maxEvents:]
	}
}

func (e *Events) View(width, height int) string {
	visible := height
	if visible < 1 {
		visible = 1
	}
	start := len(e.lines) - visible
	if start < 0 {
		start = 0
	}
	content := strings.Join(e.lines[start:], "\n")
	if content == "" {
		content = MemberMetaStyle.Render("no events yet")
	}
	return EventsBarStyle.Width(width).Render(content)
}
