// Package tui is the roomctl operations console. It joins the room
// socket as a silent observer, so operators see live membership
// without appearing in the room themselves.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/cortexvoice/internal/realtime"
)

type Panel int

const (
	MembersPanel Panel = iota
	HealthPanel
)

const eventsHeight = 6

type membersMsg struct {
	members []realtime.PresenceMeta
}

type broadcastMsg struct {
	payload json.RawMessage
}

type socketJoinedMsg struct{}

type socketLostMsg struct {
	err error
}

type reconnectMsg struct{}

// levelFadeMsg forces a redraw so expired volume bars disappear
type levelFadeMsg struct{}

type App struct {
	width, height int
	currentPanel  Panel
	keys          KeyMap

	factory     realtime.ChannelFactory
	channel     realtime.Channel
	msgs        chan tea.Msg
	connected   bool
	known       map[string]string // userId -> display name
	fadePending bool

	members *Members
	health  *Health
	events  *Events
}

func NewApp(serverURL string, factory realtime.ChannelFactory) *App {
	return &App{
		currentPanel: MembersPanel,
		keys:         DefaultKeyMap,
		factory:      factory,
		msgs:         make(chan tea.Msg, 16),
		known:        make(map[string]string),
		members:      NewMembers(),
		health:       NewHealth(serverURL),
		events:       NewEvents(),
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.connect(), a.health.Check(), a.waitMsg())
}

// connect dials a fresh channel and joins the room topic
func (a *App) connect() tea.Cmd {
	return func() tea.Msg {
		ch := a.factory()
		ch.OnPresenceSync(func(members []realtime.PresenceMeta) {
			a.msgs <- membersMsg{members: members}
		})
		ch.OnBroadcast(func(payload json.RawMessage) {
			a.msgs <- broadcastMsg{payload: payload}
		})
		ch.OnClose(func(err error) {
			a.msgs <- socketLostMsg{err: err}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ch.Subscribe(ctx); err != nil {
			ch.Close()
			return socketLostMsg{err: err}
		}
		a.channel = ch
		return socketJoinedMsg{}
	}
}

// waitMsg pumps channel callbacks into the update loop
func (a *App) waitMsg() tea.Cmd {
	return func() tea.Msg {
		return <-a.msgs
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			if a.channel != nil {
				a.channel.Close()
			}
			return a, tea.Quit
		case key.Matches(msg, a.keys.Tab):
			a.currentPanel = (a.currentPanel + 1) % 2
		case key.Matches(msg, a.keys.Refresh):
			cmds = append(cmds, a.health.Check())
		case key.Matches(msg, a.keys.Up):
			if a.currentPanel == MembersPanel {
				a.members.ScrollUp()
			}
		case key.Matches(msg, a.keys.Down):
			if a.currentPanel == MembersPanel {
				a.members.ScrollDown()
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case socketJoinedMsg:
		a.connected = true
		a.events.Add("joined room socket")

	case socketLostMsg:
		a.connected = false
		a.channel = nil
		if msg.err != nil {
			a.events.Add("socket lost: %v", msg.err)
		} else {
			a.events.Add("socket closed")
		}
		cmds = append(cmds,
			tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} }),
			a.waitMsg(),
		)

	case reconnectMsg:
		a.events.Add("reconnecting...")
		cmds = append(cmds, a.connect())

	case membersMsg:
		a.noteChanges(msg.members)
		a.members.Set(msg.members)
		cmds = append(cmds, a.waitMsg())

	case broadcastMsg:
		cmds = append(cmds, a.handleBroadcast(msg.payload)...)
		cmds = append(cmds, a.waitMsg())

	case levelFadeMsg:
		a.fadePending = false

	case healthMsg:
		a.health, _ = a.health.Update(msg)
		cmds = append(cmds, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return healthTickMsg{} }))

	case healthTickMsg:
		cmds = append(cmds, a.health.Check())
	}

	return a, tea.Batch(cmds...)
}

// handleBroadcast routes room application payloads: volume samples
// light up the speaking member's bar, status pushes land in the event
// log.
func (a *App) handleBroadcast(payload json.RawMessage) []tea.Cmd {
	var b realtime.RoomBroadcast
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil
	}

	switch b.Type {
	case realtime.BroadcastVolume:
		a.members.SetLevel(b.UserID, b.Level)
		if a.fadePending {
			return nil
		}
		a.fadePending = true
		return []tea.Cmd{tea.Tick(levelTTL, func(time.Time) tea.Msg { return levelFadeMsg{} })}
	case realtime.BroadcastStatus:
		a.events.Add("assistant %s (session %s)", b.Status, shortSession(b.SessionID))
	}
	return nil
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// noteChanges logs joins and leaves against the previous snapshot
func (a *App) noteChanges(members []realtime.PresenceMeta) {
	seen := make(map[string]string, len(members))
	for _, m := range members {
		name := m.Name
		if name == "" {
			name = m.UserID
		}
		seen[m.UserID] = name
		if _, ok := a.known[m.UserID]; !ok {
			a.events.Add("+ %s joined", name)
		}
	}
	for id, name := range a.known {
		if _, ok := seen[id]; !ok {
			a.events.Add("- %s left", name)
		}
	}
	a.known = seen
}

func (a *App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	statusBar := a.statusBarView()

	contentHeight := a.height - lipgloss.Height(statusBar) - eventsHeight - 2
	if contentHeight < 4 {
		contentHeight = 4
	}

	leftWidth := int(float64(a.width) * 0.7)
	rightWidth := a.width - leftWidth

	membersView := a.members.View(leftWidth-2, contentHeight)
	healthView := a.health.View(rightWidth-2, contentHeight, a.connected, a.members.Count())

	layout := lipgloss.JoinHorizontal(lipgloss.Top, membersView, healthView)
	eventsView := a.events.View(a.width-2, eventsHeight-2)

	return lipgloss.JoinVertical(lipgloss.Left, statusBar, layout, eventsView)
}

func (a *App) statusBarView() string {
	state := "offline"
	if a.connected {
		state = "observing"
	}
	return StatusBarStyle.Width(a.width).Render(
		fmt.Sprintf("CortexVoice roomctl | %s | tab: panels  r: refresh  q: quit", state))
}
