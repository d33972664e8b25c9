package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/normanking/cortexvoice/internal/realtime"
)

// levelTTL is how long a volume sample keeps a member's bar lit
const levelTTL = 1500 * time.Millisecond

type levelSample struct {
	level float64
	at    time.Time
}

type Members struct {
	members []realtime.PresenceMeta
	levels  map[string]levelSample
	scroll  int
}

func NewMembers() *Members {
	return &Members{levels: make(map[string]levelSample)}
}

func (m *Members) Init() tea.Cmd {
	return nil
}

func (m *Members) Update(msg tea.Msg) (*Members, tea.Cmd) {
	return m, nil
}

func (m *Members) Set(members []realtime.PresenceMeta) {
	m.members = members
	if m.scroll > len(members) {
		m.scroll = 0
	}
}

func (m *Members) Count() int {
	return len(m.members)
}

// SetLevel records a volume broadcast for the given member
func (m *Members) SetLevel(userID string, level float64) {
	m.levels[userID] = levelSample{level: level, at: time.Now()}
}

func (m *Members) ScrollUp() {
	if m.scroll > 0 {
		m.scroll--
	}
}

func (m *Members) ScrollDown() {
	if m.scroll < len(m.members)-1 {
		m.scroll++
	}
}

func (m *Members) View(width, height int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Members (%d)\n\n", len(m.members)))

	if len(m.members) == 0 {
		b.WriteString(MemberMetaStyle.Render("room is empty"))
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}
	end := m.scroll + visible
	if end > len(m.members) {
		end = len(m.members)
	}
	for _, member := range m.members[m.scroll:end] {
		name := member.Name
		if name == "" {
			name = member.UserID
		}
		b.WriteString(MemberNameStyle.Render(name))
		if s, ok := m.levels[member.UserID]; ok && time.Since(s.at) < levelTTL {
			b.WriteString("  ")
			b.WriteString(LevelBarStyle.Render(levelBar(s.level, 10)))
		}
		b.WriteString("\n")
		b.WriteString(MemberMetaStyle.Render(fmt.Sprintf("  %s · joined %s · seen %s",
			member.UserID, relativeTime(member.JoinedAt), relativeTime(member.LastSeen))))
		b.WriteString("\n")
	}

	return MembersPanelStyle.Width(width).Height(height).Render(b.String())
}

// levelBar renders a level in [0,1] as a fixed-width block bar
func levelBar(level float64, width int) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// relativeTime renders an RFC3339 stamp as a short "3m ago" form
func relativeTime(stamp string) string {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return "?"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
