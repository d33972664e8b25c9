package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type healthMsg struct {
	ok      bool
	status  string
	latency time.Duration
	err     error
	at      time.Time
}

type healthTickMsg struct{}

type Health struct {
	serverURL string
	last      healthMsg
	checked   bool
}

func NewHealth(serverURL string) *Health {
	return &Health{serverURL: serverURL}
}

func (h *Health) Init() tea.Cmd {
	return nil
}

func (h *Health) Update(msg tea.Msg) (*Health, tea.Cmd) {
	if m, ok := msg.(healthMsg); ok {
		h.last = m
		h.checked = true
	}
	return h, nil
}

// Check probes the server health endpoint in the background
func (h *Health) Check() tea.Cmd {
	url := strings.TrimSuffix(h.serverURL, "/") + "/health"
	return func() tea.Msg {
		client := &http.Client{Timeout: 5 * time.Second}
		start := time.Now()
		resp, err := client.Get(url)
		if err != nil {
			return healthMsg{ok: false, err: err, at: time.Now()}
		}
		defer resp.Body.Close()

		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return healthMsg{ok: false, err: err, at: time.Now()}
		}
		return healthMsg{
			ok:      resp.StatusCode == http.StatusOK,
			status:  body.Status,
			latency: time.Since(start),
			at:      time.Now(),
		}
	}
}

func (h *Health) View(width, height int, wsConnected bool, memberCount int) string {
	var b strings.Builder
	b.WriteString("Server\n\n")
	b.WriteString(MemberMetaStyle.Render(h.serverURL))
	b.WriteString("\n\n")

	switch {
	case !h.checked:
		b.WriteString(DegradedStyle.Render("checking..."))
	case h.last.err != nil:
		b.WriteString(DownStyle.Render("unreachable"))
		b.WriteString("\n")
		b.WriteString(MemberMetaStyle.Render(h.last.err.Error()))
	case h.last.ok:
		b.WriteString(HealthyStyle.Render(fmt.Sprintf("%s · %dms", h.last.status, h.last.latency.Milliseconds())))
	default:
		b.WriteString(DegradedStyle.Render("degraded"))
	}
	b.WriteString("\n\n")

	if wsConnected {
		b.WriteString(HealthyStyle.Render("socket joined"))
	} else {
		b.WriteString(DownStyle.Render("socket offline"))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("members: %d\n", memberCount))

	if h.checked {
		b.WriteString("\n")
		b.WriteString(MemberMetaStyle.Render("checked " + relativeTime(h.last.at.Format(time.RFC3339))))
	}

	return HealthPanelStyle.Width(width).Height(height).Render(b.String())
}
