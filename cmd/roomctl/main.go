// roomctl is a terminal console for watching a running roomserver:
// live membership, join and leave activity, and endpoint health.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/realtime"
	"github.com/normanking/cortexvoice/internal/tui"
)

func main() {
	serverFlag := flag.String("server", "http://localhost:8790", "Room server URL")
	tokenFlag := flag.String("token", "", "Bearer token (or CORTEXVOICE_TOKEN)")
	flag.Parse()

	token := *tokenFlag
	if token == "" {
		token = os.Getenv("CORTEXVOICE_TOKEN")
	}

	// The observer socket logs nowhere; the TUI owns the terminal.
	logger := zerolog.Nop()

	socketURL := realtime.SocketURL(*serverFlag)
	factory := func() realtime.Channel {
		return realtime.NewWSChannel(socketURL, realtime.RoomTopic, token, logger)
	}

	app := tui.NewApp(*serverFlag, factory)
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "roomctl: %v\n", err)
		os.Exit(1)
	}
}
