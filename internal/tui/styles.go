package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Mint     = lipgloss.Color("#5ad1b3")
	OffWhite = lipgloss.Color("#e7e9f4")
	Slate    = lipgloss.Color("#1b1e33")
	Amber    = lipgloss.Color("#e5c07b")
	Rose     = lipgloss.Color("#e06c75")

	// Styles
	StatusBarStyle = lipgloss.NewStyle().
			Background(Slate).
			Foreground(Mint).
			Bold(true).
			Padding(0, 1)

	MembersPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Mint).
				Padding(1)

	HealthPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Mint).
				Padding(1)

	EventsBarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Slate).
			Padding(0, 1)

	MemberNameStyle = lipgloss.NewStyle().
			Foreground(OffWhite).
			Bold(true)

	MemberMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8a8fb0"))

	LevelBarStyle = lipgloss.NewStyle().
			Foreground(Mint)

	HealthyStyle = lipgloss.NewStyle().
			Foreground(Mint)

	DegradedStyle = lipgloss.NewStyle().
			Foreground(Amber)

	DownStyle = lipgloss.NewStyle().
			Foreground(Rose)
)
