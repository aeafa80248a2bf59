package ui

import "github.com/charmbracelet/lipgloss"

// Styles for command output. lipgloss drops colors automatically when the
// output is not a terminal.
var (
	BranchStyle  = lipgloss.NewStyle().Bold(true)
	PathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	WarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	HeaderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)
