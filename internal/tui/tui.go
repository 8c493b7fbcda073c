package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"scriptoria/internal/archive"
	"scriptoria/internal/store"
)

// Run opens the interactive history browser. arc may be nil to skip archiving deletions.
func Run(hist *store.History, arc *archive.Archive) error {
	applyThemePreference()
	applyColorProfilePreference()

	var archiver entryArchiver
	if arc != nil {
		archiver = arc
	}
	_, err := tea.NewProgram(newBrowserModel(hist, archiver), tea.WithAltScreen()).Run()
	return err
}
