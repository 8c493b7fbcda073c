package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"

	"scriptoria/internal/archive"
	"scriptoria/internal/model"
)

// historyStore is the part of store.History the browser mutates.
type historyStore interface {
	Read(project string) ([]model.Entry, error)
	ToggleFavorite(i int) (bool, bool, error)
	Delete(i int) (model.Entry, bool, error)
}

type entryArchiver interface {
	Put(ctx context.Context, reason archive.Reason, entries []model.Entry) error
}

type entryItem struct {
	index int
	entry model.Entry
}

func (it entryItem) Title() string {
	star := "  "
	if it.entry.Favorite {
		star = favoriteStyle.Render("★") + " "
	}
	return fmt.Sprintf("%s#%d %s", star, it.index, strings.Join(strings.Fields(it.entry.Idea), " "))
}

func (it entryItem) Description() string {
	parts := []string{string(it.entry.ModeOrDefault()), it.entry.ProjectOrDefault()}
	if len(it.entry.Tags) > 0 {
		parts = append(parts, "#"+strings.Join(it.entry.Tags, " #"))
	}
	return strings.Join(parts, " · ")
}

func (it entryItem) FilterValue() string {
	return it.entry.Idea + " " + it.entry.ProjectOrDefault() + " " + strings.Join(it.entry.Tags, " ")
}

type view int

const (
	viewList view = iota
	viewDetail
)

type browserModel struct {
	hist    historyStore
	archive entryArchiver

	list     list.Model
	viewport viewport.Model
	view     view
	detail   entryItem

	width  int
	height int

	status string
	err    error
}

func newBrowserModel(hist historyStore, arc entryArchiver) browserModel {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "scriptoria history"
	l.Styles.Title = titleStyle
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.SetStatusBarItemName("entry", "entries")
	// esc means "back" in this browser, not quit.
	l.KeyMap.Quit.SetKeys("q")

	m := browserModel{
		hist:     hist,
		archive:  arc,
		list:     l,
		viewport: viewport.New(0, 0),
	}
	m.reload(0)
	return m
}

// reload re-reads the history and keeps the cursor near sel.
func (m *browserModel) reload(sel int) {
	entries, err := m.hist.Read("")
	if err != nil {
		m.err = err
		return
	}
	items := make([]list.Item, 0, len(entries))
	for i, e := range entries {
		items = append(items, entryItem{index: i, entry: e})
	}
	m.list.SetItems(items)
	if sel >= len(items) {
		sel = len(items) - 1
	}
	if sel >= 0 {
		m.list.Select(sel)
	}
}

func (m browserModel) Init() tea.Cmd { return nil }

func (m browserModel) selected() (entryItem, bool) {
	it, ok := m.list.SelectedItem().(entryItem)
	return it, ok
}

func (m browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width, max(msg.Height-1, 1))
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-2, 1)
		if m.view == viewDetail {
			m.setDetailContent()
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.view == viewDetail {
			return m.updateDetail(msg)
		}
		// While typing a filter every key belongs to the list.
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "enter":
			if it, ok := m.selected(); ok {
				m.openDetail(it)
			}
			return m, nil
		case "f":
			if it, ok := m.selected(); ok {
				m.toggleFavorite(it.index)
			}
			return m, nil
		case "d":
			if it, ok := m.selected(); ok {
				m.deleteEntry(it.index)
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.view == viewList {
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

func (m browserModel) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		return m, nil
	case "f":
		m.toggleFavorite(m.detail.index)
		m.refreshDetail()
		return m, nil
	case "d":
		m.deleteEntry(m.detail.index)
		m.view = viewList
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *browserModel) openDetail(it entryItem) {
	m.detail = it
	m.view = viewDetail
	m.setDetailContent()
	m.viewport.GotoTop()
}

// refreshDetail picks up the stored version of the open entry after a mutation.
func (m *browserModel) refreshDetail() {
	for _, li := range m.list.Items() {
		if it, ok := li.(entryItem); ok && it.index == m.detail.index {
			m.detail = it
			break
		}
	}
	m.setDetailContent()
}

func (m *browserModel) setDetailContent() {
	e := m.detail.entry
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	var b strings.Builder
	fav := ""
	if e.Favorite {
		fav = " " + favoriteStyle.Render("★")
	}
	fmt.Fprintf(&b, "%s%s\n", titleStyle.Render(fmt.Sprintf("#%d %s", m.detail.index, e.ModeOrDefault())), fav)
	meta := "project " + e.ProjectOrDefault()
	if len(e.Tags) > 0 {
		meta += " · tags " + strings.Join(e.Tags, ", ")
	}
	fmt.Fprintln(&b, styleMuted().Render(meta))
	fmt.Fprintln(&b, lipgloss.NewStyle().Italic(true).Width(width).Render(e.Idea))
	fmt.Fprintln(&b)
	b.WriteString(RenderMarkdown(PreserveLineBreaks(e.Output), max(width-2, 10)))
	m.viewport.SetContent(b.String())
}

func (m *browserModel) toggleFavorite(i int) {
	fav, ok, err := m.hist.ToggleFavorite(i)
	switch {
	case err != nil:
		m.err = err
	case !ok:
		m.status = fmt.Sprintf("entry #%d no longer exists", i)
	default:
		m.err = nil
		if fav {
			m.status = fmt.Sprintf("#%d marked favorite", i)
		} else {
			m.status = fmt.Sprintf("#%d unmarked", i)
		}
	}
	m.reload(m.list.Index())
}

func (m *browserModel) deleteEntry(i int) {
	removed, ok, err := m.hist.Delete(i)
	switch {
	case err != nil:
		m.err = err
	case !ok:
		m.status = fmt.Sprintf("entry #%d no longer exists", i)
	default:
		m.err = nil
		m.status = fmt.Sprintf("deleted #%d", i)
		if m.archive != nil {
			if err := m.archive.Put(context.Background(), archive.ReasonDeleted, []model.Entry{removed}); err != nil {
				m.err = err
			}
		}
	}
	m.reload(m.list.Index())
}

func (m browserModel) footer() string {
	var line string
	switch {
	case m.err != nil:
		line = errorStyle.Render("error: " + m.err.Error())
	case m.status != "":
		line = styleMuted().Render(m.status)
	case m.view == viewDetail:
		line = styleMuted().Render("esc back · f favorite · d delete · ↑/↓ scroll · q quit")
	default:
		line = styleMuted().Render("enter open · f favorite · d delete · / filter · q quit")
	}
	if m.width > 0 {
		line = xansi.Truncate(line, m.width, "…")
	}
	return line
}

func (m browserModel) View() string {
	if m.view == viewDetail {
		return m.viewport.View() + "\n" + m.footer()
	}
	if len(m.list.Items()) == 0 {
		return styleMuted().Render("History is empty. Generate something with `scriptoria generate`.") + "\n" + m.footer()
	}
	return m.list.View() + "\n" + m.footer()
}
