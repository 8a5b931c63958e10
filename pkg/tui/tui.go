// Package tui is a terminal word browser on top of the window controller.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/japaniel/wordfamily/pkg/vocab"
	"github.com/japaniel/wordfamily/pkg/window"
)

var (
	styleHeader   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleWord     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleLevel    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleLearned  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleSubtle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleCard     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Width(64)
	styleBarGreen = lipgloss.NewStyle().Background(lipgloss.Color("10")).SetString(" ")
	styleBarRed   = lipgloss.NewStyle().Background(lipgloss.Color("9")).SetString(" ")
)

// Window is the part of *window.Controller the browser drives.
type Window interface {
	Snapshot() window.Snapshot
	Next()
	Previous()
	Filter() vocab.Filter
	SetFilter(ctx context.Context, f vocab.Filter)
	OnChange(fn func())
}

// Marker toggles learned state. *session.Session implements it.
type Marker interface {
	MarkLearned(ctx context.Context, wordID int, learned bool) bool
}

// changedMsg tells the model the window changed in the background.
type changedMsg struct{}

// filteredMsg reports that a filter change finished.
type filteredMsg struct{}

type Model struct {
	ctx     context.Context
	win     Window
	marker  Marker
	changes chan struct{}

	snap      window.Snapshot
	searching bool
	search    textinput.Model
	status    string
}

// New builds the model and subscribes to window changes.
func New(ctx context.Context, win Window, marker Marker) Model {
	ti := textinput.New()
	ti.Placeholder = "Search words and definitions..."
	ti.CharLimit = 40
	ti.Width = 40
	ti.Prompt = "/ "

	changes := make(chan struct{}, 1)
	win.OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	return Model{
		ctx:     ctx,
		win:     win,
		marker:  marker,
		changes: changes,
		snap:    win.Snapshot(),
		search:  ti,
	}
}

func (m Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changes:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// setFilterCmd runs off the update loop; a level change reloads the window.
func (m Model) setFilterCmd(f vocab.Filter) tea.Cmd {
	return func() tea.Msg {
		m.win.SetFilter(m.ctx, f)
		return filteredMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case changedMsg:
		m.snap = m.win.Snapshot()
		return m, m.waitForChange()
	case filteredMsg:
		m.snap = m.win.Snapshot()
		m.status = ""
		return m, nil
	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEnter, tea.KeyEsc:
		m.searching = false
		m.search.Blur()
		f := m.win.Filter()
		f.Search = strings.TrimSpace(m.search.Value())
		return m, m.setFilterCmd(f)
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyRight, tea.KeyDown:
		m.win.Next()
		m.snap = m.win.Snapshot()
		return m, nil
	case tea.KeyLeft, tea.KeyUp:
		m.win.Previous()
		m.snap = m.win.Snapshot()
		return m, nil
	case tea.KeySpace, tea.KeyEnter:
		m.toggle()
		return m, nil
	case tea.KeyRunes:
	default:
		return m, nil
	}

	key := msg.String()
	switch key {
	case "q":
		return m, tea.Quit
	case "n", "l":
		m.win.Next()
	case "p", "h":
		m.win.Previous()
	case "t":
		m.toggle()
	case "/":
		m.searching = true
		m.search.SetValue(m.win.Filter().Search)
		m.search.Focus()
		return m, textinput.Blink
	case "f":
		f := m.win.Filter()
		f.Learned = nextLearnedFilter(f.Learned)
		m.status = "showing " + string(f.Learned)
		return m, m.setFilterCmd(f)
	case "0", "1", "2", "3", "4", "5", "6":
		f := m.win.Filter()
		f.Level = vocab.LevelAll
		if i := int(key[0]) - int('1'); i >= 0 {
			f.Level = vocab.Levels[i]
		}
		m.status = "loading level " + string(f.Level)
		return m, m.setFilterCmd(f)
	}
	m.snap = m.win.Snapshot()
	return m, nil
}

func (m *Model) toggle() {
	cur := m.snap.Current
	if cur == nil {
		return
	}
	learned := !cur.Learned
	if !m.marker.MarkLearned(m.ctx, cur.WordID, learned) {
		m.status = "word is no longer loaded"
		return
	}
	if learned {
		m.status = fmt.Sprintf("%q marked learned", cur.Word)
	} else {
		m.status = fmt.Sprintf("%q marked not learned", cur.Word)
	}
	m.snap = m.win.Snapshot()
}

func nextLearnedFilter(f vocab.LearnedFilter) vocab.LearnedFilter {
	switch f {
	case vocab.LearnedAny, "":
		return vocab.NotLearned
	case vocab.NotLearned:
		return vocab.LearnedOnly
	default:
		return vocab.LearnedAny
	}
}

func renderBar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	green := int(fraction * float64(width))
	return strings.Repeat(styleBarGreen.String(), green) +
		strings.Repeat(styleBarRed.String(), width-green)
}

func (m Model) View() string {
	var b strings.Builder
	s := m.snap
	b.WriteString(styleHeader.Render("Word Family Explorer"))
	b.WriteString("\n")
	b.WriteString(styleSubtle.Render(fmt.Sprintf(" level: %s | showing: %s | search: %q | source: %s",
		s.Filter.Level, s.Filter.Learned, s.Filter.Search, s.Source)))
	b.WriteString("\n\n")

	if s.Current == nil {
		if s.Loaded == 0 {
			b.WriteString(" No words available.\n")
		} else {
			b.WriteString(" No loaded words match the filter.\n")
		}
	} else {
		b.WriteString(styleCard.Render(renderWord(*s.Current)))
		b.WriteString("\n")
		b.WriteString(styleSubtle.Render(fmt.Sprintf(" %d / %d", s.Index+1, s.Filtered)))
		if s.LoadingMore || s.LoadingPrevious {
			b.WriteString(styleSubtle.Render("  loading..."))
		}
		b.WriteString("\n")
	}

	c := s.Counts
	b.WriteString(fmt.Sprintf("\n %s %d/%d learned (%.0f%%)\n",
		renderBar(c.PercentComplete/100, 30), c.LearnedWords, c.TotalWords, c.PercentComplete))

	if m.searching {
		b.WriteString("\n" + m.search.View() + "\n")
	}
	if m.status != "" {
		b.WriteString("\n " + m.status + "\n")
	}
	b.WriteString(styleSubtle.Render("\n ←/→ n/p: move | space/t: toggle learned | 0-6: level | f: learned filter | /: search | q: quit"))
	return b.String()
}

func renderWord(w vocab.WordRecord) string {
	var b strings.Builder
	b.WriteString(styleWord.Render(w.Word))
	if w.POS != "" {
		b.WriteString(" " + styleSubtle.Render(w.POS))
	}
	b.WriteString(" " + styleLevel.Render(string(w.Level)))
	if w.Learned {
		b.WriteString(" " + styleLearned.Render("✓ learned"))
	}
	if w.Definition != "" {
		b.WriteString("\n" + w.Definition)
	}
	if w.Example != "" {
		b.WriteString("\n" + styleSubtle.Render("e.g. "+w.Example))
	}
	return b.String()
}

// Run starts the full screen browser and blocks until the user quits.
func Run(ctx context.Context, win Window, marker Marker) error {
	p := tea.NewProgram(New(ctx, win, marker), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
