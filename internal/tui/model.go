// Package tui provides the BubbleTea-based announcer dashboard.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jmylchreest/examcast/internal/config"
	"github.com/jmylchreest/examcast/internal/core"
	"github.com/jmylchreest/examcast/internal/model"
	"github.com/jmylchreest/examcast/internal/playback"
	"github.com/jmylchreest/examcast/internal/scheduler"
)

// Controller is the running announcer as seen by the dashboard.
type Controller interface {
	Events() []model.ExamEvent
	Snapshot() scheduler.Snapshot
	Snapshots() <-chan scheduler.Snapshot
	PlaybackEvents() <-chan playback.Event

	Play(ctx context.Context, id string) error
	PlayTone(ctx context.Context) error
	Resume(kind playback.Kind) error
	Stop()
	FallbackTone()
	Session(kind playback.Kind) playback.SessionInfo

	Autoplay() bool
	SetAutoplay(enabled bool) error
	OfflineMode() bool
	SetOffline(offline bool) error
	Online() bool
	Library() string
}

// Mode represents the current UI mode.
type Mode int

const (
	ModeList Mode = iota
	ModeSearch
	ModeHelp
)

// Model is the main TUI model.
type Model struct {
	cfg  *config.Config
	ctrl Controller

	mode Mode

	// Components
	list        list.Model
	searchInput textinput.Model
	help        help.Model

	// State
	events      []model.ExamEvent
	snap        scheduler.Snapshot
	primary     playback.SessionInfo
	tone        playback.SessionInfo
	searchQuery string
	showHelp    bool
	width       int
	height      int
	ready       bool

	keys KeyMap

	statusMsg string
	statusErr bool

	snapCh     <-chan scheduler.Snapshot
	playbackCh <-chan playback.Event
}

// eventItem wraps an event for the list component.
type eventItem struct {
	event   model.ExamEvent
	now     time.Time
	next    bool
	playing playback.State
}

func (i eventItem) Title() string {
	return fmt.Sprintf("%s  %s  %s", i.event.ScheduledTime.Format("15:04:05"), i.event.Subject, i.event.Label())
}

func (i eventItem) Description() string {
	parts := []string{i.event.RelativeTime(i.now)}
	if name := i.event.AudioFileName(); name != "" {
		parts = append(parts, name)
	}
	if i.event.CustomMessage != "" {
		parts = append(parts, i.event.CustomMessage)
	}
	return strings.Join(parts, " - ")
}

func (i eventItem) FilterValue() string {
	return i.event.Subject + " " + i.event.Label()
}

// marker is the one-character status shown before the title.
func (i eventItem) marker() string {
	switch {
	case i.playing == playback.StatePlaying:
		return "▶"
	case i.playing == playback.StatePaused:
		return "‖"
	case i.playing == playback.StateLoading:
		return "…"
	case i.next:
		return "→"
	case !i.event.ScheduledTime.After(i.now):
		return "✓"
	default:
		return " "
	}
}

type eventDelegate struct {
	list.DefaultDelegate
}

func newEventDelegate() eventDelegate {
	return eventDelegate{DefaultDelegate: list.NewDefaultDelegate()}
}

// Render renders past events dimmed and marks the next and playing ones.
func (d eventDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ei, ok := item.(eventItem)
	if !ok {
		d.DefaultDelegate.Render(w, m, index, item)
		return
	}

	isSelected := index == m.Index()
	isPast := !ei.event.ScheduledTime.After(ei.now) && ei.playing == playback.StateIdle

	itemWidth := m.Width() - d.DefaultDelegate.Styles.NormalTitle.GetHorizontalPadding()

	titleStyle := d.DefaultDelegate.Styles.NormalTitle
	descStyle := d.DefaultDelegate.Styles.NormalDesc
	if isSelected {
		titleStyle = d.DefaultDelegate.Styles.SelectedTitle
		descStyle = d.DefaultDelegate.Styles.SelectedDesc
	}
	switch {
	case ei.playing != playback.StateIdle:
		titleStyle = titleStyle.Foreground(lipgloss.Color("10"))
	case ei.next:
		titleStyle = titleStyle.Foreground(lipgloss.Color("12"))
	case isPast:
		titleStyle = titleStyle.Foreground(lipgloss.Color("8"))
		descStyle = descStyle.Foreground(lipgloss.Color("8"))
	}

	title := ei.marker() + " " + ei.Title()
	title = truncate(title, itemWidth)
	desc := truncate(ei.Description(), itemWidth)

	fmt.Fprint(w, titleStyle.Render(title))
	fmt.Fprint(w, "\n")
	fmt.Fprint(w, descStyle.Render(desc))
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// New creates a new TUI model.
func New(cfg *config.Config, ctrl Controller) Model {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	l := list.New(nil, newEventDelegate(), 0, 0)
	l.Title = "Schedule"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	searchInput := textinput.New()
	searchInput.Placeholder = "subject, cue, or subject=Math,time>0"
	searchInput.CharLimit = 100

	h := help.New()
	h.ShowAll = false

	m := Model{
		cfg:         cfg,
		ctrl:        ctrl,
		mode:        ModeList,
		list:        l,
		searchInput: searchInput,
		help:        h,
		showHelp:    cfg.TUI.ShowHelp,
		keys:        DefaultKeyMap(),
	}
	if ctrl != nil {
		m.snapCh = ctrl.Snapshots()
		m.playbackCh = ctrl.PlaybackEvents()
		m.snap = ctrl.Snapshot()
		m.events = ctrl.Events()
		m.primary = ctrl.Session(playback.KindPrimary)
		m.tone = ctrl.Session(playback.KindTone)
	}
	m.list.SetItems(m.buildListItems())
	return m
}

// Init initializes the TUI.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForSnapshot,
		m.waitForPlayback,
	)
}

type snapshotMsg scheduler.Snapshot

type playbackMsg playback.Event

// waitForSnapshot blocks until the loop publishes a tick.
func (m Model) waitForSnapshot() tea.Msg {
	if m.snapCh == nil {
		return nil
	}
	snap, ok := <-m.snapCh
	if !ok {
		return nil
	}
	return snapshotMsg(snap)
}

// waitForPlayback blocks until the engine reports something.
func (m Model) waitForPlayback() tea.Msg {
	if m.playbackCh == nil {
		return nil
	}
	ev, ok := <-m.playbackCh
	if !ok {
		return nil
	}
	return playbackMsg(ev)
}

type statusMsg struct {
	text  string
	isErr bool
}

type clearStatusMsg struct{}

func status(text string, isErr bool) tea.Cmd {
	return func() tea.Msg {
		return statusMsg{text: text, isErr: isErr}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.help.Width = msg.Width
		m.list.SetSize(msg.Width, max(msg.Height-headerLines-1, 3))
		return m, nil

	case snapshotMsg:
		m.snap = scheduler.Snapshot(msg)
		if m.ctrl != nil {
			m.events = m.ctrl.Events()
		}
		m.refreshItems()
		return m, m.waitForSnapshot

	case playbackMsg:
		ev := playback.Event(msg)
		if m.ctrl != nil {
			m.primary = m.ctrl.Session(playback.KindPrimary)
			m.tone = m.ctrl.Session(playback.KindTone)
		}
		m.refreshItems()
		cmds := []tea.Cmd{m.waitForPlayback}
		if ev.Type == playback.EventError {
			cmds = append(cmds, status(playbackError(ev), !ev.Recoverable))
		}
		return m, tea.Batch(cmds...)

	case statusMsg:
		m.statusMsg = msg.text
		m.statusErr = msg.isErr
		return m, tea.Tick(4*time.Second, func(time.Time) tea.Msg {
			return clearStatusMsg{}
		})

	case clearStatusMsg:
		m.statusMsg = ""
		m.statusErr = false
		return m, nil
	}

	var cmd tea.Cmd
	switch m.mode {
	case ModeList:
		m.list, cmd = m.list.Update(msg)
	case ModeSearch:
		m.searchInput, cmd = m.searchInput.Update(msg)
	}
	return m, cmd
}

func playbackError(ev playback.Event) string {
	what := "announcement"
	if ev.Session == playback.KindTone {
		what = "test tone"
	}
	return fmt.Sprintf("%s failed: %s", what, ev.Cause.Message())
}

// handleKey handles key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == ModeSearch {
		return m.handleSearchKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		if m.mode == ModeHelp {
			m.mode = ModeList
		} else {
			m.mode = ModeHelp
		}
		return m, nil
	}

	if m.mode == ModeHelp {
		if key.Matches(msg, m.keys.Back) {
			m.mode = ModeList
		}
		return m, nil
	}
	return m.handleListKey(msg)
}

// handleListKey handles keys in list mode.
func (m Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Play):
		item, ok := m.list.SelectedItem().(eventItem)
		if !ok || m.ctrl == nil {
			return m, nil
		}
		return m, m.togglePrimary(item.event)

	case key.Matches(msg, m.keys.Tone):
		if m.ctrl == nil {
			return m, nil
		}
		return m, m.toggleTone()

	case key.Matches(msg, m.keys.Stop):
		if m.ctrl == nil {
			return m, nil
		}
		m.ctrl.Stop()
		return m, status("Stopped", false)

	case key.Matches(msg, m.keys.Fallback):
		if m.ctrl == nil {
			return m, nil
		}
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctrl.FallbackTone()
			return statusMsg{text: "Fallback tone played"}
		}

	case key.Matches(msg, m.keys.Autoplay):
		if m.ctrl == nil {
			return m, nil
		}
		enabled := !m.ctrl.Autoplay()
		if err := m.ctrl.SetAutoplay(enabled); err != nil {
			return m, status("Autoplay changed but not saved: "+err.Error(), true)
		}
		return m, status("Autoplay "+onOff(enabled), false)

	case key.Matches(msg, m.keys.Offline):
		if m.ctrl == nil {
			return m, nil
		}
		offline := !m.ctrl.OfflineMode()
		if err := m.ctrl.SetOffline(offline); err != nil {
			return m, status("Offline mode changed but not saved: "+err.Error(), true)
		}
		return m, status("Offline mode "+onOff(offline), false)

	case key.Matches(msg, m.keys.Next):
		if m.snap.Next != nil {
			m.selectID(m.snap.Next.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.Search):
		m.searchInput.SetValue("")
		m.searchQuery = ""
		m.refreshItems()
		m.mode = ModeSearch
		m.searchInput.Focus()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Back):
		if m.searchQuery != "" {
			m.searchQuery = ""
			m.refreshItems()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// togglePrimary plays the selected event, or resumes it when it is paused.
// Playing it again while it plays pauses it.
func (m Model) togglePrimary(e model.ExamEvent) tea.Cmd {
	ctrl := m.ctrl
	paused := m.primary.State == playback.StatePaused && m.primary.EventID == e.ID
	return func() tea.Msg {
		var err error
		if paused {
			err = ctrl.Resume(playback.KindPrimary)
		} else {
			err = ctrl.Play(context.Background(), e.ID)
		}
		if err != nil {
			return statusMsg{text: "Playback failed: " + err.Error(), isErr: true}
		}
		return nil
	}
}

func (m Model) toggleTone() tea.Cmd {
	ctrl := m.ctrl
	paused := m.tone.State == playback.StatePaused
	return func() tea.Msg {
		var err error
		if paused {
			err = ctrl.Resume(playback.KindTone)
		} else {
			err = ctrl.PlayTone(context.Background())
		}
		if err != nil {
			return statusMsg{text: "Test tone failed: " + err.Error(), isErr: true}
		}
		return nil
	}
}

// handleSearchKey handles keys in search mode.
func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEsc:
		m.mode = ModeList
		m.searchInput.Blur()
		m.searchInput.SetValue("")
		m.searchQuery = ""
		m.refreshItems()
		return m, nil

	case tea.KeyEnter:
		// Keep the filter and return to the list.
		m.mode = ModeList
		m.searchInput.Blur()
		return m, nil

	case tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)

	m.searchQuery = m.searchInput.Value()
	m.refreshItems()

	return m, cmd
}

// refreshItems rebuilds the list, keeping the selected event selected.
func (m *Model) refreshItems() {
	var selected string
	if item, ok := m.list.SelectedItem().(eventItem); ok {
		selected = item.event.ID
	}
	m.list.SetItems(m.buildListItems())
	if selected != "" {
		m.selectID(selected)
	}
}

func (m *Model) selectID(id string) {
	for i, item := range m.list.Items() {
		if ei, ok := item.(eventItem); ok && ei.event.ID == id {
			m.list.Select(i)
			return
		}
	}
}

func (m Model) now() time.Time {
	if !m.snap.Now.IsZero() {
		return m.snap.Now
	}
	return time.Now()
}

// buildListItems creates list items from the current schedule.
func (m Model) buildListItems() []list.Item {
	now := m.now()
	events := filterEvents(m.events, m.searchQuery, now)

	var nextID string
	if m.snap.Next != nil {
		nextID = m.snap.Next.ID
	}

	items := make([]list.Item, len(events))
	for i, e := range events {
		item := eventItem{event: e, now: now, next: e.ID == nextID}
		if m.primary.EventID == e.ID {
			item.playing = m.primary.State
		}
		items[i] = item
	}
	return items
}

// View renders the TUI.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	switch m.mode {
	case ModeHelp:
		return m.viewHelp()
	case ModeSearch:
		return m.viewSearch()
	default:
		return m.viewList()
	}
}

// headerLines is the height of renderHeader.
const headerLines = 5

var (
	clockStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle  = lipgloss.NewStyle().Bold(true)
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headerStyle = lipgloss.NewStyle().Padding(0, 1)
)

func (m Model) renderHeader() string {
	now := m.now()

	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s  %s",
		clockStyle.Render(now.Format("15:04:05")),
		labelStyle.Render(now.Format("2006-01-02")),
		m.renderFlags())
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Next     "))
	if next := m.snap.Next; next != nil {
		fmt.Fprintf(&b, "%s %s at %s in %s",
			valueStyle.Render(next.Subject),
			next.Label(),
			next.ScheduledTime.Format("15:04:05"),
			clockStyle.Render(formatCountdown(m.snap.Countdown)))
	} else {
		b.WriteString("nothing scheduled")
	}
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Now      "))
	if m.snap.CurrentSubject != "" {
		b.WriteString(valueStyle.Render(m.snap.CurrentSubject))
	} else {
		b.WriteString(core.NoExamInProgress)
	}
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Playback "))
	b.WriteString(m.renderSession(m.primary))
	b.WriteString(labelStyle.Render("   tone "))
	b.WriteString(m.tone.State.String())
	b.WriteString("\n")

	return headerStyle.Render(b.String())
}

func (m Model) renderFlags() string {
	if m.ctrl == nil {
		return ""
	}
	flag := func(name string, on bool) string {
		if on {
			return labelStyle.Render(name+" ") + onStyle.Render("on")
		}
		return labelStyle.Render(name+" ") + offStyle.Render("off")
	}

	network := onStyle.Render("online")
	if !m.ctrl.Online() {
		network = offStyle.Render("offline")
	}
	return strings.Join([]string{
		labelStyle.Render("library ") + m.ctrl.Library(),
		flag("autoplay", m.ctrl.Autoplay()),
		flag("offline", m.ctrl.OfflineMode()),
		labelStyle.Render("network ") + network,
	}, "  ")
}

func (m Model) renderSession(s playback.SessionInfo) string {
	if s.State == playback.StateIdle {
		if s.LastErr != nil {
			return offStyle.Render("idle (" + playback.Classify(s.LastErr).Message() + ")")
		}
		return "idle"
	}

	what := s.EventID
	if e := core.LookupByID(m.events, s.EventID); e != nil {
		what = e.Subject + " " + e.Label()
	}
	progress := formatClock(s.Elapsed)
	if s.Duration > 0 {
		progress += " / " + formatClock(s.Duration)
	}
	return fmt.Sprintf("%s %s %s", onStyle.Render(s.State.String()), what, labelStyle.Render(progress))
}

// formatCountdown renders whole seconds as HH:MM:SS.
func formatCountdown(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

// formatClock renders a media position as M:SS.
func formatClock(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func (m Model) viewList() string {
	s := m.renderHeader() + "\n" + m.list.View()

	if m.statusMsg != "" {
		statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
		if m.statusErr {
			statusStyle = statusStyle.Foreground(lipgloss.Color("9"))
		}
		s += "\n" + statusStyle.Render(m.statusMsg)
	} else if m.showHelp {
		s += "\n" + m.help.ShortHelpView(m.keys.ShortHelp())
	}
	return s
}

func (m Model) viewSearch() string {
	countStr := fmt.Sprintf("(%d matches)", len(m.list.Items()))
	searchBar := "Search: " + m.searchInput.View() + " " + labelStyle.Render(countStr)
	return m.renderHeader() + "\n" + searchBar + "\n" + m.list.View()
}

func (m Model) viewHelp() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		MarginBottom(1)

	s := titleStyle.Render("Keyboard Shortcuts") + "\n\n"
	s += m.help.FullHelpView(m.keys.FullHelp())
	s += "\n\n" + labelStyle.Render("Press ? or esc to return")
	return s
}

// RunOptions configures the TUI.
type RunOptions struct {
	Config     *config.Config
	Controller Controller
}

// Run starts the dashboard and blocks until the user quits.
func Run(opts RunOptions) error {
	m := New(opts.Config, opts.Controller)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
