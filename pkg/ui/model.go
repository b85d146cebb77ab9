// Package ui is the terminal front end: a bubbletea program that draws the session
// feed and drives the engine through Backend.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/feed"
	"github.com/go-go-golems/roomchat/pkg/view"
)

const roomsWidth = 30

var (
	roomsPane = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	activeRoomStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("62"))
	previewStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")).Padding(0, 1)
	summaryStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	ownStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	otherStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	noticeStyle     = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241"))
	timeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	alertStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	emptyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

type Options struct {
	// Markdown renders message content with glamour.
	Markdown bool
	// Copy writes text to the clipboard. Defaults to the system clipboard.
	Copy func(text string) error
}

// Model draws the room list, the active room's header and messages, an input line
// and a status line. It only reflects what the feed tells it; every change goes
// through Backend.
type Model struct {
	ctx     context.Context
	backend Backend
	copy    func(string) error

	rooms  []view.RoomEntry
	header view.RoomHeader
	room   chat.RoomID
	rows   []view.MessageRow
	status string
	alert  *view.Alert
	notice string

	viewport viewport.Model
	input    textinput.Model
	markdown *glamour.TermRenderer
	useMD    bool
	ready    bool
	width    int
	height   int
}

type sendResultMsg struct {
	content string
	err     error
}

type actionErrMsg struct {
	err error
}

func NewModel(ctx context.Context, backend Backend, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, /open N, /rooms, /leave or /quit"
	ti.CharLimit = 0
	ti.Focus()

	cp := opts.Copy
	if cp == nil {
		cp = clipboard.WriteAll
	}
	return Model{
		ctx:     ctx,
		backend: backend,
		copy:    cp,
		status:  "disconnected",
		input:   ti,
		useMD:   opts.Markdown,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case EventMsg:
		m.apply(msg.Event)
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.alert = &view.Alert{Kind: view.AlertSend, Message: msg.err.Error()}
			if m.input.Value() == "" {
				m.input.SetValue(msg.content)
			}
		} else {
			m.alert = nil
		}
		return m, nil

	case actionErrMsg:
		m.alert = &view.Alert{Kind: view.AlertSession, Message: msg.err.Error()}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+y":
			m.copyLast()
			return m, nil
		case "ctrl+n":
			return m, m.cycle(1)
		case "ctrl+p":
			return m, m.cycle(-1)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := m.paneSize()
		if !m.ready {
			m.viewport = viewport.New(w, h)
			m.viewport.Style = lipgloss.NewStyle().Padding(0, 1)
			m.ready = true
		} else {
			m.viewport.Width = w
			m.viewport.Height = h
		}
		m.input.Width = m.width - 4
		if m.useMD {
			r, err := glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(w-2))
			if err != nil {
				log.Warn().Err(err).Str("component", "ui").Msg("markdown renderer unavailable")
			} else {
				m.markdown = r
			}
		}
		m.refresh()
	}

	var inputCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	cmds = append(cmds, inputCmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) apply(e feed.Event) {
	switch e.Kind {
	case feed.KindRooms:
		m.rooms = e.Rooms
	case feed.KindHeader:
		m.header = *e.Header
	case feed.KindReset:
		m.room = e.Room
		m.rows = nil
		m.refresh()
	case feed.KindMessages:
		if e.Room != m.room {
			m.room = e.Room
			m.rows = nil
		}
		m.rows = append(m.rows, e.Rows...)
		m.refresh()
	case feed.KindStatus:
		m.status = e.Status
	case feed.KindAlert:
		m.alert = e.Alert
	}
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.command(text)
	}

	content := m.input.Value()
	m.input.Reset()
	m.notice = ""
	backend, ctx := m.backend, m.ctx
	return m, func() tea.Msg {
		_, err := backend.Send(ctx, content)
		return sendResultMsg{content: content, err: err}
	}
}

func (m Model) command(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/q":
		return m, tea.Quit
	case "/rooms":
		return m, m.action(func(ctx context.Context) error { return m.backend.RefreshRooms(ctx) })
	case "/leave":
		return m, m.selectCmd(chat.NoRoom)
	case "/open":
		if len(fields) != 2 {
			m.alert = &view.Alert{Kind: view.AlertSession, Message: "usage: /open N"}
			return m, nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(m.rooms) {
			m.alert = &view.Alert{Kind: view.AlertSession, Message: fmt.Sprintf("no room %q in the list", fields[1])}
			return m, nil
		}
		return m, m.selectCmd(m.rooms[n-1].ID)
	default:
		m.alert = &view.Alert{Kind: view.AlertSession, Message: fmt.Sprintf("unknown command %s", fields[0])}
		return m, nil
	}
}

// cycle selects the room step positions away from the active one.
func (m Model) cycle(step int) tea.Cmd {
	if len(m.rooms) == 0 {
		return nil
	}
	idx := -1
	for i, r := range m.rooms {
		if r.Active {
			idx = i
			break
		}
	}
	next := (idx + step + len(m.rooms)) % len(m.rooms)
	if idx == -1 && step < 0 {
		next = len(m.rooms) - 1
	}
	return m.selectCmd(m.rooms[next].ID)
}

func (m Model) selectCmd(room chat.RoomID) tea.Cmd {
	backend := m.backend
	return m.action(func(ctx context.Context) error { return backend.SelectRoom(ctx, room) })
}

func (m Model) action(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return actionErrMsg{err: errors.Wrap(err, "session unavailable")}
		}
		return nil
	}
}

func (m *Model) copyLast() {
	if len(m.rows) == 0 {
		return
	}
	last := m.rows[len(m.rows)-1]
	if err := m.copy(last.Content); err != nil {
		log.Warn().Err(err).Str("component", "ui").Msg("copy to clipboard failed")
		m.alert = &view.Alert{Kind: view.AlertSession, Message: "copy failed: " + err.Error()}
		return
	}
	m.notice = "copied last message"
}

func (m Model) paneSize() (int, int) {
	w := m.width - roomsWidth - 4
	h := m.height - 6
	if w < 10 {
		w = 10
	}
	if h < 3 {
		h = 3
	}
	return w, h
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderRows())
	m.viewport.GotoBottom()
}

func (m Model) renderRows() string {
	if m.room == chat.NoRoom {
		return emptyStyle.Render("Select a room with /open N")
	}
	if len(m.rows) == 0 {
		return emptyStyle.Render(view.NoMessagesPreview)
	}
	var b strings.Builder
	for i, row := range m.rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderRow(row))
	}
	return b.String()
}

func (m Model) renderRow(row view.MessageRow) string {
	if row.Variant == view.VariantNotice {
		return noticeStyle.Render("· " + row.Content)
	}
	name := otherStyle.Render(row.SenderName)
	if row.Variant == view.VariantOwn {
		name = ownStyle.Render(row.SenderName + " (you)")
	}
	head := name
	if row.Time != "" {
		head = timeStyle.Render(row.Time) + " " + name
	}
	return head + "\n" + m.renderContent(row.Content)
}

func (m Model) renderContent(content string) string {
	if m.markdown == nil {
		return content
	}
	out, err := m.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	_, h := m.paneSize()

	rooms := roomsPane.Width(roomsWidth).Height(h + 2).Render(m.renderRooms())

	title := m.header.Name
	if title == "" {
		title = "No room selected"
	}
	header := headerStyle.Render(title)
	if m.header.Summary != "" {
		header += summaryStyle.Render(m.header.Summary)
	}
	right := lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, rooms, right),
		m.input.View(),
		m.statusLine(),
	)
}

func (m Model) renderRooms() string {
	if len(m.rooms) == 0 {
		return emptyStyle.Render("No rooms")
	}
	lines := make([]string, 0, len(m.rooms)*2)
	for i, r := range m.rooms {
		name := fmt.Sprintf("%d. %s", i+1, r.Name)
		if r.Active {
			name = activeRoomStyle.Render(name)
		}
		lines = append(lines, name, previewStyle.Render("   "+truncate(r.Preview, roomsWidth-5)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) statusLine() string {
	line := statusStyle.Render(fmt.Sprintf("● %s  ctrl+n/ctrl+p rooms  ctrl+y copy  ctrl+c quit", m.status))
	if m.alert != nil {
		line += "  " + alertStyle.Render(m.alert.Message)
	} else if m.notice != "" {
		line += "  " + statusStyle.Render(m.notice)
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
