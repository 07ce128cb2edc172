package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/classmesh/internal/mesh"
	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/signalclient"
)

const (
	maxChatLines  = 200
	shownChat     = 12
	shownWarnings = 3
)

// Actions are what the class view can ask the client to do.
type Actions interface {
	Chat(text string) error
	Mark(studentID string, isPresent bool) error
}

// EventMsg carries a gateway event into the view.
type EventMsg struct{ signalclient.Event }

// NoticeMsg carries an orchestrator notice into the view.
type NoticeMsg struct{ mesh.Notice }

type ClassState int

const (
	ClassJoining ClassState = iota
	ClassLive
	ClassEnded
)

type member struct {
	info      protocol.ParticipantInfo
	link      string
	transport string
	present   *bool
}

// ClassroomModel is the live class view: roster with link states, chat,
// and for teachers a roster cursor to mark attendance in batches.
type ClassroomModel struct {
	classID   string
	selfName  string
	isTeacher bool
	actions   Actions

	updates chan tea.Msg
	done    chan struct{}

	state    ClassState
	socketID string
	order    []string
	members  map[string]*member
	chat     []string
	warnings []string
	status   string

	input       textinput.Model
	spinner     spinner.Model
	focusRoster bool
	cursor      int
	selection   Selection
	width       int
}

func NewClassroomModel(classID, selfName, role string, actions Actions) *ClassroomModel {
	in := textinput.New()
	in.Placeholder = "Say something to the class"
	in.CharLimit = 4000
	in.Prompt = IconChat + " "
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &ClassroomModel{
		classID:   classID,
		selfName:  selfName,
		isTeacher: role == protocol.RoleTeacher,
		actions:   actions,
		updates:   make(chan tea.Msg, 256),
		done:      make(chan struct{}),
		members:   make(map[string]*member),
		input:     in,
		spinner:   s,
	}
}

// Push hands an update to the running view. It blocks while the view is
// busy and returns once Close was called.
func (m *ClassroomModel) Push(msg tea.Msg) {
	select {
	case m.updates <- msg:
	case <-m.done:
	}
}

func (m *ClassroomModel) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *ClassroomModel) State() ClassState { return m.state }

func (m *ClassroomModel) Selection() Selection { return m.selection }

func (m *ClassroomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdates(), textinput.Blink)
}

func (m *ClassroomModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.updates:
			return msg
		case <-m.done:
			return nil
		}
	}
}

func (m *ClassroomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, quit := m.handleKey(msg); quit {
			return m, tea.Quit
		} else if cmd != nil {
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-12)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case EventMsg:
		m.handleEvent(msg.Event)
		if m.state == ClassEnded {
			return m, tea.Quit
		}
		cmds = append(cmds, m.waitForUpdates())

	case NoticeMsg:
		m.handleNotice(msg.Notice)
		cmds = append(cmds, m.waitForUpdates())

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *ClassroomModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return nil, true
	case "tab":
		if m.isTeacher {
			m.focusRoster = !m.focusRoster
			if m.focusRoster {
				m.input.Blur()
			} else {
				return m.input.Focus(), false
			}
		}
		return nil, false
	}

	if m.focusRoster {
		m.handleRosterKey(msg.String())
		return nil, false
	}

	if msg.Type == tea.KeyEnter {
		m.sendChat()
		return nil, false
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd, false
}

func (m *ClassroomModel) handleRosterKey(key string) {
	students := m.students()
	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(students)-1 {
			m.cursor++
		}
	case " ", "space", "x":
		if m.cursor < len(students) {
			m.selection = m.selection.Toggle(students[m.cursor].info.UserID)
		}
	case "p":
		m.markSelection(true)
	case "a":
		m.markSelection(false)
	}
}

func (m *ClassroomModel) sendChat() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return
	}
	if err := m.actions.Chat(text); err != nil {
		m.warn(fmt.Sprintf("chat not sent: %v", err))
		return
	}
	m.appendChat(fmt.Sprintf("%s %s: %s",
		MutedStyle.Render(time.Now().Format("15:04")), BoldStyle.Render("you"), text))
	m.input.Reset()
}

func (m *ClassroomModel) markSelection(present bool) {
	if m.selection.Len() == 0 {
		m.status = "select students with space first"
		return
	}
	failed := 0
	for _, id := range m.selection.IDs() {
		if err := m.actions.Mark(id, present); err != nil {
			failed++
			m.warn(fmt.Sprintf("mark %s: %v", id, err))
		}
	}
	word := "absent"
	if present {
		word = "present"
	}
	m.status = fmt.Sprintf("marked %d %s", m.selection.Len()-failed, word)
	m.selection = NewSelection()
}

func (m *ClassroomModel) handleEvent(ev signalclient.Event) {
	switch ev.Type {
	case protocol.TypeJoined:
		m.state = ClassLive
		m.socketID = ev.Joined.SocketID
		for _, p := range ev.Joined.Participants {
			m.addMember(p)
		}
		m.status = fmt.Sprintf("joined %s", m.classID)

	case protocol.TypeParticipantJoined:
		m.addMember(*ev.Participant)
		m.system(fmt.Sprintf("%s joined", displayName(*ev.Participant)))

	case protocol.TypeParticipantLeft:
		if mem, ok := m.members[ev.Left.SocketID]; ok {
			m.system(fmt.Sprintf("%s left", displayName(mem.info)))
		}
		m.removeMember(ev.Left.SocketID)

	case protocol.TypeChat:
		c := ev.Chat
		name := c.UserName
		if name == "" {
			name = c.UserID
		}
		if c.Sender == protocol.RoleTeacher {
			name = TeacherStyle.Render(name)
		} else {
			name = BoldStyle.Render(name)
		}
		m.appendChat(fmt.Sprintf("%s %s: %s", MutedStyle.Render(c.Timestamp.Local().Format("15:04")), name, c.Message))

	case protocol.TypeAttendanceMarked:
		a := ev.Marked
		for _, mem := range m.members {
			if mem.info.UserID == a.StudentID {
				present := a.IsPresent
				mem.present = &present
			}
		}
		word := "absent"
		if a.IsPresent {
			word = "present"
		}
		m.system(fmt.Sprintf("%s marked %s", a.StudentID, word))

	case protocol.TypeClassEnded:
		m.state = ClassEnded
		m.system("the class has ended")

	case protocol.TypeError:
		m.warn(ev.Error.Error)
	}
}

func (m *ClassroomModel) handleNotice(n mesh.Notice) {
	mem := m.members[n.Peer.SocketID]
	switch n.Kind {
	case mesh.NoticeLinkState:
		if mem != nil {
			mem.link = n.State.String()
		}
	case mesh.NoticeTransport:
		if mem != nil {
			mem.transport = n.Transport.String()
		}
	case mesh.NoticeHello:
		if mem != nil && mem.info.UserName == "" && n.Hello != nil {
			mem.info.UserName = n.Hello.Name
		}
	case mesh.NoticeWarning:
		if n.Err != nil {
			m.warn(n.Err.Error())
		}
	}
}

func (m *ClassroomModel) addMember(p protocol.ParticipantInfo) {
	if p.SocketID == m.socketID {
		return
	}
	if _, ok := m.members[p.SocketID]; !ok {
		m.order = append(m.order, p.SocketID)
	}
	m.members[p.SocketID] = &member{info: p, link: mesh.StateIdle.String()}
}

func (m *ClassroomModel) removeMember(socketID string) {
	delete(m.members, socketID)
	for i, id := range m.order {
		if id == socketID {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	if n := len(m.students()); m.cursor >= n && n > 0 {
		m.cursor = n - 1
	}
}

// students lists student members in join order.
func (m *ClassroomModel) students() []*member {
	var out []*member
	for _, id := range m.order {
		if mem := m.members[id]; mem.info.UserType == protocol.RoleStudent {
			out = append(out, mem)
		}
	}
	return out
}

func (m *ClassroomModel) appendChat(line string) {
	m.chat = append(m.chat, line)
	if len(m.chat) > maxChatLines {
		m.chat = m.chat[len(m.chat)-maxChatLines:]
	}
}

func (m *ClassroomModel) system(line string) {
	m.appendChat(MutedStyle.Render("• " + line))
}

func (m *ClassroomModel) warn(line string) {
	m.warnings = append(m.warnings, line)
	if len(m.warnings) > shownWarnings {
		m.warnings = m.warnings[len(m.warnings)-shownWarnings:]
	}
}

func displayName(p protocol.ParticipantInfo) string {
	if p.UserName != "" {
		return p.UserName
	}
	return p.UserID
}

func (m *ClassroomModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s ClassMesh - %s", IconClass, m.classID)))
	b.WriteString("\n")

	if m.state == ClassJoining {
		b.WriteString(fmt.Sprintf("%s Joining class...\n", m.spinner.View()))
		return ContainerStyle.Render(b.String())
	}

	b.WriteString(m.viewRoster())
	b.WriteString("\n")
	b.WriteString(m.viewChat())
	b.WriteString("\n")

	for _, w := range m.warnings {
		b.WriteString(WarningStyle.Render(IconWarning+" "+w) + "\n")
	}
	if m.status != "" {
		b.WriteString(StatusStyle.Render(m.status) + "\n")
	}
	if m.state == ClassEnded {
		b.WriteString(SuccessStyle.Render("Class ended") + "\n")
		return ContainerStyle.Render(b.String())
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.viewFooter())
	return ContainerStyle.Render(b.String())
}

func (m *ClassroomModel) viewRoster() string {
	title := BoldStyle.Render(fmt.Sprintf("In class (%d)", len(m.order)+1))
	if len(m.order) == 0 {
		return m.panel(title + "\n" + MutedStyle.Render("Waiting for others to join..."))
	}

	cursorRow := -1
	var rows [][]string
	studentIdx := 0
	for _, id := range m.order {
		mem := m.members[id]
		pick := ""
		if m.isTeacher && mem.info.UserType == protocol.RoleStudent {
			pick = IconEmpty
			if m.selection.Has(mem.info.UserID) {
				pick = IconSelected
			}
			if m.focusRoster && studentIdx == m.cursor {
				cursorRow = len(rows)
			}
			studentIdx++
		}
		attendance := ""
		if mem.present != nil {
			attendance = IconAbsent
			if *mem.present {
				attendance = IconPresent
			}
		}
		link := mem.link
		if mem.transport != "" && mem.link == mesh.StateConnected.String() {
			link = mem.transport
		}
		rows = append(rows, []string{pick, RoleIcon(mem.info.UserType), displayName(mem.info), link, attendance})
	}

	tbl := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("", "", "Name", "Link", "Att.").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row == cursorRow:
				return TableCursorStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
	return m.panel(title + "\n" + tbl.Render())
}

func (m *ClassroomModel) panel(content string) string {
	if m.focusRoster {
		return FocusedPanelStyle.Render(content)
	}
	return PanelStyle.Render(content)
}

func (m *ClassroomModel) viewChat() string {
	lines := m.chat
	if len(lines) > shownChat {
		lines = lines[len(lines)-shownChat:]
	}
	if len(lines) == 0 {
		return MutedStyle.Render("No messages yet")
	}
	return strings.Join(lines, "\n")
}

func (m *ClassroomModel) viewFooter() string {
	if m.isTeacher {
		return FooterStyle.Render("enter send · tab roster · space select · p present · a absent · esc leave")
	}
	return FooterStyle.Render("enter send · esc leave")
}
