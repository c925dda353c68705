package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatrelay/pkg/channel"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	roleUser  = "user"
	roleRelay = "relay"
	roleError = "error"
)

// SendFunc runs one chat turn.
type SendFunc func(ctx context.Context, text string) (channel.Reply, error)

// Info is shown in the chat header.
type Info struct {
	AgentName  string
	IntakeMode string
	RemoteURL  string
	Remote     string
}

type entry struct {
	role       string
	content    string
	endSession bool
}

type replyMsg struct {
	reply channel.Reply
	err   error
}

type bootTickMsg struct{}

type model struct {
	ctx    context.Context
	sendFn SendFunc
	info   Info

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
	sessionOn bool
}

func newModel(ctx context.Context, sendFn SendFunc, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Text to relay..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		sendFn:    sendFn,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		booting:   true,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(m.bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			return m.submit()
		}
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case replyMsg:
		m.isLoading = false
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.sessionOn = false
			m.entries = append(m.entries, entry{role: roleError, content: typed.err.Error()})
		} else {
			m.lastErr = ""
			m.sessionOn = !typed.reply.EndSession
			m.entries = append(m.entries, entry{role: roleRelay, content: typed.reply.Text, endSession: typed.reply.EndSession})
		}
		m.refreshViewport(false)
		return m, nil
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) submit() (tea.Model, tea.Cmd) {
	if m.isLoading {
		return m, nil
	}

	text := strings.TrimSpace(m.input.Value())
	if isExitCommand(text) {
		return m, tea.Quit
	}

	m.lastErr = ""
	m.entries = append(m.entries, entry{role: roleUser, content: text})
	m.input.SetValue("")
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)
	return m, tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.sendFn, text))
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("chatrelay")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"agent:%s · intake:%s · remote:%s (%s) · turns:%d",
		displayOrNA(m.info.AgentName),
		displayOrNA(m.info.IntakeMode),
		displayOrNA(m.info.RemoteURL),
		displayOrNA(m.info.Remote),
		conversationTurns(m.entries),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	status := m.theme.status.Render("Enter send · PgUp/PgDn scroll · End jump latest · Ctrl+C/Esc quit")
	if m.sessionOn {
		status = m.theme.status.Render("Session open: the relay is waiting for more text")
	}
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s waiting for the relay...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last request failed, try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	m.viewport.Width = max(50, m.width-6)
	m.viewport.Height = max(8, m.height-10)
	m.input.Width = m.viewport.Width - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		switch item.role {
		case roleUser:
			body := strings.TrimSpace(item.content)
			if body == "" {
				body = m.theme.hint.Render("(empty message)")
			}
			sections = append(sections, m.renderCard(
				m.theme.userTitle.Render("you"),
				m.theme.userBox.Width(m.viewport.Width).Render(body),
			))
		case roleRelay:
			body := strings.TrimSpace(item.content)
			if item.endSession {
				body = strings.TrimSpace(body + "\n\n" + m.theme.closed.Render("session closed"))
			}
			sections = append(sections, m.renderCard(
				m.theme.relayTitle.Render("relay"),
				m.theme.relayBox.Width(m.viewport.Width).Render(body),
			))
		case roleError:
			sections = append(sections, m.renderCard(
				m.theme.errorTitle.Render("error"),
				m.theme.errorBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("chatrelay")
	meta := m.theme.headerMeta.Render("starting")
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	script := m.bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := range count {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("relay online"))
	}

	body := m.theme.viewport.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func (m *model) bootScriptLines() []string {
	return []string{
		"agent " + displayOrNA(m.info.AgentName) + " registered",
		"intake mode " + displayOrNA(m.info.IntakeMode),
		"remote " + displayOrNA(m.info.RemoteURL) + " is " + displayOrNA(m.info.Remote),
	}
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func sendCmd(ctx context.Context, sendFn SendFunc, text string) tea.Cmd {
	return func() tea.Msg {
		reply, err := sendFn(ctx, text)
		return replyMsg{reply: reply, err: err}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(entries []entry) int {
	count := 0
	for _, item := range entries {
		if item.role == roleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
