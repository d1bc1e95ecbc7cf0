// Package tui provides the interactive terminal front end for the chat service.
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kart-io/company-chat/internal/chat/biz"
	"github.com/kart-io/company-chat/internal/model"
	"github.com/kart-io/company-chat/pkg/ocr"
)

// ChatPort is the TUI-facing subset of the orchestrator.
type ChatPort interface {
	StartSession(ctx context.Context) (*model.Session, string, error)
	HandleTurn(ctx context.Context, sessionID string, req biz.TurnRequest) (*biz.TurnResponse, error)
}

// ReadFileFunc loads an attachment from disk.
type ReadFileFunc func(path string) ([]byte, error)

type line struct {
	role model.Role
	text string
	meta string
}

type sessionMsg struct {
	id      string
	welcome string
	err     error
}

type turnMsg struct {
	resp *biz.TurnResponse
	err  error
}

// Model is the Bubble Tea model for the chat TUI.
type Model struct {
	chat     ChatPort
	readFile ReadFileFunc

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	sessionID string
	lines     []line
	status    string
	waiting   bool
	ready     bool
	quitting  bool
}

// New creates a new TUI model instance.
func New(chat ChatPort) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about a company, or /file <path> [question]"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	return Model{
		chat:     chat,
		readFile: os.ReadFile,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		status:   "Starting session...",
	}
}

// WithReadFile overrides how /file attachments are read.
func (m Model) WithReadFile(fn ReadFileFunc) Model {
	m.readFile = fn
	return m
}

// Init starts the session and the cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.startSession())
}

func (m Model) startSession() tea.Cmd {
	return func() tea.Msg {
		sess, welcome, err := m.chat.StartSession(context.Background())
		if err != nil {
			return sessionMsg{err: err}
		}
		return sessionMsg{id: sess.ID, welcome: welcome}
	}
}

func (m Model) sendTurn(req biz.TurnRequest) tea.Cmd {
	id := m.sessionID
	return func() tea.Msg {
		resp, err := m.chat.HandleTurn(context.Background(), id, req)
		return turnMsg{resp: resp, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := boxStyle.GetFrameSize()
		fw, _ := boxStyle.GetFrameSize()
		// header + input box + status
		reserved := 1 + (1 + fh) + 1
		m.viewport.Width = max(20, msg.Width-fw)
		m.viewport.Height = max(3, msg.Height-reserved-fh)
		m.input.Width = max(10, msg.Width-fw-3)
		m.refresh()
		return m, nil

	case sessionMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.sessionID = msg.id
		m.lines = append(m.lines, line{role: model.RoleAssistant, text: msg.welcome})
		m.status = "Ready."
		m.refresh()
		return m, nil

	case turnMsg:
		m.waiting = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.refresh()
			return m, nil
		}
		m.lines = append(m.lines, line{role: model.RoleAssistant, text: msg.resp.Answer, meta: describe(msg.resp)})
		m.status = statusFor(msg.resp)
		m.refresh()
		if msg.resp.SessionEnded {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit 发送输入框中的内容。等待回答时忽略回车。
func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.waiting || m.sessionID == "" {
		return m, nil
	}
	raw := strings.TrimSpace(m.input.Value())
	req, display, err := m.buildRequest(raw)
	if err != nil {
		m.status = "Error: " + err.Error()
		return m, nil
	}

	m.input.Reset()
	m.lines = append(m.lines, line{role: model.RoleUser, text: display})
	m.waiting = true
	m.status = "Thinking..."
	m.refresh()
	return m, tea.Batch(m.sendTurn(req), m.spinner.Tick)
}

// buildRequest 解析 /file <path> [question]。
func (m Model) buildRequest(raw string) (biz.TurnRequest, string, error) {
	if !strings.HasPrefix(raw, "/file") {
		return biz.TurnRequest{Text: raw}, raw, nil
	}

	fields := strings.Fields(strings.TrimPrefix(raw, "/file"))
	if len(fields) == 0 {
		return biz.TurnRequest{}, "", fmt.Errorf("usage: /file <path> [question]")
	}
	path := fields[0]
	question := strings.Join(fields[1:], " ")

	data, err := m.readFile(path)
	if err != nil {
		return biz.TurnRequest{}, "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	name := filepath.Base(path)
	req := biz.TurnRequest{
		Text: question,
		File: &biz.Attachment{
			Filename: name,
			MIMEType: ocr.DetectMIME(data, "", name),
			Data:     data,
		},
	}
	display := "[" + name + "]"
	if question != "" {
		display += " " + question
	}
	return req, display, nil
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.render())
	m.viewport.GotoBottom()
}

func (m Model) render() string {
	if len(m.lines) == 0 {
		return ""
	}
	width := max(20, m.viewport.Width-2)
	var sb strings.Builder
	for i, l := range m.lines {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		switch l.role {
		case model.RoleUser:
			sb.WriteString(userStyle.Render("You: "))
		default:
			sb.WriteString(botStyle.Render("Assistant: "))
		}
		sb.WriteString(lipgloss.NewStyle().Width(width).Render(l.text))
		if l.meta != "" {
			sb.WriteString("\n")
			sb.WriteString(metaStyle.Render(l.meta))
		}
	}
	return sb.String()
}

// View renders the TUI layout.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Company Information Assistant")
	status := statusStyle.Render(m.status)
	if m.waiting {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + boxStyle.Render(m.viewport.View()) + "\n" + boxStyle.Render(m.input.View()) + "\n" + status
}

// describe 回答下方的来源和状态摘要。
func describe(r *biz.TurnResponse) string {
	var parts []string
	if r.SearchQuery != "" {
		parts = append(parts, "search: "+r.SearchQuery)
	}
	for _, s := range r.Sources {
		if s.URL != "" {
			parts = append(parts, fmt.Sprintf("[%d] %s", s.Rank, s.URL))
		}
	}
	if r.Document != "" {
		parts = append(parts, "document: "+r.Document)
	}
	return strings.Join(parts, "\n")
}

func statusFor(r *biz.TurnResponse) string {
	switch {
	case r.RateLimited:
		return fmt.Sprintf("Rate limited, retry in %s.", r.RetryAfter.Round(time.Second))
	case r.State == biz.StateFailed:
		return fmt.Sprintf("Failed during %s (%s).", r.Stage, r.ErrorReason)
	case r.SessionEnded:
		return "Goodbye."
	default:
		return fmt.Sprintf("%s, %s.", r.Category, r.State)
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// Run starts the full-screen program and blocks until the user quits.
func Run(chat ChatPort) error {
	_, err := tea.NewProgram(New(chat), tea.WithAltScreen()).Run()
	return err
}
