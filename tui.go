package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"earshot/clipboard"
	"earshot/comments"
	"earshot/controller"
	"earshot/log"
)

// TUI message types
type ViewMsg struct{ View controller.View }
type StatusMsg struct{ Text string }
type commentsMsg struct {
	list   []comments.Comment
	posted bool
}
type opDoneMsg struct {
	op  string
	err error
}
type tickMsg time.Time

type promptKind int

const (
	promptNone promptKind = iota
	promptOpen
	promptEdit
)

type tuiModel struct {
	app        *app
	maxBytes   int64
	view       controller.View
	frame      int
	width      int
	height     int
	deviceLine string
	status     string
	copied     bool
	comments   []comments.Comment
	prompt     promptKind
	input      string
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

// Pre-computed styles to avoid allocations in the render loop
var (
	recStyle         lipgloss.Style
	idleStyle        lipgloss.Style
	loadingStyle     lipgloss.Style
	dimStyle         lipgloss.Style
	helpStyle        lipgloss.Style
	helpKeyStyle     lipgloss.Style
	transcriptStyle  lipgloss.Style
	placeholderStyle lipgloss.Style
	errorStyle       lipgloss.Style
	copiedStyle      lipgloss.Style
	promptStyle      lipgloss.Style
	commentStyle     lipgloss.Style
)

func init() {
	recStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	loadingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	transcriptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("153"))
	placeholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	copiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	commentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
}

func NewTUIProgram(a *app, deviceLine string, maxBytes int64) *tea.Program {
	m := tuiModel{
		app:        a,
		maxBytes:   maxBytes,
		view:       a.ctrl.View(),
		deviceLine: deviceLine,
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runOp calls into the controller off the Update goroutine; the controller
// publishes views through tuiSend, which would block inside Update.
func runOp(op string, fn func() error) tea.Cmd {
	return func() tea.Msg { return opDoneMsg{op: op, err: fn()} }
}

func (m tuiModel) loadComments(posted bool) tea.Cmd {
	a := m.app
	return func() tea.Msg {
		list, err := a.comments.List(context.Background(), a.postID)
		if err != nil {
			log.Warnf("listing comments: %v", err)
		}
		return commentsMsg{list: list, posted: posted}
	}
}

func (m tuiModel) Init() tea.Cmd {
	if m.view.Mode == controller.ModeComment {
		return tea.Batch(tuiTick(), m.loadComments(false))
	}
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.prompt != promptNone {
			return m.updatePrompt(msg)
		}
		return m.updateKey(msg)

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case ViewMsg:
		m.view = msg.View
		if msg.View.Transcript == "" {
			m.copied = false
		}

	case StatusMsg:
		m.status = msg.Text

	case opDoneMsg:
		m.status = opStatus(msg)
		if msg.err == nil && msg.op == "comment" {
			return m, m.loadComments(true)
		}

	case commentsMsg:
		m.comments = msg.list
		if msg.posted {
			m.status = "comment posted"
		}
	}
	return m, nil
}

// opStatus reports failures the view does not already show.
func opStatus(msg opDoneMsg) string {
	switch {
	case msg.err == nil:
		return ""
	case errors.Is(msg.err, controller.ErrBusy):
		return "wait for the current transcription to finish"
	case errors.Is(msg.err, controller.ErrEmptyComment):
		return "nothing to post"
	case errors.Is(msg.err, controller.ErrNoFile):
		return "no file loaded"
	}
	if msg.op == "open" || msg.op == "play" {
		return msg.err.Error()
	}
	return ""
}

func (m tuiModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctrl := m.app.ctrl
	m.status = ""
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		if m.view.IsRecording {
			return m, runOp("stop", func() error { ctrl.StopRecording(); return nil })
		}
		return m, runOp("record", func() error { return ctrl.StartRecording(context.Background()) })
	case "o":
		m.prompt = promptOpen
		m.input = ""
	case "e":
		m.prompt = promptEdit
		m.input = m.view.Transcript
	case "p", " ":
		return m, runOp("play", ctrl.TogglePlayback)
	case "enter":
		if m.view.Mode == controller.ModeComment {
			return m, runOp("comment", func() error {
				_, err := ctrl.SubmitComment(context.Background())
				return err
			})
		}
		return m, runOp("transcribe", func() error { return ctrl.SubmitTranscription(context.Background()) })
	case "y":
		if m.view.Transcript == "" {
			return m, nil
		}
		if err := clipboard.Copy(m.view.Transcript); err != nil {
			log.Warnf("clipboard: %v", err)
			m.status = "clipboard unavailable"
			return m, nil
		}
		m.copied = true
	}
	return m, nil
}

func (m tuiModel) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.prompt = promptNone
		return m, nil
	case tea.KeyEnter:
		kind, input := m.prompt, m.input
		m.prompt = promptNone
		m.input = ""
		a, limit := m.app, m.maxBytes
		if kind == promptOpen {
			path := strings.TrimSpace(input)
			if path == "" {
				return m, nil
			}
			return m, runOp("open", func() error { return a.loadFile(context.Background(), path, limit) })
		}
		return m, runOp("edit", func() error { a.ctrl.EditTranscript(input); return nil })
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	v := m.view
	var left []string

	left = append(left, strings.Split(m.app.canvas.Render(), "\n")...)
	left = append(left, "")

	switch {
	case v.IsRecording:
		left = append(left, recStyle.Render("● REC"))
	case v.IsLoading:
		spin := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		left = append(left, loadingStyle.Render(spin[m.frame%len(spin)]+" transcribing"))
	case v.Playing:
		left = append(left, dimStyle.Render("▶ "+v.FileName))
	case v.FileName != "":
		left = append(left, dimStyle.Render("■ "+v.FileName))
	default:
		left = append(left, idleStyle.Render("○ STANDBY"))
	}

	mode := fmt.Sprintf("[%s | %s]", v.Mode, recognizerLabel(m.app.recName, v.SpeechSupported))
	if v.Mode == controller.ModeComment {
		mode += fmt.Sprintf(" post #%d", m.app.postID)
	}
	left = append(left, dimStyle.Render(mode))
	if m.deviceLine != "" {
		left = append(left, idleStyle.Render(m.deviceLine))
	}
	left = append(left, "")
	left = append(left, m.helpLines(v)...)
	left = append(left, helpStyle.Render("earshot "+version))

	canvasWidth := lipgloss.Width(left[0]) + 2
	rightWidth := max(20, m.width-canvasWidth-1)
	wrapWidth := max(10, rightWidth-2)

	var right strings.Builder
	if v.Error != "" {
		for _, line := range wrapText(v.Error, wrapWidth) {
			right.WriteString(errorStyle.Render(line) + "\n")
		}
		right.WriteString("\n")
	}

	switch {
	case m.prompt == promptOpen:
		right.WriteString(promptStyle.Render("open file: ") + m.input + "█\n")
	case m.prompt == promptEdit:
		right.WriteString(promptStyle.Render("edit: ") + m.input + "█\n")
	case v.Transcript != "":
		lines := wrapText(v.Transcript, wrapWidth)
		for i, line := range lines {
			right.WriteString(transcriptStyle.Render(line))
			if i == len(lines)-1 && m.copied {
				right.WriteString(" " + copiedStyle.Render("[✓ copied]"))
			}
			right.WriteString("\n")
		}
	default:
		right.WriteString(placeholderStyle.Render(placeholder(v)) + "\n")
	}

	if m.status != "" {
		right.WriteString("\n" + dimStyle.Render(m.status) + "\n")
	}

	if v.Mode == controller.ModeComment {
		right.WriteString("\n" + dimStyle.Render(fmt.Sprintf("Comments (%d)", len(m.comments))) + "\n")
		for i := len(m.comments) - 1; i >= 0; i-- {
			c := m.comments[i]
			stamp := idleStyle.Render(c.CreatedAt.Local().Format("15:04:05") + " ")
			for j, line := range wrapText(c.Text, wrapWidth-9) {
				if j > 0 {
					stamp = strings.Repeat(" ", 9)
				}
				right.WriteString(stamp + commentStyle.Render(line) + "\n")
			}
		}
	}

	leftPanel := lipgloss.NewStyle().
		Width(canvasWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(strings.Join(left, "\n"))
	rightPanel := lipgloss.NewStyle().
		Width(rightWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(right.String())

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel)
}

func (m tuiModel) helpLines(v controller.View) []string {
	key := func(k, what string) string { return helpKeyStyle.Render(k) + helpStyle.Render(" "+what) }
	var lines []string
	if v.SpeechSupported {
		if v.IsRecording {
			lines = append(lines, key("r", "stop recording"))
		} else {
			lines = append(lines, key("r", "record"))
		}
	}
	lines = append(lines, key("o", "open file"))
	if v.FileName != "" {
		lines = append(lines, key("space", "play/pause"))
	}
	if v.Mode == controller.ModeComment {
		lines = append(lines, key("enter", "post comment"), key("e", "edit text"))
	} else if v.FileName != "" {
		lines = append(lines, key("enter", "transcribe"))
	}
	lines = append(lines, key("y", "copy"), key("q", "quit"))
	return lines
}

func recognizerLabel(name string, supported bool) string {
	if !supported {
		return "no live recognition"
	}
	return name
}

func placeholder(v controller.View) string {
	switch {
	case v.IsRecording:
		return "Listening..."
	case v.Mode == controller.ModeComment && v.SpeechSupported:
		return "Record or upload audio, or press e to type your comment"
	case v.Mode == controller.ModeComment:
		return "Speech recognition not supported. Press e to type your comment"
	case v.FileName != "":
		return "Press enter to transcribe " + v.FileName
	}
	return "No transcription yet"
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
