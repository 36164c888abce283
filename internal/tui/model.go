package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/answer/extractive"
	"docqa/internal/service"
)

// Asker is the TUI-facing subset of the RAG service.
type Asker interface {
	Ask(ctx context.Context, owner, query string) (service.AskResult, error)
}

// answerMsg carries the result of an Ask started from Update.
type answerMsg struct {
	query  string
	result service.AskResult
	err    error
}

// Model is the Bubble Tea model for the terminal chat.
type Model struct {
	service   Asker
	owner     string
	timeout   time.Duration
	sentences *extractive.Synthesizer
	input     textinput.Model
	viewport  viewport.Model
	answer    string
	sources   []sourceView
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

type sourceView struct {
	documentID string
	chunkIndex int
	score      float32
	sentences  []string
	best       int
}

// New creates a chat model asking questions as owner.
func New(svc Asker, owner string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return Model{
		service:   svc,
		owner:     owner,
		timeout:   timeout,
		sentences: extractive.NewSynthesizer(1),
		input:     ti,
		viewport:  viewport.New(0, 0),
		status:    "Ready. Ask about your documents.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		res, err := m.service.Ask(ctx, m.owner, q)
		return answerMsg{query: q, result: res, err: err}
	}
}

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2 // header + owner
		totalFooterLines := 1 // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = ""
			m.sources = nil
		} else {
			m.status = fmt.Sprintf("Answer for %q (%d sources)", msg.query, len(msg.result.Sources))
			m.answer = msg.result.Answer
			m.sources = m.buildSources(msg.query, msg.result)
			m.lastQuery = msg.query
		}
		m.cursor = 0
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Thinking..."
				m.input.SetValue("")
				return m, m.ask(q)
			}
		case "down":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.sources)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		case "up":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.sources)) % len(m.sources)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) buildSources(query string, res service.AskResult) []sourceView {
	out := make([]sourceView, 0, len(res.Sources))
	for _, r := range res.Sources {
		sents := m.sentences.Sentences(r.Text)
		out = append(out, sourceView{
			documentID: r.DocumentID,
			chunkIndex: r.ChunkIndex,
			score:      r.Score,
			sentences:  sents,
			best:       m.sentences.BestSentence(query, sents),
		})
	}
	return out
}

// View renders the layout: answer and current source above the input box.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docqa")
	owner := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("owner: " + m.owner)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + owner + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrent() string {
	if m.answer == "" && len(m.sources) == 0 {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(answerStyle.Render(m.answer))
	if len(m.sources) == 0 {
		return b.String()
	}
	s := m.sources[m.cursor]
	fmt.Fprintf(&b, "\n\nSource %d/%d  doc=%s  chunk=%d  score=%.3f\n\n",
		m.cursor+1, len(m.sources), s.documentID, s.chunkIndex, s.score)
	b.WriteString(highlight(s.sentences, s.best))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	answerStyle    = lipgloss.NewStyle().Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

func highlight(sentences []string, best int) string {
	out := make([]string, len(sentences))
	for i, s := range sentences {
		if i == best {
			out[i] = highlightStyle.Render(s)
		} else {
			out[i] = s
		}
	}
	return strings.Join(out, " ")
}
