package tui

import (
	"context"
	"fmt"
	"strings"

	"bqops/internal/bigquery"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type KeyMap struct {
	Copy    key.Binding
	CopyAlt key.Binding
	Quit    key.Binding
	Help    key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Copy: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "copy job id"),
		),
		CopyAlt: key.NewBinding(
			key.WithKeys("ctrl+y"),
			key.WithHelp("ctrl+y", "copy table name"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q/ctrl+c", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
	}
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Copy, k.Quit, k.Help}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Copy, k.CopyAlt},
		{k.Quit, k.Help},
	}
}

type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepDone
	StepFailed
)

type step struct {
	name   string
	status StepStatus
	detail string
}

// RunFunc executes the pipeline, reporting step transitions and load progress.
type RunFunc func(ctx context.Context, r *Reporter) error

// Model shows a fixed sequence of steps as a pipeline runs in the background.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan tea.Msg
	run    RunFunc

	title    string
	table    string
	steps    []step
	spinner  spinner.Model
	progress progress.Model
	keyMap   KeyMap
	help     help.Model

	jobID      bigquery.JobID
	phase      bigquery.LoadPhase
	bytesSent  int64
	bytesTotal int64

	showHelp      bool
	width         int
	done          bool
	err           error
	statusMessage string
}

// NewModel builds a model for a pipeline named title with the given steps.
// table is what ctrl+y copies.
func NewModel(ctx context.Context, title, table string, steps []string, run RunFunc) Model {
	ctx, cancel := context.WithCancel(ctx)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accentColor)

	m := Model{
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan tea.Msg, 16),
		run:      run,
		title:    title,
		table:    table,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		keyMap:   DefaultKeyMap(),
		help:     help.New(),
	}
	for _, name := range steps {
		m.steps = append(m.steps, step{name: name})
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.runPipeline(),
		waitForEvent(m.events),
	)
}

// Err returns the pipeline's result once it has finished.
func (m Model) Err() error {
	return m.err
}

func (m Model) Done() bool {
	return m.done
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-12, 10), 60)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			m.cancel()
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.Help):
			m.showHelp = !m.showHelp
			return m, nil

		case key.Matches(msg, m.keyMap.Copy):
			if m.jobID.Name == "" {
				return m, nil
			}
			return m, copyText(m.jobID.String())

		case key.Matches(msg, m.keyMap.CopyAlt):
			if m.table == "" {
				return m, nil
			}
			return m, copyText(m.table)
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case StepStartedMsg:
		if m.validStep(msg.Index) {
			m.steps[msg.Index].status = StepRunning
			m.statusMessage = m.steps[msg.Index].name
		}
		return m, waitForEvent(m.events)

	case StepFinishedMsg:
		if m.validStep(msg.Index) {
			st := &m.steps[msg.Index]
			st.detail = msg.Detail
			st.status = StepDone
			if msg.Err != nil {
				st.status = StepFailed
				st.detail = bigquery.Reason(msg.Err)
			}
		}
		return m, waitForEvent(m.events)

	case ProgressMsg:
		p := msg.Progress
		m.jobID = p.JobID
		m.phase = p.Phase
		if p.Phase == bigquery.PhaseUploading {
			m.bytesSent = p.BytesSent
			m.bytesTotal = p.BytesTotal
		}
		return m, waitForEvent(m.events)

	case PipelineDoneMsg:
		m.done = true
		m.err = msg.Err
		if msg.Err != nil {
			m.statusMessage = "Failed"
		} else {
			m.statusMessage = "Finished"
		}
		return m, nil

	case ErrorMsg:
		m.statusMessage = fmt.Sprintf("Error: %s", msg.Error.Error())
		return m, nil

	case CopySuccessMsg:
		m.statusMessage = fmt.Sprintf("Copied: %s", msg.Text)
		return m, nil
	}

	return m, nil
}

func (m Model) validStep(i int) bool {
	return i >= 0 && i < len(m.steps)
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title) + " " + targetStyle.Render(m.table) + "\n\n")

	for _, st := range m.steps {
		b.WriteString(m.renderStep(st) + "\n")
	}

	if m.bytesTotal > 0 {
		ratio := float64(m.bytesSent) / float64(m.bytesTotal)
		b.WriteString("\n" + m.progress.ViewAs(ratio) + " " +
			detailStyle.Render(fmt.Sprintf("%s / %s", humanBytes(m.bytesSent), humanBytes(m.bytesTotal))) + "\n")
	}
	if m.jobID.Name != "" {
		b.WriteString(detailStyle.Render(fmt.Sprintf("job %s (%s)", m.jobID, m.phase)) + "\n")
	}

	b.WriteString("\n" + m.renderStatusBar())
	if m.showHelp {
		b.WriteString("\n" + m.help.FullHelpView(m.keyMap.FullHelp()))
	}

	return frameStyle.Render(b.String())
}

func (m Model) renderStep(st step) string {
	marker := stepMarkers[st.status]
	if st.status == StepRunning {
		marker = m.spinner.View()
	}

	line := marker + " " + stepStyle.Render(st.name)
	switch {
	case st.detail == "":
	case st.status == StepFailed:
		line += " " + failStyle.Render(st.detail)
	default:
		line += " " + detailStyle.Render(st.detail)
	}
	return line
}

func (m Model) renderStatusBar() string {
	left := m.statusMessage
	if m.done && m.err != nil {
		left = failStyle.Render(fmt.Sprintf("Error: %s", bigquery.Reason(m.err)))
	}
	return left + "  " + helpStyle.Render(m.help.ShortHelpView(m.keyMap.ShortHelp()))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
