package tui

import (
	"context"

	"bqops/internal/bigquery"
	"bqops/pkg/clipboard"

	tea "github.com/charmbracelet/bubbletea"
)

type StepStartedMsg struct {
	Index int
}

type StepFinishedMsg struct {
	Index  int
	Detail string
	Err    error
}

type ProgressMsg struct {
	Progress bigquery.LoadProgress
}

// PipelineDoneMsg is the last message of a pipeline run.
type PipelineDoneMsg struct {
	Err error
}

type ErrorMsg struct {
	Error error
}

type CopySuccessMsg struct {
	Text string
}

// Reporter is handed to a pipeline so it can tell the UI what it is doing.
// Sends block until the UI has taken the event or ctx is done.
type Reporter struct {
	ctx    context.Context
	events chan<- tea.Msg
}

func (r *Reporter) send(msg tea.Msg) {
	select {
	case r.events <- msg:
	case <-r.ctx.Done():
	}
}

func (r *Reporter) Start(index int) {
	r.send(StepStartedMsg{Index: index})
}

func (r *Reporter) Finish(index int, detail string, err error) {
	r.send(StepFinishedMsg{Index: index, Detail: detail, Err: err})
}

// Progress matches the signature of bigquery.LoadOptions.Progress.
func (r *Reporter) Progress(p bigquery.LoadProgress) {
	r.send(ProgressMsg{Progress: p})
}

func (m Model) runPipeline() tea.Cmd {
	ctx, events, run := m.ctx, m.events, m.run
	return func() tea.Msg {
		err := run(ctx, &Reporter{ctx: ctx, events: events})
		select {
		case events <- PipelineDoneMsg{Err: err}:
		case <-ctx.Done():
		}
		close(events)
		return nil
	}
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

func copyText(text string) tea.Cmd {
	return func() tea.Msg {
		if err := clipboard.Copy(text); err != nil {
			return ErrorMsg{Error: err}
		}
		return CopySuccessMsg{Text: text}
	}
}
