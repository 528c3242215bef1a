package tui

import (
	"context"
	"errors"
	"testing"

	"bqops/internal/bigquery"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(run RunFunc) Model {
	return NewModel(context.Background(), "demo", "temporary_dataset.temporary_table",
		[]string{"create dataset", "load file"}, run)
}

func apply(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model
}

func TestModelTracksSteps(t *testing.T) {
	m := newTestModel(nil)
	m = apply(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m = apply(t, m, StepStartedMsg{Index: 0})
	assert.Equal(t, StepRunning, m.steps[0].status)

	m = apply(t, m, StepFinishedMsg{Index: 0, Detail: "temporary_dataset"})
	assert.Equal(t, StepDone, m.steps[0].status)

	id := bigquery.JobID{Name: "bqops_load_1", Location: "US"}
	m = apply(t, m, StepStartedMsg{Index: 1})
	m = apply(t, m, ProgressMsg{Progress: bigquery.LoadProgress{JobID: id, Phase: bigquery.PhaseUploading, BytesSent: 512, BytesTotal: 1024}})
	assert.Equal(t, int64(512), m.bytesSent)
	assert.Equal(t, id, m.jobID)

	// Later phases keep the byte counters.
	m = apply(t, m, ProgressMsg{Progress: bigquery.LoadProgress{JobID: id, Phase: bigquery.PhaseWaiting}})
	assert.Equal(t, int64(1024), m.bytesTotal)
	assert.Equal(t, bigquery.PhaseWaiting, m.phase)

	failure := bigquery.LoadFailed.Wrap(&bigquery.JobError{Reason: "invalid", Message: "Too many values in row"})
	m = apply(t, m, StepFinishedMsg{Index: 1, Err: failure})
	assert.Equal(t, StepFailed, m.steps[1].status)
	assert.Equal(t, "Too many values in row", m.steps[1].detail)

	m = apply(t, m, PipelineDoneMsg{Err: failure})
	assert.True(t, m.Done())
	assert.ErrorIs(t, m.Err(), failure)

	view := m.View()
	assert.Contains(t, view, "create dataset")
	assert.Contains(t, view, "Too many values in row")
	assert.Contains(t, view, "bqops_load_1")
}

func TestModelIgnoresUnknownSteps(t *testing.T) {
	m := newTestModel(nil)
	m = apply(t, m, StepStartedMsg{Index: 7})
	m = apply(t, m, StepFinishedMsg{Index: -1})
	for _, st := range m.steps {
		assert.Equal(t, StepPending, st.status)
	}
}

func TestModelQuitCancelsPipeline(t *testing.T) {
	m := newTestModel(nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.ErrorIs(t, m.ctx.Err(), context.Canceled)
}

func TestPipelineEventsArriveInOrder(t *testing.T) {
	boom := errors.New("boom")
	m := newTestModel(func(ctx context.Context, r *Reporter) error {
		r.Start(0)
		r.Finish(0, "ok", nil)
		r.Progress(bigquery.LoadProgress{Phase: bigquery.PhaseSubmitted})
		return boom
	})

	go m.runPipeline()()

	var got []tea.Msg
	for {
		msg := waitForEvent(m.events)()
		if msg == nil {
			break
		}
		got = append(got, msg)
	}

	require.Len(t, got, 4)
	assert.Equal(t, StepStartedMsg{Index: 0}, got[0])
	assert.Equal(t, StepFinishedMsg{Index: 0, Detail: "ok"}, got[1])
	assert.IsType(t, ProgressMsg{}, got[2])
	assert.Equal(t, PipelineDoneMsg{Err: boom}, got[3])
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 MiB", humanBytes(2<<20))
}
