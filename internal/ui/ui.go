package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/tasks"
)

// recentLimit is the number of record outcomes kept on screen.
const recentLimit = 5

// RunFunc performs a provisioning run, emitting updates on progress until it returns.
type RunFunc func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*models.ProcessingResult, error)

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	cancel       context.CancelFunc
	run          RunFunc
	progressChan chan tasks.ProgressUpdate
	done         chan runDone
	update       tasks.ProgressUpdate
	recent       []tasks.ProgressUpdate
	bar          progress.Model
	spinner      spinner.Model
	result       *models.ProcessingResult
	err          error
	finished     bool
	quitting     bool
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model that drives run.
func NewModel(ctx context.Context, run RunFunc) *Model {
	ctx, cancel := context.WithCancel(ctx)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.ok

	return &Model{
		ctx:     ctx,
		cancel:  cancel,
		run:     run,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner: s,
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Result returns the outcome of the run once the program has exited.
func (m *Model) Result() (*models.ProcessingResult, error) {
	return m.result, m.err
}

// Init starts the run and the spinner.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-4, 10), 60)
		return m, nil

	case tea.KeyMsg:
		if !key.Matches(msg, m.keys.quit) {
			return m, nil
		}
		if m.finished {
			return m, tea.Quit
		}
		m.quitting = true
		m.cancel()
		return m, nil

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgProgressUpdate:
			m.apply(msg.data.(tasks.ProgressUpdate))
			return m, m.waitForProgress()
		case MsgRunComplete:
			done := msg.data.(runDone)
			m.result, m.err = done.result, done.err
			m.finished = true
			m.cancel()
			if m.quitting {
				return m, tea.Quit
			}
			return m, nil
		}
	}

	return m, nil
}

// View renders the progress of the run or its summary once finished.
func (m *Model) View() string {
	title := styles.title.Render("Provisioning Users")
	if m.finished {
		return fmt.Sprintf("%s\n%s\n\n%s", title, m.renderResult(), m.help.View(m.keys))
	}
	return fmt.Sprintf("%s\n%s\n\n%s", title, m.renderProgress(), m.help.View(m.keys))
}

func (m *Model) apply(u tasks.ProgressUpdate) {
	m.update = u
	if u.Phase != tasks.Provision {
		return
	}
	m.recent = append(m.recent, u)
	if len(m.recent) > recentLimit {
		m.recent = m.recent[len(m.recent)-recentLimit:]
	}
}

func (m *Model) start() tea.Cmd {
	m.progressChan = make(chan tasks.ProgressUpdate, 64)
	m.done = make(chan runDone, 1)

	progressChan, done, run, ctx := m.progressChan, m.done, m.run, m.ctx
	go func() {
		result, err := run(ctx, progressChan)
		done <- runDone{result: result, err: err}
		close(progressChan)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progressChan, done := m.progressChan, m.done
	return func() tea.Msg {
		update, ok := <-progressChan
		if !ok {
			d := <-done
			return runCompleteMsg(d.result, d.err)
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderProgress() string {
	var b strings.Builder

	switch m.update.Phase {
	case tasks.Preload:
		fmt.Fprintf(&b, "%s Loading reference data (%d/%d)\n", m.spinner.View(), m.update.Step, m.update.Total)
	case tasks.DetectDuplicates:
		fmt.Fprintf(&b, "%s Detecting duplicates\n", m.spinner.View())
	case tasks.Provision:
		fmt.Fprintf(&b, "%s Provisioning records (%d/%d)\n", m.spinner.View(), m.update.Step, m.update.Total)
		b.WriteString(m.bar.ViewAs(percent(m.update.Step, m.update.Total)))
		b.WriteString("\n")
		for _, u := range m.recent {
			b.WriteString("\n")
			b.WriteString(paint(u))
		}
		b.WriteString("\n")
	default:
		fmt.Fprintf(&b, "%s Starting...\n", m.spinner.View())
	}

	if m.update.Phase != tasks.Provision && m.update.Message != "" {
		b.WriteString(styles.help.Render(m.update.Message))
		b.WriteString("\n")
	}
	if m.quitting {
		b.WriteString(styles.warn.Render("Cancelling after the current record..."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderResult() string {
	var b strings.Builder

	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("✗ Run stopped: %v", m.err)))
	} else {
		b.WriteString(styles.ok.Render("✓ Run Complete!"))
	}
	b.WriteString("\n")

	if r := m.result; r != nil {
		fmt.Fprintf(&b, "\nTotal records: %d", r.TotalRecords)
		fmt.Fprintf(&b, "\nSucceeded: %d (%.1f%%)", r.SuccessfulRecords, r.SuccessRate())
		fmt.Fprintf(&b, "\nDuplicates: %d", r.DuplicateRecords)
		fmt.Fprintf(&b, "\nFailed: %d", r.FailedRecords)
		fmt.Fprintf(&b, "\nElapsed: %s", r.Elapsed.Round(time.Millisecond))

		if len(r.Errors) > 0 {
			b.WriteString("\n\n")
			b.WriteString(styles.warn.Render(fmt.Sprintf("Failed records (%d):", len(r.Errors))))
			for _, e := range r.Errors {
				fmt.Fprintf(&b, "\n  • row %d %s: %s", e.Row, e.Email, e.Message)
			}
		}
	}
	return b.String()
}

func paint(u tasks.ProgressUpdate) string {
	outcome, ok := u.Data.(models.RecordOutcome)
	if !ok {
		return u.Message
	}
	switch outcome.State {
	case models.StateSucceeded:
		return styles.ok.Render(u.Message)
	case models.StateDuplicateSkipped:
		return styles.warn.Render(u.Message)
	default:
		return styles.err.Render(u.Message)
	}
}

func percent(step, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(step) / float64(total)
}
