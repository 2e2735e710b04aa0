package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer provides a live terminal display using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *ingestModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails on non-TTY output so the
// caller can fall back to plain mode.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIngestModel(tracker)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	_, r.cancel = context.WithCancel(ctx)

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.Topic)

	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageDone, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			// Unresponsive TUI must not hang Ctrl+C.
		}
	}
	return nil
}

// Message types for bubbletea.
type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// ingestModel is the bubbletea model for ingestion progress.
type ingestModel struct {
	tracker     *ProgressTracker
	width       int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	lastErrors  []ErrorEvent
}

func newIngestModel(tracker *ProgressTracker) *ingestModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorTeal))

	p := progress.New(
		progress.WithSolidFill(ColorTeal),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &ingestModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
	}
}

// Init implements tea.Model.
func (m *ingestModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *ingestModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case progressUpdateMsg:
		return m, nil

	case errorMsg:
		m.lastErrors = append(m.lastErrors, ErrorEvent(msg))
		if len(m.lastErrors) > 5 {
			m.lastErrors = m.lastErrors[len(m.lastErrors)-5:]
		}
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *ingestModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	stats := m.tracker.Stats()
	var sections []string

	sections = append(sections, m.renderStages(stats.Stage))

	if stats.Topic != "" {
		sections = append(sections, m.styles.Label.Render("Topic: ")+stats.Topic)
	}

	line := fmt.Sprintf("%s %s", m.spinner.View(), m.styles.Active.Render(stats.Stage.String()))
	if stats.Total > 0 {
		line += fmt.Sprintf(" %d/%d", stats.Current, stats.Total)
	}
	sections = append(sections, line)

	if stats.Total > 0 {
		sections = append(sections, m.progressBar.ViewAs(stats.Progress))
		if stats.ETA > 0 {
			sections = append(sections, m.styles.Label.Render(
				fmt.Sprintf("ETA %s at %.1f/s", stats.ETA.Round(time.Second), stats.Speed)))
		}
	}

	counts := fmt.Sprintf("elapsed %s", stats.Elapsed.Round(time.Second))
	if stats.ErrorCount > 0 {
		counts += "  " + m.styles.Error.Render(fmt.Sprintf("%d errors", stats.ErrorCount))
	}
	if stats.WarnCount > 0 {
		counts += "  " + m.styles.Warning.Render(fmt.Sprintf("%d warnings", stats.WarnCount))
	}
	sections = append(sections, m.styles.Dim.Render(counts))

	for _, e := range m.lastErrors {
		prefix := m.styles.Error.Render("ERROR")
		if e.IsWarn {
			prefix = m.styles.Warning.Render("WARN")
		}
		msg := e.Err.Error()
		if e.PMID != "" {
			msg = "pmid=" + e.PMID + ": " + msg
		}
		sections = append(sections, fmt.Sprintf("%s %s", prefix, truncate(msg, m.width-10)))
	}

	content := strings.Join(sections, "\n")
	return m.styles.Panel.Render(
		m.styles.Header.Render("PubVec Ingest")+"\n"+content) + "\n"
}

// renderStages draws the stage strip with the active stage highlighted.
func (m *ingestModel) renderStages(active Stage) string {
	order := []Stage{StageSearch, StageFetch, StageParse, StageChunk, StageEmbed, StageStore}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		name := s.Icon()
		if s == active {
			parts = append(parts, m.styles.Active.Render(name))
		} else {
			parts = append(parts, m.styles.Stage.Render(name))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" > "))
}

func (m *ingestModel) renderComplete() string {
	s := m.stats
	line := fmt.Sprintf("Done: %d jobs, %d articles, %d chunks in %s (%.1f chunks/s)",
		s.Jobs, s.Articles, s.Chunks, s.Duration.Round(time.Second), s.Rate)
	if s.Errors > 0 {
		line += m.styles.Error.Render(fmt.Sprintf(", %d errors", s.Errors))
	}
	return m.styles.Success.Render(line) + "\n"
}

func truncate(s string, max int) string {
	if max < 10 {
		max = 10
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
