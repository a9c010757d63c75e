package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/mindmate/internal/corpus"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
	User    lipgloss.Color
	Bot     lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
	User:    lipgloss.Color("#AF87FF"), // lavender
	Bot:     lipgloss.Color("#87D7AF"), // sea green
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) botStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Bot).Bold(true)
}

// buildProgressMsg reports embedded chunks out of total.
type buildProgressMsg struct {
	done, total int
}

// buildDoneMsg carries the build outcome.
type buildDoneMsg struct {
	result *corpus.BuildResult
	err    error
}

// progressModel is the bubbletea model for a corpus build.
type progressModel struct {
	source   string
	done     int
	total    int
	progress progress.Model
	theme    Theme
	finished bool
	quitting bool
	result   *corpus.BuildResult
	err      error
	cancel   context.CancelFunc
}

func newProgressModel(source string, cancel context.CancelFunc) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		source:   source,
		progress: prog,
		theme:    defaultTheme,
		cancel:   cancel,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The build goroutine observes the cancellation and reports back.
			m.quitting = true
			m.cancel()
			return m, nil
		}

	case buildProgressMsg:
		m.done, m.total = msg.done, msg.total
		return m, nil

	case buildDoneMsg:
		m.finished = true
		m.result, m.err = msg.result, msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.finished {
		return m.finalView()
	}
	if m.quitting {
		return m.theme.hintStyle().Render("Cancelling build...") + "\n"
	}
	if m.total == 0 {
		return m.theme.statusStyle().Render("[chunking]") + " " + m.source + "\n"
	}

	pct := float64(m.done) / float64(m.total)
	status := m.theme.statusStyle().Render("[embedding]")
	counts := fmt.Sprintf("%d/%d chunks", m.done, m.total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to cancel, the previous corpus is kept")

	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

func (m progressModel) finalView() string {
	if m.err != nil {
		if m.quitting {
			return m.theme.hintStyle().Render("\nBuild cancelled, previous corpus kept.\n")
		}
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Build failed: %s\n", m.err))
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n\n" + formatBuildResult(m.result)
}

func formatBuildResult(r *corpus.BuildResult) string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "  Files processed:  %d\n", r.Files)
	fmt.Fprintf(&sb, "  Sections:         %d\n", r.Sections)
	fmt.Fprintf(&sb, "  Chunks embedded:  %d\n", r.Chunks)
	fmt.Fprintf(&sb, "  Duration:         %s\n", r.Duration.Round(time.Millisecond))
	return sb.String()
}

// RunBuildProgress runs build with an interactive progress bar. Ctrl+C
// cancels the build.
func RunBuildProgress(ctx context.Context, source string, build func(context.Context, corpus.ProgressFunc) (*corpus.BuildResult, error)) (*corpus.BuildResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(source, cancel))

	go func() {
		result, err := build(ctx, func(done, total int) {
			p.Send(buildProgressMsg{done: done, total: total})
		})
		p.Send(buildDoneMsg{result: result, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok {
		return nil, fmt.Errorf("unexpected progress model %T", finalModel)
	}
	return m.result, m.err
}
