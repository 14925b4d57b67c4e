package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	refreshInterval = 150 * time.Millisecond
	quitTimeout     = 2 * time.Second
	// maxRows is the number of index rows shown before collapsing the rest.
	maxRows   = 8
	nameWidth = 16
)

// TUIRenderer draws a live view with one progress bar per index.
type TUIRenderer struct {
	mu      sync.Mutex
	out     *os.File
	tracker *ProgressTracker
	model   *runModel
	program *tea.Program
	done    chan struct{}
}

var _ Renderer = (*TUIRenderer)(nil)

// NewTUIRenderer fails when cfg.Output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	f, ok := cfg.Output.(*os.File)
	if !ok || !IsTTY(f) {
		return nil, errors.New("output is not a terminal")
	}
	tracker := NewProgressTracker()
	return &TUIRenderer{
		out:     f,
		tracker: tracker,
		model:   newRunModel(tracker, cfg.Title, NewStyles(cfg.NoColor || DetectNoColor())),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer. The view runs until Complete or Stop.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}
	r.program = tea.NewProgram(r.model, tea.WithOutput(r.out), tea.WithContext(ctx))
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer. The view reads the tracker on its
// own refresh tick.
func (r *TUIRenderer) UpdateProgress(e ProgressEvent) { r.tracker.Observe(e) }

// AddError implements Renderer.
func (r *TUIRenderer) AddError(e ErrorEvent) { r.tracker.AddError(e) }

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Finish()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(finishedMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(quitTimeout):
	}
	return nil
}

type (
	finishedMsg CompletionStats
	refreshMsg  time.Time
)

// runModel is the bubbletea model of an indexing run.
type runModel struct {
	tracker *ProgressTracker
	title   string
	styles  Styles
	spinner spinner.Model
	bar     progress.Model
	width   int

	cancelled bool
	finished  *CompletionStats
}

func newRunModel(tracker *ProgressTracker, title string, styles Styles) *runModel {
	sp := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	sp.Style = styles.Active
	return &runModel{
		tracker: tracker,
		title:   title,
		styles:  styles,
		spinner: sp,
		bar:     progress.New(progress.WithSolidFill(ColorAccent.Dark), progress.WithoutPercentage(), progress.WithWidth(30)),
		width:   80,
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// Init implements tea.Model.
func (m *runModel) Init() tea.Cmd { return tea.Batch(m.spinner.Tick, refresh()) }

// Update implements tea.Model.
func (m *runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if s := msg.String(); s == "q" || s == "ctrl+c" {
			m.cancelled = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-nameWidth-30, 10)
	case finishedMsg:
		stats := CompletionStats(msg)
		m.finished = &stats
		return m, tea.Quit
	case refreshMsg:
		return m, refresh()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *runModel) View() string {
	switch {
	case m.cancelled:
		return "Cancelled.\n"
	case m.finished != nil:
		return m.summary(*m.finished)
	}

	snap := m.tracker.Snapshot()
	header := m.title
	if header == "" {
		header = "amansearch index"
	}
	lines := []string{
		m.styles.Header.Render(header),
		m.stageLine(snap.Stage),
		"",
	}
	lines = append(lines, m.rows(snap.Rows)...)
	lines = append(lines, "", m.totals(snap), m.styles.Sparkline.Render(m.tracker.RenderSparkline(max(m.width-16, 10)))+m.styles.Dim.Render(" items/s"))
	lines = append(lines, m.footer(snap))
	return m.styles.Panel.Render(strings.Join(lines, "\n")) + "\n"
}

func (m *runModel) stageLine(current Stage) string {
	var parts []string
	for _, s := range []Stage{StageTracking, StageIndexing} {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("✓ "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("· "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render("  ›  "))
}

func (m *runModel) rows(rows []IndexRow) []string {
	if len(rows) == 0 {
		return []string{m.styles.Dim.Render("Waiting for pending items...")}
	}
	var out []string
	shown := rows
	if len(rows) > maxRows {
		shown = rows[:maxRows]
	}
	for _, r := range shown {
		name := fmt.Sprintf("%-*s", nameWidth, truncateName(r.ID, nameWidth))
		count := fmt.Sprintf("%d/%d", r.Current, r.Total)
		if r.Done() {
			count = m.styles.Success.Render(count + " ✓")
		} else {
			count = m.styles.Label.Render(count)
		}
		out = append(out, m.styles.Label.Render(name)+" "+m.bar.ViewAs(r.Fraction())+" "+count)
	}
	if hidden := len(rows) - len(shown); hidden > 0 {
		out = append(out, m.styles.Dim.Render(fmt.Sprintf("... and %d more indexes", hidden)))
	}
	return out
}

func (m *runModel) totals(s ProgressSnapshot) string {
	parts := []string{
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", s.Fraction()*100)),
		m.styles.Label.Render(fmt.Sprintf("%d / %d items", s.Current, s.Total)),
		m.styles.Speed.Render(fmt.Sprintf("%.0f items/s", s.Rate)),
	}
	if s.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA "+formatDuration(s.ETA)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  ·  "))
}

func (m *runModel) footer(s ProgressSnapshot) string {
	var parts []string
	if s.Errors > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", s.Errors)))
	}
	if s.Warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("! %d warnings", s.Warnings)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, "  ")
}

func (m *runModel) summary(s CompletionStats) string {
	label := func(k string) string { return m.styles.Label.Render(fmt.Sprintf("%-10s", k)) }
	value := func(v any) string { return m.styles.Active.Render(fmt.Sprint(v)) }

	lines := []string{
		m.styles.Success.Render("✓ Indexing complete"),
		"",
		label("Indexes") + value(s.Indexes),
		label("Items") + value(s.Items),
		label("Batches") + value(s.Batches),
		label("Duration") + value(formatDuration(s.Duration)),
	}
	if avg := m.tracker.Snapshot().AvgRate; avg > 0 {
		lines = append(lines, label("Speed")+m.styles.Speed.Render(fmt.Sprintf("%.0f items/s", avg)))
	}
	if s.Remaining > 0 {
		lines = append(lines, label("Remaining")+m.styles.Warning.Render(fmt.Sprint(s.Remaining)))
	}
	if s.Errors > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", s.Errors)))
	}
	if s.Warnings > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("! %d warnings", s.Warnings)))
	}
	return m.styles.Panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as 5s, 2m, 1m 30s or 1h 5m.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0 && s > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// truncateName shortens name to maxLen runes, keeping its tail.
func truncateName(name string, maxLen int) string {
	r := []rune(name)
	if len(r) <= maxLen {
		return name
	}
	if maxLen < 4 {
		return "..."
	}
	return "..." + string(r[len(r)-maxLen+3:])
}
