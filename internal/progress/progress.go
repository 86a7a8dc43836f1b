// Package progress aggregates run-wide byte/file counters and drives a
// capped set of per-file progress bars plus an end-of-run summary
// (spec.md §4.7).
//
// The aggregate bar is grounded on charmer/pkg/charmer/console/progress.go
// (a bubbletea program driven by a channel of updates, wrapping
// bubbles/progress). The underlying counters follow the atomic-counter /
// periodic-speed-sample shape of
// erik123457-fileripper-library/internal/pfte/monitor.go. Multiple
// concurrently visible bars share one bubbletea program and are routed by
// bubbles/progress's own per-instance FrameMsg.ID, the library's intended
// mechanism for driving more than one bar at once.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nitronplus/hostpilot/internal/model"
	"github.com/nitronplus/hostpilot/internal/theme"
)

var (
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Theme.PrimaryColor)).Bold(true)
	failureStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Theme.ErrorColor)).Bold(true)
	fileLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Theme.SecondaryColor))
)

// MaxVisibleBars caps the number of per-file bars shown concurrently,
// independent of worker count (spec.md §4.7, §9 "Progress bar cap").
const MaxVisibleBars = 8

// Reporter drives the aggregate bar and prints the end-of-run summary. It
// is safe to call from multiple worker goroutines.
type Reporter struct {
	quiet   bool
	json    bool
	out     io.Writer
	errOut  io.Writer
	metrics *model.Metrics

	mu        sync.Mutex
	totalSize int64
	bar       *multiBar
	slots     map[string]struct{} // currently-visible per-file bar keys
}

// Options configures a Reporter.
type Options struct {
	Quiet  bool
	JSON   bool
	Out    io.Writer
	ErrOut io.Writer
}

// New builds a Reporter bound to metrics, which the worker pool updates
// directly with atomic increments.
func New(opts Options, metrics *model.Metrics) *Reporter {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ErrOut == nil {
		opts.ErrOut = os.Stderr
	}
	r := &Reporter{
		quiet:   opts.Quiet,
		json:    opts.JSON,
		out:     opts.Out,
		errOut:  opts.ErrOut,
		metrics: metrics,
		slots:   make(map[string]struct{}),
	}
	return r
}

// Start sets the known total size (if enumerated up front) and shows the
// aggregate bar, unless quiet or JSON mode suppresses visible progress.
func (r *Reporter) Start(totalSize int64) {
	r.mu.Lock()
	r.totalSize = totalSize
	r.mu.Unlock()

	if r.quiet || r.json {
		return
	}
	r.bar = newMultiBar()
}

// Tick is called by the worker pool after every completed or failed file;
// it updates the aggregate bar from the shared Metrics snapshot.
func (r *Reporter) Tick() {
	if r.bar == nil {
		return
	}
	r.mu.Lock()
	total := r.totalSize
	r.mu.Unlock()
	r.bar.updateAggregate(total, r.metrics.TotalBytes)
}

// TrackFile registers key (the task's destination path) as one of the (at
// most MaxVisibleBars) concurrently visible per-file bars and, if a slot
// was free, starts rendering one. Additional in-flight files transfer
// without a visible bar (spec.md §4.7). Every TrackFile that returns true
// must be matched by a ReleaseFile once the file finishes or fails.
func (r *Reporter) TrackFile(key string) (visible bool) {
	if r.quiet || r.json {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.slots) >= MaxVisibleBars {
		return false
	}
	r.slots[key] = struct{}{}
	if r.bar != nil {
		r.bar.startFile(key)
	}
	return true
}

// FileProgress updates the per-file bar for key, if it currently holds a
// visible slot; otherwise it is a no-op.
func (r *Reporter) FileProgress(key string, copied, total int64) {
	r.mu.Lock()
	_, tracked := r.slots[key]
	r.mu.Unlock()
	if !tracked || r.bar == nil {
		return
	}
	r.bar.updateFile(key, copied, total)
}

// ReleaseFile frees key's slot (if it held one) so a queued file can take
// its place, and removes its bar from the display.
func (r *Reporter) ReleaseFile(key string) {
	r.mu.Lock()
	_, tracked := r.slots[key]
	delete(r.slots, key)
	r.mu.Unlock()
	if tracked && r.bar != nil {
		r.bar.finishFile(key)
	}
}

// Warnf prints a non-fatal warning to stderr (spec.md §4.8's "warns on
// stderr if write fails" and similar best-effort diagnostics), suppressed
// by --quiet.
func (r *Reporter) Warnf(format string, args ...any) {
	if r.quiet {
		return
	}
	fmt.Fprintf(r.errOut, "warning: "+format+"\n", args...)
}

// Finish stops the aggregate bar and prints the end-of-run summary, in
// human or single-line JSON form per spec.md §4.7 / §6.
func (r *Reporter) Finish(failuresPath string) model.Summary {
	if r.bar != nil {
		r.bar.Finish()
	}

	elapsed := time.Since(r.metrics.StartTime).Seconds()
	summary := model.Summary{
		TotalBytes:      r.metrics.TotalBytes,
		ElapsedSecs:     elapsed,
		Files:           r.metrics.FilesCompleted,
		SessionRebuilds: r.metrics.SessionRebuilds,
		SftpRebuilds:    r.metrics.SftpRebuilds,
		Failures:        r.metrics.FilesFailed,
	}
	if r.metrics.FilesFailed > 0 {
		summary.FailuresPath = failuresPath
	}

	if r.json {
		enc := json.NewEncoder(r.out)
		_ = enc.Encode(summary)
		return summary
	}

	if !r.quiet {
		rate := float64(0)
		if elapsed > 0 {
			rate = float64(summary.TotalBytes) / elapsed
		}
		line := fmt.Sprintf("transferred %d bytes in %.1fs (%.1f B/s), %d files, %d failed, %d session rebuilds, %d sftp rebuilds",
			summary.TotalBytes, summary.ElapsedSecs, rate, summary.Files, summary.Failures, summary.SessionRebuilds, summary.SftpRebuilds)
		if summary.Failures > 0 {
			line = failureStyle.Render(line)
		} else {
			line = successStyle.Render(line)
		}
		fmt.Fprintln(r.out, line)
	}
	return summary
}

// barKind tags what a barMsg carries, since the aggregate bar and every
// per-file bar share one update channel into the bubbletea program.
type barKind int

const (
	barAggregate barKind = iota
	barFileStart
	barFileProgress
	barFileDone
)

type barMsg struct {
	kind   barKind
	key    string
	copied int64
	total  int64
}

// multiBar wraps one bubbletea program that renders the aggregate bar plus
// up to MaxVisibleBars per-file bars, fed through a single channel — same
// shape as charmer/pkg/charmer/console/progress.go's single-bar program,
// extended to host several bubbles/progress.Model instances at once. This
// works because each progress.Model stamps its own FrameMsg.ID, so routing
// one FrameMsg to every live bar only animates the one it belongs to.
type multiBar struct {
	updateCh  chan barMsg
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newMultiBar() *multiBar {
	updateCh := make(chan barMsg, 64)
	closeCh := make(chan struct{})

	m := &multiBarModel{
		agg:      progress.New(progress.WithGradient(theme.Theme.PrimaryColor, theme.Theme.ErrorColor)),
		bars:     make(map[string]progress.Model),
		updateCh: updateCh,
		closeCh:  closeCh,
	}

	b := &multiBar{updateCh: updateCh, closeCh: closeCh}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if _, err := tea.NewProgram(m).Run(); err != nil {
			fmt.Fprintln(os.Stderr, "progress bar error:", err)
		}
	}()
	return b
}

func (b *multiBar) send(msg barMsg) {
	select {
	case <-b.closeCh:
	case b.updateCh <- msg:
	}
}

func (b *multiBar) updateAggregate(total, count int64) {
	b.send(barMsg{kind: barAggregate, total: total, copied: count})
}

func (b *multiBar) startFile(key string) {
	b.send(barMsg{kind: barFileStart, key: key})
}

func (b *multiBar) updateFile(key string, copied, total int64) {
	b.send(barMsg{kind: barFileProgress, key: key, copied: copied, total: total})
}

func (b *multiBar) finishFile(key string) {
	b.send(barMsg{kind: barFileDone, key: key})
}

func (b *multiBar) Finish() {
	b.closeOnce.Do(func() { close(b.closeCh) })
	b.wg.Wait()
}

type multiBarModel struct {
	agg      progress.Model
	bars     map[string]progress.Model
	order    []string
	width    int
	updateCh chan barMsg
	closeCh  chan struct{}
}

func (m *multiBarModel) Init() tea.Cmd {
	return m.waitForMsg()
}

func (m *multiBarModel) waitForMsg() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.updateCh:
			return msg
		case <-m.closeCh:
			return tea.Quit()
		}
	}
}

func (m *multiBarModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width - 4
		m.agg.Width = m.width
		for k, bar := range m.bars {
			bar.Width = m.width
			m.bars[k] = bar
		}
		return m, nil

	case barMsg:
		switch msg.kind {
		case barAggregate:
			percent := percentOf(msg.copied, msg.total)
			cmd := m.agg.SetPercent(percent)
			return m, tea.Batch(cmd, m.waitForMsg())

		case barFileStart:
			bar := progress.New(progress.WithGradient(theme.Theme.PrimaryColor, theme.Theme.SecondaryColor))
			bar.Width = m.width
			m.bars[msg.key] = bar
			m.order = append(m.order, msg.key)
			return m, m.waitForMsg()

		case barFileProgress:
			bar, ok := m.bars[msg.key]
			if !ok {
				return m, m.waitForMsg()
			}
			cmd := bar.SetPercent(percentOf(msg.copied, msg.total))
			m.bars[msg.key] = bar
			return m, tea.Batch(cmd, m.waitForMsg())

		case barFileDone:
			delete(m.bars, msg.key)
			for i, k := range m.order {
				if k == msg.key {
					m.order = append(m.order[:i:i], m.order[i+1:]...)
					break
				}
			}
			return m, m.waitForMsg()
		}
		return m, m.waitForMsg()

	case progress.FrameMsg:
		var cmds []tea.Cmd
		next, cmd := m.agg.Update(msg)
		m.agg = next.(progress.Model)
		cmds = append(cmds, cmd)
		for k, bar := range m.bars {
			next, cmd := bar.Update(msg)
			m.bars[k] = next.(progress.Model)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	default:
		return m, nil
	}
}

func (m *multiBarModel) View() string {
	view := "\n  " + m.agg.View() + "\n"
	for _, k := range m.order {
		bar, ok := m.bars[k]
		if !ok {
			continue
		}
		view += "  " + fileLabelStyle.Render(k) + "\n  " + bar.View() + "\n"
	}
	return view
}

func percentOf(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(count) / float64(total)
}
