package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/kingrea/apsboard/internal/monthindex"
	"github.com/kingrea/apsboard/internal/reorder"
	"github.com/kingrea/apsboard/internal/schedule"
	"github.com/kingrea/apsboard/internal/timeline"
)

const (
	defaultWidth = 100
	laneLabelW   = 6
	// bodyTop is the first screen row of the bordered panels: the header
	// line plus its bottom margin.
	bodyTop       = 2
	maxWarnRows   = 5
	logTailLines  = 8
	queueMinWidth = 28
)

var (
	labelStyleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleBlock   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	labelStyleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	panelTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	bannerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#B83B3B")).Padding(0, 1)
	selectedRowStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#3A4A6B"))
	draggedRowStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	panelBorderColor  = lipgloss.Color("#444444")
	focusBorderColor  = lipgloss.Color("#5B8DEF")
)

func levelStyle(level schedule.Level) lipgloss.Style {
	switch level {
	case schedule.LevelError:
		return labelStyleError
	case schedule.LevelWarn:
		return labelStyleWarn
	case schedule.LevelInfo:
		return labelStyleInfo
	default:
		return labelStyleBlock
	}
}

// columns splits the screen into the timeline column and the queue column.
func (a *App) columns() (left, right int) {
	width := a.width
	if width <= 0 {
		width = defaultWidth
	}
	right = max(queueMinWidth, width/3)
	left = max(40, width-right-4)
	return left, right
}

func (a *App) trackWidth() int {
	left, _ := a.columns()
	return max(10, left-4-laneLabelW)
}

// queueGeometry locates the first queue row on screen. The queue panel is the
// right-hand box: one border row and one title row sit above the items.
func (a *App) queueGeometry() (x, y, w int) {
	left, right := a.columns()
	return left + 4, bodyTop + 2, max(8, right-4)
}

// queueRects returns one cell-high box per queue row and the panel bounds.
func (a *App) queueRects() ([]reorder.Rect, reorder.Rect) {
	x, y, w := a.queueGeometry()
	n := a.ctrl.Queue().Len()
	rects := make([]reorder.Rect, n)
	for i := range rects {
		rects[i] = reorder.Rect{X: float64(x), Y: float64(y + i), W: float64(w), H: 1}
	}
	return rects, reorder.Rect{X: float64(x), Y: float64(y), W: float64(w), H: float64(n)}
}

// View renders the current state to a string.
func (a *App) View() string {
	left, right := a.columns()
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render(fmt.Sprintf("▦ APSBOARD · %s", a.rangeLabel()))

	leftBody := lipgloss.JoinVertical(lipgloss.Left,
		a.renderStatusLines(left-4),
		a.renderTimeline(left-4),
		"",
		a.renderMonths(),
	)
	leftBox := a.panel(leftBody, left, a.focus != focusQueue)
	rightBox := a.panel(a.renderQueue(right-4), right, a.focus == focusQueue)
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)

	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg + "\n" + keyHints)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

const keyHints = "tab focus · enter select · e extend · [ ] pan · + - zoom · 0 reset · a all months · R refresh · r retry · q quit"

func (a *App) panel(content string, width int, focused bool) string {
	border := panelBorderColor
	if focused {
		border = focusBorderColor
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(max(20, width)).
		Render(content)
}

func (a *App) renderStatusLines(width int) string {
	var lines []string
	if a.loading() {
		lines = append(lines, a.spinner.View()+" "+labelStyleRunning.Render("Running schedule…"))
	}
	if a.banner != "" {
		lines = append(lines, bannerStyle.Render(truncate(a.banner, width-2)))
	}
	if a.note != "" {
		lines = append(lines, labelStyleWarn.Render("⚠ "+truncate(a.note, width-2)))
	}
	switch a.monthsStatus {
	case monthindex.StatusStale:
		lines = append(lines, labelStyleMuted.Render("Month list served from cache"))
	case monthindex.StatusEmpty:
		if a.monthsErr != nil {
			lines = append(lines, labelStyleError.Render(truncate("Months unavailable: "+schedule.Describe(a.monthsErr), width)))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderTimeline(width int) string {
	title := panelTitleStyle.Render("Timeline")
	if !a.selected {
		return lipgloss.JoinVertical(lipgloss.Left, title, labelStyleMuted.Render("Select a month and press enter to run the schedule."))
	}
	track := max(10, width-laneLabelW)
	res := a.layoutResult(track)
	rows := []string{title, strings.Repeat(" ", laneLabelW) + renderTicks(res.Ticks, track)}
	if len(res.Lanes) == 0 {
		msg := "No segments in this window."
		if a.loading() {
			msg = "Waiting for the schedule…"
		}
		rows = append(rows, labelStyleMuted.Render(msg))
	}
	for _, lane := range res.Lanes {
		label := runewidth.FillRight(fmt.Sprintf("M%d", lane.MachineIndex), laneLabelW-2) + "│ "
		rows = append(rows, labelStyleMuted.Render(label)+renderLane(lane, track))
	}
	rows = append(rows, detailTextStyle.Render(fmt.Sprintf(
		"%d placed · %d outside window · %d dropped · %d warned",
		res.Placed, res.OutsideWindow, res.Dropped, res.Warned)))
	rows = append(rows, a.renderWarnings(width)...)
	return strings.Join(rows, "\n")
}

// renderTicks writes day labels at their pixel offsets, skipping labels that
// would overlap the previous one.
func renderTicks(ticks []timeline.Tick, track int) string {
	line := []rune(strings.Repeat(" ", track))
	next := 0
	for _, tick := range ticks {
		col := int(tick.Pixel)
		if col < next || col < 0 || col+len(tick.Label) > track {
			continue
		}
		copy(line[col:], []rune(tick.Label))
		next = col + len(tick.Label) + 1
	}
	return labelStyleMuted.Render(string(line))
}

func renderLane(lane timeline.Lane, track int) string {
	cells := []rune(strings.Repeat("·", track))
	levels := make([]schedule.Level, track)
	used := make([]bool, track)
	for _, block := range lane.Blocks {
		col, span, ok := block.Visible(track)
		if !ok {
			continue
		}
		for c := col; c < col+span; c++ {
			cells[c] = '█'
			used[c] = true
			if block.Level().Severity() > levels[c].Severity() {
				levels[c] = block.Level()
			}
		}
		if block.ClipStart {
			cells[col] = '◂'
		}
		if block.ClipEnd {
			cells[col+span-1] = '▸'
		}
	}
	var b strings.Builder
	start := 0
	for c := 1; c <= track; c++ {
		if c < track && used[c] == used[start] && levels[c] == levels[start] {
			continue
		}
		run := string(cells[start:c])
		if used[start] {
			b.WriteString(levelStyle(levels[start]).Render(run))
		} else {
			b.WriteString(labelStyleMuted.Render(run))
		}
		start = c
	}
	return b.String()
}

func (a *App) renderWarnings(width int) []string {
	result, ok := a.layer.Current()
	if !ok || len(result.Warnings) == 0 {
		return nil
	}
	rows := []string{""}
	for i, warn := range result.Warnings {
		if i == maxWarnRows {
			rows = append(rows, labelStyleMuted.Render(fmt.Sprintf("… %d more", len(result.Warnings)-maxWarnRows)))
			break
		}
		level := runewidth.FillRight(string(warn.Level), 5)
		text := fmt.Sprintf("%s #%s · %s", warn.BillNo, warn.LineNo, warn.Message)
		rows = append(rows, levelStyle(warn.Level).Render(level)+" "+detailTextStyle.Render(truncate(text, width-6)))
	}
	return rows
}

func (a *App) renderMonths() string {
	view := a.monthMenu.View()
	if len(a.buckets) == 0 {
		view = panelTitleStyle.Render("Months") + "\n" + labelStyleMuted.Render("No months loaded")
	}
	scope := "open months"
	if a.includeAll {
		scope = "all months"
	}
	return lipgloss.JoinVertical(lipgloss.Left, view, labelStyleMuted.Render(scope+" · a to toggle"))
}

func (a *App) renderQueue(width int) string {
	items := a.ctrl.Queue().Snapshot()
	title := panelTitleStyle.Render(fmt.Sprintf("Queue (%d)", len(items)))
	if len(items) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, labelStyleMuted.Render("No pending details"))
	}
	origin, target, dragging := a.ctrl.Preview()
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	if dragging {
		order = previewOrder(len(items), origin, target)
	}
	rows := []string{title}
	for slot, idx := range order {
		item := items[idx]
		text := truncate(fmt.Sprintf("%2d. %s", slot+1, item.Title()), width)
		text = runewidth.FillRight(text, width)
		switch {
		case dragging && idx == origin:
			rows = append(rows, draggedRowStyle.Render(text))
		case !dragging && a.focus == focusQueue && slot == a.cursor:
			rows = append(rows, selectedRowStyle.Render(text))
		default:
			rows = append(rows, text)
		}
	}
	rows = append(rows, "", labelStyleMuted.Render("enter grab · K/J move · esc cancel"))
	if a.ctrl.Pending() {
		rows = append(rows, labelStyleRunning.Render("new order pending…"))
	}
	return strings.Join(rows, "\n")
}

// previewOrder is the index order the queue would have after moving origin
// to target.
func previewOrder(n, origin, target int) []int {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if i != origin {
			out = append(out, i)
		}
	}
	target = clampIndex(target, n)
	out = append(out, 0)
	copy(out[target+1:], out[target:])
	out[target] = origin
	return out
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	entries, total := a.logbook.Recent(logTailLines)
	if len(entries) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d)", fileName, total))
	faint := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	lines := make([]string, len(entries))
	for i, e := range entries {
		stamp := e.Time.In(a.config.Location()).Format("15:04:05")
		lines[i] = faint.Render(stamp+" ") + levelStyle(e.Level).Render(fmt.Sprintf("%-5s", e.Level)) + faint.Render(" "+e.Message)
	}
	body := strings.Join(lines, "\n")
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(panelBorderColor).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "…")
}
