// internal/tui/app.go
//
// This is the Steps dashboard. It uses bubbletea, which follows The Elm
// Architecture:
//
// 1. Model: the month index, the current run and the reorder queue
// 2. Update: a function that updates state based on messages
// 3. View: a function that renders state to a string
//
// Backend calls never run inside Update. They are issued as tea.Cmds and come
// back as messages, so a slow run never blocks the keyboard.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/apsboard/internal/config"
	"github.com/kingrea/apsboard/internal/fetch"
	"github.com/kingrea/apsboard/internal/logbook"
	"github.com/kingrea/apsboard/internal/monthindex"
	"github.com/kingrea/apsboard/internal/reorder"
	"github.com/kingrea/apsboard/internal/schedule"
	"github.com/kingrea/apsboard/internal/timeline"
)

// focusArea is the panel receiving navigation keys.
type focusArea int

const (
	focusMonths focusArea = iota
	focusTimeline
	focusQueue
	focusCount
)

const (
	panDivisor   = 4
	zoomFactor   = 2.0
	monthsHeight = 9
)

type monthsLoadedMsg struct {
	snapshot   monthindex.Snapshot
	includeAll bool
}

type runFinishedMsg struct {
	completion fetch.Completion
}

type debounceMsg struct {
	token reorder.Token
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook overrides the journey log opened from the config.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		if lb != nil {
			a.logbook = lb
		}
	}
}

// WithClock overrides time.Now for anchors.
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	config  *config.Config
	months  *monthindex.Cache
	layer   *fetch.Layer
	logbook *logbook.Logbook
	clock   func() time.Time

	focus focusArea

	// Month selector
	monthMenu    list.Model
	buckets      []schedule.MonthBucket
	monthsStatus monthindex.Status
	monthsErr    error
	includeAll   bool
	from, to     schedule.MonthBucket
	selected     bool

	// Timeline
	window  timeline.Window
	memo    timeline.Memo
	version uint64

	// Queue
	ctrl   *reorder.Controller
	cursor int

	spinner   spinner.Model
	banner    string
	note      string
	statusMsg string

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// monthItem implements list.Item for the month selector.
type monthItem struct {
	bucket schedule.MonthBucket
}

func (i monthItem) Title() string { return i.bucket.Label }

func (i monthItem) Description() string {
	var parts []string
	if i.bucket.OrderCount != nil {
		parts = append(parts, fmt.Sprintf("%d orders", *i.bucket.OrderCount))
	}
	if i.bucket.DetailCount != nil {
		parts = append(parts, fmt.Sprintf("%d details", *i.bucket.DetailCount))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d", i.bucket.YMKey)
	}
	return strings.Join(parts, " · ")
}

func (i monthItem) FilterValue() string { return i.bucket.Label }

// NewApp creates the dashboard over an already wired month cache and fetch layer.
func NewApp(cfg *config.Config, months *monthindex.Cache, layer *fetch.Layer, opts ...AppOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tui: config is required")
	}
	if months == nil || layer == nil {
		return nil, fmt.Errorf("tui: month cache and fetch layer are required")
	}
	menu := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	menu.Title = "Months"
	menu.SetShowStatusBar(false)
	menu.SetFilteringEnabled(false)
	menu.SetShowHelp(false)

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = labelStyleRunning

	app := &App{
		config:     cfg,
		months:     months,
		layer:      layer,
		clock:      time.Now,
		focus:      focusMonths,
		monthMenu:  menu,
		includeAll: cfg.Project.Schedule.IncludeAll,
		ctrl:       reorder.NewController(nil, cfg.Project.Schedule.Debounce),
		spinner:    spin,
		statusMsg:  "Select a month and press enter",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if app.logbook == nil {
		if lb, err := logbook.New(cfg.JournalPath()); err == nil {
			app.logbook = lb
		}
	}
	app.logInfo("Session opened · backend %s", cfg.Project.Backend.BaseURL)
	return app, nil
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.loadMonths(false)
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		left, _ := a.columns()
		a.monthMenu.SetSize(max(20, left-4), monthsHeight)
		return a, nil

	case monthsLoadedMsg:
		a.applyMonths(msg)
		return a, nil

	case runFinishedMsg:
		a.applyRun(msg.completion)
		return a, nil

	case debounceMsg:
		return a, a.fireDebounce(msg.token)

	case spinner.TickMsg:
		if !a.loading() {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.MouseMsg:
		return a, a.handleMouse(msg)

	case tea.KeyMsg:
		if cmd, handled := a.handleKey(msg); handled {
			return a, cmd
		}
	}

	if a.focus == focusMonths {
		var cmd tea.Cmd
		a.monthMenu, cmd = a.monthMenu.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	key := msg.String()
	if key == "ctrl+c" {
		return tea.Quit, true
	}
	if a.ctrl.Dragging() {
		switch key {
		case "up", "k":
			return a.applyEffect(a.ctrl.Handle(reorder.KeyStep{Delta: -1})), true
		case "down", "j":
			return a.applyEffect(a.ctrl.Handle(reorder.KeyStep{Delta: 1})), true
		case "enter", " ":
			return a.applyEffect(a.ctrl.Handle(reorder.KeyDrop{})), true
		case "esc":
			return a.applyEffect(a.ctrl.Handle(reorder.Cancel{})), true
		}
		// Everything else waits until the drag ends.
		return nil, true
	}

	switch key {
	case "q":
		return tea.Quit, true
	case "tab":
		a.focus = (a.focus + 1) % focusCount
		return nil, true
	case "shift+tab":
		a.focus = (a.focus + focusCount - 1) % focusCount
		return nil, true
	case "a":
		return a.toggleIncludeAll(), true
	case "R":
		a.statusMsg = "Refreshing months..."
		return a.loadMonths(true), true
	case "r":
		return a.retry(), true
	case "[":
		a.pan(-1)
		return nil, true
	case "]":
		a.pan(1)
		return nil, true
	case "+", "=":
		a.zoom(zoomFactor)
		return nil, true
	case "-":
		a.zoom(1 / zoomFactor)
		return nil, true
	case "0":
		a.resetWindow()
		return nil, true
	}

	switch a.focus {
	case focusMonths:
		switch key {
		case "enter":
			return a.selectMonth(false), true
		case "e":
			return a.selectMonth(true), true
		}
	case focusQueue:
		return a.handleQueueKey(key)
	}
	return nil, false
}

func (a *App) handleQueueKey(key string) (tea.Cmd, bool) {
	n := a.ctrl.Queue().Len()
	if n == 0 {
		return nil, false
	}
	a.cursor = clampIndex(a.cursor, n)
	id := a.ctrl.Queue().Snapshot()[a.cursor].DetailID
	switch key {
	case "up", "k":
		a.cursor = clampIndex(a.cursor-1, n)
		return nil, true
	case "down", "j":
		a.cursor = clampIndex(a.cursor+1, n)
		return nil, true
	case "K", "shift+up":
		return a.applyEffect(a.ctrl.MoveUp(id)), true
	case "J", "shift+down":
		return a.applyEffect(a.ctrl.MoveDown(id)), true
	case "enter", " ":
		a.statusMsg = "Moving · ↑/↓ choose slot · enter drop · esc cancel"
		return a.applyEffect(a.ctrl.Handle(reorder.KeyGrab{Index: a.cursor})), true
	}
	return nil, false
}

func (a *App) handleMouse(msg tea.MouseMsg) tea.Cmd {
	at := reorder.Point{X: float64(msg.X) + 0.5, Y: float64(msg.Y) + 0.5}
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft || a.ctrl.Dragging() {
			return nil
		}
		rects, bounds := a.queueRects()
		for i, r := range rects {
			if r.Contains(at) {
				a.focus = focusQueue
				a.cursor = i
				return a.applyEffect(a.ctrl.Handle(reorder.PointerDown{Index: i, At: at, Rects: rects, Bounds: bounds}))
			}
		}
	case tea.MouseActionMotion:
		if a.ctrl.Dragging() {
			return a.applyEffect(a.ctrl.Handle(reorder.PointerMove{At: at}))
		}
	case tea.MouseActionRelease:
		if a.ctrl.Dragging() {
			return a.applyEffect(a.ctrl.Handle(reorder.PointerUp{At: at}))
		}
	}
	return nil
}

// applyEffect turns a controller effect into UI state and, for a committed
// move, the debounce timer.
func (a *App) applyEffect(eff reorder.Effect) tea.Cmd {
	switch eff.Kind {
	case reorder.EffectPreview:
		a.statusMsg = fmt.Sprintf("Drop at position %d", eff.To+1)
	case reorder.EffectCancelled:
		a.cursor = eff.From
		a.statusMsg = "Reorder cancelled"
	case reorder.EffectCommitted:
		a.cursor = eff.To
		moved := eff.Order[eff.To]
		a.logInfo("Queue · detail %s moved %d → %d", moved, eff.From+1, eff.To+1)
		a.statusMsg = fmt.Sprintf("Re-running with new order in %s", a.ctrl.Delay())
		token := eff.Token
		return tea.Tick(a.ctrl.Delay(), func(time.Time) tea.Msg {
			return debounceMsg{token: token}
		})
	}
	return nil
}

func (a *App) fireDebounce(token reorder.Token) tea.Cmd {
	order, ok := a.ctrl.Fire(token)
	if !ok || !a.selected {
		return nil
	}
	// A reorder re-run keeps the range, anchor and includeAll of the last run.
	req, ok := a.layer.Retry()
	if !ok {
		req = a.baseRequest()
	}
	req.DetailOrder = order
	a.logInfo("Run · re-running with order %s", strings.Join(order, ","))
	return a.startRun(req)
}

func (a *App) loadMonths(refresh bool) tea.Cmd {
	includeAll := a.includeAll
	months := a.months
	timeout := a.config.Project.Backend.Timeout
	return func() tea.Msg {
		ctx, cancel := withTimeout(timeout)
		defer cancel()
		var snap monthindex.Snapshot
		if refresh {
			snap = months.Refresh(ctx, includeAll)
		} else {
			snap = months.Load(ctx, includeAll)
		}
		return monthsLoadedMsg{snapshot: snap, includeAll: includeAll}
	}
}

func (a *App) applyMonths(msg monthsLoadedMsg) {
	if msg.includeAll != a.includeAll {
		return
	}
	snap := msg.snapshot
	a.monthsStatus = snap.Status
	a.monthsErr = snap.Err
	if snap.Err != nil {
		a.logWarn("Months · %s: %v", snap.Status, snap.Err)
	}
	a.buckets = snap.Buckets
	items := make([]list.Item, len(snap.Buckets))
	highlight := 0
	for i, bucket := range snap.Buckets {
		items[i] = monthItem{bucket: bucket}
		if a.selected && bucket.YMKey == a.from.YMKey {
			highlight = i
		}
	}
	a.monthMenu.SetItems(items)
	if len(items) > 0 {
		a.monthMenu.Select(highlight)
	}
	switch snap.Status {
	case monthindex.StatusEmpty:
		a.statusMsg = "Month list unavailable · press R to retry"
	case monthindex.StatusStale:
		a.statusMsg = "Month list may be out of date · press R to refresh"
	default:
		if !a.selected {
			a.statusMsg = fmt.Sprintf("%d month(s) · select one and press enter", len(items))
		}
	}
}

func (a *App) toggleIncludeAll() tea.Cmd {
	a.includeAll = !a.includeAll
	if err := a.config.SetIncludeAll(a.includeAll); err != nil {
		a.logWarn("Config · include_all not saved: %v", err)
	}
	if a.includeAll {
		a.statusMsg = "Showing all months"
	} else {
		a.statusMsg = "Showing open months"
	}
	return a.loadMonths(false)
}

// selectMonth runs the highlighted month. With extend it widens the current
// range to the highlighted month instead.
func (a *App) selectMonth(extend bool) tea.Cmd {
	item, ok := a.monthMenu.SelectedItem().(monthItem)
	if !ok {
		return nil
	}
	if extend && a.selected {
		a.to = item.bucket
		if a.to.YMKey < a.from.YMKey {
			a.from, a.to = a.to, a.from
		}
	} else {
		a.from, a.to = item.bucket, item.bucket
	}
	a.selected = true
	a.resetWindow()
	a.ctrl.Reset(nil)
	a.cursor = 0
	a.memo.Reset()
	a.logInfo("Months · %s selected", a.rangeLabel())
	return a.startRun(a.baseRequest())
}

func (a *App) baseRequest() schedule.RunRequest {
	loc := a.config.Location()
	return schedule.RunRequest{
		FromMonth:   a.from.Label,
		ToMonth:     a.to.Label,
		AnchorStart: a.config.AnchorFor(a.from.MonthStart(loc), a.clock()),
		IncludeAll:  a.includeAll,
	}
}

func (a *App) retry() tea.Cmd {
	if a.layer.Status() != fetch.StatusFailed {
		return nil
	}
	req, ok := a.layer.Retry()
	if !ok {
		return nil
	}
	a.logInfo("Run · retry requested")
	return a.startRun(req)
}

func (a *App) startRun(req schedule.RunRequest) tea.Cmd {
	ticket := a.layer.Begin(req)
	a.statusMsg = fmt.Sprintf("Running schedule for %s...", a.rangeLabel())
	layer := a.layer
	timeout := a.config.Project.Backend.Timeout
	run := func() tea.Msg {
		ctx, cancel := withTimeout(timeout)
		defer cancel()
		return runFinishedMsg{completion: layer.Exec(ctx, ticket)}
	}
	return tea.Batch(a.spinner.Tick, run)
}

func (a *App) applyRun(c fetch.Completion) {
	outcome, err := a.layer.Complete(c)
	if errors.Is(err, schedule.ErrStaleResponse) {
		a.logInfo("Run #%d superseded · response discarded", c.Seq)
		return
	}
	switch outcome.Status {
	case fetch.StatusReady:
		a.banner = ""
		a.note = ""
		a.version++
		a.syncQueue(outcome.Result)
		a.logInfo("Run #%d ready · %d segment(s) · %d warning(s) · %s",
			c.Seq, len(outcome.Result.Segments), len(outcome.Result.Warnings), c.Elapsed.Round(time.Millisecond))
		a.reportIssues()
		a.statusMsg = fmt.Sprintf("Schedule ready for %s", a.rangeLabel())
	case fetch.StatusFailed:
		a.banner = fmt.Sprintf("%s · press r to retry", schedule.Describe(outcome.Err))
		a.note = outcome.Note
		if outcome.Note != "" {
			a.version++
		}
		a.logError("Run #%d failed: %v", c.Seq, outcome.Err)
		a.statusMsg = "Last run failed"
	}
}

// syncQueue seeds an empty queue from the result. Afterwards only an explicit
// server order replaces the queue, and not while the operator has a drag or a
// debounced order in flight.
func (a *App) syncQueue(result schedule.RunResult) {
	if a.ctrl.Queue().Len() == 0 {
		details := result.Details
		if len(details) == 0 {
			details = schedule.QueueFromSegments(result.Segments)
		}
		a.ctrl.Reset(details)
		a.cursor = 0
		return
	}
	if len(result.Details) == 0 {
		return
	}
	if a.ctrl.Dragging() || a.ctrl.Pending() {
		a.logInfo("Queue · server order deferred while a reorder is pending")
		return
	}
	if a.ctrl.Resync(result.Details) {
		a.logInfo("Queue · order updated from server")
	}
	a.cursor = clampIndex(a.cursor, a.ctrl.Queue().Len())
}

func (a *App) reportIssues() {
	res := a.layoutResult(a.trackWidth())
	for _, issue := range res.Issues {
		a.logWarn("Data · %s: %s", issue.Kind, issue.Message)
	}
	if res.UnmatchedWarnings > 0 {
		a.logInfo("Data · %d warning(s) match no segment", res.UnmatchedWarnings)
	}
}

func (a *App) layoutResult(track int) timeline.Result {
	result, _ := a.layer.Current()
	tl := a.config.Project.Timeline
	scale := timeline.ScaleToFit(a.window, track, tl.MinBlockWidth)
	return a.memo.Layout(a.version, result.Segments, result.Warnings, a.window, scale, tl.MinutesTolerance)
}

func (a *App) pan(direction int) {
	if !a.window.Valid() {
		return
	}
	a.window = a.window.Shift(time.Duration(direction) * a.window.Duration() / panDivisor)
}

func (a *App) zoom(factor float64) {
	if !a.window.Valid() {
		return
	}
	a.window = a.window.Zoom(factor)
}

func (a *App) resetWindow() {
	if !a.selected {
		return
	}
	a.window = timeline.WindowForMonths(a.from, a.to, a.config.Location())
}

func (a *App) loading() bool {
	return a.layer.Status() == fetch.StatusLoading
}

func (a *App) rangeLabel() string {
	if !a.selected {
		return "no month selected"
	}
	if a.from.YMKey == a.to.YMKey {
		return a.from.Label
	}
	return fmt.Sprintf("%s – %s", a.from.Label, a.to.Label)
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Warn(format, args...)
}

func (a *App) logError(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Error(format, args...)
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}

func clampIndex(i, n int) int {
	if n <= 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
