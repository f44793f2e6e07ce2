// Package tui is the terminal front end for the prime scanner.
package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lyallcooper/primescan/internal/primes"
	"github.com/lyallcooper/primescan/internal/types"
)

const (
	fieldFirst = iota
	fieldLast
)

// maxListHeight is the tallest the results area grows before it scrolls
const maxListHeight = 10

// Model is the scan form
type Model struct {
	ctrl Controller

	inputs   [2]textinput.Model
	focus    int
	progress progress.Model
	spinner  spinner.Model
	spinning bool

	// Results area; every prime found stays reachable by scrolling
	list          viewport.Model
	listMaxHeight int

	// Scan being shown; runID is zero when idle
	runID        int64
	rng          primes.Range
	status       types.ScanStatus
	lastExamined int64
	results      []int64

	pending bool   // a control call is in flight
	err     string // modal error, dismissed with enter or esc
	errFor  int    // field to focus once the error is dismissed
}

// NewModel creates the form with the range inputs prefilled
func NewModel(ctrl Controller, defaultFirst, defaultLast int64) Model {
	m := Model{
		ctrl:     ctrl,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		status:   types.ScanStatusIdle,
		errFor:   -1,

		list:          viewport.New(60, 1),
		listMaxHeight: maxListHeight,
	}

	for i, val := range []int64{defaultFirst, defaultLast} {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 11
		ti.Width = 14
		ti.SetValue(strconv.FormatInt(val, 10))
		m.inputs[i] = ti
	}
	m.inputs[fieldFirst].Focus()

	return m
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, currentCmd(m.ctrl))
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.progress.Width = min(max(msg.Width-4, 10), 60)
		m.list.Width = max(msg.Width, 10)
		m.listMaxHeight = min(max(msg.Height-16, 3), maxListHeight)
		m.refreshResults()
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)

	case startedMsg:
		m.pending = false
		if m.runID != msg.id {
			m.load(msg.id, msg.rng, types.ScanStatusRunning, msg.rng.First, nil)
		}
		return m, m.startSpinner()

	case snapshotMsg:
		m.pending = false
		snap := msg.snap
		if snap.ID != m.runID {
			m.load(snap.ID, snap.Range, snap.Status, snap.LastExamined, snap.Primes)
		} else {
			m.lastExamined = snap.LastExamined
			m.setStatus(snap.Status)
		}
		return m, m.startSpinner()

	case errMsg:
		m.pending = false
		m.err = msg.err.Error()
		m.errFor = -1
		var rangeErr *primes.InvalidRangeError
		if errors.As(msg.err, &rangeErr) {
			m.errFor = fieldFirst
			if rangeErr.Field == "last" {
				m.errFor = fieldLast
			}
		}
		m.blurInputs()
		return m, nil

	case ScanEventMsg:
		m.apply(msg.Event)
		return m, m.startSpinner()

	case spinner.TickMsg:
		if m.status != types.ScanStatusRunning {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	// The error line swallows input until dismissed
	if m.err != "" {
		switch msg.String() {
		case "enter", "esc":
			m.err = ""
			if m.errFor >= 0 {
				m.focus = m.errFor
			}
			m.errFor = -1
			if m.status.Active() {
				return m, nil
			}
			return m, m.focusInputs()
		}
		return m, nil
	}

	switch msg.String() {
	case "pgup", "pgdown":
		return m.scrollResults(msg)
	}

	if m.status.Active() {
		switch msg.String() {
		case "up", "down":
			return m.scrollResults(msg)
		case "p", " ":
			return m.togglePause()
		case "c":
			if m.pending {
				return m, nil
			}
			m.pending = true
			return m, controlCmd(m.ctrl, m.ctrl.Cancel, m.runID)
		case "q", "esc":
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "esc":
		return m, tea.Quit
	case "tab", "shift+tab", "up", "down":
		m.focus = 1 - m.focus
		return m, m.focusInputs()
	case "enter":
		if m.pending {
			return m, nil
		}
		m.pending = true
		return m, startCmd(m.ctrl, m.inputs[fieldFirst].Value(), m.inputs[fieldLast].Value())
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) scrollResults(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) togglePause() (tea.Model, tea.Cmd) {
	if m.pending {
		return m, nil
	}
	m.pending = true
	if m.status == types.ScanStatusPaused {
		return m, controlCmd(m.ctrl, m.ctrl.Resume, m.runID)
	}
	return m, controlCmd(m.ctrl, m.ctrl.Pause, m.runID)
}

// apply folds one scanner event into the model
func (m *Model) apply(ev *types.ScanEvent) {
	if ev.RunID != m.runID {
		// A scan started elsewhere (scheduled job) is picked up when the
		// form isn't holding one
		if ev.Kind != types.EventStatus || ev.Status != types.ScanStatusRunning || m.status.Active() {
			return
		}
		m.load(ev.RunID, primes.Range{First: ev.First, Last: ev.Last}, ev.Status, ev.Value, nil)
		return
	}

	switch ev.Kind {
	case types.EventPrime:
		if n := len(m.results); n > 0 && ev.Value <= m.results[n-1] {
			return
		}
		m.results = append(m.results, ev.Value)
		m.lastExamined = ev.Value
		m.refreshResults()
	case types.EventProgress:
		m.lastExamined = ev.Value
	case types.EventStatus:
		m.lastExamined = ev.Value
		m.setStatus(ev.Status)
	}
}

func (m *Model) load(id int64, rng primes.Range, status types.ScanStatus, lastExamined int64, results []int64) {
	m.runID = id
	m.rng = rng
	m.lastExamined = lastExamined
	m.results = append([]int64(nil), results...)
	m.list.SetContent("")
	m.refreshResults()
	m.inputs[fieldFirst].SetValue(strconv.FormatInt(rng.First, 10))
	m.inputs[fieldLast].SetValue(strconv.FormatInt(rng.Last, 10))
	m.setStatus(status)
}

func (m *Model) setStatus(status types.ScanStatus) {
	m.status = status
	if status.Active() {
		m.blurInputs()
		return
	}

	// Finished scans drop the bar back to the start of the range
	if status != types.ScanStatusIdle {
		m.lastExamined = m.rng.First
	}
	if m.err == "" {
		m.focusInputs()
	}
}

// refreshResults re-renders the results area, following the newest prime
// unless the list has been scrolled back
func (m *Model) refreshResults() {
	follow := m.list.AtBottom()
	text := m.resultsText()
	m.list.SetContent(text)
	m.list.Height = min(strings.Count(text, "\n")+1, m.listMaxHeight)
	if follow {
		m.list.GotoBottom()
	}
}

func (m *Model) blurInputs() {
	for i := range m.inputs {
		m.inputs[i].Blur()
	}
}

func (m *Model) focusInputs() tea.Cmd {
	m.blurInputs()
	return m.inputs[m.focus].Focus()
}

func (m *Model) startSpinner() tea.Cmd {
	if m.status != types.ScanStatusRunning || m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

// percent is how far lastExamined has advanced through the range
func percent(rng primes.Range, lastExamined int64) float64 {
	if rng.Empty() {
		return 1
	}
	done := float64(lastExamined - rng.First + 1)
	total := float64(rng.Last - rng.First + 1)
	return min(max(done/total, 0), 1)
}

// View implements tea.Model
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Prime Numbers"))
	b.WriteString("\n")

	for i, label := range []string{"First", "Last"} {
		input := m.inputs[i].View()
		if m.status.Active() {
			input = lockedStyle.Render(m.inputs[i].Value())
		}
		b.WriteString(labelStyle.Render(label) + " " + input + "\n")
	}
	b.WriteString("\n")

	if m.runID != 0 {
		if m.status.Active() {
			b.WriteString(m.progress.ViewAs(percent(m.rng, m.lastExamined)))
			b.WriteString("\n")
		}
		b.WriteString(m.statusLine())
		b.WriteString("\n\n")

		b.WriteString("Primes " + countStyle.Render(fmt.Sprintf("(%d)", len(m.results))) + "\n")
		if len(m.results) == 0 {
			if m.status == types.ScanStatusCompleted {
				b.WriteString(noneStyle.Render("None."))
			}
		} else {
			b.WriteString(m.list.View())
		}
		b.WriteString("\n")
	}

	if m.err != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.err + "\n(enter to dismiss)"))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(m.help()))
	b.WriteString("\n")

	return b.String()
}

func (m Model) statusLine() string {
	switch m.status {
	case types.ScanStatusRunning:
		return m.spinner.View() + statusStyle.Render("Searching…")
	case types.ScanStatusPaused:
		return statusStyle.Render("Paused at " + strconv.FormatInt(m.lastExamined, 10) + ".")
	case types.ScanStatusCompleted:
		return statusStyle.Render("Done.")
	case types.ScanStatusCancelled:
		return statusStyle.Render("Cancelled.")
	}
	return ""
}

// resultsText lays out every prime found, wrapped to the list width
func (m Model) resultsText() string {
	parts := make([]string, len(m.results))
	for i, p := range m.results {
		parts[i] = strconv.FormatInt(p, 10)
	}
	return wrap(strings.Join(parts, " "), m.list.Width)
}

// wrap breaks text on spaces so no line exceeds width
func wrap(text string, width int) string {
	var b strings.Builder
	lineLen := 0
	for i, word := range strings.Fields(text) {
		if i > 0 {
			if lineLen+1+len(word) > width {
				b.WriteString("\n")
				lineLen = 0
			} else {
				b.WriteString(" ")
				lineLen++
			}
		}
		b.WriteString(word)
		lineLen += len(word)
	}
	return b.String()
}

func (m Model) help() string {
	if m.err != "" {
		return "enter dismiss"
	}
	switch m.status {
	case types.ScanStatusRunning:
		return "p pause • c cancel • ↑/↓ scroll • q quit"
	case types.ScanStatusPaused:
		return "p resume • c cancel • ↑/↓ scroll • q quit"
	}
	return "enter start • tab switch field • esc quit"
}
