package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"digi-sequence/control"
	"digi-sequence/midi"
	"digi-sequence/sequencer"
	"digi-sequence/theme"
)

type prompt int

const (
	promptNone    prompt = iota
	promptEnqueue        // "A1 A2 B3"
	promptUpdate         // "2 C4"
)

type Model struct {
	Rig   *control.Rig
	Theme *theme.Theme

	selected int
	prompt   prompt
	input    textinput.Model
	message  string
	warning  string
	quitting bool
}

type UpdateMsg struct{}

type WarningMsg struct{ Err error }

type DeviceEventMsg midi.DeviceEvent

func NewModel(rig *control.Rig, th *theme.Theme) Model {
	ti := textinput.New()
	ti.CharLimit = 128
	ti.Width = 40
	return Model{
		Rig:   rig,
		Theme: th,
		input: ti,
	}
}

func ListenForUpdates(seq *sequencer.Sequencer) tea.Cmd {
	return func() tea.Msg {
		<-seq.Updates()
		return UpdateMsg{}
	}
}

func ListenForWarnings(seq *sequencer.Sequencer) tea.Cmd {
	return func() tea.Msg {
		return WarningMsg{Err: <-seq.Warnings()}
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		ListenForUpdates(m.Rig.Seq),
		ListenForWarnings(m.Rig.Seq),
		ListenForDevices(m.Rig.Devices),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompt != promptNone {
			return m.updatePrompt(msg)
		}
		return m.updateKeys(msg)

	case UpdateMsg:
		return m, ListenForUpdates(m.Rig.Seq)

	case WarningMsg:
		m.warning = msg.Err.Error()
		return m, ListenForWarnings(m.Rig.Seq)

	case DeviceEventMsg:
		verb := "connected"
		if msg.Type == midi.DeviceDisconnected {
			verb = "disconnected"
		}
		m.message = fmt.Sprintf("%s %s", msg.ID, verb)
		return m, ListenForDevices(m.Rig.Devices)
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.warning = ""
	seq := m.Rig.Seq
	tracks := seq.Tracks()

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		seq.Stop()
		return m, tea.Quit

	case "p":
		if seq.Running() {
			seq.Stop()
		} else if err := seq.Start(); err != nil {
			m.warning = err.Error()
		}

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(tracks)-1 {
			m.selected++
		}

	case "n":
		t := m.Rig.AddTrack()
		m.selected = t.Index()
		m.message = fmt.Sprintf("track %d created", t.Index()+1)

	case "c":
		ins, _ := m.Rig.PortNames()
		src, ch := seq.ClockSource()
		if ch == 0 {
			ch = m.Rig.Config().Clock.Channel
		}
		m.setErr(m.Rig.BindClock(next(ins, idOf(src)), ch))

	case "[", "]":
		src, ch := seq.ClockSource()
		if src == nil {
			m.warning = sequencer.ErrNoClockSource.Error()
			break
		}
		m.setErr(m.Rig.BindClock(src.ID(), stepChannel(ch, msg.String() == "]")))

	case "+", "=":
		m.setErr(m.Rig.SetAdvanceEvery(seq.AdvanceEvery() + 1))

	case "-", "_":
		if n := seq.AdvanceEvery(); n > 0 {
			m.setErr(m.Rig.SetAdvanceEvery(n - 1))
		}
	}

	t := m.selectedTrack(tracks)
	if t == nil {
		return m, nil
	}
	st := t.Snapshot()

	switch msg.String() {
	case "o":
		_, outs := m.Rig.PortNames()
		m.setErr(m.Rig.BindOutput(st.Index, next(outs, st.Output)))

	case "m":
		ins, _ := m.Rig.PortNames()
		m.setErr(m.Rig.BindMonitor(st.Index, next(ins, st.Monitor)))

	case "h", "l":
		m.setErr(m.Rig.SetChannel(st.Index, stepChannel(st.Channel, msg.String() == "l")))

	case " ":
		t.Advance()

	case "x":
		t.Clear()

	case "a":
		return m.openPrompt(promptEnqueue, "add: ")

	case "e":
		return m.openPrompt(promptUpdate, "edit <pos> <pattern>: ")
	}
	return m, nil
}

func (m Model) openPrompt(p prompt, label string) (tea.Model, tea.Cmd) {
	m.prompt = p
	m.input.Prompt = label
	m.input.SetValue("")
	return m, m.input.Focus()
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.prompt = promptNone
		m.input.Blur()
		return m, nil

	case tea.KeyEnter:
		value := m.input.Value()
		p := m.prompt
		m.prompt = promptNone
		m.input.Blur()
		m.submit(p, value)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit(p prompt, value string) {
	t := m.selectedTrack(m.Rig.Seq.Tracks())
	if t == nil {
		m.warning = "no track selected"
		return
	}

	switch p {
	case promptEnqueue:
		names := strings.Fields(strings.ReplaceAll(value, ",", " "))
		m.setErr(m.Rig.Enqueue(t.Index(), names...))

	case promptUpdate:
		fields := strings.Fields(value)
		if len(fields) != 2 {
			m.warning = "expected <position> <pattern>"
			return
		}
		pos, err := strconv.Atoi(fields[0])
		if err != nil {
			m.warning = fmt.Sprintf("bad position %q", fields[0])
			return
		}
		m.setErr(t.UpdatePattern(pos-1, fields[1]))
	}
}

func (m *Model) setErr(err error) {
	if err != nil {
		m.warning = err.Error()
	}
}

func (m Model) selectedTrack(tracks []*sequencer.Track) *sequencer.Track {
	if m.selected < 0 || m.selected >= len(tracks) {
		return nil
	}
	return tracks[m.selected]
}

// next returns the name after current in names, cycling through "" (unbound)
func next(names []string, current string) string {
	cycle := append([]string{""}, names...)
	for i, n := range cycle {
		if n == current {
			return cycle[(i+1)%len(cycle)]
		}
	}
	return cycle[0]
}

func stepChannel(ch int, up bool) int {
	if up {
		return ch%16 + 1
	}
	return (ch+14)%16 + 1
}

func idOf(src midi.Source) string {
	if src == nil {
		return ""
	}
	return src.ID()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	st := m.Rig.Status()

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	fgStyle := lipgloss.NewStyle().Foreground(m.Theme.FG())
	selStyle := lipgloss.NewStyle().Foreground(m.Theme.Cursor()).Bold(true)
	playStyle := lipgloss.NewStyle().Foreground(m.Theme.Success())
	warnStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	playState := "STOP"
	if st.Running {
		playState = "PLAY"
	}
	bpm := "---.-"
	if st.BPM > 0 {
		bpm = fmt.Sprintf("%5.1f", st.BPM)
	}
	clock := "none"
	if st.Clock != "" {
		clock = fmt.Sprintf("%s ch%d", st.Clock, st.ClockChannel)
	}
	master := st.Master
	if master == "" {
		master = "--"
	}
	advance := "echo"
	if st.AdvanceBars > 0 {
		advance = fmt.Sprintf("%d bar", st.AdvanceBars)
	}

	header := headerStyle.Render(fmt.Sprintf("digi-sequence  %s  %sbpm  clock:%s  master:%s  advance:%s",
		playState, bpm, clock, master, advance))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")

	if len(st.Tracks) == 0 {
		out.WriteString(dimStyle.Render("  no tracks, press n to create one"))
		out.WriteString("\n")
	}
	for i, ts := range st.Tracks {
		marker := "  "
		style := fgStyle
		if i == m.selected {
			marker = "▸ "
			style = selStyle
		}
		info := fmt.Sprintf("%s%d ch%02d → %-16s ⟲ %-16s ", marker, ts.Track, ts.Channel, orDash(ts.Output), orDash(ts.Monitor))
		out.WriteString(style.Render(info))
		out.WriteString(m.renderQueue(ts, playStyle, dimStyle, fgStyle))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	if m.prompt != promptNone {
		out.WriteString(m.input.View())
		out.WriteString("\n")
	}
	if m.warning != "" {
		out.WriteString(warnStyle.Render("! " + m.warning))
		out.WriteString("\n")
	} else if m.message != "" {
		out.WriteString(dimStyle.Render(m.message))
		out.WriteString("\n")
	}

	help := "j/k:track  n:new  a:add  e:edit  x:clear  space:advance  o/m:output/monitor  h/l:channel  c:clock  [/]:clock ch  +/-:bars  p:play  q:quit"
	out.WriteString(dimStyle.Render(help))
	return out.String()
}

func (m Model) renderQueue(ts control.TrackStatus, playStyle, dimStyle, fgStyle lipgloss.Style) string {
	sym := m.Theme.Symbols
	if len(ts.Patterns) == 0 {
		return dimStyle.Render(string(sym.Empty))
	}
	cells := make([]string, len(ts.Patterns))
	for i, name := range ts.Patterns {
		switch {
		case i == ts.Cursor && ts.Running:
			cells[i] = playStyle.Render(string(sym.Playing) + name)
		case i == ts.Cursor:
			cells[i] = fgStyle.Render(string(sym.Current) + name)
		case name == ts.LastSeen:
			cells[i] = dimStyle.Render(string(sym.Echoed) + name)
		default:
			cells[i] = dimStyle.Render(string(sym.Queued) + name)
		}
	}
	return strings.Join(cells, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
