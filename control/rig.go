// Package control binds the sequencer to named MIDI ports and exposes the
// operations shared by the terminal UI and the MCP server.
package control

import (
	"errors"
	"fmt"
	"sync"

	"digi-sequence/config"
	"digi-sequence/debug"
	"digi-sequence/midi"
	"digi-sequence/pattern"
	"digi-sequence/sequencer"
)

var ErrUnknownPort = errors.New("unknown port")

// Rig ties a Sequencer to the DeviceManager's ports by name and mirrors every
// binding into the config, saving it when a path is set.
type Rig struct {
	Seq     *sequencer.Sequencer
	Devices *midi.DeviceManager

	mu   sync.Mutex
	cfg  *config.Config
	path string // "" = never save
}

func NewRig(seq *sequencer.Sequencer, devices *midi.DeviceManager, cfg *config.Config, path string) *Rig {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Rig{Seq: seq, Devices: devices, cfg: cfg, path: path}
}

// Config returns a copy of the current bindings
func (r *Rig) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *r.cfg
	c.Tracks = append([]config.TrackConfig(nil), r.cfg.Tracks...)
	return c
}

// Restore recreates the configured tracks and bindings. Ports that are not
// plugged in yet are bound anyway and start working when they appear. Every
// failure is returned; the rest of the config is still applied.
func (r *Rig) Restore() error {
	r.mu.Lock()
	cfg := *r.cfg
	tracks := append([]config.TrackConfig(nil), r.cfg.Tracks...)
	r.mu.Unlock()

	var errs []error
	r.Seq.SetAdvanceEvery(cfg.AdvanceBars)
	if cfg.Clock.PortName != "" {
		src := r.Devices.EnsureInput(cfg.Clock.PortName)
		if err := r.Seq.SetClockSource(src, cfg.Clock.Channel); err != nil {
			errs = append(errs, err)
		}
	}

	for i, tc := range tracks {
		t := r.trackAt(i)
		if err := t.SetChannel(tc.Channel); err != nil {
			errs = append(errs, fmt.Errorf("track %d: %w", i+1, err))
		}
		if tc.OutputPort != "" {
			t.SetOutput(r.Devices.EnsureOutput(tc.OutputPort))
		}
		if tc.MonitorPort != "" {
			if err := t.SetMonitor(r.Devices.EnsureInput(tc.MonitorPort)); err != nil {
				errs = append(errs, fmt.Errorf("track %d: %w", i+1, err))
			}
		}
	}
	debug.Log("rig", "restored %d tracks, clock=%q", len(tracks), cfg.Clock.PortName)
	return errors.Join(errs...)
}

// trackAt returns track i, creating tracks up to it
func (r *Rig) trackAt(i int) *sequencer.Track {
	for {
		if t, err := r.Seq.Track(i); err == nil {
			return t
		}
		r.Seq.CreateTrack()
	}
}

// AddTrack creates a track on channel 1 and records it
func (r *Rig) AddTrack() *sequencer.Track {
	t := r.Seq.CreateTrack()
	r.update(func(c *config.Config) {
		c.SetTrack(t.Index(), config.TrackConfig{Channel: t.Channel()})
	})
	return t
}

// Track returns track idx (0-based)
func (r *Rig) Track(idx int) (*sequencer.Track, error) {
	return r.Seq.Track(idx)
}

// BindClock makes the input called port the master clock
func (r *Rig) BindClock(port string, channel int) error {
	if port == "" {
		r.Seq.ClearClockSource()
		r.update(func(c *config.Config) { c.Clock.PortName = "" })
		return nil
	}
	in, ok := r.Devices.Input(port)
	if !ok {
		return fmt.Errorf("%w: input %q", ErrUnknownPort, port)
	}
	if err := r.Seq.SetClockSource(in, channel); err != nil {
		return err
	}
	r.update(func(c *config.Config) {
		c.Clock = config.ClockConfig{PortName: port, Channel: channel}
	})
	return nil
}

// BindOutput points a track at the output called port; "" unbinds
func (r *Rig) BindOutput(track int, port string) error {
	t, err := r.Seq.Track(track)
	if err != nil {
		return err
	}
	if port == "" {
		t.SetOutput(nil)
	} else {
		out, ok := r.Devices.Output(port)
		if !ok {
			return fmt.Errorf("%w: output %q", ErrUnknownPort, port)
		}
		t.SetOutput(out)
	}
	r.updateTrack(t, func(tc *config.TrackConfig) { tc.OutputPort = port })
	return nil
}

// BindMonitor listens for echoes from the input called port; "" unbinds
func (r *Rig) BindMonitor(track int, port string) error {
	t, err := r.Seq.Track(track)
	if err != nil {
		return err
	}
	var src midi.Source
	if port != "" {
		in, ok := r.Devices.Input(port)
		if !ok {
			return fmt.Errorf("%w: input %q", ErrUnknownPort, port)
		}
		src = in
	}
	if err := t.SetMonitor(src); err != nil {
		return err
	}
	r.updateTrack(t, func(tc *config.TrackConfig) { tc.MonitorPort = port })
	return nil
}

// SetChannel changes the MIDI channel of a track
func (r *Rig) SetChannel(track, channel int) error {
	t, err := r.Seq.Track(track)
	if err != nil {
		return err
	}
	if err := t.SetChannel(channel); err != nil {
		return err
	}
	r.updateTrack(t, func(tc *config.TrackConfig) { tc.Channel = channel })
	return nil
}

// SetAdvanceEvery changes the bar-quantised advance interval
func (r *Rig) SetAdvanceEvery(bars int) error {
	if bars < 0 {
		return fmt.Errorf("advance interval %d is negative", bars)
	}
	r.Seq.SetAdvanceEvery(bars)
	r.update(func(c *config.Config) { c.AdvanceBars = bars })
	return nil
}

// Enqueue appends named patterns to a track
func (r *Rig) Enqueue(track int, names ...string) error {
	t, err := r.Seq.Track(track)
	if err != nil {
		return err
	}
	// all or nothing: one bad name leaves the queue untouched
	programs := make([]uint8, 0, len(names))
	for _, name := range names {
		p, err := pattern.Parse(name)
		if err != nil {
			return err
		}
		program, err := p.Program()
		if err != nil {
			return err
		}
		programs = append(programs, program)
	}
	for _, program := range programs {
		if err := t.Enqueue(program); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rig) updateTrack(t *sequencer.Track, fn func(*config.TrackConfig)) {
	r.update(func(c *config.Config) {
		idx := t.Index()
		tc := config.TrackConfig{Channel: t.Channel()}
		if idx < len(c.Tracks) {
			tc = c.Tracks[idx]
		}
		fn(&tc)
		c.SetTrack(idx, tc)
	})
}

func (r *Rig) update(fn func(*config.Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.cfg)
	if r.path == "" {
		return
	}
	if err := r.cfg.SaveTo(r.path); err != nil {
		debug.Warn("rig", "save config: %v", err)
	}
}

// PortNames lists the connected ports
func (r *Rig) PortNames() (inputs, outputs []string) {
	for _, in := range r.Devices.Inputs() {
		inputs = append(inputs, in.ID())
	}
	for _, out := range r.Devices.Outputs() {
		outputs = append(outputs, out.ID())
	}
	return inputs, outputs
}

// Status is a snapshot of the whole rig
type Status struct {
	BPM          float64       `json:"bpm"`
	Clock        string        `json:"clock,omitempty"`
	ClockChannel int           `json:"clockChannel,omitempty"`
	Master       string        `json:"masterPattern,omitempty"`
	Running      bool          `json:"running"`
	AdvanceBars  int           `json:"advanceBars"`
	Dropped      uint64        `json:"droppedEvents,omitempty"`
	Tracks       []TrackStatus `json:"tracks"`
}

type TrackStatus struct {
	Track    int      `json:"track"` // 1-based
	Output   string   `json:"output,omitempty"`
	Monitor  string   `json:"monitor,omitempty"`
	Channel  int      `json:"channel"`
	Patterns []string `json:"patterns"`
	Cursor   int      `json:"cursor"`
	Current  string   `json:"current,omitempty"`
	Running  bool     `json:"running"`
	LastSeen string   `json:"lastSeen,omitempty"`
}

func (r *Rig) Status() Status {
	st := Status{
		BPM:         r.Seq.BPM(),
		Master:      r.Seq.MasterPattern(),
		Running:     r.Seq.Running(),
		AdvanceBars: r.Seq.AdvanceEvery(),
		Dropped:     r.Seq.Dropped(),
		Tracks:      []TrackStatus{},
	}
	if src, ch := r.Seq.ClockSource(); src != nil {
		st.Clock = src.ID()
		st.ClockChannel = ch
	}
	for _, t := range r.Seq.Tracks() {
		st.Tracks = append(st.Tracks, trackStatus(t.Snapshot()))
	}
	return st
}

func trackStatus(s sequencer.TrackState) TrackStatus {
	ts := TrackStatus{
		Track:    s.Index + 1,
		Output:   s.Output,
		Monitor:  s.Monitor,
		Channel:  s.Channel,
		Patterns: s.Patterns(),
		Cursor:   s.Cursor,
		Running:  s.Running,
	}
	if s.Cursor < len(s.Programs) {
		ts.Current = pattern.Name(s.Programs[s.Cursor])
	}
	if s.LastSeen >= 0 {
		ts.LastSeen = pattern.Name(uint8(s.LastSeen))
	}
	return ts
}
