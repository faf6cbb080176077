package sequencer

import (
	"errors"
	"fmt"
	"sync"

	"digi-sequence/debug"
	"digi-sequence/midi"
	"digi-sequence/pattern"
)

// Track is one MIDI output lane: a looping queue of program numbers and a
// cursor into it. A Track without an output is kept but never sends.
type Track struct {
	index int
	seq   *Sequencer

	mu         sync.Mutex
	output     midi.Sink
	monitor    midi.Source
	monitorSub midi.Subscription
	monitorGen uint64
	channel    int
	programs   []uint8
	cursor     int
	running    bool
	lastSeen   int // last program echoed by the monitor, -1 if none
}

// TrackState is a copy of a track for renderers
type TrackState struct {
	Index    int
	Output   string
	Monitor  string
	Channel  int
	Programs []uint8
	Cursor   int
	Running  bool
	LastSeen int
}

// Patterns renders the queue as pattern names
func (s TrackState) Patterns() []string {
	names := make([]string, len(s.Programs))
	for i, p := range s.Programs {
		names[i] = pattern.Name(p)
	}
	return names
}

func newTrack(index int, seq *Sequencer) *Track {
	return &Track{
		index:    index,
		seq:      seq,
		channel:  1,
		lastSeen: -1,
	}
}

func (t *Track) Index() int {
	return t.index
}

// Snapshot copies the current state
func (t *Track) Snapshot() TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TrackState{
		Index:    t.index,
		Channel:  t.channel,
		Programs: append([]uint8(nil), t.programs...),
		Cursor:   t.cursor,
		Running:  t.running,
		LastSeen: t.lastSeen,
	}
	if t.output != nil {
		st.Output = t.output.ID()
	}
	if t.monitor != nil {
		st.Monitor = t.monitor.ID()
	}
	return st
}

// Queue editing

// Enqueue appends a program number to the queue
func (t *Track) Enqueue(program uint8) error {
	if err := checkProgram(program); err != nil {
		return err
	}
	t.mu.Lock()
	t.programs = append(t.programs, program)
	t.mu.Unlock()
	t.seq.notify()
	return nil
}

// EnqueuePattern appends a pattern given by name, e.g. "B4"
func (t *Track) EnqueuePattern(name string) error {
	p, err := pattern.Parse(name)
	if err != nil {
		return err
	}
	program, _ := p.Program()
	return t.Enqueue(program)
}

// Update overwrites the queue entry at index
func (t *Track) Update(index int, program uint8) error {
	if err := checkProgram(program); err != nil {
		return err
	}
	t.mu.Lock()
	if index < 0 || index >= len(t.programs) {
		n := len(t.programs)
		t.mu.Unlock()
		return fmt.Errorf("%w: track %d slot %d (queue length %d)", ErrIndexOutOfRange, t.index, index, n)
	}
	t.programs[index] = program
	t.mu.Unlock()
	t.seq.notify()
	return nil
}

// UpdatePattern overwrites the queue entry at index with a named pattern
func (t *Track) UpdatePattern(index int, name string) error {
	p, err := pattern.Parse(name)
	if err != nil {
		return err
	}
	program, _ := p.Program()
	return t.Update(index, program)
}

// Clear empties the queue and rewinds the cursor
func (t *Track) Clear() {
	t.mu.Lock()
	t.programs = nil
	t.cursor = 0
	t.mu.Unlock()
	t.seq.notify()
}

func checkProgram(program uint8) error {
	if int(program) >= pattern.NumPrograms {
		return fmt.Errorf("%w: %d", pattern.ErrInvalidProgramNumber, program)
	}
	return nil
}

// Playback

// Advance moves the cursor to the next queued program, wrapping to the
// start, and sends it. An empty queue leaves the cursor at 0.
func (t *Track) Advance() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.programs) == 0 {
		return
	}
	t.cursor = (t.cursor + 1) % len(t.programs)
	t.emitLocked(t.programs[t.cursor])
	t.seq.notify()
}

// Start sends the program under the cursor and marks the track running.
// Tracks without an output or with an empty queue are left alone.
func (t *Track) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.readyLocked() {
		return
	}
	t.emitLocked(t.programs[t.cursor])
	t.running = true
	t.seq.notify()
}

// Stop marks the track stopped; nothing is sent
func (t *Track) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	t.seq.notify()
}

func (t *Track) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Track) ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readyLocked()
}

func (t *Track) readyLocked() bool {
	return t.output != nil && len(t.programs) > 0
}

func (t *Track) emitLocked(program uint8) {
	if t.output == nil {
		return
	}
	if err := t.output.SendProgramChange(t.channel, program); err != nil {
		debug.Warn("track", "track=%d program=%s: %v", t.index, pattern.Name(program), err)
		t.seq.warn(fmt.Errorf("track %d: %w", t.index+1, err))
		return
	}
	debug.Log("track", "track=%d port=%s ch=%d program=%d (%s)", t.index, t.output.ID(), t.channel, program, pattern.Name(program))
}

// Device binding

// SetOutput assigns the output device; nil unassigns it and stops the track
func (t *Track) SetOutput(out midi.Sink) {
	t.mu.Lock()
	t.output = out
	if out == nil {
		t.running = false
	}
	t.mu.Unlock()
	t.seq.notify()
}

// SetChannel sets the MIDI channel (1-16) used for output and monitoring
func (t *Track) SetChannel(channel int) error {
	if err := midi.ValidChannel(channel); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.channel
	t.channel = channel
	if src := t.monitor; src != nil {
		if err := t.subscribeMonitorLocked(src); err != nil {
			// keep listening where we were
			t.channel = prev
			if rerr := t.subscribeMonitorLocked(src); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
	}
	t.seq.notify()
	return nil
}

func (t *Track) Channel() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel
}

// SetMonitor listens for program-change echoes on src. Each echo while the
// track is running advances it. nil removes the monitor.
func (t *Track) SetMonitor(src midi.Source) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if src == nil {
		t.unsubscribeMonitorLocked()
		t.seq.notify()
		return nil
	}
	if err := t.subscribeMonitorLocked(src); err != nil {
		return err
	}
	t.seq.notify()
	return nil
}

func (t *Track) subscribeMonitorLocked(src midi.Source) error {
	t.unsubscribeMonitorLocked()
	t.monitorGen++
	gen := t.monitorGen
	sub, err := src.Subscribe(midi.TopicProgramChange, t.channel, func(ev midi.Event) {
		t.seq.enqueue(queued{track: t, gen: gen, ev: ev})
	})
	if err != nil {
		return fmt.Errorf("monitor %s: %w", src.ID(), err)
	}
	t.monitor = src
	t.monitorSub = sub
	return nil
}

func (t *Track) unsubscribeMonitorLocked() {
	if t.monitorSub != nil {
		t.monitorSub.Unsubscribe()
	}
	t.monitor = nil
	t.monitorSub = nil
	t.monitorGen++
	t.lastSeen = -1
}

// handleMonitor runs on the sequencer's consumer goroutine
func (t *Track) handleMonitor(gen uint64, ev midi.Event) {
	t.mu.Lock()
	if gen != t.monitorGen {
		t.mu.Unlock()
		return
	}
	t.lastSeen = int(ev.Value)
	running := t.running
	t.mu.Unlock()

	debug.Log("monitor", "track=%d echo %s", t.index, pattern.Name(ev.Value))
	if running {
		t.Advance()
	} else {
		t.seq.notify()
	}
}
