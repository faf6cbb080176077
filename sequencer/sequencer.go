package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"digi-sequence/clock"
	"digi-sequence/debug"
	"digi-sequence/midi"
	"digi-sequence/pattern"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNoClockSource   = errors.New("no clock source bound")
)

// Ingestible accepts clock pulses and can be rebound to a new source
type Ingestible interface {
	Ingest(timestamp float64) (bpm float64, ok bool)
	Reset()
	BPM() float64
}

// Advanceable accepts advance triggers
type Advanceable interface {
	Advance()
}

var (
	_ Ingestible  = (*clock.Estimator)(nil)
	_ Advanceable = (*Track)(nil)
)

// queueSize bounds the inbound event queue; at 300 bpm the clock alone
// delivers 120 pulses a second
const queueSize = 1024

// queued is an inbound event tagged with the binding it arrived through.
// Events whose generation is no longer current are dropped by the consumer.
type queued struct {
	track *Track // nil = clock source
	gen   uint64
	ev    midi.Event
}

// Sequencer owns the tracks and the single clock binding. Inbound MIDI is
// queued by the driver callbacks and applied in arrival order by one
// consumer (Run or Flush).
type Sequencer struct {
	mu        sync.Mutex
	tracks    []*Track
	estimator Ingestible

	clockSrc     midi.Source
	clockChannel int
	clockSubs    []midi.Subscription
	clockGen     uint64

	running       bool
	pulses        int // clock pulses since Start
	advanceEvery  int // pulses between automatic advances, 0 = off
	masterPattern int // last program change from the clock source, -1 if none

	events   chan queued
	dropped  atomic.Uint64
	updates  chan struct{}
	warnings chan error
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithAdvanceEvery advances every running track each n bars of 4/4 clock
func WithAdvanceEvery(bars int) Option {
	return func(s *Sequencer) {
		s.advanceEvery = barsToPulses(bars)
	}
}

func barsToPulses(bars int) int {
	if bars <= 0 {
		return 0
	}
	return bars * 4 * clock.PPQ
}

// New creates a sequencer with no tracks and no clock source
func New(opts ...Option) *Sequencer {
	est := clock.New()
	s := &Sequencer{
		estimator:     est,
		masterPattern: -1,
		events:        make(chan queued, queueSize),
		updates:       make(chan struct{}, 1),
		warnings:      make(chan error, 16),
	}
	est.OnTempo(func(bpm float64) {
		debug.LogEvery(clock.PPQ*4, "clock", "bpm=%.1f", bpm)
		s.notify()
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tracks

// CreateTrack appends a new track. Tracks are never removed.
func (s *Sequencer) CreateTrack() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newTrack(len(s.tracks), s)
	s.tracks = append(s.tracks, t)
	debug.Log("seq", "created track %d", t.index)
	s.notify()
	return t
}

// Tracks returns the tracks in creation order
func (s *Sequencer) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Track(nil), s.tracks...)
}

// Track returns the track at idx
func (s *Sequencer) Track(idx int) (*Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.tracks) {
		return nil, fmt.Errorf("%w: track %d of %d", ErrIndexOutOfRange, idx, len(s.tracks))
	}
	return s.tracks[idx], nil
}

// Clock binding

// SetClockSource makes src the only device feeding the tempo estimator.
// The previous binding is released and the estimator reset before the new
// subscription exists, and all of it happens under the sequencer lock, so
// pulses from two devices can never mix in the rolling windows.
func (s *Sequencer) SetClockSource(src midi.Source, channel int) error {
	if src == nil {
		return fmt.Errorf("%w: nil source", ErrNoClockSource)
	}
	if err := midi.ValidChannel(channel); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.unbindClockLocked()
	s.estimator.Reset()

	gen := s.clockGen
	handler := func(ev midi.Event) {
		s.enqueue(queued{gen: gen, ev: ev})
	}

	transport, err := src.Subscribe(midi.TopicTransport, channel, handler)
	if err != nil {
		return fmt.Errorf("bind clock %s: %w", src.ID(), err)
	}
	programs, err := src.Subscribe(midi.TopicProgramChange, channel, handler)
	if err != nil {
		transport.Unsubscribe()
		return fmt.Errorf("bind clock %s: %w", src.ID(), err)
	}

	s.clockSrc = src
	s.clockChannel = channel
	s.clockSubs = []midi.Subscription{transport, programs}
	debug.Log("seq", "clock source %s ch=%d (gen %d)", src.ID(), channel, gen)
	s.notify()
	return nil
}

// ClearClockSource releases the clock binding
func (s *Sequencer) ClearClockSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbindClockLocked()
	s.estimator.Reset()
	s.notify()
}

func (s *Sequencer) unbindClockLocked() {
	for _, sub := range s.clockSubs {
		sub.Unsubscribe()
	}
	s.clockSubs = nil
	s.clockSrc = nil
	s.clockChannel = 0
	s.masterPattern = -1
	s.pulses = 0
	// anything still queued from the old binding is now stale
	s.clockGen++
}

// ClockSource returns the bound source and channel, nil if unbound
func (s *Sequencer) ClockSource() (midi.Source, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockSrc, s.clockChannel
}

// Transport

// Start sends the current pattern of every track that has a queue and an
// output. Tracks without an output are skipped. Refused with
// ErrNoClockSource until a clock source is bound.
func (s *Sequencer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clockSrc == nil {
		return ErrNoClockSource
	}
	for _, t := range s.tracks {
		if t.ready() {
			t.Start()
		}
	}
	s.running = true
	s.pulses = 0
	debug.Log("seq", "start (%d tracks)", len(s.tracks))
	s.notify()
	return nil
}

// Stop stops every track
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		t.Stop()
	}
	s.running = false
	debug.Log("seq", "stop")
	s.notify()
}

func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetAdvanceEvery changes the automatic advance interval; 0 turns it off
func (s *Sequencer) SetAdvanceEvery(bars int) {
	s.mu.Lock()
	s.advanceEvery = barsToPulses(bars)
	s.mu.Unlock()
	s.notify()
}

// AdvanceEvery returns the automatic advance interval in bars
func (s *Sequencer) AdvanceEvery() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceEvery / (4 * clock.PPQ)
}

// BPM returns the estimated tempo of the clock source, 0 while warming up
func (s *Sequencer) BPM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimator.BPM()
}

// MasterPattern returns the last pattern announced by the clock source
func (s *Sequencer) MasterPattern() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterPattern < 0 {
		return ""
	}
	return pattern.Name(uint8(s.masterPattern))
}

// Event queue

func (s *Sequencer) enqueue(q queued) {
	select {
	case s.events <- q:
	default:
		// full: drop the newest rather than reorder
		n := s.dropped.Add(1)
		debug.Warn("seq", "event queue full, dropped %s (%d total)", q.ev.Kind, n)
	}
}

// Dropped returns how many inbound events were lost to a full queue
func (s *Sequencer) Dropped() uint64 {
	return s.dropped.Load()
}

// Run applies queued events until ctx is done. It is the single consumer;
// do not call Flush while Run is active.
func (s *Sequencer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-s.events:
			s.handle(q)
		}
	}
}

// Flush applies every event queued so far and returns how many it saw
func (s *Sequencer) Flush() int {
	n := 0
	for {
		select {
		case q := <-s.events:
			s.handle(q)
			n++
		default:
			return n
		}
	}
}

func (s *Sequencer) handle(q queued) {
	if q.track != nil {
		q.track.handleMonitor(q.gen, q.ev)
		return
	}

	s.mu.Lock()
	if q.gen != s.clockGen || s.clockSrc == nil {
		s.mu.Unlock()
		return
	}

	switch q.ev.Kind {
	case midi.Clock:
		s.estimator.Ingest(q.ev.Timestamp)
		var due []Advanceable
		if s.running {
			s.pulses++
			if s.advanceEvery > 0 && s.pulses%s.advanceEvery == 0 {
				for _, t := range s.tracks {
					if t.Running() {
						due = append(due, t)
					}
				}
			}
		}
		s.mu.Unlock()
		for _, t := range due {
			t.Advance()
		}
		return

	case midi.Reconnect:
		// the clock device was replugged; its pulses restart from a gap
		s.estimator.Reset()
		debug.Log("transport", "clock source %s reconnected", s.clockSrc.ID())
		s.notify()

	case midi.Start, midi.Continue, midi.Stop:
		debug.Log("transport", "%s from %s at %.0fms", q.ev.Kind, s.clockSrc.ID(), q.ev.Timestamp)

	case midi.ProgramChange:
		s.masterPattern = int(q.ev.Value)
		debug.Log("transport", "master pattern %s", pattern.Name(q.ev.Value))
		s.notify()
	}
	s.mu.Unlock()
}

// Notifications

// Updates fires (coalesced) whenever something a display shows has changed
func (s *Sequencer) Updates() <-chan struct{} {
	return s.updates
}

// Warnings delivers non-fatal send failures
func (s *Sequencer) Warnings() <-chan error {
	return s.warnings
}

func (s *Sequencer) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Sequencer) warn(err error) {
	select {
	case s.warnings <- err:
	default:
	}
}
