package midi

import (
	"fmt"
	"sync"
	"time"

	"digi-sequence/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// Input is a MIDI input port. It listens only while it has subscribers and
// survives unplugging: the DeviceManager re-attaches the port when it comes back.
type Input struct {
	name string

	mu        sync.Mutex
	port      drivers.In
	stopFunc  func()
	subs      map[uint64]*inputSub
	nextID    uint64
	transport uint64 // id of the transport subscriber, 0 = none

	// event timestamps are measured from epoch on the monotonic clock; the
	// driver's own timestamps are whole milliseconds and drift at clock rate
	epoch time.Time
	now   func() time.Time

	// listen is swapped out in tests
	listen func(drivers.In, func(gomidi.Message, int32)) (func(), error)
}

type inputSub struct {
	in      *Input
	id      uint64
	topic   Topic
	channel int
	handler Handler
}

// NewInput wraps an input port. port may be nil for a detached input.
func NewInput(name string, port drivers.In) *Input {
	return &Input{
		name:   name,
		port:   port,
		subs:   make(map[uint64]*inputSub),
		epoch:  time.Now(),
		now:    time.Now,
		listen: listenWithClock,
	}
}

func listenWithClock(port drivers.In, recv func(gomidi.Message, int32)) (func(), error) {
	// realtime messages are filtered by the driver unless asked for
	return gomidi.ListenTo(port, recv, gomidi.UseTimeCode())
}

func (in *Input) ID() string {
	return in.name
}

func (in *Input) String() string {
	return in.name
}

// Connected reports whether the underlying port is present
func (in *Input) Connected() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.port != nil
}

// Subscribe registers h for events of topic on channel (1-16).
func (in *Input) Subscribe(topic Topic, channel int, h Handler) (Subscription, error) {
	if err := ValidChannel(channel); err != nil {
		return nil, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if topic == TopicTransport && in.transport != 0 {
		return nil, fmt.Errorf("%s transport: %w", in.name, ErrTopicTaken)
	}

	in.nextID++
	sub := &inputSub{in: in, id: in.nextID, topic: topic, channel: channel, handler: h}
	in.subs[sub.id] = sub
	if topic == TopicTransport {
		in.transport = sub.id
	}

	if err := in.openLocked(); err != nil {
		delete(in.subs, sub.id)
		if topic == TopicTransport {
			in.transport = 0
		}
		return nil, err
	}
	debug.Log("midi-in", "%s subscribe topic=%d ch=%d (%d subs)", in.name, topic, channel, len(in.subs))
	return sub, nil
}

func (s *inputSub) Unsubscribe() {
	in := s.in
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.subs[s.id]; !ok {
		return
	}
	delete(in.subs, s.id)
	if in.transport == s.id {
		in.transport = 0
	}
	if len(in.subs) == 0 {
		in.closeLocked()
	}
	debug.Log("midi-in", "%s unsubscribe topic=%d ch=%d (%d subs)", in.name, s.topic, s.channel, len(in.subs))
}

func (in *Input) openLocked() error {
	if in.port == nil || in.stopFunc != nil {
		return nil
	}
	stop, err := in.listen(in.port, in.dispatch)
	if err != nil {
		return fmt.Errorf("open input %s: %w", in.name, err)
	}
	in.stopFunc = stop
	return nil
}

func (in *Input) closeLocked() {
	if in.stopFunc != nil {
		in.stopFunc()
		in.stopFunc = nil
	}
}

// attach swaps in a (re)discovered port and resumes listening if needed.
// The transport subscriber is sent a Reconnect event, since pulses from
// before the gap must not be paired with pulses after it.
func (in *Input) attach(port drivers.In) error {
	in.mu.Lock()
	in.closeLocked()
	in.port = port
	if len(in.subs) == 0 {
		in.mu.Unlock()
		return nil
	}
	if err := in.openLocked(); err != nil {
		in.mu.Unlock()
		return err
	}
	var h Handler
	if s, ok := in.subs[in.transport]; ok {
		h = s.handler
	}
	in.mu.Unlock()

	if h != nil {
		h(Event{Kind: Reconnect, Timestamp: in.elapsed()})
	}
	return nil
}

// detach stops listening; subscriptions are kept for a later attach
func (in *Input) detach() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closeLocked()
	in.port = nil
}

// elapsed returns milliseconds since epoch with microsecond resolution
func (in *Input) elapsed() float64 {
	return float64(in.now().Sub(in.epoch).Microseconds()) / 1000
}

// dispatch is the driver callback
func (in *Input) dispatch(msg gomidi.Message, _ int32) {
	ev, ok := ParseMessage(msg, in.elapsed())
	if !ok {
		return
	}

	in.mu.Lock()
	var handlers []Handler
	for _, s := range in.subs {
		if !s.topic.accepts(ev) {
			continue
		}
		if ev.Kind == ProgramChange && int(ev.Channel)+1 != s.channel {
			continue
		}
		handlers = append(handlers, s.handler)
	}
	in.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
