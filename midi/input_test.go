package midi

import (
	"errors"
	"math"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"digi-sequence/clock"
)

// fakeListener stands in for gomidi.ListenTo
type fakeListener struct {
	recv    func(gomidi.Message, int32)
	opened  int
	stopped int
	err     error
}

func (f *fakeListener) listen(port drivers.In, recv func(gomidi.Message, int32)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opened++
	f.recv = recv
	return func() {
		f.stopped++
		f.recv = nil
	}, nil
}

func newTestInput(connected bool) (*Input, *fakeListener) {
	var port drivers.In
	if connected {
		port = &fakeIn{name: "clock"}
	}
	in := NewInput("clock", port)
	fl := &fakeListener{}
	in.listen = fl.listen
	return in, fl
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		msg  gomidi.Message
		want Event
		ok   bool
	}{
		{gomidi.TimingClock(), Event{Kind: Clock, Timestamp: 42}, true},
		{gomidi.Start(), Event{Kind: Start, Timestamp: 42}, true},
		{gomidi.Continue(), Event{Kind: Continue, Timestamp: 42}, true},
		{gomidi.Stop(), Event{Kind: Stop, Timestamp: 42}, true},
		{gomidi.ProgramChange(3, 27), Event{Kind: ProgramChange, Channel: 3, Value: 27, Timestamp: 42}, true},
		{gomidi.NoteOn(0, 60, 100), Event{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseMessage(tt.msg, 42)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseMessage(%v) = %+v, %v; want %+v, %v", tt.msg, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTransportTopicSingleSubscriber(t *testing.T) {
	in, _ := newTestInput(true)

	sub, err := in.Subscribe(TopicTransport, 1, func(Event) {})
	if err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := in.Subscribe(TopicTransport, 2, func(Event) {}); !errors.Is(err, ErrTopicTaken) {
		t.Fatalf("second subscribe error = %v, want ErrTopicTaken", err)
	}

	sub.Unsubscribe()
	if _, err := in.Subscribe(TopicTransport, 2, func(Event) {}); err != nil {
		t.Fatalf("subscribe after unsubscribe: %v", err)
	}
}

func TestSubscribeRejectsBadChannel(t *testing.T) {
	in, _ := newTestInput(true)
	for _, ch := range []int{0, 17, -1} {
		if _, err := in.Subscribe(TopicProgramChange, ch, func(Event) {}); !errors.Is(err, ErrInvalidChannel) {
			t.Errorf("channel %d: error = %v, want ErrInvalidChannel", ch, err)
		}
	}
}

func TestDispatchRoutesByTopicAndChannel(t *testing.T) {
	in, fl := newTestInput(true)

	var transport, ch1, ch2 []Event
	in.Subscribe(TopicTransport, 5, func(ev Event) { transport = append(transport, ev) })
	in.Subscribe(TopicProgramChange, 1, func(ev Event) { ch1 = append(ch1, ev) })
	in.Subscribe(TopicProgramChange, 2, func(ev Event) { ch2 = append(ch2, ev) })

	if fl.opened != 1 {
		t.Fatalf("listener opened %d times, want 1", fl.opened)
	}

	fl.recv(gomidi.TimingClock(), 10)
	fl.recv(gomidi.Start(), 11)
	fl.recv(gomidi.ProgramChange(0, 5), 12) // channel 1
	fl.recv(gomidi.ProgramChange(1, 6), 13) // channel 2
	fl.recv(gomidi.NoteOn(0, 60, 1), 14)

	if len(transport) != 2 || transport[0].Kind != Clock || transport[1].Kind != Start {
		t.Errorf("transport got %+v", transport)
	}
	if len(ch1) != 1 || ch1[0].Value != 5 {
		t.Errorf("channel 1 got %+v", ch1)
	}
	if len(ch2) != 1 || ch2[0].Value != 6 {
		t.Errorf("channel 2 got %+v", ch2)
	}
}

func TestListenerLifecycle(t *testing.T) {
	in, fl := newTestInput(true)

	a, _ := in.Subscribe(TopicTransport, 1, func(Event) {})
	b, _ := in.Subscribe(TopicProgramChange, 1, func(Event) {})
	a.Unsubscribe()
	if fl.stopped != 0 {
		t.Fatal("listener stopped while a subscriber remains")
	}
	b.Unsubscribe()
	b.Unsubscribe() // second call is a no-op
	if fl.stopped != 1 {
		t.Fatalf("listener stopped %d times, want 1", fl.stopped)
	}
}

func TestDetachedInputKeepsSubscriptions(t *testing.T) {
	in, fl := newTestInput(false)

	var got []Event
	if _, err := in.Subscribe(TopicTransport, 1, func(ev Event) { got = append(got, ev) }); err != nil {
		t.Fatalf("subscribe on detached input: %v", err)
	}
	if fl.opened != 0 {
		t.Fatal("listener opened without a port")
	}

	if err := in.attach(&fakeIn{name: "clock"}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if fl.opened != 1 || !in.Connected() {
		t.Fatalf("after attach opened=%d connected=%v", fl.opened, in.Connected())
	}
	fl.recv(gomidi.TimingClock(), 1)

	in.detach()
	if fl.stopped != 1 || in.Connected() {
		t.Fatalf("after detach stopped=%d connected=%v", fl.stopped, in.Connected())
	}
	if len(got) != 2 || got[0].Kind != Reconnect || got[1].Kind != Clock {
		t.Errorf("got %+v, want reconnect then clock", got)
	}
}

func TestSubscribeListenFailure(t *testing.T) {
	in, fl := newTestInput(true)
	fl.err = errors.New("busy")

	if _, err := in.Subscribe(TopicTransport, 1, func(Event) {}); err == nil {
		t.Fatal("expected error")
	}
	fl.err = nil
	if _, err := in.Subscribe(TopicTransport, 1, func(Event) {}); err != nil {
		t.Fatalf("transport slot leaked after failure: %v", err)
	}
}

func TestReattachSendsReconnect(t *testing.T) {
	in, _ := newTestInput(true)

	var transport, programs []Event
	in.Subscribe(TopicTransport, 1, func(ev Event) { transport = append(transport, ev) })
	in.Subscribe(TopicProgramChange, 1, func(ev Event) { programs = append(programs, ev) })

	in.detach()
	if err := in.attach(&fakeIn{name: "clock"}); err != nil {
		t.Fatal(err)
	}
	if len(transport) != 1 || transport[0].Kind != Reconnect {
		t.Errorf("transport got %+v", transport)
	}
	if len(programs) != 0 {
		t.Errorf("program change subscriber got %+v", programs)
	}

	// no transport subscriber, nobody to tell
	quiet, _ := newTestInput(false)
	var got []Event
	quiet.Subscribe(TopicProgramChange, 1, func(ev Event) { got = append(got, ev) })
	quiet.attach(&fakeIn{name: "clock"})
	if len(got) != 0 {
		t.Errorf("got %+v", got)
	}
}

// stepClock advances by step on every reading
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

// readerIn delivers bytes through the driver package's Reader, which is how
// rtmididrv timestamps incoming messages.
type readerIn struct {
	fakeIn
	rd *drivers.Reader
}

func (p *readerIn) Listen(onMsg func([]byte, int32), config drivers.ListenConfig) (func(), error) {
	p.rd = drivers.NewReader(config, onMsg)
	return func() { p.rd = nil }, nil
}

func TestClockTimestampsKeepSubMillisecondPrecision(t *testing.T) {
	port := &readerIn{fakeIn: fakeIn{name: "clock"}}
	in := NewInput("clock", port)
	step := 500 * time.Millisecond / clock.PPQ
	sc := &stepClock{t: time.Unix(0, 0), step: step}
	in.epoch = sc.t
	in.now = sc.now

	est := clock.New()
	var driverMs []int32
	_, err := in.Subscribe(TopicTransport, 1, func(ev Event) {
		if ev.Kind == Clock {
			est.Ingest(ev.Timestamp)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	// a second listener on the raw driver output, for comparison
	inner := port.rd.OnMsg
	port.rd.OnMsg = func(b []byte, ms int32) {
		driverMs = append(driverMs, ms)
		inner(b, ms)
	}

	delta := int32(math.Round(step.Seconds() * 1000))
	for i := 0; i < 20*clock.PPQ; i++ {
		port.rd.EachMessage([]byte{0xF8}, delta)
	}

	if len(driverMs) != 20*clock.PPQ {
		t.Fatalf("driver delivered %d pulses", len(driverMs))
	}
	if d := driverMs[1] - driverMs[0]; d != 21 {
		t.Fatalf("driver interval = %dms, expected the rounded 21ms", d)
	}
	if got := est.BPM(); got != 120.0 {
		t.Errorf("BPM after 20 beats of steady 120 bpm = %.1f, want 120.0", got)
	}
}
