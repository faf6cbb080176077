package sequencer_test

import (
	"errors"
	"sync"

	"digi-sequence/midi"
)

type sent struct {
	channel int
	program uint8
}

// fakeSink records program changes
type fakeSink struct {
	id   string
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSink) ID() string { return f.id }

func (f *fakeSink) SendProgramChange(channel int, program uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{channel, program})
	return nil
}

func (f *fakeSink) programs() []uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ps []uint8
	for _, s := range f.sent {
		ps = append(ps, s.program)
	}
	return ps
}

// fakeSource keeps every handler it was ever given, so tests can play a
// driver that delivers late to a subscription that has since gone away.
type fakeSource struct {
	id   string
	subs []*fakeSub
	fail error

	failChannel int // refuse subscriptions on this channel only
}

type fakeSub struct {
	topic   midi.Topic
	channel int
	handler midi.Handler
	active  bool
}

func (s *fakeSub) Unsubscribe() { s.active = false }

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) Subscribe(topic midi.Topic, channel int, h midi.Handler) (midi.Subscription, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	if f.failChannel != 0 && channel == f.failChannel {
		return nil, errUnplugged
	}
	if topic == midi.TopicTransport {
		for _, s := range f.subs {
			if s.active && s.topic == midi.TopicTransport {
				return nil, midi.ErrTopicTaken
			}
		}
	}
	sub := &fakeSub{topic: topic, channel: channel, handler: h, active: true}
	f.subs = append(f.subs, sub)
	return sub, nil
}

// emit delivers ev to the active subscriptions that want it
func (f *fakeSource) emit(ev midi.Event) {
	for _, s := range f.subs {
		if s.active && wants(s, ev) {
			s.handler(ev)
		}
	}
}

// emitStale delivers ev to every subscription, including released ones
func (f *fakeSource) emitStale(ev midi.Event) {
	for _, s := range f.subs {
		if wants(s, ev) {
			s.handler(ev)
		}
	}
}

func (f *fakeSource) active() int {
	n := 0
	for _, s := range f.subs {
		if s.active {
			n++
		}
	}
	return n
}

func wants(s *fakeSub, ev midi.Event) bool {
	if ev.Kind == midi.ProgramChange {
		return s.topic == midi.TopicProgramChange && int(ev.Channel)+1 == s.channel
	}
	return s.topic == midi.TopicTransport
}

func pulse(ts float64) midi.Event {
	return midi.Event{Kind: midi.Clock, Timestamp: ts}
}

func programChange(channel int, program uint8) midi.Event {
	return midi.Event{Kind: midi.ProgramChange, Channel: uint8(channel - 1), Value: program}
}

var errUnplugged = errors.New("unplugged")
