package midi

import (
	"errors"
	"fmt"
)

var (
	// ErrTopicTaken is returned when a second transport subscriber is added to a source
	ErrTopicTaken = errors.New("topic already has a subscriber")
	// ErrPortClosed is returned when sending to a disconnected output
	ErrPortClosed = errors.New("port not connected")
	// ErrInvalidChannel is returned for channels outside 1-16
	ErrInvalidChannel = errors.New("channel must be 1-16")
)

// Topic selects which events a subscription receives
type Topic int

const (
	// TopicTransport carries clock, start, continue and stop. These are
	// system realtime messages without a channel, so they reach the
	// subscriber whatever channel it asked for. At most one subscriber.
	TopicTransport Topic = iota
	// TopicProgramChange carries program changes on the subscribed channel
	TopicProgramChange
)

func (t Topic) accepts(ev Event) bool {
	if t == TopicTransport {
		return ev.Realtime()
	}
	return ev.Kind == ProgramChange
}

// Handler receives events. It runs on the driver's goroutine and must not block.
type Handler func(Event)

// Subscription is returned by Source.Subscribe
type Subscription interface {
	Unsubscribe()
}

// Source is an input endpoint that delivers events per (topic, channel)
type Source interface {
	ID() string
	Subscribe(topic Topic, channel int, h Handler) (Subscription, error)
}

// Sink is an output endpoint accepting program changes
type Sink interface {
	ID() string
	SendProgramChange(channel int, program uint8) error
}

// ValidChannel checks a 1-based MIDI channel
func ValidChannel(channel int) error {
	if channel < 1 || channel > 16 {
		return fmt.Errorf("%w: got %d", ErrInvalidChannel, channel)
	}
	return nil
}
