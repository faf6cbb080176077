package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// EventKind identifies the inbound messages the sequencer cares about
type EventKind int

const (
	Clock EventKind = iota
	Start
	Continue
	Stop
	ProgramChange
	// Reconnect is synthesized when an unplugged input comes back
	Reconnect
)

func (k EventKind) String() string {
	switch k {
	case Clock:
		return "clock"
	case Start:
		return "start"
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	case ProgramChange:
		return "program-change"
	case Reconnect:
		return "reconnect"
	}
	return "unknown"
}

// Event is a parsed inbound MIDI message
type Event struct {
	Kind      EventKind
	Channel   uint8   // 0-15, program changes only
	Value     uint8   // program number
	Timestamp float64 // ms since the Input was created
}

// Realtime reports whether the event belongs to the transport topic
func (e Event) Realtime() bool {
	return e.Kind != ProgramChange
}

// ParseMessage converts a raw message; ok is false for messages we ignore
func ParseMessage(msg gomidi.Message, timestamp float64) (Event, bool) {
	ev := Event{Timestamp: timestamp}

	var channel, program uint8
	switch {
	case msg.Is(gomidi.TimingClockMsg):
		ev.Kind = Clock
	case msg.Is(gomidi.StartMsg):
		ev.Kind = Start
	case msg.Is(gomidi.ContinueMsg):
		ev.Kind = Continue
	case msg.Is(gomidi.StopMsg):
		ev.Kind = Stop
	case msg.GetProgramChange(&channel, &program):
		ev.Kind = ProgramChange
		ev.Channel = channel
		ev.Value = program
	default:
		return Event{}, false
	}
	return ev, true
}
