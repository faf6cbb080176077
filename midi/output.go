package midi

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// Output is a MIDI output port, opened lazily on first send
type Output struct {
	name string

	mu   sync.Mutex
	port drivers.Out
	send func(msg gomidi.Message) error
}

// NewOutput wraps an output port. port may be nil for a detached output.
func NewOutput(name string, port drivers.Out) *Output {
	return &Output{name: name, port: port}
}

func (o *Output) ID() string {
	return o.name
}

func (o *Output) String() string {
	return o.name
}

// Connected reports whether the underlying port is present
func (o *Output) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.port != nil || o.send != nil
}

// SendProgramChange sends a program change on channel 1-16. MIDI is fire and
// forget: failures are returned but never retried.
func (o *Output) SendProgramChange(channel int, program uint8) error {
	if err := ValidChannel(channel); err != nil {
		return err
	}
	if program > 127 {
		return fmt.Errorf("program change %d out of range", program)
	}

	o.mu.Lock()
	send, err := o.senderLocked()
	o.mu.Unlock()
	if err != nil {
		return err
	}

	if err := send(gomidi.ProgramChange(uint8(channel-1), program)); err != nil {
		return fmt.Errorf("send to %s: %w", o.name, err)
	}
	return nil
}

func (o *Output) senderLocked() (func(gomidi.Message) error, error) {
	if o.send != nil {
		return o.send, nil
	}
	if o.port == nil {
		return nil, fmt.Errorf("%s: %w", o.name, ErrPortClosed)
	}
	send, err := gomidi.SendTo(o.port)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", o.name, err)
	}
	o.send = send
	return send, nil
}

func (o *Output) attach(port drivers.Out) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.port = port
	o.send = nil
}

func (o *Output) detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.port != nil && o.port.IsOpen() {
		o.port.Close()
	}
	o.port = nil
	o.send = nil
}
