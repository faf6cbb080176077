package midi

import (
	"context"
	"sort"
	"sync"
	"time"

	"digi-sequence/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// DeviceEvent is emitted when ports connect/disconnect
type DeviceEvent struct {
	Type  DeviceEventType
	Input bool // false = output port
	ID    string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// PortLister enumerates the ports currently offered by the driver
type PortLister func() ([]drivers.In, []drivers.Out)

func driverPorts() ([]drivers.In, []drivers.Out) {
	return gomidi.GetInPorts(), gomidi.GetOutPorts()
}

// DeviceManager handles hot-plug detection of MIDI ports. Inputs and outputs
// are kept by name for the whole session so that bindings made against them
// come back to life when a device is plugged in again.
type DeviceManager struct {
	inputs   map[string]*Input
	outputs  map[string]*Output
	mu       sync.RWMutex
	events   chan DeviceEvent
	pollRate time.Duration
	list     PortLister
}

// NewDeviceManager creates a new device manager
func NewDeviceManager() *DeviceManager {
	return NewDeviceManagerWith(driverPorts)
}

// NewDeviceManagerWith uses list instead of the gomidi driver
func NewDeviceManagerWith(list PortLister) *DeviceManager {
	return &DeviceManager{
		inputs:   make(map[string]*Input),
		outputs:  make(map[string]*Output),
		events:   make(chan DeviceEvent, 16),
		pollRate: time.Second,
		list:     list,
	}
}

// Events returns a channel of device connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Inputs returns the connected inputs sorted by name
func (dm *DeviceManager) Inputs() []*Input {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	var result []*Input
	for _, in := range dm.inputs {
		if in.Connected() {
			result = append(result, in)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].name < result[j].name })
	return result
}

// Outputs returns the connected outputs sorted by name
func (dm *DeviceManager) Outputs() []*Output {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	var result []*Output
	for _, out := range dm.outputs {
		if out.Connected() {
			result = append(result, out)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].name < result[j].name })
	return result
}

// Input looks up an input by port name, connected or not
func (dm *DeviceManager) Input(name string) (*Input, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	in, ok := dm.inputs[name]
	return in, ok
}

// Output looks up an output by port name, connected or not
func (dm *DeviceManager) Output(name string) (*Output, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out, ok := dm.outputs[name]
	return out, ok
}

// EnsureInput returns the input called name, registering a detached one if
// the port has not been seen yet. Scan attaches it once the device appears.
func (dm *DeviceManager) EnsureInput(name string) *Input {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	in, ok := dm.inputs[name]
	if !ok {
		in = NewInput(name, nil)
		dm.inputs[name] = in
	}
	return in
}

// EnsureOutput is EnsureInput for outputs
func (dm *DeviceManager) EnsureOutput(name string) *Output {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	out, ok := dm.outputs[name]
	if !ok {
		out = NewOutput(name, nil)
		dm.outputs[name] = out
	}
	return out
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	// Initial scan
	dm.Scan()

	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.Scan()
		}
	}
}

// Scan polls the driver once and reconciles the known ports
func (dm *DeviceManager) Scan() {
	// Get current MIDI ports with timeout (CoreMIDI can hang)
	type portsResult struct {
		inPorts  []drivers.In
		outPorts []drivers.Out
	}

	ch := make(chan portsResult, 1)
	go func() {
		inPorts, outPorts := dm.list()
		ch <- portsResult{inPorts: inPorts, outPorts: outPorts}
	}()

	var inPorts []drivers.In
	var outPorts []drivers.Out

	select {
	case result := <-ch:
		inPorts = result.inPorts
		outPorts = result.outPorts
	case <-time.After(3 * time.Second):
		// CoreMIDI is hung - skip this scan
		// User needs to run: sudo killall coreaudiod midiserver
		debug.Warn("devices", "port scan timed out")
		return
	}

	seenIn := make(map[string]drivers.In)
	for _, p := range inPorts {
		seenIn[p.String()] = p
	}
	seenOut := make(map[string]drivers.Out)
	for _, p := range outPorts {
		seenOut[p.String()] = p
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	for id, port := range seenIn {
		in, exists := dm.inputs[id]
		switch {
		case !exists:
			dm.inputs[id] = NewInput(id, port)
		case !in.Connected():
			if err := in.attach(port); err != nil {
				debug.Warn("devices", "reattach %s: %v", id, err)
				continue
			}
		default:
			continue
		}
		dm.emit(DeviceEvent{Type: DeviceConnected, Input: true, ID: id})
	}
	for id, port := range seenOut {
		out, exists := dm.outputs[id]
		switch {
		case !exists:
			dm.outputs[id] = NewOutput(id, port)
		case !out.Connected():
			out.attach(port)
		default:
			continue
		}
		dm.emit(DeviceEvent{Type: DeviceConnected, ID: id})
	}

	// Check for disconnects
	for id, in := range dm.inputs {
		if _, ok := seenIn[id]; !ok && in.Connected() {
			in.detach()
			dm.emit(DeviceEvent{Type: DeviceDisconnected, Input: true, ID: id})
		}
	}
	for id, out := range dm.outputs {
		if _, ok := seenOut[id]; !ok && out.Connected() {
			out.detach()
			dm.emit(DeviceEvent{Type: DeviceDisconnected, ID: id})
		}
	}
}

// emit must not block the scan when nobody is listening
func (dm *DeviceManager) emit(ev DeviceEvent) {
	debug.Log("devices", "%s input=%v type=%d", ev.ID, ev.Input, ev.Type)
	select {
	case dm.events <- ev:
	default:
	}
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, in := range dm.inputs {
		in.detach()
	}
	for _, out := range dm.outputs {
		out.detach()
	}
}
