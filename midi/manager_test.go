package midi

import (
	"context"
	"errors"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

type fakeDriver struct {
	ins  []drivers.In
	outs []drivers.Out
}

func (d *fakeDriver) list() ([]drivers.In, []drivers.Out) {
	return d.ins, d.outs
}

func drainEvents(dm *DeviceManager) []DeviceEvent {
	var evs []DeviceEvent
	for {
		select {
		case ev := <-dm.Events():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestScanDiscoversPorts(t *testing.T) {
	drv := &fakeDriver{
		ins:  []drivers.In{&fakeIn{name: "B in"}, &fakeIn{name: "A in"}},
		outs: []drivers.Out{&fakeOut{name: "A out"}},
	}
	dm := NewDeviceManagerWith(drv.list)
	dm.Scan()

	ins := dm.Inputs()
	if len(ins) != 2 || ins[0].ID() != "A in" || ins[1].ID() != "B in" {
		t.Fatalf("inputs = %v", ins)
	}
	if outs := dm.Outputs(); len(outs) != 1 || outs[0].ID() != "A out" {
		t.Fatalf("outputs = %v", outs)
	}
	if evs := drainEvents(dm); len(evs) != 3 {
		t.Errorf("got %d connect events, want 3", len(evs))
	}

	// nothing changed, nothing emitted
	dm.Scan()
	if evs := drainEvents(dm); len(evs) != 0 {
		t.Errorf("rescan emitted %v", evs)
	}
}

func TestHotPlugKeepsIdentity(t *testing.T) {
	port := &fakeIn{name: "clock"}
	drv := &fakeDriver{ins: []drivers.In{port}}
	dm := NewDeviceManagerWith(drv.list)
	dm.Scan()

	in, ok := dm.Input("clock")
	if !ok {
		t.Fatal("clock input not found")
	}
	fl := &fakeListener{}
	in.listen = fl.listen

	var got []EventKind
	if _, err := in.Subscribe(TopicTransport, 1, func(ev Event) { got = append(got, ev.Kind) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	drv.ins = nil
	dm.Scan()
	if len(dm.Inputs()) != 0 || in.Connected() {
		t.Fatal("unplugged input still listed")
	}

	drv.ins = []drivers.In{&fakeIn{name: "clock"}}
	dm.Scan()
	again, _ := dm.Input("clock")
	if again != in {
		t.Fatal("replug created a new Input")
	}
	fl.recv(gomidi.TimingClock(), 1)
	if len(got) != 2 || got[0] != Reconnect || got[1] != Clock {
		t.Errorf("subscriber got %v after replug, want reconnect then clock", got)
	}

	evs := drainEvents(dm)
	if len(evs) != 3 || evs[1].Type != DeviceDisconnected || evs[2].Type != DeviceConnected {
		t.Errorf("events = %+v", evs)
	}
}

func TestRunClosesEvents(t *testing.T) {
	dm := NewDeviceManagerWith((&fakeDriver{}).list)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dm.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-dm.Events(); ok {
		t.Error("events channel still open")
	}
}

func TestEnsureBeforePlug(t *testing.T) {
	drv := &fakeDriver{}
	dm := NewDeviceManagerWith(drv.list)

	in := dm.EnsureInput("Digitakt")
	out := dm.EnsureOutput("Digitakt")
	if in.Connected() || out.Connected() {
		t.Fatal("placeholders report connected")
	}
	if dm.EnsureInput("Digitakt") != in {
		t.Error("EnsureInput created a second input")
	}
	if err := out.SendProgramChange(1, 0); !errors.Is(err, ErrPortClosed) {
		t.Errorf("send on placeholder = %v", err)
	}

	port := &fakeOut{name: "Digitakt"}
	drv.ins = []drivers.In{&fakeIn{name: "Digitakt"}}
	drv.outs = []drivers.Out{port}
	dm.Scan()

	if !in.Connected() || !out.Connected() {
		t.Fatal("placeholders not attached by scan")
	}
	if err := out.SendProgramChange(1, 5); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(port.sent) != 1 {
		t.Errorf("port got %d messages", len(port.sent))
	}
}
