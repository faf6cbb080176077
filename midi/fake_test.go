package midi

import (
	"gitlab.com/gomidi/midi/v2/drivers"
)

type fakeIn struct {
	name string
	open bool
}

func (f *fakeIn) Open() error             { f.open = true; return nil }
func (f *fakeIn) Close() error            { f.open = false; return nil }
func (f *fakeIn) IsOpen() bool            { return f.open }
func (f *fakeIn) Number() int             { return 0 }
func (f *fakeIn) String() string          { return f.name }
func (f *fakeIn) Underlying() interface{} { return nil }
func (f *fakeIn) Listen(onMsg func(msg []byte, milliseconds int32), config drivers.ListenConfig) (func(), error) {
	return func() {}, nil
}

type fakeOut struct {
	name string
	open bool
	sent [][]byte
}

func (f *fakeOut) Open() error             { f.open = true; return nil }
func (f *fakeOut) Close() error            { f.open = false; return nil }
func (f *fakeOut) IsOpen() bool            { return f.open }
func (f *fakeOut) Number() int             { return 0 }
func (f *fakeOut) String() string          { return f.name }
func (f *fakeOut) Underlying() interface{} { return nil }
func (f *fakeOut) Send(data []byte) error {
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}
