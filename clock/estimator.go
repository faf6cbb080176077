// Package clock estimates tempo from an external MIDI clock.
package clock

import "math"

// PPQ is the number of MIDI clock pulses per quarter note.
const PPQ = 24

// window is a fixed-size FIFO of the most recent PPQ samples.
type window struct {
	samples [PPQ]float64
	next    int
	filled  int // real (non-seed) samples, saturates at PPQ
}

func (w *window) push(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % PPQ
	if w.filled < PPQ {
		w.filled++
	}
}

func (w *window) mean() float64 {
	sum := 0.0
	for _, v := range w.samples {
		sum += v
	}
	return sum / PPQ
}

func (w *window) reset() {
	*w = window{}
}

// Estimator turns clock pulse timestamps into a smoothed BPM.
//
// Intervals between pulses are averaged over one quarter note, converted into
// a tempo sample, and the tempo samples are averaged over another quarter
// note. Both windows start zero-filled, so the reported tempo ramps in over
// the first two beats after a reset.
//
// An Estimator is not safe for concurrent use; its owner must deliver pulses
// from a single goroutine in arrival order.
type Estimator struct {
	previous  float64
	intervals window
	tempos    window
	bpm       float64

	onTempo func(bpm float64)
}

func New() *Estimator {
	return &Estimator{}
}

// OnTempo registers the listener that receives every published tempo.
func (e *Estimator) OnTempo(fn func(bpm float64)) {
	e.onTempo = fn
}

// Ingest records a pulse timestamp in milliseconds. ok is false while the
// interval window holds nothing but zeros and no tempo can be derived yet.
func (e *Estimator) Ingest(timestamp float64) (bpm float64, ok bool) {
	interval := timestamp - e.previous
	e.previous = timestamp
	e.intervals.push(interval)

	beat := e.intervals.mean() * PPQ
	if !(beat > 0) || math.IsInf(beat, 0) {
		return e.bpm, false
	}

	beatsPerSecond := 1000 / beat
	e.tempos.push(beatsPerSecond * 60)
	e.bpm = math.Round(e.tempos.mean()*10) / 10

	if e.onTempo != nil {
		e.onTempo(e.bpm)
	}
	return e.bpm, true
}

// Reset clears both windows and forgets the previous pulse. Call it whenever
// the pulse source changes.
func (e *Estimator) Reset() {
	e.previous = 0
	e.intervals.reset()
	e.tempos.reset()
	e.bpm = 0
}

// BPM returns the last published tempo, 0 before the first one.
func (e *Estimator) BPM() float64 {
	return e.bpm
}

// Warm reports whether both windows hold only real samples.
func (e *Estimator) Warm() bool {
	return e.intervals.filled == PPQ && e.tempos.filled == PPQ
}
