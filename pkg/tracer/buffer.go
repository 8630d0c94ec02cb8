package tracer

import "sync"

// Outcome is the result of offering a snapshot to a Buffer.
type Outcome int

const (
	Appended Outcome = iota
	// Repeated: dedup is on and the snapshot equals the last one.
	Repeated
	// Closed: no session is accepting snapshots.
	Closed
)

// Buffer is the ordered list of snapshots accepted in one session. It only
// accepts snapshots between Open and Take, so a snapshot built while a
// session ends never lands in the next one.
type Buffer struct {
	mu    sync.Mutex
	steps []StepSnapshot
	open  bool
	dedup bool
}

// Open empties the buffer and starts accepting snapshots.
func (b *Buffer) Open(dedup bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.steps = nil
	b.open = true
	b.dedup = dedup
}

// AppendUnlessRepeat appends s, or drops it when the buffer is closed or
// dedup is set and s equals the last appended snapshot.
func (b *Buffer) AppendUnlessRepeat(s StepSnapshot) Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return Closed
	}
	if b.dedup && len(b.steps) > 0 && Equal(b.steps[len(b.steps)-1], s) {
		return Repeated
	}
	b.steps = append(b.steps, s)
	return Appended
}

// Dedup reports the option the buffer was opened with.
func (b *Buffer) Dedup() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dedup
}

// Len returns the number of snapshots.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.steps)
}

// Take closes the buffer and returns its snapshots.
func (b *Buffer) Take() []StepSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	steps := b.steps
	b.steps = nil
	b.open = false
	return steps
}
