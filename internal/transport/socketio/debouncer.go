package socketio

import (
	"sync"
	"time"
)

// Change kinds accepted by BroadcastDebouncer.Trigger.
const (
	ChangeState = "state"
	ChangeQueue = "queue"
)

// BroadcastDebouncer collapses bursts of engine changes into batched broadcasts.
// Any number of triggers within the window result in at most one state
// broadcast and one queue broadcast.
type BroadcastDebouncer struct {
	window        time.Duration
	stateCallback func()
	queueCallback func()

	mu           sync.Mutex
	pendingState bool
	pendingQueue bool
	timer        *time.Timer
	stopped      bool
}

// NewBroadcastDebouncer creates a debouncer with the given window duration.
// stateCallback runs for any change; queueCallback only when the queue changed.
func NewBroadcastDebouncer(window time.Duration, stateCallback, queueCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:        window,
		stateCallback: stateCallback,
		queueCallback: queueCallback,
	}
}

// Trigger records a change of the given kind. A queue change implies a state
// change, since the current index may have moved. Unknown kinds are ignored.
func (d *BroadcastDebouncer) Trigger(change string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch change {
	case ChangeState:
		d.pendingState = true
	case ChangeQueue:
		d.pendingState = true
		d.pendingQueue = true
	default:
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// Flush fires pending callbacks now instead of waiting for the window.
func (d *BroadcastDebouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	stopped := d.stopped
	d.mu.Unlock()

	if !stopped {
		d.flush()
	}
}

// flush fires callbacks for any pending flags and resets them.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	doState := d.pendingState
	doQueue := d.pendingQueue
	d.pendingState = false
	d.pendingQueue = false
	d.mu.Unlock()

	// Queue first so clients have the list before the index that points into it.
	if doQueue && d.queueCallback != nil {
		d.queueCallback()
	}
	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingQueue = false
}
