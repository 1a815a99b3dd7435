// Package cluster simulates a fixed-size cluster of communicating
// processes on a single machine.
//
// Each simulated process is a Goroutine attached to a virtual-time
// EventLoop. Processes exchange messages through a Network, which
// models transfer latency and bandwidth. Every receive blocks the
// calling process until a matching message arrives, so the package
// reproduces the blocking point-to-point semantics of an MPI-style
// job, including global deadlock (detected by the loop rather than
// hanging the test binary).
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/unixpickle/essentials"
)

// A Stream is a uni-directional channel of messages delivered through
// an EventLoop.
//
// A Stream may only be used with the EventLoop that created it.
type Stream struct {
	loop    *EventLoop
	pending []any
}

// An Event is a value received on some Stream.
type Event struct {
	Value  any
	Stream *Stream
}

// A Timer represents a single delivery that will happen at some point
// in the virtual future.
type Timer struct {
	time  float64
	event *Event
}

// Time gets the virtual time at which the timer fires. If the loop's
// clock is behind this time, the timer has not fired yet.
func (t *Timer) Time() float64 {
	return t.time
}

// A Handle is one Goroutine's access point to an EventLoop. Handles
// must not be shared between Goroutines.
type Handle struct {
	*EventLoop

	// Set while the Goroutine is polling, empty otherwise.
	pollStreams []*Stream
	pollChan    chan<- *Event
}

// Poll blocks until an event arrives on one of the streams.
func (h *Handle) Poll(streams ...*Stream) *Event {
	ch := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.pollStreams != nil {
			panic("Handle is shared between Goroutines")
		}
		for _, stream := range streams {
			if len(stream.pending) > 0 {
				value := stream.pending[0]
				essentials.OrderedDelete(&stream.pending, 0)
				ch <- &Event{Value: value, Stream: stream}
				return
			}
		}
		h.pollStreams = streams
		h.pollChan = ch
	})
	return <-ch
}

// Schedule creates a Timer that delivers value on stream after delay
// units of virtual time.
func (h *Handle) Schedule(stream *Stream, value any, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("Stream is not associated with the correct EventLoop")
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:  h.time + delay,
			event: &Event{Value: value, Stream: stream},
		}
		if math.IsInf(timer.time, 0) || math.IsNaN(timer.time) {
			panic(fmt.Sprintf("invalid deadline: %f", timer.time))
		}
		h.timers = append(h.timers, timer)
	})
	return timer
}

// Cancel stops a timer if it is still scheduled. Cancelling a fired
// timer has no effect.
func (h *Handle) Cancel(t *Timer) {
	h.modify(func() {
		for i, timer := range h.timers {
			if timer == t {
				essentials.UnorderedDelete(&h.timers, i)
			}
		}
	})
}

// Sleep blocks the Goroutine for a span of virtual time. It is used to
// model local computation (e.g. a sparse matrix product) without
// consuming real CPU time proportional to the work.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// An EventLoop is the global scheduler for a simulated cluster.
//
// All Goroutines which access an EventLoop must be started through
// EventLoop.Go(). The loop only advances virtual time when every live
// Goroutine is blocked in Poll, so processes never race the clock
// while doing real computation.
type EventLoop struct {
	lock    sync.Mutex
	timers  []*Timer
	handles []*Handle

	time float64

	running  bool
	notifyCh chan struct{}
}

// NewEventLoop creates an event loop with its clock at 0.
func NewEventLoop() *EventLoop {
	return &EventLoop{notifyCh: make(chan struct{}, 1)}
}

// Stream creates a new Stream owned by this loop.
func (e *EventLoop) Stream() *Stream {
	return &Stream{loop: e}
}

// Go runs f in a new Goroutine with its own Handle.
func (e *EventLoop) Go(f func(h *Handle)) {
	h := &Handle{EventLoop: e}
	e.lock.Lock()
	e.handles = append(e.handles, h)
	e.lock.Unlock()
	go func() {
		f(h)
		e.modifyHandles(func() {
			for i, handle := range e.handles {
				if handle == h {
					essentials.UnorderedDelete(&e.handles, i)
					return
				}
			}
			panic("cannot free handle that does not exist")
		})
	}()
}

// Run drives the loop until every Goroutine started with Go() has
// returned.
//
// Run must not be called from more than one Goroutine at once. It
// returns an error if the cluster deadlocks: every process polling,
// no timer left to fire.
func (e *EventLoop) Run() error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		panic("EventLoop is already running")
	}
	e.running = true
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	for range e.notifyCh {
		if shouldContinue, err := e.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// MustRun is like Run, but panics on deadlock.
func (e *EventLoop) MustRun() {
	if err := e.Run(); err != nil {
		panic(err)
	}
}

// Time gets the current virtual time.
func (e *EventLoop) Time() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

// modify calls f with the loop state locked. It assumes no handle
// scheduling state changes, so the scheduler need not be woken.
func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyHandles is like modify, but wakes the scheduler because f may
// change which Goroutines are runnable.
func (e *EventLoop) modifyHandles(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.notifyCh <- struct{}{}:
		default:
		}
	}()
	f()
}

// step fires the next timer, if any. The first return value is false
// when the loop should stop; the error reports a deadlock.
func (e *EventLoop) step() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return false, nil
	}

	for _, h := range e.handles {
		if len(h.pollStreams) == 0 {
			// A Goroutine is doing real work; let it reach Poll
			// before advancing the clock.
			return true, nil
		}
	}

	for len(e.timers) > 0 {
		// Break ties randomly so that simultaneous deliveries do not
		// happen in a deterministic order.
		indices := rand.Perm(len(e.timers))

		minTimerIdx := indices[0]
		for _, i := range indices[1:] {
			if e.timers[i].time < e.timers[minTimerIdx].time {
				minTimerIdx = i
			}
		}
		timer := e.timers[minTimerIdx]

		essentials.UnorderedDelete(&e.timers, minTimerIdx)
		e.time = math.Max(e.time, timer.time)
		if e.deliver(timer.event) {
			return true, nil
		}
	}

	return false, errors.New("deadlock: all processes are blocked in Poll")
}

func (e *EventLoop) deliver(event *Event) bool {
	// Randomize receiver order so concurrent receivers of one stream
	// are not serviced deterministically.
	indices := rand.Perm(len(e.handles))
	for _, i := range indices {
		h := e.handles[i]
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Value)
	return false
}
