package cluster

import (
	"math"
	"math/rand"
	"sync"
)

// A Message is a chunk of data sent between two ranks.
type Message struct {
	// From and To are flat process ranks.
	From int
	To   int

	// Seq orders messages between a (From, To) pair. It is stamped by
	// Comms.Send; receivers consume messages from a given sender in
	// send order regardless of network delivery order.
	Seq int

	// Tag labels the protocol phase the message belongs to (ring
	// rotation, broadcast, reduction, ...). A receiver that matches a
	// message with the wrong tag has hit a protocol bug.
	Tag Tag

	// Data is the payload. Size is its nominal size in bytes, used
	// only for transfer-time modeling.
	Data any
	Size float64
}

// A Tag labels a communication phase so that mismatched sends and
// receives fail loudly instead of silently corrupting a computation.
type Tag int

const (
	TagRing Tag = iota
	TagBcast
	TagReduce
	TagGather
	TagScatter
	TagTranspose
)

// A Network delivers messages between ranks.
type Network interface {
	// Send forwards messages toward their destination mailboxes.
	// This is a non-blocking operation. Passing multiple messages at
	// once lets bandwidth-modeling networks plan deliveries jointly.
	Send(h *Handle, msgs ...*Message)
}

// Mailboxes creates one incoming stream per rank.
func Mailboxes(loop *EventLoop, size int) []*Stream {
	boxes := make([]*Stream, size)
	for i := range boxes {
		boxes[i] = loop.Stream()
	}
	return boxes
}

// A RandomNetwork delivers every message with an independent random
// delay. Useful in tests to shake out protocols that depend on
// delivery order.
type RandomNetwork struct {
	Boxes []*Stream
}

// Send schedules the messages with random delays.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	for _, msg := range msgs {
		h.Schedule(r.Boxes[msg.To], msg, rand.Float64())
	}
}

// A SwitcherNetwork models a cluster interconnect: every message pays
// a fixed latency, and concurrent transfers share link bandwidth as
// decided by a Switcher. Oversubscribed links slow every message that
// crosses them.
type SwitcherNetwork struct {
	lock sync.Mutex

	switcher Switcher
	boxes    []*Stream
	latency  float64

	plan switchedPlan
}

// NewSwitcherNetwork creates a SwitcherNetwork over the given
// per-rank mailboxes.
//
// The latency argument adds a constant delay to every delivery. The
// latency period participates in bandwidth sharing, so in practice the
// model may slightly overstate latency-based congestion.
func NewSwitcherNetwork(switcher Switcher, boxes []*Stream, latency float64) *SwitcherNetwork {
	return &SwitcherNetwork{
		switcher: switcher,
		boxes:    boxes,
		latency:  latency,
	}
}

// Send sends the messages over the network. This may change the
// delivery times of messages that are already in flight.
func (s *SwitcherNetwork) Send(h *Handle, msgs ...*Message) {
	s.lock.Lock()
	defer s.lock.Unlock()

	state := s.stopPlan(h)
	for _, msg := range msgs {
		state = append(state, &switchedMsg{
			msg:              msg,
			remainingLatency: s.latency,
			remainingSize:    msg.Size,
		})
	}
	s.createPlan(h, state)
}

func (s *SwitcherNetwork) stopPlan(h *Handle) []*switchedMsg {
	var currentState []*switchedMsg
	for _, step := range s.plan {
		if h.Time() >= step.endTime {
			// The timers may have fired; let this segment go.
			continue
		}
		if h.Time() >= step.startTime {
			// Interpolate in the current segment.
			elapsed := h.Time() - step.startTime
			for _, msg := range step.startState {
				currentState = append(currentState, msg.addTime(elapsed))
			}
		}
		for _, timer := range step.timers {
			h.Cancel(timer)
		}
	}
	return currentState
}

func (s *SwitcherNetwork) computeDataRates(state []*switchedMsg) {
	mat := NewConnMat(len(s.boxes))
	counts := NewConnMat(len(s.boxes))
	for _, msg := range state {
		src, dst := msg.msg.From, msg.msg.To
		mat.Set(src, dst, 1)
		counts.Set(src, dst, counts.Get(src, dst)+1)
	}
	s.switcher.SwitchedRates(mat)
	for _, msg := range state {
		src, dst := msg.msg.From, msg.msg.To
		msg.dataRate = mat.Get(src, dst) / counts.Get(src, dst)
	}
}

func (s *SwitcherNetwork) createPlan(h *Handle, state []*switchedMsg) {
	s.plan = make(switchedPlan, 0, len(state))
	startTime := h.Time()
	for len(state) > 0 {
		s.computeDataRates(state)

		nextMsgs, newState, lowestETA := messagesWithLowestETA(state)

		timers := make([]*Timer, len(nextMsgs))
		for i, msg := range nextMsgs {
			delay := startTime - h.Time() + lowestETA
			timers[i] = h.Schedule(s.boxes[msg.msg.To], msg.msg, delay)
		}

		endTime := timers[0].Time()
		s.plan = append(s.plan, &switchedPlanSegment{
			startTime:  startTime,
			endTime:    endTime,
			timers:     timers,
			startState: state,
		})

		for i, msg := range newState {
			newState[i] = msg.addTime(endTime - startTime)
		}
		state = newState
		startTime = endTime
	}
}

// switchedMsg tracks a message in flight.
type switchedMsg struct {
	msg *Message

	remainingLatency float64

	remainingSize float64
	dataRate      float64
}

// eta gets the remaining transfer time for the message.
func (s *switchedMsg) eta() float64 {
	return math.Max(0, s.remainingLatency+s.remainingSize/s.dataRate)
}

// addTime returns the message's state after t units of transfer time.
func (s *switchedMsg) addTime(t float64) *switchedMsg {
	res := *s

	if t < res.remainingLatency {
		res.remainingLatency -= t
		return &res
	}

	t -= res.remainingLatency
	res.remainingLatency = 0
	res.remainingSize -= res.dataRate * t

	return &res
}

// switchedPlanSegment is a span of time during which the in-flight
// message set does not change. Each segment ends with at least one
// delivery timer.
type switchedPlanSegment struct {
	startTime float64
	endTime   float64
	timers    []*Timer

	startState []*switchedMsg
}

// switchedPlan is the delivery schedule for every message currently
// on the network.
type switchedPlan []*switchedPlanSegment

func messagesWithLowestETA(msgs []*switchedMsg) (lowest, rest []*switchedMsg, lowestETA float64) {
	etas := make([]float64, len(msgs))
	for i, msg := range msgs {
		etas[i] = msg.eta()
	}
	lowestETA = etas[0]
	for _, eta := range etas {
		if eta < lowestETA {
			lowestETA = eta
		}
	}

	lowest = make([]*switchedMsg, 0, 1)
	rest = make([]*switchedMsg, 0, len(msgs)-1)

	for i, msg := range msgs {
		if etas[i] == lowestETA {
			lowest = append(lowest, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	return lowest, rest, lowestETA
}
