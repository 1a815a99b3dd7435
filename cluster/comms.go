package cluster

import (
	"fmt"

	"github.com/unixpickle/essentials"
)

// Comms is one process's view of the cluster: its rank, its mailbox,
// and the network connecting everyone.
//
// Messages between a pair of ranks are consumed in send order even if
// the network reorders deliveries, so several protocol phases can be
// in flight at once without corrupting each other.
type Comms struct {
	// Handle is the process's main Goroutine's handle on the event
	// loop.
	Handle *Handle

	// Rank is the current process's flat rank.
	Rank int

	// Boxes contains the mailboxes of every rank, including this one.
	Boxes []*Stream

	// Network is the fabric connecting the ranks.
	Network Network

	seqOut  []int // next sequence number per destination
	seqIn   []int // next expected sequence number per source
	stashed []*Message
}

// Spawn creates a Comms object for every rank and calls f for each
// rank in its own Goroutine. The caller still has to run the loop.
func Spawn(loop *EventLoop, network Network, boxes []*Stream, f func(c *Comms)) {
	for i := range boxes {
		rank := i
		loop.Go(func(h *Handle) {
			f(&Comms{
				Handle:  h,
				Rank:    rank,
				Boxes:   boxes,
				Network: network,
				seqOut:  make([]int, len(boxes)),
				seqIn:   make([]int, len(boxes)),
			})
		})
	}
}

// Size gets the number of processes.
func (c *Comms) Size() int {
	return len(c.Boxes)
}

// Send schedules a message for dst. Size is the nominal payload size
// in bytes for transfer-time modeling.
func (c *Comms) Send(dst int, tag Tag, data any, size float64) {
	msg := &Message{
		From: c.Rank,
		To:   dst,
		Seq:  c.seqOut[dst],
		Tag:  tag,
		Data: data,
		Size: size,
	}
	c.seqOut[dst]++
	c.Network.Send(c.Handle, msg)
}

// Recv blocks until the next in-order message from src arrives and
// returns its payload. It panics if that message carries a different
// tag: the two ranks disagree about what protocol phase they are in,
// which is a bug, not a recoverable condition.
func (c *Comms) Recv(src int, tag Tag) any {
	want := c.seqIn[src]
	for i, msg := range c.stashed {
		if msg.From == src && msg.Seq == want {
			essentials.OrderedDelete(&c.stashed, i)
			return c.accept(msg, tag)
		}
	}
	for {
		msg := c.Handle.Poll(c.Boxes[c.Rank]).Value.(*Message)
		if msg.From == src && msg.Seq == want {
			return c.accept(msg, tag)
		}
		c.stashed = append(c.stashed, msg)
	}
}

func (c *Comms) accept(msg *Message, tag Tag) any {
	if msg.Tag != tag {
		panic(fmt.Sprintf("rank %d: message from rank %d has tag %d, expected %d",
			c.Rank, msg.From, msg.Tag, tag))
	}
	c.seqIn[msg.From]++
	return msg.Data
}

// Exchange performs a pairwise blocking swap with peer: each side
// sends its payload and receives the other's. The lower-ranked
// participant always sends first, so two symmetric Exchange calls can
// never deadlock on a blocking transport.
func (c *Comms) Exchange(peer int, tag Tag, data any, size float64) any {
	if peer == c.Rank {
		return data
	}
	if c.Rank < peer {
		c.Send(peer, tag, data, size)
		return c.Recv(peer, tag)
	}
	recv := c.Recv(peer, tag)
	c.Send(peer, tag, data, size)
	return recv
}
