package pool

import "sync"

// channel is a FIFO shared by any number of senders and receivers.
//
// A capacity of 0 makes it unbounded. Once sealed no sender can add to it,
// but receivers keep draining what was queued before the seal.
type channel struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	// signalled by seal only, for receivers waiting on a terminate
	onSeal *sync.Cond

	buf      []message
	head     int
	capacity int
	sealed   bool
}

func newChannel(capacity int) *channel {
	c := &channel{capacity: capacity}
	c.notEmpty = sync.NewCond(&c.mu)
	c.notFull = sync.NewCond(&c.mu)
	c.onSeal = sync.NewCond(&c.mu)
	return c
}

// send enqueues m, blocking while a bounded channel is full.
func (c *channel) send(m message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.sealed && c.capacity > 0 && c.lenLocked() >= c.capacity {
		c.notFull.Wait()
	}

	if c.sealed {
		return ErrPoolClosed
	}

	c.buf = append(c.buf, m)
	c.notEmpty.Signal()
	return nil
}

// seal appends n terminate messages behind everything already queued and
// rejects any later send. The terminates ignore the capacity bound so that
// shutdown never waits on a full queue.
func (c *channel) seal(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return
	}

	for i := 0; i < n; i++ {
		c.buf = append(c.buf, terminateMessage())
	}
	c.sealed = true

	c.notEmpty.Broadcast()
	c.onSeal.Broadcast()
	// wake blocked senders so they observe the seal
	c.notFull.Broadcast()
}

// requeue puts jobs back at the front of the channel, ahead of anything
// queued, terminates included. It ignores both the seal and the capacity
// bound: the jobs were already accepted once.
func (c *channel) requeue(jobs ...message) {
	if len(jobs) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf := make([]message, 0, len(jobs)+c.lenLocked())
	buf = append(buf, jobs...)
	c.buf = append(buf, c.buf[c.head:]...)
	c.head = 0

	c.notEmpty.Broadcast()
}

// awaitTerminate blocks until the channel is sealed, then removes the first
// terminate and leaves every job in place for the other receivers.
func (c *channel) awaitTerminate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.sealed {
			for i := c.head; i < len(c.buf); i++ {
				if c.buf[i].kind != terminate {
					continue
				}
				copy(c.buf[i:], c.buf[i+1:])
				c.buf[len(c.buf)-1] = message{}
				c.buf = c.buf[:len(c.buf)-1]
				return
			}
		}
		c.onSeal.Wait()
	}
}

// recv blocks until a message is available. ok is false only when the
// channel is sealed and fully drained.
func (c *channel) recv() (m message, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.lenLocked() == 0 {
		if c.sealed {
			return message{}, false
		}
		c.notEmpty.Wait()
	}

	m = c.buf[c.head]
	c.buf[c.head] = message{}
	c.head++

	// reclaim the consumed prefix once it dominates the backing array
	if c.head > len(c.buf)/2 {
		n := copy(c.buf, c.buf[c.head:])
		for i := n; i < len(c.buf); i++ {
			c.buf[i] = message{}
		}
		c.buf = c.buf[:n]
		c.head = 0
	}

	c.notFull.Signal()
	return m, true
}

// drain removes every queued job message and returns them. Terminates are
// left in place.
func (c *channel) drain() []message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var jobs []message
	rest := c.buf[:0]
	for _, m := range c.buf[c.head:] {
		if m.kind == newJob {
			jobs = append(jobs, m)
			continue
		}
		rest = append(rest, m)
	}
	for i := len(rest); i < len(c.buf); i++ {
		c.buf[i] = message{}
	}
	c.buf = rest
	c.head = 0

	c.notFull.Broadcast()
	return jobs
}

func (c *channel) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lenLocked()
}

func (c *channel) lenLocked() int {
	return len(c.buf) - c.head
}
